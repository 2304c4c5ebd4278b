// Package config loads and validates the vmtest target configuration.
//
// A configuration lists one or more targets. Each target names a VM to boot
// (either a kernel or a full disk image) and a command to run inside it:
//
//	[[target]]
//	name = "boot kernel"
//	kernel = "bzImage"
//	command = "/bin/true"
//
//	[[target]]
//	name = "image with uefi"
//	image = "image.qcow2"
//	uefi = true
//	command = "uname -r"
//	[target.vm]
//	num_cpus = 4
//	memory = "2G"
//
// TOML is the primary format (vmtest.toml). YAML files with the same keys are
// accepted as well. Relative paths are resolved by the harness against its
// working directory, never against the process working directory.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// DefaultFileName is the configuration file looked up when none is given.
const DefaultFileName = "vmtest.toml"

// VM sizing applied by WithDefaults.
const (
	DefaultNumCPUs = 2
	DefaultMemory  = "4G"
)

// Config is the root configuration.
type Config struct {
	Targets []Target `toml:"target" yaml:"target" json:"target"`
}

// Target describes one VM and the command to run in it.
type Target struct {
	Name string `toml:"name" yaml:"name" json:"name"`

	// Image is a bootable disk image. Mutually exclusive with Kernel.
	Image string `toml:"image" yaml:"image" json:"image,omitempty"`
	// UEFI boots Image with UEFI firmware. Image mode only.
	UEFI bool `toml:"uefi" yaml:"uefi" json:"uefi,omitempty"`

	// Kernel is a kernel to boot directly. Mutually exclusive with Image.
	Kernel string `toml:"kernel" yaml:"kernel" json:"kernel,omitempty"`
	// KernelArgs is appended to the kernel command line. Kernel mode only.
	KernelArgs string `toml:"kernel_args" yaml:"kernel_args" json:"kernel_args,omitempty"`

	// Command runs inside the guest after setup.
	Command string `toml:"command" yaml:"command" json:"command"`

	VM VMConfig `toml:"vm" yaml:"vm" json:"vm"`
}

// VMConfig holds machine sizing and extra QEMU settings.
type VMConfig struct {
	NumCPUs   int              `toml:"num_cpus" yaml:"num_cpus" json:"num_cpus"`
	Memory    string           `toml:"memory" yaml:"memory" json:"memory"`
	Bios      string           `toml:"bios" yaml:"bios" json:"bios,omitempty"`
	ExtraArgs []string         `toml:"extra_args" yaml:"extra_args" json:"extra_args,omitempty"`
	Mounts    map[string]Mount `toml:"mounts" yaml:"mounts" json:"mounts,omitempty"`
}

// Mount shares a host directory with the guest. The map key in
// VMConfig.Mounts is the guest mount point.
type Mount struct {
	HostPath string `toml:"host_path" yaml:"host_path" json:"host_path"`
	Writable bool   `toml:"writable" yaml:"writable" json:"writable"`
}

// Format is a configuration file encoding.
type Format string

const (
	FormatTOML Format = "toml"
	FormatYAML Format = "yaml"
)

// FormatFromPath picks the format from a file extension. Unknown extensions
// default to TOML.
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatTOML
	}
}

// Load reads, parses and validates a configuration file.
func Load(path string) (*Config, error) {
	// #nosec G304 -- path is supplied by the operator.
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg, err := Parse(data, FormatFromPath(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes data, applies defaults and validates the result.
// Unknown keys are rejected in both formats.
func Parse(data []byte, format Format) (*Config, error) {
	var cfg Config

	switch format {
	case FormatYAML:
		decoder := yaml.NewDecoder(bytes.NewReader(data))
		decoder.KnownFields(true)
		if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("parse yaml: %w", err)
		}
	case FormatTOML:
		md, err := toml.Decode(string(data), &cfg)
		if err != nil {
			return nil, fmt.Errorf("parse toml: %w", err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, 0, len(undecoded))
			for _, k := range undecoded {
				keys = append(keys, k.String())
			}
			return nil, fmt.Errorf("parse toml: unknown keys: %s", strings.Join(keys, ", "))
		}
	default:
		return nil, fmt.Errorf("unsupported config format %q", format)
	}

	cfg = cfg.WithDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// WithDefaults returns a copy of c with unset VM sizing fields filled in.
// The receiver is not modified.
func (c Config) WithDefaults() Config {
	targets := make([]Target, len(c.Targets))
	copy(targets, c.Targets)
	for i := range targets {
		vm := &targets[i].VM
		if vm.NumCPUs == 0 {
			vm.NumCPUs = DefaultNumCPUs
		}
		if vm.Memory == "" {
			vm.Memory = DefaultMemory
		}
	}
	return Config{Targets: targets}
}

// Target returns the target with the given name.
func (c Config) Target(name string) (Target, bool) {
	for _, t := range c.Targets {
		if t.Name == name {
			return t, true
		}
	}
	return Target{}, false
}

// KernelMode reports whether the target boots a kernel directly.
func (t Target) KernelMode() bool {
	return t.Kernel != ""
}
