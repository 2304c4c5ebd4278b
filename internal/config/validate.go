package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
)

// schemaSource constrains field types and value shapes, including required
// non-empty strings. Cross-field rules (kernel vs image, unique names) are
// checked in Go by Validate.
const schemaSource = `
#Mount: {
	host_path: string & !=""
	writable:  bool
}

#VM: {
	num_cpus:    int & >=1
	memory:      =~"^[0-9]+[KMGT]?$"
	bios?:       string
	extra_args?: [...string]
	mounts?: [string]: #Mount
}

#Target: {
	name:         string & !=""
	image?:       string
	uefi?:        bool
	kernel?:      string
	kernel_args?: string
	command:      string & !=""
	vm:           #VM
}

#Config: {
	target: [...#Target]
}
`

// ValidationError describes one configuration problem.
type ValidationError struct {
	Target  string `json:"target,omitempty"` // Target name, empty for config-level problems
	Field   string `json:"field,omitempty"`  // Field path, e.g. "vm.memory"
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	switch {
	case e.Target != "" && e.Field != "":
		return fmt.Sprintf("target %q: %s: %s", e.Target, e.Field, e.Message)
	case e.Target != "":
		return fmt.Sprintf("target %q: %s", e.Target, e.Message)
	case e.Field != "":
		return fmt.Sprintf("%s: %s", e.Field, e.Message)
	default:
		return e.Message
	}
}

// Validate checks c against the schema and the cross-field rules.
// All problems are reported, joined with errors.Join.
func (c Config) Validate() error {
	if len(c.Targets) == 0 {
		return &ValidationError{Field: "target", Message: "at least one target is required"}
	}

	var errs []error
	errs = append(errs, validateSchema(c)...)

	seen := make(map[string]bool, len(c.Targets))
	for i, t := range c.Targets {
		name := t.Name
		if name == "" {
			name = fmt.Sprintf("#%d", i)
		}
		if t.Name != "" && seen[t.Name] {
			errs = append(errs, &ValidationError{Target: name, Field: "name", Message: "duplicate target name"})
		}
		seen[t.Name] = true
		errs = append(errs, validateTarget(name, t)...)
	}

	return errors.Join(errs...)
}

func validateTarget(name string, t Target) []error {
	var errs []error
	add := func(field, msg string) {
		errs = append(errs, &ValidationError{Target: name, Field: field, Message: msg})
	}

	switch {
	case t.Kernel == "" && t.Image == "":
		add("", "exactly one of kernel or image is required")
	case t.Kernel != "" && t.Image != "":
		add("", "kernel and image are mutually exclusive")
	}
	if t.UEFI && t.Image == "" {
		add("uefi", "only valid with image")
	}
	if t.KernelArgs != "" && t.Kernel == "" {
		add("kernel_args", "only valid with kernel")
	}
	for guest := range t.VM.Mounts {
		if !path.IsAbs(guest) {
			add("vm.mounts", fmt.Sprintf("guest path %q must be absolute", guest))
		}
	}
	return errs
}

// validateSchema unifies the encoded config with #Config.
func validateSchema(c Config) []error {
	cctx := cuecontext.New()
	schema := cctx.CompileString(schemaSource)
	if err := schema.Err(); err != nil {
		return []error{fmt.Errorf("compile config schema: %w", err)}
	}

	// JSON is a subset of CUE; going through encoding/json keeps the
	// omitempty semantics of the struct tags.
	data, err := json.Marshal(c)
	if err != nil {
		return []error{fmt.Errorf("encode config: %w", err)}
	}
	value := cctx.CompileBytes(data)
	if err := value.Err(); err != nil {
		return []error{fmt.Errorf("encode config: %w", err)}
	}

	unified := schema.LookupPath(cue.ParsePath("#Config")).Unify(value)
	err = unified.Validate(cue.Concrete(true))
	if err == nil {
		return nil
	}

	var errs []error
	for _, e := range cueerrors.Errors(err) {
		format, args := e.Msg()
		errs = append(errs, &ValidationError{
			Target:  targetName(c, e.Path()),
			Field:   fieldPath(e.Path()),
			Message: fmt.Sprintf(format, args...),
		})
	}
	return errs
}

// targetName maps a CUE error path like [target 1 vm memory] to the name
// of the target at that index.
func targetName(c Config, p []string) string {
	if len(p) < 2 || p[0] != "target" {
		return ""
	}
	var idx int
	if _, err := fmt.Sscanf(p[1], "%d", &idx); err != nil || idx < 0 || idx >= len(c.Targets) {
		return ""
	}
	if c.Targets[idx].Name != "" {
		return c.Targets[idx].Name
	}
	return fmt.Sprintf("#%d", idx)
}

func fieldPath(p []string) string {
	if len(p) >= 2 && p[0] == "target" {
		p = p[2:]
	}
	return strings.Join(p, ".")
}
