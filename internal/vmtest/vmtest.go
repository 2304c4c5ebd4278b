package vmtest

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/roach88/vmtest/internal/config"
	"github.com/roach88/vmtest/internal/output"
)

const defaultBootTimeout = 2 * time.Minute

// ArtifactError is returned by New when a target references a kernel,
// image or bios file that does not exist.
type ArtifactError struct {
	Target string
	Field  string
	Path   string
	Err    error
}

// Error implements the error interface.
func (e *ArtifactError) Error() string {
	return fmt.Sprintf("target %q: %s %s: %v", e.Target, e.Field, e.Path, e.Err)
}

func (e *ArtifactError) Unwrap() error {
	return e.Err
}

// Vmtest runs the targets of one configuration from one working directory.
type Vmtest struct {
	dir         string
	targets     []config.Target
	factory     MachineFactory
	sessions    SessionGenerator
	logger      *slog.Logger
	bootTimeout time.Duration
}

// Option configures a Vmtest.
type Option func(*Vmtest)

// WithLogger sets the logger for run progress. Defaults to discarding.
func WithLogger(logger *slog.Logger) Option {
	return func(v *Vmtest) {
		if logger != nil {
			v.logger = logger
		}
	}
}

// WithMachineFactory replaces the QEMU machine backend.
func WithMachineFactory(factory MachineFactory) Option {
	return func(v *Vmtest) {
		if factory != nil {
			v.factory = factory
		}
	}
}

// WithSessionGenerator overrides how run session IDs are generated.
// Defaults to UUIDv7Generator.
func WithSessionGenerator(gen SessionGenerator) Option {
	return func(v *Vmtest) {
		if gen != nil {
			v.sessions = gen
		}
	}
}

// WithBootTimeout bounds how long the QEMU backend waits for the guest
// agent to answer. It does not affect setup or the command.
func WithBootTimeout(d time.Duration) Option {
	return func(v *Vmtest) {
		if d > 0 {
			v.bootTimeout = d
		}
	}
}

// New creates a Vmtest bound to dir and cfg.
//
// dir must be an existing directory. cfg is defaulted and validated, and
// every relative path in it is resolved against dir. Kernel, image and bios
// files must exist.
func New(dir string, cfg config.Config, opts ...Option) (*Vmtest, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve working directory: %w", err)
	}
	info, err := os.Stat(absDir)
	if err != nil {
		return nil, fmt.Errorf("working directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("working directory %s is not a directory", absDir)
	}

	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	targets := make([]config.Target, len(cfg.Targets))
	for i, t := range cfg.Targets {
		resolved, err := resolveTarget(absDir, t)
		if err != nil {
			return nil, err
		}
		targets[i] = resolved
	}

	v := &Vmtest{
		dir:         absDir,
		targets:     targets,
		sessions:    UUIDv7Generator{},
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		bootTimeout: defaultBootTimeout,
	}
	v.factory = v.newQEMU
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// resolveTarget makes the target's paths absolute and checks that its boot
// artifacts exist.
func resolveTarget(dir string, t config.Target) (config.Target, error) {
	resolve := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(dir, p)
	}

	t.Kernel = resolve(t.Kernel)
	t.Image = resolve(t.Image)
	t.VM.Bios = resolve(t.VM.Bios)

	for field, p := range map[string]string{"kernel": t.Kernel, "image": t.Image, "bios": t.VM.Bios} {
		if p == "" {
			continue
		}
		if _, err := os.Stat(p); err != nil {
			return t, &ArtifactError{Target: t.Name, Field: field, Path: p, Err: err}
		}
	}

	if len(t.VM.Mounts) > 0 {
		mounts := make(map[string]config.Mount, len(t.VM.Mounts))
		for guest, m := range t.VM.Mounts {
			m.HostPath = resolve(m.HostPath)
			mounts[guest] = m
		}
		t.VM.Mounts = mounts
	}
	return t, nil
}

// Dir returns the absolute working directory.
func (v *Vmtest) Dir() string {
	return v.dir
}

// Targets returns the targets with resolved paths.
func (v *Vmtest) Targets() []config.Target {
	out := make([]config.Target, len(v.targets))
	copy(out, v.targets)
	return out
}

// Match returns the indices of targets whose name matches pattern.
// An empty pattern matches every target.
func (v *Vmtest) Match(pattern string) ([]int, error) {
	var re *regexp.Regexp
	if pattern != "" {
		var err error
		re, err = regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid target filter: %w", err)
		}
	}

	var idx []int
	for i, t := range v.targets {
		if re == nil || re.MatchString(t.Name) {
			idx = append(idx, i)
		}
	}
	return idx, nil
}

// RunOne runs the target at idx, sending lifecycle events to updates.
//
// updates is closed when RunOne returns, on every path, and only after the
// machine has shut down. If ctx ends while an event is waiting to be
// delivered, the remaining events are dropped.
func (v *Vmtest) RunOne(ctx context.Context, idx int, updates chan<- output.Event) {
	v.RunSession(ctx, idx, v.sessions.Generate(), updates)
}

// RunSession is RunOne with a caller-chosen session ID, for callers that
// record the run under the same ID as its log records.
func (v *Vmtest) RunSession(ctx context.Context, idx int, session string, updates chan<- output.Event) {
	defer close(updates)

	send := func(ev output.Event) {
		select {
		case updates <- ev:
		case <-ctx.Done():
		}
	}

	if idx < 0 || idx >= len(v.targets) {
		send(output.BootStart())
		send(output.BootEnd(fmt.Errorf("no target at index %d (have %d)", idx, len(v.targets))))
		return
	}

	target := v.targets[idx]
	logger := v.logger.With("session", session, "target", target.Name)

	send(output.BootStart())
	logger.Info("booting")

	machine, err := v.factory(MachineSpec{
		Target:  target,
		WorkDir: v.dir,
		Session: session,
		Logger:  logger,
	})
	if err != nil {
		logger.Error("machine construction failed", "error", err)
		send(output.BootEnd(fmt.Errorf("create machine: %w", err)))
		return
	}
	defer func() {
		if err := machine.Shutdown(); err != nil {
			logger.Warn("machine shutdown failed", "error", err)
		}
	}()

	if err := machine.Boot(ctx); err != nil {
		logger.Error("boot failed", "error", err)
		send(output.BootEnd(err))
		return
	}
	send(output.BootEnd(nil))
	logger.Info("boot completed")

	send(output.SetupStart())
	if err := machine.Setup(ctx, func(line string) { send(output.SetupOutput(line)) }); err != nil {
		logger.Error("setup failed", "error", err)
		send(output.SetupEnd(err))
		return
	}
	send(output.SetupEnd(nil))
	logger.Info("setup completed")

	send(output.CommandStart())
	rc, err := machine.Run(ctx, target.Command, func(line string) { send(output.CommandOutput(line)) })
	if err != nil {
		logger.Error("command failed", "error", err)
	} else {
		logger.Info("command completed", "exit_code", rc)
	}
	send(output.CommandEnd(rc, err))
}

// NewSession returns a session ID from the configured generator.
func (v *Vmtest) NewSession() string {
	return v.sessions.Generate()
}

// Start runs the target at idx on a new goroutine and returns its event
// stream. The stream is closed when the run ends.
func (v *Vmtest) Start(ctx context.Context, idx int) <-chan output.Event {
	updates := make(chan output.Event)
	go v.RunOne(ctx, idx, updates)
	return updates
}
