package vmtest

import (
	"context"
	"log/slog"

	"github.com/roach88/vmtest/internal/config"
)

// Machine carries out the three phases of a run for one target.
//
// Boot returns once the guest is ready to execute commands. Setup and Run
// report guest output one line at a time through out, before returning.
// The QEMU backend delivers the lines once the guest process has exited,
// since the guest agent only hands out captured output at that point;
// stdout lines come before stderr lines. Run returns the
// command's exit status; a non-nil error means the status is unknown.
// Shutdown is called exactly once after the last phase, whatever the
// outcome.
type Machine interface {
	Boot(ctx context.Context) error
	Setup(ctx context.Context, out func(line string)) error
	Run(ctx context.Context, command string, out func(line string)) (int64, error)
	Shutdown() error
}

// MachineSpec is everything a factory needs to build a Machine.
type MachineSpec struct {
	// Target has all paths resolved to absolute paths.
	Target config.Target
	// WorkDir is the harness working directory, shared with the guest.
	WorkDir string
	// Session identifies the run.
	Session string
	Logger  *slog.Logger
}

// MachineFactory builds the Machine for one run.
type MachineFactory func(spec MachineSpec) (Machine, error)
