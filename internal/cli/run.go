package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/vmtest/internal/config"
	"github.com/roach88/vmtest/internal/harness"
	"github.com/roach88/vmtest/internal/output"
	"github.com/roach88/vmtest/internal/store"
	"github.com/roach88/vmtest/internal/vmtest"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Config      string
	Dir         string
	Target      string
	Phase       string
	Database    string
	BootTimeout time.Duration

	// Machines overrides the machine backend (for testing).
	// If nil, targets boot under QEMU.
	Machines vmtest.MachineFactory
	// Sessions overrides the session ID generator (for testing).
	// If nil, defaults to UUIDv7Generator.
	Sessions vmtest.SessionGenerator
}

// TargetResult is the outcome of one target.
type TargetResult struct {
	Target  string   `json:"target"`
	Session string   `json:"session"`
	Status  string   `json:"status"` // "pass" | "fail"
	Events  []string `json:"events,omitempty"`
}

// RunReport is the run command's result.
type RunReport struct {
	Results []TargetResult `json:"results"`
	Failed  int            `json:"failed"`
}

// String renders one line per target plus a summary.
func (r RunReport) String() string {
	var buf strings.Builder
	for _, res := range r.Results {
		fmt.Fprintf(&buf, "%s %s (%s)\n", strings.ToUpper(res.Status), res.Target, res.Session)
	}
	fmt.Fprintf(&buf, "%d passed, %d failed", len(r.Results)-r.Failed, r.Failed)
	return buf.String()
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	return newRunCommand(&RunOptions{RootOptions: rootOpts})
}

func newRunCommand(opts *RunOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the configured targets",
		Long: `Run each configured target: boot its machine, run the setup script,
then run the target command. Exits non-zero if any phase of any target
failed.

Relative paths in the config resolve against --dir, which defaults to the
directory holding the config file.

Example:
  vmtest run
  vmtest run --config ci/vmtest.toml --target '^kernel-' --db history.db
  vmtest run --phase command --verbose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTargets(opts, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Config, "config", "c", config.DefaultFileName, "path to config file (.toml, .yaml)")
	cmd.Flags().StringVar(&opts.Dir, "dir", "", "working directory shared with the guest (default: config file's directory)")
	cmd.Flags().StringVarP(&opts.Target, "target", "t", "", "only run targets whose name matches this regexp")
	cmd.Flags().StringVar(&opts.Phase, "phase", "any", "only count failures of this phase (boot|setup|command|any)")
	cmd.Flags().StringVar(&opts.Database, "db", "", "record runs in this SQLite database")
	cmd.Flags().DurationVar(&opts.BootTimeout, "boot-timeout", 2*time.Minute, "how long to wait for the guest agent")

	return cmd
}

func runTargets(opts *RunOptions, cmd *cobra.Command) error {
	errW := &lockedWriter{w: cmd.ErrOrStderr()}
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), errW)
	logger := newLogger(errW, opts.RootOptions)

	phase, err := output.ParsePhase(opts.Phase)
	if err != nil {
		return fail(formatter, ExitCommandError, ErrCodeFlag, "invalid --phase", err)
	}

	cfg, err := config.Load(opts.Config)
	if err != nil {
		return fail(formatter, ExitCommandError, ErrCodeConfig, "failed to load config", err)
	}

	dir := opts.Dir
	if dir == "" {
		dir = filepath.Dir(opts.Config)
	}

	vmOpts := []vmtest.Option{
		vmtest.WithLogger(logger),
		vmtest.WithBootTimeout(opts.BootTimeout),
	}
	if opts.Machines != nil {
		vmOpts = append(vmOpts, vmtest.WithMachineFactory(opts.Machines))
	}
	if opts.Sessions != nil {
		vmOpts = append(vmOpts, vmtest.WithSessionGenerator(opts.Sessions))
	}
	vm, err := vmtest.New(dir, *cfg, vmOpts...)
	if err != nil {
		return fail(formatter, ExitCommandError, ErrCodeConfig, "failed to set up targets", err)
	}

	indices, err := vm.Match(opts.Target)
	if err != nil {
		return fail(formatter, ExitCommandError, ErrCodeFlag, "invalid --target", err)
	}
	if len(indices) == 0 {
		return fail(formatter, ExitCommandError, ErrCodeNotFound, fmt.Sprintf("no targets match %q", opts.Target), nil)
	}

	var st *store.Store
	if opts.Database != "" {
		st, err = store.Open(opts.Database)
		if err != nil {
			return fail(formatter, ExitCommandError, ErrCodeDatabase, "failed to open database", err)
		}
		defer func() {
			if closeErr := st.Close(); closeErr != nil {
				logger.Error("error closing database", "error", closeErr)
			}
		}()
	}

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, stop := signal.NotifyContext(parentCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	report := RunReport{Results: []TargetResult{}}
	targets := vm.Targets()
	for _, idx := range indices {
		res, err := runTarget(ctx, vm, idx, targets[idx], phase, st, formatter, logger)
		if errInterrupted(err) {
			return fail(formatter, ExitCommandError, ErrCodeGeneric, "interrupted", err)
		}
		if err != nil {
			return fail(formatter, ExitCommandError, ErrCodeGeneric, fmt.Sprintf("target %s", targets[idx].Name), err)
		}
		report.Results = append(report.Results, res)
		if res.Status == "fail" {
			report.Failed++
		}
	}

	if err := formatter.Success(report); err != nil {
		return err
	}
	if report.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d of %d targets failed", report.Failed, len(report.Results)))
	}
	return nil
}

// runTarget runs one target and classifies its stream, recording it when
// st is non-nil.
func runTarget(
	ctx context.Context,
	vm *vmtest.Vmtest,
	idx int,
	target config.Target,
	phase output.Phase,
	st *store.Store,
	formatter *OutputFormatter,
	logger *slog.Logger,
) (TargetResult, error) {
	session := vm.NewSession()
	res := TargetResult{Target: target.Name, Session: session}

	updates := make(chan output.Event)
	go vm.RunSession(ctx, idx, session, updates)
	var stream <-chan output.Event = updates

	var rec *store.Recorder
	if st != nil {
		_, err := st.BeginRun(ctx, store.Run{
			ID:      session,
			Target:  target.Name,
			Command: target.Command,
			WorkDir: vm.Dir(),
			Filter:  phase,
		})
		if err != nil {
			// Let the run finish so the machine is shut down.
			harness.HasFailure(stream, phase)
			return res, err
		}
		rec = st.Record(ctx, session, stream)
		stream = rec.Events()
	}

	var trace []string
	stream = tap(ctx, stream, func(ev output.Event) {
		trace = append(trace, ev.String())
		formatter.VerboseLog("[%s] %s", target.Name, ev)
	})

	failed, err := harness.HasFailureContext(ctx, stream, phase)
	if err != nil {
		// The stream closes only after the machine has shut down.
		for range stream {
		}
		return TargetResult{Target: target.Name, Session: session}, err
	}
	res.Events = trace
	res.Status = "pass"
	if failed {
		res.Status = "fail"
	}
	logger.Info("target finished", "target", target.Name, "session", session, "status", res.Status)

	if rec != nil {
		if recErr := rec.Err(); recErr != nil {
			logger.Warn("recording incomplete", "session", session, "error", recErr)
		}
		if err := st.FinishRun(context.WithoutCancel(ctx), session, failed); err != nil {
			return res, err
		}
	}
	return res, nil
}

// tap calls fn for every event on in before passing it on. Once ctx ends
// in is still drained but nothing more is forwarded.
func tap(ctx context.Context, in <-chan output.Event, fn func(output.Event)) <-chan output.Event {
	out := make(chan output.Event)
	go func() {
		defer close(out)
		forward := true
		for ev := range in {
			if !forward {
				continue
			}
			fn(ev)
			select {
			case out <- ev:
			case <-ctx.Done():
				forward = false
			}
		}
	}()
	return out
}

// errInterrupted reports whether err came from the signal context.
func errInterrupted(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
