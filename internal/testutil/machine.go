package testutil

import (
	"context"
	"sync"
)

// FakeMachine is a scripted stand-in for a virtual machine.
//
// It satisfies vmtest.Machine. Each phase returns the configured error and
// reports the configured output lines; every call is recorded so tests can
// check which phases ran.
type FakeMachine struct {
	BootErr error

	SetupOutput []string
	SetupErr    error

	CommandOutput []string
	ExitCode      int64
	RunErr        error

	ShutdownErr error

	mu    sync.Mutex
	calls []string
}

// Boot records the call and returns BootErr, or ctx.Err if ctx has ended.
func (m *FakeMachine) Boot(ctx context.Context) error {
	m.record("boot")
	if err := ctx.Err(); err != nil {
		return err
	}
	return m.BootErr
}

// Setup reports SetupOutput and returns SetupErr.
func (m *FakeMachine) Setup(_ context.Context, out func(string)) error {
	m.record("setup")
	for _, line := range m.SetupOutput {
		out(line)
	}
	return m.SetupErr
}

// Run reports CommandOutput and returns ExitCode and RunErr.
func (m *FakeMachine) Run(_ context.Context, command string, out func(string)) (int64, error) {
	m.record("run " + command)
	for _, line := range m.CommandOutput {
		out(line)
	}
	return m.ExitCode, m.RunErr
}

// Shutdown records the call and returns ShutdownErr.
func (m *FakeMachine) Shutdown() error {
	m.record("shutdown")
	return m.ShutdownErr
}

// Calls returns the recorded phase calls in order.
func (m *FakeMachine) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.calls))
	copy(out, m.calls)
	return out
}

func (m *FakeMachine) record(call string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, call)
}
