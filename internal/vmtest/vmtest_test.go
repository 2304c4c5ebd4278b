package vmtest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/vmtest/internal/config"
	"github.com/roach88/vmtest/internal/output"
	"github.com/roach88/vmtest/internal/testutil"
)

// workDir returns a directory holding an empty kernel file.
func workDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bzImage"), nil, 0o644))
	return dir
}

func kernelConfig(names ...string) config.Config {
	var cfg config.Config
	for _, name := range names {
		cfg.Targets = append(cfg.Targets, config.Target{
			Name:    name,
			Kernel:  "bzImage",
			Command: "./run.sh",
		})
	}
	return cfg
}

func newWithMachine(t *testing.T, m *testutil.FakeMachine, names ...string) (*Vmtest, *[]MachineSpec) {
	t.Helper()
	var specs []MachineSpec
	vm, err := New(workDir(t), kernelConfig(names...),
		WithSessionGenerator(testutil.NewFixedSessionGenerator("s1")),
		WithMachineFactory(func(spec MachineSpec) (Machine, error) {
			specs = append(specs, spec)
			return m, nil
		}),
	)
	require.NoError(t, err)
	return vm, &specs
}

func collect(vm *Vmtest, idx int) []output.Event {
	updates := make(chan output.Event)
	go vm.RunOne(context.Background(), idx, updates)

	var events []output.Event
	for ev := range updates {
		events = append(events, ev)
	}
	return events
}

func eventTypes(events []output.Event) []output.EventType {
	types := make([]output.EventType, len(events))
	for i, ev := range events {
		types[i] = ev.Type
	}
	return types
}

func TestNew_ResolvesRelativePaths(t *testing.T) {
	dir := workDir(t)
	cfg := kernelConfig("a")
	cfg.Targets[0].VM.Mounts = map[string]config.Mount{"/mnt/data": {HostPath: "data"}}

	vm, err := New(dir, cfg)
	require.NoError(t, err)

	targets := vm.Targets()
	require.Len(t, targets, 1)
	assert.Equal(t, filepath.Join(dir, "bzImage"), targets[0].Kernel)
	assert.Equal(t, filepath.Join(dir, "data"), targets[0].VM.Mounts["/mnt/data"].HostPath)
	assert.Equal(t, dir, vm.Dir())
}

func TestNew_AppliesDefaults(t *testing.T) {
	vm, err := New(workDir(t), kernelConfig("a"))
	require.NoError(t, err)

	vmc := vm.Targets()[0].VM
	assert.Equal(t, config.DefaultNumCPUs, vmc.NumCPUs)
	assert.Equal(t, config.DefaultMemory, vmc.Memory)
}

func TestNew_MissingKernel(t *testing.T) {
	dir := t.TempDir()

	_, err := New(dir, kernelConfig("a"))
	require.Error(t, err)

	var artifactErr *ArtifactError
	require.ErrorAs(t, err, &artifactErr)
	assert.Equal(t, "a", artifactErr.Target)
	assert.Equal(t, "kernel", artifactErr.Field)
	assert.Equal(t, filepath.Join(dir, "bzImage"), artifactErr.Path)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestNew_InvalidConfig(t *testing.T) {
	_, err := New(workDir(t), config.Config{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid config")
}

func TestNew_WorkDirMustExist(t *testing.T) {
	_, err := New(filepath.Join(t.TempDir(), "missing"), kernelConfig("a"))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestNew_WorkDirMustBeDirectory(t *testing.T) {
	dir := workDir(t)

	_, err := New(filepath.Join(dir, "bzImage"), kernelConfig("a"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a directory")
}

func TestTargets_ReturnsCopy(t *testing.T) {
	vm, err := New(workDir(t), kernelConfig("a"))
	require.NoError(t, err)

	vm.Targets()[0].Name = "changed"
	assert.Equal(t, "a", vm.Targets()[0].Name)
}

func TestMatch(t *testing.T) {
	vm, err := New(workDir(t), kernelConfig("uefi-boot", "kernel-boot", "image"))
	require.NoError(t, err)

	idx, err := vm.Match("")
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2}, idx)

	idx, err = vm.Match("boot$")
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1}, idx)

	idx, err = vm.Match("nothing")
	require.NoError(t, err)
	assert.Empty(t, idx)

	_, err = vm.Match("(")
	assert.Error(t, err)
}

func TestRunOne_SuccessfulRun(t *testing.T) {
	m := &testutil.FakeMachine{
		SetupOutput:   []string{"mounted"},
		CommandOutput: []string{"ok 1", "ok 2"},
	}
	vm, specs := newWithMachine(t, m, "a")

	events := collect(vm, 0)

	assert.Equal(t, []output.Event{
		output.BootStart(),
		output.BootEnd(nil),
		output.SetupStart(),
		output.SetupOutput("mounted"),
		output.SetupEnd(nil),
		output.CommandStart(),
		output.CommandOutput("ok 1"),
		output.CommandOutput("ok 2"),
		output.CommandEnd(0, nil),
	}, events)
	assert.Equal(t, []string{"boot", "setup", "run ./run.sh", "shutdown"}, m.Calls())

	require.Len(t, *specs, 1)
	spec := (*specs)[0]
	assert.Equal(t, "s1", spec.Session)
	assert.Equal(t, vm.Dir(), spec.WorkDir)
	assert.NotNil(t, spec.Logger)
}

func TestRunOne_NonZeroExit(t *testing.T) {
	vm, _ := newWithMachine(t, &testutil.FakeMachine{ExitCode: 7}, "a")

	events := collect(vm, 0)

	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, output.CommandEnd(7, nil), last)
	assert.True(t, last.Failed())
}

func TestRunOne_BootFailureStopsRun(t *testing.T) {
	boom := errors.New("no agent")
	m := &testutil.FakeMachine{BootErr: boom}
	vm, _ := newWithMachine(t, m, "a")

	events := collect(vm, 0)

	assert.Equal(t, []output.EventType{output.EventBootStart, output.EventBootEnd}, eventTypes(events))
	assert.ErrorIs(t, events[1].Err, boom)
	assert.Equal(t, []string{"boot", "shutdown"}, m.Calls())
}

func TestRunOne_SetupFailureStopsRun(t *testing.T) {
	m := &testutil.FakeMachine{SetupOutput: []string{"mount: failed"}, SetupErr: errors.New("exit 32")}
	vm, _ := newWithMachine(t, m, "a")

	events := collect(vm, 0)

	assert.Equal(t, []output.EventType{
		output.EventBootStart, output.EventBootEnd,
		output.EventSetupStart, output.EventSetupOutput, output.EventSetupEnd,
	}, eventTypes(events))
	assert.Error(t, events[4].Err)
	assert.Equal(t, []string{"boot", "setup", "shutdown"}, m.Calls())
}

func TestRunOne_CommandError(t *testing.T) {
	m := &testutil.FakeMachine{ExitCode: 1, RunErr: errors.New("agent gone")}
	vm, _ := newWithMachine(t, m, "a")

	events := collect(vm, 0)

	last := events[len(events)-1]
	assert.Equal(t, output.EventCommandEnd, last.Type)
	assert.Error(t, last.Err)
	assert.Equal(t, int64(0), last.ExitCode)
}

func TestRunOne_FactoryErrorEndsBoot(t *testing.T) {
	vm, err := New(workDir(t), kernelConfig("a"),
		WithMachineFactory(func(MachineSpec) (Machine, error) {
			return nil, errors.New("no qemu")
		}),
	)
	require.NoError(t, err)

	events := collect(vm, 0)

	assert.Equal(t, []output.EventType{output.EventBootStart, output.EventBootEnd}, eventTypes(events))
	assert.ErrorContains(t, events[1].Err, "no qemu")
}

func TestRunOne_IndexOutOfRange(t *testing.T) {
	m := &testutil.FakeMachine{}
	vm, specs := newWithMachine(t, m, "a")

	for _, idx := range []int{-1, 1, 100} {
		events := collect(vm, idx)
		assert.Equal(t, []output.EventType{output.EventBootStart, output.EventBootEnd}, eventTypes(events))
		assert.Error(t, events[1].Err)
	}
	assert.Empty(t, *specs)
	assert.Empty(t, m.Calls())
}

func TestRunOne_CancelledContextClosesChannel(t *testing.T) {
	vm, _ := newWithMachine(t, &testutil.FakeMachine{CommandOutput: []string{"a", "b"}}, "a")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	updates := make(chan output.Event)
	done := make(chan struct{})
	go func() {
		vm.RunOne(ctx, 0, updates)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RunOne did not return after cancellation")
	}
	// Closed, possibly after a few undelivered events were dropped.
	for range updates {
	}
}

func TestStart_StreamsRun(t *testing.T) {
	vm, _ := newWithMachine(t, &testutil.FakeMachine{}, "a")

	var events []output.Event
	for ev := range vm.Start(context.Background(), 0) {
		events = append(events, ev)
	}
	assert.Len(t, events, 6)
	assert.Equal(t, output.CommandEnd(0, nil), events[5])
}

func TestRunSession_UsesGivenSession(t *testing.T) {
	vm, specs := newWithMachine(t, &testutil.FakeMachine{}, "a")

	updates := make(chan output.Event)
	go vm.RunSession(context.Background(), 0, "chosen", updates)
	for range updates {
	}

	require.Len(t, *specs, 1)
	assert.Equal(t, "chosen", (*specs)[0].Session)
	assert.Equal(t, "s1", vm.NewSession())
}
