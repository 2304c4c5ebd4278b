package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"github.com/roach88/vmtest/internal/testutil"
	"github.com/roach88/vmtest/internal/vmtest"
)

const twoTargetConfig = `[[target]]
name = "kernel-pass"
kernel = "bzImage"
command = "./run.sh"

[[target]]
name = "kernel-fail"
kernel = "bzImage"
command = "./scripts/fail.sh"
`

// writeProject creates a working directory with a config and a kernel
// file and returns the config path.
func writeProject(t *testing.T, cfg string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bzImage"), nil, 0o644))
	path := filepath.Join(dir, "vmtest.toml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o644))
	return path
}

// scriptedMachines returns a factory whose machines pass, except for the
// named target, which gets a machine from fail.
func scriptedMachines(failing string, fail func() *testutil.FakeMachine) vmtest.MachineFactory {
	return func(spec vmtest.MachineSpec) (vmtest.Machine, error) {
		if spec.Target.Name == failing {
			return fail(), nil
		}
		return &testutil.FakeMachine{CommandOutput: []string{"ok"}}, nil
	}
}

// execute runs cmd with args and returns stdout, stderr and the error.
func execute(cmd *cobra.Command, args ...string) (string, string, error) {
	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}
