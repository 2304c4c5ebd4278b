package harness

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/vmtest/internal/config"
	"github.com/roach88/vmtest/internal/vmtest"
)

// FixtureError is returned by Bootstrap when a fixture cannot be staged.
type FixtureError struct {
	Name string // fixture name as passed to Bootstrap
	Err  error
}

// Error implements the error interface.
func (e *FixtureError) Error() string {
	return fmt.Sprintf("stage fixture %q: %v", e.Name, e.Err)
}

func (e *FixtureError) Unwrap() error {
	return e.Err
}

// ConstructError is returned by Bootstrap when the harness cannot be built
// in the prepared directory.
type ConstructError struct {
	Dir string
	Err error
}

// Error implements the error interface.
func (e *ConstructError) Error() string {
	return fmt.Sprintf("construct harness in %s: %v", e.Dir, e.Err)
}

func (e *ConstructError) Unwrap() error {
	return e.Err
}

// Env owns the ephemeral working directory of one bootstrapped harness.
//
// The directory outlives the harness; Close removes it.
type Env struct {
	dir string
	vm  *vmtest.Vmtest
}

// Dir returns the working directory.
func (e *Env) Dir() string {
	return e.dir
}

// Harness returns the harness bound to Dir.
func (e *Env) Harness() *vmtest.Vmtest {
	return e.vm
}

// Close removes the working directory and everything in it.
func (e *Env) Close() error {
	return os.RemoveAll(e.dir)
}

// Bootstrap stages fixtures in a new temporary directory and builds a
// harness bound to it. See BootstrapWith.
func Bootstrap(cfg config.Config, fixtures ...string) (*Env, error) {
	return BootstrapWith(cfg, fixtures)
}

// BootstrapWith is Bootstrap with harness options.
//
// Each fixture is copied byte for byte from Fixture(name) to the same
// relative name in the directory. Names must be local paths and unique. A
// missing, unreadable, duplicate or non-local fixture yields a
// *FixtureError, a harness that fails to build a *ConstructError; in both
// cases the directory is removed before returning.
func BootstrapWith(cfg config.Config, fixtures []string, opts ...vmtest.Option) (*Env, error) {
	dir, err := os.MkdirTemp("", "vmtest-test-*")
	if err != nil {
		return nil, fmt.Errorf("create working directory: %w", err)
	}

	for _, name := range fixtures {
		if !filepath.IsLocal(name) {
			_ = os.RemoveAll(dir)
			return nil, &FixtureError{Name: name, Err: errors.New("name must be a relative path inside the working directory")}
		}
		if err := copyFile(Fixture(name), filepath.Join(dir, name)); err != nil {
			_ = os.RemoveAll(dir)
			return nil, &FixtureError{Name: name, Err: err}
		}
	}

	vm, err := vmtest.New(dir, cfg, opts...)
	if err != nil {
		_ = os.RemoveAll(dir)
		return nil, &ConstructError{Dir: dir, Err: err}
	}

	return &Env{dir: dir, vm: vm}, nil
}

// Setup is Bootstrap for tests: any error fails the test immediately, and
// the directory is removed when the test and its subtests finish.
func Setup(t testing.TB, cfg config.Config, fixtures ...string) (*vmtest.Vmtest, *Env) {
	t.Helper()
	return SetupWith(t, cfg, fixtures)
}

// SetupWith is Setup with harness options.
func SetupWith(t testing.TB, cfg config.Config, fixtures []string, opts ...vmtest.Option) (*vmtest.Vmtest, *Env) {
	t.Helper()

	env, err := BootstrapWith(cfg, fixtures, opts...)
	require.NoError(t, err, "bootstrap harness")
	t.Cleanup(func() {
		if err := env.Close(); err != nil {
			t.Logf("remove %s: %v", env.Dir(), err)
		}
	})
	return env.Harness(), env
}

func copyFile(src, dst string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", src)
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, info.Mode().Perm())
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, out.Close())
	}()

	_, err = io.Copy(out, in)
	return err
}
