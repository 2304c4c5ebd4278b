package harness

import (
	"path/filepath"
	"runtime"
)

// moduleRoot is fixed at compile time from this file's location
// (<root>/internal/harness/fixtures.go).
var moduleRoot = func() string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Dir(filepath.Dir(filepath.Dir(file)))
}()

// Fixture returns the path of the named file under testdata/fixtures.
// It does no I/O; a bad name surfaces when the path is opened.
func Fixture(name string) string {
	return filepath.Join(moduleRoot, "testdata", "fixtures", name)
}

// Asset returns the path of the named file under testdata/assets.
func Asset(name string) string {
	return filepath.Join(moduleRoot, "testdata", "assets", name)
}
