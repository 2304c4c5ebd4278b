package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/vmtest/internal/output"
	"github.com/roach88/vmtest/internal/testutil"
)

var testStart = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// createTestStore creates a store in a temp directory with a
// deterministic clock.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path, WithClock(testutil.NewDeterministicClock()))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestRun returns a run with minimal required fields.
func createTestRun(id, target string) Run {
	return Run{
		ID:        id,
		Target:    target,
		Command:   "./run.sh",
		WorkDir:   "/tmp/vmtest-test-1",
		Filter:    output.PhaseAny,
		StartedAt: testStart,
	}
}

func feed(events ...output.Event) <-chan output.Event {
	return testutil.NewProducer(events...).Stream()
}
