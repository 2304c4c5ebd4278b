package harness

import (
	"fmt"
	"strings"
	"testing"

	"github.com/roach88/vmtest/internal/output"
)

// AssertionError describes a failed stream assertion.
type AssertionError struct {
	Type     string         // assertion type, "failure_of" or "no_failure"
	Expected string         // human-readable expected outcome
	Actual   string         // human-readable actual outcome
	Events   []output.Event // everything the stream delivered
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	fmt.Fprintf(&buf, "\nObserved events:\n")
	if len(e.Events) == 0 {
		fmt.Fprintf(&buf, "  (none)\n")
	}
	for i, ev := range e.Events {
		fmt.Fprintf(&buf, "  [%d] %s\n", i+1, ev)
	}

	return buf.String()
}

// checkFailureOf returns an *AssertionError unless v holds a failure.
// v must have been classified with the phase being asserted.
func checkFailureOf(v Verdict, phase output.Phase) error {
	if v.Failed() {
		return nil
	}
	return &AssertionError{
		Type:     "failure_of",
		Expected: describeFailure(phase),
		Actual:   fmt.Sprintf("no qualifying failure in %d events", v.Seen()),
		Events:   v.Events,
	}
}

// checkNoFailure returns an *AssertionError if v holds any failure.
func checkNoFailure(v Verdict) error {
	if !v.Failed() {
		return nil
	}
	failed := make([]string, len(v.Failures))
	for i, ev := range v.Failures {
		failed[i] = ev.String()
	}
	return &AssertionError{
		Type:     "no_failure",
		Expected: "every phase to succeed",
		Actual:   strings.Join(failed, "; "),
		Events:   v.Events,
	}
}

func describeFailure(phase output.Phase) string {
	if phase == output.PhaseAny {
		return "a failure in any phase"
	}
	return fmt.Sprintf("a failure in the %s phase", phase)
}

// AssertFailure drains stream and fails t unless a completion event of
// phase failed. output.PhaseAny accepts a failure in any phase.
func AssertFailure(t testing.TB, stream <-chan output.Event, phase output.Phase) bool {
	t.Helper()
	if err := checkFailureOf(Classify(stream, phase), phase); err != nil {
		t.Errorf("%s", err)
		return false
	}
	return true
}

// AssertNoFailure drains stream and fails t if any phase failed.
func AssertNoFailure(t testing.TB, stream <-chan output.Event) bool {
	t.Helper()
	if err := checkNoFailure(Classify(stream, output.PhaseAny)); err != nil {
		t.Errorf("%s", err)
		return false
	}
	return true
}
