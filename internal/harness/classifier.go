package harness

import (
	"context"

	"github.com/roach88/vmtest/internal/output"
)

// qualifies reports whether ev is a failure that filter selects.
func qualifies(ev output.Event, filter output.Phase) bool {
	if !ev.Failed() {
		return false
	}
	phase, _ := ev.Phase()
	return filter.Matches(phase)
}

// HasFailure reads stream until it is closed and reports whether any
// completion event failed under filter. PhaseAny selects every phase.
//
// Every event is consumed, including those after the first failure.
// HasFailure blocks for as long as the producer keeps the stream open.
func HasFailure(stream <-chan output.Event, filter output.Phase) bool {
	found := false
	for ev := range stream {
		if qualifies(ev, filter) {
			found = true
		}
	}
	return found
}

// HasFailureContext is HasFailure bounded by ctx. If ctx ends before the
// stream closes it returns ctx.Err along with what was seen so far; the
// rest of the stream is left unread.
func HasFailureContext(ctx context.Context, stream <-chan output.Event, filter output.Phase) (bool, error) {
	found := false
	for {
		// An ended ctx wins over a ready event.
		if err := ctx.Err(); err != nil {
			return found, err
		}
		select {
		case ev, ok := <-stream:
			if !ok {
				return found, nil
			}
			if qualifies(ev, filter) {
				found = true
			}
		case <-ctx.Done():
			return found, ctx.Err()
		}
	}
}

// Verdict is the outcome of classifying a whole stream.
type Verdict struct {
	// Events holds every event in arrival order.
	Events []output.Event
	// Failures holds the events that qualified.
	Failures []output.Event
}

// Failed reports whether at least one event qualified.
func (v Verdict) Failed() bool {
	return len(v.Failures) > 0
}

// Seen returns the number of events consumed.
func (v Verdict) Seen() int {
	return len(v.Events)
}

// Classify is HasFailure that keeps the trace. Classify(s, f).Failed()
// equals HasFailure(s, f) for the same stream contents.
func Classify(stream <-chan output.Event, filter output.Phase) Verdict {
	var v Verdict
	for ev := range stream {
		v.Events = append(v.Events, ev)
		if qualifies(ev, filter) {
			v.Failures = append(v.Failures, ev)
		}
	}
	return v
}

// Collect drains stream and returns its events.
func Collect(stream <-chan output.Event) []output.Event {
	return Classify(stream, output.PhaseAny).Events
}
