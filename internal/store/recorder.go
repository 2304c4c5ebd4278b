package store

import (
	"context"

	"github.com/roach88/vmtest/internal/output"
)

// Recorder persists a run's events while passing them through unchanged.
type Recorder struct {
	events <-chan output.Event
	err    error
}

// Record starts copying events from in into the run identified by runID.
// The returned Recorder's Events channel delivers the same events in the
// same order and is closed after in is closed.
//
// in is always drained. If ctx ends, events are still recorded but no
// longer forwarded, so an abandoned consumer does not stall the producer.
// The first write error stops recording; it is reported by Err.
func (s *Store) Record(ctx context.Context, runID string, in <-chan output.Event) *Recorder {
	out := make(chan output.Event)
	r := &Recorder{events: out}

	go func() {
		defer close(out)
		forward := true
		for ev := range in {
			if r.err == nil {
				_, r.err = s.WriteEvent(context.WithoutCancel(ctx), runID, ev)
			}
			if !forward {
				continue
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				forward = false
			}
		}
	}()
	return r
}

// Events returns the pass-through stream.
func (r *Recorder) Events() <-chan output.Event {
	return r.events
}

// Err returns the first write error. Only valid after Events is closed.
func (r *Recorder) Err() error {
	return r.err
}
