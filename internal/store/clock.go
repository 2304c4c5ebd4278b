package store

import "sync/atomic"

// Clock hands out strictly increasing sequence numbers.
type Clock interface {
	Next() int64
}

// seqClock is the default Clock, resumed from the highest seq on disk.
//
// Thread-safety: seqClock is safe for concurrent use (atomic operations).
type seqClock struct {
	seq atomic.Int64
}

func newSeqClockAt(start int64) *seqClock {
	c := &seqClock{}
	c.seq.Store(start)
	return c
}

// Next returns the next sequence number and increments the clock.
func (c *seqClock) Next() int64 {
	return c.seq.Add(1)
}
