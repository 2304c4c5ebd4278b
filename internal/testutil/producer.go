package testutil

import (
	"sync"
	"sync/atomic"

	"github.com/roach88/vmtest/internal/output"
)

// Producer feeds a scripted event sequence into an unbuffered channel and
// counts how many events a consumer actually took.
//
// Because the channel is unbuffered, Sent only counts events that were
// received. A consumer that stops early leaves Sent short of Len and the
// producer goroutine blocked; tests use that to prove a consumer drains
// the stream.
type Producer struct {
	events []output.Event
	sent   atomic.Int64

	once    sync.Once
	hold    bool
	release chan struct{}
	done    chan struct{}
}

// NewProducer creates a producer for events.
func NewProducer(events ...output.Event) *Producer {
	return &Producer{
		events:  events,
		release: make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Hold keeps the stream open after the last event until Release is called.
// Must be called before Stream.
func (p *Producer) Hold() *Producer {
	p.hold = true
	return p
}

// Release lets a held producer close its stream.
func (p *Producer) Release() {
	p.once.Do(func() { close(p.release) })
}

// Stream starts the producer and returns the receiving end. Call it once.
func (p *Producer) Stream() <-chan output.Event {
	ch := make(chan output.Event)
	go func() {
		defer close(p.done)
		for _, ev := range p.events {
			ch <- ev
			p.sent.Add(1)
		}
		if p.hold {
			<-p.release
		}
		close(ch)
	}()
	return ch
}

// Sent returns the number of events received so far.
func (p *Producer) Sent() int {
	return int(p.sent.Load())
}

// Len returns the number of scripted events.
func (p *Producer) Len() int {
	return len(p.events)
}

// Done is closed once the stream has been closed.
func (p *Producer) Done() <-chan struct{} {
	return p.done
}
