package testutil

import "fmt"

// FixedSessionGenerator returns the same session ID every time.
//
// Event traces and log records of a run then contain a known ID, which
// keeps golden comparisons byte-stable.
//
// Thread-safety: FixedSessionGenerator is stateless and safe for concurrent use.
type FixedSessionGenerator struct {
	id string
}

// NewFixedSessionGenerator creates a generator that always returns id.
// If id is empty, Generate returns "test-session".
func NewFixedSessionGenerator(id string) *FixedSessionGenerator {
	if id == "" {
		id = "test-session"
	}
	return &FixedSessionGenerator{id: id}
}

// Generate returns the fixed session ID.
func (g *FixedSessionGenerator) Generate() string {
	return g.id
}

// SequenceSessionGenerator numbers sessions "<prefix>-1", "<prefix>-2", ...
//
// Useful when one test drives several runs and needs to tell their
// records apart.
type SequenceSessionGenerator struct {
	prefix string
	clock  *DeterministicClock
}

// NewSequenceSessionGenerator creates a numbering generator.
func NewSequenceSessionGenerator(prefix string) *SequenceSessionGenerator {
	return &SequenceSessionGenerator{prefix: prefix, clock: NewDeterministicClock()}
}

// Generate returns the next numbered session ID.
func (g *SequenceSessionGenerator) Generate() string {
	return fmt.Sprintf("%s-%d", g.prefix, g.clock.Next())
}
