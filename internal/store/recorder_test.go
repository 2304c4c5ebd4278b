package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/vmtest/internal/output"
	"github.com/roach88/vmtest/internal/testutil"
)

func TestRecord_PassesThroughAndPersists(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_, err := s.BeginRun(ctx, createTestRun("run-a", "kernel"))
	require.NoError(t, err)

	events := []output.Event{
		output.BootStart(),
		output.BootEnd(nil),
		output.SetupStart(),
		output.SetupEnd(nil),
		output.CommandStart(),
		output.CommandEnd(0, nil),
	}
	rec := s.Record(ctx, "run-a", feed(events...))

	var forwarded []output.Event
	for ev := range rec.Events() {
		forwarded = append(forwarded, ev)
	}
	require.NoError(t, rec.Err())
	assert.Equal(t, events, forwarded)

	_, stored, err := s.ReadRun(ctx, "run-a")
	require.NoError(t, err)
	assert.Equal(t, events, stored)
}

func TestRecord_WriteErrorStillForwards(t *testing.T) {
	s := createTestStore(t)

	// No BeginRun: every insert violates the foreign key.
	rec := s.Record(context.Background(), "missing", feed(output.BootStart(), output.BootEnd(nil)))

	var n int
	for range rec.Events() {
		n++
	}
	assert.Equal(t, 2, n)
	assert.Error(t, rec.Err())
}

func TestRecord_CancelledConsumerStillDrains(t *testing.T) {
	s := createTestStore(t)
	_, err := s.BeginRun(context.Background(), createTestRun("run-a", "kernel"))
	require.NoError(t, err)

	p := testutil.NewProducer(output.BootStart(), output.BootEnd(nil), output.SetupStart())
	ctx, cancel := context.WithCancel(context.Background())
	rec := s.Record(ctx, "run-a", p.Stream())

	<-rec.Events()
	cancel()

	select {
	case <-p.Done():
	case <-time.After(time.Second):
		t.Fatal("producer blocked after consumer went away")
	}
	assert.Equal(t, 3, p.Sent())

	for range rec.Events() {
	}
	_, stored, err := s.ReadRun(context.Background(), "run-a")
	require.NoError(t, err)
	assert.Len(t, stored, 3)
}
