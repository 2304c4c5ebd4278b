package harness

import (
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/vmtest/internal/output"
)

// FormatTrace renders events one per line in their String form.
func FormatTrace(events []output.Event) []byte {
	var buf strings.Builder
	for _, ev := range events {
		buf.WriteString(ev.String())
		buf.WriteByte('\n')
	}
	return []byte(buf.String())
}

// AssertGolden compares the rendered trace of events against
// testdata/golden/{name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./... -update
func AssertGolden(t *testing.T, name string, events []output.Event) {
	t.Helper()

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, FormatTrace(events))
}
