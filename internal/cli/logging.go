package cli

import (
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// newLogger returns a slog.Logger that writes through charmbracelet/log.
// Info and above are shown by default, Debug with --verbose. JSON output
// mode switches the log records to JSON too.
func newLogger(w io.Writer, opts *RootOptions) *slog.Logger {
	handler := log.NewWithOptions(w, log.Options{
		Level:           log.InfoLevel,
		ReportTimestamp: true,
		TimeFormat:      time.Kitchen,
		Prefix:          "vmtest",
	})
	if opts.Verbose {
		handler.SetLevel(log.DebugLevel)
	}
	if opts.Format == "json" {
		handler.SetFormatter(log.JSONFormatter)
	}
	return slog.New(handler)
}

// lockedWriter serializes writes from the logger and the event printer,
// which run on different goroutines.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}
