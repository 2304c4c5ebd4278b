package cli

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/vmtest/internal/store"
)

// HistoryOptions holds flags for the history command.
type HistoryOptions struct {
	*RootOptions
	Database string
	Target   string
	Limit    int
}

// RunSummary is one row of the history listing.
type RunSummary struct {
	ID        string    `json:"id"`
	Target    string    `json:"target"`
	Status    string    `json:"status"`
	Phase     string    `json:"phase"`
	StartedAt time.Time `json:"started_at"`
}

// HistoryList is the result of listing runs.
type HistoryList struct {
	Runs []RunSummary `json:"runs"`
}

// String renders a fixed-width table.
func (h HistoryList) String() string {
	if len(h.Runs) == 0 {
		return "No runs recorded."
	}
	var buf strings.Builder
	fmt.Fprintf(&buf, "%-36s  %-20s  %-10s  %s", "ID", "TARGET", "STATUS", "STARTED")
	for _, r := range h.Runs {
		fmt.Fprintf(&buf, "\n%-36s  %-20s  %-10s  %s", r.ID, r.Target, r.Status, r.StartedAt.Local().Format(time.DateTime))
	}
	return buf.String()
}

// RunDetail is the result of showing one run.
type RunDetail struct {
	RunSummary
	Command string   `json:"command"`
	WorkDir string   `json:"workdir"`
	Events  []string `json:"events"`
}

// String renders the run header followed by its events.
func (d RunDetail) String() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Run %s\n", d.ID)
	fmt.Fprintf(&buf, "  Target:  %s\n", d.Target)
	fmt.Fprintf(&buf, "  Command: %s\n", d.Command)
	fmt.Fprintf(&buf, "  Workdir: %s\n", d.WorkDir)
	fmt.Fprintf(&buf, "  Status:  %s (phase %s)\n", d.Status, d.Phase)
	fmt.Fprintf(&buf, "\nEvents:")
	for i, ev := range d.Events {
		fmt.Fprintf(&buf, "\n  [%d] %s", i+1, ev)
	}
	return buf.String()
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "Show recorded runs",
		Long: `List runs recorded with "vmtest run --db", newest first, or show the
events of a single run.

Example:
  vmtest history --db history.db
  vmtest history --db history.db --target kernel-pass --limit 5
  vmtest history --db history.db 0190d6b2-7a41-7c2e-9c1b-3f2a5e6d7c80`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				return runHistoryShow(opts, args[0], cmd)
			}
			return runHistoryList(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	cmd.Flags().StringVarP(&opts.Target, "target", "t", "", "only list runs of this target")
	cmd.Flags().IntVarP(&opts.Limit, "limit", "n", 20, "maximum number of runs to list (0 = all)")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func openHistory(opts *HistoryOptions, formatter *OutputFormatter) (*store.Store, error) {
	st, err := store.Open(opts.Database)
	if err != nil {
		return nil, fail(formatter, ExitCommandError, ErrCodeDatabase, "failed to open database", err)
	}
	return st, nil
}

func runHistoryList(opts *HistoryOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	st, err := openHistory(opts, formatter)
	if err != nil {
		return err
	}
	defer st.Close()

	runs, err := st.ListRuns(cmd.Context(), opts.Target, opts.Limit)
	if err != nil {
		return fail(formatter, ExitCommandError, ErrCodeDatabase, "failed to list runs", err)
	}

	list := HistoryList{Runs: make([]RunSummary, len(runs))}
	for i, r := range runs {
		list.Runs[i] = summarize(r)
	}
	return formatter.Success(list)
}

func runHistoryShow(opts *HistoryOptions, id string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	st, err := openHistory(opts, formatter)
	if err != nil {
		return err
	}
	defer st.Close()

	run, events, err := st.ReadRun(cmd.Context(), id)
	if errors.Is(err, store.ErrRunNotFound) {
		return fail(formatter, ExitCommandError, ErrCodeNotFound, fmt.Sprintf("run %s not found", id), nil)
	}
	if err != nil {
		return fail(formatter, ExitCommandError, ErrCodeDatabase, "failed to read run", err)
	}

	detail := RunDetail{
		RunSummary: summarize(run),
		Command:    run.Command,
		WorkDir:    run.WorkDir,
		Events:     make([]string, len(events)),
	}
	for i, ev := range events {
		detail.Events[i] = ev.String()
	}
	return formatter.Success(detail)
}

func summarize(r store.Run) RunSummary {
	return RunSummary{
		ID:        r.ID,
		Target:    r.Target,
		Status:    r.Status(),
		Phase:     r.Filter.String(),
		StartedAt: r.StartedAt,
	}
}
