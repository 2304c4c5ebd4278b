package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/roach88/vmtest/internal/output"
)

// ErrRunNotFound is returned when no run has the requested ID.
var ErrRunNotFound = errors.New("run not found")

// Run is one recorded execution of a target.
type Run struct {
	ID      string // session ID
	Target  string
	Command string
	WorkDir string
	// Filter is the phase the run was classified against.
	Filter output.Phase
	// Finished is false while the run is in progress or was interrupted.
	Finished bool
	// Failed is the classifier verdict; meaningful only when Finished.
	Failed    bool
	Seq       int64
	StartedAt time.Time
}

// Status returns "pass", "fail" or "incomplete".
func (r Run) Status() string {
	switch {
	case !r.Finished:
		return "incomplete"
	case r.Failed:
		return "fail"
	default:
		return "pass"
	}
}

// BeginRun inserts run and returns it with Seq assigned. A zero StartedAt
// is set to the current time.
func (s *Store) BeginRun(ctx context.Context, run Run) (Run, error) {
	if run.ID == "" {
		return run, errors.New("begin run: empty run ID")
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}
	run.Seq = s.clock.Next()
	run.Finished = false
	run.Failed = false

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, target, command, workdir, phase_filter, seq, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		run.ID,
		run.Target,
		run.Command,
		run.WorkDir,
		run.Filter.String(),
		run.Seq,
		run.StartedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return run, fmt.Errorf("begin run: %w", err)
	}
	return run, nil
}

// WriteEvent appends ev to the run and returns its seq. Output lines and
// error text are stored NFC-normalized.
func (s *Store) WriteEvent(ctx context.Context, runID string, ev output.Event) (int64, error) {
	seq := s.clock.Next()

	var line, errText sql.NullString
	var exitCode sql.NullInt64
	switch ev.Type {
	case output.EventSetupOutput, output.EventCommandOutput:
		line = sql.NullString{String: norm.NFC.String(ev.Line), Valid: true}
	}
	if ev.Err != nil {
		errText = sql.NullString{String: norm.NFC.String(ev.Err.Error()), Valid: true}
	} else if ev.Type == output.EventCommandEnd {
		exitCode = sql.NullInt64{Int64: ev.ExitCode, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO events (run_id, seq, type, line, error, exit_code)
		VALUES (?, ?, ?, ?, ?, ?)
	`, runID, seq, ev.Type.String(), line, errText, exitCode)
	if err != nil {
		return 0, fmt.Errorf("write event: %w", err)
	}
	return seq, nil
}

// FinishRun records the verdict of a run.
func (s *Store) FinishRun(ctx context.Context, runID string, failed bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE runs SET failed = ? WHERE id = ?`, failed, runID)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("finish run %s: %w", runID, ErrRunNotFound)
	}
	return nil
}

// ListRuns returns recorded runs, newest first. target filters by exact
// target name when non-empty; limit <= 0 means no limit.
func (s *Store) ListRuns(ctx context.Context, target string, limit int) ([]Run, error) {
	query := `
		SELECT id, target, command, workdir, phase_filter, failed, seq, started_at
		FROM runs
		WHERE (? = '' OR target = ?)
		ORDER BY seq DESC, id COLLATE BINARY ASC
	`
	args := []any{target, target}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// ReadRun returns a run and its events in the order they were recorded.
func (s *Store) ReadRun(ctx context.Context, id string) (Run, []output.Event, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, target, command, workdir, phase_filter, failed, seq, started_at
		FROM runs
		WHERE id = ?
	`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, nil, fmt.Errorf("read run %s: %w", id, ErrRunNotFound)
	}
	if err != nil {
		return Run{}, nil, err
	}

	events, err := s.readEvents(ctx, id)
	if err != nil {
		return Run{}, nil, err
	}
	return run, events, nil
}

func (s *Store) readEvents(ctx context.Context, runID string) ([]output.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT type, line, error, exit_code
		FROM events
		WHERE run_id = ?
		ORDER BY seq ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	events := []output.Event{}
	for rows.Next() {
		var (
			typeName string
			line     sql.NullString
			errText  sql.NullString
			exitCode sql.NullInt64
		)
		if err := rows.Scan(&typeName, &line, &errText, &exitCode); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		typ, ok := eventTypeByName[typeName]
		if !ok {
			return nil, fmt.Errorf("scan event: unknown type %q", typeName)
		}

		ev := output.Event{Type: typ, Line: line.String, ExitCode: exitCode.Int64}
		if errText.Valid {
			ev.Err = errors.New(errText.String)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

var eventTypeByName = func() map[string]output.EventType {
	m := make(map[string]output.EventType)
	for t := output.EventBootStart; t <= output.EventCommandEnd; t++ {
		m[t.String()] = t
	}
	return m
}()

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (Run, error) {
	var (
		run       Run
		filter    string
		failed    sql.NullBool
		startedAt string
	)
	if err := row.Scan(&run.ID, &run.Target, &run.Command, &run.WorkDir, &filter, &failed, &run.Seq, &startedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Run{}, err
		}
		return Run{}, fmt.Errorf("scan run: %w", err)
	}

	phase, err := output.ParsePhase(filter)
	if err != nil {
		return Run{}, fmt.Errorf("scan run %s: %w", run.ID, err)
	}
	run.Filter = phase
	run.Finished = failed.Valid
	run.Failed = failed.Bool

	run.StartedAt, err = time.Parse(time.RFC3339Nano, startedAt)
	if err != nil {
		return Run{}, fmt.Errorf("scan run %s: started_at: %w", run.ID, err)
	}
	return run, nil
}
