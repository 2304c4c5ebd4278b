// Package store keeps a SQLite history of harness runs.
//
// Each run is one row in runs, keyed by its session ID, plus the ordered
// events it produced. Output lines are stored NFC-normalized so that the
// same guest output always compares equal, whatever normalization form
// the guest emitted.
//
// # Ordering
//
// Runs and events are ordered by a logical seq number handed out by a
// Clock, never by timestamps. started_at is recorded for display only.
// Queries always sort on seq, so listings are deterministic across
// reopens and in tests that use testutil.DeterministicClock.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
