// Package harness is the test-side layer over vmtest: it stages fixtures in
// an isolated working directory, builds a Vmtest there, and turns the event
// streams of runs into pass/fail decisions.
//
// # Bootstrapping
//
// Setup creates a fresh temporary directory, copies the named fixtures from
// testdata/fixtures into it and constructs a Vmtest bound to it:
//
//	vm, env := harness.Setup(t, cfg, "vmtest.toml", "run.sh")
//	_ = env.Dir()
//
// The directory lives until the test ends. Nothing changes the process
// working directory, so tests that bootstrap may run in parallel.
//
// # Classifying Streams
//
// HasFailure reads a stream until the producer closes it and reports
// whether any phase failed. A phase fails when its completion event carries
// an error; the command phase also fails on a non-zero exit status. Passing
// a Phase restricts the check to completions of that phase:
//
//	harness.HasFailure(vm.Start(ctx, 0), output.PhaseBoot)
//
// The stream is always drained, even after a failure has been seen, so the
// producer never blocks on a consumer that went away. HasFailure has no
// timeout; HasFailureContext bounds the wait with a context.
//
// # Assertions
//
// AssertFailure and AssertNoFailure report through testing.TB with the full
// observed event trace. AssertGolden compares a trace with a golden file in
// testdata/golden; regenerate with:
//
//	go test ./internal/harness -update
package harness
