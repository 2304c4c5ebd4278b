// Package vmtest runs commands inside virtual machines and reports progress
// as a stream of lifecycle events.
//
// A Vmtest is bound to one working directory and one configuration at
// construction time. Every relative path in the configuration (kernel,
// image, bios, mount host paths) is resolved against that directory, so a
// Vmtest never depends on the process working directory and several can
// coexist in one process.
//
// # Running a Target
//
// RunOne boots the target's machine, runs the setup script, then runs the
// target command, emitting events as it goes:
//
//	updates := make(chan output.Event)
//	go vm.RunOne(ctx, 0, updates)
//	for ev := range updates {
//	    fmt.Println(ev)
//	}
//
// RunOne always closes the channel when it returns. A failed phase stops
// the run: later phases are not started and nothing is retried.
//
// # Machines
//
// The phases are carried out by a Machine. The default factory launches
// QEMU and drives the guest through the QEMU guest agent; tests substitute
// their own factory with WithMachineFactory.
package vmtest
