// Package output defines the lifecycle events a harness run emits.
//
// A run of one target moves through three phases: boot, setup and command.
// Each phase emits a start event, zero or more output lines, and exactly one
// end event carrying the phase outcome:
//
//	BootStart   BootEnd(err)
//	SetupStart  SetupOutput(line)...  SetupEnd(err)
//	CommandStart CommandOutput(line)... CommandEnd(exit, err)
//
// Events travel over a channel with a single producer (the harness) and a
// single consumer. The producer closes the channel when no further events
// can arrive; consumers treat the close as hangup.
//
// # Phase Kinds
//
// Phase is a payload-free tag identifying which phase an end event belongs
// to. It is used purely as a filter selector:
//
//	if p, ok := ev.Phase(); ok && p == output.PhaseCommand {
//	    ...
//	}
//
// The zero Phase, PhaseAny, means "no filter".
package output
