package output

import (
	"fmt"
	"strconv"
	"strings"
)

// EventType distinguishes between event kinds.
type EventType int

const (
	// EventBootStart is emitted before the machine is booted.
	EventBootStart EventType = iota + 1
	// EventBootEnd reports the boot outcome.
	EventBootEnd
	// EventSetupStart is emitted before the setup script runs.
	EventSetupStart
	// EventSetupOutput carries one line of setup script output.
	EventSetupOutput
	// EventSetupEnd reports the setup outcome.
	EventSetupEnd
	// EventCommandStart is emitted before the target command runs.
	EventCommandStart
	// EventCommandOutput carries one line of command output.
	EventCommandOutput
	// EventCommandEnd reports the command outcome and exit status.
	EventCommandEnd
)

var eventTypeNames = map[EventType]string{
	EventBootStart:     "boot_start",
	EventBootEnd:       "boot_end",
	EventSetupStart:    "setup_start",
	EventSetupOutput:   "setup_output",
	EventSetupEnd:      "setup_end",
	EventCommandStart:  "command_start",
	EventCommandOutput: "command_output",
	EventCommandEnd:    "command_end",
}

// String returns the snake_case name of the event type.
func (t EventType) String() string {
	if name, ok := eventTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("EventType(%d)", int(t))
}

// Phase identifies which execution phase an end event belongs to.
// It carries no outcome data.
type Phase int

const (
	// PhaseAny matches every phase. It is the zero value.
	PhaseAny Phase = iota
	// PhaseBoot is the machine boot phase.
	PhaseBoot
	// PhaseSetup is the setup script phase.
	PhaseSetup
	// PhaseCommand is the target command phase.
	PhaseCommand
)

// String returns the lower-case phase name.
func (p Phase) String() string {
	switch p {
	case PhaseAny:
		return "any"
	case PhaseBoot:
		return "boot"
	case PhaseSetup:
		return "setup"
	case PhaseCommand:
		return "command"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

// ParsePhase converts a phase name (boot, setup, command, any) to a Phase.
// Matching is case-insensitive; the empty string yields PhaseAny.
func ParsePhase(s string) (Phase, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "any":
		return PhaseAny, nil
	case "boot":
		return PhaseBoot, nil
	case "setup":
		return PhaseSetup, nil
	case "command":
		return PhaseCommand, nil
	default:
		return PhaseAny, fmt.Errorf("unknown phase %q: must be one of boot, setup, command, any", s)
	}
}

// Matches reports whether p selects the given phase. PhaseAny selects all.
func (p Phase) Matches(other Phase) bool {
	return p == PhaseAny || p == other
}

// Event is one lifecycle report from a harness run.
//
// Only the fields relevant to Type are meaningful:
//   - Line for the *Output types
//   - Err for the *End types (nil means the phase succeeded)
//   - ExitCode for EventCommandEnd when Err is nil
type Event struct {
	Type     EventType
	Line     string
	Err      error
	ExitCode int64
}

// BootStart returns a boot start event.
func BootStart() Event { return Event{Type: EventBootStart} }

// BootEnd returns a boot completion event. A nil err means success.
func BootEnd(err error) Event { return Event{Type: EventBootEnd, Err: err} }

// SetupStart returns a setup start event.
func SetupStart() Event { return Event{Type: EventSetupStart} }

// SetupOutput returns a setup output line event.
func SetupOutput(line string) Event { return Event{Type: EventSetupOutput, Line: line} }

// SetupEnd returns a setup completion event. A nil err means success.
func SetupEnd(err error) Event { return Event{Type: EventSetupEnd, Err: err} }

// CommandStart returns a command start event.
func CommandStart() Event { return Event{Type: EventCommandStart} }

// CommandOutput returns a command output line event.
func CommandOutput(line string) Event { return Event{Type: EventCommandOutput, Line: line} }

// CommandEnd returns a command completion event. When err is non-nil the
// exit code is not meaningful and is discarded.
func CommandEnd(exitCode int64, err error) Event {
	if err != nil {
		return Event{Type: EventCommandEnd, Err: err}
	}
	return Event{Type: EventCommandEnd, ExitCode: exitCode}
}

// Phase returns the phase an end event completes. ok is false for start and
// output events.
func (e Event) Phase() (p Phase, ok bool) {
	switch e.Type {
	case EventBootEnd:
		return PhaseBoot, true
	case EventSetupEnd:
		return PhaseSetup, true
	case EventCommandEnd:
		return PhaseCommand, true
	default:
		return PhaseAny, false
	}
}

// IsCompletion reports whether e is a phase completion event.
func (e Event) IsCompletion() bool {
	_, ok := e.Phase()
	return ok
}

// Failed reports whether e is a completion event describing a failure:
// an error outcome for any phase, or a non-zero exit status for the command.
func (e Event) Failed() bool {
	if !e.IsCompletion() {
		return false
	}
	if e.Err != nil {
		return true
	}
	return e.Type == EventCommandEnd && e.ExitCode != 0
}

// String renders a stable single-line form, e.g.
//
//	boot_end ok
//	setup_end err="mount failed"
//	command_end exit=7
//	command_output "hello"
func (e Event) String() string {
	name := e.Type.String()
	switch e.Type {
	case EventSetupOutput, EventCommandOutput:
		return name + " " + strconv.Quote(e.Line)
	case EventBootEnd, EventSetupEnd, EventCommandEnd:
		if e.Err != nil {
			return name + " err=" + strconv.Quote(e.Err.Error())
		}
		if e.Type == EventCommandEnd {
			return fmt.Sprintf("%s exit=%d", name, e.ExitCode)
		}
		return name + " ok"
	default:
		return name
	}
}
