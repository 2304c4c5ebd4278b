package output

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvent_PhaseOnlyForCompletions(t *testing.T) {
	tests := []struct {
		name  string
		event Event
		phase Phase
		ok    bool
	}{
		{"boot start", BootStart(), PhaseAny, false},
		{"boot end", BootEnd(nil), PhaseBoot, true},
		{"setup start", SetupStart(), PhaseAny, false},
		{"setup output", SetupOutput("x"), PhaseAny, false},
		{"setup end", SetupEnd(errors.New("boom")), PhaseSetup, true},
		{"command start", CommandStart(), PhaseAny, false},
		{"command output", CommandOutput("x"), PhaseAny, false},
		{"command end", CommandEnd(0, nil), PhaseCommand, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, ok := tt.event.Phase()
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.phase, p)
			assert.Equal(t, tt.ok, tt.event.IsCompletion())
		})
	}
}

func TestEvent_Failed(t *testing.T) {
	boom := errors.New("boom")

	assert.False(t, BootEnd(nil).Failed())
	assert.True(t, BootEnd(boom).Failed())
	assert.False(t, SetupEnd(nil).Failed())
	assert.True(t, SetupEnd(boom).Failed())
	assert.False(t, CommandEnd(0, nil).Failed())
	assert.True(t, CommandEnd(7, nil).Failed())
	assert.True(t, CommandEnd(0, boom).Failed())

	// Informational events never fail, whatever they carry.
	assert.False(t, Event{Type: EventCommandOutput, Err: boom}.Failed())
	assert.False(t, Event{Type: EventBootStart, ExitCode: 3}.Failed())
}

func TestCommandEnd_ErrorDiscardsExitCode(t *testing.T) {
	ev := CommandEnd(42, errors.New("agent gone"))
	assert.Equal(t, int64(0), ev.ExitCode)
	assert.Error(t, ev.Err)
}

func TestEvent_String(t *testing.T) {
	assert.Equal(t, "boot_start", BootStart().String())
	assert.Equal(t, "boot_end ok", BootEnd(nil).String())
	assert.Equal(t, `setup_end err="mount failed"`, SetupEnd(errors.New("mount failed")).String())
	assert.Equal(t, `setup_output "mounted"`, SetupOutput("mounted").String())
	assert.Equal(t, "command_end exit=7", CommandEnd(7, nil).String())
	assert.Equal(t, `command_output "a \"b\""`, CommandOutput(`a "b"`).String())
	assert.Equal(t, "EventType(99)", EventType(99).String())
}

func TestParsePhase(t *testing.T) {
	for in, want := range map[string]Phase{
		"":         PhaseAny,
		"any":      PhaseAny,
		"boot":     PhaseBoot,
		"Setup":    PhaseSetup,
		" command ": PhaseCommand,
	} {
		got, err := ParsePhase(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParsePhase("teardown")
	assert.ErrorContains(t, err, "unknown phase")
}

func TestPhase_Matches(t *testing.T) {
	assert.True(t, PhaseAny.Matches(PhaseBoot))
	assert.True(t, PhaseAny.Matches(PhaseCommand))
	assert.True(t, PhaseBoot.Matches(PhaseBoot))
	assert.False(t, PhaseBoot.Matches(PhaseCommand))
	assert.False(t, PhaseSetup.Matches(PhaseBoot))
}

func TestPhase_String(t *testing.T) {
	assert.Equal(t, "any", PhaseAny.String())
	assert.Equal(t, "boot", PhaseBoot.String())
	assert.Equal(t, "setup", PhaseSetup.String())
	assert.Equal(t, "command", PhaseCommand.String())
}
