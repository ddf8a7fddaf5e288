package task

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestState_String(t *testing.T) {
	tests := []struct {
		state    State
		expected string
	}{
		{StateBlocked, "blocked"},
		{StateOpen, "open"},
		{StateClaimed, "claimed"},
		{StateClosed, "closed"},
		{StateFailure, "failure"},
		{StateDead, "dead"},
		{State(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.state.String())
		})
	}
}

func TestParseState(t *testing.T) {
	tests := []struct {
		input  string
		want   State
		wantOK bool
	}{
		{"blocked", StateBlocked, true},
		{"open", StateOpen, true},
		{"claimed", StateClaimed, true},
		{"closed", StateClosed, true},
		{"failure", StateFailure, true},
		{"dead", StateDead, true},
		{"bogus", StateBlocked, false},
		{"", StateBlocked, false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, ok := ParseState(tt.input)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantOK, ok)
		})
	}
}

func TestState_IsTerminal(t *testing.T) {
	terminal := []State{StateClosed, StateDead}
	nonTerminal := []State{StateBlocked, StateOpen, StateClaimed, StateFailure}

	for _, s := range terminal {
		assert.True(t, s.IsTerminal(), "expected %s to be terminal", s)
	}
	for _, s := range nonTerminal {
		assert.False(t, s.IsTerminal(), "expected %s to not be terminal", s)
	}
}

func TestState_CanTransitionTo(t *testing.T) {
	tests := []struct {
		from    State
		to      State
		allowed bool
	}{
		{StateBlocked, StateOpen, true},
		{StateBlocked, StateClaimed, false},
		{StateOpen, StateClaimed, true},
		{StateOpen, StateClosed, false},
		{StateClaimed, StateClosed, true},
		{StateClaimed, StateFailure, true},
		{StateClaimed, StateBlocked, false},
		{StateFailure, StateOpen, true},
		{StateFailure, StateDead, true},
		{StateFailure, StateClosed, false},
		{StateClosed, StateOpen, false},
		{StateDead, StateOpen, false},
	}

	for _, tt := range tests {
		t.Run(tt.from.String()+"->"+tt.to.String(), func(t *testing.T) {
			assert.Equal(t, tt.allowed, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestStateMachine_Claim(t *testing.T) {
	tk := New(1, 1, "do the thing", nil)
	tk.State = StateOpen
	sm := NewStateMachine(tk)

	require.NoError(t, sm.Claim("worker-1"))
	assert.Equal(t, StateClaimed, tk.State)
	assert.Equal(t, "worker-1", tk.WorkerID)
}

func TestStateMachine_Claim_InvalidFromBlocked(t *testing.T) {
	tk := New(1, 1, "do the thing", nil)
	sm := NewStateMachine(tk)

	err := sm.Claim("worker-1")
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, StateBlocked, tk.State)
}

func TestStateMachine_Close(t *testing.T) {
	tk := New(1, 1, "do the thing", nil)
	tk.State = StateClaimed
	sm := NewStateMachine(tk)

	require.NoError(t, sm.Close())
	assert.Equal(t, StateClosed, tk.State)
}

func TestStateMachine_Fail(t *testing.T) {
	tk := New(1, 1, "do the thing", nil)
	tk.State = StateClaimed
	sm := NewStateMachine(tk)

	require.NoError(t, sm.Fail("exit code 1"))
	assert.Equal(t, StateFailure, tk.State)
	assert.Equal(t, "exit code 1", tk.LastFailure)
}

func TestStateMachine_Reopen(t *testing.T) {
	tk := New(1, 1, "original prompt", nil)
	tk.State = StateFailure
	tk.WorkerID = "worker-1"
	sm := NewStateMachine(tk)

	require.NoError(t, sm.Reopen("retry with more context"))
	assert.Equal(t, StateOpen, tk.State)
	assert.Equal(t, "retry with more context", tk.Prompt)
	assert.Empty(t, tk.WorkerID)
}

func TestStateMachine_Unlock(t *testing.T) {
	tk := New(1, 1, "do the thing", []int{2})
	sm := NewStateMachine(tk)

	require.NoError(t, sm.Unlock())
	assert.Equal(t, StateOpen, tk.State)
}

func TestStateMachine_DeadLetter(t *testing.T) {
	tk := New(1, 1, "do the thing", nil)
	tk.State = StateFailure
	sm := NewStateMachine(tk)

	require.NoError(t, sm.DeadLetter())
	assert.Equal(t, StateDead, tk.State)
}

func TestStateMachine_DeadLetter_InvalidFromOpen(t *testing.T) {
	tk := New(1, 1, "do the thing", nil)
	tk.State = StateOpen
	sm := NewStateMachine(tk)

	err := sm.DeadLetter()
	assert.ErrorIs(t, err, ErrInvalidTransition)
}
