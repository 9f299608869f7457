package conn

import "testing"

func TestInitialState(t *testing.T) {
	m := NewMachine(nil)
	if m.Current() != Disconnected {
		t.Errorf("initial state = %s, want DISCONNECTED", m.Current())
	}
}

func TestValidTransitions(t *testing.T) {
	tests := []struct {
		from State
		to   State
	}{
		{Disconnected, Connecting},
		{Disconnected, Failed},
		{Connecting, Connected},
		{Connecting, Failed},
		{Connected, Connecting},
		{Connected, Disconnected},
		{Failed, Connecting},
		{Failed, Disconnected},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			m := NewMachine(nil)
			m.current = tt.from
			if err := m.Transition(tt.to); err != nil {
				t.Errorf("transition rejected: %v", err)
			}
		})
	}
}

func TestInvalidTransitions(t *testing.T) {
	tests := []struct {
		from State
		to   State
	}{
		{Disconnected, Connected},
		{Failed, Connected},
	}
	for _, tt := range tests {
		m := NewMachine(nil)
		m.current = tt.from
		if err := m.Transition(tt.to); err == nil {
			t.Errorf("transition %s -> %s allowed", tt.from, tt.to)
		}
	}
}

func TestSameStateNoop(t *testing.T) {
	m := NewMachine(nil)
	if err := m.Transition(Disconnected); err != nil {
		t.Errorf("same-state transition errored: %v", err)
	}
}
