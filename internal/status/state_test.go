package status

import (
	"testing"
	"time"

	"github.com/courier-im/courier/internal/bus"
)

func TestInitialState(t *testing.T) {
	m := NewMachine(nil)
	if m.Current() != Booting {
		t.Errorf("initial state = %s, want BOOTING", m.Current())
	}
}

func TestValidTransitions(t *testing.T) {
	tests := []struct {
		walk []State
	}{
		{[]State{Offline}},
		{[]State{Offline, Syncing}},
		{[]State{Offline, Syncing, Ready}},
		{[]State{Offline, Syncing, Ready, Offline}},
		{[]State{Offline, Syncing, Degraded, Ready}},
		{[]State{Error, Booting}},
	}
	for _, tt := range tests {
		m := NewMachine(nil)
		for _, s := range tt.walk {
			if err := m.Transition(s); err != nil {
				t.Fatalf("walk %v: Transition(%s) error = %v", tt.walk, s, err)
			}
		}
		if m.Current() != tt.walk[len(tt.walk)-1] {
			t.Errorf("state = %s, want %s", m.Current(), tt.walk[len(tt.walk)-1])
		}
	}
}

func TestInvalidTransition(t *testing.T) {
	m := NewMachine(nil)
	if err := m.Transition(Ready); err == nil {
		t.Error("Transition(BOOTING -> READY) should fail")
	}
	if m.Current() != Booting {
		t.Errorf("state changed on invalid transition: %s", m.Current())
	}
}

func TestTransitionPublishesEvent(t *testing.T) {
	b := bus.New()
	m := NewMachine(b)

	ch, unsub := b.Subscribe("session.", 10)
	defer unsub()

	if err := m.Transition(Offline); err != nil {
		t.Fatal(err)
	}

	select {
	case evt := <-ch:
		change, ok := evt.Payload.(StatusChange)
		if !ok {
			t.Fatalf("payload type = %T, want StatusChange", evt.Payload)
		}
		if change.From != Booting || change.To != Offline {
			t.Errorf("change = %+v, want BOOTING->OFFLINE", change)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for status event")
	}
}
