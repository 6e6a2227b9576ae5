// ABOUTME: Tests for the player status machine
// ABOUTME: Exercises the transition table and the display observer
package player

import "testing"

func TestStatusHappyPath(t *testing.T) {
	m := NewStatusMachine()

	steps := []struct {
		event StatusEvent
		want  Status
	}{
		{EventLoad, StatusLoading},
		{EventAutoReady, StatusReady},
		{EventPlay, StatusPlaying},
		{EventPause, StatusPaused},
		{EventPlay, StatusPlaying},
		{EventLoad, StatusLoading},
	}

	for _, step := range steps {
		got, err := m.Apply(step.event)
		if err != nil {
			t.Fatalf("Apply(%s) failed: %v", step.event, err)
		}
		if got != step.want {
			t.Errorf("Apply(%s) = %q, want %q", step.event, got, step.want)
		}
	}
}

func TestStatusRefusesPlayBeforeReady(t *testing.T) {
	m := NewStatusMachine()

	if _, err := m.Apply(EventPlay); err == nil {
		t.Error("expected PLAY from empty state to be refused")
	}
	if m.State() != StatusNone {
		t.Errorf("state changed on refused transition: %q", m.State())
	}

	m.Apply(EventLoad)
	if _, err := m.Apply(EventPlay); err == nil {
		t.Error("expected PLAY from loading to be refused")
	}
}

func TestStatusErrorResetsFromLoading(t *testing.T) {
	m := NewStatusMachine()
	m.Apply(EventLoad)

	got, err := m.Apply(EventError)
	if err != nil {
		t.Fatalf("ERROR from loading refused: %v", err)
	}
	if got != StatusNone {
		t.Errorf("ERROR from loading = %q, want empty state", got)
	}

	// ERROR is only meaningful while loading.
	m.Apply(EventLoad)
	m.Apply(EventAutoReady)
	if _, err := m.Apply(EventError); err == nil {
		t.Error("expected ERROR from ready to be refused")
	}
}

func TestStatusObserverNotified(t *testing.T) {
	m := NewStatusMachine()

	var gotState Status
	var gotLabel string
	m.SetObserver(func(state Status, label string) {
		gotState = state
		gotLabel = label
	})

	m.Apply(EventLoad)
	if gotState != StatusLoading {
		t.Errorf("observer state = %q, want loading", gotState)
	}
	if gotLabel == "" {
		t.Error("observer label empty for loading")
	}
}
