// ABOUTME: Player status machine
// ABOUTME: Rejects nonsensical UI transitions such as PLAY before READY
package player

import (
	"fmt"
	"log"
	"sync"
)

// Status is the player's UI state.
type Status string

const (
	StatusNone    Status = ""
	StatusLoading Status = "loading"
	StatusReady   Status = "ready"
	StatusPlaying Status = "playing"
	StatusPaused  Status = "paused"
)

// StatusEvent drives the machine.
type StatusEvent string

const (
	EventLoad      StatusEvent = "LOAD"
	EventAutoReady StatusEvent = "AUTO_READY"
	EventPlay      StatusEvent = "PLAY"
	EventPause     StatusEvent = "PAUSE"
	EventError     StatusEvent = "ERROR"
)

// statusTransitions is the full transition table. Absent entries are refused.
var statusTransitions = map[Status]map[StatusEvent]Status{
	StatusNone: {
		EventLoad: StatusLoading,
	},
	StatusLoading: {
		EventLoad:      StatusLoading,
		EventAutoReady: StatusReady,
		EventError:     StatusNone,
	},
	StatusReady: {
		EventLoad: StatusLoading,
		EventPlay: StatusPlaying,
	},
	StatusPlaying: {
		EventLoad:  StatusLoading,
		EventPause: StatusPaused,
	},
	StatusPaused: {
		EventLoad: StatusLoading,
		EventPlay: StatusPlaying,
	},
}

var statusLabels = map[Status]string{
	StatusNone:    "",
	StatusLoading: "Loading audio…",
	StatusReady:   "Ready",
	StatusPlaying: "Playing",
	StatusPaused:  "Paused",
}

// StatusMachine serializes status transitions and notifies one display
// observer.
type StatusMachine struct {
	mu       sync.Mutex
	state    Status
	observer func(state Status, label string)
}

// NewStatusMachine starts in the empty state.
func NewStatusMachine() *StatusMachine {
	return &StatusMachine{state: StatusNone}
}

// SetObserver installs the single display observer.
func (m *StatusMachine) SetObserver(fn func(state Status, label string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observer = fn
}

// State returns the current status.
func (m *StatusMachine) State() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Apply attempts a transition. Unknown transitions are refused and logged.
func (m *StatusMachine) Apply(event StatusEvent) (Status, error) {
	m.mu.Lock()

	next, ok := statusTransitions[m.state][event]
	if !ok {
		state := m.state
		m.mu.Unlock()
		err := fmt.Errorf("refused transition %s from %q", event, state)
		log.Printf("status: %v", err)
		return state, err
	}

	m.state = next
	observer := m.observer
	m.mu.Unlock()

	if observer != nil {
		observer(next, statusLabels[next])
	}
	return next, nil
}
