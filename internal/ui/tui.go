// ABOUTME: TUI initialization and control
// ABOUTME: Wraps the bubbletea program and the key command channels
package ui

import (
	"sync"

	tea "github.com/charmbracelet/bubbletea"
)

// seekStepSeconds is how far one arrow keypress moves playback.
const seekStepSeconds = 10.0

// VolumeMsg carries a requested volume for a channel role, 0-100
type VolumeMsg struct {
	Channel string
	Volume  int
}

// Control carries key commands from the TUI to the player
type Control struct {
	Toggle  chan struct{} // play/pause
	Seeks   chan float64  // relative seconds
	Volumes chan VolumeMsg
	Quit    chan struct{} // closed on quit so every listener sees it

	quitOnce sync.Once
}

// NewControl creates the command channels
func NewControl() *Control {
	return &Control{
		Toggle:  make(chan struct{}, 10),
		Seeks:   make(chan float64, 10),
		Volumes: make(chan VolumeMsg, 10),
		Quit:    make(chan struct{}),
	}
}

// Non-blocking pushes; a stalled consumer drops keypresses instead of
// freezing the UI.

func (c *Control) toggle() {
	select {
	case c.Toggle <- struct{}{}:
	default:
	}
}

func (c *Control) seek(delta float64) {
	select {
	case c.Seeks <- delta:
	default:
	}
}

func (c *Control) setVolume(channel string, volume int) {
	select {
	case c.Volumes <- VolumeMsg{Channel: channel, Volume: volume}:
	default:
	}
}

func (c *Control) quit() {
	c.quitOnce.Do(func() { close(c.Quit) })
}

// NewModel creates a new TUI model
func NewModel(control *Control) Model {
	return Model{
		volume:  100,
		control: control,
	}
}

// Run starts the TUI
func Run(control *Control) (*tea.Program, error) {
	p := tea.NewProgram(NewModel(control), tea.WithAltScreen())
	return p, nil
}
