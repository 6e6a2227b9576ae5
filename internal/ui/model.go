// ABOUTME: Bubbletea model for the splitcast player TUI
// ABOUTME: Defines application state and update logic
package ui

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/splitcast/splitcast-go/internal/protocol"
)

// Model represents the TUI state
type Model struct {
	// Connection
	connected  bool
	serverName string
	sessionID  string
	channel    string

	// Sync
	syncOffset  int64
	syncLatency int64
	syncSamples int

	// Track
	title    string
	duration float64
	position float64

	// Playback
	status string
	volume int

	// Session
	roster []protocol.ClientInfo
	tracks []protocol.TrackInfo

	// Last server error, cleared on the next status change
	errorText string

	// Debug
	showDebug bool

	// Dimensions
	width  int
	height int

	control *Control
}

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return nil
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
	case StatusMsg:
		m.applyStatus(msg)
	}

	return m, nil
}

// View renders the TUI
func (m Model) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	s := ""
	s += m.renderHeader()
	s += m.renderTrack()
	s += m.renderRoster()
	s += m.renderLibrary()

	if m.showDebug {
		s += m.renderDebug()
	}

	s += m.renderHelp()

	return s
}

// renderHeader renders connection and sync status
func (m Model) renderHeader() string {
	connStatus := "Disconnected"
	if m.connected {
		connStatus = fmt.Sprintf("Connected to %s", m.serverName)
	}

	syncText := "No samples yet"
	if m.syncSamples > 0 {
		syncText = fmt.Sprintf("offset %+dms, latency %dms (%d samples)",
			m.syncOffset, m.syncLatency, m.syncSamples)
	}

	return fmt.Sprintf(`┌─ Splitcast Player ───────────────────────────────────┐
│ Status:  %-43s │
│ Session: %-21s Channel: %-12s │
│ Sync:    %-43s │
├──────────────────────────────────────────────────────┤
`, connStatus, truncate(m.sessionID, 21), m.channel, syncText)
}

// renderTrack renders current track and transport state
func (m Model) renderTrack() string {
	if m.title == "" {
		return "│ No track loaded                                      │\n"
	}

	state := m.status
	if state == "" {
		state = "idle"
	}
	if m.errorText != "" {
		state = "ERROR: " + truncate(m.errorText, 35)
	}

	volumeBar := renderBar(m.volume, 100, 10)

	s := fmt.Sprintf("│ Track:  %-44s │\n", truncate(m.title, 44))
	s += fmt.Sprintf("│ State:  %-44s │\n", state)
	s += fmt.Sprintf("│ Time:   %s / %s%-30s │\n",
		formatTime(m.position), formatTime(m.duration), "")
	s += fmt.Sprintf("│ Volume: [%s] %3d%%%-28s │\n", volumeBar, m.volume, "")
	return s
}

// renderRoster renders the session roster
func (m Model) renderRoster() string {
	s := "├──────────────────────────────────────────────────────┤\n"
	if len(m.roster) == 0 {
		return s + "│ Clients: (none)                                      │\n"
	}

	s += fmt.Sprintf("│ Clients: %-43d │\n", len(m.roster))
	for _, c := range m.roster {
		readyMark := " "
		if c.Ready {
			readyMark = "✓"
		}
		line := fmt.Sprintf("%s %s (%s)", readyMark, c.ID, c.Channel)
		s += fmt.Sprintf("│   %-50s │\n", truncate(line, 50))
	}
	return s
}

// renderLibrary renders the ingested track library
func (m Model) renderLibrary() string {
	if len(m.tracks) == 0 {
		return ""
	}

	s := "├──────────────────────────────────────────────────────┤\n"
	s += fmt.Sprintf("│ Library: %-43d │\n", len(m.tracks))
	for i, tr := range m.tracks {
		if i >= 5 {
			s += fmt.Sprintf("│   … and %d more%-38s │\n", len(m.tracks)-5, "")
			break
		}
		line := fmt.Sprintf("%s  %s", formatTime(tr.Duration), tr.Title)
		s += fmt.Sprintf("│   %-50s │\n", truncate(line, 50))
	}
	return s
}

// renderDebug renders debug information
func (m Model) renderDebug() string {
	return fmt.Sprintf(`├──────────────────────────────────────────────────────┤
│ DEBUG:                                               │
│   Clock Offset:  %+dms%-31s │
│   Half RTT:      %dms%-32s │
`, m.syncOffset, "", m.syncLatency, "")
}

// renderHelp renders keyboard shortcuts
func (m Model) renderHelp() string {
	return `├──────────────────────────────────────────────────────┤
│ space:Play/Pause  ←/→:Seek  ↑/↓:Volume  d:Dbg  q:Quit│
└──────────────────────────────────────────────────────┘
`
}

// handleKey handles keyboard input
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		m.control.quit()
		return m, tea.Quit
	case " ":
		m.control.toggle()
	case "left":
		m.control.seek(-seekStepSeconds)
	case "right":
		m.control.seek(+seekStepSeconds)
	case "up":
		m.volume += 5
		if m.volume > 100 {
			m.volume = 100
		}
		m.control.setVolume(m.channel, m.volume)
	case "down":
		m.volume -= 5
		if m.volume < 0 {
			m.volume = 0
		}
		m.control.setVolume(m.channel, m.volume)
	case "d":
		m.showDebug = !m.showDebug
	}

	return m, nil
}

// applyStatus updates model from status message
func (m *Model) applyStatus(msg StatusMsg) {
	if msg.Connected != nil {
		m.connected = *msg.Connected
	}
	if msg.ServerName != "" {
		m.serverName = msg.ServerName
	}
	if msg.SessionID != "" {
		m.sessionID = msg.SessionID
	}
	if msg.Channel != "" {
		m.channel = msg.Channel
	}
	if msg.Status != "" {
		m.status = msg.Status
		m.errorText = ""
	}
	if msg.Title != "" {
		m.title = msg.Title
		m.duration = msg.Duration
	}
	if msg.HasPosition {
		m.position = msg.Position
	}
	if msg.Volume != nil {
		m.volume = *msg.Volume
	}
	if msg.SyncSamples != 0 {
		m.syncOffset = msg.SyncOffset
		m.syncLatency = msg.SyncLatency
		m.syncSamples = msg.SyncSamples
	}
	if msg.Roster != nil {
		m.roster = msg.Roster
	}
	if msg.Tracks != nil {
		m.tracks = msg.Tracks
	}
	if msg.ErrorText != "" {
		m.errorText = msg.ErrorText
	}
}

// StatusMsg updates TUI state
type StatusMsg struct {
	Connected   *bool
	ServerName  string
	SessionID   string
	Channel     string
	Status      string
	Title       string
	Duration    float64
	Position    float64
	HasPosition bool
	Volume      *int
	SyncOffset  int64
	SyncLatency int64
	SyncSamples int
	Roster      []protocol.ClientInfo
	Tracks      []protocol.TrackInfo
	ErrorText   string
}

// Utility functions
func renderBar(value, max, width int) string {
	filled := (value * width) / max
	bar := ""
	for i := 0; i < width; i++ {
		if i < filled {
			bar += "█"
		} else {
			bar += "░"
		}
	}
	return bar
}

func truncate(s string, length int) string {
	if len(s) <= length {
		return s
	}
	if length <= 3 {
		return s[:length]
	}
	return s[:length-3] + "..."
}

func formatTime(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	total := int(seconds)
	return fmt.Sprintf("%d:%02d", total/60, total%60)
}
