// ABOUTME: In-memory session store: rosters, channel assignment, playback state
// ABOUTME: All session and client mutation happens through store methods
package session

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/splitcast/splitcast-go/internal/ingest"
)

// Channel roles. Stereo is the full-mix role: never assigned by the default
// policy but valid everywhere downstream.
const (
	ChannelLeft   = "left"
	ChannelRight  = "right"
	ChannelStereo = "stereo"
)

// idleSweepDelay is how long an empty, trackless session survives after its
// last client leaves.
const idleSweepDelay = 60 * time.Second

// Conn is the message channel back to one client.
type Conn interface {
	Send(msg interface{}) error
}

// PlaybackState is the session's shared transport position.
type PlaybackState struct {
	IsPlaying   bool      `json:"isPlaying"`
	CurrentTime float64   `json:"currentTime"`
	LastSyncAt  time.Time `json:"lastSyncAt"`
}

// PlaybackPatch is a partial update to PlaybackState. Nil fields are left
// untouched; LastSyncAt is always bumped.
type PlaybackPatch struct {
	IsPlaying   *bool
	CurrentTime *float64
}

// Client is one connected device in a session.
type Client struct {
	ID        string
	Channel   string
	LatencyMs float64
	Ready     bool
	conn      Conn
}

// Session is a named room multiplexing one audio stream across clients.
type Session struct {
	ID        string
	CreatedAt time.Time
	Audio     *ingest.Track
	Playback  PlaybackState
	clients   map[string]*Client
}

// RosterEntry is a read-only view of one client.
type RosterEntry struct {
	ID      string
	Channel string
	Ready   bool
}

// Info is the read-only session summary served over HTTP.
type Info struct {
	ID          string        `json:"id"`
	HasAudio    bool          `json:"hasAudio"`
	ClientCount int           `json:"clientCount"`
	Playback    PlaybackState `json:"playbackState"`
}

// Store owns every Session and Client record.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*Session

	persistPath string
	sweepDelay  time.Duration
	log         zerolog.Logger
	now         func() time.Time
}

// NewStore creates a store that persists session/track bindings to
// persistPath. Previously persisted sessions are rehydrated immediately.
func NewStore(persistPath string, log zerolog.Logger) *Store {
	s := &Store{
		sessions:    make(map[string]*Session),
		persistPath: persistPath,
		sweepDelay:  idleSweepDelay,
		log:         log,
		now:         time.Now,
	}
	s.rehydrate()
	return s
}

// Attach adds a connection to sessionID, creating the session if absent and
// preserving the supplied id. It returns the new client's id and channel
// role, plus the bound track if the session already has one.
func (s *Store) Attach(sessionID string, conn Conn) (clientID, channel string, track *ingest.Track) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		sess = &Session{
			ID:        sessionID,
			CreatedAt: s.now(),
			Playback:  PlaybackState{LastSyncAt: s.now()},
			clients:   make(map[string]*Client),
		}
		s.sessions[sessionID] = sess
	}

	client := &Client{
		ID:      newClientID(),
		Channel: assignChannel(sess),
		conn:    conn,
	}
	sess.clients[client.ID] = client

	s.log.Info().
		Str("session", sessionID).
		Str("client", client.ID).
		Str("channel", client.Channel).
		Int("roster", len(sess.clients)).
		Msg("client attached")

	return client.ID, client.Channel, sess.Audio
}

// Detach removes a client and schedules the idle sweep: the session is
// dropped after the delay iff it is still empty and still trackless.
func (s *Store) Detach(sessionID, clientID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return
	}
	delete(sess.clients, clientID)
	s.log.Info().Str("session", sessionID).Str("client", clientID).Msg("client detached")

	if len(sess.clients) > 0 {
		return
	}
	time.AfterFunc(s.sweepDelay, func() { s.sweep(sessionID) })
}

func (s *Store) sweep(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok || len(sess.clients) > 0 || sess.Audio != nil {
		return
	}
	delete(s.sessions, sessionID)
	s.log.Info().Str("session", sessionID).Msg("idle session dropped")
}

// SetTrack binds a track to the session, resets playback and every client's
// readiness, and persists the binding.
func (s *Store) SetTrack(sessionID string, track ingest.Track) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return
	}

	sess.Audio = &track
	sess.Playback = PlaybackState{IsPlaying: false, CurrentTime: 0, LastSyncAt: s.now()}
	for _, c := range sess.clients {
		c.Ready = false
	}

	if err := s.persistLocked(); err != nil {
		// In-memory state stays authoritative for this process lifetime.
		s.log.Error().Err(err).Str("session", sessionID).Msg("persist failed")
	}
}

// Track returns the session's bound track, if any.
func (s *Store) Track(sessionID string) *ingest.Track {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess, ok := s.sessions[sessionID]; ok {
		return sess.Audio
	}
	return nil
}

// UpdatePlayback applies a partial playback update. Ephemeral by design: the
// result is never persisted.
func (s *Store) UpdatePlayback(sessionID string, patch PlaybackPatch) PlaybackState {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return PlaybackState{}
	}
	if patch.IsPlaying != nil {
		sess.Playback.IsPlaying = *patch.IsPlaying
	}
	if patch.CurrentTime != nil {
		sess.Playback.CurrentTime = *patch.CurrentTime
	}
	sess.Playback.LastSyncAt = s.now()
	return sess.Playback
}

// Playback returns the current playback state.
func (s *Store) Playback(sessionID string) PlaybackState {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess, ok := s.sessions[sessionID]; ok {
		return sess.Playback
	}
	return PlaybackState{}
}

// SetReady marks a client as having loaded its channel artifact.
func (s *Store) SetReady(sessionID, clientID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c := s.client(sessionID, clientID); c != nil {
		c.Ready = true
	}
}

// SetLatency records a client's one-way latency estimate in milliseconds.
func (s *Store) SetLatency(sessionID, clientID string, latencyMs float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c := s.client(sessionID, clientID); c != nil {
		c.LatencyMs = latencyMs
	}
}

// Latency returns a client's recorded latency estimate.
func (s *Store) Latency(sessionID, clientID string) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c := s.client(sessionID, clientID); c != nil {
		return c.LatencyMs
	}
	return 0
}

// AllReady reports whether every current client has sent ready. An empty
// roster is never ready.
func (s *Store) AllReady(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok || len(sess.clients) == 0 {
		return false
	}
	for _, c := range sess.clients {
		if !c.Ready {
			return false
		}
	}
	return true
}

// Roster returns a snapshot of the session's clients.
func (s *Store) Roster(sessionID string) []RosterEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil
	}
	roster := make([]RosterEntry, 0, len(sess.clients))
	for _, c := range sess.clients {
		roster = append(roster, RosterEntry{ID: c.ID, Channel: c.Channel, Ready: c.Ready})
	}
	return roster
}

// Channel returns a client's assigned channel role.
func (s *Store) Channel(sessionID, clientID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c := s.client(sessionID, clientID); c != nil {
		return c.Channel
	}
	return ""
}

// Broadcast sends msg to every client in the session except excludeID.
// Best-effort: a write error to one peer never aborts the fan-out.
func (s *Store) Broadcast(sessionID string, msg interface{}, excludeID string) {
	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		s.mu.Unlock()
		return
	}
	conns := make(map[string]Conn, len(sess.clients))
	for id, c := range sess.clients {
		if id == excludeID {
			continue
		}
		conns[id] = c.conn
	}
	s.mu.Unlock()

	for id, conn := range conns {
		if err := conn.Send(msg); err != nil {
			s.log.Warn().Err(err).Str("session", sessionID).Str("client", id).Msg("broadcast write failed")
		}
	}
}

// Send delivers msg to a single client.
func (s *Store) Send(sessionID, clientID string, msg interface{}) error {
	s.mu.Lock()
	c := s.client(sessionID, clientID)
	s.mu.Unlock()

	if c == nil {
		return nil
	}
	return c.conn.Send(msg)
}

// SessionInfo returns the HTTP summary for a session.
func (s *Store) SessionInfo(sessionID string) (Info, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return Info{}, false
	}
	return Info{
		ID:          sess.ID,
		HasAudio:    sess.Audio != nil,
		ClientCount: len(sess.clients),
		Playback:    sess.Playback,
	}, true
}

// client must be called with the lock held.
func (s *Store) client(sessionID, clientID string) *Client {
	if sess, ok := s.sessions[sessionID]; ok {
		return sess.clients[clientID]
	}
	return nil
}

// assignChannel implements the default policy: first client left, second
// right, then the less-populated side with ties going left.
func assignChannel(sess *Session) string {
	var left, right int
	for _, c := range sess.clients {
		switch c.Channel {
		case ChannelLeft:
			left++
		case ChannelRight:
			right++
		}
	}
	switch {
	case left == 0 && right == 0:
		return ChannelLeft
	case right < left:
		return ChannelRight
	default:
		return ChannelLeft
	}
}

func newClientID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
}
