// ABOUTME: Crash-safe persistence of session/track bindings
// ABOUTME: Single JSON document, merged with the on-disk copy on every write
package session

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/renameio/v2"

	"github.com/splitcast/splitcast-go/internal/ingest"
)

// persistedSession is the durable slice of a Session. Clients and playback
// state are ephemeral and never written.
type persistedSession struct {
	ID          string        `json:"id"`
	CreatedAt   time.Time     `json:"createdAt"`
	AudioSource *ingest.Track `json:"audioSource"`
}

type persistedState struct {
	Sessions map[string]persistedSession `json:"sessions"`
}

// persistLocked writes every session with a track to disk, merged over the
// existing document so sessions not currently in memory are preserved.
// Caller holds s.mu.
func (s *Store) persistLocked() error {
	state := s.readDisk()

	for id, sess := range s.sessions {
		if sess.Audio == nil {
			continue
		}
		state.Sessions[id] = persistedSession{
			ID:          sess.ID,
			CreatedAt:   sess.CreatedAt,
			AudioSource: sess.Audio,
		}
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal sessions: %w", err)
	}
	if err := renameio.WriteFile(s.persistPath, data, 0o644); err != nil {
		return fmt.Errorf("write sessions: %w", err)
	}
	return nil
}

// rehydrate restores persisted sessions at process start. Playback comes back
// paused at zero.
func (s *Store) rehydrate() {
	state := s.readDisk()
	if len(state.Sessions) == 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for id, ps := range state.Sessions {
		if ps.AudioSource == nil {
			continue
		}
		s.sessions[id] = &Session{
			ID:        id,
			CreatedAt: ps.CreatedAt,
			Audio:     ps.AudioSource,
			Playback:  PlaybackState{IsPlaying: false, CurrentTime: 0, LastSyncAt: s.now()},
			clients:   make(map[string]*Client),
		}
	}
	s.log.Info().Int("sessions", len(state.Sessions)).Msg("rehydrated persisted sessions")
}

func (s *Store) readDisk() persistedState {
	state := persistedState{Sessions: make(map[string]persistedSession)}

	data, err := os.ReadFile(s.persistPath)
	if err != nil {
		if !os.IsNotExist(err) {
			s.log.Warn().Err(err).Msg("read persisted sessions")
		}
		return state
	}
	if err := json.Unmarshal(data, &state); err != nil {
		s.log.Warn().Err(err).Msg("parse persisted sessions")
		state.Sessions = make(map[string]persistedSession)
	}
	if state.Sessions == nil {
		state.Sessions = make(map[string]persistedSession)
	}
	return state
}
