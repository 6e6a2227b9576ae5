// ABOUTME: Command handlers for every client message type
// ABOUTME: Scheduled play fan-out applies per-client latency compensation
package server

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/splitcast/splitcast-go/internal/ingest"
	"github.com/splitcast/splitcast-go/internal/protocol"
	"github.com/splitcast/splitcast-go/internal/session"
)

// dispatch routes one inbound frame. Unknown types are ignored.
func (s *Server) dispatch(c *conn, frame []byte) {
	msgType, err := protocol.PeekType(frame)
	if err != nil {
		s.sendError(c, "invalid message")
		return
	}

	switch msgType {
	case protocol.TypeJoinSession:
		s.handleJoin(c, frame)
	case protocol.TypePing:
		s.handlePing(c, frame)
	case protocol.TypeSubmitLink:
		s.handleSubmitLink(c, frame)
	case protocol.TypeLoadTrack:
		s.handleLoadTrack(c, frame)
	case protocol.TypeReady:
		s.handleReady(c)
	case protocol.TypePlayRequest:
		s.handlePlayRequest(c)
	case protocol.TypePauseRequest:
		s.handlePauseRequest(c)
	case protocol.TypeSeekRequest:
		s.handleSeekRequest(c, frame)
	case protocol.TypeVolumeRequest:
		s.handleVolumeRequest(c, frame)
	default:
		s.log.Debug().Str("type", msgType).Msg("ignoring unknown message type")
	}
}

func (s *Server) handleJoin(c *conn, frame []byte) {
	var msg protocol.JoinSession
	if err := json.Unmarshal(frame, &msg); err != nil || msg.SessionID == "" {
		s.sendError(c, "invalid message")
		return
	}
	if c.sessionID != "" {
		s.log.Warn().Str("client", c.clientID).Msg("duplicate join ignored")
		return
	}

	clientID, channel, track := s.store.Attach(msg.SessionID, c)
	c.sessionID = msg.SessionID
	c.clientID = clientID

	_ = c.Send(protocol.SessionJoined{
		Type:      protocol.TypeSessionJoined,
		SessionID: msg.SessionID,
		ClientID:  clientID,
		Channel:   channel,
	})

	// Joiners to a session with a bound track can load it right away. No
	// play catch-up: if music is running they stay silent until the next
	// play or seek broadcast.
	if track != nil {
		_ = c.Send(audioReadyFor(*track, channel))
	}

	s.sendTrackList(c)
	s.broadcastClientList(msg.SessionID)
}

func (s *Server) handlePing(c *conn, frame []byte) {
	var msg protocol.Ping
	if err := json.Unmarshal(frame, &msg); err != nil {
		s.sendError(c, "invalid message")
		return
	}

	serverNow := time.Now().UnixMilli()
	if c.sessionID != "" {
		latency := float64(serverNow - msg.ClientTimestamp)
		if latency < 0 {
			latency = 0
		}
		s.store.SetLatency(c.sessionID, c.clientID, latency)
	}

	_ = c.Send(protocol.Pong{
		Type:            protocol.TypePong,
		ServerTimestamp: time.Now().UnixMilli(),
		ClientTimestamp: msg.ClientTimestamp,
	})
}

func (s *Server) handleSubmitLink(c *conn, frame []byte) {
	var msg protocol.SubmitLink
	if err := json.Unmarshal(frame, &msg); err != nil || msg.URL == "" {
		s.sendError(c, "invalid message")
		return
	}
	if !s.requireSession(c) {
		return
	}
	if err := ingest.ValidateURL(msg.URL); err != nil {
		s.sendError(c, errorMessage(err))
		return
	}
	if s.pipeline.InProgress(c.sessionID) {
		s.sendError(c, errorMessage(ingest.ErrBusy))
		return
	}

	s.store.Broadcast(c.sessionID, protocol.AudioLoading{
		Type: protocol.TypeAudioLoading,
		URL:  msg.URL,
	}, "")

	sessionID, clientID := c.sessionID, c.clientID
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		track, err := s.pipeline.Ingest(s.ctx, sessionID, msg.URL)
		if err != nil {
			s.metrics.Ingestions.WithLabelValues("failed").Inc()
			s.log.Warn().Err(err).Str("session", sessionID).Str("url", msg.URL).Msg("ingestion failed")
			_ = s.store.Send(sessionID, clientID, protocol.Error{
				Type:    protocol.TypeError,
				Message: errorMessage(err),
			})
			return
		}

		s.metrics.Ingestions.WithLabelValues("ready").Inc()
		s.store.SetTrack(sessionID, track)
		s.fanoutAudioReady(sessionID, track)
	}()
}

func (s *Server) handleLoadTrack(c *conn, frame []byte) {
	var msg protocol.LoadTrack
	if err := json.Unmarshal(frame, &msg); err != nil || msg.TrackID == "" {
		s.sendError(c, "invalid message")
		return
	}
	if !s.requireSession(c) {
		return
	}

	track, err := s.pipeline.Lookup(msg.TrackID)
	if err != nil {
		s.sendError(c, errorMessage(err))
		return
	}

	s.store.SetTrack(c.sessionID, track)
	s.fanoutAudioReady(c.sessionID, track)
}

func (s *Server) handleReady(c *conn) {
	if !s.requireSession(c) {
		return
	}
	s.store.SetReady(c.sessionID, c.clientID)
	s.broadcastClientList(c.sessionID)
}

// handlePlayRequest produces the scheduled-start broadcast: one shared target
// instant, shifted per client by half its recorded latency so every device
// starts at the same wall-clock moment.
func (s *Server) handlePlayRequest(c *conn) {
	if !s.requireSession(c) {
		return
	}

	serverNow := time.Now().UnixMilli()
	scheduledAt := serverNow + playLeadTime.Milliseconds()
	pb := s.store.Playback(c.sessionID)

	for _, entry := range s.store.Roster(c.sessionID) {
		latency := s.store.Latency(c.sessionID, entry.ID)
		_ = s.store.Send(c.sessionID, entry.ID, protocol.Play{
			Type:            protocol.TypePlay,
			StartTime:       pb.CurrentTime,
			ServerTimestamp: scheduledAt - int64(latency/2),
		})
	}

	playing := true
	s.store.UpdatePlayback(c.sessionID, session.PlaybackPatch{IsPlaying: &playing})
	s.metrics.Broadcasts.WithLabelValues(protocol.TypePlay).Inc()
}

// handlePauseRequest broadcasts without the scheduling lead: pauses are state
// corrections, not musical events.
func (s *Server) handlePauseRequest(c *conn) {
	if !s.requireSession(c) {
		return
	}

	serverNow := time.Now().UnixMilli()
	pb := s.store.Playback(c.sessionID)
	position := pb.CurrentTime
	if pb.IsPlaying {
		position += time.Since(pb.LastSyncAt).Seconds()
	}

	paused := false
	s.store.UpdatePlayback(c.sessionID, session.PlaybackPatch{
		IsPlaying:   &paused,
		CurrentTime: &position,
	})
	s.store.Broadcast(c.sessionID, protocol.Pause{
		Type:            protocol.TypePause,
		CurrentTime:     position,
		ServerTimestamp: serverNow,
	}, "")
	s.metrics.Broadcasts.WithLabelValues(protocol.TypePause).Inc()
}

func (s *Server) handleSeekRequest(c *conn, frame []byte) {
	var msg protocol.SeekRequest
	if err := json.Unmarshal(frame, &msg); err != nil {
		s.sendError(c, "invalid message")
		return
	}
	if !s.requireSession(c) {
		return
	}

	target := msg.TargetTime
	if target < 0 {
		target = 0
	}
	if track := s.store.Track(c.sessionID); track != nil && track.Duration > 0 && target > track.Duration {
		target = track.Duration
	}

	s.store.UpdatePlayback(c.sessionID, session.PlaybackPatch{CurrentTime: &target})
	s.store.Broadcast(c.sessionID, protocol.Seek{
		Type:            protocol.TypeSeek,
		TargetTime:      target,
		ServerTimestamp: time.Now().UnixMilli(),
	}, "")
	s.metrics.Broadcasts.WithLabelValues(protocol.TypeSeek).Inc()
}

// handleVolumeRequest rebroadcasts verbatim to all peers including the
// requester, making volume a shared per-channel session setting.
func (s *Server) handleVolumeRequest(c *conn, frame []byte) {
	var msg protocol.VolumeRequest
	if err := json.Unmarshal(frame, &msg); err != nil || msg.Channel == "" {
		s.sendError(c, "invalid message")
		return
	}
	if !s.requireSession(c) {
		return
	}

	volume := msg.Volume
	if volume < 0 {
		volume = 0
	}
	if volume > 100 {
		volume = 100
	}

	s.store.Broadcast(c.sessionID, protocol.VolumeChange{
		Type:    protocol.TypeVolumeChange,
		Channel: msg.Channel,
		Volume:  volume,
	}, "")
}

// fanoutAudioReady sends each client the artifact URL for its own channel.
func (s *Server) fanoutAudioReady(sessionID string, track ingest.Track) {
	for _, entry := range s.store.Roster(sessionID) {
		_ = s.store.Send(sessionID, entry.ID, audioReadyFor(track, entry.Channel))
	}
	s.metrics.Broadcasts.WithLabelValues(protocol.TypeAudioReady).Inc()
}

func audioReadyFor(track ingest.Track, channel string) protocol.AudioReady {
	return protocol.AudioReady{
		Type:     protocol.TypeAudioReady,
		AudioURL: track.Files.ForChannel(channel),
		Duration: track.Duration,
		Title:    track.Title,
		TrackID:  track.ID,
	}
}

func (s *Server) broadcastClientList(sessionID string) {
	roster := s.store.Roster(sessionID)
	list := protocol.ClientList{Type: protocol.TypeClientList, Clients: make([]protocol.ClientInfo, 0, len(roster))}
	for _, entry := range roster {
		list.Clients = append(list.Clients, protocol.ClientInfo{
			ID:      entry.ID,
			Channel: entry.Channel,
			Ready:   entry.Ready,
		})
	}
	s.store.Broadcast(sessionID, list, "")
}

func (s *Server) sendTrackList(c *conn) {
	tracks, err := s.pipeline.Library()
	if err != nil {
		s.log.Warn().Err(err).Msg("library enumeration failed")
		return
	}
	list := protocol.TrackList{Type: protocol.TypeTrackList, Tracks: make([]protocol.TrackInfo, 0, len(tracks))}
	for _, t := range tracks {
		list.Tracks = append(list.Tracks, protocol.TrackInfo{ID: t.ID, Title: t.Title, Duration: t.Duration})
	}
	_ = c.Send(list)
}

// onIngestComplete refreshes the submitting session's track list once the
// full-length artifacts are committed.
func (s *Server) onIngestComplete(sessionID string, track ingest.Track) {
	s.metrics.Ingestions.WithLabelValues("completed").Inc()
	s.log.Info().Str("session", sessionID).Str("track", track.ID).Msg("ingestion committed")

	tracks, err := s.pipeline.Library()
	if err != nil {
		return
	}
	list := protocol.TrackList{Type: protocol.TypeTrackList, Tracks: make([]protocol.TrackInfo, 0, len(tracks))}
	for _, t := range tracks {
		list.Tracks = append(list.Tracks, protocol.TrackInfo{ID: t.ID, Title: t.Title, Duration: t.Duration})
	}
	s.store.Broadcast(sessionID, list, "")
}

func (s *Server) requireSession(c *conn) bool {
	if c.sessionID == "" {
		s.sendError(c, "join a session first")
		return false
	}
	return true
}

func (s *Server) sendError(c *conn, message string) {
	_ = c.Send(protocol.Error{Type: protocol.TypeError, Message: message})
}

// errorMessage maps pipeline error kinds onto the messages surfaced to the
// submitting client.
func errorMessage(err error) string {
	switch {
	case errors.Is(err, ingest.ErrURLRejected):
		return "Only YouTube links are supported"
	case errors.Is(err, ingest.ErrBusy):
		return "An ingestion is already in progress for this session"
	case errors.Is(err, ingest.ErrFetchFailed):
		return "Could not fetch audio from that link"
	case errors.Is(err, ingest.ErrTranscodeFailed):
		return "Audio processing failed"
	case errors.Is(err, ingest.ErrTrackNotFound):
		return "Track not found"
	default:
		return "Internal error"
	}
}
