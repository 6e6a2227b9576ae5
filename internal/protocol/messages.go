// ABOUTME: Splitcast wire message definitions
// ABOUTME: Flat line-delimited JSON envelopes, one message per frame
package protocol

import (
	"encoding/json"
	"fmt"
)

// Client -> server message types.
const (
	TypeJoinSession   = "join_session"
	TypeSubmitLink    = "submit_link"
	TypeLoadTrack     = "load_track"
	TypeReady         = "ready"
	TypePlayRequest   = "play_request"
	TypePauseRequest  = "pause_request"
	TypeSeekRequest   = "seek_request"
	TypeVolumeRequest = "volume_request"
	TypePing          = "ping"
)

// Server -> client message types.
const (
	TypeSessionJoined = "session_joined"
	TypeAudioLoading  = "audio_loading"
	TypeAudioReady    = "audio_ready"
	TypePlay          = "play"
	TypePause         = "pause"
	TypeSeek          = "seek"
	TypePong          = "pong"
	TypeClientList    = "client_list"
	TypeTrackList     = "track_list"
	TypeVolumeChange  = "volume_change"
	TypeError         = "error"
)

// Envelope carries just the type discriminator. Incoming frames are decoded
// into an Envelope first, then into the concrete struct for that type.
type Envelope struct {
	Type string `json:"type"`
}

// PeekType returns the type field of a raw frame.
func PeekType(data []byte) (string, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", fmt.Errorf("parse envelope: %w", err)
	}
	if env.Type == "" {
		return "", fmt.Errorf("envelope missing type")
	}
	return env.Type, nil
}

// JoinSession attaches the sender to a session, creating it if needed.
type JoinSession struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
}

// SubmitLink asks the coordinator to ingest a remote source URL.
type SubmitLink struct {
	Type string `json:"type"`
	URL  string `json:"url"`
}

// LoadTrack binds an already-ingested library track to the session.
type LoadTrack struct {
	Type    string `json:"type"`
	TrackID string `json:"trackId"`
}

// Ready reports that the sender has loaded its channel artifact.
type Ready struct {
	Type string `json:"type"`
}

// PlayRequest asks for a scheduled play broadcast.
type PlayRequest struct {
	Type string `json:"type"`
}

// PauseRequest asks for a pause broadcast.
type PauseRequest struct {
	Type string `json:"type"`
}

// SeekRequest asks for a seek broadcast to TargetTime seconds.
type SeekRequest struct {
	Type       string  `json:"type"`
	TargetTime float64 `json:"targetTime"`
}

// VolumeRequest asks for a per-channel volume change, 0-100.
type VolumeRequest struct {
	Type    string `json:"type"`
	Channel string `json:"channel"`
	Volume  int    `json:"volume"`
}

// Ping carries the client's send instant in Unix milliseconds.
type Ping struct {
	Type            string `json:"type"`
	ClientTimestamp int64  `json:"clientTimestamp"`
}

// SessionJoined confirms a join and reports the assigned channel role.
type SessionJoined struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
	ClientID  string `json:"clientId"`
	Channel   string `json:"channel"`
}

// AudioLoading announces that ingestion of URL has started.
type AudioLoading struct {
	Type string `json:"type"`
	URL  string `json:"url"`
}

// AudioReady announces a playable track. AudioURL points at the artifact for
// the receiving client's channel.
type AudioReady struct {
	Type     string  `json:"type"`
	AudioURL string  `json:"audioUrl"`
	Duration float64 `json:"duration"`
	Title    string  `json:"title"`
	TrackID  string  `json:"trackId"`
}

// Play schedules playback from StartTime seconds at ServerTimestamp, a server
// instant already compensated for the receiver's latency.
type Play struct {
	Type            string  `json:"type"`
	StartTime       float64 `json:"startTime"`
	ServerTimestamp int64   `json:"serverTimestamp"`
}

// Pause stops playback at CurrentTime seconds.
type Pause struct {
	Type            string  `json:"type"`
	CurrentTime     float64 `json:"currentTime"`
	ServerTimestamp int64   `json:"serverTimestamp"`
}

// Seek moves playback to TargetTime seconds.
type Seek struct {
	Type            string  `json:"type"`
	TargetTime      float64 `json:"targetTime"`
	ServerTimestamp int64   `json:"serverTimestamp"`
}

// Pong answers a Ping. ServerTimestamp is captured at response-write time.
type Pong struct {
	Type            string `json:"type"`
	ServerTimestamp int64  `json:"serverTimestamp"`
	ClientTimestamp int64  `json:"clientTimestamp"`
}

// ClientInfo is one roster entry in a ClientList.
type ClientInfo struct {
	ID      string `json:"id"`
	Channel string `json:"channel"`
	Ready   bool   `json:"ready"`
}

// ClientList is the current session roster.
type ClientList struct {
	Type    string       `json:"type"`
	Clients []ClientInfo `json:"clients"`
}

// TrackInfo is one library entry in a TrackList.
type TrackInfo struct {
	ID       string  `json:"id"`
	Title    string  `json:"title"`
	Duration float64 `json:"duration"`
}

// TrackList enumerates the ingested library.
type TrackList struct {
	Type   string      `json:"type"`
	Tracks []TrackInfo `json:"tracks"`
}

// VolumeChange is the fan-out of a VolumeRequest, rebroadcast verbatim to
// every peer including the requester.
type VolumeChange struct {
	Type    string `json:"type"`
	Channel string `json:"channel"`
	Volume  int    `json:"volume"`
}

// Error is a targeted failure report.
type Error struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}
