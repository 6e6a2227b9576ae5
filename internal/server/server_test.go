// ABOUTME: Integration tests for the coordinator over a real WebSocket
// ABOUTME: Covers join fan-out, latency compensation, and the HTTP surface
package server

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/splitcast/splitcast-go/internal/ingest"
	"github.com/splitcast/splitcast-go/internal/protocol"
)

type testServer struct {
	srv  *Server
	http *httptest.Server
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	dir := t.TempDir()

	s := New(Config{
		Name:         "test-coordinator",
		AudioRoot:    filepath.Join(dir, "audio"),
		SessionsFile: filepath.Join(dir, "sessions.json"),
	}, zerolog.Nop())

	ts := httptest.NewServer(s.router)
	t.Cleanup(func() {
		ts.Close()
		s.Stop()
	})
	return &testServer{srv: s, http: ts}
}

func (ts *testServer) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(ts.http.URL, "http") + "/ws"
	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	return ws
}

// join connects and completes the session handshake, returning the socket and
// the assigned channel.
func (ts *testServer) join(t *testing.T, sessionID string) (*websocket.Conn, protocol.SessionJoined) {
	t.Helper()
	ws := ts.dial(t)
	require.NoError(t, ws.WriteJSON(protocol.JoinSession{Type: protocol.TypeJoinSession, SessionID: sessionID}))

	var joined protocol.SessionJoined
	require.NoError(t, json.Unmarshal(await(t, ws, protocol.TypeSessionJoined), &joined))
	return ws, joined
}

// await reads frames until one of msgType arrives.
func await(t *testing.T, ws *websocket.Conn, msgType string) []byte {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		require.NoError(t, ws.SetReadDeadline(deadline))
		_, frame, err := ws.ReadMessage()
		require.NoError(t, err, "waiting for %s", msgType)

		got, err := protocol.PeekType(frame)
		require.NoError(t, err)
		if got == msgType {
			return frame
		}
	}
}

func writeLibraryTrack(t *testing.T, audioRoot, id, title string, duration float64) ingest.Track {
	t.Helper()
	dir := filepath.Join(audioRoot, id)
	require.NoError(t, os.MkdirAll(dir, 0o755))

	track := ingest.Track{
		ID:       id,
		Title:    title,
		Duration: duration,
		Files: ingest.TrackFiles{
			Left:   "/audio/" + id + "/" + ingest.LeftFile,
			Right:  "/audio/" + id + "/" + ingest.RightFile,
			Stereo: "/audio/" + id + "/" + ingest.StereoFile,
		},
		CreatedAt: time.Now().UTC(),
	}
	data, err := json.Marshal(track)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ingest.MetadataFile), data, 0o644))
	return track
}

func TestJoinAssignsLeftThenRight(t *testing.T) {
	ts := newTestServer(t)

	_, first := ts.join(t, "living-room")
	assert.Equal(t, "left", first.Channel)
	assert.NotEmpty(t, first.ClientID)

	_, second := ts.join(t, "living-room")
	assert.Equal(t, "right", second.Channel)
	assert.NotEqual(t, first.ClientID, second.ClientID)
}

func TestJoinBroadcastsRoster(t *testing.T) {
	ts := newTestServer(t)

	wsA, _ := ts.join(t, "living-room")
	ts.join(t, "living-room")

	// The first client eventually sees a two-entry roster.
	deadline := time.Now().Add(3 * time.Second)
	for {
		var list protocol.ClientList
		require.NoError(t, json.Unmarshal(await(t, wsA, protocol.TypeClientList), &list))
		if len(list.Clients) == 2 {
			channels := []string{list.Clients[0].Channel, list.Clients[1].Channel}
			assert.ElementsMatch(t, []string{"left", "right"}, channels)
			return
		}
		require.True(t, time.Now().Before(deadline), "never saw a 2-entry roster")
	}
}

func TestPingPongEchoesClientTimestamp(t *testing.T) {
	ts := newTestServer(t)
	ws, _ := ts.join(t, "living-room")

	sent := time.Now().UnixMilli()
	require.NoError(t, ws.WriteJSON(protocol.Ping{Type: protocol.TypePing, ClientTimestamp: sent}))

	var pong protocol.Pong
	require.NoError(t, json.Unmarshal(await(t, ws, protocol.TypePong), &pong))
	assert.Equal(t, sent, pong.ClientTimestamp)
	assert.InDelta(t, sent, pong.ServerTimestamp, 2000)
}

func TestPlayBroadcastCompensatesLatency(t *testing.T) {
	ts := newTestServer(t)
	wsA, _ := ts.join(t, "living-room")
	wsB, _ := ts.join(t, "living-room")

	// A reports 40ms of measured latency, B none. The coordinator derives
	// latency from the ping timestamp delta.
	require.NoError(t, wsA.WriteJSON(protocol.Ping{
		Type:            protocol.TypePing,
		ClientTimestamp: time.Now().UnixMilli() - 40,
	}))
	await(t, wsA, protocol.TypePong)
	require.NoError(t, wsB.WriteJSON(protocol.Ping{
		Type:            protocol.TypePing,
		ClientTimestamp: time.Now().UnixMilli(),
	}))
	await(t, wsB, protocol.TypePong)

	before := time.Now().UnixMilli()
	require.NoError(t, wsA.WriteJSON(protocol.PlayRequest{Type: protocol.TypePlayRequest}))

	var playA, playB protocol.Play
	require.NoError(t, json.Unmarshal(await(t, wsA, protocol.TypePlay), &playA))
	require.NoError(t, json.Unmarshal(await(t, wsB, protocol.TypePlay), &playB))

	assert.Equal(t, 0.0, playA.StartTime)
	assert.Equal(t, 0.0, playB.StartTime)

	// Both targets sit near now + lead, and the laggier client's instant is
	// pulled earlier by half its latency.
	assert.InDelta(t, before+playLeadTime.Milliseconds(), playB.ServerTimestamp, 200)
	diff := playB.ServerTimestamp - playA.ServerTimestamp
	assert.InDelta(t, 20, diff, 15, "latency compensation should shift A's instant by latency/2")
}

func TestSeekClampsAndBroadcasts(t *testing.T) {
	ts := newTestServer(t)
	ws, _ := ts.join(t, "living-room")

	require.NoError(t, ws.WriteJSON(protocol.SeekRequest{Type: protocol.TypeSeekRequest, TargetTime: -5}))

	var seek protocol.Seek
	require.NoError(t, json.Unmarshal(await(t, ws, protocol.TypeSeek), &seek))
	assert.Equal(t, 0.0, seek.TargetTime)
}

func TestSeekClampsToTrackDuration(t *testing.T) {
	ts := newTestServer(t)
	track := writeLibraryTrack(t, ts.srv.cfg.AudioRoot, "abc123def0", "Test Track", 180)

	ws, _ := ts.join(t, "living-room")
	require.NoError(t, ws.WriteJSON(protocol.LoadTrack{Type: protocol.TypeLoadTrack, TrackID: track.ID}))
	await(t, ws, protocol.TypeAudioReady)

	require.NoError(t, ws.WriteJSON(protocol.SeekRequest{Type: protocol.TypeSeekRequest, TargetTime: 9999}))

	var seek protocol.Seek
	require.NoError(t, json.Unmarshal(await(t, ws, protocol.TypeSeek), &seek))
	assert.Equal(t, 180.0, seek.TargetTime)
}

func TestPlayAfterSeekKeepsPosition(t *testing.T) {
	ts := newTestServer(t)
	ws, _ := ts.join(t, "living-room")

	require.NoError(t, ws.WriteJSON(protocol.SeekRequest{Type: protocol.TypeSeekRequest, TargetTime: 42.5}))
	await(t, ws, protocol.TypeSeek)

	require.NoError(t, ws.WriteJSON(protocol.PlayRequest{Type: protocol.TypePlayRequest}))

	var play protocol.Play
	require.NoError(t, json.Unmarshal(await(t, ws, protocol.TypePlay), &play))
	assert.Equal(t, 42.5, play.StartTime)
}

func TestVolumeClampedAndEchoedToRequester(t *testing.T) {
	ts := newTestServer(t)
	ws, _ := ts.join(t, "living-room")

	require.NoError(t, ws.WriteJSON(protocol.VolumeRequest{
		Type:    protocol.TypeVolumeRequest,
		Channel: "right",
		Volume:  180,
	}))

	var vc protocol.VolumeChange
	require.NoError(t, json.Unmarshal(await(t, ws, protocol.TypeVolumeChange), &vc))
	assert.Equal(t, "right", vc.Channel)
	assert.Equal(t, 100, vc.Volume)
}

func TestSubmitLinkRejectsForeignHosts(t *testing.T) {
	ts := newTestServer(t)
	ws, _ := ts.join(t, "living-room")

	require.NoError(t, ws.WriteJSON(protocol.SubmitLink{
		Type: protocol.TypeSubmitLink,
		URL:  "https://example.com/song.mp3",
	}))

	var errMsg protocol.Error
	require.NoError(t, json.Unmarshal(await(t, ws, protocol.TypeError), &errMsg))
	assert.Equal(t, "Only YouTube links are supported", errMsg.Message)
}

func TestCommandsRequireJoin(t *testing.T) {
	ts := newTestServer(t)
	ws := ts.dial(t)

	require.NoError(t, ws.WriteJSON(protocol.PlayRequest{Type: protocol.TypePlayRequest}))

	var errMsg protocol.Error
	require.NoError(t, json.Unmarshal(await(t, ws, protocol.TypeError), &errMsg))
	assert.Equal(t, "join a session first", errMsg.Message)
}

func TestMalformedFrameReportsInvalidMessage(t *testing.T) {
	ts := newTestServer(t)
	ws := ts.dial(t)

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte("not json")))

	var errMsg protocol.Error
	require.NoError(t, json.Unmarshal(await(t, ws, protocol.TypeError), &errMsg))
	assert.Equal(t, "invalid message", errMsg.Message)
}

func TestLoadTrackFansOutPerChannelURLs(t *testing.T) {
	ts := newTestServer(t)
	track := writeLibraryTrack(t, ts.srv.cfg.AudioRoot, "abc123def0", "Test Track", 215.4)

	wsA, _ := ts.join(t, "living-room")
	wsB, _ := ts.join(t, "living-room")

	require.NoError(t, wsA.WriteJSON(protocol.LoadTrack{Type: protocol.TypeLoadTrack, TrackID: track.ID}))

	var readyA, readyB protocol.AudioReady
	require.NoError(t, json.Unmarshal(await(t, wsA, protocol.TypeAudioReady), &readyA))
	require.NoError(t, json.Unmarshal(await(t, wsB, protocol.TypeAudioReady), &readyB))

	assert.Equal(t, track.Files.Left, readyA.AudioURL)
	assert.Equal(t, track.Files.Right, readyB.AudioURL)
	assert.Equal(t, "Test Track", readyA.Title)
	assert.Equal(t, 215.4, readyA.Duration)
	assert.Equal(t, track.ID, readyA.TrackID)
}

func TestLoadUnknownTrack(t *testing.T) {
	ts := newTestServer(t)
	ws, _ := ts.join(t, "living-room")

	require.NoError(t, ws.WriteJSON(protocol.LoadTrack{Type: protocol.TypeLoadTrack, TrackID: "nope"}))

	var errMsg protocol.Error
	require.NoError(t, json.Unmarshal(await(t, ws, protocol.TypeError), &errMsg))
	assert.Equal(t, "Track not found", errMsg.Message)
}

func TestJoinerReceivesBoundTrackAndLibrary(t *testing.T) {
	ts := newTestServer(t)
	track := writeLibraryTrack(t, ts.srv.cfg.AudioRoot, "abc123def0", "Test Track", 180)

	wsA, _ := ts.join(t, "living-room")
	require.NoError(t, wsA.WriteJSON(protocol.LoadTrack{Type: protocol.TypeLoadTrack, TrackID: track.ID}))
	await(t, wsA, protocol.TypeAudioReady)

	// A later joiner gets audio_ready for its channel plus the library.
	wsB, joined := ts.join(t, "living-room")
	require.Equal(t, "right", joined.Channel)

	var ready protocol.AudioReady
	require.NoError(t, json.Unmarshal(await(t, wsB, protocol.TypeAudioReady), &ready))
	assert.Equal(t, track.Files.Right, ready.AudioURL)

	var list protocol.TrackList
	require.NoError(t, json.Unmarshal(await(t, wsB, protocol.TypeTrackList), &list))
	require.Len(t, list.Tracks, 1)
	assert.Equal(t, track.ID, list.Tracks[0].ID)
}

func TestReadyBroadcastsUpdatedRoster(t *testing.T) {
	ts := newTestServer(t)
	ws, joined := ts.join(t, "living-room")

	require.NoError(t, ws.WriteJSON(protocol.Ready{Type: protocol.TypeReady}))

	deadline := time.Now().Add(3 * time.Second)
	for {
		var list protocol.ClientList
		require.NoError(t, json.Unmarshal(await(t, ws, protocol.TypeClientList), &list))
		if len(list.Clients) == 1 && list.Clients[0].Ready {
			assert.Equal(t, joined.ClientID, list.Clients[0].ID)
			return
		}
		require.True(t, time.Now().Before(deadline), "never saw a ready roster entry")
	}
}

func TestSessionInfoEndpoint(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.http.URL + "/api/session/missing")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	ts.join(t, "living-room")

	resp2, err := http.Get(ts.http.URL + "/api/session/living-room")
	require.NoError(t, err)
	defer resp2.Body.Close()
	require.Equal(t, http.StatusOK, resp2.StatusCode)

	var info struct {
		ID          string `json:"id"`
		ClientCount int    `json:"clientCount"`
		HasAudio    bool   `json:"hasAudio"`
	}
	require.NoError(t, json.NewDecoder(resp2.Body).Decode(&info))
	assert.Equal(t, "living-room", info.ID)
	assert.Equal(t, 1, info.ClientCount)
	assert.False(t, info.HasAudio)
}

func TestArtifactRangeRequests(t *testing.T) {
	ts := newTestServer(t)

	dir := filepath.Join(ts.srv.cfg.AudioRoot, "abc123def0")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ingest.LeftFile), []byte("0123456789"), 0o644))

	req, err := http.NewRequest(http.MethodGet, ts.http.URL+"/audio/abc123def0/left.mp3", nil)
	require.NoError(t, err)
	req.Header.Set("Range", "bytes=2-5")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusPartialContent, resp.StatusCode)
	assert.Equal(t, "audio/mpeg", resp.Header.Get("Content-Type"))
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "2345", string(body))
}

func TestArtifactAllowlist(t *testing.T) {
	ts := newTestServer(t)

	dir := filepath.Join(ts.srv.cfg.AudioRoot, "abc123def0")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ingest.MetadataFile), []byte("{}"), 0o644))

	resp, err := http.Get(ts.http.URL + "/audio/abc123def0/metadata.json")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t)
	ts.join(t, "living-room")

	resp, err := http.Get(ts.http.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "splitcast_connected_clients")
}

func TestTapObservesFrames(t *testing.T) {
	ts := newTestServer(t)

	type tapped struct {
		direction string
	}
	frames := make(chan tapped, 64)
	ts.srv.SetTap(func(direction string, frame []byte) {
		select {
		case frames <- tapped{direction}:
		default:
		}
	})

	ts.join(t, "living-room")

	saw := map[string]bool{}
	deadline := time.After(3 * time.Second)
	for !(saw["recv"] && saw["send"]) {
		select {
		case f := <-frames:
			saw[f.direction] = true
		case <-deadline:
			t.Fatalf("tap saw only %v", saw)
		}
	}
}

func TestSessionPersistedAcrossRestart(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{
		Name:         "test-coordinator",
		AudioRoot:    filepath.Join(dir, "audio"),
		SessionsFile: filepath.Join(dir, "sessions.json"),
	}

	s1 := New(cfg, zerolog.Nop())
	h1 := httptest.NewServer(s1.router)
	track := writeLibraryTrack(t, cfg.AudioRoot, "abc123def0", "Test Track", 180)

	wsURL := "ws" + strings.TrimPrefix(h1.URL, "http") + "/ws"
	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	require.NoError(t, ws.WriteJSON(protocol.JoinSession{Type: protocol.TypeJoinSession, SessionID: "living-room"}))
	await(t, ws, protocol.TypeSessionJoined)
	require.NoError(t, ws.WriteJSON(protocol.LoadTrack{Type: protocol.TypeLoadTrack, TrackID: track.ID}))
	await(t, ws, protocol.TypeAudioReady)

	ws.Close()
	h1.Close()
	s1.Stop()

	// A fresh process sees the session and its bound track.
	s2 := New(cfg, zerolog.Nop())
	h2 := httptest.NewServer(s2.router)
	defer h2.Close()
	defer s2.Stop()

	resp, err := http.Get(h2.URL + "/api/session/living-room")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var info struct {
		HasAudio bool `json:"hasAudio"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&info))
	assert.True(t, info.HasAudio)
}
