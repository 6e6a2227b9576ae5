// ABOUTME: WebSocket client for the splitcast coordinator
// ABOUTME: Handles connection, the join handshake, and message routing
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/splitcast/splitcast-go/internal/protocol"
)

// Config holds client configuration
type Config struct {
	ServerAddr string // host:port of the coordinator
	SessionID  string
}

// Tap observes every frame crossing the socket. Direction is "send" or
// "recv". Frames must not be retained.
type Tap func(direction string, frame []byte)

// Client represents a WebSocket client
type Client struct {
	config Config
	conn   *websocket.Conn
	mu     sync.RWMutex
	wmu    sync.Mutex
	tap    Tap

	// Assigned during the join handshake
	clientID string
	channel  string

	// Message channels
	AudioLoading  chan protocol.AudioLoading
	AudioReady    chan protocol.AudioReady
	PlayCmds      chan protocol.Play
	PauseCmds     chan protocol.Pause
	SeekCmds      chan protocol.Seek
	Pongs         chan protocol.Pong
	Roster        chan protocol.ClientList
	Library       chan protocol.TrackList
	VolumeChanges chan protocol.VolumeChange
	Errors        chan protocol.Error

	// State
	connected bool
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewClient creates a new WebSocket client
func NewClient(config Config) *Client {
	ctx, cancel := context.WithCancel(context.Background())

	return &Client{
		config:        config,
		AudioLoading:  make(chan protocol.AudioLoading, 10),
		AudioReady:    make(chan protocol.AudioReady, 10),
		PlayCmds:      make(chan protocol.Play, 10),
		PauseCmds:     make(chan protocol.Pause, 10),
		SeekCmds:      make(chan protocol.Seek, 10),
		Pongs:         make(chan protocol.Pong, 10),
		Roster:        make(chan protocol.ClientList, 10),
		Library:       make(chan protocol.TrackList, 10),
		VolumeChanges: make(chan protocol.VolumeChange, 10),
		Errors:        make(chan protocol.Error, 10),
		ctx:           ctx,
		cancel:        cancel,
	}
}

// SetTap installs a frame observer. Must be called before Connect.
func (c *Client) SetTap(tap Tap) {
	c.tap = tap
}

// Connect establishes the WebSocket connection and joins the session
func (c *Client) Connect() error {
	u := url.URL{Scheme: "ws", Host: c.config.ServerAddr, Path: "/ws"}
	log.Printf("Connecting to %s", u.String())

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return fmt.Errorf("dial failed: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()

	if err := c.join(); err != nil {
		c.Close()
		return fmt.Errorf("join failed: %w", err)
	}

	go c.readMessages()

	return nil
}

// join sends join_session and waits for session_joined
func (c *Client) join() error {
	msg := protocol.JoinSession{
		Type:      protocol.TypeJoinSession,
		SessionID: c.config.SessionID,
	}
	if err := c.sendJSON(msg); err != nil {
		return fmt.Errorf("failed to send join_session: %w", err)
	}

	// Wait for session_joined (with timeout)
	c.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("failed to read session_joined: %w", err)
	}
	c.conn.SetReadDeadline(time.Time{}) // Clear deadline

	if c.tap != nil {
		c.tap("recv", data)
	}

	msgType, err := protocol.PeekType(data)
	if err != nil {
		return fmt.Errorf("failed to parse session_joined: %w", err)
	}
	if msgType != protocol.TypeSessionJoined {
		return fmt.Errorf("expected session_joined, got %s", msgType)
	}

	var joined protocol.SessionJoined
	if err := json.Unmarshal(data, &joined); err != nil {
		return fmt.Errorf("failed to parse session_joined: %w", err)
	}

	c.mu.Lock()
	c.clientID = joined.ClientID
	c.channel = joined.Channel
	c.mu.Unlock()

	log.Printf("Joined session %s as %s (%s channel)",
		joined.SessionID, joined.ClientID, joined.Channel)
	return nil
}

// ClientID returns the server-assigned client ID
func (c *Client) ClientID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.clientID
}

// Channel returns the assigned channel role
func (c *Client) Channel() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.channel
}

// sendJSON sends a JSON message
func (c *Client) sendJSON(msg interface{}) error {
	c.mu.RLock()
	connected := c.connected
	conn := c.conn
	c.mu.RUnlock()

	if !connected {
		return fmt.Errorf("not connected")
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	if c.tap != nil {
		c.tap("send", data)
	}

	c.wmu.Lock()
	defer c.wmu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, data)
}

// readMessages reads and routes incoming messages
func (c *Client) readMessages() {
	defer c.Close()

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		_, data, err := c.conn.ReadMessage()
		if err != nil {
			log.Printf("Read error: %v", err)
			return
		}

		if c.tap != nil {
			c.tap("recv", data)
		}
		c.routeMessage(data)
	}
}

// routeMessage dispatches one frame to its typed channel
func (c *Client) routeMessage(data []byte) {
	msgType, err := protocol.PeekType(data)
	if err != nil {
		log.Printf("Failed to parse message: %v", err)
		return
	}

	switch msgType {
	case protocol.TypeAudioLoading:
		deliver(c.ctx, c.AudioLoading, data)
	case protocol.TypeAudioReady:
		deliver(c.ctx, c.AudioReady, data)
	case protocol.TypePlay:
		deliver(c.ctx, c.PlayCmds, data)
	case protocol.TypePause:
		deliver(c.ctx, c.PauseCmds, data)
	case protocol.TypeSeek:
		deliver(c.ctx, c.SeekCmds, data)
	case protocol.TypePong:
		deliver(c.ctx, c.Pongs, data)
	case protocol.TypeClientList:
		deliver(c.ctx, c.Roster, data)
	case protocol.TypeTrackList:
		deliver(c.ctx, c.Library, data)
	case protocol.TypeVolumeChange:
		deliver(c.ctx, c.VolumeChanges, data)
	case protocol.TypeError:
		deliver(c.ctx, c.Errors, data)
	default:
		log.Printf("Unknown message type: %s", msgType)
	}
}

// deliver decodes data into T and pushes it to ch, dropping on shutdown
func deliver[T any](ctx context.Context, ch chan T, data []byte) {
	var msg T
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Printf("Failed to decode message: %v", err)
		return
	}
	select {
	case ch <- msg:
	case <-ctx.Done():
	}
}

// SubmitLink asks the coordinator to ingest url
func (c *Client) SubmitLink(url string) error {
	return c.sendJSON(protocol.SubmitLink{Type: protocol.TypeSubmitLink, URL: url})
}

// LoadTrack binds a library track to the session
func (c *Client) LoadTrack(trackID string) error {
	return c.sendJSON(protocol.LoadTrack{Type: protocol.TypeLoadTrack, TrackID: trackID})
}

// SendReady reports that this client has loaded its artifact
func (c *Client) SendReady() error {
	return c.sendJSON(protocol.Ready{Type: protocol.TypeReady})
}

// RequestPlay asks for a scheduled play broadcast
func (c *Client) RequestPlay() error {
	return c.sendJSON(protocol.PlayRequest{Type: protocol.TypePlayRequest})
}

// RequestPause asks for a pause broadcast
func (c *Client) RequestPause() error {
	return c.sendJSON(protocol.PauseRequest{Type: protocol.TypePauseRequest})
}

// RequestSeek asks for a seek broadcast to t seconds
func (c *Client) RequestSeek(t float64) error {
	return c.sendJSON(protocol.SeekRequest{Type: protocol.TypeSeekRequest, TargetTime: t})
}

// RequestVolume asks for a volume change on a channel role, 0-100
func (c *Client) RequestVolume(channel string, volume int) error {
	return c.sendJSON(protocol.VolumeRequest{
		Type:    protocol.TypeVolumeRequest,
		Channel: channel,
		Volume:  volume,
	})
}

// SendPing sends a clock sync probe stamped with clientTimestamp
func (c *Client) SendPing(clientTimestamp int64) error {
	return c.sendJSON(protocol.Ping{Type: protocol.TypePing, ClientTimestamp: clientTimestamp})
}

// Close closes the connection
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		c.connected = false
		c.cancel()
		c.conn.Close()
		log.Printf("Connection closed")
	}
}

// IsConnected returns connection status
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}
