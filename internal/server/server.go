// ABOUTME: Session coordinator server: WebSocket transport and dispatcher
// ABOUTME: One serial read loop per connection, buffered writer per client
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/splitcast/splitcast-go/internal/discovery"
	"github.com/splitcast/splitcast-go/internal/ingest"
	"github.com/splitcast/splitcast-go/internal/session"
)

const (
	// playLeadTime is added to the server clock when scheduling a play
	// broadcast. Chosen to exceed LAN fan-out plus client decode overhead.
	playLeadTime = 500 * time.Millisecond

	writeDeadline = 10 * time.Second
	sendBuffer    = 64
)

// Tap observes raw frames crossing the transport. Direction is "recv" or
// "send". Registered before the dispatcher sees anything.
type Tap func(direction string, frame []byte)

// Config holds server configuration.
type Config struct {
	Port          int
	Name          string
	AudioRoot     string
	SessionsFile  string
	FetcherBin    string
	TranscoderBin string
	ProbeBin      string
	EnableMDNS    bool
}

// Server coordinates sessions, ingestion, and broadcast fan-out.
type Server struct {
	cfg      Config
	log      zerolog.Logger
	upgrader websocket.Upgrader

	store    *session.Store
	pipeline *ingest.Pipeline
	metrics  *Metrics
	tap      Tap

	router     chi.Router
	httpServer *http.Server
	mdns       *discovery.Manager

	// ctx spans the server's lifetime; ingestions are bound to it so a
	// client disconnect never cancels one.
	ctx    context.Context
	cancel context.CancelFunc

	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a server.
func New(cfg Config, log zerolog.Logger) *Server {
	ctx, cancel := context.WithCancel(context.Background())

	s := &Server{
		cfg: cfg,
		log: log,
		upgrader: websocket.Upgrader{
			// Session links are the access control; any origin that knows
			// one may join.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		store:   session.NewStore(cfg.SessionsFile, log.With().Str("component", "session").Logger()),
		metrics: NewMetrics(),
		ctx:     ctx,
		cancel:  cancel,
	}

	s.pipeline = ingest.New(ingest.Config{
		AudioRoot:     cfg.AudioRoot,
		FetcherBin:    cfg.FetcherBin,
		TranscoderBin: cfg.TranscoderBin,
		ProbeBin:      cfg.ProbeBin,
	}, ingest.ExecRunner{}, log.With().Str("component", "ingest").Logger())
	s.pipeline.OnComplete = s.onIngestComplete

	s.router = s.routes()
	return s
}

// SetTap registers a transport middleware hook. Must be called before Start.
func (s *Server) SetTap(tap Tap) { s.tap = tap }

// Start runs the HTTP server until Stop is called.
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.cfg.Port)
	s.httpServer = &http.Server{Addr: addr, Handler: s.router}

	if s.cfg.EnableMDNS {
		s.mdns = discovery.NewManager(discovery.Config{
			ServiceName: s.cfg.Name,
			Port:        s.cfg.Port,
		})
		if err := s.mdns.Advertise(); err != nil {
			s.log.Warn().Err(err).Msg("mdns advertisement failed")
		}
	}

	s.log.Info().Str("addr", addr).Str("name", s.cfg.Name).Msg("coordinator listening")

	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop shuts the server down, terminating in-flight ingestions.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		s.cancel()
		if s.mdns != nil {
			s.mdns.Stop()
		}
		if s.httpServer != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := s.httpServer.Shutdown(ctx); err != nil {
				s.log.Warn().Err(err).Msg("http shutdown")
			}
		}
		s.wg.Wait()
	})
}

// handleWS upgrades a connection and runs its serial read loop.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	c := newConn(ws, s.tap, s.log)
	s.metrics.ConnectedClients.Inc()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		c.writeLoop()
	}()

	defer func() {
		s.metrics.ConnectedClients.Dec()
		if c.sessionID != "" {
			s.store.Detach(c.sessionID, c.clientID)
			s.broadcastClientList(c.sessionID)
		}
		c.close()
		s.log.Info().Str("client", c.clientID).Msg("connection closed")
	}()

	for {
		_, frame, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Warn().Err(err).Str("client", c.clientID).Msg("read error")
			}
			return
		}
		if s.tap != nil {
			s.tap("recv", frame)
		}
		s.dispatch(c, frame)
	}
}

// conn is one client connection. Implements session.Conn.
type conn struct {
	ws     *websocket.Conn
	sendCh chan interface{}
	tap    Tap
	log    zerolog.Logger

	closeOnce sync.Once
	done      chan struct{}

	// Set by the join handler; read only from this connection's loop.
	sessionID string
	clientID  string
}

func newConn(ws *websocket.Conn, tap Tap, log zerolog.Logger) *conn {
	return &conn{
		ws:     ws,
		sendCh: make(chan interface{}, sendBuffer),
		tap:    tap,
		log:    log,
		done:   make(chan struct{}),
	}
}

// Send queues msg for delivery. A full buffer means the peer has stalled past
// the write deadline budget, so it is treated as a disconnect signal.
func (c *conn) Send(msg interface{}) error {
	select {
	case c.sendCh <- msg:
		return nil
	case <-c.done:
		return fmt.Errorf("connection closed")
	default:
		return fmt.Errorf("send buffer full")
	}
}

func (c *conn) writeLoop() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case msg := <-c.sendCh:
			frame, err := json.Marshal(msg)
			if err != nil {
				c.log.Warn().Err(err).Msg("marshal outbound message")
				continue
			}
			if c.tap != nil {
				c.tap("send", frame)
			}
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.close()
				return
			}
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeDeadline)); err != nil {
				c.close()
				return
			}
		}
	}
}

func (c *conn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.ws.Close()
	})
}
