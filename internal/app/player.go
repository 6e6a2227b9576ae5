// ABOUTME: Main player application orchestration
// ABOUTME: Coordinates connection, clock sync, audio engine, and status
package app

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/splitcast/splitcast-go/internal/client"
	"github.com/splitcast/splitcast-go/internal/player"
	"github.com/splitcast/splitcast-go/internal/protocol"
	"github.com/splitcast/splitcast-go/internal/sync"
)

// Config holds player configuration
type Config struct {
	ServerAddr string
	SessionID  string
	Volume     int // initial volume, 0-100
}

// Track is what the coordinator last told us to load
type Track struct {
	Title    string
	Duration float64
}

// Player represents the main player application
type Player struct {
	config    Config
	client    *client.Client
	clockSync *sync.ClockSync
	engine    *player.Engine
	status    *player.StatusMachine
	ctx       context.Context
	cancel    context.CancelFunc

	// Observers, all optional, invoked from player goroutines
	OnStatus func(state player.Status, label string)
	OnTrack  func(track Track)
	OnRoster func(roster protocol.ClientList)
	OnTracks func(library protocol.TrackList)
	OnSync   func(offsetMs, latencyMs int64, samples int)
	OnError  func(msg string)
}

// New creates a new player
func New(config Config) *Player {
	ctx, cancel := context.WithCancel(context.Background())

	if config.Volume <= 0 || config.Volume > 100 {
		config.Volume = 100
	}

	engine := player.NewEngine(player.NewOtoOutput())
	engine.SetVolume(float64(config.Volume) / 100)

	return &Player{
		config:    config,
		clockSync: sync.NewClockSync(),
		engine:    engine,
		status:    player.NewStatusMachine(),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Channel returns the assigned channel role, or "" before the join completes
func (p *Player) Channel() string {
	if p.client == nil {
		return ""
	}
	return p.client.Channel()
}

// Start connects to the coordinator and runs until Stop
func (p *Player) Start() error {
	p.status.SetObserver(func(state player.Status, label string) {
		if p.OnStatus != nil {
			p.OnStatus(state, label)
		}
	})

	p.client = client.NewClient(client.Config{
		ServerAddr: p.config.ServerAddr,
		SessionID:  p.config.SessionID,
	})

	if err := p.client.Connect(); err != nil {
		return fmt.Errorf("connection failed: %w", err)
	}

	log.Printf("Connected to server: %s", p.config.ServerAddr)

	// Component goroutines
	go p.handleAudio()
	go p.handleTransport()
	go p.handlePongs()
	go p.clockSync.Run(p.ctx, p.client.SendPing)

	return nil
}

// handlePongs folds sync responses into the offset estimate
func (p *Player) handlePongs() {
	for {
		select {
		case pong := <-p.client.Pongs:
			p.clockSync.ProcessPong(pong.ClientTimestamp, pong.ServerTimestamp)
			if p.OnSync != nil {
				p.OnSync(p.clockSync.Offset(), p.clockSync.Latency(), p.clockSync.SampleCount())
			}

		case <-p.ctx.Done():
			return
		}
	}
}

// handleAudio processes load announcements and the resulting fetches
func (p *Player) handleAudio() {
	for {
		select {
		case loading := <-p.client.AudioLoading:
			log.Printf("Coordinator ingesting %s", loading.URL)
			p.status.Apply(player.EventLoad)

		case ready := <-p.client.AudioReady:
			p.loadTrack(ready)

		case <-p.ctx.Done():
			return
		}
	}
}

// loadTrack fetches and decodes this client's channel artifact
func (p *Player) loadTrack(ready protocol.AudioReady) {
	p.status.Apply(player.EventLoad)

	url := p.artifactURL(ready.AudioURL)
	log.Printf("Loading %s (%s, %.1fs)", url, ready.Title, ready.Duration)

	ctx, cancel := context.WithTimeout(p.ctx, 2*time.Minute)
	defer cancel()

	if err := p.engine.Load(ctx, url); err != nil {
		log.Printf("Load failed: %v", err)
		p.status.Apply(player.EventError)
		p.reportError(fmt.Sprintf("Could not load audio: %v", err))
		return
	}

	p.status.Apply(player.EventAutoReady)
	if p.OnTrack != nil {
		p.OnTrack(Track{Title: ready.Title, Duration: ready.Duration})
	}

	if err := p.client.SendReady(); err != nil {
		log.Printf("Failed to report ready: %v", err)
	}
}

// artifactURL resolves a coordinator-relative artifact path
func (p *Player) artifactURL(audioURL string) string {
	if strings.HasPrefix(audioURL, "http://") || strings.HasPrefix(audioURL, "https://") {
		return audioURL
	}
	return "http://" + p.config.ServerAddr + audioURL
}

// handleTransport processes playback commands and session updates
func (p *Player) handleTransport() {
	for {
		select {
		case play := <-p.client.PlayCmds:
			p.handlePlay(play)

		case pause := <-p.client.PauseCmds:
			p.engine.Pause()
			p.engine.SeekTo(pause.CurrentTime)
			p.status.Apply(player.EventPause)

		case seek := <-p.client.SeekCmds:
			if err := p.engine.SeekTo(seek.TargetTime); err != nil {
				log.Printf("Seek failed: %v", err)
			}

		case vc := <-p.client.VolumeChanges:
			if vc.Channel == p.client.Channel() {
				p.engine.SetVolume(float64(vc.Volume) / 100)
			}

		case roster := <-p.client.Roster:
			if p.OnRoster != nil {
				p.OnRoster(roster)
			}

		case library := <-p.client.Library:
			if p.OnTracks != nil {
				p.OnTracks(library)
			}

		case errMsg := <-p.client.Errors:
			log.Printf("Server error: %s", errMsg.Message)
			p.status.Apply(player.EventError)
			p.reportError(errMsg.Message)

		case <-p.ctx.Done():
			return
		}
	}
}

// handlePlay converts the compensated server instant to a local deadline and
// arms the engine
func (p *Player) handlePlay(play protocol.Play) {
	at := p.clockSync.ServerToLocal(play.ServerTimestamp)

	if err := p.engine.PlayAt(play.StartTime, at); err != nil {
		log.Printf("Scheduled start failed: %v", err)
		p.reportError("Playback blocked: audio backend is suspended")
		return
	}
	p.status.Apply(player.EventPlay)
}

func (p *Player) reportError(msg string) {
	if p.OnError != nil {
		p.OnError(msg)
	}
}

// SubmitLink asks the coordinator to ingest url for this session
func (p *Player) SubmitLink(url string) error {
	return p.client.SubmitLink(url)
}

// LoadLibraryTrack binds an already-ingested track to the session
func (p *Player) LoadLibraryTrack(trackID string) error {
	return p.client.LoadTrack(trackID)
}

// RequestPlay asks the coordinator to schedule a synchronized start
func (p *Player) RequestPlay() error {
	return p.client.RequestPlay()
}

// RequestPause asks the coordinator to pause everyone
func (p *Player) RequestPause() error {
	return p.client.RequestPause()
}

// RequestSeek asks the coordinator to move everyone to t seconds
func (p *Player) RequestSeek(t float64) error {
	return p.client.RequestSeek(t)
}

// RequestVolume asks the coordinator to set a channel role's volume, 0-100
func (p *Player) RequestVolume(channel string, volume int) error {
	return p.client.RequestVolume(channel, volume)
}

// CurrentTime reports the engine's playback position in seconds
func (p *Player) CurrentTime() float64 {
	return p.engine.CurrentTime()
}

// Status reports the player state
func (p *Player) Status() player.Status {
	return p.status.State()
}

// NotifyVisible resumes a suspended audio backend after foregrounding
func (p *Player) NotifyVisible() {
	p.engine.NotifyVisible()
}

// Stop stops the player
func (p *Player) Stop() {
	p.cancel()

	if p.client != nil {
		p.client.Close()
	}

	if err := p.engine.Close(); err != nil {
		log.Printf("Error closing engine: %v", err)
	}
}
