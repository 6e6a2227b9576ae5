// ABOUTME: Entry point for the splitcast player
// ABOUTME: Parses CLI flags, wires the TUI, and starts the player application
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/splitcast/splitcast-go/internal/app"
	"github.com/splitcast/splitcast-go/internal/discovery"
	"github.com/splitcast/splitcast-go/internal/player"
	"github.com/splitcast/splitcast-go/internal/protocol"
	"github.com/splitcast/splitcast-go/internal/ui"
	"github.com/splitcast/splitcast-go/internal/version"
)

var (
	serverAddr = flag.String("server", "", "Manual server address (skip mDNS)")
	sessionID  = flag.String("session", "default", "Session to join")
	volume     = flag.Int("volume", 100, "Initial volume, 0-100")
	submitURL  = flag.String("url", "", "Link to submit for ingestion after joining")
	logFile    = flag.String("log-file", "splitcast-player.log", "Log file path")
	noTUI      = flag.Bool("no-tui", false, "Disable TUI, use streaming logs instead")
	streamLogs = flag.Bool("stream-logs", false, "Alias for -no-tui")
)

func main() {
	flag.Parse()

	useTUI := !(*noTUI || *streamLogs)

	// Set up logging
	f, err := os.OpenFile(*logFile, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		log.Fatalf("error opening log file: %v", err)
	}
	defer func() { _ = f.Close() }()

	if useTUI {
		// TUI mode: log only to file
		log.SetOutput(f)
	} else {
		multiWriter := io.MultiWriter(os.Stdout, f)
		log.SetOutput(multiWriter)
	}

	if !useTUI {
		log.Printf("Starting %s %s", version.Product, version.Version)
	}

	// TUI setup
	var tuiProg *tea.Program
	var control *ui.Control

	if useTUI {
		control = ui.NewControl()
		tuiProg, err = ui.Run(control)
		if err != nil {
			log.Fatalf("Failed to start TUI: %v", err)
		}
		go tuiProg.Run()
	}

	updateTUI := func(msg ui.StatusMsg) {
		if tuiProg != nil {
			tuiProg.Send(msg)
		}
	}

	// Handle server discovery if no manual server specified
	serverAddress := *serverAddr
	if serverAddress == "" {
		log.Printf("Starting server discovery...")
		disc := discovery.NewManager(discovery.Config{ServiceName: version.Product})
		disc.Browse()

		select {
		case server := <-disc.Servers():
			serverAddress = fmt.Sprintf("%s:%d", server.Host, server.Port)
			log.Printf("Discovered server at %s", serverAddress)
		case <-time.After(10 * time.Second):
			log.Fatalf("No server found after 10 seconds")
		}
		disc.Stop()
	}

	p := app.New(app.Config{
		ServerAddr: serverAddress,
		SessionID:  *sessionID,
		Volume:     *volume,
	})

	p.OnStatus = func(state player.Status, label string) {
		updateTUI(ui.StatusMsg{Status: string(state)})
		if !useTUI {
			log.Printf("Status: %s (%s)", state, label)
		}
	}
	p.OnTrack = func(track app.Track) {
		updateTUI(ui.StatusMsg{Title: track.Title, Duration: track.Duration})
	}
	p.OnRoster = func(roster protocol.ClientList) {
		clients := roster.Clients
		if clients == nil {
			clients = []protocol.ClientInfo{}
		}
		updateTUI(ui.StatusMsg{Roster: clients})
	}
	p.OnTracks = func(library protocol.TrackList) {
		tracks := library.Tracks
		if tracks == nil {
			tracks = []protocol.TrackInfo{}
		}
		updateTUI(ui.StatusMsg{Tracks: tracks})
	}
	p.OnSync = func(offsetMs, latencyMs int64, samples int) {
		updateTUI(ui.StatusMsg{
			SyncOffset:  offsetMs,
			SyncLatency: latencyMs,
			SyncSamples: samples,
		})
	}
	p.OnError = func(msg string) {
		log.Printf("Player error: %s", msg)
		updateTUI(ui.StatusMsg{ErrorText: msg})
	}

	if err := p.Start(); err != nil {
		log.Fatalf("Failed to start player: %v", err)
	}

	connected := true
	updateTUI(ui.StatusMsg{
		Connected:  &connected,
		ServerName: serverAddress,
		SessionID:  *sessionID,
		Channel:    p.Channel(),
	})

	if *submitURL != "" {
		if err := p.SubmitLink(*submitURL); err != nil {
			log.Printf("Failed to submit link: %v", err)
		}
	}

	// Forward TUI key commands to the coordinator
	if control != nil {
		go handleControl(p, control)
	}

	// Drive the position readout while the TUI is up
	if tuiProg != nil {
		go positionLoop(p, updateTUI)
	}

	// Handle shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	if control != nil {
		select {
		case <-control.Quit:
			log.Printf("Received quit signal from TUI")
		case <-sigChan:
			log.Printf("Shutdown signal received")
		}
	} else {
		<-sigChan
		log.Printf("Shutdown signal received")
	}

	p.Stop()
	log.Printf("Player stopped")
}

// handleControl forwards TUI key commands to the coordinator. Everything is a
// request: the actual state change arrives back as a broadcast.
func handleControl(p *app.Player, control *ui.Control) {
	for {
		select {
		case <-control.Toggle:
			var err error
			if p.Status() == player.StatusPlaying {
				err = p.RequestPause()
			} else {
				err = p.RequestPlay()
			}
			if err != nil {
				log.Printf("Transport request failed: %v", err)
			}

		case delta := <-control.Seeks:
			target := p.CurrentTime() + delta
			if target < 0 {
				target = 0
			}
			if err := p.RequestSeek(target); err != nil {
				log.Printf("Seek request failed: %v", err)
			}

		case vol := <-control.Volumes:
			if err := p.RequestVolume(vol.Channel, vol.Volume); err != nil {
				log.Printf("Volume request failed: %v", err)
			}

		case <-control.Quit:
			return
		}
	}
}

// positionLoop refreshes the TUI's playback position twice a second
func positionLoop(p *app.Player, updateTUI func(ui.StatusMsg)) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for range ticker.C {
		updateTUI(ui.StatusMsg{
			Position:    p.CurrentTime(),
			HasPosition: true,
		})
	}
}
