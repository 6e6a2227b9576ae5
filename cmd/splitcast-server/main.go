// ABOUTME: Entry point for the splitcast session coordinator
// ABOUTME: Parses CLI flags, configures logging, and runs the server
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/splitcast/splitcast-go/internal/server"
)

var (
	port          = flag.Int("port", 8927, "HTTP/WebSocket listen port")
	name          = flag.String("name", "", "Server friendly name (default: hostname-splitcast)")
	audioRoot     = flag.String("audio-root", "audio", "Directory for ingested track artifacts")
	sessionsFile  = flag.String("sessions-file", "sessions.json", "Session persistence file")
	fetcherBin    = flag.String("fetcher", "yt-dlp", "Source fetcher binary")
	transcoderBin = flag.String("transcoder", "ffmpeg", "Transcoder binary")
	probeBin      = flag.String("probe", "ffprobe", "Duration probe binary")
	noMDNS        = flag.Bool("no-mdns", false, "Disable mDNS advertisement")
	debug         = flag.Bool("debug", false, "Enable debug logging")
	pretty        = flag.Bool("pretty", false, "Human-readable console logging")
)

func main() {
	flag.Parse()

	level := zerolog.InfoLevel
	if *debug {
		level = zerolog.DebugLevel
	}
	var out = zerolog.New(os.Stderr)
	if *pretty {
		out = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	log := out.Level(level).With().Timestamp().Str("service", "splitcast").Logger()

	serverName := *name
	if serverName == "" {
		hostname, err := os.Hostname()
		if err != nil {
			hostname = "unknown"
		}
		serverName = fmt.Sprintf("%s-splitcast", hostname)
	}

	srv := server.New(server.Config{
		Port:          *port,
		Name:          serverName,
		AudioRoot:     *audioRoot,
		SessionsFile:  *sessionsFile,
		FetcherBin:    *fetcherBin,
		TranscoderBin: *transcoderBin,
		ProbeBin:      *probeBin,
		EnableMDNS:    !*noMDNS,
	}, log)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Info().Stringer("signal", sig).Msg("shutting down")
		srv.Stop()
	}()

	log.Info().Str("name", serverName).Int("port", *port).Msg("starting coordinator")
	if err := srv.Start(); err != nil {
		log.Fatal().Err(err).Msg("server error")
	}

	log.Info().Msg("server stopped")
}
