// ABOUTME: Audio ingestion pipeline: fetch, split-transcode, progressive-ready
// ABOUTME: Returns a playable track before the transcoder finishes
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/google/renameio/v2"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Error kinds surfaced to the submitting client.
var (
	ErrURLRejected     = errors.New("url host not accepted")
	ErrFetchFailed     = errors.New("could not resolve a stream url")
	ErrTranscodeFailed = errors.New("transcoder failed before track was playable")
	ErrBusy            = errors.New("ingestion already in progress for this session")
)

// acceptedHosts is the v1 source allowlist.
var acceptedHosts = map[string]bool{
	"youtube.com":     true,
	"www.youtube.com": true,
	"m.youtube.com":   true,
	"youtu.be":        true,
}

const (
	// readyBytes is the progressive-ready barrier: once both channel
	// artifacts reach this size the track is playable.
	readyBytes = 500 * 1024

	pollInterval = 200 * time.Millisecond

	artifactBitrate = "192k"
)

// Config holds pipeline paths and tool names.
type Config struct {
	AudioRoot     string // library root; one subdirectory per track
	LibraryPrefix string // URL prefix artifacts are served under, e.g. "/audio"
	FetcherBin    string // resolves titles, durations, and direct stream URLs
	TranscoderBin string // splits the stream into per-channel artifacts
	ProbeBin      string // reads durations from produced files
}

// Pipeline orchestrates the external fetcher and transcoder. At most one
// ingestion runs per session at a time.
type Pipeline struct {
	cfg Config
	run Runner
	log zerolog.Logger

	// OnComplete fires after a track's metadata has been written.
	OnComplete func(sessionID string, track Track)

	mu       sync.Mutex
	inflight map[string]bool // sessionID -> ingestion running
}

// New creates a pipeline rooted at cfg.AudioRoot.
func New(cfg Config, run Runner, log zerolog.Logger) *Pipeline {
	if cfg.LibraryPrefix == "" {
		cfg.LibraryPrefix = "/audio"
	}
	if cfg.FetcherBin == "" {
		cfg.FetcherBin = "yt-dlp"
	}
	if cfg.TranscoderBin == "" {
		cfg.TranscoderBin = "ffmpeg"
	}
	if cfg.ProbeBin == "" {
		cfg.ProbeBin = "ffprobe"
	}
	return &Pipeline{
		cfg:      cfg,
		run:      run,
		log:      log,
		inflight: make(map[string]bool),
	}
}

// ValidateURL checks the source URL against the accepted host set.
func ValidateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || !acceptedHosts[u.Hostname()] {
		return ErrURLRejected
	}
	return nil
}

// InProgress reports whether the session has an ingestion in flight. It never
// blocks on the ingestion itself.
func (p *Pipeline) InProgress(sessionID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inflight[sessionID]
}

// Ingest fetches rawURL and splits it into per-channel artifacts. It returns
// as soon as the progressive-ready barrier is crossed; the transcoder keeps
// writing in the background and metadata is committed on its clean exit.
//
// ctx should span the server's lifetime, not the submitting connection: a
// client who reloads mid-ingest still finds the track.
func (p *Pipeline) Ingest(ctx context.Context, sessionID, rawURL string) (Track, error) {
	if err := ValidateURL(rawURL); err != nil {
		return Track{}, err
	}

	p.mu.Lock()
	if p.inflight[sessionID] {
		p.mu.Unlock()
		return Track{}, ErrBusy
	}
	p.inflight[sessionID] = true
	p.mu.Unlock()

	track, err := p.ingest(ctx, sessionID, rawURL)
	if err != nil {
		p.release(sessionID)
	}
	return track, err
}

func (p *Pipeline) release(sessionID string) {
	p.mu.Lock()
	delete(p.inflight, sessionID)
	p.mu.Unlock()
}

func (p *Pipeline) ingest(ctx context.Context, sessionID, rawURL string) (Track, error) {
	title, duration, streamURL, err := p.probeSource(ctx, rawURL)
	if err != nil {
		return Track{}, err
	}

	id := NewTrackID()
	trackDir := filepath.Join(p.cfg.AudioRoot, id)
	if err := os.MkdirAll(trackDir, 0o755); err != nil {
		return Track{}, fmt.Errorf("create track dir: %w", err)
	}

	leftPath := filepath.Join(trackDir, LeftFile)
	rightPath := filepath.Join(trackDir, RightFile)

	proc, err := p.run.Start(ctx, p.cfg.TranscoderBin,
		"-i", streamURL,
		"-filter_complex", "[0:a]pan=mono|c0=c0[L];[0:a]pan=mono|c0=c1[R]",
		"-map", "[L]", "-b:a", artifactBitrate, leftPath,
		"-map", "[R]", "-b:a", artifactBitrate, rightPath,
		"-y",
	)
	if err != nil {
		_ = os.RemoveAll(trackDir)
		return Track{}, fmt.Errorf("%w: %v", ErrTranscodeFailed, err)
	}

	exit := &procExit{done: make(chan struct{})}
	go func() {
		exit.err = proc.Wait()
		close(exit.done)
	}()

	track := Track{
		ID:       id,
		Title:    title,
		Duration: duration,
		Files: TrackFiles{
			Left:  p.cfg.LibraryPrefix + "/" + id + "/" + LeftFile,
			Right: p.cfg.LibraryPrefix + "/" + id + "/" + RightFile,
		},
		OriginalURL: rawURL,
		CreatedAt:   time.Now().UTC(),
	}

	if err := p.awaitBarrier(ctx, leftPath, rightPath, exit, proc); err != nil {
		_ = os.RemoveAll(trackDir)
		return Track{}, err
	}

	p.log.Info().
		Str("session", sessionID).
		Str("track", id).
		Str("title", title).
		Msg("track progressively ready")

	go p.finish(ctx, sessionID, trackDir, track, exit)

	return track, nil
}

// procExit publishes the transcoder's exit status to both the barrier and the
// completion hook. err may be read once done is closed.
type procExit struct {
	err  error
	done chan struct{}
}

// probeSource resolves title, duration, and the direct stream URL in
// parallel. Title and duration failures fall back; a missing stream URL
// aborts the ingestion.
func (p *Pipeline) probeSource(ctx context.Context, rawURL string) (title string, duration float64, streamURL string, err error) {
	title = "Unknown"

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		out, err := p.run.Output(gctx, p.cfg.FetcherBin, "--title", rawURL)
		if err != nil {
			p.log.Warn().Err(err).Msg("title probe failed")
			return nil
		}
		title = firstLine(out)
		return nil
	})
	g.Go(func() error {
		out, err := p.run.Output(gctx, p.cfg.FetcherBin, "--duration", rawURL)
		if err != nil {
			p.log.Warn().Err(err).Msg("duration probe failed")
			return nil
		}
		if secs, perr := strconv.ParseFloat(firstLine(out), 64); perr == nil {
			duration = secs
		}
		return nil
	})
	g.Go(func() error {
		out, err := p.run.Output(gctx, p.cfg.FetcherBin, "--stream-url", rawURL)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrFetchFailed, err)
		}
		streamURL = firstLine(out)
		if streamURL == "" {
			return ErrFetchFailed
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return "", 0, "", err
	}
	return title, duration, streamURL, nil
}

// awaitBarrier polls the artifact sizes until both cross readyBytes, the
// transcoder dies, or ctx is cancelled.
func (p *Pipeline) awaitBarrier(ctx context.Context, leftPath, rightPath string, exit *procExit, proc Process) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = proc.Stop()
			return ctx.Err()
		case <-exit.done:
			if exit.err != nil {
				return fmt.Errorf("%w: %v", ErrTranscodeFailed, exit.err)
			}
			// Finished before the barrier: short source, still playable.
			if minSize(leftPath, rightPath) > 0 {
				return nil
			}
			return ErrTranscodeFailed
		case <-ticker.C:
			if minSize(leftPath, rightPath) >= readyBytes {
				return nil
			}
		}
	}
}

// finish waits for the transcoder to exit and commits or discards the track.
// A failure after the barrier leaves the partial files on disk without
// metadata, so the library never sees them.
func (p *Pipeline) finish(ctx context.Context, sessionID, trackDir string, track Track, exit *procExit) {
	defer p.release(sessionID)

	var err error
	select {
	case <-exit.done:
		err = exit.err
	case <-ctx.Done():
		err = ctx.Err()
	}
	if err != nil {
		p.log.Error().Err(err).Str("track", track.ID).Msg("transcoder failed after barrier")
		return
	}

	if track.Duration == 0 {
		if secs, perr := p.probeDuration(ctx, filepath.Join(trackDir, LeftFile)); perr == nil {
			track.Duration = secs
		}
	}

	if err := p.writeMetadata(trackDir, track); err != nil {
		p.log.Error().Err(err).Str("track", track.ID).Msg("metadata write failed")
		return
	}

	p.log.Info().Str("track", track.ID).Msg("ingestion complete")

	if p.OnComplete != nil {
		p.OnComplete(sessionID, track)
	}
}

// probeDuration asks the external probe for a produced file's duration.
func (p *Pipeline) probeDuration(ctx context.Context, path string) (float64, error) {
	out, err := p.run.Output(ctx, p.cfg.ProbeBin, "-duration", path)
	if err != nil {
		return 0, err
	}
	return strconv.ParseFloat(firstLine(out), 64)
}

// writeMetadata commits the metadata document with a create-temp-then-rename
// so readers never observe a partial JSON file.
func (p *Pipeline) writeMetadata(trackDir string, track Track) error {
	data, err := json.MarshalIndent(track, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	if err := renameio.WriteFile(filepath.Join(trackDir, MetadataFile), data, 0o644); err != nil {
		return fmt.Errorf("write metadata: %w", err)
	}
	return nil
}

func minSize(paths ...string) int64 {
	min := int64(-1)
	for _, path := range paths {
		info, err := os.Stat(path)
		size := int64(0)
		if err == nil {
			size = info.Size()
		}
		if min < 0 || size < min {
			min = size
		}
	}
	return min
}

func firstLine(s string) string {
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' || s[i] == '\r' {
			return s[:i]
		}
	}
	return s
}
