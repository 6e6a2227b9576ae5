// ABOUTME: Scheduled-start audio engine
// ABOUTME: Decodes a fetched artifact and starts playback at a precise local instant
package player

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"net/http"
	"sync"
	"time"

	mp3 "github.com/hajimehoshi/go-mp3"
)

// ErrBackendSuspended is returned when the audio backend is suspended and
// cannot be resumed without user interaction.
var ErrBackendSuspended = errors.New("audio backend suspended")

const (
	// go-mp3 always yields interleaved stereo int16.
	engineChannels = 2

	// writeChunkMs is how much audio each sink write carries.
	writeChunkMs = 100
)

// Engine decodes one track buffer and plays it with scheduled-start
// semantics: playback begins at a precomputed local instant, looping.
type Engine struct {
	out        Output
	httpClient *http.Client
	now        func() time.Time

	mu         sync.Mutex
	samples    []int16 // interleaved stereo PCM
	sampleRate int
	duration   float64 // seconds
	volume     float64 // 0..1
	loop       bool
	ready      bool

	playing  bool
	anchor   time.Time // scheduled start minus the in-track offset
	resumeAt float64   // pause offset in seconds
	src      *source

	onEnded []func()
	onLog   []func(string)

	watchOnce sync.Once
	watchStop chan struct{}
}

// NewEngine creates an engine writing to out.
func NewEngine(out Output) *Engine {
	return &Engine{
		out:        out,
		httpClient: &http.Client{Timeout: 2 * time.Minute},
		now:        time.Now,
		volume:     1.0,
		loop:       true,
		watchStop:  make(chan struct{}),
	}
}

// OnEnded registers an observer for natural end of playback (loop disabled).
func (e *Engine) OnEnded(fn func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onEnded = append(e.onEnded, fn)
}

// OnLog registers an observer for engine log events.
func (e *Engine) OnLog(fn func(string)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onLog = append(e.onLog, fn)
}

// Load fetches the artifact at url and decodes it into PCM. Any previous
// buffer and playback source are discarded.
func (e *Engine) Load(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build artifact request: %w", err)
	}
	resp, err := e.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("fetch artifact: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch artifact: HTTP %d", resp.StatusCode)
	}

	dec, err := mp3.NewDecoder(resp.Body)
	if err != nil {
		return fmt.Errorf("decode artifact: %w", err)
	}

	var pcm []int16
	buf := make([]byte, 32*1024)
	for {
		n, err := dec.Read(buf)
		for i := 0; i+1 < n; i += 2 {
			pcm = append(pcm, int16(uint16(buf[i])|uint16(buf[i+1])<<8))
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("decode artifact: %w", err)
		}
	}

	e.LoadPCM(pcm, dec.SampleRate())
	e.logf("loaded %s: %.1fs at %dHz", url, e.Duration(), dec.SampleRate())
	return nil
}

// LoadPCM installs an already-decoded interleaved stereo buffer.
func (e *Engine) LoadPCM(samples []int16, sampleRate int) {
	e.stopSource()

	e.mu.Lock()
	e.samples = samples
	e.sampleRate = sampleRate
	e.duration = float64(len(samples)) / float64(engineChannels) / float64(sampleRate)
	e.ready = true
	e.playing = false
	e.resumeAt = 0
	e.mu.Unlock()

	if err := e.out.Open(sampleRate, engineChannels); err != nil {
		e.logf("output open failed: %v", err)
	}

	e.watchOnce.Do(func() { go e.watchBackend() })
}

// PlayAt schedules playback of the loaded buffer from fromSec at the local
// instant at. A past instant starts immediately and the skew is accepted;
// the next broadcast corrects it.
func (e *Engine) PlayAt(fromSec float64, at time.Time) error {
	if !e.IsReady() {
		return errors.New("no buffer loaded")
	}

	if e.out.Suspended() {
		if err := e.out.Resume(); err != nil {
			return ErrBackendSuspended
		}
	}

	e.stopSource()

	e.mu.Lock()
	start := at
	if now := e.now(); start.Before(now) {
		start = now
	}
	e.anchor = start.Add(-time.Duration(fromSec * float64(time.Second)))
	e.playing = true
	e.resumeAt = 0

	src := &source{stop: make(chan struct{})}
	e.src = src
	e.mu.Unlock()

	go e.runSource(src, fromSec, start)
	return nil
}

// Pause captures the current position as the resume offset and stops the
// active source.
func (e *Engine) Pause() {
	pos := e.CurrentTime()
	e.stopSource()

	e.mu.Lock()
	e.playing = false
	e.resumeAt = pos
	e.mu.Unlock()
}

// SeekTo clamps t to the track bounds. While playing it restarts playback
// from the clamped offset immediately; paused it only moves the resume
// offset.
func (e *Engine) SeekTo(t float64) error {
	e.mu.Lock()
	if t < 0 {
		t = 0
	}
	if e.duration > 0 && t > e.duration {
		t = e.duration
	}
	playing := e.playing
	e.resumeAt = t
	now := e.now()
	e.mu.Unlock()

	if playing {
		return e.PlayAt(t, now)
	}
	return nil
}

// SetVolume sets the gain, clamped to [0, 1].
func (e *Engine) SetVolume(v float64) {
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	e.mu.Lock()
	e.volume = v
	e.mu.Unlock()
}

// Volume returns the current gain.
func (e *Engine) Volume() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.volume
}

// CurrentTime returns the playback position in seconds. While playing it is
// derived from the start anchor, wrapping at the loop boundary.
func (e *Engine) CurrentTime() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.playing {
		return e.resumeAt
	}
	elapsed := e.now().Sub(e.anchor).Seconds()
	if elapsed < 0 {
		return 0
	}
	if e.loop && e.duration > 0 {
		elapsed = math.Mod(elapsed, e.duration)
	}
	return elapsed
}

// Duration returns the loaded buffer length in seconds.
func (e *Engine) Duration() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.duration
}

// IsReady reports whether a buffer is loaded.
func (e *Engine) IsReady() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ready
}

// IsPlaying reports whether a source is active.
func (e *Engine) IsPlaying() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.playing
}

// NotifyVisible resumes a suspended backend after the process returns to the
// foreground. The start anchor is not re-adjusted; accumulated drift is
// corrected by the next broadcast.
func (e *Engine) NotifyVisible() {
	if e.out.Suspended() {
		if err := e.out.Resume(); err != nil {
			e.logf("resume on visibility failed: %v", err)
		}
	}
}

// Close stops playback and the backend watchdog.
func (e *Engine) Close() error {
	e.stopSource()
	close(e.watchStop)
	return e.out.Close()
}

// source is one playback run. Stopping it detaches the completion hook.
type source struct {
	stop     chan struct{}
	stopOnce sync.Once
	detached bool
	mu       sync.Mutex
}

func (s *source) halt(detach bool) {
	s.mu.Lock()
	s.detached = s.detached || detach
	s.mu.Unlock()
	s.stopOnce.Do(func() { close(s.stop) })
}

func (s *source) isDetached() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.detached
}

func (e *Engine) stopSource() {
	e.mu.Lock()
	src := e.src
	e.src = nil
	e.mu.Unlock()

	if src != nil {
		src.halt(true)
	}
}

// runSource waits until start, then streams the buffer to the sink from
// fromSec, wrapping while looping is enabled.
func (e *Engine) runSource(src *source, fromSec float64, start time.Time) {
	e.mu.Lock()
	nowFn := e.now
	e.mu.Unlock()

	delay := start.Sub(nowFn())
	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-src.stop:
			return
		case <-timer.C:
		}
	}

	e.mu.Lock()
	samples := e.samples
	rate := e.sampleRate
	loop := e.loop
	e.mu.Unlock()

	chunkFrames := rate * writeChunkMs / 1000
	pos := int(fromSec*float64(rate)) * engineChannels
	if pos >= len(samples) {
		pos = 0
	}

	for {
		select {
		case <-src.stop:
			return
		default:
		}

		end := pos + chunkFrames*engineChannels
		if end > len(samples) {
			end = len(samples)
		}
		chunk := e.applyGain(samples[pos:end])
		if err := e.out.Write(chunk); err != nil {
			e.logf("sink write failed: %v", err)
			return
		}

		pos = end
		if pos >= len(samples) {
			if !loop {
				e.finishSource(src)
				return
			}
			pos = 0
		}
	}
}

// finishSource handles natural end of a non-looping run.
func (e *Engine) finishSource(src *source) {
	if src.isDetached() {
		return
	}

	e.mu.Lock()
	if e.src == src {
		e.src = nil
		e.playing = false
		e.resumeAt = 0
	}
	ended := append([]func(){}, e.onEnded...)
	e.mu.Unlock()

	for _, fn := range ended {
		fn()
	}
}

// applyGain scales a chunk by the current volume.
func (e *Engine) applyGain(chunk []int16) []int16 {
	e.mu.Lock()
	vol := e.volume
	e.mu.Unlock()

	if vol == 1.0 {
		return chunk
	}
	scaled := make([]int16, len(chunk))
	for i, s := range chunk {
		scaled[i] = int16(float64(s) * vol)
	}
	return scaled
}

// watchBackend resumes a suspended backend once per second while playing.
// Resumes never re-anchor playback.
func (e *Engine) watchBackend() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-e.watchStop:
			return
		case <-ticker.C:
			if e.IsPlaying() && e.out.Suspended() {
				if err := e.out.Resume(); err != nil {
					e.logf("backend resume failed: %v", err)
				}
			}
		}
	}
}

func (e *Engine) logf(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	log.Printf("engine: %s", msg)

	e.mu.Lock()
	observers := append([]func(string){}, e.onLog...)
	e.mu.Unlock()
	for _, fn := range observers {
		fn(msg)
	}
}
