// ABOUTME: Playback output abstraction and the oto-backed implementation
// ABOUTME: Software gain is applied upstream; the sink takes raw int16 PCM
package player

import (
	"encoding/binary"
	"fmt"
	"io"
	"log"
	"sync"

	"github.com/ebitengine/oto/v3"
)

// Output is a playback sink for interleaved 16-bit PCM.
type Output interface {
	// Open initializes the sink. Calling Open again with the same format
	// is a no-op.
	Open(sampleRate, channels int) error

	// Write pushes samples to the device, blocking at playback rate.
	Write(samples []int16) error

	// Suspended reports whether the backend is currently suspended.
	Suspended() bool

	// Resume wakes a suspended backend.
	Resume() error

	Close() error
}

// OtoOutput plays PCM through the oto library. One context per process: a
// format change after Open is ignored with a warning, matching oto's limits.
type OtoOutput struct {
	mu         sync.Mutex
	otoCtx     *oto.Context
	player     *oto.Player
	pipeReader *io.PipeReader
	pipeWriter *io.PipeWriter
	sampleRate int
	channels   int
	suspended  bool
}

// NewOtoOutput creates an oto-backed output.
func NewOtoOutput() *OtoOutput {
	return &OtoOutput{}
}

func (o *OtoOutput) Open(sampleRate, channels int) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.otoCtx != nil {
		if o.sampleRate != sampleRate || o.channels != channels {
			log.Printf("output: format change %dHz/%dch -> %dHz/%dch ignored, oto allows one context",
				o.sampleRate, o.channels, sampleRate, channels)
		}
		return nil
	}

	ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: channels,
		Format:       oto.FormatSignedInt16LE,
	})
	if err != nil {
		return fmt.Errorf("create oto context: %w", err)
	}
	<-ready

	o.otoCtx = ctx
	o.sampleRate = sampleRate
	o.channels = channels

	o.pipeReader, o.pipeWriter = io.Pipe()
	o.player = ctx.NewPlayer(o.pipeReader)
	o.player.Play()

	return nil
}

func (o *OtoOutput) Write(samples []int16) error {
	o.mu.Lock()
	w := o.pipeWriter
	o.mu.Unlock()

	if w == nil {
		return fmt.Errorf("output not initialized")
	}

	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("pipe write: %w", err)
	}
	return nil
}

func (o *OtoOutput) Suspended() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.suspended
}

func (o *OtoOutput) Resume() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.otoCtx == nil || !o.suspended {
		return nil
	}
	if err := o.otoCtx.Resume(); err != nil {
		return fmt.Errorf("resume oto context: %w", err)
	}
	o.suspended = false
	return nil
}

// Suspend parks the backend, e.g. while the process is backgrounded.
func (o *OtoOutput) Suspend() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.otoCtx == nil || o.suspended {
		return nil
	}
	if err := o.otoCtx.Suspend(); err != nil {
		return fmt.Errorf("suspend oto context: %w", err)
	}
	o.suspended = true
	return nil
}

func (o *OtoOutput) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.pipeWriter != nil {
		_ = o.pipeWriter.Close()
		o.pipeWriter = nil
	}
	if o.player != nil {
		_ = o.player.Close()
		o.player = nil
	}
	if o.pipeReader != nil {
		_ = o.pipeReader.Close()
		o.pipeReader = nil
	}
	return nil
}
