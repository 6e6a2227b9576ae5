// ABOUTME: Tests for the ingestion pipeline and library enumeration
// ABOUTME: External tools are faked through the Runner interface
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	outputs map[string]string // "--title" etc. -> stdout
	errs    map[string]error
	start   func(args []string) (Process, error)
}

func (f *fakeRunner) Output(_ context.Context, _ string, args ...string) (string, error) {
	key := args[0]
	if err, ok := f.errs[key]; ok {
		return "", err
	}
	return f.outputs[key], nil
}

func (f *fakeRunner) Start(_ context.Context, _ string, args ...string) (Process, error) {
	return f.start(args)
}

type fakeProc struct {
	waitCh  chan error
	stopped bool
}

func (p *fakeProc) Wait() error { return <-p.waitCh }
func (p *fakeProc) Stop() error { p.stopped = true; return nil }

// artifactPaths pulls the left/right output paths out of transcoder args.
func artifactPaths(args []string) (left, right string) {
	for _, a := range args {
		if strings.HasSuffix(a, LeftFile) {
			left = a
		}
		if strings.HasSuffix(a, RightFile) {
			right = a
		}
	}
	return
}

func newTestPipeline(t *testing.T, run Runner) *Pipeline {
	t.Helper()
	return New(Config{AudioRoot: t.TempDir()}, run, zerolog.Nop())
}

func TestValidateURL(t *testing.T) {
	assert.NoError(t, ValidateURL("https://www.youtube.com/watch?v=abc"))
	assert.NoError(t, ValidateURL("https://youtu.be/abc"))
	assert.ErrorIs(t, ValidateURL("https://vimeo.com/123"), ErrURLRejected)
	assert.ErrorIs(t, ValidateURL("not a url"), ErrURLRejected)
	assert.ErrorIs(t, ValidateURL("ftp://youtube.com/x"), ErrURLRejected)
}

func TestProbeSourceFallbacks(t *testing.T) {
	run := &fakeRunner{
		outputs: map[string]string{"--stream-url": "https://cdn.example/stream"},
		errs: map[string]error{
			"--title":    errors.New("no title"),
			"--duration": errors.New("no duration"),
		},
	}
	p := newTestPipeline(t, run)

	title, duration, streamURL, err := p.probeSource(context.Background(), "https://youtu.be/abc")
	require.NoError(t, err)
	assert.Equal(t, "Unknown", title)
	assert.Zero(t, duration)
	assert.Equal(t, "https://cdn.example/stream", streamURL)
}

func TestProbeSourceMissingStreamURL(t *testing.T) {
	run := &fakeRunner{
		outputs: map[string]string{"--title": "Song", "--duration": "180"},
		errs:    map[string]error{"--stream-url": errors.New("unavailable")},
	}
	p := newTestPipeline(t, run)

	_, _, _, err := p.probeSource(context.Background(), "https://youtu.be/abc")
	assert.ErrorIs(t, err, ErrFetchFailed)
}

func TestIngestProgressiveReady(t *testing.T) {
	proc := &fakeProc{waitCh: make(chan error, 1)}
	run := &fakeRunner{
		outputs: map[string]string{
			"--title":      "Split Me\n",
			"--duration":   "212",
			"--stream-url": "https://cdn.example/stream",
		},
		start: func(args []string) (Process, error) {
			left, right := artifactPaths(args)
			big := make([]byte, readyBytes)
			require.NoError(t, os.WriteFile(left, big, 0o644))
			require.NoError(t, os.WriteFile(right, big, 0o644))
			return proc, nil
		},
	}
	p := newTestPipeline(t, run)

	completed := make(chan Track, 1)
	p.OnComplete = func(_ string, tr Track) { completed <- tr }

	track, err := p.Ingest(context.Background(), "sess", "https://youtu.be/abc")
	require.NoError(t, err)
	assert.Len(t, track.ID, 10)
	assert.Equal(t, "Split Me", track.Title)
	assert.Equal(t, float64(212), track.Duration)
	assert.Equal(t, "/audio/"+track.ID+"/"+LeftFile, track.Files.Left)
	assert.Equal(t, "/audio/"+track.ID+"/"+RightFile, track.Files.Right)

	// Barrier crossed but transcoder still running: no metadata yet.
	metaPath := filepath.Join(p.cfg.AudioRoot, track.ID, MetadataFile)
	_, statErr := os.Stat(metaPath)
	assert.True(t, os.IsNotExist(statErr))

	// Clean exit commits the metadata and fires the completion hook.
	proc.waitCh <- nil
	select {
	case done := <-completed:
		assert.Equal(t, track.ID, done.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("completion hook never fired")
	}

	data, err := os.ReadFile(metaPath)
	require.NoError(t, err)
	var onDisk Track
	require.NoError(t, json.Unmarshal(data, &onDisk))
	assert.Equal(t, track.ID, onDisk.ID)
	assert.Equal(t, track.OriginalURL, onDisk.OriginalURL)
}

func TestIngestBusyPerSession(t *testing.T) {
	proc := &fakeProc{waitCh: make(chan error, 1)}
	run := &fakeRunner{
		outputs: map[string]string{
			"--title":      "t",
			"--duration":   "10",
			"--stream-url": "https://cdn.example/stream",
		},
		start: func(args []string) (Process, error) {
			left, right := artifactPaths(args)
			big := make([]byte, readyBytes)
			require.NoError(t, os.WriteFile(left, big, 0o644))
			require.NoError(t, os.WriteFile(right, big, 0o644))
			return proc, nil
		},
	}
	p := newTestPipeline(t, run)

	_, err := p.Ingest(context.Background(), "sess", "https://youtu.be/a")
	require.NoError(t, err)
	assert.True(t, p.InProgress("sess"))

	_, err = p.Ingest(context.Background(), "sess", "https://youtu.be/b")
	assert.ErrorIs(t, err, ErrBusy)

	// A different session is unaffected by this one's ingestion.
	assert.False(t, p.InProgress("other"))

	proc.waitCh <- nil
	assert.Eventually(t, func() bool { return !p.InProgress("sess") },
		2*time.Second, 10*time.Millisecond)
}

func TestIngestTranscodeFailureBeforeBarrier(t *testing.T) {
	proc := &fakeProc{waitCh: make(chan error, 1)}
	proc.waitCh <- errors.New("exit status 1")
	run := &fakeRunner{
		outputs: map[string]string{
			"--title":      "t",
			"--duration":   "10",
			"--stream-url": "https://cdn.example/stream",
		},
		start: func(args []string) (Process, error) { return proc, nil },
	}
	p := newTestPipeline(t, run)

	_, err := p.Ingest(context.Background(), "sess", "https://youtu.be/a")
	assert.ErrorIs(t, err, ErrTranscodeFailed)

	// Track directory was cleaned up and the session is free again.
	entries, readErr := os.ReadDir(p.cfg.AudioRoot)
	require.NoError(t, readErr)
	assert.Empty(t, entries)
	assert.False(t, p.InProgress("sess"))
}

func writeTrackDir(t *testing.T, root string, track Track) {
	t.Helper()
	dir := filepath.Join(root, track.ID)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	data, err := json.Marshal(track)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, MetadataFile), data, 0o644))
}

func TestLibraryEnumeration(t *testing.T) {
	p := newTestPipeline(t, &fakeRunner{})
	root := p.cfg.AudioRoot

	older := Track{ID: "aaaaaaaaaa", Title: "old", CreatedAt: time.Now().Add(-time.Hour)}
	newer := Track{ID: "bbbbbbbbbb", Title: "new", CreatedAt: time.Now()}
	writeTrackDir(t, root, older)
	writeTrackDir(t, root, newer)

	// Partial ingestion: directory without metadata is invisible.
	require.NoError(t, os.MkdirAll(filepath.Join(root, "cccccccccc"), 0o755))
	// Corrupted metadata is skipped too.
	require.NoError(t, os.MkdirAll(filepath.Join(root, "dddddddddd"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "dddddddddd", MetadataFile), []byte("{"), 0o644))

	tracks, err := p.Library()
	require.NoError(t, err)
	require.Len(t, tracks, 2)
	assert.Equal(t, "new", tracks[0].Title)
	assert.Equal(t, "old", tracks[1].Title)
}

func TestLookup(t *testing.T) {
	p := newTestPipeline(t, &fakeRunner{})
	track := Track{ID: "eeeeeeeeee", Title: "found"}
	writeTrackDir(t, p.cfg.AudioRoot, track)

	got, err := p.Lookup("eeeeeeeeee")
	require.NoError(t, err)
	assert.Equal(t, "found", got.Title)

	_, err = p.Lookup("missing")
	assert.ErrorIs(t, err, ErrTrackNotFound)
}

func TestForChannel(t *testing.T) {
	files := TrackFiles{Left: "/audio/x/left.mp3", Right: "/audio/x/right.mp3"}
	assert.Equal(t, files.Left, files.ForChannel("left"))
	assert.Equal(t, files.Right, files.ForChannel("right"))
	// No stereo artifact yet: the mix role falls back to left.
	assert.Equal(t, files.Left, files.ForChannel("stereo"))
}
