// ABOUTME: Library enumeration over the audio root
// ABOUTME: Only directories with a parseable metadata file are visible
package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// ErrTrackNotFound is returned when a track id is not in the library.
var ErrTrackNotFound = errors.New("track not found")

// Library lists every committed track under the audio root, newest first.
// Directories without metadata are skipped: those are partial or corrupted
// ingestions and heal themselves by staying invisible.
func (p *Pipeline) Library() ([]Track, error) {
	entries, err := os.ReadDir(p.cfg.AudioRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read audio root: %w", err)
	}

	var tracks []Track
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		track, err := readTrack(filepath.Join(p.cfg.AudioRoot, entry.Name()))
		if err != nil {
			continue
		}
		tracks = append(tracks, track)
	}

	sort.Slice(tracks, func(i, j int) bool {
		return tracks[i].CreatedAt.After(tracks[j].CreatedAt)
	})
	return tracks, nil
}

// Lookup finds a single committed track by id.
func (p *Pipeline) Lookup(trackID string) (Track, error) {
	track, err := readTrack(filepath.Join(p.cfg.AudioRoot, filepath.Base(trackID)))
	if err != nil {
		return Track{}, ErrTrackNotFound
	}
	return track, nil
}

func readTrack(dir string) (Track, error) {
	data, err := os.ReadFile(filepath.Join(dir, MetadataFile))
	if err != nil {
		return Track{}, err
	}
	var track Track
	if err := json.Unmarshal(data, &track); err != nil {
		return Track{}, err
	}
	return track, nil
}
