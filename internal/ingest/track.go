// ABOUTME: Track model for ingested audio sources
// ABOUTME: A track is immutable once its metadata file exists
package ingest

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// MetadataFile is the per-track metadata document name. A track directory
// without it is invisible to the library.
const MetadataFile = "metadata.json"

// Artifact names inside a track directory.
const (
	LeftFile   = "left.mp3"
	RightFile  = "right.mp3"
	StereoFile = "stereo.mp3"
)

// TrackFiles holds the served URL paths of the per-channel artifacts.
type TrackFiles struct {
	Left   string `json:"left"`
	Right  string `json:"right"`
	Stereo string `json:"stereo,omitempty"`
}

// ForChannel returns the artifact path for a channel role. Unknown roles get
// the full mix.
func (f TrackFiles) ForChannel(channel string) string {
	switch channel {
	case "left":
		return f.Left
	case "right":
		return f.Right
	default:
		if f.Stereo != "" {
			return f.Stereo
		}
		return f.Left
	}
}

// Track is a fully ingested audio source. Append-only: tracks are never
// overwritten.
type Track struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Duration    float64    `json:"duration"`
	Files       TrackFiles `json:"files"`
	OriginalURL string     `json:"originalUrl"`
	CreatedAt   time.Time  `json:"createdAt"`
}

// NewTrackID returns an opaque 10-character token, unique across the library.
func NewTrackID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")[:10]
}
