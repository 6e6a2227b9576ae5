// ABOUTME: HTTP surface: library artifact delivery and session summary API
// ABOUTME: Artifacts are served with byte-range support while still growing
package server

import (
	"encoding/json"
	"net/http"
	"path/filepath"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/splitcast/splitcast-go/internal/ingest"
)

// servableArtifacts is the set of files reachable under the library prefix.
var servableArtifacts = map[string]bool{
	ingest.LeftFile:   true,
	ingest.RightFile:  true,
	ingest.StereoFile: true,
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/ws", s.handleWS)
	r.Get("/audio/{trackID}/{file}", s.handleArtifact)
	r.Get("/api/session/{id}", s.handleSessionInfo)
	r.Handle("/metrics", promhttp.HandlerFor(s.metrics.Registry, promhttp.HandlerOpts{}))

	return r
}

// handleArtifact serves one channel artifact. http.ServeFile handles Range
// requests, so progressive fetches of a still-growing file keep working.
func (s *Server) handleArtifact(w http.ResponseWriter, r *http.Request) {
	trackID := filepath.Base(chi.URLParam(r, "trackID"))
	file := filepath.Base(chi.URLParam(r, "file"))

	if !servableArtifacts[file] {
		http.NotFound(w, r)
		return
	}

	path := filepath.Join(s.cfg.AudioRoot, trackID, file)
	w.Header().Set("Content-Type", "audio/mpeg")
	http.ServeFile(w, r, path)
}

func (s *Server) handleSessionInfo(w http.ResponseWriter, r *http.Request) {
	info, ok := s.store.SessionInfo(chi.URLParam(r, "id"))
	if !ok {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "session not found"})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(info)
}
