package server

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"

	"github.com/gorilla/mux"

	"github.com/wintlu/stereo-play/config"
	"github.com/wintlu/stereo-play/ingest"
	"github.com/wintlu/stereo-play/transport"
)

// libraryHandler serves the two library-facing HTTP endpoints in §6:
// byte-range audio serving and a plain track listing (the track_list
// websocket message has an HTTP mirror for clients that want it
// without a live connection).
type libraryHandler struct {
	cfg *config.Config
}

// ServeAudio serves one channel artifact with full byte-range support
// (§6: "serves byte-range requests"), required for seeking and for
// browsers that probe media duration with a ranged HEAD/GET before
// playback. http.ServeContent is the one place in this codebase that
// reaches for the standard library over an example-pack dependency:
// none of the pack's HTTP/object-storage clients implement range
// semantics, and reimplementing RFC 7233 by hand would just be a worse
// copy of what net/http already does correctly.
func (h *libraryHandler) ServeAudio(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	trackID := vars["trackId"]
	channel := vars["channel"]
	if channel != "left" && channel != "right" {
		http.NotFound(w, r)
		return
	}

	path := filepath.Join(h.cfg.LibraryDir, trackID, channel+".mp3")
	f, err := os.Open(path)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		http.Error(w, "stat failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "audio/mpeg")
	w.Header().Set("Cache-Control", "no-cache") // files grow in place during transcoding
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}

// ListTracks mirrors track_list over plain HTTP.
func (h *libraryHandler) ListTracks(w http.ResponseWriter, r *http.Request) {
	tracks, err := ingest.EnumerateLibrary(h.cfg.LibraryDir)
	if err != nil {
		http.Error(w, "library unavailable", http.StatusInternalServerError)
		return
	}

	summaries := make([]transport.TrackSummary, 0, len(tracks))
	for _, t := range tracks {
		summaries = append(summaries, transport.TrackSummary{ID: t.ID, Title: t.Title, Duration: t.Duration})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(transport.TrackListPayload{Tracks: summaries})
}
