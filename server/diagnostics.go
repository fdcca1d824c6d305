package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/wintlu/stereo-play/model"
	"github.com/wintlu/stereo-play/session"
)

type diagnosticsHandler struct {
	store *session.Store
}

// channelBreakdown counts current clients by assigned channel, a
// small addition beyond the minimum §6 shape ({id, hasAudio,
// clientCount, playbackState}) that makes the endpoint actually useful
// for spotting a lopsided session without opening a websocket.
type channelBreakdown struct {
	Left   int `json:"left"`
	Right  int `json:"right"`
	Stereo int `json:"stereo"`
}

// clientDiagnostics surfaces LastSeen per client (§4.5/§9's Presence
// heartbeat supplement) — diagnostic only, never consulted by GC
// timing, which stays on the 60s empty-and-trackless rule.
type clientDiagnostics struct {
	ID        string    `json:"id"`
	Channel   string    `json:"channel"`
	LatencyMs int64     `json:"latencyMs"`
	LastSeen  time.Time `json:"lastSeen"`
}

type sessionDiagnostics struct {
	ID            string              `json:"id"`
	HasAudio      bool                `json:"hasAudio"`
	ClientCount   int                 `json:"clientCount"`
	PlaybackState model.PlaybackState `json:"playbackState"`
	Channels      channelBreakdown    `json:"channels"`
	Clients       []clientDiagnostics `json:"clients"`
}

func (h *diagnosticsHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	sess, ok := h.store.Get(id)
	if !ok {
		http.NotFound(w, r)
		return
	}

	var channels channelBreakdown
	clients := make([]clientDiagnostics, 0, len(sess.Clients))
	for _, c := range sess.Clients {
		switch c.AssignedChannel {
		case model.ChannelLeft:
			channels.Left++
		case model.ChannelRight:
			channels.Right++
		case model.ChannelStereo:
			channels.Stereo++
		}
		clients = append(clients, clientDiagnostics{
			ID:        c.ID,
			Channel:   string(c.AssignedChannel),
			LatencyMs: c.LatencyMs,
			LastSeen:  c.LastSeen,
		})
	}

	resp := sessionDiagnostics{
		ID:            sess.ID,
		HasAudio:      sess.AudioSource != nil,
		ClientCount:   len(sess.Clients),
		PlaybackState: sess.PlaybackState,
		Channels:      channels,
		Clients:       clients,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
