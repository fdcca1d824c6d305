package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/wintlu/stereo-play/apierr"
	"github.com/wintlu/stereo-play/cache"
	"github.com/wintlu/stereo-play/clocksync"
	"github.com/wintlu/stereo-play/config"
	"github.com/wintlu/stereo-play/eventbus"
	"github.com/wintlu/stereo-play/ingest"
	"github.com/wintlu/stereo-play/logger"
	"github.com/wintlu/stereo-play/model"
	"github.com/wintlu/stereo-play/session"
)

// Dispatcher routes decoded envelopes to the session store and the
// ingestion pipeline, implementing the message-level behaviors of
// §4.6 and the wire contract of §6. One Dispatcher is shared by every
// connection.
//
// A connection exists (and can send/receive pings) before it has
// joined any session, so the Dispatcher keeps its own clientID->Conn
// registry independent of the session store; Attach is only called
// once join_session arrives.
type Dispatcher struct {
	ctx      context.Context
	store    *session.Store
	pipeline *ingest.Pipeline
	cfg      *config.Config
	bus      *eventbus.Bus
	presence *cache.PresenceMirror
	now      func() time.Time

	mu    sync.Mutex
	conns map[string]model.Conn
}

// NewDispatcher wires the Dispatcher to the process-lifetime ctx: any
// ingestion it kicks off runs for as long as the server does, not for
// as long as the submitting client stays connected (§5). It also
// subscribes to ingest.TrackReadyKind so a background transcode
// finishing refreshes track_list for the session that requested it,
// without the ingest package knowing anything about sessions. presence
// may be a disabled (nil-client) mirror; every PresenceMirror method
// already no-ops in that case.
func NewDispatcher(ctx context.Context, store *session.Store, pipeline *ingest.Pipeline, cfg *config.Config, bus *eventbus.Bus, presence *cache.PresenceMirror) *Dispatcher {
	d := &Dispatcher{ctx: ctx, store: store, pipeline: pipeline, cfg: cfg, bus: bus, presence: presence, now: time.Now, conns: make(map[string]model.Conn)}

	bus.Subscribe(ingest.TrackReadyKind, func(evt eventbus.Event) {
		ready, ok := evt.Payload.(ingest.TrackReadyEvent)
		if !ok {
			return
		}
		d.broadcastTrackList(ready.SessionID)
	})

	return d
}

// RegisterConn associates clientID with its transport connection,
// called once the connection is accepted and before any message is
// handled for it.
func (d *Dispatcher) RegisterConn(clientID string, conn model.Conn) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.conns[clientID] = conn
}

// UnregisterConn drops the connection and detaches the client from
// whatever session it had joined, called from the connection's
// onClose hook.
func (d *Dispatcher) UnregisterConn(clientID string) {
	d.mu.Lock()
	delete(d.conns, clientID)
	d.mu.Unlock()
	d.store.Detach(clientID)
}

func (d *Dispatcher) connFor(clientID string) model.Conn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conns[clientID]
}

// Handle satisfies Handler. ctx is the connection's own lifetime, used
// only to gate reads still in flight when the connection closes; it is
// deliberately not the context ingestion runs under (§5) — see
// handleSubmitLink, which uses the Dispatcher's process-lifetime ctx
// instead. Unknown types are ignored per §6; a malformed payload is
// logged and dropped, never fatal to the connection (§7: "transport
// errors are logged and the offending message dropped").
func (d *Dispatcher) Handle(ctx context.Context, clientID string, env Envelope) {
	switch env.Type {
	case MsgJoinSession:
		d.handleJoinSession(clientID, env)
	case MsgSubmitLink:
		d.handleSubmitLink(clientID, env)
	case MsgLoadTrack:
		d.handleLoadTrack(clientID, env)
	case MsgReady:
		d.handleReady(clientID)
	case MsgPlayRequest:
		d.handlePlayRequest(clientID)
	case MsgPauseRequest:
		d.handlePauseRequest(clientID)
	case MsgSeekRequest:
		d.handleSeekRequest(clientID, env)
	case MsgVolumeRequest:
		d.handleVolumeRequest(clientID, env)
	case MsgPing:
		d.handlePing(clientID, env)
	default:
		logger.Warn("ignoring unknown message type", logger.String("type", string(env.Type)), logger.String("client", clientID))
	}
}

func (d *Dispatcher) sendError(clientID string, kind apierr.Kind, message string) {
	payload, err := Encode(MsgError, ErrorPayload{Message: message})
	if err != nil {
		logger.Error("encoding error envelope failed", logger.ErrorField(err))
		return
	}
	if err := d.store.SendTo(clientID, payload); err != nil {
		logger.Warn("could not deliver error envelope", logger.String("client", clientID), logger.String("kind", string(kind)))
	}
}

// trackListPayload builds the current library listing shared by both
// the join_session push and the track_ready refresh.
func (d *Dispatcher) trackListPayload() ([]byte, error) {
	tracks, err := ingest.EnumerateLibrary(d.cfg.LibraryDir)
	if err != nil {
		return nil, err
	}
	summaries := make([]TrackSummary, 0, len(tracks))
	for _, t := range tracks {
		summaries = append(summaries, TrackSummary{ID: t.ID, Title: t.Title, Duration: t.Duration})
	}
	return Encode(MsgTrackList, TrackListPayload{Tracks: summaries})
}

// sendTrackListTo pushes the current library listing to one client, so
// a joiner immediately learns which track ids are available for
// load_track without having to fall back to the HTTP mirror (§6).
func (d *Dispatcher) sendTrackListTo(clientID string) {
	payload, err := d.trackListPayload()
	if err != nil {
		logger.Warn("enumerating library for track_list failed", logger.ErrorField(err))
		return
	}
	if err := d.store.SendTo(clientID, payload); err != nil {
		logger.Warn("could not deliver track_list", logger.String("client", clientID))
	}
}

// broadcastTrackList refreshes the library listing for every client in
// sessionID, called once a background transcode finishes (§4.4,
// TrackReadyKind).
func (d *Dispatcher) broadcastTrackList(sessionID string) {
	payload, err := d.trackListPayload()
	if err != nil {
		logger.Warn("enumerating library for track_list failed", logger.ErrorField(err))
		return
	}
	d.store.Broadcast(sessionID, payload, "")
}

func (d *Dispatcher) broadcastClientList(sessionID string) {
	roster := d.store.Roster(sessionID)
	summaries := make([]ClientSummary, 0, len(roster))
	for _, c := range roster {
		summaries = append(summaries, ClientSummary{ID: c.ID, Channel: string(c.AssignedChannel), Ready: c.IsReady})
	}
	payload, err := Encode(MsgClientList, ClientListPayload{Clients: summaries})
	if err != nil {
		logger.Error("encoding client_list failed", logger.ErrorField(err))
		return
	}
	d.store.Broadcast(sessionID, payload, "")
}

// audioURL builds the HTTP path for a client's channel artifact,
// falling back to the left channel for the reserved "stereo" role
// since no mixed-down artifact is produced (§4.5's note that stereo
// is reserved for a future mix role).
func (d *Dispatcher) audioURL(trackID string, channel model.Channel) string {
	key := string(channel)
	if key != "left" && key != "right" {
		key = "left"
	}
	return fmt.Sprintf("/audio/%s/%s.mp3", trackID, key)
}

func (d *Dispatcher) sendAudioReadyTo(clientID string, trackID string, source *model.AudioSource, channel model.Channel) {
	payload, err := Encode(MsgAudioReady, AudioReadyPayload{
		AudioURL: d.audioURL(trackID, channel),
		Duration: source.Duration,
		Title:    source.Title,
		TrackID:  trackID,
	})
	if err != nil {
		logger.Error("encoding audio_ready failed", logger.ErrorField(err))
		return
	}
	if err := d.store.SendTo(clientID, payload); err != nil {
		logger.Warn("could not deliver audio_ready", logger.String("client", clientID))
	}
}

func (d *Dispatcher) broadcastAudioReady(sessionID, trackID string, source *model.AudioSource) {
	for _, c := range d.store.Roster(sessionID) {
		d.sendAudioReadyTo(c.ID, trackID, source, c.AssignedChannel)
	}
}

func (d *Dispatcher) handleJoinSession(clientID string, env Envelope) {
	var p JoinSessionPayload
	if err := json.Unmarshal(env.Data, &p); err != nil || p.SessionID == "" {
		d.sendError(clientID, apierr.InvalidMessage, "join_session requires a sessionId")
		return
	}

	client, sess := d.store.Attach(p.SessionID, clientID, d.connFor(clientID))

	joined, err := Encode(MsgSessionJoined, SessionJoinedPayload{
		SessionID: p.SessionID,
		ClientID:  clientID,
		Channel:   string(client.AssignedChannel),
	})
	if err == nil {
		d.store.SendTo(clientID, joined)
	}

	if sess.AudioSource != nil {
		d.sendAudioReadyTo(clientID, trackIDFromSource(sess.AudioSource), sess.AudioSource, client.AssignedChannel)
	}

	d.sendTrackListTo(clientID)
	d.broadcastClientList(p.SessionID)
}

// trackIDFromSource recovers the track id from the persisted file
// paths, since AudioSource does not carry it directly (§3: it is
// derived from the track directory, not stored redundantly).
func trackIDFromSource(source *model.AudioSource) string {
	for _, path := range source.Files {
		dir := path
		for i := len(dir) - 1; i >= 0; i-- {
			if dir[i] == '/' {
				return dir[:i]
			}
		}
	}
	return ""
}

func (d *Dispatcher) handleSubmitLink(clientID string, env Envelope) {
	var p SubmitLinkPayload
	if err := json.Unmarshal(env.Data, &p); err != nil || p.URL == "" {
		d.sendError(clientID, apierr.InvalidMessage, "submit_link requires a url")
		return
	}

	sessionID, ok := d.store.ClientSession(clientID)
	if !ok {
		d.sendError(clientID, apierr.InvalidMessage, "join a session before submitting a link")
		return
	}

	// Checked synchronously, before any session-visible side effect: a
	// rejected host must produce only a targeted error, never an
	// audio_loading broadcast (§8 Scenario 6).
	if !d.pipeline.HostAccepted(p.URL) {
		d.sendError(clientID, apierr.UrlRejected, "this source is not on the accepted host list")
		return
	}

	loading, err := Encode(MsgAudioLoading, AudioLoadingPayload{URL: p.URL})
	if err == nil {
		d.store.Broadcast(sessionID, loading, "")
	}

	// d.ctx, not any single connection's request context: the
	// submitting client disconnecting must not kill a transcode still
	// running for the rest of the session (§5).
	go d.ingestAndPublish(d.ctx, sessionID, clientID, p.URL)
}

func (d *Dispatcher) ingestAndPublish(ctx context.Context, sessionID, clientID, url string) {
	track, err := d.pipeline.Ingest(ctx, sessionID, url)
	if err != nil {
		kind := apierr.FetchFailed
		message := "could not fetch this track"
		if apiErr, ok := err.(*apierr.Error); ok {
			kind = apiErr.Kind
			message = apiErr.Message
		}
		// err (not message) is logged: it carries Cause, the
		// subprocess path/args/stderr detail that apierr's own doc
		// comment says is for logs only, never the wire (§7).
		logger.Warn("ingestion failed", logger.String("session", sessionID), logger.ErrorField(err))
		d.sendError(clientID, kind, message)
		return
	}

	source := &model.AudioSource{
		URL:      track.OriginalURL,
		Title:    track.Title,
		Duration: track.Duration,
		Files: map[string]string{
			"left":  track.ID + "/" + track.Files["left"],
			"right": track.ID + "/" + track.Files["right"],
		},
	}
	if err := d.store.SetTrack(sessionID, source); err != nil {
		logger.Warn("setting track on session failed", logger.String("session", sessionID), logger.ErrorField(err))
		return
	}
	d.broadcastAudioReady(sessionID, track.ID, source)
}

func (d *Dispatcher) handleLoadTrack(clientID string, env Envelope) {
	var p LoadTrackPayload
	if err := json.Unmarshal(env.Data, &p); err != nil || p.TrackID == "" {
		d.sendError(clientID, apierr.InvalidMessage, "load_track requires a trackId")
		return
	}

	sessionID, ok := d.store.ClientSession(clientID)
	if !ok {
		d.sendError(clientID, apierr.InvalidMessage, "join a session before loading a track")
		return
	}

	track, err := ingest.FindTrack(d.cfg.LibraryDir, p.TrackID)
	if err != nil {
		d.sendError(clientID, apierr.TrackNotFound, "no track with that id")
		return
	}

	source := &model.AudioSource{
		URL:      track.OriginalURL,
		Title:    track.Title,
		Duration: track.Duration,
		Files: map[string]string{
			"left":  track.ID + "/" + track.Files["left"],
			"right": track.ID + "/" + track.Files["right"],
		},
	}
	if err := d.store.SetTrack(sessionID, source); err != nil {
		d.sendError(clientID, apierr.InvalidMessage, "no active session")
		return
	}
	d.broadcastAudioReady(sessionID, track.ID, source)
}

func (d *Dispatcher) handleReady(clientID string) {
	d.store.SetReady(clientID)
	sessionID, ok := d.store.ClientSession(clientID)
	if ok {
		d.broadcastClientList(sessionID)
	}
}

// handlePlayRequest implements the scheduled-start broadcast from
// §4.6: one shared serverNow+leadTime target, latency-compensated per
// peer so every client starts at the same wall-clock instant.
func (d *Dispatcher) handlePlayRequest(clientID string) {
	sessionID, ok := d.store.ClientSession(clientID)
	if !ok {
		return
	}
	sess, ok := d.store.Get(sessionID)
	if !ok {
		return
	}

	serverNow := d.now()
	lead := time.Duration(d.cfg.ScheduleLeadMs) * time.Millisecond
	scheduledAt := serverNow.Add(lead)
	startTime := sess.PlaybackState.CurrentTime

	for _, c := range d.store.Roster(sessionID) {
		serverTimestamp := scheduledAt.Add(-time.Duration(c.LatencyMs/2) * time.Millisecond)
		payload, err := Encode(MsgPlay, PlayPayload{
			StartTime:       startTime,
			ServerTimestamp: serverTimestamp.UnixMilli(),
		})
		if err != nil {
			continue
		}
		if err := d.store.SendTo(c.ID, payload); err != nil {
			logger.Warn("play delivery failed", logger.String("client", c.ID))
		}
	}

	d.store.UpdatePlayback(sessionID, func(ps *model.PlaybackState) {
		ps.IsPlaying = true
	})
}

// handlePauseRequest and handleSeekRequest broadcast without the lead
// time: they are state corrections applied at now(), not musical
// events needing tight alignment (§4.6).
func (d *Dispatcher) handlePauseRequest(clientID string) {
	sessionID, ok := d.store.ClientSession(clientID)
	if !ok {
		return
	}
	sess, ok := d.store.Get(sessionID)
	if !ok {
		return
	}

	payload, err := Encode(MsgPause, PausePayload{
		CurrentTime:     sess.PlaybackState.CurrentTime,
		ServerTimestamp: d.now().UnixMilli(),
	})
	if err != nil {
		return
	}
	d.store.Broadcast(sessionID, payload, "")
	d.store.UpdatePlayback(sessionID, func(ps *model.PlaybackState) {
		ps.IsPlaying = false
	})
}

func (d *Dispatcher) handleSeekRequest(clientID string, env Envelope) {
	var p SeekRequestPayload
	if err := json.Unmarshal(env.Data, &p); err != nil {
		d.sendError(clientID, apierr.InvalidMessage, "seek_request requires targetTime")
		return
	}

	sessionID, ok := d.store.ClientSession(clientID)
	if !ok {
		return
	}

	payload, err := Encode(MsgSeek, SeekPayload{
		TargetTime:      p.TargetTime,
		ServerTimestamp: d.now().UnixMilli(),
	})
	if err != nil {
		return
	}
	d.store.Broadcast(sessionID, payload, "")
	d.store.UpdatePlayback(sessionID, func(ps *model.PlaybackState) {
		ps.CurrentTime = p.TargetTime
	})
}

func (d *Dispatcher) handleVolumeRequest(clientID string, env Envelope) {
	var p VolumeRequestPayload
	if err := json.Unmarshal(env.Data, &p); err != nil {
		d.sendError(clientID, apierr.InvalidMessage, "volume_request requires channel and volume")
		return
	}
	sessionID, ok := d.store.ClientSession(clientID)
	if !ok {
		return
	}
	payload, err := Encode(MsgVolumeChange, VolumeChangePayload{Channel: p.Channel, Volume: p.Volume})
	if err != nil {
		return
	}
	d.store.Broadcast(sessionID, payload, "")
}

func (d *Dispatcher) handlePing(clientID string, env Envelope) {
	var p PingPayload
	if err := json.Unmarshal(env.Data, &p); err != nil {
		return
	}
	serverNow := d.now()
	latency := clocksync.ServerLatencyMs(serverNow.UnixMilli(), p.ClientTimestamp)
	d.store.SetLatency(clientID, latency)
	d.presence.RecordLatency(clientID, latency)

	payload, err := Encode(MsgPong, PongPayload{
		ServerTimestamp: serverNow.UnixMilli(),
		ClientTimestamp: p.ClientTimestamp,
	})
	if err != nil {
		return
	}
	d.store.SendTo(clientID, payload)
}
