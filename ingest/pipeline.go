// Package ingest implements the server-side Ingestion Pipeline (§4.4):
// turning a submitted URL into a pair of progressively-downloadable
// left/right audio files plus a metadata.json record.
package ingest

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/wintlu/stereo-play/apierr"
	"github.com/wintlu/stereo-play/config"
	"github.com/wintlu/stereo-play/eventbus"
	"github.com/wintlu/stereo-play/logger"
	"github.com/wintlu/stereo-play/model"
)

// TrackReadyKind is the eventbus Kind published once a background
// transcode finishes and metadata.json is written. The dispatcher
// subscribes to this to refresh the library listing (track_list) for
// the session that triggered the ingestion, without the pipeline
// needing to know anything about sessions or transport.
const TrackReadyKind = "track_ready"

// TrackReadyEvent is the payload carried by a TrackReadyKind event.
type TrackReadyEvent struct {
	SessionID string
	Track     *model.Track
}

// Pipeline runs ingestion jobs, rejecting a second concurrent request
// for a session that is already mid-ingest (§4.4: "Busy").
type Pipeline struct {
	cfg *config.Config
	bus *eventbus.Bus

	mu         sync.Mutex
	inProgress map[string]bool
}

func New(cfg *config.Config, bus *eventbus.Bus) *Pipeline {
	return &Pipeline{cfg: cfg, bus: bus, inProgress: make(map[string]bool)}
}

func (p *Pipeline) begin(sessionID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.inProgress[sessionID] {
		return false
	}
	p.inProgress[sessionID] = true
	return true
}

func (p *Pipeline) end(sessionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.inProgress, sessionID)
}

// HostAccepted checks rawURL's host against the configured allowlist
// (§6). Subdomains of an accepted host are not special-cased — the
// allowlist must list every host it intends to accept. Exported so
// callers can reject a URL synchronously, before committing to any
// session-visible side effect (§8 Scenario 6: a rejected host must
// never trigger an audio_loading broadcast).
func (p *Pipeline) HostAccepted(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	for _, accepted := range p.cfg.AcceptedHosts {
		if host == strings.ToLower(accepted) {
			return true
		}
	}
	return false
}

// Ingest runs the full §4.4 pipeline for rawURL, scoped to sessionID
// for busy-tracking purposes. It returns once the progressive-ready
// barrier passes, with transcoding continuing in the background; the
// returned Track's Title is already final, while its Duration is
// replaced by the prober's reading of left.mp3 (when that succeeds) and
// metadata.json is written only once the background transcode finishes.
func (p *Pipeline) Ingest(ctx context.Context, sessionID, rawURL string) (*model.Track, error) {
	if !p.HostAccepted(rawURL) {
		return nil, apierr.New(apierr.UrlRejected, "this source is not on the accepted host list")
	}
	if !p.begin(sessionID) {
		return nil, apierr.New(apierr.Busy, "a track is already being ingested for this session")
	}
	committed := false
	defer func() {
		if !committed {
			p.end(sessionID)
		}
	}()

	title, err := probeTitle(ctx, p.cfg, rawURL)
	if err != nil {
		logger.Warn("title probe failed, falling back to Unknown", logger.String("url", rawURL), logger.ErrorField(err))
	}
	duration, err := probeDuration(ctx, p.cfg, rawURL)
	if err != nil {
		logger.Warn("duration probe failed, falling back to 0", logger.String("url", rawURL), logger.ErrorField(err))
	}

	streamURL, err := probeStreamURL(ctx, p.cfg, rawURL)
	if err != nil {
		return nil, apierr.Wrap(apierr.FetchFailed, "could not resolve a playable stream for this source", err)
	}

	trackID := newTrackID()
	dir := filepath.Join(p.cfg.LibraryDir, trackID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating track directory: %w", err)
	}

	leftPath := filepath.Join(dir, "left.mp3")
	rightPath := filepath.Join(dir, "right.mp3")

	cmd, stderr, err := startTranscode(ctx, p.cfg, streamURL, leftPath, rightPath)
	if err != nil {
		os.RemoveAll(dir)
		return nil, apierr.Wrap(apierr.TranscodeFailed, "could not start transcoding", err)
	}

	pollInterval := time.Duration(p.cfg.BarrierPollInterval) * time.Millisecond
	if err := awaitProgressiveReady(ctx, dir, leftPath, rightPath, p.cfg.BarrierMinBytes, pollInterval); err != nil {
		_ = cmd.Process.Kill()
		os.RemoveAll(dir)
		return nil, apierr.Wrap(apierr.TranscodeFailed, "transcoding did not produce enough data in time", err)
	}

	track := &model.Track{
		ID:          trackID,
		Title:       title,
		Duration:    duration,
		Files:       map[string]string{"left": "left.mp3", "right": "right.mp3"},
		OriginalURL: rawURL,
		CreatedAt:   time.Now(),
	}

	committed = true
	go p.finishInBackground(ctx, sessionID, dir, track, cmd, stderr)

	return track, nil
}

// finishInBackground waits for the transcoder to exit. A clean exit
// writes metadata.json, making the track visible to the library, and
// publishes TrackReadyKind so the dispatcher can refresh track_list; a
// failed exit deletes the partial directory so it never shows up as a
// playable track (§4.4's self-healing requirement). ctx is the
// process-lifetime context passed into Ingest, not any single
// connection's — a client disconnecting must not interrupt a
// transcode that is still running for other peers in the session
// (§5).
func (p *Pipeline) finishInBackground(ctx context.Context, sessionID, dir string, track *model.Track, cmd interface{ Wait() error }, stderr fmt.Stringer) {
	defer p.end(sessionID)

	err := cmd.Wait()
	if err != nil {
		logger.Error("transcode failed, removing partial track",
			logger.String("trackId", track.ID),
			logger.ErrorField(err),
			logger.String("stderr", stderr.String()),
		)
		os.RemoveAll(dir)
		return
	}

	if duration, derr := probeFileDuration(ctx, p.cfg, filepath.Join(dir, "left.mp3")); derr == nil && duration > 0 {
		track.Duration = duration
	}

	if err := writeMetadata(dir, track); err != nil {
		logger.Error("writing metadata.json failed", logger.String("trackId", track.ID), logger.ErrorField(err))
		os.RemoveAll(dir)
		return
	}

	if p.bus != nil {
		p.bus.Publish(eventbus.Event{Kind: TrackReadyKind, Payload: TrackReadyEvent{SessionID: sessionID, Track: track}})
	}
}
