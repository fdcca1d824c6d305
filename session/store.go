// Package session implements the Session Store (§4.5): in-memory
// sessions, channel assignment, client roster, playback state, and
// crash-safe persistence of session<->track bindings. It is the sole
// owner of Session and Client records; all mutation goes through its
// methods, each of which serialises access with a per-store mutex so a
// broadcast never observes a partially updated session (§5).
package session

import (
	"errors"
	"sync"
	"time"

	"github.com/wintlu/stereo-play/config"
	"github.com/wintlu/stereo-play/logger"
	"github.com/wintlu/stereo-play/model"
)

// ErrSessionNotFound is returned by operations addressing a session id
// that isn't currently held in memory and has no persisted binding.
var ErrSessionNotFound = errors.New("session: not found")

// Store is the coordinator's session table. The zero value is not
// usable; construct with New.
type Store struct {
	mu          sync.Mutex
	sessions    map[string]*model.Session
	clientIndex map[string]string // clientID -> sessionID
	persistPath string
	idleGrace   time.Duration
	now         func() time.Time
	afterFunc   func(time.Duration, func()) *time.Timer
}

// New returns an empty Store configured from cfg.
func New(cfg *config.Config) *Store {
	return &Store{
		sessions:    make(map[string]*model.Session),
		clientIndex: make(map[string]string),
		persistPath: cfg.SessionsFile,
		idleGrace:   time.Duration(cfg.SessionIdleGraceSecs) * time.Second,
		now:         time.Now,
		afterFunc:   func(d time.Duration, f func()) *time.Timer { return time.AfterFunc(d, f) },
	}
}

// LoadPersisted rehydrates sessions with a bound track from the
// sessions.json document at process start (§4.5, §6). Sessions without
// a track are not persisted and so cannot be rehydrated — they are
// created fresh on next join, matching the Session lifecycle rule.
func (s *Store) LoadPersisted() error {
	doc, err := loadDocument(s.persistPath)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, p := range doc.Sessions {
		s.sessions[id] = &model.Session{
			ID:          p.ID,
			CreatedAt:   p.CreatedAt,
			AudioSource: p.AudioSource,
			PlaybackState: model.PlaybackState{
				IsPlaying:   false,
				CurrentTime: 0,
				LastSyncAt:  s.now(),
			},
			Clients: make(map[string]*model.Client),
		}
		logger.Info("rehydrated session", logger.String("session", id))
	}
	return nil
}

// Attach creates the session if absent, preserving the supplied id,
// assigns a channel per policy, and returns the new Client. Client ids
// are unique per connection; calling it again with a clientID already
// in the session replaces that client's record.
func (s *Store) Attach(sessionID, clientID string, conn model.Conn) (*model.Client, *model.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		sess = &model.Session{
			ID:        sessionID,
			CreatedAt: s.now(),
			PlaybackState: model.PlaybackState{
				LastSyncAt: s.now(),
			},
			Clients: make(map[string]*model.Client),
		}
		s.sessions[sessionID] = sess
	}

	existing := make([]model.Channel, 0, len(sess.Clients))
	for _, c := range sess.Clients {
		existing = append(existing, c.AssignedChannel)
	}
	channel := AssignChannel(existing)

	client := &model.Client{
		ID:              clientID,
		SessionID:       sessionID,
		Conn:            conn,
		AssignedChannel: channel,
		IsReady:         false,
		LastSeen:        s.now(),
	}
	sess.Clients[clientID] = client
	s.clientIndex[clientID] = sessionID

	logger.Info("client attached",
		logger.String("session", sessionID),
		logger.String("client", clientID),
		logger.String("channel", string(channel)))

	return client, sess
}

// Detach removes the client from its session and, if the session is
// now empty and still trackless, schedules the 60s GC sweep (§4.5).
func (s *Store) Detach(clientID string) {
	s.mu.Lock()
	sessionID, ok := s.clientIndex[clientID]
	if !ok {
		s.mu.Unlock()
		return
	}
	delete(s.clientIndex, clientID)

	sess, ok := s.sessions[sessionID]
	if !ok {
		s.mu.Unlock()
		return
	}
	delete(sess.Clients, clientID)
	empty := len(sess.Clients) == 0
	trackless := sess.AudioSource == nil
	s.mu.Unlock()

	logger.Info("client detached", logger.String("session", sessionID), logger.String("client", clientID))

	if empty && trackless {
		s.scheduleGC(sessionID)
	}
}

func (s *Store) scheduleGC(sessionID string) {
	s.afterFunc(s.idleGrace, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		sess, ok := s.sessions[sessionID]
		if !ok {
			return
		}
		if len(sess.Clients) == 0 && sess.AudioSource == nil {
			delete(s.sessions, sessionID)
			logger.Info("session garbage collected", logger.String("session", sessionID))
		}
	})
}

// SetTrack binds track to the session, resets playback state and every
// client's readiness, and persists the binding.
func (s *Store) SetTrack(sessionID string, source *model.AudioSource) error {
	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		s.mu.Unlock()
		return ErrSessionNotFound
	}
	sess.AudioSource = source
	sess.PlaybackState = model.PlaybackState{IsPlaying: false, CurrentTime: 0, LastSyncAt: s.now()}
	for _, c := range sess.Clients {
		c.IsReady = false
	}
	s.mu.Unlock()

	if err := persistSession(s.persistPath, sess); err != nil {
		logger.Warn("failed to persist session", logger.ErrorField(err), logger.String("session", sessionID))
	}
	return nil
}

// UpdatePlayback applies patch under the session lock and bumps
// LastSyncAt. Playback state is ephemeral by design and is never
// persisted (§4.5).
func (s *Store) UpdatePlayback(sessionID string, patch func(*model.PlaybackState)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	patch(&sess.PlaybackState)
	sess.PlaybackState.LastSyncAt = s.now()
	return nil
}

// SetReady marks a client ready for playback (post `ready` message).
func (s *Store) SetReady(clientID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sessionID, ok := s.clientIndex[clientID]
	if !ok {
		return
	}
	if c, ok := s.sessions[sessionID].Clients[clientID]; ok {
		c.IsReady = true
	}
}

// SetLatency records the server-side latency estimate for a client (the
// one-way arrival delta from clocksync.ServerLatencyMs) and
// refreshes LastSeen, since ping is the client's heartbeat (§4.1's
// warm-up/periodic ping schedule doubles as the presence signal —
// LastSeen is diagnostic only and never drives GC timing, which stays
// on the 60s empty-and-trackless rule in §4.5).
func (s *Store) SetLatency(clientID string, latencyMs int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sessionID, ok := s.clientIndex[clientID]
	if !ok {
		return
	}
	if c, ok := s.sessions[sessionID].Clients[clientID]; ok {
		c.LatencyMs = latencyMs
		c.LastSeen = s.now()
	}
}

// AllReady reports whether every current client in the session has
// sent `ready`. An empty session is vacuously ready.
func (s *Store) AllReady(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return false
	}
	for _, c := range sess.Clients {
		if !c.IsReady {
			return false
		}
	}
	return true
}

// Roster returns a snapshot of the session's current clients.
func (s *Store) Roster(sessionID string) []*model.Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil
	}
	out := make([]*model.Client, 0, len(sess.Clients))
	for _, c := range sess.Clients {
		out = append(out, c)
	}
	return out
}

// Get returns a snapshot copy of session state (not the live pointer)
// for read-only callers such as the HTTP diagnostics endpoint.
func (s *Store) Get(sessionID string) (model.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return model.Session{}, false
	}
	clientsCopy := make(map[string]*model.Client, len(sess.Clients))
	for k, v := range sess.Clients {
		vv := *v
		clientsCopy[k] = &vv
	}
	return model.Session{
		ID:            sess.ID,
		CreatedAt:     sess.CreatedAt,
		AudioSource:   sess.AudioSource,
		PlaybackState: sess.PlaybackState,
		Clients:       clientsCopy,
	}, true
}

// ClientSession returns the id of the session a client currently
// belongs to.
func (s *Store) ClientSession(clientID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.clientIndex[clientID]
	return id, ok
}

// Client returns the live client record for clientID, for callers that
// need a single addressee (e.g. a targeted error envelope or a
// per-channel audio_ready payload).
func (s *Store) Client(clientID string) (*model.Client, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sessionID, ok := s.clientIndex[clientID]
	if !ok {
		return nil, false
	}
	c, ok := s.sessions[sessionID].Clients[clientID]
	return c, ok
}

// SendTo delivers payload to exactly one client, bypassing the session
// roster entirely. Used for targeted error envelopes (§7: "Ingestion
// errors produce a targeted error envelope to the submitting client,
// not a broadcast").
func (s *Store) SendTo(clientID string, payload []byte) error {
	c, ok := s.Client(clientID)
	if !ok {
		return ErrSessionNotFound
	}
	return c.Conn.Enqueue(payload)
}

// Broadcast delivers payload to every client in sessionID's roster
// except excludeClientID (empty string excludes none). Best-effort: a
// write error to one peer never aborts delivery to the others (§4.6).
func (s *Store) Broadcast(sessionID string, payload []byte, excludeClientID string) {
	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		s.mu.Unlock()
		return
	}
	targets := make([]*model.Client, 0, len(sess.Clients))
	for id, c := range sess.Clients {
		if id == excludeClientID {
			continue
		}
		targets = append(targets, c)
	}
	s.mu.Unlock()

	for _, c := range targets {
		if err := c.Conn.Enqueue(payload); err != nil {
			logger.Warn("broadcast write failed", logger.ErrorField(err), logger.String("client", c.ID))
		}
	}
}
