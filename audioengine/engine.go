// Package audioengine implements the client-side scheduled-start audio
// engine described in §4.2. Go has no browser Web Audio API, so
// playback itself is delegated to a small Backend interface; Engine
// owns the scheduling contract (playAt/pause/seekTo/startAnchor
// bookkeeping) that makes the coordinator's broadcast timestamps
// actually land at the same wall-clock instant on every participating
// device.
package audioengine

import (
	"errors"
	"sync"
	"time"

	"github.com/wintlu/stereo-play/eventbus"
)

// ErrBackendSuspended is returned by PlayAt when the backend is
// suspended and resuming it would require a user gesture the caller
// cannot supply synchronously (mobile autoplay policies, §4.2 step 1).
var ErrBackendSuspended = errors.New("audioengine: backend suspended, needs user gesture")

// Source is one scheduled, loopable playback instance backed by a
// decoded buffer, analogous to a Web Audio AudioBufferSourceNode
// routed through a GainNode.
type Source interface {
	// Start schedules playback to begin at backend time `at`, starting
	// from `offset` into the underlying buffer.
	Start(at time.Time, offset time.Duration) error
	// Stop halts playback and releases the source; safe to call more
	// than once.
	Stop()
	SetVolume(v float64)
}

// Backend is the minimal playback surface Engine needs from its host
// environment.
type Backend interface {
	// Now returns the backend's own clock, distinct from wall-clock
	// time on platforms with a separate audio clock domain.
	Now() time.Time
	Suspended() bool
	// Resume attempts to leave the suspended state. ErrBackendSuspended
	// (or any error) indicates it could not resume synchronously.
	Resume() error
	// NewSource allocates a fresh, looping source over buffer.
	NewSource(buffer []byte) (Source, error)
}

// Engine is the scheduled-start playback controller for one client.
// It is safe for concurrent use.
type Engine struct {
	backend Backend
	bus     *eventbus.Bus

	mu           sync.Mutex
	buffer       []byte
	duration     time.Duration
	ready        bool
	volume       float64
	source       Source
	startAnchor  time.Time // backendTime - F, used to derive getCurrentTime
	pausedOffset time.Duration
	isPlaying    bool

	watchStop chan struct{}
}

// New returns an Engine with default volume 1.0 and no loaded buffer.
func New(backend Backend, bus *eventbus.Bus) *Engine {
	return &Engine{backend: backend, bus: bus, volume: 1.0}
}

// Load installs a freshly fetched buffer as the current source
// material. duration is the track's known length; playback offsets are
// clamped against it.
func (e *Engine) Load(buffer []byte, duration time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.buffer = buffer
	e.duration = duration
	e.ready = true
	e.pausedOffset = 0
	e.isPlaying = false
}

func (e *Engine) IsReady() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ready
}

func (e *Engine) GetDuration() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.duration
}

// PlayAt implements the §4.2 contract: given a future local instant T
// and an offset-within-track F, it (1) resumes a suspended backend
// synchronously or fails, (2) stops any prior source, (3) allocates a
// fresh looping source, (4) schedules it at max(0, T-now) with
// startAnchor bookkeeping, or (5) starts immediately if T has already
// passed.
func (e *Engine) PlayAt(fromTimeSec float64, scheduledLocalInstant time.Time) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.backend.Suspended() {
		if err := e.backend.Resume(); err != nil {
			return ErrBackendSuspended
		}
	}

	if e.source != nil {
		e.source.Stop()
		e.source = nil
	}

	src, err := e.backend.NewSource(e.buffer)
	if err != nil {
		return err
	}
	src.SetVolume(e.volume)

	offset := clampDuration(time.Duration(fromTimeSec*float64(time.Second)), e.duration)

	now := e.backend.Now()
	delay := scheduledLocalInstant.Sub(now)
	if delay < 0 {
		delay = 0
	}
	backendStart := now.Add(delay)

	if err := src.Start(backendStart, offset); err != nil {
		return err
	}

	e.source = src
	e.startAnchor = backendStart.Add(-offset)
	e.isPlaying = true
	return nil
}

// Pause captures the current playback position as the resume offset,
// stops the source, and clears playback state.
func (e *Engine) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.isPlaying {
		return
	}
	e.pausedOffset = e.currentTimeLocked()
	if e.source != nil {
		e.source.Stop()
		e.source = nil
	}
	e.isPlaying = false
}

// SeekTo clamps t into [0, duration] and, if currently playing,
// restarts immediately from the clamped offset without a server round
// trip — a local-only preview; authoritative seeks flow through the
// coordinator and arrive as a broadcast seek event.
func (e *Engine) SeekTo(t float64) {
	e.mu.Lock()
	wasPlaying := e.isPlaying
	target := clampDuration(time.Duration(t*float64(time.Second)), e.duration)
	e.mu.Unlock()

	if !wasPlaying {
		e.mu.Lock()
		e.pausedOffset = target
		e.mu.Unlock()
		return
	}

	_ = e.PlayAt(target.Seconds(), e.backend.Now())
}

func (e *Engine) SetVolume(v float64) {
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.volume = v
	if e.source != nil {
		e.source.SetVolume(v)
	}
}

// GetCurrentTime returns the position within the track implied by the
// backend's clock and startAnchor, or the paused offset when stopped.
func (e *Engine) GetCurrentTime() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.currentTimeLocked()
}

func (e *Engine) currentTimeLocked() time.Duration {
	if !e.isPlaying {
		return e.pausedOffset
	}
	return e.backend.Now().Sub(e.startAnchor)
}

// HandleVisibilityChange resumes a suspended backend when the tab or
// window becomes visible again. It does not re-anchor startAnchor;
// any drift accumulated while suspended is accepted and corrected by
// the next broadcast event, per §4.2's background-tab defence note.
func (e *Engine) HandleVisibilityChange(visible bool) {
	if !visible {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.backend.Suspended() {
		_ = e.backend.Resume()
	}
}

// StartBackgroundResume launches the "every second while isPlaying,
// resume if suspended" watchdog from §4.2. Call Stop to release it.
func (e *Engine) StartBackgroundResume() {
	e.mu.Lock()
	if e.watchStop != nil {
		e.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	e.watchStop = stop
	e.mu.Unlock()

	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				e.mu.Lock()
				playing := e.isPlaying
				suspended := e.backend.Suspended()
				e.mu.Unlock()
				if playing && suspended {
					_ = e.backend.Resume()
				}
			}
		}
	}()
}

func (e *Engine) Stop() {
	e.mu.Lock()
	stop := e.watchStop
	e.watchStop = nil
	if e.source != nil {
		e.source.Stop()
		e.source = nil
	}
	e.isPlaying = false
	e.mu.Unlock()

	if stop != nil {
		close(stop)
	}
	if e.bus != nil {
		e.bus.Publish(eventbus.Event{Kind: "ended"})
	}
}

func clampDuration(d, max time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	if max > 0 && d > max {
		return max
	}
	return d
}
