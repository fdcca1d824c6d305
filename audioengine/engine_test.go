package audioengine

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/wintlu/stereo-play/eventbus"
)

// fakeSource records the instant and offset it was started with.
type fakeSource struct {
	mu      sync.Mutex
	started bool
	stopped bool
	startAt time.Time
	offset  time.Duration
	volume  float64
}

func (s *fakeSource) Start(at time.Time, offset time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = true
	s.startAt = at
	s.offset = offset
	return nil
}

func (s *fakeSource) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
}

func (s *fakeSource) SetVolume(v float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.volume = v
}

// fakeBackend gives the test full control over "now" and suspension.
type fakeBackend struct {
	mu         sync.Mutex
	now        time.Time
	suspended  bool
	resumeErr  error
	lastSource *fakeSource
}

func (b *fakeBackend) Now() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.now
}

func (b *fakeBackend) advance(d time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.now = b.now.Add(d)
}

func (b *fakeBackend) Suspended() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.suspended
}

func (b *fakeBackend) Resume() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.resumeErr != nil {
		return b.resumeErr
	}
	b.suspended = false
	return nil
}

func (b *fakeBackend) NewSource(buffer []byte) (Source, error) {
	src := &fakeSource{}
	b.mu.Lock()
	b.lastSource = src
	b.mu.Unlock()
	return src, nil
}

func TestPlayAtSchedulesInTheFuture(t *testing.T) {
	backend := &fakeBackend{now: time.Unix(0, 0)}
	e := New(backend, eventbus.New())
	e.Load([]byte("audio"), 10*time.Second)

	target := backend.Now().Add(500 * time.Millisecond)
	if err := e.PlayAt(2.0, target); err != nil {
		t.Fatalf("PlayAt: %v", err)
	}

	src := backend.lastSource
	if !src.started {
		t.Fatalf("source was not started")
	}
	if !src.startAt.Equal(target) {
		t.Fatalf("startAt = %v, want %v", src.startAt, target)
	}
	if src.offset != 2*time.Second {
		t.Fatalf("offset = %v, want 2s", src.offset)
	}
}

func TestPlayAtInThePastStartsImmediately(t *testing.T) {
	backend := &fakeBackend{now: time.Unix(100, 0)}
	e := New(backend, eventbus.New())
	e.Load([]byte("audio"), 10*time.Second)

	past := backend.Now().Add(-5 * time.Second)
	if err := e.PlayAt(0, past); err != nil {
		t.Fatalf("PlayAt: %v", err)
	}
	if !backend.lastSource.startAt.Equal(backend.Now()) {
		t.Fatalf("expected immediate start at now(), got %v", backend.lastSource.startAt)
	}
}

func TestPlayAtFailsWhenBackendCannotResume(t *testing.T) {
	backend := &fakeBackend{now: time.Unix(0, 0), suspended: true, resumeErr: errors.New("needs gesture")}
	e := New(backend, eventbus.New())
	e.Load([]byte("audio"), time.Second)

	err := e.PlayAt(0, backend.Now())
	if !errors.Is(err, ErrBackendSuspended) {
		t.Fatalf("err = %v, want ErrBackendSuspended", err)
	}
}

func TestGetCurrentTimeTracksStartAnchor(t *testing.T) {
	backend := &fakeBackend{now: time.Unix(0, 0)}
	e := New(backend, eventbus.New())
	e.Load([]byte("audio"), 10*time.Second)

	if err := e.PlayAt(3*time.Second.Seconds(), backend.Now()); err != nil {
		t.Fatalf("PlayAt: %v", err)
	}
	backend.advance(2 * time.Second)

	got := e.GetCurrentTime()
	if got != 5*time.Second {
		t.Fatalf("GetCurrentTime = %v, want 5s (3s start offset + 2s elapsed)", got)
	}
}

func TestPauseCapturesResumeOffset(t *testing.T) {
	backend := &fakeBackend{now: time.Unix(0, 0)}
	e := New(backend, eventbus.New())
	e.Load([]byte("audio"), 10*time.Second)
	e.PlayAt(0, backend.Now())
	backend.advance(4 * time.Second)

	e.Pause()
	if got := e.GetCurrentTime(); got != 4*time.Second {
		t.Fatalf("paused position = %v, want 4s", got)
	}
	if !backend.lastSource.stopped {
		t.Fatalf("source was not stopped on pause")
	}
}

func TestSeekToClampsToDuration(t *testing.T) {
	backend := &fakeBackend{now: time.Unix(0, 0)}
	e := New(backend, eventbus.New())
	e.Load([]byte("audio"), 5*time.Second)

	e.SeekTo(100) // beyond duration, not playing
	if got := e.GetCurrentTime(); got != 5*time.Second {
		t.Fatalf("seek clamp (idle) = %v, want 5s", got)
	}
}
