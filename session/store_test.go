package session

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/wintlu/stereo-play/config"
	"github.com/wintlu/stereo-play/model"
)

type fakeConn struct {
	sent [][]byte
}

func (f *fakeConn) Enqueue(payload []byte) error {
	f.sent = append(f.sent, payload)
	return nil
}

func (f *fakeConn) Close() error { return nil }

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{
		SessionsFile:         filepath.Join(dir, "sessions.json"),
		SessionIdleGraceSecs: 60,
	}
	return New(cfg)
}

func TestChannelAssignmentBalances(t *testing.T) {
	store := newTestStore(t)
	const roomSize = 7
	var channels []model.Channel
	for i := 0; i < roomSize; i++ {
		c, _ := store.Attach("room", clientName(i), &fakeConn{})
		channels = append(channels, c.AssignedChannel)
	}

	var left, right int
	for _, c := range channels {
		switch c {
		case model.ChannelLeft:
			left++
		case model.ChannelRight:
			right++
		}
	}
	diff := left - right
	if diff < -1 || diff > 1 {
		t.Fatalf("left=%d right=%d, diff %d out of {-1,0,1}", left, right, diff)
	}
	if channels[0] != model.ChannelLeft {
		t.Fatalf("first client got %v, want left", channels[0])
	}
	if channels[1] != model.ChannelRight {
		t.Fatalf("second client got %v, want right", channels[1])
	}
}

func clientName(i int) string {
	return "client-" + string(rune('a'+i))
}

func TestSetTrackResetsPlaybackAndReadiness(t *testing.T) {
	store := newTestStore(t)
	c1, _ := store.Attach("room", "c1", &fakeConn{})
	store.SetReady(c1.ID)

	track := &model.AudioSource{URL: "https://youtu.be/x", Title: "T", Duration: 120}
	if err := store.SetTrack("room", track); err != nil {
		t.Fatalf("SetTrack: %v", err)
	}

	if store.AllReady("room") {
		t.Fatalf("AllReady should be false after setTrack resets readiness")
	}
	sess, _ := store.Get("room")
	if sess.PlaybackState.IsPlaying {
		t.Fatalf("playback should not be playing after setTrack")
	}
	if sess.PlaybackState.CurrentTime != 0 {
		t.Fatalf("currentTime should reset to 0")
	}
}

func TestSetTrackThenRestartRehydrates(t *testing.T) {
	dir := t.TempDir()
	sessionsFile := filepath.Join(dir, "sessions.json")
	cfg := &config.Config{SessionsFile: sessionsFile, SessionIdleGraceSecs: 60}

	store1 := New(cfg)
	store1.Attach("x", "c1", &fakeConn{})
	track := &model.AudioSource{URL: "https://youtu.be/x", Title: "Song", Duration: 90}
	if err := store1.SetTrack("x", track); err != nil {
		t.Fatalf("SetTrack: %v", err)
	}

	store2 := New(cfg)
	if err := store2.LoadPersisted(); err != nil {
		t.Fatalf("LoadPersisted: %v", err)
	}
	sess, ok := store2.Get("x")
	if !ok {
		t.Fatalf("session x was not rehydrated")
	}
	if sess.AudioSource == nil || sess.AudioSource.Title != "Song" {
		t.Fatalf("rehydrated audioSource = %+v, want Song", sess.AudioSource)
	}
	if sess.PlaybackState.IsPlaying {
		t.Fatalf("rehydrated session should not be playing")
	}
	if sess.PlaybackState.CurrentTime != 0 {
		t.Fatalf("rehydrated currentTime should be 0")
	}
}

func TestIdleSessionWithoutTrackIsCollected(t *testing.T) {
	store := newTestStore(t)
	store.idleGrace = 10 * time.Millisecond
	store.Attach("y", "c1", &fakeConn{})
	store.Detach("c1")

	deadline := time.Now().Add(200 * time.Millisecond)
	for time.Now().Before(deadline) {
		if _, ok := store.Get("y"); !ok {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("session y was not garbage collected within the grace period")
}

func TestSessionWithTrackSurvivesIdleSweep(t *testing.T) {
	store := newTestStore(t)
	store.idleGrace = 10 * time.Millisecond
	store.Attach("z", "c1", &fakeConn{})
	store.SetTrack("z", &model.AudioSource{URL: "https://youtu.be/z", Title: "Keep", Duration: 1})
	store.Detach("c1")

	time.Sleep(50 * time.Millisecond)
	if _, ok := store.Get("z"); !ok {
		t.Fatalf("session z with a bound track should survive the idle sweep")
	}
}
