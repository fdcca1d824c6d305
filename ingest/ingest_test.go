package ingest

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/wintlu/stereo-play/config"
	"github.com/wintlu/stereo-play/eventbus"
	"github.com/wintlu/stereo-play/model"
)

func TestAwaitProgressiveReadyUnblocksAtThreshold(t *testing.T) {
	dir := t.TempDir()
	left := filepath.Join(dir, "left.mp3")
	right := filepath.Join(dir, "right.mp3")
	if err := os.WriteFile(left, make([]byte, 10), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(right, make([]byte, 10), 0644); err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() {
		done <- awaitProgressiveReady(context.Background(), dir, left, right, 100, 10*time.Millisecond)
	}()

	time.Sleep(30 * time.Millisecond)
	select {
	case <-done:
		t.Fatal("barrier returned before either file reached minBytes")
	default:
	}

	if err := os.WriteFile(left, make([]byte, 200), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(right, make([]byte, 200), 0644); err != nil {
		t.Fatal(err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("barrier never unblocked after files crossed minBytes")
	}
}

func TestAwaitProgressiveReadyRespectsContextCancellation(t *testing.T) {
	dir := t.TempDir()
	left := filepath.Join(dir, "left.mp3")
	right := filepath.Join(dir, "right.mp3")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- awaitProgressiveReady(ctx, dir, left, right, 100, 10*time.Millisecond)
	}()

	cancel()
	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected an error after cancellation")
		}
	case <-time.After(time.Second):
		t.Fatal("barrier did not observe cancellation")
	}
}

func TestWriteMetadataIsAtomicAndReadable(t *testing.T) {
	dir := t.TempDir()
	track := &model.Track{
		ID:          "abc1234567",
		Title:       "Test Track",
		Duration:    123.4,
		Files:       map[string]string{"left": "left.mp3", "right": "right.mp3"},
		OriginalURL: "https://youtube.com/watch?v=xyz",
		CreatedAt:   time.Now(),
	}

	if err := writeMetadata(dir, track); err != nil {
		t.Fatalf("writeMetadata: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "metadata.json.tmp")); !os.IsNotExist(err) {
		t.Fatal("temp file should have been renamed away")
	}

	got, err := readMetadata(dir)
	if err != nil {
		t.Fatalf("readMetadata: %v", err)
	}
	if got.ID != track.ID || got.Title != track.Title {
		t.Fatalf("round-tripped track mismatch: got %+v", got)
	}
}

func TestEnumerateLibrarySortsByCreatedAtDescendingAndSkipsInvalid(t *testing.T) {
	dir := t.TempDir()

	older := &model.Track{ID: "older0000", Title: "Older", CreatedAt: time.Now().Add(-time.Hour)}
	newer := &model.Track{ID: "newer0000", Title: "Newer", CreatedAt: time.Now()}

	for _, track := range []*model.Track{older, newer} {
		trackDir := filepath.Join(dir, track.ID)
		if err := os.MkdirAll(trackDir, 0755); err != nil {
			t.Fatal(err)
		}
		if err := writeMetadata(trackDir, track); err != nil {
			t.Fatal(err)
		}
	}

	// A partially-ingested track with no metadata.json yet must be invisible.
	if err := os.MkdirAll(filepath.Join(dir, "partial000"), 0755); err != nil {
		t.Fatal(err)
	}

	tracks, err := EnumerateLibrary(dir)
	if err != nil {
		t.Fatalf("EnumerateLibrary: %v", err)
	}
	if len(tracks) != 2 {
		t.Fatalf("expected 2 tracks, got %d", len(tracks))
	}
	if tracks[0].ID != newer.ID || tracks[1].ID != older.ID {
		t.Fatalf("expected newer-first ordering, got %s then %s", tracks[0].ID, tracks[1].ID)
	}
}

func TestPipelineRejectsUnacceptedHost(t *testing.T) {
	cfg := &config.Config{
		AcceptedHosts: []string{"youtube.com"},
		LibraryDir:    t.TempDir(),
	}
	p := New(cfg, eventbus.New())

	_, err := p.Ingest(context.Background(), "session-1", "https://evil.example/track")
	if err == nil {
		t.Fatal("expected a rejection for a host outside the allowlist")
	}
}

func TestPipelineRejectsConcurrentIngestForSameSession(t *testing.T) {
	cfg := &config.Config{AcceptedHosts: []string{"youtube.com"}}
	p := New(cfg, eventbus.New())

	if !p.begin("session-1") {
		t.Fatal("first begin should succeed")
	}
	_, err := p.Ingest(context.Background(), "session-1", "https://youtube.com/watch?v=xyz")
	if err == nil {
		t.Fatal("expected Busy while a prior ingest is in progress")
	}
}
