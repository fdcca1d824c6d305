package statusmachine

import "testing"

func TestPlayBeforeReadyIsRefused(t *testing.T) {
	m := New()
	if ok := m.Fire(EventPlay); ok {
		t.Fatalf("PLAY from the empty state should be refused")
	}
	if m.State() != StatusNone {
		t.Fatalf("state changed on a refused transition: %v", m.State())
	}
}

func TestHappyPathLoadReadyPlayPause(t *testing.T) {
	m := New()
	var seen []Status
	m.OnChange(func(s Status, _ string) { seen = append(seen, s) })

	steps := []struct {
		evt  Event
		want Status
	}{
		{EventLoad, StatusLoading},
		{EventAutoReady, StatusReady},
		{EventPlay, StatusPlaying},
		{EventPause, StatusPaused},
		{EventPlay, StatusPlaying},
	}
	for _, step := range steps {
		if ok := m.Fire(step.evt); !ok {
			t.Fatalf("event %v refused from state %v", step.evt, m.State())
		}
		if m.State() != step.want {
			t.Fatalf("after %v: state = %v, want %v", step.evt, m.State(), step.want)
		}
	}
	if len(seen) != len(steps) {
		t.Fatalf("observer fired %d times, want %d", len(seen), len(steps))
	}
}

func TestLoadingErrorReturnsToNone(t *testing.T) {
	m := New()
	m.Fire(EventLoad)
	if ok := m.Fire(EventError); !ok {
		t.Fatalf("ERROR from loading should be accepted")
	}
	if m.State() != StatusNone {
		t.Fatalf("state = %v, want empty", m.State())
	}
}

func TestLoadIsAlwaysAccepted(t *testing.T) {
	m := New()
	m.Fire(EventLoad)
	m.Fire(EventAutoReady)
	m.Fire(EventPlay)
	if ok := m.Fire(EventLoad); !ok {
		t.Fatalf("LOAD from playing should always be accepted (new track)")
	}
	if m.State() != StatusLoading {
		t.Fatalf("state = %v, want loading", m.State())
	}
}
