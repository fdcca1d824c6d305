// Package statusmachine implements the small client-side status
// automaton from §4.3: a handful of states and the events that move
// between them, rejecting transitions that don't make sense (e.g.
// PLAY before READY) rather than silently accepting them.
package statusmachine

import "sync"

// Status is one of the client's playback lifecycle states.
type Status string

const (
	StatusNone    Status = ""
	StatusLoading Status = "loading"
	StatusReady   Status = "ready"
	StatusPlaying Status = "playing"
	StatusPaused  Status = "paused"
)

// Event is one of the inputs that can move the machine between states.
type Event string

const (
	EventLoad      Event = "LOAD"
	EventAutoReady Event = "AUTO_READY"
	EventPlay      Event = "PLAY"
	EventPause     Event = "PAUSE"
	EventError     Event = "ERROR"
)

// transitions encodes the table in §4.3: fromState -> event -> toState.
// Absence of an entry means the transition is refused.
var transitions = map[Status]map[Event]Status{
	StatusNone: {
		EventLoad: StatusLoading,
	},
	StatusLoading: {
		EventLoad:      StatusLoading,
		EventAutoReady: StatusReady,
		EventError:     StatusNone,
	},
	StatusReady: {
		EventLoad: StatusLoading,
		EventPlay: StatusPlaying,
	},
	StatusPlaying: {
		EventLoad:  StatusLoading,
		EventPause: StatusPaused,
	},
	StatusPaused: {
		EventLoad: StatusLoading,
		EventPlay: StatusPlaying,
	},
}

// Observer is notified on every accepted transition with the new
// state and a human-readable label for display.
type Observer func(state Status, humanLabel string)

var humanLabels = map[Status]string{
	StatusNone:    "idle",
	StatusLoading: "loading…",
	StatusReady:   "ready to play",
	StatusPlaying: "playing",
	StatusPaused:  "paused",
}

// Machine is the status automaton for one client. It supports a single
// display observer, matching the "notify a single display observer"
// requirement in §4.3 — additional fan-out belongs in the caller.
type Machine struct {
	mu       sync.Mutex
	state    Status
	observer Observer
}

// New returns a Machine starting in the empty state.
func New() *Machine {
	return &Machine{state: StatusNone}
}

// OnChange registers the single display observer. Replaces any
// previously registered observer.
func (m *Machine) OnChange(obs Observer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observer = obs
}

// State returns the current status.
func (m *Machine) State() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Fire attempts the named event. It reports whether the transition was
// accepted; unknown transitions are refused and left for the caller to
// log, matching "unknown transitions are refused and logged" in §4.3.
func (m *Machine) Fire(evt Event) bool {
	m.mu.Lock()
	next, ok := transitions[m.state][evt]
	if !ok {
		m.mu.Unlock()
		return false
	}
	m.state = next
	obs := m.observer
	m.mu.Unlock()

	if obs != nil {
		obs(next, humanLabels[next])
	}
	return true
}
