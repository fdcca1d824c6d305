// Package eventbus implements the in-process publish/subscribe
// mechanism called for by the "ambient event bus" design note (§9):
// the client needs a way for the Audio Engine to announce typed events
// ("audio ended", "audio log") to listeners that have no other
// reference to each other, without reaching for a global custom-event
// channel the way a browser environment would.
package eventbus

import "sync"

// Event is a typed notification carrying an opaque payload. Kind
// names the event ("ended", "log", …); payload shape is up to the
// publisher and subscribers that care about that Kind.
type Event struct {
	Kind    string
	Payload interface{}
}

// Handler receives events for the Kind it was registered under.
type Handler func(Event)

// Bus is a minimal typed pub/sub registry. The zero value is not
// usable; construct with New.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
}

// New returns an empty Bus.
func New() *Bus {
	return &Bus{handlers: make(map[string][]Handler)}
}

// Subscribe registers h to be called for every event published under
// kind. Returns an unsubscribe function.
func (b *Bus) Subscribe(kind string, h Handler) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[kind] = append(b.handlers[kind], h)
	idx := len(b.handlers[kind]) - 1

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		hs := b.handlers[kind]
		if idx < 0 || idx >= len(hs) {
			return
		}
		b.handlers[kind] = append(hs[:idx], hs[idx+1:]...)
	}
}

// Publish delivers an event synchronously to every handler registered
// for its Kind, in registration order. Handlers registered for other
// kinds are not invoked.
func (b *Bus) Publish(evt Event) {
	b.mu.RLock()
	hs := append([]Handler(nil), b.handlers[evt.Kind]...)
	b.mu.RUnlock()

	for _, h := range hs {
		h(evt)
	}
}
