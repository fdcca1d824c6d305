package model

import "time"

// Conn is the minimal surface the session and transport packages need
// from a client's connection: something that can receive an outbound
// envelope and be closed. The transport package's *transport.Client
// satisfies this; tests can substitute a channel-backed fake without
// dragging in gorilla/websocket.
type Conn interface {
	Enqueue(payload []byte) error
	Close() error
}

// Client is one participant in a Session.
type Client struct {
	ID              string
	SessionID       string
	Conn            Conn
	AssignedChannel Channel
	LatencyMs       int64
	IsReady         bool
	LastSeen        time.Time
}
