package model

import "time"

// Track is a fully or partially ingested audio source. Tracks are
// append-only: once metadata.json is written a Track is never mutated,
// only superseded by a newer one with a fresh ID.
type Track struct {
	ID          string            `json:"id"`
	Title       string            `json:"title"`
	Duration    float64           `json:"duration"`
	Files       map[string]string `json:"files"` // channel -> path relative to the library prefix
	OriginalURL string            `json:"originalUrl"`
	CreatedAt   time.Time         `json:"createdAt"`
}
