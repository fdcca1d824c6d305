package ingest

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/wintlu/stereo-play/model"
)

// newTrackID mints an opaque 10-char token, unique enough across a
// single library given uuid's collision odds, matching the §3 "opaque
// 10-char token" requirement without pulling in a dedicated short-id
// generator.
func newTrackID() string {
	return uuid.New().String()[:10]
}

// writeMetadata writes the track's metadata.json atomically
// (write-then-rename) so a reader never observes a partial document
// (§4.4 step 4, §5).
func writeMetadata(dir string, track *model.Track) error {
	data, err := json.MarshalIndent(track, "", "  ")
	if err != nil {
		return err
	}
	tmp := filepath.Join(dir, "metadata.json.tmp")
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, filepath.Join(dir, "metadata.json"))
}

// readMetadata parses one track directory's metadata.json.
func readMetadata(dir string) (*model.Track, error) {
	data, err := os.ReadFile(filepath.Join(dir, "metadata.json"))
	if err != nil {
		return nil, err
	}
	var track model.Track
	if err := json.Unmarshal(data, &track); err != nil {
		return nil, err
	}
	return &track, nil
}
