package ingest

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/wintlu/stereo-play/model"
)

// EnumerateLibrary walks the audio root and returns every track whose
// metadata.json parses successfully, sorted by CreatedAt descending
// (§4.4). Directories without a readable metadata file are skipped —
// they are partial or corrupted ingestions, invisible by design.
func EnumerateLibrary(libraryDir string) ([]*model.Track, error) {
	entries, err := os.ReadDir(libraryDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var tracks []*model.Track
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		track, err := readMetadata(filepath.Join(libraryDir, entry.Name()))
		if err != nil {
			continue
		}
		tracks = append(tracks, track)
	}

	sort.Slice(tracks, func(i, j int) bool {
		return tracks[i].CreatedAt.After(tracks[j].CreatedAt)
	})
	return tracks, nil
}

// FindTrack looks up a single track by id for `load_track` (§6). It
// re-reads from disk rather than trusting an in-memory cache since
// tracks are immutable once written and the library is small.
func FindTrack(libraryDir, trackID string) (*model.Track, error) {
	return readMetadata(filepath.Join(libraryDir, trackID))
}
