package session

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/wintlu/stereo-play/logger"
	"github.com/wintlu/stereo-play/model"
)

// loadDocument reads the sessions.json document, returning an empty
// one if the file does not yet exist.
func loadDocument(path string) (model.SessionsDocument, error) {
	doc := model.SessionsDocument{Sessions: make(map[string]model.PersistedSession)}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return doc, nil
		}
		return doc, err
	}
	if len(data) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return doc, err
	}
	if doc.Sessions == nil {
		doc.Sessions = make(map[string]model.PersistedSession)
	}
	return doc, nil
}

// writeDocument writes doc atomically: write to a temp file in the
// same directory, then rename over the destination, so a reader never
// observes a partially written document (§5).
func writeDocument(path string, doc model.SessionsDocument) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// persistSession merges the given session's persisted fields into the
// on-disk document, preserving sessions not currently held in memory
// (§4.5: "the writer merges with the existing on-disk document"). Only
// ephemeral-free fields are written; PlaybackState and Clients never
// appear on disk.
func persistSession(path string, s *model.Session) error {
	doc, err := loadDocument(path)
	if err != nil {
		logger.Warn("sessions.json read failed before merge-write", logger.ErrorField(err))
		doc = model.SessionsDocument{Sessions: make(map[string]model.PersistedSession)}
	}

	doc.Sessions[s.ID] = model.PersistedSession{
		ID:          s.ID,
		CreatedAt:   s.CreatedAt,
		AudioSource: s.AudioSource,
	}

	if err := writeDocument(path, doc); err != nil {
		return err
	}
	return nil
}
