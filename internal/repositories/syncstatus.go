package repositories

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/renameio/v2"
	"github.com/mkdw/soulsync/internal/models"
)

// SyncStatusStore persists per-playlist sync records in a single JSON file,
// rewritten atomically on every change.
type SyncStatusStore struct {
	path string
}

// NewSyncStatusStore creates a store backed by the given file path.
func NewSyncStatusStore(path string) *SyncStatusStore {
	return &SyncStatusStore{path: path}
}

// load reads the whole file; a missing file is an empty map.
func (s *SyncStatusStore) load() (map[string]models.SyncRecord, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return map[string]models.SyncRecord{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read sync status file: %w", err)
	}

	records := map[string]models.SyncRecord{}
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("failed to parse sync status file: %w", err)
	}
	return records, nil
}

// save rewrites the whole file atomically.
func (s *SyncStatusStore) save(records map[string]models.SyncRecord) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("failed to create sync status dir: %w", err)
	}

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode sync status: %w", err)
	}
	if err := renameio.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write sync status file: %w", err)
	}
	return nil
}

// Record overwrites the record for a playlist. Writing the same record twice
// leaves the file in the same state as writing it once.
func (s *SyncStatusStore) Record(playlistID string, record models.SyncRecord) error {
	records, err := s.load()
	if err != nil {
		return err
	}
	if record.LastSynced == "" {
		record.LastSynced = time.Now().UTC().Format(time.RFC3339)
	}
	records[playlistID] = record
	return s.save(records)
}

// Get returns the record for a playlist, if any.
func (s *SyncStatusStore) Get(playlistID string) (models.SyncRecord, bool, error) {
	records, err := s.load()
	if err != nil {
		return models.SyncRecord{}, false, err
	}
	rec, ok := records[playlistID]
	return rec, ok, nil
}

// All returns every stored record keyed by playlist id.
func (s *SyncStatusStore) All() (map[string]models.SyncRecord, error) {
	return s.load()
}

// Status classifies a playlist against its last recorded sync: never synced,
// stale (the snapshot id changed since), or fresh.
func (s *SyncStatusStore) Status(playlistID, currentSnapshotID string) (models.SyncState, error) {
	rec, ok, err := s.Get(playlistID)
	if err != nil {
		return models.SyncNever, err
	}
	if !ok {
		return models.SyncNever, nil
	}
	if currentSnapshotID != "" && rec.SnapshotID != currentSnapshotID {
		return models.SyncStale, nil
	}
	return models.SyncFresh, nil
}

// Forget drops a playlist's record. Unknown ids are a no-op.
func (s *SyncStatusStore) Forget(playlistID string) error {
	records, err := s.load()
	if err != nil {
		return err
	}
	if _, ok := records[playlistID]; !ok {
		return nil
	}
	delete(records, playlistID)
	return s.save(records)
}
