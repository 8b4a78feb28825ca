package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/renameio/v2"
)

// appConfigKey is the metadata row that holds the persisted app config blob.
const appConfigKey = "app_config"

// MetadataStore is a small key-value blob store on the metadata table. The
// app-config blob additionally falls back to an atomically-written JSON file
// when the database is unavailable.
type MetadataStore struct {
	db           *sql.DB
	fallbackPath string
}

// NewMetadataStore creates a MetadataStore over a migrated database.
// fallbackDir locates the config fallback file; empty disables the fallback.
func NewMetadataStore(db *sql.DB, fallbackDir string) *MetadataStore {
	s := &MetadataStore{db: db}
	if fallbackDir != "" {
		s.fallbackPath = filepath.Join(fallbackDir, "config.json")
	}
	return s
}

// Set upserts a value under key.
func (s *MetadataStore) Set(ctx context.Context, key, value string) error {
	query := `
		INSERT INTO metadata (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`
	if _, err := s.db.ExecContext(ctx, query, key, value, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to set metadata %s: %w", key, err)
	}
	return nil
}

// Get returns the value under key; ok is false when the key is absent.
func (s *MetadataStore) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM metadata WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get metadata %s: %w", key, err)
	}
	return value, true, nil
}

// SaveAppConfig stores the serialized app config blob, falling back to the
// config file when the database write fails.
func (s *MetadataStore) SaveAppConfig(ctx context.Context, blob string) error {
	err := s.Set(ctx, appConfigKey, blob)
	if err == nil || s.fallbackPath == "" {
		return err
	}

	if mkErr := os.MkdirAll(filepath.Dir(s.fallbackPath), 0o755); mkErr != nil {
		return errors.Join(err, mkErr)
	}
	if fbErr := renameio.WriteFile(s.fallbackPath, []byte(blob), 0o644); fbErr != nil {
		return errors.Join(err, fbErr)
	}
	return nil
}

// LoadAppConfig returns the stored app config blob, consulting the fallback
// file when the database has no row.
func (s *MetadataStore) LoadAppConfig(ctx context.Context) (string, bool, error) {
	blob, ok, err := s.Get(ctx, appConfigKey)
	if err == nil && ok {
		return blob, true, nil
	}
	if s.fallbackPath == "" {
		return blob, ok, err
	}

	data, readErr := os.ReadFile(s.fallbackPath)
	if readErr != nil {
		return blob, ok, err
	}
	return string(data), true, nil
}
