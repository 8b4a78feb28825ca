package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mkdw/soulsync/internal/models"
	"github.com/mkdw/soulsync/internal/textnorm"
)

// WishlistStore records permanently-failed tracks for later retry, keyed by
// normalized (title, primary artist).
type WishlistStore struct {
	db *sql.DB
}

// NewWishlistStore creates a WishlistStore over a migrated database.
func NewWishlistStore(db *sql.DB) *WishlistStore {
	return &WishlistStore{db: db}
}

// WishlistKey derives the composite key for a track.
func WishlistKey(track models.Track) (normTitle, normArtist string) {
	return textnorm.NormalizeForMatch(track.Title), textnorm.NormalizeForMatch(track.PrimaryArtist())
}

// Add upserts a failed track. On conflict the earliest added_at and source
// context win and nothing is incremented, so re-failing a track is a no-op.
func (s *WishlistStore) Add(ctx context.Context, track models.Track, sourceType models.WishlistSourceType, sourceCtx models.WishlistSourceContext) error {
	normTitle, normArtist := WishlistKey(track)
	if normTitle == "" {
		return fmt.Errorf("cannot wishlist a track with an empty title")
	}

	if sourceCtx.AddedAt.IsZero() {
		sourceCtx.AddedAt = time.Now().UTC()
	}
	entry := models.WishlistEntry{
		Track:         track,
		SourceType:    sourceType,
		SourceContext: sourceCtx,
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode wishlist entry: %w", err)
	}

	query := `
		INSERT INTO wishlist (norm_title, norm_artist, payload_json, source_type, added_at, retry_count)
		VALUES (?, ?, ?, ?, ?, 0)
		ON CONFLICT (norm_title, norm_artist) DO NOTHING
	`
	if _, err := s.db.ExecContext(ctx, query, normTitle, normArtist, string(payload), string(sourceType), sourceCtx.AddedAt); err != nil {
		return fmt.Errorf("failed to insert wishlist entry: %w", err)
	}
	return nil
}

// Resolve removes an entry by key. Resolving an absent key is a no-op.
func (s *WishlistStore) Resolve(ctx context.Context, normTitle, normArtist string) error {
	query := `DELETE FROM wishlist WHERE norm_title = ? AND norm_artist = ?`
	if _, err := s.db.ExecContext(ctx, query, normTitle, normArtist); err != nil {
		return fmt.Errorf("failed to delete wishlist entry: %w", err)
	}
	return nil
}

// List returns every entry, most recently added first.
func (s *WishlistStore) List(ctx context.Context) ([]models.WishlistEntry, error) {
	query := `
		SELECT payload_json, retry_count, last_attempt_at
		FROM wishlist
		ORDER BY added_at DESC
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query wishlist: %w", err)
	}
	defer rows.Close()

	var entries []models.WishlistEntry
	for rows.Next() {
		var payload string
		var retryCount int
		var lastAttempt sql.NullTime

		if err := rows.Scan(&payload, &retryCount, &lastAttempt); err != nil {
			return nil, fmt.Errorf("failed to scan wishlist row: %w", err)
		}

		var entry models.WishlistEntry
		if err := json.Unmarshal([]byte(payload), &entry); err != nil {
			return nil, fmt.Errorf("failed to decode wishlist entry: %w", err)
		}
		entry.RetryCount = retryCount
		if lastAttempt.Valid {
			t := lastAttempt.Time
			entry.LastAttemptAt = &t
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// Bump increments an entry's retry counter and stamps the attempt time.
func (s *WishlistStore) Bump(ctx context.Context, normTitle, normArtist string) error {
	query := `
		UPDATE wishlist
		SET retry_count = retry_count + 1, last_attempt_at = ?
		WHERE norm_title = ? AND norm_artist = ?
	`
	if _, err := s.db.ExecContext(ctx, query, time.Now().UTC(), normTitle, normArtist); err != nil {
		return fmt.Errorf("failed to bump wishlist entry: %w", err)
	}
	return nil
}

// Count returns the number of wishlisted tracks.
func (s *WishlistStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM wishlist`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count wishlist: %w", err)
	}
	return n, nil
}
