// package services defines the client interfaces for the engine's external collaborators
package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mkdw/soulsync/internal/models"
)

// DefaultHTTPTimeout is the read timeout applied to every external service.
const DefaultHTTPTimeout = 15 * time.Second

// NewHTTPClient returns an http.Client with the default timeout.
func NewHTTPClient() *http.Client {
	return &http.Client{Timeout: DefaultHTTPTimeout}
}

// CatalogTrack is a catalog search hit: the track plus album context used by
// the external-id resolver's album-preference bonus.
type CatalogTrack struct {
	Track            models.Track
	AlbumType        string // album, single, compilation
	AlbumTotalTracks int
}

// Catalog is the read-only streaming-catalog surface.
type Catalog interface {
	// ListPlaylists retrieves playlist metadata for the authenticated user.
	ListPlaylists(ctx context.Context) ([]models.Playlist, error)

	// GetPlaylist retrieves a playlist with its full track list and snapshot id.
	GetPlaylist(ctx context.Context, id string) (*models.Playlist, error)

	// SearchTracks runs a free-text track search, returning up to limit hits.
	SearchTracks(ctx context.Context, query string, limit int) ([]CatalogTrack, error)
}

// YouTubeIngest turns a YouTube playlist URL into a source playlist whose
// tracks carry raw title/uploader strings for fallback resolution.
type YouTubeIngest interface {
	FetchPlaylist(ctx context.Context, url string) (*models.Playlist, error)
}

// MediaServer is the uniform surface over Plex, Jellyfin, and Navidrome.
type MediaServer interface {
	// Source identifies the backend; recorded on every LibraryTrack it returns.
	Source() models.ServerSource

	// IsConnected reports whether the server answers at all.
	IsConnected(ctx context.Context) bool

	// ListTracks bulk-loads every music track the server knows about.
	ListTracks(ctx context.Context) ([]models.LibraryTrack, error)

	// TriggerScan asks the server to refresh its music library.
	TriggerScan(ctx context.Context) error

	// IsScanning reports whether a library scan is currently running.
	IsScanning(ctx context.Context) (bool, error)

	// CreateOrUpdatePlaylist replaces the named playlist's contents, keeping a
	// backup under backupName when non-empty.
	CreateOrUpdatePlaylist(ctx context.Context, name string, trackIDs []string, backupName string) error
}

// retrySchedule is the inline backoff for transient-remote failures.
var retrySchedule = []time.Duration{250 * time.Millisecond, time.Second}

// isTransient reports whether a status code should be retried inline.
func isTransient(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}

// doWithRetry executes the request built by build, retrying transient failures
// per retrySchedule. The builder is invoked per attempt so bodies are fresh.
func doWithRetry(ctx context.Context, client *http.Client, build func() (*http.Request, error)) (*http.Response, error) {
	var lastErr error

	for attempt := 0; attempt <= len(retrySchedule); attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(retrySchedule[attempt-1]):
			}
		}

		req, err := build()
		if err != nil {
			return nil, err
		}

		resp, err := client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		if isTransient(resp.StatusCode) {
			resp.Body.Close()
			lastErr = fmt.Errorf("status %d", resp.StatusCode)
			continue
		}
		return resp, nil
	}

	return nil, fmt.Errorf("request failed after retries: %w", lastErr)
}

// decodeJSON drains and decodes a response body into target.
func decodeJSON(resp *http.Response, target any) error {
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if err := json.Unmarshal(body, target); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
