// Jellyfin implementation of [MediaServer]
package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/mkdw/soulsync/internal/models"
	"github.com/mkdw/soulsync/internal/shared"
)

type jellyfinItem struct {
	ID           string   `json:"Id"`
	Name         string   `json:"Name"`
	Album        string   `json:"Album"`
	AlbumArtist  string   `json:"AlbumArtist"`
	Artists      []string `json:"Artists"`
	IndexNumber  int      `json:"IndexNumber"`
	RunTimeTicks int64    `json:"RunTimeTicks"` // 100ns units
	Path         string   `json:"Path"`
}

type jellyfinItemsPage struct {
	Items            []jellyfinItem `json:"Items"`
	TotalRecordCount int            `json:"TotalRecordCount"`
}

type jellyfinTask struct {
	Key   string `json:"Key"`
	State string `json:"State"`
}

// JellyfinClient implements [MediaServer] for Jellyfin.
type JellyfinClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewJellyfinClient creates a Jellyfin client from config.
func NewJellyfinClient(cfg shared.MediaServerConfig, client *http.Client) *JellyfinClient {
	if client == nil {
		client = NewHTTPClient()
	}
	return &JellyfinClient{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		token:      cfg.Token,
		httpClient: client,
	}
}

// Source identifies this backend.
func (j *JellyfinClient) Source() models.ServerSource { return models.SourceJellyfin }

func (j *JellyfinClient) request(ctx context.Context, method, path string, body, target any) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
	}

	resp, err := doWithRetry(ctx, j.httpClient, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, method, j.baseURL+path, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("X-Emby-Token", j.token)
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		return req, nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", shared.ErrAPIRequest, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		return fmt.Errorf("%w: jellyfin returned %d for %s %s", shared.ErrAPIRequest, resp.StatusCode, method, path)
	}
	if target == nil {
		resp.Body.Close()
		return nil
	}
	return decodeJSON(resp, target)
}

// IsConnected reports whether the server answers its info endpoint.
func (j *JellyfinClient) IsConnected(ctx context.Context) bool {
	return j.request(ctx, http.MethodGet, "/System/Info", nil, nil) == nil
}

// ListTracks bulk-loads every audio item.
func (j *JellyfinClient) ListTracks(ctx context.Context) ([]models.LibraryTrack, error) {
	path := "/Items?" + url.Values{
		"IncludeItemTypes": {"Audio"},
		"Recursive":        {"true"},
		"Fields":           {"Path"},
	}.Encode()

	var page jellyfinItemsPage
	if err := j.request(ctx, http.MethodGet, path, nil, &page); err != nil {
		return nil, err
	}

	tracks := make([]models.LibraryTrack, 0, len(page.Items))
	for _, item := range page.Items {
		artist := item.AlbumArtist
		if artist == "" && len(item.Artists) > 0 {
			artist = item.Artists[0]
		}
		tracks = append(tracks, models.LibraryTrack{
			ID:           item.ID,
			Title:        item.Name,
			ArtistName:   artist,
			AlbumTitle:   item.Album,
			TrackNumber:  item.IndexNumber,
			DurationMS:   int(item.RunTimeTicks / 10_000),
			FilePath:     item.Path,
			ServerSource: models.SourceJellyfin,
		})
	}
	return tracks, nil
}

// TriggerScan refreshes all libraries.
func (j *JellyfinClient) TriggerScan(ctx context.Context) error {
	return j.request(ctx, http.MethodPost, "/Library/Refresh", nil, nil)
}

// IsScanning reports whether the library-refresh scheduled task is running.
func (j *JellyfinClient) IsScanning(ctx context.Context) (bool, error) {
	var tasks []jellyfinTask
	if err := j.request(ctx, http.MethodGet, "/ScheduledTasks", nil, &tasks); err != nil {
		return false, err
	}
	for _, task := range tasks {
		if task.Key == "RefreshLibrary" && strings.EqualFold(task.State, "Running") {
			return true, nil
		}
	}
	return false, nil
}

// CreateOrUpdatePlaylist replaces the named playlist. The previous playlist's
// items are preserved under backupName when given.
func (j *JellyfinClient) CreateOrUpdatePlaylist(ctx context.Context, name string, trackIDs []string, backupName string) error {
	existingID, existingIDs, err := j.findPlaylist(ctx, name)
	if err != nil {
		return err
	}

	if existingID != "" {
		if backupName != "" && len(existingIDs) > 0 {
			if err := j.createPlaylist(ctx, backupName, existingIDs); err != nil {
				return err
			}
		}
		if err := j.request(ctx, http.MethodDelete, "/Items/"+url.PathEscape(existingID), nil, nil); err != nil {
			return err
		}
	}

	return j.createPlaylist(ctx, name, trackIDs)
}

func (j *JellyfinClient) createPlaylist(ctx context.Context, name string, ids []string) error {
	body := map[string]any{
		"Name":      name,
		"Ids":       ids,
		"MediaType": "Audio",
	}
	return j.request(ctx, http.MethodPost, "/Playlists", body, nil)
}

// findPlaylist returns the named playlist's id and item ids, or "" when absent.
func (j *JellyfinClient) findPlaylist(ctx context.Context, name string) (string, []string, error) {
	path := "/Items?" + url.Values{
		"IncludeItemTypes": {"Playlist"},
		"Recursive":        {"true"},
		"SearchTerm":       {name},
	}.Encode()

	var page jellyfinItemsPage
	if err := j.request(ctx, http.MethodGet, path, nil, &page); err != nil {
		return "", nil, err
	}

	for _, item := range page.Items {
		if item.Name != name {
			continue
		}
		var children jellyfinItemsPage
		childPath := "/Playlists/" + url.PathEscape(item.ID) + "/Items"
		if err := j.request(ctx, http.MethodGet, childPath, nil, &children); err != nil {
			return item.ID, nil, nil // backup is best-effort when children are unreadable
		}
		ids := make([]string, 0, len(children.Items))
		for _, child := range children.Items {
			ids = append(ids, child.ID)
		}
		return item.ID, ids, nil
	}
	return "", nil, nil
}
