// Streaming-catalog implementation of [Catalog]
//
// Response types follow the Spotify Web API shapes; auth uses the oauth2
// client-credentials flow. Interactive user flows live outside the engine.
package services

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/mkdw/soulsync/internal/models"
	"github.com/mkdw/soulsync/internal/shared"
	"golang.org/x/oauth2/clientcredentials"
)

const (
	catalogTokenURL = "https://accounts.spotify.com/api/token"
	catalogBaseURL  = "https://api.spotify.com/v1"
)

type catalogArtist struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type catalogAlbum struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	AlbumType   string `json:"album_type"`
	TotalTracks int    `json:"total_tracks"`
}

type catalogTrack struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	Artists      []catalogArtist   `json:"artists"`
	Album        catalogAlbum      `json:"album"`
	DurationMS   int               `json:"duration_ms"`
	ExternalURLs map[string]string `json:"external_urls"`
}

type catalogOwner struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}

type catalogPlaylistTrackItem struct {
	Track catalogTrack `json:"track"`
}

type catalogPlaylistTracks struct {
	Total int                        `json:"total"`
	Items []catalogPlaylistTrackItem `json:"items"`
	Next  *string                    `json:"next"`
}

type catalogPlaylist struct {
	ID         string                `json:"id"`
	Name       string                `json:"name"`
	SnapshotID string                `json:"snapshot_id"`
	Owner      catalogOwner          `json:"owner"`
	Tracks     catalogPlaylistTracks `json:"tracks"`
}

type catalogPaginatedPlaylists struct {
	Items []catalogPlaylist `json:"items"`
	Next  *string           `json:"next"`
}

type catalogSearchResponse struct {
	Tracks struct {
		Items []catalogTrack `json:"items"`
	} `json:"tracks"`
}

// CatalogClient implements [Catalog] against the streaming catalog's REST API.
type CatalogClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewCatalogClient builds a client whose HTTP transport injects
// client-credentials tokens. baseURL defaults to the public API.
func NewCatalogClient(ctx context.Context, cfg shared.CatalogConfig, baseURL string) (*CatalogClient, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, fmt.Errorf("%w: catalog client_id/client_secret", shared.ErrMissingConfig)
	}
	if baseURL == "" {
		baseURL = catalogBaseURL
	}

	conf := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     catalogTokenURL,
	}

	client := conf.Client(ctx)
	client.Timeout = DefaultHTTPTimeout

	return &CatalogClient{baseURL: baseURL, httpClient: client}, nil
}

// NewCatalogClientWithHTTP builds a client over a prepared http.Client; used by
// tests and by callers that manage tokens themselves.
func NewCatalogClientWithHTTP(baseURL string, client *http.Client) *CatalogClient {
	if client == nil {
		client = NewHTTPClient()
	}
	return &CatalogClient{baseURL: baseURL, httpClient: client}
}

func (c *CatalogClient) get(ctx context.Context, path string, target any) error {
	resp, err := doWithRetry(ctx, c.httpClient, func() (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	})
	if err != nil {
		return fmt.Errorf("%w: %v", shared.ErrAPIRequest, err)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		resp.Body.Close()
		return fmt.Errorf("%w: catalog returned 401", shared.ErrNotAuthenticated)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		return fmt.Errorf("%w: catalog returned %d for %s", shared.ErrAPIRequest, resp.StatusCode, path)
	}

	return decodeJSON(resp, target)
}

// ListPlaylists retrieves the authenticated user's playlists, following pagination.
func (c *CatalogClient) ListPlaylists(ctx context.Context) ([]models.Playlist, error) {
	var playlists []models.Playlist
	path := "/me/playlists?limit=50"

	for path != "" {
		var page catalogPaginatedPlaylists
		if err := c.get(ctx, path, &page); err != nil {
			return nil, err
		}
		for _, pl := range page.Items {
			playlists = append(playlists, models.Playlist{
				ID:         pl.ID,
				Name:       pl.Name,
				SnapshotID: pl.SnapshotID,
				Owner:      pl.Owner.DisplayName,
			})
		}
		path = nextPath(page.Next)
	}

	return playlists, nil
}

// GetPlaylist retrieves a playlist with its full track list.
func (c *CatalogClient) GetPlaylist(ctx context.Context, id string) (*models.Playlist, error) {
	var pl catalogPlaylist
	if err := c.get(ctx, "/playlists/"+url.PathEscape(id), &pl); err != nil {
		return nil, err
	}
	if pl.ID == "" {
		return nil, fmt.Errorf("%w: %s", shared.ErrPlaylistNotFound, id)
	}

	out := &models.Playlist{
		ID:         pl.ID,
		Name:       pl.Name,
		SnapshotID: pl.SnapshotID,
		Owner:      pl.Owner.DisplayName,
	}
	for _, item := range pl.Tracks.Items {
		if item.Track.ID == "" {
			continue // local or removed tracks come back empty
		}
		out.Tracks = append(out.Tracks, toTrack(item.Track))
	}

	next := nextPath(pl.Tracks.Next)
	for next != "" {
		var page catalogPlaylistTracks
		if err := c.get(ctx, next, &page); err != nil {
			return nil, err
		}
		for _, item := range page.Items {
			if item.Track.ID == "" {
				continue
			}
			out.Tracks = append(out.Tracks, toTrack(item.Track))
		}
		next = nextPath(page.Next)
	}

	return out, nil
}

// SearchTracks runs a free-text track search.
func (c *CatalogClient) SearchTracks(ctx context.Context, query string, limit int) ([]CatalogTrack, error) {
	if limit <= 0 || limit > 50 {
		limit = 10
	}

	q := url.Values{}
	q.Set("q", query)
	q.Set("type", "track")
	q.Set("limit", fmt.Sprintf("%d", limit))

	var resp catalogSearchResponse
	if err := c.get(ctx, "/search?"+q.Encode(), &resp); err != nil {
		return nil, err
	}

	out := make([]CatalogTrack, 0, len(resp.Tracks.Items))
	for _, tr := range resp.Tracks.Items {
		out = append(out, CatalogTrack{
			Track:            toTrack(tr),
			AlbumType:        tr.Album.AlbumType,
			AlbumTotalTracks: tr.Album.TotalTracks,
		})
	}
	return out, nil
}

func toTrack(tr catalogTrack) models.Track {
	artists := make([]string, 0, len(tr.Artists))
	for _, a := range tr.Artists {
		artists = append(artists, a.Name)
	}
	return models.Track{
		ID:           tr.ID,
		Title:        tr.Name,
		Artists:      artists,
		Album:        tr.Album.Name,
		DurationMS:   tr.DurationMS,
		ExternalURLs: tr.ExternalURLs,
	}
}

// nextPath strips the API origin from a pagination URL, returning "" at the end.
func nextPath(next *string) string {
	if next == nil || *next == "" {
		return ""
	}
	u, err := url.Parse(*next)
	if err != nil {
		return ""
	}
	path := u.Path
	if i := len("/v1"); len(path) > i && path[:i] == "/v1" {
		path = path[i:]
	}
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}
	return path
}
