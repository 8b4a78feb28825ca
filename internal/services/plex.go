// Plex implementation of [MediaServer]
//
// Authenticates with X-Plex-Token and reads the JSON API. The music section is
// discovered once and cached for the client's lifetime.
package services

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/mkdw/soulsync/internal/models"
	"github.com/mkdw/soulsync/internal/shared"
)

const plexTrackType = "10"

type plexDirectory struct {
	Key        string `json:"key"`
	Type       string `json:"type"`
	Title      string `json:"title"`
	Refreshing bool   `json:"refreshing"`
}

type plexPart struct {
	File string `json:"file"`
}

type plexMedia struct {
	Part []plexPart `json:"Part"`
}

type plexTrackMetadata struct {
	RatingKey        string      `json:"ratingKey"`
	Title            string      `json:"title"`
	GrandparentTitle string      `json:"grandparentTitle"` // artist
	ParentTitle      string      `json:"parentTitle"`      // album
	Index            int         `json:"index"`
	Duration         int         `json:"duration"` // milliseconds
	Media            []plexMedia `json:"Media"`
}

type plexContainer[T any] struct {
	MediaContainer struct {
		MachineIdentifier string `json:"machineIdentifier"`
		Directory         []plexDirectory `json:"Directory"`
		Metadata          []T             `json:"Metadata"`
	} `json:"MediaContainer"`
}

// PlexClient implements [MediaServer] for Plex Media Server.
type PlexClient struct {
	baseURL    string
	token      string
	httpClient *http.Client

	musicSection string
	machineID    string
}

// NewPlexClient creates a Plex client from config.
func NewPlexClient(cfg shared.MediaServerConfig, client *http.Client) *PlexClient {
	if client == nil {
		client = NewHTTPClient()
	}
	return &PlexClient{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		token:      cfg.Token,
		httpClient: client,
	}
}

// Source identifies this backend.
func (p *PlexClient) Source() models.ServerSource { return models.SourcePlex }

func (p *PlexClient) get(ctx context.Context, path string, target any) error {
	resp, err := doWithRetry(ctx, p.httpClient, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+path, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("X-Plex-Token", p.token)
		req.Header.Set("Accept", "application/json")
		return req, nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", shared.ErrAPIRequest, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		return fmt.Errorf("%w: plex returned %d for %s", shared.ErrAPIRequest, resp.StatusCode, path)
	}
	if target == nil {
		resp.Body.Close()
		return nil
	}
	return decodeJSON(resp, target)
}

// IsConnected reports whether the server answers its identity endpoint.
func (p *PlexClient) IsConnected(ctx context.Context) bool {
	var identity plexContainer[struct{}]
	if err := p.get(ctx, "/identity", &identity); err != nil {
		return false
	}
	p.machineID = identity.MediaContainer.MachineIdentifier
	return true
}

// findMusicSection locates and caches the first artist-typed library section.
func (p *PlexClient) findMusicSection(ctx context.Context) (string, error) {
	if p.musicSection != "" {
		return p.musicSection, nil
	}

	var sections plexContainer[struct{}]
	if err := p.get(ctx, "/library/sections", &sections); err != nil {
		return "", err
	}
	for _, dir := range sections.MediaContainer.Directory {
		if dir.Type == "artist" {
			p.musicSection = strings.Trim(dir.Key, "/")
			return p.musicSection, nil
		}
	}
	return "", fmt.Errorf("%w: plex has no music section", shared.ErrServiceUnavailable)
}

// ListTracks bulk-loads every track of the music section.
func (p *PlexClient) ListTracks(ctx context.Context) ([]models.LibraryTrack, error) {
	section, err := p.findMusicSection(ctx)
	if err != nil {
		return nil, err
	}

	var container plexContainer[plexTrackMetadata]
	if err := p.get(ctx, "/library/sections/"+section+"/all?type="+plexTrackType, &container); err != nil {
		return nil, err
	}

	tracks := make([]models.LibraryTrack, 0, len(container.MediaContainer.Metadata))
	for _, md := range container.MediaContainer.Metadata {
		track := models.LibraryTrack{
			ID:           md.RatingKey,
			Title:        md.Title,
			ArtistName:   md.GrandparentTitle,
			AlbumTitle:   md.ParentTitle,
			TrackNumber:  md.Index,
			DurationMS:   md.Duration,
			ServerSource: models.SourcePlex,
		}
		if len(md.Media) > 0 && len(md.Media[0].Part) > 0 {
			track.FilePath = md.Media[0].Part[0].File
		}
		tracks = append(tracks, track)
	}
	return tracks, nil
}

// TriggerScan refreshes the music section.
func (p *PlexClient) TriggerScan(ctx context.Context) error {
	section, err := p.findMusicSection(ctx)
	if err != nil {
		return err
	}
	return p.get(ctx, "/library/sections/"+section+"/refresh", nil)
}

// IsScanning reports whether any library section is refreshing.
func (p *PlexClient) IsScanning(ctx context.Context) (bool, error) {
	var sections plexContainer[struct{}]
	if err := p.get(ctx, "/library/sections", &sections); err != nil {
		return false, err
	}
	for _, dir := range sections.MediaContainer.Directory {
		if dir.Refreshing {
			return true, nil
		}
	}
	return false, nil
}

type plexPlaylist struct {
	RatingKey string `json:"ratingKey"`
	Title     string `json:"title"`
}

// CreateOrUpdatePlaylist replaces the named audio playlist. An existing
// playlist is renamed to backupName when given, otherwise deleted.
func (p *PlexClient) CreateOrUpdatePlaylist(ctx context.Context, name string, trackIDs []string, backupName string) error {
	var existing plexContainer[plexPlaylist]
	if err := p.get(ctx, "/playlists?playlistType=audio", &existing); err != nil {
		return err
	}

	for _, pl := range existing.MediaContainer.Metadata {
		if pl.Title != name {
			continue
		}
		if backupName != "" {
			if err := p.put(ctx, "/playlists/"+pl.RatingKey+"?title="+url.QueryEscape(backupName)); err != nil {
				return err
			}
		} else if err := p.delete(ctx, "/playlists/"+pl.RatingKey); err != nil {
			return err
		}
	}

	if p.machineID == "" && !p.IsConnected(ctx) {
		return fmt.Errorf("%w: plex identity unavailable", shared.ErrServiceUnavailable)
	}

	uri := fmt.Sprintf("server://%s/com.plexapp.plugins.library/library/metadata/%s",
		p.machineID, strings.Join(trackIDs, ","))
	path := "/playlists?" + url.Values{
		"type":  {"audio"},
		"title": {name},
		"smart": {"0"},
		"uri":   {uri},
	}.Encode()

	return p.post(ctx, path)
}

func (p *PlexClient) post(ctx context.Context, path string) error {
	return p.send(ctx, http.MethodPost, path)
}

func (p *PlexClient) put(ctx context.Context, path string) error {
	return p.send(ctx, http.MethodPut, path)
}

func (p *PlexClient) delete(ctx context.Context, path string) error {
	return p.send(ctx, http.MethodDelete, path)
}

func (p *PlexClient) send(ctx context.Context, method, path string) error {
	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("X-Plex-Token", p.token)
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", shared.ErrAPIRequest, err)
	}
	resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: plex returned %d for %s %s", shared.ErrAPIRequest, resp.StatusCode, method, path)
	}
	return nil
}
