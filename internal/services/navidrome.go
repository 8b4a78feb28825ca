// Navidrome implementation of [MediaServer]
//
// Speaks the Subsonic REST dialect (/rest/*.view) with salted token auth.
package services

import (
	"context"
	"crypto/md5"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/mkdw/soulsync/internal/models"
	"github.com/mkdw/soulsync/internal/shared"
)

const (
	subsonicAPIVersion = "1.16.1"
	subsonicClientName = "soulsync"
	subsonicPageSize   = 500
)

type subsonicSong struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Artist   string `json:"artist"`
	Album    string `json:"album"`
	Track    int    `json:"track"`
	Duration int    `json:"duration"` // seconds
	Path     string `json:"path"`
}

type subsonicResponse struct {
	SubsonicResponse struct {
		Status string `json:"status"`
		Error  struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
		SearchResult3 struct {
			Song []subsonicSong `json:"song"`
		} `json:"searchResult3"`
		ScanStatus struct {
			Scanning bool `json:"scanning"`
		} `json:"scanStatus"`
		Playlists struct {
			Playlist []struct {
				ID   string `json:"id"`
				Name string `json:"name"`
			} `json:"playlist"`
		} `json:"playlists"`
		Playlist struct {
			ID    string         `json:"id"`
			Entry []subsonicSong `json:"entry"`
		} `json:"playlist"`
	} `json:"subsonic-response"`
}

// NavidromeClient implements [MediaServer] for Navidrome via the Subsonic API.
type NavidromeClient struct {
	baseURL    string
	username   string
	password   string
	httpClient *http.Client
}

// NewNavidromeClient creates a Navidrome client from config.
func NewNavidromeClient(cfg shared.MediaServerConfig, client *http.Client) *NavidromeClient {
	if client == nil {
		client = NewHTTPClient()
	}
	return &NavidromeClient{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		username:   cfg.Username,
		password:   cfg.Password,
		httpClient: client,
	}
}

// Source identifies this backend.
func (n *NavidromeClient) Source() models.ServerSource { return models.SourceNavidrome }

// authParams builds the salted-token auth query per the Subsonic spec.
func (n *NavidromeClient) authParams() url.Values {
	saltBytes := make([]byte, 8)
	_, _ = rand.Read(saltBytes)
	salt := hex.EncodeToString(saltBytes)
	sum := md5.Sum([]byte(n.password + salt))

	v := url.Values{}
	v.Set("u", n.username)
	v.Set("t", hex.EncodeToString(sum[:]))
	v.Set("s", salt)
	v.Set("v", subsonicAPIVersion)
	v.Set("c", subsonicClientName)
	v.Set("f", "json")
	return v
}

func (n *NavidromeClient) call(ctx context.Context, view string, params url.Values) (*subsonicResponse, error) {
	q := n.authParams()
	for key, vals := range params {
		for _, val := range vals {
			q.Add(key, val)
		}
	}

	endpoint := n.baseURL + "/rest/" + view + ".view?" + q.Encode()
	resp, err := doWithRetry(ctx, n.httpClient, func() (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrAPIRequest, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: navidrome returned %d for %s", shared.ErrAPIRequest, resp.StatusCode, view)
	}

	var payload subsonicResponse
	if err := decodeJSON(resp, &payload); err != nil {
		return nil, err
	}
	if payload.SubsonicResponse.Status != "ok" {
		return nil, fmt.Errorf("%w: navidrome %s: %s", shared.ErrAPIRequest, view,
			payload.SubsonicResponse.Error.Message)
	}
	return &payload, nil
}

// IsConnected reports whether the server answers a ping.
func (n *NavidromeClient) IsConnected(ctx context.Context) bool {
	_, err := n.call(ctx, "ping", nil)
	return err == nil
}

// ListTracks pages through search3 with an empty query to bulk-load all songs.
func (n *NavidromeClient) ListTracks(ctx context.Context) ([]models.LibraryTrack, error) {
	var tracks []models.LibraryTrack
	offset := 0

	for {
		params := url.Values{}
		params.Set("query", "")
		params.Set("songCount", strconv.Itoa(subsonicPageSize))
		params.Set("songOffset", strconv.Itoa(offset))
		params.Set("artistCount", "0")
		params.Set("albumCount", "0")

		resp, err := n.call(ctx, "search3", params)
		if err != nil {
			return nil, err
		}

		songs := resp.SubsonicResponse.SearchResult3.Song
		for _, song := range songs {
			tracks = append(tracks, models.LibraryTrack{
				ID:           song.ID,
				Title:        song.Title,
				ArtistName:   song.Artist,
				AlbumTitle:   song.Album,
				TrackNumber:  song.Track,
				DurationMS:   song.Duration * 1000,
				FilePath:     song.Path,
				ServerSource: models.SourceNavidrome,
			})
		}

		if len(songs) < subsonicPageSize {
			return tracks, nil
		}
		offset += subsonicPageSize
	}
}

// TriggerScan starts a library scan.
func (n *NavidromeClient) TriggerScan(ctx context.Context) error {
	_, err := n.call(ctx, "startScan", nil)
	return err
}

// IsScanning reports the server's scan status.
func (n *NavidromeClient) IsScanning(ctx context.Context) (bool, error) {
	resp, err := n.call(ctx, "getScanStatus", nil)
	if err != nil {
		return false, err
	}
	return resp.SubsonicResponse.ScanStatus.Scanning, nil
}

// CreateOrUpdatePlaylist replaces the named playlist, optionally preserving
// the previous contents under backupName.
func (n *NavidromeClient) CreateOrUpdatePlaylist(ctx context.Context, name string, trackIDs []string, backupName string) error {
	existing, err := n.call(ctx, "getPlaylists", nil)
	if err != nil {
		return err
	}

	var existingID string
	for _, pl := range existing.SubsonicResponse.Playlists.Playlist {
		if pl.Name == name {
			existingID = pl.ID
			break
		}
	}

	if existingID != "" && backupName != "" {
		detail, err := n.call(ctx, "getPlaylist", url.Values{"id": {existingID}})
		if err == nil && len(detail.SubsonicResponse.Playlist.Entry) > 0 {
			backup := url.Values{"name": {backupName}}
			for _, song := range detail.SubsonicResponse.Playlist.Entry {
				backup.Add("songId", song.ID)
			}
			if _, err := n.call(ctx, "createPlaylist", backup); err != nil {
				return err
			}
		}
	}

	params := url.Values{}
	if existingID != "" {
		params.Set("playlistId", existingID)
	} else {
		params.Set("name", name)
	}
	for _, id := range trackIDs {
		params.Add("songId", id)
	}

	_, err = n.call(ctx, "createPlaylist", params)
	return err
}

// NewMediaServer selects a backend by config kind.
func NewMediaServer(cfg shared.MediaServerConfig, client *http.Client) (MediaServer, error) {
	switch models.ServerSource(strings.ToLower(cfg.Kind)) {
	case models.SourcePlex:
		return NewPlexClient(cfg, client), nil
	case models.SourceJellyfin:
		return NewJellyfinClient(cfg, client), nil
	case models.SourceNavidrome:
		return NewNavidromeClient(cfg, client), nil
	default:
		return nil, fmt.Errorf("%w: unknown media server kind %q", shared.ErrInvalidConfig, cfg.Kind)
	}
}
