// YouTube ingestion implementation of [YouTubeIngest]
//
// Communicates with a local extraction proxy that wraps yt-dlp style playlist
// metadata. Each produced track keeps the raw title/uploader verbatim so the
// external-id resolver can fall back to them.
package services

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/mkdw/soulsync/internal/models"
	"github.com/mkdw/soulsync/internal/shared"
	"github.com/mkdw/soulsync/internal/textnorm"
)

const defaultYouTubeBaseURL = "http://127.0.0.1:8080"

type youtubeEntry struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Uploader    string `json:"uploader"`
	Channel     string `json:"channel"`
	DurationSec int    `json:"duration"`
	URL         string `json:"url"`
}

type youtubePlaylistResponse struct {
	ID       string         `json:"id"`
	Title    string         `json:"title"`
	Uploader string         `json:"uploader"`
	Entries  []youtubeEntry `json:"entries"`
}

// YouTubeClient implements [YouTubeIngest] against the extraction proxy.
type YouTubeClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewYouTubeClient creates a YouTube ingestion client. baseURL defaults to the
// local proxy address.
func NewYouTubeClient(baseURL string, client *http.Client) *YouTubeClient {
	if baseURL == "" {
		baseURL = defaultYouTubeBaseURL
	}
	if client == nil {
		client = NewHTTPClient()
	}
	return &YouTubeClient{baseURL: baseURL, httpClient: client}
}

// FetchPlaylist extracts a YouTube playlist and converts its entries into
// source tracks with minimally-cleaned names. Duration may be absent.
func (y *YouTubeClient) FetchPlaylist(ctx context.Context, playlistURL string) (*models.Playlist, error) {
	if playlistURL == "" {
		return nil, fmt.Errorf("%w: playlist url", shared.ErrMissingArgument)
	}

	endpoint := y.baseURL + "/playlist?" + url.Values{"url": {playlistURL}}.Encode()
	resp, err := doWithRetry(ctx, y.httpClient, func() (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrAPIRequest, err)
	}
	if resp.StatusCode == http.StatusNotFound {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: not a recognized playlist: %s", shared.ErrInvalidInput, playlistURL)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: ingestion proxy returned %d", shared.ErrAPIRequest, resp.StatusCode)
	}

	var payload youtubePlaylistResponse
	if err := decodeJSON(resp, &payload); err != nil {
		return nil, err
	}
	if len(payload.Entries) == 0 {
		return nil, fmt.Errorf("%w: playlist has no entries", shared.ErrInvalidInput)
	}

	playlist := &models.Playlist{
		ID:    payload.ID,
		Name:  payload.Title,
		Owner: payload.Uploader,
	}
	for _, entry := range payload.Entries {
		playlist.Tracks = append(playlist.Tracks, entryToTrack(entry))
	}
	return playlist, nil
}

// entryToTrack converts one raw YouTube entry to a source track: the raw
// strings are preserved verbatim, Name and Artists[0] are cleaned reductions.
func entryToTrack(entry youtubeEntry) models.Track {
	uploader := entry.Uploader
	if uploader == "" {
		uploader = entry.Channel
	}

	cleanedArtist := textnorm.CleanUploader(uploader)
	cleanedTitle := textnorm.CleanYouTubeTitle(entry.Title, cleanedArtist)

	track := models.Track{
		ID:          entry.ID,
		Title:       cleanedTitle,
		Artists:     []string{cleanedArtist},
		DurationMS:  entry.DurationSec * 1000,
		RawTitle:    entry.Title,
		RawUploader: uploader,
	}
	if entry.URL != "" {
		track.ExternalURLs = map[string]string{"youtube": entry.URL}
	}
	return track
}
