package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mkdw/soulsync/internal/models"
	"github.com/mkdw/soulsync/internal/shared"
)

func TestClassifyTransferState(t *testing.T) {
	cases := []struct {
		state string
		want  models.DownloadState
	}{
		{"Completed, Succeeded", models.StateCompleted},
		{"Completed, Cancelled", models.StateCancelled},
		{"Completed, Errored", models.StateFailed},
		{"InProgress", models.StateDownloading},
		{"Queued, Remotely", models.StateQueued},
		{"Requested", models.StateQueued},
		{"Rejected", models.StateFailed},
		{"", models.StateQueued},
	}

	for _, tt := range cases {
		t.Run(tt.state, func(t *testing.T) {
			if got := ClassifyTransferState(tt.state); got != tt.want {
				t.Errorf("ClassifyTransferState(%q) = %v, want %v", tt.state, got, tt.want)
			}
		})
	}
}

func TestSlskdDownloadsFlattensBothLayouts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v0/transfers/downloads" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("X-API-Key") != "secret" {
			t.Errorf("missing api key header")
		}
		fmt.Fprint(w, `[
			{
				"username": "peerA",
				"directories": [
					{"directory": "Music\\M83", "files": [
						{"id": "t1", "filename": "Music\\M83\\Wait.flac", "state": "InProgress", "percentComplete": 42.5}
					]}
				]
			},
			{
				"username": "peerB",
				"files": [
					{"id": "t2", "filename": "Shared\\Song.mp3", "state": "Completed, Succeeded", "percentComplete": 100}
				]
			}
		]`)
	}))
	defer srv.Close()

	client := NewSlskdClient(shared.SlskdConfig{BaseURL: srv.URL, APIKey: "secret"}, srv.Client(), nil)
	rows, err := client.Downloads(context.Background())
	if err != nil {
		t.Fatalf("Downloads returned error: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0].Username != "peerA" || rows[0].Filename != "Music/M83/Wait.flac" {
		t.Errorf("unexpected first row: %+v", rows[0])
	}
	if rows[1].Username != "peerB" || rows[1].Filename != "Shared/Song.mp3" {
		t.Errorf("unexpected second row: %+v", rows[1])
	}
}

func TestSlskdCandidatesNormalizePaths(t *testing.T) {
	responses := []SearchResponse{
		{Username: "peer", Files: []SearchFile{
			{Filename: "Music\\M83\\Hurry Up, We're Dreaming\\Wait.flac", Size: 31457280, BitRate: 1024},
			{Filename: "Music\\M83\\Wait.mp3", Size: 9437184, BitRate: 320},
		}},
	}

	got := Candidates(responses)
	if len(got) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(got))
	}
	if got[0].Filename != "Music/M83/Hurry Up, We're Dreaming/Wait.flac" {
		t.Errorf("path not normalized: %s", got[0].Filename)
	}
	if got[0].Quality != models.QualityFLAC {
		t.Errorf("expected flac quality, got %v", got[0].Quality)
	}
	if got[1].Quality != models.QualityMP3 {
		t.Errorf("expected mp3 quality, got %v", got[1].Quality)
	}
}

func TestSlskdUnreachable(t *testing.T) {
	client := NewSlskdClient(shared.SlskdConfig{BaseURL: "http://127.0.0.1:1", APIKey: "k"}, nil, nil)
	if err := client.Healthy(context.Background()); !errors.Is(err, shared.ErrDaemonUnreachable) {
		t.Errorf("expected ErrDaemonUnreachable, got %v", err)
	}
}

func TestAcoustIDLookup(t *testing.T) {
	t.Run("invalid key maps to sentinel", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"status": "error", "error": {"code": 4, "message": "invalid API key"}}`)
		}))
		defer srv.Close()

		client := NewAcoustIDClient("bad", srv.URL, srv.Client())
		_, err := client.Lookup(context.Background(), "AQAA", 240)
		if !errors.Is(err, shared.ErrInvalidAPIKey) {
			t.Errorf("expected ErrInvalidAPIKey, got %v", err)
		}
	})

	t.Run("429 maps to rate limited", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
		}))
		defer srv.Close()

		client := NewAcoustIDClient("key", srv.URL, srv.Client())
		_, err := client.Lookup(context.Background(), "AQAA", 240)
		if !errors.Is(err, shared.ErrRateLimited) {
			t.Errorf("expected ErrRateLimited, got %v", err)
		}
	})

	t.Run("best score and recordings", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := r.ParseForm(); err != nil {
				t.Fatalf("bad form: %v", err)
			}
			if r.Form.Get("client") != "key" || r.Form.Get("fingerprint") != "AQAA" {
				t.Errorf("unexpected form values: %v", r.Form)
			}
			fmt.Fprint(w, `{
				"status": "ok",
				"results": [
					{"id": "r1", "score": 0.61, "recordings": [{"id": "mbid-1", "title": "Wait", "artists": [{"name": "M83"}]}]},
					{"id": "r2", "score": 0.97, "recordings": [{"id": "mbid-2", "title": "Wait", "artists": [{"name": "M83"}]}]}
				]
			}`)
		}))
		defer srv.Close()

		client := NewAcoustIDClient("key", srv.URL, srv.Client())
		result, err := client.Lookup(context.Background(), "AQAA", 240)
		if err != nil {
			t.Fatalf("Lookup returned error: %v", err)
		}
		if result.BestScore != 0.97 {
			t.Errorf("BestScore = %v, want 0.97", result.BestScore)
		}
		if len(result.Recordings) != 2 {
			t.Errorf("expected 2 recordings, got %d", len(result.Recordings))
		}
		if result.Recordings[0].Artist != "M83" {
			t.Errorf("recording artist = %q", result.Recordings[0].Artist)
		}
	})
}

func TestCatalogGetPlaylistFollowsPagination(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/playlists/pl1":
			next := srv.URL + "/v1/playlists/pl1/tracks?offset=1"
			fmt.Fprintf(w, `{
				"id": "pl1", "name": "Roadtrip", "snapshot_id": "snap1",
				"owner": {"display_name": "someone"},
				"tracks": {
					"total": 2,
					"items": [
						{"track": {"id": "t1", "name": "Wait", "artists": [{"name": "M83"}], "duration_ms": 344000,
							"album": {"name": "Hurry Up, We're Dreaming"}}},
						{"track": {"id": "", "name": "local file"}}
					],
					"next": %q
				}
			}`, next)
		case "/playlists/pl1/tracks":
			fmt.Fprint(w, `{
				"items": [
					{"track": {"id": "t2", "name": "Midnight City", "artists": [{"name": "M83"}], "duration_ms": 244000,
						"album": {"name": "Hurry Up, We're Dreaming"}}}
				],
				"next": null
			}`)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	client := NewCatalogClientWithHTTP(srv.URL, srv.Client())
	pl, err := client.GetPlaylist(context.Background(), "pl1")
	if err != nil {
		t.Fatalf("GetPlaylist returned error: %v", err)
	}
	if pl.Name != "Roadtrip" || pl.SnapshotID != "snap1" {
		t.Errorf("unexpected playlist metadata: %+v", pl)
	}
	if len(pl.Tracks) != 2 {
		t.Fatalf("expected 2 tracks after paging (empty-id entries skipped), got %d", len(pl.Tracks))
	}
	if pl.Tracks[1].Title != "Midnight City" {
		t.Errorf("second page not appended: %+v", pl.Tracks[1])
	}
}

func TestCatalogSearchTracks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("type"); got != "track" {
			t.Errorf("type = %q, want track", got)
		}
		fmt.Fprint(w, `{
			"tracks": {"items": [
				{"id": "t1", "name": "Wait", "artists": [{"name": "M83"}], "duration_ms": 344000,
					"album": {"name": "Hurry Up, We're Dreaming", "album_type": "album", "total_tracks": 22}}
			]}
		}`)
	}))
	defer srv.Close()

	client := NewCatalogClientWithHTTP(srv.URL, srv.Client())
	hits, err := client.SearchTracks(context.Background(), "m83 wait", 5)
	if err != nil {
		t.Fatalf("SearchTracks returned error: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("expected 1 hit, got %d", len(hits))
	}
	if hits[0].AlbumType != "album" || hits[0].AlbumTotalTracks != 22 {
		t.Errorf("album context missing: %+v", hits[0])
	}
	if hits[0].Track.Artists[0] != "M83" {
		t.Errorf("unexpected artist: %v", hits[0].Track.Artists)
	}
}

func TestYouTubeFetchPlaylist(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("url"); got == "" {
			t.Error("missing url query param")
		}
		fmt.Fprint(w, `{
			"id": "PL123", "title": "favorites", "uploader": "someone",
			"entries": [
				{"id": "v1", "title": "M83 - Wait (Official Video)", "uploader": "M83 - Topic", "duration": 344},
				{"id": "v2", "title": "Midnight City [HD]", "channel": "M83VEVO", "duration": 244}
			]
		}`)
	}))
	defer srv.Close()

	client := NewYouTubeClient(srv.URL, srv.Client())
	pl, err := client.FetchPlaylist(context.Background(), "https://youtube.com/playlist?list=PL123")
	if err != nil {
		t.Fatalf("FetchPlaylist returned error: %v", err)
	}
	if len(pl.Tracks) != 2 {
		t.Fatalf("expected 2 tracks, got %d", len(pl.Tracks))
	}

	first := pl.Tracks[0]
	if first.RawTitle != "M83 - Wait (Official Video)" {
		t.Errorf("raw title must survive verbatim, got %q", first.RawTitle)
	}
	if first.Title != "Wait" {
		t.Errorf("cleaned title = %q, want Wait", first.Title)
	}
	if first.Artists[0] != "M83" {
		t.Errorf("cleaned artist = %q, want M83", first.Artists[0])
	}
	if first.DurationMS != 344000 {
		t.Errorf("duration = %d, want 344000", first.DurationMS)
	}

	second := pl.Tracks[1]
	if second.RawUploader != "M83VEVO" {
		t.Errorf("channel fallback failed, raw uploader = %q", second.RawUploader)
	}
}

func TestYouTubeFetchPlaylistErrors(t *testing.T) {
	t.Run("empty url", func(t *testing.T) {
		client := NewYouTubeClient("http://127.0.0.1:1", nil)
		if _, err := client.FetchPlaylist(context.Background(), ""); !errors.Is(err, shared.ErrMissingArgument) {
			t.Errorf("expected ErrMissingArgument, got %v", err)
		}
	})

	t.Run("not found", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}))
		defer srv.Close()

		client := NewYouTubeClient(srv.URL, srv.Client())
		if _, err := client.FetchPlaylist(context.Background(), "https://example.com/x"); !errors.Is(err, shared.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})
}

func TestNavidromeListTracksPages(t *testing.T) {
	page := func(n int) []subsonicSong {
		songs := make([]subsonicSong, n)
		for i := range songs {
			songs[i] = subsonicSong{
				ID: fmt.Sprintf("s%d", i), Title: "Track", Artist: "Artist",
				Duration: 200, Path: "Artist/Album/Track.flac",
			}
		}
		return songs
	}

	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rest/search3.view" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("u") == "" || q.Get("t") == "" || q.Get("s") == "" {
			t.Error("missing auth params")
		}

		calls++
		songs := page(subsonicPageSize)
		if calls == 2 {
			songs = page(3)
		}
		body := map[string]any{"subsonic-response": map[string]any{
			"status":        "ok",
			"searchResult3": map[string]any{"song": songs},
		}}
		json.NewEncoder(w).Encode(body)
	}))
	defer srv.Close()

	client := NewNavidromeClient(shared.MediaServerConfig{
		BaseURL: srv.URL, Username: "u", Password: "p",
	}, srv.Client())

	tracks, err := client.ListTracks(context.Background())
	if err != nil {
		t.Fatalf("ListTracks returned error: %v", err)
	}
	if calls != 2 {
		t.Errorf("expected 2 pages, got %d", calls)
	}
	if len(tracks) != subsonicPageSize+3 {
		t.Errorf("expected %d tracks, got %d", subsonicPageSize+3, len(tracks))
	}
	if tracks[0].DurationMS != 200000 {
		t.Errorf("duration not converted to ms: %d", tracks[0].DurationMS)
	}
	if tracks[0].ServerSource != models.SourceNavidrome {
		t.Errorf("server source = %v", tracks[0].ServerSource)
	}
}

func TestJellyfinIsScanning(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Emby-Token") != "tok" {
			t.Error("missing token header")
		}
		fmt.Fprint(w, `[
			{"Key": "CleanActivityLog", "State": "Idle"},
			{"Key": "RefreshLibrary", "State": "Running"}
		]`)
	}))
	defer srv.Close()

	client := NewJellyfinClient(shared.MediaServerConfig{BaseURL: srv.URL, Token: "tok"}, srv.Client())
	scanning, err := client.IsScanning(context.Background())
	if err != nil {
		t.Fatalf("IsScanning returned error: %v", err)
	}
	if !scanning {
		t.Error("expected scanning=true while RefreshLibrary runs")
	}
}

func TestPlexListTracks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/library/sections":
			fmt.Fprint(w, `{"MediaContainer": {"Directory": [
				{"key": "2", "type": "movie", "title": "Movies"},
				{"key": "5", "type": "artist", "title": "Music"}
			]}}`)
		case "/library/sections/5/all":
			fmt.Fprint(w, `{"MediaContainer": {"Metadata": [
				{"ratingKey": "101", "title": "Wait", "grandparentTitle": "M83",
					"parentTitle": "Hurry Up, We're Dreaming", "index": 15, "duration": 344000,
					"Media": [{"Part": [{"file": "/music/M83/Wait.flac"}]}]}
			]}}`)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	client := NewPlexClient(shared.MediaServerConfig{BaseURL: srv.URL, Token: "tok"}, srv.Client())
	tracks, err := client.ListTracks(context.Background())
	if err != nil {
		t.Fatalf("ListTracks returned error: %v", err)
	}
	if len(tracks) != 1 {
		t.Fatalf("expected 1 track, got %d", len(tracks))
	}
	if tracks[0].ArtistName != "M83" || tracks[0].FilePath != "/music/M83/Wait.flac" {
		t.Errorf("unexpected track: %+v", tracks[0])
	}
}

func TestNewMediaServer(t *testing.T) {
	cases := []struct {
		kind    string
		wantErr bool
	}{
		{"plex", false},
		{"Jellyfin", false},
		{"navidrome", false},
		{"emby", true},
		{"", true},
	}

	for _, tt := range cases {
		t.Run(tt.kind, func(t *testing.T) {
			_, err := NewMediaServer(shared.MediaServerConfig{Kind: tt.kind, BaseURL: "http://x"}, nil)
			if tt.wantErr && !errors.Is(err, shared.ErrInvalidConfig) {
				t.Errorf("expected ErrInvalidConfig, got %v", err)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}
