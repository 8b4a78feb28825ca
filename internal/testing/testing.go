// package testing contains shared test doubles for the pipeline's external
// collaborators.
package testing

import (
	"context"
	"net/http"
	"os"
	"sync"
	"testing"

	"github.com/mkdw/soulsync/internal/models"
	"github.com/mkdw/soulsync/internal/services"
	"github.com/mkdw/soulsync/internal/shared"
)

// FakeCatalog is an in-memory [services.Catalog].
type FakeCatalog struct {
	mu        sync.Mutex
	Playlists []models.Playlist
	Hits      map[string][]services.CatalogTrack
	Err       error

	Queries []string
}

func (f *FakeCatalog) ListPlaylists(ctx context.Context) ([]models.Playlist, error) {
	return f.Playlists, f.Err
}

func (f *FakeCatalog) GetPlaylist(ctx context.Context, id string) (*models.Playlist, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	for i := range f.Playlists {
		if f.Playlists[i].ID == id {
			return &f.Playlists[i], nil
		}
	}
	return nil, shared.ErrPlaylistNotFound
}

func (f *FakeCatalog) SearchTracks(ctx context.Context, query string, limit int) ([]services.CatalogTrack, error) {
	f.mu.Lock()
	f.Queries = append(f.Queries, query)
	hits := f.Hits[query]
	f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// FakeMediaServer is an in-memory [services.MediaServer].
type FakeMediaServer struct {
	mu       sync.Mutex
	Kind     models.ServerSource
	Tracks   []models.LibraryTrack
	Scanning bool
	Down     bool

	ScanCount     int
	SavedPlaylist struct {
		Name     string
		TrackIDs []string
		Backup   string
	}
}

func (f *FakeMediaServer) Source() models.ServerSource {
	if f.Kind == "" {
		return models.SourcePlex
	}
	return f.Kind
}

func (f *FakeMediaServer) IsConnected(ctx context.Context) bool { return !f.Down }

func (f *FakeMediaServer) ListTracks(ctx context.Context) ([]models.LibraryTrack, error) {
	return f.Tracks, nil
}

func (f *FakeMediaServer) TriggerScan(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ScanCount++
	f.Scanning = true
	return nil
}

func (f *FakeMediaServer) IsScanning(ctx context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Scanning, nil
}

// FinishScan flips the fake out of the scanning state.
func (f *FakeMediaServer) FinishScan() {
	f.mu.Lock()
	f.Scanning = false
	f.mu.Unlock()
}

func (f *FakeMediaServer) CreateOrUpdatePlaylist(ctx context.Context, name string, trackIDs []string, backupName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.SavedPlaylist.Name = name
	f.SavedPlaylist.TrackIDs = trackIDs
	f.SavedPlaylist.Backup = backupName
	return nil
}

// FakeDaemon is an idle transfer daemon: searches return no responses and the
// transfer table stays empty. Tests that need richer behavior define their own.
type FakeDaemon struct {
	HealthErr error
}

func (f *FakeDaemon) Search(ctx context.Context, query string) (string, error) {
	return "search-" + query, nil
}

func (f *FakeDaemon) SearchResponses(ctx context.Context, searchID string) ([]services.SearchResponse, error) {
	return nil, nil
}

func (f *FakeDaemon) EnqueueDownload(ctx context.Context, username, filename string, size int64) error {
	return nil
}

func (f *FakeDaemon) Downloads(ctx context.Context) ([]services.TransferRow, error) {
	return nil, nil
}

func (f *FakeDaemon) CancelDownload(ctx context.Context, username, transferID string, remove bool) error {
	return nil
}

func (f *FakeDaemon) Healthy(ctx context.Context) error { return f.HealthErr }

// FakeLookuper returns a canned fingerprint lookup result.
type FakeLookuper struct {
	Result *services.LookupResult
	Err    error
}

func (f *FakeLookuper) Lookup(ctx context.Context, fingerprint string, durationSec int) (*services.LookupResult, error) {
	return f.Result, f.Err
}

// MockRoundTripper substitutes a canned HTTP response.
type MockRoundTripper struct {
	Response *http.Response
	Err      error
}

func (m *MockRoundTripper) RoundTrip(*http.Request) (*http.Response, error) {
	return m.Response, m.Err
}

func AssertFileExists(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Errorf("file does not exist: %s", path)
	}
}

func MustReadFile(t *testing.T, path string) string {
	t.Helper()
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read file %s: %v", path, err)
	}
	return string(content)
}
