package library

import (
	"context"
	"errors"
	"testing"

	"github.com/mkdw/soulsync/internal/models"
)

// stubSource implements TrackSource for tests.
type stubSource struct {
	source models.ServerSource
	tracks []models.LibraryTrack
	err    error
}

func (s *stubSource) Source() models.ServerSource { return s.source }
func (s *stubSource) ListTracks(ctx context.Context) ([]models.LibraryTrack, error) {
	return s.tracks, s.err
}

func testLibrary() []models.LibraryTrack {
	return []models.LibraryTrack{
		{ID: "1", Title: "Midnight City", ArtistName: "M83", AlbumTitle: "Hurry Up, We're Dreaming", ServerSource: models.SourcePlex},
		{ID: "2", Title: "Yesterday", ArtistName: "The Beatles", AlbumTitle: "Help!", ServerSource: models.SourcePlex},
		{ID: "3", Title: "One More Time", ArtistName: "Daft Punk", AlbumTitle: "Discovery", ServerSource: models.SourceJellyfin},
	}
}

func loadedIndex(t *testing.T) *Index {
	t.Helper()
	ix := NewIndex(nil)
	if err := ix.Load(context.Background(), &stubSource{source: models.SourcePlex, tracks: testLibrary()}); err != nil {
		t.Fatalf("failed to load index: %v", err)
	}
	return ix
}

func TestIndex(t *testing.T) {
	t.Run("load error propagates", func(t *testing.T) {
		ix := NewIndex(nil)
		err := ix.Load(context.Background(), &stubSource{err: errors.New("unreachable")})
		if err == nil {
			t.Fatal("expected error")
		}
	})

	t.Run("exact title and artist found", func(t *testing.T) {
		ix := loadedIndex(t)
		match, conf := ix.Exists("Midnight City", "M83", 0, "")
		if match == nil {
			t.Fatal("expected a match")
		}
		if match.ID != "1" {
			t.Errorf("expected track 1, got %s", match.ID)
		}
		if conf < 0.95 {
			t.Errorf("expected near-exact confidence, got %f", conf)
		}
	})

	t.Run("missing track returns nil", func(t *testing.T) {
		ix := loadedIndex(t)
		match, conf := ix.Exists("Nonexistent Song", "Unknown Artist", 0, "")
		if match != nil || conf != 0 {
			t.Errorf("expected (nil, 0), got (%v, %f)", match, conf)
		}
	})

	t.Run("the prefix does not break bucketing", func(t *testing.T) {
		ix := loadedIndex(t)
		match, _ := ix.Exists("Yesterday", "Beatles", 0, "")
		if match == nil {
			t.Fatal("expected bucket hit without the article")
		}
		if match.ID != "2" {
			t.Errorf("expected track 2, got %s", match.ID)
		}
	})

	t.Run("server filter excludes other sources", func(t *testing.T) {
		ix := loadedIndex(t)
		match, _ := ix.Exists("One More Time", "Daft Punk", 0, models.SourcePlex)
		if match != nil {
			t.Errorf("expected no plex match for jellyfin track, got %v", match)
		}
		match, _ = ix.Exists("One More Time", "Daft Punk", 0, models.SourceJellyfin)
		if match == nil {
			t.Error("expected jellyfin match")
		}
	})

	t.Run("empty artist compares title only with raised floor", func(t *testing.T) {
		ix := loadedIndex(t)
		match, conf := ix.Exists("Midnight City", "", 0, "")
		if match == nil {
			t.Fatal("expected title-only match")
		}
		if conf < 0.75 {
			t.Errorf("expected confidence over raised floor, got %f", conf)
		}
	})

	t.Run("empty library", func(t *testing.T) {
		ix := NewIndex(nil)
		if err := ix.Load(context.Background(), &stubSource{source: models.SourcePlex}); err != nil {
			t.Fatalf("load: %v", err)
		}
		match, conf := ix.Exists("Anything", "Anyone", 0, "")
		if match != nil || conf != 0 {
			t.Error("empty library should return (nil, 0)")
		}
	})
}
