// package library indexes the local media library and answers existence
// queries for playlist tracks.
//
// The index is built once per run by bulk-loading the active media server's
// tracks and bucketing them by normalized artist token; after [Index.Load]
// returns it is read-only and safe for concurrent lookups.
package library

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/mkdw/soulsync/internal/matching"
	"github.com/mkdw/soulsync/internal/models"
	"github.com/mkdw/soulsync/internal/textnorm"
)

// DefaultMinConfidence is the existence threshold for Exists when the caller
// passes zero. The playlist-display gate uses matching.ThresholdHigh instead.
const DefaultMinConfidence = 0.70

// TrackSource supplies library tracks; implemented by the media-server clients.
type TrackSource interface {
	Source() models.ServerSource
	ListTracks(ctx context.Context) ([]models.LibraryTrack, error)
}

// Index is the per-run local-library index.
type Index struct {
	logger  *log.Logger
	tracks  []models.LibraryTrack
	buckets map[string][]int // normalized artist token -> track indexes
	loaded  bool
}

// NewIndex creates an empty Index.
func NewIndex(logger *log.Logger) *Index {
	if logger == nil {
		logger = log.Default()
	}
	return &Index{logger: logger, buckets: make(map[string][]int)}
}

// Load bulk-loads the source's tracks and builds the artist buckets.
// It replaces any previously loaded data.
func (ix *Index) Load(ctx context.Context, src TrackSource) error {
	tracks, err := src.ListTracks(ctx)
	if err != nil {
		return fmt.Errorf("failed to load library tracks: %w", err)
	}

	ix.tracks = tracks
	ix.buckets = make(map[string][]int)
	for i, tr := range tracks {
		for _, token := range artistTokens(tr.ArtistName) {
			ix.buckets[token] = append(ix.buckets[token], i)
		}
	}
	ix.loaded = true

	ix.logger.Info("library index loaded", "server", src.Source(), "tracks", len(tracks), "buckets", len(ix.buckets))
	return nil
}

// Len returns the number of indexed tracks.
func (ix *Index) Len() int { return len(ix.tracks) }

// Loaded reports whether Load has completed.
func (ix *Index) Loaded() bool { return ix.loaded }

// Exists looks up a (title, artist) pair and returns the best library match at
// or above minConfidence, along with its confidence. Returns (nil, 0) when
// nothing qualifies.
//
// serverFilter restricts matches to one media server; pass "" for any. An
// empty artist switches to title-only comparison with the threshold raised by
// 0.05.
func (ix *Index) Exists(title, artist string, minConfidence float64, serverFilter models.ServerSource) (*models.LibraryTrack, float64) {
	if minConfidence <= 0 {
		minConfidence = DefaultMinConfidence
	}

	titleOnly := strings.TrimSpace(artist) == ""
	if titleOnly {
		minConfidence += 0.05
	}

	var shortlist []int
	if titleOnly {
		shortlist = ix.allIndexes()
	} else {
		shortlist = ix.shortlist(artist)
	}

	expected := matching.TrackMeta{Title: title, Artist: artist}

	var best *models.LibraryTrack
	bestConf := 0.0
	for _, i := range shortlist {
		tr := ix.tracks[i]
		if serverFilter != "" && tr.ServerSource != serverFilter {
			continue
		}

		r := matching.Score(expected, matching.TrackMeta{
			Title:      tr.Title,
			Artist:     tr.ArtistName,
			Album:      tr.AlbumTitle,
			DurationMS: tr.DurationMS,
		}, matching.ScoreOptions{VersionAware: true})

		if conf := r.Effective(); conf > bestConf {
			bestConf = conf
			best = &ix.tracks[i]
		}
	}

	if best == nil || bestConf < minConfidence {
		return nil, 0
	}
	return best, bestConf
}

// shortlist returns the union of bucket hits for the expected artist's tokens.
func (ix *Index) shortlist(artist string) []int {
	seen := make(map[int]struct{})
	var out []int
	for _, token := range artistTokens(artist) {
		for _, i := range ix.buckets[token] {
			if _, ok := seen[i]; ok {
				continue
			}
			seen[i] = struct{}{}
			out = append(out, i)
		}
	}
	return out
}

func (ix *Index) allIndexes() []int {
	out := make([]int, len(ix.tracks))
	for i := range ix.tracks {
		out[i] = i
	}
	return out
}

// artistTokens yields the bucket keys for an artist name: each normalized word
// of each credited artist, "the" excluded.
func artistTokens(artist string) []string {
	var out []string
	for _, part := range matching.SplitArtists(artist) {
		for _, token := range strings.Fields(textnorm.NormalizeForMatch(part)) {
			if token == "the" {
				continue
			}
			out = append(out, token)
		}
	}
	return out
}
