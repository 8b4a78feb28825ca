// package resolver maps raw YouTube (uploader, title) pairs onto canonical
// catalog tracks.
//
// Resolution runs a sequential fallback chain per track: cleaned strings
// first, then the swapped pair (YouTube listings sometimes invert uploader
// and title), then the raw strings at lower acceptance thresholds. Batches
// run on a small bounded pool with a dispatch stagger so the catalog's rate
// limit is respected.
package resolver

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/mkdw/soulsync/internal/events"
	"github.com/mkdw/soulsync/internal/matching"
	"github.com/mkdw/soulsync/internal/models"
	"github.com/mkdw/soulsync/internal/services"
	"golang.org/x/time/rate"
)

const (
	// DefaultWorkers bounds the resolution pool.
	DefaultWorkers = 3

	// DefaultStagger spaces catalog dispatches.
	DefaultStagger = 150 * time.Millisecond

	// candidatesPerStrategy caps how many catalog hits each strategy scores.
	candidatesPerStrategy = 10
)

// Album-preference bonuses. A catalog track that belongs to a proper album
// outranks the same song released as a single.
const (
	albumBonus       = 0.05
	singleBonus      = -0.02
	compilationBonus = 0.02
)

// strategy is one step of the fallback chain.
type strategy struct {
	name      string
	threshold float64
}

var strategies = []strategy{
	{"cleaned", 0.75},
	{"swapped", 0.75},
	{"raw", 0.60},
	{"raw_title_first", 0.50},
}

// Resolution is the per-track outcome. Index is the track's position in the
// input slice. Resolved is nil when no strategy produced an acceptable match.
type Resolution struct {
	Index      int
	Source     models.Track
	Resolved   *models.Track
	Confidence float64
	Strategy   string
}

// Resolver runs the fallback chain against a catalog search surface.
type Resolver struct {
	catalog services.Catalog
	workers int
	limiter *rate.Limiter
	bus     *events.Bus
	logger  *log.Logger
}

// Opts configures a Resolver.
type Opts struct {
	Workers int
	Stagger time.Duration
	Bus     *events.Bus
	Logger  *log.Logger
}

// New creates a Resolver over a catalog client.
func New(catalog services.Catalog, opts Opts) *Resolver {
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.Stagger <= 0 {
		opts.Stagger = DefaultStagger
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	return &Resolver{
		catalog: catalog,
		workers: opts.Workers,
		limiter: rate.NewLimiter(rate.Every(opts.Stagger), 1),
		bus:     opts.Bus,
		logger:  opts.Logger,
	}
}

// ResolveAll resolves a batch of YouTube-sourced tracks on the bounded pool.
// Results are indexed by input position. Cancellation is cooperative: workers
// check the context between strategies and before every catalog call.
func (r *Resolver) ResolveAll(ctx context.Context, tracks []models.Track) ([]Resolution, error) {
	total := len(tracks)
	results := make([]Resolution, total)
	if total == 0 {
		return results, nil
	}

	jobs := make(chan int, total)
	out := make(chan Resolution, total)

	var wg sync.WaitGroup
	for w := 0; w < r.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				select {
				case <-ctx.Done():
					return
				default:
				}
				out <- r.resolveOne(ctx, i, tracks[i])
			}
		}()
	}

	for i := range tracks {
		jobs <- i
	}
	close(jobs)

	go func() {
		wg.Wait()
		close(out)
	}()

	for res := range out {
		results[res.Index] = res
		r.publishResolved(res)
	}

	return results, ctx.Err()
}

// Resolve runs the fallback chain for a single track.
func (r *Resolver) Resolve(ctx context.Context, track models.Track) Resolution {
	res := r.resolveOne(ctx, 0, track)
	r.publishResolved(res)
	return res
}

// attempt is one strategy's query plus the expected meta candidates are scored
// against. Strategies 3 and 4 pass the raw strings through unchanged.
type attempt struct {
	strategy strategy
	query    string
	expected matching.TrackMeta
}

func (r *Resolver) resolveOne(ctx context.Context, index int, track models.Track) Resolution {
	result := Resolution{Index: index, Source: track}

	for _, att := range buildAttempts(track) {
		select {
		case <-ctx.Done():
			return result
		default:
		}

		best, conf, err := r.runStrategy(ctx, att)
		if err != nil {
			r.logger.Debug("resolution strategy failed",
				"strategy", att.strategy.name, "query", att.query, "error", err)
			continue
		}
		if best == nil || conf < att.strategy.threshold {
			continue
		}

		result.Resolved = best
		result.Confidence = conf
		result.Strategy = att.strategy.name
		return result
	}

	return result
}

// buildAttempts assembles the chain for one track. Attempts with empty
// queries (blank uploader, blank title) are skipped.
func buildAttempts(track models.Track) []attempt {
	cleanedTitle := track.Title
	cleanedArtist := track.PrimaryArtist()
	rawTitle := track.RawTitle
	rawUploader := track.RawUploader

	candidates := []attempt{
		{
			strategy: strategies[0],
			query:    joinQuery(cleanedArtist, cleanedTitle),
			expected: matching.TrackMeta{Title: cleanedTitle, Artist: cleanedArtist, DurationMS: track.DurationMS},
		},
		{
			strategy: strategies[1],
			query:    joinQuery(cleanedTitle, cleanedArtist),
			expected: matching.TrackMeta{Title: cleanedArtist, Artist: cleanedTitle, DurationMS: track.DurationMS},
		},
		{
			strategy: strategies[2],
			query:    joinQuery(rawUploader, rawTitle),
			expected: matching.TrackMeta{Title: rawTitle, Artist: rawUploader, DurationMS: track.DurationMS},
		},
		{
			strategy: strategies[3],
			query:    joinQuery(rawTitle, rawUploader),
			expected: matching.TrackMeta{Title: rawTitle, Artist: rawUploader, DurationMS: track.DurationMS},
		},
	}

	out := candidates[:0]
	for _, att := range candidates {
		if att.query != "" {
			out = append(out, att)
		}
	}
	return out
}

// runStrategy queries the catalog once and scores every hit, applying the
// album-preference bonus before ranking.
func (r *Resolver) runStrategy(ctx context.Context, att attempt) (*models.Track, float64, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, 0, err
	}

	hits, err := r.catalog.SearchTracks(ctx, att.query, candidatesPerStrategy)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: catalog search %q", err, att.query)
	}
	if len(hits) == 0 {
		return nil, 0, nil
	}

	type scored struct {
		hit        services.CatalogTrack
		confidence float64
	}
	ranked := make([]scored, 0, len(hits))
	for _, hit := range hits {
		result := matching.Score(att.expected, matching.TrackMeta{
			Title:      hit.Track.Title,
			Artist:     hit.Track.PrimaryArtist(),
			Album:      hit.Track.Album,
			DurationMS: hit.Track.DurationMS,
		}, matching.ScoreOptions{VersionAware: true})

		conf := result.Effective() + albumPreference(hit)
		if conf > 1 {
			conf = 1
		}
		ranked = append(ranked, scored{hit: hit, confidence: conf})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].confidence > ranked[j].confidence
	})

	top := ranked[0]
	resolved := top.hit.Track
	return &resolved, top.confidence, nil
}

// albumPreference biases toward proper album releases of the same song.
func albumPreference(hit services.CatalogTrack) float64 {
	switch strings.ToLower(hit.AlbumType) {
	case "album":
		if hit.AlbumTotalTracks >= 10 {
			return albumBonus
		}
		return 0
	case "single":
		return singleBonus
	case "compilation":
		return compilationBonus
	default:
		return 0
	}
}

// Resolved filters a batch down to the successful resolutions, substituting
// each source track with its canonical catalog form.
func Resolved(results []Resolution) []models.Track {
	var out []models.Track
	for _, res := range results {
		if res.Resolved != nil {
			out = append(out, *res.Resolved)
		}
	}
	return out
}

func (r *Resolver) publishResolved(res Resolution) {
	if r.bus == nil {
		return
	}
	msg := fmt.Sprintf("Unresolved: %s", res.Source.Title)
	if res.Resolved != nil {
		msg = fmt.Sprintf("Resolved %s -> %s - %s (%.2f via %s)",
			res.Source.Title, res.Resolved.PrimaryArtist(), res.Resolved.Title,
			res.Confidence, res.Strategy)
	}
	r.bus.Publish(events.Event{Type: events.TrackResolved, Message: msg, Payload: res})
}

// joinQuery joins non-empty parts with a single space.
func joinQuery(parts ...string) string {
	var kept []string
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, " ")
}
