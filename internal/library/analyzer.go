package library

import (
	"context"
	"fmt"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/mkdw/soulsync/internal/events"
	"github.com/mkdw/soulsync/internal/models"
)

// DefaultAnalysisWorkers bounds the analysis pool.
const DefaultAnalysisWorkers = 5

// TrackAnalysis is the per-track result of the analysis phase. Index is the
// track's position in the source playlist so callers can reassemble order.
type TrackAnalysis struct {
	Index      int
	Track      models.Track
	Match      *models.LibraryTrack
	Confidence float64
	InLibrary  bool
}

// Analyzer runs library-existence lookups for every playlist track on a
// bounded worker pool.
type Analyzer struct {
	index         *Index
	workers       int
	minConfidence float64
	serverFilter  models.ServerSource
	bus           *events.Bus
	logger        *log.Logger
}

// AnalyzerOpts configures an Analyzer.
type AnalyzerOpts struct {
	Workers       int
	MinConfidence float64
	ServerFilter  models.ServerSource
	Bus           *events.Bus
	Logger        *log.Logger
}

// NewAnalyzer creates an Analyzer over a loaded Index.
func NewAnalyzer(index *Index, opts AnalyzerOpts) *Analyzer {
	if opts.Workers <= 0 {
		opts.Workers = DefaultAnalysisWorkers
	}
	if opts.MinConfidence <= 0 {
		opts.MinConfidence = DefaultMinConfidence
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	return &Analyzer{
		index:         index,
		workers:       opts.Workers,
		minConfidence: opts.MinConfidence,
		serverFilter:  opts.ServerFilter,
		bus:           opts.Bus,
		logger:        opts.Logger,
	}
}

// Run analyzes every track and returns results indexed by playlist position.
// Cancellation is cooperative: workers check the context between lookups.
func (a *Analyzer) Run(ctx context.Context, tracks []models.Track) ([]TrackAnalysis, error) {
	total := len(tracks)
	a.publish(events.Event{Type: events.AnalysisStarted, Message: fmt.Sprintf("Analyzing %d tracks", total), Payload: total})

	results := make([]TrackAnalysis, total)
	if total == 0 {
		a.publish(events.Event{Type: events.AnalysisCompleted, Message: "Nothing to analyze", Payload: results})
		return results, nil
	}

	jobs := make(chan int, total)
	out := make(chan TrackAnalysis, total)

	var wg sync.WaitGroup
	for w := 0; w < a.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				select {
				case <-ctx.Done():
					return
				default:
				}
				out <- a.analyzeOne(i, tracks[i])
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

	analyzed := 0
	for res := range out {
		results[res.Index] = res
		analyzed++
		a.publish(events.Event{
			Type:    events.TrackAnalyzed,
			Message: fmt.Sprintf("[%d/%d] %s - %s", analyzed, total, res.Track.PrimaryArtist(), res.Track.Title),
			Payload: res,
		})
	}

	if err := ctx.Err(); err != nil {
		return results, err
	}

	a.publish(events.Event{Type: events.AnalysisCompleted, Message: fmt.Sprintf("Analyzed %d tracks", total), Payload: results})
	return results, nil
}

// Missing filters analysis results down to the missing set.
func Missing(results []TrackAnalysis) []TrackAnalysis {
	var out []TrackAnalysis
	for _, r := range results {
		if !r.InLibrary {
			out = append(out, r)
		}
	}
	return out
}

func (a *Analyzer) analyzeOne(i int, track models.Track) TrackAnalysis {
	match, conf := a.index.Exists(track.Title, track.PrimaryArtist(), a.minConfidence, a.serverFilter)
	return TrackAnalysis{
		Index:      i,
		Track:      track,
		Match:      match,
		Confidence: conf,
		InLibrary:  match != nil,
	}
}

func (a *Analyzer) publish(e events.Event) {
	if a.bus != nil {
		a.bus.Publish(e)
	}
}
