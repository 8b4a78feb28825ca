package library

import (
	"context"
	"testing"

	"github.com/mkdw/soulsync/internal/events"
	"github.com/mkdw/soulsync/internal/models"
)

func TestAnalyzer(t *testing.T) {
	t.Run("splits present and missing", func(t *testing.T) {
		ix := loadedIndex(t)
		analyzer := NewAnalyzer(ix, AnalyzerOpts{Workers: 2})

		tracks := []models.Track{
			{ID: "t1", Title: "Midnight City", Artists: []string{"M83"}},
			{ID: "t2", Title: "Some Unreleased Demo", Artists: []string{"Nobody Known"}},
			{ID: "t3", Title: "Yesterday", Artists: []string{"The Beatles"}},
		}

		results, err := analyzer.Run(context.Background(), tracks)
		if err != nil {
			t.Fatalf("run failed: %v", err)
		}
		if len(results) != 3 {
			t.Fatalf("expected 3 results, got %d", len(results))
		}

		// results come back keyed by playlist index regardless of completion order
		for i, res := range results {
			if res.Index != i {
				t.Errorf("result %d has index %d", i, res.Index)
			}
		}

		if !results[0].InLibrary || !results[2].InLibrary {
			t.Error("known tracks should be in library")
		}
		if results[1].InLibrary {
			t.Error("unknown track should be missing")
		}

		missing := Missing(results)
		if len(missing) != 1 || missing[0].Track.ID != "t2" {
			t.Errorf("expected t2 in missing set, got %+v", missing)
		}
	})

	t.Run("emits lifecycle events", func(t *testing.T) {
		ix := loadedIndex(t)
		bus := events.NewBus(16)
		defer bus.Close()
		ch, cancel := bus.Subscribe()
		defer cancel()

		analyzer := NewAnalyzer(ix, AnalyzerOpts{Workers: 1, Bus: bus})
		tracks := []models.Track{{ID: "t1", Title: "Midnight City", Artists: []string{"M83"}}}

		if _, err := analyzer.Run(context.Background(), tracks); err != nil {
			t.Fatalf("run failed: %v", err)
		}

		var started, analyzed, completed bool
		for i := 0; i < 3; i++ {
			e := <-ch
			switch e.Type {
			case events.AnalysisStarted:
				started = true
			case events.TrackAnalyzed:
				analyzed = true
			case events.AnalysisCompleted:
				completed = true
			}
		}
		if !started || !analyzed || !completed {
			t.Errorf("missing lifecycle events: started=%v analyzed=%v completed=%v", started, analyzed, completed)
		}
	})

	t.Run("empty playlist completes immediately", func(t *testing.T) {
		ix := loadedIndex(t)
		analyzer := NewAnalyzer(ix, AnalyzerOpts{})
		results, err := analyzer.Run(context.Background(), nil)
		if err != nil {
			t.Fatalf("run failed: %v", err)
		}
		if len(results) != 0 {
			t.Errorf("expected no results, got %d", len(results))
		}
	})

	t.Run("cancellation stops work", func(t *testing.T) {
		ix := loadedIndex(t)
		analyzer := NewAnalyzer(ix, AnalyzerOpts{Workers: 1})

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		tracks := make([]models.Track, 50)
		for i := range tracks {
			tracks[i] = models.Track{ID: "t", Title: "Midnight City", Artists: []string{"M83"}}
		}

		if _, err := analyzer.Run(ctx, tracks); err == nil {
			t.Error("expected context error")
		}
	})
}
