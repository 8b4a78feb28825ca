package tasks

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/mkdw/soulsync/internal/models"
	"github.com/mkdw/soulsync/internal/services"
)

// fakeDaemon scripts the transfer-daemon surface. Search ids equal the query
// string so canned responses can be keyed directly.
type fakeDaemon struct {
	mu        sync.Mutex
	responses map[string][]services.SearchResponse
	rows      []services.TransferRow
	rowsFn    func(call int) []services.TransferRow
	rowCalls  int
	enqueued  []models.SourceKey
	cancelled []string
	healthErr error
}

func (f *fakeDaemon) Search(ctx context.Context, query string) (string, error) {
	return query, nil
}

func (f *fakeDaemon) SearchResponses(ctx context.Context, searchID string) ([]services.SearchResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.responses[searchID], nil
}

func (f *fakeDaemon) EnqueueDownload(ctx context.Context, username, filename string, size int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enqueued = append(f.enqueued, models.SourceKey{Username: username, Filename: filename})
	return nil
}

func (f *fakeDaemon) Downloads(ctx context.Context) ([]services.TransferRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rowsFn != nil {
		f.rowCalls++
		return f.rowsFn(f.rowCalls), nil
	}
	return f.rows, nil
}

func (f *fakeDaemon) CancelDownload(ctx context.Context, username, transferID string, remove bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, fmt.Sprintf("%s/%s/remove=%t", username, transferID, remove))
	return nil
}

func (f *fakeDaemon) Healthy(ctx context.Context) error { return f.healthErr }

func (f *fakeDaemon) enqueuedPairs() []models.SourceKey {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.SourceKey, len(f.enqueued))
	copy(out, f.enqueued)
	return out
}

// fakeClock lets tests advance the stuck-transfer timers without sleeping.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func searchHit(username string, filenames ...string) []services.SearchResponse {
	files := make([]services.SearchFile, 0, len(filenames))
	for _, f := range filenames {
		files = append(files, services.SearchFile{Filename: f, Size: 1 << 20, BitRate: 320})
	}
	return []services.SearchResponse{{Username: username, Files: files}}
}

func newTestController(t *testing.T, daemon *fakeDaemon, clock *fakeClock, track models.Track) *Controller {
	t.Helper()
	return NewController(0, track, daemon, ControllerOpts{
		Now:        clock.Now,
		SearchWait: time.Nanosecond,
	})
}

func TestControllerDispatchesFirstVerifiedCandidate(t *testing.T) {
	daemon := &fakeDaemon{responses: map[string][]services.SearchResponse{
		"M83 Midnight City": searchHit("alice", "M83/Hurry Up/01 Midnight City.flac"),
	}}
	clock := &fakeClock{t: time.Unix(1_000_000, 0)}

	track := models.Track{Title: "Midnight City", Artists: []string{"M83"}, Album: "Hurry Up, We're Dreaming"}
	c := newTestController(t, daemon, clock, track)
	c.Start(context.Background())

	if c.State() != models.StateQueued {
		t.Fatalf("state = %v, want queued", c.State())
	}
	pairs := daemon.enqueuedPairs()
	if len(pairs) != 1 || pairs[0].Username != "alice" {
		t.Errorf("unexpected dispatches: %v", pairs)
	}
	if !c.Download().Used(c.Download().Candidate) {
		t.Error("dispatched candidate must be recorded in used sources")
	}
}

func TestControllerStuckQueueCancelsBeforeRetry(t *testing.T) {
	// Two candidates from the same search. The first sits in queue past the
	// timeout; the controller must cancel it on the daemon before dispatching
	// the second, and bump the retry counter to 1.
	daemon := &fakeDaemon{responses: map[string][]services.SearchResponse{
		"M83 Midnight City": searchHit("alice",
			"M83/Hurry Up/01 Midnight City.flac",
			"M83/Singles/Midnight City.mp3"),
	}}
	clock := &fakeClock{t: time.Unix(1_000_000, 0)}

	track := models.Track{Title: "Midnight City", Artists: []string{"M83"}}
	c := newTestController(t, daemon, clock, track)
	ctx := context.Background()
	c.Start(ctx)

	first := c.Download().Candidate

	// Poller adopts the daemon-assigned transfer id, still queued.
	c.HandleUpdate(ctx, PollUpdate{TransferID: "x1", State: models.StateQueued})
	if c.Download().RetryCount != 0 {
		t.Fatalf("retry before timeout, count = %d", c.Download().RetryCount)
	}

	clock.Advance(91 * time.Second)
	c.HandleUpdate(ctx, PollUpdate{TransferID: "x1", State: models.StateQueued})

	if len(daemon.cancelled) != 1 || daemon.cancelled[0] != "alice/x1/remove=false" {
		t.Errorf("expected cancel-before-retry with remove=false, got %v", daemon.cancelled)
	}
	if c.Download().RetryCount != 1 {
		t.Errorf("retry count = %d, want 1", c.Download().RetryCount)
	}
	if c.State() != models.StateQueued {
		t.Errorf("state = %v, want requeued on next candidate", c.State())
	}
	if c.Download().Candidate.Filename == first.Filename {
		t.Error("controller re-dispatched the stuck source")
	}

	pairs := daemon.enqueuedPairs()
	seen := make(map[models.SourceKey]int)
	for _, p := range pairs {
		seen[p]++
		if seen[p] > 1 {
			t.Errorf("source dispatched twice: %+v", p)
		}
	}
}

func TestControllerZeroProgressTimeout(t *testing.T) {
	daemon := &fakeDaemon{responses: map[string][]services.SearchResponse{
		"M83 Midnight City": searchHit("alice",
			"M83/Hurry Up/01 Midnight City.flac",
			"M83/Singles/Midnight City.mp3"),
	}}
	clock := &fakeClock{t: time.Unix(1_000_000, 0)}
	c := newTestController(t, daemon, clock, models.Track{Title: "Midnight City", Artists: []string{"M83"}})
	ctx := context.Background()
	c.Start(ctx)

	c.HandleUpdate(ctx, PollUpdate{TransferID: "x1", State: models.StateDownloading, Progress: 0})
	clock.Advance(91 * time.Second)
	c.HandleUpdate(ctx, PollUpdate{TransferID: "x1", State: models.StateDownloading, Progress: 0})

	if c.Download().RetryCount != 1 {
		t.Errorf("retry count = %d, want 1 after zero-progress window", c.Download().RetryCount)
	}
	if len(daemon.cancelled) != 1 {
		t.Errorf("expected one daemon cancel, got %v", daemon.cancelled)
	}
}

func TestControllerProgressResetsZeroTimer(t *testing.T) {
	daemon := &fakeDaemon{responses: map[string][]services.SearchResponse{
		"M83 Midnight City": searchHit("alice", "M83/Hurry Up/01 Midnight City.flac"),
	}}
	clock := &fakeClock{t: time.Unix(1_000_000, 0)}
	c := newTestController(t, daemon, clock, models.Track{Title: "Midnight City", Artists: []string{"M83"}})
	ctx := context.Background()
	c.Start(ctx)

	c.HandleUpdate(ctx, PollUpdate{TransferID: "x1", State: models.StateDownloading, Progress: 0})
	clock.Advance(60 * time.Second)
	c.HandleUpdate(ctx, PollUpdate{TransferID: "x1", State: models.StateDownloading, Progress: 12.5})
	clock.Advance(60 * time.Second)
	c.HandleUpdate(ctx, PollUpdate{TransferID: "x1", State: models.StateDownloading, Progress: 12.5})

	if c.Download().RetryCount != 0 {
		t.Errorf("progressing transfer must not be retried, count = %d", c.Download().RetryCount)
	}
	if c.State() != models.StateDownloading {
		t.Errorf("state = %v, want downloading", c.State())
	}
}

func TestControllerRetriesExhaustedFails(t *testing.T) {
	daemon := &fakeDaemon{responses: map[string][]services.SearchResponse{
		"M83 Midnight City": searchHit("alice",
			"M83/a/Midnight City.flac",
			"M83/b/Midnight City.flac",
			"M83/c/Midnight City.flac",
			"M83/d/Midnight City.flac"),
	}}
	clock := &fakeClock{t: time.Unix(1_000_000, 0)}
	c := newTestController(t, daemon, clock, models.Track{Title: "Midnight City", Artists: []string{"M83"}})
	ctx := context.Background()
	c.Start(ctx)

	for i := 0; i < 3 && !c.State().IsTerminal(); i++ {
		c.HandleUpdate(ctx, PollUpdate{TransferID: fmt.Sprintf("x%d", i), State: models.StateFailed})
	}

	if c.State() != models.StateFailed {
		t.Fatalf("state = %v, want failed after retries exhausted", c.State())
	}
	if c.Download().RetryCount != MaxRetries+1 {
		t.Errorf("retry count = %d, want %d", c.Download().RetryCount, MaxRetries+1)
	}
}

func TestControllerNoCandidatesAnywhereFails(t *testing.T) {
	daemon := &fakeDaemon{responses: map[string][]services.SearchResponse{}}
	clock := &fakeClock{t: time.Unix(1_000_000, 0)}
	c := newTestController(t, daemon, clock, models.Track{Title: "Obscurity", Artists: []string{"Nobody"}})
	c.Start(context.Background())

	if c.State() != models.StateFailed {
		t.Errorf("state = %v, want failed when every query is empty", c.State())
	}
}

func TestControllerMissingFromDaemonRetries(t *testing.T) {
	daemon := &fakeDaemon{responses: map[string][]services.SearchResponse{
		"M83 Midnight City": searchHit("alice",
			"M83/a/Midnight City.flac",
			"M83/b/Midnight City.flac"),
	}}
	clock := &fakeClock{t: time.Unix(1_000_000, 0)}
	c := newTestController(t, daemon, clock, models.Track{Title: "Midnight City", Artists: []string{"M83"}})
	ctx := context.Background()
	c.Start(ctx)

	c.HandleUpdate(ctx, PollUpdate{Missing: true})
	if c.Download().RetryCount != 1 {
		t.Errorf("retry count = %d, want 1 after grace exhaustion", c.Download().RetryCount)
	}
	if c.State() != models.StateQueued {
		t.Errorf("state = %v, want requeued on the alternate source", c.State())
	}
}
