package tasks

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	"github.com/mkdw/soulsync/internal/events"
	"github.com/mkdw/soulsync/internal/matching"
	"github.com/mkdw/soulsync/internal/models"
	"github.com/mkdw/soulsync/internal/shared"
	"golang.org/x/sync/errgroup"
)

// DefaultMaxConcurrent bounds simultaneously-active downloads. This is a track
// bound, not a worker bound; each track's lifetime spans many daemon calls.
const DefaultMaxConcurrent = 3

// FileVerifier checks a completed download against the expected track and
// quarantines rejects. Implemented by the verify package.
type FileVerifier interface {
	Verify(ctx context.Context, filePath, expectedTitle, expectedArtist string) models.VerificationResult
	Quarantine(filePath string) (string, error)
}

// WishlistAdder records permanently-failed tracks for later retry.
type WishlistAdder interface {
	Add(ctx context.Context, track models.Track, sourceType models.WishlistSourceType, sourceCtx models.WishlistSourceContext) error
}

// ScanRequester debounces media-server refresh requests.
type ScanRequester interface {
	RequestScan(reason string)
}

// RunSummary is the terminal accounting of one acquisition run. Every missing
// track lands in exactly one bucket.
type RunSummary struct {
	Total     int           `json:"total"`
	Completed int           `json:"completed"`
	Failed    int           `json:"failed"`
	Cancelled int           `json:"cancelled"`
	Elapsed   time.Duration `json:"elapsed"`
}

// EngineOpts configures an acquisition Engine.
type EngineOpts struct {
	MaxConcurrent int
	DownloadsDir  string
	Quality       matching.QualityPreference
	PollInterval  time.Duration
	SearchWait    time.Duration

	// QueuedTimeout/ZeroProgressTimeout override the stuck-transfer windows.
	QueuedTimeout       time.Duration
	ZeroProgressTimeout time.Duration

	// SourceContext is stamped onto wishlist entries created by this run.
	SourceType    models.WishlistSourceType
	SourceContext models.WishlistSourceContext

	Now func() time.Time
}

// Engine drives acquisition for a missing set: it slots controllers up to the
// concurrency bound and consumes poller snapshots on a single event loop, so
// every state transition for a given track is strictly linear.
type Engine struct {
	daemon   Daemon
	verifier FileVerifier
	wishlist WishlistAdder
	scans    ScanRequester
	bus      *events.Bus
	logger   *log.Logger
	opts     EngineOpts
	now      func() time.Time
}

// NewEngine creates an acquisition Engine. verifier, wishlist, and scans may
// be nil; the matching step is skipped.
func NewEngine(daemon Daemon, verifier FileVerifier, wishlist WishlistAdder, scans ScanRequester, bus *events.Bus, logger *log.Logger, opts EngineOpts) *Engine {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = DefaultMaxConcurrent
	}
	if opts.SourceType == "" {
		opts.SourceType = models.WishlistFromPlaylist
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Engine{
		daemon:   daemon,
		verifier: verifier,
		wishlist: wishlist,
		scans:    scans,
		bus:      bus,
		logger:   logger,
		opts:     opts,
		now:      opts.Now,
	}
}

// RunAcquisition acquires every track in the missing set and returns the
// terminal accounting. The daemon must be reachable before any track starts;
// an unreachable daemon aborts the run with a single run-level failure.
func (e *Engine) RunAcquisition(ctx context.Context, missing []models.Track) (*RunSummary, error) {
	started := e.now()
	summary := &RunSummary{Total: len(missing)}
	if len(missing) == 0 {
		summary.Elapsed = e.now().Sub(started)
		return summary, nil
	}

	if err := e.daemon.Healthy(ctx); err != nil {
		e.publish(events.Event{
			Type:     events.RunFailed,
			Message:  "transfer daemon unreachable",
			Terminal: true,
		})
		return summary, fmt.Errorf("%w: %v", shared.ErrDaemonUnreachable, err)
	}

	pollCtx, stopPoller := context.WithCancel(context.Background())
	defer stopPoller()

	poller := NewPoller(e.daemon, e.opts.PollInterval, e.logger)
	var g errgroup.Group
	g.Go(func() error {
		poller.Run(pollCtx)
		return nil
	})

	pending := make([]models.Track, len(missing))
	copy(pending, missing)
	active := make(map[int]*Controller)
	nextIndex := 0

	fill := func() {
		for {
			for len(active) < e.opts.MaxConcurrent && len(pending) > 0 {
				if ctx.Err() != nil {
					break
				}
				track := pending[0]
				pending = pending[1:]

				c := NewController(nextIndex, track, e.daemon, ControllerOpts{
					Quality:             e.opts.Quality,
					Bus:                 e.bus,
					Logger:              e.logger,
					Now:                 e.now,
					SearchWait:          e.opts.SearchWait,
					QueuedTimeout:       e.opts.QueuedTimeout,
					ZeroProgressTimeout: e.opts.ZeroProgressTimeout,
				})
				nextIndex++
				active[c.Download().DownloadIndex] = c

				// Start runs the search fallback inline; it either dispatches a
				// candidate or reaches a terminal state.
				c.Start(ctx)
			}
			e.reap(ctx, active, summary)

			// Start can reach a terminal state inline (no candidates found),
			// freeing the slot it just took. Keep refilling until every slot
			// holds a live download or the queue drains; otherwise a fully
			// synchronous batch would strand the rest of the missing set.
			if len(pending) == 0 || len(active) >= e.opts.MaxConcurrent || ctx.Err() != nil {
				return
			}
		}
	}

	fill()

loop:
	for len(active) > 0 {
		select {
		case <-ctx.Done():
			e.cancelActive(active)
			e.reap(ctx, active, summary)
			break loop
		case rows, ok := <-poller.C:
			if !ok {
				e.cancelActive(active)
				e.reap(ctx, active, summary)
				break loop
			}
			downloads := make([]*models.ActiveDownload, 0, len(active))
			for _, c := range active {
				downloads = append(downloads, c.Download())
			}
			for _, u := range poller.Correlate(rows, downloads) {
				c, ok := active[u.Index]
				if !ok {
					continue
				}
				c.HandleUpdate(ctx, u)
				if c.State() == models.StateCompleted {
					e.finishCompleted(ctx, c)
				}
			}
			for _, c := range active {
				c.CheckStall(ctx)
			}
			e.reap(ctx, active, summary)
			fill()
		}
	}

	stopPoller()
	_ = g.Wait()

	summary.Elapsed = e.now().Sub(started)

	e.publish(events.Event{
		Type: events.RunSummary,
		Message: fmt.Sprintf("%d completed, %d failed, %d cancelled of %d",
			summary.Completed, summary.Failed, summary.Cancelled, summary.Total),
		Payload:  *summary,
		Terminal: true,
	})

	if err := ctx.Err(); err != nil {
		return summary, err
	}
	return summary, nil
}

// finishCompleted verifies a completed download. PASS and SKIP finish the
// track; FAIL quarantines the file and sends the controller back to retry.
func (e *Engine) finishCompleted(ctx context.Context, c *Controller) {
	d := c.Download()
	track := c.Track()

	result := models.VerificationResult{Status: models.VerifyDisabled, Reason: "verification not configured"}
	localPath := filepath.Join(e.opts.DownloadsDir, d.Candidate.BaseName())
	if e.verifier != nil {
		result = e.verifier.Verify(ctx, localPath, track.Title, track.PrimaryArtist())
	}

	e.publish(events.Event{
		Type:    events.Verified,
		Message: fmt.Sprintf("%s: %s %s", track.Title, result.Status, result.Reason),
		Payload: result,
	})

	if result.Status == models.VerifyFail {
		if quarantined, err := e.verifier.Quarantine(localPath); err != nil {
			e.logger.Warn("quarantine failed", "file", localPath, "error", err)
		} else {
			e.logger.Info("quarantined rejected file", "file", quarantined,
				"identified", result.IdentifiedTitle)
		}
		c.OnVerificationFailed(ctx)
		return
	}

	e.publish(events.Event{
		Type:     events.TrackCompleted,
		Message:  fmt.Sprintf("Completed %s - %s", track.PrimaryArtist(), track.Title),
		Payload:  *d,
		Terminal: true,
	})

	// Each completion starts the scan debounce; during a long run the library
	// picks up early arrivals instead of waiting for the whole batch.
	if e.scans != nil {
		e.scans.RequestScan("track completed")
	}
}

// reap removes terminal controllers from the active set, counting them into
// the summary and offering failed tracks to the wishlist exactly once.
func (e *Engine) reap(ctx context.Context, active map[int]*Controller, summary *RunSummary) {
	for idx, c := range active {
		state := c.State()
		if !state.IsTerminal() {
			continue
		}
		delete(active, idx)

		switch state {
		case models.StateCompleted:
			summary.Completed++
		case models.StateCancelled:
			summary.Cancelled++
		case models.StateFailed:
			summary.Failed++
			e.addToWishlist(ctx, c.Track())
		}
	}
}

// cancelActive aborts every in-flight track, issuing daemon cancels on a
// short detached context so shutdown is not blocked by the dying run context.
func (e *Engine) cancelActive(active map[int]*Controller) {
	cancelCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, c := range active {
		c.Cancel(cancelCtx)
	}
}

func (e *Engine) addToWishlist(ctx context.Context, track models.Track) {
	if e.wishlist == nil {
		return
	}
	srcCtx := e.opts.SourceContext
	if srcCtx.AddedAt.IsZero() {
		srcCtx.AddedAt = e.now()
	}
	if err := e.wishlist.Add(ctx, track, e.opts.SourceType, srcCtx); err != nil {
		e.logger.Warn("wishlist add failed", "track", track.Title, "error", err)
	}
}

func (e *Engine) publish(ev events.Event) {
	if e.bus != nil {
		e.bus.Publish(ev)
	}
}
