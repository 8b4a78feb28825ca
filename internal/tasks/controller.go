package tasks

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/mkdw/soulsync/internal/events"
	"github.com/mkdw/soulsync/internal/matching"
	"github.com/mkdw/soulsync/internal/models"
	"github.com/mkdw/soulsync/internal/services"
	"github.com/mkdw/soulsync/internal/shared"
)

// Daemon is the transfer-daemon surface the acquisition path depends on.
// Implemented by [services.SlskdClient].
type Daemon interface {
	Search(ctx context.Context, query string) (string, error)
	SearchResponses(ctx context.Context, searchID string) ([]services.SearchResponse, error)
	EnqueueDownload(ctx context.Context, username, filename string, size int64) error
	Downloads(ctx context.Context) ([]services.TransferRow, error)
	CancelDownload(ctx context.Context, username, transferID string, remove bool) error
	Healthy(ctx context.Context) error
}

// Acquisition timeouts. A transfer that sits in queue or at zero progress for
// the stuck window is cancelled on the daemon and retried with the next source.
const (
	DefaultQueuedTimeout       = 90 * time.Second
	DefaultZeroProgressTimeout = 90 * time.Second
	DefaultSearchWait          = 5 * time.Second
	MaxRetries                 = 2
)

// Controller drives the per-track acquisition state machine. All methods must
// be called from a single goroutine; the engine's event loop owns every
// controller it creates.
type Controller struct {
	download *models.ActiveDownload
	queries  []string
	queryIdx int

	daemon  Daemon
	pref    matching.QualityPreference
	bus     *events.Bus
	logger  *log.Logger
	now     func() time.Time

	searchWait          time.Duration
	queuedTimeout       time.Duration
	zeroProgressTimeout time.Duration

	// zeroSince marks when the transfer was first seen downloading at 0%.
	zeroSince time.Time
}

// ControllerOpts configures a Controller. Zero values fall back to defaults.
type ControllerOpts struct {
	Quality             matching.QualityPreference
	Bus                 *events.Bus
	Logger              *log.Logger
	Now                 func() time.Time
	SearchWait          time.Duration
	QueuedTimeout       time.Duration
	ZeroProgressTimeout time.Duration
}

// NewController creates the state machine for one missing track.
func NewController(index int, track models.Track, daemon Daemon, opts ControllerOpts) *Controller {
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.SearchWait <= 0 {
		opts.SearchWait = DefaultSearchWait
	}
	if opts.QueuedTimeout <= 0 {
		opts.QueuedTimeout = DefaultQueuedTimeout
	}
	if opts.ZeroProgressTimeout <= 0 {
		opts.ZeroProgressTimeout = DefaultZeroProgressTimeout
	}
	if opts.Quality == "" {
		opts.Quality = matching.PreferAny
	}
	return &Controller{
		download:            models.NewActiveDownload(index, track),
		queries:             matching.BuildQueries(track.Title, track.PrimaryArtist(), track.Album),
		daemon:              daemon,
		pref:                opts.Quality,
		bus:                 opts.Bus,
		logger:              opts.Logger,
		now:                 opts.Now,
		searchWait:          opts.SearchWait,
		queuedTimeout:       opts.QueuedTimeout,
		zeroProgressTimeout: opts.ZeroProgressTimeout,
	}
}

// Download exposes the underlying state record. The engine reads it for slot
// bookkeeping and the poller correlates against it.
func (c *Controller) Download() *models.ActiveDownload { return c.download }

// State returns the current download state.
func (c *Controller) State() models.DownloadState { return c.download.State }

// Track returns the track under acquisition.
func (c *Controller) Track() models.Track { return c.download.Track }

// Start moves the track from Idle through the search fallback until a
// candidate is dispatched or every query is exhausted (terminal Failed).
func (c *Controller) Start(ctx context.Context) {
	c.download.State = models.StateSearching
	c.advanceSearch(ctx)
}

// advanceSearch walks the remaining queries, dispatching the first verified
// candidate. Exhausting all queries fails the track.
func (c *Controller) advanceSearch(ctx context.Context) {
	track := c.download.Track

	for ; c.queryIdx < len(c.queries); c.queryIdx++ {
		if ctx.Err() != nil {
			c.markCancelled()
			return
		}

		query := c.queries[c.queryIdx]
		c.publish(events.Event{
			Type:    events.SearchIssued,
			Message: fmt.Sprintf("Searching %q", query),
			Payload: c.download.DownloadIndex,
		})

		candidates, err := c.searchOnce(ctx, query)
		if err != nil {
			if ctx.Err() != nil {
				c.markCancelled()
				return
			}
			c.logger.Warn("search failed", "query", query, "error", err)
			continue
		}

		verified := matching.VerifyCandidates(candidates, track.Title, track.PrimaryArtist(), c.pref)
		fresh := verified[:0]
		for _, v := range verified {
			if !c.download.Used(v) {
				fresh = append(fresh, v)
			}
		}
		if len(fresh) == 0 {
			continue
		}

		c.download.CandidatesCache = fresh
		if c.dispatchNext(ctx) {
			return
		}
		// Every candidate from this query failed to enqueue; fall through to
		// the next query.
	}

	c.markFailed(fmt.Sprintf("%v: %s - %s", shared.ErrNoCandidates, track.PrimaryArtist(), track.Title))
}

// searchOnce issues one daemon search and collects its responses after the
// accumulation window.
func (c *Controller) searchOnce(ctx context.Context, query string) ([]models.Candidate, error) {
	searchID, err := c.daemon.Search(ctx, query)
	if err != nil {
		return nil, err
	}

	if c.searchWait > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.searchWait):
		}
	}

	responses, err := c.daemon.SearchResponses(ctx, searchID)
	if err != nil {
		return nil, err
	}
	return services.Candidates(responses), nil
}

// dispatchNext pops cached candidates until one enqueues successfully.
// Returns false when the cache ran dry without a dispatch.
func (c *Controller) dispatchNext(ctx context.Context) bool {
	for {
		candidate, ok := c.download.NextCandidate()
		if !ok {
			return false
		}

		c.download.State = models.StateDispatching
		c.download.MarkUsed(candidate)

		if err := c.daemon.EnqueueDownload(ctx, candidate.Username, candidate.Filename, candidate.SizeBytes); err != nil {
			c.logger.Warn("dispatch rejected", "username", candidate.Username, "file", candidate.BaseName(), "error", err)
			continue
		}

		c.download.Candidate = candidate
		c.download.TransferID = ""
		c.download.APIMissingCount = 0
		c.download.State = models.StateQueued
		c.download.QueuedStart = c.now()
		c.download.DownloadingStart = time.Time{}
		c.zeroSince = time.Time{}

		c.publish(events.Event{
			Type:    events.Dispatched,
			Message: fmt.Sprintf("Dispatched %s from %s", candidate.BaseName(), candidate.Username),
			Payload: *c.download,
		})
		return true
	}
}

// HandleUpdate consumes one poller update for this track and applies the
// matching transition. Calls are serialized by the engine loop.
func (c *Controller) HandleUpdate(ctx context.Context, u PollUpdate) {
	if c.download.State.IsTerminal() {
		return
	}

	if u.TransferID != "" {
		c.download.TransferID = u.TransferID
	}

	if u.Missing {
		// Grace exhausted: the daemon dropped the row without a terminal state.
		c.retryOrFail(ctx, false)
		return
	}

	switch u.State {
	case models.StateQueued:
		if c.now().Sub(c.download.QueuedStart) >= c.queuedTimeout {
			c.retryOrFail(ctx, true)
		}
	case models.StateDownloading:
		c.download.State = models.StateDownloading
		if c.download.DownloadingStart.IsZero() {
			c.download.DownloadingStart = c.now()
		}
		if u.Progress <= 0 {
			if c.zeroSince.IsZero() {
				c.zeroSince = c.now()
			}
			if c.now().Sub(c.zeroSince) >= c.zeroProgressTimeout {
				c.retryOrFail(ctx, true)
				return
			}
		} else {
			c.zeroSince = time.Time{}
		}
		c.publishProgress(u)
	case models.StateCompleted:
		c.download.State = models.StateCompleted
	case models.StateFailed, models.StateCancelled:
		c.retryOrFail(ctx, false)
	}
}

// CheckStall applies the queue/zero-progress timers between poller matches,
// so a daemon that stops reporting a row cannot park the track forever.
func (c *Controller) CheckStall(ctx context.Context) {
	switch c.download.State {
	case models.StateQueued:
		if !c.download.QueuedStart.IsZero() && c.now().Sub(c.download.QueuedStart) >= c.queuedTimeout {
			c.retryOrFail(ctx, true)
		}
	case models.StateDownloading:
		if !c.zeroSince.IsZero() && c.now().Sub(c.zeroSince) >= c.zeroProgressTimeout {
			c.retryOrFail(ctx, true)
		}
	}
}

// OnVerificationFailed moves a completed-but-wrong file's track to the next
// source. The caller has already quarantined the file.
func (c *Controller) OnVerificationFailed(ctx context.Context) {
	c.download.State = models.StateRetrying
	c.retryOrFail(ctx, false)
}

// Cancel aborts the track on user request, cancelling any outstanding
// transfer on the daemon.
func (c *Controller) Cancel(ctx context.Context) {
	if c.download.State.IsTerminal() {
		return
	}
	c.cancelCurrentTransfer(ctx)
	c.markCancelled()
}

// retryOrFail increments the retry counter and tries the next source: first
// the remaining cached candidates, then the next query. cancelFirst requests
// a daemon cancel of the stuck transfer before anything else is dispatched;
// skipping that step makes the daemon run both transfers and mislabel the
// completion.
func (c *Controller) retryOrFail(ctx context.Context, cancelFirst bool) {
	if cancelFirst {
		c.cancelCurrentTransfer(ctx)
	}

	c.download.State = models.StateRetrying
	c.download.RetryCount++
	if c.download.RetryCount > MaxRetries {
		c.markFailed(fmt.Sprintf("retries exhausted for %s", c.download.Track.Title))
		return
	}

	if c.dispatchNext(ctx) {
		return
	}

	// Cache exhausted; move on to the next query.
	c.queryIdx++
	c.download.State = models.StateSearching
	c.advanceSearch(ctx)
}

// cancelCurrentTransfer issues a daemon-side cancel for the current transfer,
// keeping the daemon's record (remove=false) so completions stay attributable.
func (c *Controller) cancelCurrentTransfer(ctx context.Context) {
	if c.download.TransferID == "" {
		return
	}
	if err := c.daemon.CancelDownload(ctx, c.download.Candidate.Username, c.download.TransferID, false); err != nil {
		c.logger.Warn("daemon cancel failed", "transfer", c.download.TransferID, "error", err)
	}
	c.download.TransferID = ""
}

func (c *Controller) markFailed(reason string) {
	c.download.State = models.StateFailed
	c.publish(events.Event{
		Type:     events.TrackFailed,
		Message:  reason,
		Payload:  *c.download,
		Terminal: true,
	})
}

func (c *Controller) markCancelled() {
	c.download.State = models.StateCancelled
	c.publish(events.Event{
		Type:     events.TrackCancelled,
		Message:  fmt.Sprintf("Cancelled %s", c.download.Track.Title),
		Payload:  *c.download,
		Terminal: true,
	})
}

func (c *Controller) publishProgress(u PollUpdate) {
	c.publish(events.Event{
		Type:    events.TransferUpdate,
		Message: fmt.Sprintf("%s %.0f%%", c.download.Candidate.BaseName(), u.Progress),
		Payload: u,
	})
}

func (c *Controller) publish(e events.Event) {
	if c.bus != nil {
		c.bus.Publish(e)
	}
}
