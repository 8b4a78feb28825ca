// package scanning debounces media-server library refreshes.
//
// Library scans can take tens of minutes. The [Coordinator] collapses bursts
// of refresh requests into one scan, runs a periodic mid-scan probe so
// registered callbacks can refresh incrementally, and schedules a follow-up
// scan when more downloads complete while a scan is running.
package scanning

import (
	"context"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// Scheduling defaults.
const (
	DefaultDebounce      = 60 * time.Second
	DefaultProbeInterval = 5 * time.Minute
	DefaultHardTimeout   = 30 * time.Minute
)

// Scanner is the media-server surface the coordinator drives. Implemented by
// the media server clients in [github.com/mkdw/soulsync/internal/services].
type Scanner interface {
	TriggerScan(ctx context.Context) error
	IsScanning(ctx context.Context) (bool, error)
}

// Opts overrides the coordinator's timing; zero values take the defaults.
type Opts struct {
	Debounce      time.Duration
	ProbeInterval time.Duration
	HardTimeout   time.Duration
	Logger        *log.Logger
}

// Coordinator serializes scan requests against one media server.
type Coordinator struct {
	server Scanner
	logger *log.Logger

	debounce      time.Duration
	probeInterval time.Duration
	hardTimeout   time.Duration

	mu                  sync.Mutex
	scanInProgress      bool
	downloadsDuringScan bool
	timer               *time.Timer
	callbacks           []func()
	closed              bool

	wg sync.WaitGroup
}

// NewCoordinator creates a Coordinator for one media server.
func NewCoordinator(server Scanner, opts Opts) *Coordinator {
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.ProbeInterval <= 0 {
		opts.ProbeInterval = DefaultProbeInterval
	}
	if opts.HardTimeout <= 0 {
		opts.HardTimeout = DefaultHardTimeout
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	return &Coordinator{
		server:        server,
		logger:        opts.Logger,
		debounce:      opts.Debounce,
		probeInterval: opts.ProbeInterval,
		hardTimeout:   opts.HardTimeout,
	}
}

// OnComplete registers a callback invoked during the mid-scan probe and once
// when a scan finishes. Callbacks typically refresh the local library index.
func (c *Coordinator) OnComplete(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.callbacks = append(c.callbacks, fn)
}

// RequestScan asks for a library refresh. Requests made while a scan is
// running are remembered and trigger one follow-up scan; otherwise the
// debounce timer is (re)started.
func (c *Coordinator) RequestScan(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}

	if c.scanInProgress {
		c.downloadsDuringScan = true
		c.logger.Debug("scan already running, follow-up queued", "reason", reason)
		return
	}

	if c.timer != nil {
		c.timer.Stop()
	}
	c.logger.Debug("scan requested", "reason", reason, "debounce", c.debounce)
	c.timer = time.AfterFunc(c.debounce, func() {
		c.wg.Add(1)
		defer c.wg.Done()
		c.execute()
	})
}

// Flush runs a pending debounced scan immediately instead of waiting out the
// timer. Used by short-lived callers that would otherwise exit first.
func (c *Coordinator) Flush() {
	c.mu.Lock()
	pending := c.timer != nil && c.timer.Stop()
	c.mu.Unlock()
	if pending {
		c.execute()
	}
}

// Close stops any pending debounce timer and waits for a running scan cycle.
func (c *Coordinator) Close() {
	c.mu.Lock()
	c.closed = true
	if c.timer != nil {
		c.timer.Stop()
	}
	c.mu.Unlock()
	c.wg.Wait()
}

// execute triggers the scan and babysits it until the server goes idle or the
// hard timeout expires.
func (c *Coordinator) execute() {
	c.mu.Lock()
	if c.scanInProgress || c.closed {
		if !c.closed {
			c.downloadsDuringScan = true
		}
		c.mu.Unlock()
		return
	}
	c.scanInProgress = true
	c.downloadsDuringScan = false
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), c.hardTimeout)
	defer cancel()

	if err := c.server.TriggerScan(ctx); err != nil {
		c.logger.Error("failed to trigger library scan", "error", err)
	} else {
		c.watch(ctx)
	}

	c.runCallbacks()

	c.mu.Lock()
	c.scanInProgress = false
	followUp := c.downloadsDuringScan
	c.mu.Unlock()

	if followUp {
		c.RequestScan("follow-up")
	}
}

// watch polls the server until it stops scanning, invoking callbacks at each
// probe so the library index stays current mid-scan.
func (c *Coordinator) watch(ctx context.Context) {
	for {
		scanning, err := c.server.IsScanning(ctx)
		if err != nil {
			c.logger.Warn("scan status probe failed", "error", err)
			return
		}
		if !scanning {
			return
		}

		c.runCallbacks()

		select {
		case <-ctx.Done():
			c.logger.Warn("library scan exceeded hard timeout", "timeout", c.hardTimeout)
			return
		case <-time.After(c.probeInterval):
		}
	}
}

func (c *Coordinator) runCallbacks() {
	c.mu.Lock()
	callbacks := make([]func(), len(c.callbacks))
	copy(callbacks, c.callbacks)
	c.mu.Unlock()

	for _, fn := range callbacks {
		fn()
	}
}
