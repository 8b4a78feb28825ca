package tasks

import (
	"context"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/mkdw/soulsync/internal/models"
	"github.com/mkdw/soulsync/internal/services"
)

// DefaultPollInterval is the transfer-table snapshot cadence.
const DefaultPollInterval = 2 * time.Second

// missingPollGrace is how many consecutive snapshots a tracked transfer may be
// absent from the daemon before it is classified as failed. The daemon assigns
// ids asynchronously, so a short absence is normal.
const missingPollGrace = 3

// PollUpdate is one correlated observation for a tracked download.
type PollUpdate struct {
	Index      int
	TransferID string
	Username   string
	State      models.DownloadState
	Progress   float64

	// Missing is set when the transfer has been absent from the daemon for
	// the full grace window.
	Missing bool
}

// Poller snapshots the daemon transfer table and correlates rows with tracked
// downloads. Snapshot fetching runs on its own goroutine; correlation runs on
// the engine loop so ActiveDownload state is touched by one thread only.
type Poller struct {
	daemon   Daemon
	interval time.Duration
	logger   *log.Logger

	// C delivers table snapshots to the engine loop.
	C chan []services.TransferRow
}

// NewPoller creates a Poller. interval <= 0 selects the default cadence.
func NewPoller(daemon Daemon, interval time.Duration, logger *log.Logger) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Poller{
		daemon:   daemon,
		interval: interval,
		logger:   logger,
		C:        make(chan []services.TransferRow, 1),
	}
}

// Run fetches snapshots until the context is cancelled. Fetches are naturally
// single-flight: the loop is sequential, and a fetch outlasting the tick
// simply absorbs the missed ticks.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	defer close(p.C)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		rows, err := p.daemon.Downloads(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.Warn("transfer poll failed", "error", err)
			continue
		}

		select {
		case p.C <- rows:
		default:
			// Engine still busy with the previous snapshot; drop this one,
			// the next tick supersedes it anyway.
		}
	}
}

// Correlate matches one snapshot against the tracked downloads, adopting
// transfer ids and maintaining each download's missing-poll grace counter.
// Must be called from the engine loop.
func (p *Poller) Correlate(rows []services.TransferRow, tracked []*models.ActiveDownload) []PollUpdate {
	byID := make(map[string]services.TransferRow, len(rows))
	for _, row := range rows {
		if row.ID != "" {
			byID[row.ID] = row
		}
	}

	var updates []PollUpdate
	for _, d := range tracked {
		if d.State.IsTerminal() || d.State == models.StateSearching || d.State == models.StateIdle {
			continue
		}

		row, ok := byID[d.TransferID]
		if !ok {
			row, ok = matchByBasename(rows, d)
			if ok {
				// Adopt the daemon-assigned id so later polls hit the id map.
				d.TransferID = row.ID
			}
		}

		if !ok {
			d.APIMissingCount++
			if d.APIMissingCount >= missingPollGrace {
				d.APIMissingCount = 0
				updates = append(updates, PollUpdate{Index: d.DownloadIndex, Missing: true})
			}
			continue
		}

		d.APIMissingCount = 0
		updates = append(updates, PollUpdate{
			Index:      d.DownloadIndex,
			TransferID: row.ID,
			Username:   row.Username,
			State:      services.ClassifyTransferState(row.State),
			Progress:   rowProgress(row),
		})
	}
	return updates
}

// matchByBasename finds a row whose basename equals the expected candidate
// filename's basename, case-insensitively.
func matchByBasename(rows []services.TransferRow, d *models.ActiveDownload) (services.TransferRow, bool) {
	want := strings.ToLower(d.Candidate.BaseName())
	if want == "" || want == "." {
		return services.TransferRow{}, false
	}
	for _, row := range rows {
		c := models.Candidate{Filename: row.Filename}
		if strings.ToLower(c.BaseName()) == want {
			if row.Username == "" || strings.EqualFold(row.Username, d.Candidate.Username) {
				return row, true
			}
		}
	}
	return services.TransferRow{}, false
}

// rowProgress prefers the daemon's percentage, deriving one from byte counts
// when absent.
func rowProgress(row services.TransferRow) float64 {
	if row.PercentComplete > 0 {
		return row.PercentComplete
	}
	if row.Size > 0 && row.BytesTransferred > 0 {
		return float64(row.BytesTransferred) / float64(row.Size) * 100
	}
	return 0
}
