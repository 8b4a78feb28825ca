// package events fans typed pipeline events out to observers over bounded
// buffered channels.
//
// The core emits events without holding references to its observers. Delivery
// policy: progress events are dropped when a subscriber's buffer is full
// (latest-wins), terminal events are never dropped.
package events

import "sync"

// Type tags a pipeline event.
type Type string

const (
	AnalysisStarted   Type = "analysis_started"
	TrackAnalyzed     Type = "track_analyzed"
	AnalysisCompleted Type = "analysis_completed"
	TrackResolved     Type = "track_resolved"
	SearchIssued      Type = "search_issued"
	Dispatched        Type = "dispatched"
	TransferUpdate    Type = "transfer_update"
	Verified          Type = "verified"
	TrackCompleted    Type = "track_completed"
	TrackFailed       Type = "track_failed"
	TrackCancelled    Type = "track_cancelled"
	ScanRequested     Type = "scan_requested"
	RunFailed         Type = "run_failed"
	RunSummary        Type = "run_summary"
)

// Event is a single pipeline notification.
//
// Terminal events carry state an observer must not miss (completion, failure,
// run summary); they block rather than drop.
type Event struct {
	Type     Type
	Message  string
	Payload  any
	Terminal bool
}

// DefaultBuffer is the per-subscriber channel depth.
const DefaultBuffer = 64

// subscriber pairs a delivery channel with its cancellation signal. done
// unblocks terminal sends aimed at a subscriber that is going away; sending
// tracks in-flight sends so the channel is only closed once none remain.
type subscriber struct {
	ch      chan Event
	done    chan struct{}
	sending sync.WaitGroup
}

// Bus is a bounded fan-out event bus.
type Bus struct {
	mu     sync.Mutex
	subs   map[int]*subscriber
	nextID int
	buffer int
	closed bool
}

// NewBus creates a Bus with the given per-subscriber buffer depth (DefaultBuffer when <= 0).
func NewBus(buffer int) *Bus {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Bus{subs: make(map[int]*subscriber), buffer: buffer}
}

// Subscribe registers a new observer. The returned cancel function removes the
// subscription and closes its channel; it also releases any publisher blocked
// on a terminal send to this subscriber.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan Event, b.buffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	s := &subscriber{ch: ch, done: make(chan struct{})}
	b.subs[id] = s

	return ch, func() {
		b.mu.Lock()
		sub, ok := b.subs[id]
		if ok {
			delete(b.subs, id)
		}
		b.mu.Unlock()
		if !ok {
			return
		}
		b.retire(sub)
	}
}

// retire unblocks pending terminal sends, waits them out, and closes the
// subscriber's channel.
func (b *Bus) retire(s *subscriber) {
	close(s.done)
	s.sending.Wait()
	close(s.ch)
}

// Publish delivers an event to every subscriber. Non-terminal events are
// dropped for subscribers whose buffers are full; terminal events block until
// the subscriber drains or cancels. The bus lock is not held during delivery,
// so a stalled subscriber can still cancel itself.
func (b *Bus) Publish(e Event) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	targets := make([]*subscriber, 0, len(b.subs))
	for _, s := range b.subs {
		s.sending.Add(1)
		targets = append(targets, s)
	}
	b.mu.Unlock()

	for _, s := range targets {
		if e.Terminal {
			select {
			case s.ch <- e:
			case <-s.done:
			}
		} else {
			select {
			case s.ch <- e:
			default:
			}
		}
		s.sending.Done()
	}
}

// Close shuts the bus down and closes all subscriber channels.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := b.subs
	b.subs = make(map[int]*subscriber)
	b.mu.Unlock()

	for _, s := range subs {
		b.retire(s)
	}
}
