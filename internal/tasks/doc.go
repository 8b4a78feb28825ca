// package tasks implements the acquisition pipeline for missing tracks.
//
// The core abstraction is Engine, which slots per-track [Controller] state
// machines up to a concurrency bound and consumes transfer-table snapshots
// from a [Poller] on a single event loop. Controllers search the transfer
// daemon with a query fallback chain, dispatch verified candidates, retry
// stuck or failed transfers with cancel-before-retry, and hand completed
// files to fingerprint verification. Terminal failures are offered to the
// wishlist exactly once.
package tasks
