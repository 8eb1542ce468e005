// Package workers runs the studio's background side effects off the
// channel's reader goroutine.
//
// The pool owns two workers:
//   - publisher: drains an ordered queue of change events onto the event bus
//   - persister: saves the latest execution snapshot, coalescing bursts of
//     changes into one write
//
// The health monitor tracks worker status and queue pressure and logs it.
package workers
