package dht

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/dhtcore/kadnode/transport"
)

// PendingResult is delivered exactly once to a pending entry's completion
// handle: a response, a failure, or a cancellation.
type PendingResult struct {
	Response interface{} // the decoded NODES/VALUE/PONG payload on success
	Err      error
}

// CompletionHandle receives the single outcome of an outbound RPC. Its
// contract is exactly one of {complete, fail, cancel} per handle.
type CompletionHandle interface {
	Fulfil(result PendingResult)
}

// CompletionFunc adapts a plain function to CompletionHandle.
type CompletionFunc func(result PendingResult)

// Fulfil implements CompletionHandle.
func (f CompletionFunc) Fulfil(result PendingResult) { f(result) }

// PendingEntry correlates one outbound request with its eventual inbound
// response by UUID; every outbound request carries a fresh one.
type PendingEntry struct {
	UUID   uuid.UUID
	SentTo Contact
	Handle CompletionHandle
	cancel transport.CancelHandle
}

// PendingTable owns every in-flight RPC's
// completion handle and timeout timer, and is the liveness signal that
// drives routing-table eviction on timeout.
type PendingTable struct {
	mu      sync.Mutex
	entries map[uuid.UUID]*PendingEntry
	routing *RoutingTable
	tr      transport.Transport
	sched   transport.Scheduler
}

// NewPendingTable creates an empty pending-RPC table. routing is evicted
// from on timeout (the liveness signal that drives bucket maintenance);
// tr's channel to the timed-out peer is aborted (not gracefully closed) at
// the same time; sched schedules the response-timeout bound.
func NewPendingTable(routing *RoutingTable, tr transport.Transport, sched transport.Scheduler) *PendingTable {
	return &PendingTable{
		entries: make(map[uuid.UUID]*PendingEntry),
		routing: routing,
		tr:      tr,
		sched:   sched,
	}
}

// Register installs handle for id, sent to sentTo, and starts a timer of
// length timeout. If nothing completes/fails/cancels the entry first, the
// timer fires onTimeout: the entry is removed, the handle fails with
// ErrTimeout, and sentTo is evicted from the routing table.
func (pt *PendingTable) Register(id uuid.UUID, sentTo Contact, handle CompletionHandle, timeout time.Duration) {
	entry := &PendingEntry{UUID: id, SentTo: sentTo, Handle: handle}

	// The timer handle is written under the same lock take() reads it
	// under; onTimeout acquires the lock itself, so a timer firing during
	// registration blocks until the entry is fully installed.
	pt.mu.Lock()
	entry.cancel = pt.sched.ScheduleAfter(timeout, func() { pt.onTimeout(id) })
	pt.entries[id] = entry
	pt.mu.Unlock()
}

// onTimeout is invoked by the scheduled timer.
func (pt *PendingTable) onTimeout(id uuid.UUID) {
	pt.mu.Lock()
	entry, ok := pt.entries[id]
	if ok {
		delete(pt.entries, id)
	}
	pt.mu.Unlock()

	if !ok {
		return
	}

	logrus.WithFields(logrus.Fields{
		"uuid": id.String(),
		"peer": entry.SentTo.ID.String(),
	}).Warn("pending rpc timed out")

	entry.Handle.Fulfil(PendingResult{Err: ErrTimeout})
	if pt.tr != nil {
		if err := pt.tr.Abort(contactAddr(entry.SentTo)); err != nil {
			logrus.WithError(err).WithField("peer", entry.SentTo.ID.String()).Debug("failed to abort transport on rpc timeout")
		}
	}
	if pt.routing != nil {
		_ = pt.routing.RemoveContact(entry.SentTo.ID, true)
	}
}

// Complete cancels the timeout timer and fulfils the handle with response.
// Responses for unknown uuids (already timed out, already completed) are
// silently discarded: a response arriving after its timeout has fired is
// simply not in the table anymore.
func (pt *PendingTable) Complete(id uuid.UUID, response interface{}) {
	entry := pt.take(id)
	if entry == nil {
		return
	}
	entry.Handle.Fulfil(PendingResult{Response: response})
}

// Fail cancels the timeout timer and fails the handle with err.
func (pt *PendingTable) Fail(id uuid.UUID, err error) {
	entry := pt.take(id)
	if entry == nil {
		return
	}
	entry.Handle.Fulfil(PendingResult{Err: err})
}

// Cancel fails the handle with ErrCancelled.
func (pt *PendingTable) Cancel(id uuid.UUID) {
	pt.Fail(id, ErrCancelled)
}

// take removes and returns the entry for id, cancelling its timer. Returns
// nil if the uuid is unknown (already resolved or never registered).
func (pt *PendingTable) take(id uuid.UUID) *PendingEntry {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	entry, ok := pt.entries[id]
	if !ok {
		return nil
	}
	delete(pt.entries, id)
	if entry.cancel != nil {
		entry.cancel.Cancel()
	}
	return entry
}

// Len returns the number of in-flight RPCs.
func (pt *PendingTable) Len() int {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	return len(pt.entries)
}
