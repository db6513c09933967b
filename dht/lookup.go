package dht

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dhtcore/kadnode/transport"
)

// Alpha is the iterative lookup's parallelism: the number of concurrent
// probes per round.
const Alpha = 3

// QueryType distinguishes the two lookup flavors the engine drives.
type QueryType int

const (
	QueryFindNode QueryType = iota
	QueryFindValue
)

// LookupResult is delivered exactly once when a Lookup finishes, by
// success or by one of the lookup errors (ErrNoPeersKnown, ErrLookupTimeout,
// ErrValueNotFound).
type LookupResult struct {
	Contacts []Contact // populated for a successful FIND_NODE
	Record   *Record   // populated for a successful FIND_VALUE
	Err      error
}

// Lookup drives one iterative FIND_NODE/FIND_VALUE search to convergence on
// the k closest live nodes, or short-circuits on a value. It depends only
// on the routing table (to seed its shortlist) and the outbound-request
// client, never on the transport directly.
type Lookup struct {
	mu sync.Mutex

	target    ID
	queryType QueryType
	routing   *RoutingTable
	client    *Client
	tp        TimeProvider

	shortlist        []Contact
	contacted        map[ID]bool
	activeProbes     map[ID]bool
	activeCandidates []Contact
	slowNodeCount    int

	done          bool
	resultHandle  func(LookupResult)
	timeoutCancel transport.CancelHandle
}

// NewLookup constructs a lookup for target. Start must be called to seed
// the shortlist and begin the first round.
func NewLookup(target ID, queryType QueryType, routing *RoutingTable, client *Client, tp TimeProvider, resultHandle func(LookupResult)) *Lookup {
	return &Lookup{
		target:       target,
		queryType:    queryType,
		routing:      routing,
		client:       client,
		tp:           tp,
		contacted:    make(map[ID]bool),
		activeProbes: make(map[ID]bool),
		resultHandle: resultHandle,
	}
}

// Start seeds the shortlist from the routing table and begins the first
// round. sched and timeout bound the whole lookup: if timeout elapses
// before convergence, the lookup fails with ErrLookupTimeout.
func (l *Lookup) Start(sched transport.Scheduler, timeout time.Duration) {
	l.mu.Lock()
	l.shortlist = l.routing.FindCloseNodes(l.target, K, nil)
	if len(l.shortlist) == 0 {
		l.done = true
		handle := l.resultHandle
		l.mu.Unlock()
		handle(LookupResult{Err: ErrNoPeersKnown})
		return
	}

	if !l.target.Equal(selfIDOf(l.routing)) {
		l.routing.TouchKBucket(l.target)
	}

	if sched != nil {
		l.timeoutCancel = sched.ScheduleAfter(timeout, l.onTimeout)
	}
	l.mu.Unlock()

	l.advance()
}

// selfIDOf extracts the routing table's own id without exposing it as a
// public field; only Start needs it, to skip the no-op self touch.
func selfIDOf(rt *RoutingTable) ID {
	return rt.selfID
}

// onTimeout fails the lookup with ErrLookupTimeout if it is still running.
func (l *Lookup) onTimeout() {
	l.mu.Lock()
	if l.done {
		l.mu.Unlock()
		return
	}
	l.done = true
	handle := l.resultHandle
	l.mu.Unlock()

	logrus.WithField("target", l.target.String()).Warn("lookup timed out")
	handle(LookupResult{Err: ErrLookupTimeout})
}

// Cancel stops the lookup early: the next-round timer is already implicit
// in each probe's own response timeout, so cancelling here only cancels the
// global deadline and marks the lookup done; in-flight probes are
// abandoned, not aborted; their responses, if they arrive, are ignored.
func (l *Lookup) Cancel() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.done {
		return
	}
	l.done = true
	if l.timeoutCancel != nil {
		l.timeoutCancel.Cancel()
	}
}

// advance selects up to Alpha unqueried contacts and probes them. Caller
// must not hold l.mu.
func (l *Lookup) advance() {
	l.mu.Lock()
	if l.done {
		l.mu.Unlock()
		return
	}

	window := Alpha
	if l.slowNodeCount > 0 {
		window++ // one extra probe beyond alpha to ride out a slow node
	}
	toProbe := l.selectUnqueriedLocked(window - len(l.activeProbes))

	if len(toProbe) == 0 && len(l.activeProbes) == 0 {
		result := l.finishLocked()
		handle := l.resultHandle
		l.mu.Unlock()
		handle(result)
		return
	}

	for _, c := range toProbe {
		l.contacted[c.ID] = true
		l.activeProbes[c.ID] = true
	}
	l.mu.Unlock()

	for _, c := range toProbe {
		l.issueProbe(c)
	}
}

// selectUnqueriedLocked returns up to n contacts from the shortlist not yet
// in contacted. Caller must hold l.mu.
func (l *Lookup) selectUnqueriedLocked(n int) []Contact {
	if n <= 0 {
		return nil
	}
	var out []Contact
	for _, c := range l.shortlist {
		if l.contacted[c.ID] {
			continue
		}
		out = append(out, c)
		if len(out) >= n {
			break
		}
	}
	return out
}

// issueProbe sends the typed request and wires the response back into the
// lookup's state machine.
func (l *Lookup) issueProbe(contact Contact) {
	switch l.queryType {
	case QueryFindValue:
		l.client.FindValue(contact, l.target, func(r PendingResult) { l.onProbeResult(contact, r) })
	default:
		l.client.FindNode(contact, l.target, func(r PendingResult) { l.onProbeResult(contact, r) })
	}
}

// onProbeResult processes one probe's outcome, then applies the convergence
// and termination checks to decide whether another round is needed.
func (l *Lookup) onProbeResult(contact Contact, result PendingResult) {
	l.mu.Lock()
	if l.done {
		l.mu.Unlock()
		return
	}
	delete(l.activeProbes, contact.ID)

	if result.Err != nil {
		// Dead: routing-table eviction already happened via the
		// pending-RPC table's timeout handler. Nothing more to do here.
		l.mu.Unlock()
		l.advance()
		return
	}

	if record, ok := result.Response.(Record); ok {
		// FIND_VALUE short-circuit: terminate the whole lookup with
		// success. Other active probes are abandoned, not aborted.
		l.done = true
		if l.timeoutCancel != nil {
			l.timeoutCancel.Cancel()
		}
		handle := l.resultHandle
		l.mu.Unlock()
		handle(LookupResult{Record: &record})
		return
	}

	if contacts, ok := result.Response.([]Contact); ok {
		l.activeCandidates = append(l.activeCandidates, contact)
		l.mergeLocked(contacts)
	}

	converged := l.checkTerminationLocked()
	if converged {
		result := l.finishLocked()
		handle := l.resultHandle
		l.mu.Unlock()
		handle(result)
		return
	}
	l.mu.Unlock()
	l.advance()
}

// mergeLocked folds newly learned contacts into the shortlist: dedup by
// id, never add self, never re-add an id already contacted. Re-sorts
// ascending by distance to target and truncates to K. Caller must hold
// l.mu.
func (l *Lookup) mergeLocked(contacts []Contact) {
	self := selfIDOf(l.routing)
	seen := make(map[ID]bool, len(l.shortlist))
	for _, c := range l.shortlist {
		seen[c.ID] = true
	}

	for _, c := range contacts {
		if c.ID.Equal(self) || seen[c.ID] || l.contacted[c.ID] {
			continue
		}
		seen[c.ID] = true
		l.shortlist = append(l.shortlist, c)
	}

	sortByDistance(l.shortlist, l.target)
	if len(l.shortlist) > K {
		l.shortlist = l.shortlist[:K]
	}
}

// checkTerminationLocked decides whether the lookup is done: if after merging the
// closest unqueried contact is no closer than the best active candidate,
// and probes are still in flight, mark one extra slow-node probe instead
// of terminating. Returns true only when the round is genuinely done:
// active_probes empty AND nothing unqueried is closer than the kth active
// candidate.
func (l *Lookup) checkTerminationLocked() bool {
	closestUnqueried, hasUnqueried := l.closestUnqueriedLocked()

	if len(l.activeProbes) > 0 {
		if hasUnqueried && l.closerThanBestCandidateLocked(closestUnqueried) {
			return false // strictly closer: next round proceeds immediately
		}
		l.slowNodeCount++
		return false // not converged yet; ride out the slow node
	}

	if !hasUnqueried {
		return true
	}
	return !l.closerThanKthCandidateLocked(closestUnqueried)
}

func (l *Lookup) closestUnqueriedLocked() (Contact, bool) {
	for _, c := range l.shortlist {
		if !l.contacted[c.ID] {
			return c, true
		}
	}
	return Contact{}, false
}

func (l *Lookup) closerThanBestCandidateLocked(c Contact) bool {
	if len(l.activeCandidates) == 0 {
		return true
	}
	best := l.bestCandidatesLocked()[0]
	return Xor(c.ID, l.target).Less(Xor(best.ID, l.target))
}

func (l *Lookup) closerThanKthCandidateLocked(c Contact) bool {
	best := l.bestCandidatesLocked()
	if len(best) < K {
		return true
	}
	kth := best[K-1]
	return Xor(c.ID, l.target).Less(Xor(kth.ID, l.target))
}

func (l *Lookup) bestCandidatesLocked() []Contact {
	out := append([]Contact(nil), l.activeCandidates...)
	sortByDistance(out, l.target)
	return out
}

// finishLocked computes the converged outcome. Caller must hold l.mu and
// is responsible for invoking the result handle only after unlocking.
func (l *Lookup) finishLocked() LookupResult {
	l.done = true
	if l.timeoutCancel != nil {
		l.timeoutCancel.Cancel()
	}

	if l.queryType == QueryFindValue {
		return LookupResult{Err: ErrValueNotFound}
	}

	best := l.bestCandidatesLocked()
	if len(best) > K {
		best = best[:K]
	}
	return LookupResult{Contacts: best}
}
