package dht

import (
	"net"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/dhtcore/kadnode/transport"
)

// fakeCancelHandle lets tests observe whether Cancel was called.
type fakeCancelHandle struct {
	cancelled bool
}

func (h *fakeCancelHandle) Cancel() { h.cancelled = true }

// fakeScheduler captures scheduled callbacks without a real timer, so tests
// can fire a timeout deterministically by calling Fire.
type fakeScheduler struct {
	fn     func()
	handle *fakeCancelHandle
}

func (s *fakeScheduler) ScheduleAfter(d time.Duration, fn func()) transport.CancelHandle {
	s.fn = fn
	s.handle = &fakeCancelHandle{}
	return s.handle
}

func (s *fakeScheduler) Fire() {
	if s.fn != nil {
		s.fn()
	}
}

// fakeTransport records Abort calls so tests can confirm the pending table
// aborts the transport channel to a timed-out peer, without needing a real
// socket.
type fakeTransport struct {
	aborted []net.Addr
}

func (t *fakeTransport) Send(packet *transport.Packet, addr net.Addr) error { return nil }
func (t *fakeTransport) Close() error                                      { return nil }
func (t *fakeTransport) LocalAddr() net.Addr                                { return hostPortAddr("test:0") }
func (t *fakeTransport) RegisterHandler(pt transport.PacketType, h transport.PacketHandler) {}
func (t *fakeTransport) CloseConn(addr net.Addr) error                      { return nil }

func (t *fakeTransport) Abort(addr net.Addr) error {
	t.aborted = append(t.aborted, addr)
	return nil
}

func TestPendingTableCompleteCancelsTimeout(t *testing.T) {
	rt := NewRoutingTable(mustID(0), NewSystemTimeProvider(), nil)
	sched := &fakeScheduler{}
	tr := &fakeTransport{}
	pt := NewPendingTable(rt, tr, sched)

	id := uuid.New()
	var got PendingResult
	pt.Register(id, Contact{ID: mustID(1)}, CompletionFunc(func(r PendingResult) { got = r }), time.Second)

	pt.Complete(id, "ok")

	if got.Response != "ok" {
		t.Errorf("expected response delivered, got %+v", got)
	}
	if !sched.handle.cancelled {
		t.Error("expected timeout timer to be cancelled")
	}
	if pt.Len() != 0 {
		t.Error("expected entry removed after complete")
	}
}

func TestPendingTableTimeoutEvictsContact(t *testing.T) {
	rt := NewRoutingTable(mustID(0), NewSystemTimeProvider(), nil)
	peer := Contact{ID: mustID(1)}
	_ = rt.AddContact(peer)

	sched := &fakeScheduler{}
	tr := &fakeTransport{}
	pt := NewPendingTable(rt, tr, sched)

	id := uuid.New()
	var got PendingResult
	pt.Register(id, peer, CompletionFunc(func(r PendingResult) { got = r }), time.Second)

	sched.Fire()

	if got.Err != ErrTimeout {
		t.Errorf("expected ErrTimeout, got %v", got.Err)
	}
	if rt.Contains(peer.ID) {
		t.Error("expected peer evicted from routing table on timeout")
	}
	if len(tr.aborted) != 1 || tr.aborted[0].String() != peer.HostPort() {
		t.Errorf("expected transport aborted for timed-out peer, got %+v", tr.aborted)
	}
}

func TestPendingTableLateResponseIgnored(t *testing.T) {
	rt := NewRoutingTable(mustID(0), NewSystemTimeProvider(), nil)
	sched := &fakeScheduler{}
	pt := NewPendingTable(rt, &fakeTransport{}, sched)

	id := uuid.New()
	calls := 0
	pt.Register(id, Contact{ID: mustID(1)}, CompletionFunc(func(r PendingResult) { calls++ }), time.Second)

	sched.Fire() // times out, removes the entry
	pt.Complete(id, "late")

	if calls != 1 {
		t.Errorf("expected exactly one fulfilment (the timeout), got %d", calls)
	}
}

func TestPendingTableCancel(t *testing.T) {
	rt := NewRoutingTable(mustID(0), NewSystemTimeProvider(), nil)
	sched := &fakeScheduler{}
	pt := NewPendingTable(rt, &fakeTransport{}, sched)

	id := uuid.New()
	var got PendingResult
	pt.Register(id, Contact{ID: mustID(1)}, CompletionFunc(func(r PendingResult) { got = r }), time.Second)
	pt.Cancel(id)

	if got.Err != ErrCancelled {
		t.Errorf("expected ErrCancelled, got %v", got.Err)
	}
}
