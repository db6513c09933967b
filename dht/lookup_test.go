package dht

import (
	"testing"
	"time"
)

func newTestLookupClient(t *testing.T) (*Client, *recordingTransport) {
	t.Helper()
	self := Contact{ID: mustID(0), Address: "10.0.0.1", Port: 1, Version: "test"}
	rt := NewRoutingTable(self.ID, NewSystemTimeProvider(), nil)
	tr := &recordingTransport{}
	pending := NewPendingTable(rt, tr, &fakeScheduler{})
	return NewClient(self, tr, pending, time.Second), tr
}

func TestLookupNoPeersKnown(t *testing.T) {
	rt := NewRoutingTable(mustID(0), NewSystemTimeProvider(), nil)
	client, _ := newTestLookupClient(t)

	var result LookupResult
	done := make(chan struct{})
	lookup := NewLookup(mustID(7), QueryFindNode, rt, client, NewSystemTimeProvider(), func(r LookupResult) {
		result = r
		close(done)
	})
	lookup.Start(nil, time.Second)

	<-done
	if result.Err != ErrNoPeersKnown {
		t.Fatalf("expected ErrNoPeersKnown, got %v", result.Err)
	}
}

func TestLookupSingleNodeTerminatesInOneRound(t *testing.T) {
	self := mustID(0)
	rt := NewRoutingTable(self, NewSystemTimeProvider(), nil)
	target := mustID(5)
	seed := Contact{ID: target, Address: "10.0.0.5", Port: 5}
	_ = rt.AddContact(seed)

	client, _ := newTestLookupClient(t)

	var result LookupResult
	done := make(chan struct{})
	lookup := NewLookup(target, QueryFindNode, rt, client, NewSystemTimeProvider(), func(r LookupResult) {
		result = r
		close(done)
	})
	lookup.Start(nil, time.Second)

	// Simulate the seeded node answering with no new contacts, completing
	// the only in-flight probe.
	lookup.onProbeResult(seed, PendingResult{Response: []Contact{}})

	<-done
	if result.Err != nil {
		t.Fatalf("unexpected error: %v", result.Err)
	}
	if len(result.Contacts) == 0 || !result.Contacts[0].ID.Equal(target) {
		t.Fatalf("expected target as first result, got %+v", result.Contacts)
	}
}

func TestLookupFindValueShortCircuits(t *testing.T) {
	self := mustID(0)
	rt := NewRoutingTable(self, NewSystemTimeProvider(), nil)
	target := mustID(5)
	a := Contact{ID: mustID(1), Address: "10.0.0.1", Port: 1}
	b := Contact{ID: mustID(2), Address: "10.0.0.2", Port: 2}
	_ = rt.AddContact(a)
	_ = rt.AddContact(b)

	client, _ := newTestLookupClient(t)

	var result LookupResult
	done := make(chan struct{})
	lookup := NewLookup(target, QueryFindValue, rt, client, NewSystemTimeProvider(), func(r LookupResult) {
		result = r
		close(done)
	})
	lookup.Start(nil, time.Second)

	rec := Record{Key: target, Value: []byte("found")}
	lookup.onProbeResult(b, PendingResult{Response: rec})

	<-done
	if result.Err != nil {
		t.Fatalf("unexpected error: %v", result.Err)
	}
	if result.Record == nil || string(result.Record.Value) != "found" {
		t.Fatalf("expected short-circuited value, got %+v", result.Record)
	}

	// The other in-flight probe (to a) must be ignored, not restart a round.
	lookup.onProbeResult(a, PendingResult{Response: []Contact{}})
}

func TestLookupValueNotFoundWhenExhausted(t *testing.T) {
	self := mustID(0)
	rt := NewRoutingTable(self, NewSystemTimeProvider(), nil)
	target := mustID(5)
	a := Contact{ID: mustID(1), Address: "10.0.0.1", Port: 1}
	_ = rt.AddContact(a)

	client, _ := newTestLookupClient(t)

	var result LookupResult
	done := make(chan struct{})
	lookup := NewLookup(target, QueryFindValue, rt, client, NewSystemTimeProvider(), func(r LookupResult) {
		result = r
		close(done)
	})
	lookup.Start(nil, time.Second)
	lookup.onProbeResult(a, PendingResult{Response: []Contact{}})

	<-done
	if result.Err != ErrValueNotFound {
		t.Fatalf("expected ErrValueNotFound, got %v", result.Err)
	}
}
