package dht

import (
	"math/big"
	"testing"
)

type fakePinger struct {
	calls []Contact
	alive bool
}

func (f *fakePinger) Ping(contact Contact, onResult func(alive bool)) {
	f.calls = append(f.calls, contact)
	onResult(f.alive)
}

func TestRoutingTableAddAndFindCloseNodes(t *testing.T) {
	self := mustID(0)
	rt := NewRoutingTable(self, NewSystemTimeProvider(), nil)

	for i := 1; i <= 5; i++ {
		c := contactWithID(byte(i))
		if err := rt.AddContact(c); err != nil {
			t.Fatalf("add contact %d failed: %v", i, err)
		}
	}

	closest := rt.FindCloseNodes(mustID(0), 3, nil)
	if len(closest) != 3 {
		t.Fatalf("expected 3 contacts, got %d", len(closest))
	}
	if !closest[0].ID.Equal(mustID(1)) {
		t.Errorf("expected closest to be id=1, got %s", closest[0].ID)
	}
}

func TestRoutingTableRefusesSelf(t *testing.T) {
	self := mustID(0)
	rt := NewRoutingTable(self, NewSystemTimeProvider(), nil)
	if err := rt.AddContact(Contact{ID: self}); err != ErrSelfContact {
		t.Fatalf("expected ErrSelfContact, got %v", err)
	}
}

func TestRoutingTableRemoveContact(t *testing.T) {
	self := mustID(0)
	rt := NewRoutingTable(self, NewSystemTimeProvider(), nil)
	c := contactWithID(1)
	_ = rt.AddContact(c)
	if err := rt.RemoveContact(c.ID, false); err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	if rt.TotalContacts() != 0 {
		t.Error("expected 0 contacts after remove")
	}
}

// TestRoutingTableSplitsOnLocalRange fills the bucket containing the local
// id past capacity and expects a split instead of eviction, since the
// bucket's range covers self.
func TestRoutingTableSplitsOnLocalRange(t *testing.T) {
	self := mustID(0)
	rt := NewRoutingTable(self, NewSystemTimeProvider(), nil)

	// All of these ids share the bucket with self (id=0) until it splits,
	// since the whole space starts as a single bucket.
	for i := 1; i <= K+5; i++ {
		c := contactWithID(byte(i))
		if err := rt.AddContact(c); err != nil {
			t.Fatalf("add contact %d failed: %v", i, err)
		}
	}

	if rt.TotalContacts() != K+5 {
		t.Fatalf("expected all %d contacts retained after split, got %d", K+5, rt.TotalContacts())
	}
	// Root must have split: it is no longer a single leaf.
	if rt.root.bucket != nil {
		t.Error("expected root to have split into children")
	}
}

// farID returns an id with the top bit set (so it always lands on the far
// side of a split from self=0) and n in the low byte to keep ids distinct.
func farID(n byte) ID {
	var id ID
	id[0] = 0x80
	id[IDSize-1] = n
	return id
}

// TestRoutingTableEvictsDeadHead exercises the liveness-probe path for a
// bucket that is full and does NOT cover the local id. self=0 never falls
// on the far (top-bit-set) side of any split, so a bucket filled with far
// ids is guaranteed not to cover self.
func TestRoutingTableEvictsDeadHead(t *testing.T) {
	self := idFromBigInt(big.NewInt(0))
	pinger := &fakePinger{alive: false}
	rt := NewRoutingTable(self, NewSystemTimeProvider(), pinger)

	for i := 0; i < K; i++ {
		if err := rt.AddContact(Contact{ID: farID(byte(i))}); err != nil {
			t.Fatalf("add far contact %d failed: %v", i, err)
		}
	}

	newcomer := Contact{ID: farID(K)}
	if err := rt.AddContact(newcomer); err != nil {
		t.Fatalf("add newcomer failed: %v", err)
	}

	if len(pinger.calls) != 1 {
		t.Fatalf("expected exactly one liveness probe, got %d", len(pinger.calls))
	}
	if !pinger.calls[0].ID.Equal(farID(0)) {
		t.Errorf("expected head (id=0) to be probed, got %s", pinger.calls[0].ID)
	}
	if !rt.Contains(newcomer.ID) {
		t.Error("expected newcomer present after dead-head eviction")
	}
	if rt.Contains(farID(0)) {
		t.Error("expected evicted head to be gone")
	}
}
