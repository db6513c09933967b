package dht

import (
	"net"
	"testing"
	"time"

	kadcrypto "github.com/dhtcore/kadnode/crypto"
	"github.com/dhtcore/kadnode/transport"
)

func generateTestKeyPair(t *testing.T) (*kadcrypto.KeyPair, error) {
	t.Helper()
	return kadcrypto.GenerateKeyPair()
}

// recordingTransport captures every packet sent through it, in send order
// and paired with its destination address, for assertions in dispatcher
// tests.
type recordingTransport struct {
	sent []struct {
		addr   net.Addr
		packet *transport.Packet
	}
	aborted     []net.Addr
	closedConns []net.Addr
}

func (t *recordingTransport) Send(packet *transport.Packet, addr net.Addr) error {
	t.sent = append(t.sent, struct {
		addr   net.Addr
		packet *transport.Packet
	}{addr, packet})
	return nil
}

func (t *recordingTransport) Close() error                 { return nil }
func (t *recordingTransport) LocalAddr() net.Addr          { return hostPortAddr("test:0") }
func (t *recordingTransport) RegisterHandler(pt transport.PacketType, h transport.PacketHandler) {}

func (t *recordingTransport) Abort(addr net.Addr) error {
	t.aborted = append(t.aborted, addr)
	return nil
}

func (t *recordingTransport) CloseConn(addr net.Addr) error {
	t.closedConns = append(t.closedConns, addr)
	return nil
}

func newTestDispatcher(t *testing.T) (*Dispatcher, *recordingTransport, *Store, *RoutingTable) {
	t.Helper()
	self := Contact{ID: mustID(0), Address: "10.0.0.1", Port: 1, Version: "test"}
	rt := NewRoutingTable(self.ID, NewSystemTimeProvider(), nil)
	store := NewStore()
	tr := &recordingTransport{}
	pending := NewPendingTable(rt, tr, &fakeScheduler{})
	client := NewClient(self, tr, pending, time.Second)
	d := NewDispatcher(self, rt, store, pending, client, NewSystemTimeProvider(), time.Hour, nil)
	return d, tr, store, rt
}

func TestDispatcherHandlePingRepliesPong(t *testing.T) {
	d, tr, _, rt := newTestDispatcher(t)

	peerID := mustID(5)
	ping := &Ping{UUID: mkUUID(1), Node: peerID, Version: "v1"}
	addr := hostPortAddr("192.168.1.1:54321")

	if err := d.Handle(ping, addr); err != nil {
		t.Fatalf("handle ping failed: %v", err)
	}

	if len(tr.sent) != 1 {
		t.Fatalf("expected one reply, got %d", len(tr.sent))
	}
	pong, err := decodeMessage(tr.sent[0].packet.PacketType, tr.sent[0].packet.Data)
	if err != nil {
		t.Fatalf("decode reply: %v", err)
	}
	if p, ok := pong.(*Pong); !ok || p.UUID != ping.UUID {
		t.Errorf("expected matching PONG, got %+v", pong)
	}
	if !rt.Contains(peerID) {
		t.Error("expected sender added to routing table")
	}
	if len(tr.closedConns) != 1 {
		t.Errorf("expected transport closed once after PING reply, got %d", len(tr.closedConns))
	}
}

func TestDispatcherHandleStoreAdmitsAndReplies(t *testing.T) {
	d, tr, store, _ := newTestDispatcher(t)

	kp, _ := generateTestKeyPair(t)
	now := time.Now()
	rec := Record{Value: []byte("v"), Timestamp: now, Expires: now.Add(time.Hour), PublicKey: kp.Public, Name: "n"}
	signed, err := SignRecord(rec, kp.Private)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	msg := &StoreMsg{
		UUID: mkUUID(2), Node: mustID(7), Key: signed.Key, Value: signed.Value,
		Timestamp: signed.Timestamp, Expires: signed.Expires, PublicKey: signed.PublicKey,
		Name: signed.Name, Sig: signed.Signature, Version: "v1",
	}

	if err := d.Handle(msg, hostPortAddr("10.0.0.9:1234")); err != nil {
		t.Fatalf("handle store: %v", err)
	}

	got, ok := store.Get(signed.Key)
	if !ok {
		t.Fatal("expected record admitted to store")
	}
	if string(got.Value) != "v" {
		t.Errorf("unexpected stored value: %s", got.Value)
	}
	if len(tr.sent) != 1 {
		t.Fatalf("expected one reply, got %d", len(tr.sent))
	}
}

func TestDispatcherHandleFindNodeRepliesNodes(t *testing.T) {
	d, tr, _, rt := newTestDispatcher(t)
	_ = rt.AddContact(Contact{ID: mustID(3), Address: "10.0.0.2", Port: 2})

	msg := &FindNode{UUID: mkUUID(3), Node: mustID(9), Key: mustID(0), Version: "v1"}
	if err := d.Handle(msg, hostPortAddr("10.0.0.9:1234")); err != nil {
		t.Fatalf("handle find_node: %v", err)
	}

	reply, err := decodeMessage(tr.sent[len(tr.sent)-1].packet.PacketType, tr.sent[len(tr.sent)-1].packet.Data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	nodes, ok := reply.(*Nodes)
	if !ok {
		t.Fatalf("expected NODES reply, got %T", reply)
	}
	if len(nodes.Nodes) == 0 {
		t.Error("expected at least one contact in NODES reply")
	}
}

func TestDispatcherHandleStoreStaleRepliesOutOfDate(t *testing.T) {
	d, tr, store, _ := newTestDispatcher(t)

	kp, _ := generateTestKeyPair(t)
	now := time.Now()
	old := Record{Value: []byte("old"), Timestamp: now.Add(-time.Hour), Expires: now.Add(time.Hour), PublicKey: kp.Public, Name: "n"}
	signedOld, err := SignRecord(old, kp.Private)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	// Seed the store with a strictly newer record under the same key.
	current := signedOld
	current.Value = []byte("current")
	current.Timestamp = now
	if err := store.Set(current); err != nil {
		t.Fatalf("seed store: %v", err)
	}

	msg := &StoreMsg{
		UUID: mkUUID(4), Node: mustID(7), Key: signedOld.Key, Value: signedOld.Value,
		Timestamp: signedOld.Timestamp, Expires: signedOld.Expires, PublicKey: signedOld.PublicKey,
		Name: signedOld.Name, Sig: signedOld.Signature, Version: "v1",
	}
	if err := d.Handle(msg, hostPortAddr("10.0.0.9:1234")); err != nil {
		t.Fatalf("handle store: %v", err)
	}

	if len(tr.sent) != 1 {
		t.Fatalf("expected one reply, got %d", len(tr.sent))
	}
	reply, err := decodeMessage(tr.sent[0].packet.PacketType, tr.sent[0].packet.Data)
	if err != nil {
		t.Fatalf("decode reply: %v", err)
	}
	errMsg, ok := reply.(*ErrorMsg)
	if !ok {
		t.Fatalf("expected ERROR reply, got %T", reply)
	}
	if errMsg.Code != ErrCodeOutOfDate {
		t.Errorf("expected code %d, got %d", ErrCodeOutOfDate, errMsg.Code)
	}
	if errMsg.UUID != msg.UUID {
		t.Error("expected error reply to echo the request uuid")
	}
	want := current.Timestamp.Format(time.RFC3339Nano)
	if errMsg.Details.NewTimestamp != want {
		t.Errorf("expected new_timestamp %q, got %q", want, errMsg.Details.NewTimestamp)
	}

	got, _ := store.Get(signedOld.Key)
	if string(got.Value) != "current" {
		t.Error("expected store unchanged after stale write")
	}
}

func TestDispatcherSchedulesReplicate(t *testing.T) {
	self := Contact{ID: mustID(0), Address: "10.0.0.1", Port: 1, Version: "test"}
	rt := NewRoutingTable(self.ID, NewSystemTimeProvider(), nil)
	store := NewStore()
	tr := &recordingTransport{}
	pending := NewPendingTable(rt, tr, &fakeScheduler{})
	client := NewClient(self, tr, pending, time.Second)

	interval := time.Hour
	var deferredDelay time.Duration
	deferred := 0
	sched := func(delay time.Duration, fn func()) {
		deferredDelay = delay
		deferred++
	}
	d := NewDispatcher(self, rt, store, pending, client, NewSystemTimeProvider(), interval, sched)

	kp, _ := generateTestKeyPair(t)
	now := time.Now()
	rec := Record{Value: []byte("v"), Timestamp: now, Expires: now.Add(2 * interval), PublicKey: kp.Public, Name: "n"}
	signed, err := SignRecord(rec, kp.Private)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	msg := &StoreMsg{
		UUID: mkUUID(5), Node: mustID(7), Key: signed.Key, Value: signed.Value,
		Timestamp: signed.Timestamp, Expires: signed.Expires, PublicKey: signed.PublicKey,
		Name: signed.Name, Sig: signed.Signature, Version: "v1",
	}
	if err := d.Handle(msg, hostPortAddr("10.0.0.9:1234")); err != nil {
		t.Fatalf("handle store: %v", err)
	}

	if deferred != 1 {
		t.Fatalf("expected one deferred replicate, got %d", deferred)
	}
	if deferredDelay != interval {
		t.Errorf("expected replicate scheduled at %v, got %v", interval, deferredDelay)
	}
}

// A record that would already be expired by the time the replicate fires
// must not be scheduled at all.
func TestDispatcherSkipsReplicateForNearExpiry(t *testing.T) {
	self := Contact{ID: mustID(0), Address: "10.0.0.1", Port: 1, Version: "test"}
	rt := NewRoutingTable(self.ID, NewSystemTimeProvider(), nil)
	store := NewStore()
	tr := &recordingTransport{}
	pending := NewPendingTable(rt, tr, &fakeScheduler{})
	client := NewClient(self, tr, pending, time.Second)

	interval := time.Hour
	deferred := 0
	d := NewDispatcher(self, rt, store, pending, client, NewSystemTimeProvider(), interval, func(time.Duration, func()) { deferred++ })

	kp, _ := generateTestKeyPair(t)
	now := time.Now()
	rec := Record{Value: []byte("v"), Timestamp: now, Expires: now.Add(interval / 2), PublicKey: kp.Public, Name: "n"}
	signed, err := SignRecord(rec, kp.Private)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	msg := &StoreMsg{
		UUID: mkUUID(6), Node: mustID(7), Key: signed.Key, Value: signed.Value,
		Timestamp: signed.Timestamp, Expires: signed.Expires, PublicKey: signed.PublicKey,
		Name: signed.Name, Sig: signed.Signature, Version: "v1",
	}
	if err := d.Handle(msg, hostPortAddr("10.0.0.9:1234")); err != nil {
		t.Fatalf("handle store: %v", err)
	}

	if deferred != 0 {
		t.Errorf("expected no deferred replicate for a near-expiry record, got %d", deferred)
	}
}

func mkUUID(seed byte) (u [16]byte) {
	u[15] = seed
	return u
}
