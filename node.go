package kadnode

import (
	"fmt"
	"net"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dhtcore/kadnode/crypto"
	"github.com/dhtcore/kadnode/dht"
	"github.com/dhtcore/kadnode/transport"
)

// Node is a running participant in the DHT: it owns its signing identity,
// routing table, record store, and the background tasks that keep both
// healthy, and exposes the operations a caller drives the network with
// (Bootstrap, FindNode, Put, Get).
type Node struct {
	config  *Config
	keyPair *crypto.KeyPair
	self    dht.Contact

	transport  transport.Transport
	scheduler  transport.Scheduler
	routing    *dht.RoutingTable
	store      *dht.Store
	pending    *dht.PendingTable
	client     *dht.Client
	dispatcher *dht.Dispatcher
	maintainer *dht.Maintainer

	tp dht.TimeProvider
}

// New builds a Node bound to tr, identified by keyPair. config may be nil
// to accept DefaultConfig(). The returned Node is wired but not yet
// running background maintenance; call Start to begin it.
func New(keyPair *crypto.KeyPair, tr transport.Transport, config *Config) (*Node, error) {
	if keyPair == nil {
		return nil, fmt.Errorf("kadnode: keyPair is required")
	}
	if tr == nil {
		return nil, fmt.Errorf("kadnode: transport is required")
	}
	if config == nil {
		config = DefaultConfig()
	}

	tp := dht.NewSystemTimeProvider()
	selfID := dht.DeriveKey(keyPair.Public, "")

	host, portStr, err := net.SplitHostPort(tr.LocalAddr().String())
	if err != nil {
		return nil, fmt.Errorf("kadnode: parse local address: %w", err)
	}
	var port uint16
	fmt.Sscanf(portStr, "%d", &port)

	self := dht.NewContact(selfID, host, port, config.Version, tp)

	n := &Node{config: config, keyPair: keyPair, self: self, transport: tr, tp: tp}
	n.scheduler = transport.NewScheduler()
	n.routing = dht.NewRoutingTable(selfID, tp, n)
	n.store = dht.NewStore()
	n.pending = dht.NewPendingTable(n.routing, tr, n.scheduler)
	n.client = dht.NewClient(self, tr, n.pending, config.ResponseTimeout)
	n.dispatcher = dht.NewDispatcher(self, n.routing, n.store, n.pending, n.client, tp, config.ReplicateInterval, n.scheduleDeferred)
	n.maintainer = dht.NewMaintainer(n.routing, n.store, n.client, tp, n.scheduler, config.maintenanceConfig())

	n.registerHandlers()

	logrus.WithFields(logrus.Fields{
		"id":      selfID.String(),
		"address": self.HostPort(),
	}).Info("kadnode: node initialized")

	return n, nil
}

// Ping satisfies dht.Pinger: the routing table calls this to confirm a
// full bucket's least-recently-seen contact is actually dead before
// evicting it in favor of a new one.
func (n *Node) Ping(contact dht.Contact, onResult func(alive bool)) {
	n.client.Ping(contact, onResult)
}

// scheduleDeferred adapts transport.Scheduler to the dispatcher's narrow
// schedulerFunc seam, used for the delayed replication send.
func (n *Node) scheduleDeferred(d time.Duration, fn func()) {
	n.scheduler.ScheduleAfter(d, fn)
}

// registerHandlers wires every wire packet type to the dispatcher.
func (n *Node) registerHandlers() {
	for _, pt := range []transport.PacketType{
		transport.PacketPing, transport.PacketPong, transport.PacketStore,
		transport.PacketFindNode, transport.PacketFindValue,
		transport.PacketNodes, transport.PacketValue, transport.PacketError,
	} {
		n.transport.RegisterHandler(pt, n.handlePacket)
	}
}

// handlePacket decodes one inbound packet and hands it to the dispatcher.
func (n *Node) handlePacket(packet *transport.Packet, addr net.Addr) error {
	msg, err := dht.DecodeMessage(packet.PacketType, packet.Data)
	if err != nil {
		logrus.WithError(err).WithField("peer", addr.String()).Warn("kadnode: failed to decode inbound packet")
		return err
	}
	return n.dispatcher.Handle(msg, addr)
}

// Start begins the background bucket-refresh and record-expiry tasks.
// Calling Start twice is a no-op.
func (n *Node) Start() {
	n.maintainer.Start()
}

// Close stops background maintenance, wipes the node's signing key from
// memory, and closes the underlying transport.
func (n *Node) Close() error {
	n.maintainer.Stop()
	if err := crypto.WipeKeyPair(n.keyPair); err != nil {
		logrus.WithError(err).Warn("kadnode: failed to wipe signing key on close")
	}
	return n.transport.Close()
}

// Self returns the node's own routing contact.
func (n *Node) Self() dht.Contact {
	return n.self
}

// Bootstrap seeds the routing table with a known peer and performs an
// initial FIND_NODE lookup on the node's own id, the standard Kademlia
// join procedure.
func (n *Node) Bootstrap(peer dht.Contact) error {
	if err := n.routing.AddContact(peer); err != nil {
		return fmt.Errorf("kadnode: bootstrap add contact: %w", err)
	}

	result := make(chan dht.LookupResult, 1)
	lookup := dht.NewLookup(n.self.ID, dht.QueryFindNode, n.routing, n.client, n.tp, func(r dht.LookupResult) {
		result <- r
	})
	lookup.Start(n.scheduler, n.config.LookupTimeout)

	r := <-result
	if r.Err != nil {
		return fmt.Errorf("kadnode: bootstrap lookup: %w", r.Err)
	}
	return nil
}

// FindNode performs an iterative lookup for the k closest live contacts to
// target and blocks until it converges or times out.
func (n *Node) FindNode(target dht.ID) ([]dht.Contact, error) {
	result := make(chan dht.LookupResult, 1)
	lookup := dht.NewLookup(target, dht.QueryFindNode, n.routing, n.client, n.tp, func(r dht.LookupResult) {
		result <- r
	})
	lookup.Start(n.scheduler, n.config.LookupTimeout)

	r := <-result
	if r.Err != nil {
		return nil, r.Err
	}
	return r.Contacts, nil
}

// Get performs an iterative FIND_VALUE lookup for key.
func (n *Node) Get(key dht.ID) (dht.Record, error) {
	if local, ok := n.store.Get(key); ok {
		return local, nil
	}

	result := make(chan dht.LookupResult, 1)
	lookup := dht.NewLookup(key, dht.QueryFindValue, n.routing, n.client, n.tp, func(r dht.LookupResult) {
		result <- r
	})
	lookup.Start(n.scheduler, n.config.LookupTimeout)

	r := <-result
	if r.Err != nil {
		return dht.Record{}, r.Err
	}
	return *r.Record, nil
}

// Put signs value under the node's identity and name, admits it locally,
// and replicates it to the k closest known nodes for its key.
func (n *Node) Put(value []byte, name string, ttl time.Duration) (dht.ID, error) {
	now := n.tp.Now()
	record := dht.Record{
		Value:     value,
		Timestamp: now,
		Expires:   now.Add(ttl),
		PublicKey: n.keyPair.Public,
		Name:      name,
	}

	signed, err := dht.SignRecord(record, n.keyPair.Private)
	if err != nil {
		return dht.ID{}, fmt.Errorf("kadnode: sign record: %w", err)
	}

	if err := n.store.Set(signed); err != nil {
		return dht.ID{}, fmt.Errorf("kadnode: admit local record: %w", err)
	}

	targets := n.routing.FindCloseNodes(signed.Key, dht.K, &n.self.ID)
	for _, target := range targets {
		if err := n.client.Store(target, signed); err != nil {
			logrus.WithError(err).WithField("peer", target.ID.String()).Debug("kadnode: initial store send failed")
		}
	}

	return signed.Key, nil
}
