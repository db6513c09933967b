package dht

import (
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/dhtcore/kadnode/transport"
)

// hostPortAddr is a minimal net.Addr over a contact's address/port, used
// only to satisfy the Transport.Send signature.
type hostPortAddr string

func (a hostPortAddr) Network() string { return "dht" }
func (a hostPortAddr) String() string  { return string(a) }

func contactAddr(c Contact) net.Addr {
	return hostPortAddr(c.HostPort())
}

// Client is the outbound half of the message dispatcher: it allocates a
// UUID per request, registers it in the pending-RPC table, encodes and
// sends the message, and exposes the eventual result through a callback.
// It satisfies Pinger, so the routing table's liveness probe goes through
// the exact same RPC machinery as an ordinary FIND_NODE.
type Client struct {
	self            Contact
	transport       transport.Transport
	pending         *PendingTable
	responseTimeout time.Duration
}

// NewClient builds an outbound request client.
func NewClient(self Contact, tr transport.Transport, pending *PendingTable, responseTimeout time.Duration) *Client {
	return &Client{self: self, transport: tr, pending: pending, responseTimeout: responseTimeout}
}

// send encodes msg, wraps it in a Packet, and transmits it to contact.
func (c *Client) send(contact Contact, msg interface{}) error {
	packetType, err := packetTypeFor(msg)
	if err != nil {
		return err
	}
	data, err := encodeMessage(msg)
	if err != nil {
		return err
	}
	return c.transport.Send(&transport.Packet{PacketType: packetType, Data: data}, contactAddr(contact))
}

// CloseConn ends the transport-level connection to contact gracefully. The
// dispatcher calls this once a PING/PONG exchange is complete.
func (c *Client) CloseConn(contact Contact) error {
	return c.transport.CloseConn(contactAddr(contact))
}

// Ping implements Pinger: it sends a PING and reports aliveness based on
// whether a PONG (or any response) arrives before the response timeout.
func (c *Client) Ping(contact Contact, onResult func(alive bool)) {
	id := uuid.New()
	msg := Ping{UUID: id, Node: c.self.ID, Version: c.self.Version}

	c.pending.Register(id, contact, CompletionFunc(func(r PendingResult) {
		onResult(r.Err == nil)
	}), c.responseTimeout)

	if err := c.send(contact, msg); err != nil {
		logrus.WithError(err).WithField("peer", contact.ID.String()).Warn("failed to send ping")
		c.pending.Fail(id, err)
	}
}

// FindNode sends a FIND_NODE to contact for target and delivers the result
// (a Nodes payload, or an error) to onResult.
func (c *Client) FindNode(contact Contact, target ID, onResult func(PendingResult)) {
	id := uuid.New()
	msg := FindNode{UUID: id, Node: c.self.ID, Key: target, Version: c.self.Version}

	c.pending.Register(id, contact, CompletionFunc(onResult), c.responseTimeout)
	if err := c.send(contact, msg); err != nil {
		c.pending.Fail(id, err)
	}
}

// FindValue sends a FIND_VALUE to contact for target.
func (c *Client) FindValue(contact Contact, target ID, onResult func(PendingResult)) {
	id := uuid.New()
	msg := FindValue{UUID: id, Node: c.self.ID, Key: target, Version: c.self.Version}

	c.pending.Register(id, contact, CompletionFunc(onResult), c.responseTimeout)
	if err := c.send(contact, msg); err != nil {
		c.pending.Fail(id, err)
	}
}

// Store sends a signed record to contact for admission, best-effort: the
// caller does not wait for PONG, matching a replication fire.
func (c *Client) Store(contact Contact, record Record) error {
	msg := buildStoreMessage(record, uuid.New(), c.self)
	return c.send(contact, msg)
}

func buildStoreMessage(record Record, id uuid.UUID, self Contact) StoreMsg {
	return StoreMsg{
		UUID:      id,
		Node:      self.ID,
		Key:       record.Key,
		Value:     record.Value,
		Timestamp: record.Timestamp,
		Expires:   record.Expires,
		PublicKey: record.PublicKey,
		Name:      record.Name,
		Meta:      record.Meta,
		Sig:       record.Signature,
		Version:   self.Version,
	}
}
