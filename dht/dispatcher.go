package dht

import (
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Dispatcher is the single entry point for inbound messages: for every one
// it refreshes the sender's liveness in the routing table, then routes by
// type to the per-message handler.
type Dispatcher struct {
	self              Contact
	routing           *RoutingTable
	store             *Store
	pending           *PendingTable
	client            *Client
	tp                TimeProvider
	replicateInterval time.Duration
	scheduler         schedulerFunc
}

// schedulerFunc schedules fn to run after d; it is a narrow seam so
// Dispatcher does not need to import the transport package's full
// Scheduler type in its constructor signature.
type schedulerFunc func(d time.Duration, fn func())

// NewDispatcher builds a message dispatcher.
func NewDispatcher(self Contact, routing *RoutingTable, store *Store, pending *PendingTable, client *Client, tp TimeProvider, replicateInterval time.Duration, scheduler schedulerFunc) *Dispatcher {
	return &Dispatcher{
		self:              self,
		routing:           routing,
		store:             store,
		pending:           pending,
		client:            client,
		tp:                tp,
		replicateInterval: replicateInterval,
		scheduler:         scheduler,
	}
}

// Handle processes one inbound message from addr. msg must be one of the
// eight types in messages.go.
func (d *Dispatcher) Handle(msg interface{}, addr net.Addr) error {
	contact, err := d.contactFromMessage(msg, addr)
	if err != nil {
		return err
	}
	if !contact.ID.Equal(d.self.ID) {
		if err := d.routing.AddContact(contact); err != nil && err != ErrSelfContact {
			logrus.WithError(err).Debug("add_contact failed while refreshing sender liveness")
		}
	}

	switch m := msg.(type) {
	case *Ping:
		return d.handlePing(m, contact)
	case *Pong:
		return d.handlePong(m)
	case *StoreMsg:
		return d.handleStore(m, contact)
	case *FindNode:
		return d.handleFindNode(m, contact)
	case *FindValue:
		return d.handleFindValue(m, contact)
	case *Value:
		return d.handleValue(m, contact)
	case *Nodes:
		return d.handleNodes(m)
	case *ErrorMsg:
		return d.handleError(m)
	default:
		return fmt.Errorf("dispatcher: unrecognized message type %T", msg)
	}
}

// contactFromMessage builds the Contact to refresh liveness with: the
// peer's transport address plus the message's declared node id and
// version, stamped now.
func (d *Dispatcher) contactFromMessage(msg interface{}, addr net.Addr) (Contact, error) {
	host, portStr, node, version, err := declaredFields(msg, addr)
	if err != nil {
		return Contact{}, err
	}
	var port uint16
	fmt.Sscanf(portStr, "%d", &port)
	return NewContact(node, host, port, version, d.tp), nil
}

func declaredFields(msg interface{}, addr net.Addr) (host, port string, node ID, version string, err error) {
	host, port, splitErr := net.SplitHostPort(addr.String())
	if splitErr != nil {
		host, port = addr.String(), "0"
	}

	switch m := msg.(type) {
	case *Ping:
		return host, port, m.Node, m.Version, nil
	case *Pong:
		return host, port, m.Node, m.Version, nil
	case *StoreMsg:
		return host, port, m.Node, m.Version, nil
	case *FindNode:
		return host, port, m.Node, m.Version, nil
	case *FindValue:
		return host, port, m.Node, m.Version, nil
	case *Value:
		return host, port, m.Node, m.Version, nil
	case *Nodes:
		return host, port, m.Node, m.Version, nil
	case *ErrorMsg:
		return host, port, m.Node, m.Version, nil
	default:
		return "", "", ID{}, "", fmt.Errorf("dispatcher: unrecognized message type %T", msg)
	}
}

// handlePing replies with PONG, echoing the request uuid, then closes the
// transport connection to the sender: a PING/PONG exchange does not keep a
// channel open.
func (d *Dispatcher) handlePing(m *Ping, contact Contact) error {
	pong := Pong{UUID: m.UUID, Node: d.self.ID, Version: d.self.Version}
	if err := d.client.send(contact, pong); err != nil {
		return err
	}
	if err := d.client.CloseConn(contact); err != nil {
		logrus.WithError(err).WithField("peer", contact.ID.String()).Debug("failed to close transport after PING reply")
	}
	return nil
}

// handlePong completes the pending entry for the echoed uuid.
func (d *Dispatcher) handlePong(m *Pong) error {
	d.pending.Complete(m.UUID, m)
	return nil
}

// handleStore verifies the signature, admits the record, and schedules
// replication.
func (d *Dispatcher) handleStore(m *StoreMsg, contact Contact) error {
	record := Record{
		Key:       m.Key,
		Value:     m.Value,
		Timestamp: m.Timestamp,
		Expires:   m.Expires,
		PublicKey: m.PublicKey,
		Name:      m.Name,
		Meta:      m.Meta,
		Signature: m.Sig,
		Version:   m.Version,
	}

	ok, code := VerifyRecord(record, d.tp)
	if !ok {
		_ = d.routing.RemoveContact(contact.ID, true)
		return d.client.send(contact, d.errorReply(m.UUID, code))
	}

	if err := d.store.Set(record); err != nil {
		if existing, found := d.store.Get(record.Key); found {
			details := ErrorDetails{NewTimestamp: existing.Timestamp.Format(time.RFC3339Nano)}
			errMsg := ErrorMsg{UUID: m.UUID, Node: d.self.ID, Code: ErrCodeOutOfDate, Title: "out_of_date", Details: details, Version: d.self.Version}
			return d.client.send(contact, errMsg)
		}
		return d.client.send(contact, d.errorReply(m.UUID, ErrCodeInvalidMessage))
	}

	pong := Pong{UUID: m.UUID, Node: d.self.ID, Version: d.self.Version}
	if err := d.client.send(contact, pong); err != nil {
		return err
	}

	d.scheduleReplicate(record)
	return nil
}

// scheduleReplicate arranges a deferred send_replicate at
// replicateInterval, unless the record is already expired by then.
func (d *Dispatcher) scheduleReplicate(record Record) {
	if d.scheduler == nil {
		return
	}
	if !record.Expires.After(d.tp.Now().Add(d.replicateInterval)) {
		return
	}
	d.scheduler(d.replicateInterval, func() {
		d.sendReplicate(record.Key)
	})
}

// sendReplicate re-reads the store (the record may have been superseded
// since scheduling) and re-publishes it to the k closest live peers for
// its key.
func (d *Dispatcher) sendReplicate(key ID) {
	current, ok := d.store.Get(key)
	if !ok || !current.Expires.After(d.tp.Now()) {
		return
	}
	targets := d.routing.FindCloseNodes(key, K, &d.self.ID)
	for _, target := range targets {
		if err := d.client.Store(target, current); err != nil {
			logrus.WithError(err).WithField("peer", target.ID.String()).Debug("replicate send failed")
		}
	}
}

// handleFindNode replies NODES with up to K closest contacts to m.Key.
func (d *Dispatcher) handleFindNode(m *FindNode, contact Contact) error {
	closest := d.routing.FindCloseNodes(m.Key, K, &contact.ID)
	return d.client.send(contact, d.nodesReply(m.UUID, closest))
}

// handleFindValue replies VALUE if the key is stored, else behaves exactly
// like FIND_NODE.
func (d *Dispatcher) handleFindValue(m *FindValue, contact Contact) error {
	if record, ok := d.store.Get(m.Key); ok {
		value := Value{
			UUID: m.UUID, Node: d.self.ID, Key: record.Key, Value: record.Value,
			Timestamp: record.Timestamp, Expires: record.Expires, PublicKey: record.PublicKey,
			Name: record.Name, Meta: record.Meta, Sig: record.Signature, Version: d.self.Version,
		}
		return d.client.send(contact, value)
	}
	closest := d.routing.FindCloseNodes(m.Key, K, &contact.ID)
	return d.client.send(contact, d.nodesReply(m.UUID, closest))
}

// handleValue verifies the signature; on success completes the pending
// handle with the record, on failure evicts the sender and fails it.
func (d *Dispatcher) handleValue(m *Value, contact Contact) error {
	record := Record{
		Key: m.Key, Value: m.Value, Timestamp: m.Timestamp, Expires: m.Expires,
		PublicKey: m.PublicKey, Name: m.Name, Meta: m.Meta, Signature: m.Sig, Version: m.Version,
	}
	ok, _ := VerifyRecord(record, d.tp)
	if !ok {
		_ = d.routing.RemoveContact(contact.ID, true)
		d.pending.Fail(m.UUID, ErrCodeInvalidSignature.errValue())
		return nil
	}
	d.pending.Complete(m.UUID, record)
	return nil
}

// handleNodes completes the pending handle with the contact list.
func (d *Dispatcher) handleNodes(m *Nodes) error {
	contacts := make([]Contact, 0, len(m.Nodes))
	for _, n := range m.Nodes {
		contacts = append(contacts, nodeInfoToContact(n, d.tp))
	}
	d.pending.Complete(m.UUID, contacts)
	return nil
}

// handleError fails the pending handle (if any) with the received code.
func (d *Dispatcher) handleError(m *ErrorMsg) error {
	d.pending.Fail(m.UUID, fmt.Errorf("dht: peer error %s: %s", m.Code, m.Title))
	return nil
}

func (d *Dispatcher) errorReply(id uuid.UUID, code ErrorCode) ErrorMsg {
	return ErrorMsg{UUID: id, Node: d.self.ID, Code: code, Title: code.String(), Version: d.self.Version}
}

func (d *Dispatcher) nodesReply(id uuid.UUID, contacts []Contact) Nodes {
	infos := make([]NodeInfo, 0, len(contacts))
	for _, c := range contacts {
		infos = append(infos, contactToNodeInfo(c))
	}
	return Nodes{UUID: id, Node: d.self.ID, Nodes: infos, Version: d.self.Version}
}

// errValue renders an ErrorCode as an error, for completing a pending
// handle that failed due to a received signature-verification error.
func (c ErrorCode) errValue() error {
	return fmt.Errorf("dht: %s", c.String())
}
