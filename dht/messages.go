package dht

import (
	"time"

	"github.com/google/uuid"
)

// NodeInfo is the wire shape of one routing-table entry as carried inside a
// NODES reply: (id, address, port, version).
type NodeInfo struct {
	ID      ID
	Address string
	Port    uint16
	Version string
}

// Ping requests a liveness check. The dispatcher replies with Pong carrying
// the same UUID.
type Ping struct {
	UUID    uuid.UUID
	Node    ID
	Version string
}

// Pong answers a Ping.
type Pong struct {
	UUID    uuid.UUID
	Node    ID
	Version string
}

// StoreMsg asks the recipient to admit a signed record.
type StoreMsg struct {
	UUID      uuid.UUID
	Node      ID
	Key       ID
	Value     []byte
	Timestamp time.Time
	Expires   time.Time
	PublicKey [32]byte
	Name      string
	Meta      []byte
	Sig       [64]byte
	Version   string
}

// FindNode requests the recipient's closest contacts to Key.
type FindNode struct {
	UUID    uuid.UUID
	Node    ID
	Key     ID
	Version string
}

// FindValue requests the record for Key, falling back to FindNode behavior.
type FindValue struct {
	UUID    uuid.UUID
	Node    ID
	Key     ID
	Version string
}

// Nodes answers FindNode (or a FindValue miss) with a contact list.
type Nodes struct {
	UUID    uuid.UUID
	Node    ID
	Nodes   []NodeInfo
	Version string
}

// Value answers a FindValue hit with the full record.
type Value struct {
	UUID      uuid.UUID
	Node      ID
	Key       ID
	Value     []byte
	Timestamp time.Time
	Expires   time.Time
	PublicKey [32]byte
	Name      string
	Meta      []byte
	Sig       [64]byte
	Version   string
}

// ErrorDetails carries the optional payload accompanying an error code; the
// only field the core defines is NewTimestamp, for code 8 (out_of_date).
type ErrorDetails struct {
	NewTimestamp string
}

// ErrorMsg answers any request the recipient could not satisfy.
type ErrorMsg struct {
	UUID    uuid.UUID
	Node    ID
	Code    ErrorCode
	Title   string
	Details ErrorDetails
	Version string
}

// contactToNodeInfo renders a routing-table contact in wire form.
func contactToNodeInfo(c Contact) NodeInfo {
	return NodeInfo{ID: c.ID, Address: c.Address, Port: c.Port, Version: c.Version}
}

// nodeInfoToContact reconstructs a contact from a wire NodeInfo, stamping
// LastSeen from tp. Used when merging a NODES reply into a lookup's
// shortlist.
func nodeInfoToContact(n NodeInfo, tp TimeProvider) Contact {
	return Contact{ID: n.ID, Address: n.Address, Port: n.Port, Version: n.Version, LastSeen: tp.Now()}
}
