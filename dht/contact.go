package dht

import (
	"fmt"
	"time"
)

// Contact is a peer reachable through the routing table. Two contacts are
// equal iff their ids match; every other field may be refreshed in place
// whenever a new message arrives from the same id.
type Contact struct {
	ID       ID
	Address  string
	Port     uint16
	Version  string
	LastSeen time.Time
}

// NewContact builds a contact stamped with the current time from tp.
func NewContact(id ID, address string, port uint16, version string, tp TimeProvider) Contact {
	return Contact{
		ID:       id,
		Address:  address,
		Port:     port,
		Version:  version,
		LastSeen: tp.Now(),
	}
}

// Equal reports whether two contacts share an id.
func (c Contact) Equal(other Contact) bool {
	return c.ID.Equal(other.ID)
}

// HostPort renders the contact's reachable address as host:port.
func (c Contact) HostPort() string {
	return fmt.Sprintf("%s:%d", c.Address, c.Port)
}

// Touch returns a copy of c with LastSeen advanced to tp.Now().
func (c Contact) Touch(tp TimeProvider) Contact {
	c.LastSeen = tp.Now()
	return c
}
