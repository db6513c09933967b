// Package transport implements the network-facing packet format and
// collaborator interfaces the DHT core dispatches messages through.
//
// The packet system provides:
//   - Strongly-typed message identification using PacketType constants
//   - Binary serialization and parsing for network transmission
//   - A minimal, transport-agnostic envelope: [type(1)][payload(variable)]
//
// The DHT core never opens a socket itself (see transport.Transport); this
// package only describes the wire envelope and the collaborator interfaces a
// concrete UDP/TCP implementation would satisfy.
package transport

import (
	"errors"
)

// PacketType identifies the kind of message carried by a Packet. The eight
// values below are the complete message vocabulary the DHT core dispatches.
type PacketType byte

const (
	PacketPing      PacketType = iota + 1 // liveness probe
	PacketPong                            // liveness probe reply
	PacketStore                           // request to admit a record
	PacketFindNode                        // request for the closest contacts to a target id
	PacketFindValue                       // request for a record, falling back to closest contacts
	PacketNodes                           // reply carrying a contact list
	PacketValue                           // reply carrying a stored record
	PacketError                           // reply carrying a failure code
)

// Packet is the fundamental unit of communication: a typed, opaque payload.
// The payload itself is message-specific (see dht/messages.go) and is
// encoded/decoded by the dispatcher, not by this package.
type Packet struct {
	PacketType PacketType
	Data       []byte
}

// Serialize converts a packet to a byte slice for network transmission.
//
// Packet format: [packet_type(1)][data(variable)]
func (p *Packet) Serialize() ([]byte, error) {
	if p.Data == nil {
		return nil, errors.New("packet data is nil")
	}

	result := make([]byte, 1+len(p.Data))
	result[0] = byte(p.PacketType)
	copy(result[1:], p.Data)

	return result, nil
}

// ParsePacket converts a byte slice received from the network into a Packet.
func ParsePacket(data []byte) (*Packet, error) {
	if len(data) < 1 {
		return nil, errors.New("packet too short")
	}

	packet := &Packet{
		PacketType: PacketType(data[0]),
		Data:       make([]byte, len(data)-1),
	}
	copy(packet.Data, data[1:])

	return packet, nil
}

// String returns a short human-readable label, used in log fields.
func (t PacketType) String() string {
	switch t {
	case PacketPing:
		return "PING"
	case PacketPong:
		return "PONG"
	case PacketStore:
		return "STORE"
	case PacketFindNode:
		return "FIND_NODE"
	case PacketFindValue:
		return "FIND_VALUE"
	case PacketNodes:
		return "NODES"
	case PacketValue:
		return "VALUE"
	case PacketError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}
