package dht

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"github.com/dhtcore/kadnode/transport"
)

// Wire encoding is explicitly out of scope for the core (a deployment may
// swap in any codec it likes), but the dispatcher still needs one concrete
// default to actually exercise the transport in tests and the reference
// CLI. gob is used here rather than a hand-rolled binary layout: it is the
// only general-purpose struct codec in the standard library, and there is
// no compelling third-party alternative for an internal, Go-to-Go wire
// format with no cross-language requirement.
func encodeMessage(msg interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(msg); err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeMessage is decodeMessage's exported form, for a caller outside the
// package (the node facade) that needs to turn a raw inbound Packet back
// into one of the eight message types before handing it to a Dispatcher.
func DecodeMessage(packetType transport.PacketType, data []byte) (interface{}, error) {
	return decodeMessage(packetType, data)
}

func decodeMessage(packetType transport.PacketType, data []byte) (interface{}, error) {
	var dst interface{}
	switch packetType {
	case transport.PacketPing:
		dst = &Ping{}
	case transport.PacketPong:
		dst = &Pong{}
	case transport.PacketStore:
		dst = &StoreMsg{}
	case transport.PacketFindNode:
		dst = &FindNode{}
	case transport.PacketFindValue:
		dst = &FindValue{}
	case transport.PacketNodes:
		dst = &Nodes{}
	case transport.PacketValue:
		dst = &Value{}
	case transport.PacketError:
		dst = &ErrorMsg{}
	default:
		return nil, fmt.Errorf("unknown packet type: %v", packetType)
	}

	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(dst); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}
	return dst, nil
}

// packetTypeFor maps a decoded message to its wire PacketType.
func packetTypeFor(msg interface{}) (transport.PacketType, error) {
	switch msg.(type) {
	case *Ping, Ping:
		return transport.PacketPing, nil
	case *Pong, Pong:
		return transport.PacketPong, nil
	case *StoreMsg, StoreMsg:
		return transport.PacketStore, nil
	case *FindNode, FindNode:
		return transport.PacketFindNode, nil
	case *FindValue, FindValue:
		return transport.PacketFindValue, nil
	case *Nodes, Nodes:
		return transport.PacketNodes, nil
	case *Value, Value:
		return transport.PacketValue, nil
	case *ErrorMsg, ErrorMsg:
		return transport.PacketError, nil
	default:
		return 0, fmt.Errorf("unrecognized message type %T", msg)
	}
}
