package main

import (
	"fmt"
	"net"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/dhtcore/kadnode/transport"
)

// loopback is an in-process registry of addresses to transports, standing
// in for a real socket so a single binary can run a small overlay without
// opening any network connections.
type loopback struct {
	mu    sync.RWMutex
	peers map[string]*loopbackTransport
}

func newLoopback() *loopback {
	return &loopback{peers: make(map[string]*loopbackTransport)}
}

// newTransport registers and returns a transport bound to addr.
func (lb *loopback) newTransport(addr string) *loopbackTransport {
	tr := &loopbackTransport{
		lb:       lb,
		addr:     loopbackAddr(addr),
		handlers: make(map[transport.PacketType]transport.PacketHandler),
	}
	lb.mu.Lock()
	lb.peers[addr] = tr
	lb.mu.Unlock()
	return tr
}

func (lb *loopback) lookup(addr string) (*loopbackTransport, bool) {
	lb.mu.RLock()
	defer lb.mu.RUnlock()
	tr, ok := lb.peers[addr]
	return tr, ok
}

// loopbackAddr satisfies net.Addr over a plain string, the same minimal
// shape dht.hostPortAddr uses internally.
type loopbackAddr string

func (a loopbackAddr) Network() string { return "loopback" }
func (a loopbackAddr) String() string  { return string(a) }

// loopbackTransport implements transport.Transport by handing packets
// directly to the destination's registered handler, asynchronously, on a
// new goroutine per packet. It exists only for this demo binary; a real
// deployment supplies its own Transport over UDP, TCP, or anything else.
type loopbackTransport struct {
	lb   *loopback
	addr net.Addr

	mu       sync.RWMutex
	handlers map[transport.PacketType]transport.PacketHandler
	closed   bool
}

func (t *loopbackTransport) Send(packet *transport.Packet, addr net.Addr) error {
	t.mu.RLock()
	closed := t.closed
	t.mu.RUnlock()
	if closed {
		return fmt.Errorf("loopback: transport closed")
	}

	dst, ok := t.lb.lookup(addr.String())
	if !ok {
		return fmt.Errorf("loopback: no peer registered at %s", addr)
	}

	dst.mu.RLock()
	handler, ok := dst.handlers[packet.PacketType]
	dst.mu.RUnlock()
	if !ok {
		return fmt.Errorf("loopback: peer %s has no handler for %s", addr, packet.PacketType)
	}

	go func() {
		if err := handler(packet, t.addr); err != nil {
			_ = err // best-effort delivery; the dispatcher already logged it
		}
	}()
	return nil
}

func (t *loopbackTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

func (t *loopbackTransport) LocalAddr() net.Addr {
	return t.addr
}

func (t *loopbackTransport) RegisterHandler(packetType transport.PacketType, handler transport.PacketHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers[packetType] = handler
}

// Abort and CloseConn are no-ops on the loopback transport: there is no
// per-peer connection object to tear down, since every Send call looks up
// the destination's registered handler fresh and invokes it directly. A
// socket-based Transport (UDP, TCP, QUIC) would use these to actually abort
// or close the underlying file descriptor for addr; the loopback transport
// only logs the call so the demo overlay's log output still reflects the
// dispatcher's and pending-RPC table's connection-lifecycle decisions.
func (t *loopbackTransport) Abort(addr net.Addr) error {
	logrus.WithField("peer", addr.String()).Debug("loopback: connection aborted")
	return nil
}

func (t *loopbackTransport) CloseConn(addr net.Addr) error {
	logrus.WithField("peer", addr.String()).Debug("loopback: connection closed")
	return nil
}
