package crypto

import "crypto/sha1" //nolint:gosec // 160-bit output is the point: it sizes the DHT's identifier space, not a collision-resistance boundary.

// IDSize is the width, in bytes, of the identifier space the DHT routes
// over: an opaque 160-bit unsigned value.
const IDSize = sha1.Size

// DeriveKey computes the deterministic routing key for a record:
// key = H(public_key ‖ name).
//
// crypto/sha1 is used deliberately: the routing identifier space is fixed at
// 160 bits, exactly sha1.Size*8, matching a classic Kademlia routing table.
// No third-party hash produces a 160-bit digest natively - blake2b/sha256
// are 256-bit and would need an arbitrary truncation rule - so the standard
// library is the correct tool rather than a truncated substitute.
func DeriveKey(publicKey [32]byte, name string) [IDSize]byte {
	h := sha1.New() //nolint:gosec
	h.Write(publicKey[:])
	h.Write([]byte(name))
	var out [IDSize]byte
	copy(out[:], h.Sum(nil))
	return out
}
