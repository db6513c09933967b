package dht

import (
	"bytes"
	"encoding/hex"
	"math/big"

	"github.com/dhtcore/kadnode/crypto"
)

// IDSize is the width, in bytes, of the 160-bit identifier space.
const IDSize = crypto.IDSize

// ID is an opaque 160-bit unsigned value, compared and ordered as an
// unsigned big-endian integer.
type ID [IDSize]byte

// IDFromBytes copies a 160-bit identifier out of a byte slice.
func IDFromBytes(b []byte) ID {
	var id ID
	copy(id[:], b)
	return id
}

// Equal reports whether two ids are identical.
func (id ID) Equal(other ID) bool {
	return id == other
}

// String returns the hex encoding of the id.
func (id ID) String() string {
	return hex.EncodeToString(id[:])
}

// Xor returns the XOR distance between id and other.
func Xor(a, b ID) ID {
	var out ID
	for i := range a {
		out[i] = a[i] ^ b[i]
	}
	return out
}

// Less reports whether id sorts strictly before other as an unsigned
// big-endian integer.
func (id ID) Less(other ID) bool {
	return bytes.Compare(id[:], other[:]) < 0
}

// BitLength returns the bit length of id: the 1-based position (1..160) of
// its highest set bit, or -1 if id is the zero value. This is the Kademlia
// "common-prefix length" input: distance(a,b) has bit length n means a and
// b share the top (IDSize*8-n) bits.
func (id ID) BitLength() int {
	for byteIdx := 0; byteIdx < IDSize; byteIdx++ {
		b := id[byteIdx]
		if b == 0 {
			continue
		}
		// Highest set bit within this byte.
		bit := 7
		for b>>uint(bit)&1 == 0 {
			bit--
		}
		return (IDSize-1-byteIdx)*8 + bit + 1
	}
	return -1
}

// BucketIndex returns floor(log2(distance(a,b))), the index (0..159) of the
// k-bucket that would hold b relative to a. Distance must be non-zero
// (a and b distinct); callers must not invoke this for a == b.
func BucketIndex(a, b ID) int {
	d := Xor(a, b)
	return d.BitLength() - 1
}

// BigInt returns id as an unsigned big-endian integer, for range arithmetic
// that can exceed the 160-bit representable space (the root bucket's
// exclusive upper bound is 2^160, one past the largest ID value).
func (id ID) BigInt() *big.Int {
	return new(big.Int).SetBytes(id[:])
}

// idSpaceSize is 2^160, the exclusive upper bound of the identifier space.
var idSpaceSize = new(big.Int).Lsh(big.NewInt(1), IDSize*8)

// idFromBigInt renders n (0 <= n <= 2^160) as an ID, truncating/left-padding
// to IDSize bytes. Used only for range bounds below 2^160; n == 2^160 must
// never be converted (callers compare against idSpaceSize directly instead).
func idFromBigInt(n *big.Int) ID {
	var id ID
	b := n.Bytes()
	if len(b) > IDSize {
		b = b[len(b)-IDSize:]
	}
	copy(id[IDSize-len(b):], b)
	return id
}
