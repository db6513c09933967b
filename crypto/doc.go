// Package crypto implements the signing and key-material primitives used by
// the DHT's admission layer.
//
// It provides Ed25519 key generation, signing and verification, and a
// constant-time memory wipe for retiring private key material. It does not
// implement channel encryption or any wire-level cryptography: the DHT core
// only needs to sign and verify records (see dht.Record), never to encrypt
// messages in transit.
//
// # Key Generation
//
//	keys, err := crypto.GenerateKeyPair()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer crypto.WipeKeyPair(keys)
//
// # Signing
//
//	sig, err := crypto.Sign(canonicalForm, keys.Private)
//	ok, err := crypto.Verify(canonicalForm, sig, keys.Public)
//
// # Deterministic Testing
//
// This package has no time-dependent behavior of its own (key generation and
// signing are clock-free); callers that need a virtual clock for admission
// checks use [github.com/dhtcore/kadnode/dht.TimeProvider] instead.
package crypto
