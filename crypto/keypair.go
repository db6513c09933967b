// Package crypto implements the signing primitives the DHT core uses to
// admit and re-verify records.
package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/nacl/box"
)

// KeyPair is a node's Ed25519 signing identity. Public also seeds the
// node's routing ID via DeriveKey; Private is the 32-byte seed used to sign
// outgoing records.
type KeyPair struct {
	Public  [32]byte
	Private [32]byte
}

// GenerateKeyPair creates a new random Ed25519 key pair.
func GenerateKeyPair() (*KeyPair, error) {
	logger := logrus.WithFields(logrus.Fields{
		"function": "GenerateKeyPair",
		"package":  "crypto",
	})
	logger.Debug("generating new node signing key pair")

	// box.GenerateKey is only used here as a vetted 32-byte CSPRNG draw;
	// its returned public half (a curve25519 point) is discarded since the
	// core only ever needs an Ed25519 signing key, never key agreement.
	_, seed, err := box.GenerateKey(rand.Reader)
	if err != nil {
		logger.WithError(err).Error("failed to generate key material")
		return nil, fmt.Errorf("generate key pair: %w", err)
	}

	kp, err := FromSeed(*seed)
	if err != nil {
		return nil, err
	}

	logger.WithFields(logrus.Fields{
		"public_key_preview": fmt.Sprintf("%x", kp.Public[:8]),
	}).Info("node signing key pair generated")

	return kp, nil
}

// FromSeed reconstructs a key pair from an existing 32-byte Ed25519 seed,
// e.g. one loaded from operator-managed storage. The DHT core itself never
// persists key material to disk.
func FromSeed(seed [32]byte) (*KeyPair, error) {
	if isZeroKey(seed) {
		return nil, errors.New("invalid seed: all zeros")
	}

	edPriv := ed25519.NewKeyFromSeed(seed[:])
	edPub, ok := edPriv.Public().(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("unexpected ed25519 public key type")
	}

	kp := &KeyPair{Private: seed}
	copy(kp.Public[:], edPub)
	return kp, nil
}

// isZeroKey reports whether key consists entirely of zero bytes.
func isZeroKey(key [32]byte) bool {
	for _, b := range key {
		if b != 0 {
			return false
		}
	}
	return true
}
