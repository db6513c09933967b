package dht

import (
	"bytes"
	"encoding/binary"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dhtcore/kadnode/crypto"
)

// allowedClockSkew bounds how far into the future a record's Timestamp may
// claim to be and still be admitted.
const allowedClockSkew = 5 * time.Minute

// CanonicalForm computes the exact byte sequence a record's signature
// covers: the concatenation of value, timestamp, expires, name, meta. Both
// Sign and Verify must build this identically or every signature fails.
func CanonicalForm(value []byte, timestamp, expires time.Time, name string, meta []byte) []byte {
	var buf bytes.Buffer
	buf.Write(value)
	writeUnixNano(&buf, timestamp)
	writeUnixNano(&buf, expires)
	buf.WriteString(name)
	buf.Write(meta)
	return buf.Bytes()
}

func writeUnixNano(buf *bytes.Buffer, t time.Time) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(t.UnixNano()))
	buf.Write(b[:])
}

// DeriveKey computes a record's routing key from its public key and name.
func DeriveKey(publicKey [32]byte, name string) ID {
	return ID(crypto.DeriveKey(publicKey, name))
}

// SignRecord fills in Key and Sig on a candidate record using privateKey.
// Timestamp, Expires, Name, Meta, Value and PublicKey must already be set.
func SignRecord(record Record, privateKey [32]byte) (Record, error) {
	record.Key = DeriveKey(record.PublicKey, record.Name)

	form := CanonicalForm(record.Value, record.Timestamp, record.Expires, record.Name, record.Meta)
	sig, err := crypto.Sign(form, privateKey)
	if err != nil {
		return Record{}, err
	}
	record.Signature = [64]byte(sig)
	return record, nil
}

// VerifyRecord checks a record against the admission rules:
//
//  1. the signature matches PublicKey over the canonical form;
//  2. Key == DeriveKey(PublicKey, Name);
//  3. Timestamp <= now + allowedClockSkew;
//  4. Expires > now.
//
// Returns (true, 0) if admitted, otherwise (false, code) with the error
// code that should accompany the rejection.
func VerifyRecord(record Record, tp TimeProvider) (bool, ErrorCode) {
	expectedKey := DeriveKey(record.PublicKey, record.Name)
	if expectedKey != record.Key {
		logrus.WithField("key", record.Key.String()).Warn("record key does not match derived key")
		return false, ErrCodeInvalidMessage
	}

	form := CanonicalForm(record.Value, record.Timestamp, record.Expires, record.Name, record.Meta)
	ok, err := crypto.Verify(form, crypto.Signature(record.Signature), record.PublicKey)
	if err != nil || !ok {
		logrus.WithField("key", record.Key.String()).Warn("record signature verification failed")
		return false, ErrCodeInvalidSignature
	}

	now := tp.Now()
	if record.Timestamp.After(now.Add(allowedClockSkew)) {
		return false, ErrCodeInvalidMessage
	}
	if !record.Expires.After(now) {
		return false, ErrCodeInvalidMessage
	}

	return true, 0
}
