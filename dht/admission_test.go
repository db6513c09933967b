package dht

import (
	"testing"
	"time"

	kadcrypto "github.com/dhtcore/kadnode/crypto"
)

func TestSignAndVerifyRecordRoundTrip(t *testing.T) {
	kp, err := kadcrypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate key pair: %v", err)
	}

	now := time.Now()
	record := Record{
		Value:     []byte("hello"),
		Timestamp: now,
		Expires:   now.Add(time.Hour),
		PublicKey: kp.Public,
		Name:      "greeting",
	}

	signed, err := SignRecord(record, kp.Private)
	if err != nil {
		t.Fatalf("sign failed: %v", err)
	}

	ok, code := VerifyRecord(signed, NewSystemTimeProvider())
	if !ok {
		t.Fatalf("expected record to verify, got code %v", code)
	}
}

func TestVerifyRecordRejectsTamperedSignature(t *testing.T) {
	kp, _ := kadcrypto.GenerateKeyPair()
	now := time.Now()
	record := Record{
		Value:     []byte("hello"),
		Timestamp: now,
		Expires:   now.Add(time.Hour),
		PublicKey: kp.Public,
		Name:      "greeting",
	}
	signed, _ := SignRecord(record, kp.Private)
	signed.Value = []byte("tampered")

	ok, code := VerifyRecord(signed, NewSystemTimeProvider())
	if ok {
		t.Fatal("expected tampered record to fail verification")
	}
	if code != ErrCodeInvalidSignature {
		t.Errorf("expected invalid_signature code, got %v", code)
	}
}

func TestVerifyRecordRejectsExpired(t *testing.T) {
	kp, _ := kadcrypto.GenerateKeyPair()
	now := time.Now()
	record := Record{
		Value:     []byte("hello"),
		Timestamp: now.Add(-time.Hour),
		Expires:   now.Add(-time.Minute),
		PublicKey: kp.Public,
		Name:      "greeting",
	}
	signed, _ := SignRecord(record, kp.Private)

	ok, code := VerifyRecord(signed, NewSystemTimeProvider())
	if ok {
		t.Fatal("expected expired record to fail verification")
	}
	if code != ErrCodeInvalidMessage {
		t.Errorf("expected invalid_message code for expiry, got %v", code)
	}
}

func TestVerifyRecordRejectsFutureTimestamp(t *testing.T) {
	kp, _ := kadcrypto.GenerateKeyPair()
	now := time.Now()
	record := Record{
		Value:     []byte("hello"),
		Timestamp: now.Add(time.Hour),
		Expires:   now.Add(2 * time.Hour),
		PublicKey: kp.Public,
		Name:      "greeting",
	}
	signed, _ := SignRecord(record, kp.Private)

	ok, _ := VerifyRecord(signed, NewSystemTimeProvider())
	if ok {
		t.Fatal("expected far-future timestamp to fail verification")
	}
}

func TestDeriveKeyDeterministic(t *testing.T) {
	kp, _ := kadcrypto.GenerateKeyPair()
	a := DeriveKey(kp.Public, "name")
	b := DeriveKey(kp.Public, "name")
	if a != b {
		t.Error("expected DeriveKey to be deterministic")
	}
	c := DeriveKey(kp.Public, "other")
	if a == c {
		t.Error("expected different names to derive different keys")
	}
}
