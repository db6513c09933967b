package dht

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Record is a signed key/value entry. Key is derived deterministically from
// PublicKey and Name (see admission.go); records sharing a Key are ordered
// by Timestamp, and the store retains only the maximum.
type Record struct {
	Key       ID
	Value     []byte
	Timestamp time.Time
	Expires   time.Time
	PublicKey [32]byte
	Name      string
	Meta      []byte
	Signature [64]byte
	Version   string
}

// Store is an in-memory map from key to the most recent admitted record.
// Set never verifies signatures; that is admission.go's job, performed
// before Set is called.
type Store struct {
	mu      sync.RWMutex
	records map[ID]Record
}

// NewStore creates an empty record store.
func NewStore() *Store {
	return &Store{records: make(map[ID]Record)}
}

// Get returns the record for key, if any.
func (s *Store) Get(key ID) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[key]
	return r, ok
}

// Set admits record if no existing entry for its key has a strictly newer
// timestamp; otherwise returns ErrStale and leaves the store unchanged.
func (s *Store) Set(record Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.records[record.Key]; ok && existing.Timestamp.After(record.Timestamp) {
		return ErrStale
	}

	s.records[record.Key] = record
	logrus.WithFields(logrus.Fields{
		"key":       record.Key.String(),
		"timestamp": record.Timestamp,
	}).Debug("record admitted to store")
	return nil
}

// Delete removes key unconditionally, e.g. once its Expires has passed.
func (s *Store) Delete(key ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, key)
}

// ExpiredKeys returns every key whose record's Expires is at or before now.
func (s *Store) ExpiredKeys(now time.Time) []ID {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var expired []ID
	for key, r := range s.records {
		if !r.Expires.After(now) {
			expired = append(expired, key)
		}
	}
	return expired
}

// Len returns the number of records currently held.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
