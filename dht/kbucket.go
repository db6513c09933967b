package dht

import (
	"crypto/rand"
	"math/big"
	"time"

	"github.com/sirupsen/logrus"
)

// K is the maximum number of contacts held by a single k-bucket.
const K = 20

// KBucket holds at most K contacts whose ids fall within a half-open range
// of the identifier space, ordered ascending by LastSeen (head = least
// recently seen, tail = most recently seen). The MRU-at-tail discipline is
// load-bearing: eviction always considers the head first.
type KBucket struct {
	rangeMin     *big.Int // inclusive
	rangeMax     *big.Int // exclusive
	contacts     []Contact
	lastAccessed time.Time
	tp           TimeProvider
}

// newKBucket creates an empty bucket covering [min, max).
func newKBucket(min, max *big.Int, tp TimeProvider) *KBucket {
	return &KBucket{
		rangeMin:     min,
		rangeMax:     max,
		lastAccessed: tp.Now(),
		tp:           tp,
	}
}

// Covers reports whether id falls within [rangeMin, rangeMax).
func (b *KBucket) Covers(id ID) bool {
	n := id.BigInt()
	return n.Cmp(b.rangeMin) >= 0 && n.Cmp(b.rangeMax) < 0
}

// Len returns the number of contacts currently in the bucket.
func (b *KBucket) Len() int {
	return len(b.contacts)
}

// indexOf returns the slice index of id, or -1.
func (b *KBucket) indexOf(id ID) int {
	for i, c := range b.contacts {
		if c.ID.Equal(id) {
			return i
		}
	}
	return -1
}

// Add inserts contact, or refreshes and moves it to the tail if already
// present. Returns ErrBucketFull if the bucket is at capacity and contact
// is new; the caller (RoutingTable) decides whether to split or evict.
func (b *KBucket) Add(contact Contact) error {
	if i := b.indexOf(contact.ID); i >= 0 {
		b.contacts = append(b.contacts[:i], b.contacts[i+1:]...)
		b.contacts = append(b.contacts, contact)
		return nil
	}
	if len(b.contacts) >= K {
		return ErrBucketFull
	}
	b.contacts = append(b.contacts, contact)
	return nil
}

// Get looks up a contact by id.
func (b *KBucket) Get(id ID) (Contact, error) {
	if i := b.indexOf(id); i >= 0 {
		return b.contacts[i], nil
	}
	return Contact{}, ErrNotFound
}

// GetContacts returns up to count contacts in tail-first (most recently
// seen first) order, omitting exclude if set. count <= 0 means "all".
func (b *KBucket) GetContacts(count int, exclude *ID) []Contact {
	out := make([]Contact, 0, len(b.contacts))
	for i := len(b.contacts) - 1; i >= 0; i-- {
		c := b.contacts[i]
		if exclude != nil && c.ID.Equal(*exclude) {
			continue
		}
		out = append(out, c)
		if count > 0 && len(out) >= count {
			break
		}
	}
	return out
}

// Head returns the least-recently-seen contact, used for liveness probing
// when a bucket is full. The second return is false for an empty bucket.
func (b *KBucket) Head() (Contact, bool) {
	if len(b.contacts) == 0 {
		return Contact{}, false
	}
	return b.contacts[0], true
}

// Remove deletes a contact by id.
func (b *KBucket) Remove(id ID) error {
	i := b.indexOf(id)
	if i < 0 {
		return ErrNotFound
	}
	b.contacts = append(b.contacts[:i], b.contacts[i+1:]...)
	return nil
}

// touch marks the bucket as recently accessed, used whenever a lookup
// targeting its range begins.
func (b *KBucket) touch() {
	b.lastAccessed = b.tp.Now()
}

// RandomID draws a uniformly random id within the bucket's half-open
// range, for refreshing a stale bucket with an iterative FIND_NODE on a
// target nothing in the bucket already knows about.
func (b *KBucket) RandomID() ID {
	span := new(big.Int).Sub(b.rangeMax, b.rangeMin)
	n, err := rand.Int(rand.Reader, span)
	if err != nil {
		return idFromBigInt(b.rangeMin)
	}
	return idFromBigInt(new(big.Int).Add(b.rangeMin, n))
}

// split replaces b with two half-range child buckets and redistributes its
// contacts by range. The midpoint is the arithmetic mean of [rangeMin,
// rangeMax).
func (b *KBucket) split() (lower, upper *KBucket) {
	mid := new(big.Int).Add(b.rangeMin, b.rangeMax)
	mid.Rsh(mid, 1)

	lower = newKBucket(b.rangeMin, mid, b.tp)
	upper = newKBucket(mid, b.rangeMax, b.tp)

	for _, c := range b.contacts {
		if lower.Covers(c.ID) {
			_ = lower.Add(c)
		} else {
			_ = upper.Add(c)
		}
	}

	logrus.WithFields(logrus.Fields{
		"range_min": b.rangeMin.Text(16),
		"range_max": b.rangeMax.Text(16),
		"split_at":  mid.Text(16),
	}).Info("k-bucket split")

	return lower, upper
}
