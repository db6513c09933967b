package dht

import (
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Pinger sends a liveness probe to contact and reports the result
// asynchronously through onResult. It is the routing table's only
// collaborator with the outside world, used exclusively to resolve a full
// bucket's head contact when a new contact wants in and local eviction
// policy requires confirming the old one is actually dead. Implementations
// are expected to go through the pending-RPC table (see pending.go) so the
// probe participates in the normal response-timeout machinery.
type Pinger interface {
	Ping(contact Contact, onResult func(alive bool))
}

// RoutingTable is a dynamic, self-balancing tree of k-buckets covering the
// full 160-bit identifier space, rooted at a single bucket [0, 2^160) that
// splits on demand. It is the sole authority an iterative lookup consults
// to seed its shortlist.
type RoutingTable struct {
	mu     sync.Mutex
	selfID ID
	root   *bucketNode
	tp     TimeProvider
	pinger Pinger
}

// bucketNode is either a leaf holding a *KBucket, or an internal node with
// two children produced by a split. Splits are never undone.
type bucketNode struct {
	bucket      *KBucket
	left, right *bucketNode
}

// NewRoutingTable creates a routing table for selfID, starting with a
// single root bucket covering the entire identifier space.
func NewRoutingTable(selfID ID, tp TimeProvider, pinger Pinger) *RoutingTable {
	return &RoutingTable{
		selfID: selfID,
		root:   &bucketNode{bucket: newKBucket(big.NewInt(0), idSpaceSize, tp)},
		tp:     tp,
		pinger: pinger,
	}
}

// findLeaf walks the tree to the leaf node whose bucket covers id.
func (rt *RoutingTable) findLeaf(id ID) *bucketNode {
	n := rt.root
	for n.bucket == nil {
		if n.left.covers(id) {
			n = n.left
		} else {
			n = n.right
		}
	}
	return n
}

// covers reports whether the subtree rooted at n covers id; valid for both
// leaves and internal nodes.
func (n *bucketNode) covers(id ID) bool {
	if n.bucket != nil {
		return n.bucket.Covers(id)
	}
	return n.left.covers(id) || n.right.covers(id)
}

// AddContact attempts to insert contact into the routing table.
//
//  1. refuses to add the local node's own id;
//  2. finds the bucket covering contact.ID;
//  3. on a full bucket: splits it (and retries) if the bucket's range
//     covers the local id, otherwise probes the bucket's head contact and
//     resolves asynchronously through rt.pinger.
func (rt *RoutingTable) AddContact(contact Contact) error {
	if contact.ID.Equal(rt.selfID) {
		return ErrSelfContact
	}

	rt.mu.Lock()
	bucket, needProbe := rt.tryAddLocked(contact)
	rt.mu.Unlock()

	if needProbe {
		// Probing is asynchronous by contract (Pinger.onResult may fire
		// on another goroutine, or even synchronously in a test double),
		// so it must never run while rt.mu is held.
		rt.probeHeadForReplacement(bucket, contact)
	}
	return nil
}

// tryAddLocked attempts insertion, splitting full buckets that cover the
// local id. If insertion cannot be completed locally (the full bucket does
// not cover the local id), it returns that bucket so the caller can run the
// liveness-probe eviction policy outside the lock. Caller must hold rt.mu.
func (rt *RoutingTable) tryAddLocked(contact Contact) (bucket *KBucket, needProbe bool) {
	leaf := rt.findLeaf(contact.ID)
	err := leaf.bucket.Add(contact)
	if err == nil {
		return nil, false
	}
	if err != ErrBucketFull {
		return nil, false
	}

	if leaf.bucket.Covers(rt.selfID) {
		rt.splitLeaf(leaf)
		return rt.tryAddLocked(contact)
	}

	return leaf.bucket, true
}

// splitLeaf replaces leaf's bucket with two children.
func (rt *RoutingTable) splitLeaf(leaf *bucketNode) {
	lower, upper := leaf.bucket.split()
	leaf.bucket = nil
	leaf.left = &bucketNode{bucket: lower}
	leaf.right = &bucketNode{bucket: upper}
}

// probeHeadForReplacement pings bucket's LRU contact. If it answers, the
// new contact is dropped; if it times out, the head is evicted and the new
// contact appended.
func (rt *RoutingTable) probeHeadForReplacement(bucket *KBucket, candidate Contact) {
	rt.mu.Lock()
	head, ok := bucket.Head()
	if !ok {
		_ = bucket.Add(candidate)
		rt.mu.Unlock()
		return
	}
	rt.mu.Unlock()

	if rt.pinger == nil {
		return
	}
	rt.pinger.Ping(head, func(alive bool) {
		rt.mu.Lock()
		defer rt.mu.Unlock()
		if alive {
			logrus.WithField("contact", head.ID.String()).Debug("bucket head answered, dropping candidate")
			return
		}
		_ = bucket.Remove(head.ID)
		_ = bucket.Add(candidate)
		logrus.WithFields(logrus.Fields{
			"evicted":   head.ID.String(),
			"candidate": candidate.ID.String(),
		}).Info("bucket head unresponsive, replaced with candidate")
	})
}

// RemoveContact removes id from whichever bucket holds it. The removal
// policy is immediate regardless of forced: no fail-count threshold is
// tracked before a contact is dropped.
func (rt *RoutingTable) RemoveContact(id ID, forced bool) error {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	leaf := rt.findLeaf(id)
	return leaf.bucket.Remove(id)
}

// TouchKBucket marks the bucket covering id as recently accessed. Used
// whenever a lookup targeting that region begins.
func (rt *RoutingTable) TouchKBucket(id ID) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.findLeaf(id).bucket.touch()
}

// FindCloseNodes returns up to count contacts closest to target by XOR
// distance, drawn from every bucket, excluding exclude if set. Sorted
// ascending by distance; ties broken lexicographically on id bytes, then by
// LastSeen descending.
func (rt *RoutingTable) FindCloseNodes(target ID, count int, exclude *ID) []Contact {
	rt.mu.Lock()
	all := rt.allContactsLocked()
	rt.mu.Unlock()

	filtered := all[:0]
	for _, c := range all {
		if exclude != nil && c.ID.Equal(*exclude) {
			continue
		}
		filtered = append(filtered, c)
	}

	sortByDistance(filtered, target)

	if count > 0 && len(filtered) > count {
		filtered = filtered[:count]
	}
	return filtered
}

// sortByDistance orders contacts ascending by XOR distance to target;
// ties break on lexicographic id order, then LastSeen descending.
func sortByDistance(contacts []Contact, target ID) {
	sort.Slice(contacts, func(i, j int) bool {
		di := Xor(contacts[i].ID, target)
		dj := Xor(contacts[j].ID, target)
		if di != dj {
			return di.Less(dj)
		}
		if contacts[i].ID != contacts[j].ID {
			return contacts[i].ID.Less(contacts[j].ID)
		}
		return contacts[i].LastSeen.After(contacts[j].LastSeen)
	})
}

// allContactsLocked walks the whole tree. Caller must hold rt.mu.
func (rt *RoutingTable) allContactsLocked() []Contact {
	var out []Contact
	var walk func(n *bucketNode)
	walk = func(n *bucketNode) {
		if n.bucket != nil {
			out = append(out, n.bucket.GetContacts(0, nil)...)
			return
		}
		walk(n.left)
		walk(n.right)
	}
	walk(rt.root)
	return out
}

// RefreshBuckets returns every bucket whose last-accessed time is older
// than threshold. Refreshing each (an iterative FIND_NODE on a random id
// within its range) is a background task's job, not the routing table's.
func (rt *RoutingTable) RefreshBuckets(threshold time.Duration) []*KBucket {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	var stale []*KBucket
	var walk func(n *bucketNode)
	walk = func(n *bucketNode) {
		if n.bucket != nil {
			if rt.tp.Since(n.bucket.lastAccessed) > threshold {
				stale = append(stale, n.bucket)
			}
			return
		}
		walk(n.left)
		walk(n.right)
	}
	walk(rt.root)
	return stale
}

// Contains reports whether id is present in the routing table.
func (rt *RoutingTable) Contains(id ID) bool {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	_, err := rt.findLeaf(id).bucket.Get(id)
	return err == nil
}

// TotalContacts returns the number of contacts across all buckets.
func (rt *RoutingTable) TotalContacts() int {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return len(rt.allContactsLocked())
}
