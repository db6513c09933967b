package kadnode

import (
	"time"

	"github.com/dhtcore/kadnode/dht"
)

// Config holds the tunables a running Node needs beyond its identity and
// transport: RPC timing, lookup parallelism, and background maintenance
// cadence. Zero-value fields are not valid; use DefaultConfig and override
// individual fields as needed.
type Config struct {
	// ResponseTimeout bounds how long an outbound PING/FIND_NODE/FIND_VALUE
	// waits for a reply before the pending entry fails and the peer is
	// evicted from the routing table for a routed request.
	ResponseTimeout time.Duration

	// LookupTimeout bounds an entire iterative lookup, independent of any
	// single RPC's ResponseTimeout.
	LookupTimeout time.Duration

	// ReplicateInterval is the delay between admitting a record and
	// re-publishing it to the current k closest nodes for its key
	// once a record is admitted.
	ReplicateInterval time.Duration

	// BucketRefreshInterval is how often the maintainer scans for stale
	// buckets; BucketRefreshThreshold is how old a bucket's last access
	// must be to count as stale.
	BucketRefreshInterval  time.Duration
	BucketRefreshThreshold time.Duration

	// ExpirySweepInterval is how often expired records are purged from the
	// store.
	ExpirySweepInterval time.Duration

	// Version is the protocol version string stamped on every outbound
	// message and contact for interoperability checks.
	Version string
}

// DefaultConfig returns the tunables a Node uses unless overridden,
// mirroring dht.DefaultMaintenanceConfig's role for the background tasks
// and adding the RPC-facing timeouts DefaultMaintenanceConfig does not
// cover.
func DefaultConfig() *Config {
	return &Config{
		ResponseTimeout:        5 * time.Second,
		LookupTimeout:          10 * time.Second,
		ReplicateInterval:      time.Hour,
		BucketRefreshInterval:  5 * time.Minute,
		BucketRefreshThreshold: time.Hour,
		ExpirySweepInterval:    10 * time.Minute,
		Version:                "kadnode/1.0",
	}
}

// maintenanceConfig adapts Config's fields to dht.MaintenanceConfig's
// shape, keeping the two tunable sets in one place rather than asking
// callers to fill in both.
func (c *Config) maintenanceConfig() *dht.MaintenanceConfig {
	return &dht.MaintenanceConfig{
		RefreshInterval:     c.BucketRefreshInterval,
		RefreshThreshold:    c.BucketRefreshThreshold,
		LookupTimeout:       c.LookupTimeout,
		ExpirySweepInterval: c.ExpirySweepInterval,
	}
}
