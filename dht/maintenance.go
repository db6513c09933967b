package dht

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dhtcore/kadnode/transport"
)

// MaintenanceConfig holds the background-task cadence for a running node.
type MaintenanceConfig struct {
	// RefreshInterval is how often the routing table is scanned for
	// buckets whose last_accessed is older than RefreshThreshold.
	RefreshInterval time.Duration
	// RefreshThreshold is the staleness bound passed to
	// RoutingTable.RefreshBuckets.
	RefreshThreshold time.Duration
	// LookupTimeout bounds each refresh lookup.
	LookupTimeout time.Duration
	// ExpirySweepInterval is how often the record store is scanned for
	// expired records.
	ExpirySweepInterval time.Duration
}

// DefaultMaintenanceConfig returns sensible defaults for background
// maintenance.
func DefaultMaintenanceConfig() *MaintenanceConfig {
	return &MaintenanceConfig{
		RefreshInterval:     5 * time.Minute,
		RefreshThreshold:    time.Hour,
		LookupTimeout:       10 * time.Second,
		ExpirySweepInterval: 10 * time.Minute,
	}
}

// Maintainer drives the two periodic background tasks the core depends on
// but does not run itself: refreshing stale buckets with
// an iterative FIND_NODE on a random id in their range, and sweeping
// expired records out of the store.
type Maintainer struct {
	routing *RoutingTable
	store   *Store
	client  *Client
	tp      TimeProvider
	sched   transport.Scheduler
	config  *MaintenanceConfig

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	isRunning bool
}

// NewMaintainer builds a Maintainer. config may be nil to accept defaults.
func NewMaintainer(routing *RoutingTable, store *Store, client *Client, tp TimeProvider, sched transport.Scheduler, config *MaintenanceConfig) *Maintainer {
	if config == nil {
		config = DefaultMaintenanceConfig()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Maintainer{
		routing: routing,
		store:   store,
		client:  client,
		tp:      tp,
		sched:   sched,
		config:  config,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start begins the background refresh and expiry-sweep routines. Calling
// Start twice is a no-op.
func (m *Maintainer) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.isRunning {
		return
	}
	m.isRunning = true

	m.wg.Add(2)
	go m.refreshRoutine()
	go m.expirySweepRoutine()
}

// Stop halts both background routines and waits for them to exit.
func (m *Maintainer) Stop() {
	m.mu.Lock()
	if !m.isRunning {
		m.mu.Unlock()
		return
	}
	m.isRunning = false
	m.cancel()
	m.mu.Unlock()

	m.wg.Wait()
}

func (m *Maintainer) refreshRoutine() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.config.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.refreshStaleBuckets()
		}
	}
}

// refreshStaleBuckets runs an iterative FIND_NODE on a random id within
// each bucket whose last_accessed predates RefreshThreshold. Refreshing is
// driven by this background task, never by the routing table itself.
func (m *Maintainer) refreshStaleBuckets() {
	stale := m.routing.RefreshBuckets(m.config.RefreshThreshold)
	if len(stale) == 0 {
		return
	}
	logrus.WithField("count", len(stale)).Debug("refreshing stale buckets")

	for _, bucket := range stale {
		target := bucket.RandomID()
		lookup := NewLookup(target, QueryFindNode, m.routing, m.client, m.tp, func(r LookupResult) {
			if r.Err != nil {
				logrus.WithError(r.Err).WithField("target", target.String()).Debug("bucket refresh lookup failed")
			}
		})
		lookup.Start(m.sched, m.config.LookupTimeout)
	}
}

func (m *Maintainer) expirySweepRoutine() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.config.ExpirySweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.sweepExpiredRecords()
		}
	}
}

// sweepExpiredRecords deletes every record whose Expires has passed. The
// store itself never does this on its own, so a maintenance task must.
func (m *Maintainer) sweepExpiredRecords() {
	now := m.tp.Now()
	for _, key := range m.store.ExpiredKeys(now) {
		m.store.Delete(key)
	}
}
