// Package dht implements the routing core of a Kademlia-style distributed
// hash table: a self-balancing routing table of k-buckets, a pending-RPC
// table that correlates outbound requests to inbound responses by UUID,
// an iterative FIND_NODE/FIND_VALUE lookup engine, and the admission rules
// that govern which signed records the local node will store.
//
// # Architecture
//
// Every node owns exactly one RoutingTable, one Store, and one
// PendingTable. Dispatcher is the single entry point for inbound messages:
// it refreshes the sender's liveness in the routing table, then dispatches
// by message type (messages.go) to the behavior in dispatcher.go. Outbound
// requests go through Client, which allocates a UUID, registers a
// PendingTable entry, and hands the encoded message to the transport.
//
//	routing := dht.NewRoutingTable(selfID, tp, pinger)
//	store := dht.NewStore()
//	pending := dht.NewPendingTable(routing, transport, scheduler)
//	client := dht.NewClient(self, transport, pending, responseTimeout)
//	dispatcher := dht.NewDispatcher(self, routing, store, pending, client, tp, replicateInterval, scheduleAfter)
//
// # Routing table
//
// The routing table starts as a single bucket covering [0, 2^160) and
// splits on demand whenever a full bucket that covers the local node's id
// receives a new contact. Buckets elsewhere in the id space never split; a
// full bucket outside the local range triggers a liveness probe of its
// least-recently-seen contact instead.
//
//	routing.AddContact(contact)
//	closest := routing.FindCloseNodes(target, dht.K, nil)
//
// # Iterative lookup
//
// Lookup drives parallel, alpha-width FIND_NODE/FIND_VALUE rounds against
// the routing table's shortlist until the search converges on the k
// closest live peers, short-circuits on a value, or times out.
//
//	lk := dht.NewLookup(target, dht.QueryFindNode, routing, client, tp, func(r dht.LookupResult) { ... })
//	lk.Start(scheduler, timeout)
//
// # Record admission
//
// Store accepts a record only if no newer record is already held for the
// same key; signature verification (admission.go) is always performed by
// the caller before Set is invoked.
//
// # Deterministic testing
//
// Every time-sensitive component takes a TimeProvider so tests can drive a
// virtual clock instead of the wall clock (time.go).
package dht
