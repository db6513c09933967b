// Package kadnode implements a Kademlia-style distributed hash table node:
// a self-balancing routing table of k-buckets, a signed record store with
// replication, and an iterative FIND_NODE/FIND_VALUE lookup engine, over a
// caller-supplied transport.
//
// Example:
//
//	keyPair, err := crypto.GenerateKeyPair()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	node, err := kadnode.New(keyPair, myTransport, kadnode.DefaultConfig())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	node.Start()
//	defer node.Close()
//
//	if err := node.Bootstrap(seedContact); err != nil {
//	    log.Fatal(err)
//	}
//
//	key, err := node.Put([]byte("hello"), "greeting", time.Hour)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	record, err := node.Get(key)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(string(record.Value))
package kadnode
