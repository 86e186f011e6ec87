// Package dstore implements store.IDocStore on top of a Dragonboat RAFT shard. Every
// replica of the shard holds a docdb.DocDB, writes are replicated log entries and
// reads are served by the state machine.
//
// Components:
//
//   - storeImpl: The client side. Writes (Insert, Add, CompareAndSwap, Delete) are
//     encoded as internal.Command and proposed with SyncPropose, reads (Get,
//     ResolveView, RangeQuery) are internal.Query values passed to SyncRead.
//     GetDBInfo uses StaleRead. ErrSystemBusy is retried a few times with a short
//     pause, timeouts surface as store.RetCTimeout.
//
//   - DocStateMachine: A dragonboat IConcurrentStateMachine wrapping the DocDB. The
//     views passed to CreateStateMachineFactory are defined on every replica before
//     the first entry is applied.
//
// Versions:
//
// The RAFT index of the entry that wrote a document is its version. Replicas apply
// entries in log order, so a CompareAndSwap sees the same current version on every
// replica and all replicas take the same decision.
//
// Durability:
//
// SyncPropose returns once a quorum of replicas has appended the entry to its on-disk
// log. A shard with N replicas therefore satisfies persistTo up to N/2+1 and
// replicateTo up to N/2 (see CapacityFor). Higher requirements are rejected with
// store.RetCDurabilityImpossible before anything is proposed.
//
// Expiration:
//
// Expiry timestamps are absolute and chosen by the proposer. Every command also
// carries the proposer's current time, and replicas decide expiry with that time
// instead of their own clock, so a lagging or replaying replica reaches the same
// result. Replica databases run without a background sweep; the shard leader
// periodically proposes a purge command (PurgeExpired) that removes expired documents
// on all replicas at the same log position.
//
// Snapshots:
//
// SaveSnapshot streams DocDB.Save while writes continue (fuzzy snapshot), a
// recovering replica loads it and replays the entries committed after it.
//
// Example:
//
//	nh, err := dragonboat.NewNodeHost(nodeHostConfig)
//	if err != nil { ... }
//
//	factory := func() docdb.DocDB { return maple.NewMapleDB(nil) }
//	err = nh.StartConcurrentReplica(members, false,
//	    dstore.CreateStateMachineFactory(factory, views), shardConfig)
//	if err != nil { ... }
//
//	s := dstore.NewDistributedStore(nh, shardID, len(members), 5*time.Second)
//
// For a single node without consensus use lstore, which implements the same interface.
package dstore
