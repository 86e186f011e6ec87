// Package lstore implements a local, single-node document store based on the
// store.IDocStore interface. It is a thin wrapper around any docdb.DocDB
// implementation with automatic version management.
//
// Implementation Details:
//
//   - Versions: The store keeps an atomic counter that is incremented for every
//     write and stored as the version of the written document. The counter starts
//     at the current unix nano time, so versions do not repeat when a persistent
//     engine is reopened.
//
//   - Expiration: Relative expiries are converted into absolute timestamps when the
//     write is issued.
//
//   - Durability: An in-memory engine satisfies no durability requirement, a
//     persistent engine (docdb.FeaturePersistent) satisfies persistTo=1. Writes with
//     a higher requirement fail with store.RetCDurabilityImpossible before anything
//     is written.
//
//   - Feature Detection: Operations the engine does not support return
//     store.RetCUnsupportedOperation.
//
// Usage Example:
//
//	factory := func() docdb.DocDB { return maple.NewMapleDB(nil) }
//	s := lstore.NewLocalStore(factory)
//
//	version, err := s.Insert("usertable-user1", store.Fields{"field0": "a"}, 0, store.Durability{})
//	doc, found, err := s.Get("usertable-user1")
//
// For replicated setups use the dstore package, which implements the same interface
// on top of RAFT.
package lstore
