// Package bolt implements a persistent document database (docdb.DocDB) on top of
// a bbolt file.
//
// Layout of the file:
//
//   - bucket "docs": document key → msgpack encoded entry (fields, version, expireAt)
//   - bucket "views": view id → msgpack encoded view definition
//   - bucket "view:<ddoc>/<view>" per view: emitted key + 0x00 + document id → document id
//
// Every write is a single bbolt Update transaction that reads the current document,
// decides, writes it and moves its view items. Add and CompareAndSwap are therefore
// atomic, and views are always consistent with the documents.
//
// Emitted keys must not contain 0x00, otherwise the ordering of view items sharing a
// prefix is not defined.
//
// Each committed write is synced to disk (unless Options.NoSync is set), so a store
// backed by this engine can satisfy a persistTo requirement of one node.
package bolt
