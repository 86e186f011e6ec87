// Package maple implements an in-memory document database (docdb.DocDB) with
// ordered secondary indexes (views).
//
// Key Components:
//
//   - mapleImpl: The database. Documents are spread over shards by a seeded hash
//     of their key. Versions and expiration timestamps are supplied by the caller,
//     the engine only stores and compares them.
//
//   - Shard: A partition holding an xsync.MapOf of documents. Every write goes
//     through MapOf.Compute, which runs the write function while the bucket of the
//     key is locked. Add and CompareAndSwap therefore check and write in one atomic
//     step, and concurrent CompareAndSwap loops never lose an update.
//
//   - View: An ordered index (google/btree) of (emitted key, document id) pairs.
//     Views are updated inside the same Compute call as the document, so a view never
//     misses a committed write. Range walks the index and reads the current document
//     of every item; items whose document no longer emits the item key are skipped.
//
// Expiration:
//
// Expired documents are invisible to Get and Range as soon as their ExpireAt timestamp
// has passed on the local clock. Add, CompareAndSwap and Delete take the timestamp from
// the caller. A background sweep (see DBOptions.GCInterval) or PurgeExpired removes
// expired documents together with their view items. Replicated databases disable the
// sweep and purge through the log instead.
//
// Persistence:
//
// Save writes a binary snapshot (magic number, version, view definitions, documents)
// and can run concurrently with writes. Load replaces the whole state and rebuilds
// all views; it must not run concurrently with other operations.
package maple
