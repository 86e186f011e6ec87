// Package store defines IDocStore, the narrow document store interface the benchmark
// client talks to, together with the value types (documents, versions, durability,
// views, pages) and the structured error system shared by all implementations.
//
// Key Components:
//
//   - IDocStore Interface: Get, Insert, Add, CompareAndSwap, Delete, ResolveView and
//     RangeQuery on fully qualified keys (see QualifyKey). Every write returns the
//     version the store assigned; CompareAndSwap only succeeds if the document still
//     has the version the caller read.
//
//   - Error System: *Error carries a RetCode and a message. Errors compare with
//     errors.Is by code against the sentinels (ErrNotFound, ErrVersionConflict, ...);
//     ErrWriteFailed matches every code that marks a systemic write failure
//     (durability, timeout, transport, internal).
//
//   - Durability: ParseDurability turns the configured persistTo / replicateTo names
//     into a Durability; each store checks it against its Capacity before writing.
//
// Implementations:
//
//   - Local Store (lstore): a single node store over any docdb.DocDB.
//     Available in the "github.com/ValentinKolb/dDoc/lib/store/lstore" package.
//
//   - Distributed Store (dstore): a RAFT replicated store built on Dragonboat.
//     Available in the "github.com/ValentinKolb/dDoc/lib/store/dstore" package.
//
//   - RPC Client: a remote store reached through a transport and serializer.
//     Available in the "github.com/ValentinKolb/dDoc/rpc/client" package.
package store
