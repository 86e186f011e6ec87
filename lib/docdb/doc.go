// Package docdb provides a standardized interface for document database engines.
// A document is a flat mapping from field name to string value, stored under a
// string key together with a version and an optional expiration timestamp.
//
// Key Components:
//
//   - DocDB Interface: The interface all engines satisfy. Writes (Upsert, Add,
//     CompareAndSwap, Delete) take the version to store from the caller, so the
//     layer above decides where versions come from (a local counter, a raft log
//     index, ...). CompareAndSwap compares and writes in one atomic step.
//
//   - Views: Secondary indexes defined by ViewDefinition. A view emits one key per
//     document (the document id or "<field><value>" of one field) and Range returns
//     documents ordered by that key. YCSBViews builds the views the benchmark
//     adapter expects.
//
//   - Feature Flags: Engines advertise their capabilities through SupportsFeature.
//     FeaturePersistent marks engines whose writes are on disk when they return.
//
//   - Database Information: DatabaseInfo reports document count, size estimates,
//     defined views and engine specific metadata.
//
// Engines live in the engines/ subpackages, the conformance suite in testing/.
package docdb
