// Package testing provides standardised tests and benchmarks for
// document engines that satisfy the docdb.DocDB interface.
//
// The conformance suite checks the write contract (Upsert, Add, CompareAndSwap,
// Delete), expiration, view maintenance and ordering, snapshots and the absence
// of lost updates under concurrent CompareAndSwap loops.
//
// Example usage:
//
//	factory := func() docdb.DocDB {
//		return NewMyEngine()
//	}
//
//	dbtesting.RunDocDBTests(t, "MyEngine", factory)
//	dbtesting.RunDocDBBenchmarks(b, "MyEngine", factory)
package testing
