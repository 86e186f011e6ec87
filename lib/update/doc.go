// Package update implements optimistic read-modify-write updates on top of
// store.IDocStore.
//
// An update is a small state machine:
//
//	Fetch -> Mutate -> Commit -> Done
//	                     |
//	                     +-> Retry -> Fetch
//	                           |
//	                           +-> GiveUp
//
// Fetch reads the document and its version, Mutate builds the new content (merge or
// replace, see Policy) and Commit writes it with CompareAndSwap. A version conflict
// sends the update back to Fetch, so the caller's fields are always applied to the
// latest committed document and no concurrent update is lost. Missing documents and
// write failures end the update immediately.
//
// Retries are bounded by Options.MaxAttempts. Between attempts the coordinator waits
// according to a fixed tiered schedule: no wait for the first two conflicts, 1ms up to
// the 50th and 5ms afterwards.
package update
