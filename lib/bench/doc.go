// Package bench adapts a document store to the six operations of a YCSB style
// benchmark: Read, Update, Insert, Delete, Scan and Query.
//
// Records are addressed by table and key and stored as documents under
// store.QualifyKey(table, key). Update goes through the optimistic update
// coordinator (lib/update), Scan and Query through the view pager (lib/query).
//
// Configuration:
//
// Config is read from a viper instance (ConfigFromViper) so the same properties can
// come from flags, environment variables or a config file. SetDefaults documents
// the default of every property.
//
// Connections:
//
// All DBs of a process with the same hosts, bucket and user share one store handle.
// The first Init dials, concurrent Inits wait for it (singleflight), CloseAll closes
// the handles when the process exits. The hosts value "inproc" selects an in-memory
// store inside the process instead of a server.
//
// Every operation returns a Status and never panics. Latencies and outcomes are
// recorded as VictoriaMetrics metrics (ddoc_ops_total, ddoc_op_duration_seconds).
package bench
