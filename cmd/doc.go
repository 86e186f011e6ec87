// Package cmd implements the command-line interface of dDoc. It provides commands
// for running the server, for single document operations and for benchmarks.
//
// The package is organized into several subpackages:
//
//   - serve: Starts and configures the dDoc server (buckets, engine, views, raft)
//   - doc: Single benchmark operations (get, insert, update, delete, scan, query)
//   - workload: The bench command, a YCSB style load generator (load, run)
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// Flags can also be set with DDOC_<FLAG> environment variables, .env files or a
// config file (--config). See ddoc -help for a list of all commands.
package cmd
