// Package workload implements the bench command: a YCSB style load generator that
// drives the benchmark adapter (lib/bench) with a configurable record layout and
// operation mix and reports latencies per operation, optionally as CSV.
package workload
