// Package internal provides the communication protocol structures and serialization
// logic for the dstore package.
//
// This package is intended for internal use by the dstore implementation and should
// not be imported directly by external code.
//
//   - Commands are write operations (Insert, Add, CompareAndSwap, Delete). They are
//     serialized, proposed to the RAFT shard and applied by the state machine on every
//     replica.
//
//   - Queries are read operations (Get, View, Range, GetDBInfo). They are executed
//     locally on the state machine and therefore do not require serialization.
//
// Command Format:
//
//	- 1 byte: Command type
//	- 8 bytes: ExpireAt (int64 unix nano, big endian, 0 = never)
//	- 8 bytes: Expected version (uint64, big endian, only used by CompareAndSwap)
//	- 4 bytes: Key length (uint32, big endian)
//	- N bytes: Key data
//	- M bytes: msgpack encoded field map (optional, absent for Delete)
//
// The expiration is absolute so that all replicas store the same timestamp.
package internal
