// Package rpc makes document stores available over the network. The server side hosts
// shards of lstore or dstore stores, the client side implements store.IDocStore, so
// everything built on that interface (update coordinator, query pager, benchmark
// adapter) runs unchanged against a remote server.
//
// The package is organized into several subpackages:
//
//   - common: The Message protocol, client and server configuration, logging.
//
//   - transport: Transport interfaces and the HTTP implementation.
//
//   - serializer: Message serialization (msgpack, JSON, GOB).
//
//   - client: The store.IDocStore client.
//
//   - server: The server and its per shard adapters.
package rpc
