// Package transport defines the interfaces for moving serialized RPC messages
// between clients and servers. Requests are routed by shard id; the http subpackage
// is the implementation used by client and server.
//
// Key Components:
//
//   - IRPCClientTransport: Client side, connects to the configured endpoints and sends
//     requests to a shard.
//
//   - IRPCServerTransport: Server side, receives requests and hands them to the
//     registered ServerHandleFunc.
package transport
