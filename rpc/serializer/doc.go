// Package serializer converts RPC messages (common.Message) to and from bytes.
//
// Key Components:
//
//   - IRPCSerializer: Core interface that all serializer implementations must satisfy.
//
//   - msgpackSerializerImpl: msgpack encoding with short field tags and pooled
//     encoders. Smallest payloads, the default of client and server.
//
//   - jsonSerializerImpl: JSON encoding, useful for debugging with curl or for
//     clients written in other languages. Message types are encoded as names.
//
//   - gobSerializerImpl: Go's gob encoding. Every message carries its type
//     description, which makes it the slowest and largest of the three.
//
// All implementations drop empty maps and slices, a decoded message has nil
// Fields, Rows and Errors where the encoded one had empty ones.
//
// Thread Safety:
//
//	All serializer implementations are stateless and safe for concurrent use.
package serializer
