// Package common provides the data structures shared by the RPC client and server:
// the message protocol, configuration structures and logging.
//
// Key Components:
//
//   - Message: The single structure used for every request and response. Document
//     operations use Key, Fields, Version, ExpireIn and the durability fields; view
//     operations use DesignDoc, View, StartKey, Limit, Rows and Errors. Failed
//     operations carry the store.RetCode in Code, so clients rebuild typed
//     store errors with ToError.
//
//   - MessageType: The operations of store.IDocStore plus the error and success
//     control messages.
//
//   - ServerConfig / ClientConfig: Configuration of server nodes (shards, engine,
//     views, raft parameters) and clients (endpoints, bucket, credentials, failure
//     mode). BucketShardID maps bucket names to shard ids on both sides.
//
//   - Logger: A logger.ILogger factory for dragonboat's logger registry, which is
//     used for all logging of the module.
package common
