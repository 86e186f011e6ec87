// Package server implements the RPC server. A server hosts any number of shards, each
// one a document store addressed by the bucket name clients are configured with
// (see common.BucketShardID).
//
// Key Components:
//
//   - RPCServer: Creates the shards from the ServerConfig, decodes incoming requests,
//     routes them to the adapter of the addressed shard and encodes the response.
//
//   - IRPCServerAdapter: Translates messages into calls on a store.IDocStore.
//     NewIDocStoreServerAdapter is the adapter for document operations; it also
//     counts requests and their latency per message type (VictoriaMetrics/metrics).
//
// Shard types:
//
//   - ShardTypeLocal: lstore over the configured engine (maple or bolt). A bolt shard
//     keeps its file in the data dir across restarts and can satisfy persistTo=1.
//
//   - ShardTypeRemote: dstore, replicated with raft over all ClusterMembers. The
//     state machine starts empty on every start and is rebuilt from the raft snapshot
//     and log. Requires the raft parameters of the config.
//
// The configured views are defined on every shard before the first request is served.
//
// Usage Example:
//
//	config := common.ServerConfig{
//	  Shards: []common.ServerShard{
//	    {Bucket: "default", ShardID: common.BucketShardID("default"), Type: common.ShardTypeLocal},
//	  },
//	  Engine:   common.EngineMaple,
//	  Views:    docdb.YCSBViews("ycsb", []string{"usertable"}, nil, nil),
//	  Endpoint: "0.0.0.0:8080",
//	  LogLevel: "info",
//	}
//
//	s := server.NewRPCServer(config, http.NewHttpServerTransport(), serializer.NewMsgpackSerializer())
//	if err := s.Serve(); err != nil {
//	  log.Fatalf("Server error: %v", err)
//	}
//
// Thread Safety:
//
//	Requests are handled concurrently, the stores are safe for concurrent use.
//	Serve must be called only once.
package server
