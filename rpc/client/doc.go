// Package client implements store.IDocStore on top of the RPC layer.
//
// NewRPCStore connects a transport and returns a store that sends every operation
// as one request to the shard of the configured bucket (common.BucketShardID).
// Error responses are turned back into *store.Error values with the return code the
// server reported, so errors.Is(err, store.ErrVersionConflict) and friends work the
// same way as against a local store. Requests that can not be delivered or decoded
// fail with store.RetCTransport.
//
// Usage Example:
//
//	config := common.ClientConfig{
//	  Endpoints:     []string{"localhost:8080"},
//	  Bucket:        "default",
//	  TimeoutSecond: 5,
//	  RetryCount:    3,
//	}
//
//	s, err := client.NewRPCStore(config, http.NewHttpClientTransport(), serializer.NewMsgpackSerializer())
//	if err != nil {
//	  return err
//	}
//	version, err := s.Insert("usertable-user1", store.Fields{"field0": "a"}, 0, store.Durability{})
//
// Thread Safety:
//
//	The store is safe for concurrent use, it keeps no state besides the transport.
package client
