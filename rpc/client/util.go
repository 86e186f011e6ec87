package client

import (
	"github.com/ValentinKolb/dDoc/lib/store"
	"github.com/ValentinKolb/dDoc/rpc/common"
	"github.com/ValentinKolb/dDoc/rpc/serializer"
	"github.com/ValentinKolb/dDoc/rpc/transport"
	"github.com/lni/dragonboat/v4/logger"
)

var (
	Logger = logger.GetLogger("rpc")
)

// rpcClientAdapter is a struct that stores all data needed for an implementation if an RPC client
type rpcClientAdapter struct {
	shardId    uint64
	config     common.ClientConfig
	transport  transport.IRPCClientTransport
	serializer serializer.IRPCSerializer
}

// invoke sends a request to the shard of the client and returns the response.
// Failures to deliver or decode the request are returned as RetCTransport errors,
// error responses as the store error they carry.
func (c *rpcClientAdapter) invoke(req *common.Message) (*common.Message, error) {
	reqBytes, err := c.serializer.Serialize(*req)
	if err != nil {
		return nil, store.Errorf(store.RetCTransport, "failed to serialize %s request: %v", req.MsgType, err)
	}

	respBytes, err := c.transport.Send(c.shardId, reqBytes)
	if err != nil {
		return nil, store.Errorf(store.RetCTransport, "%s request failed: %v", req.MsgType, err)
	}

	resp := &common.Message{}
	if err = c.serializer.Deserialize(respBytes, resp); err != nil {
		return nil, store.Errorf(store.RetCTransport, "failed to deserialize %s response: %v", req.MsgType, err)
	}

	if err := resp.ToError(); err != nil {
		return nil, err
	}

	if resp.MsgType != req.MsgType {
		return nil, store.Errorf(store.RetCTransport, "unexpected message type: %s, expected %s", resp.MsgType, req.MsgType)
	}
	return resp, nil
}
