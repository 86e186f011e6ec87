package transport

import (
	"github.com/ValentinKolb/dDoc/rpc/common"
)

// --------------------------------------------------------------------------
// Server Transport
// --------------------------------------------------------------------------

// ServerHandleFunc handles one encoded request for the shard of a bucket and returns
// the encoded response. It must not block longer than the operation it runs.
type ServerHandleFunc func(shardId uint64, req []byte) (resp []byte)

// IRPCServerTransport receives requests and hands them to the registered handler
type IRPCServerTransport interface {
	// RegisterHandler sets the handler requests are passed to. It must be called before Listen.
	RegisterHandler(handler ServerHandleFunc)
	// Listen serves requests on config.Endpoint until the transport fails
	Listen(config common.ServerConfig) error
}

// --------------------------------------------------------------------------
// Client Transport
// --------------------------------------------------------------------------

// IRPCClientTransport delivers encoded requests to one of the configured endpoints.
// Implementations are safe for concurrent use.
type IRPCClientTransport interface {
	// Connect prepares the transport for the endpoints and credentials of config
	Connect(config common.ClientConfig) error
	// Send delivers a request to the shard and returns the response. Failed deliveries
	// are retried according to config.FailureMode.
	Send(shardId uint64, req []byte) (resp []byte, err error)
	// Close releases idle connections
	Close() error
}
