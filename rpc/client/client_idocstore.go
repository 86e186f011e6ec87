package client

import (
	"time"

	"github.com/ValentinKolb/dDoc/lib/docdb"
	"github.com/ValentinKolb/dDoc/lib/store"
	"github.com/ValentinKolb/dDoc/rpc/common"
	"github.com/ValentinKolb/dDoc/rpc/serializer"
	"github.com/ValentinKolb/dDoc/rpc/transport"
)

// NewRPCStore creates a document store client for the bucket of the config.
// The transport is connected before the store is returned.
func NewRPCStore(
	config common.ClientConfig,
	transport transport.IRPCClientTransport,
	serializer serializer.IRPCSerializer,
) (store.IDocStore, error) {
	if err := transport.Connect(config); err != nil {
		return nil, err
	}

	return &rpcStore{
		rpcClientAdapter{
			shardId:    common.BucketShardID(config.Bucket),
			config:     config,
			transport:  transport,
			serializer: serializer,
		},
	}, nil
}

type rpcStore struct {
	rpcClientAdapter
}

// --------------------------------------------------------------------------
// Interface Methods (docu see the store package in interface.go)
// --------------------------------------------------------------------------

func (s *rpcStore) Get(key string) (store.Document, bool, error) {
	resp, err := s.invoke(common.NewGetRequest(key))
	if err != nil {
		return store.Document{}, false, err
	}
	if !resp.Ok {
		return store.Document{}, false, nil
	}
	fields := store.Fields(resp.Fields)
	if fields == nil {
		fields = store.Fields{}
	}
	return store.Document{Fields: fields, Version: store.Version(resp.Version)}, true, nil
}

func (s *rpcStore) Insert(key string, fields store.Fields, expiry time.Duration, durability store.Durability) (store.Version, error) {
	return s.write(common.NewInsertRequest(key, fields, expiry, durability))
}

func (s *rpcStore) Add(key string, fields store.Fields, expiry time.Duration, durability store.Durability) (store.Version, error) {
	return s.write(common.NewAddRequest(key, fields, expiry, durability))
}

func (s *rpcStore) CompareAndSwap(key string, expected store.Version, fields store.Fields, durability store.Durability) (store.Version, error) {
	return s.write(common.NewCASRequest(key, expected, fields, durability))
}

func (s *rpcStore) Delete(key string) error {
	_, err := s.invoke(common.NewDeleteRequest(key))
	return err
}

func (s *rpcStore) ResolveView(id store.ViewID) (*store.ViewHandle, error) {
	resp, err := s.invoke(common.NewResolveViewRequest(id))
	if err != nil {
		return nil, err
	}
	if !resp.Ok {
		return nil, store.Errorf(store.RetCViewNotFound, "view %s is not defined", id)
	}
	return &store.ViewHandle{
		ID:   store.ViewID{DesignDoc: resp.DesignDoc, View: resp.View},
		Emit: resp.Emit,
	}, nil
}

func (s *rpcStore) RangeQuery(view *store.ViewHandle, startKey string, limit int) (store.Page, error) {
	if view == nil {
		return store.Page{}, store.NewError(store.RetCInvalidOperation, "view handle must not be nil")
	}
	resp, err := s.invoke(common.NewRangeQueryRequest(view, startKey, limit))
	if err != nil {
		return store.Page{}, err
	}
	return resp.Page(), nil
}

func (s *rpcStore) Close() error {
	return s.transport.Close()
}

// GetDBInfo returns information about the database of the shard on the server the request reaches.
func (s *rpcStore) GetDBInfo() (docdb.DatabaseInfo, error) {
	resp, err := s.invoke(common.NewInfoRequest())
	if err != nil {
		return docdb.DatabaseInfo{}, err
	}
	return resp.DatabaseInfo()
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

func (s *rpcStore) write(req *common.Message) (store.Version, error) {
	resp, err := s.invoke(req)
	if err != nil {
		return 0, err
	}
	return store.Version(resp.Version), nil
}
