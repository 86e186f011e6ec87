package dstore

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/ValentinKolb/dDoc/lib/docdb"
	"github.com/ValentinKolb/dDoc/lib/store"
	"github.com/ValentinKolb/dDoc/lib/store/dstore/internal"
	"github.com/lni/dragonboat/v4"
	"github.com/lni/dragonboat/v4/client"
	"github.com/lni/dragonboat/v4/logger"
)

var (
	retries = 5
	log     = logger.GetLogger("store")
)

// storeImpl is the concrete implementation of the store.IDocStore interface.
// It encapsulates a Dragonboat NodeHost which is used to communicate with the state machine.
type storeImpl struct {
	nh       *dragonboat.NodeHost
	shardID  uint64
	cs       *client.Session
	timeout  time.Duration
	capacity store.Capacity
}

// NewDistributedStore creates a new distributed store instance which uses raft consensus to ensure strict linearizability
// across multiple nodes.
//
// replicas is the number of replicas of the shard. A proposal returns once a quorum
// (replicas/2+1) has appended the entry to its on-disk log, so the store can promise
// persistTo up to the quorum size and replicateTo up to quorum-1.
func NewDistributedStore(nh *dragonboat.NodeHost, shardID uint64, replicas int, timeout time.Duration) store.IDocStore {
	return &storeImpl{
		nh:       nh,
		shardID:  shardID,
		cs:       nh.GetNoOPSession(shardID),
		timeout:  timeout,
		capacity: CapacityFor(replicas),
	}
}

// CapacityFor returns the durability a shard with the given number of replicas provides.
func CapacityFor(replicas int) store.Capacity {
	if replicas <= 0 {
		return store.Capacity{}
	}
	quorum := replicas/2 + 1
	return store.Capacity{PersistNodes: quorum, ReplicaNodes: quorum - 1}
}

// --------------------------------------------------------------------------
// Internal write and read operations (used by interface methods)
// --------------------------------------------------------------------------

// write stamps a Command with the local time, serializes it and sends it via SyncPropose.
// It returns the version assigned to the document or a *store.Error.
func (s *storeImpl) write(cmd internal.Command) (store.Version, error) {
	cmd.Now = time.Now().UnixNano()
	data, err := cmd.Serialize()
	if err != nil {
		return 0, store.NewError(store.RetCInvalidOperation, err.Error())
	}

	for i := 0; i < retries; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)

		res, err := s.nh.SyncPropose(ctx, s.cs, data)
		cancel()

		// Check for system busy errors
		if errors.Is(err, dragonboat.ErrSystemBusy) {
			log.Infof("SyncPropose: System busy, retrying (%d/%d)...", i+1, retries)
			time.Sleep(s.timeout / 10)
			continue
		}

		if errors.Is(err, dragonboat.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
			return 0, store.NewError(store.RetCTimeout, err.Error())
		}
		if err != nil {
			return 0, store.NewError(store.RetCInternalError, err.Error())
		}
		return decodeResult(res.Value, res.Data)
	}
	return 0, store.NewError(store.RetCTimeout, "system busy")
}

// decodeResult converts the result of an applied entry into a version or error
func decodeResult(value uint64, data []byte) (store.Version, error) {
	if value != uint64(store.RetCSuccess) {
		return 0, store.NewError(store.RetCode(value), string(data))
	}
	if len(data) != 8 {
		return 0, store.Errorf(store.RetCInternalError, "invalid write result of %d bytes", len(data))
	}
	return store.Version(binary.BigEndian.Uint64(data)), nil
}

// read is a generic helper function queries the statemachine
// and attempts to convert the response into the expected type R.
//
// This function uses the SyncRead function (dragonboat) by default to Query the state machine.
// If linearizability is not required, the stale parameter can be set to true to use the faster StaleRead function.
//
// Is the read operation fails due to a system busy error, the function retries up to 5 times.
func read[R any](r *storeImpl, q internal.Query, stale bool) (R, error) {
	var zero R
	for i := 0; i < retries; i++ {

		var res interface{}
		var err error

		if stale {
			res, err = r.nh.StaleRead(r.shardID, q)
		} else {
			ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
			res, err = r.nh.SyncRead(ctx, r.shardID, q)
			cancel()
		}

		if errors.Is(err, dragonboat.ErrSystemBusy) {
			log.Infof("SyncRead: System busy, retrying (%d/%d)...", i+1, retries)
			time.Sleep(r.timeout / 10)
			continue
		}

		if err != nil {
			var se *store.Error
			if errors.As(err, &se) {
				return zero, se
			}
			if errors.Is(err, dragonboat.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
				return zero, store.NewError(store.RetCTimeout, err.Error())
			}
			return zero, store.NewError(store.RetCInternalError, err.Error())
		}

		casted, ok := res.(R)
		if !ok {
			return zero, store.NewError(store.RetCInternalError,
				fmt.Sprintf("unexpected type: received %T, expected %T", res, zero))
		}
		return casted, nil
	}
	return zero, store.NewError(store.RetCTimeout, "system busy")
}

// --------------------------------------------------------------------------
// Interface Methods (docs see store/interface.go)
// --------------------------------------------------------------------------

func (s *storeImpl) Get(key string) (store.Document, bool, error) {
	res, err := read[internal.GetResult](s, internal.Query{
		Type: internal.QueryTGet,
		Key:  key,
	}, false)
	if err != nil || !res.Ok {
		return store.Document{}, false, err
	}
	return store.Document{Fields: res.Entry.Fields, Version: store.Version(res.Entry.Version)}, true, nil
}

func (s *storeImpl) Insert(key string, fields store.Fields, expiry time.Duration, durability store.Durability) (store.Version, error) {
	if err := s.capacity.Check(durability); err != nil {
		return 0, err
	}
	return s.write(internal.Command{
		Type:     internal.CommandTInsert,
		Key:      key,
		ExpireAt: expireAt(expiry),
		Fields:   fieldsOrEmpty(fields),
	})
}

func (s *storeImpl) Add(key string, fields store.Fields, expiry time.Duration, durability store.Durability) (store.Version, error) {
	if err := s.capacity.Check(durability); err != nil {
		return 0, err
	}
	return s.write(internal.Command{
		Type:     internal.CommandTAdd,
		Key:      key,
		ExpireAt: expireAt(expiry),
		Fields:   fieldsOrEmpty(fields),
	})
}

func (s *storeImpl) CompareAndSwap(key string, expected store.Version, fields store.Fields, durability store.Durability) (store.Version, error) {
	if err := s.capacity.Check(durability); err != nil {
		return 0, err
	}
	return s.write(internal.Command{
		Type:     internal.CommandTCAS,
		Key:      key,
		Expected: uint64(expected),
		Fields:   fieldsOrEmpty(fields),
	})
}

func (s *storeImpl) Delete(key string) error {
	_, err := s.write(internal.Command{
		Type: internal.CommandTDelete,
		Key:  key,
	})
	return err
}

func (s *storeImpl) ResolveView(id store.ViewID) (*store.ViewHandle, error) {
	res, err := read[internal.ViewResult](s, internal.Query{
		Type:      internal.QueryTView,
		DesignDoc: id.DesignDoc,
		View:      id.View,
	}, false)
	if err != nil {
		return nil, err
	}
	if !res.Ok {
		return nil, store.Errorf(store.RetCViewNotFound, "view %s is not defined", id)
	}
	return &store.ViewHandle{ID: id, Emit: string(res.Def.Emit)}, nil
}

func (s *storeImpl) RangeQuery(view *store.ViewHandle, startKey string, limit int) (store.Page, error) {
	if view == nil {
		return store.Page{}, store.NewError(store.RetCInvalidOperation, "view handle must not be nil")
	}
	res, err := read[internal.RangeResult](s, internal.Query{
		Type:      internal.QueryTRange,
		DesignDoc: view.ID.DesignDoc,
		View:      view.ID.View,
		StartKey:  startKey,
		Limit:     limit,
	}, false)
	if err != nil {
		return store.Page{}, err
	}
	page := store.Page{Rows: make([]store.Row, len(res.Rows)), Errors: res.Errors}
	for i, row := range res.Rows {
		page.Rows[i] = store.Row{Key: row.Key, ID: row.ID, Fields: row.Fields}
	}
	return page, nil
}

// PurgeExpired proposes the removal of all documents that are expired at the local time.
// The purge is applied by every replica with the same timestamp.
func (s *storeImpl) PurgeExpired() (int, error) {
	removed, err := s.write(internal.Command{Type: internal.CommandTPurge})
	return int(removed), err
}

// GetDBInfo returns information about the database of the local replica (stale read).
func (s *storeImpl) GetDBInfo() (docdb.DatabaseInfo, error) {
	return read[docdb.DatabaseInfo](
		s,
		internal.Query{
			Type: internal.QueryTGetDBInfo,
		},
		true, // Note: allow for stale reads
	)
}

// Close does nothing, the NodeHost is owned by the caller.
func (s *storeImpl) Close() error {
	return nil
}

func expireAt(expiry time.Duration) int64 {
	if expiry <= 0 {
		return 0
	}
	return time.Now().Add(expiry).UnixNano()
}

func fieldsOrEmpty(fields store.Fields) map[string]string {
	if fields == nil {
		return map[string]string{}
	}
	return fields
}
