package lstore

import (
	"errors"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/dDoc/lib/docdb"
	"github.com/ValentinKolb/dDoc/lib/store"
)

type storeImpl struct {
	db       docdb.DocDB
	index    atomic.Uint64
	capacity store.Capacity
}

// NewLocalStore creates a new local store instance.
// This store implementation is not distributed and only works on a single node.
// Engines that persist writes (docdb.FeaturePersistent) satisfy persistTo=1,
// no engine satisfies any replicateTo requirement.
func NewLocalStore(factory store.DBFactory) store.IDocStore {
	database := factory()
	s := &storeImpl{db: database}
	if database.SupportsFeature(docdb.FeaturePersistent) {
		s.capacity.PersistNodes = 1
	}
	// versions must never repeat for a document, also not across restarts of a persistent engine
	s.index.Store(uint64(time.Now().UnixNano()))
	return s
}

// incAndGetIndex increments the index and returns the new value.
// It is used to ensure that each write operation has a unique version.
//
// Thread-safety: This method is thread-safe since it uses atomic operations.
func (s *storeImpl) incAndGetIndex() uint64 {
	return s.index.Add(1)
}

func expireAt(expiry time.Duration) int64 {
	if expiry <= 0 {
		return 0
	}
	return time.Now().Add(expiry).UnixNano()
}

func (s *storeImpl) checkWrite(feature docdb.Feature, op string, durability store.Durability) error {
	if !s.db.SupportsFeature(feature) {
		return store.Errorf(store.RetCUnsupportedOperation, "%s operation is not supported", op)
	}
	return s.capacity.Check(durability)
}

// --------------------------------------------------------------------------
// Interface Methods (docu see store/interface.go)
// --------------------------------------------------------------------------

func (s *storeImpl) Get(key string) (store.Document, bool, error) {
	if !s.db.SupportsFeature(docdb.FeatureGet) {
		return store.Document{}, false, store.NewError(store.RetCUnsupportedOperation, "Get operation is not supported")
	}
	entry, ok := s.db.Get(key)
	if !ok {
		return store.Document{}, false, nil
	}
	return store.Document{Fields: entry.Fields, Version: store.Version(entry.Version)}, true, nil
}

func (s *storeImpl) Insert(key string, fields store.Fields, expiry time.Duration, durability store.Durability) (store.Version, error) {
	if err := s.checkWrite(docdb.FeatureUpsert, "Insert", durability); err != nil {
		return 0, err
	}
	version := s.incAndGetIndex()
	s.db.Upsert(key, fields, version, expireAt(expiry))
	return store.Version(version), nil
}

func (s *storeImpl) Add(key string, fields store.Fields, expiry time.Duration, durability store.Durability) (store.Version, error) {
	if err := s.checkWrite(docdb.FeatureAdd, "Add", durability); err != nil {
		return 0, err
	}
	version := s.incAndGetIndex()
	if !s.db.Add(key, fields, version, expireAt(expiry), time.Now().UnixNano()) {
		return 0, store.Errorf(store.RetCExists, "document %q already exists", key)
	}
	return store.Version(version), nil
}

func (s *storeImpl) CompareAndSwap(key string, expected store.Version, fields store.Fields, durability store.Durability) (store.Version, error) {
	if err := s.checkWrite(docdb.FeatureCAS, "CompareAndSwap", durability); err != nil {
		return 0, err
	}
	version := s.incAndGetIndex()
	switch s.db.CompareAndSwap(key, uint64(expected), fields, version, time.Now().UnixNano()) {
	case docdb.CASCommitted:
		return store.Version(version), nil
	case docdb.CASMismatch:
		return 0, store.Errorf(store.RetCVersionConflict, "document %q changed since version %d", key, expected)
	default:
		return 0, store.Errorf(store.RetCNotFound, "document %q not found", key)
	}
}

func (s *storeImpl) Delete(key string) error {
	if !s.db.SupportsFeature(docdb.FeatureDelete) {
		return store.NewError(store.RetCUnsupportedOperation, "Delete operation is not supported")
	}
	if !s.db.Delete(key, time.Now().UnixNano()) {
		return store.Errorf(store.RetCNotFound, "document %q not found", key)
	}
	return nil
}

func (s *storeImpl) ResolveView(id store.ViewID) (*store.ViewHandle, error) {
	def, ok := s.db.View(id.DesignDoc, id.View)
	if !ok {
		return nil, store.Errorf(store.RetCViewNotFound, "view %s is not defined", id)
	}
	return &store.ViewHandle{ID: id, Emit: string(def.Emit)}, nil
}

func (s *storeImpl) RangeQuery(view *store.ViewHandle, startKey string, limit int) (store.Page, error) {
	if !s.db.SupportsFeature(docdb.FeatureRange) {
		return store.Page{}, store.NewError(store.RetCUnsupportedOperation, "RangeQuery operation is not supported")
	}
	if view == nil {
		return store.Page{}, store.NewError(store.RetCInvalidOperation, "view handle must not be nil")
	}
	rows, errs, err := s.db.Range(view.ID.DesignDoc, view.ID.View, startKey, limit)
	if errors.Is(err, docdb.ErrViewNotFound) {
		return store.Page{}, store.Errorf(store.RetCViewNotFound, "view %s is not defined", view.ID)
	} else if err != nil {
		return store.Page{}, store.Errorf(store.RetCInternalError, "range query on %s failed: %v", view.ID, err)
	}
	return ToPage(rows, errs), nil
}

func (s *storeImpl) Close() error {
	return s.db.Close()
}

// ToPage converts engine rows into a store page.
func ToPage(rows []docdb.Row, errs []string) store.Page {
	page := store.Page{Rows: make([]store.Row, len(rows)), Errors: errs}
	for i, row := range rows {
		page.Rows[i] = store.Row{Key: row.Key, ID: row.ID, Fields: row.Fields}
	}
	return page
}

// GetDBInfo returns information about the underlying database.
func (s *storeImpl) GetDBInfo() (docdb.DatabaseInfo, error) {
	return s.db.GetInfo(), nil
}

// PurgeExpired removes all documents that are expired at the local time.
func (s *storeImpl) PurgeExpired() (int, error) {
	if !s.db.SupportsFeature(docdb.FeatureExpiry) {
		return 0, store.NewError(store.RetCUnsupportedOperation, "PurgeExpired operation is not supported")
	}
	return s.db.PurgeExpired(time.Now().UnixNano()), nil
}
