package dstore

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/ValentinKolb/dDoc/lib/docdb"
	"github.com/ValentinKolb/dDoc/lib/store"
	"github.com/ValentinKolb/dDoc/lib/store/dstore/internal"
	sm "github.com/lni/dragonboat/v4/statemachine"
)

// --------------------------------------------------------------------------
// State Machine Implementation
// --------------------------------------------------------------------------

// DocStateMachine is a state machine implementation for Dragonboat RAFT
type DocStateMachine struct {
	replicaID uint64
	shardID   uint64
	database  docdb.DocDB // the actual dataStorage
}

// CreateStateMachineFactory returns a function that can be used by dragonboat to create a new state machine for a node host.
// Every replica defines the given views on its database before it applies any entry.
func CreateStateMachineFactory(dbFactory store.DBFactory, views []docdb.ViewDefinition) func(shardID uint64, replicaID uint64) sm.IConcurrentStateMachine {
	return func(shardID uint64, replicaID uint64) sm.IConcurrentStateMachine {
		database := dbFactory()
		for _, def := range views {
			if err := database.DefineView(def); err != nil {
				log.Errorf("shard %d replica %d: failed to define view %s: %v", shardID, replicaID, def, err)
			}
		}
		return &DocStateMachine{
			replicaID: replicaID,
			shardID:   shardID,
			database:  database,
		}
	}
}

// Lookup handles read-only queries by mapping each Query operation to the corresponding DocDB method.
func (fsm *DocStateMachine) Lookup(itf interface{}) (interface{}, error) {
	q, ok := itf.(internal.Query)
	if !ok {
		return nil, store.Errorf(store.RetCInternalError, "invalid Query type: %T", itf)
	}

	switch q.Type {
	case internal.QueryTGet:
		if !fsm.database.SupportsFeature(docdb.FeatureGet) {
			return nil, store.NewError(store.RetCUnsupportedOperation, "Get operation is not supported")
		}
		entry, ok := fsm.database.Get(q.Key)
		return internal.GetResult{Ok: ok, Entry: entry}, nil
	case internal.QueryTView:
		def, ok := fsm.database.View(q.DesignDoc, q.View)
		return internal.ViewResult{Ok: ok, Def: def}, nil
	case internal.QueryTRange:
		if !fsm.database.SupportsFeature(docdb.FeatureRange) {
			return nil, store.NewError(store.RetCUnsupportedOperation, "Range operation is not supported")
		}
		rows, errs, err := fsm.database.Range(q.DesignDoc, q.View, q.StartKey, q.Limit)
		if errors.Is(err, docdb.ErrViewNotFound) {
			return nil, store.Errorf(store.RetCViewNotFound, "view %s is not defined", docdb.ViewID(q.DesignDoc, q.View))
		} else if err != nil {
			return nil, store.Errorf(store.RetCInternalError, "range query failed: %v", err)
		}
		return internal.RangeResult{Rows: rows, Errors: errs}, nil
	case internal.QueryTGetDBInfo:
		return fsm.database.GetInfo(), nil
	default:
		return nil, store.Errorf(store.RetCInvalidOperation, "unknown Query operation: %d", q.Type)
	}
}

// resultError builds the result of a failed entry
func resultError(code store.RetCode, format string, args ...any) sm.Result {
	return sm.Result{Value: uint64(code), Data: []byte(fmt.Sprintf(format, args...))}
}

// resultVersion builds the result of a successful write, the data holds the new version
func resultVersion(version uint64) sm.Result {
	data := make([]byte, 8)
	binary.BigEndian.PutUint64(data, version)
	return sm.Result{Value: uint64(store.RetCSuccess), Data: data}
}

// apply executes a single command. The raft log index of the entry is the new version of the document.
// Expiry is decided with the timestamp of the proposer, never with the local clock, so all
// replicas reach the same result for the same entry.
func (fsm *DocStateMachine) apply(cmd internal.Command, index uint64) sm.Result {
	switch cmd.Type {
	case internal.CommandTInsert:
		fsm.database.Upsert(cmd.Key, cmd.Fields, index, cmd.ExpireAt)
		return resultVersion(index)
	case internal.CommandTAdd:
		if !fsm.database.Add(cmd.Key, cmd.Fields, index, cmd.ExpireAt, cmd.Now) {
			return resultError(store.RetCExists, "document %q already exists", cmd.Key)
		}
		return resultVersion(index)
	case internal.CommandTCAS:
		switch fsm.database.CompareAndSwap(cmd.Key, cmd.Expected, cmd.Fields, index, cmd.Now) {
		case docdb.CASCommitted:
			return resultVersion(index)
		case docdb.CASMismatch:
			return resultError(store.RetCVersionConflict, "document %q changed since version %d", cmd.Key, cmd.Expected)
		default:
			return resultError(store.RetCNotFound, "document %q not found", cmd.Key)
		}
	case internal.CommandTDelete:
		if !fsm.database.Delete(cmd.Key, cmd.Now) {
			return resultError(store.RetCNotFound, "document %q not found", cmd.Key)
		}
		return resultVersion(index)
	case internal.CommandTPurge:
		// the result holds the number of removed documents instead of a version
		return resultVersion(uint64(fsm.database.PurgeExpired(cmd.Now)))
	default:
		return resultError(store.RetCInvalidOperation, "unknown Command operation: %s", cmd.Type)
	}
}

// Update handles write commands on the DocDB instance
// All write operations are serialized into []byte and are accessible via the entries struct
func (fsm *DocStateMachine) Update(entries []sm.Entry) ([]sm.Entry, error) {
	if len(entries) == 0 {
		return entries, nil
	}

	start := time.Now()

	for idx, e := range entries {
		if len(e.Cmd) == 0 {
			entries[idx].Result = resultError(store.RetCInvalidOperation, "empty command ignored")
			continue
		}

		cmd := internal.Command{}
		if err := cmd.Deserialize(e.Cmd); err != nil {
			entries[idx].Result = resultError(store.RetCInternalError, "failed to deserialize command: %v", err)
			continue
		}

		feat, err := cmd.Type.ToDBFeature()
		if err != nil {
			entries[idx].Result = resultError(store.RetCInvalidOperation, "unknown Command operation: %s", cmd.Type)
			continue
		}
		if !fsm.database.SupportsFeature(feat) {
			entries[idx].Result = resultError(store.RetCUnsupportedOperation, "%s operation is not supported", cmd.Type)
			continue
		}

		entries[idx].Result = fsm.apply(cmd, e.Index)
	}

	if elapsed := time.Since(start); elapsed > time.Millisecond {
		log.Infof("State machine took long to update. Batch updated %d entries, took %.2fms", len(entries), float64(elapsed)/float64(time.Millisecond))
	}
	return entries, nil
}

// PrepareSnapshot is not used. We don't need to prepare anything since we use fuzzy snapshotting
func (fsm *DocStateMachine) PrepareSnapshot() (interface{}, error) {
	return nil, nil
}

// SaveSnapshot saves a fuzzy db snapshot to the writer
func (fsm *DocStateMachine) SaveSnapshot(_ interface{}, writer io.Writer, _ sm.ISnapshotFileCollection, _ <-chan struct{}) error {
	if !fsm.database.SupportsFeature(docdb.FeatureSave) {
		return fmt.Errorf("the used DocDB implementation does not support Save() operations")
	}
	return fsm.database.Save(writer)
}

// RecoverFromSnapshot restores the database from a snapshot.
func (fsm *DocStateMachine) RecoverFromSnapshot(r io.Reader, _ []sm.SnapshotFile, _ <-chan struct{}) error {
	if !fsm.database.SupportsFeature(docdb.FeatureLoad) {
		return fmt.Errorf("the used DocDB implementation does not support Load() operations")
	}
	return fsm.database.Load(r)
}

// Close performs any necessary cleanup.
func (fsm *DocStateMachine) Close() error {
	return fsm.database.Close()
}
