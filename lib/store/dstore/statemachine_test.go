package dstore

import (
	"bytes"
	"encoding/binary"
	"testing"
	"time"

	"github.com/ValentinKolb/dDoc/lib/docdb"
	"github.com/ValentinKolb/dDoc/lib/docdb/engines/maple"
	"github.com/ValentinKolb/dDoc/lib/store"
	"github.com/ValentinKolb/dDoc/lib/store/dstore/internal"
	sm "github.com/lni/dragonboat/v4/statemachine"
)

var testViews = []docdb.ViewDefinition{{DesignDoc: "ycsb", View: "usertable", Emit: docdb.EmitDocKey}}

func newTestStateMachine() sm.IConcurrentStateMachine {
	factory := CreateStateMachineFactory(func() docdb.DocDB { return maple.NewMapleDB(&maple.DBOptions{GCInterval: -1}) }, testViews)
	return factory(1, 1)
}

func entry(t *testing.T, index uint64, cmd internal.Command) sm.Entry {
	t.Helper()
	data, err := cmd.Serialize()
	if err != nil {
		t.Fatal(err)
	}
	return sm.Entry{Index: index, Cmd: data}
}

func apply(t *testing.T, fsm sm.IConcurrentStateMachine, entries ...sm.Entry) []sm.Entry {
	t.Helper()
	res, err := fsm.Update(entries)
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	return res
}

func TestStateMachineWrites(t *testing.T) {
	fsm := newTestStateMachine()
	defer fsm.Close()

	doc := map[string]string{"field0": "a"}
	res := apply(t, fsm,
		entry(t, 10, internal.Command{Type: internal.CommandTInsert, Key: "usertable-user1", Fields: doc}),
		entry(t, 11, internal.Command{Type: internal.CommandTAdd, Key: "usertable-user1", Fields: doc}),
		entry(t, 12, internal.Command{Type: internal.CommandTCAS, Key: "usertable-user1", Expected: 9, Fields: doc}),
		entry(t, 13, internal.Command{Type: internal.CommandTCAS, Key: "usertable-user1", Expected: 10, Fields: map[string]string{"field0": "b"}}),
		entry(t, 14, internal.Command{Type: internal.CommandTCAS, Key: "usertable-missing", Expected: 1, Fields: doc}),
		entry(t, 15, internal.Command{Type: internal.CommandTDelete, Key: "usertable-missing"}),
		sm.Entry{Index: 16},
		sm.Entry{Index: 17, Cmd: []byte{0x01}},
	)

	expected := []store.RetCode{
		store.RetCSuccess,
		store.RetCExists,
		store.RetCVersionConflict,
		store.RetCSuccess,
		store.RetCNotFound,
		store.RetCNotFound,
		store.RetCInvalidOperation,
		store.RetCInternalError,
	}
	for i, code := range expected {
		if got := store.RetCode(res[i].Result.Value); got != code {
			t.Errorf("entry %d: expected %s, got %s (%s)", i, code, got, res[i].Result.Data)
		}
	}

	// successful writes return the log index as version
	if v := binary.BigEndian.Uint64(res[3].Result.Data); v != 13 {
		t.Errorf("Expected version 13, got %d", v)
	}
	version, err := decodeResult(res[3].Result.Value, res[3].Result.Data)
	if err != nil || version != 13 {
		t.Errorf("decodeResult = %d, %v", version, err)
	}
	if _, err := decodeResult(res[2].Result.Value, res[2].Result.Data); store.CodeOf(err) != store.RetCVersionConflict {
		t.Errorf("Expected version conflict error, got %v", err)
	}

	got, err := fsm.Lookup(internal.Query{Type: internal.QueryTGet, Key: "usertable-user1"})
	if err != nil {
		t.Fatal(err)
	}
	result := got.(internal.GetResult)
	if !result.Ok || result.Entry.Version != 13 || result.Entry.Fields["field0"] != "b" {
		t.Errorf("Unexpected document %+v", result)
	}
}

func TestStateMachineQueries(t *testing.T) {
	fsm := newTestStateMachine()
	defer fsm.Close()

	for i, key := range []string{"usertable-user3", "usertable-user1", "usertable-user2"} {
		apply(t, fsm, entry(t, uint64(i+1), internal.Command{Type: internal.CommandTInsert, Key: key, Fields: map[string]string{}}))
	}

	got, err := fsm.Lookup(internal.Query{Type: internal.QueryTView, DesignDoc: "ycsb", View: "usertable"})
	if err != nil || !got.(internal.ViewResult).Ok {
		t.Fatalf("Expected view to be defined, got %v %v", got, err)
	}

	got, err = fsm.Lookup(internal.Query{Type: internal.QueryTRange, DesignDoc: "ycsb", View: "usertable", StartKey: "usertable-user2", Limit: 5})
	if err != nil {
		t.Fatal(err)
	}
	rows := got.(internal.RangeResult).Rows
	if len(rows) != 2 || rows[0].ID != "usertable-user2" || rows[1].ID != "usertable-user3" {
		t.Errorf("Unexpected rows %+v", rows)
	}

	_, err = fsm.Lookup(internal.Query{Type: internal.QueryTRange, DesignDoc: "ycsb", View: "nope"})
	if store.CodeOf(err) != store.RetCViewNotFound {
		t.Errorf("Expected RetCViewNotFound, got %v", err)
	}

	if _, err := fsm.Lookup("not a query"); store.CodeOf(err) != store.RetCInternalError {
		t.Errorf("Expected internal error for invalid query type, got %v", err)
	}
}

func TestStateMachineSnapshot(t *testing.T) {
	source := newTestStateMachine()
	defer source.Close()
	apply(t, source, entry(t, 5, internal.Command{Type: internal.CommandTInsert, Key: "usertable-user1", Fields: map[string]string{"f": "v"}}))

	var buf bytes.Buffer
	if err := source.SaveSnapshot(nil, &buf, nil, nil); err != nil {
		t.Fatal(err)
	}

	target := newTestStateMachine()
	defer target.Close()
	if err := target.RecoverFromSnapshot(&buf, nil, nil); err != nil {
		t.Fatal(err)
	}
	got, _ := target.Lookup(internal.Query{Type: internal.QueryTGet, Key: "usertable-user1"})
	if res := got.(internal.GetResult); !res.Ok || res.Entry.Version != 5 {
		t.Errorf("Expected document to be recovered, got %+v", res)
	}
}

func TestStateMachineExpiryIsDeterministic(t *testing.T) {
	base := time.Now().UnixNano()
	expireAt := base + int64(50*time.Millisecond)
	raftLog := func() []sm.Entry {
		return []sm.Entry{
			entry(t, 1, internal.Command{Type: internal.CommandTInsert, Key: "usertable-user1", Now: base, ExpireAt: expireAt, Fields: map[string]string{"f": "a"}}),
			entry(t, 2, internal.Command{Type: internal.CommandTCAS, Key: "usertable-user1", Now: base + int64(10*time.Millisecond), Expected: 1, Fields: map[string]string{"f": "b"}}),
			entry(t, 3, internal.Command{Type: internal.CommandTPurge, Now: base + int64(20*time.Millisecond)}),
			entry(t, 4, internal.Command{Type: internal.CommandTAdd, Key: "usertable-user1", Now: expireAt, Fields: map[string]string{"f": "c"}}),
			entry(t, 5, internal.Command{Type: internal.CommandTPurge, Now: expireAt}),
		}
	}

	leader := newTestStateMachine()
	defer leader.Close()
	follower := newTestStateMachine()
	defer follower.Close()

	leaderRes := apply(t, leader, raftLog()...)
	// the follower applies the same entries after the document expired on the local clock
	time.Sleep(100 * time.Millisecond)
	followerRes := apply(t, follower, raftLog()...)

	want := []uint64{1, 2, 0, 4, 0}
	for i := range want {
		l, f := leaderRes[i].Result, followerRes[i].Result
		if l.Value != f.Value || !bytes.Equal(l.Data, f.Data) {
			t.Errorf("entry %d: leader %d %q, follower %d %q", i+1, l.Value, l.Data, f.Value, f.Data)
		}
		version, err := decodeResult(l.Value, l.Data)
		if err != nil || uint64(version) != want[i] {
			t.Errorf("entry %d: expected %d, got %d (%v)", i+1, want[i], version, err)
		}
	}
}

func TestStateMachinePurge(t *testing.T) {
	fsm := newTestStateMachine()
	defer fsm.Close()

	base := time.Now().UnixNano()
	res := apply(t, fsm,
		entry(t, 1, internal.Command{Type: internal.CommandTInsert, Key: "usertable-user1", Now: base, ExpireAt: base + 1, Fields: map[string]string{}}),
		entry(t, 2, internal.Command{Type: internal.CommandTInsert, Key: "usertable-user2", Now: base, Fields: map[string]string{}}),
		entry(t, 3, internal.Command{Type: internal.CommandTPurge, Now: base + 1}),
	)
	if removed, err := decodeResult(res[2].Result.Value, res[2].Result.Data); err != nil || removed != 1 {
		t.Errorf("Expected one purged document, got %d (%v)", removed, err)
	}

	got, err := fsm.Lookup(internal.Query{Type: internal.QueryTGetDBInfo})
	if err != nil {
		t.Fatal(err)
	}
	if info := got.(docdb.DatabaseInfo); info.DocCount != 1 {
		t.Errorf("Expected one document after purge, got %d", info.DocCount)
	}
}

func TestCapacityFor(t *testing.T) {
	tests := []struct {
		replicas int
		want     store.Capacity
	}{
		{0, store.Capacity{}},
		{1, store.Capacity{PersistNodes: 1, ReplicaNodes: 0}},
		{3, store.Capacity{PersistNodes: 2, ReplicaNodes: 1}},
		{5, store.Capacity{PersistNodes: 3, ReplicaNodes: 2}},
	}
	for _, tt := range tests {
		if got := CapacityFor(tt.replicas); got != tt.want {
			t.Errorf("CapacityFor(%d) = %+v, want %+v", tt.replicas, got, tt.want)
		}
	}
}
