package lstore

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/ValentinKolb/dDoc/lib/docdb"
	"github.com/ValentinKolb/dDoc/lib/docdb/engines/bolt"
	"github.com/ValentinKolb/dDoc/lib/docdb/engines/maple"
	"github.com/ValentinKolb/dDoc/lib/store"
)

func newMapleStore(t *testing.T) store.IDocStore {
	t.Helper()
	s := NewLocalStore(func() docdb.DocDB {
		database := maple.NewMapleDB(nil)
		for _, def := range docdb.YCSBViews("ycsb", []string{"usertable"}, []string{"ddoc0"}, []string{"view0"}) {
			if err := database.DefineView(def); err != nil {
				t.Fatal(err)
			}
		}
		return database
	})
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestWriteVersions(t *testing.T) {
	s := newMapleStore(t)

	v1, err := s.Insert("usertable-user1", store.Fields{"field0": "a"}, 0, store.Durability{})
	if err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	doc, found, err := s.Get("usertable-user1")
	if err != nil || !found {
		t.Fatalf("Get failed: found=%v err=%v", found, err)
	}
	if doc.Version != v1 || doc.Fields["field0"] != "a" {
		t.Errorf("Unexpected document %+v (insert version %d)", doc, v1)
	}

	v2, err := s.CompareAndSwap("usertable-user1", v1, store.Fields{"field0": "b"}, store.Durability{})
	if err != nil {
		t.Fatalf("CompareAndSwap failed: %v", err)
	}
	if v2 == v1 {
		t.Errorf("Expected a new version after CAS")
	}

	_, err = s.CompareAndSwap("usertable-user1", v1, store.Fields{"field0": "c"}, store.Durability{})
	if !errors.Is(err, store.ErrVersionConflict) {
		t.Errorf("Expected version conflict, got %v", err)
	}
	_, err = s.CompareAndSwap("usertable-missing", v1, store.Fields{}, store.Durability{})
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Expected not found, got %v", err)
	}

	_, err = s.Add("usertable-user1", store.Fields{}, 0, store.Durability{})
	if !errors.Is(err, store.ErrExists) {
		t.Errorf("Expected exists, got %v", err)
	}

	if err := s.Delete("usertable-user1"); err != nil {
		t.Errorf("Delete failed: %v", err)
	}
	if err := s.Delete("usertable-user1"); store.CodeOf(err) != store.RetCNotFound {
		t.Errorf("Expected RetCNotFound for second delete, got %v", err)
	}
	if _, found, _ := s.Get("usertable-user1"); found {
		t.Errorf("Expected document to be deleted")
	}
}

func TestExpiry(t *testing.T) {
	s := newMapleStore(t)

	if _, err := s.Insert("usertable-tmp", store.Fields{}, 30*time.Millisecond, store.Durability{}); err != nil {
		t.Fatal(err)
	}
	time.Sleep(100 * time.Millisecond)
	if _, found, _ := s.Get("usertable-tmp"); found {
		t.Errorf("Expected document to expire")
	}
}

func TestPurgeExpired(t *testing.T) {
	s := NewLocalStore(func() docdb.DocDB { return maple.NewMapleDB(&maple.DBOptions{GCInterval: -1}) })
	defer s.Close()

	if _, err := s.Insert("usertable-tmp", store.Fields{}, 10*time.Millisecond, store.Durability{}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Insert("usertable-keep", store.Fields{}, 0, store.Durability{}); err != nil {
		t.Fatal(err)
	}
	time.Sleep(50 * time.Millisecond)

	purger, ok := s.(store.IExpiryPurger)
	if !ok {
		t.Fatalf("Expected local store to purge expired documents")
	}
	if removed, err := purger.PurgeExpired(); err != nil || removed != 1 {
		t.Errorf("Expected one purged document, got %d (%v)", removed, err)
	}
	info, err := s.(store.IInfoProvider).GetDBInfo()
	if err != nil || info.DocCount != 1 {
		t.Errorf("Expected one remaining document, got %d (%v)", info.DocCount, err)
	}
}

func TestDurabilityCapacity(t *testing.T) {
	s := newMapleStore(t)

	_, err := s.Insert("usertable-user1", store.Fields{}, 0, store.Durability{PersistTo: 1})
	if store.CodeOf(err) != store.RetCDurabilityImpossible || !errors.Is(err, store.ErrWriteFailed) {
		t.Errorf("Expected durability error for in-memory engine, got %v", err)
	}
	if _, found, _ := s.Get("usertable-user1"); found {
		t.Errorf("A write with impossible durability must not be applied")
	}

	persistent := NewLocalStore(func() docdb.DocDB {
		database, err := bolt.Open(filepath.Join(t.TempDir(), "store.bolt"), &bolt.Options{NoSync: true})
		if err != nil {
			t.Fatal(err)
		}
		return database
	})
	defer persistent.Close()

	if _, err := persistent.Insert("usertable-user1", store.Fields{}, 0, store.Durability{PersistTo: 1}); err != nil {
		t.Errorf("Expected persistTo=1 to succeed on a persistent engine, got %v", err)
	}
	_, err = persistent.Insert("usertable-user1", store.Fields{}, 0, store.Durability{ReplicateTo: 1})
	if store.CodeOf(err) != store.RetCDurabilityImpossible {
		t.Errorf("Expected replicateTo=1 to fail on a single node, got %v", err)
	}
}

func TestViews(t *testing.T) {
	s := newMapleStore(t)

	for _, key := range []string{"user2", "user1", "user3"} {
		if _, err := s.Insert(store.QualifyKey("usertable", key), store.Fields{"field0": key}, 0, store.Durability{}); err != nil {
			t.Fatal(err)
		}
	}

	view, err := s.ResolveView(store.ViewID{DesignDoc: "ycsb", View: "usertable"})
	if err != nil {
		t.Fatalf("ResolveView failed: %v", err)
	}
	if view.Emit != string(docdb.EmitDocKey) {
		t.Errorf("Unexpected emit %q", view.Emit)
	}

	page, err := s.RangeQuery(view, "usertable-user2", 10)
	if err != nil {
		t.Fatalf("RangeQuery failed: %v", err)
	}
	if len(page.Rows) != 2 || page.Rows[0].ID != "usertable-user2" || page.Rows[1].ID != "usertable-user3" {
		t.Errorf("Unexpected page %+v", page)
	}

	fieldView, err := s.ResolveView(store.ViewID{DesignDoc: "ddoc0", View: "view0"})
	if err != nil {
		t.Fatalf("ResolveView failed: %v", err)
	}
	page, _ = s.RangeQuery(fieldView, "field0user3", 10)
	if len(page.Rows) != 1 || page.Rows[0].Key != "field0user3" {
		t.Errorf("Unexpected field view page %+v", page)
	}

	_, err = s.ResolveView(store.ViewID{DesignDoc: "ycsb", View: "missing"})
	if !errors.Is(err, store.ErrViewNotFound) {
		t.Errorf("Expected view not found, got %v", err)
	}
	_, err = s.RangeQuery(&store.ViewHandle{ID: store.ViewID{DesignDoc: "x", View: "y"}}, "", 1)
	if !errors.Is(err, store.ErrViewNotFound) {
		t.Errorf("Expected view not found for stale handle, got %v", err)
	}
}
