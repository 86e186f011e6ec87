package query

import (
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/ValentinKolb/dDoc/lib/docdb"
	"github.com/ValentinKolb/dDoc/lib/docdb/engines/maple"
	"github.com/ValentinKolb/dDoc/lib/store"
	"github.com/ValentinKolb/dDoc/lib/store/lstore"
)

var (
	testDDocs = []string{"ddoc0", "ddoc1"}
	testViews = []string{"view0", "view1", "view2"}
)

func newTestStore(t *testing.T) store.IDocStore {
	t.Helper()
	s := lstore.NewLocalStore(func() docdb.DocDB {
		database := maple.NewMapleDB(nil)
		for _, def := range docdb.YCSBViews("ycsb", []string{"usertable"}, testDDocs, testViews) {
			if err := database.DefineView(def); err != nil {
				t.Fatal(err)
			}
		}
		return database
	})
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// stubStore counts view resolutions and returns a fixed page
type stubStore struct {
	store.IDocStore
	resolves atomic.Int32
	failNext atomic.Bool
	page     store.Page
}

func (s *stubStore) ResolveView(id store.ViewID) (*store.ViewHandle, error) {
	s.resolves.Add(1)
	if s.failNext.CompareAndSwap(true, false) {
		return nil, store.Errorf(store.RetCTransport, "connection reset")
	}
	return &store.ViewHandle{ID: id, Emit: string(docdb.EmitDocKey)}, nil
}

func (s *stubStore) RangeQuery(view *store.ViewHandle, startKey string, limit int) (store.Page, error) {
	return s.page, nil
}

func TestDeriveStartKey(t *testing.T) {
	cases := []struct {
		seed   string
		offset int
		want   string
	}{
		{"user6284781860667377211", 0, "field062847818"},
		{"user6284781860667377211", 3, "field347818606"},
		{"user1234", 7, "field7"},
		{"user12345678", 0, "field012345678"},
		{"user12345678", 1, "field1"},
		{"", 2, "field2"},
		// characters, not bytes
		{"usérabcdefgh", 0, "field0abcdefgh"},
		{"useräöüßéèêëxyz", 1, "field1öüßéèêëx"},
		{"useräöü", 0, "field0"},
	}
	for _, c := range cases {
		if got := DeriveStartKey(c.seed, c.offset); got != c.want {
			t.Errorf("DeriveStartKey(%q, %d) = %q, want %q", c.seed, c.offset, got, c.want)
		}
	}
}

func TestViewCacheResolvesOnce(t *testing.T) {
	s := &stubStore{}
	cache := NewViewCache(s)
	id := store.ViewID{DesignDoc: "ddoc0", View: "view1"}

	var wg sync.WaitGroup
	handles := make([]*store.ViewHandle, 16)
	for i := range handles {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h, err := cache.Get(id)
			if err != nil {
				t.Errorf("Get failed: %v", err)
			}
			handles[i] = h
		}(i)
	}
	wg.Wait()

	if n := s.resolves.Load(); n != 1 {
		t.Errorf("Expected exactly one resolution, got %d", n)
	}
	for _, h := range handles[1:] {
		if h != handles[0] {
			t.Fatalf("Expected all callers to get the same handle")
		}
	}
	if cache.Len() != 1 {
		t.Errorf("Expected one cached view, got %d", cache.Len())
	}

	if _, err := cache.Get(store.ViewID{DesignDoc: "ddoc0", View: "view2"}); err != nil {
		t.Fatal(err)
	}
	if cache.Len() != 2 {
		t.Errorf("Expected two cached views, got %d", cache.Len())
	}
}

func TestViewCacheDoesNotCacheFailures(t *testing.T) {
	s := &stubStore{}
	s.failNext.Store(true)
	cache := NewViewCache(s)
	id := store.ViewID{DesignDoc: "ddoc0", View: "view0"}

	if _, err := cache.Get(id); store.CodeOf(err) != store.RetCTransport {
		t.Fatalf("Expected transport error, got %v", err)
	}
	if cache.Len() != 0 {
		t.Errorf("Expected failed resolution not to be cached")
	}
	if _, err := cache.Get(id); err != nil {
		t.Fatalf("Expected second resolution to succeed, got %v", err)
	}
	if n := s.resolves.Load(); n != 2 {
		t.Errorf("Expected two resolutions, got %d", n)
	}
}

func TestQueryUsesPickedView(t *testing.T) {
	s := newTestStore(t)
	for _, rec := range []struct{ key, value string }{{"user1", "aaa"}, {"user2", "mmm"}, {"user3", "zzz"}} {
		if _, err := s.Insert(store.QualifyKey("usertable", rec.key), store.Fields{"field4": rec.value}, 0, store.Durability{}); err != nil {
			t.Fatal(err)
		}
	}

	// ddoc1/view1 is offset 4 and emits field4
	p := NewPager(s, testDDocs, testViews, WithPicker(func(n int) int { return 1 }))
	page, err := p.Query("usermmm", 10)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	// start key is the bare "field4" since the seed is too short
	if len(page.Rows) != 3 {
		t.Fatalf("Expected 3 rows, got %d", len(page.Rows))
	}
	for _, row := range page.Rows {
		if !strings.HasPrefix(row.Key, "field4") {
			t.Errorf("Expected rows of the field4 view, got key %q", row.Key)
		}
	}

	page, err = p.QueryView(store.ViewID{DesignDoc: "ddoc1", View: "view1"}, "field4mmm", 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Rows) != 1 || page.Rows[0].ID != "usertable-user2" {
		t.Errorf("Expected user2 as first row from field4mmm, got %+v", page.Rows)
	}
	if p.Cache().Len() != 1 {
		t.Errorf("Expected one cached view, got %d", p.Cache().Len())
	}
}

func TestQueryRandomPickStaysInPool(t *testing.T) {
	s := &stubStore{}
	p := NewPager(s, testDDocs, testViews)
	for i := 0; i < 200; i++ {
		if _, err := p.Query("user6284781860667377211", 10); err != nil {
			t.Fatal(err)
		}
	}
	if p.Cache().Len() > len(testDDocs)*len(testViews) {
		t.Errorf("Expected at most %d distinct views, got %d", len(testDDocs)*len(testViews), p.Cache().Len())
	}
}

func TestQueryFailures(t *testing.T) {
	s := &stubStore{page: store.Page{
		Rows:   []store.Row{{Key: "k", ID: "usertable-user1"}},
		Errors: []string{"index rebuilding"},
	}}
	p := NewPager(s, testDDocs, testViews)

	page, err := p.Query("user6284781860667377211", 10)
	if !errors.Is(err, store.ErrQueryFailed) {
		t.Errorf("Expected query failure, got %v", err)
	}
	if len(page.Rows) != 0 {
		t.Errorf("Expected no rows with a failed query")
	}

	empty := NewPager(s, nil, nil)
	if _, err := empty.Query("user1", 10); store.CodeOf(err) != store.RetCInvalidOperation {
		t.Errorf("Expected invalid operation without views, got %v", err)
	}

	_, err = NewPager(newTestStore(t), testDDocs, testViews).QueryView(store.ViewID{DesignDoc: "nope", View: "nope"}, "", 10)
	if !errors.Is(err, store.ErrViewNotFound) {
		t.Errorf("Expected view not found, got %v", err)
	}
}

func TestQueryViewLimits(t *testing.T) {
	s := &stubStore{page: store.Page{Rows: []store.Row{{Key: "k", ID: "usertable-user1"}}}}
	p := NewPager(s, testDDocs, testViews)
	id := store.ViewID{DesignDoc: "ddoc0", View: "view0"}

	page, err := p.QueryView(id, "", 0)
	if err != nil || len(page.Rows) != 0 {
		t.Errorf("Expected empty page for limit 0, got %+v (%v)", page.Rows, err)
	}
	if _, err := p.QueryView(id, "", -1); store.CodeOf(err) != store.RetCInvalidOperation {
		t.Errorf("Expected invalid operation for a negative limit, got %v", err)
	}
	if _, err := p.Query("user6284781860667377211", -5); store.CodeOf(err) != store.RetCInvalidOperation {
		t.Errorf("Expected invalid operation for a negative limit, got %v", err)
	}
}
