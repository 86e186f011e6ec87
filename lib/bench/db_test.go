package bench

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ValentinKolb/dDoc/lib/store"
	"github.com/ValentinKolb/dDoc/rpc/common"
	"github.com/spf13/viper"
)

// conflictStore fails the first n CompareAndSwap calls with a version conflict
type conflictStore struct {
	store.IDocStore
	remaining atomic.Int32
}

func (c *conflictStore) CompareAndSwap(key string, expected store.Version, fields store.Fields, d store.Durability) (store.Version, error) {
	if c.remaining.Add(-1) >= 0 {
		return 0, store.ErrVersionConflict
	}
	return c.IDocStore.CompareAndSwap(key, expected, fields, d)
}

// panicStore panics on every Get
type panicStore struct {
	store.IDocStore
}

func (panicStore) Get(string) (store.Document, bool, error) {
	panic("boom")
}

func newTestDB(t *testing.T, config Config, wrap func(store.IDocStore) store.IDocStore) *DB {
	t.Helper()
	db := newDBWithDialer(config, func(c Config) (store.IDocStore, error) {
		s, err := DialInProcess(c)
		if err != nil || wrap == nil {
			return s, err
		}
		return wrap(s), nil
	})
	if err := db.Init(); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	t.Cleanup(func() { _ = db.gate.closeAll() })
	return db
}

func record(n int) map[string]string {
	values := make(map[string]string, 10)
	for i := 0; i < 10; i++ {
		values[fmt.Sprintf("field%d", i)] = fmt.Sprintf("value%d-%d", n, i)
	}
	return values
}

func TestScenario(t *testing.T) {
	var conflicts *conflictStore
	db := newTestDB(t, DefaultConfig(), func(s store.IDocStore) store.IDocStore {
		conflicts = &conflictStore{IDocStore: s}
		return conflicts
	})

	if status := db.Insert("usertable", "user1", record(1)); status != StatusOK {
		t.Fatalf("Insert returned %s", status)
	}

	result := map[string]string{}
	if status := db.Read("usertable", "user1", []string{"field0", "field9", "missing"}, result); status != StatusOK {
		t.Fatalf("Read returned %s", status)
	}
	if len(result) != 2 || result["field0"] != "value1-0" || result["field9"] != "value1-9" {
		t.Errorf("Expected projection of field0 and field9, got %v", result)
	}

	// one concurrent writer wins before the update commits
	conflicts.remaining.Store(1)
	if status := db.Update("usertable", "user1", map[string]string{"field3": "updated"}); status != StatusOK {
		t.Fatalf("Update returned %s", status)
	}

	result = map[string]string{}
	if status := db.Read("usertable", "user1", nil, result); status != StatusOK {
		t.Fatalf("Read returned %s", status)
	}
	if len(result) != 10 || result["field3"] != "updated" || result["field4"] != "value1-4" {
		t.Errorf("Expected merged record, got %v", result)
	}

	doc, found, err := db.Store().Get(store.QualifyKey("usertable", "user1"))
	if err != nil || !found {
		t.Fatalf("Expected qualified document, found=%v err=%v", found, err)
	}
	if doc.Fields["field3"] != "updated" {
		t.Errorf("Expected stored field3=updated, got %q", doc.Fields["field3"])
	}
}

func TestWriteAllFieldsReplaces(t *testing.T) {
	config := DefaultConfig()
	config.WriteAllFields = true
	db := newTestDB(t, config, nil)

	db.Insert("usertable", "user1", record(1))
	if status := db.Update("usertable", "user1", map[string]string{"field0": "only"}); status != StatusOK {
		t.Fatalf("Update returned %s", status)
	}
	result := map[string]string{}
	db.Read("usertable", "user1", nil, result)
	if len(result) != 1 || result["field0"] != "only" {
		t.Errorf("Expected replaced record, got %v", result)
	}
}

func TestMissingRecords(t *testing.T) {
	db := newTestDB(t, DefaultConfig(), nil)

	if status := db.Read("usertable", "nope", nil, map[string]string{}); status != StatusError {
		t.Errorf("Expected read of a missing record to fail")
	}
	if status := db.Update("usertable", "nope", map[string]string{"a": "b"}); status != StatusError {
		t.Errorf("Expected update of a missing record to fail")
	}
	if status := db.Delete("usertable", "nope"); status != StatusError {
		t.Errorf("Expected delete of a missing record to fail")
	}
	if status := db.Insert("bad-table", "user1", record(1)); status != StatusError {
		t.Errorf("Expected table names with a separator to be rejected")
	}
}

func TestInsertModes(t *testing.T) {
	db := newTestDB(t, DefaultConfig(), nil)
	db.Insert("usertable", "user1", record(1))
	if status := db.Insert("usertable", "user1", record(2)); status != StatusOK {
		t.Errorf("Expected upsert to overwrite, got %s", status)
	}

	config := DefaultConfig()
	config.InsertMode = InsertModeAdd
	add := newTestDB(t, config, nil)
	add.Insert("usertable", "user1", record(1))
	if status := add.Insert("usertable", "user1", record(2)); status != StatusError {
		t.Errorf("Expected add of an existing record to fail, got %s", status)
	}
}

func TestCheckOperationStatus(t *testing.T) {
	// the in-process store persists nothing, persistTo=ONE must fail
	config := DefaultConfig()
	config.Durability = store.Durability{PersistTo: 1}
	db := newTestDB(t, config, nil)
	if status := db.Insert("usertable", "user1", record(1)); status != StatusError {
		t.Errorf("Expected failed durability to be reported, got %s", status)
	}

	config.CheckOperationStatus = false
	unchecked := newTestDB(t, config, nil)
	if status := unchecked.Insert("usertable", "user1", record(1)); status != StatusOK {
		t.Errorf("Expected unchecked insert to report OK, got %s", status)
	}
	if status := unchecked.Delete("usertable", "user1"); status != StatusOK {
		t.Errorf("Expected unchecked delete to report OK, got %s", status)
	}
	// reads are always checked
	if status := unchecked.Read("usertable", "user1", nil, map[string]string{}); status != StatusError {
		t.Errorf("Expected read to fail, got %s", status)
	}
}

func TestPanicsBecomeErrors(t *testing.T) {
	db := newTestDB(t, DefaultConfig(), func(s store.IDocStore) store.IDocStore {
		return panicStore{IDocStore: s}
	})
	if status := db.Read("usertable", "user1", nil, map[string]string{}); status != StatusError {
		t.Errorf("Expected recovered panic to return ERROR, got %s", status)
	}
}

func TestScanAndQuery(t *testing.T) {
	config := DefaultConfig()
	config.DDocs = []string{"ddoc0", "ddoc1"}
	config.Views = []string{"view0", "view1", "view2"}
	db := newTestDB(t, config, nil)

	for i := 0; i < 20; i++ {
		db.Insert("usertable", fmt.Sprintf("user%02d", i), record(i))
	}

	var rows []map[string]string
	if status := db.Scan("usertable", "user05", 4, []string{"field0"}, &rows); status != StatusOK {
		t.Fatalf("Scan returned %s", status)
	}
	if len(rows) != 4 {
		t.Fatalf("Expected 4 rows, got %d", len(rows))
	}
	for i, row := range rows {
		if want := fmt.Sprintf("value%d-0", 5+i); len(row) != 1 || row["field0"] != want {
			t.Errorf("Row %d: expected field0=%s, got %v", i, want, row)
		}
	}

	if status := db.Query("usertable", "user6284781860667377211", 10); status != StatusOK {
		t.Errorf("Query returned %s", status)
	}

	// a zero count is an empty scan, a negative one is an error
	rows = nil
	if status := db.Scan("usertable", "user05", 0, nil, &rows); status != StatusOK || len(rows) != 0 {
		t.Errorf("Expected empty scan for count 0, got %s with %d rows", status, len(rows))
	}
	if status := db.Scan("usertable", "user05", -1, nil, &rows); status != StatusError {
		t.Errorf("Expected negative count to fail, got %s", status)
	}

	// no query pools configured
	plain := newTestDB(t, DefaultConfig(), nil)
	if status := plain.Query("usertable", "user1", 10); status != StatusError {
		t.Errorf("Expected query without views to fail, got %s", status)
	}
}

func TestInfo(t *testing.T) {
	db := newTestDB(t, DefaultConfig(), nil)
	for i := 0; i < 3; i++ {
		db.Insert("usertable", fmt.Sprintf("user%d", i), record(i))
	}
	info, err := db.Info()
	if err != nil {
		t.Fatalf("Info failed: %v", err)
	}
	if info.DocCount != 3 || len(info.Views) == 0 {
		t.Errorf("Unexpected info %+v", info)
	}

	// stores without database info report an unsupported operation
	wrapped := newTestDB(t, DefaultConfig(), func(s store.IDocStore) store.IDocStore {
		return &conflictStore{IDocStore: s}
	})
	if _, err := wrapped.Info(); store.CodeOf(err) != store.RetCUnsupportedOperation {
		t.Errorf("Expected unsupported operation, got %v", err)
	}
}

func TestGateDialsOnce(t *testing.T) {
	var dials atomic.Int32
	g := newGate(func(c Config) (store.IDocStore, error) {
		dials.Add(1)
		time.Sleep(20 * time.Millisecond)
		return DialInProcess(c)
	})
	defer g.closeAll()

	config := DefaultConfig()
	handles := make([]store.IDocStore, 16)
	var wg sync.WaitGroup
	for i := range handles {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := g.connect(config)
			if err != nil {
				t.Errorf("connect failed: %v", err)
			}
			handles[i] = s
		}(i)
	}
	wg.Wait()

	if n := dials.Load(); n != 1 {
		t.Errorf("Expected a single dial, got %d", n)
	}
	for _, s := range handles[1:] {
		if s != handles[0] {
			t.Fatalf("Expected all callers to share one handle")
		}
	}

	// another bucket is another connection
	other := config
	other.Bucket = "other"
	if _, err := g.connect(other); err != nil {
		t.Fatal(err)
	}
	if n := dials.Load(); n != 2 {
		t.Errorf("Expected a second dial for another bucket, got %d", n)
	}
}

func TestGateSeparatesInProcessViewConfigs(t *testing.T) {
	g := newGate(DialInProcess)
	defer g.closeAll()

	plain := DefaultConfig()
	withViews := DefaultConfig()
	withViews.DDocs = []string{"ddoc0"}
	withViews.Views = []string{"view0"}

	if _, err := g.connect(plain); err != nil {
		t.Fatal(err)
	}
	s, err := g.connect(withViews)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.ResolveView(store.ViewID{DesignDoc: "ddoc0", View: "view0"}); err != nil {
		t.Errorf("Expected the store of the second config to define its views, got %v", err)
	}

	// remote handles are shared per cluster and bucket regardless of the views
	remote := plain
	remote.Hosts = []string{"10.0.0.1:8080"}
	remoteViews := withViews
	remoteViews.Hosts = remote.Hosts
	if connectionKey(remote) != connectionKey(remoteViews) {
		t.Errorf("Expected remote configs to share a connection key")
	}
}

func TestGateDoesNotCacheFailures(t *testing.T) {
	var dials atomic.Int32
	g := newGate(func(c Config) (store.IDocStore, error) {
		if dials.Add(1) == 1 {
			return nil, fmt.Errorf("unreachable")
		}
		return DialInProcess(c)
	})
	defer g.closeAll()

	if _, err := g.connect(DefaultConfig()); err == nil {
		t.Fatalf("Expected first connect to fail")
	}
	if _, err := g.connect(DefaultConfig()); err != nil {
		t.Fatalf("Expected second connect to dial again: %v", err)
	}
}

func TestConfigFromViper(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	v.Set("hosts", "10.0.0.1:8080, 10.0.0.2:8080")
	v.Set("replicateTo", "TWO")
	v.Set("expiry", 30)
	v.Set("opTimeout", 1200)
	v.Set("failureMode", "retry")
	v.Set("ddocs", "ddoc0,ddoc1")

	c, err := ConfigFromViper(v)
	if err != nil {
		t.Fatalf("ConfigFromViper failed: %v", err)
	}
	if len(c.Hosts) != 2 || c.Hosts[1] != "10.0.0.2:8080" || c.InProcess() {
		t.Errorf("Unexpected hosts %v", c.Hosts)
	}
	// persistTo is not inferred from replicateTo
	if c.Durability != (store.Durability{ReplicateTo: 2}) {
		t.Errorf("Unexpected durability %s", c.Durability)
	}
	if c.Expiry != 30*time.Second || c.OpTimeout != 1200*time.Millisecond {
		t.Errorf("Unexpected durations expiry=%s opTimeout=%s", c.Expiry, c.OpTimeout)
	}
	if c.FailureMode != common.FailureModeRetry || len(c.DDocs) != 2 || len(c.Views) != 0 {
		t.Errorf("Unexpected config %+v", c)
	}
	if cc := c.ClientConfig(); cc.TimeoutSecond != 2 || cc.Bucket != "default" {
		t.Errorf("Unexpected client config %+v", cc)
	}

	v.Set("persistTo", "FIVE")
	if _, err := ConfigFromViper(v); err == nil {
		t.Errorf("Expected invalid persistTo to be rejected")
	}
	v.Set("persistTo", "NONE")
	v.Set("insertMode", "merge")
	if _, err := ConfigFromViper(v); err == nil {
		t.Errorf("Expected unknown insert mode to be rejected")
	}
}

func TestDefaultConfig(t *testing.T) {
	c := DefaultConfig()
	if !c.InProcess() || c.Bucket != "default" || c.DesignDocumentName != "ycsb" {
		t.Errorf("Unexpected defaults %+v", c)
	}
	if !c.Durability.IsZero() || c.InsertMode != InsertModeUpsert || !c.CheckOperationStatus {
		t.Errorf("Unexpected write defaults %+v", c)
	}
	if c.MaxUpdateAttempts != 100 || c.OpTimeout != 2500*time.Millisecond {
		t.Errorf("Unexpected retry defaults %+v", c)
	}
}
