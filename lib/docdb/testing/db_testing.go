package testing

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ValentinKolb/dDoc/lib/docdb"
)

// DBFactory is a function that creates a new instance of a DocDB implementation
type DBFactory func() docdb.DocDB

// RunDocDBTests runs the conformance test suite for a DocDB implementation.
func RunDocDBTests(t *testing.T, name string, factory DBFactory) {
	t.Run(name, func(t *testing.T) {
		t.Run("Upsert&Get", func(t *testing.T) {
			testUpsertGet(t, factory())
		})

		t.Run("Add", func(t *testing.T) {
			testAdd(t, factory())
		})

		t.Run("CompareAndSwap", func(t *testing.T) {
			testCompareAndSwap(t, factory())
		})

		t.Run("Delete", func(t *testing.T) {
			testDelete(t, factory())
		})

		t.Run("Expiry", func(t *testing.T) {
			testExpiry(t, factory())
		})

		t.Run("CallerClock", func(t *testing.T) {
			testCallerClock(t, factory())
		})

		t.Run("PurgeExpired", func(t *testing.T) {
			testPurgeExpired(t, factory())
		})

		t.Run("KeyView", func(t *testing.T) {
			testKeyView(t, factory())
		})

		t.Run("FieldView", func(t *testing.T) {
			testFieldView(t, factory())
		})

		t.Run("DefineView", func(t *testing.T) {
			testDefineView(t, factory())
		})

		t.Run("ConcurrentCAS", func(t *testing.T) {
			testConcurrentCAS(t, factory())
		})

		t.Run("SaveLoad", func(t *testing.T) {
			testSaveLoad(t, factory)
		})

		t.Run("Info", func(t *testing.T) {
			testInfo(t, factory())
		})
	})
}

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

// Checks if the database supports the specified feature
// Skip the test if it is not supported
func requireFeature(t testing.TB, database docdb.DocDB, feature docdb.Feature) {
	if !database.SupportsFeature(feature) {
		t.Skip()
	}
}

func fields(kv ...string) map[string]string {
	m := make(map[string]string, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		m[kv[i]] = kv[i+1]
	}
	return m
}

func rowIDs(rows []docdb.Row) []string {
	ids := make([]string, len(rows))
	for i, row := range rows {
		ids[i] = row.ID
	}
	return ids
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func now() int64 {
	return time.Now().UnixNano()
}

func mustDefine(t testing.TB, database docdb.DocDB, def docdb.ViewDefinition) {
	t.Helper()
	if err := database.DefineView(def); err != nil {
		t.Fatalf("DefineView(%s) failed: %v", def, err)
	}
}

// --------------------------------------------------------------------------
// Test functions
// --------------------------------------------------------------------------

func testUpsertGet(t *testing.T, database docdb.DocDB) {
	defer database.Close()

	requireFeature(t, database, docdb.FeatureUpsert|docdb.FeatureGet)

	database.Upsert("doc1", fields("field0", "a", "field1", "b"), 1, 0)

	entry, ok := database.Get("doc1")
	if !ok {
		t.Fatalf("Expected doc1 to exist after Upsert")
	}
	if entry.Version != 1 || entry.Fields["field0"] != "a" || entry.Fields["field1"] != "b" {
		t.Errorf("Unexpected entry after Upsert: %+v", entry)
	}

	// Upsert replaces the whole document
	database.Upsert("doc1", fields("field2", "c"), 2, 0)
	entry, _ = database.Get("doc1")
	if entry.Version != 2 || len(entry.Fields) != 1 || entry.Fields["field2"] != "c" {
		t.Errorf("Expected document to be replaced, got %+v", entry)
	}

	// Get returns a copy
	entry.Fields["field2"] = "X"
	again, _ := database.Get("doc1")
	if again.Fields["field2"] != "c" {
		t.Errorf("Get should return a copy, not a reference to the stored fields")
	}

	// the caller's map is copied as well
	input := fields("field0", "v")
	database.Upsert("doc2", input, 3, 0)
	input["field0"] = "changed"
	if entry, _ := database.Get("doc2"); entry.Fields["field0"] != "v" {
		t.Errorf("Upsert should copy the fields, got %q", entry.Fields["field0"])
	}

	if _, ok := database.Get("nonexistent"); ok {
		t.Errorf("Expected nonexistent document to return ok=false")
	}

	// empty documents are valid documents
	database.Upsert("empty", map[string]string{}, 4, 0)
	if entry, ok := database.Get("empty"); !ok || len(entry.Fields) != 0 {
		t.Errorf("Expected empty document to exist, got %+v (ok=%v)", entry, ok)
	}
}

func testAdd(t *testing.T, database docdb.DocDB) {
	defer database.Close()

	requireFeature(t, database, docdb.FeatureAdd|docdb.FeatureGet)

	if !database.Add("doc", fields("f", "first"), 1, 0, now()) {
		t.Fatalf("Expected first Add to succeed")
	}
	if database.Add("doc", fields("f", "second"), 2, 0, now()) {
		t.Errorf("Expected second Add to fail")
	}
	entry, _ := database.Get("doc")
	if entry.Fields["f"] != "first" || entry.Version != 1 {
		t.Errorf("Failed Add must not change the document, got %+v", entry)
	}
}

func testCompareAndSwap(t *testing.T, database docdb.DocDB) {
	defer database.Close()

	requireFeature(t, database, docdb.FeatureCAS|docdb.FeatureUpsert|docdb.FeatureGet)

	if res := database.CompareAndSwap("missing", 1, fields("f", "x"), 2, now()); res != docdb.CASNotFound {
		t.Errorf("Expected CAS on missing document to return NotFound, got %s", res)
	}
	if _, ok := database.Get("missing"); ok {
		t.Errorf("CAS must not create documents")
	}

	expireAt := time.Now().Add(time.Hour).UnixNano()
	database.Upsert("doc", fields("f", "v1"), 10, expireAt)

	if res := database.CompareAndSwap("doc", 9, fields("f", "stale"), 11, now()); res != docdb.CASMismatch {
		t.Errorf("Expected CAS with wrong version to return Mismatch, got %s", res)
	}
	if entry, _ := database.Get("doc"); entry.Fields["f"] != "v1" || entry.Version != 10 {
		t.Errorf("Mismatched CAS must not change the document, got %+v", entry)
	}

	if res := database.CompareAndSwap("doc", 10, fields("f", "v2"), 11, now()); res != docdb.CASCommitted {
		t.Fatalf("Expected CAS with current version to commit, got %s", res)
	}
	entry, _ := database.Get("doc")
	if entry.Fields["f"] != "v2" || entry.Version != 11 {
		t.Errorf("Expected committed CAS to replace the document, got %+v", entry)
	}
	if entry.ExpireAt != expireAt {
		t.Errorf("CAS must keep the expiration, expected %d got %d", expireAt, entry.ExpireAt)
	}

	// the old version is now stale
	if res := database.CompareAndSwap("doc", 10, fields("f", "v3"), 12, now()); res != docdb.CASMismatch {
		t.Errorf("Expected CAS with superseded version to return Mismatch, got %s", res)
	}
}

func testDelete(t *testing.T, database docdb.DocDB) {
	defer database.Close()

	requireFeature(t, database, docdb.FeatureDelete|docdb.FeatureUpsert|docdb.FeatureGet)

	database.Upsert("doc", fields("f", "v"), 1, 0)
	if !database.Delete("doc", now()) {
		t.Errorf("Expected Delete of existing document to return true")
	}
	if _, ok := database.Get("doc"); ok {
		t.Errorf("Expected document to be gone after Delete")
	}
	if database.Delete("doc", now()) {
		t.Errorf("Expected second Delete to return false")
	}
	if !database.Add("doc", fields("f", "again"), 2, 0, now()) {
		t.Errorf("Expected Add after Delete to succeed")
	}
}

func testExpiry(t *testing.T, database docdb.DocDB) {
	defer database.Close()

	requireFeature(t, database, docdb.FeatureExpiry|docdb.FeatureUpsert|docdb.FeatureGet)

	database.Upsert("short", fields("f", "v"), 1, time.Now().Add(50*time.Millisecond).UnixNano())
	database.Upsert("long", fields("f", "v"), 2, time.Now().Add(time.Hour).UnixNano())
	database.Upsert("never", fields("f", "v"), 3, 0)

	if _, ok := database.Get("short"); !ok {
		t.Fatalf("Expected short lived document to exist before it expires")
	}

	time.Sleep(150 * time.Millisecond)

	if _, ok := database.Get("short"); ok {
		t.Errorf("Expected expired document to be invisible")
	}
	if _, ok := database.Get("long"); !ok {
		t.Errorf("Expected long lived document to exist")
	}
	if _, ok := database.Get("never"); !ok {
		t.Errorf("Expected document without expiration to exist")
	}

	if database.SupportsFeature(docdb.FeatureCAS) {
		if res := database.CompareAndSwap("short", 1, fields("f", "x"), 4, now()); res != docdb.CASNotFound {
			t.Errorf("Expected CAS on expired document to return NotFound, got %s", res)
		}
	}
	if database.SupportsFeature(docdb.FeatureAdd) {
		if !database.Add("short", fields("f", "new"), 5, 0, now()) {
			t.Errorf("Expected Add over expired document to succeed")
		}
	}
}

// testCallerClock checks that write operations decide expiry with the timestamp
// passed by the caller and not with the local clock.
func testCallerClock(t *testing.T, database docdb.DocDB) {
	defer database.Close()

	requireFeature(t, database, docdb.FeatureExpiry|docdb.FeatureAdd|docdb.FeatureCAS|docdb.FeatureDelete|docdb.FeatureUpsert)

	base := time.Now().Add(time.Hour).UnixNano()
	expireAt := base + int64(time.Minute)

	// unexpired for the local clock, expired for callers at or after expireAt
	database.Upsert("doc", fields("f", "v1"), 1, expireAt)

	if database.Add("doc", fields("f", "other"), 2, 0, base) {
		t.Errorf("Expected Add to see the document as existing at the caller's time")
	}
	if res := database.CompareAndSwap("doc", 1, fields("f", "v2"), 3, base+1); res != docdb.CASCommitted {
		t.Errorf("Expected CAS to commit at the caller's time, got %s", res)
	}
	if res := database.CompareAndSwap("doc", 3, fields("f", "v3"), 4, expireAt); res != docdb.CASNotFound {
		t.Errorf("Expected CAS at the expiration time to return NotFound, got %s", res)
	}
	if database.Delete("doc", expireAt+1) {
		t.Errorf("Expected Delete after the expiration time to report no document")
	}
	if !database.Add("doc", fields("f", "fresh"), 5, 0, expireAt) {
		t.Errorf("Expected Add over the expired document to succeed")
	}
	if entry, ok := database.Get("doc"); !ok || entry.Version != 5 {
		t.Errorf("Expected the added document, got %+v (ok=%v)", entry, ok)
	}
}

func testPurgeExpired(t *testing.T, database docdb.DocDB) {
	defer database.Close()

	requireFeature(t, database, docdb.FeatureExpiry|docdb.FeatureUpsert|docdb.FeatureRange)

	mustDefine(t, database, docdb.ViewDefinition{DesignDoc: "d", View: "v", Emit: docdb.EmitDocKey})

	base := time.Now().Add(time.Hour).UnixNano()
	database.Upsert("a", fields("f", "1"), 1, base)
	database.Upsert("b", fields("f", "2"), 2, base+int64(time.Minute))
	database.Upsert("c", fields("f", "3"), 3, 0)

	if n := database.PurgeExpired(base - 1); n != 0 {
		t.Errorf("Expected nothing to be purged before the first expiration, got %d", n)
	}
	if n := database.PurgeExpired(base); n != 1 {
		t.Errorf("Expected one purged document, got %d", n)
	}
	if info := database.GetInfo(); info.DocCount != 2 {
		t.Errorf("Expected 2 documents after purge, got %d", info.DocCount)
	}
	rows, _, _ := database.Range("d", "v", "", 10)
	if !equalStrings(rowIDs(rows), []string{"b", "c"}) {
		t.Errorf("Expected purged document to leave the view, got %v", rowIDs(rows))
	}
	if n := database.PurgeExpired(base); n != 0 {
		t.Errorf("Expected second purge to remove nothing, got %d", n)
	}
}

func testKeyView(t *testing.T, database docdb.DocDB) {
	defer database.Close()

	requireFeature(t, database, docdb.FeatureRange|docdb.FeatureUpsert)

	mustDefine(t, database, docdb.ViewDefinition{DesignDoc: "ycsb", View: "usertable", Emit: docdb.EmitDocKey})

	for i := 9; i >= 0; i-- {
		key := fmt.Sprintf("usertable-user%d", i)
		database.Upsert(key, fields("field0", strconv.Itoa(i)), uint64(10-i), 0)
	}

	rows, errs, err := database.Range("ycsb", "usertable", "usertable-user3", 4)
	if err != nil || len(errs) != 0 {
		t.Fatalf("Range failed: %v %v", err, errs)
	}
	expected := []string{"usertable-user3", "usertable-user4", "usertable-user5", "usertable-user6"}
	if !equalStrings(rowIDs(rows), expected) {
		t.Errorf("Expected rows %v, got %v", expected, rowIDs(rows))
	}
	if rows[0].Key != rows[0].ID || rows[0].Fields["field0"] != "3" {
		t.Errorf("Unexpected first row %+v", rows[0])
	}

	// start key between two keys
	rows, _, _ = database.Range("ycsb", "usertable", "usertable-user55", 1)
	if !equalStrings(rowIDs(rows), []string{"usertable-user6"}) {
		t.Errorf("Expected range to start at the next greater key, got %v", rowIDs(rows))
	}

	// limit larger than the view
	rows, _, _ = database.Range("ycsb", "usertable", "", 100)
	if len(rows) != 10 {
		t.Errorf("Expected all 10 rows, got %d", len(rows))
	}

	// a zero limit returns an empty page
	rows, _, err = database.Range("ycsb", "usertable", "", 0)
	if err != nil || len(rows) != 0 {
		t.Errorf("Expected no rows for limit 0, got %v (err=%v)", rowIDs(rows), err)
	}

	// past the end
	rows, _, _ = database.Range("ycsb", "usertable", "zzz", 10)
	if len(rows) != 0 {
		t.Errorf("Expected no rows past the last key, got %v", rowIDs(rows))
	}

	// deleted documents disappear from the view
	if database.SupportsFeature(docdb.FeatureDelete) {
		database.Delete("usertable-user4", now())
		rows, _, _ = database.Range("ycsb", "usertable", "usertable-user3", 2)
		if !equalStrings(rowIDs(rows), []string{"usertable-user3", "usertable-user5"}) {
			t.Errorf("Expected deleted document to be skipped, got %v", rowIDs(rows))
		}
	}

	if _, _, err := database.Range("ycsb", "unknown", "", 1); !errors.Is(err, docdb.ErrViewNotFound) {
		t.Errorf("Expected ErrViewNotFound for unknown view, got %v", err)
	}
}

func testFieldView(t *testing.T, database docdb.DocDB) {
	defer database.Close()

	requireFeature(t, database, docdb.FeatureRange|docdb.FeatureUpsert)

	mustDefine(t, database, docdb.ViewDefinition{DesignDoc: "ddoc0", View: "view1", Emit: docdb.EmitField("field1")})

	database.Upsert("t-a", fields("field1", "user7"), 1, 0)
	database.Upsert("t-b", fields("field1", "user3"), 2, 0)
	database.Upsert("t-c", fields("field0", "user5"), 3, 0) // not part of the view
	database.Upsert("t-d", fields("field1", "user3"), 4, 0) // same key as t-b

	rows, _, err := database.Range("ddoc0", "view1", "field1", 10)
	if err != nil {
		t.Fatalf("Range failed: %v", err)
	}
	if !equalStrings(rowIDs(rows), []string{"t-b", "t-d", "t-a"}) {
		t.Errorf("Expected rows ordered by emitted key then id, got %v", rowIDs(rows))
	}
	if len(rows) > 0 && rows[0].Key != "field1user3" {
		t.Errorf("Expected emitted key field1user3, got %q", rows[0].Key)
	}

	// updating the field moves the document inside the view
	database.Upsert("t-a", fields("field1", "user0"), 5, 0)
	rows, _, _ = database.Range("ddoc0", "view1", "field1user0", 1)
	if !equalStrings(rowIDs(rows), []string{"t-a"}) {
		t.Errorf("Expected t-a at its new position, got %v", rowIDs(rows))
	}
	rows, _, _ = database.Range("ddoc0", "view1", "field1user4", 10)
	if len(rows) != 0 {
		t.Errorf("Expected old position of t-a to be empty, got %v", rowIDs(rows))
	}

	// removing the field removes the document from the view
	if database.SupportsFeature(docdb.FeatureCAS) {
		if res := database.CompareAndSwap("t-b", 2, fields("field0", "x"), 6, now()); res != docdb.CASCommitted {
			t.Fatalf("CAS failed: %s", res)
		}
		rows, _, _ = database.Range("ddoc0", "view1", "", 10)
		if !equalStrings(rowIDs(rows), []string{"t-a", "t-d"}) {
			t.Errorf("Expected t-b to leave the view, got %v", rowIDs(rows))
		}
	}
}

func testDefineView(t *testing.T, database docdb.DocDB) {
	defer database.Close()

	requireFeature(t, database, docdb.FeatureRange|docdb.FeatureUpsert)

	for i := 0; i < 5; i++ {
		database.Upsert(fmt.Sprintf("doc%d", i), fields("field0", strconv.Itoa(i)), uint64(i+1), 0)
	}

	def := docdb.ViewDefinition{DesignDoc: "d", View: "v", Emit: docdb.EmitField("field0")}
	mustDefine(t, database, def)

	// existing documents are indexed
	rows, _, _ := database.Range("d", "v", "", 10)
	if len(rows) != 5 {
		t.Errorf("Expected view to contain the 5 existing documents, got %d", len(rows))
	}

	got, ok := database.View("d", "v")
	if !ok || got != def {
		t.Errorf("Expected View to return %s, got %s (ok=%v)", def, got, ok)
	}
	if _, ok := database.View("d", "other"); ok {
		t.Errorf("Expected unknown view to return ok=false")
	}

	// same definition again is a no-op, a different emit is an error
	mustDefine(t, database, def)
	err := database.DefineView(docdb.ViewDefinition{DesignDoc: "d", View: "v", Emit: docdb.EmitDocKey})
	if !errors.Is(err, docdb.ErrViewConflict) {
		t.Errorf("Expected ErrViewConflict, got %v", err)
	}
	if err := database.DefineView(docdb.ViewDefinition{DesignDoc: "d", View: "bad", Emit: "value"}); err == nil {
		t.Errorf("Expected invalid emit expression to be rejected")
	}
}

func testConcurrentCAS(t *testing.T, database docdb.DocDB) {
	defer database.Close()

	requireFeature(t, database, docdb.FeatureCAS|docdb.FeatureUpsert|docdb.FeatureGet)

	const (
		workers    = 8
		increments = 50
	)

	var versions atomic.Uint64
	versions.Store(1)
	database.Upsert("counter", fields("n", "0"), 1, 0)

	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for i := 0; i < increments; i++ {
				for {
					entry, ok := database.Get("counter")
					if !ok {
						t.Errorf("counter disappeared")
						return
					}
					n, _ := strconv.Atoi(entry.Fields["n"])
					next := fields("n", strconv.Itoa(n+1))
					if database.CompareAndSwap("counter", entry.Version, next, versions.Add(1), now()) == docdb.CASCommitted {
						break
					}
				}
			}
		}()
	}
	wg.Wait()

	entry, _ := database.Get("counter")
	if entry.Fields["n"] != strconv.Itoa(workers*increments) {
		t.Errorf("Expected counter %d, got %s (lost updates)", workers*increments, entry.Fields["n"])
	}
}

func testSaveLoad(t *testing.T, factory DBFactory) {
	source := factory()
	defer source.Close()

	requireFeature(t, source, docdb.FeatureSave|docdb.FeatureLoad)

	mustDefine(t, source, docdb.ViewDefinition{DesignDoc: "ycsb", View: "t", Emit: docdb.EmitDocKey})
	expireAt := time.Now().Add(time.Hour).UnixNano()
	for i := 0; i < 100; i++ {
		source.Upsert(fmt.Sprintf("t-%03d", i), fields("field0", strconv.Itoa(i), "field1", "x"), uint64(i+1), expireAt)
	}
	source.Upsert("t-gone", fields("f", "v"), 500, time.Now().Add(-time.Second).UnixNano())

	var buf bytes.Buffer
	if err := source.Save(&buf); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	target := factory()
	defer target.Close()
	target.Upsert("stale", fields("f", "v"), 1, 0)

	if err := target.Load(&buf); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if _, ok := target.Get("stale"); ok {
		t.Errorf("Expected Load to replace the existing state")
	}
	if _, ok := target.Get("t-gone"); ok {
		t.Errorf("Expected expired document to stay invisible after Save/Load")
	}
	for i := 0; i < 100; i++ {
		entry, ok := target.Get(fmt.Sprintf("t-%03d", i))
		if !ok {
			t.Fatalf("Document t-%03d missing after Load", i)
		}
		if entry.Version != uint64(i+1) || entry.ExpireAt != expireAt || entry.Fields["field0"] != strconv.Itoa(i) {
			t.Errorf("Unexpected document after Load: %+v", entry)
		}
	}

	rows, _, err := target.Range("ycsb", "t", "t-050", 3)
	if err != nil {
		t.Fatalf("Range after Load failed: %v", err)
	}
	if !equalStrings(rowIDs(rows), []string{"t-050", "t-051", "t-052"}) {
		t.Errorf("Expected view to be restored, got %v", rowIDs(rows))
	}

	if err := target.Load(bytes.NewReader([]byte("garbage"))); err == nil {
		t.Errorf("Expected Load of invalid data to fail")
	}
}

func testInfo(t *testing.T, database docdb.DocDB) {
	defer database.Close()

	mustDefine(t, database, docdb.ViewDefinition{DesignDoc: "d", View: "v", Emit: docdb.EmitDocKey})
	for i := 0; i < 10; i++ {
		database.Upsert(fmt.Sprintf("doc%d", i), fields("f", "value"), uint64(i+1), 0)
	}

	info := database.GetInfo()
	if info.DocCount != 10 {
		t.Errorf("Expected DocCount 10, got %d", info.DocCount)
	}
	if len(info.Views) != 1 {
		t.Errorf("Expected one view in info, got %v", info.Views)
	}
	for _, f := range info.SupportedFeatures {
		if !database.SupportsFeature(f) {
			t.Errorf("Feature %s listed in info but not supported", f)
		}
	}
}
