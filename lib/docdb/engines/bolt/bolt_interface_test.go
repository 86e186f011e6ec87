package bolt

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/ValentinKolb/dDoc/lib/docdb"
	dbtesting "github.com/ValentinKolb/dDoc/lib/docdb/testing"
)

func factory(t testing.TB) dbtesting.DBFactory {
	dir := t.TempDir()
	n := 0
	return func() docdb.DocDB {
		n++
		database, err := Open(filepath.Join(dir, fmt.Sprintf("db-%d.bolt", n)), &Options{NoSync: true})
		if err != nil {
			t.Fatalf("failed to open bolt db: %v", err)
		}
		return database
	}
}

func Test(t *testing.T) {
	dbtesting.RunDocDBTests(t, "BoltDB", factory(t))
}

func Benchmark(b *testing.B) {
	dbtesting.RunDocDBBenchmarks(b, "BoltDB", factory(b))
}

func TestReopenKeepsDocumentsAndViews(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reopen.bolt")

	database, err := Open(path, &Options{NoSync: true})
	if err != nil {
		t.Fatal(err)
	}
	if err := database.DefineView(docdb.ViewDefinition{DesignDoc: "ycsb", View: "usertable", Emit: docdb.EmitDocKey}); err != nil {
		t.Fatal(err)
	}
	database.Upsert("usertable-user1", map[string]string{"field0": "a"}, 7, 0)
	if err := database.Close(); err != nil {
		t.Fatal(err)
	}

	database, err = Open(path, &Options{NoSync: true})
	if err != nil {
		t.Fatal(err)
	}
	defer database.Close()

	entry, ok := database.Get("usertable-user1")
	if !ok || entry.Version != 7 || entry.Fields["field0"] != "a" {
		t.Errorf("Expected document to survive reopen, got %+v (ok=%v)", entry, ok)
	}
	if _, ok := database.View("ycsb", "usertable"); !ok {
		t.Errorf("Expected view definition to survive reopen")
	}
	rows, _, err := database.Range("ycsb", "usertable", "", 10)
	if err != nil || len(rows) != 1 {
		t.Errorf("Expected one row after reopen, got %d (err=%v)", len(rows), err)
	}
}

func TestNegativeGCIntervalKeepsExpiredDocuments(t *testing.T) {
	database, err := Open(filepath.Join(t.TempDir(), "nogc.bolt"), &Options{NoSync: true, GCInterval: -1})
	if err != nil {
		t.Fatal(err)
	}
	defer database.Close()

	expireAt := time.Now().Add(10 * time.Millisecond).UnixNano()
	database.Upsert("a", map[string]string{"f": "1"}, 1, expireAt)

	time.Sleep(100 * time.Millisecond)

	if info := database.GetInfo(); info.DocCount != 1 {
		t.Errorf("Expected no background sweep, DocCount=%d", info.DocCount)
	}
	if n := database.PurgeExpired(expireAt); n != 1 {
		t.Errorf("Expected explicit purge to remove the document, got %d", n)
	}
}
