package maple

import (
	"testing"
	"time"

	"github.com/ValentinKolb/dDoc/lib/docdb"
	dbtesting "github.com/ValentinKolb/dDoc/lib/docdb/testing"
)

func Test(t *testing.T) {
	dbtesting.RunDocDBTests(t, "MapleDB", func() docdb.DocDB {
		return NewMapleDB(nil)
	})
}

func Benchmark(b *testing.B) {
	dbtesting.RunDocDBBenchmarks(b, "MapleDB", func() docdb.DocDB {
		return NewMapleDB(nil)
	})
}

func TestSweepRemovesExpiredViewItems(t *testing.T) {
	database := NewMapleDB(&DBOptions{NumShards: 4, GCInterval: 10 * time.Millisecond})
	defer database.Close()

	if err := database.DefineView(docdb.ViewDefinition{DesignDoc: "d", View: "v", Emit: docdb.EmitDocKey}); err != nil {
		t.Fatal(err)
	}
	database.Upsert("a", map[string]string{"f": "1"}, 1, time.Now().Add(20*time.Millisecond).UnixNano())
	database.Upsert("b", map[string]string{"f": "2"}, 2, 0)

	time.Sleep(200 * time.Millisecond)

	info := database.GetInfo()
	if info.DocCount != 1 {
		t.Errorf("Expected gc to remove the expired document, DocCount=%d", info.DocCount)
	}
	meta := info.Metadata.(*Metadata)
	if meta.ViewItems["d/v"] != 1 {
		t.Errorf("Expected one view item after gc, got %d", meta.ViewItems["d/v"])
	}
}

func TestNegativeGCIntervalKeepsExpiredDocuments(t *testing.T) {
	database := NewMapleDB(&DBOptions{NumShards: 2, GCInterval: -1})
	defer database.Close()

	expireAt := time.Now().Add(10 * time.Millisecond).UnixNano()
	database.Upsert("a", map[string]string{"f": "1"}, 1, expireAt)

	time.Sleep(100 * time.Millisecond)

	if info := database.GetInfo(); info.DocCount != 1 {
		t.Errorf("Expected no background sweep, DocCount=%d", info.DocCount)
	}
	if _, ok := database.Get("a"); ok {
		t.Errorf("Expected expired document to be invisible")
	}
	if n := database.PurgeExpired(expireAt); n != 1 {
		t.Errorf("Expected explicit purge to remove the document, got %d", n)
	}
}
