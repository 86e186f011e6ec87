package testing

import (
	"bytes"
	"fmt"
	"strconv"
	"sync/atomic"
	"testing"

	"github.com/ValentinKolb/dDoc/lib/docdb"
)

// RunDocDBBenchmarks runs the standard benchmarks for a DocDB implementation.
func RunDocDBBenchmarks(b *testing.B, name string, factory DBFactory) {
	b.Run(name, func(b *testing.B) {
		b.Run("Upsert", func(b *testing.B) {
			benchmarkUpsert(b, factory())
		})

		b.Run("Get", func(b *testing.B) {
			benchmarkGet(b, factory())
		})

		b.Run("CompareAndSwap", func(b *testing.B) {
			benchmarkCAS(b, factory())
		})

		b.Run("Range", func(b *testing.B) {
			benchmarkRange(b, factory())
		})

		b.Run("SaveLoad", func(b *testing.B) {
			benchmarkSaveLoad(b, factory)
		})
	})
}

// ycsbDoc returns a document shaped like a YCSB record (10 fields of 100 bytes)
func ycsbDoc(i int) map[string]string {
	value := bytes.Repeat([]byte{byte('a' + i%26)}, 100)
	doc := make(map[string]string, 10)
	for f := 0; f < 10; f++ {
		doc["field"+strconv.Itoa(f)] = string(value)
	}
	return doc
}

func benchmarkUpsert(b *testing.B, database docdb.DocDB) {
	defer database.Close()
	requireFeature(b, database, docdb.FeatureUpsert)

	doc := ycsbDoc(0)
	var counter atomic.Uint64

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			i := counter.Add(1)
			database.Upsert(fmt.Sprintf("usertable-user%d", i%10_000), doc, i, 0)
		}
	})
}

func benchmarkGet(b *testing.B, database docdb.DocDB) {
	defer database.Close()
	requireFeature(b, database, docdb.FeatureUpsert|docdb.FeatureGet)

	const numDocs = 10_000
	for i := 0; i < numDocs; i++ {
		database.Upsert(fmt.Sprintf("usertable-user%d", i), ycsbDoc(i), uint64(i+1), 0)
	}

	var counter atomic.Uint64
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			i := counter.Add(1)
			database.Get(fmt.Sprintf("usertable-user%d", i%numDocs))
		}
	})
}

func benchmarkCAS(b *testing.B, database docdb.DocDB) {
	defer database.Close()
	requireFeature(b, database, docdb.FeatureUpsert|docdb.FeatureGet|docdb.FeatureCAS)

	const numDocs = 1_000
	for i := 0; i < numDocs; i++ {
		database.Upsert(fmt.Sprintf("usertable-user%d", i), ycsbDoc(i), 1, 0)
	}

	var versions atomic.Uint64
	versions.Store(1)
	var counter atomic.Uint64
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			key := fmt.Sprintf("usertable-user%d", counter.Add(1)%numDocs)
			entry, ok := database.Get(key)
			if !ok {
				continue
			}
			entry.Fields["field0"] = "updated"
			database.CompareAndSwap(key, entry.Version, entry.Fields, versions.Add(1), now())
		}
	})
}

func benchmarkRange(b *testing.B, database docdb.DocDB) {
	defer database.Close()
	requireFeature(b, database, docdb.FeatureUpsert|docdb.FeatureRange)

	if err := database.DefineView(docdb.ViewDefinition{DesignDoc: "ycsb", View: "usertable", Emit: docdb.EmitDocKey}); err != nil {
		b.Fatal(err)
	}
	const numDocs = 10_000
	for i := 0; i < numDocs; i++ {
		database.Upsert(fmt.Sprintf("usertable-user%d", i), ycsbDoc(i), uint64(i+1), 0)
	}

	var counter atomic.Uint64
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			start := fmt.Sprintf("usertable-user%d", counter.Add(1)%numDocs)
			if _, _, err := database.Range("ycsb", "usertable", start, 10); err != nil {
				b.Error(err)
			}
		}
	})
}

func benchmarkSaveLoad(b *testing.B, factory DBFactory) {
	database := factory()
	defer database.Close()
	requireFeature(b, database, docdb.FeatureSave|docdb.FeatureLoad)

	for i := 0; i < 10_000; i++ {
		database.Upsert(fmt.Sprintf("usertable-user%d", i), ycsbDoc(i), uint64(i+1), 0)
	}

	var snapshot bytes.Buffer
	b.Run("Save", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			snapshot.Reset()
			if err := database.Save(&snapshot); err != nil {
				b.Fatal(err)
			}
		}
	})

	b.Run("Load", func(b *testing.B) {
		target := factory()
		defer target.Close()
		for i := 0; i < b.N; i++ {
			if err := target.Load(bytes.NewReader(snapshot.Bytes())); err != nil {
				b.Fatal(err)
			}
		}
	})
}
