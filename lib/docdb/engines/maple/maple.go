package maple

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/dDoc/lib/docdb"
	"github.com/ValentinKolb/dDoc/lib/docdb/engines/maple/internal"
	"github.com/ValentinKolb/dDoc/lib/docdb/util"
)

// --------------------------------------------------------------------------
// Constants
// --------------------------------------------------------------------------

const (
	magicNum          = "DDOCMAPL"             // File format identifier
	mapleVersion      = 1                      // Snapshot format version
	defaultGCInterval = 100 * time.Millisecond // Default interval between GC sweeps
)

// --------------------------------------------------------------------------
// Core Maple database structure
// --------------------------------------------------------------------------

// mapleImpl is an in-memory document database with sharded documents and
// ordered view indexes.
type mapleImpl struct {
	seed   uint64
	shards []*internal.Shard

	// views is replaced as a whole (copy on write) while holding defineMu,
	// writers load it from inside the Compute callback of the document.
	views    atomic.Pointer[map[string]*internal.View]
	defineMu sync.Mutex

	// garbage collection
	gcInterval time.Duration
	gcMu       sync.Mutex
	gcStop     chan struct{}
	gcDone     chan struct{}

	now func() int64
}

// DBOptions configures the mapleImpl behavior during initialization
type DBOptions struct {
	NumShards  int           // Number of shards (0 = number of CPUs)
	GCInterval time.Duration // Time between GC sweeps (0 = default, < 0 = no background sweeps)
}

// DefaultOptions returns the default mapleImpl options
func DefaultOptions() *DBOptions {
	return &DBOptions{
		NumShards:  runtime.NumCPU(),
		GCInterval: defaultGCInterval,
	}
}

// --------------------------------------------------------------------------
// Initialization and Setup
// --------------------------------------------------------------------------

// NewMapleDB creates a new in-memory document database with the specified options (optional)
func NewMapleDB(opts *DBOptions) docdb.DocDB {
	if opts == nil {
		opts = DefaultOptions()
	}
	if opts.NumShards <= 0 {
		opts.NumShards = runtime.NumCPU()
	}
	if opts.GCInterval == 0 {
		opts.GCInterval = defaultGCInterval
	}

	newDB := &mapleImpl{
		seed:       util.GenerateSeed(),
		shards:     newShards(opts.NumShards),
		gcInterval: opts.GCInterval,
		now:        func() int64 { return time.Now().UnixNano() },
	}
	empty := make(map[string]*internal.View)
	newDB.views.Store(&empty)

	newDB.startGC()
	return newDB
}

func newShards(n int) []*internal.Shard {
	shards := make([]*internal.Shard, n)
	for i := range shards {
		shards[i] = internal.NewShard()
	}
	return shards
}

func (maple *mapleImpl) shardFor(key string) *internal.Shard {
	return internal.GetShard(util.HashString(key, maple.seed), maple.shards)
}

func (maple *mapleImpl) viewMap() map[string]*internal.View {
	return *maple.views.Load()
}

// --------------------------------------------------------------------------
// Interface Methods - Write Operations (docu see docdb.DocDB)
// --------------------------------------------------------------------------

type action uint8

const (
	keep action = iota
	store
	remove
)

// update runs fn on the current entry of key while holding the bucket lock of the key.
// Entries expired at now are passed as not existing. Depending on the returned action the entry
// is kept, replaced or removed and all views are updated before the lock is released.
func (maple *mapleImpl) update(key string, now int64, fn func(old docdb.Entry, exists bool) (docdb.Entry, action)) {
	maple.shardFor(key).Data.Compute(key, func(old docdb.Entry, loaded bool) (docdb.Entry, bool) {
		next, act := fn(old, loaded && !old.Expired(now))

		var oldFields map[string]string
		if loaded {
			oldFields = old.Fields
		}

		switch act {
		case store:
			for _, v := range maple.viewMap() {
				v.Reindex(key, oldFields, next.Fields)
			}
			return next, false
		case remove:
			if loaded {
				for _, v := range maple.viewMap() {
					v.Reindex(key, oldFields, nil)
				}
			}
			return old, true
		default:
			return old, !loaded
		}
	})
}

func (maple *mapleImpl) Upsert(key string, fields map[string]string, version uint64, expireAt int64) {
	entry := docdb.Entry{Fields: docdb.CloneFields(fields), Version: version, ExpireAt: expireAt}
	maple.update(key, 0, func(docdb.Entry, bool) (docdb.Entry, action) {
		return entry, store
	})
}

func (maple *mapleImpl) Add(key string, fields map[string]string, version uint64, expireAt int64, now int64) bool {
	entry := docdb.Entry{Fields: docdb.CloneFields(fields), Version: version, ExpireAt: expireAt}
	added := false
	maple.update(key, now, func(old docdb.Entry, exists bool) (docdb.Entry, action) {
		if exists {
			return old, keep
		}
		added = true
		return entry, store
	})
	return added
}

func (maple *mapleImpl) CompareAndSwap(key string, expected uint64, fields map[string]string, version uint64, now int64) docdb.CASResult {
	fieldsCopy := docdb.CloneFields(fields)
	result := docdb.CASNotFound
	maple.update(key, now, func(old docdb.Entry, exists bool) (docdb.Entry, action) {
		switch {
		case !exists:
			result = docdb.CASNotFound
			return old, keep
		case old.Version != expected:
			result = docdb.CASMismatch
			return old, keep
		}
		result = docdb.CASCommitted
		return docdb.Entry{Fields: fieldsCopy, Version: version, ExpireAt: old.ExpireAt}, store
	})
	return result
}

func (maple *mapleImpl) Delete(key string, now int64) bool {
	deleted := false
	maple.update(key, now, func(old docdb.Entry, exists bool) (docdb.Entry, action) {
		deleted = exists
		return old, remove
	})
	return deleted
}

// --------------------------------------------------------------------------
// Interface Methods - Query Operations (docu see docdb.DocDB)
// --------------------------------------------------------------------------

func (maple *mapleImpl) Get(key string) (docdb.Entry, bool) {
	entry, ok := maple.shardFor(key).Data.Load(key)
	if !ok || entry.Expired(maple.now()) {
		return docdb.Entry{}, false
	}
	entry.Fields = docdb.CloneFields(entry.Fields)
	return entry, true
}

func (maple *mapleImpl) Range(designDoc, view, startKey string, limit int) ([]docdb.Row, []string, error) {
	v, ok := maple.viewMap()[docdb.ViewID(designDoc, view)]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", docdb.ErrViewNotFound, docdb.ViewID(designDoc, view))
	}
	if limit <= 0 {
		return nil, nil, nil
	}

	now := maple.now()
	var rows []docdb.Row
	v.Ascend(startKey, func(item internal.ViewItem) bool {
		if len(rows) >= limit {
			return false
		}
		entry, ok := maple.shardFor(item.ID).Data.Load(item.ID)
		if !ok || entry.Expired(now) {
			return true
		}
		// skip index items a concurrent write has not moved yet
		if key, ok := v.Def.Emit.KeyFor(item.ID, entry.Fields); !ok || key != item.Key {
			return true
		}
		rows = append(rows, docdb.Row{Key: item.Key, ID: item.ID, Fields: docdb.CloneFields(entry.Fields)})
		return true
	})
	return rows, nil, nil
}

// --------------------------------------------------------------------------
// Interface Methods - Views (docu see docdb.DocDB)
// --------------------------------------------------------------------------

func (maple *mapleImpl) DefineView(def docdb.ViewDefinition) error {
	if err := def.Emit.Validate(); err != nil {
		return err
	}

	maple.defineMu.Lock()
	defer maple.defineMu.Unlock()

	current := maple.viewMap()
	if existing, ok := current[def.ID()]; ok {
		if existing.Def.Emit != def.Emit {
			return fmt.Errorf("%w: %s", docdb.ErrViewConflict, existing.Def)
		}
		return nil
	}

	// publish the view first, from now on all writes keep it up to date
	view := internal.NewView(def)
	next := make(map[string]*internal.View, len(current)+1)
	for id, v := range current {
		next[id] = v
	}
	next[def.ID()] = view
	maple.views.Store(&next)

	// backfill existing documents, each one inside its own bucket lock
	for _, shard := range maple.shards {
		var keys []string
		shard.Data.Range(func(key string, _ docdb.Entry) bool {
			keys = append(keys, key)
			return true
		})
		for _, key := range keys {
			shard.Data.Compute(key, func(old docdb.Entry, loaded bool) (docdb.Entry, bool) {
				if loaded {
					view.Reindex(key, nil, old.Fields)
				}
				return old, !loaded
			})
		}
	}
	return nil
}

func (maple *mapleImpl) View(designDoc, view string) (docdb.ViewDefinition, bool) {
	v, ok := maple.viewMap()[docdb.ViewID(designDoc, view)]
	if !ok {
		return docdb.ViewDefinition{}, false
	}
	return v.Def, true
}

// --------------------------------------------------------------------------
// Garbage Collection
// --------------------------------------------------------------------------

func (maple *mapleImpl) startGC() {
	maple.gcMu.Lock()
	defer maple.gcMu.Unlock()
	if maple.gcStop != nil || maple.gcInterval < 0 {
		return
	}
	maple.gcStop = make(chan struct{})
	maple.gcDone = make(chan struct{})
	go maple.garbageCollector(maple.gcStop, maple.gcDone)
}

func (maple *mapleImpl) stopGC() {
	maple.gcMu.Lock()
	defer maple.gcMu.Unlock()
	if maple.gcStop == nil {
		return
	}
	close(maple.gcStop)
	<-maple.gcDone
	maple.gcStop, maple.gcDone = nil, nil
}

func (maple *mapleImpl) garbageCollector(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(maple.gcInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			maple.PurgeExpired(maple.now())
		}
	}
}

func (maple *mapleImpl) PurgeExpired(now int64) int {
	removed := 0
	for _, shard := range maple.shards {
		var expired []string
		shard.Data.Range(func(key string, entry docdb.Entry) bool {
			if entry.Expired(now) {
				expired = append(expired, key)
			}
			return true
		})
		for _, key := range expired {
			maple.update(key, now, func(old docdb.Entry, exists bool) (docdb.Entry, action) {
				if exists {
					// rewritten since the scan
					return old, keep
				}
				removed++
				return old, remove
			})
		}
	}
	return removed
}

// --------------------------------------------------------------------------
// Interface Methods - Persistence (docu see docdb.DocDB)
// --------------------------------------------------------------------------

// Save writes a snapshot of all documents and all view definitions.
// Expired documents are kept until they are purged, so that a restored
// replica makes the same expiry decisions as the one that saved it.
// Writes may run concurrently, the snapshot is fuzzy per document.
func (maple *mapleImpl) Save(w io.Writer) error {
	type docToSave struct {
		key   string
		entry docdb.Entry
	}
	var docs []docToSave
	for _, shard := range maple.shards {
		shard.Data.Range(func(key string, entry docdb.Entry) bool {
			docs = append(docs, docToSave{key, entry})
			return true
		})
	}

	defs := make([]docdb.ViewDefinition, 0)
	for _, v := range maple.viewMap() {
		defs = append(defs, v.Def)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].ID() < defs[j].ID() })

	bw := bufio.NewWriter(w)
	if _, err := bw.WriteString(magicNum); err != nil {
		return fmt.Errorf("failed to write magic number: %w", err)
	}
	if err := binary.Write(bw, binary.LittleEndian, uint8(mapleVersion)); err != nil {
		return fmt.Errorf("failed to write version: %w", err)
	}

	if err := binary.Write(bw, binary.LittleEndian, uint32(len(defs))); err != nil {
		return fmt.Errorf("failed to write view count: %w", err)
	}
	for _, def := range defs {
		for _, s := range []string{def.DesignDoc, def.View, string(def.Emit)} {
			if err := writeString(bw, s); err != nil {
				return fmt.Errorf("failed to write view %s: %w", def.ID(), err)
			}
		}
	}

	if err := binary.Write(bw, binary.LittleEndian, uint64(len(docs))); err != nil {
		return fmt.Errorf("failed to write document count: %w", err)
	}
	for _, doc := range docs {
		if err := writeDoc(bw, doc.key, doc.entry); err != nil {
			return fmt.Errorf("failed to write document %q: %w", doc.key, err)
		}
	}

	return bw.Flush()
}

// Load replaces the state of the database with a snapshot written by Save.
// Load must not run concurrently with any other operation.
func (maple *mapleImpl) Load(r io.Reader) error {
	maple.stopGC()
	defer maple.startGC()

	br := bufio.NewReader(r)

	magicBytes := make([]byte, len(magicNum))
	if _, err := io.ReadFull(br, magicBytes); err != nil {
		return fmt.Errorf("failed to read magic number: %w", err)
	}
	if string(magicBytes) != magicNum {
		return fmt.Errorf("invalid file format: magic number mismatch")
	}
	var version uint8
	if err := binary.Read(br, binary.LittleEndian, &version); err != nil {
		return fmt.Errorf("failed to read version: %w", err)
	}
	if version != mapleVersion {
		return fmt.Errorf("unsupported snapshot version: %d", version)
	}

	var viewCount uint32
	if err := binary.Read(br, binary.LittleEndian, &viewCount); err != nil {
		return fmt.Errorf("failed to read view count: %w", err)
	}
	views := make(map[string]*internal.View, viewCount)
	for i := uint32(0); i < viewCount; i++ {
		var parts [3]string
		for j := range parts {
			s, err := readString(br)
			if err != nil {
				return fmt.Errorf("failed to read view: %w", err)
			}
			parts[j] = s
		}
		def := docdb.ViewDefinition{DesignDoc: parts[0], View: parts[1], Emit: docdb.Emit(parts[2])}
		views[def.ID()] = internal.NewView(def)
	}

	var docCount uint64
	if err := binary.Read(br, binary.LittleEndian, &docCount); err != nil {
		return fmt.Errorf("failed to read document count: %w", err)
	}
	shards := newShards(len(maple.shards))
	for i := uint64(0); i < docCount; i++ {
		key, entry, err := readDoc(br)
		if err != nil {
			return fmt.Errorf("failed to read document: %w", err)
		}
		internal.GetShard(util.HashString(key, maple.seed), shards).Data.Store(key, entry)
		for _, v := range views {
			v.Reindex(key, nil, entry.Fields)
		}
	}

	maple.defineMu.Lock()
	maple.shards = shards
	maple.views.Store(&views)
	maple.defineMu.Unlock()
	return nil
}

func writeString(w io.Writer, s string) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

func readString(r io.Reader) (string, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

func writeDoc(w io.Writer, key string, entry docdb.Entry) error {
	if err := writeString(w, key); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, entry.Version); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, entry.ExpireAt); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(entry.Fields))); err != nil {
		return err
	}
	for k, v := range entry.Fields {
		if err := writeString(w, k); err != nil {
			return err
		}
		if err := writeString(w, v); err != nil {
			return err
		}
	}
	return nil
}

func readDoc(r io.Reader) (string, docdb.Entry, error) {
	var entry docdb.Entry
	key, err := readString(r)
	if err != nil {
		return "", entry, err
	}
	if err := binary.Read(r, binary.LittleEndian, &entry.Version); err != nil {
		return "", entry, err
	}
	if err := binary.Read(r, binary.LittleEndian, &entry.ExpireAt); err != nil {
		return "", entry, err
	}
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", entry, err
	}
	entry.Fields = make(map[string]string, n)
	for i := uint32(0); i < n; i++ {
		k, err := readString(r)
		if err != nil {
			return "", entry, err
		}
		v, err := readString(r)
		if err != nil {
			return "", entry, err
		}
		entry.Fields[k] = v
	}
	return key, entry, nil
}

// --------------------------------------------------------------------------
// Interface Methods - Features and Metadata (docu see docdb.DocDB)
// --------------------------------------------------------------------------

// Metadata is the engine specific part of docdb.DatabaseInfo
type Metadata struct {
	ShardCount        int                    `json:"shard_count"`
	ShardDistribution util.DistributionStats `json:"shard_distribution"`
	MedianDocSize     int                    `json:"median_doc_size"`
	ViewItems         map[string]int         `json:"view_items"` // number of index items per view
	Info              string                 `json:"info"`
}

func (maple *mapleImpl) GetInfo() docdb.DatabaseInfo {
	histogram := util.NewSizeHistogram()
	samplesPerShard := 100
	shardSizes := make([]float64, len(maple.shards))
	docCount := 0

	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	wg.Add(len(maple.shards))
	for i, shard := range maple.shards {
		go func(i int, s *internal.Shard) {
			defer wg.Done()
			count := 0
			s.Data.Range(func(_ string, entry docdb.Entry) bool {
				histogram.AddSample(util.FieldsSize(entry.Fields))
				count++
				return count < samplesPerShard
			})
			size := s.Data.Size()

			mu.Lock()
			defer mu.Unlock()
			shardSizes[i] = float64(size)
			docCount += size
		}(i, shard)
	}
	wg.Wait()

	viewItems := make(map[string]int)
	views := make([]string, 0)
	for id, v := range maple.viewMap() {
		views = append(views, v.Def.String())
		viewItems[id] = v.Len()
	}
	sort.Strings(views)

	entryOverhead := 16 // version and expireAt
	sizeBytes := docCount * (histogram.AverageSize() + entryOverhead)

	meta := &Metadata{
		ShardCount:        len(maple.shards),
		ShardDistribution: util.NewDistributionStats(shardSizes),
		MedianDocSize:     histogram.MedianEstimate(),
		ViewItems:         viewItems,
		Info:              "SizeBytes and DocCount include expired documents the gc has not removed yet.",
	}

	return docdb.DatabaseInfo{
		SizeBytes: sizeBytes,
		DocCount:  docCount,
		DbType:    docdb.ImplMaple,
		SupportedFeatures: []docdb.Feature{
			docdb.FeatureUpsert, docdb.FeatureAdd, docdb.FeatureCAS,
			docdb.FeatureGet, docdb.FeatureDelete, docdb.FeatureRange,
			docdb.FeatureExpiry, docdb.FeatureSave, docdb.FeatureLoad,
		},
		Views:    views,
		Metadata: meta,
	}
}

func (maple *mapleImpl) SupportsFeature(feature docdb.Feature) bool {
	supportedFeatures := docdb.FeatureUpsert |
		docdb.FeatureAdd |
		docdb.FeatureCAS |
		docdb.FeatureGet |
		docdb.FeatureDelete |
		docdb.FeatureRange |
		docdb.FeatureExpiry |
		docdb.FeatureSave |
		docdb.FeatureLoad
	return supportedFeatures&feature == feature
}

// Close stops the garbage collector
func (maple *mapleImpl) Close() error {
	maple.stopGC()
	return nil
}
