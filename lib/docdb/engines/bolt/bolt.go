package bolt

import (
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/ValentinKolb/dDoc/lib/docdb"
	"github.com/ValentinKolb/dDoc/lib/docdb/util"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/vmihailenco/msgpack/v5"
	"go.etcd.io/bbolt"
)

var log = logger.GetLogger("docdb")

// --------------------------------------------------------------------------
// Constants
// --------------------------------------------------------------------------

const (
	magicNum          = "DDOCBOLT"
	boltVersion       = 1
	defaultGCInterval = time.Second
	viewKeySeparator  = 0x00
)

var (
	docsBucket  = []byte("docs")
	viewsBucket = []byte("views") // view definitions
)

func viewBucketName(id string) []byte {
	return []byte("view:" + id)
}

// --------------------------------------------------------------------------
// Stored formats
// --------------------------------------------------------------------------

type storedEntry struct {
	Fields   map[string]string `msgpack:"f"`
	Version  uint64            `msgpack:"v"`
	ExpireAt int64             `msgpack:"e,omitempty"`
}

type storedView struct {
	DesignDoc string `msgpack:"d"`
	View      string `msgpack:"v"`
	Emit      string `msgpack:"e"`
}

func encodeEntry(e docdb.Entry) ([]byte, error) {
	return msgpack.Marshal(storedEntry{Fields: e.Fields, Version: e.Version, ExpireAt: e.ExpireAt})
}

func decodeEntry(raw []byte) (docdb.Entry, error) {
	var s storedEntry
	if err := msgpack.Unmarshal(raw, &s); err != nil {
		return docdb.Entry{}, err
	}
	if s.Fields == nil {
		s.Fields = map[string]string{}
	}
	return docdb.Entry{Fields: s.Fields, Version: s.Version, ExpireAt: s.ExpireAt}, nil
}

// viewItemKey returns the key of a view item: emitKey + 0x00 + docID.
// Items sort by emitted key first, then by document id.
func viewItemKey(emitKey, id string) []byte {
	k := make([]byte, 0, len(emitKey)+1+len(id))
	k = append(k, emitKey...)
	k = append(k, viewKeySeparator)
	return append(k, id...)
}

// --------------------------------------------------------------------------
// Core structure
// --------------------------------------------------------------------------

// boltImpl is a persistent document database on top of a bbolt file.
type boltImpl struct {
	bdb *bbolt.DB
	now func() int64

	viewsMu sync.RWMutex
	views   map[string]docdb.ViewDefinition

	stopGC chan struct{}
	gcDone chan struct{}
	once   sync.Once
}

// Options configures the bolt engine
type Options struct {
	NoSync     bool          // Skip fsync after each commit (tests only)
	GCInterval time.Duration // Time between expiration sweeps (0 = default, < 0 = no background sweeps)
}

// Open opens (or creates) the database file at path.
func Open(path string, opts *Options) (docdb.DocDB, error) {
	if opts == nil {
		opts = &Options{}
	}
	if opts.GCInterval == 0 {
		opts.GCInterval = defaultGCInterval
	}

	bopt := *bbolt.DefaultOptions
	bopt.Timeout = 10 * time.Second
	bopt.NoSync = opts.NoSync
	bopt.FreelistType = bbolt.FreelistMapType

	bdb, err := bbolt.Open(path, 0666, &bopt)
	if err != nil {
		return nil, fmt.Errorf("bolt: %w", err)
	}

	b := &boltImpl{
		bdb:    bdb,
		now:    func() int64 { return time.Now().UnixNano() },
		views:  make(map[string]docdb.ViewDefinition),
		stopGC: make(chan struct{}),
		gcDone: make(chan struct{}),
	}

	err = bdb.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(docsBucket); err != nil {
			return err
		}
		vb, err := tx.CreateBucketIfNotExists(viewsBucket)
		if err != nil {
			return err
		}
		return vb.ForEach(func(_, raw []byte) error {
			var sv storedView
			if err := msgpack.Unmarshal(raw, &sv); err != nil {
				return err
			}
			def := docdb.ViewDefinition{DesignDoc: sv.DesignDoc, View: sv.View, Emit: docdb.Emit(sv.Emit)}
			b.views[def.ID()] = def
			return nil
		})
	})
	if err != nil {
		_ = bdb.Close()
		return nil, fmt.Errorf("bolt: failed to prepare buckets: %w", err)
	}

	if opts.GCInterval > 0 {
		go b.garbageCollector(opts.GCInterval)
	} else {
		close(b.gcDone)
	}
	return b, nil
}

func (b *boltImpl) viewList() []docdb.ViewDefinition {
	b.viewsMu.RLock()
	defer b.viewsMu.RUnlock()
	return b.viewListLocked()
}

// viewListLocked requires viewsMu to be held.
func (b *boltImpl) viewListLocked() []docdb.ViewDefinition {
	defs := make([]docdb.ViewDefinition, 0, len(b.views))
	for _, def := range b.views {
		defs = append(defs, def)
	}
	return defs
}

// reindex moves the document id in all view buckets from its old to its new emitted keys.
func reindex(tx *bbolt.Tx, views []docdb.ViewDefinition, id string, oldFields, newFields map[string]string) error {
	for _, def := range views {
		vb := tx.Bucket(viewBucketName(def.ID()))
		if vb == nil {
			return fmt.Errorf("missing bucket for view %s", def.ID())
		}
		oldKey, hadOld := "", false
		if oldFields != nil {
			oldKey, hadOld = def.Emit.KeyFor(id, oldFields)
		}
		newKey, hasNew := "", false
		if newFields != nil {
			newKey, hasNew = def.Emit.KeyFor(id, newFields)
		}
		if hadOld && hasNew && oldKey == newKey {
			continue
		}
		if hadOld {
			if err := vb.Delete(viewItemKey(oldKey, id)); err != nil {
				return err
			}
		}
		if hasNew {
			if err := vb.Put(viewItemKey(newKey, id), []byte(id)); err != nil {
				return err
			}
		}
	}
	return nil
}

// write runs fn with the current entry of key inside a write transaction.
// Entries expired at now are passed as not existing.
// fn returns the entry to store, or nil to delete the document, and whether anything changes.
// viewsMu is read locked for the whole write so that DefineView can not run in between.
func (b *boltImpl) write(key string, now int64, fn func(old docdb.Entry, exists bool) (next *docdb.Entry, changed bool)) error {
	b.viewsMu.RLock()
	defer b.viewsMu.RUnlock()

	views := b.viewListLocked()
	return b.bdb.Update(func(tx *bbolt.Tx) error {
		docs := tx.Bucket(docsBucket)

		var (
			old       docdb.Entry
			loaded    bool
			oldFields map[string]string
		)
		if raw := docs.Get([]byte(key)); raw != nil {
			e, err := decodeEntry(raw)
			if err != nil {
				return fmt.Errorf("corrupt document %q: %w", key, err)
			}
			old, loaded, oldFields = e, true, e.Fields
		}

		next, changed := fn(old, loaded && !old.Expired(now))
		if !changed {
			return nil
		}

		if next == nil {
			if !loaded {
				return nil
			}
			if err := docs.Delete([]byte(key)); err != nil {
				return err
			}
			return reindex(tx, views, key, oldFields, nil)
		}

		raw, err := encodeEntry(*next)
		if err != nil {
			return err
		}
		if err := docs.Put([]byte(key), raw); err != nil {
			return err
		}
		return reindex(tx, views, key, oldFields, next.Fields)
	})
}

// must panics on errors of the underlying file.
func must(err error) {
	if err != nil {
		panic(fmt.Errorf("bolt: %w", err))
	}
}

// --------------------------------------------------------------------------
// Interface Methods - Write Operations (docu see docdb.DocDB)
// --------------------------------------------------------------------------

func (b *boltImpl) Upsert(key string, fields map[string]string, version uint64, expireAt int64) {
	entry := docdb.Entry{Fields: docdb.CloneFields(fields), Version: version, ExpireAt: expireAt}
	must(b.write(key, 0, func(docdb.Entry, bool) (*docdb.Entry, bool) {
		return &entry, true
	}))
}

func (b *boltImpl) Add(key string, fields map[string]string, version uint64, expireAt int64, now int64) bool {
	entry := docdb.Entry{Fields: docdb.CloneFields(fields), Version: version, ExpireAt: expireAt}
	added := false
	must(b.write(key, now, func(_ docdb.Entry, exists bool) (*docdb.Entry, bool) {
		added = !exists
		return &entry, added
	}))
	return added
}

func (b *boltImpl) CompareAndSwap(key string, expected uint64, fields map[string]string, version uint64, now int64) docdb.CASResult {
	result := docdb.CASNotFound
	must(b.write(key, now, func(old docdb.Entry, exists bool) (*docdb.Entry, bool) {
		switch {
		case !exists:
			result = docdb.CASNotFound
			return nil, false
		case old.Version != expected:
			result = docdb.CASMismatch
			return nil, false
		}
		result = docdb.CASCommitted
		return &docdb.Entry{Fields: docdb.CloneFields(fields), Version: version, ExpireAt: old.ExpireAt}, true
	}))
	return result
}

func (b *boltImpl) Delete(key string, now int64) bool {
	deleted := false
	must(b.write(key, now, func(_ docdb.Entry, exists bool) (*docdb.Entry, bool) {
		deleted = exists
		return nil, true
	}))
	return deleted
}

// --------------------------------------------------------------------------
// Interface Methods - Query Operations (docu see docdb.DocDB)
// --------------------------------------------------------------------------

func (b *boltImpl) Get(key string) (docdb.Entry, bool) {
	var (
		entry docdb.Entry
		found bool
	)
	now := b.now()
	_ = b.bdb.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(docsBucket).Get([]byte(key))
		if raw == nil {
			return nil
		}
		e, err := decodeEntry(raw)
		if err != nil || e.Expired(now) {
			return nil
		}
		entry, found = e, true
		return nil
	})
	return entry, found
}

func (b *boltImpl) Range(designDoc, view, startKey string, limit int) ([]docdb.Row, []string, error) {
	id := docdb.ViewID(designDoc, view)
	b.viewsMu.RLock()
	_, ok := b.views[id]
	b.viewsMu.RUnlock()
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", docdb.ErrViewNotFound, id)
	}
	if limit <= 0 {
		return nil, nil, nil
	}

	var (
		rows []docdb.Row
		errs []string
	)
	now := b.now()
	err := b.bdb.View(func(tx *bbolt.Tx) error {
		vb := tx.Bucket(viewBucketName(id))
		if vb == nil {
			return fmt.Errorf("missing bucket for view %s", id)
		}
		docs := tx.Bucket(docsBucket)

		c := vb.Cursor()
		for k, v := c.Seek([]byte(startKey)); k != nil; k, v = c.Next() {
			if len(rows) >= limit {
				break
			}
			docID := string(v)
			emitKey := string(k[:len(k)-len(v)-1])

			raw := docs.Get(v)
			if raw == nil {
				errs = append(errs, fmt.Sprintf("view %s: document %q is indexed but missing", id, docID))
				continue
			}
			entry, err := decodeEntry(raw)
			if err != nil {
				errs = append(errs, fmt.Sprintf("view %s: document %q: %v", id, docID, err))
				continue
			}
			if entry.Expired(now) {
				continue
			}
			rows = append(rows, docdb.Row{Key: emitKey, ID: docID, Fields: entry.Fields})
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return rows, errs, nil
}

// --------------------------------------------------------------------------
// Interface Methods - Views (docu see docdb.DocDB)
// --------------------------------------------------------------------------

func (b *boltImpl) DefineView(def docdb.ViewDefinition) error {
	if err := def.Emit.Validate(); err != nil {
		return err
	}

	b.viewsMu.Lock()
	defer b.viewsMu.Unlock()

	if existing, ok := b.views[def.ID()]; ok {
		if existing.Emit != def.Emit {
			return fmt.Errorf("%w: %s", docdb.ErrViewConflict, existing)
		}
		return nil
	}

	err := b.bdb.Update(func(tx *bbolt.Tx) error {
		return defineViewTx(tx, def)
	})
	if err != nil {
		return fmt.Errorf("bolt: failed to define view %s: %w", def.ID(), err)
	}
	b.views[def.ID()] = def
	return nil
}

func defineViewTx(tx *bbolt.Tx, def docdb.ViewDefinition) error {
	raw, err := msgpack.Marshal(storedView{DesignDoc: def.DesignDoc, View: def.View, Emit: string(def.Emit)})
	if err != nil {
		return err
	}
	if err := tx.Bucket(viewsBucket).Put([]byte(def.ID()), raw); err != nil {
		return err
	}
	if _, err := tx.CreateBucketIfNotExists(viewBucketName(def.ID())); err != nil {
		return err
	}
	views := []docdb.ViewDefinition{def}
	return tx.Bucket(docsBucket).ForEach(func(k, raw []byte) error {
		entry, err := decodeEntry(raw)
		if err != nil {
			return err
		}
		return reindex(tx, views, string(k), nil, entry.Fields)
	})
}

func (b *boltImpl) View(designDoc, view string) (docdb.ViewDefinition, bool) {
	b.viewsMu.RLock()
	defer b.viewsMu.RUnlock()
	def, ok := b.views[docdb.ViewID(designDoc, view)]
	return def, ok
}

// --------------------------------------------------------------------------
// Garbage Collection
// --------------------------------------------------------------------------

func (b *boltImpl) garbageCollector(interval time.Duration) {
	defer close(b.gcDone)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-b.stopGC:
			return
		case <-ticker.C:
			if _, err := b.purge(b.now()); err != nil {
				log.Warningf("bolt: expiration sweep failed: %v", err)
			}
		}
	}
}

func (b *boltImpl) PurgeExpired(now int64) int {
	removed, err := b.purge(now)
	must(err)
	return removed
}

// purge removes documents expired at now together with their view items.
func (b *boltImpl) purge(now int64) (int, error) {
	b.viewsMu.RLock()
	defer b.viewsMu.RUnlock()

	removed := 0
	views := b.viewListLocked()
	err := b.bdb.Update(func(tx *bbolt.Tx) error {
		docs := tx.Bucket(docsBucket)
		type expiredDoc struct {
			key    []byte
			fields map[string]string
		}
		var expired []expiredDoc
		err := docs.ForEach(func(k, raw []byte) error {
			entry, err := decodeEntry(raw)
			if err == nil && entry.Expired(now) {
				expired = append(expired, expiredDoc{append([]byte(nil), k...), entry.Fields})
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, doc := range expired {
			if err := docs.Delete(doc.key); err != nil {
				return err
			}
			if err := reindex(tx, views, string(doc.key), doc.fields, nil); err != nil {
				return err
			}
		}
		removed = len(expired)
		return nil
	})
	return removed, err
}

// --------------------------------------------------------------------------
// Interface Methods - Persistence (docu see docdb.DocDB)
// --------------------------------------------------------------------------

// Save writes a msgpack stream: magic, version, view definitions, document count, documents.
// The snapshot is taken inside one read transaction and includes expired documents
// that are not purged yet.
func (b *boltImpl) Save(w io.Writer) error {
	defs := b.viewList()
	sort.Slice(defs, func(i, j int) bool { return defs[i].ID() < defs[j].ID() })

	return b.bdb.View(func(tx *bbolt.Tx) error {
		docs := tx.Bucket(docsBucket)

		var count int
		err := docs.ForEach(func(_, raw []byte) error {
			if _, err := decodeEntry(raw); err == nil {
				count++
			}
			return nil
		})
		if err != nil {
			return err
		}

		enc := msgpack.NewEncoder(w)
		if err := enc.EncodeString(magicNum); err != nil {
			return fmt.Errorf("failed to write magic number: %w", err)
		}
		if err := enc.EncodeUint8(boltVersion); err != nil {
			return fmt.Errorf("failed to write version: %w", err)
		}
		views := make([]storedView, len(defs))
		for i, def := range defs {
			views[i] = storedView{DesignDoc: def.DesignDoc, View: def.View, Emit: string(def.Emit)}
		}
		if err := enc.Encode(views); err != nil {
			return fmt.Errorf("failed to write views: %w", err)
		}
		if err := enc.EncodeInt(int64(count)); err != nil {
			return fmt.Errorf("failed to write document count: %w", err)
		}

		return docs.ForEach(func(k, raw []byte) error {
			entry, err := decodeEntry(raw)
			if err != nil {
				return nil
			}
			if err := enc.EncodeString(string(k)); err != nil {
				return err
			}
			return enc.Encode(storedEntry{Fields: entry.Fields, Version: entry.Version, ExpireAt: entry.ExpireAt})
		})
	})
}

// Load replaces all documents and views with the snapshot read from r.
func (b *boltImpl) Load(r io.Reader) error {
	dec := msgpack.NewDecoder(r)

	magic, err := dec.DecodeString()
	if err != nil {
		return fmt.Errorf("failed to read magic number: %w", err)
	}
	if magic != magicNum {
		return fmt.Errorf("invalid file format: magic number mismatch")
	}
	version, err := dec.DecodeUint8()
	if err != nil {
		return fmt.Errorf("failed to read version: %w", err)
	}
	if version != boltVersion {
		return fmt.Errorf("unsupported snapshot version: %d", version)
	}
	var views []storedView
	if err := dec.Decode(&views); err != nil {
		return fmt.Errorf("failed to read views: %w", err)
	}
	count, err := dec.DecodeInt()
	if err != nil {
		return fmt.Errorf("failed to read document count: %w", err)
	}

	b.viewsMu.Lock()
	defer b.viewsMu.Unlock()

	defs := make(map[string]docdb.ViewDefinition, len(views))
	err = b.bdb.Update(func(tx *bbolt.Tx) error {
		// drop everything
		var names [][]byte
		if err := tx.ForEach(func(name []byte, _ *bbolt.Bucket) error {
			names = append(names, append([]byte(nil), name...))
			return nil
		}); err != nil {
			return err
		}
		for _, name := range names {
			if err := tx.DeleteBucket(name); err != nil {
				return err
			}
		}
		docs, err := tx.CreateBucket(docsBucket)
		if err != nil {
			return err
		}
		if _, err := tx.CreateBucket(viewsBucket); err != nil {
			return err
		}

		for i := 0; i < count; i++ {
			key, err := dec.DecodeString()
			if err != nil {
				return fmt.Errorf("failed to read document key: %w", err)
			}
			var s storedEntry
			if err := dec.Decode(&s); err != nil {
				return fmt.Errorf("failed to read document %q: %w", key, err)
			}
			raw, err := encodeEntry(docdb.Entry{Fields: s.Fields, Version: s.Version, ExpireAt: s.ExpireAt})
			if err != nil {
				return err
			}
			if err := docs.Put([]byte(key), raw); err != nil {
				return err
			}
		}

		for _, sv := range views {
			def := docdb.ViewDefinition{DesignDoc: sv.DesignDoc, View: sv.View, Emit: docdb.Emit(sv.Emit)}
			if err := defineViewTx(tx, def); err != nil {
				return err
			}
			defs[def.ID()] = def
		}
		return nil
	})
	if err != nil {
		return err
	}
	b.views = defs
	return nil
}

// --------------------------------------------------------------------------
// Interface Methods - Features and Metadata (docu see docdb.DocDB)
// --------------------------------------------------------------------------

// Metadata is the engine specific part of docdb.DatabaseInfo
type Metadata struct {
	Path          string `json:"path"`
	FileSize      int64  `json:"file_size"`
	MedianDocSize int    `json:"median_doc_size"`
	FreePages     int    `json:"free_pages"`
}

func (b *boltImpl) GetInfo() docdb.DatabaseInfo {
	histogram := util.NewSizeHistogram()
	info := docdb.DatabaseInfo{
		DbType: docdb.ImplBolt,
		SupportedFeatures: []docdb.Feature{
			docdb.FeatureUpsert, docdb.FeatureAdd, docdb.FeatureCAS,
			docdb.FeatureGet, docdb.FeatureDelete, docdb.FeatureRange,
			docdb.FeatureExpiry, docdb.FeatureSave, docdb.FeatureLoad,
			docdb.FeaturePersistent,
		},
	}
	meta := &Metadata{Path: b.bdb.Path(), FreePages: b.bdb.Stats().FreePageN}

	_ = b.bdb.View(func(tx *bbolt.Tx) error {
		meta.FileSize = tx.Size()
		docs := tx.Bucket(docsBucket)
		info.DocCount = docs.Stats().KeyN
		samples := 0
		c := docs.Cursor()
		for k, raw := c.First(); k != nil && samples < 1000; k, raw = c.Next() {
			histogram.AddSample(len(raw))
			samples++
		}
		return nil
	})

	for _, def := range b.viewList() {
		info.Views = append(info.Views, def.String())
	}
	sort.Strings(info.Views)

	info.SizeBytes = int(meta.FileSize)
	meta.MedianDocSize = histogram.MedianEstimate()
	info.Metadata = meta
	return info
}

func (b *boltImpl) SupportsFeature(feature docdb.Feature) bool {
	supportedFeatures := docdb.FeatureUpsert |
		docdb.FeatureAdd |
		docdb.FeatureCAS |
		docdb.FeatureGet |
		docdb.FeatureDelete |
		docdb.FeatureRange |
		docdb.FeatureExpiry |
		docdb.FeatureSave |
		docdb.FeatureLoad |
		docdb.FeaturePersistent
	return supportedFeatures&feature == feature
}

// Close stops the garbage collector and closes the file
func (b *boltImpl) Close() error {
	var err error
	b.once.Do(func() {
		close(b.stopGC)
		<-b.gcDone
		err = b.bdb.Close()
	})
	return err
}
