package internal

import (
	"sync"

	"github.com/ValentinKolb/dDoc/lib/docdb"
	"github.com/google/btree"
	"github.com/puzpuzpuz/xsync/v3"
)

// --------------------------------------------------------------------------
// Shard Type (partition of the database)
// --------------------------------------------------------------------------

// Shard represents a partition of the documents.
// All writes to a document go through Data.Compute which locks the bucket of the key,
// this is what makes CompareAndSwap atomic.
type Shard struct {
	Data *xsync.MapOf[string, docdb.Entry]
}

// NewShard creates a new empty shard
func NewShard() *Shard {
	return &Shard{
		Data: xsync.NewMapOf[string, docdb.Entry](),
	}
}

// GetShard returns the appropriate shard for a given key hash
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func GetShard[T any](hash uint64, shards []*T) *T {
	// Shift right by 7 bits to use higher-quality bits for distribution
	return shards[(hash>>7)%uint64(len(shards))]
}

// --------------------------------------------------------------------------
// View Index
// --------------------------------------------------------------------------

// ViewItem is a single entry of a view index
type ViewItem struct {
	Key string // emitted key
	ID  string // document id
}

func lessViewItem(a, b ViewItem) bool {
	if a.Key != b.Key {
		return a.Key < b.Key
	}
	return a.ID < b.ID
}

// View is an ordered index over the keys a view emits.
type View struct {
	Def docdb.ViewDefinition

	mu   sync.RWMutex
	tree *btree.BTreeG[ViewItem]
}

// NewView creates an empty view index
func NewView(def docdb.ViewDefinition) *View {
	return &View{
		Def:  def,
		tree: btree.NewG[ViewItem](32, lessViewItem),
	}
}

// Reindex moves a document inside the index. oldFields / newFields are nil if the
// document did not exist before / does not exist after the write.
//
// Thread-safety: callers must serialize Reindex calls per document id
// (the engine calls it from inside Data.Compute).
func (v *View) Reindex(id string, oldFields, newFields map[string]string) {
	oldKey, hadOld := "", false
	if oldFields != nil {
		oldKey, hadOld = v.Def.Emit.KeyFor(id, oldFields)
	}
	newKey, hasNew := "", false
	if newFields != nil {
		newKey, hasNew = v.Def.Emit.KeyFor(id, newFields)
	}
	if hadOld && hasNew && oldKey == newKey {
		return
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if hadOld {
		v.tree.Delete(ViewItem{Key: oldKey, ID: id})
	}
	if hasNew {
		v.tree.ReplaceOrInsert(ViewItem{Key: newKey, ID: id})
	}
}

// Ascend calls fn for every item with Key >= startKey in index order until fn returns false.
func (v *View) Ascend(startKey string, fn func(item ViewItem) bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	v.tree.AscendGreaterOrEqual(ViewItem{Key: startKey}, fn)
}

// Len returns the number of indexed documents
func (v *View) Len() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.tree.Len()
}
