package query

import (
	"math/rand/v2"
	"strconv"
	"strings"

	"github.com/ValentinKolb/dDoc/lib/store"
	"github.com/lni/dragonboat/v4/logger"
)

var log = logger.GetLogger("query")

// Pager runs range queries against a pool of views.
//
// Thread-safe: a Pager holds no per call state and can be used by many workers.
type Pager struct {
	store store.IDocStore
	cache *ViewCache
	ddocs []string
	views []string
	pick  func(n int) int
}

// PagerOption configures a Pager
type PagerOption func(*Pager)

// WithPicker replaces the uniform random choice of design documents and views.
// pick(n) must return a value in [0, n).
func WithPicker(pick func(n int) int) PagerOption {
	return func(p *Pager) {
		p.pick = pick
	}
}

// WithViewCache lets several pagers share one cache
func WithViewCache(cache *ViewCache) PagerOption {
	return func(p *Pager) {
		p.cache = cache
	}
}

// NewPager creates a pager over the combinations of the given design documents and view names.
// The pools may be empty, then only QueryView can be used.
func NewPager(s store.IDocStore, ddocs, views []string, opts ...PagerOption) *Pager {
	p := &Pager{
		store: s,
		ddocs: ddocs,
		views: views,
		pick:  rand.IntN,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.cache == nil {
		p.cache = NewViewCache(s)
	}
	return p
}

// Cache returns the view cache of the pager
func (p *Pager) Cache() *ViewCache {
	return p.cache
}

// Offset returns the index of the (ddoc, view) combination, which is also the
// number of the field the view emits.
func (p *Pager) Offset(ddocIdx, viewIdx int) int {
	return ddocIdx*len(p.views) + viewIdx
}

// DeriveStartKey builds the start key for the view with the given offset from a record key:
// "field<offset>" followed by the 8 characters of seed starting at 4+offset. Seeds that
// are too short yield the bare "field<offset>".
func DeriveStartKey(seed string, offset int) string {
	prefix := "field" + strconv.Itoa(offset)
	chars := []rune(seed)
	if offset < 0 || len(chars) < 12+offset {
		return prefix
	}
	return prefix + string(chars[4+offset:12+offset])
}

// Query picks a random view of the pool, derives the start key from seed and returns
// up to limit rows of that view.
func (p *Pager) Query(seed string, limit int) (store.Page, error) {
	if len(p.ddocs) == 0 || len(p.views) == 0 {
		return store.Page{}, store.NewError(store.RetCInvalidOperation, "no design documents or views configured")
	}
	ddocIdx := p.pick(len(p.ddocs))
	viewIdx := p.pick(len(p.views))
	id := store.ViewID{DesignDoc: p.ddocs[ddocIdx], View: p.views[viewIdx]}
	return p.QueryView(id, DeriveStartKey(seed, p.Offset(ddocIdx, viewIdx)), limit)
}

// QueryView returns up to limit rows of the given view starting at startKey.
// A limit of 0 returns an empty page, a negative limit is a RetCInvalidOperation error.
// A page with index level errors is returned as a RetCQueryFailed error without rows.
func (p *Pager) QueryView(id store.ViewID, startKey string, limit int) (store.Page, error) {
	if limit < 0 {
		return store.Page{}, store.Errorf(store.RetCInvalidOperation, "invalid limit %d", limit)
	}
	view, err := p.cache.Get(id)
	if err != nil {
		return store.Page{}, err
	}
	if limit == 0 {
		return store.Page{}, nil
	}

	page, err := p.store.RangeQuery(view, startKey, limit)
	if err != nil {
		return store.Page{}, err
	}
	if len(page.Errors) > 0 {
		log.Debugf("query on %s from %q returned %d errors", id, startKey, len(page.Errors))
		return store.Page{}, store.Errorf(store.RetCQueryFailed, "view %s: %s", id, strings.Join(page.Errors, "; "))
	}
	return page, nil
}
