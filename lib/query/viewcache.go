package query

import (
	"github.com/ValentinKolb/dDoc/lib/store"
	"github.com/puzpuzpuz/xsync/v3"
)

// IViewResolver resolves view metadata, store.IDocStore implements it.
type IViewResolver interface {
	ResolveView(id store.ViewID) (view *store.ViewHandle, err error)
}

// ViewCache memoizes resolved view handles. Every view id is resolved at most once
// successfully, concurrent first accesses to the same id share one resolution.
// Failed resolutions are not cached. There is no eviction, the cache is bounded by
// the number of distinct view ids ever requested.
//
// Thread-safe: all methods are safe for concurrent use
type ViewCache struct {
	resolver IViewResolver
	views    *xsync.MapOf[store.ViewID, *store.ViewHandle]
}

// NewViewCache creates an empty cache in front of the given resolver
func NewViewCache(resolver IViewResolver) *ViewCache {
	return &ViewCache{
		resolver: resolver,
		views:    xsync.NewMapOf[store.ViewID, *store.ViewHandle](),
	}
}

// Get returns the cached handle for id or resolves and caches it.
func (c *ViewCache) Get(id store.ViewID) (*store.ViewHandle, error) {
	if view, ok := c.views.Load(id); ok {
		return view, nil
	}

	var resolveErr error
	view, _ := c.views.Compute(id, func(cached *store.ViewHandle, loaded bool) (*store.ViewHandle, bool) {
		if loaded {
			return cached, false
		}
		resolved, err := c.resolver.ResolveView(id)
		if err != nil {
			resolveErr = err
			return nil, true
		}
		return resolved, false
	})
	if resolveErr != nil {
		return nil, resolveErr
	}
	return view, nil
}

// Len returns the number of cached handles
func (c *ViewCache) Len() int {
	return c.views.Size()
}
