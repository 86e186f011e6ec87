// Package query implements the view based range query path of the benchmark client.
//
// A Pager owns a pool of (design document, view) combinations. Query chooses one
// combination uniformly at random, derives a field prefixed start key from a record
// key (DeriveStartKey) and fetches one page; QueryView queries a view chosen by the
// caller. View handles are resolved once and then served from a ViewCache.
//
// A page that carries index level errors is reported as store.RetCQueryFailed, the
// caller never sees partial results.
package query
