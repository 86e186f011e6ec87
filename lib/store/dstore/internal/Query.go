package internal

import "github.com/ValentinKolb/dDoc/lib/docdb"

// QueryType defines the possible queries for the state machine.
type QueryType uint8

const (
	QueryTGet       QueryType = iota // Retrieve a document by key.
	QueryTView                       // Retrieve the definition of a view.
	QueryTRange                      // Range query on a view.
	QueryTGetDBInfo                  // Retrieve metadata about the database underlying the machine.
)

func (q QueryType) String() string {
	switch q {
	case QueryTGet:
		return "Get"
	case QueryTView:
		return "View"
	case QueryTRange:
		return "Range"
	case QueryTGetDBInfo:
		return "GetDBInfo"
	default:
		return "Unknown"
	}
}

// Query defines the structure for lookup requests (read-only) sent via SyncRead or ReadStale
type Query struct {
	Type      QueryType
	Key       string // Get
	DesignDoc string // View, Range
	View      string // View, Range
	StartKey  string // Range
	Limit     int    // Range
}

// GetResult is the result of a QueryTGet operation.
type GetResult struct {
	Ok    bool
	Entry docdb.Entry
}

// ViewResult is the result of a QueryTView operation.
type ViewResult struct {
	Ok  bool
	Def docdb.ViewDefinition
}

// RangeResult is the result of a QueryTRange operation.
type RangeResult struct {
	Rows   []docdb.Row
	Errors []string
}
