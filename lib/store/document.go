package store

import (
	"fmt"
	"strings"
)

// --------------------------------------------------------------------------
// Keys
// --------------------------------------------------------------------------

// KeySeparator separates the table from the record key in a qualified key.
const KeySeparator = "-"

// QualifyKey returns the store level key of a record: table + "-" + key.
// The mapping is only injective if the table name does not contain the separator,
// use ValidateTable to reject such tables before qualifying keys.
func QualifyKey(table, key string) string {
	return table + KeySeparator + key
}

// ValidateTable returns an error if the table name can not be used to build
// unambiguous qualified keys.
func ValidateTable(table string) error {
	if table == "" {
		return NewError(RetCInvalidOperation, "table name must not be empty")
	}
	if strings.Contains(table, KeySeparator) {
		return Errorf(RetCInvalidOperation, "table name %q must not contain %q", table, KeySeparator)
	}
	return nil
}

// --------------------------------------------------------------------------
// Documents
// --------------------------------------------------------------------------

// Version is the opaque token the store assigns to a document on every successful write.
// Versions are only ever compared for equality. The zero value means "no version".
type Version uint64

// Fields is the content of a document, a mapping from field name to field value.
type Fields map[string]string

// Clone returns a copy of the fields. The copy of a nil map is an empty map.
func (f Fields) Clone() Fields {
	c := make(Fields, len(f))
	for k, v := range f {
		c[k] = v
	}
	return c
}

// Document is a document as read from the store.
type Document struct {
	Fields  Fields
	Version Version
}

// --------------------------------------------------------------------------
// Durability
// --------------------------------------------------------------------------

// Durability describes how many nodes must have persisted (PersistTo) or replicated
// (ReplicateTo) a write before it is acknowledged. The zero value means no requirement.
type Durability struct {
	PersistTo   int
	ReplicateTo int
}

// IsZero reports whether no durability requirement is set.
func (d Durability) IsZero() bool {
	return d.PersistTo == 0 && d.ReplicateTo == 0
}

func (d Durability) String() string {
	return fmt.Sprintf("persistTo=%d replicateTo=%d", d.PersistTo, d.ReplicateTo)
}

// ParseDurability converts the configured persistTo and replicateTo names into a Durability.
// Both sides are parsed independently: an empty value means zero for that side only.
//
// Accepted values for persistTo: NONE, ZERO, MASTER, ONE, TWO, THREE, FOUR (or a number).
// Accepted values for replicateTo: NONE, ZERO, ONE, TWO, THREE (or a number).
func ParseDurability(persistTo, replicateTo string) (Durability, error) {
	p, err := parseDurabilityLevel(persistTo, 4)
	if err != nil {
		return Durability{}, fmt.Errorf("invalid persistTo: %w", err)
	}
	r, err := parseDurabilityLevel(replicateTo, 3)
	if err != nil {
		return Durability{}, fmt.Errorf("invalid replicateTo: %w", err)
	}
	return Durability{PersistTo: p, ReplicateTo: r}, nil
}

func parseDurabilityLevel(s string, max int) (int, error) {
	var n int
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "NONE", "ZERO", "0":
		return 0, nil
	case "MASTER", "ONE", "1":
		n = 1
	case "TWO", "2":
		n = 2
	case "THREE", "3":
		n = 3
	case "FOUR", "4":
		n = 4
	default:
		return 0, fmt.Errorf("unknown durability level %q", s)
	}
	if n > max {
		return 0, fmt.Errorf("durability level %q exceeds maximum %d", s, max)
	}
	return n, nil
}

// Capacity is the best durability a store can provide.
type Capacity struct {
	PersistNodes int
	ReplicaNodes int
}

// Check returns a RetCDurabilityImpossible error if d asks for more than the capacity.
func (c Capacity) Check(d Durability) error {
	if d.PersistTo > c.PersistNodes {
		return Errorf(RetCDurabilityImpossible, "persistTo=%d but only %d node(s) persist writes", d.PersistTo, c.PersistNodes)
	}
	if d.ReplicateTo > c.ReplicaNodes {
		return Errorf(RetCDurabilityImpossible, "replicateTo=%d but only %d replica(s) available", d.ReplicateTo, c.ReplicaNodes)
	}
	return nil
}

// --------------------------------------------------------------------------
// Views
// --------------------------------------------------------------------------

// ViewID identifies a view by design document and view name.
type ViewID struct {
	DesignDoc string
	View      string
}

func (id ViewID) String() string {
	return id.DesignDoc + "/" + id.View
}

// ViewHandle is the resolved metadata of a view as returned by IDocStore.ResolveView.
type ViewHandle struct {
	ID   ViewID
	Emit string // What the view emits as its key (see docdb.Emit)
}

// Row is a single result row of a range query.
type Row struct {
	Key    string // The view key
	ID     string // The (qualified) document key
	Fields Fields // The document content
}

// Page is the result of a range query. Errors contains index level errors;
// a page with errors must not be treated as a (partial) result.
type Page struct {
	Rows   []Row
	Errors []string
}
