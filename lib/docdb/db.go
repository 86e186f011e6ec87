package docdb

import (
	"errors"
	"fmt"
	"io"
	"strings"
)

var (
	// ErrViewNotFound is returned by Range for views that are not defined.
	ErrViewNotFound = errors.New("view not found")
	// ErrViewConflict is returned by DefineView if the view exists with another emit expression.
	ErrViewConflict = errors.New("view already defined with another emit expression")
)

// --------------------------------------------------------------------------
// Helper Types
// --------------------------------------------------------------------------

type Implementation string

const (
	ImplMaple Implementation = "maple"
	ImplBolt  Implementation = "bolt"
)

// Feature represents database features as bit flags
type Feature uint64

const (
	FeatureUpsert Feature = 1 << iota // Support for Upsert operations
	FeatureAdd                        // Support for Add operations
	FeatureCAS                        // Support for CompareAndSwap operations
	FeatureGet                        // Support for Get operations
	FeatureDelete                     // Support for Delete operations
	FeatureRange                      // Support for view range queries
	FeatureExpiry                     // Support for document expiration
	FeatureSave                       // Support for Save operations
	FeatureLoad                       // Support for Load operations
	FeaturePersistent                 // Writes are persisted to disk before they return
)

func (f Feature) String() string {
	switch f {
	case FeatureUpsert:
		return "Upsert"
	case FeatureAdd:
		return "Add"
	case FeatureCAS:
		return "CompareAndSwap"
	case FeatureGet:
		return "Get"
	case FeatureDelete:
		return "Delete"
	case FeatureRange:
		return "Range"
	case FeatureExpiry:
		return "Expiry"
	case FeatureSave:
		return "Save"
	case FeatureLoad:
		return "Load"
	case FeaturePersistent:
		return "Persistent"
	default:
		return "Unknown"
	}
}

type DatabaseInfo struct {
	SizeBytes         int            `json:"size_bytes"`
	DocCount          int            `json:"doc_count"`
	DbType            Implementation `json:"db_type"`
	SupportedFeatures []Feature      `json:"supported_features"`
	Views             []string       `json:"views"`
	Metadata          interface{}    `json:"metadata"`
}

// Entry is a stored document together with its metadata.
type Entry struct {
	Fields   map[string]string
	Version  uint64 // Version assigned by the caller on the last write
	ExpireAt int64  // Unix nano timestamp after which the document is gone (0 = never)
}

// Expired reports whether the entry is expired at the given unix nano timestamp.
func (e Entry) Expired(now int64) bool {
	return e.ExpireAt != 0 && now >= e.ExpireAt
}

// CASResult is the outcome of a CompareAndSwap operation.
type CASResult uint8

const (
	CASCommitted CASResult = iota // The document was replaced
	CASMismatch                   // The document exists but has another version
	CASNotFound                   // The document does not exist
)

func (r CASResult) String() string {
	switch r {
	case CASCommitted:
		return "Committed"
	case CASMismatch:
		return "Mismatch"
	case CASNotFound:
		return "NotFound"
	default:
		return "Unknown"
	}
}

// Row is a single row of a view range query.
type Row struct {
	Key    string
	ID     string
	Fields map[string]string
}

// --------------------------------------------------------------------------
// Views
// --------------------------------------------------------------------------

// Emit describes what a view emits as the key for a document.
//
//   - "key": the document id
//   - "field:<name>": <name> followed by the value of the field, documents without the field are not indexed
type Emit string

const EmitDocKey Emit = "key"

// EmitField returns the Emit for a field view.
func EmitField(name string) Emit {
	return Emit("field:" + name)
}

// KeyFor returns the view key of a document and whether the document is part of the view.
func (e Emit) KeyFor(id string, fields map[string]string) (string, bool) {
	if e == EmitDocKey {
		return id, true
	}
	name, ok := strings.CutPrefix(string(e), "field:")
	if !ok {
		return "", false
	}
	value, ok := fields[name]
	if !ok {
		return "", false
	}
	return name + value, true
}

// Validate returns an error if the emit expression is unknown.
func (e Emit) Validate() error {
	if e == EmitDocKey {
		return nil
	}
	if name, ok := strings.CutPrefix(string(e), "field:"); ok && name != "" {
		return nil
	}
	return fmt.Errorf("invalid emit expression %q (expected %q or \"field:<name>\")", e, EmitDocKey)
}

// ViewDefinition defines a secondary index over all documents.
type ViewDefinition struct {
	DesignDoc string
	View      string
	Emit      Emit
}

// ID returns the identifier of the view, used as map key by the engines.
func (v ViewDefinition) ID() string {
	return ViewID(v.DesignDoc, v.View)
}

func (v ViewDefinition) String() string {
	return fmt.Sprintf("%s/%s=%s", v.DesignDoc, v.View, v.Emit)
}

// ViewID returns the identifier of the view with the given design document and name.
func ViewID(designDoc, view string) string {
	return designDoc + "/" + view
}

// ParseViewDefinitions parses a comma separated list of view definitions in the format
// "designDoc/view=emit" (e.g. "ycsb/usertable=key,ddoc0/view0=field:field0").
func ParseViewDefinitions(s string) ([]ViewDefinition, error) {
	var defs []ViewDefinition
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, emit, ok := strings.Cut(part, "=")
		if !ok {
			return nil, fmt.Errorf("invalid view definition %q (expected designDoc/view=emit)", part)
		}
		ddoc, view, ok := strings.Cut(name, "/")
		if !ok || ddoc == "" || view == "" {
			return nil, fmt.Errorf("invalid view name %q (expected designDoc/view)", name)
		}
		def := ViewDefinition{DesignDoc: ddoc, View: view, Emit: Emit(emit)}
		if err := def.Emit.Validate(); err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	return defs, nil
}

// YCSBViews returns the views the benchmark adapter queries:
// one view per table in designDoc emitting the document key (used by scans) and one view per
// (ddoc, view) combination emitting field<ddocIndex*len(views)+viewIndex> (used by queries).
func YCSBViews(designDoc string, tables, ddocs, views []string) []ViewDefinition {
	defs := make([]ViewDefinition, 0, len(tables)+len(ddocs)*len(views))
	for _, table := range tables {
		defs = append(defs, ViewDefinition{DesignDoc: designDoc, View: table, Emit: EmitDocKey})
	}
	for i, ddoc := range ddocs {
		for j, view := range views {
			defs = append(defs, ViewDefinition{
				DesignDoc: ddoc,
				View:      view,
				Emit:      EmitField(fmt.Sprintf("field%d", i*len(views)+j)),
			})
		}
	}
	return defs
}

// --------------------------------------------------------------------------
// Database Interface
// --------------------------------------------------------------------------

// DocDB defines an interface for document database engines.
// Engines store documents (string → string field maps) under string keys together with
// a caller supplied version and maintain the defined views.
// Implementations can vary in their feature support, which can be queried with SupportsFeature.
type DocDB interface {

	// --------------------------------------------------------------------------
	// Write Operations
	// --------------------------------------------------------------------------

	// Upsert inserts or overwrites the document with the given key.
	// The version parameter is stored with the document, expireAt is an absolute
	// unix nano timestamp (0 = never expires).
	Upsert(key string, fields map[string]string, version uint64, expireAt int64)

	// Add inserts the document only if no document with the key exists that is unexpired at now.
	// The return value indicates whether the document was inserted.
	// now is a unix nano timestamp supplied by the caller, so that replicas applying the
	// same write reach the same decision.
	Add(key string, fields map[string]string, version uint64, expireAt int64, now int64) (ok bool)

	// CompareAndSwap replaces the fields of the document only if it is unexpired at now and
	// its stored version equals expected.
	// On success the document gets the new version, the expiration is kept.
	CompareAndSwap(key string, expected uint64, fields map[string]string, version uint64, now int64) (result CASResult)

	// Delete removes the document. The return value indicates whether a document
	// that was unexpired at now was removed.
	Delete(key string, now int64) (ok bool)

	// PurgeExpired removes all documents that are expired at now and returns their number.
	PurgeExpired(now int64) (removed int)

	// --------------------------------------------------------------------------
	// Query Operations
	// --------------------------------------------------------------------------

	// Get returns a copy of the document with the given key.
	// The boolean return value indicates whether an unexpired document was found.
	Get(key string) (entry Entry, loaded bool)

	// Range returns up to limit rows of the view ordered by view key (ties ordered by document id)
	// starting at the first row with key >= startKey. A limit <= 0 returns no rows.
	// Documents that can not be read are reported in errs and skipped.
	Range(designDoc, view, startKey string, limit int) (rows []Row, errs []string, err error)

	// --------------------------------------------------------------------------
	// Views
	// --------------------------------------------------------------------------

	// DefineView creates a view and indexes all existing documents.
	// Defining an existing view with the same emit expression is a no-op.
	DefineView(def ViewDefinition) (err error)

	// View returns the definition of a view and whether it exists.
	View(designDoc, view string) (def ViewDefinition, ok bool)

	// --------------------------------------------------------------------------
	// Persistence Operations
	// --------------------------------------------------------------------------

	// Save persists the current state of the database to the provided io.Writer.
	Save(w io.Writer) (err error)

	// Load restores the database state data provided by an io.Reader.
	Load(r io.Reader) (err error)

	// --------------------------------------------------------------------------
	// Feature Support
	// --------------------------------------------------------------------------

	// SupportsFeature checks if the database implementation supports the specified feature.
	// Multiple features can be checked at once using bitwise OR (|) operator.
	SupportsFeature(feature Feature) (ok bool)

	// GetInfo returns information about the database.
	GetInfo() (info DatabaseInfo)

	// Close closes the database.
	Close() (err error)
}

// CloneFields returns a copy of a field map.
func CloneFields(fields map[string]string) map[string]string {
	c := make(map[string]string, len(fields))
	for k, v := range fields {
		c[k] = v
	}
	return c
}
