package bench

import (
	"errors"
	"runtime/debug"
	"time"

	"github.com/ValentinKolb/dDoc/lib/docdb"
	"github.com/ValentinKolb/dDoc/lib/query"
	"github.com/ValentinKolb/dDoc/lib/store"
	"github.com/ValentinKolb/dDoc/lib/update"
	"github.com/lni/dragonboat/v4/logger"
)

var log = logger.GetLogger("bench")

// Status is the result of a benchmark operation
type Status int

const (
	StatusOK Status = iota
	StatusError
)

func (s Status) String() string {
	if s == StatusOK {
		return "OK"
	}
	return "ERROR"
}

// DB maps the benchmark operations onto a document store. Records of a table are
// stored as documents under store.QualifyKey(table, key).
//
// Thread-safe: one DB can serve many workers. Init must be called before the first
// operation.
type DB struct {
	config      Config
	gate        *gate
	store       store.IDocStore
	coordinator *update.Coordinator
	pager       *query.Pager
}

// NewDB creates an adapter for the given configuration
func NewDB(config Config) *DB {
	return &DB{config: config, gate: defaultGate}
}

// newDBWithDialer creates an adapter with its own bootstrap gate
func newDBWithDialer(config Config, dial Dialer) *DB {
	return &DB{config: config, gate: newGate(dial)}
}

// Init connects to the store. The connection is shared by all DBs of the process
// with the same hosts, bucket and user.
func (db *DB) Init() error {
	if err := db.config.Validate(); err != nil {
		return err
	}
	s, err := db.gate.connect(db.config)
	if err != nil {
		return err
	}

	policy := update.PolicyMerge
	if db.config.WriteAllFields {
		policy = update.PolicyReplace
	}

	db.store = s
	db.coordinator = update.NewCoordinator(s, &update.Options{
		Policy:      policy,
		Durability:  db.config.Durability,
		MaxAttempts: db.config.MaxUpdateAttempts,
	})
	db.pager = query.NewPager(s, db.config.DDocs, db.config.Views)
	log.Debugf("initialized adapter for bucket %s (%s)", db.config.Bucket, db.config.Durability)
	return nil
}

// Cleanup releases the resources of this DB. The shared store connection stays open.
func (db *DB) Cleanup() error {
	return nil
}

// Store returns the store the adapter works on
func (db *DB) Store() store.IDocStore {
	return db.store
}

// Info returns information about the database behind the store of the bucket.
func (db *DB) Info() (docdb.DatabaseInfo, error) {
	provider, ok := db.store.(store.IInfoProvider)
	if !ok {
		return docdb.DatabaseInfo{}, store.NewError(store.RetCUnsupportedOperation, "store does not report database info")
	}
	return provider.GetDBInfo()
}

// --------------------------------------------------------------------------
// Benchmark Operations
// --------------------------------------------------------------------------

// Read reads a record. With a non-empty field list only these fields are copied into
// result, fields the record does not have are skipped.
func (db *DB) Read(table, key string, fields []string, result map[string]string) (status Status) {
	defer db.finish(OpRead, key, time.Now(), &status)
	qk, err := qualify(table, key)
	if err != nil {
		return db.fail(OpRead, qk, err)
	}

	doc, found, err := db.store.Get(qk)
	if err != nil {
		return db.fail(OpRead, qk, err)
	}
	if !found {
		return db.fail(OpRead, qk, store.ErrNotFound)
	}
	project(doc.Fields, fields, result)
	return StatusOK
}

// Update changes the given fields of an existing record (or replaces all fields with
// writeallfields). Conflicting concurrent writes are retried.
func (db *DB) Update(table, key string, values map[string]string) (status Status) {
	defer db.finish(OpUpdate, key, time.Now(), &status)
	qk, err := qualify(table, key)
	if err != nil {
		return db.fail(OpUpdate, qk, err)
	}

	res, err := db.coordinator.Update(qk, values)
	if res.Attempts > 1 {
		updateConflicts.Add(res.Attempts - 1)
	}
	if err != nil {
		return db.fail(OpUpdate, qk, err)
	}
	return StatusOK
}

// Insert stores a record with the configured expiry and durability
func (db *DB) Insert(table, key string, values map[string]string) (status Status) {
	defer db.finish(OpInsert, key, time.Now(), &status)
	qk, err := qualify(table, key)
	if err != nil {
		return db.fail(OpInsert, qk, err)
	}

	if db.config.InsertMode == InsertModeAdd {
		_, err = db.store.Add(qk, values, db.config.Expiry, db.config.Durability)
	} else {
		_, err = db.store.Insert(qk, values, db.config.Expiry, db.config.Durability)
	}
	return db.checked(OpInsert, qk, err)
}

// Delete removes a record
func (db *DB) Delete(table, key string) (status Status) {
	defer db.finish(OpDelete, key, time.Now(), &status)
	qk, err := qualify(table, key)
	if err != nil {
		return db.fail(OpDelete, qk, err)
	}
	return db.checked(OpDelete, qk, db.store.Delete(qk))
}

// Scan reads up to count records of a table in key order starting at startKey,
// using the key view of the table in the configured design document.
func (db *DB) Scan(table, startKey string, count int, fields []string, result *[]map[string]string) (status Status) {
	defer db.finish(OpScan, startKey, time.Now(), &status)
	qk, err := qualify(table, startKey)
	if err != nil {
		return db.fail(OpScan, qk, err)
	}

	id := store.ViewID{DesignDoc: db.config.DesignDocumentName, View: table}
	page, err := db.pager.QueryView(id, qk, count)
	if err != nil {
		return db.fail(OpScan, qk, err)
	}
	for _, row := range page.Rows {
		record := make(map[string]string, len(row.Fields))
		project(row.Fields, fields, record)
		*result = append(*result, record)
	}
	return StatusOK
}

// Query runs a range query on a random view of the configured pools, starting at a
// key derived from the record key.
func (db *DB) Query(table, key string, limit int) (status Status) {
	defer db.finish(OpQuery, key, time.Now(), &status)
	if err := store.ValidateTable(table); err != nil {
		return db.fail(OpQuery, key, err)
	}
	if _, err := db.pager.Query(key, limit); err != nil {
		return db.fail(OpQuery, key, err)
	}
	return StatusOK
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

func qualify(table, key string) (string, error) {
	if err := store.ValidateTable(table); err != nil {
		return key, err
	}
	return store.QualifyKey(table, key), nil
}

// project copies the selected fields (all if fields is empty) from src into dst
func project(src map[string]string, fields []string, dst map[string]string) {
	if len(fields) == 0 {
		for k, v := range src {
			dst[k] = v
		}
		return
	}
	for _, name := range fields {
		if v, ok := src[name]; ok {
			dst[name] = v
		}
	}
}

// fail logs the error of an operation and returns StatusError
func (db *DB) fail(op, key string, err error) Status {
	var abandoned *update.AbandonedError
	switch {
	case errors.As(err, &abandoned):
		log.Warningf("%s %q: %v", op, key, err)
	case errors.Is(err, store.ErrNotFound):
		log.Warningf("%s %q: document not found", op, key)
	default:
		log.Errorf("%s %q failed: %v", op, key, err)
	}
	return StatusError
}

// checked applies checkOperationStatus: with the check disabled failed inserts and
// deletes are logged but reported as OK.
func (db *DB) checked(op, key string, err error) Status {
	if err == nil {
		return StatusOK
	}
	status := db.fail(op, key, err)
	if !db.config.CheckOperationStatus {
		return StatusOK
	}
	return status
}

// finish recovers panics of an operation and records its metrics
func (db *DB) finish(op, key string, start time.Time, status *Status) {
	if r := recover(); r != nil {
		log.Errorf("%s %q panicked: %v\n%s", op, key, r, debug.Stack())
		*status = StatusError
	}
	observe(op, *status, start)
}
