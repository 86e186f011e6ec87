package workload

import (
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/dDoc/lib/bench"
	"github.com/ValentinKolb/dDoc/lib/docdb/util"
	gometrics "github.com/rcrowley/go-metrics"
)

// Workload describes the records and the operation mix of a benchmark run
type Workload struct {
	Table          string
	RecordCount    int
	OperationCount int
	Threads        int
	FieldCount     int
	FieldLength    int
	MaxScanLength  int
	QueryLimit     int
	OrderedInserts bool

	// operation mix of run, the proportions are relative to their sum
	ReadProportion   float64
	UpdateProportion float64
	InsertProportion float64
	ScanProportion   float64
	QueryProportion  float64
	DeleteProportion float64
}

// Validate checks the workload for values the runner can not work with
func (w *Workload) Validate() error {
	if w.RecordCount < 0 || w.OperationCount < 0 {
		return fmt.Errorf("recordcount and operationcount must not be negative")
	}
	if w.Threads < 1 {
		return fmt.Errorf("threads must be at least 1")
	}
	if w.FieldCount < 1 || w.FieldLength < 0 {
		return fmt.Errorf("fieldcount must be at least 1 and fieldlength must not be negative")
	}
	if w.MaxScanLength < 1 || w.QueryLimit < 1 {
		return fmt.Errorf("maxscanlength and querylimit must be at least 1")
	}
	for _, p := range w.proportions() {
		if p < 0 {
			return fmt.Errorf("proportions must not be negative")
		}
	}
	return nil
}

func (w *Workload) proportions() []float64 {
	return []float64{w.ReadProportion, w.UpdateProportion, w.InsertProportion, w.ScanProportion, w.QueryProportion, w.DeleteProportion}
}

var mixOps = []string{bench.OpRead, bench.OpUpdate, bench.OpInsert, bench.OpScan, bench.OpQuery, bench.OpDelete}

// chooser picks operations according to the proportions of a workload
type chooser struct {
	ops        []string
	cumulative []float64
}

func newChooser(w *Workload) (*chooser, error) {
	c := &chooser{}
	var sum float64
	for i, p := range w.proportions() {
		if p > 0 {
			sum += p
			c.ops = append(c.ops, mixOps[i])
			c.cumulative = append(c.cumulative, sum)
		}
	}
	if sum == 0 {
		return nil, fmt.Errorf("all operation proportions are zero")
	}
	for i := range c.cumulative {
		c.cumulative[i] /= sum
	}
	return c, nil
}

// next maps a uniform value in [0,1) to an operation
func (c *chooser) next(u float64) string {
	for i, bound := range c.cumulative {
		if u < bound {
			return c.ops[i]
		}
	}
	return c.ops[len(c.ops)-1]
}

// KeyName returns the record key of a key number. Unordered keys are hashed so
// consecutive inserts spread over the key space.
func KeyName(keynum uint64, ordered bool) string {
	if !ordered {
		keynum = util.HashString(strconv.FormatUint(keynum, 10), 0)
	}
	return "user" + strconv.FormatUint(keynum, 10)
}

// FieldName returns the name of field i
func FieldName(i int) string {
	return "field" + strconv.Itoa(i)
}

// runner executes a workload against a bench.DB and records latencies
type runner struct {
	workload *Workload
	db       *bench.DB
	registry gometrics.Registry
	// next key number an insert of run uses
	insertSeq atomic.Uint64
}

func newRunner(w *Workload, db *bench.DB) *runner {
	r := &runner{workload: w, db: db, registry: gometrics.NewRegistry()}
	r.insertSeq.Store(uint64(w.RecordCount))
	return r
}

func (r *runner) record(op string, status bench.Status, start time.Time) {
	gometrics.GetOrRegisterTimer(op, r.registry).UpdateSince(start)
	if status != bench.StatusOK {
		gometrics.GetOrRegisterCounter(op+".errors", r.registry).Inc(1)
	}
}

func (r *runner) values(rnd *rand.Rand, fields int) map[string]string {
	values := make(map[string]string, fields)
	for i := 0; i < fields; i++ {
		values[FieldName(i)] = randomValue(rnd, r.workload.FieldLength)
	}
	return values
}

const alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

func randomValue(rnd *rand.Rand, n int) string {
	var sb strings.Builder
	sb.Grow(n)
	for i := 0; i < n; i++ {
		sb.WriteByte(alphabet[rnd.IntN(len(alphabet))])
	}
	return sb.String()
}

// parallel runs total iterations of fn on the configured number of threads.
// Every thread gets its own random source.
func (r *runner) parallel(total int, fn func(rnd *rand.Rand, i int)) time.Duration {
	var next atomic.Int64
	var wg sync.WaitGroup
	seed := uint64(time.Now().UnixNano())
	start := time.Now()
	for t := 0; t < r.workload.Threads; t++ {
		wg.Add(1)
		go func(t int) {
			defer wg.Done()
			rnd := rand.New(rand.NewPCG(seed, uint64(t)))
			for {
				i := int(next.Add(1) - 1)
				if i >= total {
					return
				}
				fn(rnd, i)
			}
		}(t)
	}
	wg.Wait()
	return time.Since(start)
}

// Load inserts the records 0..RecordCount-1
func (r *runner) Load() time.Duration {
	w := r.workload
	return r.parallel(w.RecordCount, func(rnd *rand.Rand, i int) {
		start := time.Now()
		status := r.db.Insert(w.Table, KeyName(uint64(i), w.OrderedInserts), r.values(rnd, w.FieldCount))
		r.record(bench.OpInsert, status, start)
	})
}

// Run executes OperationCount operations of the configured mix
func (r *runner) Run() (time.Duration, error) {
	w := r.workload
	c, err := newChooser(w)
	if err != nil {
		return 0, err
	}
	return r.parallel(w.OperationCount, func(rnd *rand.Rand, _ int) {
		r.do(rnd, c.next(rnd.Float64()))
	}), nil
}

// existingKey picks the key of a loaded record
func (r *runner) existingKey(rnd *rand.Rand) string {
	return KeyName(rnd.Uint64N(uint64(max(1, r.workload.RecordCount))), r.workload.OrderedInserts)
}

func (r *runner) do(rnd *rand.Rand, op string) {
	w := r.workload
	start := time.Now()
	var status bench.Status
	switch op {
	case bench.OpRead:
		status = r.db.Read(w.Table, r.existingKey(rnd), nil, make(map[string]string, w.FieldCount))
	case bench.OpUpdate:
		status = r.db.Update(w.Table, r.existingKey(rnd), map[string]string{
			FieldName(rnd.IntN(w.FieldCount)): randomValue(rnd, w.FieldLength),
		})
	case bench.OpInsert:
		keynum := r.insertSeq.Add(1) - 1
		status = r.db.Insert(w.Table, KeyName(keynum, w.OrderedInserts), r.values(rnd, w.FieldCount))
	case bench.OpScan:
		var rows []map[string]string
		status = r.db.Scan(w.Table, r.existingKey(rnd), 1+rnd.IntN(w.MaxScanLength), nil, &rows)
	case bench.OpQuery:
		status = r.db.Query(w.Table, r.existingKey(rnd), w.QueryLimit)
	case bench.OpDelete:
		status = r.db.Delete(w.Table, r.existingKey(rnd))
	}
	r.record(op, status, start)
}
