package workload

import (
	"bytes"
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ValentinKolb/dDoc/lib/bench"
)

func testWorkload() *Workload {
	return &Workload{
		Table:            "usertable",
		RecordCount:      200,
		OperationCount:   500,
		Threads:          4,
		FieldCount:       10,
		FieldLength:      20,
		MaxScanLength:    10,
		QueryLimit:       5,
		ReadProportion:   0.5,
		UpdateProportion: 0.2,
		InsertProportion: 0.1,
		ScanProportion:   0.1,
		QueryProportion:  0.1,
	}
}

func TestChooser(t *testing.T) {
	w := &Workload{ReadProportion: 3, ScanProportion: 1}
	c, err := newChooser(w)
	if err != nil {
		t.Fatal(err)
	}
	cases := map[float64]string{0: bench.OpRead, 0.74: bench.OpRead, 0.75: bench.OpScan, 0.999: bench.OpScan}
	for u, want := range cases {
		if got := c.next(u); got != want {
			t.Errorf("next(%v) = %s, expected %s", u, got, want)
		}
	}

	if _, err := newChooser(&Workload{}); err == nil {
		t.Errorf("Expected an empty mix to be rejected")
	}
}

func TestKeyName(t *testing.T) {
	if got := KeyName(42, true); got != "user42" {
		t.Errorf("Expected ordered key user42, got %s", got)
	}
	a, b := KeyName(1, false), KeyName(2, false)
	if a == b || !strings.HasPrefix(a, "user") || a == "user1" {
		t.Errorf("Expected distinct hashed keys, got %s and %s", a, b)
	}
	if KeyName(1, false) != a {
		t.Errorf("Expected hashed keys to be stable")
	}
}

func TestValidate(t *testing.T) {
	if err := testWorkload().Validate(); err != nil {
		t.Fatalf("Expected valid workload: %v", err)
	}
	w := testWorkload()
	w.Threads = 0
	if err := w.Validate(); err == nil {
		t.Errorf("Expected zero threads to be rejected")
	}
	w = testWorkload()
	w.UpdateProportion = -1
	if err := w.Validate(); err == nil {
		t.Errorf("Expected negative proportions to be rejected")
	}
}

func TestLoadAndRun(t *testing.T) {
	config := bench.DefaultConfig()
	config.Bucket = "workload-test"
	config.DDocs = []string{"ddoc0"}
	config.Views = []string{"view0", "view1"}
	db := bench.NewDB(config)
	if err := db.Init(); err != nil {
		t.Fatal(err)
	}
	defer bench.CloseAll()

	w := testWorkload()
	r := newRunner(w, db)
	load := summarize("load", r.Load(), r.registry)
	if len(load.Ops) != 1 || load.Ops[0].Op != bench.OpInsert {
		t.Fatalf("Expected only inserts in the load phase, got %+v", load.Ops)
	}
	if load.Ops[0].Count != 200 || load.Ops[0].Errors != 0 {
		t.Errorf("Expected 200 successful inserts, got %+v", load.Ops[0])
	}

	r = newRunner(w, db)
	runtime, err := r.Run()
	if err != nil {
		t.Fatal(err)
	}
	res := summarize("run", runtime, r.registry)
	var total, errs int64
	for _, op := range res.Ops {
		total += op.Count
		errs += op.Errors
	}
	if total != 500 {
		t.Errorf("Expected 500 operations, got %d", total)
	}
	if errs != 0 {
		t.Errorf("Expected no errors, got %d (%+v)", errs, res.Ops)
	}

	var out bytes.Buffer
	printResults(&out, res)
	if !strings.Contains(out.String(), "[OVERALL], Throughput(ops/sec)") || !strings.Contains(out.String(), "[READ], Operations") {
		t.Errorf("Unexpected report:\n%s", out.String())
	}

	path := filepath.Join(t.TempDir(), "results.csv")
	if err := writeResultsToCSV(path, res, w, config); err != nil {
		t.Fatal(err)
	}
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != len(res.Ops)+1 || rows[0][0] != "Phase" || rows[1][0] != "run" {
		t.Errorf("Unexpected csv rows %v", rows)
	}
}
