package workload

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ValentinKolb/dDoc/lib/bench"
	gometrics "github.com/rcrowley/go-metrics"
)

// OpResult is the summary of one operation type
type OpResult struct {
	Op     string
	Count  int64
	Errors int64
	Mean   time.Duration
	P95    time.Duration
	P99    time.Duration
	Max    time.Duration
}

// Results is the summary of a phase (load or run)
type Results struct {
	Phase   string
	Runtime time.Duration
	Ops     []OpResult
}

// Throughput returns the operations per second over all operation types
func (r Results) Throughput() float64 {
	var total int64
	for _, op := range r.Ops {
		total += op.Count
	}
	if r.Runtime <= 0 {
		return 0
	}
	return float64(total) / r.Runtime.Seconds()
}

// summarize collects the timers of a registry sorted by operation name
func summarize(phase string, runtime time.Duration, registry gometrics.Registry) Results {
	res := Results{Phase: phase, Runtime: runtime}
	timers := make(map[string]gometrics.Timer)
	errs := make(map[string]int64)
	registry.Each(func(name string, metric interface{}) {
		switch m := metric.(type) {
		case gometrics.Timer:
			timers[name] = m
		case gometrics.Counter:
			errs[strings.TrimSuffix(name, ".errors")] = m.Count()
		}
	})
	for name, timer := range timers {
		snap := timer.Snapshot()
		ps := snap.Percentiles([]float64{0.95, 0.99})
		res.Ops = append(res.Ops, OpResult{
			Op:     name,
			Count:  snap.Count(),
			Errors: errs[name],
			Mean:   time.Duration(snap.Mean()),
			P95:    time.Duration(ps[0]),
			P99:    time.Duration(ps[1]),
			Max:    time.Duration(snap.Max()),
		})
	}
	sort.Slice(res.Ops, func(i, j int) bool { return res.Ops[i].Op < res.Ops[j].Op })
	return res
}

// printResults prints the summary in the YCSB report layout
func printResults(w io.Writer, res Results) {
	fmt.Fprintf(w, "[OVERALL], RunTime(ms), %d\n", res.Runtime.Milliseconds())
	fmt.Fprintf(w, "[OVERALL], Throughput(ops/sec), %.2f\n", res.Throughput())
	for _, op := range res.Ops {
		name := strings.ToUpper(op.Op)
		fmt.Fprintf(w, "[%s], Operations, %d\n", name, op.Count)
		fmt.Fprintf(w, "[%s], AverageLatency(us), %.2f\n", name, float64(op.Mean)/float64(time.Microsecond))
		fmt.Fprintf(w, "[%s], 95thPercentileLatency(us), %d\n", name, op.P95.Microseconds())
		fmt.Fprintf(w, "[%s], 99thPercentileLatency(us), %d\n", name, op.P99.Microseconds())
		fmt.Fprintf(w, "[%s], MaxLatency(us), %d\n", name, op.Max.Microseconds())
		fmt.Fprintf(w, "[%s], Return=%s, %d\n", name, bench.StatusOK, op.Count-op.Errors)
		if op.Errors > 0 {
			fmt.Fprintf(w, "[%s], Return=%s, %d\n", name, bench.StatusError, op.Errors)
		}
	}
}

// writeResultsToCSV writes the summary together with the run parameters to a CSV file
func writeResultsToCSV(csvPath string, res Results, w *Workload, config bench.Config) error {
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %v", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{
		"Phase", "Op", "Operations", "Errors", "MeanUs", "P95Us", "P99Us", "MaxUs", "RunTimeMs",
		"Hosts", "Bucket", "Serializer", "PersistTo", "ReplicateTo",
		"Threads", "RecordCount", "FieldCount", "FieldLength",
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %v", err)
	}

	for _, op := range res.Ops {
		row := []string{
			res.Phase,
			op.Op,
			strconv.FormatInt(op.Count, 10),
			strconv.FormatInt(op.Errors, 10),
			strconv.FormatInt(op.Mean.Microseconds(), 10),
			strconv.FormatInt(op.P95.Microseconds(), 10),
			strconv.FormatInt(op.P99.Microseconds(), 10),
			strconv.FormatInt(op.Max.Microseconds(), 10),
			strconv.FormatInt(res.Runtime.Milliseconds(), 10),
			strings.Join(config.Hosts, ";"),
			config.Bucket,
			config.Serializer,
			strconv.Itoa(config.Durability.PersistTo),
			strconv.Itoa(config.Durability.ReplicateTo),
			strconv.Itoa(w.Threads),
			strconv.Itoa(w.RecordCount),
			strconv.Itoa(w.FieldCount),
			strconv.Itoa(w.FieldLength),
		}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write row for %s: %v", op.Op, err)
		}
	}

	return nil
}
