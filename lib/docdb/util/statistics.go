package util

import (
	"math"
	"sync"
)

// ----------------------------------------------------------------------------
// Summary statistics
// ----------------------------------------------------------------------------

type Stats struct {
	StdDeviation float64 `json:"std_deviation"`
	Min          float64 `json:"min"`
	Max          float64 `json:"max"`
	Mean         float64 `json:"mean"`
	MinMaxRatio  float64 `json:"min_max_ratio"`
}

// NewStats computes mean, standard deviation, minimum and maximum of values.
func NewStats(values []float64) Stats {
	if len(values) == 0 {
		return Stats{}
	}

	lo, hi := values[0], values[0]
	var sum float64
	for _, v := range values {
		sum += v
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	mean := sum / float64(len(values))

	var sq float64
	for _, v := range values {
		sq += (v - mean) * (v - mean)
	}

	ratio := 1.0
	if hi > 0 {
		ratio = lo / hi
	}

	return Stats{
		StdDeviation: math.Sqrt(sq / float64(len(values))),
		Min:          lo,
		Max:          hi,
		Mean:         mean,
		MinMaxRatio:  ratio,
	}
}

type DistributionStats struct {
	Stats
	DistributionQuality float64 `json:"distribution_quality"`
}

// NewDistributionStats rates how evenly documents are spread over the shards.
// A quality of 1 means all shards hold the same number of documents.
func NewDistributionStats(shardSizes []float64) DistributionStats {
	stats := NewStats(shardSizes)

	var cv float64
	if stats.Mean > 0 {
		cv = stats.StdDeviation / stats.Mean
	}

	return DistributionStats{
		Stats:               stats,
		DistributionQuality: (1.0-math.Min(1.0, cv))*0.5 + stats.MinMaxRatio*0.5,
	}
}

// ----------------------------------------------------------------------------
// SizeHistogram
// ----------------------------------------------------------------------------

// SizeHistogram tracks the distribution of document sizes in exponential buckets.
//
// Thread-safe: all methods are safe for concurrent use
type SizeHistogram struct {
	mutex      sync.RWMutex
	boundaries []int
	buckets    []int64
	count      int64
	sum        int64
}

// NewSizeHistogram creates a histogram with buckets from 16 bytes to 16 MB
func NewSizeHistogram() *SizeHistogram {
	boundaries := []int{16, 64, 256, 1024, 4096, 16384, 65536, 262144, 1048576, 4194304, 16777216}
	return &SizeHistogram{
		boundaries: boundaries,
		buckets:    make([]int64, len(boundaries)+1),
	}
}

// AddSample adds a size sample to the histogram
func (h *SizeHistogram) AddSample(size int) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	idx := len(h.boundaries)
	for i, boundary := range h.boundaries {
		if size <= boundary {
			idx = i
			break
		}
	}

	h.buckets[idx]++
	h.count++
	h.sum += int64(size)
}

// Count returns the total number of samples
func (h *SizeHistogram) Count() int64 {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.count
}

// AverageSize returns the average size across all samples
func (h *SizeHistogram) AverageSize() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	if h.count == 0 {
		return 0
	}
	return int(h.sum / h.count)
}

// PercentileEstimate returns an estimate for the given percentile (0-100)
func (h *SizeHistogram) PercentileEstimate(percentile int) int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	if h.count == 0 || percentile < 0 || percentile > 100 {
		return 0
	}

	target := int64(math.Ceil(float64(h.count) * float64(percentile) / 100.0))
	var cumulative int64
	for i, count := range h.buckets {
		cumulative += count
		if cumulative < target {
			continue
		}
		switch {
		case i == 0:
			return h.boundaries[0] / 2
		case i < len(h.boundaries):
			return (h.boundaries[i-1] + h.boundaries[i]) / 2
		default:
			return h.boundaries[len(h.boundaries)-1] * 2
		}
	}
	return int(h.sum / h.count)
}

// MedianEstimate estimates the median size based on the histogram
func (h *SizeHistogram) MedianEstimate() int {
	return h.PercentileEstimate(50)
}
