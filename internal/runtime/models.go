package runtime

import (
	"slices"
	"sync"
	"time"

	errspkg "github.com/drblury/chord/internal/runtime/errors"
	"github.com/drblury/chord/internal/runtime/jsoncodec"
)

const (
	latencySampleSize    = 256
	throughputWindowSize = time.Minute
)

// MethodStats aggregates outcomes for one registered method. It is safe for
// concurrent use and serializes a consistent snapshot.
type MethodStats struct {
	mu sync.Mutex

	name string

	CallsProcessed      uint64    `json:"calls_processed"`
	CallsFailed         uint64    `json:"calls_failed"`
	TotalProcessingTime int64     `json:"total_processing_time_ns"`
	LastProcessedAt     time.Time `json:"last_processed_at"`

	Errors   ErrorBreakdown `json:"errors"`
	Resource ResourceUsage  `json:"resource"`

	latencyWindow    *latencyWindow
	throughputWindow *throughputWindow
	sampler          *processSampler
}

type LatencyMetrics struct {
	AverageNs  int64 `json:"average_ns"`
	P50Ns      int64 `json:"p50_ns"`
	P95Ns      int64 `json:"p95_ns"`
	P99Ns      int64 `json:"p99_ns"`
	LastNs     int64 `json:"last_ns"`
	SampleSize int   `json:"sample_size"`
}

type ThroughputMetrics struct {
	CurrentRPS    float64 `json:"current_rps"`
	WindowSeconds float64 `json:"window_seconds"`
	CallsInWindow uint64  `json:"calls_in_window"`
	TotalCalls    uint64  `json:"total_calls"`
}

// ErrorBreakdown counts failures per error kind.
type ErrorBreakdown struct {
	Business        uint64 `json:"business"`
	InvalidArgument uint64 `json:"invalid_argument"`
	Dependency      uint64 `json:"dependency"`
	Canceled        uint64 `json:"canceled"`
	Contract        uint64 `json:"contract"`
	Other           uint64 `json:"other"`
	LastKind        string `json:"last_kind,omitempty"`
	LastError       string `json:"last_error,omitempty"`
}

type ResourceUsage struct {
	CPUPercent  float64 `json:"cpu_percent"`
	MemoryBytes uint64  `json:"memory_bytes"`
	Goroutines  int     `json:"goroutines"`
}

func newMethodStats(name string, sampler *processSampler) *MethodStats {
	return &MethodStats{
		name:             name,
		sampler:          sampler,
		latencyWindow:    newLatencyWindow(latencySampleSize),
		throughputWindow: newThroughputWindow(throughputWindowSize),
	}
}

func (s *MethodStats) record(duration time.Duration, err error) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.CallsProcessed++
	if err != nil {
		s.CallsFailed++
	}
	s.TotalProcessingTime += int64(duration)
	now := time.Now()
	s.LastProcessedAt = now.UTC()

	s.latencyWindow.Add(duration)
	s.throughputWindow.Add(now)
	s.Errors.Record(err)

	s.Resource = s.sampler.Usage()
}

// LatencySummary computes percentiles over the recent latency samples. The
// average covers every call.
func (s *MethodStats) LatencySummary() LatencyMetrics {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latencyLocked()
}

func (s *MethodStats) latencyLocked() LatencyMetrics {
	out := s.latencyWindow.Snapshot()
	if s.CallsProcessed > 0 {
		out.AverageNs = s.TotalProcessingTime / int64(s.CallsProcessed)
	}
	return out
}

// ThroughputSummary reports the calls seen inside the sliding window.
func (s *MethodStats) ThroughputSummary() ThroughputMetrics {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.throughputLocked(time.Now())
}

func (s *MethodStats) throughputLocked(now time.Time) ThroughputMetrics {
	calls := s.throughputWindow.Count(now)
	window := s.throughputWindow.horizon.Seconds()
	return ThroughputMetrics{
		CurrentRPS:    float64(calls) / window,
		WindowSeconds: window,
		CallsInWindow: calls,
		TotalCalls:    s.CallsProcessed,
	}
}

func (s *MethodStats) MarshalJSON() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	type view struct {
		CallsProcessed      uint64            `json:"calls_processed"`
		CallsFailed         uint64            `json:"calls_failed"`
		TotalProcessingTime int64             `json:"total_processing_time_ns"`
		LastProcessedAt     time.Time         `json:"last_processed_at"`
		Latency             LatencyMetrics    `json:"latency"`
		Throughput          ThroughputMetrics `json:"throughput"`
		Errors              ErrorBreakdown    `json:"errors"`
		Resource            ResourceUsage     `json:"resource"`
	}
	return jsoncodec.Marshal(view{
		CallsProcessed:      s.CallsProcessed,
		CallsFailed:         s.CallsFailed,
		TotalProcessingTime: s.TotalProcessingTime,
		LastProcessedAt:     s.LastProcessedAt,
		Latency:             s.latencyLocked(),
		Throughput:          s.throughputLocked(time.Now()),
		Errors:              s.Errors,
		Resource:            s.Resource,
	})
}

func (e *ErrorBreakdown) Record(err error) {
	if err == nil {
		return
	}
	kind := errspkg.KindOf(err)
	switch kind {
	case errspkg.KindBusiness:
		e.Business++
	case errspkg.KindInvalidArgument, errspkg.KindNotFound:
		e.InvalidArgument++
	case errspkg.KindDependencyUnresolved:
		e.Dependency++
	case errspkg.KindCanceled:
		e.Canceled++
	case errspkg.KindContractViolation:
		e.Contract++
	default:
		e.Other++
	}
	e.LastKind = string(kind)
	e.LastError = err.Error()
}

// latencyWindow keeps the most recent durations in a ring.
type latencyWindow struct {
	ring   []int64
	pos    int
	full   bool
	latest int64
}

func newLatencyWindow(size int) *latencyWindow {
	if size <= 0 {
		size = latencySampleSize
	}
	return &latencyWindow{ring: make([]int64, size)}
}

func (lw *latencyWindow) Add(d time.Duration) {
	if lw == nil || len(lw.ring) == 0 {
		return
	}
	lw.latest = int64(d)
	lw.ring[lw.pos] = lw.latest
	lw.pos++
	if lw.pos == len(lw.ring) {
		lw.pos, lw.full = 0, true
	}
}

func (lw *latencyWindow) Snapshot() LatencyMetrics {
	if lw == nil {
		return LatencyMetrics{}
	}
	n := lw.pos
	if lw.full {
		n = len(lw.ring)
	}
	out := LatencyMetrics{LastNs: lw.latest, SampleSize: n}
	if n == 0 {
		return out
	}
	sorted := slices.Clone(lw.ring[:n])
	slices.Sort(sorted)

	var sum int64
	for _, v := range sorted {
		sum += v
	}
	out.AverageNs = sum / int64(n)
	out.P50Ns = nearestRank(sorted, 50)
	out.P95Ns = nearestRank(sorted, 95)
	out.P99Ns = nearestRank(sorted, 99)
	return out
}

// nearestRank returns the p-th percentile of an ascending slice.
func nearestRank(sorted []int64, p int) int64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := (p*len(sorted) + 99) / 100
	return sorted[min(max(rank, 1), len(sorted))-1]
}

const throughputBuckets = 60

// throughputWindow counts calls in fixed buckets covering a sliding horizon.
type throughputWindow struct {
	horizon time.Duration
	width   int64
	counts  [throughputBuckets]uint64
	ticks   [throughputBuckets]int64
}

func newThroughputWindow(horizon time.Duration) *throughputWindow {
	width := max(int64(horizon)/throughputBuckets, 1)
	return &throughputWindow{horizon: horizon, width: width}
}

func (tw *throughputWindow) Add(now time.Time) {
	if tw == nil {
		return
	}
	tick := now.UnixNano() / tw.width
	slot := tick % throughputBuckets
	if tw.ticks[slot] != tick {
		tw.ticks[slot], tw.counts[slot] = tick, 0
	}
	tw.counts[slot]++
}

// Count sums the buckets that still fall inside the horizon at now.
func (tw *throughputWindow) Count(now time.Time) uint64 {
	if tw == nil {
		return 0
	}
	oldest := now.UnixNano()/tw.width - throughputBuckets + 1
	var total uint64
	for i, tick := range tw.ticks {
		if tick >= oldest {
			total += tw.counts[i]
		}
	}
	return total
}
