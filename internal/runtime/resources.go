package runtime

import (
	"runtime"
	"runtime/metrics"
	"sync"
	"time"
)

const (
	metricCPUSeconds = "/cpu/classes/total:cpu-seconds"
	metricHeapBytes  = "/memory/classes/heap/objects:bytes"
	metricGoroutines = "/sched/goroutines:goroutines"

	defaultSampleInterval = time.Second
)

// processSampler reads process CPU, heap and goroutine figures for the
// method stats. Reads are throttled to one per interval and every method of
// a registry shares the last reading.
type processSampler struct {
	mu       sync.Mutex
	interval time.Duration
	samples  []metrics.Sample
	numCPU   float64
	now      func() time.Time

	last     ResourceUsage
	lastRead time.Time
	lastCPU  float64
}

func newProcessSampler(interval time.Duration) *processSampler {
	return &processSampler{
		interval: interval,
		samples: []metrics.Sample{
			{Name: metricCPUSeconds},
			{Name: metricHeapBytes},
			{Name: metricGoroutines},
		},
		numCPU: float64(runtime.GOMAXPROCS(0)),
		now:    time.Now,
	}
}

// Usage returns the latest reading, refreshing it when the interval elapsed.
func (p *processSampler) Usage() ResourceUsage {
	if p == nil {
		return ResourceUsage{}
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	if !p.lastRead.IsZero() && now.Sub(p.lastRead) < p.interval {
		return p.last
	}
	metrics.Read(p.samples)

	usage := ResourceUsage{Goroutines: runtime.NumGoroutine()}
	cpu, haveCPU := 0.0, false
	for _, s := range p.samples {
		switch {
		case s.Name == metricCPUSeconds && s.Value.Kind() == metrics.KindFloat64:
			cpu, haveCPU = s.Value.Float64(), true
		case s.Name == metricHeapBytes && s.Value.Kind() == metrics.KindUint64:
			usage.MemoryBytes = s.Value.Uint64()
		case s.Name == metricGoroutines && s.Value.Kind() == metrics.KindUint64:
			usage.Goroutines = int(s.Value.Uint64())
		}
	}

	if haveCPU && !p.lastRead.IsZero() {
		if wall := now.Sub(p.lastRead).Seconds(); wall > 0 && p.numCPU > 0 {
			usage.CPUPercent = (cpu - p.lastCPU) / wall / p.numCPU * 100
		}
	}
	if haveCPU {
		p.lastCPU = cpu
	}
	p.lastRead = now
	p.last = usage
	return usage
}
