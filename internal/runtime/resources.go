package runtime

import (
	"runtime"
	"runtime/metrics"
	"sync"
	"time"
)

// ResourceUsage is a coarse view of the daemon's own footprint.
type ResourceUsage struct {
	CPUPercent  float64 `json:"cpu_percent"`
	MemoryBytes uint64  `json:"memory_bytes"`
	Goroutines  int     `json:"goroutines"`
}

const cpuMetric = "/sched/cpu:seconds"

// resourceTracker computes CPU usage between consecutive snapshots.
type resourceTracker struct {
	mu         sync.Mutex
	sample     []metrics.Sample
	lastCPU    float64
	lastSample time.Time
	numCPU     float64
	now        func() time.Time
}

func newResourceTracker() *resourceTracker {
	return &resourceTracker{
		sample: []metrics.Sample{{Name: cpuMetric}},
		numCPU: float64(runtime.NumCPU()),
		now:    time.Now,
	}
}

// Snapshot reports usage since the previous call. The first call has no
// baseline and reports zero CPU.
func (r *resourceTracker) Snapshot() ResourceUsage {
	if r == nil {
		return ResourceUsage{}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	metrics.Read(r.sample)
	now := r.now()

	var usage ResourceUsage
	if v := r.sample[0].Value; v.Kind() == metrics.KindFloat64 {
		cpu := v.Float64()
		if !r.lastSample.IsZero() && r.numCPU > 0 {
			if wall := now.Sub(r.lastSample).Seconds(); wall > 0 {
				usage.CPUPercent = (cpu - r.lastCPU) / wall / r.numCPU * 100
			}
		}
		r.lastCPU = cpu
	}
	r.lastSample = now

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	usage.MemoryBytes = mem.Alloc
	usage.Goroutines = runtime.NumGoroutine()
	return usage
}
