package dispatch

import (
	"math"
	"strings"
)

// Category classifies a workload for worker sizing.
type Category string

const (
	IOBound  Category = "io"
	CPUBound Category = "cpu"
	Mixed    Category = "mixed"
)

// ParseCategory maps user input to a Category. Unknown names are returned
// as-is so OptimalWorkers applies its default.
func ParseCategory(name string) Category {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "io", "io-bound", "io_bound":
		return IOBound
	case "cpu", "cpu-bound", "cpu_bound":
		return CPUBound
	case "mixed":
		return Mixed
	default:
		return Category(name)
	}
}

// constrainedThreshold is the minimum parallel threshold on constrained hosts.
const constrainedThreshold = 500

// Policy turns a Host into worker counts and parallelism decisions.
type Policy struct {
	Host Host
}

// NewPolicy returns a policy for host.
func NewPolicy(host Host) Policy {
	if host.Logical < 1 {
		host.Logical = 1
	}
	if host.Physical < 1 {
		host.Physical = 1
	}
	if host.Physical > host.Logical {
		host.Logical = host.Physical
	}
	return Policy{Host: host}
}

// OptimalWorkers returns the worker count for category. IO-bound work may use
// hyperthreads, CPU-bound work gets one worker per physical core.
func (p Policy) OptimalWorkers(category Category) int {
	if p.Host.Constrained {
		return constrainedWorkers
	}
	phys, logical := p.Host.Physical, p.Host.Logical
	var workers int
	switch category {
	case IOBound:
		workers = min(2*phys, logical)
	case CPUBound:
		workers = phys
	case Mixed:
		workers = int(math.Round(1.5 * float64(phys)))
	default:
		workers = logical
	}
	return max(1, workers)
}

// ShouldParallelize reports whether itemCount is large enough to amortize
// fan-out. Constrained hosts raise threshold to at least 500.
func (p Policy) ShouldParallelize(itemCount, threshold int) bool {
	if p.Host.Constrained && threshold < constrainedThreshold {
		threshold = constrainedThreshold
	}
	return itemCount >= threshold
}

// OptimalBatchSize targets roughly three batches per worker, clamped to
// [minBatch, maxBatch]. Collections smaller than minBatch form a single batch.
func OptimalBatchSize(totalItems, workers, minBatch, maxBatch int) int {
	if totalItems < minBatch {
		return totalItems
	}
	if workers < 1 {
		workers = 1
	}
	batch := totalItems / (3 * workers)
	if batch < minBatch {
		batch = minBatch
	}
	if maxBatch > 0 && batch > maxBatch {
		batch = maxBatch
	}
	return batch
}

// OptimalWorkers sizes category against the current host.
func OptimalWorkers(category Category) int {
	return NewPolicy(Detect()).OptimalWorkers(category)
}

// ShouldParallelize applies the current host's policy.
func ShouldParallelize(itemCount, threshold int) bool {
	return NewPolicy(Detect()).ShouldParallelize(itemCount, threshold)
}

// Info summarizes the host and the recommended worker counts.
type Info struct {
	Physical       int
	Logical        int
	Hyperthreading bool
	Constrained    bool
	Workers        map[Category]int
}

// Describe reports what the policy sees on this host.
func (p Policy) Describe() Info {
	return Info{
		Physical:       p.Host.Physical,
		Logical:        p.Host.Logical,
		Hyperthreading: p.Host.Hyperthreaded(),
		Constrained:    p.Host.Constrained,
		Workers: map[Category]int{
			IOBound:  p.OptimalWorkers(IOBound),
			CPUBound: p.OptimalWorkers(CPUBound),
			Mixed:    p.OptimalWorkers(Mixed),
		},
	}
}
