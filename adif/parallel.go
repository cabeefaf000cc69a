package adif

import (
	"context"
	"time"

	"qsolog/dispatch"
	"qsolog/qso"
)

const (
	// ParallelThreshold is the chunk count below which ParseParallel decodes
	// on the calling goroutine.
	ParallelThreshold = 100
	// AutoParallelChunks is the chunk count above which Parse itself fans out.
	AutoParallelChunks = 500
	// DefaultChunkTimeout bounds a single chunk decode in the parallel path.
	DefaultChunkTimeout = 30 * time.Second
)

// Options tunes ParseParallel. Zero values pick defaults.
type Options struct {
	// Workers bounds concurrent chunk decodes; <=0 asks the dispatch policy.
	Workers int
	// Threshold is the minimum chunk count for fan-out; <=0 uses ParallelThreshold.
	Threshold int
	// ChunkTimeout abandons slow chunks; 0 uses DefaultChunkTimeout, <0 disables.
	ChunkTimeout time.Duration
	// Policy overrides host detection, mainly for tests.
	Policy *dispatch.Policy
}

func (o Options) policy() dispatch.Policy {
	if o.Policy != nil {
		return *o.Policy
	}
	return dispatch.NewPolicy(dispatch.Detect())
}

// ParseParallel decodes text like Parse but spreads record chunks over a
// bounded worker pool once the chunk count reaches the threshold. Below it,
// or if the pool cannot run, the result is identical to the sequential path.
// Parallel output order is not guaranteed to match input order.
func ParseParallel(ctx context.Context, text string, opts Options) []qso.Record {
	return parseChunksParallel(ctx, splitRecords(text), opts)
}

func parseChunksParallel(ctx context.Context, chunks []string, opts Options) []qso.Record {
	threshold := opts.Threshold
	if threshold <= 0 {
		threshold = ParallelThreshold
	}
	policy := opts.policy()
	if !policy.ShouldParallelize(len(chunks), threshold) {
		return decodeChunks(chunks)
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = policy.OptimalWorkers(dispatch.IOBound)
	}
	timeout := opts.ChunkTimeout
	if timeout == 0 {
		timeout = DefaultChunkTimeout
	}
	if timeout < 0 {
		timeout = 0
	}
	if ctx == nil {
		ctx = context.Background()
	}

	exec := dispatch.NewExecutor(workers, timeout)
	results, err := dispatch.Map(ctx, exec, len(chunks), func(_ context.Context, i int) (*qso.Record, error) {
		rec, ok := decodeChunk(chunks[i])
		if !ok {
			return nil, nil
		}
		return &rec, nil
	})
	if err != nil {
		return decodeChunks(chunks)
	}
	out := make([]qso.Record, 0, len(chunks))
	for _, res := range results {
		if res.OK && res.Value != nil {
			out = append(out, *res.Value)
		}
	}
	return out
}
