// Package awards computes the uniqueness statistics behind DXCC/VUCC style
// awards, merges statistics computed over disjoint partitions of a log, and
// turns a summary into threshold-based suggestions.
package awards

import (
	"context"
	"sort"
	"time"

	"qsolog/dispatch"
	"qsolog/qso"
)

const (
	// AutoParallelRecords is the size above which Summarize fans out.
	AutoParallelRecords = 10000
	// DefaultChunkSize is the partition size used by the parallel path.
	DefaultChunkSize = 5000
)

// Summary is the award-facing view of a log.
type Summary struct {
	Total           int            `json:"total_qsos"`
	UniqueCountries int            `json:"unique_countries"`
	UniqueGrids     int            `json:"unique_grids"`
	UniqueCalls     int            `json:"unique_calls"`
	UniqueBands     int            `json:"unique_bands"`
	UniqueModes     int            `json:"unique_modes"`
	GridsPerBand    map[string]int `json:"grids_per_band"`
}

// Bands returns the GridsPerBand keys in lexicographic order.
func (s Summary) Bands() []string {
	out := make([]string, 0, len(s.GridsPerBand))
	for band := range s.GridsPerBand {
		out = append(out, band)
	}
	sort.Strings(out)
	return out
}

type set map[string]struct{}

func (s set) addAll(other set) {
	for v := range other {
		s[v] = struct{}{}
	}
}

// Partial carries the underlying value sets for one partition of a log so
// that partitions can be merged exactly. Counts are only taken at the end.
type Partial struct {
	total       int
	values      map[qso.Field]set
	gridsByBand map[string]set
}

// NewPartial returns an empty partial.
func NewPartial() *Partial {
	p := &Partial{
		values:      make(map[qso.Field]set, len(qso.Fields())),
		gridsByBand: make(map[string]set),
	}
	for _, f := range qso.Fields() {
		p.values[f] = make(set)
	}
	return p
}

// Add folds one record into the partial.
func (p *Partial) Add(r *qso.Record) {
	p.total++
	for _, f := range qso.Fields() {
		if v, ok := r.Normalized(f); ok {
			p.values[f][v] = struct{}{}
		}
	}
	grid, ok := r.Normalized(qso.FieldGrid)
	if !ok {
		return
	}
	// Records without a band are grouped under the empty key.
	band, _ := r.Normalized(qso.FieldBand)
	grids := p.gridsByBand[band]
	if grids == nil {
		grids = make(set)
		p.gridsByBand[band] = grids
	}
	grids[grid] = struct{}{}
}

// Absorb unions other into p.
func (p *Partial) Absorb(other *Partial) {
	if other == nil {
		return
	}
	p.total += other.total
	for f, vals := range other.values {
		dst := p.values[f]
		if dst == nil {
			dst = make(set, len(vals))
			p.values[f] = dst
		}
		dst.addAll(vals)
	}
	for band, grids := range other.gridsByBand {
		dst := p.gridsByBand[band]
		if dst == nil {
			dst = make(set, len(grids))
			p.gridsByBand[band] = dst
		}
		dst.addAll(grids)
	}
}

// Summary reduces the sets to counts.
func (p *Partial) Summary() Summary {
	perBand := make(map[string]int, len(p.gridsByBand))
	for band, grids := range p.gridsByBand {
		perBand[band] = len(grids)
	}
	return Summary{
		Total:           p.total,
		UniqueCountries: len(p.values[qso.FieldCountry]),
		UniqueGrids:     len(p.values[qso.FieldGrid]),
		UniqueCalls:     len(p.values[qso.FieldCall]),
		UniqueBands:     len(p.values[qso.FieldBand]),
		UniqueModes:     len(p.values[qso.FieldMode]),
		GridsPerBand:    perBand,
	}
}

// Collect builds the partial for records.
func Collect(records []qso.Record) *Partial {
	p := NewPartial()
	for i := range records {
		p.Add(&records[i])
	}
	return p
}

// Merge unions partials computed over disjoint partitions. The result equals
// Collect over the concatenated partitions, including per-band grid counts.
func Merge(parts ...*Partial) Summary {
	acc := NewPartial()
	for _, part := range parts {
		acc.Absorb(part)
	}
	return acc.Summary()
}

// Summarize computes the summary for records, switching to the parallel path
// for very large logs.
func Summarize(records []qso.Record) Summary {
	if len(records) > AutoParallelRecords {
		return SummarizeParallel(context.Background(), records, DefaultChunkSize)
	}
	return Collect(records).Summary()
}

// ParallelOptions tunes SummarizeWith. Zero values pick defaults.
type ParallelOptions struct {
	ChunkSize int
	// Workers bounds concurrent partitions; <=0 asks the dispatch policy.
	Workers int
	// UnitTimeout abandons a slow partition, which then contributes nothing.
	UnitTimeout time.Duration
	Policy      *dispatch.Policy
}

// SummarizeParallel splits records into contiguous chunks of chunkSize,
// summarizes them concurrently and merges the partials. Inputs smaller than
// chunkSize are summarized sequentially.
func SummarizeParallel(ctx context.Context, records []qso.Record, chunkSize int) Summary {
	return SummarizeWith(ctx, records, ParallelOptions{ChunkSize: chunkSize})
}

// Purpose: Fan-out/fan-in summary over contiguous partitions.
// Key aspects: Each unit owns its partial; merging happens after all units
// finish. Pool failure falls back to the sequential path.
// Upstream: SummarizeParallel, Summarize, CLI awards commands.
// Downstream: dispatch.Map, Collect, Merge.
func SummarizeWith(ctx context.Context, records []qso.Record, opts ParallelOptions) Summary {
	chunkSize := opts.ChunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if len(records) < chunkSize {
		return Collect(records).Summary()
	}
	chunks := partition(records, chunkSize)

	workers := opts.Workers
	if workers <= 0 {
		policy := dispatch.NewPolicy(dispatch.Detect())
		if opts.Policy != nil {
			policy = *opts.Policy
		}
		workers = min(len(chunks), policy.OptimalWorkers(dispatch.CPUBound))
	}
	if ctx == nil {
		ctx = context.Background()
	}

	exec := dispatch.NewExecutor(workers, opts.UnitTimeout)
	results, err := dispatch.Map(ctx, exec, len(chunks), func(uctx context.Context, i int) (*Partial, error) {
		return collectUnit(uctx, chunks[i]), nil
	})
	if err != nil {
		return Collect(records).Summary()
	}
	parts := make([]*Partial, 0, len(results))
	for _, res := range results {
		if res.OK {
			parts = append(parts, res.Value)
		}
	}
	return Merge(parts...)
}

// collectUnit summarizes one partition inside the executor. Tests swap it to
// simulate slow partitions.
var collectUnit = func(_ context.Context, records []qso.Record) *Partial {
	return Collect(records)
}

func partition(records []qso.Record, size int) [][]qso.Record {
	out := make([][]qso.Record, 0, (len(records)+size-1)/size)
	for start := 0; start < len(records); start += size {
		end := min(start+size, len(records))
		out = append(out, records[start:end])
	}
	return out
}
