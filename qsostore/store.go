// Package qsostore persists QSO records in a Pebble key/value store. Records
// live under q|<id>; a t|<start><id> index serves newest-first listing and an
// f|<fingerprint> index backs duplicate detection on import.
package qsostore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/bloom"

	"qsolog/qso"
	"qsolog/strutil"
)

var (
	errStoreClosed   = errors.New("qsostore: store is closed")
	errNotReady      = errors.New("qsostore: store is not initialized")
	errInvalidRecord = errors.New("qsostore: invalid record encoding")
)

const (
	defaultCacheSizeBytes        = int64(16 << 20)
	defaultBloomFilterBits       = 10
	defaultMemTableSizeBytes     = uint64(8 << 20)
	defaultL0CompactionThreshold = 4
	defaultL0StopWritesThreshold = 16
	defaultWriteQueueDepth       = 16
	defaultBatchSize             = 500
)

// Options controls Pebble tuning and writer buffering.
// All zero/negative fields are replaced with defaults via sanitizeOptions.
type Options struct {
	CacheSizeBytes        int64
	BloomFilterBitsPerKey int
	MemTableSizeBytes     uint64
	L0CompactionThreshold int
	L0StopWritesThreshold int
	WriteQueueDepth       int
}

// Store implements qso.Gateway on Pebble.
type Store struct {
	path string
	opts Options

	openMu sync.Mutex
	db     *pebble.DB
	cache  *pebble.Cache
	writes chan writeRequest
	done   chan struct{}

	mu     sync.Mutex
	closed bool
	count  atomic.Int64
	seq    int64 // owned by the writer goroutine after open
}

var _ qso.Gateway = (*Store)(nil)

type writeKind int

const (
	writeCreateBatch writeKind = iota
	writeDelete
)

type writeRequest struct {
	kind           writeKind
	recs           []qso.Record
	skipDuplicates bool
	id             int64
	resp           chan writeResult
}

type writeResult struct {
	created []qso.Record
	deleted bool
	err     error
}

func sanitizeOptions(opts Options) Options {
	if opts.CacheSizeBytes <= 0 {
		opts.CacheSizeBytes = defaultCacheSizeBytes
	}
	if opts.BloomFilterBitsPerKey <= 0 {
		opts.BloomFilterBitsPerKey = defaultBloomFilterBits
	}
	if opts.MemTableSizeBytes <= 0 {
		opts.MemTableSizeBytes = defaultMemTableSizeBytes
	}
	if opts.L0CompactionThreshold <= 0 {
		opts.L0CompactionThreshold = defaultL0CompactionThreshold
	}
	if opts.L0StopWritesThreshold <= opts.L0CompactionThreshold {
		opts.L0StopWritesThreshold = defaultL0StopWritesThreshold
		if opts.L0StopWritesThreshold <= opts.L0CompactionThreshold {
			opts.L0StopWritesThreshold = opts.L0CompactionThreshold + 4
		}
	}
	if opts.WriteQueueDepth <= 0 {
		opts.WriteQueueDepth = defaultWriteQueueDepth
	}
	return opts
}

// New returns an unopened store rooted at path. Call EnsureReady (or use
// Open) before issuing operations.
func New(path string, opts Options) *Store {
	return &Store{path: path, opts: sanitizeOptions(opts)}
}

// Open constructs a store and readies it in one step.
func Open(ctx context.Context, path string, opts Options) (*Store, error) {
	s := New(path, opts)
	if err := s.EnsureReady(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Purpose: Open or create the Pebble database on first use.
// Key aspects: Idempotent; loads seq/count metadata and spins the single writer.
// Upstream: CLI startup, Open.
// Downstream: pebble.Open, writeLoop.
func (s *Store) EnsureReady(ctx context.Context) error {
	if s == nil {
		return errNotReady
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.openMu.Lock()
	defer s.openMu.Unlock()
	if s.db != nil {
		return nil
	}
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return errStoreClosed
	}
	path := s.path
	if strings.TrimSpace(path) == "" {
		return errors.New("qsostore: database path is empty")
	}
	if info, err := os.Stat(path); err == nil {
		if !info.IsDir() {
			return fmt.Errorf("qsostore: %s exists and is not a directory", path)
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("qsostore: stat path: %w", err)
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("qsostore: ensure directory: %w", err)
	}

	opts := s.opts
	pebbleOpts := &pebble.Options{
		Cache:                 pebble.NewCache(opts.CacheSizeBytes),
		MemTableSize:          opts.MemTableSizeBytes,
		L0CompactionThreshold: opts.L0CompactionThreshold,
		L0StopWritesThreshold: opts.L0StopWritesThreshold,
	}
	level := pebble.LevelOptions{
		FilterPolicy: bloom.FilterPolicy(opts.BloomFilterBitsPerKey),
		FilterType:   pebble.TableFilter,
	}
	pebbleOpts.Levels = make([]pebble.LevelOptions, 7)
	for i := range pebbleOpts.Levels {
		pebbleOpts.Levels[i] = level
	}

	db, err := pebble.Open(path, pebbleOpts)
	if err != nil {
		pebbleOpts.Cache.Unref()
		return fmt.Errorf("qsostore: open: %w", err)
	}
	count, err := loadCount(db)
	if err == nil {
		s.seq, err = loadSeq(db)
	}
	if err != nil {
		_ = db.Close()
		pebbleOpts.Cache.Unref()
		return err
	}

	s.db = db
	s.cache = pebbleOpts.Cache
	s.writes = make(chan writeRequest, opts.WriteQueueDepth)
	s.done = make(chan struct{})
	s.count.Store(count)
	go s.writeLoop()
	return nil
}

// Purpose: Close the underlying database handle.
// Key aspects: Drains the writer goroutine before closing Pebble.
// Upstream: CLI shutdown or tests.
// Downstream: writeLoop, db.Close.
func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	s.openMu.Lock()
	defer s.openMu.Unlock()
	if !s.closeWriter() || s.db == nil {
		return nil
	}
	<-s.done
	err := s.db.Close()
	if s.cache != nil {
		s.cache.Unref()
		s.cache = nil
	}
	return err
}

func (s *Store) Create(ctx context.Context, rec qso.Record) (qso.Record, error) {
	if !rec.Valid() {
		return qso.Record{}, qso.ErrInvalidRecord
	}
	result, err := s.submit(ctx, writeRequest{kind: writeCreateBatch, recs: []qso.Record{rec}})
	if err != nil {
		return qso.Record{}, err
	}
	if len(result.created) != 1 {
		return qso.Record{}, errors.New("qsostore: create produced no record")
	}
	return result.created[0], nil
}

// Purpose: Store many records, committing one Pebble batch per chunk.
// Key aspects: Rejects the call up front if any record is invalid; optional
// fingerprint-based duplicate skipping spans stored and in-flight records.
// Upstream: CLI import.
// Downstream: writeLoop.
func (s *Store) BulkCreate(ctx context.Context, recs []qso.Record, opts qso.BulkOptions) (int, error) {
	for i := range recs {
		if !recs[i].Valid() {
			return 0, fmt.Errorf("qsostore: record %d: %w", i, qso.ErrInvalidRecord)
		}
	}
	size := opts.BatchSize
	if size <= 0 {
		size = defaultBatchSize
	}
	written := 0
	for start := 0; start < len(recs); start += size {
		end := min(start+size, len(recs))
		result, err := s.submit(ctx, writeRequest{
			kind:           writeCreateBatch,
			recs:           recs[start:end],
			skipDuplicates: opts.SkipDuplicates,
		})
		if err != nil {
			return written, err
		}
		written += len(result.created)
	}
	return written, nil
}

func (s *Store) Delete(ctx context.Context, id int64) (bool, error) {
	result, err := s.submit(ctx, writeRequest{kind: writeDelete, id: id})
	if err != nil {
		return false, err
	}
	return result.deleted, nil
}

// Get returns (nil, nil) when id is unknown.
func (s *Store) Get(ctx context.Context, id int64) (*qso.Record, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	rec, found, err := getRecord(s.db, id)
	if err != nil || !found {
		return nil, err
	}
	return &rec, nil
}

func (s *Store) List(ctx context.Context, limit int, call string) ([]qso.Record, error) {
	return s.Search(ctx, qso.SearchQuery{Call: call, Limit: limit})
}

// Purpose: Return records matching q, newest first.
// Key aspects: Walks the time index in reverse and stops at the limit.
// Upstream: CLI list/search.
// Downstream: Pebble iterator, getRecord.
func (s *Store) Search(ctx context.Context, q qso.SearchQuery) ([]qso.Record, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	limit := q.Limit
	if limit <= 0 {
		limit = qso.DefaultLimit
	}
	call := strings.TrimSpace(q.Call)

	iter, err := s.db.NewIter(iterOptionsForPrefix(keyTimePrefix))
	if err != nil {
		return nil, fmt.Errorf("qsostore: search iterator: %w", err)
	}
	defer iter.Close()

	var out []qso.Record
	for iter.Last(); iter.Valid() && len(out) < limit; iter.Prev() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		id, ok := parseTimeKey(iter.Key())
		if !ok {
			continue
		}
		rec, found, err := getRecord(s.db, id)
		if err != nil {
			return nil, err
		}
		if !found || !matches(&rec, call, q) {
			continue
		}
		out = append(out, rec)
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("qsostore: iterate: %w", err)
	}
	return out, nil
}

func matches(rec *qso.Record, call string, q qso.SearchQuery) bool {
	if !strutil.ContainsFold(rec.Call, call) {
		return false
	}
	if q.Band != "" && qso.Value(rec.Band) != q.Band {
		return false
	}
	if q.Mode != "" && qso.Value(rec.Mode) != q.Mode {
		return false
	}
	if q.Grid != "" && qso.Value(rec.Grid) != q.Grid {
		return false
	}
	return true
}

// Count returns the cached record count maintained by the writer.
func (s *Store) Count(ctx context.Context) (int64, error) {
	if err := s.ready(ctx); err != nil {
		return 0, err
	}
	return s.count.Load(), nil
}

func (s *Store) ready(ctx context.Context) error {
	if s == nil {
		return errNotReady
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.openMu.Lock()
	db := s.db
	s.openMu.Unlock()
	if db == nil {
		return errNotReady
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errStoreClosed
	}
	return nil
}

func (s *Store) submit(ctx context.Context, req writeRequest) (writeResult, error) {
	if err := s.ready(ctx); err != nil {
		return writeResult{}, err
	}
	req.resp = make(chan writeResult, 1)
	if err := s.enqueue(req); err != nil {
		return writeResult{}, err
	}
	result := <-req.resp
	return result, result.err
}

func (s *Store) enqueue(req writeRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errStoreClosed
	}
	s.writes <- req
	return nil
}

func (s *Store) closeWriter() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.closed = true
	if s.writes != nil {
		close(s.writes)
	}
	return true
}

func (s *Store) writeLoop() {
	defer close(s.done)
	for req := range s.writes {
		result := writeResult{}
		switch req.kind {
		case writeCreateBatch:
			result.created, result.err = s.applyCreateBatch(req.recs, req.skipDuplicates)
		case writeDelete:
			result.deleted, result.err = s.applyDelete(req.id)
		default:
			result.err = fmt.Errorf("qsostore: unknown write request")
		}
		req.resp <- result
	}
}

// applyCreateBatch assigns ids, writes the record and both indexes, and
// commits a single batch with Sync. The in-memory seq only advances once the
// commit succeeds.
func (s *Store) applyCreateBatch(recs []qso.Record, skipDuplicates bool) ([]qso.Record, error) {
	batch := s.db.NewBatch()
	defer batch.Close()

	seq := s.seq
	seen := make(map[uint64]struct{}, len(recs))
	created := make([]qso.Record, 0, len(recs))
	for _, in := range recs {
		rec := in.Clone()
		rec.StartAt = qso.Truncate(rec.StartAt)
		fp := qso.Fingerprint(rec)
		if skipDuplicates {
			if _, dup := seen[fp]; dup {
				continue
			}
			exists, err := hasKey(s.db, fingerprintKey(fp))
			if err != nil {
				return nil, err
			}
			if exists {
				continue
			}
		}
		seen[fp] = struct{}{}
		seq++
		rec.ID = seq
		if err := batch.Set(recordKey(rec.ID), encodeRecord(&rec), nil); err != nil {
			return nil, fmt.Errorf("qsostore: batch set: %w", err)
		}
		if err := batch.Set(timeKey(rec.StartAt, rec.ID), nil, nil); err != nil {
			return nil, fmt.Errorf("qsostore: batch index: %w", err)
		}
		if err := batch.Set(fingerprintKey(fp), encodeInt(rec.ID), nil); err != nil {
			return nil, fmt.Errorf("qsostore: batch fingerprint: %w", err)
		}
		created = append(created, rec)
	}
	if len(created) == 0 {
		return created, nil
	}
	newCount := s.count.Load() + int64(len(created))
	if err := batch.Set([]byte(metaSeqKey), encodeInt(seq), nil); err != nil {
		return nil, fmt.Errorf("qsostore: batch seq: %w", err)
	}
	if err := batch.Set([]byte(metaCountKey), encodeInt(newCount), nil); err != nil {
		return nil, fmt.Errorf("qsostore: batch count: %w", err)
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return nil, fmt.Errorf("qsostore: commit: %w", err)
	}
	s.seq = seq
	s.count.Store(newCount)
	return created, nil
}

func (s *Store) applyDelete(id int64) (bool, error) {
	rec, found, err := getRecord(s.db, id)
	if err != nil || !found {
		return false, err
	}
	batch := s.db.NewBatch()
	defer batch.Close()

	if err := batch.Delete(recordKey(id), nil); err != nil {
		return false, fmt.Errorf("qsostore: batch delete: %w", err)
	}
	if err := batch.Delete(timeKey(rec.StartAt, id), nil); err != nil {
		return false, fmt.Errorf("qsostore: batch delete index: %w", err)
	}
	fpKey := fingerprintKey(qso.Fingerprint(rec))
	owner, ok, err := getInt(s.db, fpKey)
	if err != nil {
		return false, err
	}
	if ok && owner == id {
		if err := batch.Delete(fpKey, nil); err != nil {
			return false, fmt.Errorf("qsostore: batch delete fingerprint: %w", err)
		}
	}
	newCount := max(s.count.Load()-1, 0)
	if err := batch.Set([]byte(metaCountKey), encodeInt(newCount), nil); err != nil {
		return false, fmt.Errorf("qsostore: batch count: %w", err)
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return false, fmt.Errorf("qsostore: commit: %w", err)
	}
	s.count.Store(newCount)
	return true, nil
}

func getRecord(db *pebble.DB, id int64) (qso.Record, bool, error) {
	value, closer, err := db.Get(recordKey(id))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return qso.Record{}, false, nil
		}
		return qso.Record{}, false, fmt.Errorf("qsostore: get %d: %w", id, err)
	}
	defer closer.Close()
	rec, err := decodeRecord(id, value)
	if err != nil {
		return qso.Record{}, false, fmt.Errorf("qsostore: decode %d: %w", id, err)
	}
	return rec, true, nil
}

func hasKey(db *pebble.DB, key []byte) (bool, error) {
	_, closer, err := db.Get(key)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("qsostore: get: %w", err)
	}
	closer.Close()
	return true, nil
}

func getInt(db *pebble.DB, key []byte) (int64, bool, error) {
	value, closer, err := db.Get(key)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("qsostore: get: %w", err)
	}
	defer closer.Close()
	v, ok := decodeInt(value)
	return v, ok, nil
}

func loadCount(db *pebble.DB) (int64, error) {
	count, ok, err := getInt(db, []byte(metaCountKey))
	if err != nil {
		return 0, fmt.Errorf("qsostore: read count: %w", err)
	}
	if ok && count >= 0 {
		return count, nil
	}
	count, err = computeCount(db)
	if err != nil {
		return 0, err
	}
	if err := db.Set([]byte(metaCountKey), encodeInt(count), pebble.Sync); err != nil {
		return 0, fmt.Errorf("qsostore: write count: %w", err)
	}
	return count, nil
}

func computeCount(db *pebble.DB) (int64, error) {
	iter, err := db.NewIter(iterOptionsForPrefix(keyRecordPrefix))
	if err != nil {
		return 0, fmt.Errorf("qsostore: count iterator: %w", err)
	}
	defer iter.Close()
	count := int64(0)
	for iter.First(); iter.Valid(); iter.Next() {
		count++
	}
	if err := iter.Error(); err != nil {
		return 0, fmt.Errorf("qsostore: count iterate: %w", err)
	}
	return count, nil
}

// loadSeq reads the id sequence, falling back to the highest stored id when
// the metadata is missing.
func loadSeq(db *pebble.DB) (int64, error) {
	seq, ok, err := getInt(db, []byte(metaSeqKey))
	if err != nil {
		return 0, fmt.Errorf("qsostore: read seq: %w", err)
	}
	if ok {
		return seq, nil
	}
	iter, err := db.NewIter(iterOptionsForPrefix(keyRecordPrefix))
	if err != nil {
		return 0, fmt.Errorf("qsostore: seq iterator: %w", err)
	}
	defer iter.Close()
	if iter.Last() {
		if id, ok := parseRecordKey(iter.Key()); ok {
			seq = id
		}
	}
	if err := iter.Error(); err != nil {
		return 0, fmt.Errorf("qsostore: seq iterate: %w", err)
	}
	return seq, nil
}

func iterOptionsForPrefix(prefix string) *pebble.IterOptions {
	lower := []byte(prefix)
	upper := prefixUpperBound(lower)
	return &pebble.IterOptions{LowerBound: lower, UpperBound: upper}
}
