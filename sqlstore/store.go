// Package sqlstore is the SQLite-backed QSO store. It shares the single
// connection discipline and preflight check from sqliteutil.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"qsolog/qso"
	"qsolog/sqliteutil"
)

const (
	defaultBatchSize   = 500
	defaultBusyTimeout = 5 * time.Second
)

var errNotReady = errors.New("sqlstore: store is not initialized")

const schema = `
CREATE TABLE IF NOT EXISTS qsos (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    call TEXT NOT NULL,
    start_at INTEGER NOT NULL,
    band TEXT,
    mode TEXT,
    freq_mhz REAL,
    rst_sent TEXT,
    rst_rcvd TEXT,
    name TEXT,
    qth TEXT,
    grid TEXT,
    country TEXT,
    comment TEXT,
    fingerprint INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_qsos_start ON qsos(start_at DESC, id DESC);
CREATE INDEX IF NOT EXISTS idx_qsos_call ON qsos(call);
CREATE INDEX IF NOT EXISTS idx_qsos_fingerprint ON qsos(fingerprint);`

const selectColumns = `id, call, start_at, band, mode, freq_mhz, rst_sent, rst_rcvd, name, qth, grid, country, comment`

// Options tunes the SQLite store.
type Options struct {
	BusyTimeout time.Duration
	// Logf receives preflight notices; defaults to log.Printf.
	Logf func(string, ...any)
}

// Store implements qso.Gateway on a single SQLite file.
type Store struct {
	path string
	opts Options

	mu     sync.Mutex
	db     *sql.DB
	closed bool
}

var _ qso.Gateway = (*Store)(nil)

// New returns an unopened store for the database file at path.
func New(path string, opts Options) *Store {
	if opts.BusyTimeout <= 0 {
		opts.BusyTimeout = defaultBusyTimeout
	}
	if opts.Logf == nil {
		opts.Logf = log.Printf
	}
	return &Store{path: path, opts: opts}
}

// Open constructs a store and readies it in one step.
func Open(ctx context.Context, path string, opts Options) (*Store, error) {
	s := New(path, opts)
	if err := s.EnsureReady(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Purpose: Open the database and create the schema on first use.
// Key aspects: Idempotent; runs the sqliteutil preflight before opening.
// Upstream: CLI startup, Open.
// Downstream: sqliteutil.Preflight, sqliteutil.OpenDB.
func (s *Store) EnsureReady(ctx context.Context) error {
	if s == nil {
		return errNotReady
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("sqlstore: store is closed")
	}
	if s.db != nil {
		return nil
	}
	if _, err := sqliteutil.Preflight(ctx, s.path, s.opts.BusyTimeout, s.opts.Logf); err != nil {
		return fmt.Errorf("sqlstore: %w", err)
	}
	db, err := sqliteutil.OpenDB(ctx, s.path, s.opts.BusyTimeout)
	if err != nil {
		return fmt.Errorf("sqlstore: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return fmt.Errorf("sqlstore: init schema: %w", err)
	}
	s.db = db
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *Store) handle() (*sql.DB, error) {
	if s == nil {
		return nil, errNotReady
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		if s.closed {
			return nil, errors.New("sqlstore: store is closed")
		}
		return nil, errNotReady
	}
	return s.db, nil
}

func (s *Store) Create(ctx context.Context, rec qso.Record) (qso.Record, error) {
	if !rec.Valid() {
		return qso.Record{}, qso.ErrInvalidRecord
	}
	db, err := s.handle()
	if err != nil {
		return qso.Record{}, err
	}
	rec = rec.Clone()
	rec.StartAt = qso.Truncate(rec.StartAt)
	id, err := insert(ctx, db, &rec)
	if err != nil {
		return qso.Record{}, err
	}
	rec.ID = id
	return rec, nil
}

// Purpose: Store many records in one transaction per batch.
// Key aspects: Invalid input rejects the call before any write; duplicate
// lookups run inside the transaction so they see rows added by the batch.
// Upstream: CLI import.
// Downstream: insert.
func (s *Store) BulkCreate(ctx context.Context, recs []qso.Record, opts qso.BulkOptions) (int, error) {
	for i := range recs {
		if !recs[i].Valid() {
			return 0, fmt.Errorf("sqlstore: record %d: %w", i, qso.ErrInvalidRecord)
		}
	}
	db, err := s.handle()
	if err != nil {
		return 0, err
	}
	size := opts.BatchSize
	if size <= 0 {
		size = defaultBatchSize
	}
	written := 0
	for start := 0; start < len(recs); start += size {
		end := min(start+size, len(recs))
		n, err := s.insertBatch(ctx, db, recs[start:end], opts.SkipDuplicates)
		if err != nil {
			return written, err
		}
		written += n
	}
	return written, nil
}

func (s *Store) insertBatch(ctx context.Context, db *sql.DB, recs []qso.Record, skipDuplicates bool) (int, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("sqlstore: begin: %w", err)
	}
	defer tx.Rollback()

	n := 0
	for _, in := range recs {
		rec := in.Clone()
		rec.StartAt = qso.Truncate(rec.StartAt)
		if skipDuplicates {
			var one int
			err := tx.QueryRowContext(ctx, `SELECT 1 FROM qsos WHERE fingerprint = ? LIMIT 1`, fingerprint(rec)).Scan(&one)
			if err == nil {
				continue
			}
			if !errors.Is(err, sql.ErrNoRows) {
				return 0, fmt.Errorf("sqlstore: duplicate lookup: %w", err)
			}
		}
		if _, err := insert(ctx, tx, &rec); err != nil {
			return 0, err
		}
		n++
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("sqlstore: commit: %w", err)
	}
	return n, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insert(ctx context.Context, db execer, rec *qso.Record) (int64, error) {
	res, err := db.ExecContext(ctx, `
INSERT INTO qsos (
    call, start_at, band, mode, freq_mhz, rst_sent, rst_rcvd,
    name, qth, grid, country, comment, fingerprint
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.Call,
		rec.StartAt.Unix(),
		nullString(rec.Band),
		nullString(rec.Mode),
		nullFloat(rec.FreqMHz),
		nullString(rec.RSTSent),
		nullString(rec.RSTRcvd),
		nullString(rec.Name),
		nullString(rec.QTH),
		nullString(rec.Grid),
		nullString(rec.Country),
		nullString(rec.Comment),
		fingerprint(*rec),
	)
	if err != nil {
		return 0, fmt.Errorf("sqlstore: insert %s: %w", rec.Call, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("sqlstore: insert id: %w", err)
	}
	return id, nil
}

// Get returns (nil, nil) when id is unknown.
func (s *Store) Get(ctx context.Context, id int64) (*qso.Record, error) {
	db, err := s.handle()
	if err != nil {
		return nil, err
	}
	row := db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM qsos WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlstore: get %d: %w", id, err)
	}
	return &rec, nil
}

func (s *Store) List(ctx context.Context, limit int, call string) ([]qso.Record, error) {
	return s.Search(ctx, qso.SearchQuery{Call: call, Limit: limit})
}

func (s *Store) Search(ctx context.Context, q qso.SearchQuery) ([]qso.Record, error) {
	db, err := s.handle()
	if err != nil {
		return nil, err
	}
	limit := q.Limit
	if limit <= 0 {
		limit = qso.DefaultLimit
	}
	var (
		where []string
		args  []any
	)
	if call := strings.ToUpper(strings.TrimSpace(q.Call)); call != "" {
		where = append(where, "instr(upper(call), ?) > 0")
		args = append(args, call)
	}
	for _, f := range []struct{ col, val string }{{"band", q.Band}, {"mode", q.Mode}, {"grid", q.Grid}} {
		if f.val != "" {
			where = append(where, f.col+" = ?")
			args = append(args, f.val)
		}
	}
	query := `SELECT ` + selectColumns + ` FROM qsos`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY start_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: search: %w", err)
	}
	defer rows.Close()
	var out []qso.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlstore: scan: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlstore: search rows: %w", err)
	}
	return out, nil
}

func (s *Store) Delete(ctx context.Context, id int64) (bool, error) {
	db, err := s.handle()
	if err != nil {
		return false, err
	}
	res, err := db.ExecContext(ctx, `DELETE FROM qsos WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("sqlstore: delete %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("sqlstore: delete %d: %w", id, err)
	}
	return n > 0, nil
}

func (s *Store) Count(ctx context.Context) (int64, error) {
	db, err := s.handle()
	if err != nil {
		return 0, err
	}
	var n int64
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM qsos`).Scan(&n); err != nil {
		return 0, fmt.Errorf("sqlstore: count: %w", err)
	}
	return n, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (qso.Record, error) {
	var (
		rec   qso.Record
		start int64
		freq  sql.NullFloat64
		strs  [9]sql.NullString
	)
	if err := row.Scan(&rec.ID, &rec.Call, &start, &strs[0], &strs[1], &freq,
		&strs[2], &strs[3], &strs[4], &strs[5], &strs[6], &strs[7], &strs[8]); err != nil {
		return qso.Record{}, err
	}
	rec.StartAt = time.Unix(start, 0).UTC()
	if freq.Valid {
		rec.FreqMHz = qso.Float(freq.Float64)
	}
	targets := []**string{&rec.Band, &rec.Mode, &rec.RSTSent, &rec.RSTRcvd, &rec.Name, &rec.QTH, &rec.Grid, &rec.Country, &rec.Comment}
	for i, dst := range targets {
		if strs[i].Valid {
			*dst = qso.String(strs[i].String)
		}
	}
	return rec, nil
}

func nullString(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}

func nullFloat(p *float64) sql.NullFloat64 {
	if p == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *p, Valid: true}
}

// fingerprint stores the unsigned hash in SQLite's signed INTEGER column.
func fingerprint(rec qso.Record) int64 {
	return int64(qso.Fingerprint(rec))
}
