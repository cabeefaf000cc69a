package qso

import (
	"context"
	"errors"
)

// ErrInvalidRecord is returned by gateways asked to store a record without a
// call or start time.
var ErrInvalidRecord = errors.New("qso: record requires call and start time")

// SearchQuery selects records by field predicates. Call matches as a
// case-insensitive substring; Band, Mode and Grid must match exactly. Empty
// predicates match everything.
type SearchQuery struct {
	Call  string
	Band  string
	Mode  string
	Grid  string
	Limit int
}

// BulkOptions tunes BulkCreate.
type BulkOptions struct {
	// BatchSize bounds how many records are committed per transaction.
	BatchSize int
	// SkipDuplicates drops records whose fingerprint is already stored.
	SkipDuplicates bool
}

// Gateway is the persistence contract consumed by the CLI. Implementations
// own their storage handle; callers construct one explicitly and call
// EnsureReady before use.
type Gateway interface {
	EnsureReady(ctx context.Context) error
	Create(ctx context.Context, rec Record) (Record, error)
	// Get returns (nil, nil) when id is unknown.
	Get(ctx context.Context, id int64) (*Record, error)
	// List returns up to limit records newest first, optionally filtered by
	// a case-insensitive call substring.
	List(ctx context.Context, limit int, call string) ([]Record, error)
	Search(ctx context.Context, q SearchQuery) ([]Record, error)
	Delete(ctx context.Context, id int64) (bool, error)
	// BulkCreate stores recs and returns how many were written.
	BulkCreate(ctx context.Context, recs []Record, opts BulkOptions) (int, error)
	Count(ctx context.Context) (int64, error)
	Close() error
}

// DefaultLimit is used when a list or search limit is not positive.
const DefaultLimit = 100
