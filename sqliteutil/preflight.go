// Package sqliteutil holds the shared SQLite open path and the startup health
// check run before a log database is used.
package sqliteutil

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const defaultBusyTimeout = 2 * time.Second

var sidecarSuffixes = []string{"-wal", "-shm", "-journal"}

// PreflightResult reports the outcome of a preflight check.
type PreflightResult struct {
	Healthy        bool   // Safe to open normally.
	Fresh          bool   // No database existed yet.
	Quarantined    bool   // The file failed its checks and was renamed aside.
	QuarantinePath string // New name of the main file when quarantined.
	Elapsed        time.Duration
	CheckError     error
}

// OpenDB opens path with the modernc driver on a single connection and applies
// the busy timeout and WAL journal mode.
func OpenDB(ctx context.Context, path string, busyTimeout time.Duration) (*sql.DB, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqliteutil: empty path")
	}
	if busyTimeout <= 0 {
		busyTimeout = defaultBusyTimeout
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("sqliteutil: ensure dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqliteutil: open: %w", err)
	}
	// One connection keeps pragmas and transactions on the same handle.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	pragmas := []string{
		fmt.Sprintf("pragma busy_timeout=%d", busyTimeout.Milliseconds()),
		"pragma journal_mode=WAL",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqliteutil: %s: %w", p, err)
		}
	}
	return db, nil
}

// Purpose: Verify an existing log database before the main open path.
// Key aspects: Bounded by timeout; a failed quick_check renames the file and
// its sidecars to <path>.bad-<ts> so a fresh database can be created.
// Upstream: sqlstore.EnsureReady.
// Downstream: OpenDB, quickCheck, quarantine.
func Preflight(ctx context.Context, path string, timeout time.Duration, logf func(string, ...any)) (PreflightResult, error) {
	if logf == nil {
		logf = log.Printf
	}
	if timeout <= 0 {
		timeout = defaultBusyTimeout
	}
	res := PreflightResult{}
	if strings.TrimSpace(path) == "" {
		return res, errors.New("sqliteutil: preflight: empty path")
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		res.Healthy = true
		res.Fresh = true
		return res, nil
	}

	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	db, err := OpenDB(ctx, path, timeout)
	if err == nil {
		res.CheckError = quickCheck(ctx, db)
		db.Close()
	} else {
		res.CheckError = err
	}
	res.Elapsed = time.Since(start)
	if res.CheckError == nil {
		res.Healthy = true
		return res, nil
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return res, fmt.Errorf("sqliteutil: preflight timed out after %s", timeout)
	}

	dest, err := quarantine(path, time.Now().UTC())
	if err != nil {
		return res, fmt.Errorf("sqliteutil: quarantine failed: %w (check=%v)", err, res.CheckError)
	}
	res.Quarantined = true
	res.QuarantinePath = dest
	logf("log db preflight: %v; moved to %s (elapsed=%s)", res.CheckError, dest, res.Elapsed)
	return res, nil
}

func quickCheck(ctx context.Context, db *sql.DB) error {
	rows, err := db.QueryContext(ctx, "pragma quick_check")
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		if err := rows.Scan(&status); err != nil {
			return err
		}
		if strings.TrimSpace(status) != "ok" {
			return fmt.Errorf("quick_check reported %q", status)
		}
	}
	return rows.Err()
}

// quarantine renames path and whichever sidecars exist, returning the new
// main-file path.
func quarantine(path string, now time.Time) (string, error) {
	suffix := ".bad-" + now.Format("20060102T150405Z")
	for _, p := range append([]string{path}, sidecars(path)...) {
		if err := os.Rename(p, p+suffix); err != nil && !os.IsNotExist(err) {
			return "", err
		}
	}
	return path + suffix, nil
}

func sidecars(path string) []string {
	out := make([]string, len(sidecarSuffixes))
	for i, s := range sidecarSuffixes {
		out[i] = path + s
	}
	return out
}
