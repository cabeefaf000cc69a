package sqlstore

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"qsolog/internal/gatewaytest"
	"qsolog/qso"
)

func TestGatewayContract(t *testing.T) {
	gatewaytest.Run(t, func(t *testing.T, dir string) qso.Gateway {
		t.Helper()
		store, err := Open(context.Background(), filepath.Join(dir, "qsos.db"), Options{})
		if err != nil {
			t.Fatalf("open store: %v", err)
		}
		return store
	})
}

func TestEnsureReadyQuarantinesCorruptFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "qsos.db")
	if err := os.WriteFile(path, []byte(strings.Repeat("garbage ", 64)), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	var notices int
	store := New(path, Options{Logf: func(string, ...any) { notices++ }})
	if err := store.EnsureReady(context.Background()); err != nil {
		t.Fatalf("EnsureReady: %v", err)
	}
	defer store.Close()
	if notices == 0 {
		t.Fatalf("expected a quarantine notice")
	}
	if n, err := store.Count(context.Background()); err != nil || n != 0 {
		t.Fatalf("count = %d, %v", n, err)
	}
	moved, _ := filepath.Glob(filepath.Join(dir, "qsos.db.bad-*"))
	if len(moved) == 0 {
		t.Fatalf("expected quarantined file")
	}
}

func TestOperationsBeforeReady(t *testing.T) {
	store := New(filepath.Join(t.TempDir(), "qsos.db"), Options{})
	if _, err := store.List(context.Background(), 10, ""); err == nil {
		t.Fatalf("expected error before EnsureReady")
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := store.EnsureReady(context.Background()); err == nil {
		t.Fatalf("expected EnsureReady to fail after close")
	}
}
