// Package gatewaytest exercises a qso.Gateway implementation against the
// behaviour the CLI relies on. Store packages call Run from their tests.
package gatewaytest

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"qsolog/qso"
)

// Opener returns a ready gateway backed by fresh storage under dir. Reopen
// calls with the same dir must see previously committed data.
type Opener func(t *testing.T, dir string) qso.Gateway

var base = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func sample(call string, offset time.Duration, band, mode, grid string) qso.Record {
	return qso.Record{
		Call:    call,
		StartAt: base.Add(offset),
		Band:    qso.OptString(band),
		Mode:    qso.OptString(mode),
		Grid:    qso.OptString(grid),
	}
}

// Run executes the gateway contract subtests.
func Run(t *testing.T, open Opener) {
	t.Run("CreateGet", func(t *testing.T) { testCreateGet(t, open) })
	t.Run("ListNewestFirst", func(t *testing.T) { testListNewestFirst(t, open) })
	t.Run("Search", func(t *testing.T) { testSearch(t, open) })
	t.Run("Delete", func(t *testing.T) { testDelete(t, open) })
	t.Run("BulkCreate", func(t *testing.T) { testBulkCreate(t, open) })
	t.Run("SkipDuplicates", func(t *testing.T) { testSkipDuplicates(t, open) })
	t.Run("Reopen", func(t *testing.T) { testReopen(t, open) })
	t.Run("InvalidRecord", func(t *testing.T) { testInvalidRecord(t, open) })
}

func testCreateGet(t *testing.T, open Opener) {
	ctx := context.Background()
	gw := open(t, t.TempDir())
	defer gw.Close()

	if err := gw.EnsureReady(ctx); err != nil {
		t.Fatalf("second EnsureReady: %v", err)
	}
	in := qso.Record{
		Call:    "K1ABC",
		StartAt: time.Date(2024, 1, 15, 14, 30, 45, 999, time.UTC),
		Band:    qso.String("20m"),
		Mode:    qso.String("SSB"),
		FreqMHz: qso.Float(14.074),
		RSTSent: qso.String("59"),
		RSTRcvd: qso.String("57"),
		Name:    qso.String("Zoë"),
		QTH:     qso.String(""),
		Grid:    qso.String("FN42"),
		Country: qso.String("United States"),
		Comment: qso.String("first"),
	}
	created, err := gw.Create(ctx, in)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.ID <= 0 {
		t.Fatalf("expected positive id, got %d", created.ID)
	}
	got, err := gw.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil {
		t.Fatalf("expected record %d", created.ID)
	}
	if !got.StartAt.Equal(time.Date(2024, 1, 15, 14, 30, 45, 0, time.UTC)) {
		t.Fatalf("start not truncated: %v", got.StartAt)
	}
	if got.FreqMHz == nil || *got.FreqMHz != 14.074 {
		t.Fatalf("freq mismatch: %v", got.FreqMHz)
	}
	if qso.Value(got.Name) != "Zoë" || qso.Value(got.Comment) != "first" {
		t.Fatalf("strings mismatch: %+v", got)
	}
	if got.QTH == nil || *got.QTH != "" {
		t.Fatalf("expected present empty QTH, got %v", got.QTH)
	}
	if got.Call != "K1ABC" || qso.Value(got.Grid) != "FN42" {
		t.Fatalf("unexpected record %+v", got)
	}

	missing, err := gw.Get(ctx, created.ID+1000)
	if err != nil || missing != nil {
		t.Fatalf("expected (nil, nil) for unknown id, got (%v, %v)", missing, err)
	}
	if n, err := gw.Count(ctx); err != nil || n != 1 {
		t.Fatalf("count = %d, %v; want 1", n, err)
	}
}

func testListNewestFirst(t *testing.T, open Opener) {
	ctx := context.Background()
	gw := open(t, t.TempDir())
	defer gw.Close()

	for i, call := range []string{"W1AW", "K1ABC", "N0CALL", "W1XYZ"} {
		if _, err := gw.Create(ctx, sample(call, time.Duration(i)*time.Hour, "20m", "CW", "")); err != nil {
			t.Fatalf("create %s: %v", call, err)
		}
	}
	// Earlier than everything else, inserted last.
	if _, err := gw.Create(ctx, sample("VE3OLD", -time.Hour, "40m", "CW", "")); err != nil {
		t.Fatalf("create old: %v", err)
	}

	all, err := gw.List(ctx, 0, "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	want := []string{"W1XYZ", "N0CALL", "K1ABC", "W1AW", "VE3OLD"}
	if got := calls(all); fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("order = %v; want %v", got, want)
	}

	limited, err := gw.List(ctx, 2, "")
	if err != nil {
		t.Fatalf("list limited: %v", err)
	}
	if len(limited) != 2 || limited[0].Call != "W1XYZ" {
		t.Fatalf("limited list = %v", calls(limited))
	}

	w1, err := gw.List(ctx, 10, "w1")
	if err != nil {
		t.Fatalf("list filtered: %v", err)
	}
	if got := calls(w1); fmt.Sprint(got) != "[W1XYZ W1AW]" {
		t.Fatalf("filtered = %v", got)
	}
}

func testSearch(t *testing.T, open Opener) {
	ctx := context.Background()
	gw := open(t, t.TempDir())
	defer gw.Close()

	recs := []qso.Record{
		sample("K1ABC", 0, "20m", "SSB", "FN42"),
		sample("K1ABD", time.Minute, "40m", "SSB", "FN42"),
		sample("W1AW", 2*time.Minute, "20m", "CW", "FN31"),
		sample("DL1ABC", 3*time.Minute, "20m", "SSB", ""),
	}
	if _, err := gw.BulkCreate(ctx, recs, qso.BulkOptions{}); err != nil {
		t.Fatalf("bulk: %v", err)
	}

	cases := []struct {
		name string
		q    qso.SearchQuery
		want string
	}{
		{"call substring", qso.SearchQuery{Call: "1ab"}, "[DL1ABC K1ABD K1ABC]"},
		{"band", qso.SearchQuery{Band: "20m"}, "[DL1ABC W1AW K1ABC]"},
		{"band and mode", qso.SearchQuery{Band: "20m", Mode: "SSB"}, "[DL1ABC K1ABC]"},
		{"grid", qso.SearchQuery{Grid: "FN42"}, "[K1ABD K1ABC]"},
		{"grid exact", qso.SearchQuery{Grid: "fn42"}, "[]"},
		{"limit", qso.SearchQuery{Band: "20m", Limit: 1}, "[DL1ABC]"},
		{"none", qso.SearchQuery{Call: "ZZ9"}, "[]"},
	}
	for _, tc := range cases {
		got, err := gw.Search(ctx, tc.q)
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if fmt.Sprint(calls(got)) != tc.want {
			t.Fatalf("%s: got %v want %s", tc.name, calls(got), tc.want)
		}
	}
}

func testDelete(t *testing.T, open Opener) {
	ctx := context.Background()
	gw := open(t, t.TempDir())
	defer gw.Close()

	rec, err := gw.Create(ctx, sample("K1ABC", 0, "20m", "SSB", ""))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	ok, err := gw.Delete(ctx, rec.ID)
	if err != nil || !ok {
		t.Fatalf("delete = %v, %v; want true", ok, err)
	}
	ok, err = gw.Delete(ctx, rec.ID)
	if err != nil || ok {
		t.Fatalf("second delete = %v, %v; want false", ok, err)
	}
	if got, _ := gw.Get(ctx, rec.ID); got != nil {
		t.Fatalf("record still present: %+v", got)
	}
	if n, _ := gw.Count(ctx); n != 0 {
		t.Fatalf("count after delete = %d", n)
	}
	if list, _ := gw.List(ctx, 10, ""); len(list) != 0 {
		t.Fatalf("list after delete = %v", calls(list))
	}
	// The same contact can be stored again after deletion.
	n, err := gw.BulkCreate(ctx, []qso.Record{rec}, qso.BulkOptions{SkipDuplicates: true})
	if err != nil || n != 1 {
		t.Fatalf("re-add after delete = %d, %v", n, err)
	}
}

func testBulkCreate(t *testing.T, open Opener) {
	ctx := context.Background()
	gw := open(t, t.TempDir())
	defer gw.Close()

	recs := make([]qso.Record, 0, 25)
	for i := range 25 {
		recs = append(recs, sample(fmt.Sprintf("K%dAA", i), time.Duration(i)*time.Minute, "20m", "FT8", ""))
	}
	n, err := gw.BulkCreate(ctx, recs, qso.BulkOptions{BatchSize: 7})
	if err != nil {
		t.Fatalf("bulk: %v", err)
	}
	if n != len(recs) {
		t.Fatalf("written = %d; want %d", n, len(recs))
	}
	if count, _ := gw.Count(ctx); count != int64(len(recs)) {
		t.Fatalf("count = %d", count)
	}
	n, err = gw.BulkCreate(ctx, nil, qso.BulkOptions{})
	if err != nil || n != 0 {
		t.Fatalf("empty bulk = %d, %v", n, err)
	}
}

func testSkipDuplicates(t *testing.T, open Opener) {
	ctx := context.Background()
	gw := open(t, t.TempDir())
	defer gw.Close()

	first := sample("K1ABC", 0, "20m", "SSB", "")
	if _, err := gw.Create(ctx, first); err != nil {
		t.Fatalf("create: %v", err)
	}
	dupCase := sample("k1abc", 0, "20M", "ssb", "FN42")
	other := sample("K1ABC", time.Minute, "20m", "SSB", "")
	n, err := gw.BulkCreate(ctx, []qso.Record{dupCase, other, other}, qso.BulkOptions{SkipDuplicates: true})
	if err != nil {
		t.Fatalf("bulk: %v", err)
	}
	if n != 1 {
		t.Fatalf("written = %d; want 1", n)
	}
	n, err = gw.BulkCreate(ctx, []qso.Record{first}, qso.BulkOptions{})
	if err != nil || n != 1 {
		t.Fatalf("without skip = %d, %v; want 1", n, err)
	}
	if count, _ := gw.Count(ctx); count != 3 {
		t.Fatalf("count = %d; want 3", count)
	}
}

func testReopen(t *testing.T, open Opener) {
	ctx := context.Background()
	dir := t.TempDir()
	gw := open(t, dir)
	first, err := gw.Create(ctx, sample("K1ABC", 0, "20m", "SSB", ""))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := gw.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	gw = open(t, dir)
	defer gw.Close()
	if n, _ := gw.Count(ctx); n != 1 {
		t.Fatalf("count after reopen = %d", n)
	}
	second, err := gw.Create(ctx, sample("W1AW", time.Hour, "40m", "CW", ""))
	if err != nil {
		t.Fatalf("create after reopen: %v", err)
	}
	if second.ID <= first.ID {
		t.Fatalf("id reused: first %d second %d", first.ID, second.ID)
	}
}

func testInvalidRecord(t *testing.T, open Opener) {
	ctx := context.Background()
	gw := open(t, t.TempDir())
	defer gw.Close()

	if _, err := gw.Create(ctx, qso.Record{Call: "  ", StartAt: base}); !errors.Is(err, qso.ErrInvalidRecord) {
		t.Fatalf("blank call err = %v", err)
	}
	if _, err := gw.Create(ctx, qso.Record{Call: "K1ABC"}); !errors.Is(err, qso.ErrInvalidRecord) {
		t.Fatalf("zero start err = %v", err)
	}
	_, err := gw.BulkCreate(ctx, []qso.Record{sample("K1ABC", 0, "", "", ""), {Call: "X"}}, qso.BulkOptions{})
	if !errors.Is(err, qso.ErrInvalidRecord) {
		t.Fatalf("bulk err = %v", err)
	}
	if n, _ := gw.Count(ctx); n != 0 {
		t.Fatalf("invalid bulk wrote %d records", n)
	}
}

func calls(recs []qso.Record) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.Call
	}
	return out
}
