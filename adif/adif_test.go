package adif

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"testing"
	"time"

	"qsolog/dispatch"
	"qsolog/qso"
)

func fullRecord() qso.Record {
	return qso.Record{
		Call:    "K1ABC",
		StartAt: time.Date(2024, 7, 4, 12, 34, 56, 0, time.UTC),
		Band:    qso.String("20m"),
		Mode:    qso.String("SSB"),
		FreqMHz: qso.Float(14.250),
		RSTSent: qso.String("59"),
		RSTRcvd: qso.String("57"),
		Name:    qso.String("Alice"),
		QTH:     qso.String("Boston"),
		Grid:    qso.String("FN42"),
		Country: qso.String("USA"),
		Comment: qso.String("Holiday activation"),
	}
}

func assertSameRecord(t *testing.T, got, want qso.Record) {
	t.Helper()
	if got.Call != want.Call {
		t.Fatalf("call: got %q want %q", got.Call, want.Call)
	}
	if !got.StartAt.Equal(want.StartAt) {
		t.Fatalf("start: got %v want %v", got.StartAt, want.StartAt)
	}
	pairs := []struct {
		name      string
		got, want *string
	}{
		{"band", got.Band, want.Band},
		{"mode", got.Mode, want.Mode},
		{"rst_sent", got.RSTSent, want.RSTSent},
		{"rst_rcvd", got.RSTRcvd, want.RSTRcvd},
		{"name", got.Name, want.Name},
		{"qth", got.QTH, want.QTH},
		{"grid", got.Grid, want.Grid},
		{"country", got.Country, want.Country},
		{"comment", got.Comment, want.Comment},
	}
	for _, p := range pairs {
		if (p.got == nil) != (p.want == nil) {
			t.Fatalf("%s: presence mismatch got=%v want=%v", p.name, p.got, p.want)
		}
		if p.got != nil && *p.got != *p.want {
			t.Fatalf("%s: got %q want %q", p.name, *p.got, *p.want)
		}
	}
	if (got.FreqMHz == nil) != (want.FreqMHz == nil) {
		t.Fatalf("freq presence mismatch")
	}
	if got.FreqMHz != nil && math.Abs(*got.FreqMHz-*want.FreqMHz) > 1e-6 {
		t.Fatalf("freq: got %v want %v", *got.FreqMHz, *want.FreqMHz)
	}
}

func TestRoundTripAllFields(t *testing.T) {
	want := fullRecord()
	got := Parse(Serialize([]qso.Record{want}))
	if len(got) != 1 {
		t.Fatalf("expected 1 record, got %d", len(got))
	}
	assertSameRecord(t, got[0], want)
}

func TestRoundTripNonASCII(t *testing.T) {
	want := fullRecord()
	want.Name = qso.String("Jürgen Müller")
	want.QTH = qso.String("Zürich")
	want.Comment = qso.String("73 de 東京 ✓")
	got := Parse(Serialize([]qso.Record{want}))
	if len(got) != 1 {
		t.Fatalf("expected 1 record, got %d", len(got))
	}
	assertSameRecord(t, got[0], want)
}

func TestParseEmpty(t *testing.T) {
	got := Parse("")
	if got == nil || len(got) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", got)
	}
}

func TestParseScenario(t *testing.T) {
	got := Parse("<QSO_DATE:8>20240704<TIME_ON:6>123456<CALL:5>K1ABC<BAND:3>20M<EOR>")
	if len(got) != 1 {
		t.Fatalf("expected 1 record, got %d", len(got))
	}
	r := got[0]
	if r.Call != "K1ABC" || qso.Value(r.Band) != "20M" {
		t.Fatalf("unexpected record %+v", r)
	}
	if !r.StartAt.Equal(time.Date(2024, 7, 4, 12, 34, 56, 0, time.UTC)) {
		t.Fatalf("unexpected start %v", r.StartAt)
	}
	if r.Mode != nil || r.FreqMHz != nil || r.RSTSent != nil || r.RSTRcvd != nil || r.Name != nil ||
		r.QTH != nil || r.Grid != nil || r.Country != nil || r.Comment != nil {
		t.Fatalf("expected other optional fields absent: %+v", r)
	}
}

func TestParseSkipsIncompleteChunk(t *testing.T) {
	text := "<CALL:5>K1ABC<QSO_DATE:8>20240704<EOR>" +
		"<CALL:5>W6XYZ<QSO_DATE:8>20240705<TIME_ON:4>0102<EOR>"
	got := Parse(text)
	if len(got) != 1 || got[0].Call != "W6XYZ" {
		t.Fatalf("expected only the complete sibling, got %+v", got)
	}
	if !got[0].StartAt.Equal(time.Date(2024, 7, 5, 1, 2, 0, 0, time.UTC)) {
		t.Fatalf("expected HHMM time with zero seconds, got %v", got[0].StartAt)
	}
}

func TestParseDropsUnterminatedTrailingChunk(t *testing.T) {
	rec := "<CALL:5>K1ABC<QSO_DATE:8>20240704<TIME_ON:6>123456"
	if got := Parse(rec); len(got) != 0 {
		t.Fatalf("record without <EOR> must be dropped, got %d", len(got))
	}
	if got := Parse(rec + "<EOR>" + rec); len(got) != 1 {
		t.Fatalf("expected only the terminated record, got %d", len(got))
	}
}

func TestParseHeaderAndTypeHints(t *testing.T) {
	text := "<ADIF_VER:3>3.1\n<PROGRAMID:13>W4GNS Logger\n<EOH>\n" +
		"<call:5:S>k1abc <qso_date:8:D>20240704 <time_on:6:T>123456 <freq:6:N>14.074 <EOR>\n"
	got := Parse(text)
	if len(got) != 1 {
		t.Fatalf("expected 1 record, got %d", len(got))
	}
	if got[0].Call != "k1abc" {
		t.Fatalf("call must be kept as sent, got %q", got[0].Call)
	}
	if got[0].FreqMHz == nil || *got[0].FreqMHz != 14.074 {
		t.Fatalf("unexpected freq %v", got[0].FreqMHz)
	}
}

func TestParseTagWithoutLengthSkipped(t *testing.T) {
	text := "<APP_X>junk<NOTE:abc>zz<CALL:5>K1ABC<QSO_DATE:8>20240704<TIME_ON:4>1234<EOR>"
	got := Parse(text)
	if len(got) != 1 || got[0].Call != "K1ABC" {
		t.Fatalf("unexpected %+v", got)
	}
}

func TestParseUnclosedMarkupStopsChunk(t *testing.T) {
	text := "<CALL:5>K1ABC<QSO_DATE:8>20240704<TIME_ON:4>1234<BAND:3>20M<MODE:3 FT8<EOR>"
	got := Parse(text)
	if len(got) != 1 {
		t.Fatalf("expected record scanned up to broken tag, got %d", len(got))
	}
	if qso.Value(got[0].Band) != "20M" || got[0].Mode != nil {
		t.Fatalf("unexpected fields %+v", got[0])
	}

	broken := "<CALL:5>K1ABC<QSO_DATE:8>20240704<TIME_ON:4 1234<EOR>"
	if got := Parse(broken); len(got) != 0 {
		t.Fatalf("expected chunk without TIME_ON to be dropped")
	}
}

func TestParseInvalidDateTime(t *testing.T) {
	cases := []struct{ date, clock string }{
		{"2024074", "1234"},
		{"20240230", "1234"},
		{"20241301", "1234"},
		{"2024O704", "1234"},
		{"20240704", "123"},
		{"20240704", "2460"},
		{"20240704", "1260"},
		{"20240704", "12345x"},
		{"20240704", "12:3"},
		{"00010101", "0000"},
		{"00010101", "000000"},
	}
	for _, tc := range cases {
		text := fmt.Sprintf("<CALL:5>K1ABC<QSO_DATE:%d>%s<TIME_ON:%d>%s<EOR>", len(tc.date), tc.date, len(tc.clock), tc.clock)
		if got := Parse(text); len(got) != 0 {
			t.Fatalf("date=%q time=%q: expected skip, got %+v", tc.date, tc.clock, got)
		}
	}
}

func TestParseEarliestNonZeroInstant(t *testing.T) {
	got := Parse("<CALL:5>K1ABC<QSO_DATE:8>00010101<TIME_ON:6>000001<EOR>")
	if len(got) != 1 || got[0].StartAt.IsZero() || !got[0].Valid() {
		t.Fatalf("expected a valid record one second after the zero time, got %+v", got)
	}
}

func TestParseBadFreqDropsFieldOnly(t *testing.T) {
	got := Parse("<CALL:5>K1ABC<QSO_DATE:8>20240704<TIME_ON:4>1234<FREQ:4>abcd<EOR>")
	if len(got) != 1 {
		t.Fatalf("expected record, got %d", len(got))
	}
	if got[0].FreqMHz != nil {
		t.Fatalf("expected absent freq, got %v", *got[0].FreqMHz)
	}
}

func TestParseEmptyValueIsPresent(t *testing.T) {
	got := Parse("<CALL:5>K1ABC<QSO_DATE:8>20240704<TIME_ON:4>1234<NAME:0><EOR>")
	if len(got) != 1 {
		t.Fatalf("expected record")
	}
	if got[0].Name == nil || *got[0].Name != "" {
		t.Fatalf("expected present empty name, got %v", got[0].Name)
	}
	if got[0].QTH != nil {
		t.Fatalf("expected absent qth")
	}
}

func TestParseMissingCall(t *testing.T) {
	if got := Parse("<CALL:0><QSO_DATE:8>20240704<TIME_ON:4>1234<EOR>"); len(got) != 0 {
		t.Fatalf("expected empty call to be skipped")
	}
}

func TestParseOverlongLengthClamps(t *testing.T) {
	got := Parse("<QSO_DATE:8>20240704<TIME_ON:4>1234<CALL:99>K1ABC<EOR>")
	if len(got) != 1 || got[0].Call != "K1ABC" {
		t.Fatalf("expected value clamped at chunk end, got %+v", got)
	}
}

func TestSerializeLayout(t *testing.T) {
	r := qso.Record{
		Call:    "K1ABC",
		StartAt: time.Date(2024, 7, 4, 12, 34, 56, 0, time.UTC),
		Band:    qso.String("20M"),
		Mode:    qso.String(""),
		FreqMHz: qso.Float(14.0),
	}
	want := "<ADIF_VER:3>3.1\n<PROGRAMID:13>W4GNS Logger\n<EOH>\n" +
		"<QSO_DATE:8>20240704<TIME_ON:6>123456<CALL:5>K1ABC<BAND:3>20M<FREQ:2>14<EOR>\n"
	if got := Serialize([]qso.Record{r}); got != want {
		t.Fatalf("unexpected output:\n%s\nwant:\n%s", got, want)
	}
}

func TestSerializeUsesUTC(t *testing.T) {
	loc := time.FixedZone("EDT", -4*3600)
	r := qso.Record{Call: "K1ABC", StartAt: time.Date(2024, 7, 4, 20, 0, 0, 0, loc)}
	out := Serialize([]qso.Record{r})
	if !strings.Contains(out, "<QSO_DATE:8>20240705<TIME_ON:6>000000") {
		t.Fatalf("expected UTC conversion, got %s", out)
	}
}

func TestSerializeByteLengths(t *testing.T) {
	r := qso.Record{Call: "K1ABC", StartAt: time.Date(2024, 7, 4, 0, 0, 0, 0, time.UTC), Name: qso.String("Jürgen")}
	if out := Serialize([]qso.Record{r}); !strings.Contains(out, "<NAME:7>Jürgen") {
		t.Fatalf("expected byte length 7 for Jürgen, got %s", out)
	}
}

func TestWriteMatchesSerialize(t *testing.T) {
	recs := []qso.Record{fullRecord(), fullRecord()}
	var b strings.Builder
	if err := Write(&b, recs); err != nil {
		t.Fatalf("write: %v", err)
	}
	if b.String() != Serialize(recs) {
		t.Fatalf("Write and Serialize differ")
	}
}

func TestFormatFreq(t *testing.T) {
	cases := map[float64]string{
		14.25:       "14.25",
		14.0:        "14",
		7.0745:      "7.0745",
		0.0:         "0",
		144.1740001: "144.174",
		1.2345678:   "1.234568",
	}
	for in, want := range cases {
		if got := FormatFreq(in); got != want {
			t.Fatalf("FormatFreq(%v)=%q want %q", in, got, want)
		}
	}
}

func syntheticADIF(n int) string {
	var b strings.Builder
	b.WriteString("<ADIF_VER:3>3.1<EOH>")
	for i := 0; i < n; i++ {
		call := fmt.Sprintf("K%dABC", i)
		fmt.Fprintf(&b, "<CALL:%d>%s<QSO_DATE:8>20240704<TIME_ON:6>1234%02d<BAND:3>20M<EOR>", len(call), call, i%60)
		if i%17 == 0 {
			b.WriteString("<CALL:4>BAD1<QSO_DATE:8>20240704<EOR>")
		}
	}
	return b.String()
}

func callsOf(recs []qso.Record) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.Call
	}
	return out
}

func TestParseParallelMatchesSequential(t *testing.T) {
	text := syntheticADIF(600)
	policy := dispatch.NewPolicy(dispatch.Host{Physical: 4, Logical: 8})
	par := ParseParallel(context.Background(), text, Options{Workers: 4, Policy: &policy})
	seq := decodeChunks(splitRecords(text))
	if len(par) != 600 || len(seq) != 600 {
		t.Fatalf("expected 600 records, got par=%d seq=%d", len(par), len(seq))
	}
	a, b := callsOf(par), callsOf(seq)
	sort.Strings(a)
	sort.Strings(b)
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("record sets differ at %d: %s vs %s", i, a[i], b[i])
		}
	}
}

func TestParseParallelBelowThresholdIsSequential(t *testing.T) {
	text := syntheticADIF(50)
	policy := dispatch.NewPolicy(dispatch.Host{Physical: 4, Logical: 8})
	par := ParseParallel(context.Background(), text, Options{Policy: &policy})
	seq := Parse(text)
	if len(par) != len(seq) {
		t.Fatalf("length mismatch %d vs %d", len(par), len(seq))
	}
	for i := range par {
		if par[i].Call != seq[i].Call {
			t.Fatalf("order differs at %d", i)
		}
	}
}

func TestParseAutoParallelLargeInput(t *testing.T) {
	got := Parse(syntheticADIF(1200))
	if len(got) != 1200 {
		t.Fatalf("expected 1200 records, got %d", len(got))
	}
}

func TestParseParallelCanceledFallsBack(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	policy := dispatch.NewPolicy(dispatch.Host{Physical: 2, Logical: 2})
	got := ParseParallel(ctx, syntheticADIF(200), Options{Policy: &policy})
	if len(got) != 200 {
		t.Fatalf("expected sequential fallback to decode all 200, got %d", len(got))
	}
}
