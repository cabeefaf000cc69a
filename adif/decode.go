// Package adif converts between qso.Record collections and ADIF text, the
// <TAG:LENGTH>VALUE interchange format used by logging software. Decoding is
// tolerant: malformed records are dropped, never reported.
package adif

import (
	"context"
	"math"
	"strconv"
	"strings"
	"time"

	"qsolog/qso"
)

const (
	tagEOR = "<EOR>"

	tagCall    = "CALL"
	tagQSODate = "QSO_DATE"
	tagTimeOn  = "TIME_ON"
	tagBand    = "BAND"
	tagMode    = "MODE"
	tagFreq    = "FREQ"
	tagRSTSent = "RST_SENT"
	tagRSTRcvd = "RST_RCVD"
	tagName    = "NAME"
	tagQTH     = "QTH"
	tagGrid    = "GRIDSQUARE"
	tagCountry = "COUNTRY"
	tagComment = "COMMENT"
)

// optionalFields maps the free-text tags onto their record slots.
var optionalFields = []struct {
	tag string
	ptr func(*qso.Record) **string
}{
	{tagBand, func(r *qso.Record) **string { return &r.Band }},
	{tagMode, func(r *qso.Record) **string { return &r.Mode }},
	{tagRSTSent, func(r *qso.Record) **string { return &r.RSTSent }},
	{tagRSTRcvd, func(r *qso.Record) **string { return &r.RSTRcvd }},
	{tagName, func(r *qso.Record) **string { return &r.Name }},
	{tagQTH, func(r *qso.Record) **string { return &r.QTH }},
	{tagGrid, func(r *qso.Record) **string { return &r.Grid }},
	{tagCountry, func(r *qso.Record) **string { return &r.Country }},
	{tagComment, func(r *qso.Record) **string { return &r.Comment }},
}

// Parse decodes every complete record in text. It never fails: records that
// lack CALL, QSO_DATE or TIME_ON, or carry an invalid date or time, are
// skipped. Large inputs are decoded concurrently, in which case the result
// order may differ from the input order.
func Parse(text string) []qso.Record {
	chunks := splitRecords(text)
	if len(chunks) > AutoParallelChunks {
		return parseChunksParallel(context.Background(), chunks, Options{})
	}
	return decodeChunks(chunks)
}

// splitRecords cuts text on every <EOR>. Whatever follows the last <EOR> is
// an unterminated record and is dropped.
func splitRecords(text string) []string {
	if text == "" {
		return nil
	}
	parts := strings.Split(text, tagEOR)
	return parts[:len(parts)-1]
}

func decodeChunks(chunks []string) []qso.Record {
	out := make([]qso.Record, 0, len(chunks))
	for _, chunk := range chunks {
		if rec, ok := decodeChunk(chunk); ok {
			out = append(out, rec)
		}
	}
	return out
}

// decodeChunk turns one record body into a Record. Any panic is contained so
// a single bad chunk cannot take down the import.
func decodeChunk(chunk string) (rec qso.Record, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			rec, ok = qso.Record{}, false
		}
	}()
	fields := scanFields(chunk)
	if len(fields) == 0 {
		return qso.Record{}, false
	}
	return buildRecord(fields)
}

// scanFields collects TAG -> value pairs from a record body. Tags without a
// usable length are skipped without consuming a value; a '<' with no closing
// '>' ends the scan.
func scanFields(text string) map[string]string {
	fields := make(map[string]string)
	n := len(text)
	i := 0
	for i < n {
		if text[i] != '<' {
			i++
			continue
		}
		end := strings.IndexByte(text[i:], '>')
		if end < 0 {
			break
		}
		end += i
		parts := strings.Split(text[i+1:end], ":")
		name := strings.ToUpper(parts[0])
		i = end + 1
		if len(parts) < 2 {
			continue
		}
		length, ok := parseLength(parts[1])
		if !ok {
			continue
		}
		stop := i + length
		if stop > n || stop < i {
			stop = n
		}
		fields[name] = text[i:stop]
		i = stop
	}
	return fields
}

func parseLength(raw string) (int, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" || !allDigits(raw) {
		return 0, false
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

func buildRecord(fields map[string]string) (qso.Record, bool) {
	call := fields[tagCall]
	if strings.TrimSpace(call) == "" {
		return qso.Record{}, false
	}
	date, hasDate := fields[tagQSODate]
	clock, hasTime := fields[tagTimeOn]
	if !hasDate || !hasTime {
		return qso.Record{}, false
	}
	startAt, ok := parseTimestamp(date, clock)
	if !ok {
		return qso.Record{}, false
	}

	rec := qso.Record{Call: call, StartAt: startAt}
	for _, f := range optionalFields {
		if v, ok := fields[f.tag]; ok {
			*f.ptr(&rec) = qso.String(v)
		}
	}
	if raw, ok := fields[tagFreq]; ok {
		if freq, ok := parseFreq(raw); ok {
			rec.FreqMHz = qso.Float(freq)
		}
	}
	return rec, true
}

// parseTimestamp combines QSO_DATE (YYYYMMDD) and TIME_ON (HHMM[SS]) into a
// UTC time, rejecting non-digits and out-of-range components.
func parseTimestamp(date, clock string) (time.Time, bool) {
	if len(date) != 8 || !allDigits(date) {
		return time.Time{}, false
	}
	if len(clock) < 4 || !allDigits(clock[:4]) {
		return time.Time{}, false
	}
	year, _ := strconv.Atoi(date[0:4])
	month, _ := strconv.Atoi(date[4:6])
	day, _ := strconv.Atoi(date[6:8])
	hour, _ := strconv.Atoi(clock[0:2])
	minute, _ := strconv.Atoi(clock[2:4])
	second := 0
	if len(clock) >= 6 {
		if !allDigits(clock[4:6]) {
			return time.Time{}, false
		}
		second, _ = strconv.Atoi(clock[4:6])
	}
	if year < 1 || month < 1 || month > 12 || day < 1 || hour > 23 || minute > 59 || second > 59 {
		return time.Time{}, false
	}
	ts := time.Date(year, time.Month(month), day, hour, minute, second, 0, time.UTC)
	// time.Date normalizes overflow such as Feb 30; reject instead.
	if ts.Day() != day || int(ts.Month()) != month {
		return time.Time{}, false
	}
	// 0001-01-01 00:00:00 is the zero time, which records treat as unset.
	if ts.IsZero() {
		return time.Time{}, false
	}
	return ts, true
}

func parseFreq(raw string) (float64, bool) {
	f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
