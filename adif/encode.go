package adif

import (
	"bufio"
	"io"
	"strconv"
	"strings"

	"qsolog/qso"
)

const (
	dateLayout = "20060102"
	timeLayout = "150405"
)

// headerLines is the fixed export header. PROGRAMID carries length 13 exactly
// as W4GNS Logger writes it.
var headerLines = []string{
	"<ADIF_VER:3>3.1",
	"<PROGRAMID:13>W4GNS Logger",
	"<EOH>",
}

// Serialize renders records as ADIF text: a short header followed by one
// <EOR>-terminated line per record, in iteration order.
func Serialize(records []qso.Record) string {
	var b strings.Builder
	_ = write(&b, records)
	return b.String()
}

// Write streams the same bytes Serialize returns to w.
func Write(w io.Writer, records []qso.Record) error {
	bw := bufio.NewWriter(w)
	if err := write(bw, records); err != nil {
		return err
	}
	return bw.Flush()
}

type stringWriter interface {
	WriteString(string) (int, error)
}

func write(w stringWriter, records []qso.Record) error {
	if _, err := w.WriteString(strings.Join(headerLines, "\n")); err != nil {
		return err
	}
	for i := range records {
		if _, err := w.WriteString("\n" + encodeRecord(&records[i])); err != nil {
			return err
		}
	}
	_, err := w.WriteString("\n")
	return err
}

func encodeRecord(r *qso.Record) string {
	at := r.StartAt.UTC()
	var b strings.Builder
	b.WriteString(field(tagQSODate, at.Format(dateLayout)))
	b.WriteString(field(tagTimeOn, at.Format(timeLayout)))
	b.WriteString(field(tagCall, r.Call))
	writeOptional(&b, tagBand, r.Band)
	writeOptional(&b, tagMode, r.Mode)
	if r.FreqMHz != nil {
		b.WriteString(field(tagFreq, FormatFreq(*r.FreqMHz)))
	}
	writeOptional(&b, tagRSTSent, r.RSTSent)
	writeOptional(&b, tagRSTRcvd, r.RSTRcvd)
	writeOptional(&b, tagName, r.Name)
	writeOptional(&b, tagQTH, r.QTH)
	writeOptional(&b, tagGrid, r.Grid)
	writeOptional(&b, tagCountry, r.Country)
	writeOptional(&b, tagComment, r.Comment)
	b.WriteString(tagEOR)
	return b.String()
}

func writeOptional(b *strings.Builder, tag string, v *string) {
	if qso.Present(v) {
		b.WriteString(field(tag, *v))
	}
}

// field renders one <TAG:LEN>VALUE token. LEN counts bytes, matching what
// scanFields consumes.
func field(tag, value string) string {
	return "<" + tag + ":" + strconv.Itoa(len(value)) + ">" + value
}

// FormatFreq prints MHz with up to six decimals and no trailing zeros.
func FormatFreq(mhz float64) string {
	s := strconv.FormatFloat(mhz, 'f', 6, 64)
	s = strings.TrimRight(s, "0")
	return strings.TrimSuffix(s, ".")
}
