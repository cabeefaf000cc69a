// Package qso defines the logged-contact record shared by the ADIF codec, the
// awards aggregator and the persistence gateways.
package qso

import (
	"time"

	"qsolog/strutil"
)

// Record is a single logged contact. Optional fields are pointers so that an
// absent value stays distinct from an empty string.
type Record struct {
	ID      int64 // 0 until assigned by a gateway
	Call    string
	StartAt time.Time

	Band    *string
	Mode    *string
	FreqMHz *float64

	RSTSent *string
	RSTRcvd *string

	Name    *string
	QTH     *string
	Grid    *string
	Country *string

	Comment *string
}

// Valid reports whether the mandatory call and start time are present.
func (r Record) Valid() bool {
	return strutil.NormalizeUpper(r.Call) != "" && !r.StartAt.IsZero()
}

// Truncate returns StartAt as UTC with whole-second precision, which is what
// every store and the ADIF codec round-trip.
func Truncate(t time.Time) time.Time {
	return t.UTC().Truncate(time.Second)
}

// Now returns the current UTC time without sub-second precision.
func Now() time.Time {
	return Truncate(time.Now())
}

// String returns a pointer to v, for populating optional fields.
func String(v string) *string {
	return &v
}

// OptString returns nil for an empty string and a pointer otherwise. The CLI
// uses it so unset flags stay absent.
func OptString(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

// Float returns a pointer to v.
func Float(v float64) *float64 {
	return &v
}

// Value dereferences an optional string, returning "" when absent.
func Value(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

// Present reports whether an optional string is set and non-empty.
func Present(p *string) bool {
	return p != nil && *p != ""
}

// Clone returns a deep copy so callers may mutate optional fields freely.
func (r Record) Clone() Record {
	out := r
	out.Band = cloneString(r.Band)
	out.Mode = cloneString(r.Mode)
	out.RSTSent = cloneString(r.RSTSent)
	out.RSTRcvd = cloneString(r.RSTRcvd)
	out.Name = cloneString(r.Name)
	out.QTH = cloneString(r.QTH)
	out.Grid = cloneString(r.Grid)
	out.Country = cloneString(r.Country)
	out.Comment = cloneString(r.Comment)
	if r.FreqMHz != nil {
		f := *r.FreqMHz
		out.FreqMHz = &f
	}
	return out
}

func cloneString(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
