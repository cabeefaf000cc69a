package qso

import "qsolog/strutil"

// Field names one of the record attributes that award statistics are computed
// over. The set is closed; see extractors.
type Field int

const (
	FieldCall Field = iota
	FieldBand
	FieldMode
	FieldGrid
	FieldCountry
)

var fieldNames = [...]string{
	FieldCall:    "call",
	FieldBand:    "band",
	FieldMode:    "mode",
	FieldGrid:    "grid",
	FieldCountry: "country",
}

var extractors = [...]func(*Record) string{
	FieldCall:    func(r *Record) string { return r.Call },
	FieldBand:    func(r *Record) string { return Value(r.Band) },
	FieldMode:    func(r *Record) string { return Value(r.Mode) },
	FieldGrid:    func(r *Record) string { return Value(r.Grid) },
	FieldCountry: func(r *Record) string { return Value(r.Country) },
}

// Fields lists every normalizable field in declaration order.
func Fields() []Field {
	return []Field{FieldCall, FieldBand, FieldMode, FieldGrid, FieldCountry}
}

func (f Field) String() string {
	if f < 0 || int(f) >= len(fieldNames) {
		return "unknown"
	}
	return fieldNames[f]
}

// Raw returns the unnormalized value of field f.
func (r *Record) Raw(f Field) string {
	if r == nil || f < 0 || int(f) >= len(extractors) {
		return ""
	}
	return extractors[f](r)
}

// Normalized returns the trimmed, upper-cased value of field f and false when
// the value is absent or blank.
func (r *Record) Normalized(f Field) (string, bool) {
	v := strutil.NormalizeUpper(r.Raw(f))
	return v, v != ""
}
