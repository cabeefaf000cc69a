package qso

import (
	"strconv"
	"strings"

	"github.com/zeebo/xxh3"

	"qsolog/strutil"
)

// Fingerprint hashes the identifying attributes of a contact (call, start
// time, band and mode, normalized) so a re-imported log can be recognised.
func Fingerprint(r Record) uint64 {
	var b strings.Builder
	b.Grow(48)
	b.WriteString(strutil.NormalizeUpper(r.Call))
	b.WriteByte('|')
	b.WriteString(strconv.FormatInt(Truncate(r.StartAt).Unix(), 10))
	b.WriteByte('|')
	b.WriteString(strutil.NormalizeUpper(Value(r.Band)))
	b.WriteByte('|')
	b.WriteString(strutil.NormalizeUpper(Value(r.Mode)))
	return xxh3.HashString(b.String())
}
