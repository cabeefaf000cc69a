package qsostore

import (
	"bytes"
	"encoding/binary"
	"math"
	"time"

	"qsolog/qso"
)

const recordVersion = 1

const (
	keyRecordPrefix      = "q|"
	keyTimePrefix        = "t|"
	keyFingerprintPrefix = "f|"
	metaCountKey         = "meta|count"
	metaSeqKey           = "meta|seq"
)

// Presence bits for optional fields, in encoding order.
const (
	flagBand = 1 << iota
	flagMode
	flagFreq
	flagRSTSent
	flagRSTRcvd
	flagName
	flagQTH
	flagGrid
	flagCountry
	flagComment
)

type optionalSlot struct {
	flag uint16
	get  func(*qso.Record) **string
}

// optionalSlots lists the string fields in the order they are encoded.
var optionalSlots = []optionalSlot{
	{flagBand, func(r *qso.Record) **string { return &r.Band }},
	{flagMode, func(r *qso.Record) **string { return &r.Mode }},
	{flagRSTSent, func(r *qso.Record) **string { return &r.RSTSent }},
	{flagRSTRcvd, func(r *qso.Record) **string { return &r.RSTRcvd }},
	{flagName, func(r *qso.Record) **string { return &r.Name }},
	{flagQTH, func(r *qso.Record) **string { return &r.QTH }},
	{flagGrid, func(r *qso.Record) **string { return &r.Grid }},
	{flagCountry, func(r *qso.Record) **string { return &r.Country }},
	{flagComment, func(r *qso.Record) **string { return &r.Comment }},
}

// encodeRecord lays a record out as:
// version(1) | flags(2) | startUnix(8) | [freq bits(8)] | call | present strings...
// with strings prefixed by a uvarint length. The ID lives in the key.
func encodeRecord(r *qso.Record) []byte {
	var flags uint16
	for _, slot := range optionalSlots {
		if *slot.get(r) != nil {
			flags |= slot.flag
		}
	}
	if r.FreqMHz != nil {
		flags |= flagFreq
	}

	buf := make([]byte, 0, 64+len(r.Call))
	buf = append(buf, recordVersion)
	buf = binary.BigEndian.AppendUint16(buf, flags)
	buf = binary.BigEndian.AppendUint64(buf, uint64(qso.Truncate(r.StartAt).Unix()))
	if r.FreqMHz != nil {
		buf = binary.BigEndian.AppendUint64(buf, math.Float64bits(*r.FreqMHz))
	}
	buf = appendString(buf, r.Call)
	for _, slot := range optionalSlots {
		if p := *slot.get(r); p != nil {
			buf = appendString(buf, *p)
		}
	}
	return buf
}

func appendString(buf []byte, s string) []byte {
	buf = binary.AppendUvarint(buf, uint64(len(s)))
	return append(buf, s...)
}

func decodeRecord(id int64, raw []byte) (qso.Record, error) {
	if len(raw) < 11 || raw[0] != recordVersion {
		return qso.Record{}, errInvalidRecord
	}
	flags := binary.BigEndian.Uint16(raw[1:3])
	rec := qso.Record{
		ID:      id,
		StartAt: time.Unix(int64(binary.BigEndian.Uint64(raw[3:11])), 0).UTC(),
	}
	rest := raw[11:]
	if flags&flagFreq != 0 {
		if len(rest) < 8 {
			return qso.Record{}, errInvalidRecord
		}
		rec.FreqMHz = qso.Float(math.Float64frombits(binary.BigEndian.Uint64(rest[:8])))
		rest = rest[8:]
	}
	call, rest, ok := readString(rest)
	if !ok {
		return qso.Record{}, errInvalidRecord
	}
	rec.Call = call
	for _, slot := range optionalSlots {
		if flags&slot.flag == 0 {
			continue
		}
		var v string
		v, rest, ok = readString(rest)
		if !ok {
			return qso.Record{}, errInvalidRecord
		}
		*slot.get(&rec) = qso.String(v)
	}
	if len(rest) != 0 {
		return qso.Record{}, errInvalidRecord
	}
	return rec, nil
}

func readString(buf []byte) (string, []byte, bool) {
	n, size := binary.Uvarint(buf)
	if size <= 0 || uint64(len(buf)-size) < n {
		return "", nil, false
	}
	end := size + int(n)
	return string(buf[size:end]), buf[end:], true
}

func recordKey(id int64) []byte {
	return binary.BigEndian.AppendUint64([]byte(keyRecordPrefix), uint64(id))
}

func parseRecordKey(key []byte) (int64, bool) {
	if len(key) != len(keyRecordPrefix)+8 || !bytes.HasPrefix(key, []byte(keyRecordPrefix)) {
		return 0, false
	}
	return int64(binary.BigEndian.Uint64(key[len(keyRecordPrefix):])), true
}

// timeKey orders records by start time then id. The sign bit is flipped so
// pre-1970 timestamps still sort before later ones.
func timeKey(startAt time.Time, id int64) []byte {
	buf := make([]byte, 0, len(keyTimePrefix)+16)
	buf = append(buf, keyTimePrefix...)
	buf = binary.BigEndian.AppendUint64(buf, uint64(startAt.Unix())^(1<<63))
	return binary.BigEndian.AppendUint64(buf, uint64(id))
}

func parseTimeKey(key []byte) (int64, bool) {
	if len(key) != len(keyTimePrefix)+16 || !bytes.HasPrefix(key, []byte(keyTimePrefix)) {
		return 0, false
	}
	return int64(binary.BigEndian.Uint64(key[len(keyTimePrefix)+8:])), true
}

func fingerprintKey(fp uint64) []byte {
	return binary.BigEndian.AppendUint64([]byte(keyFingerprintPrefix), fp)
}

func encodeInt(v int64) []byte {
	return binary.BigEndian.AppendUint64(nil, uint64(v))
}

func decodeInt(raw []byte) (int64, bool) {
	if len(raw) != 8 {
		return 0, false
	}
	return int64(binary.BigEndian.Uint64(raw)), true
}

func prefixUpperBound(prefix []byte) []byte {
	if len(prefix) == 0 {
		return nil
	}
	upper := make([]byte, len(prefix))
	copy(upper, prefix)
	for i := len(upper) - 1; i >= 0; i-- {
		if upper[i] != 0xFF {
			upper[i]++
			return upper[:i+1]
		}
	}
	return nil
}
