package awards

import (
	"qsolog/qso"
	"qsolog/strutil"
)

// Filter keeps records whose normalized band and mode equal the normalized
// filter values. An empty filter value matches every record.
func Filter(records []qso.Record, band, mode string) []qso.Record {
	band = strutil.NormalizeUpper(band)
	mode = strutil.NormalizeUpper(mode)
	if band == "" && mode == "" {
		return records
	}
	out := make([]qso.Record, 0, len(records))
	for i := range records {
		r := &records[i]
		if band != "" {
			if v, _ := r.Normalized(qso.FieldBand); v != band {
				continue
			}
		}
		if mode != "" {
			if v, _ := r.Normalized(qso.FieldMode); v != mode {
				continue
			}
		}
		out = append(out, *r)
	}
	return out
}
