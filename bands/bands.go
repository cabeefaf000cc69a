// Package bands maps amateur frequencies to band names and cleans up
// operator-typed band labels.
package bands

import "strings"

// Info describes an amateur band by name and frequency range in MHz.
type Info struct {
	Name string  // canonical band name (e.g., "20m", "70cm")
	Min  float64 // minimum frequency in MHz
	Max  float64 // maximum frequency in MHz
}

var table = []Info{
	{Name: "2200m", Min: 0.1357, Max: 0.1378},
	{Name: "630m", Min: 0.472, Max: 0.479},
	{Name: "160m", Min: 1.8, Max: 2.0},
	{Name: "80m", Min: 3.5, Max: 4.0},
	{Name: "60m", Min: 5.06, Max: 5.45},
	{Name: "40m", Min: 7.0, Max: 7.3},
	{Name: "30m", Min: 10.1, Max: 10.15},
	{Name: "20m", Min: 14.0, Max: 14.35},
	{Name: "17m", Min: 18.068, Max: 18.168},
	{Name: "15m", Min: 21.0, Max: 21.45},
	{Name: "12m", Min: 24.89, Max: 24.99},
	{Name: "10m", Min: 28.0, Max: 29.7},
	{Name: "6m", Min: 50, Max: 54},
	{Name: "2m", Min: 144, Max: 148},
	{Name: "1.25m", Min: 222, Max: 225},
	{Name: "70cm", Min: 420, Max: 450},
	{Name: "33cm", Min: 902, Max: 928},
	{Name: "23cm", Min: 1240, Max: 1300},
	{Name: "13cm", Min: 2300, Max: 2450},
}

var lookup = func() map[string]Info {
	m := make(map[string]Info, len(table))
	for _, entry := range table {
		m[Normalize(entry.Name)] = entry
	}
	return m
}()

// FromFreq returns the band containing mhz.
func FromFreq(mhz float64) (string, bool) {
	for _, b := range table {
		if mhz >= b.Min && mhz <= b.Max {
			return b.Name, true
		}
	}
	return "", false
}

// Normalize returns the lowercase band identifier for label. Meter words
// collapse to units, spaces are removed, and a bare number gains "m".
func Normalize(label string) string {
	cleaned := strings.ToLower(strings.TrimSpace(label))
	if cleaned == "" {
		return ""
	}
	replacements := []struct{ old, new string }{
		{"centimeters", "cm"},
		{"centimeter", "cm"},
		{"centimetres", "cm"},
		{"centimetre", "cm"},
		{"meters", "m"},
		{"meter", "m"},
		{"metres", "m"},
		{"metre", "m"},
	}
	for _, r := range replacements {
		cleaned = strings.ReplaceAll(cleaned, r.old, r.new)
	}
	cleaned = strings.ReplaceAll(cleaned, " ", "")
	if cleaned == "" {
		return ""
	}
	if last := cleaned[len(cleaned)-1]; last >= '0' && last <= '9' {
		cleaned += "m"
	}
	return cleaned
}

// Known reports whether label names a band in the table.
func Known(label string) bool {
	_, ok := lookup[Normalize(label)]
	return ok
}

// Names returns the canonical band names, lowest frequency first.
func Names() []string {
	names := make([]string, len(table))
	for i, entry := range table {
		names[i] = entry.Name
	}
	return names
}
