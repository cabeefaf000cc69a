package cty

import (
	"math"
	"strings"
)

// Grid4FromLatLon returns the 4-character Maidenhead grid for a lat/lon pair.
// It returns false when coordinates are out of range or non-finite.
func Grid4FromLatLon(lat, lon float64) (string, bool) {
	if math.IsNaN(lat) || math.IsNaN(lon) || math.IsInf(lat, 0) || math.IsInf(lon, 0) {
		return "", false
	}
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return "", false
	}
	lat = math.Min(lat, 89.999999)
	lon = math.Min(lon, 179.999999)
	adjLon := lon + 180
	adjLat := lat + 90
	fieldLon := int(adjLon / 20)
	fieldLat := int(adjLat / 10)
	squareLon := int((adjLon - float64(fieldLon)*20) / 2)
	squareLat := int(adjLat - float64(fieldLat)*10)
	return string([]byte{
		byte('A' + fieldLon),
		byte('A' + fieldLat),
		byte('0' + squareLon),
		byte('0' + squareLat),
	}), true
}

// EntityGrid approximates the entity's reference grid. cty.plist stores
// longitude positive west, so the sign is flipped.
func EntityGrid(e Entity) (string, bool) {
	return Grid4FromLatLon(e.Latitude, -e.Longitude)
}

// NormalizeGrid upper-cases the field and square pairs and lower-cases any
// subsquare, returning false for anything that is not a 4, 6 or 8 character
// Maidenhead locator.
func NormalizeGrid(grid string) (string, bool) {
	g := strings.TrimSpace(grid)
	switch len(g) {
	case 4, 6, 8:
	default:
		return "", false
	}
	out := []byte(strings.ToUpper(g[:2]) + g[2:4] + strings.ToLower(g[4:]))
	for i, c := range out {
		var ok bool
		switch i {
		case 0, 1:
			ok = c >= 'A' && c <= 'R'
		case 2, 3, 6, 7:
			ok = c >= '0' && c <= '9'
		case 4, 5:
			ok = c >= 'a' && c <= 'x'
		}
		if !ok {
			return "", false
		}
	}
	return string(out), true
}
