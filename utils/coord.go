// utils/coord.go
package utils

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// CoordPrecision is the number of decimal places coordinates are rounded to
// before they are cached or persisted (~11m at the equator). Upstream jitter
// below that threshold collapses onto one location row.
const CoordPrecision = 4

// RoundCoord rounds a single coordinate component to CoordPrecision.
func RoundCoord(v float64) float64 {
	p := math.Pow10(CoordPrecision)
	return math.Round(v*p) / p
}

// CoordKey builds the canonical "lat, lng" identity string for a coordinate.
func CoordKey(lat, lng float64) string {
	return fmt.Sprintf("%.*f, %.*f", CoordPrecision, RoundCoord(lat), CoordPrecision, RoundCoord(lng))
}

// ParseCoordKey parses a "lat, lng" string back into its components.
func ParseCoordKey(key string) (lat, lng float64, err error) {
	parts := strings.SplitN(key, ",", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid coordinate key %q", key)
	}
	lat, err = strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid latitude in %q: %w", key, err)
	}
	lng, err = strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid longitude in %q: %w", key, err)
	}
	return lat, lng, nil
}
