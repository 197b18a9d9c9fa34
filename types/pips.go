package types

import (
	"math"
	"strings"
)

const (
	pipSize    = 0.0001
	pipSizeJPY = 0.01
)

// PipSize returns the pip increment of a currency pair. Pairs quoted in JPY
// (EUR_JPY, USD/JPY, GBPJPY) use 0.01, everything else 0.0001.
func PipSize(instrument string) float64 {
	s := strings.ToUpper(strings.TrimSpace(instrument))
	if strings.HasSuffix(s, "JPY") {
		return pipSizeJPY
	}
	return pipSize
}

// PipDistance is the absolute distance between two prices in pips.
func PipDistance(instrument string, a, b float64) float64 {
	return math.Abs(a-b) / PipSize(instrument)
}

// Pips converts n pips into a price offset for the instrument.
func Pips(instrument string, n float64) float64 {
	return n * PipSize(instrument)
}
