package risk

import (
	"strings"

	"github.com/shopspring/decimal"
)

// LiquidationRatio is (margin used + unrealized P&L) / margin used. It is
// undefined (ok=false) when no margin is in use.
func LiquidationRatio(marginUsed, unrealizedPnL float64) (ratio float64, ok bool) {
	if marginUsed <= 0 {
		return 0, false
	}
	return (marginUsed + unrealizedPnL) / marginUsed, true
}

// ShouldLiquidate reports whether the broker is about to force-close the
// account: margin is in use and the liquidation ratio reached zero.
func ShouldLiquidate(marginUsed, unrealizedPnL float64) bool {
	ratio, ok := LiquidationRatio(marginUsed, unrealizedPnL)
	return ok && ratio <= 0
}

// RoundUnits rounds an order size to precision decimal places. A negative
// precision leaves the value untouched.
func RoundUnits(units float64, precision int32) float64 {
	if precision < 0 {
		return units
	}
	return decimal.NewFromFloat(units).Round(precision).InexactFloat64()
}

// RoundPrice rounds to the quoting precision of the instrument: three
// decimals for JPY pairs, five otherwise.
func RoundPrice(instrument string, price float64) float64 {
	places := int32(5)
	if strings.HasSuffix(strings.ToUpper(instrument), "JPY") {
		places = 3
	}
	return decimal.NewFromFloat(price).Round(places).InexactFloat64()
}
