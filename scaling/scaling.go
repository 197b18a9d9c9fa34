// Package scaling computes how a layer's position size grows on successive
// retracements.
package scaling

import "math"

type Mode string

const (
	Additive       Mode = "additive"
	Multiplicative Mode = "multiplicative"
)

// Modes lists the accepted values, in schema order.
var Modes = []string{string(Additive), string(Multiplicative)}

// NextLotSize returns the size of the next scale-in order. An unknown mode
// leaves the size unchanged.
func NextLotSize(current float64, mode Mode, amount float64) float64 {
	switch mode {
	case Additive:
		return current + amount
	case Multiplicative:
		return current * amount
	default:
		return current
	}
}

// ShouldScale reports whether price has moved at least retracementPips away
// from the entry. pipSize is the instrument's pip (types.PipSize), so JPY
// pairs are measured in 0.01 steps.
func ShouldScale(entryPrice, currentPrice, retracementPips, pipSize float64) bool {
	if pipSize <= 0 || entryPrice <= 0 {
		return false
	}
	moved := math.Abs(currentPrice-entryPrice) / pipSize
	// absorb float noise so an exact 20 pip move counts as 20
	return moved+1e-9 >= retracementPips
}

// Engine binds a mode and amount so callers do not thread them around.
type Engine struct {
	Mode   Mode
	Amount float64
}

func (e Engine) Next(current float64) float64 {
	return NextLotSize(current, e.Mode, e.Amount)
}
