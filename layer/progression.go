package layer

import (
	"math"

	"github.com/evdnx/gofloor/risk"
)

// Progression derives a per-layer value from a base value and the layer's
// 1-based index.
type Progression string

const (
	Equal       Progression = "equal"
	Additive    Progression = "additive"
	Exponential Progression = "exponential"
	Inverse     Progression = "inverse"
)

var Progressions = []string{string(Equal), string(Additive), string(Exponential), string(Inverse)}

// Value returns the value for layer k:
//
//	equal        base
//	additive     base + increment*(k-1)
//	exponential  base * increment^(k-1)
//	inverse      base / k
func (p Progression) Value(base float64, k int, increment float64) float64 {
	if k < 1 {
		k = 1
	}
	switch p {
	case Additive:
		return base + increment*float64(k-1)
	case Exponential:
		return base * math.Pow(increment, float64(k-1))
	case Inverse:
		return base / float64(k)
	default:
		return base
	}
}

// Plan holds the strategy-level inputs from which every layer's Config is
// derived. Trigger and lot size progress independently.
type Plan struct {
	RetracementTrigger int
	TriggerProgression Progression
	TriggerIncrement   float64

	BaseLotSize    float64
	LotProgression Progression
	LotIncrement   float64
	LotPrecision   int32
}

// ConfigFor computes the fixed configuration of layer k. Triggers are rounded
// to the nearest integer and never drop below 1.
func (p Plan) ConfigFor(k int) Config {
	trigger := int(math.Round(p.TriggerProgression.Value(float64(p.RetracementTrigger), k, p.TriggerIncrement)))
	if trigger < 1 {
		trigger = 1
	}
	lot := risk.RoundUnits(p.LotProgression.Value(p.BaseLotSize, k, p.LotIncrement), p.LotPrecision)
	return Config{RetracementTrigger: trigger, BaseLotSize: lot}
}
