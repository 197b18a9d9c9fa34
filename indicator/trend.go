package indicator

import (
	"github.com/evdnx/goti"

	"github.com/evdnx/gofloor/types"
)

// hmaWarmup is the number of bars the HMA needs before crossovers mean
// anything.
const hmaWarmup = 10

// TrendDetector feeds closed bars into a goti indicator suite and remembers
// the direction of the most recent HMA crossover.
type TrendDetector struct {
	suite *goti.IndicatorSuite
	last  types.Direction
}

func NewTrendDetector() (*TrendDetector, error) {
	suite, err := goti.NewIndicatorSuiteWithConfig(goti.DefaultConfig())
	if err != nil {
		return nil, err
	}
	return &TrendDetector{suite: suite}, nil
}

func (d *TrendDetector) AddBar(b Bar) error {
	volume := float64(b.Ticks)
	if volume <= 0 {
		volume = 1
	}
	if err := d.suite.Add(b.High, b.Low, b.Close, volume); err != nil {
		return err
	}
	if len(d.suite.GetHMA().GetCloses()) < hmaWarmup {
		return nil
	}
	if bull, err := d.suite.GetHMA().IsBullishCrossover(); err == nil && bull {
		d.last = types.Long
	} else if bear, err := d.suite.GetHMA().IsBearishCrossover(); err == nil && bear {
		d.last = types.Short
	}
	return nil
}

// Direction returns the latest crossover direction; ok is false until one
// has been seen.
func (d *TrendDetector) Direction() (types.Direction, bool) {
	return d.last, d.last != ""
}
