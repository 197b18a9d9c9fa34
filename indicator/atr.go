package indicator

import (
	"github.com/markcheno/go-talib"
)

// ATRSampler keeps a rolling window of closed bars per instrument and
// computes the Average True Range over them.
type ATRSampler struct {
	period  int
	maxBars int
	bars    map[string][]Bar
}

func NewATRSampler(period int) *ATRSampler {
	if period < 1 {
		period = 14
	}
	return &ATRSampler{
		period: period,
		// Wilder smoothing needs some history beyond the period to settle.
		maxBars: period * 4,
		bars:    make(map[string][]Bar),
	}
}

// AddBar records a closed bar and returns the instrument's ATR once at least
// period+1 bars are available.
func (s *ATRSampler) AddBar(b Bar) (float64, bool) {
	bars := append(s.bars[b.Instrument], b)
	if len(bars) > s.maxBars {
		bars = bars[len(bars)-s.maxBars:]
	}
	s.bars[b.Instrument] = bars
	if len(bars) <= s.period {
		return 0, false
	}

	highs := make([]float64, len(bars))
	lows := make([]float64, len(bars))
	closes := make([]float64, len(bars))
	for i, bar := range bars {
		highs[i], lows[i], closes[i] = bar.High, bar.Low, bar.Close
	}
	out := talib.Atr(highs, lows, closes, s.period)
	if len(out) == 0 {
		return 0, false
	}
	atr := out[len(out)-1]
	return atr, atr > 0
}

// Baseline learns the "normal" ATR as the simple average of the last window
// readings.
type Baseline struct {
	window int
	values []float64
}

func NewBaseline(window int, history []float64) *Baseline {
	if window < 1 {
		window = 20
	}
	b := &Baseline{window: window}
	for _, v := range history {
		b.Add(v)
	}
	return b
}

func (b *Baseline) Add(v float64) {
	if v <= 0 {
		return
	}
	b.values = append(b.values, v)
	if len(b.values) > b.window {
		b.values = b.values[len(b.values)-b.window:]
	}
}

// Value returns the baseline once the window is full.
func (b *Baseline) Value() (float64, bool) {
	if len(b.values) < b.window {
		return 0, false
	}
	sma := talib.Sma(b.values, b.window)
	return sma[len(sma)-1], true
}

// History returns the readings in the window, oldest first, for persistence.
func (b *Baseline) History() []float64 {
	out := make([]float64, len(b.values))
	copy(out, b.values)
	return out
}
