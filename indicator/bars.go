// Package indicator turns the tick stream into bars and derives the
// volatility and trend readings the layered strategy consumes.
package indicator

import (
	"time"

	"github.com/evdnx/gofloor/types"
)

// Bar is a fixed-interval OHLC summary of mid prices.
type Bar struct {
	Instrument string
	Start      time.Time
	Open       float64
	High       float64
	Low        float64
	Close      float64
	Ticks      int
}

// BarAggregator folds ticks into bars per instrument. Bar boundaries come
// from tick timestamps, so replayed data produces the same bars as live data.
type BarAggregator struct {
	interval time.Duration
	current  map[string]*Bar
}

func NewBarAggregator(interval time.Duration) *BarAggregator {
	if interval <= 0 {
		interval = time.Minute
	}
	return &BarAggregator{interval: interval, current: make(map[string]*Bar)}
}

// Add folds t into the open bar of its instrument. When t starts a new
// interval the previous bar is returned as closed. Ticks older than the open
// bar are ignored.
func (a *BarAggregator) Add(t types.Tick) (closed Bar, ok bool) {
	price := t.MidPrice()
	if price <= 0 {
		return Bar{}, false
	}
	start := t.Time.Truncate(a.interval)
	cur := a.current[t.Instrument]
	if cur != nil && start.Before(cur.Start) {
		return Bar{}, false
	}
	if cur != nil && start.Equal(cur.Start) {
		if price > cur.High {
			cur.High = price
		}
		if price < cur.Low {
			cur.Low = price
		}
		cur.Close = price
		cur.Ticks++
		return Bar{}, false
	}
	if cur != nil {
		closed, ok = *cur, true
	}
	a.current[t.Instrument] = &Bar{
		Instrument: t.Instrument,
		Start:      start,
		Open:       price,
		High:       price,
		Low:        price,
		Close:      price,
		Ticks:      1,
	}
	return closed, ok
}
