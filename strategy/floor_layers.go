package strategy

import (
	"time"

	"github.com/evdnx/gofloor/audit"
	"github.com/evdnx/gofloor/layer"
	"github.com/evdnx/gofloor/logger"
	"github.com/evdnx/gofloor/risk"
	"github.com/evdnx/gofloor/scaling"
	"github.com/evdnx/gofloor/types"
)

// processLayers runs entry, take-profit and scale-in for every active layer
// in number order. A layer holding positions only reacts to ticks of its
// own instrument.
func (f *Floor) processLayers(tick types.Tick, now time.Time) []types.Order {
	var orders []types.Order
	for _, l := range f.layers.Active() {
		if l.IsEmpty() {
			if o, ok := f.enter(l, tick, now); ok {
				orders = append(orders, o)
			}
			continue
		}
		if layerInstrument(l) != tick.Instrument {
			continue
		}
		if closes := f.takeProfits(l, tick); len(closes) > 0 {
			orders = append(orders, closes...)
			continue
		}
		if o, ok := f.scaleIn(l, tick); ok {
			orders = append(orders, o)
		}
	}
	return orders
}

// enter opens an empty layer with its base lot size.
func (f *Floor) enter(l *layer.Layer, tick types.Tick, now time.Time) (types.Order, bool) {
	if l.EntryPending(now, f.cfg.EntryTimeout) {
		return types.Order{}, false
	}
	dir, ok := f.entryDirection(tick.Instrument)
	if !ok {
		f.Log.Debug("entry_waiting_for_trend", logger.String("instrument", tick.Instrument), logger.Int("layer", l.Number))
		return types.Order{}, false
	}
	units := l.Config.BaseLotSize
	l.CurrentLotSize = units

	o := f.marketOrder(tick.Instrument, dir, units, tick.Mid, ReasonEntry)
	o.LayerNumber = l.Number
	o.IsFirstLot = true
	o.TakeProfit = f.takeProfitPrice(tick.Instrument, dir, o.Price)
	l.MarkEntryPending(now)

	f.LogEvent(audit.EventEntry, "layer entry", map[string]any{
		"layer":      l.Number,
		"instrument": tick.Instrument,
		"direction":  string(dir),
		"units":      units,
		"price":      o.Price,
	})
	return o, true
}

func (f *Floor) entryDirection(instrument string) (types.Direction, bool) {
	if f.cfg.EntryDirection != EntryTrend {
		return types.Direction(f.cfg.EntryDirection), true
	}
	d, ok := f.trends[instrument]
	if !ok {
		return "", false
	}
	return d.Direction()
}

// takeProfits closes every position that moved take_profit_pips in its
// favor.
func (f *Floor) takeProfits(l *layer.Layer, tick types.Tick) []types.Order {
	var orders []types.Order
	for _, pos := range l.Positions() {
		if l.IsClosing(pos.ID, tick.Time, f.cfg.EntryTimeout) {
			continue
		}
		if (tick.Mid-pos.EntryPrice)*pos.Direction.Sign() <= 0 {
			continue
		}
		favorable := f.PipDistance(pos.Instrument, tick.Mid, pos.EntryPrice)
		if favorable+1e-9 < f.cfg.TakeProfitPips {
			continue
		}
		orders = append(orders, f.closeOrder(pos, tick.Mid, ReasonTakeProfit))
		l.MarkClosing(pos.ID, tick.Time)
		f.LogEvent(audit.EventTakeProfit, "take profit reached", map[string]any{
			"layer":       l.Number,
			"position_id": pos.ID,
			"entry_price": pos.EntryPrice,
			"price":       tick.Mid,
			"pips":        favorable,
		})
	}
	return orders
}

// scaleIn adds to the layer once price has moved retracement_pips away from
// the last entry. The layer's reference price moves to the order price
// immediately so the same move is not scaled twice.
func (f *Floor) scaleIn(l *layer.Layer, tick types.Tick) (types.Order, bool) {
	if l.AnyClosing(tick.Time, f.cfg.EntryTimeout) {
		return types.Order{}, false
	}
	ref := l.LastEntryPrice()
	if !scaling.ShouldScale(ref, tick.Mid, f.cfg.RetracementPips, types.PipSize(tick.Instrument)) {
		return types.Order{}, false
	}
	next := risk.RoundUnits(f.cfg.Scaling.Next(l.CurrentLotSize), f.cfg.Plan.LotPrecision)
	if next <= 0 {
		f.Log.Warn("scale_in_zero_size", logger.Int("layer", l.Number), logger.Float64("current", l.CurrentLotSize))
		return types.Order{}, false
	}
	dir := layerDirection(l)
	o := f.marketOrder(tick.Instrument, dir, next, tick.Mid, ReasonScaleIn)
	o.LayerNumber = l.Number
	o.TakeProfit = f.takeProfitPrice(tick.Instrument, dir, o.Price)

	l.CurrentLotSize = next
	l.IncrementRetracement()
	l.SetLastEntryPrice(tick.Mid)

	f.LogEvent(audit.EventScaleIn, "retracement scale-in", map[string]any{
		"layer":             l.Number,
		"retracement_count": l.RetracementCount,
		"units":             next,
		"reference_price":   ref,
		"price":             o.Price,
	})
	return o, true
}

// createNewLayers opens layer k+1 for every layer k that reached its
// retracement trigger.
func (f *Floor) createNewLayers() {
	for _, l := range f.layers.Layers() {
		if !l.ShouldCreateNewLayer() {
			continue
		}
		number := l.Number + 1
		if number > f.layers.Max() {
			continue
		}
		if _, exists := f.layers.Get(number); exists {
			continue
		}
		nl, ok := f.layers.Create(number, f.cfg.Plan.ConfigFor(number))
		if !ok {
			continue
		}
		f.Log.Info("layer_created",
			logger.Int("layer", nl.Number),
			logger.Int("retracement_trigger", nl.Config.RetracementTrigger),
			logger.Float64("base_lot_size", nl.Config.BaseLotSize),
		)
		f.LogEvent(audit.EventLayerCreated, "new layer created", map[string]any{
			"layer":               nl.Number,
			"parent_layer":        l.Number,
			"retracement_trigger": nl.Config.RetracementTrigger,
			"base_lot_size":       nl.Config.BaseLotSize,
		})
	}
}

func (f *Floor) takeProfitPrice(instrument string, dir types.Direction, price float64) *float64 {
	tp := risk.RoundPrice(instrument, price+dir.Sign()*types.Pips(instrument, f.cfg.TakeProfitPips))
	return &tp
}

// layerInstrument is the instrument of the layer's positions.
func layerInstrument(l *layer.Layer) string {
	if pos, ok := l.FirstLot(); ok {
		return pos.Instrument
	}
	ps := l.Positions()
	if len(ps) == 0 {
		return ""
	}
	return ps[0].Instrument
}

func layerDirection(l *layer.Layer) types.Direction {
	if pos, ok := l.FirstLot(); ok {
		return pos.Direction
	}
	return l.Positions()[0].Direction
}
