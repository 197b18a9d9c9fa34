package strategy

import (
	"context"

	"github.com/evdnx/gofloor/audit"
	"github.com/evdnx/gofloor/logger"
	"github.com/evdnx/gofloor/metrics"
	"github.com/evdnx/gofloor/risk"
	"github.com/evdnx/gofloor/types"
)

// checkVolatility re-evaluates the lock of the tick's instrument. While
// locked no entry or scaling happens; the only orders it may return are the
// closes of close_on_volatility_lock on the tick the lock engages.
func (f *Floor) checkVolatility(tick types.Tick) ([]types.Order, bool) {
	instrument := tick.Instrument
	atr := f.atr[instrument]
	normal := f.normal(instrument)
	threshold := normal * f.cfg.VolatilityLockMultiplier
	lockedNow := f.exceedsThreshold(instrument, atr)
	wasLocked := f.locked[instrument]

	var orders []types.Order
	switch {
	case lockedNow && !wasLocked:
		f.locked[instrument] = true
		f.Log.Warn("volatility_lock",
			logger.String("instrument", instrument),
			logger.Float64("atr", atr),
			logger.Float64("threshold", threshold),
		)
		f.LogEvent(audit.EventVolatilityLock, "ATR reached the volatility threshold, trading suspended", map[string]any{
			"instrument": instrument,
			"atr":        atr,
			"normal_atr": normal,
			"threshold":  threshold,
		})
		if f.cfg.CloseOnVolatilityLock {
			orders = f.closeInstrument(tick, ReasonVolatilityLock)
		}
	case !lockedNow && wasLocked:
		delete(f.locked, instrument)
		f.Log.Info("volatility_unlock",
			logger.String("instrument", instrument),
			logger.Float64("atr", atr),
			logger.Float64("threshold", threshold),
		)
		f.LogEvent(audit.EventVolatilityUnlock, "ATR back below the volatility threshold, trading resumed", map[string]any{
			"instrument": instrument,
			"atr":        atr,
			"threshold":  threshold,
		})
	}
	metrics.VolatilityLocked.WithLabelValues(f.Instance.ID).Set(float64(len(f.locked)))
	return orders, lockedNow
}

// closeInstrument emits a close for every open position on the tick's
// instrument that is not already being closed.
func (f *Floor) closeInstrument(tick types.Tick, reason string) []types.Order {
	var orders []types.Order
	for _, l := range f.layers.Layers() {
		for _, pos := range l.Positions() {
			if pos.Instrument != tick.Instrument || l.IsClosing(pos.ID, tick.Time, f.cfg.EntryTimeout) {
				continue
			}
			orders = append(orders, f.closeOrder(pos, tick.Mid, reason))
			l.MarkClosing(pos.ID, tick.Time)
		}
	}
	return orders
}

// checkMargin reads a fresh account snapshot and, when the account is about
// to be liquidated, closes the first lot of the lowest layer. triggered is
// true whenever the liquidation condition holds, even if nothing could be
// closed, so layer processing is skipped for the tick.
func (f *Floor) checkMargin(ctx context.Context, tick types.Tick) (orders []types.Order, triggered bool) {
	if f.Account == nil {
		return nil, false
	}
	snap, err := f.Account.Snapshot(ctx, f.Instance.Account)
	if err != nil {
		f.Log.Warn("account_snapshot_failed", logger.Err(err))
		return nil, false
	}
	if !risk.ShouldLiquidate(snap.MarginUsed, snap.UnrealizedPnL) {
		return nil, false
	}
	ratio, _ := risk.LiquidationRatio(snap.MarginUsed, snap.UnrealizedPnL)

	firstLots := f.layers.FirstLotPositions()
	if len(firstLots) == 0 {
		f.Log.Warn("margin_protection_no_first_lot", logger.Float64("ratio", ratio))
		return nil, true
	}
	pos := firstLots[0]
	l, ok := f.layers.Get(pos.LayerNumber)
	if !ok || l.IsClosing(pos.ID, tick.Time, f.cfg.EntryTimeout) {
		return nil, true
	}
	price := pos.CurrentPrice
	if pos.Instrument == tick.Instrument {
		price = tick.Mid
	}
	if price <= 0 {
		price = pos.EntryPrice
	}
	o := f.closeOrder(pos, price, ReasonMarginProtection)
	l.MarkClosing(pos.ID, tick.Time)

	metrics.MarginLiquidations.WithLabelValues(f.Instance.ID).Inc()
	f.Log.Error("margin_protection",
		logger.Float64("margin_used", snap.MarginUsed),
		logger.Float64("unrealized_pnl", snap.UnrealizedPnL),
		logger.Float64("ratio", ratio),
		logger.String("position_id", pos.ID),
		logger.Int("layer", pos.LayerNumber),
	)
	f.LogEvent(audit.EventMarginProtection, "margin liquidation imminent, closing first lot", map[string]any{
		"margin_used":    snap.MarginUsed,
		"unrealized_pnl": snap.UnrealizedPnL,
		"ratio":          ratio,
		"position_id":    pos.ID,
		"layer":          pos.LayerNumber,
	})
	return []types.Order{o}, true
}
