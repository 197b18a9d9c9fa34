package strategy

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/evdnx/gofloor/audit"
	"github.com/evdnx/gofloor/indicator"
	"github.com/evdnx/gofloor/logger"
	"github.com/evdnx/gofloor/state"
)

// restore rebuilds layers and volatility inputs from the store. A missing
// record starts the instance with layer 1; any other load error is fatal.
func (f *Floor) restore(ctx context.Context) error {
	var st state.StrategyState
	err := f.LoadState(ctx, &st)
	switch {
	case errors.Is(err, state.ErrNotExists):
		f.layers.Create(1, f.cfg.Plan.ConfigFor(1))
		return nil
	case err != nil:
		return fmt.Errorf("floor %s: load state: %w", f.Instance.ID, err)
	}

	sort.Slice(st.Layers, func(i, j int) bool { return st.Layers[i].Number < st.Layers[j].Number })
	for _, ls := range st.Layers {
		l, ok := f.layers.Create(ls.Number, f.cfg.Plan.ConfigFor(ls.Number))
		if !ok {
			f.Log.Warn("restored_layer_dropped", logger.Int("layer", ls.Number), logger.Int("max_layers", f.layers.Max()))
			continue
		}
		l.RetracementCount = ls.RetracementCount
		l.CurrentLotSize = ls.CurrentLotSize
		l.Active = ls.Active
	}
	if f.layers.Len() == 0 {
		f.layers.Create(1, f.cfg.Plan.ConfigFor(1))
	}

	for instrument, v := range st.ATR {
		f.atr[instrument] = v
	}
	f.normalATR = st.NormalATR
	for instrument, v := range st.InstrumentNormalATR {
		f.learned[instrument] = v
	}
	for instrument, history := range st.ATRHistory {
		f.baselines[instrument] = indicator.NewBaseline(f.cfg.ATRBaselineBars, history)
	}
	for instrument, locked := range st.VolatilityLocked {
		if locked {
			f.locked[instrument] = true
		}
	}
	return nil
}

// reconcile adopts the instance's open positions into their layers so a
// restarted instance neither re-enters nor forgets its anchors.
func (f *Floor) reconcile(ctx context.Context) {
	positions, err := f.OpenPositions(ctx, "")
	if err != nil {
		f.Log.Warn("reconcile_positions_failed", logger.Err(err))
		return
	}
	sort.SliceStable(positions, func(i, j int) bool { return positions[i].OpenedAt.Before(positions[j].OpenedAt) })
	adopted := 0
	for _, pos := range positions {
		if !pos.IsOpen() || !f.Handles(pos.Instrument) {
			continue
		}
		l, ok := f.layers.Get(pos.LayerNumber)
		if !ok {
			l, ok = f.layers.Create(pos.LayerNumber, f.cfg.Plan.ConfigFor(pos.LayerNumber))
		}
		if !ok {
			f.Log.Warn("reconcile_unknown_layer", logger.String("position_id", pos.ID), logger.Int("layer", pos.LayerNumber))
			continue
		}
		if l.HasPosition(pos.ID) {
			continue
		}
		l.AddPosition(pos, pos.IsFirstLot)
		adopted++
	}
	f.LogEvent(audit.EventStateRestored, "strategy state restored", map[string]any{
		"layers":    f.layers.Len(),
		"positions": adopted,
	})
	f.Log.Info("state_restored", logger.Int("layers", f.layers.Len()), logger.Int("positions", adopted))
}

// snapshot captures everything needed to rebuild the instance.
func (f *Floor) snapshot(now time.Time) state.StrategyState {
	st := state.StrategyState{
		ATR:                 make(map[string]float64, len(f.atr)),
		NormalATR:           f.normalATR,
		InstrumentNormalATR: make(map[string]float64, len(f.learned)),
		ATRHistory:          make(map[string][]float64, len(f.baselines)),
		VolatilityLocked:    make(map[string]bool, len(f.locked)),
		UpdatedAt:           now,
	}
	if f.cfg.NormalATR > 0 {
		st.NormalATR = f.cfg.NormalATR
	}
	for _, l := range f.layers.Layers() {
		st.Layers = append(st.Layers, state.LayerState{
			Number:           l.Number,
			RetracementCount: l.RetracementCount,
			CurrentLotSize:   l.CurrentLotSize,
			Active:           l.Active,
		})
	}
	for k, v := range f.atr {
		st.ATR[k] = v
	}
	for k, v := range f.learned {
		st.InstrumentNormalATR[k] = v
	}
	for k, b := range f.baselines {
		st.ATRHistory[k] = b.History()
	}
	for k, v := range f.locked {
		st.VolatilityLocked[k] = v
	}
	return st
}

func (f *Floor) persist(ctx context.Context, now time.Time) error {
	return f.SaveState(ctx, f.snapshot(now))
}
