package strategy

import (
	"context"
	"time"

	"github.com/evdnx/gofloor/config"
	"github.com/evdnx/gofloor/indicator"
	"github.com/evdnx/gofloor/layer"
	"github.com/evdnx/gofloor/logger"
	"github.com/evdnx/gofloor/metrics"
	"github.com/evdnx/gofloor/types"
)

// Order reasons emitted by the floor strategy.
const (
	ReasonEntry            = "layer_entry"
	ReasonScaleIn          = "scale_in"
	ReasonTakeProfit       = "take_profit"
	ReasonMarginProtection = "margin_protection"
	ReasonVolatilityLock   = "volatility_lock"
)

// Floor runs up to three independent layers of retracement scaling per
// instance. Each tick passes, in order, the volatility lock, margin
// protection, per-layer entry/take-profit/scale-in and new-layer creation;
// state is persisted at the end of every tick.
//
// A Floor is not safe for concurrent use. The dispatcher serialises every
// call for one instance, including SetATR and SetNormalATR.
type Floor struct {
	*BaseStrategy

	cfg    FloorConfig
	layers *layer.Manager

	// volatility inputs, keyed by instrument
	atr       map[string]float64
	normalATR float64
	learned   map[string]float64
	baselines map[string]*indicator.Baseline
	locked    map[string]bool

	bars    *indicator.BarAggregator
	sampler *indicator.ATRSampler
	trends  map[string]*indicator.TrendDetector
}

// NewFloor validates inst.Params, restores persisted state and reconciles
// the instance's open positions into their layers.
func NewFloor(ctx context.Context, inst Instance, deps Deps) (*Floor, error) {
	params, err := checkFloorParams(inst.Params)
	if err != nil {
		return nil, err
	}
	inst.Params = params
	base, err := NewBaseStrategy(inst, params, deps)
	if err != nil {
		return nil, err
	}
	cfg := parseFloorConfig(params)
	f := &Floor{
		BaseStrategy: base,
		cfg:          cfg,
		layers:       layer.NewManager(cfg.MaxLayers),
		atr:          make(map[string]float64),
		learned:      make(map[string]float64),
		baselines:    make(map[string]*indicator.Baseline),
		locked:       make(map[string]bool),
		bars:         indicator.NewBarAggregator(cfg.ATRBar),
		trends:       make(map[string]*indicator.TrendDetector),
	}
	if cfg.ATRPeriod > 0 {
		f.sampler = indicator.NewATRSampler(cfg.ATRPeriod)
	}
	if cfg.EntryDirection == EntryTrend {
		for _, instrument := range inst.Instruments {
			d, err := indicator.NewTrendDetector()
			if err != nil {
				return nil, err
			}
			f.trends[instrument] = d
		}
	}
	if err := f.restore(ctx); err != nil {
		return nil, err
	}
	f.reconcile(ctx)
	metrics.LayersActive.WithLabelValues(inst.ID).Set(float64(len(f.layers.Active())))
	return f, nil
}

// Config returns the parsed parameters.
func (f *Floor) Config() FloorConfig { return f.cfg }

// Layers returns the instance's layers in number order.
func (f *Floor) Layers() []*layer.Layer { return f.layers.Layers() }

// Locked reports whether instrument is currently volatility locked.
func (f *Floor) Locked(instrument string) bool { return f.locked[instrument] }

func (f *Floor) ValidateConfig(params config.Params) error {
	_, err := checkFloorParams(params)
	return err
}

// SetATR records an externally computed ATR reading for instrument. It is
// evaluated on the next tick.
func (f *Floor) SetATR(instrument string, atr float64) {
	f.atr[instrument] = atr
}

// SetNormalATR sets the instance-wide normal ATR used when no fixed
// normal_atr is configured and no baseline has been learned.
func (f *Floor) SetNormalATR(v float64) {
	f.normalATR = v
}

// OnTick returns the orders the tick calls for. Soft failures are logged and
// produce no orders. The error is non-nil only when persisting state failed;
// the orders are still valid in that case.
func (f *Floor) OnTick(ctx context.Context, tick types.Tick) ([]types.Order, error) {
	if !f.Handles(tick.Instrument) {
		return nil, nil
	}
	if tick.Time.IsZero() {
		tick.Time = time.Now()
	}
	now := tick.Time
	mid := tick.MidPrice()
	if mid <= 0 {
		f.Log.Warn("tick_without_price", logger.String("instrument", tick.Instrument))
		return nil, f.persist(ctx, now)
	}
	tick.Mid = mid
	metrics.TicksProcessed.WithLabelValues(f.Instance.ID).Inc()

	f.observe(tick)

	orders, locked := f.checkVolatility(tick)
	if !locked {
		if closes, triggered := f.checkMargin(ctx, tick); triggered {
			orders = append(orders, closes...)
		} else {
			orders = append(orders, f.processLayers(tick, now)...)
			f.createNewLayers()
		}
	}

	for _, o := range orders {
		f.recordOrder(o)
	}
	metrics.LayersActive.WithLabelValues(f.Instance.ID).Set(float64(len(f.layers.Active())))
	return orders, f.persist(ctx, now)
}

// OnPositionUpdate keeps layer bookkeeping in line with the executor.
func (f *Floor) OnPositionUpdate(ctx context.Context, pos types.Position) error {
	if pos.Strategy != "" && pos.Strategy != f.Instance.ID {
		return nil
	}
	l, ok := f.layers.Get(pos.LayerNumber)
	if !ok {
		f.Log.Warn("position_for_unknown_layer",
			logger.String("position_id", pos.ID),
			logger.Int("layer", pos.LayerNumber),
		)
		return f.persist(ctx, time.Now())
	}
	switch {
	case !pos.IsOpen():
		if l.RemovePosition(pos.ID) {
			f.Log.Info("position_closed",
				logger.String("position_id", pos.ID),
				logger.Int("layer", l.Number),
				logger.Float64("pnl", pos.UnrealizedPnL),
			)
		}
	case l.HasPosition(pos.ID):
		l.UpdatePosition(pos)
	default:
		l.AddPosition(pos, pos.IsFirstLot)
		f.Log.Info("position_opened",
			logger.String("position_id", pos.ID),
			logger.Int("layer", l.Number),
			logger.Bool("first_lot", pos.IsFirstLot),
			logger.Float64("units", pos.Units),
			logger.Float64("entry_price", pos.EntryPrice),
		)
	}
	return f.persist(ctx, time.Now())
}

// observe feeds the tick into bar sampling. Closed bars update the ATR, the
// learned baseline and the trend detector.
func (f *Floor) observe(tick types.Tick) {
	bar, closed := f.bars.Add(tick)
	if !closed {
		return
	}
	if d, ok := f.trends[bar.Instrument]; ok {
		if err := d.AddBar(bar); err != nil {
			f.Log.Warn("trend_update_failed", logger.String("instrument", bar.Instrument), logger.Err(err))
		}
	}
	if f.sampler == nil {
		return
	}
	atr, ok := f.sampler.AddBar(bar)
	if !ok {
		return
	}
	f.atr[bar.Instrument] = atr
	// readings that would lock never feed the baseline
	if f.exceedsThreshold(bar.Instrument, atr) {
		return
	}
	b := f.baseline(bar.Instrument)
	b.Add(atr)
	if v, ok := b.Value(); ok {
		f.learned[bar.Instrument] = v
	}
}

func (f *Floor) baseline(instrument string) *indicator.Baseline {
	b, ok := f.baselines[instrument]
	if !ok {
		b = indicator.NewBaseline(f.cfg.ATRBaselineBars, nil)
		f.baselines[instrument] = b
	}
	return b
}

// normal returns the normal ATR for instrument: the configured value, else
// the learned baseline, else the instance-wide value.
func (f *Floor) normal(instrument string) float64 {
	if f.cfg.NormalATR > 0 {
		return f.cfg.NormalATR
	}
	if v := f.learned[instrument]; v > 0 {
		return v
	}
	return f.normalATR
}

// exceedsThreshold is false whenever either input is missing.
func (f *Floor) exceedsThreshold(instrument string, atr float64) bool {
	normal := f.normal(instrument)
	if atr <= 0 || normal <= 0 {
		return false
	}
	return atr >= normal*f.cfg.VolatilityLockMultiplier
}
