package strategy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/evdnx/gofloor/audit"
	"github.com/evdnx/gofloor/config"
	"github.com/evdnx/gofloor/logger"
	"github.com/evdnx/gofloor/metrics"
	"github.com/evdnx/gofloor/risk"
	"github.com/evdnx/gofloor/state"
	"github.com/evdnx/gofloor/types"
)

// BaseStrategy bundles the common dependencies and helpers. Concrete
// strategies embed it.
type BaseStrategy struct {
	Instance  Instance
	Params    config.Params
	Positions PositionProvider
	Account   AccountProvider
	Store     state.Store
	Audit     audit.Sink
	Log       logger.Logger

	instruments map[string]struct{}
}

// NewBaseStrategy checks the mandatory collaborators and fills optional ones
// with no-op implementations.
func NewBaseStrategy(inst Instance, params config.Params, deps Deps) (*BaseStrategy, error) {
	if inst.ID == "" {
		return nil, errors.New("strategy instance id is required")
	}
	if len(inst.Instruments) == 0 {
		return nil, fmt.Errorf("strategy %s: at least one instrument is required", inst.ID)
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("strategy %s: state store is required", inst.ID)
	}
	if deps.Positions == nil {
		return nil, fmt.Errorf("strategy %s: position provider is required", inst.ID)
	}
	if deps.Log == nil {
		deps.Log = logger.NewNop()
	}
	if deps.Audit == nil {
		deps.Audit = audit.Nop{}
	}
	b := &BaseStrategy{
		Instance:    inst,
		Params:      params,
		Positions:   deps.Positions,
		Account:     deps.Account,
		Store:       deps.Store,
		Audit:       deps.Audit,
		Log:         deps.Log.With(logger.String("instance", inst.ID), logger.String("account", inst.Account)),
		instruments: make(map[string]struct{}, len(inst.Instruments)),
	}
	for _, i := range inst.Instruments {
		b.instruments[i] = struct{}{}
	}
	return b, nil
}

// Handles reports whether the instance trades instrument.
func (b *BaseStrategy) Handles(instrument string) bool {
	_, ok := b.instruments[instrument]
	return ok
}

// OpenPositions returns the instance's own open positions, optionally
// filtered by instrument.
func (b *BaseStrategy) OpenPositions(ctx context.Context, instrument string) ([]types.Position, error) {
	return b.Positions.OpenPositions(ctx, b.Instance.Account, b.Instance.ID, instrument)
}

// PipDistance is the absolute distance between a and c in pips of instrument.
func (b *BaseStrategy) PipDistance(instrument string, a, c float64) float64 {
	return types.PipDistance(instrument, a, c)
}

// LoadState decodes the instance's persisted blob into v.
func (b *BaseStrategy) LoadState(ctx context.Context, v any) error {
	return b.Store.Load(ctx, b.Instance.ID, v)
}

// SaveState persists v as the instance's blob.
func (b *BaseStrategy) SaveState(ctx context.Context, v any) error {
	if err := b.Store.Save(ctx, b.Instance.ID, v); err != nil {
		metrics.StateSaveFailures.WithLabelValues(b.Instance.ID).Inc()
		b.Log.Error("state_save_failed", logger.Err(err))
		return err
	}
	return nil
}

// LogEvent emits an audit event. It never fails.
func (b *BaseStrategy) LogEvent(eventType, description string, details map[string]any) {
	b.Audit.LogEvent(audit.Event{
		Instance:    b.Instance.ID,
		Type:        eventType,
		Description: description,
		Details:     details,
		Time:        time.Now(),
	})
}

// marketOrder builds an order owned by this instance.
func (b *BaseStrategy) marketOrder(instrument string, dir types.Direction, units, price float64, reason string) types.Order {
	return types.Order{
		ID:         uuid.NewString(),
		Account:    b.Instance.Account,
		Strategy:   b.Instance.ID,
		Instrument: instrument,
		Type:       types.Market,
		Direction:  dir,
		Units:      units,
		Price:      risk.RoundPrice(instrument, price),
		Reason:     reason,
	}
}

// closeOrder flattens pos with a reverse market order at price.
func (b *BaseStrategy) closeOrder(pos types.Position, price float64, reason string) types.Order {
	o := b.marketOrder(pos.Instrument, pos.Direction.Opposite(), pos.Units, price, reason)
	o.ClosePositionID = pos.ID
	o.LayerNumber = pos.LayerNumber
	return o
}

// recordOrder logs and counts an emitted order.
func (b *BaseStrategy) recordOrder(o types.Order) {
	b.Log.Info("order_emitted",
		logger.String("order_id", o.ID),
		logger.String("instrument", o.Instrument),
		logger.String("direction", string(o.Direction)),
		logger.Float64("units", o.Units),
		logger.Float64("price", o.Price),
		logger.Int("layer", o.LayerNumber),
		logger.String("reason", o.Reason),
	)
	metrics.OrdersEmitted.WithLabelValues(b.Instance.ID, o.Reason).Inc()
}
