// Package executor fills strategy orders. PaperExecutor is an in-memory
// broker for replays and dry runs.
package executor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/evdnx/gofloor/logger"
	"github.com/evdnx/gofloor/metrics"
	"github.com/evdnx/gofloor/types"
)

var (
	ErrInvalidOrder       = errors.New("invalid order")
	ErrUnknownPosition    = errors.New("unknown position")
	ErrInsufficientMargin = errors.New("insufficient margin")
)

// Executor turns orders into position changes. The returned positions are
// the ones opened or closed by the order.
type Executor interface {
	Submit(ctx context.Context, o types.Order) ([]types.Position, error)
}

// PaperExecutor fills market orders at the order price with no slippage.
// Opening orders create positions, close orders settle the referenced
// position and realise its P&L into the balance.
type PaperExecutor struct {
	mu         sync.RWMutex
	balance    float64
	marginRate float64
	lotUnits   float64
	positions  map[string]*types.Position
	log        logger.Logger
	now        func() time.Time
}

// NewPaperExecutor creates a paper account. lotUnits converts order units
// (lots) into currency units for margin and P&L.
func NewPaperExecutor(balance, marginRate, lotUnits float64, log logger.Logger) *PaperExecutor {
	if log == nil {
		log = logger.NewNop()
	}
	if lotUnits <= 0 {
		lotUnits = 1
	}
	metrics.EquityGauge.Set(balance)
	return &PaperExecutor{
		balance:    balance,
		marginRate: marginRate,
		lotUnits:   lotUnits,
		positions:  make(map[string]*types.Position),
		log:        log,
		now:        time.Now,
	}
}

func (p *PaperExecutor) Submit(_ context.Context, o types.Order) ([]types.Position, error) {
	if o.Units <= 0 || o.Price <= 0 || !o.Direction.Valid() {
		return nil, fmt.Errorf("%w: %s units=%v price=%v direction=%q", ErrInvalidOrder, o.ID, o.Units, o.Price, o.Direction)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if o.IsClose() {
		return p.close(o)
	}
	return p.open(o)
}

func (p *PaperExecutor) open(o types.Order) ([]types.Position, error) {
	required := o.Units * p.lotUnits * o.Price * p.marginRate
	used, upl := p.exposure()
	if free := p.balance + upl - used; required > free {
		p.log.Warn("paper_insufficient_margin",
			logger.String("order_id", o.ID),
			logger.Float64("required", required),
			logger.Float64("free", free),
		)
		return nil, fmt.Errorf("%w: order %s needs %.2f, free %.2f", ErrInsufficientMargin, o.ID, required, free)
	}
	pos := &types.Position{
		ID:           uuid.NewString(),
		Account:      o.Account,
		Strategy:     o.Strategy,
		Instrument:   o.Instrument,
		Direction:    o.Direction,
		Units:        o.Units,
		EntryPrice:   o.Price,
		CurrentPrice: o.Price,
		LayerNumber:  o.LayerNumber,
		IsFirstLot:   o.IsFirstLot,
		OpenedAt:     p.now(),
	}
	p.positions[pos.ID] = pos
	p.log.Info("paper_fill",
		logger.String("order_id", o.ID),
		logger.String("position_id", pos.ID),
		logger.String("instrument", o.Instrument),
		logger.String("direction", string(o.Direction)),
		logger.Float64("units", o.Units),
		logger.Float64("price", o.Price),
	)
	return []types.Position{*pos}, nil
}

func (p *PaperExecutor) close(o types.Order) ([]types.Position, error) {
	pos, ok := p.positions[o.ClosePositionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPosition, o.ClosePositionID)
	}
	pos.CurrentPrice = o.Price
	pos.UnrealizedPnL = p.pnl(pos, o.Price)
	p.balance += pos.UnrealizedPnL
	closedAt := p.now()
	pos.ClosedAt = &closedAt
	delete(p.positions, pos.ID)

	p.log.Info("paper_close",
		logger.String("order_id", o.ID),
		logger.String("position_id", pos.ID),
		logger.Float64("price", o.Price),
		logger.Float64("pnl", pos.UnrealizedPnL),
		logger.Float64("balance", p.balance),
	)
	metrics.EquityGauge.Set(p.equityLocked())
	return []types.Position{*pos}, nil
}

// MarkToMarket revalues the positions of the tick's instrument and returns
// the updated copies.
func (p *PaperExecutor) MarkToMarket(tick types.Tick) []types.Position {
	price := tick.MidPrice()
	if price <= 0 {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []types.Position
	for _, pos := range p.positions {
		if pos.Instrument != tick.Instrument {
			continue
		}
		pos.CurrentPrice = price
		pos.UnrealizedPnL = p.pnl(pos, price)
		out = append(out, *pos)
	}
	sortPositions(out)
	metrics.EquityGauge.Set(p.equityLocked())
	return out
}

// OpenPositions lists open positions of one strategy instance. An empty
// instrument matches every instrument.
func (p *PaperExecutor) OpenPositions(_ context.Context, account, strategyID, instrument string) ([]types.Position, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []types.Position
	for _, pos := range p.positions {
		if pos.Account != account || pos.Strategy != strategyID {
			continue
		}
		if instrument != "" && pos.Instrument != instrument {
			continue
		}
		out = append(out, *pos)
	}
	sortPositions(out)
	return out, nil
}

// Snapshot reports margin used and unrealized P&L of the account's
// positions.
func (p *PaperExecutor) Snapshot(_ context.Context, account string) (types.AccountSnapshot, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var snap types.AccountSnapshot
	for _, pos := range p.positions {
		if pos.Account != account {
			continue
		}
		snap.MarginUsed += p.margin(pos)
		snap.UnrealizedPnL += pos.UnrealizedPnL
	}
	return snap, nil
}

// Balance is the realised cash balance.
func (p *PaperExecutor) Balance() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.balance
}

// Equity is the balance plus unrealized P&L.
func (p *PaperExecutor) Equity() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.equityLocked()
}

func (p *PaperExecutor) equityLocked() float64 {
	_, upl := p.exposure()
	return p.balance + upl
}

func (p *PaperExecutor) exposure() (marginUsed, upl float64) {
	for _, pos := range p.positions {
		marginUsed += p.margin(pos)
		upl += pos.UnrealizedPnL
	}
	return marginUsed, upl
}

func (p *PaperExecutor) margin(pos *types.Position) float64 {
	return pos.Units * p.lotUnits * pos.EntryPrice * p.marginRate
}

func (p *PaperExecutor) pnl(pos *types.Position, price float64) float64 {
	return (price - pos.EntryPrice) * pos.Direction.Sign() * pos.Units * p.lotUnits
}

func sortPositions(ps []types.Position) {
	sort.Slice(ps, func(i, j int) bool {
		if ps[i].OpenedAt.Equal(ps[j].OpenedAt) {
			return ps[i].ID < ps[j].ID
		}
		return ps[i].OpenedAt.Before(ps[j].OpenedAt)
	})
}
