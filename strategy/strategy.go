package strategy

import (
	"context"

	"github.com/evdnx/gofloor/audit"
	"github.com/evdnx/gofloor/config"
	"github.com/evdnx/gofloor/logger"
	"github.com/evdnx/gofloor/state"
	"github.com/evdnx/gofloor/types"
)

// Strategy is the contract every strategy type implements. Calls for one
// instance must be serialised by the caller; implementations hold no locks.
type Strategy interface {
	// OnTick returns the orders a tick calls for. The error is reserved for a
	// failed state write; everything else degrades to "no orders".
	OnTick(ctx context.Context, tick types.Tick) ([]types.Order, error)
	// OnPositionUpdate reports an opened, updated or closed position owned by
	// this instance.
	OnPositionUpdate(ctx context.Context, pos types.Position) error
	// ValidateConfig rejects a configuration before the strategy may start.
	ValidateConfig(params config.Params) error
}

// PositionProvider reads the open positions of a strategy instance as last
// reconciled by the executor. An empty instrument means all instruments.
type PositionProvider interface {
	OpenPositions(ctx context.Context, account, strategyID, instrument string) ([]types.Position, error)
}

// AccountProvider returns a fresh margin snapshot.
type AccountProvider interface {
	Snapshot(ctx context.Context, account string) (types.AccountSnapshot, error)
}

// Instance binds a strategy to one account and its instruments.
type Instance struct {
	ID          string
	Account     string
	Instruments []string
	Params      config.Params
}

// Deps are the collaborators a strategy is constructed with.
type Deps struct {
	Positions PositionProvider
	Account   AccountProvider
	Store     state.Store
	Audit     audit.Sink
	Log       logger.Logger
}
