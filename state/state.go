// Package state persists strategy instance state between restarts.
package state

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotExists is returned by Load when nothing was stored under the key.
var ErrNotExists = errors.New("state: not exists")

// Store saves opaque state blobs keyed by strategy instance id. Writes are
// last-write-wins; ordering of writes for one key is the caller's job.
type Store interface {
	Load(ctx context.Context, key string, v any) error
	Save(ctx context.Context, key string, v any) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// LayerState is the durable part of one layer.
type LayerState struct {
	Number           int     `json:"number"`
	RetracementCount int     `json:"retracement_count"`
	CurrentLotSize   float64 `json:"current_lot_size"`
	Active           bool    `json:"active"`
}

// StrategyState is what a layered strategy instance needs to rebuild itself.
// NormalATR is the instance-wide baseline; InstrumentNormalATR holds
// baselines learned per instrument and wins when present.
type StrategyState struct {
	Layers              []LayerState         `json:"layer_states"`
	ATR                 map[string]float64   `json:"atr_values"`
	NormalATR           float64              `json:"normal_atr"`
	InstrumentNormalATR map[string]float64   `json:"instrument_normal_atr,omitempty"`
	ATRHistory          map[string][]float64 `json:"atr_history,omitempty"`
	VolatilityLocked    map[string]bool      `json:"volatility_locked,omitempty"`
	UpdatedAt           time.Time            `json:"updated_at"`
}

// Open builds the store named by driver: memory, badger or sqlite.
func Open(driver, path string) (Store, error) {
	switch driver {
	case "", "memory":
		return NewMemoryStore(), nil
	case "badger":
		return OpenBadger(path)
	case "sqlite":
		return OpenSQLite(path)
	default:
		return nil, fmt.Errorf("state: unknown driver %q", driver)
	}
}
