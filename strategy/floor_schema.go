package strategy

import (
	"context"
	"fmt"
	"time"

	"github.com/evdnx/gofloor/config"
	"github.com/evdnx/gofloor/layer"
	"github.com/evdnx/gofloor/scaling"
	"github.com/evdnx/gofloor/types"
)

// Parameter keys of the floor strategy.
const (
	ParamBaseLotSize                   = "base_lot_size"
	ParamScalingMode                   = "scaling_mode"
	ParamScalingAmount                 = "scaling_amount"
	ParamRetracementPips               = "retracement_pips"
	ParamTakeProfitPips                = "take_profit_pips"
	ParamMaxLayers                     = "max_layers"
	ParamRetracementCountTrigger       = "retracement_count_trigger"
	ParamRetracementTriggerProgression = "retracement_trigger_progression"
	ParamRetracementTriggerIncrement   = "retracement_trigger_increment"
	ParamLotSizeProgression            = "lot_size_progression"
	ParamLotSizeIncrement              = "lot_size_increment"
	ParamVolatilityLockMultiplier      = "volatility_lock_multiplier"
	ParamCloseOnVolatilityLock         = "close_on_volatility_lock"
	ParamEntryDirection                = "entry_direction"
	ParamATRPeriod                     = "atr_period"
	ParamATRBarSeconds                 = "atr_bar_seconds"
	ParamATRBaselineBars               = "atr_baseline_bars"
	ParamNormalATR                     = "normal_atr"
	ParamEntryTimeoutSeconds           = "entry_timeout_seconds"
	ParamLotPrecision                  = "lot_precision"
)

// EntryTrend selects the entry direction from the latest HMA crossover.
const EntryTrend = "trend"

func floorSchema() config.Schema {
	progressions := layer.Progressions
	return config.Schema{
		Title: "Floor",
		Type:  "object",
		Properties: map[string]config.ParamSpec{
			ParamBaseLotSize: {
				Type: config.TypeNumber, Default: 1.0, ExclusiveMinimum: config.Bound(0),
				Description: "Lot size of a layer's first entry",
			},
			ParamScalingMode: {
				Type: config.TypeString, Default: string(scaling.Additive), Enum: scaling.Modes,
				Description: "How the lot size grows on each retracement",
			},
			ParamScalingAmount: {
				Type: config.TypeNumber, Default: 1.0, ExclusiveMinimum: config.Bound(0),
				Description: "Amount added to, or factor applied to, the lot size",
			},
			ParamRetracementPips: {
				Type: config.TypeNumber, Default: 30.0, ExclusiveMinimum: config.Bound(0),
				Description: "Pips from the last entry that trigger a scale-in",
			},
			ParamTakeProfitPips: {
				Type: config.TypeNumber, Default: 25.0, ExclusiveMinimum: config.Bound(0),
				Description: "Favorable pips at which a position is closed",
			},
			ParamMaxLayers: {
				Type: config.TypeInteger, Default: 3, Minimum: config.Bound(1), Maximum: config.Bound(layer.MaxLayers),
				Description: "Maximum number of concurrent layers",
			},
			ParamRetracementCountTrigger: {
				Type: config.TypeInteger, Default: 10, Minimum: config.Bound(1),
				Description: "Retracements on layer 1 before the next layer opens",
			},
			ParamRetracementTriggerProgression: {
				Type: config.TypeString, Default: string(layer.Equal), Enum: progressions,
				Description: "Progression of the retracement trigger across layers",
			},
			ParamRetracementTriggerIncrement: {
				Type: config.TypeNumber, Default: 0.0, Minimum: config.Bound(0),
				Description: "Increment of the retracement trigger progression",
			},
			ParamLotSizeProgression: {
				Type: config.TypeString, Default: string(layer.Equal), Enum: progressions,
				Description: "Progression of the base lot size across layers",
			},
			ParamLotSizeIncrement: {
				Type: config.TypeNumber, Default: 0.0, Minimum: config.Bound(0),
				Description: "Increment of the lot size progression",
			},
			ParamVolatilityLockMultiplier: {
				Type: config.TypeNumber, Default: 5.0, ExclusiveMinimum: config.Bound(0),
				Description: "ATR multiple of the normal ATR that locks trading",
			},
			ParamCloseOnVolatilityLock: {
				Type: config.TypeBoolean, Default: false,
				Description: "Close the instrument's positions when the lock engages",
			},
			ParamEntryDirection: {
				Type: config.TypeString, Default: string(types.Long),
				Enum:        []string{string(types.Long), string(types.Short), EntryTrend},
				Description: "Direction of a layer's first entry",
			},
			ParamATRPeriod: {
				Type: config.TypeInteger, Default: 14, Minimum: config.Bound(0), Maximum: config.Bound(200),
				Description: "ATR period in bars; 0 disables internal sampling",
			},
			ParamATRBarSeconds: {
				Type: config.TypeInteger, Default: 60, Minimum: config.Bound(1),
				Description: "Bar length used for ATR and trend sampling",
			},
			ParamATRBaselineBars: {
				Type: config.TypeInteger, Default: 20, Minimum: config.Bound(1),
				Description: "ATR readings averaged into the learned normal ATR",
			},
			ParamNormalATR: {
				Type: config.TypeNumber, Default: 0.0, Minimum: config.Bound(0),
				Description: "Fixed normal ATR; 0 learns it from ATR readings",
			},
			ParamEntryTimeoutSeconds: {
				Type: config.TypeInteger, Default: 30, Minimum: config.Bound(0),
				Description: "Seconds to wait for an entry fill before re-entering; 0 waits forever",
			},
			ParamLotPrecision: {
				Type: config.TypeInteger, Default: 2, Minimum: config.Bound(0), Maximum: config.Bound(8),
				Description: "Decimal places of order sizes",
			},
		},
	}
}

// FloorConfig is the typed form of validated floor parameters.
type FloorConfig struct {
	Plan                     layer.Plan
	Scaling                  scaling.Engine
	RetracementPips          float64
	TakeProfitPips           float64
	MaxLayers                int
	VolatilityLockMultiplier float64
	CloseOnVolatilityLock    bool
	EntryDirection           string
	ATRPeriod                int
	ATRBar                   time.Duration
	ATRBaselineBars          int
	NormalATR                float64
	EntryTimeout             time.Duration
}

// parseFloorConfig reads p, which must already carry the schema defaults.
func parseFloorConfig(p config.Params) FloorConfig {
	return FloorConfig{
		Plan: layer.Plan{
			RetracementTrigger: p.Int(ParamRetracementCountTrigger, 10),
			TriggerProgression: layer.Progression(p.String(ParamRetracementTriggerProgression, string(layer.Equal))),
			TriggerIncrement:   p.Float(ParamRetracementTriggerIncrement, 0),
			BaseLotSize:        p.Float(ParamBaseLotSize, 1),
			LotProgression:     layer.Progression(p.String(ParamLotSizeProgression, string(layer.Equal))),
			LotIncrement:       p.Float(ParamLotSizeIncrement, 0),
			LotPrecision:       int32(p.Int(ParamLotPrecision, 2)),
		},
		Scaling: scaling.Engine{
			Mode:   scaling.Mode(p.String(ParamScalingMode, string(scaling.Additive))),
			Amount: p.Float(ParamScalingAmount, 1),
		},
		RetracementPips:          p.Float(ParamRetracementPips, 30),
		TakeProfitPips:           p.Float(ParamTakeProfitPips, 25),
		MaxLayers:                p.Int(ParamMaxLayers, layer.MaxLayers),
		VolatilityLockMultiplier: p.Float(ParamVolatilityLockMultiplier, 5),
		CloseOnVolatilityLock:    p.Bool(ParamCloseOnVolatilityLock, false),
		EntryDirection:           p.String(ParamEntryDirection, string(types.Long)),
		ATRPeriod:                p.Int(ParamATRPeriod, 14),
		ATRBar:                   time.Duration(p.Int(ParamATRBarSeconds, 60)) * time.Second,
		ATRBaselineBars:          p.Int(ParamATRBaselineBars, 20),
		NormalATR:                p.Float(ParamNormalATR, 0),
		EntryTimeout:             time.Duration(p.Int(ParamEntryTimeoutSeconds, 30)) * time.Second,
	}
}

// validateFloorParams runs the checks that span several parameters. p must
// already carry the schema defaults and pass the schema.
func validateFloorParams(p config.Params) error {
	cfg := parseFloorConfig(p)
	if cfg.Plan.TriggerProgression == layer.Exponential && cfg.Plan.TriggerIncrement <= 0 {
		return fmt.Errorf("%w: %s must be > 0 for exponential progression",
			config.ErrInvalidParam, ParamRetracementTriggerIncrement)
	}
	if cfg.Plan.LotProgression == layer.Exponential && cfg.Plan.LotIncrement <= 0 {
		return fmt.Errorf("%w: %s must be > 0 for exponential progression",
			config.ErrInvalidParam, ParamLotSizeIncrement)
	}
	for k := 1; k <= cfg.MaxLayers; k++ {
		if lot := cfg.Plan.ConfigFor(k).BaseLotSize; lot <= 0 {
			return fmt.Errorf("%w: layer %d lot size rounds to %v at %s=%d",
				config.ErrInvalidParam, k, lot, ParamLotPrecision, cfg.Plan.LotPrecision)
		}
	}
	return nil
}

// checkFloorParams applies defaults and runs every floor check.
func checkFloorParams(p config.Params) (config.Params, error) {
	schema := floorSchema()
	full := schema.WithDefaults(p)
	if err := schema.Validate(full); err != nil {
		return nil, err
	}
	if err := validateFloorParams(full); err != nil {
		return nil, err
	}
	return full, nil
}

func floorDefinition() Definition {
	return Definition{
		Description: "Layered retracement scaling with volatility lock and margin protection",
		Schema:      floorSchema(),
		New: func(ctx context.Context, inst Instance, deps Deps) (Strategy, error) {
			return NewFloor(ctx, inst, deps)
		},
		Validate: validateFloorParams,
	}
}
