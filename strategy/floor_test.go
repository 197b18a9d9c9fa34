package strategy

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/evdnx/gofloor/audit"
	"github.com/evdnx/gofloor/config"
	"github.com/evdnx/gofloor/state"
	"github.com/evdnx/gofloor/testutils"
	"github.com/evdnx/gofloor/types"
)

const (
	eurusd      = "EUR_USD"
	usdjpy      = "USD_JPY"
	testAccount = "acct-1"
	testID      = "floor-1"
)

var t0 = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

// floorEnv bundles a floor with the fakes it talks to.
type floorEnv struct {
	floor     *Floor
	positions *testutils.MockPositions
	account   *testutils.MockAccount
	sink      *testutils.MemorySink
	store     state.Store
	log       *testutils.MockLogger
	nextID    int
}

// baseParams disables internal ATR sampling so tests control volatility
// through SetATR.
func baseParams() config.Params {
	return config.Params{ParamATRPeriod: 0}
}

func buildFloor(t *testing.T, params config.Params, instruments ...string) *floorEnv {
	t.Helper()
	env := &floorEnv{
		positions: testutils.NewMockPositions(),
		account:   testutils.NewMockAccount(),
		sink:      testutils.NewMemorySink(),
		store:     state.NewMemoryStore(),
		log:       testutils.NewMockLogger(),
	}
	env.start(t, params, instruments...)
	return env
}

// start (re)creates the floor on top of the env's store and positions.
func (e *floorEnv) start(t *testing.T, params config.Params, instruments ...string) {
	t.Helper()
	if len(instruments) == 0 {
		instruments = []string{eurusd}
	}
	f, err := NewFloor(context.Background(), Instance{
		ID:          testID,
		Account:     testAccount,
		Instruments: instruments,
		Params:      params,
	}, Deps{
		Positions: e.positions,
		Account:   e.account,
		Store:     e.store,
		Audit:     e.sink,
		Log:       e.log,
	})
	if err != nil {
		t.Fatalf("NewFloor: %v", err)
	}
	e.floor = f
}

func tickAt(instrument string, mid float64, sec int) types.Tick {
	return types.Tick{Instrument: instrument, Mid: mid, Time: t0.Add(time.Duration(sec) * time.Second)}
}

func (e *floorEnv) tick(t *testing.T, instrument string, mid float64, sec int) []types.Order {
	t.Helper()
	orders, err := e.floor.OnTick(context.Background(), tickAt(instrument, mid, sec))
	if err != nil {
		t.Fatalf("OnTick: %v", err)
	}
	return orders
}

// fill turns an opening order into a position and reports it back.
func (e *floorEnv) fill(t *testing.T, o types.Order) types.Position {
	t.Helper()
	e.nextID++
	pos := types.Position{
		ID:           "pos-" + string(rune('a'+e.nextID-1)),
		Account:      o.Account,
		Strategy:     o.Strategy,
		Instrument:   o.Instrument,
		Direction:    o.Direction,
		Units:        o.Units,
		EntryPrice:   o.Price,
		CurrentPrice: o.Price,
		LayerNumber:  o.LayerNumber,
		IsFirstLot:   o.IsFirstLot,
		OpenedAt:     t0.Add(time.Duration(e.nextID) * time.Second),
	}
	e.positions.Open(pos)
	if err := e.floor.OnPositionUpdate(context.Background(), pos); err != nil {
		t.Fatalf("OnPositionUpdate: %v", err)
	}
	return pos
}

// settle reports pos as closed.
func (e *floorEnv) settle(t *testing.T, pos types.Position) {
	t.Helper()
	closed := t0
	pos.ClosedAt = &closed
	e.positions.Close(pos.ID)
	if err := e.floor.OnPositionUpdate(context.Background(), pos); err != nil {
		t.Fatalf("OnPositionUpdate: %v", err)
	}
}

// enterAt emits and fills the first entry of layer 1 at price.
func (e *floorEnv) enterAt(t *testing.T, instrument string, price float64) types.Position {
	t.Helper()
	orders := e.tick(t, instrument, price, 0)
	if len(orders) != 1 || orders[0].Reason != ReasonEntry {
		t.Fatalf("expected one entry order, got %+v", orders)
	}
	return e.fill(t, orders[0])
}

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestFloor_EntryOnEmptyLayer(t *testing.T) {
	env := buildFloor(t, baseParams())

	orders := env.tick(t, eurusd, 1.1000, 0)
	if len(orders) != 1 {
		t.Fatalf("expected one entry order, got %d", len(orders))
	}
	o := orders[0]
	if o.Direction != types.Long || o.Type != types.Market {
		t.Fatalf("expected long market entry, got %s %s", o.Direction, o.Type)
	}
	if o.Units != 1.0 || o.LayerNumber != 1 || !o.IsFirstLot {
		t.Fatalf("unexpected entry %+v", o)
	}
	if o.Account != testAccount || o.Strategy != testID || o.ID == "" {
		t.Fatalf("order not attributed: %+v", o)
	}
	if o.TakeProfit == nil || !approx(*o.TakeProfit, 1.1025) {
		t.Fatalf("expected take profit 1.1025, got %v", o.TakeProfit)
	}

	// the entry is pending until filled or timed out
	if orders := env.tick(t, eurusd, 1.1001, 10); len(orders) != 0 {
		t.Fatalf("expected no re-entry while pending, got %d", len(orders))
	}
	if orders := env.tick(t, eurusd, 1.1001, 31); len(orders) != 1 {
		t.Fatalf("expected re-entry after timeout, got %d", len(orders))
	}
}

func TestFloor_ShortEntry(t *testing.T) {
	params := baseParams()
	params[ParamEntryDirection] = "short"
	env := buildFloor(t, params)

	orders := env.tick(t, eurusd, 1.1000, 0)
	if len(orders) != 1 || orders[0].Direction != types.Short {
		t.Fatalf("expected one short entry, got %+v", orders)
	}
	if !approx(*orders[0].TakeProfit, 1.0975) {
		t.Fatalf("expected take profit below entry, got %v", *orders[0].TakeProfit)
	}
}

func TestFloor_TrendEntryWaitsForCrossover(t *testing.T) {
	params := baseParams()
	params[ParamEntryDirection] = EntryTrend
	env := buildFloor(t, params)

	for i := 0; i < 5; i++ {
		if orders := env.tick(t, eurusd, 1.1000, i*60); len(orders) != 0 {
			t.Fatalf("expected no entry without a trend, got %+v", orders)
		}
	}
}

func TestFloor_TakeProfit(t *testing.T) {
	env := buildFloor(t, baseParams())
	pos := env.enterAt(t, eurusd, 1.1000)

	if orders := env.tick(t, eurusd, 1.1024, 5); len(orders) != 0 {
		t.Fatalf("24 pips must not close, got %+v", orders)
	}
	orders := env.tick(t, eurusd, 1.1026, 6)
	if len(orders) != 1 {
		t.Fatalf("expected exactly one close order, got %d", len(orders))
	}
	o := orders[0]
	if o.ClosePositionID != pos.ID || o.Direction != types.Short || o.Units != pos.Units {
		t.Fatalf("unexpected close %+v", o)
	}
	if o.Reason != ReasonTakeProfit {
		t.Fatalf("expected take_profit reason, got %s", o.Reason)
	}
	// the position is already being closed
	if orders := env.tick(t, eurusd, 1.1030, 7); len(orders) != 0 {
		t.Fatalf("expected no duplicate close, got %+v", orders)
	}
	if env.sink.Count(audit.EventTakeProfit) != 1 {
		t.Fatalf("expected one take_profit event")
	}
}

func TestFloor_UnfilledCloseIsRetried(t *testing.T) {
	env := buildFloor(t, baseParams())
	pos := env.enterAt(t, eurusd, 1.1000)

	tp := env.tick(t, eurusd, 1.1026, 10)
	if len(tp) != 1 || tp[0].Reason != ReasonTakeProfit {
		t.Fatalf("expected a take profit close, got %+v", tp)
	}
	// the close is never reported back
	if orders := env.tick(t, eurusd, 1.0960, 20); len(orders) != 0 {
		t.Fatalf("scaling must wait for the pending close, got %+v", orders)
	}
	retry := env.tick(t, eurusd, 1.1030, 45)
	if len(retry) != 1 || retry[0].Reason != ReasonTakeProfit || retry[0].ClosePositionID != pos.ID {
		t.Fatalf("expected the close to be emitted again after the timeout, got %+v", retry)
	}
	if orders := env.tick(t, eurusd, 1.0960, 90); len(orders) != 1 || orders[0].Reason != ReasonScaleIn {
		t.Fatalf("expected scaling to resume once the close mark expired, got %+v", orders)
	}
}

func TestFloor_ReentryAfterLayerEmpties(t *testing.T) {
	env := buildFloor(t, baseParams())
	pos := env.enterAt(t, eurusd, 1.1000)
	scale := env.tick(t, eurusd, 1.0970, 5)
	if len(scale) != 1 {
		t.Fatalf("expected scale-in, got %d", len(scale))
	}
	second := env.fill(t, scale[0])

	env.settle(t, pos)
	env.settle(t, second)

	orders := env.tick(t, eurusd, 1.0990, 50)
	if len(orders) != 1 || orders[0].Reason != ReasonEntry || orders[0].Units != 1.0 {
		t.Fatalf("expected fresh entry at base size, got %+v", orders)
	}
	l := env.floor.Layers()[0]
	if l.RetracementCount != 1 {
		t.Fatalf("retracement count must survive the layer emptying, got %d", l.RetracementCount)
	}
}

func TestFloor_ScalingSequence(t *testing.T) {
	params := baseParams()
	params[ParamBaseLotSize] = 1.0
	params[ParamScalingMode] = "additive"
	params[ParamScalingAmount] = 1.0
	env := buildFloor(t, params)
	env.enterAt(t, eurusd, 1.1000)

	want := []float64{2.0, 3.0, 4.0}
	prices := []float64{1.0970, 1.0940, 1.0910}
	for i, price := range prices {
		orders := env.tick(t, eurusd, price, 10+i)
		if len(orders) != 1 {
			t.Fatalf("retracement %d: expected one order, got %d", i+1, len(orders))
		}
		o := orders[0]
		if o.Reason != ReasonScaleIn || o.Direction != types.Long || o.IsFirstLot {
			t.Fatalf("retracement %d: unexpected order %+v", i+1, o)
		}
		if !approx(o.Units, want[i]) {
			t.Fatalf("retracement %d: expected %v units, got %v", i+1, want[i], o.Units)
		}
		if o.TakeProfit == nil || !approx(*o.TakeProfit, price+0.0025) {
			t.Fatalf("retracement %d: unexpected take profit %v", i+1, o.TakeProfit)
		}
		env.fill(t, o)
	}

	l := env.floor.Layers()[0]
	if l.RetracementCount != 3 || !approx(l.CurrentLotSize, 4.0) || l.PositionCount() != 4 {
		t.Fatalf("unexpected layer state: count=%d lot=%v positions=%d",
			l.RetracementCount, l.CurrentLotSize, l.PositionCount())
	}
	// less than 30 pips from the last fill
	if orders := env.tick(t, eurusd, 1.0885, 20); len(orders) != 0 {
		t.Fatalf("expected no scale-in below threshold, got %+v", orders)
	}
}

func TestFloor_ScaleInWithoutFillUsesOrderPrice(t *testing.T) {
	env := buildFloor(t, baseParams())
	env.enterAt(t, eurusd, 1.1000)

	if orders := env.tick(t, eurusd, 1.0970, 5); len(orders) != 1 {
		t.Fatalf("expected scale-in, got %d", len(orders))
	}
	// same price again: the reference moved to 1.0970
	if orders := env.tick(t, eurusd, 1.0970, 6); len(orders) != 0 {
		t.Fatalf("expected no second scale-in for the same move, got %d", len(orders))
	}
}

func TestFloor_JPYPipSize(t *testing.T) {
	env := buildFloor(t, baseParams(), usdjpy)
	orders := env.tick(t, usdjpy, 150.00, 0)
	if len(orders) != 1 {
		t.Fatalf("expected entry, got %d", len(orders))
	}
	if !approx(*orders[0].TakeProfit, 150.25) {
		t.Fatalf("expected JPY take profit 150.25, got %v", *orders[0].TakeProfit)
	}
	env.fill(t, orders[0])

	if orders := env.tick(t, usdjpy, 149.71, 5); len(orders) != 0 {
		t.Fatalf("29 JPY pips must not scale, got %+v", orders)
	}
	if orders := env.tick(t, usdjpy, 149.70, 6); len(orders) != 1 {
		t.Fatalf("30 JPY pips must scale, got %d orders", len(orders))
	}
}

func TestFloor_NewLayerAfterTrigger(t *testing.T) {
	params := baseParams()
	params[ParamRetracementCountTrigger] = 10
	params[ParamRetracementTriggerProgression] = "additive"
	params[ParamRetracementTriggerIncrement] = 5
	env := buildFloor(t, params)
	env.enterAt(t, eurusd, 1.2000)

	price := 1.2000
	for i := 1; i <= 10; i++ {
		price -= 0.0030
		if orders := env.tick(t, eurusd, price, 10+i); len(orders) != 1 {
			t.Fatalf("retracement %d: expected one order, got %d", i, len(orders))
		}
		if i < 10 && len(env.floor.Layers()) != 1 {
			t.Fatalf("layer 2 created early at retracement %d", i)
		}
	}

	layers := env.floor.Layers()
	if len(layers) != 2 {
		t.Fatalf("expected 2 layers, got %d", len(layers))
	}
	if layers[1].Number != 2 || layers[1].Config.RetracementTrigger != 15 {
		t.Fatalf("expected layer 2 with trigger 15, got #%d trigger %d", layers[1].Number, layers[1].Config.RetracementTrigger)
	}
	if env.sink.Count(audit.EventLayerCreated) != 1 {
		t.Fatalf("expected one layer_created event, got %d", env.sink.Count(audit.EventLayerCreated))
	}

	// layer 2 enters on the next tick
	orders := env.tick(t, eurusd, price, 30)
	if len(orders) != 1 || orders[0].LayerNumber != 2 || !orders[0].IsFirstLot {
		t.Fatalf("expected layer 2 entry, got %+v", orders)
	}
}

func TestFloor_LayerCapRespected(t *testing.T) {
	params := baseParams()
	params[ParamRetracementCountTrigger] = 1
	params[ParamMaxLayers] = 2
	env := buildFloor(t, params)
	env.enterAt(t, eurusd, 1.2000)

	price := 1.2000
	for i := 1; i <= 4; i++ {
		price -= 0.0030
		env.tick(t, eurusd, price, 10+i)
	}
	if n := len(env.floor.Layers()); n != 2 {
		t.Fatalf("expected the cap of 2 layers, got %d", n)
	}
}

func TestFloor_MarginProtection(t *testing.T) {
	cases := []struct {
		name      string
		margin    float64
		upl       float64
		liquidate bool
	}{
		{"no margin in use", 0, -50, false},
		{"healthy", 1000, -200, false},
		{"just above zero", 1000, -999, false},
		{"ratio zero", 1000, -1000, true},
		{"ratio negative", 1000, -1500, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env := &floorEnv{
				positions: testutils.NewMockPositions(
					types.Position{ID: "l1-first", Account: testAccount, Strategy: testID, Instrument: eurusd,
						Direction: types.Long, Units: 1, EntryPrice: 1.1000, LayerNumber: 1, IsFirstLot: true, OpenedAt: t0},
					types.Position{ID: "l1-scale", Account: testAccount, Strategy: testID, Instrument: eurusd,
						Direction: types.Long, Units: 2, EntryPrice: 1.0970, LayerNumber: 1, OpenedAt: t0.Add(time.Second)},
					types.Position{ID: "l2-first", Account: testAccount, Strategy: testID, Instrument: eurusd,
						Direction: types.Long, Units: 1, EntryPrice: 1.0960, LayerNumber: 2, IsFirstLot: true, OpenedAt: t0.Add(2 * time.Second)},
				),
				account: testutils.NewMockAccount(),
				sink:    testutils.NewMemorySink(),
				store:   state.NewMemoryStore(),
				log:     testutils.NewMockLogger(),
			}
			env.start(t, baseParams())
			env.account.Set(testAccount, tc.margin, tc.upl)

			orders := env.tick(t, eurusd, 1.0965, 0)
			closes := 0
			for _, o := range orders {
				if o.Reason == ReasonMarginProtection {
					closes++
					if o.ClosePositionID != "l1-first" {
						t.Fatalf("margin protection must close layer 1's first lot, closed %s", o.ClosePositionID)
					}
				}
			}
			if tc.liquidate {
				if len(orders) != 1 || closes != 1 {
					t.Fatalf("expected exactly one margin close, got %+v", orders)
				}
				// repeated trigger does not close twice or touch other layers
				if again := env.tick(t, eurusd, 1.0965, 1); len(again) != 0 {
					t.Fatalf("expected no further orders, got %+v", again)
				}
				if env.sink.Count(audit.EventMarginProtection) != 1 {
					t.Fatalf("expected one margin_protection event")
				}
			} else if closes != 0 {
				t.Fatalf("unexpected margin close %+v", orders)
			}
		})
	}
}

func TestFloor_MarginProtectionWithoutFirstLot(t *testing.T) {
	env := buildFloor(t, baseParams())
	env.account.Set(testAccount, 1000, -1000)

	if orders := env.tick(t, eurusd, 1.1000, 0); len(orders) != 0 {
		t.Fatalf("expected no orders when nothing can be liquidated, got %+v", orders)
	}
	if !env.log.Has("margin_protection_no_first_lot") {
		t.Fatalf("expected a warning about the missing first lot")
	}
}

func TestFloor_VolatilityLock(t *testing.T) {
	params := baseParams()
	params[ParamVolatilityLockMultiplier] = 5.0
	env := buildFloor(t, params)
	env.floor.SetNormalATR(0.0010)

	env.floor.SetATR(eurusd, 0.0060)
	if orders := env.tick(t, eurusd, 1.1000, 0); len(orders) != 0 {
		t.Fatalf("expected no orders while locked, got %+v", orders)
	}
	if !env.floor.Locked(eurusd) {
		t.Fatalf("expected instrument to be locked")
	}
	if orders := env.tick(t, eurusd, 1.1000, 1); len(orders) != 0 {
		t.Fatalf("expected no orders while still locked, got %+v", orders)
	}
	if env.sink.Count(audit.EventVolatilityLock) != 1 {
		t.Fatalf("expected one lock event, got %d", env.sink.Count(audit.EventVolatilityLock))
	}

	env.floor.SetATR(eurusd, 0.0049)
	orders := env.tick(t, eurusd, 1.1000, 2)
	if len(orders) != 1 || orders[0].Reason != ReasonEntry {
		t.Fatalf("expected trading to resume, got %+v", orders)
	}
	if env.floor.Locked(eurusd) || env.sink.Count(audit.EventVolatilityUnlock) != 1 {
		t.Fatalf("expected unlock with one event")
	}
}

func TestFloor_VolatilityLockNeedsData(t *testing.T) {
	env := buildFloor(t, baseParams())
	// ATR without a baseline never locks
	env.floor.SetATR(eurusd, 1.0)
	if orders := env.tick(t, eurusd, 1.1000, 0); len(orders) != 1 {
		t.Fatalf("expected entry without a baseline, got %d orders", len(orders))
	}
}

func TestFloor_CloseOnVolatilityLock(t *testing.T) {
	params := baseParams()
	params[ParamCloseOnVolatilityLock] = true
	params[ParamNormalATR] = 0.0010
	env := buildFloor(t, params)
	pos := env.enterAt(t, eurusd, 1.1000)

	env.floor.SetATR(eurusd, 0.0100)
	orders := env.tick(t, eurusd, 1.0990, 5)
	if len(orders) != 1 || orders[0].ClosePositionID != pos.ID || orders[0].Reason != ReasonVolatilityLock {
		t.Fatalf("expected the open position to be closed, got %+v", orders)
	}
	if orders := env.tick(t, eurusd, 1.0990, 6); len(orders) != 0 {
		t.Fatalf("expected closes only when the lock engages, got %+v", orders)
	}
}

func TestFloor_LearnsBaselineFromBars(t *testing.T) {
	params := config.Params{
		ParamATRPeriod:                2,
		ParamATRBarSeconds:            60,
		ParamATRBaselineBars:          3,
		ParamVolatilityLockMultiplier: 3.0,
		ParamEntryTimeoutSeconds:      0,
	}
	env := buildFloor(t, params)

	// six quiet one-minute bars with a 10 pip range
	for m := 0; m < 6; m++ {
		env.tick(t, eurusd, 1.1000, m*60)
		env.tick(t, eurusd, 1.1010, m*60+30)
		if env.floor.Locked(eurusd) {
			t.Fatalf("locked during quiet bars at minute %d", m)
		}
	}
	// a 200 pip bar
	env.tick(t, eurusd, 1.1000, 6*60)
	env.tick(t, eurusd, 1.1200, 6*60+30)
	if env.floor.Locked(eurusd) {
		t.Fatalf("locked before the spike bar closed")
	}
	env.tick(t, eurusd, 1.1100, 7*60)
	if !env.floor.Locked(eurusd) {
		t.Fatalf("expected the spike bar to lock the instrument")
	}
}

func TestFloor_IgnoresOtherInstruments(t *testing.T) {
	env := buildFloor(t, baseParams())
	if orders := env.tick(t, "GBP_USD", 1.2500, 0); len(orders) != 0 {
		t.Fatalf("expected no orders for an unassigned instrument, got %+v", orders)
	}
}

func TestFloor_PersistsEveryTick(t *testing.T) {
	env := buildFloor(t, baseParams())
	env.tick(t, eurusd, 1.1000, 0)
	env.tick(t, eurusd, 1.1000, 1) // pending entry, no orders

	var st state.StrategyState
	if err := env.store.Load(context.Background(), testID, &st); err != nil {
		t.Fatalf("expected state to be saved: %v", err)
	}
	if !st.UpdatedAt.Equal(t0.Add(time.Second)) {
		t.Fatalf("expected the last tick's state, got %v", st.UpdatedAt)
	}
}

func TestFloor_PersistsTickWithoutPrice(t *testing.T) {
	env := buildFloor(t, baseParams())
	orders, err := env.floor.OnTick(context.Background(), types.Tick{Instrument: eurusd, Time: t0.Add(5 * time.Second)})
	if err != nil || len(orders) != 0 {
		t.Fatalf("expected no orders and no error, got %+v, %v", orders, err)
	}
	var st state.StrategyState
	if err := env.store.Load(context.Background(), testID, &st); err != nil {
		t.Fatalf("expected state to be saved: %v", err)
	}
	if !st.UpdatedAt.Equal(t0.Add(5 * time.Second)) {
		t.Fatalf("expected the tick's time, got %v", st.UpdatedAt)
	}
}

func TestFloor_ZeroTickTimeUsesWallClock(t *testing.T) {
	params := baseParams()
	params[ParamATRPeriod] = 1
	params[ParamATRBarSeconds] = 60
	env := buildFloor(t, params)

	before := time.Now()
	for _, mid := range []float64{1.1000, 1.1005} {
		if _, err := env.floor.OnTick(context.Background(), types.Tick{Instrument: eurusd, Mid: mid}); err != nil {
			t.Fatalf("OnTick: %v", err)
		}
	}
	after := time.Now()

	var st state.StrategyState
	if err := env.store.Load(context.Background(), testID, &st); err != nil {
		t.Fatalf("load state: %v", err)
	}
	if st.UpdatedAt.Before(before) || st.UpdatedAt.After(after) {
		t.Fatalf("expected a wall clock timestamp, got %v", st.UpdatedAt)
	}

	// older timestamped ticks must not close the wall clock bar
	env.tick(t, eurusd, 1.1010, 0)
	env.tick(t, eurusd, 1.1020, 60)
	env.tick(t, eurusd, 1.1030, 120)
	if atr := env.floor.atr[eurusd]; atr != 0 {
		t.Fatalf("expected no ATR from out of order bars, got %v", atr)
	}
}

func TestFloor_StateRoundTrip(t *testing.T) {
	params := baseParams()
	params[ParamRetracementCountTrigger] = 2
	params[ParamLotSizeProgression] = "inverse"
	env := buildFloor(t, params)
	env.enterAt(t, eurusd, 1.2000)
	env.floor.SetATR(eurusd, 0.0007)
	env.fill(t, env.tick(t, eurusd, 1.1970, 5)[0])
	env.fill(t, env.tick(t, eurusd, 1.1940, 6)[0])

	before := env.floor.Layers()
	if len(before) != 2 {
		t.Fatalf("expected 2 layers before restart, got %d", len(before))
	}

	env.start(t, params)
	after := env.floor.Layers()
	if len(after) != len(before) {
		t.Fatalf("expected %d layers after restart, got %d", len(before), len(after))
	}
	for i := range before {
		b, a := before[i], after[i]
		if b.Number != a.Number || b.RetracementCount != a.RetracementCount ||
			!approx(b.CurrentLotSize, a.CurrentLotSize) || b.Active != a.Active {
			t.Fatalf("layer %d differs after restart: before %+v after %+v", b.Number, b, a)
		}
		if b.Config != a.Config {
			t.Fatalf("layer %d config differs: %+v vs %+v", b.Number, b.Config, a.Config)
		}
	}
	if after[0].PositionCount() != 3 || after[0].LastEntryPrice() != 1.1940 {
		t.Fatalf("expected positions reconciled into layer 1, got %d at %v",
			after[0].PositionCount(), after[0].LastEntryPrice())
	}
	if !approx(after[1].Config.BaseLotSize, 0.5) {
		t.Fatalf("expected inverse lot 0.5 on layer 2, got %v", after[1].Config.BaseLotSize)
	}
	if env.floor.atr[eurusd] != 0.0007 {
		t.Fatalf("expected ATR to survive restart")
	}
	if env.sink.Count(audit.EventStateRestored) != 2 {
		t.Fatalf("expected a state_restored event per start")
	}
	// layer 1 holds positions, layer 2 is empty: only layer 2 enters
	orders := env.tick(t, eurusd, 1.1945, 60)
	if len(orders) != 1 || orders[0].LayerNumber != 2 {
		t.Fatalf("expected only layer 2 to enter after restart, got %+v", orders)
	}
}

type failingStore struct{ state.Store }

func (failingStore) Load(context.Context, string, any) error { return errors.New("disk on fire") }

func TestFloor_LoadFailureIsFatal(t *testing.T) {
	_, err := NewFloor(context.Background(), Instance{ID: testID, Account: testAccount, Instruments: []string{eurusd}},
		Deps{Positions: testutils.NewMockPositions(), Store: failingStore{}})
	if err == nil {
		t.Fatalf("expected load failure to stop construction")
	}
}

func TestFloor_InvalidConfig(t *testing.T) {
	cases := map[string]config.Params{
		"negative lot":         {ParamBaseLotSize: -1.0},
		"unknown scaling mode": {ParamScalingMode: "geometric"},
		"too many layers":      {ParamMaxLayers: 4},
		"wrong type":           {ParamRetracementPips: "thirty"},
		"exponential without increment": {
			ParamRetracementTriggerProgression: "exponential",
		},
		"lot rounds to zero": {
			ParamBaseLotSize:        0.01,
			ParamLotSizeProgression: "inverse",
			ParamLotPrecision:       2,
		},
	}
	for name, params := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := NewFloor(context.Background(), Instance{
				ID: testID, Account: testAccount, Instruments: []string{eurusd}, Params: params,
			}, Deps{Positions: testutils.NewMockPositions(), Store: state.NewMemoryStore()})
			if !errors.Is(err, config.ErrInvalidParam) {
				t.Fatalf("expected ErrInvalidParam, got %v", err)
			}
		})
	}
}

func TestFloor_ValidateConfig(t *testing.T) {
	env := buildFloor(t, baseParams())
	if err := env.floor.ValidateConfig(config.Params{ParamTakeProfitPips: 0}); err == nil {
		t.Fatalf("expected zero take profit to be rejected")
	}
	if err := env.floor.ValidateConfig(config.Params{}); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
}
