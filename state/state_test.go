package state

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleState() StrategyState {
	return StrategyState{
		Layers: []LayerState{
			{Number: 1, RetracementCount: 10, CurrentLotSize: 4.0, Active: true},
			{Number: 2, RetracementCount: 3, CurrentLotSize: 2.5, Active: true},
			{Number: 3, RetracementCount: 0, CurrentLotSize: 0.75, Active: false},
		},
		ATR:              map[string]float64{"EUR_USD": 0.0012, "USD_JPY": 0.15},
		NormalATR:        0.0008,
		ATRHistory:       map[string][]float64{"EUR_USD": {0.0007, 0.0009}},
		VolatilityLocked: map[string]bool{"EUR_USD": true},
		UpdatedAt:        time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func storeFactories(t *testing.T) map[string]func() Store {
	return map[string]func() Store{
		"memory": func() Store { return NewMemoryStore() },
		"badger": func() Store {
			s, err := OpenBadger(filepath.Join(t.TempDir(), "badger"))
			require.NoError(t, err)
			return s
		},
		"sqlite": func() Store {
			s, err := OpenSQLite(filepath.Join(t.TempDir(), "state.db"))
			require.NoError(t, err)
			return s
		},
	}
}

func TestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, open := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := open()
			defer s.Close()

			var missing StrategyState
			require.ErrorIs(t, s.Load(ctx, "floor-1", &missing), ErrNotExists)

			want := sampleState()
			require.NoError(t, s.Save(ctx, "floor-1", want))

			var got StrategyState
			require.NoError(t, s.Load(ctx, "floor-1", &got))
			assert.Equal(t, want.Layers, got.Layers)
			assert.Equal(t, want.ATR, got.ATR)
			assert.Equal(t, want.NormalATR, got.NormalATR)
			assert.Equal(t, want.ATRHistory, got.ATRHistory)
			assert.True(t, got.VolatilityLocked["EUR_USD"])
			assert.True(t, want.UpdatedAt.Equal(got.UpdatedAt))
		})
	}
}

func TestStoreLastWriteWins(t *testing.T) {
	ctx := context.Background()
	for name, open := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := open()
			defer s.Close()

			first := sampleState()
			second := sampleState()
			second.Layers[0].RetracementCount = 11
			require.NoError(t, s.Save(ctx, "k", first))
			require.NoError(t, s.Save(ctx, "k", second))

			var got StrategyState
			require.NoError(t, s.Load(ctx, "k", &got))
			assert.Equal(t, 11, got.Layers[0].RetracementCount)

			require.NoError(t, s.Delete(ctx, "k"))
			require.ErrorIs(t, s.Load(ctx, "k", &got), ErrNotExists)
		})
	}
}

func TestBadgerPersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "badger")

	s, err := OpenBadger(dir)
	require.NoError(t, err)
	require.NoError(t, s.Save(ctx, "floor-1", sampleState()))
	require.NoError(t, s.Close())

	s, err = OpenBadger(dir)
	require.NoError(t, err)
	defer s.Close()
	var got StrategyState
	require.NoError(t, s.Load(ctx, "floor-1", &got))
	assert.Len(t, got.Layers, 3)
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open("etcd", "")
	require.Error(t, err)
	s, err := Open("memory", "")
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)
}
