package main

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cast"

	"github.com/evdnx/gofloor/types"
)

// replayTicks reads rows of time,instrument,bid,ask and hands each tick to
// fn in file order. A header row is skipped. time is RFC3339 or unix
// milliseconds. It returns the number of ticks delivered.
func replayTicks(ctx context.Context, r io.Reader, fn func(types.Tick) error) (int, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = 4
	cr.TrimLeadingSpace = true
	cr.ReuseRecord = true

	n := 0
	for line := 1; ; line++ {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return n, nil
		}
		if err != nil {
			return n, fmt.Errorf("ticks line %d: %w", line, err)
		}
		if line == 1 && strings.EqualFold(rec[0], "time") {
			continue
		}
		tick, err := parseTick(rec)
		if err != nil {
			return n, fmt.Errorf("ticks line %d: %w", line, err)
		}
		if err := fn(tick); err != nil {
			return n, err
		}
		n++
	}
}

func parseTick(rec []string) (types.Tick, error) {
	at, err := parseTime(rec[0])
	if err != nil {
		return types.Tick{}, err
	}
	bid, err := cast.ToFloat64E(rec[2])
	if err != nil {
		return types.Tick{}, fmt.Errorf("bid: %w", err)
	}
	ask, err := cast.ToFloat64E(rec[3])
	if err != nil {
		return types.Tick{}, fmt.Errorf("ask: %w", err)
	}
	if bid <= 0 || ask <= 0 || ask < bid {
		return types.Tick{}, fmt.Errorf("bad quote bid=%v ask=%v", bid, ask)
	}
	return types.Tick{
		Instrument: strings.ToUpper(rec[1]),
		Bid:        bid,
		Ask:        ask,
		Mid:        (bid + ask) / 2,
		Time:       at,
	}, nil
}

func parseTime(s string) (time.Time, error) {
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	at, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("time %q: %w", s, err)
	}
	return at, nil
}
