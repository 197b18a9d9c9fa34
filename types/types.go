package types

import "time"

type Direction string

const (
	Long  Direction = "long"
	Short Direction = "short"
)

// Opposite returns the direction that flattens a position of d.
func (d Direction) Opposite() Direction {
	if d == Short {
		return Long
	}
	return Short
}

// Sign is +1 for long and -1 for short.
func (d Direction) Sign() float64 {
	if d == Short {
		return -1
	}
	return 1
}

func (d Direction) Valid() bool { return d == Long || d == Short }

type OrderType string

const Market OrderType = "market"

// Tick is one unit of market data for a single instrument.
type Tick struct {
	Instrument string
	Bid        float64
	Ask        float64
	Mid        float64
	Time       time.Time
}

// MidPrice returns Mid, deriving it from bid/ask when the feed left it empty.
func (t Tick) MidPrice() float64 {
	if t.Mid > 0 {
		return t.Mid
	}
	if t.Bid > 0 && t.Ask > 0 {
		return (t.Bid + t.Ask) / 2
	}
	return 0
}

// Order is a request to trade. The engine produces orders but never learns
// synchronously whether they filled.
type Order struct {
	ID         string
	Account    string
	Strategy   string
	Instrument string
	Type       OrderType
	Direction  Direction
	Units      float64
	Price      float64
	StopLoss   *float64
	TakeProfit *float64

	// routing metadata
	LayerNumber     int
	IsFirstLot      bool
	ClosePositionID string
	Reason          string
}

// IsClose reports whether the order flattens an existing position.
func (o Order) IsClose() bool { return o.ClosePositionID != "" }

// Position is one open (or just closed) exposure as reconciled by the executor.
type Position struct {
	ID            string
	Account       string
	Strategy      string
	Instrument    string
	Direction     Direction
	Units         float64
	EntryPrice    float64
	CurrentPrice  float64
	UnrealizedPnL float64
	LayerNumber   int
	IsFirstLot    bool
	OpenedAt      time.Time
	ClosedAt      *time.Time
}

func (p Position) IsOpen() bool { return p.ClosedAt == nil }

// AccountSnapshot is read fresh before every margin-protection check.
type AccountSnapshot struct {
	MarginUsed    float64
	UnrealizedPnL float64
}
