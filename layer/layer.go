// Package layer models the independent scale-in cycles of a layered
// strategy instance.
package layer

import (
	"time"

	"github.com/evdnx/gofloor/types"
)

// Config is computed once when a layer is created.
type Config struct {
	RetracementTrigger int
	BaseLotSize        float64
}

// Layer is one scale-in/scale-out cycle. A layer with no positions has not
// entered yet; once it holds a position LastEntryPrice is set.
type Layer struct {
	Number           int
	Config           Config
	RetracementCount int
	CurrentLotSize   float64
	Active           bool

	positions      []types.Position
	firstLotID     string
	lastEntryPrice float64

	entryPendingAt time.Time
	closing        map[string]time.Time
}

func New(number int, cfg Config) *Layer {
	return &Layer{
		Number:         number,
		Config:         cfg,
		CurrentLotSize: cfg.BaseLotSize,
		Active:         true,
		closing:        make(map[string]time.Time),
	}
}

// AddPosition appends pos. A first lot becomes the layer's liquidation
// anchor. The entry price of pos always becomes the last entry price.
func (l *Layer) AddPosition(pos types.Position, isFirstLot bool) {
	pos.IsFirstLot = isFirstLot
	l.positions = append(l.positions, pos)
	if isFirstLot {
		l.firstLotID = pos.ID
	}
	l.lastEntryPrice = pos.EntryPrice
	l.entryPendingAt = time.Time{}
}

func (l *Layer) HasPosition(id string) bool {
	return l.indexOf(id) >= 0
}

// UpdatePosition refreshes the stored copy of a tracked position (price,
// P&L). It reports false when the position is not tracked.
func (l *Layer) UpdatePosition(pos types.Position) bool {
	i := l.indexOf(pos.ID)
	if i < 0 {
		return false
	}
	pos.IsFirstLot = l.positions[i].IsFirstLot
	l.positions[i] = pos
	return true
}

// RemovePosition drops a closed position. When the layer empties its entry
// price is cleared so the next cycle starts fresh.
func (l *Layer) RemovePosition(id string) bool {
	i := l.indexOf(id)
	if i < 0 {
		return false
	}
	l.positions = append(l.positions[:i], l.positions[i+1:]...)
	delete(l.closing, id)
	if l.firstLotID == id {
		l.firstLotID = ""
	}
	if len(l.positions) == 0 {
		l.lastEntryPrice = 0
	}
	return true
}

func (l *Layer) indexOf(id string) int {
	for i := range l.positions {
		if l.positions[i].ID == id {
			return i
		}
	}
	return -1
}

// Positions returns a copy of the owned positions in entry order.
func (l *Layer) Positions() []types.Position {
	out := make([]types.Position, len(l.positions))
	copy(out, l.positions)
	return out
}

func (l *Layer) PositionCount() int { return len(l.positions) }

func (l *Layer) IsEmpty() bool { return len(l.positions) == 0 }

// FirstLot returns the liquidation anchor, if the layer still holds it.
func (l *Layer) FirstLot() (types.Position, bool) {
	if l.firstLotID == "" {
		return types.Position{}, false
	}
	i := l.indexOf(l.firstLotID)
	if i < 0 {
		return types.Position{}, false
	}
	return l.positions[i], true
}

func (l *Layer) LastEntryPrice() float64 { return l.lastEntryPrice }

// SetLastEntryPrice moves the retracement reference, e.g. to the price of a
// scale-in order that has not been confirmed yet.
func (l *Layer) SetLastEntryPrice(p float64) { l.lastEntryPrice = p }

func (l *Layer) IncrementRetracement() { l.RetracementCount++ }

// ShouldCreateNewLayer is true once the retracement counter reached the
// layer's trigger.
func (l *Layer) ShouldCreateNewLayer() bool {
	return l.RetracementCount >= l.Config.RetracementTrigger
}

// MarkEntryPending records that an entry order was emitted at t.
func (l *Layer) MarkEntryPending(t time.Time) { l.entryPendingAt = t }

// EntryPending reports whether an entry order emitted before now is still
// awaiting its position. A zero timeout waits indefinitely.
func (l *Layer) EntryPending(now time.Time, timeout time.Duration) bool {
	if l.entryPendingAt.IsZero() {
		return false
	}
	if timeout > 0 && now.Sub(l.entryPendingAt) >= timeout {
		l.entryPendingAt = time.Time{}
		return false
	}
	return true
}

// MarkClosing records that a close order for position id was emitted at t.
func (l *Layer) MarkClosing(id string, t time.Time) { l.closing[id] = t }

// IsClosing reports whether a close of id emitted before now still awaits
// its fill. Marks older than timeout are dropped so a rejected close can be
// retried; a zero timeout keeps them until the position is removed.
func (l *Layer) IsClosing(id string, now time.Time, timeout time.Duration) bool {
	at, ok := l.closing[id]
	if !ok {
		return false
	}
	if timeout > 0 && now.Sub(at) >= timeout {
		delete(l.closing, id)
		return false
	}
	return true
}

// AnyClosing reports whether any position of the layer is being closed.
func (l *Layer) AnyClosing(now time.Time, timeout time.Duration) bool {
	for _, pos := range l.positions {
		if l.IsClosing(pos.ID, now, timeout) {
			return true
		}
	}
	return false
}
