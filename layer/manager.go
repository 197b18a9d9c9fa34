package layer

import (
	"sort"

	"github.com/evdnx/gofloor/types"
)

// MaxLayers is the hard cap on layers per strategy instance.
const MaxLayers = 3

// Manager owns at most max layers, unique by number and kept in number order.
type Manager struct {
	max    int
	layers []*Layer
}

func NewManager(max int) *Manager {
	if max <= 0 || max > MaxLayers {
		max = MaxLayers
	}
	return &Manager{max: max}
}

func (m *Manager) Max() int { return m.max }
func (m *Manager) Len() int { return len(m.layers) }

// Create allocates layer number with cfg. It returns (nil, false) without
// error when the manager is full, the number is outside 1..max, or the
// number already exists.
func (m *Manager) Create(number int, cfg Config) (*Layer, bool) {
	if len(m.layers) >= m.max || number < 1 || number > m.max {
		return nil, false
	}
	if _, exists := m.Get(number); exists {
		return nil, false
	}
	l := New(number, cfg)
	m.layers = append(m.layers, l)
	sort.Slice(m.layers, func(i, j int) bool { return m.layers[i].Number < m.layers[j].Number })
	return l, true
}

func (m *Manager) Get(number int) (*Layer, bool) {
	for _, l := range m.layers {
		if l.Number == number {
			return l, true
		}
	}
	return nil, false
}

// Layers returns every layer in number order.
func (m *Manager) Layers() []*Layer {
	out := make([]*Layer, len(m.layers))
	copy(out, m.layers)
	return out
}

// Active returns the active layers in number order.
func (m *Manager) Active() []*Layer {
	out := make([]*Layer, 0, len(m.layers))
	for _, l := range m.layers {
		if l.Active {
			out = append(out, l)
		}
	}
	return out
}

// FirstLotPositions collects every layer's anchor, lowest layer first.
func (m *Manager) FirstLotPositions() []types.Position {
	var out []types.Position
	for _, l := range m.layers {
		if p, ok := l.FirstLot(); ok {
			out = append(out, p)
		}
	}
	return out
}

func (m *Manager) AllPositions() []types.Position {
	var out []types.Position
	for _, l := range m.layers {
		out = append(out, l.positions...)
	}
	return out
}

// FindPosition returns the layer tracking position id.
func (m *Manager) FindPosition(id string) (*Layer, bool) {
	for _, l := range m.layers {
		if l.HasPosition(id) {
			return l, true
		}
	}
	return nil, false
}

func (m *Manager) Remove(number int) bool {
	for i, l := range m.layers {
		if l.Number == number {
			m.layers = append(m.layers[:i], m.layers[i+1:]...)
			return true
		}
	}
	return false
}
