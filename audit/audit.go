// Package audit records strategy events. Sinks are fire-and-forget: LogEvent
// must never block tick processing or report failure to the caller.
package audit

import (
	"time"

	"github.com/evdnx/gofloor/logger"
)

const (
	EventVolatilityLock   = "volatility_lock"
	EventVolatilityUnlock = "volatility_unlock"
	EventMarginProtection = "margin_protection"
	EventLayerCreated     = "layer_created"
	EventTakeProfit       = "take_profit"
	EventScaleIn          = "scale_in"
	EventEntry            = "layer_entry"
	EventStateRestored    = "state_restored"
)

// Event is one audit record.
type Event struct {
	Instance    string
	Type        string
	Description string
	Details     map[string]any
	Time        time.Time
}

type Sink interface {
	LogEvent(e Event)
}

// LogSink writes events to a structured logger.
type LogSink struct {
	Log logger.Logger
}

func NewLogSink(log logger.Logger) *LogSink { return &LogSink{Log: log} }

func (s *LogSink) LogEvent(e Event) {
	s.Log.Info("audit_event",
		logger.String("instance", e.Instance),
		logger.String("event", e.Type),
		logger.String("description", e.Description),
		logger.Any("details", e.Details),
		logger.Time("at", e.Time),
	)
}

// Multi fans an event out to several sinks.
type Multi []Sink

func (m Multi) LogEvent(e Event) {
	for _, s := range m {
		s.LogEvent(e)
	}
}

// Nop drops events.
type Nop struct{}

func (Nop) LogEvent(Event) {}
