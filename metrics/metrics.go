package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	TicksProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gofloor_ticks_processed_total",
			Help: "Ticks handed to a strategy instance.",
		},
		[]string{"strategy"},
	)

	OrdersEmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gofloor_orders_emitted_total",
			Help: "Orders emitted by strategy instance and reason.",
		},
		[]string{"strategy", "reason"},
	)

	VolatilityLocked = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gofloor_volatility_locked",
			Help: "Instruments currently volatility locked per strategy instance.",
		},
		[]string{"strategy"},
	)

	MarginLiquidations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gofloor_margin_liquidations_total",
			Help: "First-lot close orders emitted by margin protection.",
		},
		[]string{"strategy"},
	)

	LayersActive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gofloor_layers_active",
			Help: "Active layers per strategy instance.",
		},
		[]string{"strategy"},
	)

	StateSaveFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gofloor_state_save_failures_total",
			Help: "Failed state writes per strategy instance.",
		},
		[]string{"strategy"},
	)

	AuditEventsDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gofloor_audit_events_dropped_total",
			Help: "Audit events dropped because the async queue was full.",
		},
	)

	EquityGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "gofloor_paper_equity",
			Help: "Current equity of the paper executor.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		TicksProcessed,
		OrdersEmitted,
		VolatilityLocked,
		MarginLiquidations,
		LayersActive,
		StateSaveFailures,
		AuditEventsDropped,
		EquityGauge,
	)
}
