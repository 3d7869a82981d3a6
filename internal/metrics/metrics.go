// Package metrics exposes prometheus counters and gauges for the engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Registry is the engine's prometheus registry.
	Registry = prometheus.NewRegistry()

	// BarsProcessed counts bars through the pipeline per symbol.
	BarsProcessed = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "engine",
			Subsystem: "pipeline",
			Name:      "bars_processed_total",
			Help:      "Bars processed through the pipeline",
		},
		[]string{"symbol"},
	)

	// StructuresDetected counts structures per detector and direction.
	StructuresDetected = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "engine",
			Subsystem: "structure",
			Name:      "detected_total",
			Help:      "Structures detected",
		},
		[]string{"symbol", "type", "direction"},
	)

	// DecisionsEmitted counts decisions that passed the gate chain and were
	// executed successfully.
	DecisionsEmitted = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "engine",
			Subsystem: "pipeline",
			Name:      "decisions_total",
			Help:      "Decisions emitted",
		},
		[]string{"symbol", "type"},
	)

	// GateBlocks counts blocks per gate event.
	GateBlocks = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "engine",
			Subsystem: "gates",
			Name:      "blocks_total",
			Help:      "Gate chain blocks by event",
		},
		[]string{"symbol", "event"},
	)

	// OrderSends counts order send results by retcode class.
	OrderSends = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "engine",
			Subsystem: "execution",
			Name:      "order_sends_total",
			Help:      "Order send results by retcode class",
		},
		[]string{"symbol", "class"},
	)

	// OpenRisk tracks monetary open risk per symbol.
	OpenRisk = promauto.With(Registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "engine",
			Subsystem: "risk",
			Name:      "open_risk",
			Help:      "Monetary open risk per symbol",
		},
		[]string{"symbol"},
	)

	// Equity tracks the last observed account equity.
	Equity = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: "engine",
			Subsystem: "account",
			Name:      "equity",
			Help:      "Last observed account equity",
		},
	)

	// TradeOutcomes counts journal outcomes by result.
	TradeOutcomes = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "engine",
			Subsystem: "journal",
			Name:      "trade_outcomes_total",
			Help:      "Recorded trade outcomes by result",
		},
		[]string{"symbol", "outcome"},
	)
)
