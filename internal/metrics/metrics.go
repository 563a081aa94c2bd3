// Package metrics declares the process-wide Prometheus collectors. All
// collectors are registered on the default registry at init via promauto and
// exposed by the HTTP server on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "scalpcore"

var (
	HubPushes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "hub",
		Name:      "pushes_total",
		Help:      "Producer pushes into the market data hub by kind and outcome.",
	}, []string{"kind", "outcome"})

	HubStaleReads = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "hub",
		Name:      "stale_reads_total",
		Help:      "Consumer reads that returned stale data.",
	}, []string{"kind"})

	HubInstruments = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "hub",
		Name:      "instruments",
		Help:      "Number of instrument records held by the hub.",
	})

	MirrorMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "hub",
		Name:      "mirror_messages_total",
		Help:      "Cross-process hub replication messages by kind and direction.",
	}, []string{"kind", "direction"})

	SymbolPending = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "symbols",
		Name:      "pending_events",
		Help:      "Events buffered for unresolved raw symbols.",
	})

	SymbolDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "symbols",
		Name:      "dropped_events_total",
		Help:      "Buffered events dropped because no mapping arrived in time or the buffer overflowed.",
	})

	SymbolStale = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "symbols",
		Name:      "stale_events_total",
		Help:      "Records dropped because their instrument id belongs to a rolled-off contract.",
	})

	CandlesFinalized = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "candles",
		Name:      "finalized_total",
		Help:      "Finalized candles by source and whether they were gap-filled.",
	}, []string{"source", "filled"})

	LateUpdates = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "candles",
		Name:      "late_updates_total",
		Help:      "Price updates dropped because their bucket was already finalized.",
	}, []string{"source"})

	OrderFlowGaps = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "orderflow",
		Name:      "sequence_gaps_total",
		Help:      "Sequence gaps detected in the book/trade stream.",
	})

	GateDenials = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "gate",
		Name:      "denials_total",
		Help:      "Entry gate denials by reason.",
	}, []string{"reason"})

	OracleLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "lifecycle",
		Name:      "oracle_latency_seconds",
		Help:      "Decision oracle round-trip latency.",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 30},
	})

	OracleVerdicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "lifecycle",
		Name:      "oracle_verdicts_total",
		Help:      "Decision oracle outcomes.",
	}, []string{"outcome"})

	PositionsOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "lifecycle",
		Name:      "positions_open",
		Help:      "Currently open positions.",
	})

	PositionsClosed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "lifecycle",
		Name:      "positions_closed_total",
		Help:      "Closed positions by close reason.",
	}, []string{"reason"})

	FeedReconnects = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "feed",
		Name:      "reconnects_total",
		Help:      "Upstream websocket reconnects by feed.",
	}, []string{"feed"})

	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "API requests by route pattern and status code.",
	}, []string{"route", "code"})

	WSClients = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "ws",
		Name:      "clients",
		Help:      "Connected monitor websocket clients.",
	})

	WSDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ws",
		Name:      "dropped_messages_total",
		Help:      "Broadcast messages dropped for slow clients or a full hub queue.",
	})
)
