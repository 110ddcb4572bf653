// Package metrics registers the prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	GatewayCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradebot_broker_calls_total",
			Help: "Broker calls by method and result (ok, retry, error).",
		},
		[]string{"method", "result"},
	)

	JournalEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradebot_journal_events_total",
			Help: "Journal records written, by event kind.",
		},
		[]string{"event"},
	)

	JournalMirrorErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tradebot_journal_mirror_errors_total",
		Help: "Failed writes to best-effort journal mirrors.",
	})

	Notifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradebot_notifications_total",
			Help: "Operator notifications by result (sent, error, throttled).",
		},
		[]string{"result"},
	)

	BarsArchived = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tradebot_bars_archived_total",
		Help: "Bars written to the Parquet archive.",
	})

	RiskDenials = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradebot_risk_denials_total",
			Help: "Entry admissions denied by the risk gate, by reason.",
		},
		[]string{"reason"},
	)

	Cycles = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tradebot_cycles_total",
		Help: "Trading cycles started.",
	})

	CycleErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tradebot_cycle_errors_total",
		Help: "Full trading cycles that failed.",
	})

	CycleDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "tradebot_cycle_duration_seconds",
		Help:    "Wall time of one trading cycle.",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
	})

	OpenPositions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tradebot_open_positions",
		Help: "Instruments with a non-zero position.",
	})

	ActiveOrders = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tradebot_active_orders",
		Help: "Instruments with a working order.",
	})

	PendingEntries = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tradebot_pending_entries",
		Help: "Working orders presumed to open a position.",
	})

	TradesToday = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tradebot_trades_today",
		Help: "Confirmed entry fills in the current session.",
	})

	DayMetric = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tradebot_day_cashflow",
		Help: "Latest realized cashflow for the session in account currency.",
	})

	DayLocked = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tradebot_day_locked",
		Help: "1 when the day-loss circuit breaker has tripped.",
	})
)

func init() {
	prometheus.MustRegister(
		GatewayCalls,
		JournalEvents,
		JournalMirrorErrors,
		Notifications,
		BarsArchived,
		RiskDenials,
		Cycles,
		CycleErrors,
		CycleDuration,
		OpenPositions,
		ActiveOrders,
		PendingEntries,
		TradesToday,
		DayMetric,
		DayLocked,
	)
}

// SetLedger publishes the portfolio gauges.
func SetLedger(openPositions, activeOrders, pendingEntries, tradesToday int, locked bool) {
	OpenPositions.Set(float64(openPositions))
	ActiveOrders.Set(float64(activeOrders))
	PendingEntries.Set(float64(pendingEntries))
	TradesToday.Set(float64(tradesToday))
	if locked {
		DayLocked.Set(1)
	} else {
		DayLocked.Set(0)
	}
}
