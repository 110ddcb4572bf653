package engine

import (
	"fmt"
	"log/slog"

	"github.com/AlexSDem/trade-bot/internal/metrics"
	"github.com/AlexSDem/trade-bot/internal/state"
)

// Reasons a RiskGate denies an entry.
const (
	ReasonDayLocked         = "DAY_LOCKED"
	ReasonMaxTrades         = "MAX_TRADES_PER_DAY"
	ReasonPositionOpen      = "POSITION_OPEN"
	ReasonOrderActive       = "ORDER_ACTIVE"
	ReasonMaxPositions      = "MAX_POSITIONS"
	ReasonMaxPendingEntries = "MAX_PENDING_ENTRIES"
	ReasonMaxActiveOrders   = "MAX_ACTIVE_ORDERS"
)

// RiskLimits are the portfolio-wide and per-day safety limits.
type RiskLimits struct {
	MaxDayLoss                   float64
	MaxTradesPerDay              int
	MaxPositions                 int
	MaxPendingEntriesTotal       int
	MaxActiveOrdersTotal         int
	MaxActiveOrdersPerInstrument int
}

// Decision is the outcome of an admission check. Reason is empty when
// Allow is true.
type Decision struct {
	Allow  bool
	Reason string
	Detail string
}

func allow() Decision { return Decision{Allow: true} }

func deny(reason, format string, args ...any) Decision {
	return Decision{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

// String formats the decision for logs and journal records.
func (d Decision) String() string {
	if d.Allow {
		return "ALLOW"
	}
	if d.Detail == "" {
		return d.Reason
	}
	return d.Reason + ": " + d.Detail
}

// RiskGate enforces RiskLimits against the ledger.
type RiskGate struct {
	limits RiskLimits
	ledger *state.Ledger
	log    *slog.Logger
}

// NewRiskGate creates a RiskGate reading and locking the given ledger.
func NewRiskGate(limits RiskLimits, ledger *state.Ledger, log *slog.Logger) *RiskGate {
	if log == nil {
		log = slog.Default()
	}
	return &RiskGate{
		limits: limits,
		ledger: ledger,
		log:    log.With("component", "risk"),
	}
}

// Limits returns the configured limits.
func (g *RiskGate) Limits() RiskLimits { return g.limits }

// AdmitEntry decides whether a new entry on venueID may be submitted. The
// checks run in a fixed order and the first failing one decides.
func (g *RiskGate) AdmitEntry(venueID string) Decision {
	d := g.admit(venueID)
	if !d.Allow {
		metrics.RiskDenials.WithLabelValues(d.Reason).Inc()
	}
	return d
}

func (g *RiskGate) admit(venueID string) Decision {
	l := g.ledger
	day := l.Day()
	if day.Locked {
		return deny(ReasonDayLocked, "day loss lock active (metric %.2f, limit -%.2f)", day.LastMetric, g.limits.MaxDayLoss)
	}
	if trades := l.TradesToday(); trades >= g.limits.MaxTradesPerDay {
		return deny(ReasonMaxTrades, "%d trades today, limit %d", trades, g.limits.MaxTradesPerDay)
	}

	s := l.Get(venueID)
	if s.HasPosition() {
		return deny(ReasonPositionOpen, "holding %d lots", s.PositionLots)
	}
	if s.HasOrder() && g.limits.MaxActiveOrdersPerInstrument <= 1 {
		return deny(ReasonOrderActive, "order %s working", s.Order.ID)
	}

	open, pending := l.OpenPositions(), l.PendingEntries()
	if open+pending >= g.limits.MaxPositions {
		return deny(ReasonMaxPositions, "%d open + %d pending, limit %d", open, pending, g.limits.MaxPositions)
	}
	if pending >= g.limits.MaxPendingEntriesTotal {
		return deny(ReasonMaxPendingEntries, "%d pending, limit %d", pending, g.limits.MaxPendingEntriesTotal)
	}
	if active := l.ActiveOrders(); active >= g.limits.MaxActiveOrdersTotal {
		return deny(ReasonMaxActiveOrders, "%d active, limit %d", active, g.limits.MaxActiveOrdersTotal)
	}
	return allow()
}

// UpdateDayMetric records the day's realized cashflow and trips the lock
// when it reaches -MaxDayLoss. The lock is only cleared by day rollover.
// It reports whether this call tripped the lock.
func (g *RiskGate) UpdateDayMetric(value float64) bool {
	g.ledger.SetDayMetric(value)
	metrics.DayMetric.Set(value)
	if g.ledger.DayLocked() || value > -g.limits.MaxDayLoss {
		return false
	}
	g.ledger.LockDay()
	g.log.Warn("day loss limit reached, new entries locked",
		"metric", value, "max_day_loss", g.limits.MaxDayLoss)
	return true
}

// Locked reports whether the circuit breaker has tripped today.
func (g *RiskGate) Locked() bool { return g.ledger.DayLocked() }
