package engine

import (
	"strings"
	"testing"

	"github.com/AlexSDem/trade-bot/internal/domain"
	"github.com/AlexSDem/trade-bot/internal/state"
)

var defaultLimits = RiskLimits{
	MaxDayLoss:                   100,
	MaxTradesPerDay:              3,
	MaxPositions:                 1,
	MaxPendingEntriesTotal:       1,
	MaxActiveOrdersTotal:         1,
	MaxActiveOrdersPerInstrument: 1,
}

func newRiskLedger() *state.Ledger {
	l := state.NewLedger("USD", nil, nil)
	for _, sym := range []string{"AAA", "BBB", "CCC"} {
		l.Track(domain.InstrumentInfo{VenueID: sym, Symbol: sym, LotSize: 1})
	}
	return l
}

func TestAdmitEntryAllowsFreshBook(t *testing.T) {
	g := NewRiskGate(defaultLimits, newRiskLedger(), nil)
	if d := g.AdmitEntry("AAA"); !d.Allow {
		t.Fatalf("AdmitEntry = %v, want ALLOW", d)
	}
}

func TestAdmitEntryReasons(t *testing.T) {
	tests := []struct {
		name   string
		limits func(*RiskLimits)
		setup  func(*state.Ledger)
		want   string
	}{
		{
			name: "locked day wins over everything",
			setup: func(l *state.Ledger) {
				l.LockDay()
				l.SetPosition("AAA", 1, 10, t0)
			},
			want: ReasonDayLocked,
		},
		{
			name: "trade cap",
			setup: func(l *state.Ledger) {
				for i := 0; i < 3; i++ {
					l.IncTrades()
				}
			},
			want: ReasonMaxTrades,
		},
		{
			name:  "position on the instrument",
			setup: func(l *state.Ledger) { l.SetPosition("AAA", 1, 10, t0) },
			want:  ReasonPositionOpen,
		},
		{
			name: "order on the instrument",
			setup: func(l *state.Ledger) {
				_ = l.SetOrder("AAA", state.OrderInfo{ID: "o1", ClientKey: "k1", Side: domain.SideBuy})
			},
			want: ReasonOrderActive,
		},
		{
			name:  "position elsewhere fills the book",
			setup: func(l *state.Ledger) { l.SetPosition("BBB", 1, 10, t0) },
			want:  ReasonMaxPositions,
		},
		{
			name: "pending entry elsewhere counts as a position",
			limits: func(r *RiskLimits) {
				r.MaxPositions = 2
				r.MaxPendingEntriesTotal = 5
				r.MaxActiveOrdersTotal = 5
			},
			setup: func(l *state.Ledger) {
				l.SetPosition("BBB", 1, 10, t0)
				_ = l.SetOrder("CCC", state.OrderInfo{ID: "o-c", ClientKey: "k-c", Side: domain.SideBuy})
			},
			want: ReasonMaxPositions,
		},
		{
			name: "pending cap",
			limits: func(r *RiskLimits) {
				r.MaxPositions = 5
				r.MaxActiveOrdersTotal = 5
			},
			setup: func(l *state.Ledger) {
				_ = l.SetOrder("BBB", state.OrderInfo{ID: "o2", ClientKey: "k2", Side: domain.SideUnknown})
			},
			want: ReasonMaxPendingEntries,
		},
		{
			name:   "active cap counts exits",
			limits: func(r *RiskLimits) { r.MaxPositions = 5 },
			setup: func(l *state.Ledger) {
				l.SetPosition("BBB", 2, 10, t0)
				_ = l.SetOrder("BBB", state.OrderInfo{ID: "o3", ClientKey: "k3", Side: domain.SideSell})
			},
			want: ReasonMaxActiveOrders,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			limits := defaultLimits
			if tc.limits != nil {
				tc.limits(&limits)
			}
			l := newRiskLedger()
			tc.setup(l)
			d := NewRiskGate(limits, l, nil).AdmitEntry("AAA")
			if d.Allow || d.Reason != tc.want {
				t.Errorf("AdmitEntry = %v, want deny %s", d, tc.want)
			}
		})
	}
}

func TestUpdateDayMetricLocksAtLimit(t *testing.T) {
	l := newRiskLedger()
	g := NewRiskGate(defaultLimits, l, nil)

	if g.UpdateDayMetric(-99.99) {
		t.Fatal("lock tripped above the limit")
	}
	if !g.UpdateDayMetric(-101) {
		t.Fatal("lock not tripped at -(max_day_loss+1)")
	}
	if !g.Locked() {
		t.Fatal("Locked() = false after trip")
	}
	if g.UpdateDayMetric(-150) {
		t.Error("second trip reported")
	}

	for _, id := range l.VenueIDs() {
		d := g.AdmitEntry(id)
		if d.Allow || d.Reason != ReasonDayLocked {
			t.Errorf("AdmitEntry(%s) = %v, want DAY_LOCKED", id, d)
		}
		if !strings.Contains(d.String(), "DAY_LOCKED") {
			t.Errorf("decision text %q does not name the lock", d.String())
		}
	}
}

func TestDayLockSurvivesRecovery(t *testing.T) {
	l := newRiskLedger()
	g := NewRiskGate(defaultLimits, l, nil)
	g.UpdateDayMetric(-200)

	// The metric recovering, positions closing and orders clearing do not
	// lift the lock.
	g.UpdateDayMetric(500)
	l.SetPosition("AAA", 0, 0, t0)
	l.ClearOrder("BBB")
	if d := g.AdmitEntry("AAA"); d.Allow || d.Reason != ReasonDayLocked {
		t.Errorf("AdmitEntry after recovery = %v, want DAY_LOCKED", d)
	}

	l.Rollover("2025-03-11")
	if d := g.AdmitEntry("AAA"); !d.Allow {
		t.Errorf("AdmitEntry after rollover = %v, want ALLOW", d)
	}
}

func TestPerInstrumentLimitAboveOne(t *testing.T) {
	limits := defaultLimits
	limits.MaxActiveOrdersPerInstrument = 2
	limits.MaxPositions = 5
	limits.MaxPendingEntriesTotal = 5
	limits.MaxActiveOrdersTotal = 5

	l := newRiskLedger()
	_ = l.SetOrder("AAA", state.OrderInfo{ID: "o1", ClientKey: "k1", Side: domain.SideBuy})
	if d := NewRiskGate(limits, l, nil).AdmitEntry("AAA"); !d.Allow {
		t.Errorf("AdmitEntry = %v, want ALLOW when the per-instrument limit is 2", d)
	}
}
