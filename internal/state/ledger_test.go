package state

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/AlexSDem/trade-bot/internal/domain"
)

var t0 = time.Date(2025, 3, 10, 14, 30, 0, 0, time.UTC)

func newLedger() *Ledger {
	l := NewLedger("USD", nil, nil)
	l.Track(domain.InstrumentInfo{VenueID: "AAPL", Symbol: "AAPL", LotSize: 1})
	l.Track(domain.InstrumentInfo{VenueID: "MSFT", Symbol: "MSFT", LotSize: 1})
	return l
}

func TestSetPositionEntryBookkeeping(t *testing.T) {
	l := newLedger()

	l.SetPosition("AAPL", 10, 101.5, t0)
	s := l.Get("AAPL")
	if s.Entry == nil || s.Entry.Price != 101.5 || !s.Entry.Time.Equal(t0) {
		t.Fatalf("entry after 0->10 = %+v, want price 101.5 at t0", s.Entry)
	}

	// Increasing a held position keeps the original entry.
	l.SetPosition("AAPL", 15, 120, t0.Add(time.Minute))
	if s.Entry.Price != 101.5 {
		t.Errorf("entry price = %v after add, want 101.5", s.Entry.Price)
	}

	l.SetPosition("AAPL", 0, 0, t0.Add(2*time.Minute))
	if s.Entry != nil {
		t.Errorf("entry = %+v after position closed, want nil", s.Entry)
	}

	l.SetPosition("AAPL", -3, 0, t0)
	if s.PositionLots != 0 {
		t.Errorf("negative lots stored as %d, want 0", s.PositionLots)
	}
}

func TestSetOrderInvariants(t *testing.T) {
	l := newLedger()

	if err := l.SetOrder("AAPL", OrderInfo{ID: "o-1"}); err == nil {
		t.Error("SetOrder without client key should fail")
	}
	if err := l.SetOrder("AAPL", OrderInfo{ClientKey: "k-1"}); err == nil {
		t.Error("SetOrder without order id should fail")
	}
	if l.Get("AAPL").HasOrder() {
		t.Fatal("failed SetOrder left an order behind")
	}

	if err := l.SetOrder("AAPL", OrderInfo{ID: "o-1", ClientKey: "k-1", Side: domain.SideBuy}); err != nil {
		t.Fatalf("SetOrder: %v", err)
	}
	err := l.SetOrder("AAPL", OrderInfo{ID: "o-2", ClientKey: "k-2", Side: domain.SideBuy})
	if !errors.Is(err, ErrOrderExists) {
		t.Errorf("second SetOrder error = %v, want ErrOrderExists", err)
	}

	l.ClearOrder("AAPL")
	if l.Get("AAPL").HasOrder() {
		t.Error("ClearOrder left the order in place")
	}
}

func TestPortfolioCounts(t *testing.T) {
	l := newLedger()
	l.Track(domain.InstrumentInfo{VenueID: "TSLA", Symbol: "TSLA", LotSize: 1})

	// AAPL: pending BUY entry.
	_ = l.SetOrder("AAPL", OrderInfo{ID: "o-1", ClientKey: "k-1", Side: domain.SideBuy, Reserved: 900})
	// MSFT: position with an exit order.
	l.SetPosition("MSFT", 5, 300, t0)
	_ = l.SetOrder("MSFT", OrderInfo{ID: "o-2", ClientKey: "k-2", Side: domain.SideSell})
	// TSLA: order of unknown side and no position counts as a pending entry.
	_ = l.SetOrder("TSLA", OrderInfo{ID: "o-3", ClientKey: "k-3", Reserved: 100})

	if got := l.OpenPositions(); got != 1 {
		t.Errorf("OpenPositions = %d, want 1", got)
	}
	if got := l.PendingEntries(); got != 2 {
		t.Errorf("PendingEntries = %d, want 2", got)
	}
	if got := l.ActiveOrders(); got != 3 {
		t.Errorf("ActiveOrders = %d, want 3", got)
	}

	if got := l.FreeCash(); got != 0 {
		t.Errorf("FreeCash before any balance = %v, want 0", got)
	}
	l.SetCash(10_000)
	if got := l.FreeCash(); got != 9_000 {
		t.Errorf("FreeCash = %v, want 9000", got)
	}
}

func TestReconcileMissingDataIsNoChange(t *testing.T) {
	l := newLedger()
	l.SetPosition("AAPL", 10, 100, t0)
	_ = l.SetOrder("MSFT", OrderInfo{ID: "o-1", ClientKey: "k-1", Side: domain.SideBuy})
	l.SetCash(5_000)

	res := l.Reconcile(domain.AccountSnapshot{
		Positions: map[string]domain.PositionLot{},
		Cash:      map[string]float64{"EUR": 1},
	}, nil, t0)

	if got := l.Get("AAPL").PositionLots; got != 10 {
		t.Errorf("AAPL lots = %d after empty snapshot, want 10", got)
	}
	if !l.Get("MSFT").HasOrder() {
		t.Error("MSFT order dropped after empty order list")
	}
	if cash, _ := l.Cash(); cash != 5_000 {
		t.Errorf("cash = %v, want 5000 (snapshot lacked USD)", cash)
	}
	if len(res.Adopted) != 0 || len(res.Extra) != 0 || res.PositionsChanged != 0 {
		t.Errorf("unexpected reconcile result %+v", res)
	}
}

func TestReconcileAppliesSnapshot(t *testing.T) {
	l := newLedger()
	l.SetPosition("AAPL", 10, 100, t0)

	res := l.Reconcile(domain.AccountSnapshot{
		Positions: map[string]domain.PositionLot{
			"AAPL": {Lots: 0},
			"MSFT": {Lots: 3, AvgPrice: 410},
			"GOOG": {Lots: 7, AvgPrice: 150}, // untracked
		},
		Cash: map[string]float64{"USD": 2_500},
	}, nil, t0)

	if res.PositionsChanged != 2 {
		t.Errorf("PositionsChanged = %d, want 2", res.PositionsChanged)
	}
	if s := l.Get("AAPL"); s.PositionLots != 0 || s.Entry != nil {
		t.Errorf("AAPL = %+v, want flat without entry", s)
	}
	if s := l.Get("MSFT"); s.PositionLots != 3 || s.Entry == nil || s.Entry.Price != 410 {
		t.Errorf("MSFT = %+v, want 3 lots entered at 410", s)
	}
	if _, ok := l.Lookup("GOOG"); ok {
		t.Error("untracked instrument was added to the ledger")
	}
	if cash, ok := l.Cash(); !ok || cash != 2_500 {
		t.Errorf("cash = %v, want 2500", cash)
	}
}

func TestReconcileAdoptsUnknownOrders(t *testing.T) {
	l := newLedger()
	_ = l.SetOrder("MSFT", OrderInfo{ID: "o-local", ClientKey: "k-local", Side: domain.SideBuy})

	res := l.Reconcile(domain.AccountSnapshot{}, []domain.ActiveOrder{
		{OrderID: "o-2", VenueID: "AAPL", Side: domain.SideBuy, Lots: 2, LimitPrice: 50, CreatedAt: t0.Add(time.Minute)},
		{OrderID: "o-1", VenueID: "AAPL", ClientKey: "k-1", Side: domain.SideBuy, Lots: 1, LimitPrice: 50, CreatedAt: t0},
		{OrderID: "o-local", VenueID: "MSFT", ClientKey: "k-local"},
		{OrderID: "o-stray", VenueID: "MSFT"},
	}, t0.Add(2*time.Minute))

	s := l.Get("AAPL")
	if s.Order == nil || s.Order.ID != "o-1" || s.Order.ClientKey != "k-1" || !s.Order.Adopted {
		t.Fatalf("AAPL order = %+v, want adopted o-1", s.Order)
	}
	if s.Order.Reserved != 50 {
		t.Errorf("adopted reserve = %v, want 50", s.Order.Reserved)
	}
	if len(res.Adopted) != 1 || res.Adopted[0] != "AAPL" {
		t.Errorf("Adopted = %v, want [AAPL]", res.Adopted)
	}
	if len(res.Extra) != 2 {
		t.Fatalf("Extra = %v, want o-2 and o-stray", res.Extra)
	}
	if l.Get("MSFT").Order.ID != "o-local" {
		t.Error("local MSFT order replaced by a venue order")
	}
}

func TestReconcileAdoptedOrderWithoutKey(t *testing.T) {
	l := newLedger()
	l.Reconcile(domain.AccountSnapshot{}, []domain.ActiveOrder{
		{OrderID: "o-9", VenueID: "AAPL"},
	}, t0)
	o := l.Get("AAPL").Order
	if o == nil || o.ClientKey == "" {
		t.Fatalf("adopted order = %+v, want a non-empty client key", o)
	}
	if !o.PlacedAt.Equal(t0) {
		t.Errorf("PlacedAt = %v, want reconcile time", o.PlacedAt)
	}
	if !l.Get("AAPL").IsPendingEntry() {
		t.Error("order of unknown side should count as a pending entry")
	}
}

func TestRolloverClearsCountersAndLock(t *testing.T) {
	l := newLedger()
	_ = l.RestoreDay("2025-03-10")
	l.SetPosition("AAPL", 10, 100, t0)
	l.IncTrades()
	l.LockDay()

	if l.Rollover("2025-03-10") {
		t.Error("Rollover to the same day reported a change")
	}
	if !l.Rollover("2025-03-11") {
		t.Fatal("Rollover to a new day reported no change")
	}
	if l.TradesToday() != 0 {
		t.Errorf("TradesToday = %d after rollover, want 0", l.TradesToday())
	}
	if l.DayLocked() {
		t.Error("lock survived rollover")
	}
	if l.Get("AAPL").PositionLots != 10 {
		t.Error("rollover reset position state")
	}
}

func TestDayFilePersistence(t *testing.T) {
	df := &DayFile{Path: filepath.Join(t.TempDir(), "day.json")}

	l := NewLedger("USD", df, nil)
	if err := l.RestoreDay("2025-03-10"); err != nil {
		t.Fatalf("RestoreDay: %v", err)
	}
	l.IncTrades()
	l.LockDay()
	l.SetDayMetric(-150)

	// A restart on the same day keeps the counters.
	again := NewLedger("USD", df, nil)
	if err := again.RestoreDay("2025-03-10"); err != nil {
		t.Fatalf("RestoreDay: %v", err)
	}
	if again.TradesToday() != 1 || !again.DayLocked() || again.Day().LastMetric != -150 {
		t.Errorf("restored day = %+v", again.Day())
	}

	// A restart on the next day starts fresh.
	next := NewLedger("USD", df, nil)
	if err := next.RestoreDay("2025-03-11"); err != nil {
		t.Fatalf("RestoreDay: %v", err)
	}
	if next.TradesToday() != 0 || next.DayLocked() {
		t.Errorf("next-day ledger = %+v, want fresh counters", next.Day())
	}
	snap, ok, err := df.Load()
	if err != nil || !ok || snap.Day != "2025-03-11" {
		t.Errorf("persisted snapshot = %+v ok=%v err=%v", snap, ok, err)
	}
}

func TestViewIsDeepCopy(t *testing.T) {
	l := newLedger()
	l.SetPosition("AAPL", 10, 100, t0)
	_ = l.SetOrder("AAPL", OrderInfo{ID: "o-1", ClientKey: "k-1", Side: domain.SideSell})

	v := l.View()
	if len(v.Instruments) != 2 || v.Instruments[0].Symbol != "AAPL" {
		t.Fatalf("View instruments = %+v", v.Instruments)
	}
	v.Instruments[0].Order.ID = "mutated"
	v.Instruments[0].Entry.Price = 0
	if l.Get("AAPL").Order.ID != "o-1" || l.Get("AAPL").Entry.Price != 100 {
		t.Error("mutating the view changed the ledger")
	}
}
