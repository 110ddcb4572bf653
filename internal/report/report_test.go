package report

import (
	"math"
	"strings"
	"testing"

	"github.com/AlexSDem/trade-bot/internal/domain"
)

func dayRecords() []domain.JournalRecord {
	return []domain.JournalRecord{
		{Event: domain.EventSignal, Symbol: "AAPL", Side: domain.SideBuy},
		{Event: domain.EventSubmit, Symbol: "AAPL", Side: domain.SideBuy, Lots: 10, Price: 100, OrderID: "o1"},
		{Event: domain.EventPartialFill, Symbol: "AAPL", Side: domain.SideBuy, Lots: 4, Price: 100, OrderID: "o1"},
		{Event: domain.EventFill, Symbol: "AAPL", Side: domain.SideBuy, Lots: 10, Price: 99.9, OrderID: "o1"},
		{Event: domain.EventSubmit, Symbol: "AAPL", Side: domain.SideSell, Lots: 10, Price: 101, OrderID: "o2"},
		{Event: domain.EventFill, Symbol: "AAPL", Side: domain.SideSell, Lots: 10, Price: 101, OrderID: "o2"},
		{Event: domain.EventSubmit, Symbol: "MSFT", Side: domain.SideBuy, Lots: 2, Price: 400, OrderID: "o3"},
		{Event: domain.EventPartialFill, Symbol: "MSFT", Side: domain.SideBuy, Lots: 1, Price: 399, OrderID: "o3"},
		{Event: domain.EventCancel, Symbol: "MSFT", OrderID: "o3", Reason: "ttl_expired"},
		{Event: domain.EventSkip, Symbol: "TSLA", Reason: "NO_CASH"},
		{Event: domain.EventSkip, Symbol: "TSLA", Reason: "MAX_POSITIONS"},
		{Event: domain.EventSkip, Symbol: "NVDA", Reason: "NO_CASH"},
	}
}

func TestBuild(t *testing.T) {
	s := Build("2025-03-10", dayRecords())

	if s.Events[domain.EventSubmit] != 3 || s.Events[domain.EventFill] != 2 {
		t.Errorf("events = %v", s.Events)
	}
	if s.Skips["NO_CASH"] != 2 || s.Skips["MAX_POSITIONS"] != 1 {
		t.Errorf("skips = %v", s.Skips)
	}
	if s.Cancels["ttl_expired"] != 1 {
		t.Errorf("cancels = %v", s.Cancels)
	}
	if len(s.Symbols) != 2 || s.Symbols[0].Symbol != "AAPL" || s.Symbols[1].Symbol != "MSFT" {
		t.Fatalf("symbols = %+v, want AAPL and MSFT", s.Symbols)
	}

	aapl := s.Symbols[0]
	if aapl.BuyFills != 1 || aapl.SellFills != 1 || aapl.LotsBought != 10 || aapl.LotsSold != 10 {
		t.Errorf("AAPL = %+v", aapl)
	}
	if math.Abs(aapl.Cashflow-11) > 1e-9 {
		t.Errorf("AAPL cashflow = %v, want 11", aapl.Cashflow)
	}

	msft := s.Symbols[1]
	if msft.BuyFills != 0 || msft.LotsBought != 1 || math.Abs(msft.Cashflow+399) > 1e-9 {
		t.Errorf("MSFT = %+v, want 1 lot bought for -399 and no complete fill", msft)
	}
	if math.Abs(s.Cashflow-(11-399)) > 1e-9 {
		t.Errorf("Cashflow = %v, want -388", s.Cashflow)
	}
	if s.OpenLots["MSFT"] != 1 || len(s.OpenLots) != 1 {
		t.Errorf("OpenLots = %v, want MSFT=1", s.OpenLots)
	}
}

func TestText(t *testing.T) {
	text := Build("2025-03-10", dayRecords()).Text()
	for _, want := range []string{
		"Day report 2025-03-10",
		"submits=3",
		"AAPL: bought 10 sold 10 cashflow +11.00",
		"total cashflow -388.00",
		"still open: MSFT=1",
		"skips: MAX_POSITIONS=1 NO_CASH=2",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("report missing %q:\n%s", want, text)
		}
	}
}

func TestEmptyDay(t *testing.T) {
	text := Build("2025-03-10", nil).Text()
	if !strings.Contains(text, "no executions") {
		t.Errorf("empty report = %q", text)
	}
}
