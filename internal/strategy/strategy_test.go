package strategy

import (
	"context"
	"testing"
	"time"

	"github.com/AlexSDem/trade-bot/internal/domain"
)

// stubStrategy is a minimal Strategy implementation used in registry tests.
type stubStrategy struct {
	name string
	fn   func(in Input) domain.Signal
}

func (s *stubStrategy) Name() string            { return s.name }
func (s *stubStrategy) Lookback() time.Duration { return time.Hour }
func (s *stubStrategy) Evaluate(_ context.Context, in Input) (domain.Signal, error) {
	if s.fn == nil {
		return Hold(0, "stub"), nil
	}
	return s.fn(in), nil
}

func TestRegistryRegisterAndGet(t *testing.T) {
	r := NewRegistry()
	s := &stubStrategy{name: "test-strategy"}

	r.Register(s)

	got, ok := r.Get("test-strategy")
	if !ok {
		t.Fatal("Get returned false for registered strategy")
	}
	if got.Name() != "test-strategy" {
		t.Errorf("Get returned strategy with Name() = %q, want %q", got.Name(), "test-strategy")
	}
}

func TestRegistryGet_NotFound(t *testing.T) {
	r := NewRegistry()
	_, ok := r.Get("nonexistent")
	if ok {
		t.Error("Get returned true for unregistered strategy")
	}
	if _, err := r.Resolve("nonexistent"); err == nil {
		t.Error("Resolve returned nil error for unregistered strategy")
	}
}

func TestRegistryList(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubStrategy{name: "alpha"})
	r.Register(&stubStrategy{name: "beta"})

	names := r.List()
	if len(names) != 2 {
		t.Fatalf("List returned %d names, want 2", len(names))
	}
	// List returns sorted names.
	if names[0] != "alpha" || names[1] != "beta" {
		t.Errorf("List returned %v, want [alpha beta]", names)
	}
}

type sliceReader []domain.Bar

func (r sliceReader) ReadBars(_ context.Context, _ string, _, _ time.Time) ([]domain.Bar, error) {
	return r, nil
}

func TestBacktesterRoundTrip(t *testing.T) {
	t0 := time.Date(2025, 3, 10, 14, 30, 0, 0, time.UTC)
	bars := make([]domain.Bar, 4)
	for i := range bars {
		bars[i] = domain.Bar{Symbol: "AAA", Timestamp: t0.Add(time.Duration(i) * time.Minute), Open: 10, High: 10.5, Low: 9.5, Close: 10}
	}
	bars[2].High = 12

	// Buy at 9.8 on bar 0, sell at 11 once holding.
	s := &stubStrategy{name: "scripted", fn: func(in Input) domain.Signal {
		if in.Position.Lots > 0 {
			return domain.Signal{Action: domain.ActionSell, LimitPrice: 11}
		}
		if len(in.Bars) == 1 {
			return domain.Signal{Action: domain.ActionBuy, LimitPrice: 9.8}
		}
		return Hold(0, "")
	}}
	r := NewRegistry()
	r.Register(s)

	res, err := NewBacktester(sliceReader(bars), r).Run(context.Background(), "scripted", "AAA", t0, t0.Add(time.Hour), 10)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.TotalTrades != 1 || res.Wins != 1 {
		t.Fatalf("trades %d wins %d, want 1 and 1", res.TotalTrades, res.Wins)
	}
	if want := (11 - 9.8) * 10; res.PnL < want-1e-9 || res.PnL > want+1e-9 {
		t.Errorf("PnL = %v, want %v", res.PnL, want)
	}
	if res.WinRate != 1 {
		t.Errorf("WinRate = %v, want 1", res.WinRate)
	}
}
