package catalog

import (
	"context"
	"testing"

	"github.com/AlexSDem/trade-bot/internal/broker"
	"github.com/AlexSDem/trade-bot/internal/domain"
)

func TestRoundDownToTick(t *testing.T) {
	tests := []struct {
		price, tick, want float64
	}{
		{100.019, 0.01, 100.01},
		{100.01, 0.01, 100.01},
		{0.29, 0.01, 0.29},
		{0.123456, 0.0001, 0.1234},
		{57.3, 0.5, 57.0},
		{99.99, 0, 99.99},
		{1.005, 0.005, 1.005},
	}
	for _, tt := range tests {
		if got := RoundDownToTick(tt.price, tt.tick); got != tt.want {
			t.Errorf("RoundDownToTick(%v, %v) = %v, want %v", tt.price, tt.tick, got, tt.want)
		}
	}
}

func newSim() *broker.SimulatorBroker {
	sim := broker.NewSimulatorBroker()
	sim.AddInstrument(domain.InstrumentInfo{Symbol: "AAPL", LotSize: 1, PriceTick: 0.01})
	sim.AddInstrument(domain.InstrumentInfo{Symbol: "SBER", LotSize: 10, PriceTick: 0.01})
	sim.AddInstrument(domain.InstrumentInfo{Symbol: "PENNY", LotSize: 100, PriceTick: 0.01})
	return sim
}

func TestResolveSkipsUnknown(t *testing.T) {
	sim := newSim()
	cat, err := Resolve(context.Background(), sim, []string{"aapl", " sber ", "NOPE", ""}, nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if cat.Len() != 2 {
		t.Fatalf("Len = %d, want 2", cat.Len())
	}
	if _, ok := cat.BySymbol("SBER"); !ok {
		t.Error("SBER not resolved")
	}
	ids := cat.VenueIDs()
	if ids[0] != "AAPL" || ids[1] != "SBER" {
		t.Errorf("VenueIDs = %v, want [AAPL SBER]", ids)
	}
}

func TestFilterAffordable(t *testing.T) {
	sim := newSim()
	sim.SetPrice("AAPL", 230)
	sim.SetPrice("SBER", 300) // 3000 per lot
	sim.SetPrice("PENNY", 0.5)

	cat, err := Resolve(context.Background(), sim, []string{"AAPL", "SBER", "PENNY"}, nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	cheap, err := cat.FilterAffordable(context.Background(), sim, 2000, nil)
	if err != nil {
		t.Fatalf("FilterAffordable: %v", err)
	}
	if cheap.Len() != 2 {
		t.Fatalf("Len = %d, want 2", cheap.Len())
	}
	if _, ok := cheap.Get("SBER"); ok {
		t.Error("SBER lot costs 3000 and should be filtered out")
	}
	penny, ok := cheap.Get("PENNY")
	if !ok {
		t.Fatal("PENNY should be kept")
	}
	if penny.PriceTick != SubPennyTick {
		t.Errorf("PENNY tick = %v, want %v", penny.PriceTick, SubPennyTick)
	}
}

func TestFilterAffordableDropsUnpriced(t *testing.T) {
	sim := newSim()
	cat := New([]domain.InstrumentInfo{{Symbol: "AAPL", VenueID: "AAPL", LotSize: 1, PriceTick: 0.01}})
	got, err := cat.FilterAffordable(context.Background(), sim, 1e9, nil)
	if err != nil {
		t.Fatalf("FilterAffordable: %v", err)
	}
	if got.Len() != 0 {
		t.Errorf("Len = %d, want 0", got.Len())
	}
}
