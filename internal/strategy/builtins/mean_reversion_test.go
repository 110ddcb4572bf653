package builtins

import (
	"context"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/AlexSDem/trade-bot/internal/domain"
	"github.com/AlexSDem/trade-bot/internal/strategy"
)

var t0 = time.Date(2025, 3, 10, 14, 30, 0, 0, time.UTC)

// flatBars returns n one-minute bars closing at price with a 0.2 range.
func flatBars(n int, price float64) []domain.Bar {
	bars := make([]domain.Bar, n)
	for i := range bars {
		bars[i] = domain.Bar{
			Symbol:    "AAA",
			Timestamp: t0.Add(time.Duration(i) * time.Minute),
			Open:      price,
			High:      price + 0.1,
			Low:       price - 0.1,
			Close:     price,
			Volume:    1000,
		}
	}
	return bars
}

func TestATR(t *testing.T) {
	bars := flatBars(20, 10)
	if got := ATR(bars, 14); math.Abs(got-0.2) > 1e-9 {
		t.Errorf("ATR = %v, want 0.2", got)
	}
	if got := ATR(bars[:14], 14); !math.IsNaN(got) {
		t.Errorf("ATR with 14 bars = %v, want NaN", got)
	}

	// A gap makes the true range exceed high-low.
	bars[19].High, bars[19].Low, bars[19].Close = 12.1, 11.9, 12
	want := (13*0.2 + 2.1) / 14
	if got := ATR(bars, 14); math.Abs(got-want) > 1e-9 {
		t.Errorf("ATR with gap = %v, want %v", got, want)
	}
}

func TestVWAP(t *testing.T) {
	bars := []domain.Bar{
		{Close: 10, Volume: 100},
		{Close: 20, Volume: 300},
	}
	if got := VWAP(bars); got != 17.5 {
		t.Errorf("VWAP = %v, want 17.5", got)
	}
	bars[0].Volume, bars[1].Volume = 0, 0
	if got := VWAP(bars); got != 20 {
		t.Errorf("VWAP without volume = %v, want last close 20", got)
	}
}

func eval(t *testing.T, s *MeanReversion, bars []domain.Bar, pos strategy.Position) domain.Signal {
	t.Helper()
	sig, err := s.Evaluate(context.Background(), strategy.Input{Symbol: "AAA", Bars: bars, Position: pos})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if sig.Action != domain.ActionHold && sig.LimitPrice <= 0 {
		t.Errorf("%s signal without limit price: %+v", sig.Action, sig)
	}
	return sig
}

func TestMeanReversionNotEnoughBars(t *testing.T) {
	s := NewMeanReversion(MeanReversionParams{})
	sig := eval(t, s, flatBars(29, 10), strategy.Position{})
	if sig.Action != domain.ActionHold || sig.Reason != "not_enough_bars" {
		t.Errorf("signal = %+v, want HOLD not_enough_bars", sig)
	}
}

func TestMeanReversionHoldsWhileOrderActive(t *testing.T) {
	s := NewMeanReversion(MeanReversionParams{})
	bars := flatBars(40, 10)
	bars[39].Close, bars[39].Low = 9, 8.9

	for _, pos := range []strategy.Position{
		{OrderActive: true},
		{OrderActive: true, Lots: 5, EntryPrice: 20, EntryTime: t0},
	} {
		sig := eval(t, s, bars, pos)
		if sig.Action != domain.ActionHold || sig.Reason != "active_order_wait" {
			t.Errorf("position %+v: signal = %+v, want HOLD active_order_wait", pos, sig)
		}
	}
}

func TestMeanReversionEntry(t *testing.T) {
	s := NewMeanReversion(MeanReversionParams{})
	bars := flatBars(40, 10)

	if sig := eval(t, s, bars, strategy.Position{}); sig.Action != domain.ActionHold {
		t.Fatalf("flat market signal = %+v, want HOLD", sig)
	}

	bars[39].Close, bars[39].Low = 9.5, 9.4
	sig := eval(t, s, bars, strategy.Position{})
	if sig.Action != domain.ActionBuy {
		t.Fatalf("dip signal = %+v, want BUY", sig)
	}
	if sig.LimitPrice <= sig.ReferencePrice {
		t.Errorf("limit %v should sit at the buy level above last %v", sig.LimitPrice, sig.ReferencePrice)
	}
	if !strings.HasPrefix(sig.Reason, "mean_reversion") {
		t.Errorf("reason = %q", sig.Reason)
	}
}

func TestMeanReversionExits(t *testing.T) {
	s := NewMeanReversion(MeanReversionParams{})
	now := t0.Add(39 * time.Minute)

	tests := []struct {
		name   string
		last   float64
		entry  time.Time
		prefix string
	}{
		{"take profit", 10.2, now.Add(-5 * time.Minute), "take_profit"},
		{"stop loss", 9.9, now.Add(-5 * time.Minute), "stop_loss"},
		{"time stop", 10.0, now.Add(-45 * time.Minute), "time_stop"},
		{"hold", 10.0, now.Add(-5 * time.Minute), "in_position"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			bars := flatBars(40, 10)
			bars[39].Close = tc.last
			sig := eval(t, s, bars, strategy.Position{Lots: 3, EntryPrice: 10.0, EntryTime: tc.entry})
			if !strings.HasPrefix(sig.Reason, tc.prefix) {
				t.Fatalf("signal = %+v, want reason %s", sig, tc.prefix)
			}
			wantAction := domain.ActionSell
			if tc.prefix == "in_position" {
				wantAction = domain.ActionHold
			}
			if sig.Action != wantAction {
				t.Errorf("action = %s, want %s", sig.Action, wantAction)
			}
			if sig.Action == domain.ActionSell && sig.LimitPrice != tc.last {
				t.Errorf("limit = %v, want last %v", sig.LimitPrice, tc.last)
			}
		})
	}
}

func TestDefaultsFillZeroParams(t *testing.T) {
	p := NewMeanReversion(MeanReversionParams{KATR: 2}).Params()
	if p.KATR != 2 || p.MinBars != 30 || p.Lookback != 180*time.Minute || p.TimeStop != 45*time.Minute {
		t.Errorf("params = %+v", p)
	}
}
