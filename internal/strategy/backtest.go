package strategy

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/AlexSDem/trade-bot/internal/domain"
)

// BarReader reads archived bars of one symbol.
type BarReader interface {
	ReadBars(ctx context.Context, symbol string, start, end time.Time) ([]domain.Bar, error)
}

// BacktestResult holds the summary metrics produced by a backtest run.
type BacktestResult struct {
	Symbol      string
	Bars        int
	TotalTrades int
	Wins        int
	WinRate     float64
	PnL         float64
	MaxDrawdown float64
	Signals     map[domain.Action]int
}

// Backtester replays archived bars through a strategy. A limit BUY fills on
// the next bar whose low reaches it, a limit SELL on the next bar whose high
// reaches it; unfilled orders are dropped after one bar.
type Backtester struct {
	bars     BarReader
	registry *Registry
}

// NewBacktester creates a Backtester that reads bars from the given reader
// and looks up strategies in the provided registry.
func NewBacktester(bars BarReader, registry *Registry) *Backtester {
	return &Backtester{
		bars:     bars,
		registry: registry,
	}
}

// Run replays symbol over [start, end] trading lots shares per entry.
func (bt *Backtester) Run(ctx context.Context, strategyName, symbol string, start, end time.Time, lots int64) (*BacktestResult, error) {
	s, err := bt.registry.Resolve(strategyName)
	if err != nil {
		return nil, err
	}
	bars, err := bt.bars.ReadBars(ctx, symbol, start, end)
	if err != nil {
		return nil, fmt.Errorf("reading bars for %s: %w", symbol, err)
	}
	return Replay(ctx, s, symbol, bars, lots)
}

// Replay runs s over bars, oldest first.
func Replay(ctx context.Context, s Strategy, symbol string, bars []domain.Bar, lots int64) (*BacktestResult, error) {
	res := &BacktestResult{Symbol: symbol, Bars: len(bars), Signals: make(map[domain.Action]int)}
	if lots <= 0 {
		lots = 1
	}

	var (
		pos     Position
		pending *domain.Signal
		equity  float64
		peak    float64
		start   int
	)
	for i, bar := range bars {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if pending != nil {
			switch {
			case pending.Action == domain.ActionBuy && bar.Low <= pending.LimitPrice:
				pos = Position{Lots: lots, EntryPrice: pending.LimitPrice, EntryTime: bar.Timestamp}
			case pending.Action == domain.ActionSell && bar.High >= pending.LimitPrice:
				pnl := (pending.LimitPrice - pos.EntryPrice) * float64(pos.Lots)
				res.TotalTrades++
				if pnl > 0 {
					res.Wins++
				}
				equity += pnl
				peak = math.Max(peak, equity)
				res.MaxDrawdown = math.Max(res.MaxDrawdown, peak-equity)
				pos = Position{}
			}
			pending = nil
		}

		for bar.Timestamp.Sub(bars[start].Timestamp) > s.Lookback() {
			start++
		}
		sig, err := s.Evaluate(ctx, Input{Symbol: symbol, Bars: bars[start : i+1], Position: pos})
		if err != nil {
			return nil, err
		}
		res.Signals[sig.Action]++
		if sig.Action != domain.ActionHold {
			sig := sig
			pending = &sig
		}
	}

	res.PnL = equity
	if res.TotalTrades > 0 {
		res.WinRate = float64(res.Wins) / float64(res.TotalTrades)
	}
	return res, nil
}
