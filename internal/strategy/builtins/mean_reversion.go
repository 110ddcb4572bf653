// Package builtins provides the strategy implementations that ship with the
// trading core.
package builtins

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/AlexSDem/trade-bot/internal/domain"
	"github.com/AlexSDem/trade-bot/internal/strategy"
)

// Compile-time interface check.
var _ strategy.Strategy = (*MeanReversion)(nil)

// MeanReversionName is the registry name of MeanReversion.
const MeanReversionName = "mean_reversion"

// MeanReversionParams tunes MeanReversion. Zero fields take the defaults of
// DefaultMeanReversionParams; MinEdgeATR only when negative.
type MeanReversionParams struct {
	KATR          float64       `yaml:"k_atr"`
	TakeProfitPct float64       `yaml:"take_profit_pct"`
	StopLossPct   float64       `yaml:"stop_loss_pct"`
	Lookback      time.Duration `yaml:"lookback"`
	TimeStop      time.Duration `yaml:"time_stop"`
	MinEdgeATR    float64       `yaml:"min_edge_atr"`
	MaxReboundATR float64       `yaml:"max_rebound_atr"`
	MinBars       int           `yaml:"min_bars"`
	ATRPeriod     int           `yaml:"atr_period"`
}

// DefaultMeanReversionParams returns the stock parameters.
func DefaultMeanReversionParams() MeanReversionParams {
	return MeanReversionParams{
		KATR:          1.2,
		TakeProfitPct: 0.004,
		StopLossPct:   0.006,
		Lookback:      180 * time.Minute,
		TimeStop:      45 * time.Minute,
		MinEdgeATR:    0.05,
		MaxReboundATR: 0.25,
		MinBars:       30,
		ATRPeriod:     14,
	}
}

func (p MeanReversionParams) withDefaults() MeanReversionParams {
	d := DefaultMeanReversionParams()
	if p.KATR <= 0 {
		p.KATR = d.KATR
	}
	if p.TakeProfitPct <= 0 {
		p.TakeProfitPct = d.TakeProfitPct
	}
	if p.StopLossPct <= 0 {
		p.StopLossPct = d.StopLossPct
	}
	if p.Lookback <= 0 {
		p.Lookback = d.Lookback
	}
	if p.TimeStop <= 0 {
		p.TimeStop = d.TimeStop
	}
	if p.MinEdgeATR < 0 {
		p.MinEdgeATR = d.MinEdgeATR
	}
	if p.MaxReboundATR <= 0 {
		p.MaxReboundATR = d.MaxReboundATR
	}
	if p.MinBars <= 0 {
		p.MinBars = d.MinBars
	}
	if p.ATRPeriod <= 0 {
		p.ATRPeriod = d.ATRPeriod
	}
	return p
}

// MeanReversion buys a dip below VWAP - k*ATR and exits on take-profit,
// stop-loss or a holding-time stop.
type MeanReversion struct {
	p MeanReversionParams
}

// NewMeanReversion creates a MeanReversion strategy.
func NewMeanReversion(p MeanReversionParams) *MeanReversion {
	return &MeanReversion{p: p.withDefaults()}
}

// Name returns "mean_reversion".
func (s *MeanReversion) Name() string { return MeanReversionName }

// Lookback returns the configured bar window.
func (s *MeanReversion) Lookback() time.Duration { return s.p.Lookback }

// Params returns the effective parameters.
func (s *MeanReversion) Params() MeanReversionParams { return s.p }

// Evaluate returns BUY, SELL or HOLD for one instrument.
func (s *MeanReversion) Evaluate(_ context.Context, in strategy.Input) (domain.Signal, error) {
	bars := in.Bars
	if len(bars) == 0 {
		return strategy.Hold(0, "no_bars"), nil
	}
	if len(bars) < s.p.MinBars {
		return strategy.Hold(bars[len(bars)-1].Close, "not_enough_bars"), nil
	}
	last := bars[len(bars)-1]
	price := last.Close

	// Order management owns the instrument while an order works.
	if in.Position.OrderActive {
		return strategy.Hold(price, "active_order_wait"), nil
	}

	atr := ATR(bars, s.p.ATRPeriod)
	if math.IsNaN(atr) || atr <= 0 {
		return strategy.Hold(price, "atr_not_ready"), nil
	}
	vwap := VWAP(bars)

	if in.Position.Lots > 0 {
		return s.exit(in.Position, last, vwap), nil
	}
	return s.entry(price, vwap, atr), nil
}

func (s *MeanReversion) exit(pos strategy.Position, last domain.Bar, vwap float64) domain.Signal {
	price := last.Close
	entry := pos.EntryPrice
	if entry <= 0 {
		entry = price
	}
	sell := func(reason string) domain.Signal {
		return domain.Signal{Action: domain.ActionSell, ReferencePrice: price, LimitPrice: price, Reason: reason}
	}

	if !pos.EntryTime.IsZero() {
		if age := last.Timestamp.Sub(pos.EntryTime); age >= s.p.TimeStop {
			return sell(fmt.Sprintf("time_stop %s", age.Truncate(time.Second)))
		}
	}
	take := math.Max(entry*(1+s.p.TakeProfitPct), vwap)
	if price >= take {
		return sell(fmt.Sprintf("take_profit last>=%.4f", take))
	}
	stop := entry * (1 - s.p.StopLossPct)
	if price <= stop {
		return sell(fmt.Sprintf("stop_loss last<=%.4f", stop))
	}
	return strategy.Hold(price, "in_position")
}

func (s *MeanReversion) entry(price, vwap, atr float64) domain.Signal {
	level := vwap - s.p.KATR*atr
	edge := (level - price) / atr
	if edge < s.p.MinEdgeATR {
		return strategy.Hold(price, fmt.Sprintf("no_edge edge_atr=%.3f", edge))
	}
	if rebound := (price - level) / atr; rebound > s.p.MaxReboundATR {
		return strategy.Hold(price, fmt.Sprintf("skip_chase rebound_atr=%.3f", rebound))
	}
	return domain.Signal{
		Action:         domain.ActionBuy,
		ReferencePrice: price,
		LimitPrice:     level,
		Reason:         fmt.Sprintf("mean_reversion last<%.4f edge_atr=%.3f", level, edge),
	}
}
