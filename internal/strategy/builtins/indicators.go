package builtins

import (
	"math"

	"github.com/AlexSDem/trade-bot/internal/domain"
)

// ATR is the simple moving average of the true range over the last n bars.
// The first bar's previous close is its own close. It returns NaN with
// fewer than n+1 bars.
func ATR(bars []domain.Bar, n int) float64 {
	if n <= 0 || len(bars) < n+1 {
		return math.NaN()
	}
	var sum float64
	for i := len(bars) - n; i < len(bars); i++ {
		sum += trueRange(bars[i], bars[i-1].Close)
	}
	return sum / float64(n)
}

func trueRange(b domain.Bar, prevClose float64) float64 {
	return math.Max(b.High-b.Low, math.Max(math.Abs(b.High-prevClose), math.Abs(b.Low-prevClose)))
}

// VWAP is the close-weighted volume average of bars. With no volume it
// falls back to the last close.
func VWAP(bars []domain.Bar) float64 {
	if len(bars) == 0 {
		return math.NaN()
	}
	var pv, vol float64
	for _, b := range bars {
		pv += b.Close * float64(b.Volume)
		vol += float64(b.Volume)
	}
	if vol <= 0 {
		return bars[len(bars)-1].Close
	}
	return pv / vol
}
