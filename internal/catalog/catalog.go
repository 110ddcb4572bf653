// Package catalog resolves the configured ticker universe into tradable
// instruments and filters it by lot affordability.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"

	"github.com/AlexSDem/trade-bot/internal/broker"
	"github.com/AlexSDem/trade-bot/internal/domain"
)

// SubPennyTick is the price increment used for instruments priced under 1.00.
const SubPennyTick = 0.0001

// Catalog is the read-only set of instruments the bot trades, keyed by
// venue identifier.
type Catalog struct {
	byVenue  map[string]domain.InstrumentInfo
	bySymbol map[string]string
	order    []string
}

// New builds a catalog from already-resolved instruments. Later duplicates
// of a venue identifier are ignored.
func New(instruments []domain.InstrumentInfo) *Catalog {
	c := &Catalog{
		byVenue:  make(map[string]domain.InstrumentInfo, len(instruments)),
		bySymbol: make(map[string]string, len(instruments)),
	}
	for _, in := range instruments {
		if _, dup := c.byVenue[in.VenueID]; dup {
			continue
		}
		c.byVenue[in.VenueID] = in
		c.bySymbol[strings.ToUpper(in.Symbol)] = in.VenueID
		c.order = append(c.order, in.VenueID)
	}
	return c
}

// Resolve looks every ticker up at the venue. Unknown or non-tradable
// tickers are logged and skipped; any other failure aborts resolution.
func Resolve(ctx context.Context, b broker.Broker, tickers []string, log *slog.Logger) (*Catalog, error) {
	if log == nil {
		log = slog.Default()
	}
	var resolved []domain.InstrumentInfo
	for _, t := range tickers {
		sym := strings.ToUpper(strings.TrimSpace(t))
		if sym == "" {
			continue
		}
		info, err := b.FindInstrument(ctx, sym)
		if errors.Is(err, broker.ErrInstrumentNotFound) {
			log.Warn("instrument not found, skipping", "symbol", sym)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("resolving %s: %w", sym, err)
		}
		if info.LotSize <= 0 || info.PriceTick <= 0 {
			log.Warn("instrument has invalid lot or tick, skipping",
				"symbol", sym, "lot", info.LotSize, "tick", info.PriceTick)
			continue
		}
		resolved = append(resolved, info)
	}
	return New(resolved), nil
}

// FilterAffordable returns the subset of instruments whose one-lot cost
// (last price x lot size) does not exceed maxLotCost. Instruments without a
// price are dropped. Sub-dollar instruments get SubPennyTick.
func (c *Catalog) FilterAffordable(ctx context.Context, b broker.Broker, maxLotCost float64, log *slog.Logger) (*Catalog, error) {
	if log == nil {
		log = slog.Default()
	}
	var kept []domain.InstrumentInfo
	for _, id := range c.order {
		info := c.byVenue[id]
		last, ok, err := b.GetLastPrice(ctx, id)
		if err != nil {
			log.Warn("no last price, skipping", "symbol", info.Symbol, "error", err)
			continue
		}
		if !ok {
			log.Warn("no last price, skipping", "symbol", info.Symbol)
			continue
		}
		lotCost := last * float64(info.LotSize)
		if lotCost > maxLotCost {
			log.Info("lot too expensive, skipping",
				"symbol", info.Symbol, "lot_cost", lotCost, "max_lot_cost", maxLotCost)
			continue
		}
		if last < 1 && info.PriceTick > SubPennyTick {
			info.PriceTick = SubPennyTick
		}
		kept = append(kept, info)
	}
	return New(kept), nil
}

// Get returns the instrument with the given venue identifier.
func (c *Catalog) Get(venueID string) (domain.InstrumentInfo, bool) {
	info, ok := c.byVenue[venueID]
	return info, ok
}

// BySymbol returns the instrument with the given ticker.
func (c *Catalog) BySymbol(symbol string) (domain.InstrumentInfo, bool) {
	id, ok := c.bySymbol[strings.ToUpper(symbol)]
	if !ok {
		return domain.InstrumentInfo{}, false
	}
	return c.byVenue[id], true
}

// VenueIDs returns venue identifiers in resolution order.
func (c *Catalog) VenueIDs() []string {
	return append([]string(nil), c.order...)
}

// Instruments returns all instruments sorted by symbol.
func (c *Catalog) Instruments() []domain.InstrumentInfo {
	out := make([]domain.InstrumentInfo, 0, len(c.byVenue))
	for _, in := range c.byVenue {
		out = append(out, in)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Len returns the number of instruments.
func (c *Catalog) Len() int { return len(c.order) }

// RoundDownToTick rounds price down to a multiple of tick. The epsilon keeps
// prices already on the grid from dropping a tick through float error.
func RoundDownToTick(price, tick float64) float64 {
	if tick <= 0 {
		return price
	}
	steps := math.Floor(price/tick + 1e-9)
	// Round to the tick's decimal places to strip float noise.
	decimals := math.Max(0, math.Ceil(-math.Log10(tick)))
	scale := math.Pow(10, decimals)
	return math.Round(steps*tick*scale) / scale
}
