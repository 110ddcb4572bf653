package state

import (
	"sort"
	"time"

	"github.com/AlexSDem/trade-bot/internal/domain"
)

// ReconcileResult summarises what a reconciliation changed.
type ReconcileResult struct {
	// Adopted lists venue ids whose venue-side order was unknown locally
	// and is now tracked.
	Adopted []string
	// Extra lists venue orders beyond the first for an instrument; the
	// caller should cancel them.
	Extra []domain.ActiveOrder
	// PositionsChanged counts instruments whose lot count moved.
	PositionsChanged int
}

// Reconcile aligns the ledger with a venue snapshot. Only tracked
// instruments are touched. Missing data is never read as "flat" or "no
// order": an instrument absent from the snapshot keeps its local state.
func (l *Ledger) Reconcile(snap domain.AccountSnapshot, orders []domain.ActiveOrder, now time.Time) ReconcileResult {
	var res ReconcileResult

	if cash, ok := snap.Cash[l.currency]; ok {
		l.SetCash(cash)
	}

	for _, id := range l.order {
		p, ok := snap.Positions[id]
		if !ok {
			continue
		}
		s := l.instruments[id]
		if s.PositionLots != p.Lots {
			res.PositionsChanged++
		}
		price := p.AvgPrice
		if price <= 0 && s.Order != nil {
			price = s.Order.LimitPrice
		}
		l.SetPosition(id, p.Lots, price, now)
	}

	byVenue := make(map[string][]domain.ActiveOrder)
	for _, o := range orders {
		if _, tracked := l.instruments[o.VenueID]; tracked {
			byVenue[o.VenueID] = append(byVenue[o.VenueID], o)
		}
	}
	for _, id := range l.order {
		venueOrders := byVenue[id]
		if len(venueOrders) == 0 {
			continue
		}
		sort.SliceStable(venueOrders, func(i, j int) bool {
			return venueOrders[i].CreatedAt.Before(venueOrders[j].CreatedAt)
		})

		s := l.instruments[id]
		if s.Order != nil {
			for _, o := range venueOrders {
				if o.OrderID != s.Order.ID {
					res.Extra = append(res.Extra, o)
				}
			}
			continue
		}

		first := venueOrders[0]
		key := first.ClientKey
		if key == "" {
			key = "venue:" + first.OrderID
		}
		placed := first.CreatedAt
		if placed.IsZero() {
			placed = now
		}
		o := OrderInfo{
			ID:         first.OrderID,
			ClientKey:  key,
			Side:       first.Side,
			PlacedAt:   placed,
			Lots:       first.Lots,
			LimitPrice: first.LimitPrice,
			BaseLots:   s.PositionLots,
			Adopted:    true,
		}
		if first.Side != domain.SideSell {
			o.Reserved = first.LimitPrice * float64(first.Lots*s.LotSize)
		}
		// SetOrder cannot fail here: the order is complete and the slot empty.
		_ = l.SetOrder(id, o)
		res.Adopted = append(res.Adopted, id)
		l.log.Warn("adopted venue order", "symbol", s.Symbol, "order_id", first.OrderID, "side", first.Side)
		res.Extra = append(res.Extra, venueOrders[1:]...)
	}
	return res
}
