// Package state holds the in-memory ledger of per-instrument position and
// order state plus the day counters. The ledger has a single writer, the
// trading loop; it does no locking of its own.
package state

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/AlexSDem/trade-bot/internal/domain"
)

// ErrOrderExists is returned by SetOrder when the instrument already has a
// working order.
var ErrOrderExists = errors.New("instrument already has an active order")

// OrderInfo describes the working order of an instrument.
type OrderInfo struct {
	ID         string      `json:"id"`
	ClientKey  string      `json:"client_key"`
	Side       domain.Side `json:"side"`
	PlacedAt   time.Time   `json:"placed_at"`
	Lots       int64       `json:"lots"`
	LimitPrice float64     `json:"limit_price"`
	// Reserved is the cash the order ties up while working (BUY only).
	Reserved float64 `json:"reserved"`
	// BaseLots is the position at submission; fills are applied relative
	// to it so repeated status polls are idempotent.
	BaseLots int64 `json:"base_lots"`
	// FilledLots is the executed quantity last seen by a status poll.
	FilledLots int64 `json:"filled_lots"`
	// Adopted is set for orders found at the venue rather than placed by
	// this process.
	Adopted bool `json:"adopted,omitempty"`
}

// EntryInfo is the bookkeeping of an open position.
type EntryInfo struct {
	Price float64   `json:"price"`
	Time  time.Time `json:"time"`
}

// Instrument is the state record of one instrument. Order is nil when no
// order is active; Entry is nil exactly when PositionLots is zero.
type Instrument struct {
	VenueID       string     `json:"venue_id"`
	Symbol        string     `json:"symbol"`
	LotSize       int64      `json:"lot_size"`
	PositionLots  int64      `json:"position_lots"`
	Order         *OrderInfo `json:"order,omitempty"`
	Entry         *EntryInfo `json:"entry,omitempty"`
	CooldownUntil time.Time  `json:"cooldown_until,omitempty"`
}

// HasPosition reports whether the instrument holds lots.
func (s *Instrument) HasPosition() bool { return s.PositionLots > 0 }

// HasOrder reports whether the instrument has a working order.
func (s *Instrument) HasOrder() bool { return s.Order != nil }

// IsPendingEntry reports whether the working order is presumed to open a
// position: no holding and a BUY or unknown side.
func (s *Instrument) IsPendingEntry() bool {
	if s.Order == nil || s.PositionLots > 0 {
		return false
	}
	return s.Order.Side == domain.SideBuy || s.Order.Side == domain.SideUnknown
}

func (s *Instrument) clone() Instrument {
	c := *s
	if s.Order != nil {
		o := *s.Order
		c.Order = &o
	}
	if s.Entry != nil {
		e := *s.Entry
		c.Entry = &e
	}
	return c
}

// Ledger is the authoritative in-memory state of the trading core.
type Ledger struct {
	instruments map[string]*Instrument
	order       []string

	day      DaySnapshot
	dayFile  *DayFile
	currency string
	cash     float64
	hasCash  bool

	log *slog.Logger
}

// NewLedger creates an empty ledger tracking cash in currency. dayFile may
// be nil, in which case day counters are not persisted.
func NewLedger(currency string, dayFile *DayFile, log *slog.Logger) *Ledger {
	if log == nil {
		log = slog.Default()
	}
	return &Ledger{
		instruments: make(map[string]*Instrument),
		dayFile:     dayFile,
		currency:    currency,
		log:         log.With("component", "ledger"),
	}
}

// Track creates the state record for an instrument if it does not exist.
func (l *Ledger) Track(info domain.InstrumentInfo) *Instrument {
	s, ok := l.instruments[info.VenueID]
	if !ok {
		s = &Instrument{VenueID: info.VenueID, LotSize: 1}
		l.instruments[info.VenueID] = s
		l.order = append(l.order, info.VenueID)
	}
	if info.Symbol != "" {
		s.Symbol = info.Symbol
	}
	if info.LotSize > 0 {
		s.LotSize = info.LotSize
	}
	return s
}

// Get returns the state record for venueID, creating it on first reference.
func (l *Ledger) Get(venueID string) *Instrument {
	if s, ok := l.instruments[venueID]; ok {
		return s
	}
	return l.Track(domain.InstrumentInfo{VenueID: venueID})
}

// Lookup returns the record without creating it.
func (l *Ledger) Lookup(venueID string) (*Instrument, bool) {
	s, ok := l.instruments[venueID]
	return s, ok
}

// VenueIDs returns tracked instruments in the order they were first seen.
func (l *Ledger) VenueIDs() []string {
	return append([]string(nil), l.order...)
}

// ---------------------------------------------------------------------------
// Position and order transitions
// ---------------------------------------------------------------------------

// SetPosition records the holding of an instrument. Entry bookkeeping is set
// on the flat to long transition (from price/at) and cleared on the way back.
func (l *Ledger) SetPosition(venueID string, lots int64, price float64, at time.Time) {
	if lots < 0 {
		lots = 0
	}
	s := l.Get(venueID)
	prev := s.PositionLots
	s.PositionLots = lots
	switch {
	case lots == 0:
		s.Entry = nil
	case s.Entry == nil:
		s.Entry = &EntryInfo{Price: price, Time: at}
	}
	if prev != lots {
		l.log.Info("position changed", "symbol", s.Symbol, "venue_id", venueID, "from", prev, "to", lots)
	}
}

// SetOrder records a new working order. The order must carry both a venue
// id and a client key, and the instrument must not have another order.
func (l *Ledger) SetOrder(venueID string, o OrderInfo) error {
	if o.ID == "" || o.ClientKey == "" {
		return fmt.Errorf("order for %s needs both id and client key", venueID)
	}
	s := l.Get(venueID)
	if s.Order != nil {
		return fmt.Errorf("%s has order %s: %w", venueID, s.Order.ID, ErrOrderExists)
	}
	s.Order = &o
	return nil
}

// ClearOrder forgets the working order of an instrument.
func (l *Ledger) ClearOrder(venueID string) {
	l.Get(venueID).Order = nil
}

// SetCooldown blocks new entries on the instrument until t.
func (l *Ledger) SetCooldown(venueID string, t time.Time) {
	l.Get(venueID).CooldownUntil = t
}

// ---------------------------------------------------------------------------
// Portfolio counts
// ---------------------------------------------------------------------------

// OpenPositions counts instruments holding lots.
func (l *Ledger) OpenPositions() int {
	n := 0
	for _, s := range l.instruments {
		if s.HasPosition() {
			n++
		}
	}
	return n
}

// PendingEntries counts working orders presumed to open a position.
func (l *Ledger) PendingEntries() int {
	n := 0
	for _, s := range l.instruments {
		if s.IsPendingEntry() {
			n++
		}
	}
	return n
}

// ActiveOrders counts instruments with a working order.
func (l *Ledger) ActiveOrders() int {
	n := 0
	for _, s := range l.instruments {
		if s.HasOrder() {
			n++
		}
	}
	return n
}

// ---------------------------------------------------------------------------
// Cash
// ---------------------------------------------------------------------------

// Currency returns the account currency.
func (l *Ledger) Currency() string { return l.currency }

// SetCash records the venue-reported cash balance.
func (l *Ledger) SetCash(amount float64) {
	l.cash = amount
	l.hasCash = true
}

// Cash returns the last-known cash balance and whether one was ever seen.
func (l *Ledger) Cash() (float64, bool) { return l.cash, l.hasCash }

// FreeCash is the last-known cash minus what locally known BUY orders
// reserve. It is zero until a cash balance has been seen.
func (l *Ledger) FreeCash() float64 {
	if !l.hasCash {
		return 0
	}
	free := l.cash
	for _, s := range l.instruments {
		if s.Order != nil && s.Order.Side != domain.SideSell {
			free -= s.Order.Reserved
		}
	}
	return free
}

// ---------------------------------------------------------------------------
// Snapshot
// ---------------------------------------------------------------------------

// View is a deep copy of the ledger, safe to hand to other goroutines.
type View struct {
	Day            DaySnapshot  `json:"day"`
	Currency       string       `json:"currency"`
	Cash           float64      `json:"cash"`
	FreeCash       float64      `json:"free_cash"`
	OpenPositions  int          `json:"open_positions"`
	PendingEntries int          `json:"pending_entries"`
	ActiveOrders   int          `json:"active_orders"`
	Instruments    []Instrument `json:"instruments"`
}

// View returns a deep copy of the ledger sorted by symbol.
func (l *Ledger) View() View {
	v := View{
		Day:            l.day,
		Currency:       l.currency,
		Cash:           l.cash,
		FreeCash:       l.FreeCash(),
		OpenPositions:  l.OpenPositions(),
		PendingEntries: l.PendingEntries(),
		ActiveOrders:   l.ActiveOrders(),
		Instruments:    make([]Instrument, 0, len(l.instruments)),
	}
	for _, s := range l.instruments {
		v.Instruments = append(v.Instruments, s.clone())
	}
	sort.Slice(v.Instruments, func(i, j int) bool {
		if v.Instruments[i].Symbol != v.Instruments[j].Symbol {
			return v.Instruments[i].Symbol < v.Instruments[j].Symbol
		}
		return v.Instruments[i].VenueID < v.Instruments[j].VenueID
	})
	return v
}
