// Package domain holds the value types shared by the trading core: instruments,
// bars, orders, signals, account snapshots and journal records.
package domain

import "time"

// Side is the direction of an order.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
	// SideUnknown is used when the venue did not report a side.
	SideUnknown Side = ""
)

// Opposite returns the other side. SideUnknown maps to itself.
func (s Side) Opposite() Side {
	switch s {
	case SideBuy:
		return SideSell
	case SideSell:
		return SideBuy
	}
	return SideUnknown
}

// Action is the decision produced by a strategy for one instrument.
type Action string

const (
	ActionHold Action = "HOLD"
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
)

// OrderStatus is the venue status of an order, normalised.
type OrderStatus string

const (
	OrderStatusNew             OrderStatus = "new"
	OrderStatusPartiallyFilled OrderStatus = "partially_filled"
	OrderStatusFilled          OrderStatus = "filled"
	OrderStatusRejected        OrderStatus = "rejected"
	OrderStatusCancelled       OrderStatus = "cancelled"
)

// Terminal reports whether no further executions can happen for the order.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusRejected, OrderStatusCancelled:
		return true
	}
	return false
}

// EventKind classifies a journal record.
type EventKind string

const (
	EventSubmit      EventKind = "SUBMIT"
	EventPartialFill EventKind = "PARTIAL_FILL"
	EventFill        EventKind = "FILL"
	EventCancel      EventKind = "CANCEL"
	EventReject      EventKind = "REJECT"
	EventSkip        EventKind = "SKIP"
	EventSignal      EventKind = "SIGNAL"
)

// Bar represents a single OHLCV candle.
type Bar struct {
	Symbol     string    `json:"symbol"`
	Timestamp  time.Time `json:"timestamp"`
	Open       float64   `json:"open"`
	High       float64   `json:"high"`
	Low        float64   `json:"low"`
	Close      float64   `json:"close"`
	Volume     int64     `json:"volume"`
	TradeCount int64     `json:"trade_count"`
	VWAP       float64   `json:"vwap"`
}

// InstrumentInfo describes a tradable instrument. It is resolved once at
// startup and treated as read-only afterwards.
type InstrumentInfo struct {
	Symbol    string  `json:"symbol"`
	VenueID   string  `json:"venue_id"`
	Name      string  `json:"name,omitempty"`
	LotSize   int64   `json:"lot_size"`
	PriceTick float64 `json:"price_tick"`
	Currency  string  `json:"currency,omitempty"`
}

// PositionLot is the venue-reported holding of one instrument.
type PositionLot struct {
	Lots     int64   `json:"lots"`
	AvgPrice float64 `json:"avg_price"`
}

// AccountSnapshot is a point-in-time view of holdings and cash. Instruments
// absent from Positions carry no information about the holding.
type AccountSnapshot struct {
	Positions map[string]PositionLot `json:"positions"`
	Cash      map[string]float64     `json:"cash"`
	TakenAt   time.Time              `json:"taken_at"`
}

// ActiveOrder is a working order as listed by the venue.
type ActiveOrder struct {
	OrderID    string    `json:"order_id"`
	VenueID    string    `json:"venue_id"`
	ClientKey  string    `json:"client_key"`
	Side       Side      `json:"side"`
	Lots       int64     `json:"lots"`
	LimitPrice float64   `json:"limit_price"`
	CreatedAt  time.Time `json:"created_at"`
}

// OrderRequest is a single-leg limit order submission. ClientKey is the
// idempotency key the venue deduplicates on.
type OrderRequest struct {
	Account    string
	VenueID    string
	Side       Side
	Lots       int64
	LimitPrice float64
	ClientKey  string
}

// OrderReport is the venue's answer to an order status query.
type OrderReport struct {
	OrderID       string      `json:"order_id"`
	Status        OrderStatus `json:"status"`
	Side          Side        `json:"side"`
	LotsRequested int64       `json:"lots_requested"`
	LotsExecuted  int64       `json:"lots_executed"`
	AvgPrice      float64     `json:"avg_price"`
}

// Signal is a strategy decision. LimitPrice is zero for ActionHold.
type Signal struct {
	Action         Action  `json:"action"`
	ReferencePrice float64 `json:"reference_price"`
	LimitPrice     float64 `json:"limit_price,omitempty"`
	Reason         string  `json:"reason"`
}

// JournalRecord is one line of the append-only trade journal.
type JournalRecord struct {
	Timestamp time.Time         `json:"timestamp"`
	Event     EventKind         `json:"event"`
	Symbol    string            `json:"symbol"`
	VenueID   string            `json:"venue_id"`
	Side      Side              `json:"side,omitempty"`
	Lots      int64             `json:"lots"`
	Price     float64           `json:"price"`
	OrderID   string            `json:"order_id,omitempty"`
	ClientKey string            `json:"idempotency_key,omitempty"`
	Status    string            `json:"status,omitempty"`
	Reason    string            `json:"reason,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}
