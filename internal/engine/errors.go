package engine

import "errors"

// Precondition failures returned by the order lifecycle operations. Each is
// also journaled as a SKIP with the matching reason.
var (
	ErrUnknownInstrument = errors.New("unknown instrument")
	ErrOrderActive       = errors.New("instrument has an active order")
	ErrPositionOpen      = errors.New("instrument has an open position")
	ErrNoPosition        = errors.New("instrument has no position")
	ErrInvalidPrice      = errors.New("limit price rounds to zero")
	ErrInvalidLots       = errors.New("lots must be positive")
	ErrInsufficientCash  = errors.New("insufficient free cash")
	ErrNoPrice           = errors.New("no last price")
)

// Journal reasons for skipped submissions.
const (
	SkipNoCash       = "NO_CASH"
	SkipOrderActive  = "ORDER_ACTIVE"
	SkipPositionOpen = "POSITION_OPEN"
	SkipNoPosition   = "NO_POSITION"
	SkipInvalidPrice = "INVALID_PRICE"
	SkipInvalidLots  = "INVALID_LOTS"
)

// Cancel reasons.
const (
	CancelTTL       = "ttl_expired"
	CancelFlatten   = "flatten"
	CancelForExit   = "replace_with_exit"
	CancelDuplicate = "duplicate_order"
	CancelByVenue   = "venue_cancelled"
)
