// Package broker defines the Broker interface to the trading venue and
// provides the Alpaca, simulator and retrying implementations.
package broker

import (
	"context"
	"errors"
	"time"

	"github.com/AlexSDem/trade-bot/internal/domain"
)

var (
	// ErrOrderNotFound is returned when the venue no longer knows an order
	// (already cancelled, filled or expired).
	ErrOrderNotFound = errors.New("order not found")

	// ErrRejected is returned when the venue refuses an order outright
	// (insufficient funds, invalid price, halted instrument).
	ErrRejected = errors.New("order rejected by venue")

	// ErrInstrumentNotFound is returned by FindInstrument for unknown or
	// non-tradable symbols.
	ErrInstrumentNotFound = errors.New("instrument not found")
)

// Broker abstracts the trading venue. Every call may fail transiently; wrap
// an implementation in a RetryingBroker to get bounded retries.
type Broker interface {
	// Name returns the broker identifier (e.g. "alpaca", "simulator").
	Name() string

	// ListAccounts returns the account identifiers available to the client.
	ListAccounts(ctx context.Context) ([]string, error)

	// FindInstrument resolves a ticker to its venue identifier, lot size and
	// price tick.
	FindInstrument(ctx context.Context, symbol string) (domain.InstrumentInfo, error)

	// GetPositions returns lots per instrument and cash per currency.
	GetPositions(ctx context.Context, account string) (domain.AccountSnapshot, error)

	// ListActiveOrders returns every working order of the account.
	ListActiveOrders(ctx context.Context, account string) ([]domain.ActiveOrder, error)

	// GetLastPrice returns the last traded price. ok is false when the venue
	// has no price for the instrument.
	GetLastPrice(ctx context.Context, venueID string) (price float64, ok bool, err error)

	// GetRecentCandles returns one-minute bars covering the trailing window,
	// oldest first. An empty result means no data.
	GetRecentCandles(ctx context.Context, venueID string, window time.Duration) ([]domain.Bar, error)

	// SubmitLimitOrder places a limit order and returns the venue order id.
	// The venue deduplicates on req.ClientKey.
	SubmitLimitOrder(ctx context.Context, req domain.OrderRequest) (string, error)

	// CancelOrder cancels a working order. Orders the venue no longer knows
	// yield ErrOrderNotFound.
	CancelOrder(ctx context.Context, account, orderID string) error

	// GetOrderStatus returns the execution state of an order.
	GetOrderStatus(ctx context.Context, account, orderID string) (domain.OrderReport, error)

	// DayCashflow sums executed-trade cashflow in currency over [from, to):
	// sells count positive, buys negative.
	DayCashflow(ctx context.Context, account, currency string, from, to time.Time) (float64, error)
}
