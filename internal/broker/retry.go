package broker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/AlexSDem/trade-bot/internal/domain"
	"github.com/AlexSDem/trade-bot/internal/metrics"
	"github.com/AlexSDem/trade-bot/internal/util"
)

// Compile-time interface check.
var _ Broker = (*RetryingBroker)(nil)

// RetryingBroker wraps every call of another Broker in a bounded retry with
// capped exponential backoff. Venue rejections and unknown orders are not
// retried. Exhaustion returns the last error for that call only.
type RetryingBroker struct {
	inner  Broker
	policy util.RetryPolicy
	log    *slog.Logger
}

// NewRetryingBroker wraps inner with the given retry policy.
func NewRetryingBroker(inner Broker, policy util.RetryPolicy, log *slog.Logger) *RetryingBroker {
	if log == nil {
		log = slog.Default()
	}
	return &RetryingBroker{
		inner:  inner,
		policy: policy,
		log:    log.With("component", "broker", "broker", inner.Name()),
	}
}

// Name returns the wrapped broker's name.
func (r *RetryingBroker) Name() string { return r.inner.Name() }

func (r *RetryingBroker) do(ctx context.Context, method string, fn func() error) error {
	attempt := 0
	err := r.policy.Do(ctx, func() error {
		attempt++
		err := fn()
		switch {
		case err == nil:
			return nil
		case ctx.Err() != nil,
			errors.Is(err, ErrRejected),
			errors.Is(err, ErrOrderNotFound),
			errors.Is(err, ErrInstrumentNotFound):
			return util.Permanent(err)
		}
		metrics.GatewayCalls.WithLabelValues(method, "retry").Inc()
		r.log.Warn("broker call failed", "method", method, "attempt", attempt, "error", err)
		return err
	})
	if err != nil {
		metrics.GatewayCalls.WithLabelValues(method, "error").Inc()
		return err
	}
	metrics.GatewayCalls.WithLabelValues(method, "ok").Inc()
	return nil
}

func (r *RetryingBroker) ListAccounts(ctx context.Context) ([]string, error) {
	var out []string
	err := r.do(ctx, "list_accounts", func() (err error) {
		out, err = r.inner.ListAccounts(ctx)
		return err
	})
	return out, err
}

func (r *RetryingBroker) FindInstrument(ctx context.Context, symbol string) (domain.InstrumentInfo, error) {
	var out domain.InstrumentInfo
	err := r.do(ctx, "find_instrument", func() (err error) {
		out, err = r.inner.FindInstrument(ctx, symbol)
		return err
	})
	return out, err
}

func (r *RetryingBroker) GetPositions(ctx context.Context, account string) (domain.AccountSnapshot, error) {
	var out domain.AccountSnapshot
	err := r.do(ctx, "get_positions", func() (err error) {
		out, err = r.inner.GetPositions(ctx, account)
		return err
	})
	return out, err
}

func (r *RetryingBroker) ListActiveOrders(ctx context.Context, account string) ([]domain.ActiveOrder, error) {
	var out []domain.ActiveOrder
	err := r.do(ctx, "list_active_orders", func() (err error) {
		out, err = r.inner.ListActiveOrders(ctx, account)
		return err
	})
	return out, err
}

func (r *RetryingBroker) GetLastPrice(ctx context.Context, venueID string) (float64, bool, error) {
	var (
		price float64
		ok    bool
	)
	err := r.do(ctx, "get_last_price", func() (err error) {
		price, ok, err = r.inner.GetLastPrice(ctx, venueID)
		return err
	})
	return price, ok, err
}

func (r *RetryingBroker) GetRecentCandles(ctx context.Context, venueID string, window time.Duration) ([]domain.Bar, error) {
	var out []domain.Bar
	err := r.do(ctx, "get_recent_candles", func() (err error) {
		out, err = r.inner.GetRecentCandles(ctx, venueID, window)
		return err
	})
	return out, err
}

// SubmitLimitOrder retries with the same request, so every attempt carries
// the same idempotency key.
func (r *RetryingBroker) SubmitLimitOrder(ctx context.Context, req domain.OrderRequest) (string, error) {
	var id string
	err := r.do(ctx, "submit_limit_order", func() (err error) {
		id, err = r.inner.SubmitLimitOrder(ctx, req)
		return err
	})
	return id, err
}

func (r *RetryingBroker) CancelOrder(ctx context.Context, account, orderID string) error {
	return r.do(ctx, "cancel_order", func() error {
		return r.inner.CancelOrder(ctx, account, orderID)
	})
}

func (r *RetryingBroker) GetOrderStatus(ctx context.Context, account, orderID string) (domain.OrderReport, error) {
	var out domain.OrderReport
	err := r.do(ctx, "get_order_status", func() (err error) {
		out, err = r.inner.GetOrderStatus(ctx, account, orderID)
		return err
	})
	return out, err
}

func (r *RetryingBroker) DayCashflow(ctx context.Context, account, currency string, from, to time.Time) (float64, error) {
	var out float64
	err := r.do(ctx, "day_cashflow", func() (err error) {
		out, err = r.inner.DayCashflow(ctx, account, currency, from, to)
		return err
	})
	return out, err
}
