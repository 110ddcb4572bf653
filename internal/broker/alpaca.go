package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/shopspring/decimal"

	"github.com/AlexSDem/trade-bot/internal/domain"
	"github.com/AlexSDem/trade-bot/internal/util"
)

// Compile-time interface check.
var _ Broker = (*AlpacaBroker)(nil)

// AlpacaOptions configures an AlpacaBroker.
type AlpacaOptions struct {
	APIKey    string
	APISecret string
	BaseURL   string // trading API, e.g. https://paper-api.alpaca.markets
	DataURL   string // market data API; empty for the SDK default
	Feed      string // "iex" or "sip"
	// DefaultTick is the price increment for instruments priced at or above
	// 1.00. Sub-dollar instruments always use 0.0001.
	DefaultTick     float64
	RateLimitPerMin int
}

// AlpacaBroker implements Broker on the Alpaca trading and market-data APIs.
// Alpaca trades in shares, so every instrument has a lot size of one and
// the symbol doubles as venue identifier.
type AlpacaBroker struct {
	client  *alpaca.Client
	data    *marketdata.Client
	feed    string
	tick    float64
	limiter *util.RateLimiter
	log     *slog.Logger
}

// NewAlpacaBroker creates an AlpacaBroker from the given options.
func NewAlpacaBroker(opts AlpacaOptions) *AlpacaBroker {
	dataOpts := marketdata.ClientOpts{
		APIKey:    opts.APIKey,
		APISecret: opts.APISecret,
	}
	if opts.DataURL != "" {
		dataOpts.BaseURL = opts.DataURL
	}
	tick := opts.DefaultTick
	if tick <= 0 {
		tick = 0.01
	}
	return &AlpacaBroker{
		client: alpaca.NewClient(alpaca.ClientOpts{
			APIKey:    opts.APIKey,
			APISecret: opts.APISecret,
			BaseURL:   opts.BaseURL,
		}),
		data:    marketdata.NewClient(dataOpts),
		feed:    opts.Feed,
		tick:    tick,
		limiter: util.NewRateLimiter(opts.RateLimitPerMin),
		log:     slog.Default().With("broker", "alpaca"),
	}
}

// Name returns "alpaca".
func (b *AlpacaBroker) Name() string {
	return "alpaca"
}

func (b *AlpacaBroker) wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.limiter.Wait(ctx)
}

// ListAccounts returns the single account bound to the API key.
func (b *AlpacaBroker) ListAccounts(ctx context.Context) ([]string, error) {
	if err := b.wait(ctx); err != nil {
		return nil, err
	}
	acct, err := b.client.GetAccount()
	if err != nil {
		return nil, fmt.Errorf("GetAccount: %w", classify(err))
	}
	return []string{acct.ID}, nil
}

// FindInstrument looks the symbol up as an Alpaca asset. Inactive or
// non-tradable assets are reported as not found.
func (b *AlpacaBroker) FindInstrument(ctx context.Context, symbol string) (domain.InstrumentInfo, error) {
	if err := b.wait(ctx); err != nil {
		return domain.InstrumentInfo{}, err
	}
	sym := strings.ToUpper(strings.TrimSpace(symbol))
	asset, err := b.client.GetAsset(sym)
	if err != nil {
		var apiErr *alpaca.APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return domain.InstrumentInfo{}, fmt.Errorf("%s: %w", sym, ErrInstrumentNotFound)
		}
		return domain.InstrumentInfo{}, fmt.Errorf("GetAsset(%s): %w", sym, classify(err))
	}
	if !asset.Tradable || asset.Status != alpaca.AssetActive {
		return domain.InstrumentInfo{}, fmt.Errorf("%s is not tradable: %w", sym, ErrInstrumentNotFound)
	}
	return domain.InstrumentInfo{
		Symbol:    asset.Symbol,
		VenueID:   asset.Symbol,
		Name:      asset.Name,
		LotSize:   1,
		PriceTick: b.tick,
		Currency:  "USD",
	}, nil
}

// GetPositions returns open positions plus account cash. Alpaca omits flat
// positions, so instruments without a holding are absent from the snapshot.
func (b *AlpacaBroker) GetPositions(ctx context.Context, _ string) (domain.AccountSnapshot, error) {
	if err := b.wait(ctx); err != nil {
		return domain.AccountSnapshot{}, err
	}
	acct, err := b.client.GetAccount()
	if err != nil {
		return domain.AccountSnapshot{}, fmt.Errorf("GetAccount: %w", classify(err))
	}
	positions, err := b.client.GetPositions()
	if err != nil {
		return domain.AccountSnapshot{}, fmt.Errorf("GetPositions: %w", classify(err))
	}

	currency := strings.ToUpper(acct.Currency)
	if currency == "" {
		currency = "USD"
	}
	snap := domain.AccountSnapshot{
		Positions: make(map[string]domain.PositionLot, len(positions)),
		Cash:      map[string]float64{currency: Float(acct.Cash)},
		TakenAt:   time.Now(),
	}
	for _, p := range positions {
		qty := Float(p.Qty)
		if qty < 0 {
			// Short positions are never opened by this bot; report them
			// as flat so they cannot be mistaken for a long.
			b.log.Warn("ignoring short position", "symbol", p.Symbol, "qty", qty)
			qty = 0
		}
		snap.Positions[p.Symbol] = domain.PositionLot{
			Lots:     int64(math.Floor(qty)),
			AvgPrice: Float(p.AvgEntryPrice),
		}
	}
	return snap, nil
}

// ListActiveOrders returns open orders, oldest first.
func (b *AlpacaBroker) ListActiveOrders(ctx context.Context, _ string) ([]domain.ActiveOrder, error) {
	if err := b.wait(ctx); err != nil {
		return nil, err
	}
	orders, err := b.client.GetOrders(alpaca.GetOrdersRequest{
		Status: "open",
		Limit:  500,
	})
	if err != nil {
		return nil, fmt.Errorf("GetOrders: %w", classify(err))
	}
	out := make([]domain.ActiveOrder, 0, len(orders))
	for _, o := range orders {
		out = append(out, domain.ActiveOrder{
			OrderID:    o.ID,
			VenueID:    o.Symbol,
			ClientKey:  o.ClientOrderID,
			Side:       side(o.Side),
			Lots:       int64(Float(o.Qty)),
			LimitPrice: Float(o.LimitPrice),
			CreatedAt:  o.CreatedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// GetLastPrice returns the latest trade price from the configured feed.
func (b *AlpacaBroker) GetLastPrice(ctx context.Context, venueID string) (float64, bool, error) {
	if err := b.wait(ctx); err != nil {
		return 0, false, err
	}
	trade, err := b.data.GetLatestTrade(venueID, marketdata.GetLatestTradeRequest{Feed: b.feed})
	if err != nil {
		return 0, false, fmt.Errorf("GetLatestTrade(%s): %w", venueID, classify(err))
	}
	if trade == nil || trade.Price <= 0 {
		return 0, false, nil
	}
	return trade.Price, true, nil
}

// GetRecentCandles returns one-minute bars for the trailing window.
func (b *AlpacaBroker) GetRecentCandles(ctx context.Context, venueID string, window time.Duration) ([]domain.Bar, error) {
	if err := b.wait(ctx); err != nil {
		return nil, err
	}
	end := time.Now()
	bars, err := b.data.GetBars(venueID, marketdata.GetBarsRequest{
		TimeFrame: marketdata.OneMin,
		Start:     end.Add(-window),
		End:       end,
		Feed:      b.feed,
	})
	if err != nil {
		return nil, fmt.Errorf("GetBars(%s): %w", venueID, classify(err))
	}
	out := make([]domain.Bar, 0, len(bars))
	for _, ab := range bars {
		out = append(out, domain.Bar{
			Symbol:     venueID,
			Timestamp:  ab.Timestamp,
			Open:       ab.Open,
			High:       ab.High,
			Low:        ab.Low,
			Close:      ab.Close,
			Volume:     int64(ab.Volume),
			TradeCount: int64(ab.TradeCount),
			VWAP:       ab.VWAP,
		})
	}
	return out, nil
}

// SubmitLimitOrder places a DAY limit order. The client key is sent as
// Alpaca's client_order_id, which the venue rejects when reused, so a
// retried submission is answered by looking the key up.
func (b *AlpacaBroker) SubmitLimitOrder(ctx context.Context, req domain.OrderRequest) (string, error) {
	if err := b.wait(ctx); err != nil {
		return "", err
	}
	var s alpaca.Side
	switch req.Side {
	case domain.SideBuy:
		s = alpaca.Buy
	case domain.SideSell:
		s = alpaca.Sell
	default:
		return "", fmt.Errorf("side %q: %w", req.Side, ErrRejected)
	}

	qty := decimal.NewFromInt(req.Lots)
	limit := decimal.NewFromFloat(req.LimitPrice)
	order, err := b.client.PlaceOrder(alpaca.PlaceOrderRequest{
		Symbol:        req.VenueID,
		Qty:           &qty,
		Side:          s,
		Type:          alpaca.Limit,
		TimeInForce:   alpaca.Day,
		LimitPrice:    &limit,
		ClientOrderID: req.ClientKey,
	})
	if err == nil {
		return order.ID, nil
	}

	var apiErr *alpaca.APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnprocessableEntity &&
		strings.Contains(strings.ToLower(apiErr.Message), "client_order_id") {
		// An earlier attempt with this key reached the venue.
		existing, lookupErr := b.client.GetOrderByClientOrderID(req.ClientKey)
		if lookupErr == nil {
			return existing.ID, nil
		}
	}
	return "", fmt.Errorf("PlaceOrder(%s %s): %w", req.Side, req.VenueID, classify(err))
}

// CancelOrder cancels an open order. Alpaca answers 404 for unknown orders
// and 422 for orders that are no longer cancelable; both map to
// ErrOrderNotFound.
func (b *AlpacaBroker) CancelOrder(ctx context.Context, _ string, orderID string) error {
	if err := b.wait(ctx); err != nil {
		return err
	}
	err := b.client.CancelOrder(orderID)
	if err == nil {
		return nil
	}
	var apiErr *alpaca.APIError
	if errors.As(err, &apiErr) &&
		(apiErr.StatusCode == http.StatusNotFound || apiErr.StatusCode == http.StatusUnprocessableEntity) {
		return fmt.Errorf("cancel %s: %w", orderID, ErrOrderNotFound)
	}
	return fmt.Errorf("CancelOrder(%s): %w", orderID, classify(err))
}

// GetOrderStatus maps Alpaca's order lifecycle onto domain.OrderStatus.
func (b *AlpacaBroker) GetOrderStatus(ctx context.Context, _ string, orderID string) (domain.OrderReport, error) {
	if err := b.wait(ctx); err != nil {
		return domain.OrderReport{}, err
	}
	o, err := b.client.GetOrder(orderID)
	if err != nil {
		var apiErr *alpaca.APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return domain.OrderReport{}, fmt.Errorf("status %s: %w", orderID, ErrOrderNotFound)
		}
		return domain.OrderReport{}, fmt.Errorf("GetOrder(%s): %w", orderID, classify(err))
	}
	return domain.OrderReport{
		OrderID:       o.ID,
		Status:        orderStatus(o.Status),
		Side:          side(o.Side),
		LotsRequested: int64(Float(o.Qty)),
		LotsExecuted:  int64(Float(o.FilledQty)),
		AvgPrice:      Float(o.FilledAvgPrice),
	}, nil
}

// DayCashflow sums FILL activities in [from, to). Alpaca accounts are USD
// only; other currencies yield zero.
func (b *AlpacaBroker) DayCashflow(ctx context.Context, _ string, currency string, from, to time.Time) (float64, error) {
	if !strings.EqualFold(currency, "USD") {
		return 0, nil
	}
	if err := b.wait(ctx); err != nil {
		return 0, err
	}
	activities, err := b.client.GetAccountActivities(alpaca.GetAccountActivitiesRequest{
		ActivityTypes: []string{"FILL"},
		After:         from,
		Until:         to,
		PageSize:      100,
	})
	if err != nil {
		return 0, fmt.Errorf("GetAccountActivities: %w", classify(err))
	}
	total := decimal.Zero
	for _, a := range activities {
		amount := a.Price.Mul(a.Qty)
		switch strings.ToLower(a.Side) {
		case "buy":
			total = total.Sub(amount)
		case "sell", "sell_short":
			total = total.Add(amount)
		}
	}
	return Float(total), nil
}

// ---------------------------------------------------------------------------
// Mapping helpers
// ---------------------------------------------------------------------------

func side(s alpaca.Side) domain.Side {
	switch s {
	case alpaca.Buy:
		return domain.SideBuy
	case alpaca.Sell:
		return domain.SideSell
	}
	return domain.SideUnknown
}

func orderStatus(s string) domain.OrderStatus {
	switch s {
	case "filled":
		return domain.OrderStatusFilled
	case "partially_filled":
		return domain.OrderStatusPartiallyFilled
	case "rejected", "suspended":
		return domain.OrderStatusRejected
	case "canceled", "expired", "done_for_day", "replaced":
		return domain.OrderStatusCancelled
	}
	// new, accepted, pending_new, accepted_for_bidding, pending_cancel,
	// pending_replace, calculated, stopped
	return domain.OrderStatusNew
}

// classify marks client errors other than rate limiting as venue rejections.
func classify(err error) error {
	var apiErr *alpaca.APIError
	if !errors.As(err, &apiErr) {
		return err
	}
	switch {
	case apiErr.StatusCode == http.StatusTooManyRequests, apiErr.StatusCode >= 500:
		return err
	case apiErr.StatusCode >= 400:
		return fmt.Errorf("%w: %v", ErrRejected, err)
	}
	return err
}
