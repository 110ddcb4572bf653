package broker

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/AlexSDem/trade-bot/internal/domain"
)

// Compile-time interface check.
var _ Broker = (*SimulatorBroker)(nil)

// MarketData is the read-only part of a Broker. A SimulatorBroker with a
// Feed takes prices, candles and instrument metadata from it.
type MarketData interface {
	FindInstrument(ctx context.Context, symbol string) (domain.InstrumentInfo, error)
	GetLastPrice(ctx context.Context, venueID string) (float64, bool, error)
	GetRecentCandles(ctx context.Context, venueID string, window time.Duration) ([]domain.Bar, error)
}

// SimulatorAccount is the only account a SimulatorBroker exposes.
const SimulatorAccount = "sim-account"

type simOrder struct {
	id        string
	req       domain.OrderRequest
	status    domain.OrderStatus
	executed  int64
	notional  float64
	createdAt time.Time
}

type simCashflow struct {
	at       time.Time
	currency string
	amount   float64
}

// SimulatorBroker is an in-memory venue for paper trading and tests. It
// deduplicates submissions on the client key, rejects orders the account
// cannot cover and fills limit orders when the last price crosses the limit
// (AutoFill) or when told to via Fill.
type SimulatorBroker struct {
	// Feed, if set, supplies market data instead of the in-memory tables.
	Feed MarketData
	// AutoFill fills working orders whenever a crossing last price is seen.
	AutoFill bool
	// Currency is the account currency used for cash and cashflow.
	Currency string
	// Now returns the simulated clock. Defaults to time.Now.
	Now func() time.Time

	mu          sync.Mutex
	nextID      int
	instruments map[string]domain.InstrumentInfo // by symbol
	prices      map[string]float64
	candles     map[string][]domain.Bar
	positions   map[string]domain.PositionLot
	cash        map[string]float64
	orders      map[string]*simOrder
	byKey       map[string]string
	cashflows   []simCashflow
	failures    map[string][]error
	calls       map[string]int
}

// NewSimulatorBroker creates an empty simulator with USD as account currency.
func NewSimulatorBroker() *SimulatorBroker {
	return &SimulatorBroker{
		Currency:    "USD",
		Now:         time.Now,
		instruments: make(map[string]domain.InstrumentInfo),
		prices:      make(map[string]float64),
		candles:     make(map[string][]domain.Bar),
		positions:   make(map[string]domain.PositionLot),
		cash:        make(map[string]float64),
		orders:      make(map[string]*simOrder),
		byKey:       make(map[string]string),
		failures:    make(map[string][]error),
		calls:       make(map[string]int),
	}
}

// Name returns "simulator".
func (b *SimulatorBroker) Name() string {
	return "simulator"
}

// ---------------------------------------------------------------------------
// Scenario setup
// ---------------------------------------------------------------------------

// AddInstrument registers an instrument. VenueID defaults to the symbol.
func (b *SimulatorBroker) AddInstrument(info domain.InstrumentInfo) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if info.VenueID == "" {
		info.VenueID = info.Symbol
	}
	if info.LotSize == 0 {
		info.LotSize = 1
	}
	if info.Currency == "" {
		info.Currency = b.Currency
	}
	b.instruments[strings.ToUpper(info.Symbol)] = info
}

// SetPrice sets the last price of an instrument and, with AutoFill, fills
// orders the new price crosses.
func (b *SimulatorBroker) SetPrice(venueID string, price float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.prices[venueID] = price
	if b.AutoFill {
		b.matchLocked(venueID, price)
	}
}

// SetCandles replaces the bar series of an instrument.
func (b *SimulatorBroker) SetCandles(venueID string, bars []domain.Bar) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.candles[venueID] = append([]domain.Bar(nil), bars...)
}

// SetCash sets the cash balance in a currency.
func (b *SimulatorBroker) SetCash(currency string, amount float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cash[strings.ToUpper(currency)] = amount
}

// SetPosition sets the holding of an instrument.
func (b *SimulatorBroker) SetPosition(venueID string, lots int64, avgPrice float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.positions[venueID] = domain.PositionLot{Lots: lots, AvgPrice: avgPrice}
}

// FailNext makes the next len(errs) calls of method return errs in order.
// Method names match the RetryingBroker metric labels, e.g.
// "submit_limit_order".
func (b *SimulatorBroker) FailNext(method string, errs ...error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures[method] = append(b.failures[method], errs...)
}

// Calls returns how many times method was invoked, failures included.
func (b *SimulatorBroker) Calls(method string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[method]
}

// OrderCount returns the number of distinct orders the venue accepted.
func (b *SimulatorBroker) OrderCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.orders)
}

// Fill executes lots of a working order at price. Filling the remainder
// completes the order.
func (b *SimulatorBroker) Fill(orderID string, lots int64, price float64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	o, ok := b.orders[orderID]
	if !ok {
		return ErrOrderNotFound
	}
	if o.status.Terminal() {
		return fmt.Errorf("order %s is %s", orderID, o.status)
	}
	b.fillLocked(o, lots, price)
	return nil
}

// SetOrderStatus forces an order into a status without executing anything.
func (b *SimulatorBroker) SetOrderStatus(orderID string, status domain.OrderStatus) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	o, ok := b.orders[orderID]
	if !ok {
		return ErrOrderNotFound
	}
	o.status = status
	return nil
}

// ---------------------------------------------------------------------------
// Broker implementation
// ---------------------------------------------------------------------------

// enter counts the call and pops a scripted failure. Must be called with mu held.
func (b *SimulatorBroker) enter(method string) error {
	b.calls[method]++
	if q := b.failures[method]; len(q) > 0 {
		b.failures[method] = q[1:]
		return q[0]
	}
	return nil
}

func (b *SimulatorBroker) ListAccounts(_ context.Context) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enter("list_accounts"); err != nil {
		return nil, err
	}
	return []string{SimulatorAccount}, nil
}

func (b *SimulatorBroker) FindInstrument(ctx context.Context, symbol string) (domain.InstrumentInfo, error) {
	if b.Feed != nil {
		return b.Feed.FindInstrument(ctx, symbol)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enter("find_instrument"); err != nil {
		return domain.InstrumentInfo{}, err
	}
	info, ok := b.instruments[strings.ToUpper(symbol)]
	if !ok {
		return domain.InstrumentInfo{}, fmt.Errorf("%s: %w", symbol, ErrInstrumentNotFound)
	}
	return info, nil
}

func (b *SimulatorBroker) GetPositions(_ context.Context, _ string) (domain.AccountSnapshot, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enter("get_positions"); err != nil {
		return domain.AccountSnapshot{}, err
	}
	snap := domain.AccountSnapshot{
		Positions: make(map[string]domain.PositionLot, len(b.positions)),
		Cash:      make(map[string]float64, len(b.cash)),
		TakenAt:   b.Now(),
	}
	for id, p := range b.positions {
		snap.Positions[id] = p
	}
	for c, v := range b.cash {
		snap.Cash[c] = v
	}
	return snap, nil
}

func (b *SimulatorBroker) ListActiveOrders(_ context.Context, _ string) ([]domain.ActiveOrder, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enter("list_active_orders"); err != nil {
		return nil, err
	}
	var out []domain.ActiveOrder
	for _, o := range b.orders {
		if o.status.Terminal() {
			continue
		}
		out = append(out, domain.ActiveOrder{
			OrderID:    o.id,
			VenueID:    o.req.VenueID,
			ClientKey:  o.req.ClientKey,
			Side:       o.req.Side,
			Lots:       o.req.Lots,
			LimitPrice: o.req.LimitPrice,
			CreatedAt:  o.createdAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderID < out[j].OrderID })
	return out, nil
}

func (b *SimulatorBroker) GetLastPrice(ctx context.Context, venueID string) (float64, bool, error) {
	if b.Feed != nil {
		price, ok, err := b.Feed.GetLastPrice(ctx, venueID)
		if err == nil && ok && b.AutoFill {
			b.mu.Lock()
			b.prices[venueID] = price
			b.matchLocked(venueID, price)
			b.mu.Unlock()
		}
		return price, ok, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enter("get_last_price"); err != nil {
		return 0, false, err
	}
	price, ok := b.prices[venueID]
	return price, ok, nil
}

func (b *SimulatorBroker) GetRecentCandles(ctx context.Context, venueID string, window time.Duration) ([]domain.Bar, error) {
	if b.Feed != nil {
		bars, err := b.Feed.GetRecentCandles(ctx, venueID, window)
		if err == nil && len(bars) > 0 && b.AutoFill {
			b.mu.Lock()
			last := bars[len(bars)-1].Close
			b.prices[venueID] = last
			b.matchLocked(venueID, last)
			b.mu.Unlock()
		}
		return bars, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enter("get_recent_candles"); err != nil {
		return nil, err
	}
	bars := b.candles[venueID]
	if len(bars) == 0 {
		return nil, nil
	}
	cutoff := bars[len(bars)-1].Timestamp.Add(-window)
	var out []domain.Bar
	for _, bar := range bars {
		if !bar.Timestamp.Before(cutoff) {
			out = append(out, bar)
		}
	}
	return out, nil
}

func (b *SimulatorBroker) SubmitLimitOrder(_ context.Context, req domain.OrderRequest) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enter("submit_limit_order"); err != nil {
		return "", err
	}
	if id, ok := b.byKey[req.ClientKey]; ok && req.ClientKey != "" {
		return id, nil
	}
	if req.Lots <= 0 || req.LimitPrice <= 0 {
		return "", fmt.Errorf("lots=%d price=%v: %w", req.Lots, req.LimitPrice, ErrRejected)
	}

	lot := b.lotSizeLocked(req.VenueID)
	switch req.Side {
	case domain.SideBuy:
		cost := req.LimitPrice * float64(req.Lots*lot)
		if cost > b.cash[b.Currency]-b.reservedLocked() {
			return "", fmt.Errorf("insufficient buying power for %s: %w", req.VenueID, ErrRejected)
		}
	case domain.SideSell:
		if req.Lots > b.positions[req.VenueID].Lots {
			return "", fmt.Errorf("sell %d lots exceeds position of %s: %w", req.Lots, req.VenueID, ErrRejected)
		}
	default:
		return "", fmt.Errorf("side %q: %w", req.Side, ErrRejected)
	}

	b.nextID++
	o := &simOrder{
		id:        fmt.Sprintf("sim-%06d", b.nextID),
		req:       req,
		status:    domain.OrderStatusNew,
		createdAt: b.Now(),
	}
	b.orders[o.id] = o
	if req.ClientKey != "" {
		b.byKey[req.ClientKey] = o.id
	}
	if b.AutoFill {
		if price, ok := b.prices[req.VenueID]; ok {
			b.matchLocked(req.VenueID, price)
		}
	}
	return o.id, nil
}

func (b *SimulatorBroker) CancelOrder(_ context.Context, _ string, orderID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enter("cancel_order"); err != nil {
		return err
	}
	o, ok := b.orders[orderID]
	if !ok || o.status.Terminal() {
		return fmt.Errorf("cancel %s: %w", orderID, ErrOrderNotFound)
	}
	o.status = domain.OrderStatusCancelled
	return nil
}

func (b *SimulatorBroker) GetOrderStatus(_ context.Context, _ string, orderID string) (domain.OrderReport, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enter("get_order_status"); err != nil {
		return domain.OrderReport{}, err
	}
	o, ok := b.orders[orderID]
	if !ok {
		return domain.OrderReport{}, fmt.Errorf("status %s: %w", orderID, ErrOrderNotFound)
	}
	rep := domain.OrderReport{
		OrderID:       o.id,
		Status:        o.status,
		Side:          o.req.Side,
		LotsRequested: o.req.Lots,
		LotsExecuted:  o.executed,
	}
	if o.executed > 0 {
		rep.AvgPrice = o.notional / float64(o.executed*b.lotSizeLocked(o.req.VenueID))
	}
	return rep, nil
}

func (b *SimulatorBroker) DayCashflow(_ context.Context, _ string, currency string, from, to time.Time) (float64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enter("day_cashflow"); err != nil {
		return 0, err
	}
	var total float64
	for _, cf := range b.cashflows {
		if !strings.EqualFold(cf.currency, currency) {
			continue
		}
		if cf.at.Before(from) || !cf.at.Before(to) {
			continue
		}
		total += cf.amount
	}
	return total, nil
}

// ---------------------------------------------------------------------------
// Matching
// ---------------------------------------------------------------------------

func (b *SimulatorBroker) lotSizeLocked(venueID string) int64 {
	for _, info := range b.instruments {
		if info.VenueID == venueID {
			return info.LotSize
		}
	}
	return 1
}

// reservedLocked is the cash held by working BUY orders.
func (b *SimulatorBroker) reservedLocked() float64 {
	var r float64
	for _, o := range b.orders {
		if o.status.Terminal() || o.req.Side != domain.SideBuy {
			continue
		}
		r += o.req.LimitPrice * float64((o.req.Lots-o.executed)*b.lotSizeLocked(o.req.VenueID))
	}
	return r
}

func (b *SimulatorBroker) matchLocked(venueID string, price float64) {
	for _, o := range b.orders {
		if o.req.VenueID != venueID || o.status.Terminal() {
			continue
		}
		crossed := (o.req.Side == domain.SideBuy && price <= o.req.LimitPrice) ||
			(o.req.Side == domain.SideSell && price >= o.req.LimitPrice)
		if crossed {
			b.fillLocked(o, o.req.Lots-o.executed, o.req.LimitPrice)
		}
	}
}

func (b *SimulatorBroker) fillLocked(o *simOrder, lots int64, price float64) {
	if remaining := o.req.Lots - o.executed; lots > remaining {
		lots = remaining
	}
	if lots <= 0 {
		return
	}
	lot := b.lotSizeLocked(o.req.VenueID)
	amount := price * float64(lots*lot)

	o.executed += lots
	o.notional += amount
	if o.executed == o.req.Lots {
		o.status = domain.OrderStatusFilled
	} else {
		o.status = domain.OrderStatusPartiallyFilled
	}

	pos := b.positions[o.req.VenueID]
	if o.req.Side == domain.SideBuy {
		total := pos.AvgPrice*float64(pos.Lots) + price*float64(lots)
		pos.Lots += lots
		pos.AvgPrice = total / float64(pos.Lots)
		amount = -amount
	} else {
		pos.Lots -= lots
		if pos.Lots <= 0 {
			pos = domain.PositionLot{}
		}
	}
	b.positions[o.req.VenueID] = pos
	b.cash[b.Currency] += amount
	b.cashflows = append(b.cashflows, simCashflow{at: b.Now(), currency: b.Currency, amount: amount})
}
