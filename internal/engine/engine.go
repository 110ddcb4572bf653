// Package engine implements the order lifecycle and the risk gate: it turns
// signals into idempotent limit orders, tracks them to a terminal state and
// keeps the ledger in step with the venue.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/AlexSDem/trade-bot/internal/broker"
	"github.com/AlexSDem/trade-bot/internal/catalog"
	"github.com/AlexSDem/trade-bot/internal/domain"
	"github.com/AlexSDem/trade-bot/internal/state"
)

// DefaultSkipWarnInterval throttles repeated NO_CASH skips per instrument.
const DefaultSkipWarnInterval = 5 * time.Minute

// Journal receives lifecycle events.
type Journal interface {
	Record(ctx context.Context, rec domain.JournalRecord) error
}

// Outcome is the result of polling an order.
type Outcome int

const (
	OutcomeNone Outcome = iota // no active order
	OutcomeOpen
	OutcomePartial
	OutcomeFilled
	OutcomeRejected
	OutcomeCancelled
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOpen:
		return "open"
	case OutcomePartial:
		return "partial"
	case OutcomeFilled:
		return "filled"
	case OutcomeRejected:
		return "rejected"
	case OutcomeCancelled:
		return "cancelled"
	}
	return "none"
}

// Options configures an Engine.
type Options struct {
	Account string
	// SkipWarnInterval is the minimum gap between NO_CASH skip records of
	// one instrument. Zero means DefaultSkipWarnInterval.
	SkipWarnInterval time.Duration
	// ReentryCooldown blocks new entries on an instrument for this long
	// after its position is closed. Zero disables it.
	ReentryCooldown time.Duration
	// Now and NewKey default to time.Now and uuid.NewString.
	Now    func() time.Time
	NewKey func() string
}

// Engine is the order lifecycle manager. It is driven by a single goroutine
// and owns all writes to the ledger's position and order state.
type Engine struct {
	broker  broker.Broker
	catalog *catalog.Catalog
	ledger  *state.Ledger
	journal Journal
	log     *slog.Logger

	account          string
	skipWarnInterval time.Duration
	cooldown         time.Duration
	now              func() time.Time
	newKey           func() string

	lastSkip map[string]time.Time
}

// NewEngine creates an Engine wired with the given dependencies.
func NewEngine(b broker.Broker, cat *catalog.Catalog, ledger *state.Ledger, j Journal, opts Options, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	e := &Engine{
		broker:           b,
		catalog:          cat,
		ledger:           ledger,
		journal:          j,
		log:              log.With("component", "engine"),
		account:          opts.Account,
		skipWarnInterval: opts.SkipWarnInterval,
		cooldown:         opts.ReentryCooldown,
		now:              opts.Now,
		newKey:           opts.NewKey,
		lastSkip:         make(map[string]time.Time),
	}
	if e.skipWarnInterval <= 0 {
		e.skipWarnInterval = DefaultSkipWarnInterval
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.newKey == nil {
		e.newKey = uuid.NewString
	}
	for _, info := range cat.Instruments() {
		ledger.Track(info)
	}
	return e
}

// Ledger returns the ledger the engine writes to.
func (e *Engine) Ledger() *state.Ledger { return e.ledger }

// Catalog returns the instrument catalog.
func (e *Engine) Catalog() *catalog.Catalog { return e.catalog }

// ---------------------------------------------------------------------------
// Snapshot
// ---------------------------------------------------------------------------

// RefreshSnapshot pulls positions, cash and working orders from the venue
// and reconciles the ledger. Duplicate venue orders are cancelled. On error
// the ledger is left untouched.
func (e *Engine) RefreshSnapshot(ctx context.Context) error {
	snap, err := e.broker.GetPositions(ctx, e.account)
	if err != nil {
		return fmt.Errorf("positions snapshot: %w", err)
	}
	orders, err := e.broker.ListActiveOrders(ctx, e.account)
	if err != nil {
		return fmt.Errorf("active orders snapshot: %w", err)
	}

	res := e.ledger.Reconcile(snap, orders, e.now())
	for _, o := range res.Extra {
		err := e.broker.CancelOrder(ctx, e.account, o.OrderID)
		if err != nil && !errors.Is(err, broker.ErrOrderNotFound) {
			e.log.Warn("cancelling duplicate order failed", "venue_id", o.VenueID, "order_id", o.OrderID, "error", err)
			continue
		}
		e.record(ctx, domain.JournalRecord{
			Event:     domain.EventCancel,
			VenueID:   o.VenueID,
			Side:      o.Side,
			Lots:      o.Lots,
			Price:     o.LimitPrice,
			OrderID:   o.OrderID,
			ClientKey: o.ClientKey,
			Status:    string(domain.OrderStatusCancelled),
			Reason:    CancelDuplicate,
		})
	}
	return nil
}

// ---------------------------------------------------------------------------
// Submission
// ---------------------------------------------------------------------------

// SubmitEntry places a BUY limit order for lots on a flat instrument with no
// working order. The price is rounded down to the tick and the cost checked
// against free cash before the venue is called.
func (e *Engine) SubmitEntry(ctx context.Context, venueID string, limitPrice float64, lots int64) error {
	info, ok := e.catalog.Get(venueID)
	if !ok {
		return fmt.Errorf("%s: %w", venueID, ErrUnknownInstrument)
	}
	s := e.ledger.Get(venueID)
	base := domain.JournalRecord{VenueID: venueID, Side: domain.SideBuy, Lots: lots, Price: limitPrice}

	if s.HasOrder() {
		e.skip(ctx, base, SkipOrderActive, "order "+s.Order.ID+" working")
		return fmt.Errorf("%s: %w", info.Symbol, ErrOrderActive)
	}
	if s.HasPosition() {
		e.skip(ctx, base, SkipPositionOpen, fmt.Sprintf("holding %d lots", s.PositionLots))
		return fmt.Errorf("%s: %w", info.Symbol, ErrPositionOpen)
	}
	if lots <= 0 {
		e.skip(ctx, base, SkipInvalidLots, "")
		return fmt.Errorf("%s: %w", info.Symbol, ErrInvalidLots)
	}
	price := catalog.RoundDownToTick(limitPrice, info.PriceTick)
	if price <= 0 {
		e.skip(ctx, base, SkipInvalidPrice, fmt.Sprintf("limit %v tick %v", limitPrice, info.PriceTick))
		return fmt.Errorf("%s: %w", info.Symbol, ErrInvalidPrice)
	}
	base.Price = price

	cost := price * float64(lots*info.LotSize)
	if free := e.ledger.FreeCash(); cost > free {
		if e.allowSkipWarn(venueID) {
			rec := base
			rec.Metadata = map[string]string{
				"cost":      strconv.FormatFloat(cost, 'f', 2, 64),
				"free_cash": strconv.FormatFloat(free, 'f', 2, 64),
			}
			e.skip(ctx, rec, SkipNoCash, fmt.Sprintf("cost %.2f > free cash %.2f", cost, free))
		}
		return fmt.Errorf("%s: cost %.2f, free %.2f: %w", info.Symbol, cost, free, ErrInsufficientCash)
	}

	return e.submit(ctx, info, domain.SideBuy, lots, price, cost, 0)
}

// SubmitExitToClose places a SELL limit order for the whole position. A
// working order on the instrument is cancelled first; if that cancel fails
// nothing is submitted.
func (e *Engine) SubmitExitToClose(ctx context.Context, venueID string, limitPrice float64) error {
	info, ok := e.catalog.Get(venueID)
	if !ok {
		return fmt.Errorf("%s: %w", venueID, ErrUnknownInstrument)
	}
	s := e.ledger.Get(venueID)
	base := domain.JournalRecord{VenueID: venueID, Side: domain.SideSell, Price: limitPrice}

	if !s.HasPosition() {
		e.skip(ctx, base, SkipNoPosition, "")
		return fmt.Errorf("%s: %w", info.Symbol, ErrNoPosition)
	}
	if s.HasOrder() {
		if err := e.CancelActive(ctx, venueID, CancelForExit); err != nil {
			return fmt.Errorf("%s: cancelling before exit: %w", info.Symbol, err)
		}
		if !s.HasPosition() {
			// The resting order closed the position before the cancel landed.
			return nil
		}
	}
	price := catalog.RoundDownToTick(limitPrice, info.PriceTick)
	if price <= 0 {
		e.skip(ctx, base, SkipInvalidPrice, fmt.Sprintf("limit %v tick %v", limitPrice, info.PriceTick))
		return fmt.Errorf("%s: %w", info.Symbol, ErrInvalidPrice)
	}
	return e.submit(ctx, info, domain.SideSell, s.PositionLots, price, 0, s.PositionLots)
}

func (e *Engine) submit(ctx context.Context, info domain.InstrumentInfo, side domain.Side, lots int64, price, reserved float64, baseLots int64) error {
	key := e.newKey()
	req := domain.OrderRequest{
		Account:    e.account,
		VenueID:    info.VenueID,
		Side:       side,
		Lots:       lots,
		LimitPrice: price,
		ClientKey:  key,
	}
	rec := domain.JournalRecord{
		VenueID:   info.VenueID,
		Side:      side,
		Lots:      lots,
		Price:     price,
		ClientKey: key,
	}

	id, err := e.broker.SubmitLimitOrder(ctx, req)
	if err != nil {
		if errors.Is(err, broker.ErrRejected) {
			rec.Event = domain.EventReject
			rec.Status = string(domain.OrderStatusRejected)
			rec.Reason = err.Error()
			e.record(ctx, rec)
		} else {
			// Unknown outcome: the next snapshot adopts the order if it
			// reached the venue.
			e.log.Error("submit failed", "symbol", info.Symbol, "side", side, "key", key, "error", err)
		}
		return fmt.Errorf("submit %s %s: %w", side, info.Symbol, err)
	}

	if err := e.ledger.SetOrder(info.VenueID, state.OrderInfo{
		ID:         id,
		ClientKey:  key,
		Side:       side,
		PlacedAt:   e.now(),
		Lots:       lots,
		LimitPrice: price,
		Reserved:   reserved,
		BaseLots:   baseLots,
	}); err != nil {
		return err
	}

	rec.Event = domain.EventSubmit
	rec.OrderID = id
	rec.Status = string(domain.OrderStatusNew)
	e.record(ctx, rec)
	e.log.Info("order submitted", "symbol", info.Symbol, "side", side, "lots", lots, "price", price, "order_id", id)
	return nil
}

// ---------------------------------------------------------------------------
// Cancellation and polling
// ---------------------------------------------------------------------------

// CancelActive cancels the working order of an instrument and then reads
// its final status, so executions that raced the cancel still reach the
// position, the trade counter and the journal. A venue answer of "already
// gone" counts as success. On any other cancel error the order stays
// tracked.
func (e *Engine) CancelActive(ctx context.Context, venueID, reason string) error {
	s := e.ledger.Get(venueID)
	if !s.HasOrder() {
		return nil
	}
	o := *s.Order

	status := string(domain.OrderStatusCancelled)
	err := e.broker.CancelOrder(ctx, e.account, o.ID)
	switch {
	case errors.Is(err, broker.ErrOrderNotFound):
		status = "already_gone"
	case err != nil:
		e.log.Warn("cancel failed", "symbol", s.Symbol, "order_id", o.ID, "error", err)
		return fmt.Errorf("cancel %s: %w", o.ID, err)
	}

	rep, err := e.broker.GetOrderStatus(ctx, e.account, o.ID)
	if err != nil {
		e.log.Warn("final status unavailable after cancel", "symbol", s.Symbol, "order_id", o.ID, "error", err)
	} else {
		switch e.settle(ctx, venueID, rep, reason) {
		case OutcomeFilled, OutcomeRejected, OutcomeCancelled:
			return nil
		}
	}

	side := s.Order.Side
	e.ledger.ClearOrder(venueID)
	e.record(ctx, domain.JournalRecord{
		Event:     domain.EventCancel,
		VenueID:   venueID,
		Side:      side,
		Lots:      o.Lots,
		Price:     o.LimitPrice,
		OrderID:   o.ID,
		ClientKey: o.ClientKey,
		Status:    status,
		Reason:    reason,
	})
	return nil
}

// PollOutcome queries the venue for the working order of an instrument and
// applies what it reports. Executions move the position relative to the
// lots held at submission, so polling the same report twice changes nothing.
func (e *Engine) PollOutcome(ctx context.Context, venueID string) (Outcome, error) {
	s := e.ledger.Get(venueID)
	if !s.HasOrder() {
		return OutcomeNone, nil
	}
	rep, err := e.broker.GetOrderStatus(ctx, e.account, s.Order.ID)
	if err != nil {
		return OutcomeNone, fmt.Errorf("status of %s: %w", s.Order.ID, err)
	}
	return e.settle(ctx, venueID, rep, CancelByVenue), nil
}

// settle applies a venue report to the working order of an instrument. A
// cancelled report is journaled with cancelReason.
func (e *Engine) settle(ctx context.Context, venueID string, rep domain.OrderReport, cancelReason string) Outcome {
	s := e.ledger.Get(venueID)
	o := s.Order

	side := o.Side
	if side == domain.SideUnknown {
		side = rep.Side
		o.Side = rep.Side
	}
	executedNow := e.applyExecutions(venueID, side, rep)

	rec := domain.JournalRecord{
		VenueID:   venueID,
		Side:      side,
		Lots:      rep.LotsExecuted,
		Price:     rep.AvgPrice,
		OrderID:   o.ID,
		ClientKey: o.ClientKey,
		Status:    string(rep.Status),
	}
	partial := func() {
		if executedNow {
			p := rec
			p.Event = domain.EventPartialFill
			e.record(ctx, p)
		}
	}

	switch rep.Status {
	case domain.OrderStatusPartiallyFilled:
		partial()
		return OutcomePartial

	case domain.OrderStatusFilled:
		if side == domain.SideBuy {
			e.ledger.IncTrades()
		}
		if side == domain.SideSell && !s.HasPosition() && e.cooldown > 0 {
			e.ledger.SetCooldown(venueID, e.now().Add(e.cooldown))
		}
		e.ledger.ClearOrder(venueID)
		rec.Event = domain.EventFill
		e.record(ctx, rec)
		e.log.Info("order filled", "symbol", s.Symbol, "side", side, "lots", rep.LotsExecuted, "avg_price", rep.AvgPrice)
		return OutcomeFilled

	case domain.OrderStatusRejected:
		partial()
		e.ledger.ClearOrder(venueID)
		rec.Event = domain.EventReject
		rec.Reason = "venue_rejected"
		e.record(ctx, rec)
		return OutcomeRejected

	case domain.OrderStatusCancelled:
		partial()
		e.ledger.ClearOrder(venueID)
		rec.Event = domain.EventCancel
		rec.Reason = cancelReason
		e.record(ctx, rec)
		return OutcomeCancelled
	}
	// Still open; a partial execution seen here is journaled once.
	partial()
	return OutcomeOpen
}

// applyExecutions moves the position to reflect rep.LotsExecuted and reports
// whether anything new executed since the last poll.
func (e *Engine) applyExecutions(venueID string, side domain.Side, rep domain.OrderReport) bool {
	s := e.ledger.Get(venueID)
	o := s.Order
	if rep.LotsExecuted <= o.FilledLots {
		return false
	}
	o.FilledLots = rep.LotsExecuted

	var lots int64
	switch side {
	case domain.SideBuy:
		lots = o.BaseLots + rep.LotsExecuted
		info, _ := e.catalog.Get(venueID)
		lot := info.LotSize
		if lot <= 0 {
			lot = 1
		}
		o.Reserved = o.LimitPrice * float64((o.Lots-rep.LotsExecuted)*lot)
		if o.Reserved < 0 {
			o.Reserved = 0
		}
	case domain.SideSell:
		lots = o.BaseLots - rep.LotsExecuted
	default:
		return true
	}
	if side == domain.SideBuy && s.PositionLots > lots {
		// The snapshot already saw more than this order explains.
		lots = s.PositionLots
	}
	e.ledger.SetPosition(venueID, lots, rep.AvgPrice, e.now())
	return true
}

// ExpireStale cancels the working order of an instrument once it has been
// active longer than ttl. expired is true whenever the order was stale,
// even if the cancel failed; the caller should leave the instrument alone
// for the rest of the cycle.
func (e *Engine) ExpireStale(ctx context.Context, venueID string, ttl time.Duration) (expired bool, err error) {
	s := e.ledger.Get(venueID)
	if !s.HasOrder() || ttl <= 0 {
		return false, nil
	}
	if e.now().Sub(s.Order.PlacedAt) <= ttl {
		return false, nil
	}
	return true, e.CancelActive(ctx, venueID, CancelTTL)
}

// ---------------------------------------------------------------------------
// Flatten
// ---------------------------------------------------------------------------

// Flatten cancels every working order and then submits a SELL at the last
// price for every open position whose order slot is free. It keeps going
// past individual failures and returns them joined.
func (e *Engine) Flatten(ctx context.Context) error {
	var errs []error
	for _, id := range e.ledger.VenueIDs() {
		if err := e.CancelActive(ctx, id, CancelFlatten); err != nil {
			errs = append(errs, err)
		}
	}
	for _, id := range e.ledger.VenueIDs() {
		if err := e.CloseIdle(ctx, id, CancelFlatten); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		e.log.Error("flatten incomplete", "error", err)
		return err
	}
	e.log.Info("flatten submitted", "open_positions", e.ledger.OpenPositions())
	return nil
}

// CloseIdle submits a SELL at the last price for an open position with no
// working order. It does nothing for flat instruments or ones with an order.
func (e *Engine) CloseIdle(ctx context.Context, venueID, reason string) error {
	s := e.ledger.Get(venueID)
	if !s.HasPosition() || s.HasOrder() {
		return nil
	}
	if _, ok := e.catalog.Get(venueID); !ok {
		return fmt.Errorf("%s: %w", venueID, ErrUnknownInstrument)
	}
	last, ok, err := e.broker.GetLastPrice(ctx, venueID)
	if err != nil {
		return fmt.Errorf("last price of %s: %w", s.Symbol, err)
	}
	if !ok {
		return fmt.Errorf("%s: %w", s.Symbol, ErrNoPrice)
	}
	e.record(ctx, domain.JournalRecord{
		Event:   domain.EventSignal,
		VenueID: venueID,
		Side:    domain.SideSell,
		Lots:    s.PositionLots,
		Price:   last,
		Reason:  reason,
	})
	return e.SubmitExitToClose(ctx, venueID, last)
}

// ---------------------------------------------------------------------------
// Journal helpers
// ---------------------------------------------------------------------------

// Record journals an event on behalf of the caller, filling in the
// timestamp and symbol.
func (e *Engine) Record(ctx context.Context, rec domain.JournalRecord) {
	e.record(ctx, rec)
}

func (e *Engine) record(ctx context.Context, rec domain.JournalRecord) {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = e.now()
	}
	if rec.Symbol == "" {
		if info, ok := e.catalog.Get(rec.VenueID); ok {
			rec.Symbol = info.Symbol
		} else {
			rec.Symbol = rec.VenueID
		}
	}
	if e.journal == nil {
		return
	}
	if err := e.journal.Record(ctx, rec); err != nil {
		e.log.Error("journal write failed", "event", rec.Event, "symbol", rec.Symbol, "error", err)
	}
}

func (e *Engine) skip(ctx context.Context, rec domain.JournalRecord, reason, detail string) {
	rec.Event = domain.EventSkip
	rec.Reason = reason
	if detail != "" {
		if rec.Metadata == nil {
			rec.Metadata = map[string]string{}
		}
		rec.Metadata["detail"] = detail
	}
	e.record(ctx, rec)
	e.log.Warn("submission skipped", "venue_id", rec.VenueID, "side", rec.Side, "reason", reason, "detail", detail)
}

// allowSkipWarn reports whether a NO_CASH skip for venueID may be recorded
// now, and if so starts a new quiet period.
func (e *Engine) allowSkipWarn(venueID string) bool {
	now := e.now()
	if last, ok := e.lastSkip[venueID]; ok && now.Sub(last) < e.skipWarnInterval {
		return false
	}
	e.lastSkip[venueID] = now
	return true
}
