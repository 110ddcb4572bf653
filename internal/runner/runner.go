// Package runner drives the trading loop: one sequential cycle over the
// instrument universe every few seconds, inside the configured session
// window, with a heartbeat, a consecutive error ceiling, the scheduled
// end-of-day flatten and report, and a best-effort flatten on stop.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/AlexSDem/trade-bot/internal/broker"
	"github.com/AlexSDem/trade-bot/internal/domain"
	"github.com/AlexSDem/trade-bot/internal/engine"
	"github.com/AlexSDem/trade-bot/internal/metrics"
	"github.com/AlexSDem/trade-bot/internal/notify"
	"github.com/AlexSDem/trade-bot/internal/report"
	"github.com/AlexSDem/trade-bot/internal/state"
	"github.com/AlexSDem/trade-bot/internal/store"
	"github.com/AlexSDem/trade-bot/internal/strategy"
	"github.com/AlexSDem/trade-bot/internal/util"
)

// ErrTooManyErrors is returned by Run when the consecutive cycle failure
// ceiling is reached.
var ErrTooManyErrors = errors.New("too many consecutive cycle failures")

// SkipCooldown is the SKIP reason for an entry inside the re-entry cooldown.
const SkipCooldown = "COOLDOWN"

// JournalReader reads one session day of the journal for the daily report.
type JournalReader interface {
	ReadDay(ctx context.Context, day string) ([]domain.JournalRecord, error)
}

// Deps are the collaborators of a Runner. Bars, Journal and Notifier may be
// nil.
type Deps struct {
	Engine   *engine.Engine
	Risk     *engine.RiskGate
	Strategy strategy.Strategy
	Schedule *util.Schedule
	Broker   broker.Broker
	Bars     store.BarStore
	Journal  JournalReader
	Notifier notify.Notifier
}

// Options tunes the loop.
type Options struct {
	Account              string
	Currency             string
	Lots                 int64
	Sleep                time.Duration
	ErrorSleep           time.Duration
	Heartbeat            time.Duration
	OrderTTL             time.Duration
	MaxConsecutiveErrors int
	FlattenTimeout       time.Duration
	ErrorNotifyInterval  time.Duration

	// OnReady is called whenever readiness changes.
	OnReady func(bool)
	// Now defaults to time.Now.
	Now func() time.Time
}

// Runner owns the trading loop. Step and Run must be called from a single
// goroutine; View, Ready and LastCycle are safe from any goroutine.
type Runner struct {
	eng      *engine.Engine
	ledger   *state.Ledger
	risk     *engine.RiskGate
	strat    strategy.Strategy
	sched    *util.Schedule
	broker   broker.Broker
	bars     store.BarStore
	journal  JournalReader
	notifier notify.Notifier
	errAlert notify.Notifier
	opts     Options
	log      *slog.Logger

	cycles        int
	errStreak     int
	lastHeartbeat time.Time
	flattenedDay  string
	reportedDay   string
	archivedUntil map[string]time.Time

	mu        sync.RWMutex
	view      state.View
	ready     bool
	lastCycle time.Time
}

// New creates a Runner.
func New(d Deps, opts Options, log *slog.Logger) *Runner {
	if log == nil {
		log = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Lots <= 0 {
		opts.Lots = 1
	}
	if opts.FlattenTimeout <= 0 {
		opts.FlattenTimeout = time.Minute
	}
	if opts.ErrorNotifyInterval <= 0 {
		opts.ErrorNotifyInterval = 2 * time.Minute
	}
	n := d.Notifier
	if n == nil {
		n = notify.NewLog(log)
	}
	return &Runner{
		eng:           d.Engine,
		ledger:        d.Engine.Ledger(),
		risk:          d.Risk,
		strat:         d.Strategy,
		sched:         d.Schedule,
		broker:        d.Broker,
		bars:          d.Bars,
		journal:       d.Journal,
		notifier:      n,
		errAlert:      notify.NewThrottled(n, opts.ErrorNotifyInterval),
		opts:          opts,
		log:           log.With("component", "runner"),
		archivedUntil: make(map[string]time.Time),
	}
}

// ---------------------------------------------------------------------------
// Read side
// ---------------------------------------------------------------------------

// View returns the ledger as of the end of the last cycle.
func (r *Runner) View() state.View {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.view
}

// Ready reports whether the loop has restored its state and is cycling.
func (r *Runner) Ready() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.ready
}

// LastCycle returns the start time of the last completed cycle.
func (r *Runner) LastCycle() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastCycle
}

func (r *Runner) setReady(ok bool) {
	r.mu.Lock()
	changed := r.ready != ok
	r.ready = ok
	r.mu.Unlock()
	if changed && r.opts.OnReady != nil {
		r.opts.OnReady(ok)
	}
}

// publish copies the ledger for readers and updates the gauges.
func (r *Runner) publish(cycleAt time.Time) {
	v := r.ledger.View()
	metrics.SetLedger(v.OpenPositions, v.ActiveOrders, v.PendingEntries, v.Day.TradesToday, v.Day.Locked)
	r.mu.Lock()
	r.view = v
	if !cycleAt.IsZero() {
		r.lastCycle = cycleAt
	}
	r.mu.Unlock()
}

// ---------------------------------------------------------------------------
// Loop
// ---------------------------------------------------------------------------

// Run restores the day counters and cycles until ctx is cancelled or the
// error ceiling is reached. Either way it finishes with a best-effort
// flatten on a fresh context.
func (r *Runner) Run(ctx context.Context) error {
	now := r.opts.Now()
	day := r.sched.DayKey(now)
	if err := r.ledger.RestoreDay(day); err != nil {
		r.log.Warn("restoring day counters", "day", day, "error", err)
	}
	r.publish(time.Time{})
	r.setReady(true)
	r.log.Info("trading loop started",
		"day", day, "instruments", len(r.ledger.VenueIDs()), "strategy", r.strat.Name())

	for {
		err := r.Step(ctx)
		if ctx.Err() != nil {
			r.shutdown("stop requested")
			return nil
		}
		wait := r.opts.Sleep
		if err != nil {
			r.errStreak++
			metrics.CycleErrors.Inc()
			r.log.Error("cycle failed", "consecutive", r.errStreak, "error", err)
			_ = r.errAlert.Notify(ctx, fmt.Sprintf("Trading cycle error: %v", err))
			if r.errStreak >= r.opts.MaxConsecutiveErrors {
				r.shutdown(fmt.Sprintf("%d consecutive cycle failures", r.errStreak))
				return fmt.Errorf("%w: %d in a row, last: %v", ErrTooManyErrors, r.errStreak, err)
			}
			wait = r.opts.ErrorSleep
		} else {
			r.errStreak = 0
		}
		if !sleep(ctx, wait) {
			r.shutdown("stop requested")
			return nil
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// Step runs one cycle. It fails only when the cycle as a whole could not
// run: the snapshot refresh, the day metric or every instrument failed.
func (r *Runner) Step(ctx context.Context) error {
	start := r.opts.Now()
	began := time.Now()
	metrics.Cycles.Inc()
	r.cycles++
	defer func() { metrics.CycleDuration.Observe(time.Since(began).Seconds()) }()

	day := r.sched.DayKey(start)
	if r.ledger.Rollover(day) {
		r.flattenedDay, r.reportedDay = "", ""
	}
	r.heartbeat(start)

	var err error
	if r.sched.IsTradingTime(start) {
		err = r.tradingCycle(ctx, start)
	} else {
		err = r.afterHours(ctx, start, day)
	}
	if err == nil {
		r.publish(start)
	} else {
		r.publish(time.Time{})
	}
	return err
}

func (r *Runner) heartbeat(now time.Time) {
	if r.opts.Heartbeat <= 0 || now.Sub(r.lastHeartbeat) < r.opts.Heartbeat {
		return
	}
	r.lastHeartbeat = now
	d := r.ledger.Day()
	r.log.Info("heartbeat",
		"cycles", r.cycles,
		"open_positions", r.ledger.OpenPositions(),
		"active_orders", r.ledger.ActiveOrders(),
		"trades_today", d.TradesToday,
		"day_metric", d.LastMetric,
		"locked", d.Locked,
		"trading_time", r.sched.IsTradingTime(now))
}

func (r *Runner) tradingCycle(ctx context.Context, now time.Time) error {
	if err := r.eng.RefreshSnapshot(ctx); err != nil {
		return fmt.Errorf("refreshing snapshot: %w", err)
	}

	entries := r.sched.NewEntriesAllowed(now)
	ids := r.eng.Catalog().VenueIDs()
	var failed []error
	for _, id := range ids {
		if err := r.processInstrument(ctx, id, now, entries); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.log.Warn("instrument step failed", "venue_id", id, "error", err)
			failed = append(failed, err)
		}
	}
	if len(ids) > 0 && len(failed) == len(ids) {
		return fmt.Errorf("every instrument failed: %w", errors.Join(failed...))
	}

	return r.updateDayMetric(ctx, now)
}

// processInstrument runs poll, expire, signal and submit for one
// instrument.
func (r *Runner) processInstrument(ctx context.Context, venueID string, now time.Time, entries bool) error {
	s := r.ledger.Get(venueID)
	if s.HasOrder() {
		if _, perr := r.eng.PollOutcome(ctx, venueID); perr != nil {
			// An order whose status cannot be read still ages out.
			_, err := r.eng.ExpireStale(ctx, venueID, r.opts.OrderTTL)
			return errors.Join(fmt.Errorf("polling order: %w", perr), err)
		}
		expired, err := r.eng.ExpireStale(ctx, venueID, r.opts.OrderTTL)
		if expired {
			return err
		}
	}

	bars, err := r.broker.GetRecentCandles(ctx, venueID, r.strat.Lookback())
	if err != nil {
		return fmt.Errorf("fetching candles: %w", err)
	}
	if len(bars) == 0 {
		r.log.Debug("no candles", "symbol", s.Symbol)
		return nil
	}
	r.archive(ctx, venueID, bars)

	in := strategy.Input{
		Symbol: s.Symbol,
		Bars:   bars,
		Position: strategy.Position{
			Lots:        s.PositionLots,
			OrderActive: s.HasOrder(),
		},
	}
	if s.Entry != nil {
		in.Position.EntryPrice = s.Entry.Price
		in.Position.EntryTime = s.Entry.Time
	}
	sig, err := r.strat.Evaluate(ctx, in)
	if err != nil {
		return fmt.Errorf("evaluating %s: %w", r.strat.Name(), err)
	}

	switch sig.Action {
	case domain.ActionBuy:
		return r.enter(ctx, venueID, sig, now, entries)
	case domain.ActionSell:
		r.recordSignal(ctx, venueID, domain.SideSell, s.PositionLots, sig)
		return ignorePrecondition(r.eng.SubmitExitToClose(ctx, venueID, sig.LimitPrice))
	}
	return nil
}

func (r *Runner) enter(ctx context.Context, venueID string, sig domain.Signal, now time.Time, entries bool) error {
	if !entries {
		r.log.Debug("entry signal outside entry window", "venue_id", venueID, "reason", sig.Reason)
		return nil
	}
	r.recordSignal(ctx, venueID, domain.SideBuy, r.opts.Lots, sig)

	s := r.ledger.Get(venueID)
	if now.Before(s.CooldownUntil) {
		r.eng.Record(ctx, domain.JournalRecord{
			Event:   domain.EventSkip,
			VenueID: venueID,
			Side:    domain.SideBuy,
			Price:   sig.LimitPrice,
			Reason:  SkipCooldown,
			Metadata: map[string]string{
				"until": s.CooldownUntil.UTC().Format(time.RFC3339),
			},
		})
		return nil
	}
	if d := r.risk.AdmitEntry(venueID); !d.Allow {
		r.eng.Record(ctx, domain.JournalRecord{
			Event:    domain.EventSkip,
			VenueID:  venueID,
			Side:     domain.SideBuy,
			Price:    sig.LimitPrice,
			Reason:   d.Reason,
			Metadata: map[string]string{"detail": d.Detail},
		})
		return nil
	}
	return ignorePrecondition(r.eng.SubmitEntry(ctx, venueID, sig.LimitPrice, r.opts.Lots))
}

// ignorePrecondition drops the engine's precondition errors; they are
// already journaled as SKIP and are not failures of the step.
func ignorePrecondition(err error) error {
	switch {
	case errors.Is(err, engine.ErrInsufficientCash),
		errors.Is(err, engine.ErrOrderActive),
		errors.Is(err, engine.ErrPositionOpen),
		errors.Is(err, engine.ErrNoPosition),
		errors.Is(err, engine.ErrInvalidPrice),
		errors.Is(err, engine.ErrInvalidLots),
		errors.Is(err, broker.ErrRejected):
		return nil
	}
	return err
}

func (r *Runner) recordSignal(ctx context.Context, venueID string, side domain.Side, lots int64, sig domain.Signal) {
	r.eng.Record(ctx, domain.JournalRecord{
		Event:   domain.EventSignal,
		VenueID: venueID,
		Side:    side,
		Lots:    lots,
		Price:   sig.LimitPrice,
		Reason:  sig.Reason,
		Metadata: map[string]string{
			"reference_price": fmt.Sprintf("%.4f", sig.ReferencePrice),
			"strategy":        r.strat.Name(),
		},
	})
}

// archive writes bars not archived yet. Failures are logged only.
func (r *Runner) archive(ctx context.Context, venueID string, bars []domain.Bar) {
	if r.bars == nil {
		return
	}
	after := r.archivedUntil[venueID]
	var fresh []domain.Bar
	for _, b := range bars {
		if b.Timestamp.After(after) {
			fresh = append(fresh, b)
		}
	}
	if len(fresh) == 0 {
		return
	}
	if err := r.bars.WriteBars(ctx, fresh); err != nil {
		r.log.Warn("archiving bars", "venue_id", venueID, "error", err)
		return
	}
	metrics.BarsArchived.Add(float64(len(fresh)))
	r.archivedUntil[venueID] = fresh[len(fresh)-1].Timestamp
}

// updateDayMetric feeds today's realized cashflow to the risk gate.
func (r *Runner) updateDayMetric(ctx context.Context, now time.Time) error {
	cf, err := r.broker.DayCashflow(ctx, r.opts.Account, r.opts.Currency, r.sched.DayStart(now), now)
	if err != nil {
		return fmt.Errorf("day cashflow: %w", err)
	}
	if r.risk.UpdateDayMetric(cf) {
		r.alert(ctx, fmt.Sprintf("Day loss limit reached: cashflow %.2f %s. New entries are locked until tomorrow.", cf, r.opts.Currency))
	}
	return nil
}

// ---------------------------------------------------------------------------
// End of day and shutdown
// ---------------------------------------------------------------------------

// afterHours handles cycles outside [start, flatten). Before the session
// nothing happens. From flatten time on, the first cycle of the day
// flattens everything; later cycles keep the exits moving and send the
// daily report once the book is flat.
func (r *Runner) afterHours(ctx context.Context, now time.Time, day string) error {
	if !r.sched.FlattenDue(now) {
		return nil
	}
	if r.flattenedDay == day && r.reportedDay == day {
		return nil
	}
	if err := r.eng.RefreshSnapshot(ctx); err != nil {
		return fmt.Errorf("refreshing snapshot: %w", err)
	}

	if r.flattenedDay != day {
		busy := r.ledger.OpenPositions() > 0 || r.ledger.ActiveOrders() > 0
		if err := r.eng.Flatten(ctx); err != nil {
			return fmt.Errorf("scheduled flatten: %w", err)
		}
		r.flattenedDay = day
		if busy {
			r.alert(ctx, fmt.Sprintf("Scheduled flatten for %s submitted.", day))
		}
	} else {
		for _, id := range r.ledger.VenueIDs() {
			if err := r.chaseExit(ctx, id); err != nil {
				r.log.Warn("closing position after hours", "venue_id", id, "error", err)
			}
		}
	}

	if r.ledger.OpenPositions() == 0 && r.ledger.ActiveOrders() == 0 {
		r.sendReport(ctx, day)
	}
	return nil
}

// chaseExit polls an exit order, replaces it when stale and closes idle
// positions at the last price.
func (r *Runner) chaseExit(ctx context.Context, venueID string) error {
	if r.ledger.Get(venueID).HasOrder() {
		_, perr := r.eng.PollOutcome(ctx, venueID)
		if _, err := r.eng.ExpireStale(ctx, venueID, r.opts.OrderTTL); err != nil || perr != nil {
			return errors.Join(perr, err)
		}
	}
	return r.eng.CloseIdle(ctx, venueID, engine.CancelFlatten)
}

// sendReport builds the day report from the journal and sends it once.
func (r *Runner) sendReport(ctx context.Context, day string) {
	if r.reportedDay == day || r.journal == nil {
		return
	}
	recs, err := r.journal.ReadDay(ctx, day)
	if err != nil {
		r.log.Warn("reading journal for report", "day", day, "error", err)
		return
	}
	sum := report.Build(day, recs)
	r.reportedDay = day
	r.log.Info("daily report", "day", day, "events", sum.Events, "cashflow", sum.Cashflow)
	r.alert(ctx, sum.Text())
}

// shutdown flattens on a fresh context bounded by FlattenTimeout. It
// always returns, whatever the venue does.
func (r *Runner) shutdown(reason string) {
	r.setReady(false)
	ctx, cancel := context.WithTimeout(context.Background(), r.opts.FlattenTimeout)
	defer cancel()

	r.log.Warn("stopping trading loop", "reason", reason)
	if err := r.eng.RefreshSnapshot(ctx); err != nil {
		r.log.Error("refreshing snapshot before flatten", "error", err)
	}
	msg := fmt.Sprintf("Trader stopping (%s). Flatten submitted.", reason)
	if err := r.eng.Flatten(ctx); err != nil {
		msg = fmt.Sprintf("Trader stopping (%s). Flatten incomplete: %v", reason, err)
	}
	r.publish(time.Time{})
	r.alert(ctx, msg)
}

// alert notifies the operator. Delivery failures are logged by the
// notifier and never affect trading.
func (r *Runner) alert(ctx context.Context, msg string) {
	if err := r.notifier.Notify(ctx, msg); err != nil {
		r.log.Warn("notification failed", "error", err)
	}
}
