package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Runner89/mexc-trading-bot/internal/domain"
	"github.com/Runner89/mexc-trading-bot/internal/metrics"
)

// Deps are the collaborators of an Engine. Notifier, Locks and Dedup are
// optional.
type Deps struct {
	Exchanges domain.ExchangeFactory
	Ledger    domain.Ledger
	Notifier  domain.Notifier
	Locks     domain.LockManager
	Dedup     domain.Deduper
}

// ResultObserver receives every event result once handling finished.
type ResultObserver func(ctx context.Context, res domain.EventResult)

// BotSnapshot is the in-memory view of one identity.
type BotSnapshot struct {
	State    domain.PositionState `json:"state"`
	Exit     domain.ExitState     `json:"exitState"`
	ExitPair domain.ExitPair      `json:"exitPair"`
}

type botState struct {
	domain.PositionState
	hydrated bool
}

// Engine runs the position lifecycle for every bot identity. Events for the
// same identity are serialized; different identities proceed in parallel.
type Engine struct {
	exchanges domain.ExchangeFactory
	ledger    domain.Ledger
	dlock     domain.LockManager
	dedup     domain.Deduper

	sizer  *Sizer
	avg    *AverageComputer
	exits  *ExitManager
	alerts *AlertPolicy
	keys   *KeyedMutex

	cfg    Config
	call   caller
	logger *slog.Logger
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration)

	mu        sync.Mutex
	states    map[string]*botState
	observers []ResultObserver
}

// New creates an Engine.
func New(deps Deps, cfg Config, logger *slog.Logger) *Engine {
	return &Engine{
		exchanges: deps.Exchanges,
		ledger:    deps.Ledger,
		dlock:     deps.Locks,
		dedup:     deps.Dedup,
		sizer:     NewSizer(deps.Ledger, cfg, logger),
		avg:       NewAverageComputer(deps.Ledger, cfg, logger),
		exits:     NewExitManager(cfg, logger),
		alerts:    NewAlertPolicy(deps.Notifier, cfg, logger),
		keys:      NewKeyedMutex(),
		cfg:       cfg,
		call:      newCaller(cfg),
		logger:    logger.With(slog.String("component", "engine")),
		now:       time.Now,
		sleep:     sleepCtx,
		states:    make(map[string]*botState),
	}
}

// SetClock replaces the wall clock used for base-order times and decay.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// Observe registers fn to receive every event result.
func (e *Engine) Observe(fn ResultObserver) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.observers = append(e.observers, fn)
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// Handle processes one webhook event end to end. The returned result is
// complete even when err is non-nil.
func (e *Engine) Handle(ctx context.Context, ev domain.Event) (domain.EventResult, error) {
	start := time.Now()
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	action := ev.Action
	if action == "" {
		action = domain.ActionBase
	}
	res := domain.EventResult{
		EventID:  ev.ID,
		Identity: ev.Identity,
		Side:     ev.Side,
		Action:   action,
	}
	tr := newTrail(e.logger.With(
		slog.String("event_id", ev.ID),
		slog.String("identity", ev.Identity.Key()),
		slog.String("action", string(action)),
	))

	err := e.handle(ctx, ev, action, &res, tr)
	res.Logs = tr.snapshot()
	outcome := "ok"
	switch {
	case errors.Is(err, domain.ErrDuplicate):
		outcome = "duplicate"
	case err != nil:
		outcome = "error"
	case res.NoOrderOpened:
		outcome = "noop"
	}
	if err != nil {
		res.Error = true
		res.Message = err.Error()
	}
	metrics.Events.WithLabelValues(string(action), outcome).Inc()
	metrics.EventDuration.WithLabelValues(string(action)).Observe(time.Since(start).Seconds())

	e.mu.Lock()
	observers := append([]ResultObserver(nil), e.observers...)
	e.mu.Unlock()
	for _, fn := range observers {
		fn(ctx, res)
	}
	return res, err
}

func (e *Engine) handle(ctx context.Context, ev domain.Event, action domain.Action, res *domain.EventResult, tr *trail) error {
	id := ev.Identity
	if e.dedup != nil && ev.IdempotencyKey != "" {
		seen, err := e.dedup.Seen(ctx, id.Key()+":"+ev.IdempotencyKey, e.cfg.IdempotencyTTL)
		switch {
		case err != nil:
			tr.warn(ctx, "idempotency check failed, handling event anyway: %v", err)
		case seen:
			tr.info(ctx, "idempotency key %q already handled", ev.IdempotencyKey)
			return fmt.Errorf("engine: key %q: %w", ev.IdempotencyKey, domain.ErrDuplicate)
		}
	}

	unlock, err := e.keys.Lock(ctx, id.Key())
	if err != nil {
		return fmt.Errorf("engine: wait for %s: %w", id, err)
	}
	defer unlock()
	if e.dlock != nil {
		release, err := e.call.acquireWait(ctx, e.dlock, id.Key(), e.cfg.LockTTL, e.cfg.LockWait)
		if err != nil {
			return fmt.Errorf("engine: lock %s: %w", id, err)
		}
		defer release()
	}

	ex, err := e.exchanges.ForCredentials(ev.Credentials)
	if err != nil {
		return fmt.Errorf("engine: exchange client: %w", err)
	}

	st := e.state(id, ev.Side)
	snap, err := e.sync(ctx, ex, ev, st, tr)
	if err != nil {
		return err
	}
	res.PositionSize = snap.Size
	res.LiquidationPrice = snap.LiquidationPrice

	if action == domain.ActionClose {
		return e.handleClose(ctx, ex, ev, st, snap, res, tr)
	}
	return e.handleEntry(ctx, ex, ev, action, st, snap, res, tr)
}

func (e *Engine) state(id domain.BotIdentity, side domain.Side) *botState {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.states[id.Key()]
	if !ok {
		st = &botState{PositionState: domain.PositionState{
			Identity: id,
			Side:     side,
			Phase:    domain.PhaseFlat,
			Status:   domain.StatusOK,
		}}
		e.states[id.Key()] = st
	}
	if !st.Open() {
		st.Side = side
	}
	return st
}

// sync reconciles the in-memory state with the exchange position: a flat
// exchange ends the epoch, an unknown open position is adopted.
func (e *Engine) sync(ctx context.Context, ex domain.Exchange, ev domain.Event, st *botState, tr *trail) (domain.PositionSnapshot, error) {
	id := ev.Identity
	if !st.hydrated {
		stop, err := readWithRetry(ctx, e.call, func(ctx context.Context) (bool, error) {
			return e.ledger.ReadStopFlag(ctx, id)
		})
		switch {
		case err == nil:
			st.StopRequested = stop
			st.hydrated = true
		case errors.Is(err, domain.ErrNotFound):
			st.hydrated = true
		default:
			tr.warn(ctx, "stop flag unavailable: %v", err)
		}
	}

	snap, err := readWithRetry(ctx, e.call, func(ctx context.Context) (domain.PositionSnapshot, error) {
		return ex.GetPosition(ctx, id.Symbol, ev.Side)
	})
	if err != nil {
		tr.fail(ctx, err, "position query failed")
		return snap, fmt.Errorf("engine: position: %w", err)
	}
	tr.info(ctx, "exchange position: size=%.8f avg=%.8f liq=%.8f", snap.Size, snap.AvgPrice, snap.LiquidationPrice)

	// Exit orders are matched per identity, not per side. An event for the
	// other side would cancel the protection of the open position.
	other, err := readWithRetry(ctx, e.call, func(ctx context.Context) (domain.PositionSnapshot, error) {
		return ex.GetPosition(ctx, id.Symbol, ev.Side.Opposite())
	})
	if err != nil {
		tr.fail(ctx, err, "position query failed")
		return snap, fmt.Errorf("engine: position: %w", err)
	}
	if other.Size > 0 {
		err := fmt.Errorf("engine: %s holds an open %s position, event side is %s: %w",
			id, ev.Side.Opposite(), ev.Side, domain.ErrInvalidInput)
		tr.fail(ctx, err, "side mismatch, event ignored")
		return snap, err
	}

	switch {
	case snap.Size <= 0 && st.Open():
		tr.info(ctx, "position is flat on the exchange, closing epoch")
		if err := e.exits.CancelAll(ctx, ex, id, tr); err != nil {
			tr.warn(ctx, "cancel leftover exit orders: %v", err)
		}
		e.clearEpoch(ctx, id, st, tr)
	case snap.Size > 0 && !st.Open():
		e.adopt(ctx, id, st, tr)
	}
	if st.Open() {
		st.Quantity = snap.Size
		st.LiquidationPrice = snap.LiquidationPrice
	}
	return snap, nil
}

// adopt takes over an open position this process has no memory of, for
// example after a restart. Counters are rebuilt from the ledger.
func (e *Engine) adopt(ctx context.Context, id domain.BotIdentity, st *botState, tr *trail) {
	st.Phase = domain.PhaseAccumulating
	st.Status = domain.StatusOK
	t, err := readWithRetry(ctx, e.call, func(ctx context.Context) (time.Time, error) {
		return e.ledger.ReadBaseOrderTime(ctx, id)
	})
	if err == nil {
		st.BaseOrderTime = t
	}
	fills, err := readWithRetry(ctx, e.call, func(ctx context.Context) ([]domain.Fill, error) {
		return e.ledger.ReadFills(ctx, id)
	})
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		st.Status = domain.StatusDegraded
		tr.warn(ctx, "adopted open position without ledger: %v", err)
		return
	}
	st.SafetyOrderCount = max(len(fills)-1, 0)
	tr.info(ctx, "adopted open position with %d ledger fills", len(fills))
}

// openEpoch starts a new epoch after the base order filled.
func (e *Engine) openEpoch(ctx context.Context, id domain.BotIdentity, st *botState, side domain.Side, now time.Time, tr *trail) {
	st.Reset()
	st.Side = side
	st.Phase = domain.PhaseAccumulating
	st.BaseOrderTime = now
	st.StopRequested = false

	err := e.call.once(ctx, func(ctx context.Context) error {
		return e.ledger.ClearFills(ctx, id)
	})
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		st.LedgerTainted = true
		st.Status = domain.StatusDegraded
		tr.warn(ctx, "ledger reset failed, averages come from the exchange this epoch: %v", err)
	}
	err = e.call.once(ctx, func(ctx context.Context) error {
		return e.ledger.WriteBaseOrderTime(ctx, id, now)
	})
	if err != nil {
		tr.warn(ctx, "write base order time: %v", err)
	}
	tr.info(ctx, "new epoch started at %s", now.UTC().Format(time.RFC3339))
}

// clearEpoch drops every per-identity record and returns the state to FLAT.
// The stop flag survives.
func (e *Engine) clearEpoch(ctx context.Context, id domain.BotIdentity, st *botState, tr *trail) {
	err := e.call.once(ctx, func(ctx context.Context) error {
		return e.ledger.ClearFills(ctx, id)
	})
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		tr.warn(ctx, "clear ledger: %v", err)
	}
	if err := e.sizer.Forget(ctx, id); err != nil {
		tr.warn(ctx, "%v", err)
	}
	err = e.call.once(ctx, func(ctx context.Context) error {
		return e.ledger.ClearBaseOrderTime(ctx, id)
	})
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		tr.warn(ctx, "clear base order time: %v", err)
	}
	e.exits.Reset(id)
	st.Reset()
}

func (e *Engine) handleClose(ctx context.Context, ex domain.Exchange, ev domain.Event, st *botState, snap domain.PositionSnapshot, res *domain.EventResult, tr *trail) error {
	id := ev.Identity
	if err := e.exits.CancelAll(ctx, ex, id, tr); err != nil {
		tr.warn(ctx, "cancel exit orders: %v", err)
	}

	if snap.Size > 0 {
		ack, err := e.placeMarket(ctx, ex, domain.OrderIntent{
			Symbol:   id.Symbol,
			Kind:     domain.OrderKindMarket,
			Side:     ev.Side,
			Close:    true,
			Quantity: snap.Size,
		})
		if ack.OrderID != "" {
			res.CloseOrder = &ack
		}
		if err != nil {
			tr.fail(ctx, err, "close order failed")
			e.alert(ctx, id, res, "close_failed", fmt.Sprintf("%s %s: close order failed: %v", id.BotName, id.Symbol, err))
			return fmt.Errorf("engine: close: %w", err)
		}
		tr.info(ctx, "closed %.8f with market order %s", snap.Size, ack.OrderID)
	} else {
		tr.info(ctx, "no open position to close")
	}

	e.clearEpoch(ctx, id, st, tr)
	res.PositionSize = 0

	if ev.Stop {
		st.StopRequested = true
		err := e.call.once(ctx, func(ctx context.Context) error {
			return e.ledger.WriteStopFlag(ctx, id)
		})
		if err != nil {
			tr.warn(ctx, "persist stop flag: %v", err)
		}
		tr.info(ctx, "stop requested, no new base orders until resumed")
	}
	return nil
}

func (e *Engine) handleEntry(ctx context.Context, ex domain.Exchange, ev domain.Event, action domain.Action, st *botState, snap domain.PositionSnapshot, res *domain.EventResult, tr *trail) error {
	id := ev.Identity
	open := snap.Size > 0

	if (action == domain.ActionBase || !open) && !st.hydrated {
		err := fmt.Errorf("engine: stop flag of %s unknown: %w", id, domain.ErrInsufficientData)
		tr.fail(ctx, err, "stop flag could not be read, no order opened")
		res.NoOrderOpened = true
		return err
	}

	if action == domain.ActionBase && open {
		tr.info(ctx, "base signal while a position is open, closing the previous epoch first")
		if err := e.exits.CancelAll(ctx, ex, id, tr); err != nil {
			return fmt.Errorf("engine: cancel exits before base order: %w", err)
		}
		ack, err := e.placeMarket(ctx, ex, domain.OrderIntent{
			Symbol:   id.Symbol,
			Kind:     domain.OrderKindMarket,
			Side:     ev.Side,
			Close:    true,
			Quantity: snap.Size,
		})
		if err != nil {
			tr.fail(ctx, err, "closing previous epoch failed")
			e.protect(ctx, ex, ev, st, snap, res, tr, false)
			return fmt.Errorf("engine: close previous epoch: %w", err)
		}
		res.CloseOrder = &ack
		tr.info(ctx, "closed previous epoch with market order %s", ack.OrderID)
		e.clearEpoch(ctx, id, st, tr)
		e.sleep(ctx, e.cfg.SettleDelay)
		open = false
		snap = domain.PositionSnapshot{}
	}

	if !open {
		if st.StopRequested {
			tr.info(ctx, "stop flag set, no order opened")
			res.NoOrderOpened = true
			return nil
		}
		if action == domain.ActionIncrease {
			tr.info(ctx, "increase signal without open position, placing base order")
		}
	}
	base := !open
	kind := "safety"
	if base {
		kind = "base"
	}

	err := e.call.once(ctx, func(ctx context.Context) error {
		return ex.SetLeverage(ctx, id.Symbol, ev.Side, ev.Leverage)
	})
	if err != nil {
		tr.fail(ctx, err, "set leverage failed")
		return fmt.Errorf("engine: set leverage: %w", err)
	}
	tr.info(ctx, "leverage set to %dx", ev.Leverage)

	if open {
		if err := e.exits.CancelAll(ctx, ex, id, tr); err != nil {
			return fmt.Errorf("engine: cancel old exit orders: %w", err)
		}
	}
	// An open position lost its exit pair above; restore it when the entry
	// does not go through.
	abort := func(err error) error {
		if open {
			tr.info(ctx, "restoring exit orders for the unchanged position")
			e.protect(ctx, ex, ev, st, snap, res, tr, false)
		}
		return err
	}

	sizing := st.PositionState
	if base {
		sizing.Phase = domain.PhaseFlat
	}
	dec, err := e.sizer.ComputeOrderSize(ctx, id, sizing, SizingInput{
		Leverage:        ev.Leverage,
		SafetyBuffer:    ev.SafetyBuffer,
		BaseOrderFactor: ev.BaseOrderFactor,
		GrowthFactor:    ev.GrowthFactor,
		Margin: func(ctx context.Context) (float64, error) {
			return readWithRetry(ctx, e.call, ex.GetBalance)
		},
	})
	if err != nil {
		tr.fail(ctx, err, "order sizing failed")
		return abort(fmt.Errorf("engine: size: %w", err))
	}
	res.AvailableMargin = dec.AvailableMargin
	res.Notional = dec.Notional
	if dec.Base {
		tr.info(ctx, "%s order notional %.8f from margin %.8f", kind, dec.Notional, dec.AvailableMargin)
	} else {
		tr.info(ctx, "safety order notional %.8f = %.8f x %.4f (%s)", dec.Notional, dec.LastNotional, ev.GrowthFactor, dec.Source)
	}
	if !finitePositive(dec.Notional) {
		err := fmt.Errorf("engine: notional %.8f: %w", dec.Notional, domain.ErrInsufficientData)
		tr.fail(ctx, err, "nothing to order")
		return abort(err)
	}

	price, err := readWithRetry(ctx, e.call, func(ctx context.Context) (float64, error) {
		return ex.GetPrice(ctx, id.Symbol)
	})
	if err == nil && !finitePositive(price) {
		err = fmt.Errorf("price %v: %w", price, domain.ErrInsufficientData)
	}
	if err != nil {
		tr.fail(ctx, err, "price query failed")
		return abort(fmt.Errorf("engine: price: %w", err))
	}
	qty := dec.Notional / price
	res.Price = price
	res.Quantity = qty
	tr.info(ctx, "price %.8f, quantity %.8f", price, qty)

	ack, err := e.placeMarket(ctx, ex, domain.OrderIntent{
		Symbol:   id.Symbol,
		Kind:     domain.OrderKindMarket,
		Side:     ev.Side,
		Quantity: qty,
	})
	if ack.OrderID != "" || ack.Status != "" {
		res.EntryOrder = &ack
	}
	if err != nil {
		metrics.EntryOrders.WithLabelValues(kind, "failed").Inc()
		tr.fail(ctx, err, "%s order not filled", kind)
		e.alert(ctx, id, res, "entry_rejected", fmt.Sprintf("%s %s: %s order not filled: %v", id.BotName, id.Symbol, kind, err))
		return abort(fmt.Errorf("engine: entry order: %w", err))
	}
	metrics.EntryOrders.WithLabelValues(kind, "filled").Inc()
	tr.info(ctx, "%s order %s %s", kind, ack.OrderID, ack.Status)

	e.sleep(ctx, e.cfg.SettleDelay)

	fillPrice, fillQty := ack.AvgPrice, ack.ExecutedQty
	if !finitePositive(fillPrice) {
		fillPrice = price
	}
	if !finitePositive(fillQty) {
		fillQty = qty
	}
	if base {
		e.openEpoch(ctx, id, st, ev.Side, e.now(), tr)
	} else {
		st.SafetyOrderCount++
	}
	err = e.call.once(ctx, func(ctx context.Context) error {
		return e.ledger.AppendFill(ctx, id, fillPrice, fillQty)
	})
	if err != nil {
		st.LedgerTainted = true
		tr.warn(ctx, "ledger append failed, averages come from the exchange this epoch: %v", err)
	} else {
		tr.info(ctx, "ledger fill recorded: %.8f @ %.8f", fillQty, fillPrice)
	}
	if err := e.sizer.Commit(ctx, id, dec.Notional); err != nil {
		tr.warn(ctx, "%v", err)
	}

	after, err := readWithRetry(ctx, e.call, func(ctx context.Context) (domain.PositionSnapshot, error) {
		return ex.GetPosition(ctx, id.Symbol, ev.Side)
	})
	if err != nil {
		cause := fmt.Errorf("engine: position after fill: %w", err)
		out, escErr := e.exits.ForceClose(ctx, ex, id, ev.Side, snap.Size+fillQty, cause, tr)
		e.afterExit(ctx, ev, st, out, res, tr)
		return escErr
	}
	st.Quantity = after.Size
	st.LiquidationPrice = after.LiquidationPrice
	res.PositionSize = after.Size
	res.LiquidationPrice = after.LiquidationPrice
	tr.info(ctx, "position after fill: size=%.8f avg=%.8f liq=%.8f", after.Size, after.AvgPrice, after.LiquidationPrice)

	return e.protect(ctx, ex, ev, st, after, res, tr, true)
}

// protect computes the average and places the exit pair for snap. When
// evaluate is set the alert threshold is checked afterwards.
func (e *Engine) protect(ctx context.Context, ex domain.Exchange, ev domain.Event, st *botState, snap domain.PositionSnapshot, res *domain.EventResult, tr *trail, evaluate bool) error {
	id := ev.Identity
	force := st.LedgerTainted || st.Status == domain.StatusDegraded
	avg, err := e.avg.ComputeAverage(ctx, id, ev.Side, snap, force)
	if err != nil {
		out, escErr := e.exits.ForceClose(ctx, ex, id, ev.Side, snap.Size, fmt.Errorf("engine: average: %w", err), tr)
		e.afterExit(ctx, ev, st, out, res, tr)
		return escErr
	}
	if avg.Degraded {
		if st.Status != domain.StatusDegraded {
			tr.warn(ctx, "ledger unusable (%s), identity DEGRADED until the next epoch", avg.Reason)
		}
		st.Status = domain.StatusDegraded
		metrics.DegradedAverages.Inc()
	}
	st.AvgEntryPrice = avg.AvgPrice
	res.AvgPrice = avg.AvgPrice
	res.AvgSource = avg.Source
	res.EntryCount = avg.EntryCount
	res.Degraded = avg.Degraded
	tr.info(ctx, "average entry %.8f from %s (%d fills)", avg.AvgPrice, avg.Source, avg.EntryCount)

	out, err := e.exits.Refresh(ctx, ex, id, ExitParams{
		Side:                  ev.Side,
		AvgPrice:              avg.AvgPrice,
		LiquidationPrice:      snap.LiquidationPrice,
		Quantity:              snap.Size,
		TakeProfitPercent:     ev.TakeProfitPercent,
		StopLossBufferPercent: ev.StopLossBufferPercent,
		Decay:                 ev.Decay,
		BaseOrderTime:         st.BaseOrderTime,
		SafetyOrderCount:      st.SafetyOrderCount,
		Now:                   e.now(),
	}, tr)
	e.afterExit(ctx, ev, st, out, res, tr)
	if err != nil {
		return fmt.Errorf("engine: exit orders: %w", err)
	}

	res.SafetyOrderCount = SafetyOrderCount(avg.Degraded, st.SafetyOrderCount, avg.EntryCount)
	if evaluate && e.alerts.Evaluate(ctx, id, res.SafetyOrderCount, ev.AlertAfterSafetyOrders) {
		res.AlertSent = true
		metrics.Alerts.WithLabelValues("threshold").Inc()
		tr.info(ctx, "safety order alert sent (%d)", res.SafetyOrderCount)
	}
	return nil
}

func (e *Engine) afterExit(ctx context.Context, ev domain.Event, st *botState, out ExitOutcome, res *domain.EventResult, tr *trail) {
	id := ev.Identity
	res.ExitState = out.State
	res.TakeProfitPct = out.TakeProfitPercent
	res.TakeProfitPrice = out.Pair.TakeProfitPrice
	res.StopLossPrice = out.Pair.StopLossPrice
	metrics.ExitOutcomes.WithLabelValues(string(out.State)).Inc()

	switch out.State {
	case domain.ExitEscalatedClose:
		res.CloseOrder = out.CloseOrder
		res.PositionSize = 0
		e.alert(ctx, id, res, "escalated_close", fmt.Sprintf("%s %s: exit orders could not be placed, position force-closed", id.BotName, id.Symbol))
		e.clearEpoch(ctx, id, st, tr)
	case domain.ExitFailed:
		e.alert(ctx, id, res, "unprotected", fmt.Sprintf("%s %s: exit orders failed and force-close failed, position UNPROTECTED", id.BotName, id.Symbol))
	}
}

func (e *Engine) alert(ctx context.Context, id domain.BotIdentity, res *domain.EventResult, reason, msg string) {
	metrics.Alerts.WithLabelValues(reason).Inc()
	if e.alerts.Notify(ctx, id, msg) {
		res.AlertSent = true
	}
}

func (e *Engine) placeMarket(ctx context.Context, ex domain.Exchange, intent domain.OrderIntent) (domain.OrderAck, error) {
	var ack domain.OrderAck
	err := e.call.once(ctx, func(ctx context.Context) error {
		var placeErr error
		ack, placeErr = ex.PlaceMarketOrder(ctx, intent)
		return placeErr
	})
	if err != nil {
		return ack, fmt.Errorf("market order: %w", err)
	}
	if !ack.Filled() {
		return ack, fmt.Errorf("market order %s status %q: %w", ack.OrderID, ack.Status, domain.ErrRejected)
	}
	return ack, nil
}

// Snapshot returns the in-memory state of id.
func (e *Engine) Snapshot(ctx context.Context, id domain.BotIdentity) (BotSnapshot, error) {
	unlock, err := e.keys.Lock(ctx, id.Key())
	if err != nil {
		return BotSnapshot{}, err
	}
	defer unlock()

	e.mu.Lock()
	st, ok := e.states[id.Key()]
	e.mu.Unlock()
	if !ok {
		return BotSnapshot{}, fmt.Errorf("engine: %s: %w", id, domain.ErrNotFound)
	}
	exit, pair := e.exits.State(id)
	return BotSnapshot{State: st.PositionState, Exit: exit, ExitPair: pair}, nil
}

// Resume clears the stop flag of id so base orders are accepted again.
func (e *Engine) Resume(ctx context.Context, id domain.BotIdentity) error {
	unlock, err := e.keys.Lock(ctx, id.Key())
	if err != nil {
		return err
	}
	defer unlock()

	err = e.call.once(ctx, func(ctx context.Context) error {
		return e.ledger.ClearStopFlag(ctx, id)
	})
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("engine: clear stop flag: %w", err)
	}
	e.mu.Lock()
	if st, ok := e.states[id.Key()]; ok {
		st.StopRequested = false
		st.hydrated = true
	}
	e.mu.Unlock()
	e.logger.InfoContext(ctx, "stop flag cleared", slog.String("identity", id.Key()))
	return nil
}
