package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/Runner89/mexc-trading-bot/internal/cache/memory"
	"github.com/Runner89/mexc-trading-bot/internal/domain"
)

func newTestEngine(ex *fakeExchange, ledger domain.Ledger, n domain.Notifier, cfg Config) *Engine {
	return New(Deps{Exchanges: ex.factory(), Ledger: ledger, Notifier: n}, cfg, testLogger())
}

func mustHandle(t *testing.T, e *Engine, ev domain.Event) domain.EventResult {
	t.Helper()
	res, err := e.Handle(context.Background(), ev)
	if err != nil {
		t.Fatalf("Handle(%s): %v\nlogs: %v", ev.Action, err, res.Logs)
	}
	return res
}

func near(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestLifecycleReferenceScenario(t *testing.T) {
	ex := newFakeExchange()
	ledger := memory.NewLedger()
	e := newTestEngine(ex, ledger, nil, testConfig())

	res := mustHandle(t, e, testEvent(domain.ActionBase))
	if !near(res.Notional, 1.808) || !near(res.Quantity, 36.16) {
		t.Fatalf("base notional=%v qty=%v, want 1.808 and 36.16", res.Notional, res.Quantity)
	}
	if !near(res.AvgPrice, 0.05) || res.AvgSource != AvgFromLedger || res.Degraded {
		t.Fatalf("base average = %v from %s degraded=%v", res.AvgPrice, res.AvgSource, res.Degraded)
	}
	if res.ExitState != domain.ExitConfirmed || !near(res.TakeProfitPrice, 0.051) || !near(res.StopLossPrice, 0.02525) {
		t.Fatalf("base exits = %s tp=%v sl=%v", res.ExitState, res.TakeProfitPrice, res.StopLossPrice)
	}
	if res.SafetyOrderCount != 0 || len(res.Logs) == 0 {
		t.Fatalf("count=%d logs=%d", res.SafetyOrderCount, len(res.Logs))
	}

	ex.setPrice(0.048)
	mark := ex.callCount()
	res = mustHandle(t, e, testEvent(domain.ActionIncrease))
	if !near(res.Notional, 2.5312) {
		t.Fatalf("safety notional = %v, want 2.5312", res.Notional)
	}
	fills, _ := ledger.ReadFills(context.Background(), testID)
	if len(fills) != 2 {
		t.Fatalf("ledger fills = %d, want 2", len(fills))
	}
	want, _ := WeightedAverage(fills)
	if !near(res.AvgPrice, want) || res.EntryCount != 2 || res.SafetyOrderCount != 1 {
		t.Fatalf("safety result avg=%v (want %v) entries=%d count=%d", res.AvgPrice, want, res.EntryCount, res.SafetyOrderCount)
	}
	if ex.countCalls("balance") != 1 {
		t.Fatalf("balance queried %d times, want only for the base order", ex.countCalls("balance"))
	}
	if tp, sl := ex.liveExits(testID); tp != 1 || sl != 1 {
		t.Fatalf("live exits tp=%d sl=%d", tp, sl)
	}

	// leverage, cancel of the old pair, entry, position read, new pair.
	calls := ex.callsSince(mark)
	order := []string{"leverage", "cancel", "market", "position", "limit", "stop"}
	last := -1
	for _, name := range order {
		idx := slices.Index(calls[last+1:], name)
		if idx < 0 {
			t.Fatalf("call %q missing or out of order in %v", name, calls)
		}
		last += idx + 1
	}
}

func TestLifecycleEscalationFlattensOnce(t *testing.T) {
	ex := newFakeExchange()
	ex.rejectStop = true
	ledger := memory.NewLedger()
	n := &recordingNotifier{}
	e := newTestEngine(ex, ledger, n, testConfig())

	res, err := e.Handle(context.Background(), testEvent(domain.ActionBase))
	if !errors.Is(err, domain.ErrRejected) {
		t.Fatalf("err = %v, want ErrRejected", err)
	}
	if !res.Error || res.ExitState != domain.ExitEscalatedClose {
		t.Fatalf("result error=%v exit=%s", res.Error, res.ExitState)
	}
	closes := ex.closeMarkets()
	if len(closes) != 1 || !near(closes[0].Quantity, 36.16) {
		t.Fatalf("close orders = %+v, want one for 36.16", closes)
	}
	if len(ex.stops) != 1 || len(ex.limits) != 1 {
		t.Fatalf("exit attempts limit=%d stop=%d, want 1 each", len(ex.limits), len(ex.stops))
	}
	if tp, sl := ex.liveExits(testID); tp+sl != 0 {
		t.Fatalf("exit orders left: tp=%d sl=%d", tp, sl)
	}
	if n.count() == 0 || !res.AlertSent {
		t.Fatal("escalation did not notify")
	}
	snap, err := e.Snapshot(context.Background(), testID)
	if err != nil {
		t.Fatal(err)
	}
	if snap.State.Phase != domain.PhaseFlat {
		t.Fatalf("phase = %s, want FLAT", snap.State.Phase)
	}
	if fills, _ := ledger.ReadFills(context.Background(), testID); len(fills) != 0 {
		t.Fatalf("ledger not cleared: %v", fills)
	}
}

func TestLifecycleEpochReset(t *testing.T) {
	ctx := context.Background()
	ex := newFakeExchange()
	ledger := memory.NewLedger()
	e := newTestEngine(ex, ledger, nil, testConfig())

	mustHandle(t, e, testEvent(domain.ActionBase))
	ex.setPrice(0.048)
	mustHandle(t, e, testEvent(domain.ActionIncrease))

	ex.flatten(domain.SideLong)
	ex.setPrice(0.06)
	res := mustHandle(t, e, testEvent(domain.ActionIncrease))

	fills, _ := ledger.ReadFills(ctx, testID)
	if len(fills) != 1 || fills[0].Price != 0.06 {
		t.Fatalf("ledger after reset = %+v, want one fill at 0.06", fills)
	}
	if !near(res.AvgPrice, 0.06) || res.SafetyOrderCount != 0 || !near(res.Notional, 1.808) {
		t.Fatalf("new epoch avg=%v count=%d notional=%v", res.AvgPrice, res.SafetyOrderCount, res.Notional)
	}
	if tp, sl := ex.liveExits(testID); tp != 1 || sl != 1 {
		t.Fatalf("live exits tp=%d sl=%d", tp, sl)
	}
}

func TestLifecycleCloseClearsState(t *testing.T) {
	ctx := context.Background()
	ex := newFakeExchange()
	ledger := memory.NewLedger()
	e := newTestEngine(ex, ledger, nil, testConfig())

	mustHandle(t, e, testEvent(domain.ActionBase))
	res := mustHandle(t, e, testEvent(domain.ActionClose))
	if res.CloseOrder == nil || res.PositionSize != 0 {
		t.Fatalf("close result = %+v", res)
	}
	if tp, sl := ex.liveExits(testID); tp+sl != 0 {
		t.Fatalf("exit orders left after close")
	}
	if _, err := ledger.ReadCachedSize(ctx, testID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("size record survived close: %v", err)
	}
	if _, err := ledger.ReadBaseOrderTime(ctx, testID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("base order time survived close: %v", err)
	}
	if fills, _ := ledger.ReadFills(ctx, testID); len(fills) != 0 {
		t.Fatalf("fills survived close")
	}
}

func TestLifecycleStopFlag(t *testing.T) {
	ctx := context.Background()
	ex := newFakeExchange()
	ledger := memory.NewLedger()
	e := newTestEngine(ex, ledger, nil, testConfig())

	mustHandle(t, e, testEvent(domain.ActionBase))
	closeEv := testEvent(domain.ActionClose)
	closeEv.Stop = true
	mustHandle(t, e, closeEv)
	if stop, _ := ledger.ReadStopFlag(ctx, testID); !stop {
		t.Fatal("stop flag not persisted")
	}

	markets := len(ex.markets)
	for _, a := range []domain.Action{domain.ActionIncrease, domain.ActionBase} {
		res := mustHandle(t, e, testEvent(a))
		if !res.NoOrderOpened {
			t.Fatalf("%s opened an order while stopped", a)
		}
	}
	if len(ex.markets) != markets {
		t.Fatal("market order placed while stopped")
	}

	if err := e.Resume(ctx, testID); err != nil {
		t.Fatal(err)
	}
	res := mustHandle(t, e, testEvent(domain.ActionBase))
	if res.NoOrderOpened || res.EntryOrder == nil {
		t.Fatal("base order not opened after resume")
	}
}

func TestLifecycleStopFlagSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	ledger := memory.NewLedger()
	_ = ledger.WriteStopFlag(ctx, testID)

	e := newTestEngine(newFakeExchange(), ledger, nil, testConfig())
	res := mustHandle(t, e, testEvent(domain.ActionIncrease))
	if !res.NoOrderOpened {
		t.Fatal("stop flag from ledger ignored")
	}
}

func TestLifecycleUnreadableStopFlagOpensNothing(t *testing.T) {
	ctx := context.Background()
	ex := newFakeExchange()
	ledger := newFlakyLedger()
	_ = ledger.WriteStopFlag(ctx, testID)
	ledger.set(func(l *flakyLedger) { l.failStop = true })
	e := newTestEngine(ex, ledger, nil, testConfig())

	for _, action := range []domain.Action{domain.ActionBase, domain.ActionIncrease} {
		res, err := e.Handle(ctx, testEvent(action))
		if !errors.Is(err, domain.ErrInsufficientData) || !res.NoOrderOpened {
			t.Fatalf("%s: err = %v noOrderOpened=%v", action, err, res.NoOrderOpened)
		}
	}
	if len(ex.markets) != 0 || ex.size[domain.SideLong] != 0 {
		t.Fatalf("position opened without a readable stop flag: markets=%d", len(ex.markets))
	}

	// Once the ledger answers again the persisted flag still applies.
	ledger.set(func(l *flakyLedger) { l.failStop = false })
	res := mustHandle(t, e, testEvent(domain.ActionBase))
	if !res.NoOrderOpened || len(ex.markets) != 0 {
		t.Fatalf("stop flag ignored after recovery: %+v", res)
	}
}

func TestLifecycleUnreadableStopFlagKeepsSafetyOrders(t *testing.T) {
	ex := newFakeExchange()
	ledger := newFlakyLedger()
	e := newTestEngine(ex, ledger, nil, testConfig())

	mustHandle(t, e, testEvent(domain.ActionBase))

	// A fresh process adopts the open position without a readable flag.
	ledger.set(func(l *flakyLedger) { l.failStop = true })
	e = newTestEngine(ex, ledger, nil, testConfig())
	res := mustHandle(t, e, testEvent(domain.ActionIncrease))
	if res.NoOrderOpened || !near(res.Notional, 2.5312) {
		t.Fatalf("safety order on open position = %+v", res)
	}
}

func TestLifecycleRejectsOppositeSide(t *testing.T) {
	ctx := context.Background()
	ex := newFakeExchange()
	ledger := memory.NewLedger()
	e := newTestEngine(ex, ledger, nil, testConfig())

	mustHandle(t, e, testEvent(domain.ActionBase))

	for _, action := range []domain.Action{domain.ActionIncrease, domain.ActionBase, domain.ActionClose} {
		ev := testEvent(action)
		ev.Side = domain.SideShort
		res, err := e.Handle(ctx, ev)
		if !errors.Is(err, domain.ErrInvalidInput) || !res.Error {
			t.Fatalf("%s short: err = %v", action, err)
		}
	}

	// A restarted process has no memory of the LONG epoch.
	restarted := newTestEngine(ex, ledger, nil, testConfig())
	ev := testEvent(domain.ActionIncrease)
	ev.Side = domain.SideShort
	if _, err := restarted.Handle(ctx, ev); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("restarted short: err = %v", err)
	}

	if len(ex.markets) != 1 || ex.size[domain.SideShort] != 0 || !near(ex.size[domain.SideLong], 36.16) {
		t.Fatalf("markets=%d long=%v short=%v", len(ex.markets), ex.size[domain.SideLong], ex.size[domain.SideShort])
	}
	if tp, sl := ex.liveExits(testID); tp != 1 || sl != 1 {
		t.Fatalf("long protection lost: tp=%d sl=%d", tp, sl)
	}
	for _, o := range ex.open {
		if o.PositionSide != domain.SideLong {
			t.Fatalf("exit order %s on %s", o.ClientOrderID, o.PositionSide)
		}
	}
	if fills, _ := ledger.ReadFills(ctx, testID); len(fills) != 1 {
		t.Fatalf("ledger fills = %d, want 1", len(fills))
	}
}

func TestLifecycleSideSwitchAfterFlat(t *testing.T) {
	ex := newFakeExchange()
	e := newTestEngine(ex, memory.NewLedger(), nil, testConfig())

	mustHandle(t, e, testEvent(domain.ActionBase))
	ex.flatten(domain.SideLong)

	ev := testEvent(domain.ActionBase)
	ev.Side = domain.SideShort
	res := mustHandle(t, e, ev)
	if res.Side != domain.SideShort || !near(ex.size[domain.SideShort], res.Quantity) {
		t.Fatalf("short base = %+v", res)
	}
}

func TestLifecycleTransientEntryNotRetried(t *testing.T) {
	ctx := context.Background()
	ex := newFakeExchange()
	ledger := memory.NewLedger()
	e := newTestEngine(ex, ledger, nil, testConfig())

	mustHandle(t, e, testEvent(domain.ActionBase))
	before, _ := e.Snapshot(ctx, testID)
	ex.configure(func(f *fakeExchange) {
		f.marketErr = fmt.Errorf("%w: gateway timeout", domain.ErrTransient)
	})

	mark := ex.callCount()
	res, err := e.Handle(ctx, testEvent(domain.ActionIncrease))
	if !errors.Is(err, domain.ErrTransient) || !res.Error {
		t.Fatalf("err = %v", err)
	}
	markets := 0
	for _, c := range ex.callsSince(mark) {
		if c == "market" {
			markets++
		}
	}
	if markets != 1 {
		t.Fatalf("entry submitted %d times, want 1", markets)
	}

	after, _ := e.Snapshot(ctx, testID)
	if after.State.Phase != before.State.Phase ||
		after.State.SafetyOrderCount != before.State.SafetyOrderCount ||
		!near(after.State.Quantity, before.State.Quantity) {
		t.Fatalf("state changed: before %+v after %+v", before.State, after.State)
	}
	if tp, sl := ex.liveExits(testID); tp != 1 || sl != 1 {
		t.Fatalf("protection not restored: tp=%d sl=%d", tp, sl)
	}
	if fills, _ := ledger.ReadFills(ctx, testID); len(fills) != 1 {
		t.Fatalf("ledger fills = %d, want 1", len(fills))
	}
}

func TestLifecycleWaitsForReplicaLock(t *testing.T) {
	ex := newFakeExchange()
	locks := &busyLocks{busy: 3}
	cfg := testConfig()
	cfg.LockWait = time.Second
	e := New(Deps{Exchanges: ex.factory(), Ledger: memory.NewLedger(), Locks: locks}, cfg, testLogger())

	mustHandle(t, e, testEvent(domain.ActionBase))
	if locks.attempts != 4 || locks.held {
		t.Fatalf("attempts=%d held=%v, want 4 attempts and a released lock", locks.attempts, locks.held)
	}
}

func TestLifecycleLockWaitExpires(t *testing.T) {
	ex := newFakeExchange()
	locks := &busyLocks{busy: 1 << 30}
	cfg := testConfig()
	cfg.LockWait = 20 * time.Millisecond
	e := New(Deps{Exchanges: ex.factory(), Ledger: memory.NewLedger(), Locks: locks}, cfg, testLogger())

	_, err := e.Handle(context.Background(), testEvent(domain.ActionBase))
	if !errors.Is(err, domain.ErrLockHeld) {
		t.Fatalf("err = %v, want ErrLockHeld", err)
	}
	if locks.attempts < 2 || len(ex.markets) != 0 {
		t.Fatalf("attempts=%d markets=%d", locks.attempts, len(ex.markets))
	}
}

func TestLifecycleBaseWhileOpenClosesFirst(t *testing.T) {
	ctx := context.Background()
	ex := newFakeExchange()
	ledger := memory.NewLedger()
	e := newTestEngine(ex, ledger, nil, testConfig())

	mustHandle(t, e, testEvent(domain.ActionBase))
	ex.setPrice(0.04)
	res := mustHandle(t, e, testEvent(domain.ActionBase))

	closes := ex.closeMarkets()
	if len(closes) != 1 || !near(closes[0].Quantity, 36.16) {
		t.Fatalf("close orders = %+v", closes)
	}
	fills, _ := ledger.ReadFills(ctx, testID)
	if len(fills) != 1 || fills[0].Price != 0.04 {
		t.Fatalf("ledger = %+v, want only the new base fill", fills)
	}
	if !near(res.AvgPrice, 0.04) {
		t.Fatalf("avg = %v", res.AvgPrice)
	}
}

func TestLifecycleEntryFailureRestoresExits(t *testing.T) {
	ctx := context.Background()
	ex := newFakeExchange()
	ledger := memory.NewLedger()
	n := &recordingNotifier{}
	e := newTestEngine(ex, ledger, n, testConfig())

	mustHandle(t, e, testEvent(domain.ActionBase))
	ex.configure(func(f *fakeExchange) { f.marketStatus = domain.OrderStatusRejected })

	res, err := e.Handle(ctx, testEvent(domain.ActionIncrease))
	if !errors.Is(err, domain.ErrRejected) || !res.Error {
		t.Fatalf("err = %v", err)
	}
	if tp, sl := ex.liveExits(testID); tp != 1 || sl != 1 {
		t.Fatalf("protection not restored: tp=%d sl=%d", tp, sl)
	}
	snap, _ := e.Snapshot(ctx, testID)
	if snap.State.SafetyOrderCount != 0 || !near(snap.State.Quantity, 36.16) {
		t.Fatalf("state mutated by failed entry: %+v", snap.State)
	}
	if fills, _ := ledger.ReadFills(ctx, testID); len(fills) != 1 {
		t.Fatalf("ledger fills = %d, want 1", len(fills))
	}
	if n.count() != 1 {
		t.Fatalf("alerts = %d, want 1", n.count())
	}
}

func TestLifecycleMarginFailure(t *testing.T) {
	ex := newFakeExchange()
	ex.balanceErr = errBoom
	e := newTestEngine(ex, memory.NewLedger(), nil, testConfig())

	_, err := e.Handle(context.Background(), testEvent(domain.ActionBase))
	if !errors.Is(err, domain.ErrInsufficientData) {
		t.Fatalf("err = %v, want ErrInsufficientData", err)
	}
	if len(ex.markets) != 0 {
		t.Fatal("order placed without margin")
	}
}

func TestLifecycleDegradedLedger(t *testing.T) {
	ctx := context.Background()
	ex := newFakeExchange()
	ledger := newFlakyLedger()
	ledger.set(func(l *flakyLedger) { l.failReads = true })
	e := newTestEngine(ex, ledger, nil, testConfig())

	res := mustHandle(t, e, testEvent(domain.ActionBase))
	if !res.Degraded || !near(res.AvgPrice, 0.05*(1-0.0025)) {
		t.Fatalf("base avg=%v degraded=%v", res.AvgPrice, res.Degraded)
	}

	ledger.set(func(l *flakyLedger) { l.failReads = false })
	ex.setPrice(0.048)
	res = mustHandle(t, e, testEvent(domain.ActionIncrease))
	if !res.Degraded || res.AvgSource != AvgFromExchange {
		t.Fatalf("identity left DEGRADED mode within the epoch: %+v", res)
	}
	if res.SafetyOrderCount != 1 {
		t.Fatalf("degraded count = %d, want local counter 1", res.SafetyOrderCount)
	}
	snap, _ := e.Snapshot(ctx, testID)
	if snap.State.Status != domain.StatusDegraded {
		t.Fatalf("status = %s", snap.State.Status)
	}

	// A new epoch resets the status.
	ex.flatten(domain.SideLong)
	res = mustHandle(t, e, testEvent(domain.ActionBase))
	if res.Degraded {
		t.Fatal("degraded status carried into new epoch")
	}
}

func TestLifecycleLedgerResetFailureTaintsEpoch(t *testing.T) {
	ctx := context.Background()
	ex := newFakeExchange()
	ledger := newFlakyLedger()
	_ = ledger.Ledger.AppendFill(ctx, testID, 1, 100) // stale entry
	ledger.set(func(l *flakyLedger) { l.failClear = true })
	e := newTestEngine(ex, ledger, nil, testConfig())

	res := mustHandle(t, e, testEvent(domain.ActionBase))
	if !res.Degraded || res.AvgSource != AvgFromExchange {
		t.Fatalf("stale ledger used for average: %+v", res)
	}
	if !near(res.AvgPrice, 0.05*(1-0.0025)) {
		t.Fatalf("avg = %v", res.AvgPrice)
	}
}

func TestLifecycleAlertThreshold(t *testing.T) {
	ex := newFakeExchange()
	n := &recordingNotifier{}
	e := newTestEngine(ex, memory.NewLedger(), n, testConfig())

	alerts := []bool{false, false, true, true}
	for i, wantAlert := range alerts {
		action := domain.ActionIncrease
		if i == 0 {
			action = domain.ActionBase
		}
		ev := testEvent(action)
		ev.AlertAfterSafetyOrders = 2
		res := mustHandle(t, e, ev)
		if res.SafetyOrderCount != i || res.AlertSent != wantAlert {
			t.Fatalf("event %d: count=%d alert=%v", i, res.SafetyOrderCount, res.AlertSent)
		}
	}
	if n.count() != 2 {
		t.Fatalf("alerts = %d, want 2", n.count())
	}
}

func TestLifecycleIdempotencyKey(t *testing.T) {
	ex := newFakeExchange()
	e := New(Deps{
		Exchanges: ex.factory(),
		Ledger:    memory.NewLedger(),
		Dedup:     memory.NewDedup(),
	}, testConfig(), testLogger())

	ev := testEvent(domain.ActionBase)
	ev.IdempotencyKey = "tv-123"
	mustHandle(t, e, ev)
	res, err := e.Handle(context.Background(), ev)
	if !errors.Is(err, domain.ErrDuplicate) || !res.Error {
		t.Fatalf("second delivery err = %v", err)
	}
	if len(ex.markets) != 1 {
		t.Fatalf("market orders = %d, want 1", len(ex.markets))
	}
}

func TestLifecycleObserver(t *testing.T) {
	e := newTestEngine(newFakeExchange(), memory.NewLedger(), nil, testConfig())
	var got []domain.EventResult
	e.Observe(func(_ context.Context, res domain.EventResult) {
		got = append(got, res)
	})
	mustHandle(t, e, testEvent(domain.ActionBase))
	if len(got) != 1 || got[0].Action != domain.ActionBase {
		t.Fatalf("observed %+v", got)
	}
}

// Random event streams, several in flight at once, never leave more than
// one take-profit and one stop-loss resting per identity.
func TestExitPairAtMostOneUnderRandomEvents(t *testing.T) {
	ctx := context.Background()
	rng := rand.New(rand.NewSource(7))

	ids := []domain.BotIdentity{
		{Symbol: "DOGE-USDT", BotName: "a"},
		{Symbol: "DOGE-USDT", BotName: "b"},
	}
	exchanges := map[string]*fakeExchange{}
	for _, id := range ids {
		exchanges[id.BotName] = newFakeExchange()
	}
	factory := domain.ExchangeFactoryFunc(func(c domain.Credentials) (domain.Exchange, error) {
		return exchanges[c.APIKey], nil
	})
	e := New(Deps{Exchanges: factory, Ledger: memory.NewLedger()}, testConfig(), testLogger())

	actions := []domain.Action{domain.ActionBase, domain.ActionIncrease, domain.ActionIncrease, domain.ActionIncrease, domain.ActionClose}
	for step := 0; step < 200; step++ {
		for _, ex := range exchanges {
			r := rng.Intn(20)
			price := 0.04 + rng.Float64()*0.02
			ex.configure(func(f *fakeExchange) {
				f.price = price
				f.rejectLimit = r == 0
				f.rejectStop = r == 1
				f.marketStatus = domain.OrderStatusFilled
				if r == 2 {
					f.marketStatus = domain.OrderStatusRejected
				}
				if r == 3 {
					f.size[domain.SideLong] = 0
				}
			})
		}

		var evs []domain.Event
		for k := 0; k < 4; k++ {
			id := ids[rng.Intn(len(ids))]
			ev := testEvent(actions[rng.Intn(len(actions))])
			ev.Identity = id
			ev.Credentials.APIKey = id.BotName
			evs = append(evs, ev)
		}
		var wg sync.WaitGroup
		for _, ev := range evs {
			wg.Add(1)
			go func(ev domain.Event) {
				defer wg.Done()
				_, _ = e.Handle(ctx, ev)
			}(ev)
		}
		wg.Wait()

		for _, id := range ids {
			ex := exchanges[id.BotName]
			if tp, sl := ex.liveExits(id); tp > 1 || sl > 1 {
				t.Fatalf("step %d: %s has tp=%d sl=%d", step, id, tp, sl)
			}
		}
	}
	for name, ex := range exchanges {
		ex.mu.Lock()
		maxLive := ex.maxLive
		ex.mu.Unlock()
		if maxLive > 1 {
			t.Fatalf("%s: %d exit orders of one kind were live at once", name, maxLive)
		}
	}
	if e.keys.Len() != 0 {
		t.Fatalf("keyed mutex leaked %d entries", e.keys.Len())
	}
}
