package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/Runner89/mexc-trading-bot/internal/cache/memory"
	"github.com/Runner89/mexc-trading-bot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.SettleDelay = 0
	cfg.CallTimeout = time.Second
	cfg.RetryBackoffMin = time.Millisecond
	cfg.RetryBackoffMax = 2 * time.Millisecond
	cfg.AlertAfterSafetyOrders = 0
	return cfg
}

var errBoom = errors.New("boom")

// fakeExchange simulates a hedge-mode account with one symbol. Market
// orders fill immediately at the current price; limit and stop orders rest
// until cancelled.
type fakeExchange struct {
	mu sync.Mutex

	balance     float64
	balanceErr  error
	price       float64
	liqFactor   float64 // liq = avg * liqFactor; zero means no liquidation price
	positionErr int     // number of GetPosition calls to fail

	marketStatus string
	marketErr    error
	rejectLimit  bool
	rejectStop   bool
	cancelErr    error

	size map[domain.Side]float64
	avg  map[domain.Side]float64

	open    map[string]domain.OpenOrder
	nextID  int
	markets []domain.OrderIntent
	limits  []domain.OrderIntent
	stops   []domain.OrderIntent
	cancels []string
	maxLive int // most resting orders ever sharing one exit prefix

	// calls records the method order.
	calls []string
}

var _ domain.Exchange = (*fakeExchange)(nil)

func newFakeExchange() *fakeExchange {
	return &fakeExchange{
		balance:      1000,
		price:        0.05,
		liqFactor:    0.5,
		marketStatus: domain.OrderStatusFilled,
		size:         make(map[domain.Side]float64),
		avg:          make(map[domain.Side]float64),
		open:         make(map[string]domain.OpenOrder),
	}
}

func (f *fakeExchange) factory() domain.ExchangeFactory {
	return domain.ExchangeFactoryFunc(func(domain.Credentials) (domain.Exchange, error) {
		return f, nil
	})
}

func (f *fakeExchange) record(call string) {
	f.calls = append(f.calls, call)
}

func (f *fakeExchange) GetBalance(context.Context) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("balance")
	return f.balance, f.balanceErr
}

func (f *fakeExchange) GetPrice(context.Context, string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("price")
	return f.price, nil
}

func (f *fakeExchange) GetPosition(_ context.Context, _ string, side domain.Side) (domain.PositionSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("position")
	if f.positionErr > 0 {
		f.positionErr--
		return domain.PositionSnapshot{}, fmt.Errorf("%w: position unavailable", domain.ErrTransient)
	}
	return f.snapshotLocked(side), nil
}

func (f *fakeExchange) snapshotLocked(side domain.Side) domain.PositionSnapshot {
	size := f.size[side]
	if size <= 0 {
		return domain.PositionSnapshot{}
	}
	return domain.PositionSnapshot{
		Size:             size,
		AvgPrice:         f.avg[side],
		LiquidationPrice: f.avg[side] * f.liqFactor,
	}
}

func (f *fakeExchange) SetLeverage(context.Context, string, domain.Side, int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("leverage")
	return nil
}

func (f *fakeExchange) PlaceMarketOrder(_ context.Context, intent domain.OrderIntent) (domain.OrderAck, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("market")
	if f.marketErr != nil && !intent.Close {
		return domain.OrderAck{}, f.marketErr
	}
	f.markets = append(f.markets, intent)
	f.nextID++
	id := fmt.Sprintf("m%d", f.nextID)
	if intent.Close {
		f.size[intent.Side] -= intent.Quantity
		if f.size[intent.Side] <= 1e-12 {
			f.size[intent.Side] = 0
			f.avg[intent.Side] = 0
		}
		return domain.OrderAck{OrderID: id, Status: domain.OrderStatusFilled, AvgPrice: f.price, ExecutedQty: intent.Quantity}, nil
	}
	if f.marketStatus != domain.OrderStatusFilled {
		return domain.OrderAck{OrderID: id, Status: f.marketStatus}, nil
	}
	old := f.size[intent.Side]
	f.size[intent.Side] = old + intent.Quantity
	f.avg[intent.Side] = (f.avg[intent.Side]*old + f.price*intent.Quantity) / f.size[intent.Side]
	return domain.OrderAck{OrderID: id, Status: domain.OrderStatusFilled, AvgPrice: f.price, ExecutedQty: intent.Quantity}, nil
}

func (f *fakeExchange) place(intent domain.OrderIntent, reject bool) domain.OrderAck {
	f.nextID++
	id := fmt.Sprintf("o%d", f.nextID)
	if reject {
		return domain.OrderAck{OrderID: id, ClientOrderID: intent.ClientOrderID, Status: domain.OrderStatusRejected}
	}
	f.open[id] = domain.OpenOrder{
		OrderID:       id,
		ClientOrderID: intent.ClientOrderID,
		Symbol:        intent.Symbol,
		Side:          intent.ExchangeSide(),
		PositionSide:  intent.Side,
		Kind:          intent.Kind,
		Quantity:      intent.Quantity,
		Price:         intent.Price,
		StopPrice:     intent.StopPrice,
	}
	if prefix := exitPrefix(intent.ClientOrderID); prefix != "" {
		n := 0
		for _, o := range f.open {
			if exitPrefix(o.ClientOrderID) == prefix {
				n++
			}
		}
		f.maxLive = max(f.maxLive, n)
	}
	return domain.OrderAck{OrderID: id, ClientOrderID: intent.ClientOrderID, Status: domain.OrderStatusNew}
}

func (f *fakeExchange) PlaceLimitOrder(_ context.Context, intent domain.OrderIntent) (domain.OrderAck, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("limit")
	f.limits = append(f.limits, intent)
	return f.place(intent, f.rejectLimit), nil
}

func (f *fakeExchange) PlaceStopOrder(_ context.Context, intent domain.OrderIntent) (domain.OrderAck, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("stop")
	f.stops = append(f.stops, intent)
	return f.place(intent, f.rejectStop), nil
}

func (f *fakeExchange) ListOpenOrders(context.Context, string) ([]domain.OpenOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("list")
	out := make([]domain.OpenOrder, 0, len(f.open))
	for _, o := range f.open {
		out = append(out, o)
	}
	return out, nil
}

func (f *fakeExchange) CancelOrder(_ context.Context, _ string, orderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("cancel")
	if f.cancelErr != nil {
		return f.cancelErr
	}
	if _, ok := f.open[orderID]; !ok {
		return fmt.Errorf("order %s not found", orderID)
	}
	delete(f.open, orderID)
	f.cancels = append(f.cancels, orderID)
	return nil
}

func exitPrefix(clientOrderID string) string {
	n := len(ClientOrderPrefix(testID, domain.ExitTakeProfit))
	if len(clientOrderID) < n {
		return ""
	}
	return clientOrderID[:n]
}

// liveExits counts resting exit orders of id by kind.
func (f *fakeExchange) liveExits(id domain.BotIdentity) (tp, sl int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, o := range f.open {
		switch {
		case strings.HasPrefix(o.ClientOrderID, ClientOrderPrefix(id, domain.ExitTakeProfit)):
			tp++
		case strings.HasPrefix(o.ClientOrderID, ClientOrderPrefix(id, domain.ExitStopLoss)):
			sl++
		}
	}
	return tp, sl
}

// flatten simulates the position being closed on the exchange, for
// example by a take-profit fill.
func (f *fakeExchange) flatten(side domain.Side) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.size[side] = 0
	f.avg[side] = 0
}

func (f *fakeExchange) setPrice(p float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.price = p
}

func (f *fakeExchange) closeMarkets() []domain.OrderIntent {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.OrderIntent
	for _, m := range f.markets {
		if m.Close {
			out = append(out, m)
		}
	}
	return out
}

// flakyLedger wraps the in-memory ledger with switchable failures.
type flakyLedger struct {
	*memory.Ledger
	mu         sync.Mutex
	failReads  bool
	failClear  bool
	failAppend bool
	failStop   bool
}

func newFlakyLedger() *flakyLedger {
	return &flakyLedger{Ledger: memory.NewLedger()}
}

func (l *flakyLedger) set(fn func(l *flakyLedger)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fn(l)
}

func (l *flakyLedger) ReadFills(ctx context.Context, id domain.BotIdentity) ([]domain.Fill, error) {
	l.mu.Lock()
	fail := l.failReads
	l.mu.Unlock()
	if fail {
		return nil, errBoom
	}
	return l.Ledger.ReadFills(ctx, id)
}

func (l *flakyLedger) ClearFills(ctx context.Context, id domain.BotIdentity) error {
	l.mu.Lock()
	fail := l.failClear
	l.mu.Unlock()
	if fail {
		return errBoom
	}
	return l.Ledger.ClearFills(ctx, id)
}

func (l *flakyLedger) AppendFill(ctx context.Context, id domain.BotIdentity, price, qty float64) error {
	l.mu.Lock()
	fail := l.failAppend
	l.mu.Unlock()
	if fail {
		return errBoom
	}
	return l.Ledger.AppendFill(ctx, id, price, qty)
}

func (l *flakyLedger) ReadStopFlag(ctx context.Context, id domain.BotIdentity) (bool, error) {
	l.mu.Lock()
	fail := l.failStop
	l.mu.Unlock()
	if fail {
		return false, errBoom
	}
	return l.Ledger.ReadStopFlag(ctx, id)
}

// busyLocks reports the lock as held for the first busy attempts.
type busyLocks struct {
	mu       sync.Mutex
	busy     int
	attempts int
	held     bool
}

func (l *busyLocks) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.attempts++
	if l.busy > 0 || l.held {
		l.busy--
		return nil, fmt.Errorf("lock %s: %w", key, domain.ErrLockHeld)
	}
	l.held = true
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.held = false
	}, nil
}

type recordingNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (n *recordingNotifier) SendAlert(_ context.Context, _ domain.BotIdentity, msg string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, msg)
	return nil
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.messages)
}

var testID = domain.BotIdentity{Symbol: "DOGE-USDT", BotName: "dca1"}

func testEvent(action domain.Action) domain.Event {
	return domain.Event{
		ID:                    "ev",
		Identity:              testID,
		Credentials:           domain.Credentials{APIKey: "k", APISecret: "s"},
		Side:                  domain.SideLong,
		Action:                action,
		Leverage:              2,
		SafetyBuffer:          96,
		BaseOrderFactor:       0.001,
		GrowthFactor:          1.4,
		TakeProfitPercent:     2,
		StopLossBufferPercent: 1,
	}
}

func (f *fakeExchange) configure(fn func(f *fakeExchange)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func (f *fakeExchange) countCalls(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == name {
			n++
		}
	}
	return n
}

func (f *fakeExchange) callsSince(i int) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls[i:]...)
}

func (f *fakeExchange) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}
