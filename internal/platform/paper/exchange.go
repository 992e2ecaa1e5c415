// Package paper is an in-process simulated exchange used for dry runs.
// Market orders fill at the last known price; reduce-only limit and stop
// orders rest until SetPrice crosses them.
package paper

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"

	"github.com/Runner89/mexc-trading-bot/internal/domain"
)

// PriceSource supplies prices for symbols the simulator has not seen yet.
type PriceSource interface {
	GetPrice(ctx context.Context, symbol string) (float64, error)
}

type posKey struct {
	symbol string
	side   domain.Side
}

type position struct {
	size     float64
	avgPrice float64
}

type restingOrder struct {
	seq   int64
	order domain.OpenOrder
}

// Exchange is one simulated account.
type Exchange struct {
	mu        sync.Mutex
	balance   float64
	prices    map[string]float64
	leverage  map[posKey]int
	positions map[posKey]*position
	orders    map[string]*restingOrder
	nextID    int64
	source    PriceSource
	logger    *slog.Logger
}

var _ domain.Exchange = (*Exchange)(nil)

// NewExchange creates an account holding balance in quote currency.
// source may be nil.
func NewExchange(balance float64, source PriceSource, logger *slog.Logger) *Exchange {
	return &Exchange{
		balance:   balance,
		prices:    make(map[string]float64),
		leverage:  make(map[posKey]int),
		positions: make(map[posKey]*position),
		orders:    make(map[string]*restingOrder),
		source:    source,
		logger:    logger.With(slog.String("component", "paper_exchange")),
	}
}

// GetBalance returns free margin: cash minus the margin held by positions.
func (e *Exchange) GetBalance(_ context.Context) (float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	used := 0.0
	for k, p := range e.positions {
		used += p.size * p.avgPrice / float64(e.leverageFor(k))
	}
	return e.balance - used, nil
}

// GetPrice returns the last price of symbol, asking the PriceSource on
// first use.
func (e *Exchange) GetPrice(ctx context.Context, symbol string) (float64, error) {
	e.mu.Lock()
	price, ok := e.prices[symbol]
	e.mu.Unlock()
	if ok {
		return price, nil
	}
	if e.source == nil {
		return 0, fmt.Errorf("paper: price %s: %w", symbol, domain.ErrNotFound)
	}
	price, err := e.source.GetPrice(ctx, symbol)
	if err != nil {
		return 0, fmt.Errorf("paper: price %s: %w", symbol, err)
	}
	e.mu.Lock()
	if _, ok := e.prices[symbol]; !ok {
		e.prices[symbol] = price
	}
	e.mu.Unlock()
	return price, nil
}

// GetPosition returns the position with an isolated-margin liquidation
// estimate of avg*(1 -/+ 1/leverage).
func (e *Exchange) GetPosition(_ context.Context, symbol string, side domain.Side) (domain.PositionSnapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	k := posKey{symbol, side}
	p, ok := e.positions[k]
	if !ok || p.size <= 0 {
		return domain.PositionSnapshot{}, nil
	}
	lev := float64(e.leverageFor(k))
	liq := p.avgPrice * (1 - 1/lev)
	if side == domain.SideShort {
		liq = p.avgPrice * (1 + 1/lev)
	}
	return domain.PositionSnapshot{Size: p.size, AvgPrice: p.avgPrice, LiquidationPrice: liq}, nil
}

// SetLeverage records the leverage of one side of symbol.
func (e *Exchange) SetLeverage(_ context.Context, symbol string, side domain.Side, leverage int) error {
	if leverage < 1 {
		return fmt.Errorf("paper: %w: leverage %d", domain.ErrRejected, leverage)
	}
	e.mu.Lock()
	e.leverage[posKey{symbol, side}] = leverage
	e.mu.Unlock()
	return nil
}

// PlaceMarketOrder fills immediately at the last price.
func (e *Exchange) PlaceMarketOrder(ctx context.Context, intent domain.OrderIntent) (domain.OrderAck, error) {
	price, err := e.GetPrice(ctx, intent.Symbol)
	if err != nil {
		return domain.OrderAck{}, err
	}
	if intent.Quantity <= 0 {
		return domain.OrderAck{}, fmt.Errorf("paper: %w: quantity %v", domain.ErrRejected, intent.Quantity)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	qty, err := e.fill(posKey{intent.Symbol, intent.Side}, intent.Close, intent.Quantity, price)
	if err != nil {
		return domain.OrderAck{}, err
	}
	return domain.OrderAck{
		OrderID:       e.newID(),
		ClientOrderID: intent.ClientOrderID,
		Status:        domain.OrderStatusFilled,
		AvgPrice:      price,
		ExecutedQty:   qty,
	}, nil
}

// PlaceLimitOrder rests a reduce-only limit order.
func (e *Exchange) PlaceLimitOrder(_ context.Context, intent domain.OrderIntent) (domain.OrderAck, error) {
	return e.rest(intent, domain.OrderKindLimit)
}

// PlaceStopOrder rests a reduce-only stop-market order.
func (e *Exchange) PlaceStopOrder(_ context.Context, intent domain.OrderIntent) (domain.OrderAck, error) {
	return e.rest(intent, domain.OrderKindStop)
}

func (e *Exchange) rest(intent domain.OrderIntent, kind domain.OrderKind) (domain.OrderAck, error) {
	if !intent.Close {
		return domain.OrderAck{}, fmt.Errorf("paper: %w: only reduce-only %s orders rest", domain.ErrRejected, kind)
	}
	if intent.Quantity <= 0 {
		return domain.OrderAck{}, fmt.Errorf("paper: %w: quantity %v", domain.ErrRejected, intent.Quantity)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	id := e.newID()
	e.orders[id] = &restingOrder{
		seq: e.nextID,
		order: domain.OpenOrder{
			OrderID:       id,
			ClientOrderID: intent.ClientOrderID,
			Symbol:        intent.Symbol,
			Side:          intent.ExchangeSide(),
			PositionSide:  intent.Side,
			Kind:          kind,
			Quantity:      intent.Quantity,
			Price:         intent.Price,
			StopPrice:     intent.StopPrice,
		},
	}
	return domain.OrderAck{OrderID: id, ClientOrderID: intent.ClientOrderID, Status: domain.OrderStatusNew}, nil
}

// ListOpenOrders returns resting orders of symbol in placement order.
func (e *Exchange) ListOpenOrders(_ context.Context, symbol string) ([]domain.OpenOrder, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.openOrders(symbol), nil
}

// CancelOrder removes a resting order.
func (e *Exchange) CancelOrder(_ context.Context, symbol, orderID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	o, ok := e.orders[orderID]
	if !ok || o.order.Symbol != symbol {
		return fmt.Errorf("paper: cancel %s: %w", orderID, domain.ErrNotFound)
	}
	delete(e.orders, orderID)
	return nil
}

// SetPrice moves the market and fills every resting order it crosses.
func (e *Exchange) SetPrice(symbol string, price float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.prices[symbol] = price

	for _, o := range e.openOrders(symbol) {
		if !crossed(o, price) {
			continue
		}
		delete(e.orders, o.OrderID)
		fillPrice := o.Price
		if o.Kind == domain.OrderKindStop {
			fillPrice = price
		}
		qty, err := e.fill(posKey{symbol, o.PositionSide}, true, o.Quantity, fillPrice)
		if err != nil {
			continue
		}
		e.logger.Info("resting order filled",
			slog.String("symbol", symbol),
			slog.String("order_id", o.OrderID),
			slog.String("kind", string(o.Kind)),
			slog.Float64("price", fillPrice),
			slog.Float64("qty", qty),
		)
	}
}

// Symbols returns every symbol with a position or resting order.
func (e *Exchange) Symbols() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	seen := make(map[string]bool)
	for k, p := range e.positions {
		if p.size > 0 {
			seen[k.symbol] = true
		}
	}
	for _, o := range e.orders {
		seen[o.order.Symbol] = true
	}
	out := make([]string, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func crossed(o domain.OpenOrder, price float64) bool {
	long := o.PositionSide != domain.SideShort
	switch o.Kind {
	case domain.OrderKindLimit:
		if long {
			return price >= o.Price
		}
		return price <= o.Price
	case domain.OrderKindStop:
		if long {
			return price <= o.StopPrice
		}
		return price >= o.StopPrice
	}
	return false
}

// fill applies a trade to the position and returns the executed quantity.
// Caller holds e.mu.
func (e *Exchange) fill(k posKey, reduce bool, qty, price float64) (float64, error) {
	p := e.positions[k]
	if !reduce {
		if p == nil {
			p = &position{}
			e.positions[k] = p
		}
		p.avgPrice = (p.avgPrice*p.size + price*qty) / (p.size + qty)
		p.size += qty
		return qty, nil
	}

	if p == nil || p.size <= 0 {
		return 0, fmt.Errorf("paper: %w: no %s position to reduce", domain.ErrRejected, k.side)
	}
	if qty > p.size {
		qty = p.size
	}
	pnl := (price - p.avgPrice) * qty
	if k.side == domain.SideShort {
		pnl = -pnl
	}
	e.balance += pnl
	p.size -= qty
	if p.size <= 1e-12 {
		delete(e.positions, k)
		e.dropOrders(k)
	}
	return qty, nil
}

// dropOrders removes resting orders of a flattened position, as the real
// venue does for reduce-only orders. Caller holds e.mu.
func (e *Exchange) dropOrders(k posKey) {
	for id, o := range e.orders {
		if o.order.Symbol == k.symbol && o.order.PositionSide == k.side {
			delete(e.orders, id)
		}
	}
}

// openOrders lists resting orders of symbol. Caller holds e.mu.
func (e *Exchange) openOrders(symbol string) []domain.OpenOrder {
	rest := make([]*restingOrder, 0, len(e.orders))
	for _, o := range e.orders {
		if o.order.Symbol == symbol {
			rest = append(rest, o)
		}
	}
	sort.Slice(rest, func(i, j int) bool { return rest[i].seq < rest[j].seq })
	out := make([]domain.OpenOrder, len(rest))
	for i, o := range rest {
		out[i] = o.order
	}
	return out
}

func (e *Exchange) leverageFor(k posKey) int {
	if lev := e.leverage[k]; lev > 0 {
		return lev
	}
	return 1
}

func (e *Exchange) newID() string {
	e.nextID++
	return "paper-" + strconv.FormatInt(e.nextID, 10)
}
