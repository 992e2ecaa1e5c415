package engine

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Runner89/mexc-trading-bot/internal/domain"
)

// ExitParams describes the position an exit pair must protect.
type ExitParams struct {
	Side                  domain.Side
	AvgPrice              float64
	LiquidationPrice      float64
	Quantity              float64
	TakeProfitPercent     float64
	StopLossBufferPercent float64
	Decay                 domain.DecayRule
	BaseOrderTime         time.Time
	SafetyOrderCount      int
	Now                   time.Time
}

// ExitOutcome reports what Refresh did.
type ExitOutcome struct {
	State             domain.ExitState
	Pair              domain.ExitPair
	TakeProfitPercent float64
	Decayed           bool
	StopLossSkipped   bool
	CloseOrder        *domain.OrderAck
}

// Escalated reports whether the position was force-closed.
func (o ExitOutcome) Escalated() bool {
	return o.State == domain.ExitEscalatedClose
}

// TakeProfitPercent applies the decay rule: the decayed percentage wins once
// the position has been open longer than AfterHours or has taken more than
// AfterSafetyOrders safety orders.
func TakeProfitPercent(p ExitParams) (float64, bool) {
	d := p.Decay
	if !d.Enabled() {
		return p.TakeProfitPercent, false
	}
	if d.AfterSafetyOrders > 0 && p.SafetyOrderCount > d.AfterSafetyOrders {
		return d.DecayedTakeProfitPercent, true
	}
	if d.AfterHours > 0 && !p.BaseOrderTime.IsZero() {
		limit := time.Duration(d.AfterHours * float64(time.Hour))
		if p.Now.Sub(p.BaseOrderTime) > limit {
			return d.DecayedTakeProfitPercent, true
		}
	}
	return p.TakeProfitPercent, false
}

// ExitPrices returns the take-profit and stop-loss trigger prices. The
// stop-loss is zero when no liquidation price is known.
func ExitPrices(side domain.Side, avg, liq, tpPct, slBufferPct float64) (tp, sl float64) {
	if side == domain.SideShort {
		tp = avg * (1 - tpPct/100)
		if liq > 0 {
			sl = liq * (1 - slBufferPct/100)
		}
		return tp, sl
	}
	tp = avg * (1 + tpPct/100)
	if liq > 0 {
		sl = liq * (1 + slBufferPct/100)
	}
	return tp, sl
}

// ExitManager keeps at most one live take-profit and one live stop-loss per
// identity. Exit orders are attributed to an identity through their client
// order ID prefix. Callers serialize calls per identity.
type ExitManager struct {
	call           caller
	allowMissingSL bool
	logger         *slog.Logger

	mu     sync.Mutex
	states map[string]domain.ExitState
	pairs  map[string]domain.ExitPair
}

// NewExitManager creates an ExitManager.
func NewExitManager(cfg Config, logger *slog.Logger) *ExitManager {
	return &ExitManager{
		call:           newCaller(cfg),
		allowMissingSL: cfg.AllowMissingStopLoss,
		logger:         logger.With(slog.String("component", "exits")),
		states:         make(map[string]domain.ExitState),
		pairs:          make(map[string]domain.ExitPair),
	}
}

// ClientOrderPrefix returns the client order ID prefix of exit orders of
// kind for id.
func ClientOrderPrefix(id domain.BotIdentity, kind domain.ExitKind) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id.Key()))
	return fmt.Sprintf("dca%08x%s", h.Sum32(), kind)
}

func newClientOrderID(id domain.BotIdentity, kind domain.ExitKind) string {
	return ClientOrderPrefix(id, kind) + strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}

// State returns the exit state and last confirmed pair for id.
func (m *ExitManager) State(id domain.BotIdentity) (domain.ExitState, domain.ExitPair) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[id.Key()]
	if !ok {
		st = domain.ExitNone
	}
	return st, m.pairs[id.Key()]
}

// Reset forgets the exit state of id.
func (m *ExitManager) Reset(id domain.BotIdentity) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, id.Key())
	delete(m.pairs, id.Key())
}

func (m *ExitManager) setState(id domain.BotIdentity, st domain.ExitState, pair *domain.ExitPair) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[id.Key()] = st
	if pair != nil {
		m.pairs[id.Key()] = *pair
	}
}

// identityExits lists the live exit orders of id grouped by kind.
func (m *ExitManager) identityExits(ctx context.Context, ex domain.Exchange, id domain.BotIdentity) (map[domain.ExitKind][]domain.OpenOrder, error) {
	orders, err := readWithRetry(ctx, m.call, func(ctx context.Context) ([]domain.OpenOrder, error) {
		return ex.ListOpenOrders(ctx, id.Symbol)
	})
	if err != nil {
		return nil, fmt.Errorf("exits: list open orders: %w", err)
	}
	out := make(map[domain.ExitKind][]domain.OpenOrder, 2)
	for _, kind := range []domain.ExitKind{domain.ExitTakeProfit, domain.ExitStopLoss} {
		prefix := ClientOrderPrefix(id, kind)
		for _, o := range orders {
			if strings.HasPrefix(o.ClientOrderID, prefix) {
				out[kind] = append(out[kind], o)
			}
		}
	}
	return out, nil
}

// cancel cancels orderID. A failed cancel is accepted when the order no
// longer shows up as open.
func (m *ExitManager) cancel(ctx context.Context, ex domain.Exchange, id domain.BotIdentity, orderID string) error {
	err := m.call.once(ctx, func(ctx context.Context) error {
		return ex.CancelOrder(ctx, id.Symbol, orderID)
	})
	if err == nil {
		return nil
	}
	orders, listErr := readWithRetry(ctx, m.call, func(ctx context.Context) ([]domain.OpenOrder, error) {
		return ex.ListOpenOrders(ctx, id.Symbol)
	})
	if listErr != nil {
		return fmt.Errorf("exits: cancel %s: %w", orderID, err)
	}
	for _, o := range orders {
		if o.OrderID == orderID {
			return fmt.Errorf("exits: cancel %s: %w", orderID, err)
		}
	}
	return nil
}

// CancelAll cancels every live exit order of id. It returns the first
// cancel failure after attempting all of them.
func (m *ExitManager) CancelAll(ctx context.Context, ex domain.Exchange, id domain.BotIdentity, tr *trail) error {
	live, err := m.identityExits(ctx, ex, id)
	if err != nil {
		return err
	}
	var firstErr error
	for _, kind := range []domain.ExitKind{domain.ExitTakeProfit, domain.ExitStopLoss} {
		for _, o := range live[kind] {
			if err := m.cancel(ctx, ex, id, o.OrderID); err != nil {
				tr.fail(ctx, err, "cancel %s order %s failed", kind, o.OrderID)
				if firstErr == nil {
					firstErr = err
				}
				continue
			}
			tr.info(ctx, "cancelled %s order %s", kind, o.OrderID)
		}
	}
	if firstErr == nil {
		m.setState(id, domain.ExitNone, &domain.ExitPair{})
	}
	return firstErr
}

// Refresh cancels the previous exit pair of id and places a new one for
// the position in p. If either order cannot be established the position is
// flattened and the returned error wraps the cause.
func (m *ExitManager) Refresh(ctx context.Context, ex domain.Exchange, id domain.BotIdentity, p ExitParams, tr *trail) (ExitOutcome, error) {
	m.setState(id, domain.ExitPending, nil)

	tpPct, decayed := TakeProfitPercent(p)
	tpPrice, slPrice := ExitPrices(p.Side, p.AvgPrice, p.LiquidationPrice, tpPct, p.StopLossBufferPercent)
	out := ExitOutcome{
		State:             domain.ExitPending,
		TakeProfitPercent: tpPct,
		Decayed:           decayed,
		Pair: domain.ExitPair{
			TakeProfitPrice: tpPrice,
			StopLossPrice:   slPrice,
			Quantity:        p.Quantity,
		},
	}
	if decayed {
		tr.info(ctx, "take-profit decayed to %.4f%%", tpPct)
	}
	tr.info(ctx, "exit targets: tp=%.8f sl=%.8f qty=%.8f", tpPrice, slPrice, p.Quantity)

	if !finitePositive(p.AvgPrice) || !finitePositive(p.Quantity) {
		return m.escalate(ctx, ex, id, p, out, fmt.Errorf("exits: avg=%v qty=%v: %w", p.AvgPrice, p.Quantity, domain.ErrInsufficientData), tr)
	}

	live, err := m.identityExits(ctx, ex, id)
	if err != nil {
		return m.escalate(ctx, ex, id, p, out, err, tr)
	}
	for kind, orders := range live {
		if len(orders) > 1 {
			err := fmt.Errorf("exits: %d live %s orders for %s: %w", len(orders), kind, id, domain.ErrInvariantViolation)
			m.logger.ErrorContext(ctx, "exit invariant violated",
				slog.String("identity", id.Key()),
				slog.String("kind", string(kind)),
				slog.Int("live", len(orders)),
			)
			return m.escalate(ctx, ex, id, p, out, err, tr)
		}
	}

	ack, err := m.replace(ctx, ex, id, domain.ExitTakeProfit, live[domain.ExitTakeProfit], domain.OrderIntent{
		Symbol:   id.Symbol,
		Kind:     domain.OrderKindLimit,
		Side:     p.Side,
		Close:    true,
		Quantity: p.Quantity,
		Price:    tpPrice,
	}, tr)
	if err != nil {
		return m.escalate(ctx, ex, id, p, out, err, tr)
	}
	out.Pair.TakeProfitOrderID = ack.OrderID

	if slPrice <= 0 {
		if !m.allowMissingSL {
			err := fmt.Errorf("exits: no liquidation price reported for stop-loss: %w", domain.ErrInsufficientData)
			return m.escalate(ctx, ex, id, p, out, err, tr)
		}
		tr.warn(ctx, "no liquidation price reported, stop-loss skipped")
		out.StopLossSkipped = true
		for _, o := range live[domain.ExitStopLoss] {
			if err := m.cancel(ctx, ex, id, o.OrderID); err != nil {
				return m.escalate(ctx, ex, id, p, out, err, tr)
			}
		}
	} else {
		ack, err = m.replace(ctx, ex, id, domain.ExitStopLoss, live[domain.ExitStopLoss], domain.OrderIntent{
			Symbol:    id.Symbol,
			Kind:      domain.OrderKindStop,
			Side:      p.Side,
			Close:     true,
			Quantity:  p.Quantity,
			StopPrice: slPrice,
		}, tr)
		if err != nil {
			return m.escalate(ctx, ex, id, p, out, err, tr)
		}
		out.Pair.StopLossOrderID = ack.OrderID
	}

	out.State = domain.ExitConfirmed
	m.setState(id, domain.ExitConfirmed, &out.Pair)
	return out, nil
}

// replace cancels existing orders of one kind and then places intent.
func (m *ExitManager) replace(ctx context.Context, ex domain.Exchange, id domain.BotIdentity, kind domain.ExitKind, existing []domain.OpenOrder, intent domain.OrderIntent, tr *trail) (domain.OrderAck, error) {
	for _, o := range existing {
		if err := m.cancel(ctx, ex, id, o.OrderID); err != nil {
			return domain.OrderAck{}, err
		}
		tr.info(ctx, "cancelled stale %s order %s", kind, o.OrderID)
	}

	intent.ClientOrderID = newClientOrderID(id, kind)
	var ack domain.OrderAck
	err := m.call.once(ctx, func(ctx context.Context) error {
		var placeErr error
		if intent.Kind == domain.OrderKindStop {
			ack, placeErr = ex.PlaceStopOrder(ctx, intent)
		} else {
			ack, placeErr = ex.PlaceLimitOrder(ctx, intent)
		}
		return placeErr
	})
	if err != nil {
		return domain.OrderAck{}, fmt.Errorf("exits: place %s: %w", kind, err)
	}
	if !ack.Live() {
		return ack, fmt.Errorf("exits: %s order %s status %q: %w", kind, ack.OrderID, ack.Status, domain.ErrRejected)
	}
	tr.info(ctx, "placed %s order %s", kind, ack.OrderID)
	return ack, nil
}

// ForceClose cancels the exit orders of id and flattens the position with
// one market order. cause is returned unchanged for the caller to report.
func (m *ExitManager) ForceClose(ctx context.Context, ex domain.Exchange, id domain.BotIdentity, side domain.Side, size float64, cause error, tr *trail) (ExitOutcome, error) {
	return m.escalate(ctx, ex, id, ExitParams{Side: side, Quantity: size}, ExitOutcome{}, cause, tr)
}

// escalate moves id to FAILED and then ESCALATED_CLOSE: remaining exit
// orders are cancelled and one market order flattens the full reported
// position. No exit order is placed afterwards.
func (m *ExitManager) escalate(ctx context.Context, ex domain.Exchange, id domain.BotIdentity, p ExitParams, out ExitOutcome, cause error, tr *trail) (ExitOutcome, error) {
	m.setState(id, domain.ExitFailed, nil)
	tr.fail(ctx, cause, "exit pair could not be established, force-closing position")

	if err := m.CancelAll(ctx, ex, id, tr); err != nil {
		tr.warn(ctx, "cancel remaining exit orders: %v", err)
	}

	size := p.Quantity
	snap, err := readWithRetry(ctx, m.call, func(ctx context.Context) (domain.PositionSnapshot, error) {
		return ex.GetPosition(ctx, id.Symbol, p.Side)
	})
	if err != nil {
		tr.warn(ctx, "position query before force-close failed, using last known size %.8f: %v", size, err)
	} else {
		size = snap.Size
	}

	out.State = domain.ExitFailed
	if size <= 0 {
		tr.info(ctx, "no open position left to force-close")
		out.State = domain.ExitEscalatedClose
		m.setState(id, out.State, &domain.ExitPair{})
		return out, cause
	}

	intent := domain.OrderIntent{
		Symbol:   id.Symbol,
		Kind:     domain.OrderKindMarket,
		Side:     p.Side,
		Close:    true,
		Quantity: size,
	}
	var ack domain.OrderAck
	err = m.call.once(ctx, func(ctx context.Context) error {
		var placeErr error
		ack, placeErr = ex.PlaceMarketOrder(ctx, intent)
		return placeErr
	})
	if err != nil {
		tr.fail(ctx, err, "force-close market order failed, position left UNPROTECTED")
		return out, errors.Join(cause, fmt.Errorf("exits: force close: %w", err))
	}
	tr.info(ctx, "force-closed %.8f with market order %s (%s)", size, ack.OrderID, ack.Status)
	out.CloseOrder = &ack
	out.State = domain.ExitEscalatedClose
	m.setState(id, out.State, &domain.ExitPair{})
	return out, cause
}
