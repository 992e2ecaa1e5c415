package engine

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/Runner89/mexc-trading-bot/internal/domain"
)

func TestExitPrices(t *testing.T) {
	tests := []struct {
		name           string
		side           domain.Side
		avg, liq       float64
		wantTP, wantSL float64
	}{
		{"long", domain.SideLong, 100, 50, 102, 50.5},
		{"short", domain.SideShort, 100, 150, 98, 148.5},
		{"no liquidation", domain.SideLong, 100, 0, 102, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tp, sl := ExitPrices(tt.side, tt.avg, tt.liq, 2, 1)
			if math.Abs(tp-tt.wantTP) > 1e-9 || math.Abs(sl-tt.wantSL) > 1e-9 {
				t.Fatalf("ExitPrices = %v, %v; want %v, %v", tp, sl, tt.wantTP, tt.wantSL)
			}
		})
	}
}

func TestTakeProfitDecay(t *testing.T) {
	now := time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC)
	rule := domain.DecayRule{AfterHours: 24, AfterSafetyOrders: 3, DecayedTakeProfitPercent: 0.5}

	tests := []struct {
		name    string
		decay   domain.DecayRule
		base    time.Time
		count   int
		want    float64
		decayed bool
	}{
		{"fresh", rule, now.Add(-time.Hour), 1, 2, false},
		{"stalled by time", rule, now.Add(-25 * time.Hour), 0, 0.5, true},
		{"stalled by count", rule, now.Add(-time.Hour), 4, 0.5, true},
		{"count at threshold", rule, now.Add(-time.Hour), 3, 2, false},
		{"disabled", domain.DecayRule{AfterHours: 1}, now.Add(-48 * time.Hour), 9, 2, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, decayed := TakeProfitPercent(ExitParams{
				TakeProfitPercent: 2,
				Decay:             tt.decay,
				BaseOrderTime:     tt.base,
				SafetyOrderCount:  tt.count,
				Now:               now,
			})
			if got != tt.want || decayed != tt.decayed {
				t.Fatalf("TakeProfitPercent = %v, %v; want %v, %v", got, decayed, tt.want, tt.decayed)
			}
		})
	}
}

func openPosition(ex *fakeExchange, size, avg float64) {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	ex.size[domain.SideLong] = size
	ex.avg[domain.SideLong] = avg
}

func exitParams() ExitParams {
	return ExitParams{
		Side:                  domain.SideLong,
		AvgPrice:              100,
		LiquidationPrice:      50,
		Quantity:              10,
		TakeProfitPercent:     2,
		StopLossBufferPercent: 1,
		Now:                   time.Now(),
	}
}

func TestRefreshPlacesSinglePair(t *testing.T) {
	ctx := context.Background()
	ex := newFakeExchange()
	openPosition(ex, 10, 100)
	m := NewExitManager(testConfig(), testLogger())

	for i := 0; i < 3; i++ {
		out, err := m.Refresh(ctx, ex, testID, exitParams(), nil)
		if err != nil {
			t.Fatalf("refresh %d: %v", i, err)
		}
		if out.State != domain.ExitConfirmed {
			t.Fatalf("state = %s, want CONFIRMED", out.State)
		}
		if tp, sl := ex.liveExits(testID); tp != 1 || sl != 1 {
			t.Fatalf("live exits after refresh %d: tp=%d sl=%d", i, tp, sl)
		}
	}
	if len(ex.cancels) != 4 {
		t.Fatalf("cancels = %d, want 4", len(ex.cancels))
	}

	if ex.maxLive != 1 {
		t.Fatalf("max simultaneous exit orders of one kind = %d, want 1", ex.maxLive)
	}

	st, pair := m.State(testID)
	if st != domain.ExitConfirmed || math.Abs(pair.TakeProfitPrice-102) > 1e-9 {
		t.Fatalf("State = %s %+v", st, pair)
	}
}

func TestRefreshEscalatesOnTakeProfitReject(t *testing.T) {
	ctx := context.Background()
	ex := newFakeExchange()
	openPosition(ex, 12.5, 100)
	ex.rejectLimit = true
	m := NewExitManager(testConfig(), testLogger())

	out, err := m.Refresh(ctx, ex, testID, exitParams(), nil)
	if !errors.Is(err, domain.ErrRejected) {
		t.Fatalf("err = %v, want ErrRejected", err)
	}
	if !out.Escalated() {
		t.Fatalf("state = %s, want ESCALATED_CLOSE", out.State)
	}
	closes := ex.closeMarkets()
	if len(closes) != 1 || closes[0].Quantity != 12.5 {
		t.Fatalf("close orders = %+v, want one for 12.5", closes)
	}
	if len(ex.stops) != 0 {
		t.Fatalf("stop orders attempted after escalation: %d", len(ex.stops))
	}
	if len(ex.limits) != 1 {
		t.Fatalf("limit orders = %d, want 1", len(ex.limits))
	}
}

func TestRefreshEscalatesOnStopLossReject(t *testing.T) {
	ctx := context.Background()
	ex := newFakeExchange()
	openPosition(ex, 10, 100)
	ex.rejectStop = true
	m := NewExitManager(testConfig(), testLogger())

	out, err := m.Refresh(ctx, ex, testID, exitParams(), nil)
	if !errors.Is(err, domain.ErrRejected) || !out.Escalated() {
		t.Fatalf("Refresh = %s, %v", out.State, err)
	}
	if tp, sl := ex.liveExits(testID); tp != 0 || sl != 0 {
		t.Fatalf("exit orders left after escalation: tp=%d sl=%d", tp, sl)
	}
	if n := len(ex.closeMarkets()); n != 1 {
		t.Fatalf("close orders = %d, want 1", n)
	}
	if out.CloseOrder == nil {
		t.Fatal("CloseOrder not reported")
	}
}

func TestRefreshInvariantViolation(t *testing.T) {
	ctx := context.Background()
	ex := newFakeExchange()
	openPosition(ex, 10, 100)
	for i := 0; i < 2; i++ {
		ex.place(domain.OrderIntent{
			Symbol:        testID.Symbol,
			Kind:          domain.OrderKindLimit,
			Side:          domain.SideLong,
			Close:         true,
			Quantity:      10,
			Price:         102,
			ClientOrderID: newClientOrderID(testID, domain.ExitTakeProfit),
		}, false)
	}
	m := NewExitManager(testConfig(), testLogger())

	out, err := m.Refresh(ctx, ex, testID, exitParams(), nil)
	if !errors.Is(err, domain.ErrInvariantViolation) {
		t.Fatalf("err = %v, want ErrInvariantViolation", err)
	}
	if !out.Escalated() {
		t.Fatalf("state = %s", out.State)
	}
	if tp, _ := ex.liveExits(testID); tp != 0 {
		t.Fatalf("take-profits left: %d", tp)
	}
	if len(ex.limits) != 0 {
		t.Fatalf("new take-profit placed during violation")
	}
}

func TestRefreshMissingLiquidationPrice(t *testing.T) {
	ctx := context.Background()
	p := exitParams()
	p.LiquidationPrice = 0

	t.Run("not allowed", func(t *testing.T) {
		ex := newFakeExchange()
		openPosition(ex, 10, 100)
		m := NewExitManager(testConfig(), testLogger())
		out, err := m.Refresh(ctx, ex, testID, p, nil)
		if !errors.Is(err, domain.ErrInsufficientData) || !out.Escalated() {
			t.Fatalf("Refresh = %s, %v", out.State, err)
		}
	})

	t.Run("allowed", func(t *testing.T) {
		ex := newFakeExchange()
		openPosition(ex, 10, 100)
		cfg := testConfig()
		cfg.AllowMissingStopLoss = true
		m := NewExitManager(cfg, testLogger())
		out, err := m.Refresh(ctx, ex, testID, p, nil)
		if err != nil {
			t.Fatal(err)
		}
		if !out.StopLossSkipped || out.State != domain.ExitConfirmed {
			t.Fatalf("outcome = %+v", out)
		}
		if tp, sl := ex.liveExits(testID); tp != 1 || sl != 0 {
			t.Fatalf("live exits tp=%d sl=%d", tp, sl)
		}
	})
}

func TestClientOrderPrefixIsPerIdentity(t *testing.T) {
	other := domain.BotIdentity{Symbol: testID.Symbol, BotName: "dca2"}
	if ClientOrderPrefix(testID, domain.ExitTakeProfit) == ClientOrderPrefix(other, domain.ExitTakeProfit) {
		t.Fatal("prefixes collide across identities")
	}
	if ClientOrderPrefix(testID, domain.ExitTakeProfit) == ClientOrderPrefix(testID, domain.ExitStopLoss) {
		t.Fatal("prefixes collide across kinds")
	}
	if n := len(newClientOrderID(testID, domain.ExitStopLoss)); n > 40 {
		t.Fatalf("client order id length %d", n)
	}
}
