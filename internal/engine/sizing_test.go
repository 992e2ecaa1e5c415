package engine

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/Runner89/mexc-trading-bot/internal/cache/memory"
	"github.com/Runner89/mexc-trading-bot/internal/domain"
)

func TestBaseNotional(t *testing.T) {
	tests := []struct {
		name                   string
		margin, buffer, factor float64
		leverage               int
		want                   float64
	}{
		{"reference", 1000, 96, 0.001, 2, 1.808},
		{"no buffer", 500, 0, 0.01, 3, 15},
		{"buffer above margin", 50, 96, 0.001, 2, 0},
		{"zero factor", 1000, 96, 0, 2, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := BaseNotional(tt.margin, tt.leverage, tt.buffer, tt.factor)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Fatalf("BaseNotional = %v, want %v", got, tt.want)
			}
		})
	}
}

func margin(v float64) func(context.Context) (float64, error) {
	return func(context.Context) (float64, error) { return v, nil }
}

func TestSizerGeometricGrowth(t *testing.T) {
	ctx := context.Background()
	s := NewSizer(memory.NewLedger(), testConfig(), testLogger())
	in := SizingInput{Leverage: 2, SafetyBuffer: 96, BaseOrderFactor: 0.001, GrowthFactor: 1.4, Margin: margin(1000)}

	state := domain.PositionState{Identity: testID, Phase: domain.PhaseFlat}
	dec, err := s.ComputeOrderSize(ctx, testID, state, in)
	if err != nil {
		t.Fatalf("base: %v", err)
	}
	if !dec.Base || math.Abs(dec.Notional-1.808) > 1e-9 {
		t.Fatalf("base decision = %+v, want base 1.808", dec)
	}
	n0 := dec.Notional
	if err := s.Commit(ctx, testID, n0); err != nil {
		t.Fatalf("commit: %v", err)
	}

	state.Phase = domain.PhaseAccumulating
	for n := 1; n <= 6; n++ {
		dec, err := s.ComputeOrderSize(ctx, testID, state, in)
		if err != nil {
			t.Fatalf("safety %d: %v", n, err)
		}
		want := n0 * math.Pow(1.4, float64(n))
		if math.Abs(dec.Notional-want) > 1e-9 {
			t.Fatalf("notional(%d) = %v, want %v", n, dec.Notional, want)
		}
		if dec.Base || dec.Source != SizeFromMemory {
			t.Fatalf("safety %d decision = %+v", n, dec)
		}
		if err := s.Commit(ctx, testID, dec.Notional); err != nil {
			t.Fatalf("commit %d: %v", n, err)
		}
	}

	if dec, _ := s.ComputeOrderSize(ctx, testID, state, in); math.Abs(dec.Notional-2.5312*math.Pow(1.4, 6)) > 1e-9 {
		t.Fatalf("notional(7) = %v", dec.Notional)
	}
}

func TestSizerRecoversFromLedger(t *testing.T) {
	ctx := context.Background()
	ledger := memory.NewLedger()
	if err := ledger.WriteCachedSize(ctx, testID, 2.5312); err != nil {
		t.Fatal(err)
	}

	s := NewSizer(ledger, testConfig(), testLogger())
	state := domain.PositionState{Identity: testID, Phase: domain.PhaseAccumulating}
	dec, err := s.ComputeOrderSize(ctx, testID, state, SizingInput{GrowthFactor: 2, Margin: margin(1000)})
	if err != nil {
		t.Fatal(err)
	}
	if dec.Source != SizeFromLedger || math.Abs(dec.Notional-5.0624) > 1e-9 {
		t.Fatalf("decision = %+v, want 5.0624 from ledger", dec)
	}
}

func TestSizerFallsBackToBaseWithoutRecord(t *testing.T) {
	s := NewSizer(memory.NewLedger(), testConfig(), testLogger())
	state := domain.PositionState{Identity: testID, Phase: domain.PhaseAccumulating}
	in := SizingInput{Leverage: 2, SafetyBuffer: 96, BaseOrderFactor: 0.001, GrowthFactor: 1.4, Margin: margin(1000)}

	dec, err := s.ComputeOrderSize(context.Background(), testID, state, in)
	if err != nil {
		t.Fatal(err)
	}
	if !dec.Base || math.Abs(dec.Notional-1.808) > 1e-9 {
		t.Fatalf("decision = %+v, want base 1.808", dec)
	}
}

func TestSizerMarginFailureFailsClosed(t *testing.T) {
	s := NewSizer(memory.NewLedger(), testConfig(), testLogger())
	in := SizingInput{
		Leverage: 2,
		Margin:   func(context.Context) (float64, error) { return 0, errBoom },
	}
	_, err := s.ComputeOrderSize(context.Background(), testID, domain.PositionState{Phase: domain.PhaseFlat}, in)
	if !errors.Is(err, domain.ErrInsufficientData) {
		t.Fatalf("err = %v, want ErrInsufficientData", err)
	}
}

func TestSizerForget(t *testing.T) {
	ctx := context.Background()
	ledger := memory.NewLedger()
	s := NewSizer(ledger, testConfig(), testLogger())
	if err := s.Commit(ctx, testID, 3); err != nil {
		t.Fatal(err)
	}
	if err := s.Forget(ctx, testID); err != nil {
		t.Fatal(err)
	}
	if _, err := ledger.ReadCachedSize(ctx, testID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("size record still present: %v", err)
	}
}
