package domain

import "time"

// Phase is the lifecycle phase of a bot's position.
type Phase string

const (
	PhaseFlat         Phase = "FLAT"
	PhaseAccumulating Phase = "ACCUMULATING"
	PhaseClosed       Phase = "CLOSED"
)

// LifecycleStatus records whether the fill ledger could be trusted during
// the current epoch.
type LifecycleStatus string

const (
	StatusOK       LifecycleStatus = "OK"
	StatusDegraded LifecycleStatus = "DEGRADED"
)

// PositionState is the per-identity view of one accumulating position.
type PositionState struct {
	Identity         BotIdentity     `json:"identity"`
	Side             Side            `json:"side"`
	Phase            Phase           `json:"phase"`
	Status           LifecycleStatus `json:"status"`
	Quantity         float64         `json:"quantity"`
	LiquidationPrice float64         `json:"liquidationPrice"`
	AvgEntryPrice    float64         `json:"avgEntryPrice"`
	SafetyOrderCount int             `json:"safetyOrderCount"`
	BaseOrderTime    time.Time       `json:"baseOrderTime"`
	StopRequested    bool            `json:"stopRequested"`

	// LedgerTainted is set when the ledger could not be reset at the start of
	// the epoch; averages then come from the exchange until the next epoch.
	LedgerTainted bool `json:"ledgerTainted"`
}

// Open reports whether the state tracks a live position.
func (s *PositionState) Open() bool {
	return s.Phase == PhaseAccumulating
}

// Reset returns the state to FLAT, keeping identity, side and stop flag.
func (s *PositionState) Reset() {
	*s = PositionState{
		Identity:      s.Identity,
		Side:          s.Side,
		Phase:         PhaseFlat,
		Status:        StatusOK,
		StopRequested: s.StopRequested,
	}
}

// PositionSnapshot is the exchange-reported view of a position.
type PositionSnapshot struct {
	Size             float64 `json:"size"`
	LiquidationPrice float64 `json:"liquidationPrice"`
	AvgPrice         float64 `json:"avgPrice"`
}

// Fill is one filled entry order recorded in the ledger.
type Fill struct {
	Price     float64   `json:"price"`
	Quantity  float64   `json:"qty"`
	Timestamp time.Time `json:"ts"`
}
