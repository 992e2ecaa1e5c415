package domain

import "time"

// Action is the instruction carried by a webhook event.
type Action string

const (
	ActionBase     Action = "base"
	ActionIncrease Action = "increase"
	ActionClose    Action = "close"
)

// DecayRule lowers the take-profit percentage of a stalled position.
// A zero threshold disables that trigger.
type DecayRule struct {
	AfterHours               float64 `json:"afterHours,omitempty"`
	AfterSafetyOrders        int     `json:"afterSafetyOrders,omitempty"`
	DecayedTakeProfitPercent float64 `json:"decayedTakeProfitPercent,omitempty"`
}

// Enabled reports whether the rule can ever fire.
func (d DecayRule) Enabled() bool {
	return d.DecayedTakeProfitPercent > 0 && (d.AfterHours > 0 || d.AfterSafetyOrders > 0)
}

// Event is the typed, validated form of an inbound webhook.
type Event struct {
	ID             string
	IdempotencyKey string
	ReceivedAt     time.Time

	Identity    BotIdentity
	Credentials Credentials
	Side        Side
	Action      Action
	Stop        bool // "beenden": suppress base orders after close

	Leverage              int
	SafetyBuffer          float64
	BaseOrderFactor       float64
	GrowthFactor          float64
	TakeProfitPercent     float64
	StopLossBufferPercent float64
	Decay                 DecayRule

	// AlertAfterSafetyOrders overrides the configured alert threshold when > 0.
	AlertAfterSafetyOrders int
}

// EventResult is the auditable outcome of one event. Every computed
// intermediate is included so an operator can reconstruct the handling.
type EventResult struct {
	EventID  string      `json:"eventId"`
	Identity BotIdentity `json:"identity"`
	Side     Side        `json:"side"`
	Action   Action      `json:"action"`
	Error    bool        `json:"error"`
	Message  string      `json:"message,omitempty"`

	AvailableMargin  float64   `json:"availableMargin,omitempty"`
	Notional         float64   `json:"notional,omitempty"`
	Price            float64   `json:"price,omitempty"`
	Quantity         float64   `json:"quantity,omitempty"`
	EntryOrder       *OrderAck `json:"entryOrder,omitempty"`
	CloseOrder       *OrderAck `json:"closeOrder,omitempty"`
	PositionSize     float64   `json:"positionSize"`
	LiquidationPrice float64   `json:"liquidationPrice,omitempty"`

	AvgPrice        float64 `json:"avgPrice,omitempty"`
	AvgSource       string  `json:"avgSource,omitempty"`
	EntryCount      int     `json:"entryCount"`
	Degraded        bool    `json:"degraded"`
	TakeProfitPct   float64 `json:"takeProfitPercent,omitempty"`
	TakeProfitPrice float64 `json:"takeProfitPrice,omitempty"`
	StopLossPrice   float64 `json:"stopLossPrice,omitempty"`

	ExitState ExitState `json:"exitState,omitempty"`

	SafetyOrderCount int  `json:"safetyOrderCount"`
	AlertSent        bool `json:"alertSent"`
	NoOrderOpened    bool `json:"noOrderOpened,omitempty"`

	Logs []string `json:"logs"`
}
