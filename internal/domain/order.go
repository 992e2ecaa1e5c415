package domain

// OrderKind is the exchange order type produced by the engine.
type OrderKind string

const (
	OrderKindMarket OrderKind = "MARKET"
	OrderKindLimit  OrderKind = "LIMIT"
	OrderKindStop   OrderKind = "STOP"
)

// OrderIntent is a transient order request handed to the exchange.
type OrderIntent struct {
	Symbol        string
	Kind          OrderKind
	Side          Side // position side the order acts on
	Close         bool // reduces the position instead of growing it
	Quantity      float64
	Price         float64 // LIMIT only
	StopPrice     float64 // STOP only
	ClientOrderID string
}

// ExchangeSide returns BUY or SELL for the intent.
func (o OrderIntent) ExchangeSide() string {
	if o.Close {
		return o.Side.CloseOrderSide()
	}
	return o.Side.OpenOrderSide()
}

// Exchange order statuses the engine inspects.
const (
	OrderStatusNew             = "NEW"
	OrderStatusPartiallyFilled = "PARTIALLY_FILLED"
	OrderStatusFilled          = "FILLED"
	OrderStatusPending         = "PENDING"
	OrderStatusRejected        = "REJECTED"
	OrderStatusCanceled        = "CANCELED"
)

// OrderAck is the exchange's synchronous answer to an order placement.
type OrderAck struct {
	OrderID       string  `json:"orderId"`
	ClientOrderID string  `json:"clientOrderId,omitempty"`
	Status        string  `json:"status"`
	AvgPrice      float64 `json:"avgPrice"`
	ExecutedQty   float64 `json:"executedQty"`
}

// Live reports whether a resting (limit or stop) order was accepted.
func (a OrderAck) Live() bool {
	switch a.Status {
	case OrderStatusNew, OrderStatusPending, OrderStatusPartiallyFilled:
		return true
	}
	return false
}

// Filled reports whether a market order executed.
func (a OrderAck) Filled() bool {
	return a.Status == OrderStatusFilled || (a.Status == OrderStatusPartiallyFilled && a.ExecutedQty > 0)
}

// OpenOrder is a resting order as listed by the exchange.
type OpenOrder struct {
	OrderID       string    `json:"orderId"`
	ClientOrderID string    `json:"clientOrderId"`
	Symbol        string    `json:"symbol"`
	Side          string    `json:"side"`
	PositionSide  Side      `json:"positionSide"`
	Kind          OrderKind `json:"kind"`
	Quantity      float64   `json:"quantity"`
	Price         float64   `json:"price"`
	StopPrice     float64   `json:"stopPrice"`
}

// ExitKind distinguishes the two protective orders.
type ExitKind string

const (
	ExitTakeProfit ExitKind = "tp"
	ExitStopLoss   ExitKind = "sl"
)

// ExitState is the ExitOrderManager state for one identity.
type ExitState string

const (
	ExitNone           ExitState = "NONE"
	ExitPending        ExitState = "PENDING"
	ExitConfirmed      ExitState = "CONFIRMED"
	ExitFailed         ExitState = "FAILED"
	ExitEscalatedClose ExitState = "ESCALATED_CLOSE"
)

// ExitPair is the live protective pair for one identity.
type ExitPair struct {
	TakeProfitOrderID string  `json:"takeProfitOrderId,omitempty"`
	StopLossOrderID   string  `json:"stopLossOrderId,omitempty"`
	TakeProfitPrice   float64 `json:"takeProfitPrice"`
	StopLossPrice     float64 `json:"stopLossPrice"`
	Quantity          float64 `json:"quantity"`
}
