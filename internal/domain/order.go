package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of an order.
type Side string

// OrderKind is the execution type sent to the broker.
type OrderKind string

// OrderState tracks an order through its lifecycle.
type OrderState string

// OrderRole records why the engine placed an order.
type OrderRole string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"

	OrderKindMarket OrderKind = "MARKET"
	OrderKindLimit  OrderKind = "LIMIT"
	OrderKindStop   OrderKind = "STOP"

	OrderStateNew             OrderState = "NEW"
	OrderStateSubmitted       OrderState = "SUBMITTED"
	OrderStatePartiallyFilled OrderState = "PARTIALLY_FILLED"
	OrderStateFilled          OrderState = "FILLED"
	OrderStateCancelled       OrderState = "CANCELLED"
	OrderStateRejected        OrderState = "REJECTED"

	RoleEntry      OrderRole = "ENTRY"
	RoleExit       OrderRole = "EXIT"
	RoleStopLoss   OrderRole = "STOP_LOSS"
	RoleTakeProfit OrderRole = "TAKE_PROFIT"
	RolePanic      OrderRole = "PANIC"
)

// Contract identifies a single option series.
type Contract struct {
	Symbol     string          `json:"symbol"`
	Right      OptionRight     `json:"right"`
	Expiry     string          `json:"expiry"` // YYYYMMDD
	Strike     decimal.Decimal `json:"strike"`
	Multiplier int             `json:"multiplier"`
}

// OrderRequest is what the engine hands to the Broker Gateway.
type OrderRequest struct {
	Contract       Contract        `json:"contract"`
	Side           Side            `json:"side"`
	Kind           OrderKind       `json:"kind"`
	Quantity       int64           `json:"quantity"`
	LimitPrice     decimal.Decimal `json:"limit_price"`
	StopPrice      decimal.Decimal `json:"stop_price"`
	OCAGroup       string          `json:"oca_group,omitempty"`
	GoodTillCancel bool            `json:"gtc"`
}

// Order is the engine's record of a submitted order.
// Quantities are whole contracts.
type Order struct {
	ID           string          `json:"id"`
	Contract     Contract        `json:"contract"`
	Side         Side            `json:"side"`
	Kind         OrderKind       `json:"kind"`
	Role         OrderRole       `json:"role"`
	Quantity     int64           `json:"quantity"`
	Remaining    int64           `json:"remaining"`
	Filled       int64           `json:"filled"`
	AvgFillPrice decimal.Decimal `json:"avg_fill_price"`
	LimitPrice   decimal.Decimal `json:"limit_price"`
	StopPrice    decimal.Decimal `json:"stop_price"`
	OCAGroup     string          `json:"oca_group,omitempty"`
	ParentID     string          `json:"parent_id,omitempty"`
	State        OrderState      `json:"state"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`

	// Tier is the risk tier resolved when an entry was sized; brackets use it on fill.
	Tier *RiskTier `json:"tier,omitempty"`
}

// NewOrder builds a submitted order record from an acknowledged request.
func NewOrder(id string, req OrderRequest, role OrderRole, now time.Time) *Order {
	return &Order{
		ID:         id,
		Contract:   req.Contract,
		Side:       req.Side,
		Kind:       req.Kind,
		Role:       role,
		Quantity:   req.Quantity,
		Remaining:  req.Quantity,
		LimitPrice: req.LimitPrice,
		StopPrice:  req.StopPrice,
		OCAGroup:   req.OCAGroup,
		State:      OrderStateSubmitted,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// Symbol returns the underlying of the order's contract.
func (o *Order) Symbol() string {
	return o.Contract.Symbol
}

// IsOpen checks if the order can still trade.
func (o *Order) IsOpen() bool {
	switch o.State {
	case OrderStateNew, OrderStateSubmitted, OrderStatePartiallyFilled:
		return true
	}
	return false
}

// IsExit reports whether a fill on this order reduces a position.
func (o *Order) IsExit() bool {
	return o.Side == SideSell
}

// ApplyStatus folds a broker status event into the order and returns the
// number of newly filled contracts. FilledQty in the event is cumulative.
// Filled, cancelled and rejected are final: a late report still counts its
// fills but never reopens the order.
func (o *Order) ApplyStatus(ev OrderStatus, now time.Time) int64 {
	final := !o.IsOpen()
	delta := ev.FilledQty - o.Filled
	if delta < 0 {
		delta = 0
	}
	if delta > 0 {
		// Weighted average of the previous fills and this slice.
		prev := o.AvgFillPrice.Mul(decimal.NewFromInt(o.Filled))
		slice := ev.FillPrice.Mul(decimal.NewFromInt(delta))
		o.Filled = ev.FilledQty
		o.AvgFillPrice = prev.Add(slice).Div(decimal.NewFromInt(o.Filled))
	}
	if final {
		o.UpdatedAt = now
		return delta
	}
	if ev.RemainingQty >= 0 && ev.RemainingQty <= o.Quantity {
		o.Remaining = ev.RemainingQty
	}

	switch ev.Status {
	case StatusFilled:
		o.State = OrderStateFilled
		o.Remaining = 0
	case StatusCancelled:
		o.State = OrderStateCancelled
	case StatusRejected:
		o.State = OrderStateRejected
	case StatusPartiallyFilled:
		o.State = OrderStatePartiallyFilled
	case StatusSubmitted:
		if o.Filled > 0 {
			o.State = OrderStatePartiallyFilled
		} else if o.State == OrderStateNew {
			o.State = OrderStateSubmitted
		}
	}
	if o.State == OrderStatePartiallyFilled && o.Remaining == 0 {
		o.State = OrderStateFilled
	}
	o.UpdatedAt = now
	return delta
}

// BrokerStatus is the status string reported by the gateway.
type BrokerStatus string

const (
	StatusSubmitted       BrokerStatus = "Submitted"
	StatusPartiallyFilled BrokerStatus = "PartiallyFilled"
	StatusFilled          BrokerStatus = "Filled"
	StatusCancelled       BrokerStatus = "Cancelled"
	StatusRejected        BrokerStatus = "Rejected"
)

// OrderStatus is one inbound order event from the Broker Gateway.
type OrderStatus struct {
	OrderID      string          `json:"order_id"`
	Status       BrokerStatus    `json:"status"`
	FilledQty    int64           `json:"filled_qty"`
	RemainingQty int64           `json:"remaining_qty"`
	FillPrice    decimal.Decimal `json:"fill_price"`
}

// IsTerminal reports whether no further events are expected for the order.
func (s OrderStatus) IsTerminal() bool {
	return s.Status == StatusFilled || s.Status == StatusCancelled || s.Status == StatusRejected
}
