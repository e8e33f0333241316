package bridge

import (
	"github.com/shopspring/decimal"

	"options_go/internal/domain"
)

// Operations understood by the broker sidecar.
const (
	opSubmit      = "submit"
	opCancel      = "cancel"
	opExpirations = "expirations"
	opSubscribe   = "subscribe"
)

// Inbound message types.
const (
	msgAck         = "ack"
	msgOrderStatus = "order_status"
	msgMarket      = "market"
	msgExpirations = "expirations"
)

// request is one outbound message. ID correlates the sidecar's ack.
type request struct {
	ID      string        `json:"id"`
	Op      string        `json:"op"`
	Account string        `json:"account,omitempty"`
	Symbol  string        `json:"symbol,omitempty"`
	OrderID string        `json:"order_id,omitempty"`
	Order   *orderPayload `json:"order,omitempty"`
}

// orderPayload is the wire form of an OrderRequest. Prices travel as strings.
type orderPayload struct {
	Symbol     string `json:"symbol"`
	Right      string `json:"right"`
	Expiry     string `json:"expiry"`
	Strike     string `json:"strike"`
	Multiplier int    `json:"multiplier"`
	Side       string `json:"side"`
	Type       string `json:"type"`
	Quantity   int64  `json:"quantity"`
	LimitPrice string `json:"limit_price,omitempty"`
	StopPrice  string `json:"stop_price,omitempty"`
	OCAGroup   string `json:"oca_group,omitempty"`
	TIF        string `json:"tif"`
}

func newOrderPayload(req domain.OrderRequest) *orderPayload {
	p := &orderPayload{
		Symbol:     req.Contract.Symbol,
		Right:      string(req.Contract.Right),
		Expiry:     req.Contract.Expiry,
		Strike:     req.Contract.Strike.String(),
		Multiplier: req.Contract.Multiplier,
		Side:       string(req.Side),
		Type:       string(req.Kind),
		Quantity:   req.Quantity,
		OCAGroup:   req.OCAGroup,
		TIF:        "DAY",
	}
	if req.GoodTillCancel {
		p.TIF = "GTC"
	}
	if req.LimitPrice.IsPositive() {
		p.LimitPrice = req.LimitPrice.String()
	}
	if req.StopPrice.IsPositive() {
		p.StopPrice = req.StopPrice.String()
	}
	return p
}

// message is any inbound frame. Only the fields of its Type are set.
type message struct {
	Type string `json:"type"`

	// ack
	ID          string   `json:"id,omitempty"`
	OrderID     string   `json:"order_id,omitempty"`
	Error       string   `json:"error,omitempty"`
	Expirations []string `json:"expirations,omitempty"`

	// order_status
	Status *statusPayload `json:"status,omitempty"`

	// market
	Update *domain.MarketUpdate `json:"update,omitempty"`

	// expirations push
	Symbol string `json:"symbol,omitempty"`
}

type statusPayload struct {
	OrderID      string          `json:"order_id"`
	Status       string          `json:"status"`
	FilledQty    int64           `json:"filled_qty"`
	RemainingQty int64           `json:"remaining_qty"`
	FillPrice    decimal.Decimal `json:"fill_price"`
}

func (s statusPayload) toDomain() domain.OrderStatus {
	return domain.OrderStatus{
		OrderID:      s.OrderID,
		Status:       domain.BrokerStatus(s.Status),
		FilledQty:    s.FilledQty,
		RemainingQty: s.RemainingQty,
		FillPrice:    s.FillPrice,
	}
}
