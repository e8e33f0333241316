package event

import (
	"time"

	"options_go/internal/domain"
)

// Type names an event kind.
type Type string

const (
	TypeMarketUpdate Type = "MARKET_UPDATE"
	TypeOrderStatus  Type = "ORDER_STATUS"
	TypeConnection   Type = "CONNECTION"
	TypeExpirations  Type = "EXPIRATIONS"
)

// Event is anything the sequencer processes.
type Event interface {
	GetSeq() uint64
	SetSeq(seq uint64)
	GetTs() int64
	GetType() Type
}

// BaseEvent carries the sequence number and timestamp (unix millis).
type BaseEvent struct {
	Seq uint64 `json:"seq"`
	Ts  int64  `json:"ts"`
}

func (b *BaseEvent) GetSeq() uint64    { return b.Seq }
func (b *BaseEvent) SetSeq(seq uint64) { b.Seq = seq }
func (b *BaseEvent) GetTs() int64      { return b.Ts }

// Stamp sets the timestamp to now if it is unset.
func (b *BaseEvent) Stamp() {
	if b.Ts == 0 {
		b.Ts = time.Now().UnixMilli()
	}
}

// MarketUpdateEvent is a partial quote/account update from the data feed.
type MarketUpdateEvent struct {
	BaseEvent
	Update domain.MarketUpdate `json:"update"`
}

func (e *MarketUpdateEvent) GetType() Type { return TypeMarketUpdate }

// OrderStatusEvent is an order status change from the broker gateway.
type OrderStatusEvent struct {
	BaseEvent
	Status domain.OrderStatus `json:"status"`
}

func (e *OrderStatusEvent) GetType() Type { return TypeOrderStatus }

// ConnectionEvent reports a gateway connectivity change.
type ConnectionEvent struct {
	BaseEvent
	Connected bool   `json:"connected"`
	Reason    string `json:"reason,omitempty"`
}

func (e *ConnectionEvent) GetType() Type { return TypeConnection }

// ExpirationsEvent carries the option expirations listed for the underlying.
type ExpirationsEvent struct {
	BaseEvent
	Symbol      string   `json:"symbol"`
	Expirations []string `json:"expirations"`
}

func (e *ExpirationsEvent) GetType() Type { return TypeExpirations }
