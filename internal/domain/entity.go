package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderRecord is the persisted row of an order in the trade journal.
type OrderRecord struct {
	ID           string          `gorm:"primaryKey" json:"id"`
	Symbol       string          `gorm:"index" json:"symbol"`
	Right        string          `json:"right"`
	Expiry       string          `json:"expiry"`
	Strike       decimal.Decimal `gorm:"type:text" json:"strike"`
	Side         string          `json:"side"`
	Kind         string          `json:"kind"`
	Role         string          `json:"role"`
	Quantity     int64           `json:"quantity"`
	Filled       int64           `json:"filled"`
	AvgFillPrice decimal.Decimal `gorm:"type:text" json:"avg_fill_price"`
	LimitPrice   decimal.Decimal `gorm:"type:text" json:"limit_price"`
	StopPrice    decimal.Decimal `gorm:"type:text" json:"stop_price"`
	OCAGroup     string          `json:"oca_group"`
	ParentID     string          `json:"parent_id"`
	State        string          `gorm:"index" json:"state"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// FillRecord is one execution in the trade journal.
type FillRecord struct {
	ID         uint            `gorm:"primaryKey;autoIncrement" json:"id"`
	OrderID    string          `gorm:"index" json:"order_id"`
	Symbol     string          `gorm:"index" json:"symbol"`
	Right      string          `json:"right"`
	Expiry     string          `json:"expiry"`
	Side       string          `json:"side"`
	Role       string          `json:"role"`
	Quantity   int64           `json:"quantity"`
	Price      decimal.Decimal `gorm:"type:text" json:"price"`
	Multiplier int             `json:"multiplier"`
	TradeDay   string          `gorm:"index" json:"trade_day"` // YYYY-MM-DD in exchange time
	ExecutedAt time.Time       `json:"executed_at"`
}

// NewOrderRecord flattens an order for storage.
func NewOrderRecord(o Order) OrderRecord {
	return OrderRecord{
		ID:           o.ID,
		Symbol:       o.Contract.Symbol,
		Right:        string(o.Contract.Right),
		Expiry:       o.Contract.Expiry,
		Strike:       o.Contract.Strike,
		Side:         string(o.Side),
		Kind:         string(o.Kind),
		Role:         string(o.Role),
		Quantity:     o.Quantity,
		Filled:       o.Filled,
		AvgFillPrice: o.AvgFillPrice,
		LimitPrice:   o.LimitPrice,
		StopPrice:    o.StopPrice,
		OCAGroup:     o.OCAGroup,
		ParentID:     o.ParentID,
		State:        string(o.State),
		CreatedAt:    o.CreatedAt,
		UpdatedAt:    o.UpdatedAt,
	}
}

// EventRecord is one sequenced gateway or feed event, stored as JSON.
type EventRecord struct {
	Seq       uint64    `gorm:"primaryKey;autoIncrement:false" json:"seq"`
	Type      string    `gorm:"index" json:"type"`
	Ts        int64     `json:"ts"`
	Payload   string    `json:"payload"`
	CreatedAt time.Time `json:"created_at"`
}

// AppConfig represents user-specific configuration (Key-Value)
type AppConfig struct {
	Key       string    `gorm:"primaryKey" json:"key"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}
