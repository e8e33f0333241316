package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Position is the single open option position for an underlying.
type Position struct {
	Symbol        string          `json:"symbol"`
	Right         OptionRight     `json:"right"`
	Contract      Contract        `json:"contract"`
	Quantity      int64           `json:"quantity"`
	EntryPrice    decimal.Decimal `json:"entry_price"`
	ParentOrderID string          `json:"parent_order_id"`
	RunnerTrimmed bool            `json:"is_runner_trimmed"`
	OpenedAt      time.Time       `json:"opened_at"`
}

// PnLPercent returns the unrealized return of the position at mark, in percent.
func (p *Position) PnLPercent(mark decimal.Decimal) decimal.Decimal {
	if !p.EntryPrice.IsPositive() || !mark.IsPositive() {
		return decimal.Zero
	}
	return mark.Sub(p.EntryPrice).Div(p.EntryPrice).Mul(decimal.NewFromInt(100))
}
