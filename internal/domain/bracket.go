package domain

import "github.com/shopspring/decimal"

// BracketState is the lifecycle of a stop-loss/take-profit pair.
type BracketState string

const (
	BracketActive    BracketState = "ACTIVE"
	BracketOneFilled BracketState = "ONE_FILLED"
	BracketClosed    BracketState = "CLOSED"
	BracketCancelled BracketState = "CANCELLED"
)

// BracketGroup holds the exit children of one entry order.
// At least one of StopOrderID and ProfitOrderID is set.
type BracketGroup struct {
	ParentOrderID string          `json:"parent_order_id"`
	Symbol        string          `json:"symbol"`
	Contract      Contract        `json:"contract"`
	StopOrderID   string          `json:"stop_order_id,omitempty"`
	ProfitOrderID string          `json:"profit_order_id,omitempty"`
	StopPrice     decimal.Decimal `json:"stop_price"`
	ProfitPrice   decimal.Decimal `json:"profit_price"`
	EntryPrice    decimal.Decimal `json:"entry_price"`
	Quantity      int64           `json:"quantity"`
	OCAGroup      string          `json:"oca_group,omitempty"`
	State         BracketState    `json:"state"`
}

// IsLive reports whether the group can still produce fills.
func (g *BracketGroup) IsLive() bool {
	return g.State == BracketActive || g.State == BracketOneFilled
}

// LegIDs returns the ids of the legs that are still attached.
func (g *BracketGroup) LegIDs() []string {
	ids := make([]string, 0, 2)
	if g.StopOrderID != "" {
		ids = append(ids, g.StopOrderID)
	}
	if g.ProfitOrderID != "" {
		ids = append(ids, g.ProfitOrderID)
	}
	return ids
}
