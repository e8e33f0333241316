package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// DefaultChaseTimeout is the wait before an unfilled exit limit is converted to market.
const DefaultChaseTimeout = 10 * time.Second

// TradingConfig is the engine's runtime configuration. Values are copied
// out under the config lock so one calculation sees a single version.
type TradingConfig struct {
	UnderlyingSymbol string          `json:"underlying_symbol"`
	TradeDelta       decimal.Decimal `json:"trade_delta"`
	MaxTradeValue    decimal.Decimal `json:"max_trade_value"`
	Runner           int64           `json:"runner"`
	RiskTiers        []RiskTier      `json:"risk_levels"`
	Currency         string          `json:"currency"`
	ChaseTimeout     time.Duration   `json:"chase_timeout"`
}

// Clone returns a copy that shares no slices with c.
func (c TradingConfig) Clone() TradingConfig {
	out := c
	out.RiskTiers = append([]RiskTier(nil), c.RiskTiers...)
	return out
}

// TradingConfigPatch is a partial update; nil fields are left unchanged.
type TradingConfigPatch struct {
	UnderlyingSymbol *string          `json:"underlying_symbol,omitempty"`
	TradeDelta       *decimal.Decimal `json:"trade_delta,omitempty"`
	MaxTradeValue    *decimal.Decimal `json:"max_trade_value,omitempty"`
	Runner           *int64           `json:"runner,omitempty"`
	RiskTiers        []RiskTier       `json:"risk_levels,omitempty"`
	Currency         *string          `json:"currency,omitempty"`
	ChaseTimeout     *time.Duration   `json:"chase_timeout,omitempty"`
}

// Merge applies the patch to a copy of c.
func (p TradingConfigPatch) Merge(c TradingConfig) TradingConfig {
	out := c.Clone()
	if p.UnderlyingSymbol != nil {
		out.UnderlyingSymbol = *p.UnderlyingSymbol
	}
	if p.TradeDelta != nil {
		out.TradeDelta = *p.TradeDelta
	}
	if p.MaxTradeValue != nil {
		out.MaxTradeValue = *p.MaxTradeValue
	}
	if p.Runner != nil {
		out.Runner = *p.Runner
	}
	if p.RiskTiers != nil {
		out.RiskTiers = append([]RiskTier(nil), p.RiskTiers...)
	}
	if p.Currency != nil {
		out.Currency = *p.Currency
	}
	if p.ChaseTimeout != nil {
		out.ChaseTimeout = *p.ChaseTimeout
	}
	return out
}
