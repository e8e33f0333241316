package domain

import "github.com/shopspring/decimal"

// RiskTier maps a daily loss threshold to sizing and exit limits.
// StopLossPct and ProfitGainPct are optional; an empty value places no leg.
type RiskTier struct {
	LossThresholdPct     decimal.Decimal     `json:"loss_threshold_pct"`
	AccountTradeLimitPct decimal.Decimal     `json:"account_trade_limit_pct"`
	StopLossPct          decimal.NullDecimal `json:"stop_loss_pct"`
	ProfitGainPct        decimal.NullDecimal `json:"profit_gain_pct"`
}

// HasStop reports whether a stop-loss leg is configured.
func (t RiskTier) HasStop() bool {
	return t.StopLossPct.Valid && t.StopLossPct.Decimal.IsPositive()
}

// HasProfit reports whether a take-profit leg is configured.
func (t RiskTier) HasProfit() bool {
	return t.ProfitGainPct.Valid && t.ProfitGainPct.Decimal.IsPositive()
}

// Currency codes used for PDT minimums.
const (
	CurrencyUSD = "USD"
	CurrencyCAD = "CAD"
)
