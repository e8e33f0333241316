package risk

import (
	"fmt"

	"github.com/shopspring/decimal"

	"options_go/internal/domain"
)

var hundred = decimal.NewFromInt(100)

// Quantity returns floor(min(guiMax, tierMax, pdtMax) / ask).
func Quantity(guiMax, tierMax, pdtMax, ask decimal.Decimal) (int64, error) {
	if !ask.IsPositive() {
		return 0, fmt.Errorf("%w: ask %s", domain.ErrInvalidSizing, ask)
	}
	if guiMax.IsNegative() || tierMax.IsNegative() || pdtMax.IsNegative() {
		return 0, fmt.Errorf("%w: negative cap", domain.ErrInvalidSizing)
	}

	budget := decimal.Min(guiMax, tierMax, pdtMax)
	qty := budget.Div(ask).Floor().IntPart()
	if qty <= 0 {
		return 0, fmt.Errorf("%w: budget %s below ask %s", domain.ErrInvalidSizing, budget.StringFixed(2), ask)
	}
	return qty, nil
}

// SizingInput carries one consistent view of account, config and quote.
type SizingInput struct {
	AccountValue    decimal.Decimal
	DailyPnLPercent decimal.Decimal
	Currency        string
	MaxTradeValue   decimal.Decimal
	Tiers           []domain.RiskTier
	Ask             decimal.Decimal
}

// Sizing is the result of a full sizing pass.
type Sizing struct {
	Tier     domain.RiskTier
	GUIMax   decimal.Decimal
	TierMax  decimal.Decimal
	PDTMax   decimal.Decimal
	Quantity int64
}

// Budget returns the binding cap.
func (s Sizing) Budget() decimal.Decimal {
	return decimal.Min(s.GUIMax, s.TierMax, s.PDTMax)
}

// Size resolves the tier and computes the entry quantity.
func Size(in SizingInput) (Sizing, error) {
	tier, err := ResolveTier(in.Tiers, in.DailyPnLPercent)
	if err != nil {
		return Sizing{}, err
	}

	s := Sizing{
		Tier:    tier,
		GUIMax:  in.MaxTradeValue,
		TierMax: in.AccountValue.Mul(tier.AccountTradeLimitPct).Div(hundred),
		PDTMax:  PDTBuffer(in.AccountValue, in.Currency),
	}
	s.Quantity, err = Quantity(s.GUIMax, s.TierMax, s.PDTMax, in.Ask)
	if err != nil {
		return s, err
	}
	return s, nil
}
