package risk

import (
	"strings"

	"github.com/shopspring/decimal"

	"options_go/internal/domain"
)

var (
	pdtMinimumUSD = decimal.NewFromInt(2000)
	pdtMinimumCAD = decimal.NewFromInt(2500)

	// PDTBufferRatio is the share of the excess equity that may be risked.
	PDTBufferRatio = decimal.RequireFromString("0.80")
)

// PDTMinimum returns the minimum equity for the account currency.
// Unknown currencies fall back to the USD minimum.
func PDTMinimum(currency string) decimal.Decimal {
	if strings.EqualFold(currency, domain.CurrencyCAD) {
		return pdtMinimumCAD
	}
	return pdtMinimumUSD
}

// PDTBuffer is the maximum trade value that keeps the account above the PDT minimum.
func PDTBuffer(netLiquidation decimal.Decimal, currency string) decimal.Decimal {
	excess := netLiquidation.Sub(PDTMinimum(currency))
	if !excess.IsPositive() {
		return decimal.Zero
	}
	return excess.Mul(PDTBufferRatio)
}
