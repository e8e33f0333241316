package risk

import "github.com/shopspring/decimal"

var (
	tickThreshold = decimal.NewFromInt(3)
	tickBelow     = decimal.RequireFromString("0.05")
	tickAbove     = decimal.RequireFromString("0.10")
)

// TickSize returns the minimum price increment for an option at price.
func TickSize(price decimal.Decimal) decimal.Decimal {
	if price.LessThan(tickThreshold) {
		return tickBelow
	}
	return tickAbove
}

// ValidTick reports whether price is a positive multiple of its tick size.
func ValidTick(price decimal.Decimal) bool {
	if !price.IsPositive() {
		return false
	}
	return price.Mod(TickSize(price)).IsZero()
}
