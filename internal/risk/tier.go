package risk

import (
	"sort"

	"github.com/shopspring/decimal"

	"options_go/internal/domain"
)

// ResolveTier selects the risk tier for the given daily P&L percentage.
//
// The loss magnitude is max(0, -dailyPnL). The tier with the highest
// threshold not above the loss wins; equal thresholds resolve to the lower
// account trade limit. When no threshold is reached the smallest tier applies.
func ResolveTier(tiers []domain.RiskTier, dailyPnL decimal.Decimal) (domain.RiskTier, error) {
	if len(tiers) == 0 {
		return domain.RiskTier{}, domain.ErrNoTiersConfigured
	}

	ordered := SortTiers(tiers)
	loss := decimal.Max(decimal.Zero, dailyPnL.Neg())

	selected := ordered[0]
	for _, t := range ordered[1:] {
		if t.LossThresholdPct.GreaterThan(loss) && !t.LossThresholdPct.Equal(ordered[0].LossThresholdPct) {
			break
		}
		selected = t
	}
	return selected, nil
}

// SortTiers returns a copy ordered by ascending threshold. Among equal
// thresholds the more conservative tier sorts last so it wins resolution.
func SortTiers(tiers []domain.RiskTier) []domain.RiskTier {
	out := append([]domain.RiskTier(nil), tiers...)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !a.LossThresholdPct.Equal(b.LossThresholdPct) {
			return a.LossThresholdPct.LessThan(b.LossThresholdPct)
		}
		return a.AccountTradeLimitPct.GreaterThan(b.AccountTradeLimitPct)
	})
	return out
}
