package domain

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// OptionRight is CALL or PUT.
type OptionRight string

const (
	RightCall OptionRight = "CALL"
	RightPut  OptionRight = "PUT"
)

// ParseOptionRight accepts CALL/PUT in any case, and the C/P shorthand.
func ParseOptionRight(s string) (OptionRight, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "CALL", "C":
		return RightCall, nil
	case "PUT", "P":
		return RightPut, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidOptionRight, s)
}

// Quote is the top of book for one option series.
type Quote struct {
	Bid    decimal.Decimal `json:"bid"`
	Ask    decimal.Decimal `json:"ask"`
	Last   decimal.Decimal `json:"last"`
	Strike decimal.Decimal `json:"strike"`
}

// Mid returns the bid/ask midpoint.
func (q Quote) Mid() decimal.Decimal {
	return q.Bid.Add(q.Ask).Div(decimal.NewFromInt(2))
}

// Mark is the price used for P&L: midpoint when both sides are quoted, else last.
func (q Quote) Mark() decimal.Decimal {
	if q.Bid.IsPositive() && q.Ask.IsPositive() {
		return q.Mid()
	}
	return q.Last
}

// IsZero reports whether nothing has been quoted yet.
func (q Quote) IsZero() bool {
	return q.Bid.IsZero() && q.Ask.IsZero() && q.Last.IsZero()
}

// MarketSnapshot is the engine's immutable view of market and account state.
// A new snapshot replaces the old one on every update.
type MarketSnapshot struct {
	UnderlyingPrice decimal.Decimal `json:"underlying_price"`
	Call            Quote           `json:"call"`
	Put             Quote           `json:"put"`
	AccountValue    decimal.Decimal `json:"account_value"`
	DailyPnLPercent decimal.Decimal `json:"daily_pnl_percent"`
	Currency        string          `json:"currency"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// Quote returns the quote for the given right.
func (s *MarketSnapshot) Quote(right OptionRight) Quote {
	if right == RightPut {
		return s.Put
	}
	return s.Call
}

// QuoteUpdate is a partial quote; nil fields keep the previous value.
type QuoteUpdate struct {
	Bid    *float64 `json:"bid,omitempty"`
	Ask    *float64 `json:"ask,omitempty"`
	Last   *float64 `json:"last,omitempty"`
	Strike *float64 `json:"strike,omitempty"`
}

// MarketUpdate is what the Market Data Feed pushes. Nil fields are unchanged.
type MarketUpdate struct {
	Call            *QuoteUpdate `json:"call,omitempty"`
	Put             *QuoteUpdate `json:"put,omitempty"`
	UnderlyingPrice *float64     `json:"underlying_price,omitempty"`
	AccountValue    *float64     `json:"account_value,omitempty"`
	DailyPnLPercent *float64     `json:"daily_pnl_percent,omitempty"`
}

// Apply builds the next snapshot from prev and the update. prev is not modified.
// Non-finite values reject the whole update.
func (u MarketUpdate) Apply(prev MarketSnapshot, now time.Time) (MarketSnapshot, error) {
	next := prev
	var err error
	if u.Call != nil {
		if next.Call, err = u.Call.apply(prev.Call); err != nil {
			return prev, fmt.Errorf("call quote: %w", err)
		}
	}
	if u.Put != nil {
		if next.Put, err = u.Put.apply(prev.Put); err != nil {
			return prev, fmt.Errorf("put quote: %w", err)
		}
	}
	if next.UnderlyingPrice, err = optional(u.UnderlyingPrice, prev.UnderlyingPrice); err != nil {
		return prev, fmt.Errorf("underlying price: %w", err)
	}
	if next.AccountValue, err = optional(u.AccountValue, prev.AccountValue); err != nil {
		return prev, fmt.Errorf("account value: %w", err)
	}
	if next.DailyPnLPercent, err = optional(u.DailyPnLPercent, prev.DailyPnLPercent); err != nil {
		return prev, fmt.Errorf("daily pnl: %w", err)
	}
	next.UpdatedAt = now
	return next, nil
}

func (q *QuoteUpdate) apply(prev Quote) (Quote, error) {
	next := prev
	var err error
	if next.Bid, err = optional(q.Bid, prev.Bid); err != nil {
		return prev, err
	}
	if next.Ask, err = optional(q.Ask, prev.Ask); err != nil {
		return prev, err
	}
	if next.Last, err = optional(q.Last, prev.Last); err != nil {
		return prev, err
	}
	if next.Strike, err = optional(q.Strike, prev.Strike); err != nil {
		return prev, err
	}
	return next, nil
}

func optional(v *float64, prev decimal.Decimal) (decimal.Decimal, error) {
	if v == nil {
		return prev, nil
	}
	return DecimalFromFloat(*v)
}

// DecimalFromFloat converts a feed value, rejecting NaN and infinities.
func DecimalFromFloat(v float64) (decimal.Decimal, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return decimal.Zero, fmt.Errorf("%w: non-finite value %v", ErrInvalidSizing, v)
	}
	return decimal.NewFromFloat(v), nil
}

// ExpirationCandidate is one listed expiration with its calendar distance from today.
type ExpirationCandidate struct {
	Raw  string    `json:"raw"`
	Date time.Time `json:"date"`
	DTE  int       `json:"dte"`
}
