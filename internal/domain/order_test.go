package domain

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func newTestOrder(qty int64) *Order {
	req := OrderRequest{
		Contract: Contract{Symbol: "SPY", Right: RightCall, Expiry: "20250117", Multiplier: 100},
		Side:     SideSell,
		Kind:     OrderKindLimit,
		Quantity: qty,
	}
	return NewOrder("1", req, RoleExit, time.Now())
}

func TestOrder_ApplyStatus(t *testing.T) {
	t.Run("partial fills accumulate with weighted average", func(t *testing.T) {
		o := newTestOrder(10)
		now := time.Now()

		d := o.ApplyStatus(OrderStatus{OrderID: "1", Status: StatusPartiallyFilled, FilledQty: 4, RemainingQty: 6, FillPrice: decimal.NewFromInt(2)}, now)
		if d != 4 {
			t.Errorf("Expected delta 4, got %d", d)
		}
		d = o.ApplyStatus(OrderStatus{OrderID: "1", Status: StatusPartiallyFilled, FilledQty: 8, RemainingQty: 2, FillPrice: decimal.NewFromInt(3)}, now)
		if d != 4 {
			t.Errorf("Expected delta 4, got %d", d)
		}
		if !o.AvgFillPrice.Equal(decimal.RequireFromString("2.5")) {
			t.Errorf("Expected avg 2.5, got %s", o.AvgFillPrice)
		}
		if o.State != OrderStatePartiallyFilled || o.Remaining != 2 {
			t.Errorf("Expected PARTIALLY_FILLED with 2 remaining, got %s/%d", o.State, o.Remaining)
		}
	})

	t.Run("duplicate status yields no delta", func(t *testing.T) {
		o := newTestOrder(5)
		ev := OrderStatus{OrderID: "1", Status: StatusFilled, FilledQty: 5, FillPrice: decimal.NewFromInt(1)}
		o.ApplyStatus(ev, time.Now())
		if d := o.ApplyStatus(ev, time.Now()); d != 0 {
			t.Errorf("Expected delta 0 on replay, got %d", d)
		}
		if o.State != OrderStateFilled || o.IsOpen() {
			t.Errorf("Expected FILLED and closed, got %s", o.State)
		}
	})

	t.Run("cancel after partial fill keeps fills", func(t *testing.T) {
		o := newTestOrder(5)
		o.ApplyStatus(OrderStatus{Status: StatusPartiallyFilled, FilledQty: 2, RemainingQty: 3, FillPrice: decimal.NewFromInt(1)}, time.Now())
		o.ApplyStatus(OrderStatus{Status: StatusCancelled, FilledQty: 2, RemainingQty: 3}, time.Now())
		if o.State != OrderStateCancelled || o.Filled != 2 {
			t.Errorf("Expected CANCELLED with 2 filled, got %s/%d", o.State, o.Filled)
		}
	})
	t.Run("late report never reopens a final order", func(t *testing.T) {
		o := newTestOrder(10)
		o.ApplyStatus(OrderStatus{Status: StatusCancelled, FilledQty: 0, RemainingQty: 10}, time.Now())

		d := o.ApplyStatus(OrderStatus{Status: StatusPartiallyFilled, FilledQty: 3, RemainingQty: 7, FillPrice: decimal.NewFromInt(2)}, time.Now())
		if d != 3 {
			t.Errorf("Expected late fill delta 3, got %d", d)
		}
		if o.State != OrderStateCancelled || o.IsOpen() {
			t.Errorf("Expected CANCELLED and closed, got %s", o.State)
		}
		if o.Filled != 3 || !o.AvgFillPrice.Equal(decimal.NewFromInt(2)) {
			t.Errorf("Expected 3 filled at 2, got %d at %s", o.Filled, o.AvgFillPrice)
		}

		o.ApplyStatus(OrderStatus{Status: StatusSubmitted, FilledQty: 3, RemainingQty: 7}, time.Now())
		if o.State != OrderStateCancelled {
			t.Errorf("Expected Submitted to be ignored, got %s", o.State)
		}
	})

	t.Run("rejected and filled stay final", func(t *testing.T) {
		for _, final := range []BrokerStatus{StatusRejected, StatusFilled} {
			o := newTestOrder(4)
			o.ApplyStatus(OrderStatus{Status: final, FilledQty: 0, RemainingQty: 4}, time.Now())
			want := o.State
			o.ApplyStatus(OrderStatus{Status: StatusPartiallyFilled, FilledQty: 1, RemainingQty: 3, FillPrice: decimal.NewFromInt(1)}, time.Now())
			if o.State != want {
				t.Errorf("Expected %s to stay final, got %s", want, o.State)
			}
		}
	})
}

func TestMarketUpdate_Apply(t *testing.T) {
	bid, ask := 1.50, 1.55
	prev := MarketSnapshot{Currency: CurrencyUSD, AccountValue: decimal.NewFromInt(10000)}

	next, err := MarketUpdate{Call: &QuoteUpdate{Bid: &bid, Ask: &ask}}.Apply(prev, time.Now())
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if !next.Call.Mid().Equal(decimal.RequireFromString("1.525")) {
		t.Errorf("Expected mid 1.525, got %s", next.Call.Mid())
	}
	if !next.AccountValue.Equal(prev.AccountValue) {
		t.Error("Unset fields should carry over from the previous snapshot")
	}
	if !prev.Call.IsZero() {
		t.Error("Previous snapshot must not be modified")
	}

	nan := math.NaN()
	if _, err := (MarketUpdate{AccountValue: &nan}).Apply(prev, time.Now()); !errors.Is(err, ErrInvalidSizing) {
		t.Errorf("Expected ErrInvalidSizing for NaN, got %v", err)
	}
}

func TestParseOptionRight(t *testing.T) {
	if r, err := ParseOptionRight("put"); err != nil || r != RightPut {
		t.Errorf("Expected PUT, got %s (%v)", r, err)
	}
	if _, err := ParseOptionRight("straddle"); !errors.Is(err, ErrInvalidOptionRight) {
		t.Errorf("Expected ErrInvalidOptionRight, got %v", err)
	}
}

func TestTradingConfigPatch_Merge(t *testing.T) {
	base := TradingConfig{
		UnderlyingSymbol: "SPY",
		Runner:           1,
		RiskTiers:        []RiskTier{{LossThresholdPct: decimal.Zero, AccountTradeLimitPct: decimal.NewFromInt(30)}},
	}
	runner := int64(2)
	out := TradingConfigPatch{Runner: &runner}.Merge(base)

	if out.Runner != 2 || out.UnderlyingSymbol != "SPY" {
		t.Errorf("Unexpected merge result: %+v", out)
	}
	out.RiskTiers[0].AccountTradeLimitPct = decimal.NewFromInt(1)
	if !base.RiskTiers[0].AccountTradeLimitPct.Equal(decimal.NewFromInt(30)) {
		t.Error("Merge must not share the tier slice with the base config")
	}
}
