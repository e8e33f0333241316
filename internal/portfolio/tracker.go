package portfolio

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"options_go/internal/domain"
)

// Tracker holds at most one open position per underlying.
// It is not safe for concurrent use; the engine guards it with its position lock.
type Tracker struct {
	positions map[string]*domain.Position
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{positions: make(map[string]*domain.Position)}
}

// CheckCanOpen rejects an entry when the underlying already has a position.
func (t *Tracker) CheckCanOpen(symbol string) error {
	if p, ok := t.positions[symbol]; ok {
		return fmt.Errorf("%w: %d %s %s", domain.ErrPositionAlreadyActive, p.Quantity, symbol, p.Right)
	}
	return nil
}

// Get returns a copy of the position for symbol.
func (t *Tracker) Get(symbol string) (domain.Position, bool) {
	p, ok := t.positions[symbol]
	if !ok {
		return domain.Position{}, false
	}
	return *p, true
}

// All returns copies of every open position, ordered by symbol.
func (t *Tracker) All() []domain.Position {
	out := make([]domain.Position, 0, len(t.positions))
	for _, p := range t.positions {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Len returns the number of open positions.
func (t *Tracker) Len() int {
	return len(t.positions)
}

// ApplyEntryFill creates the position on the first BUY fill and averages in later slices.
func (t *Tracker) ApplyEntryFill(o *domain.Order, qty int64, price decimal.Decimal, now time.Time) domain.Position {
	symbol := o.Symbol()
	p, ok := t.positions[symbol]
	if !ok {
		p = &domain.Position{
			Symbol:        symbol,
			Right:         o.Contract.Right,
			Contract:      o.Contract,
			ParentOrderID: o.ID,
			OpenedAt:      now,
		}
		t.positions[symbol] = p
	}
	cost := p.EntryPrice.Mul(decimal.NewFromInt(p.Quantity)).Add(price.Mul(decimal.NewFromInt(qty)))
	p.Quantity += qty
	p.EntryPrice = cost.Div(decimal.NewFromInt(p.Quantity))
	return *p
}

// ApplyExitFill reduces the position by qty and removes it at exactly zero.
// Over-fills are clamped; the returned quantity is what is left open.
func (t *Tracker) ApplyExitFill(symbol string, qty int64) (remaining int64, closed bool) {
	p, ok := t.positions[symbol]
	if !ok {
		return 0, false
	}
	p.Quantity -= qty
	if p.Quantity <= 0 {
		delete(t.positions, symbol)
		return 0, true
	}
	return p.Quantity, false
}

// ExitPlan is the quantity a SELL trigger should send.
type ExitPlan struct {
	Quantity   int64
	KeepRunner bool
	PnLPercent decimal.Decimal
}

// PlanExit applies the runner rule: a profitable, untrimmed position sells
// max(1, qty-runner), otherwise everything is sold.
func (t *Tracker) PlanExit(symbol string, mark decimal.Decimal, runner int64) (ExitPlan, error) {
	p, ok := t.positions[symbol]
	if !ok {
		return ExitPlan{}, fmt.Errorf("%w: %s", domain.ErrNoActivePosition, symbol)
	}
	plan := ExitPlan{Quantity: p.Quantity, PnLPercent: p.PnLPercent(mark)}
	if runner > 0 && plan.PnLPercent.IsPositive() && !p.RunnerTrimmed {
		plan.Quantity = max(1, p.Quantity-runner)
		plan.KeepRunner = plan.Quantity < p.Quantity
	}
	return plan, nil
}

// MarkRunnerTrimmed flags that the next exit should close the runner.
func (t *Tracker) MarkRunnerTrimmed(symbol string) {
	if p, ok := t.positions[symbol]; ok {
		p.RunnerTrimmed = true
	}
}

// Remove drops the position regardless of quantity.
func (t *Tracker) Remove(symbol string) {
	delete(t.positions, symbol)
}

// Clear drops every position.
func (t *Tracker) Clear() {
	clear(t.positions)
}
