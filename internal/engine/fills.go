package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"options_go/internal/domain"
	"options_go/internal/execution"
	"options_go/internal/risk"
)

// HandleOrderStatus applies one broker status event. Events for unknown
// orders are ignored.
func (e *Engine) HandleOrderStatus(ctx context.Context, st domain.OrderStatus) {
	e.lockTrading()
	defer e.unlockTrading()

	o, ok := e.orders[st.OrderID]
	if !ok {
		slog.Debug("Status for unknown order", slog.String("order_id", st.OrderID), slog.String("status", string(st.Status)))
		return
	}
	wasOpen := o.IsOpen()
	fillPrice := st.FillPrice
	delta := o.ApplyStatus(st, e.now())
	if !fillPrice.IsPositive() {
		fillPrice = o.AvgFillPrice
	}

	if delta > 0 {
		e.metrics.Filled(o.Role, delta)
		e.recordFill(ctx, o, delta, fillPrice)
		slog.Info("Order filled",
			slog.String("order_id", o.ID),
			slog.String("role", string(o.Role)),
			slog.Int64("qty", delta),
			slog.String("price", fillPrice.String()),
			slog.Int64("remaining", o.Remaining))
	}

	if o.Side == domain.SideBuy {
		e.onEntryUpdate(ctx, o, delta, fillPrice, wasOpen)
	} else {
		e.onExitUpdate(ctx, o, delta, wasOpen)
	}

	if wasOpen && !o.IsOpen() {
		delete(e.cancelling, o.ID)
		delete(e.resizing, o.ID)
		e.record(ctx, o)
	}
}

func (e *Engine) recordFill(ctx context.Context, o *domain.Order, qty int64, price decimal.Decimal) {
	if e.journal == nil {
		return
	}
	err := e.journal.RecordFill(ctx, domain.Fill{
		OrderID:  o.ID,
		Contract: o.Contract,
		Side:     o.Side,
		Role:     o.Role,
		Quantity: qty,
		Price:    price,
		At:       e.now(),
	})
	if err != nil {
		slog.Warn("Journal fill write failed", slog.String("order_id", o.ID), slog.Any("error", err))
	}
}

func (e *Engine) onEntryUpdate(ctx context.Context, o *domain.Order, delta int64, price decimal.Decimal, wasOpen bool) {
	if delta > 0 {
		pos := e.positions.ApplyEntryFill(o, delta, price, e.now())
		e.metrics.PositionChanged(pos.Symbol, pos.Quantity)
	}
	if !wasOpen || o.IsOpen() {
		return
	}

	switch o.State {
	case domain.OrderStateFilled:
		e.setMessage(fmt.Sprintf("BUY filled: %d %s at $%s", o.Filled, o.Contract.Right, o.AvgFillPrice.StringFixed(2)))
		e.placeBrackets(ctx, o)
	case domain.OrderStateCancelled, domain.OrderStateRejected:
		if o.Filled > 0 {
			e.setMessage(fmt.Sprintf("BUY %s after partial fill: %d contracts held", o.State, o.Filled))
			e.placeBrackets(ctx, o)
			return
		}
		if o.State == domain.OrderStateRejected {
			e.setMessage(fmt.Sprintf("BUY %s rejected by broker", o.Contract.Right))
			slog.Warn("Entry rejected", slog.String("order_id", o.ID))
		}
	}
}

// placeBrackets protects a completed entry with its tier's stop and profit legs.
func (e *Engine) placeBrackets(ctx context.Context, o *domain.Order) {
	pos, ok := e.positions.Get(o.Symbol())
	if !ok {
		return
	}
	tier := o.Tier
	if tier == nil {
		cfg := e.config()
		t, err := risk.ResolveTier(cfg.RiskTiers, e.Snapshot().DailyPnLPercent)
		if err != nil {
			slog.Error("No tier for bracket", slog.String("order_id", o.ID), slog.Any("error", err))
			return
		}
		tier = &t
	}
	qty := min(o.Filled, pos.Quantity)
	spec, ok := execution.PlanBracket(o.ID, o.Contract, o.AvgFillPrice, qty, *tier)
	if !ok {
		slog.Info("No bracket configured for tier", slog.String("order_id", o.ID))
		return
	}
	for _, p := range []decimal.NullDecimal{spec.StopPrice, spec.ProfitPrice} {
		if p.Valid && !risk.ValidTick(p.Decimal) {
			slog.Warn("Bracket price off the tick grid", slog.String("order_id", o.ID), slog.String("price", p.Decimal.String()))
		}
	}
	e.submitBracket(ctx, spec)
}

// submitBracket places the legs of spec. When the broker is unreachable and
// no leg was accepted the placement is queued for the next reconnect.
func (e *Engine) submitBracket(ctx context.Context, spec execution.BracketSpec) {
	if !e.connected.Load() {
		e.brackets.Queue(spec)
		slog.Warn("Bracket queued until reconnect", slog.String("parent_id", spec.ParentOrderID))
		return
	}

	var stopID, profitID string
	var errs []error
	if spec.StopPrice.Valid {
		if o, err := e.submit(ctx, spec.StopRequest(), domain.RoleStopLoss, spec.ParentOrderID); err != nil {
			errs = append(errs, err)
		} else {
			stopID = o.ID
		}
	}
	if spec.ProfitPrice.Valid {
		if o, err := e.submit(ctx, spec.ProfitRequest(), domain.RoleTakeProfit, spec.ParentOrderID); err != nil {
			errs = append(errs, err)
		} else {
			profitID = o.ID
		}
	}

	err := errors.Join(errs...)
	if stopID == "" && profitID == "" {
		if errors.Is(err, domain.ErrBrokerUnreachable) {
			e.brackets.Queue(spec)
			slog.Warn("Bracket queued until reconnect", slog.String("parent_id", spec.ParentOrderID), slog.Any("error", err))
			return
		}
		e.setMessage(fmt.Sprintf("Bracket for %s failed: %v", spec.ParentOrderID, err))
		slog.Error("Bracket placement failed", slog.String("parent_id", spec.ParentOrderID), slog.Any("error", err))
		return
	}
	if err != nil {
		slog.Error("Bracket placed with one leg missing", slog.String("parent_id", spec.ParentOrderID), slog.Any("error", err))
	}

	g := e.brackets.Add(spec, stopID, profitID)
	slog.Info("Bracket placed",
		slog.String("parent_id", g.ParentOrderID),
		slog.String("stop_id", g.StopOrderID),
		slog.String("stop", g.StopPrice.String()),
		slog.String("profit_id", g.ProfitOrderID),
		slog.String("profit", g.ProfitPrice.String()),
		slog.String("oca", g.OCAGroup),
		slog.Int64("qty", g.Quantity))
}

func (e *Engine) onExitUpdate(ctx context.Context, o *domain.Order, delta int64, wasOpen bool) {
	symbol := o.Symbol()

	if delta > 0 {
		e.chase.Update(o.ID, o.Remaining)
	}

	// A completed leg cancels its sibling in the same step.
	if o.State == domain.OrderStateFilled && e.brackets.IsLeg(o.ID) {
		if sibling, g := e.brackets.LegFilled(o.ID); sibling != "" {
			if err := e.cancel(ctx, sibling); err != nil && !errors.Is(err, domain.ErrBrokerRejected) {
				slog.Error("Sibling cancel failed", slog.String("parent_id", g.ParentOrderID), slog.String("sibling", sibling), slog.Any("error", err))
			}
		}
	}

	if delta > 0 {
		remaining, closed := e.positions.ApplyExitFill(symbol, delta)
		e.metrics.PositionChanged(symbol, remaining)
		if closed {
			e.onPositionClosed(ctx, symbol, o.ID)
			e.setMessage(fmt.Sprintf("Position closed: %s %s fill at $%s", o.Role, symbol, o.AvgFillPrice.StringFixed(2)))
		} else {
			if o.Role == domain.RoleExit && o.State == domain.OrderStateFilled {
				e.positions.MarkRunnerTrimmed(symbol)
			}
			e.resizeBrackets(ctx, symbol, remaining)
		}
	}

	if !wasOpen || o.IsOpen() || o.State == domain.OrderStateFilled {
		return
	}
	// Cancelled or rejected.
	e.chase.Stop(o.ID)
	if e.replaceResizedLeg(ctx, o) {
		return
	}
	e.brackets.LegCancelled(o.ID)
	if o.State == domain.OrderStateRejected {
		e.setMessage(fmt.Sprintf("%s order %s rejected by broker", o.Role, o.ID))
		slog.Warn("Exit rejected", slog.String("order_id", o.ID), slog.String("role", string(o.Role)))
	}
}

// onPositionClosed cancels every remaining leg and exit on symbol.
func (e *Engine) onPositionClosed(ctx context.Context, symbol, filledID string) {
	ids := e.brackets.CancelAll(symbol)
	for _, id := range e.openOrdersFor(symbol) {
		if o := e.orders[id]; o.Side == domain.SideSell && id != filledID {
			ids = append(ids, id)
		}
	}
	for _, id := range ids {
		e.chase.Stop(id)
		if o, ok := e.orders[id]; ok && !o.IsOpen() {
			continue
		}
		_ = e.cancel(ctx, id)
	}
	slog.Info("Position closed", slog.String("symbol", symbol), slog.Int("cancels", len(ids)))
}

// resizeBrackets cancels legs whose size no longer matches the position.
// The replacement goes out once the broker confirms the cancel, so the old
// and new leg are never working together.
func (e *Engine) resizeBrackets(ctx context.Context, symbol string, qty int64) {
	g, ok := e.brackets.LiveGroup(symbol)
	if !ok || g.State != domain.BracketActive {
		return
	}
	for _, legID := range e.brackets.AttachedLegs(g) {
		if _, pending := e.resizing[legID]; pending {
			continue
		}
		leg, ok := e.orders[legID]
		if !ok || !leg.IsOpen() || leg.Remaining == qty {
			continue
		}
		if err := e.cancel(ctx, legID); err != nil {
			continue
		}
		e.resizing[legID] = struct{}{}
		slog.Info("Bracket leg resize requested", slog.String("leg_id", legID), slog.Int64("qty", qty))
	}
}

// replaceResizedLeg submits the replacement for a leg whose resize cancel was
// just confirmed, sized to the position at that moment. It reports whether o
// was such a leg.
func (e *Engine) replaceResizedLeg(ctx context.Context, o *domain.Order) bool {
	if _, ok := e.resizing[o.ID]; !ok {
		return false
	}
	delete(e.resizing, o.ID)

	symbol := o.Symbol()
	g, live := e.brackets.LiveGroup(symbol)
	pos, open := e.positions.Get(symbol)
	if !live || !open || g.State != domain.BracketActive || !e.brackets.IsLeg(o.ID) {
		return false
	}

	req, role := execution.LegRequest(g, o.ID, pos.Quantity)
	replacement, err := e.submit(ctx, req, role, g.ParentOrderID)
	if err != nil {
		slog.Error("Bracket leg resize failed", slog.String("leg_id", o.ID), slog.Any("error", err))
		e.brackets.ReplaceLeg(g, o.ID, "", pos.Quantity)
		return true
	}
	e.brackets.ReplaceLeg(g, o.ID, replacement.ID, pos.Quantity)
	slog.Info("Bracket leg resized",
		slog.String("old_id", o.ID),
		slog.String("new_id", replacement.ID),
		slog.Int64("qty", pos.Quantity))
	return true
}

// convertChase cancels an unfilled chase limit and sends the rest at market.
// It runs inside withTrading.
func (e *Engine) convertChase(t execution.ChaseTicket) {
	o, ok := e.orders[t.OrderID]
	if !ok || !o.IsOpen() || o.Remaining <= 0 {
		return
	}
	if !e.connected.Load() {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()

	if err := e.cancel(ctx, o.ID); err != nil {
		e.setMessage(fmt.Sprintf("Chase conversion skipped: %v", err))
		return
	}
	req := domain.OrderRequest{
		Contract: o.Contract,
		Side:     domain.SideSell,
		Kind:     domain.OrderKindMarket,
		Quantity: o.Remaining,
	}
	m, err := e.submit(ctx, req, domain.RoleExit, o.ID)
	if err != nil {
		e.setMessage(fmt.Sprintf("Chase market order failed: %v", err))
		slog.Error("Chase conversion failed", slog.String("order_id", o.ID), slog.Any("error", err))
		return
	}
	e.metrics.ChaseConverted()
	e.setMessage(fmt.Sprintf("Chase: limit %s unfilled, %d contracts sent at market", o.ID, m.Quantity))
	slog.Info("Chase converted to market",
		slog.String("limit_id", o.ID),
		slog.String("market_id", m.ID),
		slog.Int64("qty", m.Quantity))
}

// HandleConnection reacts to gateway connectivity. A loss aborts every chase
// timer without replacement; a restore places queued brackets.
func (e *Engine) HandleConnection(ctx context.Context, connected bool) {
	prev := e.connected.Swap(connected)
	if prev == connected {
		return
	}

	if !connected {
		dropped := e.chase.StopAll()
		e.metrics.ChaseAborted(len(dropped))
		if len(dropped) > 0 {
			e.setMessage(fmt.Sprintf("%v: %d exit order(s) left resting", domain.ErrChaseAborted, len(dropped)))
		}
		slog.Warn("Broker connection lost", slog.Int("chases_aborted", len(dropped)))
		return
	}

	e.lockTrading()
	defer e.unlockTrading()

	pending := e.brackets.TakePending()
	slog.Info("Broker connection restored", slog.Int("pending_brackets", len(pending)))
	for _, spec := range pending {
		pos, ok := e.positions.Get(spec.Contract.Symbol)
		if !ok {
			continue
		}
		spec.Quantity = min(spec.Quantity, pos.Quantity)
		e.submitBracket(ctx, spec)
	}
}
