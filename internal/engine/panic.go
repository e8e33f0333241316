package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sourcegraph/conc"

	"options_go/internal/domain"
)

// PanicButton flattens the underlying: a market SELL for the whole position
// and a cancel for every other open order, sent concurrently. Each broker
// call is reported on its own; a failed cancel never holds back the sell.
func (e *Engine) PanicButton(ctx context.Context) (domain.PanicReport, error) {
	release, err := e.guard.Acquire(domain.ActionPanic)
	if err != nil {
		e.metrics.GuardRejected(domain.ActionPanic)
		r, err := e.fail(domain.ActionPanic, err)
		return domain.PanicReport{Result: r}, err
	}
	defer release()

	e.lockTrading()
	defer e.unlockTrading()

	e.metrics.PanicTriggered()
	symbol := e.config().UnderlyingSymbol

	if dropped := e.chase.StopAll(); len(dropped) > 0 {
		slog.Warn("Panic stopped chase timers", slog.Int("count", len(dropped)))
	}

	pos, hasPos := e.positions.Get(symbol)
	seen := make(map[string]struct{})
	var cancelIDs []string
	for _, id := range append(e.brackets.CancelAll(symbol), e.openOrdersFor(symbol)...) {
		if _, dup := seen[id]; dup {
			continue
		}
		if _, requested := e.cancelling[id]; requested {
			continue
		}
		if o, ok := e.orders[id]; ok && !o.IsOpen() {
			continue
		}
		seen[id] = struct{}{}
		cancelIDs = append(cancelIDs, id)
	}

	if !hasPos && len(cancelIDs) == 0 {
		r, err := e.fail(domain.ActionPanic, fmt.Errorf("%w: nothing to flatten on %s", domain.ErrNoActivePosition, symbol))
		return domain.PanicReport{Result: r}, err
	}

	report := domain.PanicReport{Cancels: make([]domain.Outcome, len(cancelIDs))}
	var (
		sellID  string
		sellErr error
		sellReq domain.OrderRequest
	)
	if hasPos {
		sellReq = domain.OrderRequest{
			Contract: pos.Contract,
			Side:     domain.SideSell,
			Kind:     domain.OrderKindMarket,
			Quantity: pos.Quantity,
		}
	}

	var wg conc.WaitGroup
	if hasPos {
		wg.Go(func() {
			sellID, sellErr = e.gateway.SubmitOrder(ctx, sellReq)
		})
	}
	for i, id := range cancelIDs {
		wg.Go(func() {
			out := domain.Outcome{OrderID: id, OK: true}
			if err := e.gateway.CancelOrder(ctx, id); err != nil {
				out.OK = false
				out.Error = err.Error()
			}
			report.Cancels[i] = out
		})
	}
	wg.Wait()

	if hasPos {
		report.Sell = &domain.Outcome{OrderID: sellID, OK: sellErr == nil}
		if sellErr != nil {
			report.Sell.Error = sellErr.Error()
			e.metrics.OrderRejected(domain.RolePanic)
		} else {
			o := domain.NewOrder(sellID, sellReq, domain.RolePanic, e.now())
			e.orders[sellID] = o
			e.metrics.OrderSubmitted(domain.RolePanic)
			e.record(ctx, o)
		}
	}
	failedCancels := 0
	for _, c := range report.Cancels {
		if c.OK {
			e.cancelling[c.OrderID] = struct{}{}
		} else {
			failedCancels++
		}
	}

	report.Action = domain.ActionPanic
	report.OrderID = sellID
	report.Quantity = pos.Quantity
	report.OK = report.Err() == nil
	report.Message = panicMessage(report, pos, failedCancels)
	e.setMessage(report.Message)

	slog.Warn("PANIC flatten",
		slog.String("symbol", symbol),
		slog.Int64("sell_qty", pos.Quantity),
		slog.String("sell_id", sellID),
		slog.Any("sell_error", sellErr),
		slog.Int("cancels", len(report.Cancels)),
		slog.Int("cancels_failed", failedCancels))
	return report, report.Err()
}

func panicMessage(r domain.PanicReport, pos domain.Position, failedCancels int) string {
	sell := "no position to sell"
	if r.Sell != nil {
		if r.Sell.OK {
			sell = fmt.Sprintf("market SELL %d sent", pos.Quantity)
		} else {
			sell = "market SELL failed: " + r.Sell.Error
		}
	}
	return fmt.Sprintf("PANIC: %s; %d of %d cancels sent", sell, len(r.Cancels)-failedCancels, len(r.Cancels))
}
