package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"options_go/internal/domain"
	"options_go/internal/execution"
	"options_go/internal/expiry"
	"options_go/internal/portfolio"
	"options_go/internal/risk"
)

const (
	// optionMultiplier is the share count of one equity option contract.
	optionMultiplier = 100

	// callTimeout bounds broker calls the engine makes on its own behalf.
	callTimeout = 5 * time.Second
)

// Metrics receives engine counters. Implementations must be safe for concurrent use.
type Metrics interface {
	OrderSubmitted(role domain.OrderRole)
	OrderRejected(role domain.OrderRole)
	Filled(role domain.OrderRole, qty int64)
	ChaseConverted()
	ChaseAborted(n int)
	GuardRejected(action string)
	PositionChanged(symbol string, qty int64)
	PanicTriggered()
}

type nopMetrics struct{}

func (nopMetrics) OrderSubmitted(domain.OrderRole) {}
func (nopMetrics) OrderRejected(domain.OrderRole) {}
func (nopMetrics) Filled(domain.OrderRole, int64) {}
func (nopMetrics) ChaseConverted() {}
func (nopMetrics) ChaseAborted(int) {}
func (nopMetrics) GuardRejected(string) {}
func (nopMetrics) PositionChanged(string, int64) {}
func (nopMetrics) PanicTriggered() {}

// Options wires the engine's collaborators.
type Options struct {
	Gateway  domain.BrokerGateway
	Feed     domain.MarketDataFeed
	Journal  domain.Journal
	Metrics  Metrics
	Config   domain.TradingConfig
	Location *time.Location
	Clock    func() time.Time
}

// Engine is the trading orchestrator. It owns the market snapshot, the
// position, the open orders and the bracket groups, and is the only entry
// point for user actions and broker events.
//
// Lock order is posMu -> orderMu -> bracketMu -> cfgMu. No method acquires
// them in any other order.
type Engine struct {
	posMu     sync.Mutex
	orderMu   sync.Mutex
	bracketMu sync.Mutex
	cfgMu     sync.Mutex

	// guarded by posMu
	positions *portfolio.Tracker

	// guarded by orderMu
	orders     map[string]*domain.Order
	cancelling map[string]struct{}
	resizing   map[string]struct{} // legs whose replacement waits for the cancel confirmation

	// guarded by bracketMu
	brackets *execution.BracketManager

	// guarded by cfgMu
	cfg       domain.TradingConfig
	selection *expiry.Selection

	snapshot  atomic.Pointer[domain.MarketSnapshot]
	connected atomic.Bool
	lastMsg   atomic.Value // string

	gateway  domain.BrokerGateway
	feed     domain.MarketDataFeed
	journal  domain.Journal
	metrics  Metrics
	selector *expiry.Selector
	chase    *execution.ChaseExecutor
	guard    *SubmissionGuard
	now      func() time.Time
}

// New creates an engine. The gateway and feed are required.
func New(opts Options) (*Engine, error) {
	if opts.Gateway == nil {
		return nil, errors.New("engine: broker gateway is required")
	}
	if opts.Feed == nil {
		return nil, errors.New("engine: market data feed is required")
	}
	if opts.Metrics == nil {
		opts.Metrics = nopMetrics{}
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Config.Currency == "" {
		opts.Config.Currency = domain.CurrencyUSD
	}

	e := &Engine{
		positions:  portfolio.NewTracker(),
		orders:     make(map[string]*domain.Order),
		cancelling: make(map[string]struct{}),
		resizing:   make(map[string]struct{}),
		brackets:   execution.NewBracketManager(),
		cfg:        opts.Config.Clone(),
		gateway:    opts.Gateway,
		feed:       opts.Feed,
		journal:    opts.Journal,
		metrics:    opts.Metrics,
		selector:   expiry.NewSelector(opts.Location).WithClock(opts.Clock),
		guard:      NewSubmissionGuard(),
		now:        opts.Clock,
	}
	e.chase = execution.NewChaseExecutor(opts.Config.ChaseTimeout, e.withTrading, e.convertChase)
	e.snapshot.Store(&domain.MarketSnapshot{Currency: e.cfg.Currency})
	e.connected.Store(true)
	e.lastMsg.Store("")
	return e, nil
}

func (e *Engine) lockTrading() {
	e.posMu.Lock()
	e.orderMu.Lock()
	e.bracketMu.Lock()
}

func (e *Engine) unlockTrading() {
	e.bracketMu.Unlock()
	e.orderMu.Unlock()
	e.posMu.Unlock()
}

// withTrading runs fn holding the position, order and bracket locks.
func (e *Engine) withTrading(fn func()) {
	e.lockTrading()
	defer e.unlockTrading()
	fn()
}

// config returns a consistent copy of the trading configuration.
func (e *Engine) config() domain.TradingConfig {
	e.cfgMu.Lock()
	defer e.cfgMu.Unlock()
	return e.cfg.Clone()
}

func (e *Engine) setMessage(msg string) {
	e.lastMsg.Store(msg)
}

// LastActionMessage returns the last user-facing message.
func (e *Engine) LastActionMessage() string {
	return e.lastMsg.Load().(string)
}

// SubmissionState exposes the guard to the hotkey layer.
func (e *Engine) SubmissionState() domain.SubmissionState {
	return e.guard.State()
}

// Snapshot returns a copy of the current market snapshot.
func (e *Engine) Snapshot() domain.MarketSnapshot {
	return *e.snapshot.Load()
}

func (e *Engine) succeed(r domain.Result) (domain.Result, error) {
	r.OK = true
	e.setMessage(r.Message)
	slog.Info("Action completed",
		slog.String("action", r.Action),
		slog.String("order_id", r.OrderID),
		slog.Int64("quantity", r.Quantity),
		slog.String("message", r.Message))
	return r, nil
}

func (e *Engine) fail(action string, err error) (domain.Result, error) {
	r := domain.Failure(action, err)
	r.Message = fmt.Sprintf("Cannot %s: %v", action, err)
	e.setMessage(r.Message)
	if r.Informational {
		slog.Info("Action rejected", slog.String("action", action), slog.Any("reason", err))
	} else {
		slog.Error("Action failed", slog.String("action", action), slog.Any("error", err))
	}
	return r, err
}

// PlaceBuyOrder sizes and submits a market entry for the current call or put.
func (e *Engine) PlaceBuyOrder(ctx context.Context, right domain.OptionRight) (domain.Result, error) {
	release, err := e.guard.Acquire(domain.ActionBuy)
	if err != nil {
		e.metrics.GuardRejected(domain.ActionBuy)
		return e.fail(domain.ActionBuy, err)
	}
	defer release()

	if right != domain.RightCall && right != domain.RightPut {
		return e.fail(domain.ActionBuy, fmt.Errorf("%w: %q", domain.ErrInvalidOptionRight, right))
	}

	e.lockTrading()
	defer e.unlockTrading()

	cfg := e.config()
	symbol := cfg.UnderlyingSymbol
	if err := e.positions.CheckCanOpen(symbol); err != nil {
		return e.fail(domain.ActionBuy, err)
	}
	if id := e.workingOrder(symbol, domain.SideBuy); id != "" {
		return e.fail(domain.ActionBuy, fmt.Errorf("%w: entry %s still working", domain.ErrPositionAlreadyActive, id))
	}

	snap := e.Snapshot()
	quote := snap.Quote(right)
	sizing, err := risk.Size(risk.SizingInput{
		AccountValue:    snap.AccountValue,
		DailyPnLPercent: snap.DailyPnLPercent,
		Currency:        cfg.Currency,
		MaxTradeValue:   cfg.MaxTradeValue,
		Tiers:           cfg.RiskTiers,
		Ask:             quote.Ask,
	})
	if err != nil {
		return e.fail(domain.ActionBuy, err)
	}

	strike := quote.Strike.Round(0)
	if !strike.IsPositive() {
		strike = snap.UnderlyingPrice.Round(0)
	}
	if !strike.IsPositive() {
		return e.fail(domain.ActionBuy, fmt.Errorf("%w: no strike for %s", domain.ErrMarketDataUnavailable, right))
	}

	sel, err := e.currentExpiration(ctx)
	if err != nil {
		return e.fail(domain.ActionBuy, err)
	}

	req := domain.OrderRequest{
		Contract: domain.Contract{
			Symbol:     symbol,
			Right:      right,
			Expiry:     sel.Expiry(),
			Strike:     strike,
			Multiplier: optionMultiplier,
		},
		Side:     domain.SideBuy,
		Kind:     domain.OrderKindMarket,
		Quantity: sizing.Quantity,
	}
	e.pruneClosed(symbol)

	o, err := e.submit(ctx, req, domain.RoleEntry, "")
	if err != nil {
		return e.fail(domain.ActionBuy, err)
	}
	tier := sizing.Tier
	o.Tier = &tier

	slog.Info("Entry sized",
		slog.String("order_id", o.ID),
		slog.String("budget", sizing.Budget().StringFixed(2)),
		slog.String("gui_max", sizing.GUIMax.StringFixed(2)),
		slog.String("tier_max", sizing.TierMax.StringFixed(2)),
		slog.String("pdt_max", sizing.PDTMax.StringFixed(2)),
		slog.String("expiry", sel.Expiry()),
		slog.String("expiry_strategy", sel.Strategy))

	return e.succeed(domain.Result{
		Action:   domain.ActionBuy,
		OrderID:  o.ID,
		Quantity: o.Quantity,
		Message: fmt.Sprintf("BUY %s submitted: %d contracts %s %s at ~$%s",
			right, o.Quantity, sel.Expiry(), strike.String(), quote.Ask.StringFixed(2)),
	})
}

// PlaceSellOrder exits the open position, keeping the runner when profitable.
// With useChase the exit is a limit at mid - trade_delta that converts to
// market after the chase timeout.
func (e *Engine) PlaceSellOrder(ctx context.Context, useChase bool) (domain.Result, error) {
	release, err := e.guard.Acquire(domain.ActionSell)
	if err != nil {
		e.metrics.GuardRejected(domain.ActionSell)
		return e.fail(domain.ActionSell, err)
	}
	defer release()

	e.lockTrading()
	defer e.unlockTrading()

	cfg := e.config()
	symbol := cfg.UnderlyingSymbol
	pos, ok := e.positions.Get(symbol)
	if !ok {
		return e.fail(domain.ActionSell, fmt.Errorf("%w: %s", domain.ErrNoActivePosition, symbol))
	}
	if id := e.workingExit(symbol); id != "" {
		return e.fail(domain.ActionSell, fmt.Errorf("%w: %s", domain.ErrExitInProgress, id))
	}

	snap := e.Snapshot()
	quote := snap.Quote(pos.Right)
	plan, err := e.positions.PlanExit(symbol, quote.Mark(), cfg.Runner)
	if err != nil {
		return e.fail(domain.ActionSell, err)
	}

	req := domain.OrderRequest{
		Contract: pos.Contract,
		Side:     domain.SideSell,
		Kind:     domain.OrderKindMarket,
		Quantity: plan.Quantity,
	}
	if useChase {
		price, err := execution.ChaseLimitPrice(quote, cfg.TradeDelta)
		if err != nil {
			return e.fail(domain.ActionSell, err)
		}
		req.Kind = domain.OrderKindLimit
		req.LimitPrice = price
	}

	o, err := e.submit(ctx, req, domain.RoleExit, "")
	if err != nil {
		return e.fail(domain.ActionSell, err)
	}
	if useChase {
		e.chase.Start(execution.ChaseTicket{
			OrderID:   o.ID,
			Contract:  o.Contract,
			Role:      o.Role,
			Remaining: o.Remaining,
			StartedAt: e.now(),
		})
	}

	price := "market"
	if useChase {
		price = "$" + req.LimitPrice.String()
	}
	msg := fmt.Sprintf("SELL submitted: %d of %d contracts at %s", plan.Quantity, pos.Quantity, price)
	if plan.KeepRunner {
		msg += fmt.Sprintf(", keeping %d runner", pos.Quantity-plan.Quantity)
	}
	return e.succeed(domain.Result{
		Action:   domain.ActionSell,
		OrderID:  o.ID,
		Quantity: plan.Quantity,
		Message:  msg,
	})
}

// submit sends req and records the acknowledged order. Caller holds the trading locks.
func (e *Engine) submit(ctx context.Context, req domain.OrderRequest, role domain.OrderRole, parentID string) (*domain.Order, error) {
	id, err := e.gateway.SubmitOrder(ctx, req)
	if err != nil {
		e.metrics.OrderRejected(role)
		return nil, fmt.Errorf("submit %s %s: %w", role, req.Kind, err)
	}
	o := domain.NewOrder(id, req, role, e.now())
	o.ParentID = parentID
	e.orders[id] = o
	e.metrics.OrderSubmitted(role)
	e.record(ctx, o)

	slog.Info("Order submitted",
		slog.String("order_id", id),
		slog.String("role", string(role)),
		slog.String("side", string(req.Side)),
		slog.String("kind", string(req.Kind)),
		slog.Int64("quantity", req.Quantity),
		slog.String("limit", req.LimitPrice.String()),
		slog.String("stop", req.StopPrice.String()))
	return o, nil
}

// cancel requests a broker cancel once per order. Caller holds the trading locks.
func (e *Engine) cancel(ctx context.Context, orderID string) error {
	if _, dup := e.cancelling[orderID]; dup {
		return nil
	}
	if err := e.gateway.CancelOrder(ctx, orderID); err != nil {
		slog.Warn("Cancel failed", slog.String("order_id", orderID), slog.Any("error", err))
		return err
	}
	e.cancelling[orderID] = struct{}{}
	return nil
}

func (e *Engine) record(ctx context.Context, o *domain.Order) {
	if e.journal == nil {
		return
	}
	if err := e.journal.RecordOrder(ctx, *o); err != nil {
		slog.Warn("Journal order write failed", slog.String("order_id", o.ID), slog.Any("error", err))
	}
}

// workingOrder returns an open order on symbol with the given side.
func (e *Engine) workingOrder(symbol string, side domain.Side) string {
	for id, o := range e.orders {
		if o.Symbol() == symbol && o.Side == side && o.IsOpen() {
			return id
		}
	}
	return ""
}

// workingExit returns an open user exit or panic order on symbol. Bracket legs don't count.
func (e *Engine) workingExit(symbol string) string {
	for id, o := range e.orders {
		if o.Symbol() == symbol && o.IsOpen() && (o.Role == domain.RoleExit || o.Role == domain.RolePanic) {
			return id
		}
	}
	return ""
}

// openOrdersFor returns open order ids on symbol, sorted.
func (e *Engine) openOrdersFor(symbol string) []string {
	var ids []string
	for id, o := range e.orders {
		if o.Symbol() == symbol && o.IsOpen() {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// pruneClosed drops finished orders and groups for symbol before a new cycle.
func (e *Engine) pruneClosed(symbol string) {
	for id, o := range e.orders {
		if o.Symbol() == symbol && !o.IsOpen() {
			delete(e.orders, id)
			delete(e.cancelling, id)
			delete(e.resizing, id)
		}
	}
	e.brackets.Prune()
}

// currentExpiration returns the cached selection, re-selecting when it has
// expired or the 0DTE/1DTE target has moved. Manual choices stick until expiry.
func (e *Engine) currentExpiration(ctx context.Context) (expiry.Selection, error) {
	e.cfgMu.Lock()
	defer e.cfgMu.Unlock()

	now := e.now().In(e.selector.Location())
	if s := e.selection; s != nil && !s.Expired(now) {
		if s.Strategy == expiry.StrategyManual || s.TargetDTE == expiry.TargetDTE(now) {
			return *s, nil
		}
	}
	return e.reselectLocked(ctx)
}

// reselectLocked runs automatic selection. Caller holds cfgMu.
func (e *Engine) reselectLocked(ctx context.Context) (expiry.Selection, error) {
	raw, err := e.feed.AvailableExpirations(ctx)
	if err != nil {
		return expiry.Selection{}, fmt.Errorf("list expirations: %w", err)
	}
	sel, err := e.selector.Select(raw)
	if err != nil {
		return expiry.Selection{}, err
	}
	if e.selection == nil || e.selection.Expiry() != sel.Expiry() {
		slog.Info("Expiration selected",
			slog.String("expiry", sel.Expiry()),
			slog.Int("dte", sel.Candidate.DTE),
			slog.Int("target_dte", sel.TargetDTE),
			slog.String("strategy", sel.Strategy))
	}
	e.selection = &sel
	return sel, nil
}

// RefreshExpiration re-runs automatic selection unless a live manual choice is set.
func (e *Engine) RefreshExpiration(ctx context.Context) error {
	e.cfgMu.Lock()
	defer e.cfgMu.Unlock()

	if s := e.selection; s != nil && s.Strategy == expiry.StrategyManual && !s.Expired(e.now()) {
		return nil
	}
	_, err := e.reselectLocked(ctx)
	return err
}

// ManualExpirationSwitch pins new orders to target, or re-runs automatic
// selection when target is empty. Open positions keep their contract.
func (e *Engine) ManualExpirationSwitch(ctx context.Context, target string) (domain.Result, error) {
	const action = "EXPIRATION"

	e.cfgMu.Lock()
	defer e.cfgMu.Unlock()

	var (
		sel expiry.Selection
		err error
	)
	if target == "" {
		sel, err = e.reselectLocked(ctx)
	} else {
		var raw []string
		raw, err = e.feed.AvailableExpirations(ctx)
		if err == nil {
			sel, err = e.selector.Manual(target, raw)
		}
		if err == nil {
			e.selection = &sel
		}
	}
	if err != nil {
		r := domain.Failure(action, err)
		r.Message = fmt.Sprintf("Expiration switch failed: %v", err)
		e.setMessage(r.Message)
		slog.Warn("Expiration switch failed", slog.String("target", target), slog.Any("error", err))
		return r, err
	}
	return e.succeed(domain.Result{
		Action:  action,
		Message: fmt.Sprintf("Expiration set to %s (%s, %dDTE)", sel.Expiry(), sel.Strategy, sel.Candidate.DTE),
	})
}

// ExpirationStatus reports the cached selection, if any.
func (e *Engine) ExpirationStatus() (domain.ExpirationStatus, bool) {
	e.cfgMu.Lock()
	defer e.cfgMu.Unlock()
	if e.selection == nil {
		return domain.ExpirationStatus{}, false
	}
	return e.selection.Status(), true
}

// UpdateTradingConfig applies a partial configuration. It takes effect on
// the next sizing or order cycle. A symbol change drops cached quotes and
// the expiration selection.
func (e *Engine) UpdateTradingConfig(patch domain.TradingConfigPatch) (domain.Result, error) {
	const action = "CONFIG"

	e.cfgMu.Lock()
	next := patch.Merge(e.cfg)
	if err := validateTradingConfig(next); err != nil {
		e.cfgMu.Unlock()
		r := domain.Failure(action, err)
		e.setMessage(r.Message)
		slog.Error("Trading config rejected", slog.Any("error", err))
		return r, err
	}
	symbolChanged := next.UnderlyingSymbol != e.cfg.UnderlyingSymbol
	e.cfg = next
	if symbolChanged {
		e.selection = nil
	}
	e.cfgMu.Unlock()

	e.chase.SetTimeout(next.ChaseTimeout)
	if symbolChanged {
		for {
			prev := e.snapshot.Load()
			cleared := *prev
			cleared.Call, cleared.Put = domain.Quote{}, domain.Quote{}
			cleared.UnderlyingPrice = decimal.Zero
			if e.snapshot.CompareAndSwap(prev, &cleared) {
				break
			}
		}
	}

	slog.Info("Trading config updated",
		slog.String("symbol", next.UnderlyingSymbol),
		slog.String("trade_delta", next.TradeDelta.String()),
		slog.String("max_trade_value", next.MaxTradeValue.String()),
		slog.Int64("runner", next.Runner),
		slog.Int("risk_levels", len(next.RiskTiers)),
		slog.Bool("symbol_changed", symbolChanged))
	return e.succeed(domain.Result{Action: action, Message: "Trading configuration updated"})
}

func validateTradingConfig(c domain.TradingConfig) error {
	switch {
	case c.UnderlyingSymbol == "":
		return &domain.ConfigError{Field: "underlying_symbol", Err: errors.New("must not be empty")}
	case c.TradeDelta.IsNegative():
		return &domain.ConfigError{Field: "trade_delta", Err: errors.New("must not be negative")}
	case c.MaxTradeValue.IsNegative():
		return &domain.ConfigError{Field: "max_trade_value", Err: errors.New("must not be negative")}
	case c.Runner < 0:
		return &domain.ConfigError{Field: "runner", Err: errors.New("must not be negative")}
	}
	for i, t := range c.RiskTiers {
		if t.LossThresholdPct.IsNegative() || t.AccountTradeLimitPct.IsNegative() {
			return &domain.ConfigError{Field: fmt.Sprintf("risk_levels[%d]", i), Err: errors.New("percentages must not be negative")}
		}
	}
	return nil
}

// UpdateMarketData folds a feed update into a new snapshot.
func (e *Engine) UpdateMarketData(update domain.MarketUpdate) error {
	for {
		prev := e.snapshot.Load()
		next, err := update.Apply(*prev, e.now())
		if err != nil {
			slog.Warn("Market update rejected", slog.Any("error", err))
			return err
		}
		next.Currency = e.currency()
		if e.snapshot.CompareAndSwap(prev, &next) {
			return nil
		}
	}
}

func (e *Engine) currency() string {
	e.cfgMu.Lock()
	defer e.cfgMu.Unlock()
	return e.cfg.Currency
}

// ActivePositions returns copies of the open positions.
func (e *Engine) ActivePositions() []domain.Position {
	e.posMu.Lock()
	defer e.posMu.Unlock()
	return e.positions.All()
}

// OpenOrders returns copies of the orders that can still trade, oldest first.
func (e *Engine) OpenOrders() []domain.Order {
	e.orderMu.Lock()
	defer e.orderMu.Unlock()

	out := make([]domain.Order, 0, len(e.orders))
	for _, o := range e.orders {
		if o.IsOpen() {
			out = append(out, *o)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// BracketOrders returns copies of the bracket groups.
func (e *Engine) BracketOrders() []domain.BracketGroup {
	e.bracketMu.Lock()
	defer e.bracketMu.Unlock()
	return e.brackets.Groups()
}

// RiskManagementStatus summarizes sizing inputs and engine state.
func (e *Engine) RiskManagementStatus() domain.RiskStatus {
	e.lockTrading()
	defer e.unlockTrading()
	cfg := e.config()
	snap := e.Snapshot()

	st := domain.RiskStatus{
		Symbol:          cfg.UnderlyingSymbol,
		Currency:        cfg.Currency,
		AccountValue:    snap.AccountValue.StringFixed(2),
		DailyPnLPercent: snap.DailyPnLPercent.StringFixed(2),
		PDTMinimum:      risk.PDTMinimum(cfg.Currency).StringFixed(2),
		PDTBuffer:       risk.PDTBuffer(snap.AccountValue, cfg.Currency).StringFixed(2),
		MaxTradeValue:   cfg.MaxTradeValue.StringFixed(2),
		Runner:          cfg.Runner,
		Connected:       e.connected.Load(),
		Submission:      e.guard.State(),
		Positions:       e.positions.Len(),
		LiveBrackets:    e.brackets.LiveCount(),
		PendingBrackets: e.brackets.PendingCount(),
	}
	if tier, err := risk.ResolveTier(cfg.RiskTiers, snap.DailyPnLPercent); err != nil {
		st.TierError = err.Error()
	} else {
		st.ActiveTier = &tier
	}
	for _, o := range e.orders {
		if o.IsOpen() {
			st.OpenOrders++
		}
	}
	if exp, ok := e.ExpirationStatus(); ok {
		st.Expiration = &exp
	}
	return st
}

// Close stops every chase timer. Broker-side orders are left as they are.
func (e *Engine) Close() {
	if dropped := e.chase.StopAll(); len(dropped) > 0 {
		slog.Info("Chase timers stopped on close", slog.Int("count", len(dropped)))
	}
}

// Symbol returns the configured underlying.
func (e *Engine) Symbol() string {
	return e.config().UnderlyingSymbol
}
