package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"options_go/internal/domain"
)

type fakeGateway struct {
	mu        sync.Mutex
	next      int
	submitted []domain.OrderRequest
	ids       []string
	cancelled []string
	submitErr error
	cancelErr error
	delay     time.Duration
}

func (g *fakeGateway) SubmitOrder(ctx context.Context, req domain.OrderRequest) (string, error) {
	if g.delay > 0 {
		time.Sleep(g.delay)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.submitErr != nil {
		return "", g.submitErr
	}
	g.next++
	id := fmt.Sprintf("O%d", g.next)
	g.submitted = append(g.submitted, req)
	g.ids = append(g.ids, id)
	return id, nil
}

func (g *fakeGateway) CancelOrder(ctx context.Context, orderID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.cancelErr != nil {
		return g.cancelErr
	}
	g.cancelled = append(g.cancelled, orderID)
	return nil
}

func (g *fakeGateway) requests() []domain.OrderRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]domain.OrderRequest(nil), g.submitted...)
}

func (g *fakeGateway) lastID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.ids[len(g.ids)-1]
}

func (g *fakeGateway) cancels() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.cancelled...)
}

type fakeFeed struct {
	expirations []string
}

func (f *fakeFeed) AvailableExpirations(ctx context.Context) ([]string, error) {
	return f.expirations, nil
}

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func fptr(v float64) *float64 { return &v }

func testConfig() domain.TradingConfig {
	return domain.TradingConfig{
		UnderlyingSymbol: "SPY",
		TradeDelta:       d("0.05"),
		MaxTradeValue:    d("15"),
		Runner:           1,
		Currency:         domain.CurrencyUSD,
		ChaseTimeout:     50 * time.Millisecond,
		RiskTiers: []domain.RiskTier{{
			LossThresholdPct:     d("0"),
			AccountTradeLimitPct: d("10"),
			StopLossPct:          decimal.NewNullDecimal(d("20")),
			ProfitGainPct:        decimal.NewNullDecimal(d("50")),
		}},
	}
}

func setupEngine(t *testing.T) (*Engine, *fakeGateway) {
	t.Helper()
	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}
	gw := &fakeGateway{}
	e, err := New(Options{
		Gateway:  gw,
		Feed:     &fakeFeed{expirations: []string{"20260105", "20260106", "20260107"}},
		Config:   testConfig(),
		Location: ny,
		Clock:    func() time.Time { return time.Date(2026, 1, 5, 10, 0, 0, 0, ny) },
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	err = e.UpdateMarketData(domain.MarketUpdate{
		Call:            &domain.QuoteUpdate{Bid: fptr(1.40), Ask: fptr(1.50), Strike: fptr(450)},
		Put:             &domain.QuoteUpdate{Bid: fptr(1.20), Ask: fptr(1.30), Strike: fptr(449)},
		UnderlyingPrice: fptr(450.2),
		AccountValue:    fptr(10000),
		DailyPnLPercent: fptr(0),
	})
	if err != nil {
		t.Fatalf("UpdateMarketData failed: %v", err)
	}
	t.Cleanup(e.Close)
	return e, gw
}

// openPosition buys calls and fills the entry at price.
func openPosition(t *testing.T, e *Engine, gw *fakeGateway, price string) string {
	t.Helper()
	r, err := e.PlaceBuyOrder(context.Background(), domain.RightCall)
	if err != nil {
		t.Fatalf("PlaceBuyOrder failed: %v", err)
	}
	e.HandleOrderStatus(context.Background(), domain.OrderStatus{
		OrderID:   r.OrderID,
		Status:    domain.StatusFilled,
		FilledQty: r.Quantity,
		FillPrice: d(price),
	})
	return r.OrderID
}

func TestEngine_PlaceBuyOrder(t *testing.T) {
	e, gw := setupEngine(t)

	r, err := e.PlaceBuyOrder(context.Background(), domain.RightCall)
	if err != nil {
		t.Fatalf("PlaceBuyOrder failed: %v", err)
	}
	if !r.OK || r.Quantity != 10 {
		t.Errorf("Expected OK with 10 contracts, got %+v", r)
	}

	reqs := gw.requests()
	if len(reqs) != 1 {
		t.Fatalf("Expected 1 submission, got %d", len(reqs))
	}
	req := reqs[0]
	if req.Side != domain.SideBuy || req.Kind != domain.OrderKindMarket {
		t.Errorf("Expected market BUY, got %s %s", req.Kind, req.Side)
	}
	if req.Contract.Expiry != "20260105" {
		t.Errorf("Expected 0DTE expiry 20260105, got %s", req.Contract.Expiry)
	}
	if !req.Contract.Strike.Equal(d("450")) {
		t.Errorf("Expected strike 450, got %s", req.Contract.Strike)
	}

	_, err = e.PlaceBuyOrder(context.Background(), domain.RightPut)
	if !errors.Is(err, domain.ErrPositionAlreadyActive) {
		t.Errorf("Expected ErrPositionAlreadyActive while entry works, got %v", err)
	}
	if len(gw.requests()) != 1 {
		t.Error("Rejected BUY must not reach the broker")
	}
}

func TestEngine_InvalidRight(t *testing.T) {
	e, gw := setupEngine(t)

	_, err := e.PlaceBuyOrder(context.Background(), domain.OptionRight("STRADDLE"))
	if !errors.Is(err, domain.ErrInvalidOptionRight) {
		t.Errorf("Expected ErrInvalidOptionRight, got %v", err)
	}
	if len(gw.requests()) != 0 {
		t.Error("Expected no broker call")
	}
}

func TestEngine_ConcurrentBuysOpenOnePosition(t *testing.T) {
	e, gw := setupEngine(t)
	gw.delay = 20 * time.Millisecond

	var wg sync.WaitGroup
	var mu sync.Mutex
	var oks, informational int
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := e.PlaceBuyOrder(context.Background(), domain.RightCall)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				oks++
			} else if r.Informational {
				informational++
			}
		}()
	}
	wg.Wait()

	if oks != 1 {
		t.Errorf("Expected exactly 1 accepted BUY, got %d", oks)
	}
	if informational != 4 {
		t.Errorf("Expected 4 informational rejections, got %d", informational)
	}
	if n := len(gw.requests()); n != 1 {
		t.Errorf("Expected 1 broker submission, got %d", n)
	}
}

func TestEngine_GuardReleasedAfterBrokerError(t *testing.T) {
	e, gw := setupEngine(t)
	gw.submitErr = domain.NewRejectedError("submit", "", "insufficient margin")

	_, err := e.PlaceBuyOrder(context.Background(), domain.RightCall)
	if !errors.Is(err, domain.ErrBrokerRejected) {
		t.Fatalf("Expected ErrBrokerRejected, got %v", err)
	}
	if e.SubmissionState().InFlight {
		t.Error("Guard should be released after broker error")
	}

	gw.mu.Lock()
	gw.submitErr = nil
	gw.mu.Unlock()
	if _, err := e.PlaceBuyOrder(context.Background(), domain.RightCall); err != nil {
		t.Errorf("Expected retry to succeed, got %v", err)
	}
}

func TestEngine_BracketAfterEntryFill(t *testing.T) {
	e, gw := setupEngine(t)
	parent := openPosition(t, e, gw, "1.50")

	pos := e.ActivePositions()
	if len(pos) != 1 || pos[0].Quantity != 10 {
		t.Fatalf("Expected position of 10, got %+v", pos)
	}

	reqs := gw.requests()
	if len(reqs) != 3 {
		t.Fatalf("Expected entry plus 2 legs, got %d submissions", len(reqs))
	}
	stop, profit := reqs[1], reqs[2]
	if stop.Kind != domain.OrderKindStop || !stop.StopPrice.Equal(d("1.20")) {
		t.Errorf("Expected STOP at 1.20, got %s %s", stop.Kind, stop.StopPrice)
	}
	if profit.Kind != domain.OrderKindLimit || !profit.LimitPrice.Equal(d("2.25")) {
		t.Errorf("Expected LIMIT at 2.25, got %s %s", profit.Kind, profit.LimitPrice)
	}
	for _, leg := range []domain.OrderRequest{stop, profit} {
		if leg.OCAGroup != "OCA_"+parent || !leg.GoodTillCancel || leg.Quantity != 10 {
			t.Errorf("Unexpected leg %+v", leg)
		}
	}

	groups := e.BracketOrders()
	if len(groups) != 1 || groups[0].State != domain.BracketActive {
		t.Fatalf("Expected 1 active bracket, got %+v", groups)
	}
	g := groups[0]

	// Stop triggers: profit leg is cancelled and the position closes.
	e.HandleOrderStatus(context.Background(), domain.OrderStatus{
		OrderID:   g.StopOrderID,
		Status:    domain.StatusFilled,
		FilledQty: 10,
		FillPrice: d("1.20"),
	})

	if len(e.ActivePositions()) != 0 {
		t.Error("Expected position to be closed")
	}
	cancels := gw.cancels()
	if len(cancels) != 1 || cancels[0] != g.ProfitOrderID {
		t.Errorf("Expected cancel of profit leg %s, got %v", g.ProfitOrderID, cancels)
	}

	// A late cancel confirmation does not reopen anything.
	e.HandleOrderStatus(context.Background(), domain.OrderStatus{OrderID: g.ProfitOrderID, Status: domain.StatusCancelled})
	if groups := e.BracketOrders(); groups[0].State != domain.BracketClosed {
		t.Errorf("Expected bracket CLOSED, got %s", groups[0].State)
	}
	if n := len(e.OpenOrders()); n != 0 {
		t.Errorf("Expected no open orders, got %d", n)
	}
}

func TestEngine_ChaseConvertsRemainder(t *testing.T) {
	e, gw := setupEngine(t)
	openPosition(t, e, gw, "1.50")

	r, err := e.PlaceSellOrder(context.Background(), true)
	if err != nil {
		t.Fatalf("PlaceSellOrder failed: %v", err)
	}
	reqs := gw.requests()
	limit := reqs[len(reqs)-1]
	if limit.Kind != domain.OrderKindLimit || !limit.LimitPrice.Equal(d("1.40")) {
		t.Errorf("Expected chase LIMIT at 1.40, got %s %s", limit.Kind, limit.LimitPrice)
	}
	// Losing position: no runner kept.
	if limit.Quantity != 10 {
		t.Errorf("Expected full exit of 10, got %d", limit.Quantity)
	}

	e.HandleOrderStatus(context.Background(), domain.OrderStatus{
		OrderID:      r.OrderID,
		Status:       domain.StatusPartiallyFilled,
		FilledQty:    4,
		RemainingQty: 6,
		FillPrice:    d("1.40"),
	})

	time.Sleep(150 * time.Millisecond)

	reqs = gw.requests()
	market := reqs[len(reqs)-1]
	if market.Kind != domain.OrderKindMarket || market.Side != domain.SideSell || market.Quantity != 6 {
		t.Errorf("Expected market SELL of 6, got %s %s %d", market.Kind, market.Side, market.Quantity)
	}
	found := false
	for _, id := range gw.cancels() {
		if id == r.OrderID {
			found = true
		}
	}
	if !found {
		t.Errorf("Expected chase limit %s to be cancelled", r.OrderID)
	}
}

func TestEngine_ConnectionLossAbortsChase(t *testing.T) {
	e, gw := setupEngine(t)
	openPosition(t, e, gw, "1.50")

	if _, err := e.PlaceSellOrder(context.Background(), true); err != nil {
		t.Fatalf("PlaceSellOrder failed: %v", err)
	}
	before := len(gw.requests())

	e.HandleConnection(context.Background(), false)
	time.Sleep(150 * time.Millisecond)

	if after := len(gw.requests()); after != before {
		t.Errorf("Expected no market conversion after disconnect, got %d new orders", after-before)
	}
	if msg := e.LastActionMessage(); !strings.Contains(msg, domain.ErrChaseAborted.Error()) {
		t.Errorf("Expected chase aborted message, got %q", msg)
	}
}

func TestEngine_SellKeepsRunnerWhenProfitable(t *testing.T) {
	e, gw := setupEngine(t)
	openPosition(t, e, gw, "1.00")

	r, err := e.PlaceSellOrder(context.Background(), false)
	if err != nil {
		t.Fatalf("PlaceSellOrder failed: %v", err)
	}
	if r.Quantity != 9 {
		t.Errorf("Expected 9 contracts sold with 1 runner, got %d", r.Quantity)
	}

	_, err = e.PlaceSellOrder(context.Background(), false)
	if !errors.Is(err, domain.ErrExitInProgress) {
		t.Errorf("Expected ErrExitInProgress, got %v", err)
	}
}

func TestEngine_PartialExitResizesBrackets(t *testing.T) {
	e, gw := setupEngine(t)
	parent := openPosition(t, e, gw, "1.00")
	g := e.BracketOrders()[0]

	r, err := e.PlaceSellOrder(context.Background(), false)
	if err != nil {
		t.Fatalf("PlaceSellOrder failed: %v", err)
	}
	e.HandleOrderStatus(context.Background(), domain.OrderStatus{
		OrderID: r.OrderID, Status: domain.StatusFilled, FilledQty: 9, FillPrice: d("1.45"),
	})

	if pos := e.ActivePositions(); len(pos) != 1 || pos[0].Quantity != 1 {
		t.Fatalf("Expected runner of 1, got %+v", pos)
	}
	cancels := gw.cancels()
	if len(cancels) != 2 || cancels[0] != g.StopOrderID || cancels[1] != g.ProfitOrderID {
		t.Errorf("Expected both legs cancelled, got %v", cancels)
	}
	if n := len(gw.requests()); n != 4 {
		t.Fatalf("Expected replacements to wait for cancel confirmations, got %d submissions", n)
	}

	e.HandleOrderStatus(context.Background(), domain.OrderStatus{OrderID: g.StopOrderID, Status: domain.StatusCancelled})
	e.HandleOrderStatus(context.Background(), domain.OrderStatus{OrderID: g.ProfitOrderID, Status: domain.StatusCancelled})

	reqs := gw.requests()
	if len(reqs) != 6 {
		t.Fatalf("Expected 2 replacement legs, got %d submissions", len(reqs))
	}
	stop, profit := reqs[4], reqs[5]
	if stop.Kind != domain.OrderKindStop || !stop.StopPrice.Equal(d("0.80")) {
		t.Errorf("Expected STOP at 0.80, got %s %s", stop.Kind, stop.StopPrice)
	}
	if profit.Kind != domain.OrderKindLimit || !profit.LimitPrice.Equal(d("1.50")) {
		t.Errorf("Expected LIMIT at 1.50, got %s %s", profit.Kind, profit.LimitPrice)
	}
	for _, leg := range []domain.OrderRequest{stop, profit} {
		if leg.Quantity != 1 || leg.OCAGroup != "OCA_"+parent || !leg.GoodTillCancel {
			t.Errorf("Unexpected replacement leg %+v", leg)
		}
	}

	groups := e.BracketOrders()
	if len(groups) != 1 {
		t.Fatalf("Expected 1 bracket, got %d", len(groups))
	}
	resized := groups[0]
	if resized.State != domain.BracketActive || resized.Quantity != 1 {
		t.Errorf("Expected active bracket of 1, got %s %d", resized.State, resized.Quantity)
	}
	if resized.StopOrderID != "O5" || resized.ProfitOrderID != "O6" {
		t.Errorf("Expected legs O5/O6, got %s/%s", resized.StopOrderID, resized.ProfitOrderID)
	}
}

func TestEngine_ResizeDroppedWhenOldLegCloses(t *testing.T) {
	e, gw := setupEngine(t)
	openPosition(t, e, gw, "1.00")
	g := e.BracketOrders()[0]

	r, err := e.PlaceSellOrder(context.Background(), false)
	if err != nil {
		t.Fatalf("PlaceSellOrder failed: %v", err)
	}
	e.HandleOrderStatus(context.Background(), domain.OrderStatus{
		OrderID: r.OrderID, Status: domain.StatusFilled, FilledQty: 9, FillPrice: d("1.45"),
	})

	// The old stop trades before its cancel lands and takes the runner.
	e.HandleOrderStatus(context.Background(), domain.OrderStatus{
		OrderID: g.StopOrderID, Status: domain.StatusPartiallyFilled, FilledQty: 1, RemainingQty: 9, FillPrice: d("0.80"),
	})
	if len(e.ActivePositions()) != 0 {
		t.Fatal("Expected position to be closed")
	}

	e.HandleOrderStatus(context.Background(), domain.OrderStatus{OrderID: g.StopOrderID, Status: domain.StatusCancelled})
	e.HandleOrderStatus(context.Background(), domain.OrderStatus{OrderID: g.ProfitOrderID, Status: domain.StatusCancelled})

	if n := len(gw.requests()); n != 4 {
		t.Errorf("Expected no replacement legs, got %d submissions", n)
	}
	if n := len(e.OpenOrders()); n != 0 {
		t.Errorf("Expected no open orders, got %d", n)
	}
	if st := e.RiskManagementStatus(); st.LiveBrackets != 0 {
		t.Errorf("Expected no live bracket, got %d", st.LiveBrackets)
	}
}

func TestEngine_LateFillOnCancelledExit(t *testing.T) {
	e, gw := setupEngine(t)
	openPosition(t, e, gw, "1.00")

	r, err := e.PlaceSellOrder(context.Background(), true)
	if err != nil {
		t.Fatalf("PlaceSellOrder failed: %v", err)
	}
	e.HandleOrderStatus(context.Background(), domain.OrderStatus{OrderID: r.OrderID, Status: domain.StatusCancelled})
	e.HandleOrderStatus(context.Background(), domain.OrderStatus{
		OrderID: r.OrderID, Status: domain.StatusPartiallyFilled, FilledQty: 3, RemainingQty: 6, FillPrice: d("1.40"),
	})

	if pos := e.ActivePositions(); len(pos) != 1 || pos[0].Quantity != 7 {
		t.Fatalf("Expected late fill to leave 7, got %+v", pos)
	}
	for _, o := range e.OpenOrders() {
		if o.ID == r.OrderID {
			t.Errorf("Expected %s to stay closed, got %s", o.ID, o.State)
		}
	}

	next, err := e.PlaceSellOrder(context.Background(), false)
	if err != nil {
		t.Fatalf("Expected a new exit after the late fill, got %v", err)
	}
	if next.Quantity != 6 {
		t.Errorf("Expected 6 sold with 1 runner, got %d", next.Quantity)
	}
}

func TestEngine_SellWithoutPosition(t *testing.T) {
	e, gw := setupEngine(t)

	r, err := e.PlaceSellOrder(context.Background(), false)
	if !errors.Is(err, domain.ErrNoActivePosition) {
		t.Errorf("Expected ErrNoActivePosition, got %v", err)
	}
	if !r.Informational {
		t.Error("Expected informational result")
	}
	if len(gw.requests()) != 0 {
		t.Error("Expected no broker call")
	}
}

func TestEngine_PendingBracketPlacedOnReconnect(t *testing.T) {
	e, gw := setupEngine(t)

	r, err := e.PlaceBuyOrder(context.Background(), domain.RightCall)
	if err != nil {
		t.Fatalf("PlaceBuyOrder failed: %v", err)
	}
	e.HandleConnection(context.Background(), false)
	e.HandleOrderStatus(context.Background(), domain.OrderStatus{
		OrderID: r.OrderID, Status: domain.StatusFilled, FilledQty: 10, FillPrice: d("1.50"),
	})

	if n := len(gw.requests()); n != 1 {
		t.Fatalf("Expected legs to wait for reconnect, got %d submissions", n)
	}
	if st := e.RiskManagementStatus(); st.PendingBrackets != 1 || st.Connected {
		t.Errorf("Expected 1 pending bracket while disconnected, got %+v", st)
	}

	e.HandleConnection(context.Background(), true)

	if n := len(gw.requests()); n != 3 {
		t.Errorf("Expected both legs after reconnect, got %d submissions", n)
	}
	if st := e.RiskManagementStatus(); st.PendingBrackets != 0 || st.LiveBrackets != 1 {
		t.Errorf("Expected 1 live bracket, got %+v", st)
	}
}

func TestEngine_PanicButton(t *testing.T) {
	t.Run("nothing to flatten", func(t *testing.T) {
		e, gw := setupEngine(t)

		_, err := e.PanicButton(context.Background())
		if !errors.Is(err, domain.ErrNoActivePosition) {
			t.Errorf("Expected ErrNoActivePosition, got %v", err)
		}
		if len(gw.requests()) != 0 || len(gw.cancels()) != 0 {
			t.Error("Expected no broker calls")
		}
	})

	t.Run("sells position and cancels legs", func(t *testing.T) {
		e, gw := setupEngine(t)
		openPosition(t, e, gw, "1.50")
		g := e.BracketOrders()[0]

		report, err := e.PanicButton(context.Background())
		if err != nil {
			t.Fatalf("PanicButton failed: %v", err)
		}
		if report.Sell == nil || !report.Sell.OK {
			t.Fatalf("Expected sell outcome, got %+v", report.Sell)
		}
		reqs := gw.requests()
		sell := reqs[len(reqs)-1]
		if sell.Kind != domain.OrderKindMarket || sell.Side != domain.SideSell || sell.Quantity != 10 {
			t.Errorf("Expected market SELL 10, got %s %s %d", sell.Kind, sell.Side, sell.Quantity)
		}
		if len(report.Cancels) != 2 {
			t.Fatalf("Expected 2 cancels, got %+v", report.Cancels)
		}
		got := map[string]bool{}
		for _, id := range gw.cancels() {
			got[id] = true
		}
		if !got[g.StopOrderID] || !got[g.ProfitOrderID] {
			t.Errorf("Expected both legs cancelled, got %v", gw.cancels())
		}
	})

	t.Run("failed cancels do not block the sell", func(t *testing.T) {
		e, gw := setupEngine(t)
		openPosition(t, e, gw, "1.50")
		gw.mu.Lock()
		gw.cancelErr = domain.NewUnreachableError("cancel", "", nil)
		gw.mu.Unlock()

		report, err := e.PanicButton(context.Background())
		if err == nil {
			t.Error("Expected aggregated cancel error")
		}
		if report.Sell == nil || !report.Sell.OK {
			t.Errorf("Expected sell to go out, got %+v", report.Sell)
		}
		for _, c := range report.Cancels {
			if c.OK || c.Error == "" {
				t.Errorf("Expected failed cancel outcome, got %+v", c)
			}
		}
	})
}

func TestEngine_UpdateTradingConfig(t *testing.T) {
	e, _ := setupEngine(t)

	neg := d("-1")
	_, err := e.UpdateTradingConfig(domain.TradingConfigPatch{TradeDelta: &neg})
	var cfgErr *domain.ConfigError
	if !errors.As(err, &cfgErr) || cfgErr.Field != "trade_delta" {
		t.Errorf("Expected trade_delta ConfigError, got %v", err)
	}

	sym := "QQQ"
	if _, err := e.UpdateTradingConfig(domain.TradingConfigPatch{UnderlyingSymbol: &sym}); err != nil {
		t.Fatalf("UpdateTradingConfig failed: %v", err)
	}
	snap := e.Snapshot()
	if !snap.Call.IsZero() || !snap.UnderlyingPrice.IsZero() {
		t.Error("Expected quotes to be cleared on symbol change")
	}
	if !snap.AccountValue.Equal(d("10000")) {
		t.Errorf("Expected account value kept, got %s", snap.AccountValue)
	}
	if st := e.RiskManagementStatus(); st.Symbol != "QQQ" {
		t.Errorf("Expected symbol QQQ, got %s", st.Symbol)
	}
}

func TestEngine_ManualExpirationSwitch(t *testing.T) {
	e, gw := setupEngine(t)

	if _, err := e.ManualExpirationSwitch(context.Background(), "20260107"); err != nil {
		t.Fatalf("ManualExpirationSwitch failed: %v", err)
	}
	if _, err := e.PlaceBuyOrder(context.Background(), domain.RightPut); err != nil {
		t.Fatalf("PlaceBuyOrder failed: %v", err)
	}
	if exp := gw.requests()[0].Contract.Expiry; exp != "20260107" {
		t.Errorf("Expected manual expiry 20260107, got %s", exp)
	}

	st, ok := e.ExpirationStatus()
	if !ok || !st.Manual {
		t.Errorf("Expected manual status, got %+v", st)
	}
}
