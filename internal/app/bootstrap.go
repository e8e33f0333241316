package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"options_go/internal/domain"
	"options_go/internal/engine"
	"options_go/internal/event"
	"options_go/internal/execution"
	"options_go/internal/expiry"
	"options_go/internal/infra"
	"options_go/internal/infra/bridge"
	"options_go/internal/infra/storage"
	"options_go/internal/service"
)

const (
	inboxSize          = 1024
	expirationCacheTTL = time.Minute
	jobTimeout         = 30 * time.Second

	// manualExpirationKey persists the last manual expiration choice across restarts.
	manualExpirationKey = "expiration.manual"
)

// Bootstrap orchestrates the application startup sequence
type Bootstrap struct {
	ConfigPath string

	Config    *infra.Config
	Location  *time.Location
	Storage   *storage.Storage
	Metrics   *infra.Metrics
	Market    *service.MarketService
	Sequencer *engine.Sequencer
	Engine    *engine.Engine
	Scheduler *infra.Scheduler

	Paper  *execution.PaperBroker // paper mode only
	Bridge *bridge.Client         // nil in offline paper mode
}

// NewBootstrap creates a new Bootstrap instance
func NewBootstrap(configPath string) *Bootstrap {
	return &Bootstrap{ConfigPath: configPath}
}

// Initialize performs core system initialization (config, logger, DB, gateway, engine)
func (b *Bootstrap) Initialize(ctx context.Context) error {
	// 1. Load Config
	cfg, err := infra.LoadConfig(b.ConfigPath)
	if err != nil {
		return err // Let main handle the error
	}
	b.Config = cfg

	// 2. Setup Logger
	slog.SetDefault(infra.NewLogger(cfg))
	slog.Info("🚀 Bootstrapping options engine...", slog.String("mode", cfg.Broker.Mode))

	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	b.Location = loc

	// 3. Initialize Storage (DB)
	store, err := storage.NewStorage(cfg.Storage.Path, loc)
	if err != nil {
		return err
	}
	b.Storage = store
	slog.Info("✅ Journal initialized", slog.String("path", cfg.Storage.Path))

	b.Metrics = infra.NewMetrics()
	event.Warmup()

	// 4. Sequencer first: gateways need its inbox
	b.Sequencer = engine.NewSequencer(inboxSize, store, nil, nil).
		WithMetrics(b.Metrics).
		WithStateDump(func() any { return b.Engine.RiskManagementStatus() })

	var gateway domain.BrokerGateway
	var source domain.MarketDataFeed
	if cfg.Broker.BridgeURL != "" {
		b.Bridge = bridge.NewClient(bridge.Options{
			URL:            cfg.Broker.BridgeURL,
			AccountID:      cfg.Broker.AccountID,
			RequestTimeout: cfg.RequestTimeout(),
			RateLimit:      cfg.Broker.RateLimitPerSec,
			ReconnectDelay: time.Duration(cfg.Broker.ReconnectDelayMS) * time.Millisecond,
			Metrics:        b.Metrics,
		}, b.Sequencer.Inbox())
		source = b.Bridge
	}
	switch cfg.Broker.Mode {
	case infra.ModeBridge:
		gateway = b.Bridge
	default:
		b.Paper = execution.NewPaperBroker()
		gateway = b.Paper
	}

	// 5. Market service + engine
	b.Market = service.NewMarketService(source, expirationCacheTTL)
	eng, err := engine.New(engine.Options{
		Gateway:  gateway,
		Feed:     b.Market,
		Journal:  store,
		Metrics:  b.Metrics,
		Config:   cfg.TradingConfig(),
		Location: loc,
	})
	if err != nil {
		return err
	}
	b.Engine = eng
	b.Market.Attach(eng)
	b.Sequencer.Attach(eng, b.Market)
	if b.Paper != nil {
		b.Market.Observe(b.Paper.OnSnapshot)
	}
	if b.Bridge != nil {
		b.Bridge.Subscribe(ctx, cfg.Trading.UnderlyingSymbol) // not connected yet: sent on connect
	}
	if b.Paper != nil {
		b.seedPaperExpirations(cfg.Trading.UnderlyingSymbol)
	}
	slog.Info("✅ Engine ready", slog.String("symbol", cfg.Trading.UnderlyingSymbol), slog.Int("risk_levels", len(cfg.Trading.RiskLevels)))

	// 6. Scheduled expiration refresh
	b.Scheduler = infra.NewScheduler(ctx, loc)
	if err := b.Scheduler.Add("expiration-noon", "0 12 * * 1-5", jobTimeout, b.refreshExpiration); err != nil {
		return err
	}
	if err := b.Scheduler.Add("expiration-midnight", "5 0 * * *", jobTimeout, b.refreshExpiration); err != nil {
		return err
	}

	return nil
}

// seedPaperExpirations lists the next business days. A sidecar listing, when
// one arrives, replaces it.
func (b *Bootstrap) seedPaperExpirations(symbol string) {
	b.Market.SetExpirations(symbol, PaperExpirations(time.Now().In(b.Location), 5))
}

func (b *Bootstrap) refreshExpiration(ctx context.Context) error {
	if b.Paper != nil && b.Bridge == nil {
		b.seedPaperExpirations(b.Engine.Symbol())
	}
	return b.Engine.RefreshExpiration(ctx)
}

// PaperExpirations returns n daily expirations starting today (or the next business day).
func PaperExpirations(now time.Time, n int) []string {
	out := make([]string, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, expiry.AddBusinessDays(now, i).Format("20060102"))
	}
	return out
}

// Connect starts the broker session and restores a saved manual expiration.
func (b *Bootstrap) Connect(ctx context.Context) error {
	for _, conn := range b.connectors() {
		if err := conn.Connect(ctx); err != nil {
			return fmt.Errorf("gateway connect: %w", err)
		}
	}
	b.Scheduler.Start()
	b.restoreManualExpiration(ctx)
	return nil
}

func (b *Bootstrap) connectors() []domain.GatewayConnector {
	var out []domain.GatewayConnector
	if b.Bridge != nil {
		out = append(out, b.Bridge)
	}
	if b.Paper != nil {
		out = append(out, b.Paper)
	}
	return out
}

func (b *Bootstrap) restoreManualExpiration(ctx context.Context) {
	saved, err := b.Storage.LoadConfigMap()
	if err != nil {
		slog.Warn("Failed to load saved settings", slog.Any("error", err))
		return
	}
	target := saved[manualExpirationKey]
	if target == "" {
		return
	}
	if _, err := b.Engine.ManualExpirationSwitch(ctx, target); err != nil {
		if domain.IsRetriable(err) {
			return
		}
		slog.Info("Saved manual expiration no longer listed", slog.String("expiry", target))
		b.Storage.SaveConfig(manualExpirationKey, "")
	}
}

// SwitchExpiration applies and persists a manual expiration. Empty means automatic.
func (b *Bootstrap) SwitchExpiration(ctx context.Context, target string) (domain.Result, error) {
	r, err := b.Engine.ManualExpirationSwitch(ctx, target)
	if err != nil {
		return r, err
	}
	if err := b.Storage.SaveConfig(manualExpirationKey, target); err != nil {
		slog.Warn("Failed to persist manual expiration", slog.Any("error", err))
	}
	return r, nil
}

// ApplyConfig pushes a reloaded config into the running engine.
func (b *Bootstrap) ApplyConfig(ctx context.Context, cfg *infra.Config) {
	prev := b.Engine.Symbol()
	if _, err := b.Engine.UpdateTradingConfig(cfg.TradingPatch()); err != nil {
		return
	}
	if next := cfg.Trading.UnderlyingSymbol; next != prev {
		if b.Bridge != nil {
			if err := b.Bridge.Subscribe(ctx, next); err != nil {
				slog.Error("Resubscribe failed", slog.String("symbol", next), slog.Any("error", err))
			}
		}
		if b.Paper != nil {
			b.seedPaperExpirations(next)
		}
	}
}

// RunPaper pumps paper broker events into the sequencer.
func (b *Bootstrap) RunPaper(ctx context.Context) error {
	if b.Paper == nil {
		return nil
	}
	b.Paper.Run(ctx, b.Sequencer.Inbox())
	return nil
}

// ServeMetrics exposes /metrics until ctx is done. No-op without an address.
// A listen failure is logged, not returned.
func (b *Bootstrap) ServeMetrics(ctx context.Context) error {
	addr := b.Config.Metrics.Addr
	if addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", b.Metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	slog.Info("📈 Metrics server started", slog.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Metrics server failed", slog.String("addr", addr), slog.Any("error", err))
	}
	return nil
}

// NewConsole wires the hotkey console to the engine. Paper mode accepts typed quotes.
func (b *Bootstrap) NewConsole(in io.Reader, out io.Writer) *Console {
	c := NewConsole(b.Engine, b.SwitchExpiration, in, out)
	if b.Paper != nil {
		c.WithQuoteInput(b.Sequencer.Inbox())
	}
	return c
}

// Shutdown stops timers and connections. Broker-side orders are left alone.
func (b *Bootstrap) Shutdown() {
	if b.Scheduler != nil {
		b.Scheduler.Stop()
	}
	if b.Engine != nil {
		b.Engine.Close()
	}
	for _, conn := range b.connectors() {
		conn.Disconnect()
	}
	if b.Storage != nil {
		if err := b.Storage.Close(); err != nil {
			slog.Warn("Journal close failed", slog.Any("error", err))
		}
	}
}
