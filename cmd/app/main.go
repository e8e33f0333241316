package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"options_go/internal/app"
	"options_go/internal/infra"

	_ "net/http/pprof" // For pprof profiling
	_ "time/tzdata"    // Exchange timezone without a system zoneinfo
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config")
	pprofAddr := flag.String("pprof", "", "pprof listen address, e.g. localhost:6060")
	flag.Parse()

	// 1. Pprof Server (for performance profiling)
	if *pprofAddr != "" {
		go func() {
			slog.Info("🕵️ Pprof server started", slog.String("addr", *pprofAddr))
			if err := http.ListenAndServe(*pprofAddr, nil); err != nil {
				slog.Error("Pprof server failed", slog.Any("error", err))
			}
		}()
	}

	// 2. Graceful Shutdown Context
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. System Bootstrapping
	bootstrap := app.NewBootstrap(*configPath)
	if err := bootstrap.Initialize(ctx); err != nil {
		slog.Error("❌ Bootstrapping failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer bootstrap.Shutdown()

	g, ctx := errgroup.WithContext(ctx)

	// 4. Sequencer (single writer for market data and order status)
	g.Go(func() error {
		bootstrap.Sequencer.Run(ctx)
		return nil
	})
	slog.InfoContext(ctx, "✅ Sequencer started")

	g.Go(func() error { return bootstrap.RunPaper(ctx) })
	g.Go(func() error { return bootstrap.ServeMetrics(ctx) })

	// 5. Config hot reload
	watcher, err := infra.NewConfigWatcher(*configPath, func(cfg *infra.Config) {
		bootstrap.ApplyConfig(ctx, cfg)
	})
	if err != nil {
		slog.Warn("Config watcher disabled", slog.Any("error", err))
	} else {
		g.Go(func() error { return watcher.Run(ctx) })
	}

	// 6. Broker session
	if err := bootstrap.Connect(ctx); err != nil {
		slog.Error("❌ Broker connect failed", slog.Any("error", err))
		stop()
	}

	// 7. Operator console; quit ends the session
	g.Go(func() error {
		err := bootstrap.NewConsole(os.Stdin, os.Stdout).Run(ctx)
		if errors.Is(err, app.ErrQuit) {
			stop()
			return nil
		}
		return err
	})

	slog.InfoContext(ctx, "✨ Options engine fully operational. Press Ctrl+C to exit.",
		slog.String("mode", bootstrap.Config.Broker.Mode),
		slog.String("symbol", bootstrap.Engine.Symbol()))

	<-ctx.Done()
	slog.Info("👋 Shutting down gracefully...")
	if err := g.Wait(); err != nil {
		slog.Error("Shutdown with error", slog.Any("error", err))
	}
}
