package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"trade_sim/internal/app"
	"trade_sim/internal/domain"

	_ "net/http/pprof" // For pprof profiling
)

func main() {
	// 1. Pprof Server (for performance profiling)
	go func() {
		// Localhost only for security
		slog.Info("🕵️ Pprof server started on localhost:6060")
		if err := http.ListenAndServe("localhost:6060", nil); err != nil {
			slog.Error("Pprof server failed", slog.Any("error", err))
		}
	}()

	// 2. System Bootstrapping
	bootstrap := app.NewBootstrap()
	if err := bootstrap.Initialize(); err != nil {
		slog.Error("❌ Bootstrapping failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer bootstrap.Shutdown()

	// 3. Graceful Shutdown Context
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 4. Start streaming the configured symbol
	if err := bootstrap.Activate(ctx); err != nil {
		slog.Error("❌ Failed to activate symbol", slog.Any("error", err), slog.Bool("retriable", domain.IsRetriable(err)))
		bootstrap.Shutdown()
		os.Exit(1)
	}

	g, gctx := errgroup.WithContext(ctx)

	// 5. Metrics endpoint
	if addr := bootstrap.Config.Metrics.Addr; addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(bootstrap.Registry, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

		g.Go(func() error {
			slog.Info("📈 Metrics server started", slog.String("addr", addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	// 6. Periodic simulation report
	g.Go(func() error {
		return runReports(gctx, bootstrap)
	})

	slog.InfoContext(ctx, "✨ Trade simulator fully operational. Press Ctrl+C to exit.")

	if err := g.Wait(); err != nil {
		slog.Error("Service stopped with error", slog.Any("error", err))
	}
	slog.Info("👋 Shutting down gracefully...")
}

// runReports estimates the configured order every interval and logs the
// result alongside feed stats.
func runReports(ctx context.Context, b *app.Bootstrap) error {
	cfg := b.Config
	req, err := cfg.SimulationRequest()
	if err != nil {
		return err
	}

	ticker := time.NewTicker(cfg.Simulation.Interval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		res, err := b.Simulator.RunSimulation(req)
		stats := b.Simulator.GetPerformanceStats()
		b.Metrics.Observe(stats.Symbol, req.QuantityUSD, res, err)

		switch {
		case errors.Is(err, domain.ErrNoMarketData), errors.Is(err, domain.ErrNotReady):
			slog.Debug("Waiting for market data", slog.Any("error", err))
			continue
		case err != nil:
			slog.Warn("Simulation failed", slog.Any("error", err))
			continue
		}

		slog.Info("Simulation",
			slog.String("symbol", stats.Symbol),
			slog.Float64("quantity_usd", req.QuantityUSD),
			slog.Float64("slippage", res.Slippage),
			slog.Float64("market_impact", res.MarketImpact),
			slog.Float64("fee", res.Fee),
			slog.Float64("maker_proportion", res.MakerProportion),
			slog.Float64("net_cost", res.NetCost),
			slog.Bool("degraded", res.Degraded),
			slog.Float64("avg_ms", stats.AvgProcessingTimeMs),
			slog.Uint64("messages", stats.MessageCount),
			slog.Uint64("dropped", stats.DroppedMessageCount),
		)

		if b.Journal != nil {
			if err := b.Journal.RecordSimulation(stats.Exchange, stats.Symbol, req, res); err != nil {
				slog.Warn("Failed to journal simulation", slog.Any("error", err))
			}
			if err := b.Journal.RecordStats(stats); err != nil {
				slog.Warn("Failed to journal stats", slog.Any("error", err))
			}
		}
	}
}
