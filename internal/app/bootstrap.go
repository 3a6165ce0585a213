package app

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"trade_sim/internal/book"
	"trade_sim/internal/cost"
	"trade_sim/internal/event"
	"trade_sim/internal/infra"
	"trade_sim/internal/infra/feed"
	"trade_sim/internal/infra/storage"
	"trade_sim/internal/service"
)

// DefaultConfigPath is used when TRADESIM_CONFIG is unset.
const DefaultConfigPath = "configs/config.yaml"

// Bootstrap orchestrates the application startup sequence
type Bootstrap struct {
	Config    *infra.Config
	Journal   *storage.Journal
	Simulator *service.Simulator
	Registry  *prometheus.Registry
	Metrics   *infra.SimulationMetrics
}

// NewBootstrap creates a new Bootstrap instance
func NewBootstrap() *Bootstrap {
	return &Bootstrap{}
}

// Initialize loads configuration, sets up logging, storage and metrics, and
// builds the simulator. No network connection is made yet.
func (b *Bootstrap) Initialize() error {
	path := os.Getenv("TRADESIM_CONFIG")
	if path == "" {
		path = DefaultConfigPath
	}

	// 1. Load Config
	cfg, err := infra.LoadConfig(path)
	if err != nil {
		return err // Let main handle the error
	}
	b.Config = cfg

	// 2. Setup Logger
	logger := infra.NewLogger(cfg)
	slog.SetDefault(logger)
	slog.Info("🚀 Bootstrapping trade simulator...", slog.String("config", path), slog.String("version", cfg.App.Version))

	// 3. Initialize Journal (DB)
	if cfg.Simulation.Journal {
		j, err := storage.Open(cfg.Storage.Path)
		if err != nil {
			return err
		}
		b.Journal = j
		slog.Info("✅ Journal initialized", slog.String("path", cfg.Storage.Path))
	}

	// 4. Simulator
	fees, err := cfg.FeeSchedule()
	if err != nil {
		return err
	}
	event.Warmup()

	b.Simulator = service.New(service.Options{
		NewFeed: func() service.FeedConnection {
			return feed.New(feed.OptionsFromConfig(cfg))
		},
		Fees: fees,
		Book: book.Options{
			MaxLevels:   cfg.Book.MaxLevels,
			HistorySize: cfg.Book.HistorySize,
		},
		Cost: cost.Params{
			VolatilityWindow:      cfg.Book.VolatilityWindow,
			NearDepthSamples:      cfg.Book.NearDepthSamples,
			DefaultDailyVolumeUSD: cfg.Book.DefaultDailyVolumeUSD,
		},
		StatsWindow: cfg.Stats.Window,
		DumpDir:     filepath.Join(cfg.Logging.Dir, "dumps"),
	})
	if err := os.MkdirAll(filepath.Join(cfg.Logging.Dir, "dumps"), 0755); err != nil {
		slog.Warn("Failed to create dump directory", slog.Any("error", err))
	}

	// 5. Metrics
	b.Registry = prometheus.NewRegistry()
	b.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		infra.NewStatsCollector(b.Simulator.GetPerformanceStats),
	)
	b.Metrics = infra.NewSimulationMetrics(b.Registry)
	slog.Info("✅ Simulator ready")

	return nil
}

// Activate streams the configured (exchange, symbol).
func (b *Bootstrap) Activate(ctx context.Context) error {
	sim := b.Config.Simulation
	return b.Simulator.SwitchSymbol(ctx, sim.Exchange, sim.Symbol)
}

// Shutdown stops the feed and closes the journal.
func (b *Bootstrap) Shutdown() {
	if b.Simulator != nil {
		b.Simulator.Close()
	}
	if b.Journal != nil {
		if err := b.Journal.Close(); err != nil {
			slog.Warn("Failed to close journal", slog.Any("error", err))
		}
	}
}
