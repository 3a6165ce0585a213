package infra

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"trade_sim/internal/domain"
)

const testConfigYAML = `
app:
  name: trade-sim-test
exchanges:
  OKX:
    endpoint: wss://ws.example.test/ws/l2-orderbook/okx/{symbol}
    symbols: [BTC-USDT-SWAP, ETH-USDT-SWAP]
fees:
  okx:
    vip0: {maker: "0.0008", taker: "0.0010"}
    vip1: {maker: 0.0007, taker: 0.0009}
feed:
  queue_size: 256
  backoff:
    base_ms: 500
simulation:
  exchange: okx
  symbol: BTC-USDT-SWAP
  quantity_usd: 250
  side: sell
  order_type: limit
  fee_tier: VIP1
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, testConfigYAML))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.App.Name != "trade-sim-test" {
		t.Errorf("App.Name = %q", cfg.App.Name)
	}
	if cfg.Feed.QueueSize != 256 {
		t.Errorf("QueueSize = %d, want 256", cfg.Feed.QueueSize)
	}
	// Untouched fields keep defaults.
	if cfg.Feed.Backoff.CapMS != 30_000 || cfg.Feed.SendTimeout() != 50*time.Millisecond {
		t.Errorf("defaults not preserved: %+v", cfg.Feed)
	}
	if cfg.Book.HistorySize != 300 || cfg.Stats.Window != 100 {
		t.Errorf("book/stats defaults not preserved")
	}

	fees, err := cfg.FeeSchedule()
	if err != nil {
		t.Fatalf("FeeSchedule failed: %v", err)
	}
	r, err := fees.Lookup("okx", "vip0")
	if err != nil || r.Taker.String() != "0.001" {
		t.Errorf("vip0 taker = %v (%v)", r.Taker, err)
	}

	req, err := cfg.SimulationRequest()
	if err != nil {
		t.Fatalf("SimulationRequest failed: %v", err)
	}
	if req.Side != domain.SideSell || req.OrderType != domain.OrderTypeLimit || req.QuantityUSD != 250 {
		t.Errorf("unexpected request %+v", req)
	}
}

func TestLoadConfig_NotFound(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	if !errors.Is(err, domain.ErrConfigNotFound) {
		t.Errorf("Expected ErrConfigNotFound, got %v", err)
	}
}

func TestLoadConfig_EnvOverride(t *testing.T) {
	t.Setenv("TRADESIM_LOG_LEVEL", "DEBUG")
	t.Setenv("TRADESIM_SYMBOL", "ETH-USDT-SWAP")
	t.Setenv("TRADESIM_METRICS_ADDR", ":9999")

	cfg, err := LoadConfig(writeConfig(t, testConfigYAML))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Level = %q", cfg.Logging.Level)
	}
	if cfg.Simulation.Symbol != "ETH-USDT-SWAP" {
		t.Errorf("Symbol = %q", cfg.Simulation.Symbol)
	}
	if cfg.Metrics.Addr != ":9999" {
		t.Errorf("Metrics.Addr = %q", cfg.Metrics.Addr)
	}
}

func TestLoadConfig_EnvUnknownSymbol(t *testing.T) {
	t.Setenv("TRADESIM_SYMBOL", "DOGE-USDT")

	_, err := LoadConfig(writeConfig(t, testConfigYAML))
	if !errors.Is(err, domain.ErrUnknownSymbol) {
		t.Errorf("Expected ErrUnknownSymbol, got %v", err)
	}
}

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.Exchanges = map[string]ExchangeConfig{
		"okx": {Endpoint: "wss://example.test/{symbol}", Symbols: []string{"BTC-USDT-SWAP"}},
	}
	cfg.Fees = map[string]map[string]domain.FeeRates{
		"okx": {"vip0": {}},
	}
	cfg.Simulation.Exchange = "okx"
	cfg.Simulation.Symbol = "BTC-USDT-SWAP"
	return cfg
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"no exchanges", func(c *Config) { c.Exchanges = nil }, true},
		{"http endpoint", func(c *Config) {
			c.Exchanges["okx"] = ExchangeConfig{Endpoint: "https://x", Symbols: []string{"BTC-USDT-SWAP"}}
		}, true},
		{"no symbols", func(c *Config) {
			c.Exchanges["okx"] = ExchangeConfig{Endpoint: "wss://x"}
		}, true},
		{"zero queue", func(c *Config) { c.Feed.QueueSize = 0 }, true},
		{"zero send timeout", func(c *Config) { c.Feed.SendTimeoutMS = 0 }, true},
		{"cap below base", func(c *Config) { c.Feed.Backoff.CapMS = 10 }, true},
		{"jitter above one", func(c *Config) { c.Feed.Backoff.Jitter = 1.5 }, true},
		{"tiny history", func(c *Config) { c.Book.HistorySize = 2 }, true},
		{"unknown exchange", func(c *Config) { c.Simulation.Exchange = "binance" }, true},
		{"unknown tier", func(c *Config) { c.Simulation.FeeTier = "vip9" }, true},
		{"bad side", func(c *Config) { c.Simulation.Side = "hold" }, true},
		{"zero quantity", func(c *Config) { c.Simulation.QuantityUSD = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				var ce *domain.ConfigError
				if !errors.As(err, &ce) {
					t.Errorf("Expected *domain.ConfigError, got %T", err)
				}
				if domain.IsRetriable(err) {
					t.Error("Config errors must not be retriable")
				}
			}
		})
	}
}

func TestConfig_Endpoint(t *testing.T) {
	cfg := validConfig()

	url, err := cfg.Endpoint("OKX", "btc-usdt-swap")
	if err != nil {
		t.Fatalf("Endpoint failed: %v", err)
	}
	if url != "wss://example.test/btc-usdt-swap" {
		t.Errorf("url = %q", url)
	}

	if _, err := cfg.Endpoint("kraken", "BTC-USDT-SWAP"); !errors.Is(err, domain.ErrUnknownExchange) {
		t.Errorf("Expected ErrUnknownExchange, got %v", err)
	}
	if _, err := cfg.Endpoint("okx", "DOGE"); !errors.Is(err, domain.ErrUnknownSymbol) {
		t.Errorf("Expected ErrUnknownSymbol, got %v", err)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"debug", "DEBUG"},
		{"WARN", "WARN"},
		{"error", "ERROR"},
		{"", "INFO"},
		{"verbose", "INFO"},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in).String(); got != tt.want {
			t.Errorf("ParseLevel(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestNewLogger_WritesFile(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Logging.Dir = t.TempDir()

	logger := NewLogger(cfg)
	logger.Info("hello", "k", "v")

	data, err := os.ReadFile(filepath.Join(cfg.Logging.Dir, "trade_sim.log"))
	if err != nil {
		t.Fatalf("log file not written: %v", err)
	}
	if len(data) == 0 {
		t.Error("log file is empty")
	}
}
