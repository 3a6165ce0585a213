package infra

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"trade_sim/internal/domain"
)

// ExchangeConfig is one feed source. Endpoint may contain a {symbol} placeholder.
type ExchangeConfig struct {
	Endpoint string   `yaml:"endpoint"`
	Symbols  []string `yaml:"symbols"`
}

// FeedConfig tunes the websocket feed.
type FeedConfig struct {
	QueueSize          int `yaml:"queue_size"`
	SendTimeoutMS      int `yaml:"send_timeout_ms"`
	DrainGraceMS       int `yaml:"drain_grace_ms"`
	HandshakeTimeoutMS int `yaml:"handshake_timeout_ms"`
	ReadTimeoutMS      int `yaml:"read_timeout_ms"`
	PingIntervalMS     int `yaml:"ping_interval_ms"`

	Backoff struct {
		BaseMS int     `yaml:"base_ms"`
		CapMS  int     `yaml:"cap_ms"`
		Jitter float64 `yaml:"jitter"`
	} `yaml:"backoff"`

	// ProtocolErrors is the malformed-message budget before a forced reconnect.
	ProtocolErrors struct {
		Budget   int `yaml:"budget"`
		WindowMS int `yaml:"window_ms"`
	} `yaml:"protocol_errors"`
}

// BookConfig sizes the order book and cost estimation windows.
type BookConfig struct {
	MaxLevels             int     `yaml:"max_levels"`
	HistorySize           int     `yaml:"history_size"`
	VolatilityWindow      int     `yaml:"volatility_window"`
	NearDepthSamples      int     `yaml:"near_depth_samples"`
	DefaultDailyVolumeUSD float64 `yaml:"default_daily_volume_usd"`
}

// SimulationConfig is the request run by the periodic report loop.
type SimulationConfig struct {
	Exchange           string   `yaml:"exchange"`
	Symbol             string   `yaml:"symbol"`
	QuantityUSD        float64  `yaml:"quantity_usd"`
	Side               string   `yaml:"side"`
	OrderType          string   `yaml:"order_type"`
	FeeTier            string   `yaml:"fee_tier"`
	VolatilityOverride *float64 `yaml:"volatility_override"`
	IntervalMS         int      `yaml:"interval_ms"`
	Journal            bool     `yaml:"journal"`
}

// Config holds every application setting.
// Values are layered: defaults, then the YAML file, then environment variables.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	Exchanges  map[string]ExchangeConfig             `yaml:"exchanges"`
	Fees       map[string]map[string]domain.FeeRates `yaml:"fees"`
	Feed       FeedConfig                            `yaml:"feed"`
	Book       BookConfig                            `yaml:"book"`
	Simulation SimulationConfig                      `yaml:"simulation"`

	Stats struct {
		Window int `yaml:"window"`
	} `yaml:"stats"`

	Storage struct {
		Path string `yaml:"path"`
	} `yaml:"storage"`

	Metrics struct {
		Addr string `yaml:"addr"`
	} `yaml:"metrics"`

	Logging struct {
		Level      string `yaml:"level"`
		Dir        string `yaml:"dir"`
		MaxSizeMB  int    `yaml:"max_size_mb"`
		MaxBackups int    `yaml:"max_backups"`
		MaxAgeDays int    `yaml:"max_age_days"`
		Compress   bool   `yaml:"compress"`
	} `yaml:"logging"`
}

// DefaultConfig returns the built-in defaults that a config file overlays.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.App.Name = "trade-sim"
	cfg.App.Version = "dev"

	cfg.Feed.QueueSize = 1024
	cfg.Feed.SendTimeoutMS = 50
	cfg.Feed.DrainGraceMS = 500
	cfg.Feed.HandshakeTimeoutMS = 10_000
	cfg.Feed.ReadTimeoutMS = 60_000
	cfg.Feed.PingIntervalMS = 20_000
	cfg.Feed.Backoff.BaseMS = 1000
	cfg.Feed.Backoff.CapMS = 30_000
	cfg.Feed.Backoff.Jitter = 0.2
	cfg.Feed.ProtocolErrors.Budget = 20
	cfg.Feed.ProtocolErrors.WindowMS = 10_000

	cfg.Book.MaxLevels = 50
	cfg.Book.HistorySize = 300
	cfg.Book.VolatilityWindow = 100
	cfg.Book.NearDepthSamples = 10
	cfg.Book.DefaultDailyVolumeUSD = 5e8

	cfg.Simulation.QuantityUSD = 100
	cfg.Simulation.Side = "buy"
	cfg.Simulation.OrderType = "market"
	cfg.Simulation.FeeTier = "vip0"
	cfg.Simulation.IntervalMS = 1000

	cfg.Stats.Window = 100
	cfg.Storage.Path = "data/trade_sim.db"

	cfg.Logging.Level = "info"
	cfg.Logging.Dir = "logs"
	cfg.Logging.MaxSizeMB = 10
	cfg.Logging.MaxBackups = 3
	cfg.Logging.MaxAgeDays = 28
	cfg.Logging.Compress = true
	return cfg
}

// LoadConfig reads the YAML file at path on top of the defaults, loads a
// .env file if present, applies environment overrides and validates.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", path, domain.ErrConfigNotFound)
		}
		return nil, err
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, &domain.ConfigError{Field: path, Err: err}
	}
	cfg.normalize()

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, &domain.ConfigError{Field: ".env", Err: err}
	}
	overrideWithEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks configuration validity. Errors are *domain.ConfigError.
func (c *Config) Validate() error {
	if len(c.Exchanges) == 0 {
		return configErr("exchanges", "at least one exchange is required")
	}
	for name, ex := range c.Exchanges {
		if !hasPrefix(ex.Endpoint, "ws://") && !hasPrefix(ex.Endpoint, "wss://") {
			return configErr("exchanges."+name+".endpoint", "invalid websocket URL: %q", ex.Endpoint)
		}
		if len(ex.Symbols) == 0 {
			return configErr("exchanges."+name+".symbols", "at least one symbol is required")
		}
	}

	f := c.Feed
	if f.QueueSize <= 0 {
		return configErr("feed.queue_size", "must be positive")
	}
	for field, v := range map[string]int{
		"feed.send_timeout_ms":      f.SendTimeoutMS,
		"feed.drain_grace_ms":       f.DrainGraceMS,
		"feed.handshake_timeout_ms": f.HandshakeTimeoutMS,
		"feed.read_timeout_ms":      f.ReadTimeoutMS,
		"feed.ping_interval_ms":     f.PingIntervalMS,
		"simulation.interval_ms":    c.Simulation.IntervalMS,
	} {
		if v <= 0 {
			return configErr(field, "must be positive")
		}
	}
	if f.Backoff.BaseMS <= 0 || f.Backoff.CapMS < f.Backoff.BaseMS {
		return configErr("feed.backoff", "need 0 < base_ms <= cap_ms")
	}
	if f.Backoff.Jitter < 0 || f.Backoff.Jitter > 1 {
		return configErr("feed.backoff.jitter", "must be within [0,1]")
	}
	if f.ProtocolErrors.Budget <= 0 || f.ProtocolErrors.WindowMS <= 0 {
		return configErr("feed.protocol_errors", "budget and window must be positive")
	}

	if c.Book.HistorySize < 3 {
		return configErr("book.history_size", "must be at least 3")
	}
	if c.Book.MaxLevels < 0 {
		return configErr("book.max_levels", "must not be negative")
	}
	if c.Stats.Window <= 0 {
		return configErr("stats.window", "must be positive")
	}

	if _, err := c.FeeSchedule(); err != nil {
		return err
	}
	return c.validateSimulation()
}

func (c *Config) validateSimulation() error {
	s := c.Simulation
	ex, ok := c.Exchanges[strings.ToLower(s.Exchange)]
	if !ok {
		return &domain.ConfigError{Field: "simulation.exchange", Err: fmt.Errorf("%w: %q", domain.ErrUnknownExchange, s.Exchange)}
	}
	if !containsFold(ex.Symbols, s.Symbol) {
		return &domain.ConfigError{Field: "simulation.symbol", Err: fmt.Errorf("%w: %q", domain.ErrUnknownSymbol, s.Symbol)}
	}
	req, err := c.SimulationRequest()
	if err != nil {
		return &domain.ConfigError{Field: "simulation", Err: err}
	}
	if err := req.Validate(); err != nil {
		return &domain.ConfigError{Field: "simulation", Err: err}
	}
	fees, _ := c.FeeSchedule()
	if _, err := fees.Lookup(s.Exchange, s.FeeTier); err != nil {
		return &domain.ConfigError{Field: "simulation.fee_tier", Err: err}
	}
	return nil
}

// FeeSchedule builds the immutable fee table.
func (c *Config) FeeSchedule() (*domain.FeeSchedule, error) {
	return domain.NewFeeSchedule(c.Fees)
}

// SimulationRequest converts the configured default simulation.
func (c *Config) SimulationRequest() (domain.SimulationRequest, error) {
	side, err := domain.ParseSide(c.Simulation.Side)
	if err != nil {
		return domain.SimulationRequest{}, err
	}
	ot, err := domain.ParseOrderType(c.Simulation.OrderType)
	if err != nil {
		return domain.SimulationRequest{}, err
	}
	return domain.SimulationRequest{
		QuantityUSD:        c.Simulation.QuantityUSD,
		Side:               side,
		OrderType:          ot,
		FeeTier:            c.Simulation.FeeTier,
		VolatilityOverride: c.Simulation.VolatilityOverride,
	}, nil
}

// Endpoint resolves the websocket URL for (exchange, symbol).
func (c *Config) Endpoint(exchange, symbol string) (string, error) {
	ex, ok := c.Exchanges[strings.ToLower(exchange)]
	if !ok {
		return "", &domain.ConfigError{Field: "exchange", Err: fmt.Errorf("%w: %q", domain.ErrUnknownExchange, exchange)}
	}
	if !containsFold(ex.Symbols, symbol) {
		return "", &domain.ConfigError{Field: "symbol", Err: fmt.Errorf("%w: %q on %s", domain.ErrUnknownSymbol, symbol, exchange)}
	}
	return strings.ReplaceAll(ex.Endpoint, "{symbol}", symbol), nil
}

func (f FeedConfig) SendTimeout() time.Duration      { return ms(f.SendTimeoutMS) }
func (f FeedConfig) DrainGrace() time.Duration       { return ms(f.DrainGraceMS) }
func (f FeedConfig) HandshakeTimeout() time.Duration { return ms(f.HandshakeTimeoutMS) }
func (f FeedConfig) ReadTimeout() time.Duration      { return ms(f.ReadTimeoutMS) }
func (f FeedConfig) PingInterval() time.Duration     { return ms(f.PingIntervalMS) }

// Interval is the report loop period.
func (s SimulationConfig) Interval() time.Duration { return ms(s.IntervalMS) }

// NewBackoff builds the reconnect backoff from the feed settings.
func (f FeedConfig) NewBackoff() *Backoff {
	return NewBackoff(ms(f.Backoff.BaseMS), ms(f.Backoff.CapMS), f.Backoff.Jitter)
}

// normalize lowercases exchange keys so lookups are case-insensitive.
func (c *Config) normalize() {
	exchanges := make(map[string]ExchangeConfig, len(c.Exchanges))
	for name, ex := range c.Exchanges {
		exchanges[strings.ToLower(strings.TrimSpace(name))] = ex
	}
	c.Exchanges = exchanges
}

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }

func configErr(field, format string, args ...any) error {
	return &domain.ConfigError{Field: field, Err: fmt.Errorf(format, args...)}
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[0:len(prefix)] == prefix
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}

// overrideWithEnv overwrites settings when the matching variable is set.
func overrideWithEnv(cfg *Config) {
	if v := os.Getenv("TRADESIM_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
	if v := os.Getenv("TRADESIM_EXCHANGE"); v != "" {
		cfg.Simulation.Exchange = v
	}
	if v := os.Getenv("TRADESIM_SYMBOL"); v != "" {
		cfg.Simulation.Symbol = v
	}
	if v := os.Getenv("TRADESIM_METRICS_ADDR"); v != "" {
		cfg.Metrics.Addr = v
	}
}
