// Package config loads the exchange configuration from YAML
// (gopkg.in/yaml.v2) with file-or-defaults loading and struct-tagged
// sections: server, websocket, logging, metrics and the matching/replay
// specific knobs. There is no database, cache or upstream-risk-service
// configuration, since this exchange has no such dependencies.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// Config is the root configuration document.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	WS       WSConfig       `yaml:"websocket"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Exchange ExchangeConfig `yaml:"exchange"`
	Replay   ReplayConfig   `yaml:"replay"`
}

// ServerConfig is the REST façade's HTTP listener.
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	EnableCORS      bool          `yaml:"enable_cors"`
	CORSOrigins     []string      `yaml:"cors_origins"`
	RateLimitRPS    int           `yaml:"rate_limit_rps"`
	RateLimitBurst  int           `yaml:"rate_limit_burst"`
}

// WSConfig is the WebSocket façade's listener.
type WSConfig struct {
	Host             string        `yaml:"host"`
	Port             int           `yaml:"port"`
	Path             string        `yaml:"path"`
	ReadBufferSize   int           `yaml:"read_buffer_size"`
	WriteBufferSize  int           `yaml:"write_buffer_size"`
	PingPeriod       time.Duration `yaml:"ping_period"`
	PongWait         time.Duration `yaml:"pong_wait"`
	MaxConnections   int           `yaml:"max_connections"`
	ListenKeyExpiry  time.Duration `yaml:"listen_key_expiry"`
	JWTSigningSecret string        `yaml:"jwt_signing_secret"`
}

// LoggingConfig follows zap-based logging section.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig configures the prometheus exporter (internal/telemetry).
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
	Port    int    `yaml:"port"`
}

// ExchangeConfig carries the core exchange knobs.
type ExchangeConfig struct {
	CommissionRateMaker  float64        `yaml:"commission_rate_maker"`
	CommissionRateTaker  float64        `yaml:"commission_rate_taker"`
	MaxClientsPerSymbol  int            `yaml:"max_clients_per_symbol"`
	RecentTradesCapacity int            `yaml:"recent_trades_capacity"`
	ArchiveRetentionDays int            `yaml:"archive_retention_days"`
	DepthDefaultLimit    int            `yaml:"depth_default_limit"`
	TimestampSkewMs      int64          `yaml:"timestamp_skew_ms"`
	AvgPriceMins         int            `yaml:"avg_price_mins"`
	Symbols              []SymbolConfig `yaml:"symbols"`
}

// SymbolConfig declares one tradable pair and its filters at startup.
type SymbolConfig struct {
	Symbol         string  `yaml:"symbol"`
	BaseAsset      string  `yaml:"base_asset"`
	QuoteAsset     string  `yaml:"quote_asset"`
	BasePrecision  int32   `yaml:"base_precision"`
	QuotePrecision int32   `yaml:"quote_precision"`
	PriceMin       string  `yaml:"price_min"`
	PriceMax       string  `yaml:"price_max"`
	PriceTick      string  `yaml:"price_tick"`
	LotMin         string  `yaml:"lot_min"`
	LotMax         string  `yaml:"lot_max"`
	LotStep        string  `yaml:"lot_step"`
	MinNotional    string  `yaml:"min_notional"`
}

// ReplayConfig mirrors the replay controller's configuration surface.
type ReplayConfig struct {
	Mode            string  `yaml:"mode"`
	SpeedFactor     float64 `yaml:"speed_factor"`
	BatchCallbacks  bool    `yaml:"batch_callbacks"`
	MemoryOptimized bool    `yaml:"memory_optimized"`
	PoolSize        int     `yaml:"pool_size"`
}

// Default returns the documented configuration defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8090,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			EnableCORS:      true,
			CORSOrigins:     []string{"*"},
			RateLimitRPS:    100,
			RateLimitBurst:  200,
		},
		WS: WSConfig{
			Host:            "0.0.0.0",
			Port:            8091,
			Path:            "/ws",
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			PingPeriod:      30 * time.Second,
			PongWait:        60 * time.Second,
			MaxConnections:  10000,
			ListenKeyExpiry: 30 * time.Minute,
			JWTSigningSecret: "vexchange-dev-listen-key-secret",
		},
		Logging: LoggingConfig{Level: "info", Format: "json"},
		Metrics: MetricsConfig{Enabled: true, Path: "/metrics", Port: 9100},
		Exchange: ExchangeConfig{
			CommissionRateMaker:  0.001,
			CommissionRateTaker:  0.001,
			MaxClientsPerSymbol:  0,
			RecentTradesCapacity: 1000,
			ArchiveRetentionDays: 90,
			DepthDefaultLimit:    100,
			TimestampSkewMs:      10000,
			AvgPriceMins:         5,
		},
		Replay: ReplayConfig{
			Mode:        "BACKTEST",
			SpeedFactor: 1,
			PoolSize:    8,
		},
	}
}

// Load reads a YAML file at path, falling back to Default() if path is empty
// or does not exist.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return cfg, nil
}
