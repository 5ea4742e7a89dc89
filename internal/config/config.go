// Package config defines the top-level configuration for the tracker and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// duration wraps time.Duration so TOML values like "5s" decode directly.
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler for TOML decoding.
func (d *duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by HYPERTRACK_* environment
// variables.
type Config struct {
	Exchange ExchangeConfig `toml:"exchange"`
	Pool     PoolConfig     `toml:"pool"`
	Router   RouterConfig   `toml:"router"`
	Signal   SignalConfig   `toml:"signal"`
	Whale    WhaleConfig    `toml:"whale"`
	Traders  TradersConfig  `toml:"traders"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// ExchangeConfig holds the exchange endpoints and the target instrument.
type ExchangeConfig struct {
	WSURL   string `toml:"ws_url"`
	InfoURL string `toml:"info_url"`
	Symbol  string `toml:"symbol"`
}

// PoolConfig holds the WebSocket connection pool parameters.
type PoolConfig struct {
	NumClients           int      `toml:"num_clients"`
	BatchSize            int      `toml:"batch_size"`
	HeartbeatInterval    duration `toml:"heartbeat_interval"`
	ReconnectBase        duration `toml:"reconnect_base"`
	ReconnectMax         duration `toml:"reconnect_max"`
	MaxReconnectAttempts int      `toml:"max_reconnect_attempts"`
	ReplacementCooldown  duration `toml:"replacement_cooldown"`
	MaxRestarts          int      `toml:"max_restarts"`
	RestartBackoff       duration `toml:"restart_backoff"`
}

// RouterConfig holds the frame router parameters.
type RouterConfig struct {
	BufferMaxSize   int      `toml:"buffer_max_size"`
	FlushInterval   duration `toml:"flush_interval"`
	MaxSaveInterval duration `toml:"position_max_save_interval"`
}

// SignalConfig holds the signal generator parameters.
type SignalConfig struct {
	TTL            duration `toml:"trader_ttl"`
	MaxTraders     int      `toml:"max_traders"`
	DefaultScore   float64  `toml:"default_score"`
	BuyThreshold   float64  `toml:"buy_threshold"`
	SellThreshold  float64  `toml:"sell_threshold"`
	EmitBiasDelta  float64  `toml:"emit_bias_delta"`
	EmitConfidence float64  `toml:"emit_confidence"`
}

// WhaleConfig holds the whale change detector parameters.
type WhaleConfig struct {
	ChangeWindow  duration `toml:"change_window"`
	PositionTTL   duration `toml:"position_ttl"`
	MinChangePct  float64  `toml:"min_change_pct"`
	MaxChanges    int      `toml:"max_changes"`
	MaxAlerts     int      `toml:"max_alerts"`
	FlipThreshold float64  `toml:"flip_threshold"`

	// AlphaWhaleThreshold and WhaleThreshold are the account-value floors
	// of the top two tiers, in USD.
	AlphaWhaleThreshold float64 `toml:"alpha_whale_threshold"`
	WhaleThreshold      float64 `toml:"whale_threshold"`
}

// TradersConfig controls where the tracked roster comes from.
type TradersConfig struct {
	// Addresses is the explicit roster; leave empty to seed from the
	// leaderboard.
	Addresses []string `toml:"addresses"`

	// RosterSize bounds the leaderboard-seeded roster.
	RosterSize int `toml:"roster_size"`

	// RefreshInterval is the leaderboard poll cadence.
	RefreshInterval duration `toml:"refresh_interval"`

	// TopN bounds how many leaderboard rows get scored.
	TopN int `toml:"top_n"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection and cache parameters.
type RedisConfig struct {
	Enabled       bool     `toml:"enabled"`
	Addr          string   `toml:"addr"`
	Password      string   `toml:"password"`
	DB            int      `toml:"db"`
	SignalTTL     duration `toml:"signal_ttl"`
	PriceTTL      duration `toml:"price_ttl"`
	SignalChannel string   `toml:"signal_channel"`
	AlertChannel  string   `toml:"alert_channel"`
}

// S3Config holds the object-store parameters for the event archive.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ServerConfig holds the read API parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
}

// NotifyConfig holds the alert delivery parameters.
type NotifyConfig struct {
	TelegramToken     string `toml:"telegram_token"`
	TelegramChatID    string `toml:"telegram_chat_id"`
	DiscordWebhookURL string `toml:"discord_webhook_url"`
	MinPriority       string `toml:"min_priority"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		Exchange: ExchangeConfig{
			WSURL:   "wss://api.hyperliquid.xyz/ws",
			InfoURL: "https://api.hyperliquid.xyz",
			Symbol:  "BTC",
		},
		Pool: PoolConfig{
			NumClients:           5,
			BatchSize:            100,
			HeartbeatInterval:    duration{30 * time.Second},
			ReconnectBase:        duration{2 * time.Second},
			ReconnectMax:         duration{60 * time.Second},
			MaxReconnectAttempts: 10,
			ReplacementCooldown:  duration{5 * time.Second},
			MaxRestarts:          5,
			RestartBackoff:       duration{10 * time.Second},
		},
		Router: RouterConfig{
			BufferMaxSize:   1000,
			FlushInterval:   duration{5 * time.Second},
			MaxSaveInterval: duration{10 * time.Minute},
		},
		Signal: SignalConfig{
			TTL:            duration{24 * time.Hour},
			MaxTraders:     10_000,
			DefaultScore:   50,
			BuyThreshold:   0.2,
			SellThreshold:  -0.2,
			EmitBiasDelta:  0.1,
			EmitConfidence: 0.7,
		},
		Whale: WhaleConfig{
			ChangeWindow:  duration{5 * time.Minute},
			PositionTTL:   duration{7 * 24 * time.Hour},
			MinChangePct:  10,
			MaxChanges:    1000,
			MaxAlerts:     500,
			FlipThreshold: 0.3,

			AlphaWhaleThreshold: 20_000_000,
			WhaleThreshold:      10_000_000,
		},
		Traders: TradersConfig{
			RosterSize:      200,
			RefreshInterval: duration{time.Hour},
			TopN:            500,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "hypertracker",
			User:          "hypertracker",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:       true,
			Addr:          "localhost:6379",
			SignalTTL:     duration{24 * time.Hour},
			PriceTTL:      duration{time.Hour},
			SignalChannel: "hypertracker:signals",
			AlertChannel:  "hypertracker:alerts",
		},
		S3: S3Config{
			Enabled: false,
			Region:  "us-east-1",
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000"},
		},
		Notify: NotifyConfig{
			MinPriority: "HIGH",
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"collect": true,
	"server":  true,
	"full":    true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validPriorities = map[string]bool{
	"":         true,
	"CRITICAL": true,
	"HIGH":     true,
	"MEDIUM":   true,
	"LOW":      true,
}

// Validate checks Config for invalid or missing values and returns a combined
// error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: collect, server, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if c.Exchange.WSURL == "" {
		errs = append(errs, "exchange: ws_url must not be empty")
	}
	if c.Exchange.InfoURL == "" {
		errs = append(errs, "exchange: info_url must not be empty")
	}
	if c.Exchange.Symbol == "" {
		errs = append(errs, "exchange: symbol must not be empty")
	}

	if c.Pool.NumClients < 1 {
		errs = append(errs, "pool: num_clients must be >= 1")
	}
	if c.Pool.BatchSize < 1 {
		errs = append(errs, "pool: batch_size must be >= 1")
	}
	if c.Pool.HeartbeatInterval.Duration <= 0 {
		errs = append(errs, "pool: heartbeat_interval must be > 0")
	}
	if c.Pool.MaxReconnectAttempts < 1 {
		errs = append(errs, "pool: max_reconnect_attempts must be >= 1")
	}
	if c.Pool.MaxRestarts < 1 {
		errs = append(errs, "pool: max_restarts must be >= 1")
	}

	if c.Router.BufferMaxSize < 1 {
		errs = append(errs, "router: buffer_max_size must be >= 1")
	}
	if c.Router.FlushInterval.Duration <= 0 {
		errs = append(errs, "router: flush_interval must be > 0")
	}

	if c.Signal.MaxTraders < 1 {
		errs = append(errs, "signal: max_traders must be >= 1")
	}
	if c.Signal.DefaultScore < 0 || c.Signal.DefaultScore > 100 {
		errs = append(errs, fmt.Sprintf("signal: default_score must be in [0, 100], got %g", c.Signal.DefaultScore))
	}
	if c.Signal.BuyThreshold <= c.Signal.SellThreshold {
		errs = append(errs, "signal: buy_threshold must exceed sell_threshold")
	}

	if c.Whale.ChangeWindow.Duration <= 0 {
		errs = append(errs, "whale: change_window must be > 0")
	}
	if c.Whale.MinChangePct <= 0 {
		errs = append(errs, "whale: min_change_pct must be > 0")
	}
	if c.Whale.WhaleThreshold <= 0 {
		errs = append(errs, "whale: whale_threshold must be > 0")
	}
	if c.Whale.AlphaWhaleThreshold <= c.Whale.WhaleThreshold {
		errs = append(errs, "whale: alpha_whale_threshold must exceed whale_threshold")
	}

	if len(c.Traders.Addresses) == 0 && c.Traders.RosterSize < 1 {
		errs = append(errs, "traders: roster_size must be >= 1 when no explicit addresses are configured")
	}

	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	if c.Redis.Enabled && c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty when enabled")
	}

	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when enabled")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty when enabled")
		}
	}

	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if !validPriorities[c.Notify.MinPriority] {
		errs = append(errs, fmt.Sprintf("notify: unknown min_priority %q (valid: CRITICAL, HIGH, MEDIUM, LOW)", c.Notify.MinPriority))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
