package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// envPrefix namespaces all environment overrides.
const envPrefix = "HYPERTRACK_"

// Load builds the configuration: defaults, then the TOML file at path (if
// any), then HYPERTRACK_* environment overrides. A missing file is not an
// error when path is empty.
func Load(path string) (Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	// Populate the process environment from .env if present; ignore absence.
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)
	return cfg, nil
}

// applyEnvOverrides maps HYPERTRACK_* variables onto the config. Only
// variables that are set and parse cleanly take effect.
func applyEnvOverrides(cfg *Config) {
	setStr("MODE", &cfg.Mode)
	setStr("LOG_LEVEL", &cfg.LogLevel)

	setStr("EXCHANGE_WS_URL", &cfg.Exchange.WSURL)
	setStr("EXCHANGE_INFO_URL", &cfg.Exchange.InfoURL)
	setStr("EXCHANGE_SYMBOL", &cfg.Exchange.Symbol)

	setInt("POOL_NUM_CLIENTS", &cfg.Pool.NumClients)
	setInt("POOL_BATCH_SIZE", &cfg.Pool.BatchSize)
	setDuration("POOL_HEARTBEAT_INTERVAL", &cfg.Pool.HeartbeatInterval)
	setDuration("POOL_RECONNECT_BASE", &cfg.Pool.ReconnectBase)
	setDuration("POOL_RECONNECT_MAX", &cfg.Pool.ReconnectMax)
	setInt("POOL_MAX_RECONNECT_ATTEMPTS", &cfg.Pool.MaxReconnectAttempts)
	setDuration("POOL_REPLACEMENT_COOLDOWN", &cfg.Pool.ReplacementCooldown)
	setInt("POOL_MAX_RESTARTS", &cfg.Pool.MaxRestarts)
	setDuration("POOL_RESTART_BACKOFF", &cfg.Pool.RestartBackoff)

	setInt("ROUTER_BUFFER_MAX_SIZE", &cfg.Router.BufferMaxSize)
	setDuration("ROUTER_FLUSH_INTERVAL", &cfg.Router.FlushInterval)
	setDuration("ROUTER_POSITION_MAX_SAVE_INTERVAL", &cfg.Router.MaxSaveInterval)

	setDuration("SIGNAL_TRADER_TTL", &cfg.Signal.TTL)
	setInt("SIGNAL_MAX_TRADERS", &cfg.Signal.MaxTraders)
	setFloat64("SIGNAL_DEFAULT_SCORE", &cfg.Signal.DefaultScore)
	setFloat64("SIGNAL_BUY_THRESHOLD", &cfg.Signal.BuyThreshold)
	setFloat64("SIGNAL_SELL_THRESHOLD", &cfg.Signal.SellThreshold)
	setFloat64("SIGNAL_EMIT_BIAS_DELTA", &cfg.Signal.EmitBiasDelta)
	setFloat64("SIGNAL_EMIT_CONFIDENCE", &cfg.Signal.EmitConfidence)

	setDuration("WHALE_CHANGE_WINDOW", &cfg.Whale.ChangeWindow)
	setDuration("WHALE_POSITION_TTL", &cfg.Whale.PositionTTL)
	setFloat64("WHALE_MIN_CHANGE_PCT", &cfg.Whale.MinChangePct)
	setInt("WHALE_MAX_CHANGES", &cfg.Whale.MaxChanges)
	setInt("WHALE_MAX_ALERTS", &cfg.Whale.MaxAlerts)
	setFloat64("WHALE_FLIP_THRESHOLD", &cfg.Whale.FlipThreshold)
	setFloat64("WHALE_ALPHA_WHALE_THRESHOLD", &cfg.Whale.AlphaWhaleThreshold)
	setFloat64("WHALE_WHALE_THRESHOLD", &cfg.Whale.WhaleThreshold)

	setStringSlice("TRADERS_ADDRESSES", &cfg.Traders.Addresses)
	setInt("TRADERS_ROSTER_SIZE", &cfg.Traders.RosterSize)
	setDuration("TRADERS_REFRESH_INTERVAL", &cfg.Traders.RefreshInterval)
	setInt("TRADERS_TOP_N", &cfg.Traders.TopN)

	setStr("POSTGRES_DSN", &cfg.Postgres.DSN)
	setStr("POSTGRES_HOST", &cfg.Postgres.Host)
	setInt("POSTGRES_PORT", &cfg.Postgres.Port)
	setStr("POSTGRES_DATABASE", &cfg.Postgres.Database)
	setStr("POSTGRES_USER", &cfg.Postgres.User)
	setStr("POSTGRES_PASSWORD", &cfg.Postgres.Password)
	setStr("POSTGRES_SSL_MODE", &cfg.Postgres.SSLMode)
	setInt("POSTGRES_POOL_MAX_CONNS", &cfg.Postgres.PoolMaxConns)
	setInt("POSTGRES_POOL_MIN_CONNS", &cfg.Postgres.PoolMinConns)
	setBool("POSTGRES_RUN_MIGRATIONS", &cfg.Postgres.RunMigrations)

	setBool("REDIS_ENABLED", &cfg.Redis.Enabled)
	setStr("REDIS_ADDR", &cfg.Redis.Addr)
	setStr("REDIS_PASSWORD", &cfg.Redis.Password)
	setInt("REDIS_DB", &cfg.Redis.DB)
	setDuration("REDIS_SIGNAL_TTL", &cfg.Redis.SignalTTL)
	setDuration("REDIS_PRICE_TTL", &cfg.Redis.PriceTTL)
	setStr("REDIS_SIGNAL_CHANNEL", &cfg.Redis.SignalChannel)
	setStr("REDIS_ALERT_CHANNEL", &cfg.Redis.AlertChannel)

	setBool("S3_ENABLED", &cfg.S3.Enabled)
	setStr("S3_ENDPOINT", &cfg.S3.Endpoint)
	setStr("S3_REGION", &cfg.S3.Region)
	setStr("S3_BUCKET", &cfg.S3.Bucket)
	setStr("S3_ACCESS_KEY", &cfg.S3.AccessKey)
	setStr("S3_SECRET_KEY", &cfg.S3.SecretKey)
	setBool("S3_USE_SSL", &cfg.S3.UseSSL)
	setBool("S3_FORCE_PATH_STYLE", &cfg.S3.ForcePathStyle)

	setBool("SERVER_ENABLED", &cfg.Server.Enabled)
	setInt("SERVER_PORT", &cfg.Server.Port)
	setStringSlice("SERVER_CORS_ORIGINS", &cfg.Server.CORSOrigins)

	setStr("NOTIFY_TELEGRAM_TOKEN", &cfg.Notify.TelegramToken)
	setStr("NOTIFY_TELEGRAM_CHAT_ID", &cfg.Notify.TelegramChatID)
	setStr("NOTIFY_DISCORD_WEBHOOK_URL", &cfg.Notify.DiscordWebhookURL)
	setStr("NOTIFY_MIN_PRIORITY", &cfg.Notify.MinPriority)
}

func setStr(key string, dst *string) {
	if v, ok := os.LookupEnv(envPrefix + key); ok {
		*dst = v
	}
}

func setInt(key string, dst *int) {
	if v, ok := os.LookupEnv(envPrefix + key); ok {
		if parsed, err := strconv.Atoi(v); err == nil {
			*dst = parsed
		}
	}
}

func setFloat64(key string, dst *float64) {
	if v, ok := os.LookupEnv(envPrefix + key); ok {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = parsed
		}
	}
}

func setBool(key string, dst *bool) {
	if v, ok := os.LookupEnv(envPrefix + key); ok {
		if parsed, err := strconv.ParseBool(v); err == nil {
			*dst = parsed
		}
	}
}

func setDuration(key string, dst *duration) {
	if v, ok := os.LookupEnv(envPrefix + key); ok {
		if parsed, err := time.ParseDuration(v); err == nil {
			dst.Duration = parsed
		}
	}
}

func setStringSlice(key string, dst *[]string) {
	if v, ok := os.LookupEnv(envPrefix + key); ok {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		*dst = out
	}
}
