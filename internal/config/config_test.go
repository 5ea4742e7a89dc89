package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate, got: %v", err)
	}

	if cfg.Pool.NumClients != 5 {
		t.Errorf("num_clients = %d, want 5", cfg.Pool.NumClients)
	}
	if cfg.Pool.BatchSize != 100 {
		t.Errorf("batch_size = %d, want 100", cfg.Pool.BatchSize)
	}
	if cfg.Pool.HeartbeatInterval.Duration != 30*time.Second {
		t.Errorf("heartbeat_interval = %v, want 30s", cfg.Pool.HeartbeatInterval.Duration)
	}
	if cfg.Whale.AlphaWhaleThreshold != 20_000_000 {
		t.Errorf("alpha_whale_threshold = %g, want 20000000", cfg.Whale.AlphaWhaleThreshold)
	}
	if cfg.Whale.WhaleThreshold != 10_000_000 {
		t.Errorf("whale_threshold = %g, want 10000000", cfg.Whale.WhaleThreshold)
	}
}

func TestLoadFileAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
mode = "collect"

[exchange]
symbol = "ETH"

[pool]
num_clients = 8
reconnect_base = "1s"

[signal]
max_traders = 2500

[redis]
enabled = false
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("HYPERTRACK_EXCHANGE_SYMBOL", "SOL")
	t.Setenv("HYPERTRACK_POOL_NUM_CLIENTS", "3")
	t.Setenv("HYPERTRACK_POOL_BATCH_SIZE", "25")
	t.Setenv("HYPERTRACK_POOL_HEARTBEAT_INTERVAL", "10s")
	t.Setenv("HYPERTRACK_WHALE_CHANGE_WINDOW", "90s")
	t.Setenv("HYPERTRACK_WHALE_WHALE_THRESHOLD", "5000000")
	t.Setenv("HYPERTRACK_SERVER_CORS_ORIGINS", "https://a.example, https://b.example")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Mode != "collect" {
		t.Errorf("mode = %q, want collect", cfg.Mode)
	}
	// Env beats the file.
	if cfg.Exchange.Symbol != "SOL" {
		t.Errorf("symbol = %q, want SOL", cfg.Exchange.Symbol)
	}
	if cfg.Pool.NumClients != 3 {
		t.Errorf("num_clients = %d, want 3", cfg.Pool.NumClients)
	}
	if cfg.Pool.ReconnectBase.Duration != time.Second {
		t.Errorf("reconnect_base = %v, want 1s", cfg.Pool.ReconnectBase.Duration)
	}
	if cfg.Signal.MaxTraders != 2500 {
		t.Errorf("max_traders = %d, want 2500", cfg.Signal.MaxTraders)
	}
	if cfg.Redis.Enabled {
		t.Error("redis should be disabled by the file")
	}
	if cfg.Whale.ChangeWindow.Duration != 90*time.Second {
		t.Errorf("change_window = %v, want 90s", cfg.Whale.ChangeWindow.Duration)
	}
	if cfg.Pool.BatchSize != 25 {
		t.Errorf("batch_size = %d, want 25", cfg.Pool.BatchSize)
	}
	if cfg.Pool.HeartbeatInterval.Duration != 10*time.Second {
		t.Errorf("heartbeat_interval = %v, want 10s", cfg.Pool.HeartbeatInterval.Duration)
	}
	if cfg.Whale.WhaleThreshold != 5_000_000 {
		t.Errorf("whale_threshold = %g, want 5000000", cfg.Whale.WhaleThreshold)
	}
	want := []string{"https://a.example", "https://b.example"}
	if len(cfg.Server.CORSOrigins) != len(want) {
		t.Fatalf("cors_origins = %v, want %v", cfg.Server.CORSOrigins, want)
	}
	for i := range want {
		if cfg.Server.CORSOrigins[i] != want[i] {
			t.Errorf("cors_origins[%d] = %q, want %q", i, cfg.Server.CORSOrigins[i], want[i])
		}
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.toml")); err == nil {
		t.Error("expected error for missing config file")
	}
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "replay"
	cfg.Exchange.Symbol = ""
	cfg.Pool.NumClients = 0
	cfg.Signal.BuyThreshold = -0.5 // below sell threshold
	cfg.Whale.MinChangePct = 0
	cfg.Whale.AlphaWhaleThreshold = 1_000_000 // below the whale floor
	cfg.Notify.MinPriority = "URGENT"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	msg := err.Error()
	for _, want := range []string{
		"unknown mode",
		"symbol must not be empty",
		"num_clients must be >= 1",
		"buy_threshold must exceed sell_threshold",
		"min_change_pct must be > 0",
		"alpha_whale_threshold must exceed whale_threshold",
		"unknown min_priority",
	} {
		if !strings.Contains(msg, want) {
			t.Errorf("error missing %q:\n%s", want, msg)
		}
	}
}

func TestValidatePostgresDSNSkipsHostChecks(t *testing.T) {
	cfg := Defaults()
	cfg.Postgres.DSN = "postgres://u:p@db:5432/hypertracker"
	cfg.Postgres.Host = ""
	cfg.Postgres.Database = ""
	if err := cfg.Validate(); err != nil {
		t.Errorf("dsn should satisfy postgres checks, got: %v", err)
	}
}
