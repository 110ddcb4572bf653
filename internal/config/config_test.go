package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// writeConfig writes content to a temporary YAML file and returns its path.
func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}
	return path
}

// clearEnv unsets every override Load consults so the host environment
// cannot leak into a test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"APCA_API_KEY_ID", "APCA_API_SECRET_KEY", "ALPACA_BASE_URL", "ALPACA_DATA_URL",
		"DATA_DIR", "SQLITE_PATH", "POSTGRES_DSN", "LOG_LEVEL",
		"TELEGRAM_TOKEN", "TELEGRAM_CHAT_ID",
	} {
		t.Setenv(k, "")
	}
}

const fullConfig = `
broker:
  name: alpaca
  account: "PA-1"
  default_tick: 0.01
  retry:
    attempts: 5
    initial_backoff: 250ms
    max_backoff: 4s
alpaca:
  api_key: "test-key"
  api_secret: "test-secret"
  feed: "sip"
schedule:
  tz: "America/New_York"
  start_trade: "10:00"
  stop_new_entries: "15:00"
  flatten_time: "15:45"
universe:
  tickers: [AAPL, MSFT]
risk:
  max_day_loss: 250
  max_trades_per_day: 5
  max_positions: 2
  max_pending_entries_total: 2
  max_active_orders_total: 2
  max_active_orders_per_instrument: 1
  max_lot_cost: 5000
  lots: 3
  reentry_cooldown: 10m
strategy:
  name: mean_reversion
  k_atr: 1.5
  time_stop: 30m
runtime:
  sleep: 30s
  order_ttl: 120s
storage:
  data_dir: "/tmp/tradebot/data"
  journal: sqlite
  sqlite_path: "/tmp/tradebot/journal.db"
server:
  host: "0.0.0.0"
  port: 8081
telegram:
  enabled: true
  token: "bot-token"
  chat_id: 42
`

func TestLoad(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(writeConfig(t, fullConfig))
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.Broker.Account != "PA-1" {
		t.Errorf("Broker.Account = %q, want %q", cfg.Broker.Account, "PA-1")
	}
	if p := cfg.Broker.Retry.Policy(); p.Attempts != 5 || p.InitialBackoff != 250*time.Millisecond || p.MaxBackoff != 4*time.Second {
		t.Errorf("Retry.Policy() = %+v, want 5 attempts 250ms..4s", p)
	}
	if cfg.Alpaca.APIKey != "test-key" || cfg.Alpaca.Feed != "sip" {
		t.Errorf("Alpaca = %+v", cfg.Alpaca)
	}
	if cfg.Schedule.StartTrade != "10:00" || cfg.Schedule.FlattenTime != "15:45" {
		t.Errorf("Schedule = %+v", cfg.Schedule)
	}
	if len(cfg.Universe.Tickers) != 2 || cfg.Universe.Tickers[1] != "MSFT" {
		t.Errorf("Universe.Tickers = %v, want [AAPL MSFT]", cfg.Universe.Tickers)
	}
	if cfg.Risk.MaxDayLoss != 250 || cfg.Risk.MaxPositions != 2 || cfg.Risk.Lots != 3 {
		t.Errorf("Risk = %+v", cfg.Risk)
	}
	if cfg.Risk.ReentryCooldown != 10*time.Minute {
		t.Errorf("Risk.ReentryCooldown = %v, want 10m", cfg.Risk.ReentryCooldown)
	}
	if cfg.Strategy.KATR != 1.5 {
		t.Errorf("Strategy.KATR = %v, want 1.5", cfg.Strategy.KATR)
	}
	if cfg.Strategy.TimeStop != 30*time.Minute {
		t.Errorf("Strategy.TimeStop = %v, want 30m", cfg.Strategy.TimeStop)
	}
	if cfg.Runtime.Sleep != 30*time.Second || cfg.Runtime.OrderTTL != 2*time.Minute {
		t.Errorf("Runtime = %+v", cfg.Runtime)
	}
	if cfg.Storage.Journal != "sqlite" || cfg.Storage.SQLitePath != "/tmp/tradebot/journal.db" {
		t.Errorf("Storage = %+v", cfg.Storage)
	}
	if cfg.Server.Host != "0.0.0.0" || cfg.Server.Port != 8081 {
		t.Errorf("Server = %+v", cfg.Server)
	}
	if !cfg.Telegram.Enabled || cfg.Telegram.ChatID != 42 {
		t.Errorf("Telegram = %+v", cfg.Telegram)
	}
}

func TestLoadKeepsDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(writeConfig(t, `
broker:
  name: simulator
universe:
  tickers: [AAPL]
`))
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	def := Default()

	if cfg.Runtime.Sleep != 55*time.Second {
		t.Errorf("Runtime.Sleep = %v, want 55s", cfg.Runtime.Sleep)
	}
	if cfg.Runtime.MaxConsecutiveErrors != 8 {
		t.Errorf("Runtime.MaxConsecutiveErrors = %d, want 8", cfg.Runtime.MaxConsecutiveErrors)
	}
	if cfg.Schedule != def.Schedule {
		t.Errorf("Schedule = %+v, want %+v", cfg.Schedule, def.Schedule)
	}
	if cfg.Risk != def.Risk {
		t.Errorf("Risk = %+v, want %+v", cfg.Risk, def.Risk)
	}
	if cfg.Strategy.MinBars != def.Strategy.MinBars {
		t.Errorf("Strategy.MinBars = %d, want %d", cfg.Strategy.MinBars, def.Strategy.MinBars)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Logging.Format = %q, want json", cfg.Logging.Format)
	}
}

func TestEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("APCA_API_KEY_ID", "env-key")
	t.Setenv("APCA_API_SECRET_KEY", "env-secret")
	t.Setenv("DATA_DIR", "/env/data")
	t.Setenv("TELEGRAM_TOKEN", "env-token")
	t.Setenv("TELEGRAM_CHAT_ID", "-1001")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load(writeConfig(t, fullConfig))
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if cfg.Alpaca.APIKey != "env-key" || cfg.Alpaca.APISecret != "env-secret" {
		t.Errorf("Alpaca credentials = %q/%q, want env values", cfg.Alpaca.APIKey, cfg.Alpaca.APISecret)
	}
	if cfg.Storage.DataDir != "/env/data" {
		t.Errorf("Storage.DataDir = %q, want /env/data", cfg.Storage.DataDir)
	}
	if cfg.Telegram.Token != "env-token" || cfg.Telegram.ChatID != -1001 {
		t.Errorf("Telegram = %+v, want env values", cfg.Telegram)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want debug", cfg.Logging.Level)
	}
}

func TestEnvOverrideBadChatID(t *testing.T) {
	clearEnv(t)
	t.Setenv("TELEGRAM_CHAT_ID", "not-a-number")
	if _, err := Load(writeConfig(t, fullConfig)); err == nil {
		t.Fatal("Load() with a bad TELEGRAM_CHAT_ID returned nil error")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("Load() of a missing file returned nil error")
	}
}

func TestLoadBadYAML(t *testing.T) {
	if _, err := Load(writeConfig(t, "broker: [unterminated")); err == nil {
		t.Fatal("Load() of malformed YAML returned nil error")
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		c := Default()
		c.Broker.Name = "simulator"
		c.Universe.Tickers = []string{"AAPL"}
		return c
	}
	if err := valid().Validate(); err != nil {
		t.Fatalf("Validate() on a valid config: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"unknown broker", func(c *Config) { c.Broker.Name = "ib" }, "broker.name"},
		{"alpaca without keys", func(c *Config) { c.Broker.Name = "alpaca" }, "api_key"},
		{"bad clock", func(c *Config) { c.Schedule.StartTrade = "25:00" }, "schedule"},
		{"bad timezone", func(c *Config) { c.Schedule.TZ = "Mars/Olympus" }, "schedule"},
		{"empty universe", func(c *Config) { c.Universe.Tickers = []string{" "} }, "universe"},
		{"zero day loss", func(c *Config) { c.Risk.MaxDayLoss = 0 }, "max_day_loss"},
		{"zero positions", func(c *Config) { c.Risk.MaxPositions = 0 }, "max_positions"},
		{"zero lots", func(c *Config) { c.Risk.Lots = 0 }, "risk.lots"},
		{"unknown strategy", func(c *Config) { c.Strategy.Name = "momentum" }, "strategy.name"},
		{"zero retry attempts", func(c *Config) { c.Broker.Retry.Attempts = 0 }, "attempts"},
		{"unknown journal", func(c *Config) { c.Storage.Journal = "csv" }, "storage.journal"},
		{"telegram without token", func(c *Config) { c.Telegram.Enabled = true }, "telegram"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := c.Validate()
			if err == nil {
				t.Fatal("Validate() returned nil error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Validate() = %q, want it to mention %q", err, tt.want)
			}
		})
	}
}
