// Package config loads the trader configuration from YAML, an optional
// .env file and environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/AlexSDem/trade-bot/internal/strategy/builtins"
	"github.com/AlexSDem/trade-bot/internal/util"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration of the trader.
type Config struct {
	Broker   Broker   `yaml:"broker"`
	Alpaca   Alpaca   `yaml:"alpaca"`
	Schedule Schedule `yaml:"schedule"`
	Universe Universe `yaml:"universe"`
	Risk     Risk     `yaml:"risk"`
	Strategy Strategy `yaml:"strategy"`
	Runtime  Runtime  `yaml:"runtime"`
	Storage  Storage  `yaml:"storage"`
	Server   Server   `yaml:"server"`
	Telegram Telegram `yaml:"telegram"`
	Logging  Logging  `yaml:"logging"`
}

// Broker selects the venue and tunes the transport around it.
type Broker struct {
	Name     string `yaml:"name"` // "alpaca" or "simulator"
	Account  string `yaml:"account"`
	Currency string `yaml:"currency"`

	DefaultTick     float64 `yaml:"default_tick"`
	RateLimitPerMin int     `yaml:"rate_limit_per_min"`
	Retry           Retry   `yaml:"retry"`

	// SimulatorCash seeds the simulator account.
	SimulatorCash float64 `yaml:"simulator_cash"`
}

// Retry bounds the per-call retry loop.
type Retry struct {
	Attempts       int           `yaml:"attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
}

// Policy converts r to a util.RetryPolicy.
func (r Retry) Policy() util.RetryPolicy {
	return util.RetryPolicy{Attempts: r.Attempts, InitialBackoff: r.InitialBackoff, MaxBackoff: r.MaxBackoff}
}

// Alpaca holds credentials and endpoints for the Alpaca broker API.
type Alpaca struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	BaseURL   string `yaml:"base_url"`
	DataURL   string `yaml:"data_url"`
	Feed      string `yaml:"feed"`
}

// Schedule is the trading window in the venue timezone, HH:MM each.
type Schedule struct {
	TZ             string `yaml:"tz"`
	StartTrade     string `yaml:"start_trade"`
	StopNewEntries string `yaml:"stop_new_entries"`
	FlattenTime    string `yaml:"flatten_time"`
}

// Build parses the schedule.
func (s Schedule) Build() (*util.Schedule, error) {
	return util.NewSchedule(s.TZ, s.StartTrade, s.StopNewEntries, s.FlattenTime)
}

// Universe lists the tickers to trade.
type Universe struct {
	Tickers []string `yaml:"tickers"`
}

// Risk holds the portfolio limits and sizing.
type Risk struct {
	MaxDayLoss                   float64       `yaml:"max_day_loss"`
	MaxTradesPerDay              int           `yaml:"max_trades_per_day"`
	MaxPositions                 int           `yaml:"max_positions"`
	MaxPendingEntriesTotal       int           `yaml:"max_pending_entries_total"`
	MaxActiveOrdersTotal         int           `yaml:"max_active_orders_total"`
	MaxActiveOrdersPerInstrument int           `yaml:"max_active_orders_per_instrument"`
	MaxLotCost                   float64       `yaml:"max_lot_cost"`
	Lots                         int64         `yaml:"lots"`
	ReentryCooldown              time.Duration `yaml:"reentry_cooldown"`
}

// Strategy names the signal strategy and carries its parameters.
type Strategy struct {
	Name                         string `yaml:"name"`
	builtins.MeanReversionParams `yaml:",inline"`
}

// Runtime tunes the control loop.
type Runtime struct {
	Sleep                time.Duration `yaml:"sleep"`
	ErrorSleep           time.Duration `yaml:"error_sleep"`
	Heartbeat            time.Duration `yaml:"heartbeat"`
	OrderTTL             time.Duration `yaml:"order_ttl"`
	MaxConsecutiveErrors int           `yaml:"max_consecutive_errors"`
	FlattenTimeout       time.Duration `yaml:"flatten_timeout"`
	ErrorNotifyInterval  time.Duration `yaml:"error_notify_interval"`
	ArchiveBars          bool          `yaml:"archive_bars"`
}

// Storage holds paths for data persistence. Journal selects the primary
// journal sink: "jsonl" or "sqlite". A PostgresDSN adds a mirror.
type Storage struct {
	DataDir     string `yaml:"data_dir"`
	Journal     string `yaml:"journal"`
	SQLitePath  string `yaml:"sqlite_path"`
	PostgresDSN string `yaml:"postgres_dsn"`
}

// Server holds network listener configuration. A zero port disables the
// listener.
type Server struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	GRPCPort int    `yaml:"grpc_port"`
}

// Telegram configures operator notifications.
type Telegram struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"token"`
	ChatID  int64  `yaml:"chat_id"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ---------------------------------------------------------------------------
// Defaults
// ---------------------------------------------------------------------------

// Default returns the configuration used for every field the file leaves
// out.
func Default() *Config {
	return &Config{
		Broker: Broker{
			Name:            "alpaca",
			Currency:        "USD",
			DefaultTick:     0.01,
			RateLimitPerMin: 180,
			Retry: Retry{
				Attempts:       4,
				InitialBackoff: 500 * time.Millisecond,
				MaxBackoff:     8 * time.Second,
			},
			SimulatorCash: 10000,
		},
		Alpaca: Alpaca{
			BaseURL: "https://paper-api.alpaca.markets",
			Feed:    "iex",
		},
		Schedule: Schedule{
			TZ:             "America/New_York",
			StartTrade:     "09:45",
			StopNewEntries: "15:30",
			FlattenTime:    "15:50",
		},
		Risk: Risk{
			MaxDayLoss:                   100,
			MaxTradesPerDay:              3,
			MaxPositions:                 1,
			MaxPendingEntriesTotal:       1,
			MaxActiveOrdersTotal:         1,
			MaxActiveOrdersPerInstrument: 1,
			MaxLotCost:                   2000,
			Lots:                         1,
		},
		Strategy: Strategy{
			Name:                builtins.MeanReversionName,
			MeanReversionParams: builtins.DefaultMeanReversionParams(),
		},
		Runtime: Runtime{
			Sleep:                55 * time.Second,
			ErrorSleep:           10 * time.Second,
			Heartbeat:            300 * time.Second,
			OrderTTL:             300 * time.Second,
			MaxConsecutiveErrors: 8,
			FlattenTimeout:       60 * time.Second,
			ErrorNotifyInterval:  120 * time.Second,
		},
		Storage: Storage{
			DataDir:    "data",
			Journal:    "jsonl",
			SQLitePath: "data/journal.db",
		},
		Server: Server{
			Host:     "127.0.0.1",
			Port:     8080,
			GRPCPort: 9090,
		},
		Logging: Logging{
			Level:  "info",
			Format: "json",
		},
	}
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the YAML configuration file at path over Default(), loads a
// .env file from the working directory if present, applies environment
// overrides and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}
	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) error {
	set := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	// Standard Alpaca env vars, the names the SDK itself reads.
	set("APCA_API_KEY_ID", &cfg.Alpaca.APIKey)
	set("APCA_API_SECRET_KEY", &cfg.Alpaca.APISecret)
	set("ALPACA_BASE_URL", &cfg.Alpaca.BaseURL)
	set("ALPACA_DATA_URL", &cfg.Alpaca.DataURL)

	set("DATA_DIR", &cfg.Storage.DataDir)
	set("SQLITE_PATH", &cfg.Storage.SQLitePath)
	set("POSTGRES_DSN", &cfg.Storage.PostgresDSN)
	set("LOG_LEVEL", &cfg.Logging.Level)

	set("TELEGRAM_TOKEN", &cfg.Telegram.Token)
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("TELEGRAM_CHAT_ID: %w", err)
		}
		cfg.Telegram.ChatID = id
	}
	return nil
}

// ---------------------------------------------------------------------------
// Validation
// ---------------------------------------------------------------------------

// Validate reports every problem with the configuration at once.
func (c *Config) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	switch c.Broker.Name {
	case "alpaca":
		if c.Alpaca.APIKey == "" || c.Alpaca.APISecret == "" {
			bad("alpaca: api_key and api_secret are required (APCA_API_KEY_ID, APCA_API_SECRET_KEY)")
		}
	case "simulator":
		if c.Broker.SimulatorCash < 0 {
			bad("broker.simulator_cash must not be negative")
		}
	default:
		bad("broker.name %q: want alpaca or simulator", c.Broker.Name)
	}
	if c.Broker.DefaultTick <= 0 {
		bad("broker.default_tick must be positive")
	}
	if r := c.Broker.Retry; r.Attempts < 1 {
		bad("broker.retry.attempts must be at least 1")
	} else if r.MaxBackoff > 0 && r.MaxBackoff < r.InitialBackoff {
		bad("broker.retry.max_backoff %s is below initial_backoff %s", r.MaxBackoff, r.InitialBackoff)
	}

	if _, err := c.Schedule.Build(); err != nil {
		bad("schedule: %w", err)
	}

	tickers := 0
	for _, t := range c.Universe.Tickers {
		if strings.TrimSpace(t) != "" {
			tickers++
		}
	}
	if tickers == 0 {
		bad("universe.tickers is empty")
	}

	r := c.Risk
	if r.MaxDayLoss <= 0 {
		bad("risk.max_day_loss must be positive")
	}
	for name, v := range map[string]int{
		"max_trades_per_day":               r.MaxTradesPerDay,
		"max_positions":                    r.MaxPositions,
		"max_pending_entries_total":        r.MaxPendingEntriesTotal,
		"max_active_orders_total":          r.MaxActiveOrdersTotal,
		"max_active_orders_per_instrument": r.MaxActiveOrdersPerInstrument,
	} {
		if v <= 0 {
			bad("risk.%s must be positive", name)
		}
	}
	if r.MaxLotCost <= 0 {
		bad("risk.max_lot_cost must be positive")
	}
	if r.Lots <= 0 {
		bad("risk.lots must be positive")
	}

	if c.Strategy.Name != builtins.MeanReversionName {
		bad("strategy.name %q: want %s", c.Strategy.Name, builtins.MeanReversionName)
	}

	rt := c.Runtime
	if rt.Sleep <= 0 || rt.ErrorSleep <= 0 {
		bad("runtime.sleep and runtime.error_sleep must be positive")
	}
	if rt.OrderTTL < 0 {
		bad("runtime.order_ttl must not be negative")
	}
	if rt.MaxConsecutiveErrors <= 0 {
		bad("runtime.max_consecutive_errors must be positive")
	}

	switch c.Storage.Journal {
	case "jsonl":
	case "sqlite":
		if c.Storage.SQLitePath == "" {
			bad("storage.sqlite_path is required for the sqlite journal")
		}
	default:
		bad("storage.journal %q: want jsonl or sqlite", c.Storage.Journal)
	}

	if c.Telegram.Enabled && (c.Telegram.Token == "" || c.Telegram.ChatID == 0) {
		bad("telegram: token and chat_id are required when enabled")
	}
	return errors.Join(errs...)
}
