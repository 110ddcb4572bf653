// Package app turns a loaded configuration into the components the
// binaries share: the broker stack, the journal and the instrument
// universe.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/AlexSDem/trade-bot/internal/broker"
	"github.com/AlexSDem/trade-bot/internal/catalog"
	"github.com/AlexSDem/trade-bot/internal/config"
	"github.com/AlexSDem/trade-bot/internal/journal"
	"github.com/AlexSDem/trade-bot/internal/notify"
	"github.com/AlexSDem/trade-bot/internal/state"
	"github.com/AlexSDem/trade-bot/internal/store"
)

// DefaultConfigPath is used when neither -config nor TRADEBOT_CONFIG is set.
const DefaultConfigPath = "config/tradebot.yaml"

// ErrEmptyUniverse is returned when no configured ticker survives
// resolution and the affordability filter.
var ErrEmptyUniverse = errors.New("no tradable instruments in universe")

// ConfigPath picks the config file: the flag value, then TRADEBOT_CONFIG,
// then DefaultConfigPath.
func ConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if p := os.Getenv("TRADEBOT_CONFIG"); p != "" {
		return p
	}
	return DefaultConfigPath
}

// OpenBroker builds the configured venue wrapped in a RetryingBroker. The
// simulator takes its market data from Alpaca when credentials are set and
// fills orders as prices cross their limits.
func OpenBroker(cfg *config.Config, log *slog.Logger) broker.Broker {
	var inner broker.Broker
	switch cfg.Broker.Name {
	case "simulator":
		sim := broker.NewSimulatorBroker()
		sim.Currency = cfg.Broker.Currency
		sim.AutoFill = true
		sim.SetCash(cfg.Broker.Currency, cfg.Broker.SimulatorCash)
		if cfg.Alpaca.APIKey != "" {
			sim.Feed = newAlpaca(cfg)
		}
		inner = sim
	default:
		inner = newAlpaca(cfg)
	}
	return broker.NewRetryingBroker(inner, cfg.Broker.Retry.Policy(), log)
}

func newAlpaca(cfg *config.Config) *broker.AlpacaBroker {
	return broker.NewAlpacaBroker(broker.AlpacaOptions{
		APIKey:          cfg.Alpaca.APIKey,
		APISecret:       cfg.Alpaca.APISecret,
		BaseURL:         cfg.Alpaca.BaseURL,
		DataURL:         cfg.Alpaca.DataURL,
		Feed:            cfg.Alpaca.Feed,
		DefaultTick:     cfg.Broker.DefaultTick,
		RateLimitPerMin: cfg.Broker.RateLimitPerMin,
	})
}

// ResolveAccount returns the configured account, or the first one the
// venue lists.
func ResolveAccount(ctx context.Context, b broker.Broker, cfg *config.Config) (string, error) {
	if cfg.Broker.Account != "" {
		return cfg.Broker.Account, nil
	}
	accounts, err := b.ListAccounts(ctx)
	if err != nil {
		return "", fmt.Errorf("listing accounts: %w", err)
	}
	if len(accounts) == 0 {
		return "", errors.New("broker reports no accounts")
	}
	return accounts[0], nil
}

// LoadUniverse resolves the configured tickers and keeps those whose lot
// fits within risk.max_lot_cost.
func LoadUniverse(ctx context.Context, b broker.Broker, cfg *config.Config, log *slog.Logger) (*catalog.Catalog, error) {
	cat, err := catalog.Resolve(ctx, b, cfg.Universe.Tickers, log)
	if err != nil {
		return nil, err
	}
	cat, err = cat.FilterAffordable(ctx, b, cfg.Risk.MaxLotCost, log)
	if err != nil {
		return nil, err
	}
	if cat.Len() == 0 {
		return nil, ErrEmptyUniverse
	}
	return cat, nil
}

// OpenJournalStore opens the primary journal sink selected by
// storage.journal.
func OpenJournalStore(cfg *config.Config, loc *time.Location) (store.JournalStore, error) {
	switch cfg.Storage.Journal {
	case "sqlite":
		if err := os.MkdirAll(filepath.Dir(cfg.Storage.SQLitePath), 0o755); err != nil {
			return nil, err
		}
		return store.NewSQLiteStore(cfg.Storage.SQLitePath, loc)
	default:
		return store.NewJSONLStore(filepath.Join(cfg.Storage.DataDir, "journal"), loc)
	}
}

// OpenJournal opens the primary journal sink plus the Postgres mirror when
// a DSN is configured. A mirror that cannot connect is logged and left out.
func OpenJournal(ctx context.Context, cfg *config.Config, loc *time.Location, log *slog.Logger) (*journal.Journal, error) {
	if log == nil {
		log = slog.Default()
	}
	primary, err := OpenJournalStore(cfg, loc)
	if err != nil {
		return nil, fmt.Errorf("opening %s journal: %w", cfg.Storage.Journal, err)
	}
	var mirrors []store.JournalStore
	if cfg.Storage.PostgresDSN != "" {
		pg, err := store.NewPostgresStore(ctx, cfg.Storage.PostgresDSN, loc)
		if err != nil {
			log.Warn("postgres journal mirror unavailable", "error", err)
		} else {
			mirrors = append(mirrors, pg)
		}
	}
	return journal.New(primary, log, mirrors...), nil
}

// DayFile is where the day counters are persisted.
func DayFile(cfg *config.Config) *state.DayFile {
	return &state.DayFile{Path: filepath.Join(cfg.Storage.DataDir, "day_state.json")}
}

// NewNotifier returns the Telegram notifier when enabled, the log notifier
// otherwise.
func NewNotifier(cfg *config.Config, log *slog.Logger) notify.Notifier {
	if log == nil {
		log = slog.Default()
	}
	if !cfg.Telegram.Enabled {
		return notify.NewLog(log)
	}
	tg, err := notify.NewTelegram(cfg.Telegram.Token, cfg.Telegram.ChatID)
	if err != nil {
		log.Warn("telegram unavailable, notifications go to the log", "error", err)
		return notify.NewLog(log)
	}
	return tg
}
