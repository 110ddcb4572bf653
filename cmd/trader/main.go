package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/AlexSDem/trade-bot/internal/api"
	"github.com/AlexSDem/trade-bot/internal/app"
	"github.com/AlexSDem/trade-bot/internal/config"
	"github.com/AlexSDem/trade-bot/internal/engine"
	"github.com/AlexSDem/trade-bot/internal/runner"
	"github.com/AlexSDem/trade-bot/internal/state"
	"github.com/AlexSDem/trade-bot/internal/store"
	"github.com/AlexSDem/trade-bot/internal/strategy"
	"github.com/AlexSDem/trade-bot/internal/strategy/builtins"
	"github.com/AlexSDem/trade-bot/internal/util"
)

func main() {
	cfgFlag := flag.String("config", "", "path to config file (default $TRADEBOT_CONFIG or "+app.DefaultConfigPath+")")
	flag.Parse()

	cfg, err := config.Load(app.ConfigPath(*cfgFlag))
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("trader stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("trader stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	sched, err := cfg.Schedule.Build()
	if err != nil {
		return err
	}

	b := app.OpenBroker(cfg, logger)
	account, err := app.ResolveAccount(ctx, b, cfg)
	if err != nil {
		return err
	}
	cat, err := app.LoadUniverse(ctx, b, cfg, logger)
	if err != nil {
		return err
	}
	logger.Info("universe resolved", "broker", b.Name(), "account", account, "instruments", cat.Len())

	j, err := app.OpenJournal(ctx, cfg, sched.Location, logger)
	if err != nil {
		return err
	}
	defer j.Close()

	registry := strategy.NewRegistry()
	registry.Register(builtins.NewMeanReversion(cfg.Strategy.MeanReversionParams))
	strat, err := registry.Resolve(cfg.Strategy.Name)
	if err != nil {
		return err
	}

	ledger := state.NewLedger(cfg.Broker.Currency, app.DayFile(cfg), logger)
	eng := engine.NewEngine(b, cat, ledger, j, engine.Options{
		Account:         account,
		ReentryCooldown: cfg.Risk.ReentryCooldown,
	}, logger)
	risk := engine.NewRiskGate(engine.RiskLimits{
		MaxDayLoss:                   cfg.Risk.MaxDayLoss,
		MaxTradesPerDay:              cfg.Risk.MaxTradesPerDay,
		MaxPositions:                 cfg.Risk.MaxPositions,
		MaxPendingEntriesTotal:       cfg.Risk.MaxPendingEntriesTotal,
		MaxActiveOrdersTotal:         cfg.Risk.MaxActiveOrdersTotal,
		MaxActiveOrdersPerInstrument: cfg.Risk.MaxActiveOrdersPerInstrument,
	}, ledger, logger)

	var bars store.BarStore
	if cfg.Runtime.ArchiveBars {
		bars = store.NewParquetStore(cfg.Storage.DataDir)
	}

	var srv *api.Server
	r := runner.New(runner.Deps{
		Engine:   eng,
		Risk:     risk,
		Strategy: strat,
		Schedule: sched,
		Broker:   b,
		Bars:     bars,
		Journal:  j,
		Notifier: app.NewNotifier(cfg, logger),
	}, runner.Options{
		Account:              account,
		Currency:             cfg.Broker.Currency,
		Lots:                 cfg.Risk.Lots,
		Sleep:                cfg.Runtime.Sleep,
		ErrorSleep:           cfg.Runtime.ErrorSleep,
		Heartbeat:            cfg.Runtime.Heartbeat,
		OrderTTL:             cfg.Runtime.OrderTTL,
		MaxConsecutiveErrors: cfg.Runtime.MaxConsecutiveErrors,
		FlattenTimeout:       cfg.Runtime.FlattenTimeout,
		ErrorNotifyInterval:  cfg.Runtime.ErrorNotifyInterval,
		OnReady:              func(ok bool) { srv.SetServing(ok) },
	}, logger)
	srv = api.NewServer(cfg.Server, r, j, sched.Location, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Run(gctx); err != nil {
			return fmt.Errorf("api: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return r.Run(gctx)
	})
	return g.Wait()
}
