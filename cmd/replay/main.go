// One-shot tool: replay the configured strategy over bars archived by the
// trader and print the simulated results.
//
// Usage:
//
//	go run ./cmd/replay [-config path] -symbol AAPL [-from 2025-03-03] [-to 2025-03-07]
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/AlexSDem/trade-bot/internal/app"
	"github.com/AlexSDem/trade-bot/internal/config"
	"github.com/AlexSDem/trade-bot/internal/store"
	"github.com/AlexSDem/trade-bot/internal/strategy"
	"github.com/AlexSDem/trade-bot/internal/strategy/builtins"
)

func main() {
	cfgFlag := flag.String("config", "", "path to config file")
	symbol := flag.String("symbol", "", "symbol to replay")
	from := flag.String("from", "", "first day YYYY-MM-DD (default 7 days ago)")
	to := flag.String("to", "", "last day YYYY-MM-DD (default today)")
	flag.Parse()

	if *symbol == "" {
		log.Fatal("-symbol is required")
	}
	cfg, err := config.Load(app.ConfigPath(*cfgFlag))
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	end := time.Now().UTC()
	if *to != "" {
		d, err := time.Parse("2006-01-02", *to)
		if err != nil {
			log.Fatalf("-to: %v", err)
		}
		end = d.Add(24*time.Hour - time.Nanosecond)
	}
	start := end.AddDate(0, 0, -7)
	if *from != "" {
		if start, err = time.Parse("2006-01-02", *from); err != nil {
			log.Fatalf("-from: %v", err)
		}
	}

	registry := strategy.NewRegistry()
	registry.Register(builtins.NewMeanReversion(cfg.Strategy.MeanReversionParams))
	bt := strategy.NewBacktester(store.NewParquetStore(cfg.Storage.DataDir), registry)

	res, err := bt.Run(context.Background(), cfg.Strategy.Name, *symbol, start, end, cfg.Risk.Lots)
	if err != nil {
		log.Fatalf("replay: %v", err)
	}

	actions := make([]string, 0, len(res.Signals))
	for a, n := range res.Signals {
		actions = append(actions, fmt.Sprintf("%s=%d", a, n))
	}
	sort.Strings(actions)
	fmt.Printf("signals: %s\n", strings.Join(actions, " "))
	fmt.Printf("%s %s..%s: %d bars, %d trades, win rate %.1f%%, pnl %.2f, max drawdown %.2f\n",
		res.Symbol, start.Format("2006-01-02"), end.Format("2006-01-02"),
		res.Bars, res.TotalTrades, res.WinRate*100, res.PnL, res.MaxDrawdown)
}
