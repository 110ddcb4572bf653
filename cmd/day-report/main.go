// One-shot tool: build the end-of-day report from the trade journal and
// print it, optionally sending it through the configured notifier.
//
// Usage:
//
//	go run ./cmd/day-report [-config path] [-day 2025-03-10] [-send] [-json]
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/AlexSDem/trade-bot/internal/app"
	"github.com/AlexSDem/trade-bot/internal/config"
	"github.com/AlexSDem/trade-bot/internal/report"
	"github.com/AlexSDem/trade-bot/internal/util"
)

func main() {
	cfgFlag := flag.String("config", "", "path to config file")
	day := flag.String("day", "", "session day YYYY-MM-DD (default today in the session timezone)")
	send := flag.Bool("send", false, "also send the report through the configured notifier")
	asJSON := flag.Bool("json", false, "print the summary as JSON")
	flag.Parse()

	cfg, err := config.Load(app.ConfigPath(*cfgFlag))
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}
	logger := util.NewLogger(cfg.Logging.Level, "text")

	sched, err := cfg.Schedule.Build()
	if err != nil {
		log.Fatalf("schedule: %v", err)
	}
	if *day == "" {
		*day = sched.DayKey(time.Now())
	}

	js, err := app.OpenJournalStore(cfg, sched.Location)
	if err != nil {
		log.Fatalf("opening journal: %v", err)
	}
	defer js.Close()

	ctx := context.Background()
	recs, err := js.ReadDay(ctx, *day)
	if err != nil {
		log.Fatalf("reading journal for %s: %v", *day, err)
	}
	sum := report.Build(*day, recs)

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(sum); err != nil {
			log.Fatalf("encoding summary: %v", err)
		}
	} else {
		fmt.Print(sum.Text())
	}

	if *send {
		if err := app.NewNotifier(cfg, logger).Notify(ctx, sum.Text()); err != nil {
			log.Fatalf("sending report: %v", err)
		}
	}
}
