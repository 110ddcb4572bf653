// One-shot tool: resolve the configured universe at the venue and show
// which instruments the trader would keep.
//
// Usage:
//
//	go run ./cmd/check-universe [-config path] [TICKER ...]
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/AlexSDem/trade-bot/internal/app"
	"github.com/AlexSDem/trade-bot/internal/catalog"
	"github.com/AlexSDem/trade-bot/internal/config"
	"github.com/AlexSDem/trade-bot/internal/util"
)

func main() {
	cfgFlag := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(app.ConfigPath(*cfgFlag))
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}
	if flag.NArg() > 0 {
		cfg.Universe.Tickers = flag.Args()
	}
	logger := util.NewLogger(cfg.Logging.Level, "text")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	b := app.OpenBroker(cfg, logger)
	resolved, err := catalog.Resolve(ctx, b, cfg.Universe.Tickers, logger)
	if err != nil {
		log.Fatalf("resolving universe: %v", err)
	}
	kept, err := resolved.FilterAffordable(ctx, b, cfg.Risk.MaxLotCost, logger)
	if err != nil {
		log.Fatalf("filtering universe: %v", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SYMBOL\tVENUE ID\tLOT\tTICK\tLAST\tLOT COST\tKEEP")
	for _, info := range resolved.Instruments() {
		last, ok, err := b.GetLastPrice(ctx, info.VenueID)
		lastCol, costCol := "-", "-"
		if err == nil && ok {
			lastCol = fmt.Sprintf("%.4f", last)
			costCol = fmt.Sprintf("%.2f", last*float64(info.LotSize))
		}
		_, keep := kept.Get(info.VenueID)
		fmt.Fprintf(w, "%s\t%s\t%d\t%g\t%s\t%s\t%v\n",
			info.Symbol, info.VenueID, info.LotSize, info.PriceTick, lastCol, costCol, keep)
	}
	w.Flush()

	var missing []string
	for _, t := range cfg.Universe.Tickers {
		sym := strings.ToUpper(strings.TrimSpace(t))
		if _, ok := resolved.BySymbol(sym); sym != "" && !ok {
			missing = append(missing, sym)
		}
	}
	fmt.Printf("\n%d configured, %d resolved, %d kept (max lot cost %.2f)\n",
		len(cfg.Universe.Tickers), resolved.Len(), kept.Len(), cfg.Risk.MaxLotCost)
	if len(missing) > 0 {
		fmt.Printf("not found: %s\n", strings.Join(missing, ", "))
	}
}
