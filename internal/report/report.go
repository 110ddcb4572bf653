// Package report summarises one trading day from its journal.
package report

import (
	"fmt"
	"sort"
	"strings"

	"github.com/AlexSDem/trade-bot/internal/domain"
)

// SymbolSummary is the per-instrument part of a Summary.
type SymbolSummary struct {
	Symbol     string  `json:"symbol"`
	BuyFills   int     `json:"buy_fills"`
	SellFills  int     `json:"sell_fills"`
	LotsBought int64   `json:"lots_bought"`
	LotsSold   int64   `json:"lots_sold"`
	Cashflow   float64 `json:"cashflow"`
}

// Summary is the day report.
type Summary struct {
	Day      string                   `json:"day"`
	Events   map[domain.EventKind]int `json:"events"`
	Skips    map[string]int           `json:"skips"`
	Cancels  map[string]int           `json:"cancels"`
	Symbols  []SymbolSummary          `json:"symbols"`
	Cashflow float64                  `json:"cashflow"`
	// OpenLots is lots bought minus lots sold per symbol, non-zero only.
	OpenLots map[string]int64 `json:"open_lots,omitempty"`
}

// Build aggregates the records of one day. Fill records carry cumulative
// executed lots, so each order contributes once through its latest one.
func Build(day string, records []domain.JournalRecord) Summary {
	s := Summary{
		Day:     day,
		Events:  make(map[domain.EventKind]int),
		Skips:   make(map[string]int),
		Cancels: make(map[string]int),
	}

	type exec struct {
		symbol string
		side   domain.Side
		lots   int64
		price  float64
		final  bool
	}
	fills := make(map[string]*exec)
	var order []string

	for _, r := range records {
		s.Events[r.Event]++
		switch r.Event {
		case domain.EventSkip:
			s.Skips[r.Reason]++
		case domain.EventCancel:
			s.Cancels[r.Reason]++
		case domain.EventPartialFill, domain.EventFill:
			key := r.OrderID
			if key == "" {
				key = r.ClientKey
			}
			e, ok := fills[key]
			if !ok {
				e = &exec{}
				fills[key] = e
				order = append(order, key)
			}
			if r.Lots >= e.lots {
				e.symbol, e.side, e.lots, e.price = r.Symbol, r.Side, r.Lots, r.Price
			}
			if r.Event == domain.EventFill {
				e.final = true
			}
		}
	}

	bySymbol := make(map[string]*SymbolSummary)
	for _, key := range order {
		e := fills[key]
		sym := bySymbol[e.symbol]
		if sym == nil {
			sym = &SymbolSummary{Symbol: e.symbol}
			bySymbol[e.symbol] = sym
		}
		amount := e.price * float64(e.lots)
		switch e.side {
		case domain.SideBuy:
			if e.final {
				sym.BuyFills++
			}
			sym.LotsBought += e.lots
			sym.Cashflow -= amount
		case domain.SideSell:
			if e.final {
				sym.SellFills++
			}
			sym.LotsSold += e.lots
			sym.Cashflow += amount
		}
	}

	for _, sym := range bySymbol {
		s.Symbols = append(s.Symbols, *sym)
		s.Cashflow += sym.Cashflow
		if open := sym.LotsBought - sym.LotsSold; open != 0 {
			if s.OpenLots == nil {
				s.OpenLots = make(map[string]int64)
			}
			s.OpenLots[sym.Symbol] = open
		}
	}
	sort.Slice(s.Symbols, func(i, j int) bool { return s.Symbols[i].Symbol < s.Symbols[j].Symbol })
	return s
}

// Text renders the summary for a chat message or terminal.
func (s Summary) Text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Day report %s\n", s.Day)
	fmt.Fprintf(&b, "signals=%d submits=%d fills=%d partial=%d cancels=%d rejects=%d skips=%d\n",
		s.Events[domain.EventSignal], s.Events[domain.EventSubmit], s.Events[domain.EventFill],
		s.Events[domain.EventPartialFill], s.Events[domain.EventCancel], s.Events[domain.EventReject],
		s.Events[domain.EventSkip])

	if len(s.Symbols) == 0 {
		b.WriteString("no executions\n")
	}
	for _, sym := range s.Symbols {
		fmt.Fprintf(&b, "%s: bought %d sold %d cashflow %+.2f\n", sym.Symbol, sym.LotsBought, sym.LotsSold, sym.Cashflow)
	}
	fmt.Fprintf(&b, "total cashflow %+.2f\n", s.Cashflow)

	if len(s.OpenLots) > 0 {
		syms := make([]string, 0, len(s.OpenLots))
		for sym := range s.OpenLots {
			syms = append(syms, sym)
		}
		sort.Strings(syms)
		b.WriteString("still open:")
		for _, sym := range syms {
			fmt.Fprintf(&b, " %s=%d", sym, s.OpenLots[sym])
		}
		b.WriteString("\n")
	}
	if len(s.Skips) > 0 {
		b.WriteString("skips:" + formatCounts(s.Skips) + "\n")
	}
	return b.String()
}

func formatCounts(m map[string]int) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%d", k, m[k])
	}
	return b.String()
}
