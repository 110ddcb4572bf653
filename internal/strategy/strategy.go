// Package strategy defines the Strategy interface for signal generation and
// provides a Registry for selecting an implementation by name.
package strategy

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/AlexSDem/trade-bot/internal/domain"
)

// Position is what a strategy sees of an instrument's state.
type Position struct {
	Lots        int64
	EntryPrice  float64
	EntryTime   time.Time
	OrderActive bool
}

// Input is one evaluation request: the recent bars of an instrument, oldest
// first, and its current position.
type Input struct {
	Symbol   string
	Bars     []domain.Bar
	Position Position
}

// Strategy turns recent bars into a trading signal.
//
// Implementations must return HOLD while Position.OrderActive is set, must
// only emit SELL for a held position and must set LimitPrice on every
// non-HOLD signal.
type Strategy interface {
	// Name returns the unique identifier for this strategy.
	Name() string

	// Lookback is the bar history the strategy wants per evaluation.
	Lookback() time.Duration

	// Evaluate returns the signal for one instrument.
	Evaluate(ctx context.Context, in Input) (domain.Signal, error)
}

// Hold is a HOLD signal at price with the given reason.
func Hold(price float64, reason string) domain.Signal {
	return domain.Signal{Action: domain.ActionHold, ReferencePrice: price, Reason: reason}
}

// Registry holds a named collection of strategies for lookup and enumeration.
type Registry struct {
	strategies map[string]Strategy
}

// NewRegistry creates an empty strategy Registry.
func NewRegistry() *Registry {
	return &Registry{
		strategies: make(map[string]Strategy),
	}
}

// Register adds a strategy to the registry, keyed by its Name().
func (r *Registry) Register(s Strategy) {
	r.strategies[s.Name()] = s
}

// Get retrieves a strategy by name. The second return value indicates whether
// the strategy was found.
func (r *Registry) Get(name string) (Strategy, bool) {
	s, ok := r.strategies[name]
	return s, ok
}

// Resolve is Get with an error that lists the registered names.
func (r *Registry) Resolve(name string) (Strategy, error) {
	s, ok := r.strategies[name]
	if !ok {
		return nil, fmt.Errorf("unknown strategy %q (have %v)", name, r.List())
	}
	return s, nil
}

// List returns a sorted slice of all registered strategy names.
func (r *Registry) List() []string {
	names := make([]string, 0, len(r.strategies))
	for name := range r.strategies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
