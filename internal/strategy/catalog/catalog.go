// Package catalog resolves strategy names to configured strategy instances.
package catalog

import (
	"github.com/newthinker/quantsim/internal/core"
	"github.com/newthinker/quantsim/internal/strategy"
	"github.com/newthinker/quantsim/internal/strategy/macd"
	"github.com/newthinker/quantsim/internal/strategy/multi_indicator"
	"github.com/newthinker/quantsim/internal/strategy/price_band"
	"github.com/newthinker/quantsim/internal/strategy/rsi"
	"github.com/newthinker/quantsim/internal/strategy/sma_crossover"
)

// Names lists the available strategies in sorted order
func Names() []string {
	return []string{
		price_band.Name,
		macd.Name,
		multi_indicator.Name,
		rsi.Name,
		sma_crossover.Name,
	}
}

func newDefault(name string) (strategy.Strategy, bool) {
	switch name {
	case sma_crossover.Name:
		return sma_crossover.Default(), true
	case rsi.Name:
		return rsi.Default(), true
	case macd.Name:
		return macd.Default(), true
	case multi_indicator.Name:
		return multi_indicator.New(), true
	case price_band.Name:
		return price_band.Default(), true
	}
	return nil, false
}

// Lookup returns the named strategy configured with params. Unknown names
// fail with UNKNOWN_STRATEGY, unknown or malformed params with CONFIG_INVALID.
func Lookup(name string, params map[string]any) (strategy.Strategy, error) {
	s, ok := newDefault(name)
	if !ok {
		return nil, core.Errorf(core.ErrUnknownStrategy, "%q (available: %v)", name, Names())
	}
	if err := s.Init(strategy.Config{Params: params}); err != nil {
		return nil, err
	}
	return s, nil
}

// Describe returns each strategy's default description keyed by name
func Describe() map[string]string {
	out := make(map[string]string, len(Names()))
	for _, name := range Names() {
		s, _ := newDefault(name)
		out[name] = s.Description()
	}
	return out
}
