package collector

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/newthinker/quantsim/internal/core"
)

// Registry manages data providers
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewRegistry creates a new provider registry
func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]Provider),
	}
}

// Register adds a provider to the registry
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Name()] = p
}

// Get retrieves a provider by name
func (r *Registry) Get(name string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	return p, ok
}

// Names returns the registered provider names in sorted order
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.providers))
	for n := range r.providers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Normalize restricts bars to [start, end] (a zero bound is open), sorts them
// by time and rejects invalid or duplicated bars.
func Normalize(symbol string, bars []core.Bar, start, end time.Time) ([]core.Bar, error) {
	out := make([]core.Bar, 0, len(bars))
	for _, b := range bars {
		if b.Symbol == "" {
			b.Symbol = symbol
		}
		if !start.IsZero() && b.Time.Before(start) {
			continue
		}
		if !end.IsZero() && b.Time.After(end) {
			continue
		}
		out = append(out, b)
	}
	if len(out) == 0 {
		return nil, core.Errorf(core.ErrNoData, "%s: no bars between %s and %s",
			symbol, start.Format(time.DateOnly), end.Format(time.DateOnly))
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })

	for i, b := range out {
		if b.Symbol != symbol {
			return nil, core.Errorf(core.ErrInvalidBar, "%s: bar at %s belongs to %s", symbol, b.Time.Format(time.RFC3339), b.Symbol)
		}
		if !b.IsValid() {
			return nil, core.Errorf(core.ErrInvalidBar, "%s: bar at %s has inconsistent prices", symbol, b.Time.Format(time.RFC3339))
		}
		if i > 0 && b.Time.Equal(out[i-1].Time) {
			return nil, core.Errorf(core.ErrOutOfOrderBar, "%s: duplicate bar at %s", symbol, b.Time.Format(time.RFC3339))
		}
	}
	return out, nil
}

// FetchAll loads and normalizes history for every symbol, running at most
// parallelism fetches at once. The first failure cancels the rest.
func FetchAll(ctx context.Context, p Provider, symbols []string, start, end time.Time, parallelism int) (map[string][]core.Bar, error) {
	if len(symbols) == 0 {
		return nil, core.Errorf(core.ErrConfigMissing, "no symbols requested")
	}
	seen := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		if s == "" || seen[s] {
			return nil, core.Errorf(core.ErrConfigInvalid, "symbol list has an empty or repeated entry %q", s)
		}
		seen[s] = true
	}
	if parallelism <= 0 {
		parallelism = 1
	}

	results := make([][]core.Bar, len(symbols))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallelism)

	for i, symbol := range symbols {
		g.Go(func() error {
			raw, err := p.FetchHistory(gctx, symbol, start, end)
			if err != nil {
				var coreErr *core.Error
				if errors.As(err, &coreErr) {
					return err
				}
				return core.Errorf(core.ErrProviderFailed, "%s: %s: %v", p.Name(), symbol, err)
			}
			bars, err := Normalize(symbol, raw, start, end)
			if err != nil {
				return err
			}
			results[i] = bars
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make(map[string][]core.Bar, len(symbols))
	for i, symbol := range symbols {
		out[symbol] = results[i]
	}
	return out, nil
}
