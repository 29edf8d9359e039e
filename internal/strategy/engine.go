package strategy

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/newthinker/quantsim/internal/core"
)

// Generate replays bars through s and returns the actionable decisions as
// signal events. A decision taken on the close of bar i is stamped with the
// time of bar i+1, so the last bar never produces an event.
func Generate(s Strategy, symbol string, bars []core.Bar) ([]core.SignalEvent, error) {
	for i := 1; i < len(bars); i++ {
		if !bars[i].Time.After(bars[i-1].Time) {
			return nil, core.Errorf(core.ErrOutOfOrderBar, "%s: bar %d at %s does not follow %s",
				symbol, i, bars[i].Time.Format(time.RFC3339), bars[i-1].Time.Format(time.RFC3339))
		}
	}

	history := s.RequiredData().PriceHistory
	var events []core.SignalEvent

	for i := 0; i < len(bars)-1; i++ {
		start := 0
		if history > 0 && i+1 > history {
			start = i + 1 - history
		}

		d, err := s.Analyze(AnalysisContext{
			Symbol: symbol,
			Bars:   bars[start : i+1],
			Now:    bars[i].Time,
		})
		if err != nil {
			return nil, core.Errorf(core.ErrRunFailed, "%s on %s at bar %d: %v", s.Name(), symbol, i, err)
		}
		if d.Direction != core.DirectionBuy && d.Direction != core.DirectionSell {
			continue
		}

		events = append(events, core.SignalEvent{
			Symbol:    symbol,
			Time:      bars[i+1].Time,
			Direction: d.Direction,
			Strategy:  s.Name(),
			Reason:    d.Reason,
		})
	}

	return events, nil
}

// Engine manages a set of configured strategies
type Engine struct {
	mu         sync.RWMutex
	strategies map[string]Strategy
	logger     *zap.Logger
}

// NewEngine creates a new strategy engine
func NewEngine(logger ...*zap.Logger) *Engine {
	var l *zap.Logger
	if len(logger) > 0 && logger[0] != nil {
		l = logger[0]
	} else {
		l = zap.NewNop()
	}
	return &Engine{
		strategies: make(map[string]Strategy),
		logger:     l,
	}
}

// Register adds a strategy under the given label, replacing any previous one
func (e *Engine) Register(label string, s Strategy) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.strategies[label] = s
}

// Get retrieves a strategy by label
func (e *Engine) Get(label string) (Strategy, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s, ok := e.strategies[label]
	return s, ok
}

// Labels returns the registered labels in sorted order
func (e *Engine) Labels() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	labels := make([]string, 0, len(e.strategies))
	for l := range e.strategies {
		labels = append(labels, l)
	}
	sort.Strings(labels)
	return labels
}

// Signals generates the signal streams of one registered strategy for every symbol
func (e *Engine) Signals(ctx context.Context, label string, bars map[string][]core.Bar) (map[string][]core.SignalEvent, error) {
	s, ok := e.Get(label)
	if !ok {
		return nil, core.Errorf(core.ErrUnknownStrategy, "%q is not registered", label)
	}

	symbols := make([]string, 0, len(bars))
	for sym := range bars {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	out := make(map[string][]core.SignalEvent, len(symbols))
	for _, sym := range symbols {
		select {
		case <-ctx.Done():
			return nil, core.WrapError(core.ErrRunCancelled, ctx.Err())
		default:
		}

		events, err := Generate(s, sym, bars[sym])
		if err != nil {
			e.logger.Warn("signal generation failed",
				zap.String("strategy", label),
				zap.String("symbol", sym),
				zap.Error(err),
			)
			return nil, err
		}
		out[sym] = events

		e.logger.Debug("signals generated",
			zap.String("strategy", label),
			zap.String("symbol", sym),
			zap.Int("bars", len(bars[sym])),
			zap.Int("signals", len(events)),
		)
	}

	return out, nil
}

// SignalsAll generates signal streams for every registered strategy, keyed by label
func (e *Engine) SignalsAll(ctx context.Context, bars map[string][]core.Bar) (map[string]map[string][]core.SignalEvent, error) {
	out := make(map[string]map[string][]core.SignalEvent)
	for _, label := range e.Labels() {
		signals, err := e.Signals(ctx, label, bars)
		if err != nil {
			return nil, err
		}
		out[label] = signals
	}
	return out, nil
}
