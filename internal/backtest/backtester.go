// Package backtest drives the causal simulation loop and aggregates run statistics.
package backtest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/newthinker/quantsim/internal/broker"
	"github.com/newthinker/quantsim/internal/core"
	"github.com/newthinker/quantsim/internal/signal"
)

// Recorder receives operational counters from committed bars and finished runs.
// Implementations must be safe for concurrent use when runs execute in parallel.
type Recorder interface {
	RunFinished(state RunState, duration time.Duration)
	BarsProcessed(n int)
	FillRecorded(origin broker.OrderOrigin)
	OrderDropped(reason string)
	BreachRecorded(scope broker.BreachScope)
}

type nopRecorder struct{}

func (nopRecorder) RunFinished(RunState, time.Duration) {}
func (nopRecorder) BarsProcessed(int) {}
func (nopRecorder) FillRecorded(broker.OrderOrigin) {}
func (nopRecorder) OrderDropped(string) {}
func (nopRecorder) BreachRecorded(broker.BreachScope) {}

// Orchestrator runs backtests. It holds no per-run state and may run many
// backtests concurrently.
type Orchestrator struct {
	logger   *zap.Logger
	recorder Recorder
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithRecorder sets the operational metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) {
		if r != nil {
			o.recorder = r
		}
	}
}

// New creates an Orchestrator.
func New(opts ...Option) *Orchestrator {
	o := &Orchestrator{
		logger:   zap.NewNop(),
		recorder: nopRecorder{},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// step is every bar sharing one timestamp, ordered by symbol.
type step struct {
	time time.Time
	bars []core.Bar
}

func (s step) bar(symbol string) (core.Bar, bool) {
	for _, b := range s.bars {
		if b.Symbol == symbol {
			return b, true
		}
	}
	return core.Bar{}, false
}

// mergeBars validates each stream and merges them into time steps.
func mergeBars(streams map[string][]core.Bar) ([]step, []string, error) {
	if len(streams) == 0 {
		return nil, nil, core.Errorf(core.ErrNoData, "no bar streams")
	}

	symbols := make([]string, 0, len(streams))
	for sym := range streams {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	byTime := make(map[int64][]core.Bar)
	for _, sym := range symbols {
		bars := streams[sym]
		if len(bars) == 0 {
			return nil, nil, core.Errorf(core.ErrNoData, "no bars for %s", sym)
		}
		for i, b := range bars {
			if b.Symbol == "" {
				b.Symbol = sym
			}
			if b.Symbol != sym {
				return nil, nil, core.Errorf(core.ErrInvalidBar, "bar %d of %s stream is for %s", i, sym, b.Symbol)
			}
			if !b.IsValid() {
				return nil, nil, core.Errorf(core.ErrInvalidBar, "%s bar at %s has an inconsistent price range",
					sym, b.Time.Format(time.RFC3339))
			}
			if i > 0 && !b.Time.After(bars[i-1].Time) {
				return nil, nil, core.Errorf(core.ErrOutOfOrderBar, "%s bar at %s does not follow %s",
					sym, b.Time.Format(time.RFC3339), bars[i-1].Time.Format(time.RFC3339))
			}
			key := b.Time.UnixNano()
			byTime[key] = append(byTime[key], b)
		}
	}

	keys := make([]int64, 0, len(byTime))
	for k := range byTime {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	steps := make([]step, 0, len(keys))
	for _, k := range keys {
		bars := byTime[k]
		steps = append(steps, step{time: bars[0].Time, bars: bars})
	}
	return steps, symbols, nil
}

// run is the mutable state of one backtest.
type run struct {
	strategy string
	settings Settings
	logger   *zap.Logger
	recorder Recorder

	state    RunState
	feed     *signal.Feed
	sim      *broker.Simulator
	ledger   *broker.Ledger
	governor *broker.Governor

	marks      map[string]float64
	day        [3]int
	breaches   []broker.Breach
	dropped    []DroppedOrder
	bars       int
	exposedBar int
}

// outcome collects what one step produced, reported only once the step commits.
type outcome struct {
	fills    []broker.OrderOrigin
	dropped  []DroppedOrder
	breaches []broker.Breach
}

func (o *outcome) drop(ts time.Time, symbol string, dir core.Direction, reason, detail string) {
	o.dropped = append(o.dropped, DroppedOrder{Time: ts, Symbol: symbol, Direction: dir, Reason: reason, Detail: detail})
}

// Run replays bars and signals through the risk governor, execution simulator
// and position ledger. Configuration and input errors are returned before the
// run starts. Once running, any failure returns a *FailedRun holding the state
// committed up to the last completed bar.
func (o *Orchestrator) Run(ctx context.Context, in Input, settings Settings) (*Result, error) {
	started := time.Now()

	if err := settings.Validate(); err != nil {
		return nil, err
	}
	steps, symbols, err := mergeBars(in.Bars)
	if err != nil {
		return nil, err
	}
	events, err := signal.Merge(in.Signals)
	if err != nil {
		return nil, err
	}
	feed, err := signal.NewFeed(events)
	if err != nil {
		return nil, err
	}

	logger := o.logger.With(zap.String("strategy", in.Strategy))
	sim := broker.NewSimulator(settings.Execution)
	r := &run{
		strategy: in.Strategy,
		settings: settings,
		logger:   logger,
		recorder: o.recorder,
		state:    StateInitialized,
		feed:     feed,
		sim:      sim,
		ledger:   broker.NewLedger(settings.InitialCapital, settings.Risk.AllowShort),
		governor: broker.NewGovernor(settings.Risk, settings.InitialCapital, sim, logger),
		marks:    make(map[string]float64, len(symbols)),
	}

	logger.Info("backtest started",
		zap.Strings("symbols", symbols),
		zap.Int("steps", len(steps)),
		zap.Int("signals", feed.Len()),
		zap.Float64("initial_capital", settings.InitialCapital),
	)
	r.state = StateRunning

	for _, st := range steps {
		if err := ctx.Err(); err != nil {
			return nil, r.fail(st.time, core.WrapError(core.ErrRunCancelled, err), started)
		}
		if err := r.step(st); err != nil {
			return nil, r.fail(st.time, err, started)
		}
	}

	r.state = StateCompleted
	result := r.result(symbols, steps)
	o.recorder.RunFinished(r.state, time.Since(started))

	logger.Info("backtest completed",
		zap.Float64("final_equity", result.FinalEquity),
		zap.Int("trades", len(result.Trades)),
		zap.Int("breaches", len(result.Breaches)),
		zap.Int("signals_after_last_bar", feed.Remaining()),
		zap.Duration("elapsed", time.Since(started)),
	)
	return result, nil
}

func (r *run) fail(at time.Time, err error, started time.Time) error {
	r.state = StateFailed
	r.recorder.RunFinished(r.state, time.Since(started))

	var ce *core.Error
	if !errors.As(err, &ce) {
		err = core.WrapError(core.ErrRunFailed, err)
	}
	if errors.Is(err, core.ErrRunCancelled) {
		r.logger.Warn("backtest cancelled", zap.Time("at", at))
	} else {
		r.logger.Error("backtest failed", zap.Time("at", at), zap.Error(err))
	}

	return &FailedRun{
		Strategy:    r.strategy,
		State:       r.state,
		At:          at,
		Err:         err,
		EquityCurve: r.ledger.EquityCurve(),
		Trades:      r.ledger.Trades(),
		Breaches:    append([]broker.Breach(nil), r.breaches...),
		Risk:        r.governor.State(),
	}
}

func (r *run) referencePrice(b core.Bar) float64 {
	if r.settings.FillPrice == FillAtClose {
		return b.Close
	}
	return b.Open
}

// step processes one timestamp on a working copy of the ledger and commits it
// only if every fill and the equity checkpoint succeed.
func (r *run) step(st step) error {
	y, m, d := st.time.UTC().Date()
	if day := [3]int{y, int(m), d}; day != r.day {
		r.day = day
		r.governor.StartDay(st.time, r.lastEquity())
	}

	work := r.ledger.Clone()
	var out outcome

	// Reference marks: this step's execution prices, last closes elsewhere.
	refMarks := make(map[string]float64, len(r.marks)+len(st.bars))
	for sym, p := range r.marks {
		refMarks[sym] = p
	}
	for _, b := range st.bars {
		refMarks[b.Symbol] = r.referencePrice(b)
	}

	forced := make(map[string]bool)
	for _, b := range st.bars {
		order := r.governor.CheckProtectiveExits(b, work.Position(b.Symbol))
		if order == nil {
			continue
		}
		forced[b.Symbol] = true
		r.logger.Info("forced exit",
			zap.String("symbol", b.Symbol),
			zap.String("reason", string(order.ExitReason)),
			zap.Float64("price", order.ReferencePrice),
			zap.Time("time", st.time),
		)
		if err := r.execute(work, order, b, refMarks, &out); err != nil {
			return err
		}
	}

	for _, sig := range r.feed.NextDue(st.time) {
		b, ok := st.bar(sig.Symbol)
		if !ok || !b.Time.Equal(sig.Time) {
			r.logger.Debug("signal without bar dropped",
				zap.String("symbol", sig.Symbol), zap.Time("signal_time", sig.Time))
			out.drop(sig.Time, sig.Symbol, sig.Direction, DropNoBar, "")
			continue
		}
		if !sig.IsActionable() {
			continue
		}
		if forced[sig.Symbol] {
			out.drop(sig.Time, sig.Symbol, sig.Direction, DropForcedExit, "")
			continue
		}

		sized := r.governor.SizeOrder(sig, r.referencePrice(b), work, refMarks)
		if sized.Order == nil {
			r.logger.Debug("signal vetoed",
				zap.String("symbol", sig.Symbol), zap.String("reason", sized.Reason))
			out.drop(sig.Time, sig.Symbol, sig.Direction, DropRiskVeto, sized.Reason)
			continue
		}
		if sized.Reason != "" {
			r.logger.Debug("order resized", zap.String("symbol", sig.Symbol), zap.String("reason", sized.Reason))
		}
		if err := r.execute(work, sized.Order, b, refMarks, &out); err != nil {
			return err
		}
	}

	closes := make(map[string]float64, len(r.marks)+len(st.bars))
	for sym, p := range r.marks {
		closes[sym] = p
	}
	for _, b := range st.bars {
		closes[b.Symbol] = b.Close
	}
	equity, err := work.Checkpoint(st.time, closes)
	if err != nil {
		return err
	}
	out.breaches = append(out.breaches, r.governor.ObserveEquity(st.time, equity)...)

	r.commit(work, closes, st, out)
	return nil
}

func (r *run) execute(work *broker.Ledger, order *broker.Order, b core.Bar, marks map[string]float64, out *outcome) error {
	fill, err := r.sim.Execute(order, b)
	if errors.Is(err, core.ErrInsufficientLiquidity) {
		r.logger.Debug("order dropped for insufficient liquidity",
			zap.String("symbol", order.Symbol), zap.Time("time", b.Time))
		out.drop(b.Time, order.Symbol, directionOf(order.Side), DropLiquidity, err.Error())
		return nil
	}
	if err != nil {
		return err
	}

	trade, err := work.Apply(fill)
	if err != nil {
		return err
	}
	out.fills = append(out.fills, fill.Origin)

	if trade == nil {
		return nil
	}
	equity, err := work.Equity(marks)
	if err != nil {
		return err
	}
	out.breaches = append(out.breaches, r.governor.PostTradeUpdate(*trade, equity)...)
	return nil
}

func (r *run) commit(work *broker.Ledger, closes map[string]float64, st step, out outcome) {
	r.ledger = work
	r.marks = closes
	r.bars += len(st.bars)
	if work.OpenPositions() > 0 {
		r.exposedBar++
	}
	r.breaches = append(r.breaches, out.breaches...)
	r.dropped = append(r.dropped, out.dropped...)

	r.recorder.BarsProcessed(len(st.bars))
	for _, origin := range out.fills {
		r.recorder.FillRecorded(origin)
	}
	for _, d := range out.dropped {
		r.recorder.OrderDropped(d.Reason)
	}
	for _, b := range out.breaches {
		r.recorder.BreachRecorded(b.Scope)
	}
}

func (r *run) lastEquity() float64 {
	curve := r.ledger.EquityCurve()
	if len(curve) == 0 {
		return r.settings.InitialCapital
	}
	return curve[len(curve)-1].Equity
}

func (r *run) result(symbols []string, steps []step) *Result {
	curve := r.ledger.EquityCurve()
	trades := r.ledger.Trades()

	res := &Result{
		Strategy:       r.strategy,
		Symbols:        symbols,
		StartDate:      steps[0].time,
		EndDate:        steps[len(steps)-1].time,
		State:          r.state,
		InitialCapital: r.settings.InitialCapital,
		FinalEquity:    curve[len(curve)-1].Equity,
		FinalCash:      r.ledger.Cash(),
		BarsProcessed:  r.bars,
		Exposure:       float64(r.exposedBar) / float64(len(steps)),
		Trades:         trades,
		EquityCurve:    curve,
		Positions:      r.ledger.Positions(),
		Breaches:       r.breaches,
		Risk:           r.governor.State(),
		Dropped:        r.dropped,
	}

	stats, err := Aggregate(curve, trades, r.settings.Metrics)
	if err != nil {
		// Metrics are undefined but the run itself completed.
		r.logger.Warn("metrics unavailable", zap.Error(err))
		res.MetricsError = err.Error()
		return res
	}
	res.Stats = stats
	return res
}

func directionOf(side broker.OrderSide) core.Direction {
	if side == broker.OrderSideBuy {
		return core.DirectionBuy
	}
	return core.DirectionSell
}

// String summarizes the result on one line.
func (r *Result) String() string {
	if r.Stats == nil {
		return fmt.Sprintf("%s: final equity %.2f, metrics unavailable", r.Strategy, r.FinalEquity)
	}
	return fmt.Sprintf("%s: final equity %.2f, return %.2f%%, max drawdown %.2f%%, sharpe %.2f, %d trades",
		r.Strategy, r.FinalEquity, r.TotalReturn*100, r.MaxDrawdown*100, r.SharpeRatio, r.TotalTrades)
}
