package broker

import (
	"fmt"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/newthinker/quantsim/internal/core"
)

// SizingMode selects the position-sizing rule.
type SizingMode string

const (
	// SizingFixedFraction commits a fixed fraction of current equity per trade.
	SizingFixedFraction SizingMode = "fixed_fraction"
	// SizingFixedQuantity trades a fixed number of units.
	SizingFixedQuantity SizingMode = "fixed_quantity"
	// SizingKelly commits a (scaled) Kelly fraction of current equity.
	SizingKelly SizingMode = "kelly"
)

// RiskConfig defines position sizing and protective limits.
// Percentages are fractions (0.05 means 5%). Zero disables a limit.
type RiskConfig struct {
	// Sizing is the position-sizing rule.
	Sizing SizingMode
	// SizingValue is the fraction, the unit count, or the Kelly multiplier.
	SizingValue float64
	// KellyWinRate and KellyPayoff parameterize the Kelly fraction.
	KellyWinRate float64
	KellyPayoff  float64
	// KellyCap bounds the Kelly fraction.
	KellyCap float64

	// StopLossPct closes a position whose price moves against average cost by this fraction.
	StopLossPct float64
	// TakeProfitPct closes a position whose price moves in favor by this fraction.
	TakeProfitPct float64

	// MaxDrawdownPct halts trading once equity falls this far below its peak.
	MaxDrawdownPct float64
	// DailyLossLimit halts trading once the day's net realized loss reaches this
	// fraction of start-of-day equity.
	DailyLossLimit float64
	// HaltScope selects whether breaches halt the whole portfolio or only the symbol.
	HaltScope BreachScope
	// ResetHaltDaily lifts halts at each new trading day.
	ResetHaltDaily bool
	// LiquidateOnHalt force-closes positions covered by a halt.
	LiquidateOnHalt bool

	// MaxPositionPct is the largest fraction of equity one symbol may hold.
	MaxPositionPct float64
	// MaxOpenPositions is the maximum number of concurrent positions.
	MaxOpenPositions int
	// AllowShort permits SELL signals to open short positions.
	AllowShort bool
}

// DefaultRiskConfig returns a RiskConfig with sensible default values.
func DefaultRiskConfig() RiskConfig {
	return RiskConfig{
		Sizing:         SizingFixedFraction,
		SizingValue:    0.1,
		KellyWinRate:   0.55,
		KellyPayoff:    2.0,
		KellyCap:       0.1,
		StopLossPct:    0.05,
		TakeProfitPct:  0.10,
		MaxDrawdownPct: 0.20,
		DailyLossLimit: 0.05,
		HaltScope:      ScopePortfolio,
		MaxPositionPct: 1.0,
	}
}

// Validate checks the sizing rule and limits.
func (c RiskConfig) Validate() error {
	switch c.Sizing {
	case SizingFixedFraction:
		if c.SizingValue <= 0 || c.SizingValue > 1 {
			return core.Errorf(core.ErrConfigInvalid, "fixed_fraction value must be in (0, 1], got %v", c.SizingValue)
		}
	case SizingFixedQuantity:
		if c.SizingValue < 1 || c.SizingValue != math.Trunc(c.SizingValue) {
			return core.Errorf(core.ErrConfigInvalid, "fixed_quantity value must be a positive whole number, got %v", c.SizingValue)
		}
	case SizingKelly:
		if c.SizingValue <= 0 || c.SizingValue > 1 {
			return core.Errorf(core.ErrConfigInvalid, "kelly multiplier must be in (0, 1], got %v", c.SizingValue)
		}
		if c.KellyWinRate <= 0 || c.KellyWinRate >= 1 {
			return core.Errorf(core.ErrConfigInvalid, "kelly win rate must be in (0, 1), got %v", c.KellyWinRate)
		}
		if c.KellyPayoff <= 0 {
			return core.Errorf(core.ErrConfigInvalid, "kelly payoff must be positive, got %v", c.KellyPayoff)
		}
		if c.KellyCap <= 0 || c.KellyCap > 1 {
			return core.Errorf(core.ErrConfigInvalid, "kelly cap must be in (0, 1], got %v", c.KellyCap)
		}
	default:
		return core.Errorf(core.ErrConfigInvalid, "unknown position sizing mode %q", c.Sizing)
	}

	fractions := []struct {
		name  string
		value float64
	}{
		{"stop_loss_pct", c.StopLossPct},
		{"take_profit_pct", c.TakeProfitPct},
		{"max_drawdown_pct", c.MaxDrawdownPct},
		{"daily_loss_limit", c.DailyLossLimit},
		{"max_position_pct", c.MaxPositionPct},
	}
	for _, f := range fractions {
		if f.value < 0 || f.value > 1 || math.IsNaN(f.value) {
			return core.Errorf(core.ErrConfigInvalid, "%s must be in [0, 1], got %v", f.name, f.value)
		}
	}
	if c.StopLossPct >= 1 {
		return core.Errorf(core.ErrConfigInvalid, "stop_loss_pct must be below 1, got %v", c.StopLossPct)
	}
	if c.MaxOpenPositions < 0 {
		return core.Errorf(core.ErrConfigInvalid, "max_open_positions cannot be negative, got %d", c.MaxOpenPositions)
	}
	switch c.HaltScope {
	case ScopePortfolio, ScopeSymbol:
	default:
		return core.Errorf(core.ErrConfigInvalid, "halt scope must be portfolio or symbol, got %q", c.HaltScope)
	}
	return nil
}

// KellyFraction returns the scaled, capped Kelly fraction f = W - (1-W)/R.
func (c RiskConfig) KellyFraction() float64 {
	f := c.KellyWinRate - (1-c.KellyWinRate)/c.KellyPayoff
	f = math.Max(0, math.Min(f, c.KellyCap))
	return f * c.SizingValue
}

// CostModel estimates how many units cash can buy after execution costs.
type CostModel interface {
	MaxAffordable(side OrderSide, reference, cash float64) int64
}

// SizeResult represents the outcome of sizing a signal.
type SizeResult struct {
	// Order is nil when the signal is vetoed.
	Order *Order
	// Reason explains a veto or a resize.
	Reason string
}

// Governor sizes orders, enforces protective exits and tracks risk limits.
// One Governor belongs to one run.
type Governor struct {
	config RiskConfig
	costs  CostModel
	logger *zap.Logger

	dailyPnL       float64
	dayStartEquity float64
	currentDay     time.Time
	maxEquitySeen  float64
	halted         bool
	haltedSymbols  map[string]bool
}

// NewGovernor creates a Governor. costs may be nil, in which case cash is
// checked against reference prices only.
func NewGovernor(config RiskConfig, initialCapital float64, costs CostModel, logger ...*zap.Logger) *Governor {
	l := zap.NewNop()
	if len(logger) > 0 && logger[0] != nil {
		l = logger[0]
	}
	return &Governor{
		config:         config,
		costs:          costs,
		logger:         l,
		dayStartEquity: initialCapital,
		maxEquitySeen:  initialCapital,
		haltedSymbols:  make(map[string]bool),
	}
}

// SizeOrder turns a directional signal into an order, or vetoes it.
func (g *Governor) SizeOrder(sig core.SignalEvent, refPrice float64, portfolio PortfolioView, marks map[string]float64) SizeResult {
	if !sig.IsActionable() {
		return SizeResult{Reason: "no direction"}
	}
	if refPrice <= 0 {
		return SizeResult{Reason: "no reference price"}
	}

	pos := portfolio.Position(sig.Symbol)
	side := OrderSideBuy
	if sig.Direction == core.DirectionSell {
		side = OrderSideSell
	}

	order := &Order{
		Symbol:         sig.Symbol,
		Side:           side,
		ReferencePrice: refPrice,
		Time:           sig.Time,
		Origin:         OriginSignal,
	}

	// Signals against the current position close it. Halts never block exits.
	if (pos.IsLong() && side == OrderSideSell) || (pos.IsShort() && side == OrderSideBuy) {
		order.Quantity = abs64(pos.Quantity)
		return SizeResult{Order: order}
	}

	if side == OrderSideSell && pos.IsFlat() && !g.config.AllowShort {
		return SizeResult{Reason: "nothing to sell and shorting disabled"}
	}
	if g.halted {
		return SizeResult{Reason: "portfolio halted"}
	}
	if g.haltedSymbols[sig.Symbol] {
		return SizeResult{Reason: "symbol halted"}
	}
	if pos.IsFlat() && g.config.MaxOpenPositions > 0 && portfolio.OpenPositions() >= g.config.MaxOpenPositions {
		return SizeResult{Reason: fmt.Sprintf("max open positions reached: %d", g.config.MaxOpenPositions)}
	}

	equity, err := portfolio.Equity(marks)
	if err != nil || equity <= 0 {
		return SizeResult{Reason: "no equity to size against"}
	}

	var qty int64
	switch g.config.Sizing {
	case SizingFixedQuantity:
		qty = int64(g.config.SizingValue)
	case SizingKelly:
		qty = int64(math.Floor(equity * g.config.KellyFraction() / refPrice))
	default:
		qty = int64(math.Floor(equity*g.config.SizingValue/refPrice + 1e-9))
	}
	if qty <= 0 {
		return SizeResult{Reason: "quantity rounds to zero"}
	}

	if g.config.MaxPositionPct > 0 {
		exposure := float64(abs64(pos.Quantity)+qty) * refPrice / equity
		if exposure > g.config.MaxPositionPct+1e-9 {
			return SizeResult{Reason: fmt.Sprintf("position would be %.2f%% of equity, limit %.2f%%",
				exposure*100, g.config.MaxPositionPct*100)}
		}
	}

	reason := ""
	if side == OrderSideBuy {
		affordable := g.affordable(refPrice, portfolio.Cash())
		if affordable <= 0 {
			return SizeResult{Reason: "insufficient cash"}
		}
		if qty > affordable {
			reason = fmt.Sprintf("resized from %d to %d for available cash", qty, affordable)
			qty = affordable
		}
	}

	order.Quantity = qty
	return SizeResult{Order: order, Reason: reason}
}

func (g *Governor) affordable(refPrice, cash float64) int64 {
	if g.costs != nil {
		return g.costs.MaxAffordable(OrderSideBuy, refPrice, cash)
	}
	if cash <= 0 {
		return 0
	}
	return int64(math.Floor(cash/refPrice + 1e-9))
}

// CheckProtectiveExits returns a forced liquidation for the full position when
// the bar crosses the stop-loss or take-profit threshold. When both are crossed
// in the same bar the stop-loss wins.
func (g *Governor) CheckProtectiveExits(bar core.Bar, pos Position) *Order {
	if pos.IsFlat() || pos.AverageCost == nil {
		return nil
	}
	cost := *pos.AverageCost

	exit := func(price float64, reason ExitReason) *Order {
		side := OrderSideSell
		if pos.IsShort() {
			side = OrderSideBuy
		}
		return &Order{
			Symbol:         pos.Symbol,
			Side:           side,
			Quantity:       abs64(pos.Quantity),
			ReferencePrice: price,
			Time:           bar.Time,
			Origin:         OriginRisk,
			ExitReason:     reason,
		}
	}

	if g.config.LiquidateOnHalt && g.isHalted(pos.Symbol) {
		return exit(bar.Open, ExitRiskHalt)
	}

	if pos.IsLong() {
		if g.config.StopLossPct > 0 && bar.Low <= cost*(1-g.config.StopLossPct) {
			return exit(bar.Low, ExitStopLoss)
		}
		if g.config.TakeProfitPct > 0 {
			target := cost * (1 + g.config.TakeProfitPct)
			if bar.High >= target {
				return exit(math.Max(bar.Open, target), ExitTakeProfit)
			}
		}
		return nil
	}

	if g.config.StopLossPct > 0 && bar.High >= cost*(1+g.config.StopLossPct) {
		return exit(bar.High, ExitStopLoss)
	}
	if g.config.TakeProfitPct > 0 {
		target := cost * (1 - g.config.TakeProfitPct)
		if bar.Low <= target {
			return exit(math.Min(bar.Open, target), ExitTakeProfit)
		}
	}
	return nil
}

// StartDay marks a trading day boundary.
func (g *Governor) StartDay(ts time.Time, equity float64) {
	g.currentDay = ts
	g.dailyPnL = 0
	g.dayStartEquity = equity

	if g.config.ResetHaltDaily && (g.halted || len(g.haltedSymbols) > 0) {
		g.logger.Info("risk halts reset at day boundary", zap.Time("day", ts))
		g.halted = false
		g.haltedSymbols = make(map[string]bool)
	}
}

// PostTradeUpdate books a completed trade against the daily loss limit and
// checks the drawdown limit at the given equity.
func (g *Governor) PostTradeUpdate(trade Trade, equity float64) []Breach {
	g.dailyPnL += trade.PnL
	g.observe(equity)

	var breaches []Breach
	if g.config.DailyLossLimit > 0 && g.dayStartEquity > 0 {
		lossPct := g.dailyLoss() / g.dayStartEquity
		if lossPct >= g.config.DailyLossLimit {
			if b, ok := g.halt(trade.ExitFill.Time, trade.Symbol, "daily_loss", lossPct, g.config.DailyLossLimit); ok {
				breaches = append(breaches, b)
			}
		}
	}
	if b, ok := g.checkDrawdown(trade.ExitFill.Time, trade.Symbol, equity); ok {
		breaches = append(breaches, b)
	}
	return breaches
}

// ObserveEquity updates the equity peak from a checkpoint. In portfolio scope
// a drawdown past the limit halts trading.
func (g *Governor) ObserveEquity(ts time.Time, equity float64) []Breach {
	g.observe(equity)
	if g.config.HaltScope != ScopePortfolio {
		return nil
	}
	if b, ok := g.checkDrawdown(ts, "", equity); ok {
		return []Breach{b}
	}
	return nil
}

func (g *Governor) observe(equity float64) {
	if equity > g.maxEquitySeen {
		g.maxEquitySeen = equity
	}
}

func (g *Governor) checkDrawdown(ts time.Time, symbol string, equity float64) (Breach, bool) {
	if g.config.MaxDrawdownPct <= 0 || g.maxEquitySeen <= 0 {
		return Breach{}, false
	}
	dd := (g.maxEquitySeen - equity) / g.maxEquitySeen
	if dd < g.config.MaxDrawdownPct {
		return Breach{}, false
	}
	return g.halt(ts, symbol, "max_drawdown", dd, g.config.MaxDrawdownPct)
}

// halt records a breach unless the affected scope is already halted.
func (g *Governor) halt(ts time.Time, symbol, limit string, value, max float64) (Breach, bool) {
	b := Breach{Time: ts, Scope: g.config.HaltScope, Limit: limit, Value: value, Max: max}

	if g.config.HaltScope == ScopeSymbol && symbol != "" {
		if g.haltedSymbols[symbol] {
			return Breach{}, false
		}
		g.haltedSymbols[symbol] = true
		b.Symbol = symbol
	} else {
		if g.halted {
			return Breach{}, false
		}
		g.halted = true
		b.Scope = ScopePortfolio
	}

	g.logger.Warn("risk limit breached",
		zap.String("limit", limit),
		zap.String("scope", string(b.Scope)),
		zap.String("symbol", b.Symbol),
		zap.Float64("value", value),
		zap.Float64("max", max),
	)
	return b, true
}

func (g *Governor) dailyLoss() float64 {
	return math.Max(0, -g.dailyPnL)
}

// isHalted reports whether new entries for the symbol are blocked.
func (g *Governor) isHalted(symbol string) bool {
	return g.halted || g.haltedSymbols[symbol]
}

// State returns a snapshot of the risk state.
func (g *Governor) State() RiskState {
	symbols := make([]string, 0, len(g.haltedSymbols))
	for sym := range g.haltedSymbols {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	return RiskState{
		DailyLoss:      g.dailyLoss(),
		MaxEquitySeen:  g.maxEquitySeen,
		Halted:         g.halted,
		HaltedSymbols:  symbols,
		DayStartEquity: g.dayStartEquity,
	}
}
