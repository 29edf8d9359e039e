// Package broker simulates order execution, position accounting and risk control for backtests.
package broker

import (
	"time"
)

// OrderSide represents the direction of an order.
type OrderSide string

const (
	// OrderSideBuy represents a buy order.
	OrderSideBuy OrderSide = "BUY"
	// OrderSideSell represents a sell order.
	OrderSideSell OrderSide = "SELL"
)

// Sign returns +1 for buys and -1 for sells.
func (s OrderSide) Sign() int64 {
	if s == OrderSideBuy {
		return 1
	}
	return -1
}

// Opposite returns the side that reduces a position opened on s.
func (s OrderSide) Opposite() OrderSide {
	if s == OrderSideBuy {
		return OrderSideSell
	}
	return OrderSideBuy
}

// OrderOrigin records why an order was created.
type OrderOrigin string

const (
	// OriginSignal marks orders sized from a strategy signal.
	OriginSignal OrderOrigin = "signal"
	// OriginRisk marks liquidations forced by the risk governor.
	OriginRisk OrderOrigin = "risk"
)

// ExitReason describes what triggered a forced liquidation.
type ExitReason string

const (
	ExitStopLoss   ExitReason = "stop_loss"
	ExitTakeProfit ExitReason = "take_profit"
	ExitRiskHalt   ExitReason = "risk_halt"
)

// Order is a request to trade, created and consumed within one bar.
type Order struct {
	// ID is assigned by the simulator when the order is executed.
	ID string `json:"id"`
	// Symbol is the ticker symbol.
	Symbol string `json:"symbol"`
	// Side indicates buy or sell.
	Side OrderSide `json:"side"`
	// Quantity is the number of units requested.
	Quantity int64 `json:"quantity"`
	// ReferencePrice is the pre-slippage price the order executes against.
	ReferencePrice float64 `json:"reference_price"`
	// Time is the bar timestamp the order was created for.
	Time time.Time `json:"time"`
	// Origin is signal or risk-forced.
	Origin OrderOrigin `json:"origin"`
	// ExitReason is set on risk-forced orders.
	ExitReason ExitReason `json:"exit_reason,omitempty"`
}

// Fill is the immutable record of an executed order.
type Fill struct {
	OrderRef   string      `json:"order_ref"`
	Symbol     string      `json:"symbol"`
	Side       OrderSide   `json:"side"`
	Price      float64     `json:"price"`
	Quantity   int64       `json:"quantity"`
	Commission float64     `json:"commission"`
	Time       time.Time   `json:"time"`
	Origin     OrderOrigin `json:"origin"`
	ExitReason ExitReason  `json:"exit_reason,omitempty"`
}

// Notional returns price times quantity.
func (f Fill) Notional() float64 {
	return f.Price * float64(f.Quantity)
}

// Position is a read-only snapshot of a holding.
type Position struct {
	// Symbol is the ticker symbol.
	Symbol string `json:"symbol"`
	// Quantity is signed: positive long, negative short.
	Quantity int64 `json:"quantity"`
	// AverageCost is nil exactly when Quantity is zero.
	AverageCost *float64 `json:"average_cost"`
	// RealizedPL is the gross realized profit/loss over the run.
	RealizedPL float64 `json:"realized_pl"`
	// OpenedAt is when the current position was opened.
	OpenedAt time.Time `json:"opened_at,omitempty"`
}

// IsLong returns true if this is a long position.
func (p Position) IsLong() bool {
	return p.Quantity > 0
}

// IsShort returns true if this is a short position.
func (p Position) IsShort() bool {
	return p.Quantity < 0
}

// IsFlat returns true if nothing is held.
func (p Position) IsFlat() bool {
	return p.Quantity == 0
}

// Cost returns the average cost, or zero when flat.
func (p Position) Cost() float64 {
	if p.AverageCost == nil {
		return 0
	}
	return *p.AverageCost
}

// Trade is a completed round trip, produced when a position returns to zero or reverses.
type Trade struct {
	Symbol        string        `json:"symbol"`
	Side          OrderSide     `json:"side"` // side of the opening fill
	Quantity      int64         `json:"quantity"`
	EntryFill     Fill          `json:"entry_fill"`
	ExitFill      Fill          `json:"exit_fill"`
	EntryPrice    float64       `json:"entry_price"` // average cost at exit
	ExitPrice     float64       `json:"exit_price"`
	HoldingPeriod time.Duration `json:"holding_period"`
	PnL           float64       `json:"pnl"` // net of commissions
	Return        float64       `json:"return"`
	ExitReason    ExitReason    `json:"exit_reason,omitempty"`
}

// IsWin returns true if the trade was profitable
func (t Trade) IsWin() bool {
	return t.PnL > 0
}

// BreachScope is the granularity a risk limit applies to.
type BreachScope string

const (
	ScopePortfolio BreachScope = "portfolio"
	ScopeSymbol    BreachScope = "symbol"
)

// Breach records a risk limit state transition. It is not an error.
type Breach struct {
	Time   time.Time   `json:"time"`
	Scope  BreachScope `json:"scope"`
	Symbol string      `json:"symbol,omitempty"`
	Limit  string      `json:"limit"` // "daily_loss" or "max_drawdown"
	Value  float64     `json:"value"`
	Max    float64     `json:"max"`
}

// RiskState is the governor's mutable state, exposed as a snapshot.
type RiskState struct {
	DailyLoss      float64  `json:"daily_loss"`
	MaxEquitySeen  float64  `json:"max_equity_seen"`
	Halted         bool     `json:"halted"`
	HaltedSymbols  []string `json:"halted_symbols"`
	DayStartEquity float64  `json:"day_start_equity"`
}

// PortfolioView is the read-only portfolio state the governor sizes against.
type PortfolioView interface {
	Cash() float64
	Position(symbol string) Position
	OpenPositions() int
	Equity(marks map[string]float64) (float64, error)
}
