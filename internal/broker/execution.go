package broker

import (
	"fmt"
	"math"

	"github.com/newthinker/quantsim/internal/core"
)

// CommissionMode selects how commission is charged.
type CommissionMode string

const (
	// CommissionRate charges a fraction of notional.
	CommissionRate CommissionMode = "rate"
	// CommissionFixed charges a flat fee per fill.
	CommissionFixed CommissionMode = "fixed"
)

// SlippageMode selects how execution price deviates from the reference price.
type SlippageMode string

const (
	// SlippageBps moves the price by basis points of the reference price.
	SlippageBps SlippageMode = "bps"
	// SlippageFixed moves the price by an absolute amount.
	SlippageFixed SlippageMode = "fixed"
)

// ExecutionConfig holds the fill cost models.
type ExecutionConfig struct {
	CommissionMode  CommissionMode
	CommissionValue float64
	SlippageMode    SlippageMode
	SlippageValue   float64
}

// DefaultExecutionConfig returns a sensible default configuration.
func DefaultExecutionConfig() ExecutionConfig {
	return ExecutionConfig{
		CommissionMode:  CommissionRate,
		CommissionValue: 0.001,
		SlippageMode:    SlippageBps,
		SlippageValue:   5,
	}
}

// Validate checks the cost models.
func (c ExecutionConfig) Validate() error {
	switch c.CommissionMode {
	case CommissionRate, CommissionFixed:
	default:
		return core.Errorf(core.ErrConfigInvalid, "commission mode must be rate or fixed, got %q", c.CommissionMode)
	}
	if c.CommissionValue < 0 || math.IsNaN(c.CommissionValue) {
		return core.Errorf(core.ErrConfigInvalid, "commission value cannot be negative, got %v", c.CommissionValue)
	}
	if c.CommissionMode == CommissionRate && c.CommissionValue >= 1 {
		return core.Errorf(core.ErrConfigInvalid, "commission rate must be below 1, got %v", c.CommissionValue)
	}

	switch c.SlippageMode {
	case SlippageBps, SlippageFixed:
	default:
		return core.Errorf(core.ErrConfigInvalid, "slippage mode must be bps or fixed, got %q", c.SlippageMode)
	}
	if c.SlippageValue < 0 || math.IsNaN(c.SlippageValue) {
		return core.Errorf(core.ErrConfigInvalid, "slippage value cannot be negative, got %v", c.SlippageValue)
	}
	if c.SlippageMode == SlippageBps && c.SlippageValue >= 10000 {
		return core.Errorf(core.ErrConfigInvalid, "slippage must be below 10000 bps, got %v", c.SlippageValue)
	}
	return nil
}

// Simulator converts orders into fills using the configured cost models.
// Order IDs are sequential so that repeated runs produce identical fills.
type Simulator struct {
	config     ExecutionConfig
	orderIDSeq int
}

// NewSimulator creates a new Simulator.
func NewSimulator(config ExecutionConfig) *Simulator {
	return &Simulator{config: config}
}

// Execute fills the order in full against the bar, or fails.
// A bar with zero volume yields ErrInsufficientLiquidity and no fill.
func (s *Simulator) Execute(order *Order, bar core.Bar) (Fill, error) {
	if order == nil {
		return Fill{}, core.Errorf(core.ErrInvalidOrder, "order cannot be nil")
	}
	if order.Quantity <= 0 {
		return Fill{}, core.Errorf(core.ErrInvalidOrder, "quantity must be positive, got %d", order.Quantity)
	}
	if order.ReferencePrice <= 0 {
		return Fill{}, core.Errorf(core.ErrInvalidOrder, "reference price must be positive, got %v", order.ReferencePrice)
	}
	if order.Symbol != bar.Symbol {
		return Fill{}, core.Errorf(core.ErrInvalidOrder, "order for %s executed against %s bar", order.Symbol, bar.Symbol)
	}
	if bar.Volume == 0 {
		return Fill{}, core.Errorf(core.ErrInsufficientLiquidity, "%s has no volume at %s", bar.Symbol, bar.Time)
	}

	if order.ID == "" {
		s.orderIDSeq++
		order.ID = fmt.Sprintf("ord-%d", s.orderIDSeq)
	}

	price := s.FillPrice(order.Side, order.ReferencePrice)
	return Fill{
		OrderRef:   order.ID,
		Symbol:     order.Symbol,
		Side:       order.Side,
		Price:      price,
		Quantity:   order.Quantity,
		Commission: s.Commission(price, order.Quantity),
		Time:       bar.Time,
		Origin:     order.Origin,
		ExitReason: order.ExitReason,
	}, nil
}

// FillPrice applies directionally adverse slippage: buys slip up, sells slip down.
func (s *Simulator) FillPrice(side OrderSide, reference float64) float64 {
	var slip float64
	switch s.config.SlippageMode {
	case SlippageBps:
		slip = reference * s.config.SlippageValue / 10000
	case SlippageFixed:
		slip = s.config.SlippageValue
	}

	if side == OrderSideBuy {
		return reference + slip
	}
	// Never fill a sell at a non-positive price.
	return math.Max(reference-slip, math.SmallestNonzeroFloat64)
}

// Commission returns the fee charged for a fill.
func (s *Simulator) Commission(price float64, quantity int64) float64 {
	switch s.config.CommissionMode {
	case CommissionFixed:
		return s.config.CommissionValue
	case CommissionRate:
		return price * float64(quantity) * s.config.CommissionValue
	}
	return 0
}

// MaxAffordable returns the largest quantity whose total cost, including
// slippage and commission, fits into cash.
func (s *Simulator) MaxAffordable(side OrderSide, reference, cash float64) int64 {
	price := s.FillPrice(side, reference)
	if price <= 0 || cash <= 0 {
		return 0
	}

	var qty float64
	switch s.config.CommissionMode {
	case CommissionFixed:
		qty = (cash - s.config.CommissionValue) / price
	default:
		qty = cash / (price * (1 + s.config.CommissionValue))
	}
	if qty <= 0 {
		return 0
	}
	return int64(math.Floor(qty + 1e-9))
}
