package strategy

import (
	"time"

	"github.com/newthinker/quantsim/internal/core"
)

// Config holds strategy configuration
type Config struct {
	Params map[string]any
}

// DataRequirements specifies what data a strategy needs
type DataRequirements struct {
	PriceHistory int // Bars of trailing history handed to Analyze
	Indicators   []string
}

// AnalysisContext provides data to strategies. Bars ends at the bar being
// decided on and never contains anything later.
type AnalysisContext struct {
	Symbol string
	Bars   []core.Bar
	Now    time.Time
}

// Closes extracts the closing prices of the window
func (c AnalysisContext) Closes() []float64 {
	out := make([]float64, len(c.Bars))
	for i, b := range c.Bars {
		out[i] = b.Close
	}
	return out
}

// Decision is the outcome of analysing one window
type Decision struct {
	Direction  core.Direction
	Confidence float64
	Reason     string
}

// Hold is the empty decision
var Hold = Decision{Direction: core.DirectionNone}

// Strategy defines the interface for trading strategies
type Strategy interface {
	Name() string
	Description() string
	RequiredData() DataRequirements
	Init(cfg Config) error
	Analyze(ctx AnalysisContext) (Decision, error)
}
