package price_band

import (
	"fmt"

	"github.com/newthinker/quantsim/internal/core"
	"github.com/newthinker/quantsim/internal/indicator"
	"github.com/newthinker/quantsim/internal/strategy"
)

const Name = "indicator_vs_price"

// DirectionPolicy maps the sign of (indicator - close) to a direction
type DirectionPolicy string

const (
	// MeanReversion buys when the indicator sits above the close
	MeanReversion DirectionPolicy = "mean_reversion"
	// TrendFollowing buys when the close sits above the indicator
	TrendFollowing DirectionPolicy = "trend_following"
)

// IndicatorVsPrice compares a moving average with the close on every bar
type IndicatorVsPrice struct {
	indicator string
	period    int
	policy    DirectionPolicy
}

func New(ind string, period int, policy DirectionPolicy) *IndicatorVsPrice {
	return &IndicatorVsPrice{indicator: ind, period: period, policy: policy}
}

// Default compares SMA(5) with the close under mean reversion
func Default() *IndicatorVsPrice {
	return New("sma", 5, MeanReversion)
}

func (p *IndicatorVsPrice) Name() string { return Name }

func (p *IndicatorVsPrice) Description() string {
	return fmt.Sprintf("%s(%d) vs close, %s", p.indicator, p.period, p.policy)
}

func (p *IndicatorVsPrice) RequiredData() strategy.DataRequirements {
	history := p.period
	if p.indicator == "ema" {
		history = p.period * 4
	}
	return strategy.DataRequirements{PriceHistory: history, Indicators: []string{p.indicator}}
}

func (p *IndicatorVsPrice) Init(cfg strategy.Config) error {
	policy := string(p.policy)
	err := strategy.Bind(Name, cfg.Params,
		strategy.Param{Key: "indicator", Target: &p.indicator},
		strategy.Param{Key: "period", Target: &p.period},
		strategy.Param{Key: "direction_policy", Target: &policy},
	)
	if err != nil {
		return err
	}
	p.policy = DirectionPolicy(policy)

	if p.indicator != "sma" && p.indicator != "ema" {
		return core.Errorf(core.ErrConfigInvalid, "%s: indicator must be sma or ema, got %q", Name, p.indicator)
	}
	if p.policy != MeanReversion && p.policy != TrendFollowing {
		return core.Errorf(core.ErrConfigInvalid, "%s: unknown direction_policy %q", Name, p.policy)
	}
	return strategy.Positive(Name, "period", p.period)
}

func (p *IndicatorVsPrice) Analyze(ctx strategy.AnalysisContext) (strategy.Decision, error) {
	prices := ctx.Closes()

	var series []float64
	if p.indicator == "ema" {
		series = indicator.EMA(prices, p.period)
	} else {
		series = indicator.SMA(prices, p.period)
	}
	value, ok := indicator.Last(series)
	if !ok {
		return strategy.Hold, nil
	}
	price := prices[len(prices)-1]

	above := value > price
	if value == price {
		return strategy.Hold, nil
	}

	buy := above
	if p.policy == TrendFollowing {
		buy = !above
	}

	relation := "below"
	if above {
		relation = "above"
	}
	d := strategy.Decision{
		Direction:  core.DirectionSell,
		Confidence: 0.5,
		Reason:     fmt.Sprintf("%s(%d) %.2f %s close %.2f (%s)", p.indicator, p.period, value, relation, price, p.policy),
	}
	if buy {
		d.Direction = core.DirectionBuy
	}
	return d, nil
}
