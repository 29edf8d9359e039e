package core

import "time"

// Bar represents one OHLCV sample for a symbol
type Bar struct {
	Symbol string    `json:"symbol"`
	Time   time.Time `json:"time"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume int64     `json:"volume"`
}

// IsValid checks if the bar has a symbol, a timestamp and a consistent price range
func (b Bar) IsValid() bool {
	if b.Symbol == "" || b.Time.IsZero() {
		return false
	}
	if b.Open <= 0 || b.Close <= 0 || b.Low <= 0 {
		return false
	}
	return b.High >= b.Low && b.High >= b.Open && b.High >= b.Close &&
		b.Low <= b.Open && b.Low <= b.Close
}

// Direction represents a directional decision
type Direction string

const (
	DirectionBuy  Direction = "BUY"
	DirectionSell Direction = "SELL"
	DirectionNone Direction = "NONE"
)

// SignalEvent is a timestamped directional decision for a symbol.
// Time names the bar at which the decision may be acted upon.
type SignalEvent struct {
	Symbol    string    `json:"symbol"`
	Time      time.Time `json:"time"`
	Direction Direction `json:"direction"`
	Strategy  string    `json:"strategy,omitempty"`
	Reason    string    `json:"reason,omitempty"`
}

// IsActionable returns true for BUY and SELL events
func (s SignalEvent) IsActionable() bool {
	return s.Direction == DirectionBuy || s.Direction == DirectionSell
}
