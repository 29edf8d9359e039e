package broker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestOrderSide_Sign(t *testing.T) {
	assert.Equal(t, int64(1), OrderSideBuy.Sign())
	assert.Equal(t, int64(-1), OrderSideSell.Sign())
	assert.Equal(t, OrderSideSell, OrderSideBuy.Opposite())
	assert.Equal(t, OrderSideBuy, OrderSideSell.Opposite())
}

func TestPosition_Direction(t *testing.T) {
	cost := 100.0
	tests := []struct {
		name  string
		pos   Position
		long  bool
		short bool
		flat  bool
	}{
		{"long", Position{Symbol: "AAPL", Quantity: 10, AverageCost: &cost}, true, false, false},
		{"short", Position{Symbol: "AAPL", Quantity: -10, AverageCost: &cost}, false, true, false},
		{"flat", Position{Symbol: "AAPL"}, false, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.long, tt.pos.IsLong())
			assert.Equal(t, tt.short, tt.pos.IsShort())
			assert.Equal(t, tt.flat, tt.pos.IsFlat())
		})
	}
}

func TestPosition_Cost(t *testing.T) {
	cost := 42.5
	assert.Equal(t, 42.5, Position{Quantity: 1, AverageCost: &cost}.Cost())
	assert.Equal(t, 0.0, Position{}.Cost())
}

func TestFill_Notional(t *testing.T) {
	f := Fill{Price: 12.5, Quantity: 8, Time: time.Now()}
	assert.Equal(t, 100.0, f.Notional())
}

func TestTrade_IsWin(t *testing.T) {
	assert.True(t, Trade{PnL: 0.01}.IsWin())
	assert.False(t, Trade{PnL: 0}.IsWin())
	assert.False(t, Trade{PnL: -5}.IsWin())
}
