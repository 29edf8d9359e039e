package broker

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/newthinker/quantsim/internal/core"
)

// EquityPoint is one checkpoint of the equity curve.
type EquityPoint struct {
	Time   time.Time `json:"time"`
	Equity float64   `json:"equity"`
	Cash   float64   `json:"cash"`
}

// holding is the ledger's mutable per-symbol state.
type holding struct {
	quantity   int64
	avgCost    float64
	realizedPL float64

	// round-trip bookkeeping for the current position
	entry          Fill
	openCommission float64
	tripRealized   float64
	tripQuantity   int64
	tripNotional   float64 // price * quantity summed over opening fills
}

// Ledger owns cash and per-symbol inventory for a single run.
// It applies fills, emits trades and records the equity curve.
// It is not safe for concurrent use.
type Ledger struct {
	cash       decimal.Decimal
	allowShort bool
	holdings   map[string]*holding
	curve      []EquityPoint
	trades     []Trade
}

// NewLedger creates a ledger holding initialCapital in cash.
func NewLedger(initialCapital float64, allowShort bool) *Ledger {
	return &Ledger{
		cash:       decimal.NewFromFloat(initialCapital),
		allowShort: allowShort,
		holdings:   make(map[string]*holding),
	}
}

// Clone returns a working copy. The equity curve and trade log are append-only
// and shared; only one of the two ledgers may be used afterwards.
func (l *Ledger) Clone() *Ledger {
	holdings := make(map[string]*holding, len(l.holdings))
	for sym, h := range l.holdings {
		hCopy := *h
		holdings[sym] = &hCopy
	}
	return &Ledger{
		cash:       l.cash,
		allowShort: l.allowShort,
		holdings:   holdings,
		curve:      l.curve,
		trades:     l.trades,
	}
}

// Cash returns the cash balance.
func (l *Ledger) Cash() float64 {
	return l.cash.InexactFloat64()
}

// Position returns a snapshot of the position for a symbol.
// Unknown symbols return a flat position.
func (l *Ledger) Position(symbol string) Position {
	h, ok := l.holdings[symbol]
	if !ok {
		return Position{Symbol: symbol}
	}
	pos := Position{
		Symbol:     symbol,
		Quantity:   h.quantity,
		RealizedPL: h.realizedPL,
	}
	if h.quantity != 0 {
		cost := h.avgCost
		pos.AverageCost = &cost
		pos.OpenedAt = h.entry.Time
	}
	return pos
}

// Positions returns snapshots of all non-zero positions ordered by symbol.
func (l *Ledger) Positions() []Position {
	symbols := make([]string, 0, len(l.holdings))
	for sym, h := range l.holdings {
		if h.quantity != 0 {
			symbols = append(symbols, sym)
		}
	}
	sort.Strings(symbols)

	positions := make([]Position, 0, len(symbols))
	for _, sym := range symbols {
		positions = append(positions, l.Position(sym))
	}
	return positions
}

// OpenPositions returns the number of non-zero positions.
func (l *Ledger) OpenPositions() int {
	n := 0
	for _, h := range l.holdings {
		if h.quantity != 0 {
			n++
		}
	}
	return n
}

// Apply books a fill against cash and inventory. It returns the trade
// closed by this fill, if the position returned to zero or reversed.
func (l *Ledger) Apply(fill Fill) (*Trade, error) {
	if err := l.validate(fill); err != nil {
		return nil, err
	}

	sign := fill.Side.Sign()
	price := decimal.NewFromFloat(fill.Price)
	qty := decimal.NewFromInt(fill.Quantity)

	// cash -= side_sign * price * quantity + commission
	l.cash = l.cash.
		Sub(price.Mul(qty).Mul(decimal.NewFromInt(sign))).
		Sub(decimal.NewFromFloat(fill.Commission))

	h, ok := l.holdings[fill.Symbol]
	if !ok {
		h = &holding{}
		l.holdings[fill.Symbol] = h
	}

	delta := sign * fill.Quantity
	switch {
	case h.quantity == 0:
		l.open(h, fill, delta, fill.Commission)
		return nil, nil

	case (h.quantity > 0) == (delta > 0):
		// Same direction: blend average cost by quantity.
		oldQty := math.Abs(float64(h.quantity))
		addQty := float64(fill.Quantity)
		h.avgCost = (oldQty*h.avgCost + addQty*fill.Price) / (oldQty + addQty)
		h.quantity += delta
		h.tripQuantity += fill.Quantity
		h.tripNotional += addQty * fill.Price
		h.openCommission += fill.Commission
		return nil, nil
	}

	// Opposite direction: realize P&L on the closed part.
	held := h.quantity
	closeQty := min(fill.Quantity, abs64(held))
	realized := float64(closeQty) * (fill.Price - h.avgCost) * float64(sign64(held))
	h.realizedPL += realized
	h.tripRealized += realized

	closeCommission := fill.Commission * float64(closeQty) / float64(fill.Quantity)
	h.quantity += delta

	if h.quantity != 0 && (h.quantity > 0) == (held > 0) {
		// Partial reduction; the round trip continues.
		h.openCommission += closeCommission
		return nil, nil
	}

	trade := l.closeTrip(h, fill, closeQty, closeCommission)
	if h.quantity != 0 {
		// Reversal: the remainder opens a new position at the fill price.
		remainder := h.quantity
		h.quantity = 0
		l.open(h, fill, remainder, fill.Commission-closeCommission)
	}
	return trade, nil
}

func (l *Ledger) validate(fill Fill) error {
	if fill.Symbol == "" {
		return core.Errorf(core.ErrInvalidOrder, "fill %s has no symbol", fill.OrderRef)
	}
	if fill.Quantity <= 0 {
		return core.Errorf(core.ErrInvalidOrder, "fill %s quantity must be positive, got %d", fill.OrderRef, fill.Quantity)
	}
	if fill.Price <= 0 || math.IsNaN(fill.Price) || math.IsInf(fill.Price, 0) {
		return core.Errorf(core.ErrInvalidOrder, "fill %s price must be positive and finite, got %v", fill.OrderRef, fill.Price)
	}
	if fill.Commission < 0 || math.IsNaN(fill.Commission) {
		return core.Errorf(core.ErrInvalidOrder, "fill %s commission cannot be negative, got %v", fill.OrderRef, fill.Commission)
	}
	if fill.Side != OrderSideBuy && fill.Side != OrderSideSell {
		return core.Errorf(core.ErrInvalidOrder, "fill %s has invalid side %q", fill.OrderRef, fill.Side)
	}
	if !l.allowShort {
		held := l.Position(fill.Symbol).Quantity
		if held+fill.Side.Sign()*fill.Quantity < 0 {
			return core.Errorf(core.ErrInvalidOrder, "fill %s would leave %s short by %d with shorting disabled",
				fill.OrderRef, fill.Symbol, held+fill.Side.Sign()*fill.Quantity)
		}
	}
	return nil
}

func (l *Ledger) open(h *holding, fill Fill, quantity int64, commission float64) {
	h.quantity = quantity
	h.avgCost = fill.Price
	h.entry = fill
	h.entry.Quantity = abs64(quantity)
	h.entry.Commission = commission
	h.openCommission = commission
	h.tripRealized = 0
	h.tripQuantity = abs64(quantity)
	h.tripNotional = fill.Price * float64(abs64(quantity))
}

func (l *Ledger) closeTrip(h *holding, fill Fill, closeQty int64, closeCommission float64) *Trade {
	exit := fill
	exit.Quantity = closeQty
	exit.Commission = closeCommission

	pnl := h.tripRealized - h.openCommission - closeCommission

	trade := Trade{
		Symbol:        fill.Symbol,
		Side:          h.entry.Side,
		Quantity:      h.tripQuantity,
		EntryFill:     h.entry,
		ExitFill:      exit,
		EntryPrice:    h.avgCost,
		ExitPrice:     fill.Price,
		HoldingPeriod: fill.Time.Sub(h.entry.Time),
		PnL:           pnl,
		ExitReason:    fill.ExitReason,
	}
	if h.tripNotional > 0 {
		trade.Return = pnl / h.tripNotional
	}
	l.trades = append(l.trades, trade)

	h.avgCost = 0
	h.openCommission = 0
	h.tripRealized = 0
	h.tripQuantity = 0
	h.tripNotional = 0
	h.entry = Fill{}
	return &trade
}

// Equity returns cash plus the marked value of every position.
func (l *Ledger) Equity(marks map[string]float64) (float64, error) {
	equity, err := l.equity(marks)
	if err != nil {
		return 0, err
	}
	return equity.InexactFloat64(), nil
}

func (l *Ledger) equity(marks map[string]float64) (decimal.Decimal, error) {
	total := l.cash
	for sym, h := range l.holdings {
		if h.quantity == 0 {
			continue
		}
		mark, ok := marks[sym]
		if !ok || mark <= 0 {
			return decimal.Zero, fmt.Errorf("no mark price for open position %s", sym)
		}
		total = total.Add(decimal.NewFromFloat(mark).Mul(decimal.NewFromInt(h.quantity)))
	}
	return total, nil
}

// Checkpoint computes equity at the mark prices and appends it to the curve.
// Checkpoints must be strictly increasing in time and are never edited.
func (l *Ledger) Checkpoint(ts time.Time, marks map[string]float64) (float64, error) {
	if n := len(l.curve); n > 0 && !ts.After(l.curve[n-1].Time) {
		return 0, core.Errorf(core.ErrOutOfOrderBar, "checkpoint at %s does not follow %s",
			ts.Format(time.RFC3339), l.curve[n-1].Time.Format(time.RFC3339))
	}

	equity, err := l.equity(marks)
	if err != nil {
		return 0, err
	}

	point := EquityPoint{
		Time:   ts,
		Equity: equity.InexactFloat64(),
		Cash:   l.cash.InexactFloat64(),
	}
	l.curve = append(l.curve, point)
	return point.Equity, nil
}

// EquityCurve returns a copy of the equity curve.
func (l *Ledger) EquityCurve() []EquityPoint {
	curve := make([]EquityPoint, len(l.curve))
	copy(curve, l.curve)
	return curve
}

// Trades returns a copy of the trade log.
func (l *Ledger) Trades() []Trade {
	trades := make([]Trade, len(l.trades))
	copy(trades, l.trades)
	return trades
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

func sign64(v int64) int64 {
	if v < 0 {
		return -1
	}
	return 1
}
