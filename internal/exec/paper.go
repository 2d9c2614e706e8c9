// Package exec provides execution providers. The paper provider simulates a
// venue in memory: orders fill instantly at the entry price plus configured
// slippage, and positions close when a mark price crosses their stop or
// target.
package exec

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"gap-trading-bot/internal/ops"
)

// Position is an open simulated position
type Position struct {
	Order      ops.PreparedOrder `json:"order"`
	EntryPrice float64           `json:"entry_price"`
	OpenedAt   time.Time         `json:"opened_at"`
}

// ClosedTrade is the realized outcome of a simulated position
type ClosedTrade struct {
	Order     ops.PreparedOrder `json:"order"`
	ExitPrice float64           `json:"exit_price"`
	PnL       float64           `json:"pnl"`
	Outcome   string            `json:"outcome"` // TARGET or STOP
	ClosedAt  time.Time         `json:"closed_at"`
}

// Paper is an in-memory execution provider
type Paper struct {
	mu          sync.Mutex
	slippageBps float64
	positions   map[string]*Position
	onClose     func(ClosedTrade)
	logger      zerolog.Logger
	now         func() time.Time
}

// NewPaper creates a paper provider. onClose, when set, receives every
// realized trade.
func NewPaper(slippageBps float64, onClose func(ClosedTrade), logger zerolog.Logger) *Paper {
	return &Paper{
		slippageBps: slippageBps,
		positions:   make(map[string]*Position),
		onClose:     onClose,
		logger:      logger,
		now:         time.Now,
	}
}

var _ ops.ExecutionProvider = (*Paper)(nil)

// Submit fills the order immediately with slippage against the trade
// direction
func (p *Paper) Submit(_ context.Context, order ops.PreparedOrder) (ops.ExecutionResult, error) {
	slip := order.EntryPrice * p.slippageBps / 10000
	fill := order.EntryPrice
	if order.Side == "BUY" {
		fill += slip
	} else {
		fill -= slip
	}

	p.mu.Lock()
	p.positions[order.ID] = &Position{
		Order:      order,
		EntryPrice: fill,
		OpenedAt:   p.now().UTC(),
	}
	p.mu.Unlock()

	p.logger.Info().
		Str("order_id", order.ID).
		Str("symbol", order.Symbol).
		Str("side", order.Side).
		Float64("fill_price", fill).
		Msg("paper order filled")

	return ops.ExecutionResult{
		OrderID:    order.ID,
		Accepted:   true,
		FillPrice:  fill,
		ExecutedAt: p.now().UTC(),
	}, nil
}

// MarkPrice closes any position for the symbol whose stop or target the
// price has crossed. Stops are checked before targets.
func (p *Paper) MarkPrice(symbol string, price float64) []ClosedTrade {
	p.mu.Lock()
	var closed []ClosedTrade
	for id, pos := range p.positions {
		if pos.Order.Symbol != symbol {
			continue
		}
		outcome := p.outcomeFor(pos, price)
		if outcome == "" {
			continue
		}
		exit := pos.Order.TakeProfit
		if outcome == "STOP" {
			exit = pos.Order.StopLoss
		}
		pnl := (exit - pos.EntryPrice) * pos.Order.Lot
		if pos.Order.Side == "SELL" {
			pnl = -pnl
		}
		closed = append(closed, ClosedTrade{
			Order:     pos.Order,
			ExitPrice: exit,
			PnL:       pnl,
			Outcome:   outcome,
			ClosedAt:  p.now().UTC(),
		})
		delete(p.positions, id)
	}
	p.mu.Unlock()

	for _, trade := range closed {
		p.logger.Info().
			Str("order_id", trade.Order.ID).
			Str("outcome", trade.Outcome).
			Float64("pnl", trade.PnL).
			Msg("paper position closed")
		if p.onClose != nil {
			p.onClose(trade)
		}
	}
	return closed
}

func (p *Paper) outcomeFor(pos *Position, price float64) string {
	if pos.Order.Side == "BUY" {
		if price <= pos.Order.StopLoss {
			return "STOP"
		}
		if price >= pos.Order.TakeProfit {
			return "TARGET"
		}
		return ""
	}
	if price >= pos.Order.StopLoss {
		return "STOP"
	}
	if price <= pos.Order.TakeProfit {
		return "TARGET"
	}
	return ""
}

// Open returns a snapshot of the open positions
func (p *Paper) Open() []Position {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Position, 0, len(p.positions))
	for _, pos := range p.positions {
		out = append(out, *pos)
	}
	return out
}
