package gap

import (
	"sync"
	"time"

	"gap-trading-bot/internal/market"
)

// Tracker holds the working set of ACTIVE gaps and drives their terminal
// status transitions. Both ACTIVE→FILLED and ACTIVE→EXPIRED are final.
type Tracker struct {
	mu     sync.RWMutex
	maxAge time.Duration
	active map[string]*Event // keyed by event ID
	now    func() time.Time
}

// NewTracker creates a gap lifecycle tracker
func NewTracker(maxAge time.Duration) *Tracker {
	return &Tracker{
		maxAge: maxAge,
		active: make(map[string]*Event),
		now:    time.Now,
	}
}

// Add registers newly detected gaps. Only ACTIVE events are tracked; events
// already FILLED or EXPIRED at detection pass through untouched.
func (t *Tracker) Add(events []Event) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range events {
		if events[i].Status != StatusActive {
			continue
		}
		ev := events[i]
		t.active[ev.ID] = &ev
	}
}

// Update checks a new candle against all ACTIVE gaps for the same
// symbol/timeframe. A candle whose range crosses into [PriceLow, PriceHigh]
// marks the gap FILLED; gaps past the max age become EXPIRED. Returns the
// events that transitioned.
func (t *Tracker) Update(candle market.Candle) []Event {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	var transitioned []Event
	for id, ev := range t.active {
		if ev.Symbol != candle.Symbol || ev.Timeframe != candle.Timeframe {
			continue
		}

		if candle.Low <= ev.PriceHigh && candle.High >= ev.PriceLow {
			ev.Status = StatusFilled
			fillTime := candle.CloseTime
			ev.FillTime = &fillTime
			fillPrice := fillPriceFor(ev, candle)
			ev.FillPrice = &fillPrice
			transitioned = append(transitioned, *ev)
			delete(t.active, id)
			continue
		}

		if t.maxAge > 0 && now.Sub(ev.FormationTime) > t.maxAge {
			ev.Status = StatusExpired
			transitioned = append(transitioned, *ev)
			delete(t.active, id)
		}
	}
	return transitioned
}

// fillPriceFor records the price at which the candle first touched the gap
func fillPriceFor(ev *Event, candle market.Candle) float64 {
	if ev.Direction == market.DirectionUp {
		// Price retraced down into the gap from above
		if candle.Low > ev.PriceLow {
			return candle.Low
		}
		return ev.PriceLow
	}
	// Price retraced up into the gap from below
	if candle.High < ev.PriceHigh {
		return candle.High
	}
	return ev.PriceHigh
}

// Active returns a snapshot of all currently ACTIVE gaps
func (t *Tracker) Active() []Event {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Event, 0, len(t.active))
	for _, ev := range t.active {
		out = append(out, *ev)
	}
	return out
}

// ActiveFor returns ACTIVE gaps for one symbol across all timeframes
func (t *Tracker) ActiveFor(symbol string) []Event {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []Event
	for _, ev := range t.active {
		if ev.Symbol == symbol {
			out = append(out, *ev)
		}
	}
	return out
}

// Count returns the number of tracked ACTIVE gaps
func (t *Tracker) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.active)
}
