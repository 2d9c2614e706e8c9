package gap

import (
	"testing"
	"time"

	"gap-trading-bot/internal/market"
)

func activeEvent(id string, low, high float64, dir market.Direction, formed time.Time) Event {
	return Event{
		ID:            id,
		Symbol:        "EURUSD",
		Timeframe:     market.Timeframe5m,
		Direction:     dir,
		PriceLow:      low,
		PriceHigh:     high,
		Size:          high - low,
		FormationTime: formed,
		Status:        StatusActive,
	}
}

// TestTrackerFillTransition tests ACTIVE→FILLED when a candle wicks into the
// gap interval
func TestTrackerFillTransition(t *testing.T) {
	formed := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	tracker := NewTracker(24 * time.Hour)
	tracker.now = func() time.Time { return formed.Add(10 * time.Minute) }

	tracker.Add([]Event{activeEvent("g1", 100, 102, market.DirectionUp, formed)})

	candle := market.Candle{
		Symbol:    "EURUSD",
		Timeframe: market.Timeframe5m,
		Open:      106, High: 107, Low: 101.5, Close: 105,
		CloseTime: formed.Add(10 * time.Minute),
	}

	transitioned := tracker.Update(candle)
	if len(transitioned) != 1 {
		t.Fatalf("Expected 1 transition, got %d", len(transitioned))
	}
	ev := transitioned[0]
	if ev.Status != StatusFilled {
		t.Errorf("Expected FILLED, got %s", ev.Status)
	}
	if ev.FillPrice == nil || *ev.FillPrice != 101.5 {
		t.Errorf("Expected fill price 101.5, got %v", ev.FillPrice)
	}
	if ev.FillTime == nil {
		t.Error("Expected fill time to be recorded")
	}
	if tracker.Count() != 0 {
		t.Errorf("Expected 0 active gaps after fill, got %d", tracker.Count())
	}
}

// TestTrackerIgnoresOtherSymbols tests that candles only affect gaps of the
// same symbol and timeframe
func TestTrackerIgnoresOtherSymbols(t *testing.T) {
	formed := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	tracker := NewTracker(24 * time.Hour)
	tracker.now = func() time.Time { return formed.Add(10 * time.Minute) }

	tracker.Add([]Event{activeEvent("g1", 100, 102, market.DirectionUp, formed)})

	candle := market.Candle{
		Symbol:    "GBPUSD",
		Timeframe: market.Timeframe5m,
		Open:      106, High: 107, Low: 95, Close: 105,
		CloseTime: formed.Add(10 * time.Minute),
	}

	if got := tracker.Update(candle); len(got) != 0 {
		t.Errorf("Expected no transitions for other symbol, got %d", len(got))
	}
	if tracker.Count() != 1 {
		t.Errorf("Expected gap to remain active, count=%d", tracker.Count())
	}
}

// TestTrackerExpiry tests ACTIVE→EXPIRED after the max age elapses with no
// fill
func TestTrackerExpiry(t *testing.T) {
	formed := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	tracker := NewTracker(time.Hour)
	tracker.now = func() time.Time { return formed.Add(2 * time.Hour) }

	tracker.Add([]Event{activeEvent("g1", 100, 102, market.DirectionUp, formed)})

	// Candle far above the gap, should not fill it
	candle := market.Candle{
		Symbol:    "EURUSD",
		Timeframe: market.Timeframe5m,
		Open:      110, High: 112, Low: 109, Close: 111,
		CloseTime: formed.Add(2 * time.Hour),
	}

	transitioned := tracker.Update(candle)
	if len(transitioned) != 1 {
		t.Fatalf("Expected 1 transition, got %d", len(transitioned))
	}
	if transitioned[0].Status != StatusExpired {
		t.Errorf("Expected EXPIRED, got %s", transitioned[0].Status)
	}
	if transitioned[0].FillPrice != nil {
		t.Error("Expired gap should have no fill price")
	}
}

// TestTrackerSkipsNonActive tests that FILLED and EXPIRED events are not
// registered
func TestTrackerSkipsNonActive(t *testing.T) {
	formed := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	tracker := NewTracker(24 * time.Hour)

	expired := activeEvent("g1", 100, 102, market.DirectionUp, formed)
	expired.Status = StatusExpired
	tracker.Add([]Event{expired})

	if tracker.Count() != 0 {
		t.Errorf("Expected non-active events to be skipped, count=%d", tracker.Count())
	}
}

// TestActiveForSymbol tests per-symbol active gap retrieval across
// timeframes
func TestActiveForSymbol(t *testing.T) {
	formed := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	tracker := NewTracker(24 * time.Hour)

	e1 := activeEvent("g1", 100, 102, market.DirectionUp, formed)
	e2 := activeEvent("g2", 110, 113, market.DirectionUp, formed)
	e2.Timeframe = market.Timeframe15m
	e3 := activeEvent("g3", 90, 92, market.DirectionDown, formed)
	e3.Symbol = "GBPUSD"
	tracker.Add([]Event{e1, e2, e3})

	got := tracker.ActiveFor("EURUSD")
	if len(got) != 2 {
		t.Errorf("Expected 2 active gaps for EURUSD, got %d", len(got))
	}
}
