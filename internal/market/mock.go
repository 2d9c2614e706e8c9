package market

import (
	"context"
	"math"
	"sync"
	"time"
)

// MockSource generates deterministic synthetic candles for development and
// testing without a live data feed. It can also be pre-seeded with fixed
// series per symbol/timeframe.
type MockSource struct {
	mu       sync.RWMutex
	seeded   map[string][]Candle
	basePow  float64
	failWith error
}

// NewMockSource creates a mock candle source
func NewMockSource() *MockSource {
	return &MockSource{
		seeded:  make(map[string][]Candle),
		basePow: 100.0,
	}
}

// Seed installs a fixed candle series for a symbol/timeframe
func (m *MockSource) Seed(symbol string, tf Timeframe, candles []Candle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seeded[symbol+"|"+string(tf)] = candles
}

// FailWith makes all subsequent calls return err, simulating an unreachable
// data provider
func (m *MockSource) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failWith = err
}

// GetRecentCandles returns seeded candles when present, otherwise a
// deterministic sine-wave series ending at the current period
func (m *MockSource) GetRecentCandles(_ context.Context, symbol string, tf Timeframe, count int) ([]Candle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.failWith != nil {
		return nil, &CollaboratorError{Collaborator: "candle_source", Err: m.failWith}
	}

	if series, ok := m.seeded[symbol+"|"+string(tf)]; ok {
		if len(series) > count {
			return series[len(series)-count:], nil
		}
		return series, nil
	}

	period := tf.Duration()
	end := time.Now().UTC().Truncate(period)
	candles := make([]Candle, 0, count)
	for i := count; i > 0; i-- {
		open := m.basePow + 5*math.Sin(float64(i)/7)
		close := m.basePow + 5*math.Sin(float64(i-1)/7)
		high := math.Max(open, close) + 0.5
		low := math.Min(open, close) - 0.5
		openTime := end.Add(-time.Duration(i) * period)
		candles = append(candles, Candle{
			Symbol:    symbol,
			Timeframe: tf,
			Open:      open,
			High:      high,
			Low:       low,
			Close:     close,
			Volume:    1000 + 100*math.Abs(math.Sin(float64(i))),
			OpenTime:  openTime,
			CloseTime: openTime.Add(period),
		})
	}
	return candles, nil
}

var _ Source = (*MockSource)(nil)
