// Package market defines the shared market-data vocabulary: candles,
// timeframes, trading sessions, volatility levels and the candle source
// collaborator interface.
package market

import (
	"context"
	"time"
)

// Timeframe represents a candle aggregation interval
type Timeframe string

const (
	Timeframe1m  Timeframe = "1m"
	Timeframe5m  Timeframe = "5m"
	Timeframe15m Timeframe = "15m"
	Timeframe1h  Timeframe = "1h"
	Timeframe4h  Timeframe = "4h"
)

// Duration returns the length of one candle period, or zero for a
// timeframe it does not recognize
func (tf Timeframe) Duration() time.Duration {
	switch tf {
	case Timeframe1m:
		return time.Minute
	case Timeframe5m:
		return 5 * time.Minute
	case Timeframe15m:
		return 15 * time.Minute
	case Timeframe1h:
		return time.Hour
	case Timeframe4h:
		return 4 * time.Hour
	default:
		return 0
	}
}

// Direction represents the direction of a price move or gap
type Direction string

const (
	DirectionUp   Direction = "UP"
	DirectionDown Direction = "DOWN"
)

// Session represents a named trading-hours window
type Session string

const (
	SessionAsia     Session = "ASIA"
	SessionLondon   Session = "LONDON"
	SessionNewYork  Session = "NY"
	SessionOverlap  Session = "OVERLAP"
	SessionOffHours Session = "OFF_HOURS"
)

// Sessions lists all session values, used for exhaustiveness checks on
// configured lookup tables
var Sessions = []Session{SessionAsia, SessionLondon, SessionNewYork, SessionOverlap, SessionOffHours}

// VolatilityLevel classifies current volatility relative to recent history
type VolatilityLevel string

const (
	VolatilityLow     VolatilityLevel = "LOW"
	VolatilityNormal  VolatilityLevel = "NORMAL"
	VolatilityHigh    VolatilityLevel = "HIGH"
	VolatilityExtreme VolatilityLevel = "EXTREME"
)

// VolatilityLevels lists all volatility values for exhaustiveness checks
var VolatilityLevels = []VolatilityLevel{VolatilityLow, VolatilityNormal, VolatilityHigh, VolatilityExtreme}

// Candle represents a single OHLC bar. Immutable once received; ordered by
// OpenTime per (symbol, timeframe).
type Candle struct {
	Symbol    string    `json:"symbol"`
	Timeframe Timeframe `json:"timeframe"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
	OpenTime  time.Time `json:"open_time"`
	CloseTime time.Time `json:"close_time"`
}

// Range returns the full high-low extent of the candle
func (c Candle) Range() float64 {
	return c.High - c.Low
}

// Body returns the absolute open-close extent of the candle
func (c Candle) Body() float64 {
	if c.Close >= c.Open {
		return c.Close - c.Open
	}
	return c.Open - c.Close
}

// Bullish reports whether the candle closed above its open
func (c Candle) Bullish() bool {
	return c.Close > c.Open
}

// Source supplies time-ordered OHLC bars per symbol/timeframe. Implementations
// must return candles in strictly increasing timestamp order with no holes
// larger than one period; violations surface as *DataError.
type Source interface {
	GetRecentCandles(ctx context.Context, symbol string, tf Timeframe, count int) ([]Candle, error)
}

// Context carries the broader market state a gap is assessed against.
// Fields default to zero when the underlying data is unavailable; consumers
// treat missing inputs as a quality reduction, not a failure.
type Context struct {
	Symbol        string          `json:"symbol"`
	CurrentPrice  float64         `json:"current_price"`
	AverageRange  float64         `json:"average_range"`  // Mean candle range over the lookback
	AverageVolume float64         `json:"average_volume"` // Mean candle volume over the lookback
	LastVolume    float64         `json:"last_volume"`
	TrendStrength float64         `json:"trend_strength"` // -1..1, EMA-derived
	ATR           float64         `json:"atr"`
	Volatility    VolatilityLevel `json:"volatility"`
	ActiveSession Session         `json:"active_session"`
	Timestamp     time.Time       `json:"timestamp"`
}
