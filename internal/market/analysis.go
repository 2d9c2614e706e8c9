package market

import (
	"fmt"
	"math"
	"time"
)

// ValidateSeries checks that candles are well-formed, strictly increasing in
// time, and free of holes larger than one period. Returns *DataError on the
// first violation.
func ValidateSeries(symbol string, tf Timeframe, candles []Candle) error {
	period := tf.Duration()
	if period <= 0 {
		return &DataError{Symbol: symbol, Timeframe: tf, Reason: fmt.Sprintf("unknown timeframe %q", tf)}
	}
	for i, c := range candles {
		if math.IsNaN(c.Open) || math.IsNaN(c.High) || math.IsNaN(c.Low) || math.IsNaN(c.Close) {
			return &DataError{Symbol: symbol, Timeframe: tf, Reason: fmt.Sprintf("NaN price at index %d", i)}
		}
		if c.High < c.Low {
			return &DataError{Symbol: symbol, Timeframe: tf, Reason: fmt.Sprintf("high %.8f below low %.8f at index %d", c.High, c.Low, i)}
		}
		if i == 0 {
			continue
		}
		prev := candles[i-1]
		if !c.OpenTime.After(prev.OpenTime) {
			return &DataError{Symbol: symbol, Timeframe: tf, Reason: fmt.Sprintf("non-increasing timestamps at index %d", i)}
		}
		// Allow up to one missing period between consecutive candles
		if c.OpenTime.Sub(prev.OpenTime) > 2*period {
			return &DataError{Symbol: symbol, Timeframe: tf, Reason: fmt.Sprintf("series hole of %v before index %d", c.OpenTime.Sub(prev.OpenTime), i)}
		}
	}
	return nil
}

// AverageRange returns the mean high-low range over the last period candles
func AverageRange(candles []Candle, period int) float64 {
	if len(candles) == 0 {
		return 0
	}
	if len(candles) < period {
		period = len(candles)
	}
	sum := 0.0
	for i := len(candles) - period; i < len(candles); i++ {
		sum += candles[i].Range()
	}
	return sum / float64(period)
}

// AverageVolume returns the mean volume over the last period candles
func AverageVolume(candles []Candle, period int) float64 {
	if len(candles) == 0 {
		return 0
	}
	if len(candles) < period {
		period = len(candles)
	}
	sum := 0.0
	for i := len(candles) - period; i < len(candles); i++ {
		sum += candles[i].Volume
	}
	return sum / float64(period)
}

// ATR computes a simple average true range over the given period
func ATR(candles []Candle, period int) float64 {
	if len(candles) < 2 {
		return 0
	}
	if len(candles)-1 < period {
		period = len(candles) - 1
	}
	sum := 0.0
	for i := len(candles) - period; i < len(candles); i++ {
		tr := candles[i].Range()
		prevClose := candles[i-1].Close
		if hc := math.Abs(candles[i].High - prevClose); hc > tr {
			tr = hc
		}
		if lc := math.Abs(candles[i].Low - prevClose); lc > tr {
			tr = lc
		}
		sum += tr
	}
	return sum / float64(period)
}

// TrendStrength returns a -1..1 trend score from EMA separation
func TrendStrength(candles []Candle) float64 {
	if len(candles) < 20 {
		return 0
	}
	fast := ema(candles, 20)
	slow := ema(candles, 50)
	if slow == 0 {
		return 0
	}
	strength := (fast - slow) / slow * 100
	if strength > 1 {
		strength = 1
	} else if strength < -1 {
		strength = -1
	}
	return strength
}

func ema(candles []Candle, period int) float64 {
	if len(candles) < period {
		return candles[len(candles)-1].Close
	}
	multiplier := 2.0 / float64(period+1)
	sum := 0.0
	for i := 0; i < period; i++ {
		sum += candles[i].Close
	}
	v := sum / float64(period)
	for i := period; i < len(candles); i++ {
		v = (candles[i].Close-v)*multiplier + v
	}
	return v
}

// ClassifyVolatility maps the current ATR against the long-run average range
// to a discrete volatility level
func ClassifyVolatility(atr, averageRange float64) VolatilityLevel {
	if averageRange <= 0 || atr <= 0 {
		return VolatilityNormal
	}
	ratio := atr / averageRange
	switch {
	case ratio < 0.75:
		return VolatilityLow
	case ratio < 1.25:
		return VolatilityNormal
	case ratio < 2.0:
		return VolatilityHigh
	default:
		return VolatilityExtreme
	}
}

// BuildContext derives a market context from a candle window. Missing or
// short input produces a partially-populated context, never an error.
func BuildContext(symbol string, candles []Candle, activeSession Session, now time.Time) Context {
	mctx := Context{
		Symbol:        symbol,
		ActiveSession: activeSession,
		Volatility:    VolatilityNormal,
		Timestamp:     now,
	}
	if len(candles) == 0 {
		return mctx
	}
	last := candles[len(candles)-1]
	mctx.CurrentPrice = last.Close
	mctx.LastVolume = last.Volume
	mctx.AverageRange = AverageRange(candles, 20)
	mctx.AverageVolume = AverageVolume(candles, 20)
	mctx.ATR = ATR(candles, 14)
	mctx.TrendStrength = TrendStrength(candles)
	mctx.Volatility = ClassifyVolatility(mctx.ATR, mctx.AverageRange)
	return mctx
}
