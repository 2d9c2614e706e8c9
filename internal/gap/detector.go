// Package gap detects fair value gaps in candle series and tracks their
// lifecycle from formation to fill or expiry.
package gap

import (
	"fmt"
	"time"

	"gap-trading-bot/internal/market"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Status represents the lifecycle state of a gap event
type Status string

const (
	StatusActive  Status = "ACTIVE"
	StatusFilled  Status = "FILLED"
	StatusExpired Status = "EXPIRED"
)

// Event represents a detected fair value gap. PriceHigh is always strictly
// greater than PriceLow and Size equals their difference.
type Event struct {
	ID            string           `json:"id"`
	Symbol        string           `json:"symbol"`
	Timeframe     market.Timeframe `json:"timeframe"`
	Direction     market.Direction `json:"direction"`
	PriceLow      float64          `json:"price_low"`
	PriceHigh     float64          `json:"price_high"`
	Size          float64          `json:"size"`
	FormationTime time.Time        `json:"formation_time"`
	FormationBars int              `json:"formation_bars"`
	Status        Status           `json:"status"`
	FillTime      *time.Time       `json:"fill_time,omitempty"`
	FillPrice     *float64         `json:"fill_price,omitempty"`
}

// Midpoint returns the center of the gap interval
func (e *Event) Midpoint() float64 {
	return (e.PriceLow + e.PriceHigh) / 2
}

// Fingerprint identifies the gap by its geometry rather than its ID, so the
// same gap re-detected on a later poll maps to the same key
func (e *Event) Fingerprint() string {
	return fmt.Sprintf("%s:%s:%s:%d:%.8f:%.8f",
		e.Symbol, e.Timeframe, e.Direction, e.FormationTime.Unix(), e.PriceLow, e.PriceHigh)
}

// Config holds gap detection thresholds
type Config struct {
	BodyRatioThreshold float64            `json:"body_ratio_threshold"` // Middle-candle body/range minimum
	MinGapSize         float64            `json:"min_gap_size"`         // Default minimum size in price units
	MinGapSizeBySymbol map[string]float64 `json:"min_gap_size_by_symbol"`
	MaxAge             time.Duration      `json:"max_age"` // Gaps older than this at detection are EXPIRED
}

// DefaultConfig returns conservative detection defaults
func DefaultConfig() *Config {
	return &Config{
		BodyRatioThreshold: 0.7,
		MinGapSize:         0.1,
		MinGapSizeBySymbol: make(map[string]float64),
		MaxAge:             24 * time.Hour,
	}
}

// Validate checks detection threshold sanity
func (c *Config) Validate() error {
	if c.BodyRatioThreshold <= 0 || c.BodyRatioThreshold > 1 {
		return fmt.Errorf("body ratio threshold must be in (0, 1], got %f", c.BodyRatioThreshold)
	}
	if c.MinGapSize <= 0 {
		return fmt.Errorf("minimum gap size must be positive, got %f", c.MinGapSize)
	}
	for symbol, size := range c.MinGapSizeBySymbol {
		if size <= 0 {
			return fmt.Errorf("minimum gap size for %s must be positive, got %f", symbol, size)
		}
	}
	if c.MaxAge <= 0 {
		return fmt.Errorf("max gap age must be positive, got %s", c.MaxAge)
	}
	return nil
}

func (c *Config) minSizeFor(symbol string) float64 {
	if s, ok := c.MinGapSizeBySymbol[symbol]; ok && s > 0 {
		return s
	}
	return c.MinGapSize
}

// Detector scans candle windows for fair value gaps. Detection is a pure
// function of its input: the same window always yields the same events.
type Detector struct {
	config *Config
	logger zerolog.Logger
	now    func() time.Time
}

// NewDetector creates a gap detector
func NewDetector(config *Config, logger zerolog.Logger) *Detector {
	if config == nil {
		config = DefaultConfig()
	}
	return &Detector{
		config: config,
		logger: logger.With().Str("component", "gap_detector").Logger(),
		now:    time.Now,
	}
}

// Detect scans 3-bar windows and returns the gaps found. Requires at least
// three consecutive candles; series-level data violations return *DataError.
// Malformed individual windows are skipped and logged, never fatal.
func (d *Detector) Detect(symbol string, tf market.Timeframe, candles []market.Candle) ([]Event, error) {
	if len(candles) < 3 {
		return nil, nil
	}
	if err := market.ValidateSeries(symbol, tf, candles); err != nil {
		return nil, err
	}

	minSize := d.config.minSizeFor(symbol)
	now := d.now()
	var events []Event

	for i := 0; i+2 < len(candles); i++ {
		first, middle, third := candles[i], candles[i+1], candles[i+2]

		if middle.Range() <= 0 {
			// Flat middle candle cannot displace price
			continue
		}
		bodyRatio := middle.Body() / middle.Range()
		if bodyRatio < d.config.BodyRatioThreshold {
			continue
		}

		var ev *Event
		switch {
		case middle.Bullish() && first.High < third.Low:
			ev = d.buildEvent(symbol, tf, market.DirectionUp, first.High, third.Low, middle, minSize, now)
		case !middle.Bullish() && first.Low > third.High:
			ev = d.buildEvent(symbol, tf, market.DirectionDown, third.High, first.Low, middle, minSize, now)
		}
		if ev != nil {
			events = append(events, *ev)
		}
	}
	return events, nil
}

func (d *Detector) buildEvent(symbol string, tf market.Timeframe, dir market.Direction, low, high float64, middle market.Candle, minSize float64, now time.Time) *Event {
	if high <= low {
		d.logger.Warn().
			Str("symbol", symbol).
			Str("timeframe", string(tf)).
			Float64("low", low).
			Float64("high", high).
			Msg("rejecting malformed gap interval")
		return nil
	}
	size := high - low
	if size < minSize {
		return nil
	}

	status := StatusActive
	if d.config.MaxAge > 0 && now.Sub(middle.CloseTime) > d.config.MaxAge {
		status = StatusExpired
	}

	return &Event{
		ID:            uuid.New().String(),
		Symbol:        symbol,
		Timeframe:     tf,
		Direction:     dir,
		PriceLow:      low,
		PriceHigh:     high,
		Size:          size,
		FormationTime: middle.CloseTime,
		FormationBars: 3,
		Status:        status,
	}
}
