// Package sizing computes risk-based position sizes: a base risk percentage
// of account equity scaled by quality, session, cycle posture and volatility
// multipliers, converted to lots via stop distance and pip value. Sizing
// never returns an error: any failure degrades to a minimal emergency size
// so the caller always has a safe number to work with.
package sizing

import (
	"fmt"
	"math"

	"github.com/rs/zerolog"

	"gap-trading-bot/internal/cycle"
	"gap-trading-bot/internal/market"
	"gap-trading-bot/internal/quality"
)

// Config holds the risk parameters and the multiplier tables
type Config struct {
	BaseRiskPct    float64 `json:"base_risk_pct"`    // fraction of equity risked at multiplier 1.0
	RiskCeilingPct float64 `json:"risk_ceiling_pct"` // hard cap on per-trade risk fraction
	MinLot         float64 `json:"min_lot"`
	MaxLot         float64 `json:"max_lot"`
	PipValue       float64 `json:"pip_value"`        // account-currency value of one price unit per lot
	MarginCapFrac  float64 `json:"margin_cap_frac"`  // max fraction of free margin a position may consume, 0 disables

	QualityMultipliers    map[quality.Level]float64          `json:"quality_multipliers"`
	SessionMultipliers    map[market.Session]float64         `json:"session_multipliers"`
	CycleMultipliers      map[cycle.Posture]float64          `json:"cycle_multipliers"`
	VolatilityMultipliers map[market.VolatilityLevel]float64 `json:"volatility_multipliers"`
}

// DefaultConfig returns the standard risk parameters and multiplier tables.
// Every table entry is non-negative and higher-conviction inputs never map
// to smaller multipliers.
func DefaultConfig() *Config {
	return &Config{
		BaseRiskPct:    0.01,
		RiskCeilingPct: 0.05,
		MinLot:         0.01,
		MaxLot:         1.00,
		PipValue:       10.0,
		MarginCapFrac:  0.5,
		QualityMultipliers: map[quality.Level]float64{
			quality.LevelPremium: 1.5,
			quality.LevelHigh:    1.2,
			quality.LevelMedium:  1.0,
			quality.LevelLow:     0.7,
			quality.LevelPoor:    0.4,
		},
		SessionMultipliers: map[market.Session]float64{
			market.SessionOverlap:  1.2,
			market.SessionLondon:   1.0,
			market.SessionNewYork:  1.0,
			market.SessionAsia:     0.8,
			market.SessionOffHours: 0.5,
		},
		CycleMultipliers: map[cycle.Posture]float64{
			cycle.PostureNormal:     1.0,
			cycle.PostureNearTarget: 0.8,
			cycle.PostureNearLimit:  0.5,
		},
		VolatilityMultipliers: map[market.VolatilityLevel]float64{
			market.VolatilityLow:     1.1,
			market.VolatilityNormal:  1.0,
			market.VolatilityHigh:    0.7,
			market.VolatilityExtreme: 0.4,
		},
	}
}

// Validate checks risk parameters, lot bounds and table exhaustiveness
func (c *Config) Validate() error {
	if c.BaseRiskPct <= 0 || c.BaseRiskPct >= 1 {
		return fmt.Errorf("base risk pct must be in (0, 1), got %f", c.BaseRiskPct)
	}
	if c.RiskCeilingPct < c.BaseRiskPct || c.RiskCeilingPct >= 1 {
		return fmt.Errorf("risk ceiling pct must be in [%f, 1), got %f", c.BaseRiskPct, c.RiskCeilingPct)
	}
	if c.MinLot <= 0 || c.MaxLot < c.MinLot {
		return fmt.Errorf("lot bounds invalid: min %f max %f", c.MinLot, c.MaxLot)
	}
	if c.PipValue <= 0 {
		return fmt.Errorf("pip value must be positive, got %f", c.PipValue)
	}
	if c.MarginCapFrac < 0 || c.MarginCapFrac > 1 {
		return fmt.Errorf("margin cap fraction must be in [0, 1], got %f", c.MarginCapFrac)
	}
	for _, l := range quality.Levels {
		if m, ok := c.QualityMultipliers[l]; !ok || m < 0 {
			return fmt.Errorf("quality multiplier table invalid for %s", l)
		}
	}
	for _, s := range market.Sessions {
		if m, ok := c.SessionMultipliers[s]; !ok || m < 0 {
			return fmt.Errorf("session multiplier table invalid for %s", s)
		}
	}
	for _, p := range cycle.Postures {
		if m, ok := c.CycleMultipliers[p]; !ok || m < 0 {
			return fmt.Errorf("cycle multiplier table invalid for %s", p)
		}
	}
	for _, v := range market.VolatilityLevels {
		if m, ok := c.VolatilityMultipliers[v]; !ok || m < 0 {
			return fmt.Errorf("volatility multiplier table invalid for %s", v)
		}
	}
	return nil
}

// Input carries the dimensions a sizing decision depends on
type Input struct {
	Quality    quality.Level
	Session    market.Session
	Posture    cycle.Posture
	Volatility market.VolatilityLevel

	Equity       float64 // account equity in account currency
	FreeMargin   float64 // margin available for new positions
	MarginPerLot float64 // margin consumed by one lot of this instrument
	StopDistance float64 // entry-to-stop distance in price units
}

// Multipliers records the individual factors applied and their product
type Multipliers struct {
	Quality    float64 `json:"quality"`
	Session    float64 `json:"session"`
	Cycle      float64 `json:"cycle"`
	Volatility float64 `json:"volatility"`
	Total      float64 `json:"total"`
}

// Result is the sizing decision
type Result struct {
	Lot          float64     `json:"lot"`
	RiskAmount   float64     `json:"risk_amount"`
	RiskPct      float64     `json:"risk_pct"`
	StopDistance float64     `json:"stop_distance"`
	Multipliers  Multipliers `json:"multipliers"`
	Clamped      bool        `json:"clamped"`
	Emergency    bool        `json:"emergency"`
	Note         string      `json:"note,omitempty"`
}

// Sizer computes position sizes
type Sizer struct {
	config *Config
	logger zerolog.Logger
}

// NewSizer creates a position sizer
func NewSizer(config *Config, logger zerolog.Logger) *Sizer {
	if config == nil {
		config = DefaultConfig()
	}
	return &Sizer{config: config, logger: logger}
}

// Size computes the lot for the given inputs. Risk is a fraction of equity,
// scaled by the multipliers and capped at the risk ceiling; the lot is the
// amount of exposure that realizes exactly that risk at the stop. Unknown
// enum values or unusable account figures produce the emergency minimum
// rather than an error.
func (s *Sizer) Size(in Input) Result {
	qm, ok1 := s.config.QualityMultipliers[in.Quality]
	sm, ok2 := s.config.SessionMultipliers[in.Session]
	cm, ok3 := s.config.CycleMultipliers[in.Posture]
	vm, ok4 := s.config.VolatilityMultipliers[in.Volatility]
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return s.emergency(in, "multiplier table lookup failed")
	}
	if in.Equity <= 0 || math.IsNaN(in.Equity) || math.IsInf(in.Equity, 0) {
		return s.emergency(in, "unusable account equity")
	}
	if in.StopDistance <= 0 {
		return s.emergency(in, "non-positive stop distance")
	}
	if in.MarginPerLot <= 0 {
		return s.emergency(in, "non-positive margin per lot")
	}

	m := Multipliers{Quality: qm, Session: sm, Cycle: cm, Volatility: vm}
	m.Total = qm * sm * cm * vm
	r := Result{Multipliers: m, StopDistance: in.StopDistance}

	riskPct := s.config.BaseRiskPct * m.Total
	if riskPct > s.config.RiskCeilingPct {
		riskPct = s.config.RiskCeilingPct
		r.Clamped = true
	}
	riskAmount := in.Equity * riskPct
	lot := riskAmount / (in.StopDistance * s.config.PipValue)

	if s.config.MarginCapFrac > 0 {
		marginLots := in.FreeMargin * s.config.MarginCapFrac / in.MarginPerLot
		if marginLots < s.config.MinLot {
			return s.emergency(in, "insufficient free margin")
		}
		if lot > marginLots {
			lot = marginLots
			r.Clamped = true
		}
	}
	if lot > s.config.MaxLot {
		lot = s.config.MaxLot
		r.Clamped = true
	}
	if lot < s.config.MinLot {
		lot = s.config.MinLot
		r.Clamped = true
	}

	r.Lot = lot
	r.RiskAmount = lot * in.StopDistance * s.config.PipValue
	r.RiskPct = r.RiskAmount / in.Equity
	return r
}

func (s *Sizer) emergency(in Input, note string) Result {
	s.logger.Error().
		Str("quality", string(in.Quality)).
		Str("session", string(in.Session)).
		Str("posture", string(in.Posture)).
		Str("volatility", string(in.Volatility)).
		Float64("equity", in.Equity).
		Float64("stop_distance", in.StopDistance).
		Str("note", note).
		Msg("sizing degraded to emergency minimum")

	r := Result{
		Lot:          s.config.MinLot,
		StopDistance: in.StopDistance,
		Emergency:    true,
		Note:         note,
	}
	if in.StopDistance > 0 {
		r.RiskAmount = r.Lot * in.StopDistance * s.config.PipValue
		if in.Equity > 0 && !math.IsNaN(in.Equity) && !math.IsInf(in.Equity, 0) {
			r.RiskPct = r.RiskAmount / in.Equity
		}
	}
	return r
}
