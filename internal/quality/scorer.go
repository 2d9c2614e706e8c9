// Package quality produces multi-factor quality assessments for detected
// gaps. Every factor degrades to a neutral default when its input is
// missing; a data gap lowers quality, it never fails the pipeline.
package quality

import (
	"fmt"
	"math"

	"gap-trading-bot/internal/confluence"
	"gap-trading-bot/internal/gap"
	"gap-trading-bot/internal/market"
)

// Level represents a discrete quality band
type Level string

const (
	LevelPremium Level = "PREMIUM"
	LevelHigh    Level = "HIGH"
	LevelMedium  Level = "MEDIUM"
	LevelLow     Level = "LOW"
	LevelPoor    Level = "POOR"
)

// Levels lists all quality bands, used for exhaustiveness checks on
// configured lookup tables
var Levels = []Level{LevelPremium, LevelHigh, LevelMedium, LevelLow, LevelPoor}

// neutralFactor is substituted when a factor's input is unavailable
const neutralFactor = 0.5

// FactorBreakdown records each normalized (0-1) factor contribution
type FactorBreakdown struct {
	Size          float64 `json:"size"`
	Speed         float64 `json:"speed"`
	VolumeContext float64 `json:"volume_context"`
	MarketContext float64 `json:"market_context"`
	Distance      float64 `json:"distance"`
	Confluence    float64 `json:"confluence"`
	Session       float64 `json:"session"`
}

// Assessment is the immutable quality verdict for one gap
type Assessment struct {
	GapID         string          `json:"gap_id"`
	Score         float64         `json:"score"` // 0-1
	Level         Level           `json:"level"`
	Factors       FactorBreakdown `json:"factor_breakdown"`
	MissingInputs []string        `json:"missing_inputs,omitempty"`
}

// Weights holds the per-factor weights of the composite score
type Weights struct {
	Size          float64 `json:"size"`
	Speed         float64 `json:"speed"`
	VolumeContext float64 `json:"volume_context"`
	MarketContext float64 `json:"market_context"`
	Distance      float64 `json:"distance"`
	Confluence    float64 `json:"confluence"`
	Session       float64 `json:"session"`
}

// Config holds quality scoring weights, cut points and session favorability
type Config struct {
	Weights            Weights                    `json:"weights"`
	PremiumCut         float64                    `json:"premium_cut"`
	HighCut            float64                    `json:"high_cut"`
	MediumCut          float64                    `json:"medium_cut"`
	LowCut             float64                    `json:"low_cut"`
	MaxDistancePercent float64                    `json:"max_distance_percent"` // Distance factor reaches 0 here
	SessionFavorable   map[market.Session]float64 `json:"session_favorability"`
}

// DefaultConfig returns balanced weights and the standard cut points
func DefaultConfig() *Config {
	return &Config{
		Weights: Weights{
			Size:          0.20,
			Speed:         0.10,
			VolumeContext: 0.15,
			MarketContext: 0.15,
			Distance:      0.10,
			Confluence:    0.20,
			Session:       0.10,
		},
		PremiumCut:         0.80,
		HighCut:            0.65,
		MediumCut:          0.45,
		LowCut:             0.25,
		MaxDistancePercent: 5.0,
		SessionFavorable: map[market.Session]float64{
			market.SessionAsia:     0.5,
			market.SessionLondon:   0.8,
			market.SessionNewYork:  0.8,
			market.SessionOverlap:  1.0,
			market.SessionOffHours: 0.2,
		},
	}
}

// Validate checks weight totals, cut-point ordering and table exhaustiveness
func (c *Config) Validate() error {
	w := c.Weights
	total := w.Size + w.Speed + w.VolumeContext + w.MarketContext + w.Distance + w.Confluence + w.Session
	if total < 0.99 || total > 1.01 {
		return fmt.Errorf("quality weights must sum to 1.0, got %.2f", total)
	}
	if !(c.PremiumCut > c.HighCut && c.HighCut > c.MediumCut && c.MediumCut > c.LowCut && c.LowCut > 0) {
		return fmt.Errorf("quality cut points must be strictly decreasing and positive")
	}
	for _, s := range market.Sessions {
		if _, ok := c.SessionFavorable[s]; !ok {
			return fmt.Errorf("session favorability table missing entry for %s", s)
		}
	}
	return nil
}

// factor is the typed outcome of a single factor computation. ok=false means
// the required input was unavailable and the neutral default was used.
type factor struct {
	value float64
	ok    bool
}

func present(v float64) factor { return factor{value: clamp01(v), ok: true} }
func missing() factor          { return factor{value: neutralFactor, ok: false} }

// Scorer computes quality assessments
type Scorer struct {
	config *Config
}

// NewScorer creates a quality scorer
func NewScorer(config *Config) *Scorer {
	if config == nil {
		config = DefaultConfig()
	}
	return &Scorer{config: config}
}

// Assess computes the composite quality score for a gap. group may be nil
// when the gap has no confluence.
func (s *Scorer) Assess(g gap.Event, group *confluence.Group, mctx market.Context) Assessment {
	a := Assessment{GapID: g.ID}

	size := s.sizeFactor(g, mctx)
	speed := s.speedFactor(g)
	volume := s.volumeFactor(mctx)
	trend := s.marketFactor(g, mctx)
	distance := s.distanceFactor(g, mctx)
	conf := s.confluenceFactor(group)
	sess := s.sessionFactor(mctx)

	record := func(name string, f factor) float64 {
		if !f.ok {
			a.MissingInputs = append(a.MissingInputs, name)
		}
		return f.value
	}

	a.Factors = FactorBreakdown{
		Size:          record("size", size),
		Speed:         record("speed", speed),
		VolumeContext: record("volume_context", volume),
		MarketContext: record("market_context", trend),
		Distance:      record("distance", distance),
		Confluence:    record("confluence", conf),
		Session:       record("session", sess),
	}

	w := s.config.Weights
	a.Score = clamp01(
		a.Factors.Size*w.Size +
			a.Factors.Speed*w.Speed +
			a.Factors.VolumeContext*w.VolumeContext +
			a.Factors.MarketContext*w.MarketContext +
			a.Factors.Distance*w.Distance +
			a.Factors.Confluence*w.Confluence +
			a.Factors.Session*w.Session)
	a.Level = s.LevelFor(a.Score)
	return a
}

// LevelFor maps a score to its quality band. Monotonic: a higher score never
// yields a lower level.
func (s *Scorer) LevelFor(score float64) Level {
	switch {
	case score >= s.config.PremiumCut:
		return LevelPremium
	case score >= s.config.HighCut:
		return LevelHigh
	case score >= s.config.MediumCut:
		return LevelMedium
	case score >= s.config.LowCut:
		return LevelLow
	default:
		return LevelPoor
	}
}

// sizeFactor rates gap size against the instrument's typical candle range
func (s *Scorer) sizeFactor(g gap.Event, mctx market.Context) factor {
	if mctx.AverageRange <= 0 {
		return missing()
	}
	// A gap the size of a typical range scores 0.5; twice that saturates
	return present(g.Size / mctx.AverageRange / 2)
}

// speedFactor rates how quickly the gap formed; the canonical 3-bar pattern
// scores full marks, slower formations decay
func (s *Scorer) speedFactor(g gap.Event) factor {
	if g.FormationBars <= 0 {
		return missing()
	}
	if g.FormationBars <= 3 {
		return present(1.0)
	}
	return present(1.0 - 0.15*float64(g.FormationBars-3))
}

// volumeFactor rates surrounding activity against the average
func (s *Scorer) volumeFactor(mctx market.Context) factor {
	if mctx.AverageVolume <= 0 || mctx.LastVolume <= 0 {
		return missing()
	}
	return present(mctx.LastVolume / mctx.AverageVolume / 2)
}

// marketFactor rates agreement between gap direction and the broader trend
func (s *Scorer) marketFactor(g gap.Event, mctx market.Context) factor {
	if mctx.CurrentPrice <= 0 {
		return missing()
	}
	if g.Direction == market.DirectionUp {
		return present(0.5 + 0.5*mctx.TrendStrength)
	}
	return present(0.5 - 0.5*mctx.TrendStrength)
}

// distanceFactor rates proximity of the gap to the current price
func (s *Scorer) distanceFactor(g gap.Event, mctx market.Context) factor {
	if mctx.CurrentPrice <= 0 || s.config.MaxDistancePercent <= 0 {
		return missing()
	}
	distPct := math.Abs(g.Midpoint()-mctx.CurrentPrice) / mctx.CurrentPrice * 100
	return present(1.0 - distPct/s.config.MaxDistancePercent)
}

// confluenceFactor rates multi-timeframe agreement; no group means zero, not
// neutral
func (s *Scorer) confluenceFactor(group *confluence.Group) factor {
	if group == nil {
		return present(0)
	}
	return present(group.Strength / 10)
}

// sessionFactor rates how favorable the active session is
func (s *Scorer) sessionFactor(mctx market.Context) factor {
	if mctx.ActiveSession == "" {
		return missing()
	}
	fav, ok := s.config.SessionFavorable[mctx.ActiveSession]
	if !ok {
		return missing()
	}
	return present(fav)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
