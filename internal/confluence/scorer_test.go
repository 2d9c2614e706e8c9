package confluence

import (
	"testing"
	"time"

	"gap-trading-bot/internal/gap"
	"gap-trading-bot/internal/market"
)

func gapAt(id string, tf market.Timeframe, dir market.Direction, low, high float64, formed time.Time) gap.Event {
	return gap.Event{
		ID:            id,
		Symbol:        "EURUSD",
		Timeframe:     tf,
		Direction:     dir,
		PriceLow:      low,
		PriceHigh:     high,
		Size:          high - low,
		FormationTime: formed,
		Status:        gap.StatusActive,
	}
}

// TestOverlappingGapsFormGroup tests that two same-direction gaps from
// different timeframes overlapping in time and price form one group
func TestOverlappingGapsFormGroup(t *testing.T) {
	scorer := NewScorer(DefaultConfig())
	formed := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

	gaps := []gap.Event{
		gapAt("g1", market.Timeframe5m, market.DirectionUp, 100, 102, formed),
		gapAt("g2", market.Timeframe15m, market.DirectionUp, 100.5, 102.5, formed.Add(5*time.Minute)),
	}

	groups := scorer.Score(gaps)
	if len(groups) != 1 {
		t.Fatalf("Expected 1 group, got %d", len(groups))
	}
	grp := groups[0]
	if len(grp.GapIDs) != 2 {
		t.Errorf("Expected 2 members, got %d", len(grp.GapIDs))
	}
	if grp.Direction != market.DirectionUp {
		t.Errorf("Expected UP group, got %s", grp.Direction)
	}
	if grp.Strength < 0 || grp.Strength > 10 {
		t.Errorf("Strength %f outside [0,10]", grp.Strength)
	}
	if grp.TimeframeCount() != 2 {
		t.Errorf("Expected 2 distinct timeframes, got %d", grp.TimeframeCount())
	}
}

// TestSameTimeframePairsIgnored tests that gaps on the same timeframe never
// pair up
func TestSameTimeframePairsIgnored(t *testing.T) {
	scorer := NewScorer(DefaultConfig())
	formed := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

	gaps := []gap.Event{
		gapAt("g1", market.Timeframe5m, market.DirectionUp, 100, 102, formed),
		gapAt("g2", market.Timeframe5m, market.DirectionUp, 100.5, 102.5, formed),
	}

	if groups := scorer.Score(gaps); len(groups) != 0 {
		t.Errorf("Expected 0 groups for same-timeframe gaps, got %d", len(groups))
	}
}

// TestOppositeDirectionsNeverGroup tests that members always share direction
func TestOppositeDirectionsNeverGroup(t *testing.T) {
	scorer := NewScorer(DefaultConfig())
	formed := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

	gaps := []gap.Event{
		gapAt("g1", market.Timeframe5m, market.DirectionUp, 100, 102, formed),
		gapAt("g2", market.Timeframe15m, market.DirectionDown, 100.5, 102.5, formed),
	}

	if groups := scorer.Score(gaps); len(groups) != 0 {
		t.Errorf("Expected 0 groups for opposite directions, got %d", len(groups))
	}
}

// TestInactiveGapsExcluded tests that filled/expired gaps never enter groups
func TestInactiveGapsExcluded(t *testing.T) {
	scorer := NewScorer(DefaultConfig())
	formed := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

	filled := gapAt("g1", market.Timeframe5m, market.DirectionUp, 100, 102, formed)
	filled.Status = gap.StatusFilled

	gaps := []gap.Event{
		filled,
		gapAt("g2", market.Timeframe15m, market.DirectionUp, 100.5, 102.5, formed),
	}

	if groups := scorer.Score(gaps); len(groups) != 0 {
		t.Errorf("Expected 0 groups when one member is filled, got %d", len(groups))
	}
}

// TestDistantGapsBelowMinStrength tests the minimum strength cutoff
func TestDistantGapsBelowMinStrength(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinStrength = 5.0
	cfg.MaxLookback = time.Hour
	scorer := NewScorer(cfg)
	formed := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

	// No price overlap, far apart in time, dissimilar sizes
	gaps := []gap.Event{
		gapAt("g1", market.Timeframe5m, market.DirectionUp, 100, 100.5, formed),
		gapAt("g2", market.Timeframe15m, market.DirectionUp, 120, 130, formed.Add(55*time.Minute)),
	}

	if groups := scorer.Score(gaps); len(groups) != 0 {
		t.Errorf("Expected 0 groups below min strength, got %d", len(groups))
	}
}

// TestTransitiveMerge tests that pairs sharing a member merge into one group
func TestTransitiveMerge(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinStrength = 1.0
	scorer := NewScorer(cfg)
	formed := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

	gaps := []gap.Event{
		gapAt("g1", market.Timeframe5m, market.DirectionUp, 100, 102, formed),
		gapAt("g2", market.Timeframe15m, market.DirectionUp, 100.5, 102.5, formed),
		gapAt("g3", market.Timeframe1h, market.DirectionUp, 101, 103, formed.Add(10*time.Minute)),
	}

	groups := scorer.Score(gaps)
	if len(groups) != 1 {
		t.Fatalf("Expected 1 merged group, got %d", len(groups))
	}
	if len(groups[0].GapIDs) != 3 {
		t.Errorf("Expected 3 members after transitive merge, got %d", len(groups[0].GapIDs))
	}
	if groups[0].TimeframeCount() != 3 {
		t.Errorf("Expected 3 distinct timeframes, got %d", groups[0].TimeframeCount())
	}
}

// TestGroupForTieBreak tests that the group with more distinct timeframes is
// preferred at equal strength
func TestGroupForTieBreak(t *testing.T) {
	groups := []Group{
		{GapIDs: []string{"g1", "g2"}, Strength: 6.0, Timeframes: []market.Timeframe{market.Timeframe5m, market.Timeframe15m}},
		{GapIDs: []string{"g1", "g3", "g4"}, Strength: 6.0, Timeframes: []market.Timeframe{market.Timeframe5m, market.Timeframe15m, market.Timeframe1h}},
	}

	best := GroupFor("g1", groups)
	if best == nil {
		t.Fatal("Expected a group for g1")
	}
	if best.TimeframeCount() != 3 {
		t.Errorf("Expected the 3-timeframe group to win the tie, got %d timeframes", best.TimeframeCount())
	}
}

// TestConfigValidation tests weight validation
func TestConfigValidation(t *testing.T) {
	cfg := &Config{TemporalWeight: 0.5, PriceWeight: 0.5, SizeWeight: 0.5, MaxLookback: time.Hour}
	if err := cfg.Validate(); err == nil {
		t.Error("Expected error for weights summing to 1.5")
	}

	if err := DefaultConfig().Validate(); err != nil {
		t.Errorf("Default config should validate, got %v", err)
	}
}
