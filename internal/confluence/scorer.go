// Package confluence cross-references gaps across timeframes and scores how
// strongly they agree.
package confluence

import (
	"fmt"
	"math"
	"sort"
	"time"

	"gap-trading-bot/internal/gap"
	"gap-trading-bot/internal/market"
)

// Group represents two or more gaps from different timeframes that overlap
// in time and price. Read-only after creation; recomputed each pipeline pass.
type Group struct {
	GapIDs     []string           `json:"gap_ids"`
	Direction  market.Direction   `json:"direction"`
	Strength   float64            `json:"strength"` // 0-10
	Timeframes []market.Timeframe `json:"timeframes"`
}

// TimeframeCount returns the number of distinct timeframes in the group
func (g *Group) TimeframeCount() int {
	return len(g.Timeframes)
}

// Config holds confluence scoring weights and thresholds
type Config struct {
	TemporalWeight float64       `json:"temporal_weight"`
	PriceWeight    float64       `json:"price_weight"`
	SizeWeight     float64       `json:"size_weight"`
	MinStrength    float64       `json:"min_strength"` // 0-10, pairs below are discarded
	MaxLookback    time.Duration `json:"max_lookback"` // Temporal overlap normalization window
}

// DefaultConfig returns equal weights and a permissive minimum
func DefaultConfig() *Config {
	return &Config{
		TemporalWeight: 1.0 / 3.0,
		PriceWeight:    1.0 / 3.0,
		SizeWeight:     1.0 / 3.0,
		MinStrength:    2.0,
		MaxLookback:    4 * time.Hour,
	}
}

// Validate checks that the weights form a usable combination
func (c *Config) Validate() error {
	total := c.TemporalWeight + c.PriceWeight + c.SizeWeight
	if total < 0.99 || total > 1.01 {
		return fmt.Errorf("confluence weights must sum to 1.0, got %.2f", total)
	}
	if c.MaxLookback <= 0 {
		return fmt.Errorf("confluence max lookback must be positive")
	}
	return nil
}

// Scorer computes confluence groups from the current ACTIVE gap set. It holds
// no persistent state between passes.
type Scorer struct {
	config *Config
}

// NewScorer creates a confluence scorer
func NewScorer(config *Config) *Scorer {
	if config == nil {
		config = DefaultConfig()
	}
	return &Scorer{config: config}
}

type pair struct {
	a, b     *gap.Event
	strength float64
}

// Score groups ACTIVE gaps by direction, scores every cross-timeframe pair,
// and merges qualifying pairs transitively into groups sharing any member.
func (s *Scorer) Score(gaps []gap.Event) []Group {
	byDirection := map[market.Direction][]*gap.Event{}
	for i := range gaps {
		if gaps[i].Status != gap.StatusActive {
			continue
		}
		byDirection[gaps[i].Direction] = append(byDirection[gaps[i].Direction], &gaps[i])
	}

	var groups []Group
	for dir, members := range byDirection {
		groups = append(groups, s.scoreDirection(dir, members)...)
	}

	// Stable output order: strongest first
	sort.Slice(groups, func(i, j int) bool { return groups[i].Strength > groups[j].Strength })
	return groups
}

func (s *Scorer) scoreDirection(dir market.Direction, members []*gap.Event) []Group {
	var pairs []pair
	for i := 0; i < len(members); i++ {
		for j := i + 1; j < len(members); j++ {
			if members[i].Timeframe == members[j].Timeframe {
				continue
			}
			strength := s.pairStrength(members[i], members[j])
			if strength >= s.config.MinStrength {
				pairs = append(pairs, pair{a: members[i], b: members[j], strength: strength})
			}
		}
	}
	if len(pairs) == 0 {
		return nil
	}

	// Union-find over gap IDs to merge pairs sharing any member
	parent := map[string]string{}
	var find func(string) string
	find = func(id string) string {
		if parent[id] != id {
			parent[id] = find(parent[id])
		}
		return parent[id]
	}
	union := func(a, b string) {
		parent[find(a)] = find(b)
	}
	for _, p := range pairs {
		for _, id := range []string{p.a.ID, p.b.ID} {
			if _, ok := parent[id]; !ok {
				parent[id] = id
			}
		}
		union(p.a.ID, p.b.ID)
	}

	roots := map[string]*Group{}
	strengths := map[string]float64{}
	events := map[string]*gap.Event{}
	for _, p := range pairs {
		events[p.a.ID] = p.a
		events[p.b.ID] = p.b
		root := find(p.a.ID)
		if p.strength > strengths[root] {
			strengths[root] = p.strength
		}
	}
	for id, ev := range events {
		root := find(id)
		grp, ok := roots[root]
		if !ok {
			grp = &Group{Direction: dir}
			roots[root] = grp
		}
		grp.GapIDs = append(grp.GapIDs, ev.ID)
		grp.Timeframes = appendTimeframe(grp.Timeframes, ev.Timeframe)
	}

	out := make([]Group, 0, len(roots))
	for root, grp := range roots {
		grp.Strength = strengths[root]
		sort.Strings(grp.GapIDs)
		out = append(out, *grp)
	}
	return out
}

// pairStrength combines temporal overlap, price overlap and size similarity
// into a 0-10 score
func (s *Scorer) pairStrength(a, b *gap.Event) float64 {
	temporal := 1.0 - math.Abs(a.FormationTime.Sub(b.FormationTime).Seconds())/s.config.MaxLookback.Seconds()
	temporal = clamp01(temporal)

	price := priceOverlap(a, b)
	size := sizeRatio(a, b)

	weighted := temporal*s.config.TemporalWeight + price*s.config.PriceWeight + size*s.config.SizeWeight
	return clamp01(weighted) * 10
}

// priceOverlap returns intersection-over-union of the two gap intervals
func priceOverlap(a, b *gap.Event) float64 {
	low := math.Max(a.PriceLow, b.PriceLow)
	high := math.Min(a.PriceHigh, b.PriceHigh)
	if high <= low {
		return 0
	}
	intersection := high - low
	union := math.Max(a.PriceHigh, b.PriceHigh) - math.Min(a.PriceLow, b.PriceLow)
	if union <= 0 {
		return 0
	}
	return intersection / union
}

func sizeRatio(a, b *gap.Event) float64 {
	if a.Size <= 0 || b.Size <= 0 {
		return 0
	}
	return math.Min(a.Size, b.Size) / math.Max(a.Size, b.Size)
}

// GroupFor selects the group containing the gap. When a gap appears in
// several groups of equal strength, the group spanning more distinct
// timeframes wins.
func GroupFor(gapID string, groups []Group) *Group {
	var best *Group
	for i := range groups {
		if !containsID(groups[i].GapIDs, gapID) {
			continue
		}
		if best == nil ||
			groups[i].Strength > best.Strength ||
			(groups[i].Strength == best.Strength && groups[i].TimeframeCount() > best.TimeframeCount()) {
			best = &groups[i]
		}
	}
	return best
}

func containsID(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func appendTimeframe(tfs []market.Timeframe, tf market.Timeframe) []market.Timeframe {
	for _, v := range tfs {
		if v == tf {
			return tfs
		}
	}
	return append(tfs, tf)
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
