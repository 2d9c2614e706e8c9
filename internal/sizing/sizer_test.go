package sizing

import (
	"math"
	"testing"

	"github.com/rs/zerolog"

	"gap-trading-bot/internal/cycle"
	"gap-trading-bot/internal/market"
	"gap-trading-bot/internal/quality"
)

func newTestSizer(config *Config) *Sizer {
	return NewSizer(config, zerolog.Nop())
}

func baseInput() Input {
	return Input{
		Quality:      quality.LevelMedium,
		Session:      market.SessionLondon,
		Posture:      cycle.PostureNormal,
		Volatility:   market.VolatilityNormal,
		Equity:       10000,
		FreeMargin:   10000,
		MarginPerLot: 1000,
		StopDistance: 2.0,
	}
}

func TestRiskFormula(t *testing.T) {
	s := newTestSizer(nil)
	r := s.Size(baseInput())

	// 1% of 10000 equity at all-1.0 multipliers is 100 risked; with a 2.0
	// stop and pip value 10 that is 5 lots, clamped to the 1.00 max lot.
	if r.Multipliers.Total != 1.0 {
		t.Errorf("total multiplier = %f, want 1.0", r.Multipliers.Total)
	}
	if r.Lot != 1.00 {
		t.Errorf("lot = %f, want clamped to max 1.00", r.Lot)
	}
	if !r.Clamped {
		t.Error("max-lot clamp should be flagged")
	}
	wantRisk := 1.00 * 2.0 * 10.0
	if r.RiskAmount != wantRisk {
		t.Errorf("risk amount = %f, want %f", r.RiskAmount, wantRisk)
	}
	if r.RiskPct != wantRisk/10000 {
		t.Errorf("risk pct = %f, want %f", r.RiskPct, wantRisk/10000)
	}
}

func TestUnclampedLotMatchesRisk(t *testing.T) {
	s := newTestSizer(nil)
	in := baseInput()
	in.StopDistance = 20.0

	r := s.Size(in)
	// risk 100, stop 20, pip value 10: exactly 0.5 lots
	if r.Lot != 0.5 {
		t.Errorf("lot = %f, want 0.5", r.Lot)
	}
	if r.Clamped || r.Emergency {
		t.Errorf("got %+v", r)
	}
	if r.RiskAmount != 100 {
		t.Errorf("risk amount = %f, want 100", r.RiskAmount)
	}
}

func TestBestInputsOutsizeWorst(t *testing.T) {
	s := newTestSizer(nil)

	best := baseInput()
	best.Quality = quality.LevelPremium
	best.Session = market.SessionOverlap
	best.Volatility = market.VolatilityLow
	best.StopDistance = 20.0

	worst := baseInput()
	worst.Quality = quality.LevelPoor
	worst.Session = market.SessionOffHours
	worst.Posture = cycle.PostureNearLimit
	worst.Volatility = market.VolatilityExtreme
	worst.StopDistance = 20.0

	rb, rw := s.Size(best), s.Size(worst)
	if rb.Emergency || rw.Emergency {
		t.Fatal("neither result should be emergency")
	}
	if rb.Lot < rw.Lot {
		t.Errorf("best-case lot %f should not be below worst-case lot %f", rb.Lot, rw.Lot)
	}
	if rb.RiskPct < rw.RiskPct {
		t.Errorf("best-case risk pct %f should not be below worst-case %f", rb.RiskPct, rw.RiskPct)
	}
}

func TestMultiplierComposition(t *testing.T) {
	s := newTestSizer(nil)
	in := baseInput()
	in.Session = market.SessionAsia     // 0.8
	in.Posture = cycle.PostureNearLimit // 0.5
	in.StopDistance = 20.0

	r := s.Size(in)
	wantTotal := 1.0 * 0.8 * 0.5 * 1.0
	if r.Multipliers.Total != wantTotal {
		t.Errorf("total = %f, want %f", r.Multipliers.Total, wantTotal)
	}
	// risk 10000 * 0.01 * 0.4 = 40; lot 40 / (20 * 10) = 0.2
	if math.Abs(r.Lot-0.2) > 1e-9 {
		t.Errorf("lot = %f, want 0.2", r.Lot)
	}
}

func TestRiskCeiling(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BaseRiskPct = 0.04
	s := newTestSizer(cfg)

	in := baseInput()
	in.Quality = quality.LevelPremium  // 1.5
	in.Session = market.SessionOverlap // 1.2
	// A wide stop keeps the lot far from the max-lot clamp
	in.StopDistance = 200.0
	in.FreeMargin = 1e9

	r := s.Size(in)
	// 0.04 * 1.8 = 0.072 exceeds the 0.05 ceiling
	if r.RiskPct > cfg.RiskCeilingPct+1e-9 {
		t.Errorf("risk pct %f exceeds ceiling %f", r.RiskPct, cfg.RiskCeilingPct)
	}
	if !r.Clamped {
		t.Error("ceiling clamp should be flagged")
	}
}

func TestRiskNeverExceedsCeiling(t *testing.T) {
	s := newTestSizer(nil)
	ceiling := DefaultConfig().RiskCeilingPct

	for _, q := range quality.Levels {
		for _, sess := range market.Sessions {
			for _, p := range cycle.Postures {
				for _, v := range market.VolatilityLevels {
					in := baseInput()
					in.Quality, in.Session, in.Posture, in.Volatility = q, sess, p, v
					in.StopDistance = 50.0
					r := s.Size(in)
					if r.RiskPct > ceiling+1e-9 {
						t.Errorf("%s/%s/%s/%s: risk pct %f exceeds ceiling %f", q, sess, p, v, r.RiskPct, ceiling)
					}
				}
			}
		}
	}
}

func TestMarginCap(t *testing.T) {
	s := newTestSizer(nil)
	in := baseInput()
	in.FreeMargin = 800
	in.MarginPerLot = 2000
	in.StopDistance = 20.0 // uncapped lot would be 0.5

	r := s.Size(in)
	// 800 * 0.5 / 2000 = 0.2 lots of margin headroom
	if r.Lot != 0.2 {
		t.Errorf("lot = %f, want margin-capped 0.2", r.Lot)
	}
	if !r.Clamped {
		t.Error("margin cap should flag the clamp")
	}
}

func TestInsufficientMarginIsEmergency(t *testing.T) {
	s := newTestSizer(nil)
	in := baseInput()
	in.FreeMargin = 10
	in.MarginPerLot = 5000

	r := s.Size(in)
	if !r.Emergency {
		t.Fatal("margin headroom below min lot should degrade to emergency")
	}
	if r.Lot != DefaultConfig().MinLot {
		t.Errorf("emergency lot = %f, want min lot", r.Lot)
	}
}

func TestMinLotClamp(t *testing.T) {
	s := newTestSizer(nil)
	in := baseInput()
	in.Equity = 100
	in.StopDistance = 500.0 // lot 1 / 5000 = 0.0002, below min

	r := s.Size(in)
	if r.Lot != 0.01 {
		t.Errorf("lot = %f, want clamped to 0.01", r.Lot)
	}
	if !r.Clamped {
		t.Error("clamp should be flagged")
	}
}

func TestEmergencyOnUnknownEnum(t *testing.T) {
	s := newTestSizer(nil)
	in := baseInput()
	in.Quality = quality.Level("BOGUS")

	r := s.Size(in)
	if !r.Emergency {
		t.Fatal("unknown quality level should degrade to emergency")
	}
	if r.Lot != DefaultConfig().MinLot {
		t.Errorf("emergency lot = %f, want min lot", r.Lot)
	}
	if r.RiskAmount == 0 {
		t.Error("emergency result should still report the min-lot risk")
	}
}

func TestEmergencyOnBadInputs(t *testing.T) {
	s := newTestSizer(nil)
	cases := []struct {
		name   string
		mutate func(*Input)
	}{
		{"zero equity", func(in *Input) { in.Equity = 0 }},
		{"nan equity", func(in *Input) { in.Equity = math.NaN() }},
		{"zero stop distance", func(in *Input) { in.StopDistance = 0 }},
		{"negative stop distance", func(in *Input) { in.StopDistance = -1 }},
		{"zero margin per lot", func(in *Input) { in.MarginPerLot = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := baseInput()
			tc.mutate(&in)
			if r := s.Size(in); !r.Emergency {
				t.Errorf("expected emergency result, got %+v", r)
			}
		})
	}
}

func TestConfigValidation(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}

	bad := DefaultConfig()
	delete(bad.CycleMultipliers, cycle.PostureNearLimit)
	if err := bad.Validate(); err == nil {
		t.Error("expected error for incomplete cycle table")
	}

	bad = DefaultConfig()
	bad.MinLot = 2
	if err := bad.Validate(); err == nil {
		t.Error("expected error for min lot above max lot")
	}

	bad = DefaultConfig()
	bad.RiskCeilingPct = 0.005
	if err := bad.Validate(); err == nil {
		t.Error("expected error for ceiling below base risk")
	}

	bad = DefaultConfig()
	bad.PipValue = 0
	if err := bad.Validate(); err == nil {
		t.Error("expected error for zero pip value")
	}
}
