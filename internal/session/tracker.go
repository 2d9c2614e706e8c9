// Package session classifies wall-clock time into trading sessions and
// enforces per-session trade budgets. Counters reset at the UTC day
// boundary.
package session

import (
	"fmt"
	"sync"
	"time"

	"gap-trading-bot/internal/market"
)

// Window is a [StartHour, EndHour) span in UTC hours. EndHour 24 means
// midnight.
type Window struct {
	StartHour int `json:"start_hour"`
	EndHour   int `json:"end_hour"`
}

// Contains reports whether the UTC hour falls inside the window
func (w Window) Contains(hour int) bool {
	return hour >= w.StartHour && hour < w.EndHour
}

// Config holds session windows, budgets and enablement. RiskBudgets cap the
// summed per-trade risk fractions committed within a session; zero disables
// the session's risk budget.
type Config struct {
	Windows     map[market.Session]Window  `json:"windows"`
	Budgets     map[market.Session]int     `json:"budgets"`
	RiskBudgets map[market.Session]float64 `json:"risk_budgets"`
	Enabled     map[market.Session]bool    `json:"enabled"`
}

// DefaultConfig returns the standard UTC session layout. The overlap window
// takes precedence where London and New York intersect.
func DefaultConfig() *Config {
	return &Config{
		Windows: map[market.Session]Window{
			market.SessionAsia:    {StartHour: 0, EndHour: 8},
			market.SessionLondon:  {StartHour: 8, EndHour: 13},
			market.SessionOverlap: {StartHour: 13, EndHour: 16},
			market.SessionNewYork: {StartHour: 16, EndHour: 21},
		},
		Budgets: map[market.Session]int{
			market.SessionAsia:     2,
			market.SessionLondon:   4,
			market.SessionOverlap:  6,
			market.SessionNewYork:  4,
			market.SessionOffHours: 0,
		},
		RiskBudgets: map[market.Session]float64{
			market.SessionAsia:     0.02,
			market.SessionLondon:   0.04,
			market.SessionOverlap:  0.06,
			market.SessionNewYork:  0.04,
			market.SessionOffHours: 0,
		},
		Enabled: map[market.Session]bool{
			market.SessionAsia:     true,
			market.SessionLondon:   true,
			market.SessionOverlap:  true,
			market.SessionNewYork:  true,
			market.SessionOffHours: false,
		},
	}
}

// Validate checks window sanity and budget coverage
func (c *Config) Validate() error {
	for s, w := range c.Windows {
		if w.StartHour < 0 || w.EndHour > 24 || w.StartHour >= w.EndHour {
			return fmt.Errorf("invalid window for %s: [%d, %d)", s, w.StartHour, w.EndHour)
		}
	}
	for _, s := range market.Sessions {
		if _, ok := c.Budgets[s]; !ok {
			return fmt.Errorf("budget table missing entry for %s", s)
		}
		if c.Budgets[s] < 0 {
			return fmt.Errorf("budget for %s must not be negative", s)
		}
		if c.RiskBudgets[s] < 0 {
			return fmt.Errorf("risk budget for %s must not be negative", s)
		}
	}
	return nil
}

// Eligibility is the outcome of a session gate check
type Eligibility struct {
	Allowed       bool           `json:"allowed"`
	Session       market.Session `json:"session"`
	Used          int            `json:"used"`
	Budget        int            `json:"budget"`
	Remaining     int            `json:"remaining"`
	RiskUsed      float64        `json:"risk_used"`
	RiskBudget    float64        `json:"risk_budget"`
	RiskRemaining float64        `json:"risk_remaining"`
	Reason        string         `json:"reason,omitempty"`
}

// Tracker tracks session activity and enforces budgets
type Tracker struct {
	mu       sync.Mutex
	config   *Config
	counts   map[market.Session]int
	riskUsed map[market.Session]float64
	day      time.Time // UTC midnight of the counting day
	now      func() time.Time
}

// NewTracker creates a session tracker
func NewTracker(config *Config) *Tracker {
	if config == nil {
		config = DefaultConfig()
	}
	return &Tracker{
		config:   config,
		counts:   make(map[market.Session]int),
		riskUsed: make(map[market.Session]float64),
		now:      time.Now,
	}
}

// Classify maps a point in time to its session. Hours covered by no
// configured window are OFF_HOURS. The overlap window wins over London and
// New York where they intersect.
func (t *Tracker) Classify(at time.Time) market.Session {
	hour := at.UTC().Hour()
	if w, ok := t.config.Windows[market.SessionOverlap]; ok && w.Contains(hour) {
		return market.SessionOverlap
	}
	for _, s := range []market.Session{market.SessionAsia, market.SessionLondon, market.SessionNewYork} {
		if w, ok := t.config.Windows[s]; ok && w.Contains(hour) {
			return s
		}
	}
	return market.SessionOffHours
}

// Active returns the session in effect right now
func (t *Tracker) Active() market.Session {
	return t.Classify(t.now())
}

// CheckEligibility reports whether a trade may open in the current session.
// Disabled sessions and exhausted budgets are rejected with a reason. This
// is an advisory read: a passing check holds nothing, so callers that go on
// to commit a trade must reserve via TryReserve.
func (t *Tracker) CheckEligibility() Eligibility {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.resetIfNewDayLocked()
	return t.eligibilityLocked(0)
}

// TryReserve atomically checks eligibility and, when allowed, charges one
// trade and the given risk fraction against the current session. The check
// and the charge happen under one lock so concurrent callers can never
// overrun a budget together. A failed reservation charges nothing.
func (t *Tracker) TryReserve(riskPct float64) Eligibility {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.resetIfNewDayLocked()

	e := t.eligibilityLocked(riskPct)
	if e.Allowed {
		t.counts[e.Session]++
		t.riskUsed[e.Session] += riskPct
	}
	return e
}

// Release returns a reservation taken by TryReserve, for callers whose trade
// was abandoned before execution. The session is the one the reservation was
// taken in, which may differ from the session now active.
func (t *Tracker) Release(s market.Session, riskPct float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.resetIfNewDayLocked()

	if t.counts[s] > 0 {
		t.counts[s]--
	}
	t.riskUsed[s] -= riskPct
	if t.riskUsed[s] < 0 {
		t.riskUsed[s] = 0
	}
}

// RiskBudgetRemaining returns the unspent risk fraction for the session in
// effect right now
func (t *Tracker) RiskBudgetRemaining() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.resetIfNewDayLocked()

	s := t.Classify(t.now())
	remaining := t.config.RiskBudgets[s] - t.riskUsed[s]
	if remaining < 0 {
		return 0
	}
	return remaining
}

func (t *Tracker) eligibilityLocked(riskPct float64) Eligibility {
	s := t.Classify(t.now())
	budget := t.config.Budgets[s]
	used := t.counts[s]
	riskBudget := t.config.RiskBudgets[s]
	riskUsed := t.riskUsed[s]
	e := Eligibility{
		Session:       s,
		Used:          used,
		Budget:        budget,
		Remaining:     budget - used,
		RiskUsed:      riskUsed,
		RiskBudget:    riskBudget,
		RiskRemaining: riskBudget - riskUsed,
	}
	if e.Remaining < 0 {
		e.Remaining = 0
	}
	if e.RiskRemaining < 0 {
		e.RiskRemaining = 0
	}
	if !t.config.Enabled[s] {
		e.Reason = fmt.Sprintf("trading disabled during %s", s)
		return e
	}
	if used >= budget {
		e.Reason = fmt.Sprintf("%s budget of %d trades exhausted", s, budget)
		return e
	}
	if riskBudget > 0 && riskUsed+riskPct > riskBudget {
		e.Reason = fmt.Sprintf("%s risk budget of %.4f exhausted", s, riskBudget)
		return e
	}
	e.Allowed = true
	return e
}

// Counts returns a copy of the per-session trade counts for the current day
func (t *Tracker) Counts() map[market.Session]int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.resetIfNewDayLocked()

	out := make(map[market.Session]int, len(t.counts))
	for s, n := range t.counts {
		out[s] = n
	}
	return out
}

func (t *Tracker) resetIfNewDayLocked() {
	day := t.now().UTC().Truncate(24 * time.Hour)
	if !day.Equal(t.day) {
		t.counts = make(map[market.Session]int)
		t.riskUsed = make(map[market.Session]float64)
		t.day = day
	}
}
