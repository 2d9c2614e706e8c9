// Package cycle enforces rolling 24-hour trading limits: a profit target,
// a loss limit and a trade count cap. Reaching a terminal status halts new
// entries until the cycle expires and hard-resets.
package cycle

import (
	"fmt"
	"sync"
	"time"
)

// Status is the cycle state
type Status string

const (
	StatusOpen          Status = "OPEN"
	StatusTargetReached Status = "TARGET_REACHED"
	StatusLimitReached  Status = "LIMIT_REACHED"
)

// Posture summarizes how close the cycle is to a boundary, for sizing
type Posture string

const (
	PostureNormal     Posture = "NORMAL"
	PostureNearTarget Posture = "NEAR_TARGET"
	PostureNearLimit  Posture = "NEAR_LIMIT"
)

// Postures lists all postures, used for multiplier table checks
var Postures = []Posture{PostureNormal, PostureNearTarget, PostureNearLimit}

// Config holds the cycle boundaries
type Config struct {
	ProfitTarget  float64       `json:"profit_target"` // positive
	LossLimit     float64       `json:"loss_limit"`    // positive magnitude
	MaxTrades     int           `json:"max_trades"`
	Duration      time.Duration `json:"duration"`
	NearThreshold float64       `json:"near_threshold"` // fraction of a boundary that flips the posture
}

// DefaultConfig returns a conservative daily cycle
func DefaultConfig() *Config {
	return &Config{
		ProfitTarget:  500.0,
		LossLimit:     250.0,
		MaxTrades:     10,
		Duration:      24 * time.Hour,
		NearThreshold: 0.75,
	}
}

// Validate checks boundary sanity
func (c *Config) Validate() error {
	if c.ProfitTarget <= 0 {
		return fmt.Errorf("profit target must be positive, got %f", c.ProfitTarget)
	}
	if c.LossLimit <= 0 {
		return fmt.Errorf("loss limit must be a positive magnitude, got %f", c.LossLimit)
	}
	if c.MaxTrades <= 0 {
		return fmt.Errorf("max trades must be positive, got %d", c.MaxTrades)
	}
	if c.Duration <= 0 {
		return fmt.Errorf("cycle duration must be positive, got %s", c.Duration)
	}
	if c.NearThreshold <= 0 || c.NearThreshold >= 1 {
		return fmt.Errorf("near threshold must be in (0, 1), got %f", c.NearThreshold)
	}
	return nil
}

// Snapshot is a point-in-time view of the cycle
type Snapshot struct {
	Status      Status    `json:"status"`
	Posture     Posture   `json:"posture"`
	RealizedPL  float64   `json:"realized_pl"`
	Trades      int       `json:"trades"`
	Pending     int       `json:"pending"`
	RiskUsedPct float64   `json:"risk_used_pct"`
	StartedAt   time.Time `json:"started_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Eligibility is the outcome of a cycle gate check
type Eligibility struct {
	Allowed bool   `json:"allowed"`
	Status  Status `json:"status"`
	Reason  string `json:"reason,omitempty"`
}

// Tracker accumulates realized results within the rolling cycle window.
// Reserved-but-unclosed trades count toward the trade cap so concurrent
// entries cannot overrun it.
type Tracker struct {
	mu          sync.Mutex
	config      *Config
	realizedPL  float64
	trades      int
	pending     int
	riskUsedPct float64
	startedAt   time.Time
	now         func() time.Time
}

// NewTracker creates a cycle tracker; the first cycle starts immediately
func NewTracker(config *Config) *Tracker {
	if config == nil {
		config = DefaultConfig()
	}
	t := &Tracker{config: config, now: time.Now}
	t.startedAt = t.now().UTC()
	return t
}

// RecordResult adds a closed trade's realized profit or loss to the cycle.
// A closing trade consumes its pending reservation when one is held.
func (t *Tracker) RecordResult(pnl float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.resetIfExpiredLocked()
	t.realizedPL += pnl
	t.trades++
	if t.pending > 0 {
		t.pending--
	}
}

// CheckEligibility reports whether a new trade may open in this cycle. This
// is an advisory read; callers that go on to commit a trade must hold a
// reservation from ReserveTrade.
func (t *Tracker) CheckEligibility() Eligibility {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.resetIfExpiredLocked()
	return t.eligibilityLocked()
}

// ReserveTrade atomically checks eligibility and, when allowed, holds one
// slot against the trade cap and charges the given risk fraction. The check
// and the hold happen under one lock so concurrent callers can never overrun
// the cap together. A failed reservation holds nothing.
func (t *Tracker) ReserveTrade(riskPct float64) Eligibility {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.resetIfExpiredLocked()

	e := t.eligibilityLocked()
	if e.Allowed {
		t.pending++
		t.riskUsedPct += riskPct
	}
	return e
}

// ReleaseTrade returns a reservation taken by ReserveTrade, for callers
// whose trade was abandoned before execution
func (t *Tracker) ReleaseTrade(riskPct float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.resetIfExpiredLocked()

	if t.pending > 0 {
		t.pending--
	}
	t.riskUsedPct -= riskPct
	if t.riskUsedPct < 0 {
		t.riskUsedPct = 0
	}
}

func (t *Tracker) eligibilityLocked() Eligibility {
	status := t.statusLocked()
	switch status {
	case StatusTargetReached:
		return Eligibility{Status: status, Reason: fmt.Sprintf("cycle profit target %.2f reached", t.config.ProfitTarget)}
	case StatusLimitReached:
		if t.realizedPL <= -t.config.LossLimit {
			return Eligibility{Status: status, Reason: fmt.Sprintf("cycle loss limit %.2f reached", t.config.LossLimit)}
		}
		return Eligibility{Status: status, Reason: fmt.Sprintf("cycle trade cap %d reached", t.config.MaxTrades)}
	}
	if t.trades+t.pending >= t.config.MaxTrades {
		return Eligibility{Status: status, Reason: fmt.Sprintf("cycle trade cap %d reached by open reservations", t.config.MaxTrades)}
	}
	return Eligibility{Allowed: true, Status: status}
}

// Snapshot returns the current cycle view
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.resetIfExpiredLocked()

	return Snapshot{
		Status:      t.statusLocked(),
		Posture:     t.postureLocked(),
		RealizedPL:  t.realizedPL,
		Trades:      t.trades,
		Pending:     t.pending,
		RiskUsedPct: t.riskUsedPct,
		StartedAt:   t.startedAt,
		ExpiresAt:   t.startedAt.Add(t.config.Duration),
	}
}

// Posture returns the sizing posture for the current cycle
func (t *Tracker) Posture() Posture {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.resetIfExpiredLocked()
	return t.postureLocked()
}

// Target takes precedence over the limit: a trade that lands exactly on the
// target while also hitting the trade cap still counts as a win.
func (t *Tracker) statusLocked() Status {
	if t.realizedPL >= t.config.ProfitTarget {
		return StatusTargetReached
	}
	if t.realizedPL <= -t.config.LossLimit || t.trades >= t.config.MaxTrades {
		return StatusLimitReached
	}
	return StatusOpen
}

func (t *Tracker) postureLocked() Posture {
	if t.realizedPL >= t.config.ProfitTarget*t.config.NearThreshold {
		return PostureNearTarget
	}
	if t.realizedPL <= -t.config.LossLimit*t.config.NearThreshold {
		return PostureNearLimit
	}
	return PostureNormal
}

// A new cycle starts at expiry regardless of the prior cycle's status
func (t *Tracker) resetIfExpiredLocked() {
	now := t.now().UTC()
	for now.Sub(t.startedAt) >= t.config.Duration {
		t.startedAt = t.startedAt.Add(t.config.Duration)
		t.realizedPL = 0
		t.trades = 0
		t.pending = 0
		t.riskUsedPct = 0
	}
}
