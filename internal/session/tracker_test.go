package session

import (
	"testing"
	"time"

	"gap-trading-bot/internal/market"
)

func trackerAt(t *testing.T, at time.Time) *Tracker {
	t.Helper()
	tr := NewTracker(nil)
	tr.now = func() time.Time { return at }
	return tr
}

func utcHour(hour int) time.Time {
	return time.Date(2026, 3, 2, hour, 30, 0, 0, time.UTC)
}

func TestClassify(t *testing.T) {
	tr := NewTracker(nil)
	tests := []struct {
		hour int
		want market.Session
	}{
		{0, market.SessionAsia},
		{7, market.SessionAsia},
		{8, market.SessionLondon},
		{12, market.SessionLondon},
		{13, market.SessionOverlap},
		{15, market.SessionOverlap},
		{16, market.SessionNewYork},
		{20, market.SessionNewYork},
		{21, market.SessionOffHours},
		{23, market.SessionOffHours},
	}
	for _, tt := range tests {
		if got := tr.Classify(utcHour(tt.hour)); got != tt.want {
			t.Errorf("hour %d: got %s, want %s", tt.hour, got, tt.want)
		}
	}
}

func TestClassifyNonUTCInput(t *testing.T) {
	tr := NewTracker(nil)
	loc := time.FixedZone("UTC+5", 5*3600)
	// 14:00 local is 09:00 UTC, London
	at := time.Date(2026, 3, 2, 14, 0, 0, 0, loc)
	if got := tr.Classify(at); got != market.SessionLondon {
		t.Errorf("got %s, want LONDON", got)
	}
}

func TestBudgetExhaustion(t *testing.T) {
	tr := trackerAt(t, utcHour(1)) // ASIA, budget 2

	for i := 0; i < 2; i++ {
		e := tr.TryReserve(0.005)
		if !e.Allowed {
			t.Fatalf("trade %d should be allowed: %s", i+1, e.Reason)
		}
	}

	e := tr.CheckEligibility()
	if e.Allowed {
		t.Fatal("third ASIA trade should be rejected")
	}
	if e.Reason == "" || e.Remaining != 0 {
		t.Errorf("got %+v", e)
	}
	if e = tr.TryReserve(0.005); e.Allowed {
		t.Fatal("reservation past the budget should fail")
	}
}

func TestTryReserveIsAtomic(t *testing.T) {
	tr := trackerAt(t, utcHour(1))
	tr.config.Budgets[market.SessionAsia] = 1

	const callers = 8
	start := make(chan struct{})
	results := make(chan bool, callers)
	for i := 0; i < callers; i++ {
		go func() {
			<-start
			results <- tr.TryReserve(0.005).Allowed
		}()
	}
	close(start)

	allowed := 0
	for i := 0; i < callers; i++ {
		if <-results {
			allowed++
		}
	}
	if allowed != 1 {
		t.Errorf("%d reservations succeeded against a budget of 1", allowed)
	}
}

func TestRiskBudgetExhaustion(t *testing.T) {
	tr := trackerAt(t, utcHour(1)) // ASIA, risk budget 0.02

	if e := tr.TryReserve(0.015); !e.Allowed {
		t.Fatalf("first reservation should fit: %s", e.Reason)
	}
	e := tr.TryReserve(0.015)
	if e.Allowed {
		t.Fatal("second reservation should exceed the risk budget")
	}
	if e.Used != 1 {
		t.Errorf("failed reservation must not charge a trade, used = %d", e.Used)
	}
	if got := tr.RiskBudgetRemaining(); got < 0.0049 || got > 0.0051 {
		t.Errorf("risk remaining = %f, want about 0.005", got)
	}
}

func TestReleaseReturnsReservation(t *testing.T) {
	tr := trackerAt(t, utcHour(1))
	tr.config.Budgets[market.SessionAsia] = 1

	e := tr.TryReserve(0.01)
	if !e.Allowed {
		t.Fatalf("reservation should succeed: %s", e.Reason)
	}
	if e = tr.TryReserve(0.01); e.Allowed {
		t.Fatal("budget of 1 should be held")
	}

	tr.Release(market.SessionAsia, 0.01)
	e = tr.TryReserve(0.01)
	if !e.Allowed {
		t.Fatalf("released budget should be reusable: %s", e.Reason)
	}
	if e.RiskUsed != 0 {
		t.Errorf("risk used = %f before the new charge, want 0", e.RiskUsed)
	}
}

func TestOffHoursDisabled(t *testing.T) {
	tr := trackerAt(t, utcHour(22))
	e := tr.CheckEligibility()
	if e.Allowed {
		t.Fatal("off hours trading should be rejected")
	}
	if e.Session != market.SessionOffHours {
		t.Errorf("session = %s", e.Session)
	}
}

func TestDailyReset(t *testing.T) {
	now := utcHour(1)
	tr := NewTracker(nil)
	tr.now = func() time.Time { return now }

	tr.TryReserve(0.005)
	tr.TryReserve(0.005)
	if e := tr.CheckEligibility(); e.Allowed {
		t.Fatal("budget should be exhausted")
	}

	now = now.Add(24 * time.Hour)
	e := tr.CheckEligibility()
	if !e.Allowed {
		t.Fatalf("budget should reset on new UTC day: %s", e.Reason)
	}
	if e.Used != 0 {
		t.Errorf("used = %d after reset", e.Used)
	}
}

func TestBudgetsIndependentPerSession(t *testing.T) {
	now := utcHour(1) // ASIA
	tr := NewTracker(nil)
	tr.now = func() time.Time { return now }

	tr.TryReserve(0.005)
	tr.TryReserve(0.005)

	now = utcHour(9) // LONDON, same day
	e := tr.CheckEligibility()
	if !e.Allowed {
		t.Fatalf("LONDON budget should be untouched: %s", e.Reason)
	}
	if e.Used != 0 {
		t.Errorf("LONDON used = %d", e.Used)
	}
}

func TestConfigValidation(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}

	bad := DefaultConfig()
	bad.Windows[market.SessionAsia] = Window{StartHour: 9, EndHour: 3}
	if err := bad.Validate(); err == nil {
		t.Error("expected error for inverted window")
	}

	bad = DefaultConfig()
	bad.Budgets[market.SessionLondon] = -1
	if err := bad.Validate(); err == nil {
		t.Error("expected error for negative budget")
	}

	bad = DefaultConfig()
	bad.RiskBudgets[market.SessionLondon] = -0.01
	if err := bad.Validate(); err == nil {
		t.Error("expected error for negative risk budget")
	}
}
