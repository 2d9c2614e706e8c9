package cache

import (
	"context"
	"testing"
	"time"

	"gap-trading-bot/internal/ops"
)

// An unavailable cache must behave as an always-miss, never-error store.
func unavailableService() *Service {
	return &Service{config: DefaultConfig()}
}

func TestUnavailableCacheMisses(t *testing.T) {
	s := unavailableService()

	seen, err := s.Seen(context.Background(), "fp-1")
	if err != nil {
		t.Fatalf("unavailable cache must not error: %v", err)
	}
	if seen {
		t.Error("unavailable cache must report not seen")
	}
}

func TestUnavailableCacheMarkIsNoop(t *testing.T) {
	s := unavailableService()
	if err := s.Mark(context.Background(), "fp-1", time.Minute); err != nil {
		t.Fatalf("mark on unavailable cache must not error: %v", err)
	}
	if seen, _ := s.Seen(context.Background(), "fp-1"); seen {
		t.Error("nothing should be remembered without a backend")
	}
}

func TestUnavailableSnapshotRoundTrip(t *testing.T) {
	s := unavailableService()

	if err := s.StoreSnapshot(context.Background(), ops.DashboardSnapshot{State: ops.StateReady}); err != nil {
		t.Fatalf("store on unavailable cache must not error: %v", err)
	}
	if _, ok := s.LoadSnapshot(context.Background()); ok {
		t.Error("load must miss when cache is unavailable")
	}
}

func TestAvailableFlag(t *testing.T) {
	if unavailableService().Available() {
		t.Error("service without a backend must report unavailable")
	}
}
