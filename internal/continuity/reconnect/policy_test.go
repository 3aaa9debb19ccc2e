package reconnect

import (
	"testing"
	"time"
)

func TestDelayForAttemptMonotoneAndCapped(t *testing.T) {
	cfg := DefaultConfig()

	if got := cfg.DelayForAttempt(1); got != cfg.BaseDelay {
		t.Fatalf("attempt 1: expected base delay %v, got %v", cfg.BaseDelay, got)
	}

	previous := time.Duration(0)
	for n := 1; n <= cfg.MaxAttempts; n++ {
		delay := cfg.DelayForAttempt(n)
		if delay < previous {
			t.Fatalf("delay decreased at attempt %d: %v < %v", n, delay, previous)
		}
		if delay > cfg.MaxDelay {
			t.Fatalf("delay exceeded cap at attempt %d: %v", n, delay)
		}
		previous = delay
	}
}

func TestDelayForAttemptValues(t *testing.T) {
	cfg := DefaultConfig()
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 16 * time.Second},
		{6, 16 * time.Second},
		{0, time.Second},
		{-3, time.Second},
	}
	for _, tc := range tests {
		if got := cfg.DelayForAttempt(tc.attempt); got != tc.want {
			t.Fatalf("attempt %d: expected %v, got %v", tc.attempt, tc.want, got)
		}
	}
}

func TestDelayStrictlyIncreasingBelowCap(t *testing.T) {
	cfg := DefaultConfig()
	for n := 1; n < 5; n++ {
		if cfg.DelayForAttempt(n+1) <= cfg.DelayForAttempt(n) {
			t.Fatalf("expected strictly increasing delays below the cap at attempt %d", n)
		}
	}
}

func TestFallbackOptionsAlwaysManual(t *testing.T) {
	now := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	cases := []struct {
		disconnectedAt time.Time
		attempts       int
	}{
		{time.Time{}, 0},
		{now.Add(-time.Minute), 1},
		{now.Add(-time.Hour), 10},
	}
	for _, tc := range cases {
		options := FallbackOptions(tc.disconnectedAt, tc.attempts, now)
		if len(options) == 0 || options[0] != FallbackManualReconnect {
			t.Fatalf("expected manual_reconnect first, got %v", options)
		}
	}
}

func TestFallbackLocalStateWindow(t *testing.T) {
	now := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

	fresh := FallbackOptions(now.Add(-4*time.Minute), 1, now)
	if !contains(fresh, FallbackLocalState) {
		t.Fatalf("expected local_state within 5 minutes, got %v", fresh)
	}

	stale := FallbackOptions(now.Add(-6*time.Minute), 1, now)
	if contains(stale, FallbackLocalState) {
		t.Fatalf("expected no local_state after 5 minutes, got %v", stale)
	}
}

func TestFallbackNewGameThreshold(t *testing.T) {
	now := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

	for attempts := 0; attempts < 5; attempts++ {
		if contains(FallbackOptions(now, attempts, now), FallbackNewGame) {
			t.Fatalf("expected no new_game at %d attempts", attempts)
		}
	}
	for _, attempts := range []int{5, 6, 20} {
		if !contains(FallbackOptions(now, attempts, now), FallbackNewGame) {
			t.Fatalf("expected new_game at %d attempts", attempts)
		}
	}
}

func contains(options []string, want string) bool {
	for _, o := range options {
		if o == want {
			return true
		}
	}
	return false
}
