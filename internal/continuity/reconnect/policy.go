// Package reconnect computes reconnection backoff and fallback guidance.
//
// Everything here is a pure function over a Config record; the orchestrator
// consults it when a client reports a failed reconnection attempt.
package reconnect

import "time"

// Fallback option identifiers surfaced to clients.
const (
	FallbackManualReconnect = "manual_reconnect"
	FallbackLocalState      = "local_state"
	FallbackNewGame         = "new_game"
)

// localStateWindow bounds how long after a disconnect the client-side cached
// state is still worth offering.
const localStateWindow = 5 * time.Minute

// newGameAttemptThreshold is the attempt count at which starting over is
// offered as a fallback.
const newGameAttemptThreshold = 5

// Config holds the backoff parameters.
type Config struct {
	MaxAttempts       int
	BaseDelay         time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier int
}

// DefaultConfig returns the production backoff parameters.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:       5,
		BaseDelay:         time.Second,
		MaxDelay:          16 * time.Second,
		BackoffMultiplier: 2,
	}
}

// DelayForAttempt returns the wait before attempt n (1-based):
// BaseDelay * BackoffMultiplier^(n-1), capped at MaxDelay. Attempts below 1
// are treated as attempt 1.
func (c Config) DelayForAttempt(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	delay := c.BaseDelay
	for i := 1; i < n; i++ {
		delay *= time.Duration(c.BackoffMultiplier)
		if delay >= c.MaxDelay {
			return c.MaxDelay
		}
	}
	if delay > c.MaxDelay {
		return c.MaxDelay
	}
	return delay
}

// Exhausted reports whether attemptCount has reached the attempt ceiling.
func (c Config) Exhausted(attemptCount int) bool {
	return attemptCount >= c.MaxAttempts
}

// FallbackOptions returns the ordered fallback list for a disconnected
// player: manual reconnection always, the locally cached state while it is
// still fresh, and a new game once retries have clearly stalled.
func FallbackOptions(disconnectedAt time.Time, attemptCount int, now time.Time) []string {
	options := []string{FallbackManualReconnect}
	if !disconnectedAt.IsZero() && now.Sub(disconnectedAt) < localStateWindow {
		options = append(options, FallbackLocalState)
	}
	if attemptCount >= newGameAttemptThreshold {
		options = append(options, FallbackNewGame)
	}
	return options
}
