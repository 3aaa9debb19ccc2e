package broadcast

import (
	"encoding/json"
	"sync"
	"testing"
	"time"
)

type sentFrame struct {
	gameID   string
	playerID string
	frame    Frame
}

type fakeSender struct {
	mu     sync.Mutex
	frames []sentFrame
}

func (s *fakeSender) Broadcast(gameID string, frame Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, sentFrame{gameID: gameID, frame: frame})
}

func (s *fakeSender) SendToPlayer(gameID, playerID string, frame Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, sentFrame{gameID: gameID, playerID: playerID, frame: frame})
}

func (s *fakeSender) sent() []sentFrame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sentFrame(nil), s.frames...)
}

// fakeScheduler records registrations and lets tests fire ticks by hand.
type fakeScheduler struct {
	mu        sync.Mutex
	recurring map[string]func()
	cancelled []string
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{recurring: make(map[string]func())}
}

func (s *fakeScheduler) After(key string, d time.Duration, fn func()) {}

func (s *fakeScheduler) Every(key string, d time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recurring[key] = fn
}

func (s *fakeScheduler) Cancel(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.recurring, key)
	s.cancelled = append(s.cancelled, key)
}

func (s *fakeScheduler) CancelPrefix(prefix string) {}

func (s *fakeScheduler) Stop() {}

func (s *fakeScheduler) tick(key string) bool {
	s.mu.Lock()
	fn, ok := s.recurring[key]
	s.mu.Unlock()
	if ok {
		fn()
	}
	return ok
}

func decodePayload(t *testing.T, frame Frame) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		t.Fatalf("payload decode: %v", err)
	}
	return payload
}

func newTestBroadcaster(t *testing.T) (*Broadcaster, *fakeSender, *fakeScheduler, *time.Time) {
	t.Helper()
	current := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	sender := &fakeSender{}
	sched := newFakeScheduler()
	b := New(sender, sched, func() time.Time { return current })
	return b, sender, sched, &current
}

func TestGamePausedFieldNames(t *testing.T) {
	b, sender, _, now := newTestBroadcaster(t)
	b.GamePaused("g1", "CURRENT_PLAYER_DISCONNECT", "Ana", "p1", now.Add(-time.Second))

	frames := sender.sent()
	if len(frames) != 1 {
		t.Fatalf("sent %d frames, want 1", len(frames))
	}
	if frames[0].gameID != "g1" || frames[0].playerID != "" {
		t.Fatalf("frame routing = %+v, want room broadcast to g1", frames[0])
	}
	if frames[0].frame.Type != "gamePaused" {
		t.Fatalf("Type = %q, want gamePaused", frames[0].frame.Type)
	}
	payload := decodePayload(t, frames[0].frame)
	for _, field := range []string{"gameId", "message", "reason", "playerName", "playerId", "pausedAt", "timestamp"} {
		if _, ok := payload[field]; !ok {
			t.Errorf("payload missing field %q: %v", field, payload)
		}
	}
	if payload["reason"] != "CURRENT_PLAYER_DISCONNECT" {
		t.Errorf("reason = %v", payload["reason"])
	}
	if payload["timestamp"] != "2025-06-01T12:00:00Z" {
		t.Errorf("timestamp = %v", payload["timestamp"])
	}
}

func TestGameResumedCarriesPauseDuration(t *testing.T) {
	b, sender, _, now := newTestBroadcaster(t)
	b.GameResumed("g1", "Ana", "p1", *now, 95*time.Second)

	payload := decodePayload(t, sender.sent()[0].frame)
	if payload["pauseDuration"] != float64(95000) {
		t.Fatalf("pauseDuration = %v, want 95000", payload["pauseDuration"])
	}
	if payload["formattedPauseDuration"] != "1m 35s" {
		t.Fatalf("formattedPauseDuration = %v", payload["formattedPauseDuration"])
	}
}

func TestPlayerWelcomeBackGoesToOnePlayer(t *testing.T) {
	b, sender, _, _ := newTestBroadcaster(t)
	b.PlayerWelcomeBack("g1", "p2", "Bo", 42*time.Second, true)

	frames := sender.sent()
	if frames[0].playerID != "p2" {
		t.Fatalf("playerID = %q, want direct send to p2", frames[0].playerID)
	}
	payload := decodePayload(t, frames[0].frame)
	if payload["isCurrentPlayer"] != true {
		t.Fatalf("isCurrentPlayer = %v, want true", payload["isCurrentPlayer"])
	}
	if payload["disconnectedDuration"] != float64(42000) {
		t.Fatalf("disconnectedDuration = %v", payload["disconnectedDuration"])
	}
}

func TestGracePeriodTickerLifecycle(t *testing.T) {
	b, sender, sched, now := newTestBroadcaster(t)
	b.StartGracePeriod("g1", "Ana", "p1", 2*time.Minute)

	frames := sender.sent()
	if len(frames) != 1 || frames[0].frame.Type != "gracePeriodStart" {
		t.Fatalf("frames = %+v, want one gracePeriodStart", frames)
	}
	payload := decodePayload(t, frames[0].frame)
	if payload["duration"] != float64(120000) {
		t.Fatalf("duration = %v, want 120000", payload["duration"])
	}
	if payload["formattedTimeRemaining"] != "2m 0s" {
		t.Fatalf("formattedTimeRemaining = %v, want 2m 0s", payload["formattedTimeRemaining"])
	}

	*now = now.Add(30 * time.Second)
	if !sched.tick("game:g1:grace-ticker") {
		t.Fatal("no recurring ticker registered for g1")
	}
	frames = sender.sent()
	update := frames[len(frames)-1]
	if update.frame.Type != "gracePeriodUpdate" {
		t.Fatalf("Type = %q, want gracePeriodUpdate", update.frame.Type)
	}
	payload = decodePayload(t, update.frame)
	if payload["timeRemaining"] != float64(90000) {
		t.Fatalf("timeRemaining = %v, want 90000", payload["timeRemaining"])
	}
	if payload["formattedTimeRemaining"] != "1m 30s" {
		t.Fatalf("formattedTimeRemaining = %v", payload["formattedTimeRemaining"])
	}

	// Past the deadline the ticker cancels itself without broadcasting.
	*now = now.Add(2 * time.Minute)
	sched.tick("game:g1:grace-ticker")
	if got := sender.sent(); got[len(got)-1].frame.Type != "gracePeriodUpdate" {
		t.Fatalf("unexpected frame after deadline: %q", got[len(got)-1].frame.Type)
	}
	if sched.tick("game:g1:grace-ticker") {
		t.Fatal("ticker still registered after deadline")
	}
}

func TestGracePeriodExpiredStopsTicker(t *testing.T) {
	b, sender, sched, _ := newTestBroadcaster(t)
	b.StartGracePeriod("g1", "Ana", "p1", 2*time.Minute)
	b.GracePeriodExpired("g1", "Ana", "p1")

	if sched.tick("game:g1:grace-ticker") {
		t.Fatal("ticker survived GracePeriodExpired")
	}
	frames := sender.sent()
	last := frames[len(frames)-1]
	if last.frame.Type != "gracePeriodExpired" {
		t.Fatalf("Type = %q, want gracePeriodExpired", last.frame.Type)
	}
	payload := decodePayload(t, last.frame)
	if payload["timeRemaining"] != float64(0) {
		t.Fatalf("timeRemaining = %v, want 0", payload["timeRemaining"])
	}
}

func TestContinuationOptionsShape(t *testing.T) {
	b, sender, _, _ := newTestBroadcaster(t)
	b.ContinuationOptions("g1", "Ana", []ContinuationOption{
		{ID: "skip_turn", Title: "Skip their turn", Description: "Play continues without Ana", Icon: "skip"},
	})

	payload := decodePayload(t, sender.sent()[0].frame)
	options, ok := payload["options"].([]any)
	if !ok || len(options) != 1 {
		t.Fatalf("options = %v, want one entry", payload["options"])
	}
	option := options[0].(map[string]any)
	for _, field := range []string{"id", "title", "description", "icon"} {
		if _, ok := option[field]; !ok {
			t.Errorf("option missing field %q: %v", field, option)
		}
	}
}

func TestVotingProgressTally(t *testing.T) {
	b, sender, _, _ := newTestBroadcaster(t)
	b.VotingProgress("g1", "Bo", "skip_turn", "Skip their turn", 1, 2, map[string]int{"skip_turn": 1}, false)

	payload := decodePayload(t, sender.sent()[0].frame)
	if payload["totalVotes"] != float64(1) || payload["totalPlayers"] != float64(2) {
		t.Fatalf("tally = %v/%v", payload["totalVotes"], payload["totalPlayers"])
	}
	counts := payload["voteCounts"].(map[string]any)
	if counts["skip_turn"] != float64(1) {
		t.Fatalf("voteCounts = %v", counts)
	}
	if payload["isComplete"] != false {
		t.Fatalf("isComplete = %v, want false", payload["isComplete"])
	}
}

func TestReconnectionGuidanceDirectSend(t *testing.T) {
	b, sender, _, _ := newTestBroadcaster(t)
	b.ReconnectionGuidance("g1", "p1", 4*time.Second, 3, 5, []string{"manual_reconnect"})

	frames := sender.sent()
	if frames[0].playerID != "p1" {
		t.Fatalf("playerID = %q, want p1", frames[0].playerID)
	}
	payload := decodePayload(t, frames[0].frame)
	if payload["nextAttemptDelay"] != float64(4000) {
		t.Fatalf("nextAttemptDelay = %v, want 4000", payload["nextAttemptDelay"])
	}
	if payload["attemptNumber"] != float64(3) || payload["maxAttempts"] != float64(5) {
		t.Fatalf("attempts = %v/%v", payload["attemptNumber"], payload["maxAttempts"])
	}
}

func TestGameStateCorruptedMessages(t *testing.T) {
	b, sender, _, _ := newTestBroadcaster(t)
	b.GameStateCorrupted("g1", true, true, []string{"reset started flag to false"})
	b.GameStateCorrupted("g1", false, false, nil)

	frames := sender.sent()
	repaired := decodePayload(t, frames[0].frame)
	if repaired["canContinue"] != true {
		t.Fatalf("canContinue = %v, want true", repaired["canContinue"])
	}
	actions := repaired["recoveryActions"].([]any)
	if len(actions) != 1 {
		t.Fatalf("recoveryActions = %v", actions)
	}
	fatal := decodePayload(t, frames[1].frame)
	if fatal["canContinue"] != false {
		t.Fatalf("canContinue = %v, want false", fatal["canContinue"])
	}
	if fatal["message"] == repaired["message"] {
		t.Fatal("fatal and repaired messages should differ")
	}
}

func TestFrameDegradesOnEncodeFailure(t *testing.T) {
	b, sender, _, _ := newTestBroadcaster(t)
	b.PlayerReconnected("g1", "p1", time.Now(), map[string]any{"bad": func() {}})

	frames := sender.sent()
	if len(frames) != 1 {
		t.Fatalf("sent %d frames, want 1", len(frames))
	}
	payload := decodePayload(t, frames[0].frame)
	if payload["gameId"] != "g1" {
		t.Fatalf("generic payload = %v", payload)
	}
	if _, ok := payload["message"]; !ok {
		t.Fatalf("generic payload missing message: %v", payload)
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, "0s"},
		{-5 * time.Second, "0s"},
		{45 * time.Second, "45s"},
		{95 * time.Second, "1m 35s"},
		{2 * time.Minute, "2m 0s"},
		{63 * time.Minute, "1h 3m"},
	}
	for _, test := range tests {
		if got := FormatDuration(test.d); got != test.want {
			t.Errorf("FormatDuration(%v) = %q, want %q", test.d, got, test.want)
		}
	}
}
