package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-agent/internal/storage"
)

// Timer is the exam countdown. It decrements once per second while the
// running gate holds, persists every tick so a restarted agent resumes at the
// right position, and fires the expiry callback exactly once on reaching
// zero. No network I/O; the storage side effect is best-effort.
type Timer struct {
	mu        sync.Mutex
	examID    uuid.UUID
	remaining int
	paused    bool
	expired   bool

	store    *storage.Store
	gate     func() bool
	onExpire func()
	interval time.Duration
	log      zerolog.Logger
}

// NewTimer creates a Timer. gate is the controller-owned running gate;
// onExpire is invoked once, from the tick that reaches zero.
func NewTimer(store *storage.Store, gate func() bool, onExpire func(), log zerolog.Logger) *Timer {
	return &Timer{
		store:    store,
		gate:     gate,
		onExpire: onExpire,
		interval: time.Second,
		log:      log.With().Str("component", "timer").Logger(),
	}
}

// Start restores the persisted countdown position for the exam, falling back
// to initialSeconds for a fresh session.
func (t *Timer) Start(examID uuid.UUID, initialSeconds int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.examID = examID
	t.remaining = initialSeconds
	if state, ok := t.store.Load(examID); ok && state.RemainingSeconds != nil {
		t.remaining = *state.RemainingSeconds
		t.log.Info().Int("remaining", t.remaining).Msg("Resumed persisted countdown")
	}
	if t.remaining < 0 {
		t.remaining = 0
	}
}

// Run ticks until the countdown expires or ctx is cancelled. Call in a
// goroutine after Start.
func (t *Timer) Run(ctx context.Context) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if t.Tick() {
				return
			}
		}
	}
}

// Tick performs one gated decrement and persists the new position. Returns
// true once the countdown has expired.
func (t *Timer) Tick() bool {
	// Gate is evaluated outside the timer lock: it reads controller state.
	if !t.gate() {
		return false
	}

	t.mu.Lock()
	if t.expired {
		t.mu.Unlock()
		return true
	}
	if t.paused {
		t.mu.Unlock()
		return false
	}
	t.remaining--
	if t.remaining < 0 {
		t.remaining = 0
	}
	remaining := t.remaining
	expired := remaining == 0
	t.expired = expired
	examID := t.examID
	t.mu.Unlock()

	t.store.SaveRemaining(examID, remaining)

	if expired {
		t.log.Info().Msg("Countdown expired, triggering auto-submit")
		t.onExpire()
		return true
	}
	return false
}

// Stop suspends ticking without resetting the remaining time.
func (t *Timer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.paused = true
}

// Resume re-enables ticking after Stop.
func (t *Timer) Resume() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.paused = false
}

// Remaining returns the current countdown position in seconds.
func (t *Timer) Remaining() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.remaining
}
