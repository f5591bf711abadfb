// services/rate_limiter.go
package services

import (
	"context"
	"sync"
	"time"

	"geostats-pipeline/models"

	"github.com/jonboulle/clockwork"
)

// DefaultModeIntervals is the per-round external-call budget for each game
// mode. Team duels resolve up to 3 coordinates per round, duels 2-3,
// singleplayer 2, so their slots are sized accordingly.
func DefaultModeIntervals() map[models.GameMode]time.Duration {
	return map[models.GameMode]time.Duration{
		models.ModeTeamDuel:     5 * time.Second,
		models.ModeDuel:         3 * time.Second,
		models.ModeSinglePlayer: 2 * time.Second,
	}
}

// ModeLimiter is a fixed-interval gate differentiated by game mode: each
// mode hands out one slot per interval, callers block until their slot.
// Calls are never dropped, only delayed. Safe for concurrent use.
type ModeLimiter struct {
	clock     clockwork.Clock
	intervals map[models.GameMode]time.Duration

	mu   sync.Mutex
	next map[models.GameMode]time.Time
}

func NewModeLimiter(intervals map[models.GameMode]time.Duration) *ModeLimiter {
	return NewModeLimiterWithClock(intervals, clockwork.NewRealClock())
}

func NewModeLimiterWithClock(intervals map[models.GameMode]time.Duration, clock clockwork.Clock) *ModeLimiter {
	return &ModeLimiter{
		clock:     clock,
		intervals: intervals,
		next:      make(map[models.GameMode]time.Time),
	}
}

// Wait blocks until the mode's next slot opens, or until the context is
// canceled. Modes without a configured interval pass through ungated.
func (l *ModeLimiter) Wait(ctx context.Context, mode models.GameMode) error {
	interval, ok := l.intervals[mode]
	if !ok || interval <= 0 {
		return ctx.Err()
	}

	l.mu.Lock()
	now := l.clock.Now()
	at := l.next[mode]
	if at.Before(now) {
		at = now
	}
	l.next[mode] = at.Add(interval)
	l.mu.Unlock()

	delay := at.Sub(now)
	if delay <= 0 {
		return ctx.Err()
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-l.clock.After(delay):
		return nil
	}
}
