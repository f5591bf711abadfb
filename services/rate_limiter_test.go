package services

import (
	"context"
	"testing"
	"time"

	"geostats-pipeline/models"

	"github.com/jonboulle/clockwork"
)

func TestModeLimiter_TeamDuelBudget(t *testing.T) {
	clk := clockwork.NewFakeClock()
	limiter := NewModeLimiterWithClock(DefaultModeIntervals(), clk)
	ctx := context.Background()

	start := clk.Now()
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		for i := 0; i < 10; i++ {
			if err := limiter.Wait(ctx, models.ModeTeamDuel); err != nil {
				t.Errorf("Wait %d failed: %v", i, err)
				return
			}
		}
	}()

	// 10 calls against a 5s-per-round budget: the first is immediate, the
	// remaining 9 each block for one full interval.
	for i := 0; i < 9; i++ {
		clk.BlockUntil(1)
		clk.Advance(5 * time.Second)
	}
	<-finished

	elapsed := clk.Now().Sub(start)
	if elapsed < 45*time.Second {
		t.Errorf("10 team-duel calls completed in %v, want at least 45s", elapsed)
	}
}

func TestModeLimiter_IntervalsPerMode(t *testing.T) {
	for _, tc := range []struct {
		mode models.GameMode
		want time.Duration
	}{
		{models.ModeTeamDuel, 5 * time.Second},
		{models.ModeDuel, 3 * time.Second},
		{models.ModeSinglePlayer, 2 * time.Second},
	} {
		clk := clockwork.NewFakeClock()
		limiter := NewModeLimiterWithClock(DefaultModeIntervals(), clk)
		ctx := context.Background()

		if err := limiter.Wait(ctx, tc.mode); err != nil {
			t.Fatalf("%s: first Wait failed: %v", tc.mode, err)
		}

		start := clk.Now()
		finished := make(chan struct{})
		go func() {
			defer close(finished)
			_ = limiter.Wait(ctx, tc.mode)
		}()

		clk.BlockUntil(1)
		clk.Advance(tc.want)
		<-finished

		if got := clk.Now().Sub(start); got != tc.want {
			t.Errorf("%s: second call waited %v, want %v", tc.mode, got, tc.want)
		}
	}
}

func TestModeLimiter_ModesDoNotShareSlots(t *testing.T) {
	clk := clockwork.NewFakeClock()
	limiter := NewModeLimiterWithClock(DefaultModeIntervals(), clk)
	ctx := context.Background()

	// A pending team-duel slot must not delay a fresh duel call.
	if err := limiter.Wait(ctx, models.ModeTeamDuel); err != nil {
		t.Fatalf("team duel Wait failed: %v", err)
	}
	// Completes without any clock advance; a shared slot would deadlock here.
	if err := limiter.Wait(ctx, models.ModeDuel); err != nil {
		t.Fatalf("duel Wait failed: %v", err)
	}
}

func TestModeLimiter_UnknownModePassesThrough(t *testing.T) {
	clk := clockwork.NewFakeClock()
	limiter := NewModeLimiterWithClock(DefaultModeIntervals(), clk)

	for i := 0; i < 5; i++ {
		if err := limiter.Wait(context.Background(), models.GameMode("BattleRoyale")); err != nil {
			t.Fatalf("unthrottled mode should never block: %v", err)
		}
	}
}

func TestModeLimiter_CancelWhileWaiting(t *testing.T) {
	clk := clockwork.NewFakeClock()
	limiter := NewModeLimiterWithClock(DefaultModeIntervals(), clk)
	ctx, cancel := context.WithCancel(context.Background())

	if err := limiter.Wait(ctx, models.ModeDuel); err != nil {
		t.Fatalf("first Wait failed: %v", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- limiter.Wait(ctx, models.ModeDuel)
	}()

	clk.BlockUntil(1)
	cancel()

	if err := <-errCh; err != context.Canceled {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
