// Package sched wraps a clock.Clock with the cancellable waits the bot needs:
// sleeping, periodic jobs, bounded polling and a timer for backoff retries.
package sched

import (
	"context"
	"errors"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v4"
)

// ErrPollTimeout is returned by Poll when the deadline passes before the
// condition reports done.
var ErrPollTimeout = errors.New("sched: poll timeout")

type Scheduler struct {
	clk clock.Clock
}

func New(clk clock.Clock) *Scheduler {
	if clk == nil {
		clk = clock.New()
	}
	return &Scheduler{clk: clk}
}

func (s *Scheduler) Clock() clock.Clock { return s.clk }

func (s *Scheduler) Now() time.Time { return s.clk.Now() }

// Sleep blocks for d or until ctx is done.
func (s *Scheduler) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := s.clk.Timer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Every runs fn each interval until ctx is done. The first run happens after
// one interval.
func (s *Scheduler) Every(ctx context.Context, interval time.Duration, fn func(ctx context.Context)) {
	ticker := s.clk.Ticker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}

// Poll calls cond immediately and then every interval until it reports done,
// returns an error, ctx is done or timeout elapses.
func (s *Scheduler) Poll(
	ctx context.Context,
	interval, timeout time.Duration,
	cond func(ctx context.Context) (bool, error),
) error {
	deadline := s.clk.Timer(timeout)
	defer deadline.Stop()

	ticker := s.clk.Ticker(interval)
	defer ticker.Stop()

	for {
		done, err := cond(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return ErrPollTimeout
		case <-ticker.C:
		}
	}
}

// BackoffTimer adapts the clock to backoff.Timer so retries follow the same
// time source as everything else.
func (s *Scheduler) BackoffTimer() backoff.Timer {
	return &backoffTimer{clk: s.clk}
}

type backoffTimer struct {
	clk   clock.Clock
	timer *clock.Timer
}

func (t *backoffTimer) Start(d time.Duration) {
	if t.timer == nil {
		t.timer = t.clk.Timer(d)
		return
	}
	t.timer.Reset(d)
}

func (t *backoffTimer) Stop() {
	if t.timer != nil {
		t.timer.Stop()
	}
}

func (t *backoffTimer) C() <-chan time.Time {
	return t.timer.C
}
