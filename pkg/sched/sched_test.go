package sched

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// advance moves the mock forward in steps until done is closed.
func advance(t *testing.T, mock *clock.Mock, step time.Duration, done <-chan struct{}) {
	t.Helper()
	for i := 0; i < 10000; i++ {
		select {
		case <-done:
			return
		default:
		}
		mock.Add(step)
	}
	t.Fatal("condition never completed")
}

func TestSleepHonoursCancel(t *testing.T) {
	s := New(clock.NewMock())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.Sleep(ctx, time.Hour)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSleepWakesOnClock(t *testing.T) {
	mock := clock.NewMock()
	s := New(mock)

	done := make(chan struct{})
	go func() {
		defer close(done)
		assert.NoError(t, s.Sleep(context.Background(), 30*time.Second))
	}()

	advance(t, mock, time.Second, done)
}

func TestPollTimesOut(t *testing.T) {
	mock := clock.NewMock()
	s := New(mock)

	var calls atomic.Int32
	var err error
	done := make(chan struct{})
	go func() {
		defer close(done)
		err = s.Poll(context.Background(), time.Second, 90*time.Second, func(context.Context) (bool, error) {
			calls.Add(1)
			return false, nil
		})
	}()

	advance(t, mock, time.Second, done)
	require.ErrorIs(t, err, ErrPollTimeout)
	assert.GreaterOrEqual(t, calls.Load(), int32(2))
}

func TestPollStopsWhenDone(t *testing.T) {
	s := New(clock.NewMock())

	err := s.Poll(context.Background(), time.Second, time.Minute, func(context.Context) (bool, error) {
		return true, nil
	})
	require.NoError(t, err)
}

func TestPollPropagatesConditionError(t *testing.T) {
	s := New(clock.NewMock())
	boom := errors.New("boom")

	err := s.Poll(context.Background(), time.Second, time.Minute, func(context.Context) (bool, error) {
		return false, boom
	})
	require.ErrorIs(t, err, boom)
}

func TestBackoffTimerDrivesRetries(t *testing.T) {
	mock := clock.NewMock()
	s := New(mock)

	var attempts atomic.Int32
	var err error
	done := make(chan struct{})
	go func() {
		defer close(done)
		b := backoff.WithMaxRetries(backoff.NewConstantBackOff(5*time.Second), 4)
		err = backoff.RetryNotifyWithTimer(func() error {
			attempts.Add(1)
			return errors.New("down")
		}, b, nil, s.BackoffTimer())
	}()

	advance(t, mock, time.Second, done)
	require.Error(t, err)
	assert.Equal(t, int32(5), attempts.Load())
}
