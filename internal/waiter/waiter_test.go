package waiter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAwaitImmediateSuccess(t *testing.T) {
	calls := 0
	start := time.Now()

	ok, err := Await(context.Background(), func(_ context.Context) (bool, error) {
		calls++
		return true, nil
	}, Options{Interval: time.Second, Budget: 10 * time.Second, Description: "already true"})

	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, calls, "first check runs immediately")
	assert.Less(t, time.Since(start), 100*time.Millisecond, "no interval wait before first check")
}

func TestAwaitSucceedsAfterSeveralPolls(t *testing.T) {
	// Condition becomes true on the 4th check; budget allows many more.
	calls := 0

	ok, err := Await(context.Background(), func(_ context.Context) (bool, error) {
		calls++
		return calls >= 4, nil
	}, Options{Interval: 10 * time.Millisecond, Budget: 90 * time.Millisecond, Description: "iam propagation"})

	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 4, calls)
}

func TestAwaitBudgetExhausted(t *testing.T) {
	calls := 0

	ok, err := Await(context.Background(), func(_ context.Context) (bool, error) {
		calls++
		return false, nil
	}, Options{Interval: 10 * time.Millisecond, Budget: 45 * time.Millisecond, Description: "never true"})

	// Exhaustion is not an error.
	require.NoError(t, err)
	assert.False(t, ok)
	assert.GreaterOrEqual(t, calls, 2)
}

func TestAwaitCheckErrorsAreRetried(t *testing.T) {
	calls := 0

	ok, err := Await(context.Background(), func(_ context.Context) (bool, error) {
		calls++
		if calls < 3 {
			return false, errors.New("permission denied")
		}
		return true, nil
	}, Options{Interval: 5 * time.Millisecond, Budget: time.Second, Description: "flaky check"})

	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 3, calls)
}

func TestAwaitContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ok, err := Await(ctx, func(_ context.Context) (bool, error) {
		return false, nil
	}, Options{Interval: 10 * time.Millisecond, Budget: time.Second, Description: "canceled"})

	assert.False(t, ok)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPollReturnsNilOnSuccess(t *testing.T) {
	err := Poll(context.Background(), func(_ context.Context) error {
		return nil
	}, Options{Interval: 10 * time.Millisecond, Budget: time.Second, Description: "ok"})

	assert.NoError(t, err)
}

func TestPollReturnsLastErrorOnExhaustion(t *testing.T) {
	attempt := 0

	err := Poll(context.Background(), func(_ context.Context) error {
		attempt++
		if attempt == 1 {
			return errors.New("first failure")
		}
		return errors.New("latest failure")
	}, Options{Interval: 10 * time.Millisecond, Budget: 35 * time.Millisecond, Description: "always failing"})

	require.Error(t, err)
	assert.EqualError(t, err, "latest failure")
}

func TestPollPropagatesCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Poll(ctx, func(_ context.Context) error {
		return errors.New("still failing")
	}, Options{Interval: 10 * time.Millisecond, Budget: time.Second, Description: "canceled"})

	assert.ErrorIs(t, err, context.Canceled)
}
