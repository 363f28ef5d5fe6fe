package kafka

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryUntilSuccess(t *testing.T) {
	calls := 0
	err := retry(context.Background(), time.Millisecond, 4*time.Millisecond, func(attempt int) error {
		calls++
		assert.Equal(t, calls, attempt)
		if calls < 4 {
			return errors.New("redis down")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 4, calls)
}

func TestRetryStopsWithContext(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	calls := 0
	err := retry(ctx, 5*time.Millisecond, 5*time.Millisecond, func(int) error {
		calls++
		return errors.New("still failing")
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Greater(t, calls, 1)
}

func TestWorkerForIsStable(t *testing.T) {
	for p := 0; p < 12; p++ {
		w := workerFor("marketplace.order.placed", p, 4)
		assert.GreaterOrEqual(t, w, 0)
		assert.Less(t, w, 4)
		assert.Equal(t, w, workerFor("marketplace.order.placed", p, 4))
	}
	assert.Equal(t, 0, workerFor("any", 7, 1))
}
