package backoff

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestExponential(t *testing.T) {
	tests := []struct {
		name     string
		base     time.Duration
		attempt  int
		expected time.Duration
	}{
		{name: "attempt 0 returns base", base: 50 * time.Millisecond, attempt: 0, expected: 50 * time.Millisecond},
		{name: "attempt 1 doubles", base: 50 * time.Millisecond, attempt: 1, expected: 100 * time.Millisecond},
		{name: "attempt 2 quadruples", base: 50 * time.Millisecond, attempt: 2, expected: 200 * time.Millisecond},
		{name: "negative attempt", base: 50 * time.Millisecond, attempt: -3, expected: 50 * time.Millisecond},
		{name: "zero base", base: 0, attempt: 4, expected: 0},
		{name: "overflow saturates", base: time.Hour, attempt: 80, expected: time.Duration(math.MaxInt64)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Exponential(tt.base, tt.attempt))
		})
	}
}

func TestCapped(t *testing.T) {
	assert.Equal(t, 400*time.Millisecond, Capped(100*time.Millisecond, time.Second, 2))
	assert.Equal(t, time.Second, Capped(100*time.Millisecond, time.Second, 6))
	assert.Equal(t, 6400*time.Millisecond, Capped(100*time.Millisecond, 0, 6))
}

func TestSleep_Completes(t *testing.T) {
	assert.NoError(t, Sleep(context.Background(), time.Millisecond))
	assert.NoError(t, Sleep(context.Background(), 0))
}

func TestSleep_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	err := Sleep(ctx, time.Minute)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
}

func TestSleep_ZeroDurationReportsDoneContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, Sleep(ctx, 0), context.Canceled)
}
