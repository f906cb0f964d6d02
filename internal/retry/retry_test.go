package retry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type virtualClock struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (v *virtualClock) Wait(ctx context.Context, d time.Duration) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.delays = append(v.delays, d)
	return ctx.Err()
}

func TestBackoff(t *testing.T) {
	p := Exponential(3, time.Second)
	assert.Equal(t, time.Second, p.Backoff(0))
	assert.Equal(t, 2*time.Second, p.Backoff(1))
	assert.Equal(t, 4*time.Second, p.Backoff(2))

	f := Fixed(3, time.Second)
	assert.Equal(t, time.Second, f.Backoff(0))
	assert.Equal(t, time.Second, f.Backoff(2))
}

func TestDo_SucceedsAfterFailures(t *testing.T) {
	clock := &virtualClock{}
	calls := 0

	err := Do(context.Background(), clock, Exponential(3, 100*time.Millisecond), func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("boom")
		}
		return nil
	}, nil)

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, clock.delays)
}

func TestDo_Exhausted(t *testing.T) {
	clock := &virtualClock{}
	calls := 0
	var retried []int

	err := Do(context.Background(), clock, Fixed(2, time.Second), func(context.Context) error {
		calls++
		return errors.New("always")
	}, func(retry int, _ error) {
		retried = append(retried, retry)
	})

	require.EqualError(t, err, "always")
	assert.Equal(t, 3, calls)
	assert.Equal(t, []int{0, 1}, retried)
	assert.Equal(t, []time.Duration{time.Second, time.Second}, clock.delays)
}

func TestDo_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Do(ctx, TimerScheduler{}, Fixed(5, time.Hour), func(context.Context) error {
		return errors.New("fail")
	}, nil)

	assert.ErrorIs(t, err, context.Canceled)
}
