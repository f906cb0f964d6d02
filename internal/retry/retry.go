package retry

import (
	"context"
	"math"
	"time"
)

// Scheduler delays the next attempt. Production code uses a real timer;
// tests plug in a virtual clock that records the requested delays.
type Scheduler interface {
	Wait(ctx context.Context, d time.Duration) error
}

type TimerScheduler struct{}

func (TimerScheduler) Wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Policy describes how many times an operation is retried and how long to
// wait between attempts. Factor 1 gives a fixed delay, 2 doubles it each time.
type Policy struct {
	MaxRetries int
	Delay      time.Duration
	Factor     float64
}

func Exponential(maxRetries int, delay time.Duration) Policy {
	return Policy{MaxRetries: maxRetries, Delay: delay, Factor: 2}
}

func Fixed(maxRetries int, delay time.Duration) Policy {
	return Policy{MaxRetries: maxRetries, Delay: delay, Factor: 1}
}

// Backoff returns the wait before retry number retry+1, where retry counts
// the failures so far starting at 0.
func (p Policy) Backoff(retry int) time.Duration {
	if retry < 0 {
		retry = 0
	}

	f := p.Factor
	if f <= 0 {
		f = 1
	}

	return time.Duration(float64(p.Delay) * math.Pow(f, float64(retry)))
}

// Do runs fn until it succeeds or the policy is exhausted. onRetry, if set,
// is called before every wait with the failed attempt's error.
func Do(
	ctx context.Context,
	sched Scheduler,
	p Policy,
	fn func(ctx context.Context) error,
	onRetry func(retry int, err error),
) error {
	if sched == nil {
		sched = TimerScheduler{}
	}

	var err error
	for retry := 0; ; retry++ {
		err = fn(ctx)
		if err == nil {
			return nil
		}
		if retry >= p.MaxRetries {
			return err
		}

		if onRetry != nil {
			onRetry(retry, err)
		}

		if werr := sched.Wait(ctx, p.Backoff(retry)); werr != nil {
			return werr
		}
	}
}
