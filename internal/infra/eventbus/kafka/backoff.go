package kafka

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ComputeRetryDelay returns how long a requeued message should wait before
// becoming eligible for redelivery, growing exponentially with attempt and
// capped at maxDelay. jitterRatio matches
// backoff.ExponentialBackOff.RandomizationFactor: 0.2 spreads the delay
// +/-20% to avoid every retry of a failed batch landing in the same instant.
func ComputeRetryDelay(attempt int, base, maxDelay time.Duration, jitterRatio float64) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = base
	b.MaxInterval = maxDelay
	b.RandomizationFactor = jitterRatio
	b.Multiplier = 2
	b.Reset()

	var delay time.Duration
	for i := 0; i < attempt; i++ {
		delay = b.NextBackOff()
	}
	if delay > maxDelay {
		delay = maxDelay
	}
	return delay
}
