package kafka

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestComputeRetryDelay_GrowsWithAttempt(t *testing.T) {
	base := 5 * time.Second
	maxDelay := 5 * time.Minute

	first := ComputeRetryDelay(1, base, maxDelay, 0)
	second := ComputeRetryDelay(2, base, maxDelay, 0)
	third := ComputeRetryDelay(3, base, maxDelay, 0)

	assert.True(t, second > first, "expected delay to grow with attempt: %s vs %s", first, second)
	assert.True(t, third > second, "expected delay to grow with attempt: %s vs %s", second, third)
}

func TestComputeRetryDelay_RespectsCap(t *testing.T) {
	delay := ComputeRetryDelay(50, time.Second, 10*time.Second, 0)
	assert.LessOrEqual(t, delay, 10*time.Second)
}

func TestComputeRetryDelay_ClampsNonPositiveAttempt(t *testing.T) {
	zero := ComputeRetryDelay(0, time.Second, time.Minute, 0)
	one := ComputeRetryDelay(1, time.Second, time.Minute, 0)
	assert.Equal(t, one, zero)
}
