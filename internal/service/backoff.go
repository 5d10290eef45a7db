package service

import (
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/Strob0t/syncbridge/internal/domain/syncpolicy"
)

// RetrySchedule computes when a transiently failed record is due again.
type RetrySchedule struct {
	base    time.Duration
	ceiling time.Duration
	jitter  float64
}

// NewRetrySchedule builds the schedule of a policy snapshot. jitter is the
// randomization factor applied to each delay; 0 yields exact doubling.
func NewRetrySchedule(p syncpolicy.SyncPolicy, jitter float64) RetrySchedule {
	return RetrySchedule{base: p.RetryDelay(), ceiling: p.RetryMaxDelay(), jitter: jitter}
}

// Delay returns the wait before retry number retryCount (1-based):
// base * 2^(retryCount-1), capped at the ceiling.
func (s RetrySchedule) Delay(retryCount int) time.Duration {
	if retryCount < 1 {
		retryCount = 1
	}
	b := &backoff.ExponentialBackOff{
		InitialInterval:     s.base,
		RandomizationFactor: s.jitter,
		Multiplier:          2,
		MaxInterval:         s.ceiling,
	}
	b.Reset()

	var d time.Duration
	for range retryCount {
		d = b.NextBackOff()
	}
	if d > s.ceiling && s.ceiling > 0 {
		d = s.ceiling
	}
	return d
}

// Next returns the absolute retry time and the incremented counter for a
// record that failed with a transient error. ok is false once the counter
// exceeds maxRetries, meaning the failure is now terminal.
func (s RetrySchedule) Next(now time.Time, retryCount, maxRetries int) (next time.Time, count int, ok bool) {
	count = retryCount + 1
	if count > maxRetries {
		return time.Time{}, count, false
	}
	return now.Add(s.Delay(count)), count, true
}
