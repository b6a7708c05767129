package outbox

import "time"

// Backoff returns the delay before attempt becomes eligible again:
// base * 2^(attempt-1), clamped to cap. attempt counts relay tries so far,
// so the first retry waits base.
func Backoff(base, cap time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= cap {
			return cap
		}
	}
	if d > cap {
		return cap
	}
	return d
}
