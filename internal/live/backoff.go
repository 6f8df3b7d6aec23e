package live

import "time"

const (
	defaultBaseDelay = 1 * time.Second
	defaultMaxDelay  = 30 * time.Second
)

// Backoff returns the wait before reconnect attempt n (counting from 0):
// min(1s * 2^n, 30s).
func Backoff(attempt int) time.Duration {
	return backoff(attempt, defaultBaseDelay, defaultMaxDelay)
}

func backoff(attempt int, base, ceiling time.Duration) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= ceiling {
			return ceiling
		}
	}
	if d > ceiling {
		return ceiling
	}
	return d
}
