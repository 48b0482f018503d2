package outbox

import (
	"math"
	"time"
)

// Backoff computes retry delays as Base * Factor^retryCount, capped at Max.
type Backoff struct {
	Base   time.Duration
	Factor float64
	Max    time.Duration
}

func DefaultBackoff() Backoff {
	return Backoff{
		Base:   1 * time.Second,
		Factor: 2.0,
		Max:    10 * time.Minute,
	}
}

// Delay returns the wait before the attempt that follows retryCount failures.
func (b Backoff) Delay(retryCount int) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	d := time.Duration(float64(b.Base) * math.Pow(b.Factor, float64(retryCount)))
	if d <= 0 || d > b.Max {
		return b.Max
	}
	return d
}
