package backoff

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"time"
)

/* Strategy selects how the wait between attempts grows
 * Follows the same int-enum shape as the delivery statuses
 */
type Strategy int

const (
	Fixed Strategy = iota + 1
	Linear
	Exponential
)

// JitterSpread is the upper bound (exclusive) of the extra random delay, as a fraction of the delay
const JitterSpread = 0.5

// String returns the string representation of the strategy
func (s Strategy) String() string {
	switch s {
	case Fixed:
		return "fixed"
	case Linear:
		return "linear"
	case Exponential:
		return "exponential"
	default:
		return "unknown"
	}
}

// NewStrategy creates a Strategy from a string
func NewStrategy(s string) Strategy {
	switch s {
	case "fixed":
		return Fixed
	case "linear":
		return Linear
	case "exponential":
		return Exponential
	default:
		return Strategy(0)
	}
}

// Validate checks if the strategy is valid
func (s Strategy) Validate() error {
	if s < Fixed || s > Exponential {
		return fmt.Errorf("invalid backoff strategy: %d", s)
	}
	return nil
}

/* Calculator computes retry delays
 * The random source is injectable so tests get deterministic jitter
 * Safe for concurrent use
 */
type Calculator struct {
	mu     sync.Mutex
	random func() float64
}

// New creates a Calculator backed by the global random source
func New() *Calculator {
	return &Calculator{random: rand.Float64}
}

// NewWithFunc creates a Calculator that draws jitter from f, which must return values in [0, 1)
func NewWithFunc(f func() float64) *Calculator {
	return &Calculator{random: f}
}

/* Delay returns the wait in seconds before the retry that follows attempt
 * attempt below 1 is treated as 1
 * Without jitter the result never exceeds maxDelay
 * With jitter the result is multiplied by a factor in [1.0, 1.5)
 */
func (c *Calculator) Delay(attempt int, strategy Strategy, baseDelay, maxDelay float64, jitter bool) float64 {
	if attempt < 1 {
		attempt = 1
	}
	if baseDelay < 0 {
		baseDelay = 0
	}
	if maxDelay < baseDelay {
		maxDelay = baseDelay
	}

	var delay float64
	switch strategy {
	case Linear:
		delay = baseDelay * float64(attempt)
	case Exponential:
		delay = baseDelay * math.Pow(2, float64(attempt-1))
	default:
		delay = baseDelay
	}
	if math.IsInf(delay, 0) || math.IsNaN(delay) || delay > maxDelay {
		delay = maxDelay
	}

	if jitter {
		delay *= 1 + c.factor()*JitterSpread
	}

	return delay
}

// Duration is Delay converted to a time.Duration
func (c *Calculator) Duration(attempt int, strategy Strategy, baseDelay, maxDelay float64, jitter bool) time.Duration {
	return Seconds(c.Delay(attempt, strategy, baseDelay, maxDelay, jitter))
}

func (c *Calculator) factor() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	f := c.random()
	if f < 0 || f >= 1 {
		return 0
	}
	return f
}

// Seconds converts fractional seconds to a time.Duration
func Seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
