package backoff

// Preview lists the delays a policy produces for each retry, without jitter.
// Total is their sum; MaxTotal adds the largest possible jitter to every delay.
type Preview struct {
	Delays   []float64
	Total    float64
	MaxTotal float64
}

// Schedule computes the preview for retries retries
func Schedule(retries int, strategy Strategy, baseDelay, maxDelay float64, jitter bool) Preview {
	c := NewWithFunc(func() float64 { return 0 })

	p := Preview{Delays: make([]float64, 0, max(retries, 0))}
	for attempt := 1; attempt <= retries; attempt++ {
		d := c.Delay(attempt, strategy, baseDelay, maxDelay, false)
		p.Delays = append(p.Delays, d)
		p.Total += d
	}

	p.MaxTotal = p.Total
	if jitter {
		p.MaxTotal = p.Total * (1 + JitterSpread)
	}

	return p
}
