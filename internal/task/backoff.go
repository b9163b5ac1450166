package task

import "time"

// BackoffPolicy computes retry delays. It is a pure function of the
// attempt number so retry behavior is testable without any queue.
type BackoffPolicy struct {
	Base time.Duration // delay after the first failure
	Max  time.Duration // cap on the exponential growth
}

// DefaultBackoff mirrors the production defaults: 30s base doubling up
// to 10 minutes.
var DefaultBackoff = BackoffPolicy{Base: 30 * time.Second, Max: 10 * time.Minute}

// Delay returns the wait before re-enqueueing the given failed attempt
// (1-based). Doubles per attempt: Base, 2*Base, 4*Base, ... up to Max.
func (p BackoffPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := p.Base
	for i := 1; i < attempt; i++ {
		d *= 2
		if p.Max > 0 && d >= p.Max {
			return p.Max
		}
	}
	if p.Max > 0 && d > p.Max {
		return p.Max
	}
	return d
}
