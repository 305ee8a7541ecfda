package config

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Initial returns the first attach backoff delay.
func (a AttachConfig) Initial() time.Duration {
	return time.Duration(a.BackoffInitialMS) * time.Millisecond
}

// Max returns the attach backoff ceiling.
func (a AttachConfig) Max() time.Duration {
	return time.Duration(a.BackoffMaxMS) * time.Millisecond
}

// Jitter returns the attach backoff jitter.
func (a AttachConfig) Jitter() time.Duration {
	return time.Duration(a.BackoffJitterMS) * time.Millisecond
}

// BackOff returns an exponential backoff between Initial and Max that never
// gives up. Jitter is applied as a fraction of Initial.
func (a AttachConfig) BackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if a.Initial() > 0 {
		b.InitialInterval = a.Initial()
	}
	if a.Max() > 0 {
		b.MaxInterval = a.Max()
	}
	b.RandomizationFactor = 0
	if a.Jitter() > 0 && b.InitialInterval > 0 {
		b.RandomizationFactor = min(float64(a.Jitter())/float64(b.InitialInterval), 1)
	}
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}
