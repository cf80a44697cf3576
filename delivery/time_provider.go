package delivery

import "time"

// TimeProvider abstracts time operations so PullWithTimeout can be
// tested deterministically. Implementations must be safe for concurrent
// use.
type TimeProvider interface {
	Now() time.Time
	Since(t time.Time) time.Duration
}

// systemTimeProvider uses the standard library time functions.
type systemTimeProvider struct{}

func (systemTimeProvider) Now() time.Time                  { return time.Now() }
func (systemTimeProvider) Since(t time.Time) time.Duration { return time.Since(t) }
