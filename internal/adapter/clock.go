package adapter

import "time"

// Clock defines an interface for time operations to enable mocking
type Clock interface {
	// Now returns the current local time
	Now() time.Time

	// Since returns the time elapsed since t
	Since(t time.Time) time.Duration

	// Sleep pauses the current goroutine for at least the duration d
	Sleep(d time.Duration)
}

// RealClock implements Clock using the standard time package
type RealClock struct{}

// NewClock creates a new real clock
func NewClock() Clock {
	return &RealClock{}
}

func (c *RealClock) Now() time.Time {
	return time.Now()
}

func (c *RealClock) Since(t time.Time) time.Duration {
	return time.Since(t)
}

func (c *RealClock) Sleep(d time.Duration) {
	time.Sleep(d)
}
