package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Timer measures wall-clock duration for metric observation
type Timer struct {
	start time.Time
}

// NewTimer starts a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveDuration records the elapsed time into a histogram observer
func (t *Timer) ObserveDuration(observer prometheus.Observer) time.Duration {
	d := t.Duration()
	observer.Observe(d.Seconds())
	return d
}
