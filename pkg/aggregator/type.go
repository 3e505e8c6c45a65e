package aggregator

import (
	"time"

	"github.com/charmbracelet/log"
)

// Scheduler runs AggregateAndCleanup shortly after every full hour.
type Scheduler struct {
	RetentionDays int
	// Delay after the hour before aggregating, lets late messages arrive
	Delay time.Duration
	Now   func() time.Time
}

// Next returns when the next run is due after t.
func (s Scheduler) Next(t time.Time) time.Time {
	return t.Truncate(time.Hour).Add(time.Hour + s.Delay)
}

// Run blocks until stop is closed.
func (s Scheduler) Run(stop <-chan struct{}) {
	if s.Now == nil {
		s.Now = time.Now
	}
	for {
		now := s.Now()
		select {
		case <-stop:
			return
		case <-time.After(s.Next(now).Sub(now)):
			if err := AggregateAndCleanup(s.Now(), s.RetentionDays); err != nil {
				log.Error("aggregation failed", "err", err)
			}
		}
	}
}
