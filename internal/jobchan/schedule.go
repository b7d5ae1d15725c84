package jobchan

import "time"

// Step is one stage of a polling schedule: Count requests followed by
// Interval each. A zero Count repeats forever.
type Step struct {
	Count    int
	Interval time.Duration
}

// Schedule is an adaptive polling schedule that starts fast and backs off.
type Schedule []Step

// DefaultSchedule polls every 0.5s for the first 3 requests, every 1s for
// the next 7, every 2s for the next 10 and every 5s thereafter.
var DefaultSchedule = Schedule{
	{Count: 3, Interval: 500 * time.Millisecond},
	{Count: 7, Interval: time.Second},
	{Count: 10, Interval: 2 * time.Second},
	{Count: 0, Interval: 5 * time.Second},
}

// Interval returns the wait after the n-th request (1-based).
func (s Schedule) Interval(n int) time.Duration {
	if len(s) == 0 {
		return 0
	}
	seen := 0
	for _, step := range s {
		if step.Count <= 0 {
			return step.Interval
		}
		seen += step.Count
		if n <= seen {
			return step.Interval
		}
	}
	return s[len(s)-1].Interval
}
