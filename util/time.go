// util/time.go
// Copyright(c) 2021-2026 Air Sports Live Tracking contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package util

import (
	"time"
)

// TimeInterval represents a time interval with start and end times
type TimeInterval [2]time.Time

// Start returns the start time of the interval
func (ti TimeInterval) Start() time.Time {
	return ti[0]
}

// End returns the end time of the interval
func (ti TimeInterval) End() time.Time {
	return ti[1]
}

// Duration returns the duration of the interval
func (ti TimeInterval) Duration() time.Duration {
	return ti[1].Sub(ti[0])
}

// Contains checks if the interval contains the given time
func (ti TimeInterval) Contains(t time.Time) bool {
	return !t.Before(ti[0]) && !t.After(ti[1])
}

// FindTimeIntervals creates TimeIntervals from a series of sorted times.
// Given a series of sorted times and a maximum duration, it returns intervals where
// if the duration between two successive times is greater than d, then the current
// interval ends at the first time and a new interval starts at the second time.
func FindTimeIntervals(times []time.Time, d time.Duration) []TimeInterval {
	if len(times) == 0 {
		return nil
	}

	var intervals []TimeInterval
	start := times[0]

	for i := 1; i < len(times); i++ {
		if times[i].Sub(times[i-1]) > d {
			intervals = append(intervals, TimeInterval{start, times[i-1]})
			start = times[i]
		}
	}

	// Add the final interval
	return append(intervals, TimeInterval{start, times[len(times)-1]})
}
