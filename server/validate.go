// server/validate.go
// Copyright(c) 2021-2026 Air Sports Live Tracking contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package server

import (
	"fmt"
	"time"

	"github.com/airsports-no/livetracking/calc"
)

// MaximumTrackingWindow bounds TrackerStartTime..FinishedByTime; longer
// windows are always configuration mistakes and would pin a calculator
// goroutine for days.
const MaximumTrackingWindow = 24 * time.Hour

// ValidateAdmission checks a new or updated contestant against the ones
// already admitted. All rejections wrap ErrValidationRejected plus the
// specific cause.
func ValidateAdmission(c *calc.Contestant, existing []*calc.Contestant) error {
	if c.FinishedByTime.Sub(c.TrackerStartTime) > MaximumTrackingWindow {
		return fmt.Errorf("%w: contestant %d: %w", ErrValidationRejected, c.ID, ErrWindowTooLong)
	}
	if !c.TrackerStartTime.Before(c.FinishedByTime) {
		return fmt.Errorf("%w: contestant %d: window is empty", ErrValidationRejected, c.ID)
	}

	for _, other := range existing {
		if other.ID == c.ID {
			if other.CalculatorStarted && timingFieldsChanged(c, other) {
				return fmt.Errorf("%w: contestant %d: %w", ErrValidationRejected, c.ID, ErrFrozenTimingFields)
			}
			continue
		}
		if !windowsOverlap(c, other) {
			continue
		}
		if shareDevice(c.TrackingIDs(), other.TrackingIDs()) {
			return fmt.Errorf("%w: contestants %d and %d: %w", ErrValidationRejected,
				c.ID, other.ID, ErrOverlappingTracker)
		}
		if shareCrew(c, other) {
			return fmt.Errorf("%w: contestants %d and %d: %w", ErrValidationRejected,
				c.ID, other.ID, ErrOverlappingCrew)
		}
	}
	return nil
}

// timingFieldsChanged reports whether any field that feeds expected gate
// times or the tracking window differs from the stored snapshot.
func timingFieldsChanged(c, stored *calc.Contestant) bool {
	return !c.TakeoffTime.Equal(stored.TakeoffTime) ||
		!c.TrackerStartTime.Equal(stored.TrackerStartTime) ||
		!c.FinishedByTime.Equal(stored.FinishedByTime) ||
		c.AdaptiveStart != stored.AdaptiveStart ||
		c.AirSpeedKnots != stored.AirSpeedKnots ||
		c.Wind != stored.Wind
}

func windowsOverlap(a, b *calc.Contestant) bool {
	return a.TrackerStartTime.Before(b.FinishedByTime) && b.TrackerStartTime.Before(a.FinishedByTime)
}

func shareDevice(a, b []string) bool {
	for _, id := range a {
		for _, other := range b {
			if id == other {
				return true
			}
		}
	}
	return false
}

// shareCrew reports whether the two contestants have a pilot or copilot
// app installation in common.
func shareCrew(a, b *calc.Contestant) bool {
	crew := func(c *calc.Contestant) []string {
		var ids []string
		for _, id := range []string{c.PilotTrackingID, c.CopilotTrackingID} {
			if id != "" {
				ids = append(ids, id)
			}
		}
		return ids
	}
	return shareDevice(crew(a), crew(b))
}
