// calc/backtracking.go
// Copyright(c) 2021-2026 Air Sports Live Tracking contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package calc

import (
	gomath "math"
	"time"

	"github.com/airsports-no/livetracking/geo"
)

// BacktrackingRule penalises flying against the leg direction: if the
// average course over the grace window deviates from the current leg
// bearing by more than the configured limit, a one-time penalty is
// applied for that excursion. Scoring is suppressed for a while after
// steep turns and close to gates, where heading excursions are part of
// normal flying.
type BacktrackingRule struct {
	updater   ScoreUpdater
	scorecard *Scorecard

	inViolation   bool
	suppressUntil time.Time
	accumulated   float64
	lastDiff      float64
}

func NewBacktrackingRule(updater ScoreUpdater, sc *Scorecard) *BacktrackingRule {
	return &BacktrackingRule{updater: updater, scorecard: sc}
}

func (r *BacktrackingRule) GatePassed(gate *Gate, actual time.Time, track []Position) {
	// A procedure turn or any steep turn legitimately points the aircraft
	// backwards for a while.
	wp := gate.Waypoint
	if wp.IsProcedureTurn || geo.AbsBearingDifference(wp.BearingFromPrevious, wp.BearingNext) > 90 {
		r.suppressUntil = actual.Add(time.Duration(r.scorecard.BacktrackingSteepGateGraceTime * float64(time.Second)))
	}
	r.inViolation = false
}

func (r *BacktrackingRule) MissedGate(previous, gate *Gate, pos *Position) {}

func (r *BacktrackingRule) CalculateEnroute(track []Position, lastGate *Gate, inRange bool, next *Gate) {
	r.lastDiff = 0
	if lastGate == nil || len(track) < 2 {
		return
	}
	pos := &track[len(track)-1]

	if pos.DeviceTime.Before(r.suppressUntil) {
		return
	}
	if next != nil && r.scorecard.BacktrackingGateRangeNM > 0 &&
		geo.DistanceNM(pos.Pos, next.Waypoint.Pos) <= r.scorecard.BacktrackingGateRangeNM {
		return
	}

	course, ok := r.averageCourse(track)
	if !ok {
		return
	}

	diff := geo.AbsBearingDifference(course, lastGate.Waypoint.BearingNext)
	r.lastDiff = diff
	if diff <= r.scorecard.BacktrackingBearingDifference {
		r.inViolation = false
		return
	}
	if r.inViolation {
		return
	}
	r.inViolation = true

	if max := r.scorecard.BacktrackingMaximumPenalty; max >= 0 && r.accumulated >= max {
		return
	}

	r.accumulated += r.scorecard.BacktrackingPenalty
	r.updater.UpdateScore(ScoreUpdate{
		Gate:      lastGate.Name(),
		Points:    r.scorecard.BacktrackingPenalty,
		Message:   "backtracking",
		Pos:       pos.Pos,
		ScoreType: BacktrackingScoreType,
		EntryType: EntryAnomaly,
		Cap:       r.scorecard.BacktrackingMaximumPenalty,
		Annotate:  true,
	})
}

func (r *BacktrackingRule) CalculateOutsideRoute(track []Position, lastGate *Gate) {
	r.inViolation = false
	r.lastDiff = 0
}

func (r *BacktrackingRule) PassedFinishpoint(track []Position, lastGate *Gate) {}

func (r *BacktrackingRule) DangerLevel(track []Position) (float64, float64) {
	limit := r.scorecard.BacktrackingBearingDifference
	if limit <= 0 || r.lastDiff == 0 {
		return 0, r.accumulated
	}
	return gomath.Min(100, 100*r.lastDiff/limit), r.accumulated
}

// averageCourse averages segment bearings over the grace window by
// summing unit vectors, so that courses wrapping through north average
// correctly.
func (r *BacktrackingRule) averageCourse(track []Position) (float64, bool) {
	newest := track[len(track)-1].DeviceTime
	window := time.Duration(r.scorecard.BacktrackingGraceTimeSeconds * float64(time.Second))

	var x, y float64
	n := 0
	for i := len(track) - 1; i > 0; i-- {
		if newest.Sub(track[i].DeviceTime) > window {
			break
		}
		brg := geo.Radians(geo.InitialBearing(track[i-1].Pos, track[i].Pos))
		x += gomath.Sin(brg)
		y += gomath.Cos(brg)
		n++
	}
	if n == 0 || (x == 0 && y == 0) {
		return 0, false
	}
	return geo.NormalizeBearing(geo.Degrees(gomath.Atan2(x, y))), true
}
