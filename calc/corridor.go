// calc/corridor.go
// Copyright(c) 2021-2026 Air Sports Live Tracking contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package calc

import (
	"fmt"
	gomath "math"
	"time"

	"github.com/airsports-no/livetracking/geo"
	"github.com/airsports-no/livetracking/route"
)

// CorridorRule scores time spent outside the corridor envelope in ANR
// and Air Sports tasks: penalty per second beyond the grace time, capped
// per leg. Entries are scored incrementally while the violation grows so
// the live map updates as it happens.
type CorridorRule struct {
	updater   ScoreUpdater
	scorecard *Scorecard
	rt        *route.Route
	proj      geo.Projector

	outsideSince      time.Time
	outsideLeg        int
	violationReported float64
	violationCapped   bool
	legPoints         map[int]float64

	accumulated float64
}

func NewCorridorRule(updater ScoreUpdater, sc *Scorecard, rt *route.Route, proj geo.Projector) *CorridorRule {
	return &CorridorRule{
		updater:    updater,
		scorecard:  sc,
		rt:         rt,
		proj:       proj,
		outsideLeg: -1,
		legPoints:  make(map[int]float64),
	}
}

func (r *CorridorRule) GatePassed(gate *Gate, actual time.Time, track []Position) {}

func (r *CorridorRule) MissedGate(previous, gate *Gate, pos *Position) {}

func (r *CorridorRule) CalculateEnroute(track []Position, lastGate *Gate, inRange bool, next *Gate) {
	if lastGate == nil {
		return
	}
	pos := &track[len(track)-1]

	leg := lastGate.Index
	polygon := r.rt.CorridorPolygon(r.proj, leg)
	if polygon == nil {
		r.closeViolation(pos)
		return
	}

	inside := geo.PointInPolygon(r.proj.Project(pos.Pos), polygon)
	switch {
	case inside:
		r.closeViolation(pos)

	case r.outsideSince.IsZero():
		r.outsideSince = pos.DeviceTime
		r.outsideLeg = leg
		r.violationReported = 0
		r.violationCapped = false
		r.annotate(pos, lastGate.Name(), "exiting corridor")

	default:
		r.score(pos, lastGate)
	}
}

func (r *CorridorRule) CalculateOutsideRoute(track []Position, lastGate *Gate) {
	if !r.outsideSince.IsZero() {
		r.closeViolation(&track[len(track)-1])
	}
}

func (r *CorridorRule) PassedFinishpoint(track []Position, lastGate *Gate) {
	if !r.outsideSince.IsZero() {
		r.closeViolation(&track[len(track)-1])
	}
}

func (r *CorridorRule) DangerLevel(track []Position) (float64, float64) {
	if r.outsideSince.IsZero() || len(track) == 0 {
		return 0, r.accumulated
	}
	// Ramp up to 100 as the stay outside approaches the grace time; stay
	// there while points are being lost.
	outside := track[len(track)-1].DeviceTime.Sub(r.outsideSince).Seconds()
	if grace := r.scorecard.CorridorGraceTime; grace > 0 && outside < grace {
		return 100 * outside / grace, r.accumulated
	}
	return 100, r.accumulated
}

// score re-issues the running violation entry with the current duration;
// the gatekeeper replaces the previous entry for the same gate.
func (r *CorridorRule) score(pos *Position, lastGate *Gate) {
	outside := pos.DeviceTime.Sub(r.outsideSince).Seconds()
	if outside <= r.scorecard.CorridorGraceTime {
		return
	}

	raw := gomath.Floor(outside-r.scorecard.CorridorGraceTime) * r.scorecard.CorridorOutsidePenalty

	points := raw
	capped := false
	if max := r.scorecard.CorridorMaximumPenalty; max >= 0 {
		// The cap is per leg; earlier violations on the same leg count
		// against it.
		available := max - (r.legPoints[r.outsideLeg] - r.violationReported)
		if raw >= available {
			points = gomath.Max(available, 0)
			capped = true
		}
	}

	if points == r.violationReported && capped == r.violationCapped {
		return
	}

	r.updater.UpdateScore(ScoreUpdate{
		Gate:       lastGate.Name(),
		Points:     points,
		Message:    fmt.Sprintf("outside corridor (%d seconds)", int(outside)),
		Pos:        pos.Pos,
		ScoreType:  CorridorScoreType,
		EntryType:  EntryAnomaly,
		Cap:        NoCap,
		Capped:     capped,
		Previous:   r.violationReported,
		UpdateLast: r.violationReported > 0,
	})

	r.legPoints[r.outsideLeg] += points - r.violationReported
	r.accumulated += points - r.violationReported
	r.violationReported = points
	r.violationCapped = capped
}

func (r *CorridorRule) closeViolation(pos *Position) {
	if r.outsideSince.IsZero() {
		return
	}
	r.annotate(pos, r.rt.Waypoints[r.outsideLeg].Name, "entering corridor")
	r.outsideSince = time.Time{}
	r.outsideLeg = -1
	r.violationReported = 0
	r.violationCapped = false
}

func (r *CorridorRule) annotate(pos *Position, gate, message string) {
	r.updater.UpdateScore(ScoreUpdate{
		Gate:      gate,
		Points:    0,
		Message:   message,
		Pos:       pos.Pos,
		ScoreType: CorridorScoreType,
		EntryType: EntryInformation,
		Cap:       NoCap,
		Annotate:  true,
	})
}
