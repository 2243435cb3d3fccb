// calc/procedureturn.go
// Copyright(c) 2021-2026 Air Sports Live Tracking contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package calc

import (
	gomath "math"
	"time"

	"github.com/airsports-no/livetracking/geo"
)

// ProcedureTurnRule watches for the scripted turn after each waypoint
// flagged as a procedure turn. The turn must be flown in the direction
// of the leg change and sweep at least 180 degrees before the next gate
// is resolved; otherwise the missed-procedure-turn penalty fires.
type ProcedureTurnRule struct {
	updater   ScoreUpdater
	scorecard *Scorecard

	pending     *Gate
	turnSign    float64 // +1 clockwise, -1 counterclockwise
	turnSweep   float64 // accumulated degrees in the expected direction
	lastCourse  float64
	courseValid bool

	accumulated float64
}

func NewProcedureTurnRule(updater ScoreUpdater, sc *Scorecard) *ProcedureTurnRule {
	return &ProcedureTurnRule{updater: updater, scorecard: sc}
}

func (r *ProcedureTurnRule) GatePassed(gate *Gate, actual time.Time, track []Position) {
	if r.pending != nil {
		r.evaluate(lastTrackPosition(track))
	}

	if gate.Waypoint.IsProcedureTurn {
		r.pending = gate
		r.turnSweep = 0
		r.courseValid = false
		r.turnSign = 1
		if geo.BearingDifference(gate.Waypoint.BearingFromPrevious, gate.Waypoint.BearingNext) < 0 {
			r.turnSign = -1
		}
	}
}

func (r *ProcedureTurnRule) MissedGate(previous, gate *Gate, pos *Position) {
	if r.pending != nil {
		r.evaluate(pos)
	}
}

func (r *ProcedureTurnRule) CalculateEnroute(track []Position, lastGate *Gate, inRange bool, next *Gate) {
	if r.pending == nil || len(track) < 2 {
		return
	}

	course := geo.InitialBearing(track[len(track)-2].Pos, track[len(track)-1].Pos)
	if r.courseValid {
		delta := geo.BearingDifference(r.lastCourse, course)
		if gomath.Signbit(delta) == gomath.Signbit(r.turnSign) || delta == 0 {
			// Only count rotation in the expected direction; wobble the
			// other way doesn't undo a turn already flown.
			r.turnSweep += gomath.Abs(delta)
		}
	}
	r.lastCourse = course
	r.courseValid = true
}

func (r *ProcedureTurnRule) CalculateOutsideRoute(track []Position, lastGate *Gate) {}

func (r *ProcedureTurnRule) PassedFinishpoint(track []Position, lastGate *Gate) {
	if r.pending != nil {
		r.evaluate(lastTrackPosition(track))
	}
}

func (r *ProcedureTurnRule) DangerLevel(track []Position) (float64, float64) {
	return 0, r.accumulated
}

// evaluate settles the pending procedure turn when the next gate
// resolves: too little rotation in the expected direction means the turn
// was skipped.
func (r *ProcedureTurnRule) evaluate(pos *Position) {
	gate := r.pending
	r.pending = nil

	if r.turnSweep >= 180 {
		return
	}

	r.accumulated += r.scorecard.MissedProcedureTurnPenalty
	update := ScoreUpdate{
		Gate:      gate.Name(),
		Points:    r.scorecard.MissedProcedureTurnPenalty,
		Message:   "missing procedure turn",
		ScoreType: GateScoreType,
		EntryType: EntryAnomaly,
		Cap:       NoCap,
	}
	if pos != nil {
		update.Pos = pos.Pos
		update.Annotate = true
	}
	r.updater.UpdateScore(update)
}

func lastTrackPosition(track []Position) *Position {
	if len(track) == 0 {
		return nil
	}
	return &track[len(track)-1]
}
