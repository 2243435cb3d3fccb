// calc/gatetiming.go
// Copyright(c) 2021-2026 Air Sports Live Tracking contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package calc

import (
	"fmt"
	gomath "math"
	"time"
)

// GateTimingRule scores the difference between planned and actual gate
// crossing times according to the per-gate-type scorecard rows, plus the
// missed-gate and backwards-start-crossing penalties.
type GateTimingRule struct {
	updater   ScoreUpdater
	scorecard *Scorecard

	accumulated      float64
	badCrossingFired bool
}

func NewGateTimingRule(updater ScoreUpdater, sc *Scorecard) *GateTimingRule {
	return &GateTimingRule{updater: updater, scorecard: sc}
}

func (r *GateTimingRule) GatePassed(gate *Gate, actual time.Time, track []Position) {
	if !gate.TimedCheck {
		return
	}
	gs, err := r.scorecard.GateScore(gate.Waypoint.Type)
	if err != nil {
		return
	}

	delta := actual.Sub(gate.ExpectedTime).Seconds()
	points := gs.TimingPenalty(delta)
	r.accumulated += points

	planned, act := gate.ExpectedTime, actual
	r.updater.UpdateScore(ScoreUpdate{
		Gate:        gate.Name(),
		Points:      points,
		Message:     fmt.Sprintf("passing gate (%+d s)", int(gomath.Round(delta))),
		ScoreType:   GateScoreType,
		EntryType:   EntryInformation,
		Cap:         NoCap,
		PlannedTime: &planned,
		ActualTime:  &act,
	})
}

func (r *GateTimingRule) MissedGate(previous, gate *Gate, pos *Position) {
	if !gate.TimedCheck {
		return
	}
	gs, err := r.scorecard.GateScore(gate.Waypoint.Type)
	if err != nil {
		return
	}

	r.accumulated += gs.MissedPenalty

	planned := gate.ExpectedTime
	r.updater.UpdateScore(ScoreUpdate{
		Gate:        gate.Name(),
		Points:      gs.MissedPenalty,
		Message:     "missing gate",
		ScoreType:   GateScoreType,
		EntryType:   EntryAnomaly,
		Cap:         NoCap,
		PlannedTime: &planned,
	})
}

func (r *GateTimingRule) CalculateEnroute(track []Position, lastGate *Gate, inRange bool, next *Gate) {
}

func (r *GateTimingRule) CalculateOutsideRoute(track []Position, lastGate *Gate) {}

func (r *GateTimingRule) PassedFinishpoint(track []Position, lastGate *Gate) {}

func (r *GateTimingRule) DangerLevel(track []Position) (float64, float64) {
	return 0, r.accumulated
}

// backwardStartCrossing fires the bad-crossing penalty the first time
// the extended starting line is crossed backwards before the start.
func (r *GateTimingRule) backwardStartCrossing(start *Gate, pos *Position) {
	if r.badCrossingFired || r.scorecard.BadCrossingExtendedGatePenalty <= 0 {
		return
	}
	r.badCrossingFired = true
	r.accumulated += r.scorecard.BadCrossingExtendedGatePenalty

	r.updater.UpdateScore(ScoreUpdate{
		Gate:      start.Name(),
		Points:    r.scorecard.BadCrossingExtendedGatePenalty,
		Message:   "crossing extended starting gate backwards",
		Pos:       pos.Pos,
		ScoreType: GateScoreType,
		EntryType: EntryAnomaly,
		Cap:       NoCap,
		Annotate:  true,
	})
}
