// calc/scorecard.go
// Copyright(c) 2021-2026 Air Sports Live Tracking contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package calc

import (
	gomath "math"

	"github.com/airsports-no/livetracking/route"
)

// TaskType selects the gate check strategy and the rule set the
// gatekeeper runs with.
type TaskType string

const (
	Precision TaskType = "precision"
	ANR       TaskType = "anr"
	AirSports TaskType = "airsports"
	Poker     TaskType = "poker"
)

// GateScore holds the timing penalty rates for one waypoint type. All
// durations are in seconds and all penalties in points; a negative
// maximum means "no cap".
type GateScore struct {
	GraceperiodBefore float64 `json:"graceperiod_before"`
	GraceperiodAfter  float64 `json:"graceperiod_after"`
	PenaltyPerSecond  float64 `json:"penalty_per_second"`
	MaximumPenalty    float64 `json:"maximum_penalty"`
	MissedPenalty     float64 `json:"missed_penalty"`
}

// TimingPenalty returns the points for crossing the gate delta seconds
// after the planned time (negative delta means early).
func (gs *GateScore) TimingPenalty(delta float64) float64 {
	if -gs.GraceperiodBefore < delta && delta < gs.GraceperiodAfter {
		return 0
	}
	grace := gs.GraceperiodAfter
	if delta < 0 {
		grace = gs.GraceperiodBefore
	}
	points := gomath.Round(gomath.Abs(delta)-grace) * gs.PenaltyPerSecond
	if gs.MaximumPenalty >= 0 {
		points = gomath.Min(points, gs.MaximumPenalty)
	}
	return points
}

// MaximumLateness is how many seconds past the planned time a gate can
// still be crossed before it is scored as missed.
func (gs *GateScore) MaximumLateness() float64 {
	if gs.PenaltyPerSecond <= 0 || gs.MaximumPenalty < 0 {
		return gomath.Inf(1)
	}
	return gs.GraceperiodAfter + gs.MaximumPenalty/gs.PenaltyPerSecond
}

// Scorecard is the per-task table of penalty rates and caps: one
// GateScore row per waypoint type plus the global corridor, backtracking
// and zone rates.
type Scorecard struct {
	Task TaskType `json:"task"`

	GateScores map[route.WaypointType]*GateScore `json:"gate_scores"`

	BadCrossingExtendedGatePenalty float64 `json:"bad_crossing_extended_gate_penalty"`
	MissedProcedureTurnPenalty     float64 `json:"missed_procedure_turn_penalty"`

	// How close (NM) to the next outstanding gate a contestant must be to
	// count as "in range of gate" for the rules that relax near gates.
	GateRangeNM float64 `json:"gate_range_nm"`

	CorridorGraceTime      float64 `json:"corridor_grace_time"` // seconds
	CorridorOutsidePenalty float64 `json:"corridor_outside_penalty"`
	CorridorMaximumPenalty float64 `json:"corridor_maximum_penalty"` // per leg; negative = uncapped

	BacktrackingPenalty            float64 `json:"backtracking_penalty"`
	BacktrackingBearingDifference  float64 `json:"backtracking_bearing_difference"` // degrees
	BacktrackingGraceTimeSeconds   float64 `json:"backtracking_grace_time_seconds"`
	BacktrackingSteepGateGraceTime float64 `json:"backtracking_after_steep_gate_grace_period_seconds"`
	BacktrackingGateRangeNM        float64 `json:"backtracking_gate_range_nm"`
	BacktrackingMaximumPenalty     float64 `json:"backtracking_maximum_penalty"` // negative = uncapped

	ProhibitedZonePenalty       float64 `json:"prohibited_zone_penalty"`
	PenaltyZonePenaltyPerSecond float64 `json:"penalty_zone_penalty_per_second"`
	PenaltyZoneGraceTime        float64 `json:"penalty_zone_grace_time"` // seconds
	PenaltyZoneMaximum          float64 `json:"penalty_zone_maximum"`    // negative = uncapped
}

// GateScore looks up the timing rates for a waypoint type; a missing row
// is fatal for the calculator since no sensible default exists.
func (sc *Scorecard) GateScore(t route.WaypointType) (*GateScore, error) {
	if gs, ok := sc.GateScores[t]; ok {
		return gs, nil
	}
	return nil, ErrScorecardMissing
}
