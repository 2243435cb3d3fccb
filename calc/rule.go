// calc/rule.go
// Copyright(c) 2021-2026 Air Sports Live Tracking contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package calc

import (
	"time"

	"github.com/airsports-no/livetracking/geo"
)

// NoCap is passed as the cap for score updates in uncapped categories.
const NoCap = -1

// ScoreUpdate is a single score report from a rule to the gatekeeper.
type ScoreUpdate struct {
	Gate      string
	Points    float64
	Message   string
	Pos       geo.Point
	ScoreType string
	EntryType string

	// Cap clamps the category total when > -1.
	Cap float64

	// Capped is set by rules that apply their own cap (per-leg, per-zone)
	// before reporting, so the log entry is marked even though the
	// category total isn't at its cap.
	Capped bool

	// Previous is what this rule already reported for the same logical
	// entry; rules that re-score a growing violation (corridor, penalty
	// zones) pass their running total so only the difference accumulates.
	Previous float64

	// UpdateLast replaces the rule's previous entry for the same gate and
	// score type instead of appending a new one.
	UpdateLast bool

	// Annotate additionally pins the entry to the track at Pos.
	Annotate bool

	PlannedTime *time.Time
	ActualTime  *time.Time
}

// ScoreUpdater is the gatekeeper-side sink for rule score reports. All
// updates for one contestant are serialised; rules call this from the
// scorer goroutine and never concurrently.
type ScoreUpdater interface {
	UpdateScore(update ScoreUpdate)
}

// Rule is one scoring module hosted by a gatekeeper. The gatekeeper
// calls exactly one of CalculateEnroute/CalculateOutsideRoute per scored
// position, plus the gate transition hooks as gates resolve. A rule
// reports points through the ScoreUpdater it was constructed with;
// return values are reserved for DangerLevel.
type Rule interface {
	// GatePassed is invoked when a gate is resolved as passed, before the
	// per-position calculation for the triggering position.
	GatePassed(gate *Gate, actual time.Time, track []Position)

	// MissedGate is invoked when a gate is resolved as missed; previous
	// is the last resolved gate, or nil at the start of the route.
	MissedGate(previous *Gate, gate *Gate, pos *Position)

	// CalculateEnroute scores the latest track position while the
	// contestant is between a start-like and a finish-like gate. inRange
	// tells the rule the contestant is close to the next outstanding
	// gate, where some rules relax their checks.
	CalculateEnroute(track []Position, lastGate *Gate, inRange bool, next *Gate)

	// CalculateOutsideRoute scores the latest track position before the
	// start or after the finish.
	CalculateOutsideRoute(track []Position, lastGate *Gate)

	// PassedFinishpoint is invoked once when the contestant crosses a
	// finish-like gate.
	PassedFinishpoint(track []Position, lastGate *Gate)

	// DangerLevel estimates how close the contestant currently is to
	// losing points (0-100) along with the points this rule has
	// accumulated so far.
	DangerLevel(track []Position) (float64, float64)
}
