// calc/scorelog.go
// Copyright(c) 2021-2026 Air Sports Live Tracking contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package calc

import (
	"fmt"
	"time"

	"github.com/airsports-no/livetracking/geo"
)

// Score categories; each rule reports into one so the accumulator can
// cap them independently.
const (
	GateScoreType         = "gate_score"
	BacktrackingScoreType = "backtracking"
	CorridorScoreType     = "corridor"
	ZoneScoreType         = "zone"
	PokerScoreType        = "poker"
)

// Entry severities for the public score log.
const (
	EntryInformation = "information"
	EntryAnomaly     = "anomaly"
	EntryDebug       = "debug"
)

// ScoreLogEntry is one line of the public score log: what happened at
// which gate and how many points it cost.
type ScoreLogEntry struct {
	Time        time.Time  `json:"time" msgpack:"t"`
	Gate        string     `json:"gate" msgpack:"g"`
	ScoreType   string     `json:"type" msgpack:"st"`
	EntryType   string     `json:"entry_type" msgpack:"et"`
	Message     string     `json:"message" msgpack:"m"`
	Points      float64    `json:"points" msgpack:"p"`
	PlannedTime *time.Time `json:"planned_time,omitempty" msgpack:"pt,omitempty"`
	ActualTime  *time.Time `json:"actual_time,omitempty" msgpack:"at,omitempty"`
}

// String renders the entry the way the live map shows it, e.g.
// "TP1: 200.0 points missing gate".
func (e *ScoreLogEntry) String() string {
	return fmt.Sprintf("%s: %.1f points %s", e.Gate, e.Points, e.Message)
}

// Annotation is a score log entry pinned to a point on the track.
type Annotation struct {
	ScoreLogEntry
	Pos geo.Point `json:"position" msgpack:"pos"`
}

// PlayingCard is one card dealt to a contestant in a poker run.
type PlayingCard struct {
	Card string    `json:"card" msgpack:"c"` // e.g. "Qs", "7h"
	Gate string    `json:"gate" msgpack:"g"`
	Time time.Time `json:"time" msgpack:"t"`
}

// DangerEstimate is the periodic forward-looking warning published so
// the front end can warn a pilot before points are actually lost.
type DangerEstimate struct {
	Level              float64 `json:"level"` // 0-100
	AccumulatedPenalty float64 `json:"accumulated_penalty"`
}
