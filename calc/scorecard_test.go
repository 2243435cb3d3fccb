// calc/scorecard_test.go
// Copyright(c) 2021-2026 Air Sports Live Tracking contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package calc

import (
	gomath "math"
	"testing"

	"github.com/airsports-no/livetracking/route"
)

func TestTimingPenalty(t *testing.T) {
	gs := GateScore{
		GraceperiodBefore: 5,
		GraceperiodAfter:  2,
		PenaltyPerSecond:  3,
		MaximumPenalty:    100,
		MissedPenalty:     200,
	}

	for _, c := range []struct {
		delta float64
		want  float64
	}{
		{0, 0},
		{1.5, 0},
		{-4, 0},
		{20, 54},   // (20-2)*3
		{-10, 15},  // (10-5)*3
		{60, 100},  // capped
		{-60, 100}, // capped early too
	} {
		if got := gs.TimingPenalty(c.delta); got != c.want {
			t.Errorf("delta %v: got %v, want %v", c.delta, got, c.want)
		}
	}
}

func TestTimingPenaltyUncapped(t *testing.T) {
	gs := GateScore{GraceperiodAfter: 2, PenaltyPerSecond: 3, MaximumPenalty: -1}
	if got := gs.TimingPenalty(1000); got != (1000-2)*3 {
		t.Errorf("got %v", got)
	}
}

func TestMaximumLateness(t *testing.T) {
	gs := GateScore{GraceperiodAfter: 2, PenaltyPerSecond: 3, MaximumPenalty: 100}
	if got := gs.MaximumLateness(); gomath.Abs(got-(2+100.0/3)) > 1e-9 {
		t.Errorf("got %v", got)
	}

	uncapped := GateScore{GraceperiodAfter: 2, PenaltyPerSecond: 3, MaximumPenalty: -1}
	if !gomath.IsInf(uncapped.MaximumLateness(), 1) {
		t.Errorf("uncapped gate should never go missed through lateness")
	}
}

func TestScorecardMissingRow(t *testing.T) {
	sc := Scorecard{GateScores: map[route.WaypointType]*GateScore{route.Turnpoint: {}}}

	if _, err := sc.GateScore(route.Turnpoint); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if _, err := sc.GateScore(route.StartingPoint); err != ErrScorecardMissing {
		t.Errorf("got %v, want ErrScorecardMissing", err)
	}
}
