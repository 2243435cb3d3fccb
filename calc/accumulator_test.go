// calc/accumulator_test.go
// Copyright(c) 2021-2026 Air Sports Live Tracking contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package calc

import (
	"testing"
)

func TestAccumulatorBasic(t *testing.T) {
	a := MakeAccumulator()

	points, capped := a.SetAndUpdateScore(10, GateScoreType, NoCap, 0)
	if points != 10 || capped {
		t.Errorf("got %v, %v", points, capped)
	}
	points, capped = a.SetAndUpdateScore(5, GateScoreType, NoCap, 0)
	if points != 5 || capped {
		t.Errorf("got %v, %v", points, capped)
	}
	if a.Accumulated(GateScoreType) != 15 {
		t.Errorf("accumulated %v", a.Accumulated(GateScoreType))
	}
}

func TestAccumulatorIncremental(t *testing.T) {
	a := MakeAccumulator()

	// A growing violation re-reports its total; only the delta counts.
	if points, _ := a.SetAndUpdateScore(9, CorridorScoreType, NoCap, 0); points != 9 {
		t.Errorf("got %v", points)
	}
	if points, _ := a.SetAndUpdateScore(21, CorridorScoreType, NoCap, 9); points != 21 {
		t.Errorf("got %v", points)
	}
	if a.Accumulated(CorridorScoreType) != 21 {
		t.Errorf("accumulated %v", a.Accumulated(CorridorScoreType))
	}
}

func TestAccumulatorCap(t *testing.T) {
	a := MakeAccumulator()

	if points, capped := a.SetAndUpdateScore(80, ZoneScoreType, 100, 0); points != 80 || capped {
		t.Errorf("got %v, %v", points, capped)
	}
	// This one would take the category to 160; it is clamped to the cap.
	points, capped := a.SetAndUpdateScore(80, ZoneScoreType, 100, 0)
	if !capped {
		t.Errorf("expected capped")
	}
	if points != 20 {
		t.Errorf("effective points %v, want 20", points)
	}
	if a.Accumulated(ZoneScoreType) != 100 {
		t.Errorf("accumulated %v, want cap 100", a.Accumulated(ZoneScoreType))
	}

	// Once at the cap, further points accumulate nothing.
	if _, capped := a.SetAndUpdateScore(50, ZoneScoreType, 100, 0); !capped {
		t.Errorf("expected capped at cap")
	}
	if a.Accumulated(ZoneScoreType) != 100 {
		t.Errorf("accumulated %v after capped update", a.Accumulated(ZoneScoreType))
	}

	// Other categories are unaffected.
	if a.Accumulated(GateScoreType) != 0 {
		t.Errorf("gate category polluted: %v", a.Accumulated(GateScoreType))
	}
	if a.Total() != 100 {
		t.Errorf("total %v", a.Total())
	}
}

func TestAccumulatorCapWithPrevious(t *testing.T) {
	a := MakeAccumulator()

	a.SetAndUpdateScore(40, CorridorScoreType, 50, 0)
	// Re-report of the same entry growing from 40 to 70; cap is 50.
	points, capped := a.SetAndUpdateScore(70, CorridorScoreType, 50, 40)
	if !capped {
		t.Errorf("expected capped")
	}
	if points != 50 {
		t.Errorf("effective points %v, want 50", points)
	}
	if a.Accumulated(CorridorScoreType) != 50 {
		t.Errorf("accumulated %v", a.Accumulated(CorridorScoreType))
	}
}
