// route/route_test.go
// Copyright(c) 2021-2026 Air Sports Live Tracking contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package route

import (
	gomath "math"
	"testing"
	"time"

	"github.com/airsports-no/livetracking/geo"
)

func testWaypoints() []Waypoint {
	// A simple northbound route near Oslo: SP, TP1 ~5 NM north, FP
	// another ~5 NM north.
	return []Waypoint{
		{Name: "SP", Type: StartingPoint, Pos: geo.Point{Lat: 59.9, Lon: 10.6}, WidthNM: 1},
		{Name: "TP1", Type: Turnpoint, Pos: geo.Point{Lat: 59.9833, Lon: 10.6}, WidthNM: 1},
		{Name: "FP", Type: FinishPoint, Pos: geo.Point{Lat: 60.0667, Lon: 10.6}, WidthNM: 1},
	}
}

func TestMakeRouteLegs(t *testing.T) {
	r := MakeRoute("test", testWaypoints())

	tp1 := &r.Waypoints[1]
	if gomath.Abs(tp1.DistancePrevious*geo.NMPerMetre-5) > 0.05 {
		t.Errorf("SP-TP1 leg: got %.3f NM", tp1.DistancePrevious*geo.NMPerMetre)
	}
	if geo.AbsBearingDifference(tp1.BearingFromPrevious, 0) > 1 {
		t.Errorf("SP-TP1 bearing: got %.2f", tp1.BearingFromPrevious)
	}

	// Gate lines are built perpendicular to the track, centred on the
	// waypoint, one WidthNM long.
	for i := range r.Waypoints {
		wp := &r.Waypoints[i]
		width := geo.Distance(wp.GateLine[0], wp.GateLine[1])
		if gomath.Abs(width*geo.NMPerMetre-wp.WidthNM) > 0.01 {
			t.Errorf("%s: gate line width %.3f NM", wp.Name, width*geo.NMPerMetre)
		}
		extended := geo.Distance(wp.ExtendedGateLine[0], wp.ExtendedGateLine[1])
		if gomath.Abs(extended/width-ExtendedGateFactor) > 0.01 {
			t.Errorf("%s: extended gate factor %.2f", wp.Name, extended/width)
		}
	}
}

func TestMakeRouteBearings(t *testing.T) {
	// An eastbound dogleg: the leg bearings must reflect the actual track,
	// including BearingNext on the first waypoint.
	r := MakeRoute("test", []Waypoint{
		{Name: "SP", Type: StartingPoint, Pos: geo.Point{Lat: 59.9, Lon: 10.6}, WidthNM: 1},
		{Name: "TP1", Type: Turnpoint, Pos: geo.Point{Lat: 59.9, Lon: 10.7667}, WidthNM: 1},
		{Name: "FP", Type: FinishPoint, Pos: geo.Point{Lat: 59.9833, Lon: 10.7667}, WidthNM: 1},
	})

	sp, tp1, fp := &r.Waypoints[0], &r.Waypoints[1], &r.Waypoints[2]
	if geo.AbsBearingDifference(sp.BearingNext, 90) > 1 {
		t.Errorf("SP BearingNext: got %.2f, want ~90", sp.BearingNext)
	}
	if geo.AbsBearingDifference(tp1.BearingFromPrevious, 90) > 1 {
		t.Errorf("TP1 BearingFromPrevious: got %.2f, want ~90", tp1.BearingFromPrevious)
	}
	if geo.AbsBearingDifference(tp1.BearingNext, 0) > 1 {
		t.Errorf("TP1 BearingNext: got %.2f, want ~0", tp1.BearingNext)
	}
	if geo.AbsBearingDifference(fp.BearingFromPrevious, 0) > 1 {
		t.Errorf("FP BearingFromPrevious: got %.2f, want ~0", fp.BearingFromPrevious)
	}
}

func TestGroundSpeed(t *testing.T) {
	// No wind: ground speed equals air speed.
	if gs := GroundSpeed(0, 100, Wind{}); gomath.Abs(gs-100) > 1e-9 {
		t.Errorf("no wind: got %.2f", gs)
	}
	// Direct headwind.
	if gs := GroundSpeed(0, 100, Wind{SpeedKnots: 20, Direction: 0}); gomath.Abs(gs-80) > 1e-9 {
		t.Errorf("headwind: got %.2f", gs)
	}
	// Direct tailwind (wind from behind).
	if gs := GroundSpeed(0, 100, Wind{SpeedKnots: 20, Direction: 180}); gomath.Abs(gs-120) > 1e-9 {
		t.Errorf("tailwind: got %.2f", gs)
	}
	// Pure crosswind costs some ground speed to crab.
	gs := GroundSpeed(0, 100, Wind{SpeedKnots: 20, Direction: 90})
	if gs >= 100 || gs < 95 {
		t.Errorf("crosswind: got %.2f", gs)
	}
}

func TestExpectedTimes(t *testing.T) {
	r := MakeRoute("test", testWaypoints())
	start := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)

	times := r.ExpectedTimes(start, 75, Wind{})
	if !times[0].Equal(start) {
		t.Errorf("SP expected at start time, got %v", times[0])
	}

	// 5 NM at 75 kt is 4 minutes.
	for i := 1; i < len(times); i++ {
		leg := times[i].Sub(times[i-1])
		if d := (leg - 4*time.Minute).Abs(); d > 5*time.Second {
			t.Errorf("leg %d duration %v", i, leg)
		}
	}
}

func TestExpectedTimesProcedureTurn(t *testing.T) {
	wps := testWaypoints()
	wps[1].IsProcedureTurn = true
	r := MakeRoute("test", wps)
	start := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)

	plain := MakeRoute("plain", testWaypoints()).ExpectedTimes(start, 75, Wind{})
	withPT := r.ExpectedTimes(start, 75, Wind{})

	if d := withPT[1].Sub(plain[1]); d != time.Minute {
		t.Errorf("procedure turn should add one minute, added %v", d)
	}
	if d := withPT[2].Sub(plain[2]); d != time.Minute {
		t.Errorf("procedure turn minute should carry to later gates, got %v", d)
	}
}

func TestValidate(t *testing.T) {
	r := MakeRoute("test", testWaypoints())
	if err := r.Validate(nil); err != nil {
		t.Errorf("valid route rejected: %v", err)
	}

	// Two waypoints on top of each other give crossing gate lines.
	wps := testWaypoints()
	wps[1].Pos = geo.Point{Lat: 59.9001, Lon: 10.6001}
	bad := MakeRoute("bad", wps)
	if err := bad.Validate(nil); err == nil {
		t.Errorf("expected crossing gate lines to be rejected")
	}
}

func TestZoneContains(t *testing.T) {
	z := Zone{
		Name: "restricted",
		Kind: ProhibitedZone,
		Polygon: []geo.Point{
			{Lat: 59.90, Lon: 10.60},
			{Lat: 59.90, Lon: 10.70},
			{Lat: 59.95, Lon: 10.70},
			{Lat: 59.95, Lon: 10.60},
		},
	}
	proj := geo.MakeProjector(geo.Point{Lat: 59.9, Lon: 10.6})

	if !z.Contains(proj, geo.Point{Lat: 59.92, Lon: 10.65}) {
		t.Errorf("interior point reported outside zone")
	}
	if z.Contains(proj, geo.Point{Lat: 59.97, Lon: 10.65}) {
		t.Errorf("exterior point reported inside zone")
	}
}
