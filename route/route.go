// route/route.go
// Copyright(c) 2021-2026 Air Sports Live Tracking contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package route

import (
	gomath "math"
	"time"

	"github.com/airsports-no/livetracking/geo"
	"github.com/airsports-no/livetracking/log"
)

type WaypointType string

const (
	StartingPoint      WaypointType = "sp"
	Turnpoint          WaypointType = "tp"
	SecretPoint        WaypointType = "secret"
	FinishPoint        WaypointType = "fp"
	IntermediateStart  WaypointType = "isp"
	IntermediateFinish WaypointType = "ifp"
	Takeoff            WaypointType = "to"
	Landing            WaypointType = "ldg"
	DummyPoint         WaypointType = "dummy"
	UnknownLeg         WaypointType = "ul"
)

// IsStartingGate reports whether crossing a gate of this type puts the
// contestant enroute.
func (t WaypointType) IsStartingGate() bool {
	return t == StartingPoint || t == IntermediateStart || t == Turnpoint || t == SecretPoint
}

// IsFinishGate reports whether crossing a gate of this type takes the
// contestant out of the enroute state.
func (t WaypointType) IsFinishGate() bool {
	return t == FinishPoint || t == IntermediateFinish || t == Landing
}

// TimedForANR reports whether gates of this type are checked against the
// clock in corridor-style tasks; secrets along a corridor are resolved
// geometrically instead.
func (t WaypointType) TimedForANR() bool {
	return t == StartingPoint || t == FinishPoint || t == IntermediateStart ||
		t == IntermediateFinish || t == Turnpoint
}

// Waypoint is a point on the planned route together with its
// pre-computed gate geometry. The geometry builder (gate line placement,
// corridor envelopes) runs at route authoring time; the calculator takes
// it as given.
type Waypoint struct {
	Name string       `json:"name"`
	Type WaypointType `json:"type"`
	Pos  geo.Point    `json:"position"`

	WidthNM          float64      `json:"width_nm"`
	GateLine         [2]geo.Point `json:"gate_line"`
	ExtendedGateLine [2]geo.Point `json:"extended_gate_line"`

	// Corridor boundary polylines for the leg from this waypoint to the
	// next one; empty outside ANR-style tasks.
	LeftCorridor  []geo.Point `json:"left_corridor,omitempty"`
	RightCorridor []geo.Point `json:"right_corridor,omitempty"`

	DistancePrevious    float64 `json:"distance_previous"` // metres
	DistanceNext        float64 `json:"distance_next"`
	BearingFromPrevious float64 `json:"bearing_from_previous"`
	BearingNext         float64 `json:"bearing_next"`

	IsProcedureTurn bool `json:"is_procedure_turn"`

	// TimeCheck is false for waypoints that are never scored against the
	// clock (dummies and unknown legs).
	TimeCheck bool `json:"time_check"`
}

type Route struct {
	Name         string     `json:"name"`
	Waypoints    []Waypoint `json:"waypoints"`
	TakeoffGates []Waypoint `json:"takeoff_gates,omitempty"`
	LandingGates []Waypoint `json:"landing_gates,omitempty"`
	Zones        []Zone     `json:"zones,omitempty"`
}

// ExtendedGateFactor is how much wider the extended gate line is than the
// scored gate line; it exists to catch bad early crossings well to the
// side of the gate proper.
const ExtendedGateFactor = 6

// MakeRoute fills in the derived fields of the provided waypoints: leg
// distances and bearings, and gate lines perpendicular to the local track
// for any waypoint that doesn't already carry them.
func MakeRoute(name string, waypoints []Waypoint) *Route {
	for i := range waypoints {
		wp := &waypoints[i]
		if i > 0 {
			prev := &waypoints[i-1]
			wp.DistancePrevious = geo.Distance(prev.Pos, wp.Pos)
			wp.BearingFromPrevious = geo.InitialBearing(prev.Pos, wp.Pos)
			prev.DistanceNext = wp.DistancePrevious
			prev.BearingNext = wp.BearingFromPrevious
		}
		wp.TimeCheck = wp.Type != DummyPoint && wp.Type != UnknownLeg
	}

	for i := range waypoints {
		wp := &waypoints[i]
		if wp.GateLine[0].IsZero() && wp.GateLine[1].IsZero() {
			bearing := gateBearing(waypoints, i)
			half := wp.WidthNM * geo.MetresPerNM / 2
			wp.GateLine = [2]geo.Point{
				geo.Destination(wp.Pos, geo.NormalizeBearing(bearing-90), half),
				geo.Destination(wp.Pos, geo.NormalizeBearing(bearing+90), half),
			}
			wp.ExtendedGateLine = [2]geo.Point{
				geo.Destination(wp.Pos, geo.NormalizeBearing(bearing-90), half*ExtendedGateFactor),
				geo.Destination(wp.Pos, geo.NormalizeBearing(bearing+90), half*ExtendedGateFactor),
			}
		}
	}

	return &Route{Name: name, Waypoints: waypoints}
}

// gateBearing gives the track direction the gate line is perpendicular
// to: the bisector of inbound and outbound legs for interior waypoints.
func gateBearing(waypoints []Waypoint, i int) float64 {
	switch {
	case len(waypoints) == 1:
		return 0
	case i == 0:
		return geo.InitialBearing(waypoints[0].Pos, waypoints[1].Pos)
	case i == len(waypoints)-1:
		return geo.InitialBearing(waypoints[i-1].Pos, waypoints[i].Pos)
	default:
		in := geo.InitialBearing(waypoints[i-1].Pos, waypoints[i].Pos)
		out := geo.InitialBearing(waypoints[i].Pos, waypoints[i+1].Pos)
		return geo.NormalizeBearing(in + geo.BearingDifference(in, out)/2)
	}
}

// Wind is the forecast wind used for expected gate times; Direction is
// the direction the wind blows from, in degrees.
type Wind struct {
	SpeedKnots float64 `json:"speed"`
	Direction  float64 `json:"direction"`
}

// GroundSpeed solves the wind triangle for the ground speed in knots on
// the given track with the given true air speed.
func GroundSpeed(trackBearing, airSpeedKnots float64, wind Wind) float64 {
	rel := geo.Radians(wind.Direction - trackBearing)
	crosswind := wind.SpeedKnots * gomath.Sin(rel)
	headwind := wind.SpeedKnots * gomath.Cos(rel)

	under := airSpeedKnots*airSpeedKnots - crosswind*crosswind
	if under <= 0 {
		// Wind stronger than the aircraft; planning input error, but
		// don't blow up: crab fully and accept zero progress.
		return 0.1
	}
	return gomath.Sqrt(under) - headwind
}

// ExpectedTimes computes, for each waypoint, the UTC instant at which a
// contestant flying exactly the planned profile crosses it. The first
// waypoint is crossed at startTime; each subsequent leg takes
// distance/groundspeed, and a procedure turn adds one minute.
func (r *Route) ExpectedTimes(startTime time.Time, airSpeedKnots float64, wind Wind) []time.Time {
	times := make([]time.Time, len(r.Waypoints))
	current := startTime
	for i := range r.Waypoints {
		if i > 0 {
			wp := &r.Waypoints[i]
			gs := GroundSpeed(wp.BearingFromPrevious, airSpeedKnots, wind)
			legSeconds := (wp.DistancePrevious * geo.NMPerMetre) / gs * 3600
			current = current.Add(time.Duration(legSeconds * float64(time.Second)))
			if wp.IsProcedureTurn {
				current = current.Add(time.Minute)
			}
		}
		times[i] = current
	}
	return times
}

// Validate checks the route invariants: no two gate lines intersect and
// no gate line intersects any corridor segment. It also warns about
// sharp turns that aren't flagged as procedure turns, since routes
// imported from plain CSV files lose that flag.
func (r *Route) Validate(lg *log.Logger) error {
	if len(r.Waypoints) == 0 {
		return ErrEmptyRoute
	}

	proj := geo.MakeProjector(r.Waypoints[0].Pos)
	gate := func(wp *Waypoint) [2][2]float64 {
		return [2][2]float64{proj.Project(wp.GateLine[0]), proj.Project(wp.GateLine[1])}
	}

	for i := range r.Waypoints {
		gi := gate(&r.Waypoints[i])
		for j := i + 1; j < len(r.Waypoints); j++ {
			gj := gate(&r.Waypoints[j])
			if _, ok := geo.SegmentSegmentIntersect(gi[0], gi[1], gj[0], gj[1]); ok {
				lg.Warnf("%s: gate lines %s and %s intersect", r.Name, r.Waypoints[i].Name, r.Waypoints[j].Name)
				return ErrGateLinesIntersect
			}
		}

		for j := range r.Waypoints {
			wp := &r.Waypoints[j]
			for _, corridor := range [][]geo.Point{wp.LeftCorridor, wp.RightCorridor} {
				for k := 0; k+1 < len(corridor); k++ {
					c0, c1 := proj.Project(corridor[k]), proj.Project(corridor[k+1])
					if i == j || i == j+1 {
						// The gate line at each end of a leg legitimately
						// touches that leg's corridor envelope.
						continue
					}
					if _, ok := geo.SegmentSegmentIntersect(gi[0], gi[1], c0, c1); ok {
						return ErrGateCrossesCorridor
					}
				}
			}
		}
	}

	for i := 1; i+1 < len(r.Waypoints); i++ {
		wp := &r.Waypoints[i]
		turn := geo.AbsBearingDifference(wp.BearingFromPrevious, wp.BearingNext)
		if turn > 90 && !wp.IsProcedureTurn {
			lg.Warnf("%s: %s turns %.0f° but is not flagged as a procedure turn", r.Name, wp.Name, turn)
		}
	}

	return nil
}

// CorridorPolygon returns the closed polygon for the corridor of the leg
// starting at waypoint index i, projected into the route plane: the left
// boundary followed by the reversed right boundary.
func (r *Route) CorridorPolygon(proj geo.Projector, i int) [][2]float64 {
	if i < 0 || i >= len(r.Waypoints) {
		return nil
	}
	wp := &r.Waypoints[i]
	if len(wp.LeftCorridor) == 0 || len(wp.RightCorridor) == 0 {
		return nil
	}

	poly := make([][2]float64, 0, len(wp.LeftCorridor)+len(wp.RightCorridor))
	for _, p := range wp.LeftCorridor {
		poly = append(poly, proj.Project(p))
	}
	for j := len(wp.RightCorridor) - 1; j >= 0; j-- {
		poly = append(poly, proj.Project(wp.RightCorridor[j]))
	}
	return poly
}
