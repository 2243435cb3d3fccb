// calc/gatecheck.go
// Copyright(c) 2021-2026 Air Sports Live Tracking contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package calc

import (
	gomath "math"
	"time"

	"github.com/airsports-no/livetracking/geo"
	"github.com/airsports-no/livetracking/route"
)

// Gate pairs a route waypoint with its expected crossing time and the
// runtime passed/missed verdict. A gate is never re-opened once it has
// been resolved.
type Gate struct {
	Waypoint     *route.Waypoint
	Index        int
	ExpectedTime time.Time
	PassingTime  time.Time // zero until passed
	Missed       bool

	// TimedCheck is false for gates that are resolved geometrically
	// rather than against the clock (secrets in corridor tasks, dummies).
	TimedCheck bool
}

func (g *Gate) Name() string { return g.Waypoint.Name }

func (g *Gate) Resolved() bool { return g.Missed || !g.PassingTime.IsZero() }

// GateCheckStrategy selects how outstanding gates are resolved against
// the track: the precision family times every gate, the corridor family
// times only start/finish/turnpoints and leaves secrets to the corridor
// rule.
type GateCheckStrategy int

const (
	PrecisionGateCheck GateCheckStrategy = iota
	CorridorGateCheck
)

func GateCheckStrategyForTask(t TaskType) GateCheckStrategy {
	switch t {
	case ANR, AirSports:
		return CorridorGateCheck
	default:
		return PrecisionGateCheck
	}
}

// gateEvents receives gate resolution callbacks from the state walk; the
// gatekeeper implements it and fans out to the rules.
type gateEvents interface {
	gatePassed(gate *Gate, actual time.Time)
	gateMissed(previous, gate *Gate, pos *Position)
	passedFinishpoint()
	backwardStartCrossing(start *Gate, pos *Position)
	adaptiveStartSet(effective time.Time)
}

// gateState owns the runtime gate list and the enroute flag for one
// contestant. It is only touched from the scorer goroutine.
type gateState struct {
	proj     geo.Projector
	rt       *route.Route
	strategy GateCheckStrategy

	gates       []*Gate
	outstanding []*Gate // unresolved prefix of gates

	lastGate         *Gate
	previousLastGate *Gate

	enroute      bool
	passedStart  bool
	passedFinish bool

	adaptive        bool
	adaptiveStarted bool
}

func makeGateState(rt *route.Route, strategy GateCheckStrategy, adaptive bool, expected []time.Time) *gateState {
	gs := &gateState{
		rt:       rt,
		strategy: strategy,
		adaptive: adaptive,
	}
	if len(rt.Waypoints) > 0 {
		gs.proj = geo.MakeProjector(rt.Waypoints[0].Pos)
	}

	for i := range rt.Waypoints {
		wp := &rt.Waypoints[i]
		g := &Gate{
			Waypoint:     wp,
			Index:        i,
			ExpectedTime: expected[i],
			TimedCheck:   wp.TimeCheck,
		}
		if strategy == CorridorGateCheck && !wp.Type.TimedForANR() {
			g.TimedCheck = false
		}
		gs.gates = append(gs.gates, g)
		gs.outstanding = append(gs.outstanding, g)
	}
	return gs
}

func (gs *gateState) nextGate() *Gate {
	if len(gs.outstanding) == 0 {
		return nil
	}
	return gs.outstanding[0]
}

// inRangeOfGate reports whether the position is within rangeNM of the
// next outstanding gate. Rules that relax near gates (backtracking,
// corridor near turnpoints) key off this.
func (gs *gateState) inRangeOfGate(p geo.Point, rangeNM float64) bool {
	next := gs.nextGate()
	if next == nil || rangeNM <= 0 {
		return false
	}
	return geo.DistanceNM(p, next.Waypoint.Pos) <= rangeNM
}

// resolve pops every resolved gate off the outstanding prefix and
// maintains lastGate/previousLastGate.
func (gs *gateState) resolve(g *Gate) {
	for len(gs.outstanding) > 0 && gs.outstanding[0].Resolved() {
		gs.previousLastGate = gs.lastGate
		gs.lastGate = gs.outstanding[0]
		gs.outstanding = gs.outstanding[1:]
	}

	if !g.Missed {
		if g.Waypoint.Type.IsStartingGate() {
			gs.enroute = true
			gs.passedStart = true
		}
		if g.Waypoint.Type.IsFinishGate() {
			gs.enroute = false
			gs.passedFinish = true
		}
	}
}

// checkGates resolves outstanding gates against the track's newest
// segment: crossings in the forward direction pass gates, lateness past
// the gate plane or a later crossing misses them.
func (gs *gateState) checkGates(track []Position, sc *Scorecard, ev gateEvents) {
	if len(track) < 2 || len(gs.outstanding) == 0 {
		return
	}

	p0, p1 := &track[len(track)-2], &track[len(track)-1]

	gs.maybeAdaptStart(track, ev)
	gs.checkBackwardStartCrossing(p0, p1, ev)

	// Find the first outstanding gate whose extended gate line the new
	// segment crosses in the forward direction; everything before it has
	// been overflown and is missed.
	crossed := -1
	var crossedFrac float64
	for i, g := range gs.outstanding {
		if gs.strategy == CorridorGateCheck && !g.TimedCheck {
			continue
		}
		if frac, ok := gs.segmentCrossesGate(p0, p1, g, g.Waypoint.ExtendedGateLine); ok {
			crossed, crossedFrac = i, frac
			break
		}
	}

	if crossed >= 0 {
		for _, g := range gs.outstanding[:crossed] {
			g.Missed = true
			ev.gateMissed(gs.lastGate, g, p1)
			gs.resolve(g)
		}

		g := gs.outstanding[0]
		actual := interpolateTime(p0.DeviceTime, p1.DeviceTime, crossedFrac)
		g.PassingTime = actual
		ev.gatePassed(g, actual)
		gs.resolve(g)
		if g.Waypoint.Type.IsFinishGate() && !g.Missed {
			ev.passedFinishpoint()
		}
	}

	// In corridor tasks secrets are resolved geometrically: passing abeam
	// the gate resolves it without a timing check.
	if gs.strategy == CorridorGateCheck {
		for len(gs.outstanding) > 0 && !gs.outstanding[0].TimedCheck {
			g := gs.outstanding[0]
			if !gs.pastGatePlane(p1, g) {
				break
			}
			g.PassingTime = p1.DeviceTime
			ev.gatePassed(g, p1.DeviceTime)
			gs.resolve(g)
		}
	}

	// Lateness: the head gate is missed once the contestant is past its
	// perpendicular plane later than the scorecard tolerates.
	for len(gs.outstanding) > 0 {
		g := gs.outstanding[0]
		if !g.TimedCheck {
			break
		}
		gateScore, err := sc.GateScore(g.Waypoint.Type)
		if err != nil {
			break
		}
		lateness := p1.DeviceTime.Sub(g.ExpectedTime).Seconds()
		if lateness > gateScore.MaximumLateness() && gs.pastGatePlane(p1, g) {
			g.Missed = true
			ev.gateMissed(gs.lastGate, g, p1)
			gs.resolve(g)
			continue
		}
		break
	}
}

// segmentCrossesGate tests the projected track segment against the given
// gate line and requires the crossing direction to match the gate's
// inbound track within 90 degrees. It returns the fraction along the
// track segment at which the crossing happens.
func (gs *gateState) segmentCrossesGate(p0, p1 *Position, g *Gate, line [2]geo.Point) (float64, bool) {
	a, b := gs.proj.Project(p0.Pos), gs.proj.Project(p1.Pos)
	l0, l1 := gs.proj.Project(line[0]), gs.proj.Project(line[1])

	isect, ok := geo.SegmentSegmentIntersect(a, b, l0, l1)
	if !ok {
		return 0, false
	}

	course := geo.InitialBearing(p0.Pos, p1.Pos)
	if geo.AbsBearingDifference(course, gs.gateDirection(g)) > 90 {
		return 0, false
	}

	seg := gomath.Hypot(b[0]-a[0], b[1]-a[1])
	if seg == 0 {
		return 0, true
	}
	frac := gomath.Hypot(isect[0]-a[0], isect[1]-a[1]) / seg
	return frac, true
}

// gateDirection is the track direction a legitimate crossing follows:
// inbound leg bearing, or the outbound bearing for the first waypoint.
func (gs *gateState) gateDirection(g *Gate) float64 {
	if g.Index > 0 {
		return g.Waypoint.BearingFromPrevious
	}
	return g.Waypoint.BearingNext
}

// pastGatePlane reports whether the position has passed the gate line's
// perpendicular plane in the direction of flight.
func (gs *gateState) pastGatePlane(p *Position, g *Gate) bool {
	pos := gs.proj.Project(p.Pos)
	gatePos := gs.proj.Project(g.Waypoint.Pos)

	dir := geo.Radians(gs.gateDirection(g))
	// Projected coordinates are (east, north); a bearing of 0 is +y.
	along := (pos[0]-gatePos[0])*gomath.Sin(dir) + (pos[1]-gatePos[1])*gomath.Cos(dir)
	return along > 0
}

// checkBackwardStartCrossing fires when the extended starting line is
// crossed backwards before the start; the timing rule turns it into a
// one-time penalty.
func (gs *gateState) checkBackwardStartCrossing(p0, p1 *Position, ev gateEvents) {
	if gs.passedStart || len(gs.outstanding) == 0 {
		return
	}
	start := gs.outstanding[0]
	if !start.Waypoint.Type.IsStartingGate() {
		return
	}

	a, b := gs.proj.Project(p0.Pos), gs.proj.Project(p1.Pos)
	l0, l1 := gs.proj.Project(start.Waypoint.ExtendedGateLine[0]), gs.proj.Project(start.Waypoint.ExtendedGateLine[1])
	if _, ok := geo.SegmentSegmentIntersect(a, b, l0, l1); !ok {
		return
	}

	course := geo.InitialBearing(p0.Pos, p1.Pos)
	if geo.AbsBearingDifference(course, gs.gateDirection(start)) > 90 {
		ev.backwardStartCrossing(start, p1)
	}
}

// maybeAdaptStart implements adaptive start: the first forward crossing
// of the infinite starting line sets the effective start time to the
// nearest whole minute and all expected gate times are shifted to match.
func (gs *gateState) maybeAdaptStart(track []Position, ev gateEvents) {
	if !gs.adaptive || gs.adaptiveStarted || gs.passedStart || len(gs.gates) == 0 || len(track) < 2 {
		return
	}

	start := gs.gates[0]
	p0, p1 := &track[len(track)-2], &track[len(track)-1]

	a, b := gs.proj.Project(p0.Pos), gs.proj.Project(p1.Pos)
	l0, l1 := gs.proj.Project(start.Waypoint.GateLine[0]), gs.proj.Project(start.Waypoint.GateLine[1])

	isect, ok := geo.LineLineIntersect(a, b, l0, l1)
	if !ok {
		return
	}
	// The line is infinite; the track segment is not.
	seg := gomath.Hypot(b[0]-a[0], b[1]-a[1])
	if seg == 0 {
		return
	}
	frac := ((isect[0]-a[0])*(b[0]-a[0]) + (isect[1]-a[1])*(b[1]-a[1])) / (seg * seg)
	if frac < 0 || frac > 1 {
		return
	}

	course := geo.InitialBearing(p0.Pos, p1.Pos)
	if geo.AbsBearingDifference(course, gs.gateDirection(start)) > 90 {
		return
	}

	crossing := interpolateTime(p0.DeviceTime, p1.DeviceTime, frac)
	// time.Round rounds an exact half minute up.
	effective := crossing.Round(time.Minute)

	gs.adaptiveStarted = true
	ev.adaptiveStartSet(effective)
}

// rebaseExpectedTimes shifts all unresolved gate times to a new start.
func (gs *gateState) rebaseExpectedTimes(expected []time.Time) {
	for i, g := range gs.gates {
		if !g.Resolved() {
			g.ExpectedTime = expected[i]
		}
	}
}

func interpolateTime(t0, t1 time.Time, frac float64) time.Time {
	return t0.Add(time.Duration(frac * float64(t1.Sub(t0))))
}
