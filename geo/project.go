// geo/project.go
// Copyright(c) 2021-2026 Air Sports Live Tracking contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package geo

import (
	gomath "math"
)

// Projector maps lat-long positions into a local azimuthal equidistant
// plane centred on a route's first waypoint; gate-line crossings,
// corridors and zones are all evaluated in this plane so that both axes
// have the same measure (metres).
type Projector struct {
	Center Point
}

func MakeProjector(center Point) Projector {
	return Projector{Center: center}
}

// Project returns the planar coordinates of p in metres; +x is east of
// the centre and +y is north.
func (pr Projector) Project(p Point) [2]float64 {
	d := Distance(pr.Center, p)
	if d == 0 {
		return [2]float64{0, 0}
	}
	theta := Radians(InitialBearing(pr.Center, p))
	return [2]float64{d * gomath.Sin(theta), d * gomath.Cos(theta)}
}

// Unproject is the inverse of Project.
func (pr Projector) Unproject(xy [2]float64) Point {
	d := gomath.Sqrt(xy[0]*xy[0] + xy[1]*xy[1])
	if d == 0 {
		return pr.Center
	}
	bearing := Degrees(gomath.Atan2(xy[0], xy[1]))
	return Destination(pr.Center, bearing, d)
}

///////////////////////////////////////////////////////////////////////////
// Planar geometry, on projected coordinates.

// LineLineIntersect returns the intersection point of the two infinite
// lines specified by the vertices (p1, p2) and (p3, p4). An additional
// returned Boolean value indicates whether a valid intersection was
// found. (There's no intersection for parallel lines, and none may be
// found in cases with tricky numerics.)
func LineLineIntersect(p1, p2, p3, p4 [2]float64) ([2]float64, bool) {
	d12 := [2]float64{p1[0] - p2[0], p1[1] - p2[1]}
	d34 := [2]float64{p3[0] - p4[0], p3[1] - p4[1]}
	denom := d12[0]*d34[1] - d12[1]*d34[0]
	if gomath.Abs(denom) < 1e-9 {
		return [2]float64{}, false
	}
	numx := (p1[0]*p2[1]-p1[1]*p2[0])*(p3[0]-p4[0]) - (p1[0]-p2[0])*(p3[0]*p4[1]-p3[1]*p4[0])
	numy := (p1[0]*p2[1]-p1[1]*p2[0])*(p3[1]-p4[1]) - (p1[1]-p2[1])*(p3[0]*p4[1]-p3[1]*p4[0])

	return [2]float64{numx / denom, numy / denom}, true
}

// SegmentSegmentIntersect returns the intersection point of the two line
// segments specified by the vertices (p1, p2) and (p3, p4). An additional
// returned Boolean value indicates whether a valid intersection was found
// within both segments.
func SegmentSegmentIntersect(p1, p2, p3, p4 [2]float64) ([2]float64, bool) {
	p, ok := LineLineIntersect(p1, p2, p3, p4)
	if !ok {
		return [2]float64{}, false
	}

	// See if the intersection point is within the bounding boxes of both
	// segments.
	inBox := func(p, a, b [2]float64) bool {
		// Lightly padded so that crossings through a shared endpoint are
		// not lost to roundoff.
		const eps = 1e-6
		return p[0] >= gomath.Min(a[0], b[0])-eps && p[0] <= gomath.Max(a[0], b[0])+eps &&
			p[1] >= gomath.Min(a[1], b[1])-eps && p[1] <= gomath.Max(a[1], b[1])+eps
	}
	return p, inBox(p, p1, p2) && inBox(p, p3, p4)
}

// SignedPointLineDistance returns the signed distance from the point p to
// the infinite line defined by (p0, p1) where points to the right of the
// line have negative distances.
func SignedPointLineDistance(p, p0, p1 [2]float64) float64 {
	dx, dy := p1[0]-p0[0], p1[1]-p0[1]
	sq := dx*dx + dy*dy
	if sq == 0 {
		return gomath.Inf(1)
	}
	return (dx*(p0[1]-p[1]) - dy*(p0[0]-p[0])) / gomath.Sqrt(sq)
}

// PointSegmentDistance returns the minimum distance between the line
// segment (v, w) and the point p.
func PointSegmentDistance(p, v, w [2]float64) float64 {
	dx, dy := w[0]-v[0], w[1]-v[1]
	l2 := dx*dx + dy*dy
	if l2 == 0 {
		return gomath.Hypot(p[0]-v[0], p[1]-v[1])
	}
	t := ((p[0]-v[0])*dx + (p[1]-v[1])*dy) / l2
	t = gomath.Max(0, gomath.Min(1, t))
	return gomath.Hypot(p[0]-(v[0]+t*dx), p[1]-(v[1]+t*dy))
}

// PointInPolygon checks whether the given point is inside the given
// polygon via ray casting; it assumes that the last vertex does not
// repeat the first one, and so includes the edge from pts[len(pts)-1] to
// pts[0] in its test.
func PointInPolygon(p [2]float64, pts [][2]float64) bool {
	inside := false
	for i := 0; i < len(pts); i++ {
		p0, p1 := pts[i], pts[(i+1)%len(pts)]
		if (p0[1] <= p[1] && p[1] < p1[1]) || (p1[1] <= p[1] && p[1] < p0[1]) {
			x := p0[0] + (p[1]-p0[1])*(p1[0]-p0[0])/(p1[1]-p0[1])
			if x > p[0] {
				inside = !inside
			}
		}
	}
	return inside
}
