// geo/geo.go
// Copyright(c) 2021-2026 Air Sports Live Tracking contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package geo

import (
	gomath "math"
)

const (
	// EarthRadius is the mean earth radius in metres.
	EarthRadius = 6371000

	MetresPerNM = 1852
	NMPerMetre  = 1.0 / MetresPerNM
)

// Point represents a position on the earth in degrees latitude/longitude.
// All of the scoring geometry is done in float64; gate timing penalties
// care about metre-level offsets over legs of tens of kilometres.
type Point struct {
	Lat float64 `json:"latitude"`
	Lon float64 `json:"longitude"`
}

func (p Point) IsZero() bool {
	return p.Lat == 0 && p.Lon == 0
}

func Radians(d float64) float64 { return d / 180 * gomath.Pi }
func Degrees(r float64) float64 { return r / gomath.Pi * 180 }

// Distance returns the great-circle distance between the two points in
// metres, via the haversine formula.
// https://www.movable-type.co.uk/scripts/latlong.html
func Distance(a, b Point) float64 {
	lat1, lon1 := Radians(a.Lat), Radians(a.Lon)
	lat2, lon2 := Radians(b.Lat), Radians(b.Lon)
	dlat, dlon := lat2-lat1, lon2-lon1

	s := sqr(gomath.Sin(dlat/2)) + gomath.Cos(lat1)*gomath.Cos(lat2)*sqr(gomath.Sin(dlon/2))
	c := 2 * gomath.Atan2(gomath.Sqrt(s), gomath.Sqrt(1-s))
	return EarthRadius * c
}

// DistanceNM returns the great-circle distance in nautical miles.
func DistanceNM(a, b Point) float64 {
	return Distance(a, b) * NMPerMetre
}

// InitialBearing returns the initial great-circle bearing from a to b in
// degrees [0, 360).
func InitialBearing(a, b Point) float64 {
	lat1, lat2 := Radians(a.Lat), Radians(b.Lat)
	dlon := Radians(b.Lon - a.Lon)

	y := gomath.Sin(dlon) * gomath.Cos(lat2)
	x := gomath.Cos(lat1)*gomath.Sin(lat2) - gomath.Sin(lat1)*gomath.Cos(lat2)*gomath.Cos(dlon)
	return NormalizeBearing(Degrees(gomath.Atan2(y, x)))
}

// Destination returns the point at the given distance (metres) along the
// great circle from p with the given initial bearing (degrees).
func Destination(p Point, bearing, dist float64) Point {
	lat1, lon1 := Radians(p.Lat), Radians(p.Lon)
	brg := Radians(bearing)
	d := dist / EarthRadius

	lat2 := gomath.Asin(gomath.Sin(lat1)*gomath.Cos(d) + gomath.Cos(lat1)*gomath.Sin(d)*gomath.Cos(brg))
	lon2 := lon1 + gomath.Atan2(gomath.Sin(brg)*gomath.Sin(d)*gomath.Cos(lat1),
		gomath.Cos(d)-gomath.Sin(lat1)*gomath.Sin(lat2))

	return Point{Lat: Degrees(lat2), Lon: normalizeLon(Degrees(lon2))}
}

// Along returns the point at fraction f along the great circle from a to
// b; f=0 gives a and f=1 gives b. Degenerate (coincident or antipodal)
// pairs fall back to a.
func Along(a, b Point, f float64) Point {
	lat1, lon1 := Radians(a.Lat), Radians(a.Lon)
	lat2, lon2 := Radians(b.Lat), Radians(b.Lon)

	d := Distance(a, b) / EarthRadius
	sd := gomath.Sin(d)
	if sd == 0 {
		return a
	}

	p := gomath.Sin((1-f)*d) / sd
	q := gomath.Sin(f*d) / sd

	x := p*gomath.Cos(lat1)*gomath.Cos(lon1) + q*gomath.Cos(lat2)*gomath.Cos(lon2)
	y := p*gomath.Cos(lat1)*gomath.Sin(lon1) + q*gomath.Cos(lat2)*gomath.Sin(lon2)
	z := p*gomath.Sin(lat1) + q*gomath.Sin(lat2)

	lat := gomath.Atan2(z, gomath.Sqrt(x*x+y*y))
	lon := gomath.Atan2(y, x)

	return Point{Lat: Degrees(lat), Lon: Degrees(lon)}
}

// NormalizeBearing reduces a bearing to [0, 360).
func NormalizeBearing(b float64) float64 {
	b = gomath.Mod(b, 360)
	if b < 0 {
		b += 360
	}
	return b
}

// BearingDifference returns the signed difference b-a between two
// bearings, in (-180, 180]; positive means b is clockwise of a.
func BearingDifference(a, b float64) float64 {
	d := gomath.Mod(b-a, 360)
	if d > 180 {
		d -= 360
	} else if d <= -180 {
		d += 360
	}
	return d
}

// AbsBearingDifference returns the minimum difference between two
// bearings (i.e., the result is always in the range [0, 180]).
func AbsBearingDifference(a, b float64) float64 {
	return gomath.Abs(BearingDifference(a, b))
}

func normalizeLon(lon float64) float64 {
	lon = gomath.Mod(lon+540, 360)
	return lon - 180
}

func sqr(x float64) float64 { return x * x }
