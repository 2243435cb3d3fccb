// calc/interpolate.go
// Copyright(c) 2021-2026 Air Sports Live Tracking contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package calc

import (
	"time"

	"github.com/airsports-no/livetracking/geo"
)

// Interpolate fills the gap between two consecutive real positions with
// intermediate positions at one second spacing along the great circle.
// For a gap of n >= 2 seconds it returns n-1 interpolated positions; for
// shorter gaps, or when the aircraft has moved less than a metre, it
// returns nil. Interpolated positions inherit the non-geometric fields
// of the real successor.
func Interpolate(last, pos *Position) []Position {
	dt := pos.DeviceTime.Sub(last.DeviceTime)
	seconds := int(dt / time.Second)
	if seconds < 2 {
		return nil
	}
	if geo.Distance(last.Pos, pos.Pos) < 1 {
		return nil
	}

	result := make([]Position, 0, seconds-1)
	for i := 1; i < seconds; i++ {
		f := float64(i*int(time.Second)) / float64(dt)
		p := *pos
		p.DeviceTime = last.DeviceTime.Add(time.Duration(i) * time.Second)
		p.Pos = geo.Along(last.Pos, pos.Pos, f)
		p.Interpolated = true
		result = append(result, p)
	}
	return result
}
