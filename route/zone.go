// route/zone.go
// Copyright(c) 2021-2026 Air Sports Live Tracking contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package route

import (
	"github.com/airsports-no/livetracking/geo"
)

type ZoneKind string

const (
	ProhibitedZone  ZoneKind = "prohibited"
	PenaltyZone     ZoneKind = "penalty"
	InformationZone ZoneKind = "info"
	GateZone        ZoneKind = "gate"
)

// Zone is a polygonal area attached to a route. Prohibited and penalty
// zones are scored; info and gate zones only drive map display and gate
// resolution.
type Zone struct {
	Name    string      `json:"name"`
	Kind    ZoneKind    `json:"kind"`
	Polygon []geo.Point `json:"polygon"`

	// Scoring overrides; negative values mean "use the scorecard rate".
	GraceSeconds     float64 `json:"grace_seconds"`
	PenaltyPerSecond float64 `json:"penalty_per_second"`
	FixedPenalty     float64 `json:"fixed_penalty"`
	MaximumPenalty   float64 `json:"maximum_penalty"`
}

// Contains reports whether the projected position is inside the zone.
func (z *Zone) Contains(proj geo.Projector, p geo.Point) bool {
	if len(z.Polygon) < 3 {
		return false
	}
	poly := make([][2]float64, len(z.Polygon))
	for i, v := range z.Polygon {
		poly[i] = proj.Project(v)
	}
	return geo.PointInPolygon(proj.Project(p), poly)
}

// ScoredZones returns the prohibited and penalty zones of the route.
func (r *Route) ScoredZones() []Zone {
	var zones []Zone
	for _, z := range r.Zones {
		if z.Kind == ProhibitedZone || z.Kind == PenaltyZone {
			zones = append(zones, z)
		}
	}
	return zones
}
