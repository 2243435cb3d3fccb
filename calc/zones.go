// calc/zones.go
// Copyright(c) 2021-2026 Air Sports Live Tracking contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package calc

import (
	"fmt"
	gomath "math"
	"time"

	"github.com/airsports-no/livetracking/geo"
	"github.com/airsports-no/livetracking/route"
	"github.com/airsports-no/livetracking/util"
)

// ZoneRule scores stays inside prohibited and penalty zones. A stay
// shorter than the zone's grace time is free; beyond it, prohibited
// zones cost a fixed penalty and penalty zones cost per second, capped
// per zone. Zone scoring applies both enroute and outside the route.
type ZoneRule struct {
	updater   ScoreUpdater
	scorecard *Scorecard
	proj      geo.Projector
	zones     []route.Zone
	stays     []zoneStay

	accumulated float64
}

type zoneStay struct {
	insideSince time.Time
	reported    float64
	capped      bool
	fixedFired  bool
}

func NewZoneRule(updater ScoreUpdater, sc *Scorecard, rt *route.Route, proj geo.Projector) *ZoneRule {
	zones := rt.ScoredZones()
	return &ZoneRule{
		updater:   updater,
		scorecard: sc,
		proj:      proj,
		zones:     zones,
		stays:     make([]zoneStay, len(zones)),
	}
}

func (r *ZoneRule) GatePassed(gate *Gate, actual time.Time, track []Position) {}

func (r *ZoneRule) MissedGate(previous, gate *Gate, pos *Position) {}

func (r *ZoneRule) CalculateEnroute(track []Position, lastGate *Gate, inRange bool, next *Gate) {
	r.check(&track[len(track)-1])
}

func (r *ZoneRule) CalculateOutsideRoute(track []Position, lastGate *Gate) {
	r.check(&track[len(track)-1])
}

func (r *ZoneRule) PassedFinishpoint(track []Position, lastGate *Gate) {}

func (r *ZoneRule) DangerLevel(track []Position) (float64, float64) {
	if len(track) == 0 {
		return 0, r.accumulated
	}
	pos := &track[len(track)-1]

	level := 0.0
	for i := range r.zones {
		stay := &r.stays[i]
		if stay.insideSince.IsZero() {
			continue
		}
		grace := r.graceSeconds(&r.zones[i])
		inside := pos.DeviceTime.Sub(stay.insideSince).Seconds()
		if grace <= 0 || inside >= grace {
			return 100, r.accumulated
		}
		level = gomath.Max(level, 100*inside/grace)
	}
	return level, r.accumulated
}

func (r *ZoneRule) check(pos *Position) {
	for i := range r.zones {
		zone := &r.zones[i]
		stay := &r.stays[i]
		inside := zone.Contains(r.proj, pos.Pos)

		switch {
		case inside && stay.insideSince.IsZero():
			stay.insideSince = pos.DeviceTime
			stay.reported = 0
			stay.capped = false
			stay.fixedFired = false
			r.annotate(pos, zone, fmt.Sprintf("entering %s zone %s", zone.Kind, zone.Name))

		case inside:
			r.score(pos, zone, stay)

		case !stay.insideSince.IsZero():
			r.score(pos, zone, stay)
			stay.insideSince = time.Time{}
			r.annotate(pos, zone, fmt.Sprintf("leaving %s zone %s", zone.Kind, zone.Name))
		}
	}
}

func (r *ZoneRule) score(pos *Position, zone *route.Zone, stay *zoneStay) {
	grace := r.graceSeconds(zone)
	inside := pos.DeviceTime.Sub(stay.insideSince).Seconds()
	if inside <= grace {
		return
	}

	if zone.Kind == route.ProhibitedZone {
		if stay.fixedFired {
			return
		}
		stay.fixedFired = true

		points := util.Select(zone.FixedPenalty >= 0, zone.FixedPenalty, r.scorecard.ProhibitedZonePenalty)
		r.accumulated += points
		r.updater.UpdateScore(ScoreUpdate{
			Gate:      zone.Name,
			Points:    points,
			Message:   fmt.Sprintf("inside prohibited zone %s", zone.Name),
			Pos:       pos.Pos,
			ScoreType: ZoneScoreType,
			EntryType: EntryAnomaly,
			Cap:       NoCap,
			Annotate:  true,
		})
		return
	}

	rate := util.Select(zone.PenaltyPerSecond >= 0, zone.PenaltyPerSecond,
		r.scorecard.PenaltyZonePenaltyPerSecond)
	raw := gomath.Floor(inside-grace) * rate

	points := raw
	capped := false
	max := util.Select(zone.MaximumPenalty >= 0, zone.MaximumPenalty, r.scorecard.PenaltyZoneMaximum)
	if max >= 0 && raw >= max {
		points = max
		capped = true
	}

	if points == stay.reported && capped == stay.capped {
		return
	}

	r.updater.UpdateScore(ScoreUpdate{
		Gate:       zone.Name,
		Points:     points,
		Message:    fmt.Sprintf("inside penalty zone %s (%d seconds)", zone.Name, int(inside)),
		Pos:        pos.Pos,
		ScoreType:  ZoneScoreType,
		EntryType:  EntryAnomaly,
		Cap:        NoCap,
		Capped:     capped,
		Previous:   stay.reported,
		UpdateLast: stay.reported > 0,
	})
	r.accumulated += points - stay.reported
	stay.reported = points
	stay.capped = capped
}

func (r *ZoneRule) graceSeconds(zone *route.Zone) float64 {
	return util.Select(zone.GraceSeconds >= 0, zone.GraceSeconds, r.scorecard.PenaltyZoneGraceTime)
}

func (r *ZoneRule) annotate(pos *Position, zone *route.Zone, message string) {
	r.updater.UpdateScore(ScoreUpdate{
		Gate:      zone.Name,
		Points:    0,
		Message:   message,
		Pos:       pos.Pos,
		ScoreType: ZoneScoreType,
		EntryType: EntryInformation,
		Cap:       NoCap,
		Annotate:  true,
	})
}
