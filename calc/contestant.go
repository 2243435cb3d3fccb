// calc/contestant.go
// Copyright(c) 2021-2026 Air Sports Live Tracking contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package calc

import (
	"time"

	"github.com/airsports-no/livetracking/route"
	"github.com/airsports-no/livetracking/util"
)

type ContestantID int64

// Contestant is a flat runtime snapshot of a competing crew in one
// navigation task. The gatekeeper owns one snapshot and refreshes it
// periodically through the repository; there are no live back-references
// to the task or the team.
type Contestant struct {
	ID             ContestantID `json:"id" msgpack:"id"`
	Name           string       `json:"name" msgpack:"n"`
	NavigationTask string       `json:"navigation_task" msgpack:"nt"`

	// Any of these device identifiers may report positions for the crew:
	// the physical tracker, the pilot/copilot app installations, and the
	// simulator.
	TrackerDeviceID     string `json:"tracker_device_id" msgpack:"td"`
	PilotTrackingID     string `json:"pilot_tracking_id" msgpack:"pt"`
	CopilotTrackingID   string `json:"copilot_tracking_id" msgpack:"cpt"`
	SimulatorTrackingID string `json:"simulator_tracking_id" msgpack:"st"`

	TakeoffTime      time.Time  `json:"takeoff_time" msgpack:"tt"`
	TrackerStartTime time.Time  `json:"tracker_start_time" msgpack:"tst"`
	FinishedByTime   time.Time  `json:"finished_by_time" msgpack:"fbt"`
	AdaptiveStart    bool       `json:"adaptive_start" msgpack:"as"`
	AirSpeedKnots    float64    `json:"air_speed" msgpack:"asp"`
	Wind             route.Wind `json:"wind" msgpack:"w"`

	// CalculationDelay holds back released positions so operators can
	// intercept bogus scores before they reach the public map.
	CalculationDelay time.Duration `json:"calculation_delay" msgpack:"cd"`

	// Once the calculator has started, the timing-affecting fields above
	// are frozen; admission validation rejects changes.
	CalculatorStarted bool `json:"calculator_started" msgpack:"cs"`
}

// TrackingIDs returns every device identifier that may report for this
// contestant.
func (c *Contestant) TrackingIDs() []string {
	ids := []string{c.TrackerDeviceID, c.PilotTrackingID, c.CopilotTrackingID, c.SimulatorTrackingID}
	return util.FilterSlice(ids, func(id string) bool { return id != "" })
}

// InWindow reports whether t falls inside the contestant's tracking
// window.
func (c *Contestant) InWindow(t time.Time) bool {
	return !t.Before(c.TrackerStartTime) && !t.After(c.FinishedByTime)
}

///////////////////////////////////////////////////////////////////////////
// external capabilities

// Repository is the persistence capability the gatekeeper depends on;
// everything it appends is per-contestant and append-only except for the
// explicit reset operation.
type Repository interface {
	// GetContestant returns the current snapshot, or ErrContestantGone if
	// the contestant has been deleted externally.
	GetContestant(id ContestantID) (*Contestant, error)
	SetCalculatorStarted(id ContestantID) error

	AppendScoreLogEntry(id ContestantID, entry ScoreLogEntry) error
	AppendAnnotation(id ContestantID, annotation Annotation) error
	UpsertGateScore(id ContestantID, gateName string, points float64) error
	SetActualGateTime(id ContestantID, gateName string, passing time.Time) error
	AppendPlayingCard(id ContestantID, card PlayingCard) error
	AppendPositions(id ContestantID, positions []Position) error
	SetTrackSummary(id ContestantID, summary TrackSummary) error

	ResetTrackAndScore(id ContestantID) error
}

// Archive fetches historical positions for back-fill when the live
// stream has gaps.
type Archive interface {
	GetPositions(deviceID string, from, to time.Time) ([]Position, error)
}

// Liveness is the TTL heartbeat the coordinator watches to detect
// crashed calculators.
type Liveness interface {
	Refresh(id ContestantID, ttl time.Duration)
	Clear(id ContestantID)
}

// TrackSummary is the terminal per-contestant record written when a
// calculator finishes.
type TrackSummary struct {
	Contestant      ContestantID `json:"contestant" msgpack:"c"`
	State           string       `json:"state" msgpack:"s"`
	Score           float64      `json:"score" msgpack:"sc"`
	PassedStart     bool         `json:"passed_start" msgpack:"ps"`
	PassedFinish    bool         `json:"passed_finish" msgpack:"pf"`
	LastGate        string       `json:"last_gate" msgpack:"lg"`
	CalculatorEnded time.Time    `json:"calculator_ended" msgpack:"ce"`
}
