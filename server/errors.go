// server/errors.go
// Copyright(c) 2021-2026 Air Sports Live Tracking contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package server

import (
	"errors"

	"github.com/airsports-no/livetracking/calc"
	"github.com/airsports-no/livetracking/route"
)

var (
	ErrValidationRejected     = errors.New("Contestant configuration rejected by validation")
	ErrOverlappingTracker     = errors.New("Tracker already assigned to an overlapping contestant")
	ErrOverlappingCrew        = errors.New("Crew member already flying an overlapping task")
	ErrWindowTooLong          = errors.New("Tracking window exceeds 24 hours")
	ErrFrozenTimingFields     = errors.New("Timing fields cannot change after the calculator has started")
	ErrUnknownDevice          = errors.New("No contestant matches the reporting device")
	ErrNoRunningCalculator    = errors.New("No running calculator for contestant")
	ErrCalculatorStillRunning = errors.New("Calculator did not terminate before the deadline")
)

var errorStringToError = map[string]error{
	calc.ErrTimedOut.Error():             calc.ErrTimedOut,
	calc.ErrQueueEmpty.Error():           calc.ErrQueueEmpty,
	calc.ErrArchiveUnavailable.Error():   calc.ErrArchiveUnavailable,
	calc.ErrContestantGone.Error():       calc.ErrContestantGone,
	calc.ErrScorecardMissing.Error():     calc.ErrScorecardMissing,
	calc.ErrTerminationRequested.Error(): calc.ErrTerminationRequested,
	calc.ErrCalculatorFinished.Error():   calc.ErrCalculatorFinished,

	route.ErrEmptyRoute.Error():          route.ErrEmptyRoute,
	route.ErrGateLinesIntersect.Error():  route.ErrGateLinesIntersect,
	route.ErrGateCrossesCorridor.Error(): route.ErrGateCrossesCorridor,

	ErrValidationRejected.Error():     ErrValidationRejected,
	ErrOverlappingTracker.Error():     ErrOverlappingTracker,
	ErrOverlappingCrew.Error():        ErrOverlappingCrew,
	ErrWindowTooLong.Error():          ErrWindowTooLong,
	ErrFrozenTimingFields.Error():     ErrFrozenTimingFields,
	ErrUnknownDevice.Error():          ErrUnknownDevice,
	ErrNoRunningCalculator.Error():    ErrNoRunningCalculator,
	ErrCalculatorStillRunning.Error(): ErrCalculatorStillRunning,
}

// TryDecodeError maps an error that has crossed a process boundary (and
// so lost its identity) back to the corresponding sentinel, if any.
func TryDecodeError(e error) error {
	if e == nil {
		return e
	}
	if err, ok := errorStringToError[e.Error()]; ok {
		return err
	}
	return e
}

func TryDecodeErrorString(s string) error {
	if err, ok := errorStringToError[s]; ok {
		return err
	}
	return nil
}
