// calc/errors.go
// Copyright(c) 2021-2026 Air Sports Live Tracking contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package calc

import (
	"errors"
)

var (
	ErrTimedOut             = errors.New("Timed out waiting for a released position")
	ErrQueueEmpty           = errors.New("Release queue is empty")
	ErrArchiveUnavailable   = errors.New("Unable to reach the position archive")
	ErrContestantGone       = errors.New("Contestant has been deleted")
	ErrScorecardMissing     = errors.New("No scorecard entry for gate type")
	ErrTerminationRequested = errors.New("Calculator termination requested")
	ErrCalculatorFinished   = errors.New("Calculator has already finished")
)
