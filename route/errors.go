// route/errors.go
// Copyright(c) 2021-2026 Air Sports Live Tracking contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package route

import (
	"errors"
)

var (
	ErrEmptyRoute          = errors.New("Route has no waypoints")
	ErrGateLinesIntersect  = errors.New("Two gate lines intersect")
	ErrGateCrossesCorridor = errors.New("Gate line intersects a corridor segment")
)
