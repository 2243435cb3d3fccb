// calc/accumulator.go
// Copyright(c) 2021-2026 Air Sports Live Tracking contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package calc

// Accumulator tracks the per-category point totals for one contestant
// and enforces per-category caps. It is owned by a single gatekeeper and
// all updates are serialised through the score update goroutine, so it
// needs no locking of its own.
type Accumulator struct {
	accumulated map[string]float64
}

func MakeAccumulator() *Accumulator {
	return &Accumulator{accumulated: make(map[string]float64)}
}

// SetAndUpdateScore applies an incremental score for a category.
// previous is what the caller has already reported for the same logical
// entry (rules that re-score a growing violation pass their last total
// here), so only the difference is added. When cap > -1 the category
// total is clamped to the cap. It returns the effective total for the
// caller's entry and whether the cap was hit.
func (a *Accumulator) SetAndUpdateScore(points float64, scoreType string, cap float64, previous float64) (float64, bool) {
	delta := points - previous
	current := a.accumulated[scoreType]

	capped := false
	if cap > -1 && current+delta >= cap {
		delta = cap - current
		capped = true
	}
	a.accumulated[scoreType] = current + delta
	return delta + previous, capped
}

// Accumulated returns the running total for a category.
func (a *Accumulator) Accumulated(scoreType string) float64 {
	return a.accumulated[scoreType]
}

// Total sums all categories.
func (a *Accumulator) Total() float64 {
	var sum float64
	for _, v := range a.accumulated {
		sum += v
	}
	return sum
}
