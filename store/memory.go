// store/memory.go
// Copyright(c) 2021-2026 Air Sports Live Tracking contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package store

import (
	"time"

	"github.com/brunoga/deep"

	"github.com/airsports-no/livetracking/calc"
	"github.com/airsports-no/livetracking/log"
	"github.com/airsports-no/livetracking/route"
	"github.com/airsports-no/livetracking/util"
)

// TrackRecord is everything the system persists for one contestant in
// one task: the inputs the calculator ran with and everything it
// produced. It is also the on-disk track file format.
type TrackRecord struct {
	Contestant *calc.Contestant `msgpack:"c"`
	Route      *route.Route     `msgpack:"r"`
	Scorecard  *calc.Scorecard  `msgpack:"sc"`

	Positions   []calc.Position      `msgpack:"p"`
	ScoreLog    []calc.ScoreLogEntry `msgpack:"sl"`
	Annotations []calc.Annotation    `msgpack:"an"`
	Cards       []calc.PlayingCard   `msgpack:"pc"`
	GateScores  map[string]float64   `msgpack:"gs"`
	GateTimes   map[string]time.Time `msgpack:"gt"`
	Summary     *calc.TrackSummary   `msgpack:"s"`
}

// MemoryRepository is the in-process implementation of calc.Repository,
// keyed by contestant. It is the store for local mode, the replay tool
// and the tests; records can be exported as track files at any point.
type MemoryRepository struct {
	mu      util.LoggingMutex
	lg      *log.Logger
	records map[calc.ContestantID]*TrackRecord
}

func NewMemoryRepository(lg *log.Logger) *MemoryRepository {
	return &MemoryRepository{lg: lg, records: make(map[calc.ContestantID]*TrackRecord)}
}

// Admit registers a contestant with its task inputs; an existing record
// for the same contestant is replaced wholesale.
func (m *MemoryRepository) Admit(c *calc.Contestant, rt *route.Route, sc *calc.Scorecard) {
	m.mu.Lock(m.lg)
	defer m.mu.Unlock(m.lg)

	m.records[c.ID] = &TrackRecord{
		Contestant: c,
		Route:      rt,
		Scorecard:  sc,
		GateScores: make(map[string]float64),
		GateTimes:  make(map[string]time.Time),
	}
}

// Remove deletes the contestant entirely; a running calculator observes
// ErrContestantGone on its next refresh and shuts down.
func (m *MemoryRepository) Remove(id calc.ContestantID) {
	m.mu.Lock(m.lg)
	defer m.mu.Unlock(m.lg)
	delete(m.records, id)
}

// Contestants returns the IDs of every admitted contestant, in a stable
// order.
func (m *MemoryRepository) Contestants() []calc.ContestantID {
	m.mu.Lock(m.lg)
	defer m.mu.Unlock(m.lg)
	return util.SortedMapKeys(m.records)
}

// Task returns deep copies of the route and scorecard the contestant
// was admitted with.
func (m *MemoryRepository) Task(id calc.ContestantID) (*route.Route, *calc.Scorecard, error) {
	m.mu.Lock(m.lg)
	defer m.mu.Unlock(m.lg)

	rec, ok := m.records[id]
	if !ok {
		return nil, nil, calc.ErrContestantGone
	}
	rt, err := deep.Copy(rec.Route)
	if err != nil {
		return nil, nil, err
	}
	sc, err := deep.Copy(rec.Scorecard)
	if err != nil {
		return nil, nil, err
	}
	return rt, sc, nil
}

// Record returns a deep copy of the full track record, suitable for
// export while the calculator is still appending to the original.
func (m *MemoryRepository) Record(id calc.ContestantID) (*TrackRecord, error) {
	m.mu.Lock(m.lg)
	defer m.mu.Unlock(m.lg)

	rec, ok := m.records[id]
	if !ok {
		return nil, calc.ErrContestantGone
	}
	return deep.Copy(rec)
}

func (m *MemoryRepository) get(id calc.ContestantID) (*TrackRecord, error) {
	rec, ok := m.records[id]
	if !ok {
		return nil, calc.ErrContestantGone
	}
	return rec, nil
}

///////////////////////////////////////////////////////////////////////////
// calc.Repository

func (m *MemoryRepository) GetContestant(id calc.ContestantID) (*calc.Contestant, error) {
	m.mu.Lock(m.lg)
	defer m.mu.Unlock(m.lg)

	rec, err := m.get(id)
	if err != nil {
		return nil, err
	}
	return deep.Copy(rec.Contestant)
}

func (m *MemoryRepository) SetCalculatorStarted(id calc.ContestantID) error {
	m.mu.Lock(m.lg)
	defer m.mu.Unlock(m.lg)

	rec, err := m.get(id)
	if err != nil {
		return err
	}
	rec.Contestant.CalculatorStarted = true
	return nil
}

func (m *MemoryRepository) AppendScoreLogEntry(id calc.ContestantID, entry calc.ScoreLogEntry) error {
	m.mu.Lock(m.lg)
	defer m.mu.Unlock(m.lg)

	rec, err := m.get(id)
	if err != nil {
		return err
	}
	rec.ScoreLog = append(rec.ScoreLog, entry)
	return nil
}

func (m *MemoryRepository) AppendAnnotation(id calc.ContestantID, annotation calc.Annotation) error {
	m.mu.Lock(m.lg)
	defer m.mu.Unlock(m.lg)

	rec, err := m.get(id)
	if err != nil {
		return err
	}
	rec.Annotations = append(rec.Annotations, annotation)
	return nil
}

func (m *MemoryRepository) UpsertGateScore(id calc.ContestantID, gateName string, points float64) error {
	m.mu.Lock(m.lg)
	defer m.mu.Unlock(m.lg)

	rec, err := m.get(id)
	if err != nil {
		return err
	}
	rec.GateScores[gateName] = points
	return nil
}

func (m *MemoryRepository) SetActualGateTime(id calc.ContestantID, gateName string, passing time.Time) error {
	m.mu.Lock(m.lg)
	defer m.mu.Unlock(m.lg)

	rec, err := m.get(id)
	if err != nil {
		return err
	}
	rec.GateTimes[gateName] = passing
	return nil
}

func (m *MemoryRepository) AppendPlayingCard(id calc.ContestantID, card calc.PlayingCard) error {
	m.mu.Lock(m.lg)
	defer m.mu.Unlock(m.lg)

	rec, err := m.get(id)
	if err != nil {
		return err
	}
	rec.Cards = append(rec.Cards, card)
	return nil
}

func (m *MemoryRepository) AppendPositions(id calc.ContestantID, positions []calc.Position) error {
	m.mu.Lock(m.lg)
	defer m.mu.Unlock(m.lg)

	rec, err := m.get(id)
	if err != nil {
		return err
	}
	rec.Positions = append(rec.Positions, positions...)
	return nil
}

func (m *MemoryRepository) SetTrackSummary(id calc.ContestantID, summary calc.TrackSummary) error {
	m.mu.Lock(m.lg)
	defer m.mu.Unlock(m.lg)

	rec, err := m.get(id)
	if err != nil {
		return err
	}
	rec.Summary = &summary
	return nil
}

func (m *MemoryRepository) ResetTrackAndScore(id calc.ContestantID) error {
	m.mu.Lock(m.lg)
	defer m.mu.Unlock(m.lg)

	rec, err := m.get(id)
	if err != nil {
		return err
	}
	rec.Positions, rec.ScoreLog, rec.Annotations, rec.Cards = nil, nil, nil, nil
	rec.GateScores = make(map[string]float64)
	rec.GateTimes = make(map[string]time.Time)
	rec.Summary = nil
	rec.Contestant.CalculatorStarted = false
	return nil
}

// MemoryArchive serves calc.Archive from positions held in memory; the
// replay tool and the tests use it in place of the HTTP archive.
type MemoryArchive struct {
	mu        util.LoggingMutex
	lg        *log.Logger
	positions map[string][]calc.Position
}

func NewMemoryArchive(lg *log.Logger) *MemoryArchive {
	return &MemoryArchive{lg: lg, positions: make(map[string][]calc.Position)}
}

func (a *MemoryArchive) Add(deviceID string, positions ...calc.Position) {
	a.mu.Lock(a.lg)
	defer a.mu.Unlock(a.lg)
	a.positions[deviceID] = append(a.positions[deviceID], positions...)
}

func (a *MemoryArchive) GetPositions(deviceID string, from, to time.Time) ([]calc.Position, error) {
	a.mu.Lock(a.lg)
	defer a.mu.Unlock(a.lg)

	var result []calc.Position
	for _, p := range a.positions[deviceID] {
		if !p.DeviceTime.Before(from) && !p.DeviceTime.After(to) {
			result = append(result, p)
		}
	}
	return result, nil
}
