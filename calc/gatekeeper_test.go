// calc/gatekeeper_test.go
// Copyright(c) 2021-2026 Air Sports Live Tracking contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package calc

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/airsports-no/livetracking/geo"
	"github.com/airsports-no/livetracking/log"
	"github.com/airsports-no/livetracking/route"
	"github.com/airsports-no/livetracking/util"
)

///////////////////////////////////////////////////////////////////////////
// fakes

type testRepo struct {
	mu          sync.Mutex
	contestant  *Contestant
	gone        bool
	entries     []ScoreLogEntry
	annotations []Annotation
	cards       []PlayingCard
	positions   []Position
	gateTimes   map[string]time.Time
	gateScores  map[string]float64
	summary     *TrackSummary
	started     bool
}

func newTestRepo(c *Contestant) *testRepo {
	return &testRepo{
		contestant: c,
		gateTimes:  make(map[string]time.Time),
		gateScores: make(map[string]float64),
	}
}

func (r *testRepo) GetContestant(id ContestantID) (*Contestant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.gone {
		return nil, ErrContestantGone
	}
	c := *r.contestant
	return &c, nil
}

func (r *testRepo) SetCalculatorStarted(id ContestantID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = true
	return nil
}

func (r *testRepo) AppendScoreLogEntry(id ContestantID, entry ScoreLogEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry)
	return nil
}

func (r *testRepo) AppendAnnotation(id ContestantID, annotation Annotation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.annotations = append(r.annotations, annotation)
	return nil
}

func (r *testRepo) UpsertGateScore(id ContestantID, gateName string, points float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gateScores[gateName] = points
	return nil
}

func (r *testRepo) SetActualGateTime(id ContestantID, gateName string, passing time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gateTimes[gateName] = passing
	return nil
}

func (r *testRepo) AppendPlayingCard(id ContestantID, card PlayingCard) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cards = append(r.cards, card)
	return nil
}

func (r *testRepo) AppendPositions(id ContestantID, positions []Position) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.positions = append(r.positions, positions...)
	return nil
}

func (r *testRepo) SetTrackSummary(id ContestantID, summary TrackSummary) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.summary = &summary
	return nil
}

func (r *testRepo) ResetTrackAndScore(id ContestantID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries, r.annotations, r.cards, r.positions = nil, nil, nil, nil
	r.gateTimes = make(map[string]time.Time)
	r.gateScores = make(map[string]float64)
	return nil
}

func (r *testRepo) positionCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.positions)
}

type testArchive struct{ positions []Position }

func (a *testArchive) GetPositions(deviceID string, from, to time.Time) ([]Position, error) {
	var result []Position
	for _, p := range a.positions {
		if !p.DeviceTime.Before(from) && !p.DeviceTime.After(to) {
			result = append(result, p)
		}
	}
	return result, nil
}

type testLiveness struct {
	mu   sync.Mutex
	keys map[ContestantID]time.Time
}

func newTestLiveness() *testLiveness {
	return &testLiveness{keys: make(map[ContestantID]time.Time)}
}

func (l *testLiveness) Refresh(id ContestantID, ttl time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.keys[id] = time.Now().Add(ttl)
}

func (l *testLiveness) Clear(id ContestantID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.keys, id)
}

///////////////////////////////////////////////////////////////////////////
// helpers

func testLogger(t *testing.T) *log.Logger {
	return log.New("error", t.TempDir())
}

var testStart = time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)

// precisionRoute is SP -> TP1 -> FP northbound along 10.6E, 5 NM legs.
func precisionRoute() *route.Route {
	return route.MakeRoute("precision test", []route.Waypoint{
		{Name: "SP", Type: route.StartingPoint, Pos: geo.Point{Lat: 59.9, Lon: 10.6}, WidthNM: 1},
		{Name: "TP1", Type: route.Turnpoint, Pos: geo.Point{Lat: 59.9833, Lon: 10.6}, WidthNM: 1},
		{Name: "FP", Type: route.FinishPoint, Pos: geo.Point{Lat: 60.0667, Lon: 10.6}, WidthNM: 1},
	})
}

func precisionScorecard() *Scorecard {
	gs := &GateScore{GraceperiodBefore: 2, GraceperiodAfter: 2, PenaltyPerSecond: 3,
		MaximumPenalty: 100, MissedPenalty: 200}
	return &Scorecard{
		Task: Precision,
		GateScores: map[route.WaypointType]*GateScore{
			route.StartingPoint: gs,
			route.Turnpoint:     gs,
			route.SecretPoint:   gs,
			route.FinishPoint:   gs,
		},
		BadCrossingExtendedGatePenalty: 200,
		MissedProcedureTurnPenalty:     200,
		GateRangeNM:                    2,
		BacktrackingPenalty:            200,
		BacktrackingBearingDifference:  90,
		BacktrackingGraceTimeSeconds:   5,
		BacktrackingSteepGateGraceTime: 15,
		BacktrackingGateRangeNM:        0.5,
		BacktrackingMaximumPenalty:     -1,
		ProhibitedZonePenalty:          200,
		PenaltyZonePenaltyPerSecond:    3,
		PenaltyZoneGraceTime:           5,
		PenaltyZoneMaximum:             100,
		CorridorGraceTime:              5,
		CorridorOutsidePenalty:         3,
		CorridorMaximumPenalty:         50,
	}
}

func testContestant(sc *Scorecard) *Contestant {
	return &Contestant{
		ID:               17,
		Name:             "Test Crew",
		TrackerDeviceID:  "tracker-17",
		TakeoffTime:      testStart,
		TrackerStartTime: testStart.Add(-10 * time.Minute),
		FinishedByTime:   testStart.Add(2 * time.Hour),
		AirSpeedKnots:    60,
	}
}

type fix struct {
	t time.Time
	p geo.Point
}

// makeTrack samples a piecewise-linear path through the fixes at the
// given interval.
func makeTrack(fixes []fix, step time.Duration) []Position {
	var track []Position
	for t := fixes[0].t; !t.After(fixes[len(fixes)-1].t); t = t.Add(step) {
		seg := 1
		for seg < len(fixes)-1 && t.After(fixes[seg].t) {
			seg++
		}
		a, b := fixes[seg-1], fixes[seg]
		f := float64(t.Sub(a.t)) / float64(b.t.Sub(a.t))
		track = append(track, Position{
			DeviceTime: t,
			ServerTime: t,
			Pos: geo.Point{
				Lat: a.p.Lat + f*(b.p.Lat-a.p.Lat),
				Lon: a.p.Lon + f*(b.p.Lon-a.p.Lon),
			},
			Speed:  60,
			Course: geo.InitialBearing(a.p, b.p),
		})
	}
	return track
}

// extendFixes prepends and appends extrapolated fixes so the track
// approaches the first gate and departs the last one at the adjacent
// leg's speed (no corner at the gate).
func extendFixes(fixes []fix, lead, tail time.Duration) []fix {
	first, second := fixes[0], fixes[1]
	df := float64(lead) / float64(second.t.Sub(first.t))
	head := fix{
		t: first.t.Add(-lead),
		p: geo.Point{
			Lat: first.p.Lat - df*(second.p.Lat-first.p.Lat),
			Lon: first.p.Lon - df*(second.p.Lon-first.p.Lon),
		},
	}

	last, prev := fixes[len(fixes)-1], fixes[len(fixes)-2]
	dl := float64(tail) / float64(last.t.Sub(prev.t))
	end := fix{
		t: last.t.Add(tail),
		p: geo.Point{
			Lat: last.p.Lat + dl*(last.p.Lat-prev.p.Lat),
			Lon: last.p.Lon + dl*(last.p.Lon-prev.p.Lon),
		},
	}

	return append(append([]fix{head}, fixes...), end)
}

// runSync drives the gatekeeper synchronously: positions in, updater
// drained, terminal state written.
func runSync(t *testing.T, sc *Scorecard, rt *route.Route, c *Contestant, track []Position) (*Gatekeeper, *testRepo) {
	lg := testLogger(t)
	repo := newTestRepo(c)
	events := NewEventStream(lg)
	t.Cleanup(events.Destroy)

	g, err := NewGatekeeper(c, rt, sc, repo, &testArchive{}, newTestLiveness(), events,
		nil, false, lg)
	if err != nil {
		t.Fatalf("NewGatekeeper: %v", err)
	}

	go g.scoreUpdater()
	for i := range track {
		g.processPosition(&track[i])
	}
	g.finish()

	return g, repo
}

func entriesWithType(log []ScoreLogEntry, scoreType string) []ScoreLogEntry {
	var result []ScoreLogEntry
	for _, e := range log {
		if e.ScoreType == scoreType {
			result = append(result, e)
		}
	}
	return result
}

///////////////////////////////////////////////////////////////////////////
// scenarios

func TestPrecisionOnTime(t *testing.T) {
	rt := precisionRoute()
	sc := precisionScorecard()
	c := testContestant(sc)

	expected := rt.ExpectedTimes(c.TakeoffTime, c.AirSpeedKnots, c.Wind)
	fixes := extendFixes([]fix{
		{expected[0], rt.Waypoints[0].Pos},
		{expected[1], rt.Waypoints[1].Pos},
		{expected[2], rt.Waypoints[2].Pos},
	}, time.Minute, time.Minute)

	g, _ := runSync(t, sc, rt, c, makeTrack(fixes, time.Second))

	scoreLog := g.ScoreLog()
	if len(scoreLog) != 3 {
		t.Fatalf("got %d entries: %v", len(scoreLog), scoreLog)
	}
	for i, name := range []string{"SP", "TP1", "FP"} {
		e := scoreLog[i]
		if e.Gate != name || e.Points != 0 || e.Message != "passing gate (+0 s)" {
			t.Errorf("entry %d: %q", i, e.String())
		}
	}
	if g.TotalScore() != 0 {
		t.Errorf("total score %v", g.TotalScore())
	}
}

func TestPrecisionLateTurnpoint(t *testing.T) {
	rt := precisionRoute()
	sc := precisionScorecard()
	c := testContestant(sc)

	expected := rt.ExpectedTimes(c.TakeoffTime, c.AirSpeedKnots, c.Wind)
	fixes := extendFixes([]fix{
		{expected[0], rt.Waypoints[0].Pos},
		{expected[1].Add(20 * time.Second), rt.Waypoints[1].Pos},
		{expected[2], rt.Waypoints[2].Pos},
	}, time.Minute, time.Minute)

	g, _ := runSync(t, sc, rt, c, makeTrack(fixes, time.Second))

	var tp1 *ScoreLogEntry
	for _, e := range g.ScoreLog() {
		if e.Gate == "TP1" {
			tp1 = &e
			break
		}
	}
	if tp1 == nil {
		t.Fatalf("no TP1 entry in %v", g.ScoreLog())
	}
	// (20 - 2) * 3 = 54
	if tp1.Points != 54 {
		t.Errorf("TP1: %q, want 54 points", tp1.String())
	}
	if tp1.Message != "passing gate (+20 s)" {
		t.Errorf("TP1 message %q", tp1.Message)
	}
}

func TestMissedGate(t *testing.T) {
	rt := precisionRoute()
	sc := precisionScorecard()
	c := testContestant(sc)

	expected := rt.ExpectedTimes(c.TakeoffTime, c.AirSpeedKnots, c.Wind)
	// Swing far east of TP1, outside its extended gate line, then cross
	// the finish.
	fixes := extendFixes([]fix{
		{expected[0], rt.Waypoints[0].Pos},
		{expected[0].Add(120 * time.Second), geo.Point{Lat: 59.94, Lon: 10.85}},
		{expected[1].Add(100 * time.Second), geo.Point{Lat: 60.0, Lon: 10.78}},
		{expected[2].Add(60 * time.Second), rt.Waypoints[2].Pos},
	}, time.Minute, 30*time.Second)

	g, repo := runSync(t, sc, rt, c, makeTrack(fixes, time.Second))

	var missed *ScoreLogEntry
	for _, e := range g.ScoreLog() {
		if e.Gate == "TP1" && strings.Contains(e.Message, "missing gate") {
			missed = &e
			break
		}
	}
	if missed == nil {
		t.Fatalf("no missed-gate entry for TP1 in %v", g.ScoreLog())
	}
	if got := missed.String(); got != "TP1: 200.0 points missing gate" {
		t.Errorf("missed entry reads %q", got)
	}

	if _, ok := repo.gateTimes["FP"]; !ok {
		t.Errorf("finish point should still have been passed")
	}
	if _, ok := repo.gateTimes["TP1"]; ok {
		t.Errorf("missed gate must not have an actual passing time")
	}
}

// anrRoute adds 0.25 NM corridor boundaries either side of each leg.
func anrRoute() *route.Route {
	wps := []route.Waypoint{
		{Name: "SP", Type: route.StartingPoint, Pos: geo.Point{Lat: 59.9, Lon: 10.6}, WidthNM: 1},
		{Name: "TP1", Type: route.Turnpoint, Pos: geo.Point{Lat: 59.9833, Lon: 10.6}, WidthNM: 1},
		{Name: "FP", Type: route.FinishPoint, Pos: geo.Point{Lat: 60.0667, Lon: 10.6}, WidthNM: 1},
	}
	// 0.25 NM of longitude at 60N.
	offset := 0.25 / 60 / cosLat60
	for i := 0; i+1 < len(wps); i++ {
		wps[i].LeftCorridor = []geo.Point{
			{Lat: wps[i].Pos.Lat, Lon: wps[i].Pos.Lon - offset},
			{Lat: wps[i+1].Pos.Lat, Lon: wps[i+1].Pos.Lon - offset},
		}
		wps[i].RightCorridor = []geo.Point{
			{Lat: wps[i].Pos.Lat, Lon: wps[i].Pos.Lon + offset},
			{Lat: wps[i+1].Pos.Lat, Lon: wps[i+1].Pos.Lon + offset},
		}
	}
	return route.MakeRoute("anr test", wps)
}

const cosLat60 = 0.5 // cos(60 degrees)

func TestCorridorPenaltyCapped(t *testing.T) {
	rt := anrRoute()
	sc := precisionScorecard()
	sc.Task = ANR
	c := testContestant(sc)

	expected := rt.ExpectedTimes(c.TakeoffTime, c.AirSpeedKnots, c.Wind)
	e0 := expected[0]
	sp := rt.Waypoints[0].Pos

	// Lat rate on the leg; ~2.78e-4 degrees per second.
	rate := (rt.Waypoints[1].Pos.Lat - sp.Lat) / expected[1].Sub(e0).Seconds()
	west := 0.017 // ~0.5 NM of longitude at 60N, outside the 0.25 NM corridor

	fixes := extendFixes([]fix{
		{e0, sp},
		{e0.Add(49 * time.Second), geo.Point{Lat: sp.Lat + 49*rate, Lon: sp.Lon}},
		{e0.Add(50 * time.Second), geo.Point{Lat: sp.Lat + 50*rate, Lon: sp.Lon - west}},
		{e0.Add(91 * time.Second), geo.Point{Lat: sp.Lat + 91*rate, Lon: sp.Lon - west}},
		{e0.Add(92 * time.Second), geo.Point{Lat: sp.Lat + 92*rate, Lon: sp.Lon}},
		{expected[1], rt.Waypoints[1].Pos},
		{expected[2], rt.Waypoints[2].Pos},
	}, time.Minute, 30*time.Second)

	g, repo := runSync(t, sc, rt, c, makeTrack(fixes, time.Second))

	corridor := entriesWithType(g.ScoreLog(), CorridorScoreType)
	if len(corridor) != 1 {
		t.Fatalf("got %d corridor entries: %v", len(corridor), corridor)
	}
	if got := corridor[0].String(); got != "SP: 50.0 points outside corridor (41 seconds) (capped)" {
		t.Errorf("corridor entry reads %q", got)
	}

	var exits, entries int
	for _, a := range repo.annotations {
		if a.Message == "exiting corridor" {
			exits++
		}
		if a.Message == "entering corridor" {
			entries++
		}
	}
	if exits != 1 || entries != 1 {
		t.Errorf("got %d exit / %d entry annotations", exits, entries)
	}
}

func TestManualTermination(t *testing.T) {
	rt := precisionRoute()
	sc := precisionScorecard()
	c := testContestant(sc)
	// Live window bracketing wall-clock now, since the run loop checks
	// against the real clock.
	now := time.Now().UTC()
	c.TakeoffTime = now.Add(time.Minute)
	c.TrackerStartTime = now.Add(-time.Minute)
	c.FinishedByTime = now.Add(time.Hour)

	lg := testLogger(t)
	repo := newTestRepo(c)
	events := NewEventStream(lg)
	t.Cleanup(events.Destroy)
	source := make(chan Position, 16)

	g, err := NewGatekeeper(c, rt, sc, repo, &testArchive{}, newTestLiveness(), events,
		source, false, lg)
	if err != nil {
		t.Fatalf("NewGatekeeper: %v", err)
	}

	done := make(chan struct{})
	go func() {
		g.Run(context.Background())
		close(done)
	}()

	// Three positions south of the start, inside the window.
	for i := 0; i < 3; i++ {
		source <- Position{
			DeviceTime: now.Add(time.Duration(i-10) * time.Second),
			Pos:        geo.Point{Lat: 59.89 + float64(i)*0.0001, Lon: 10.6},
		}
	}
	deadline := time.Now().Add(5 * time.Second)
	for repo.positionCount() < 3 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if repo.positionCount() < 3 {
		t.Fatalf("positions not processed")
	}

	g.RequestTermination()
	// One more position to wake the loop.
	source <- Position{DeviceTime: now.Add(-6 * time.Second), Pos: geo.Point{Lat: 59.8904, Lon: 10.6}}

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatalf("gatekeeper did not terminate")
	}

	if !g.Finished() {
		t.Errorf("gatekeeper reports still running")
	}
	scoreLog := g.ScoreLog()
	if len(scoreLog) == 0 || scoreLog[len(scoreLog)-1].Message != "manually terminated" {
		t.Errorf("no terminal entry: %v", scoreLog)
	}
	if repo.summary == nil {
		t.Errorf("no track summary written")
	}
}

func pokerRoute() *route.Route {
	wps := []route.Waypoint{
		{Name: "SP", Type: route.StartingPoint, Pos: geo.Point{Lat: 59.9, Lon: 10.6}, WidthNM: 1},
		{Name: "TP1", Type: route.Turnpoint, Pos: geo.Point{Lat: 59.941667, Lon: 10.6}, WidthNM: 1},
		{Name: "TP2", Type: route.Turnpoint, Pos: geo.Point{Lat: 59.983333, Lon: 10.6}, WidthNM: 1},
		{Name: "TP3", Type: route.Turnpoint, Pos: geo.Point{Lat: 60.025, Lon: 10.6}, WidthNM: 1},
		{Name: "FP", Type: route.FinishPoint, Pos: geo.Point{Lat: 60.066667, Lon: 10.6}, WidthNM: 1},
	}
	return route.MakeRoute("poker test", wps)
}

func TestPokerRun(t *testing.T) {
	rt := pokerRoute()
	// Poker runs don't score timing; zero rates and uncapped maxima so
	// no gate can go missed through lateness.
	gs := &GateScore{MaximumPenalty: -1}
	sc := &Scorecard{
		Task: Poker,
		GateScores: map[route.WaypointType]*GateScore{
			route.StartingPoint: gs,
			route.Turnpoint:     gs,
			route.FinishPoint:   gs,
		},
	}
	c := testContestant(sc)

	expected := rt.ExpectedTimes(c.TakeoffTime, c.AirSpeedKnots, c.Wind)
	// Cross the first three of five waypoints.
	fixes := extendFixes([]fix{
		{expected[0], rt.Waypoints[0].Pos},
		{expected[1], rt.Waypoints[1].Pos},
		{expected[2], rt.Waypoints[2].Pos},
	}, time.Minute, 30*time.Second)

	g, repo := runSync(t, sc, rt, c, makeTrack(fixes, time.Second))

	if len(repo.cards) != 3 {
		t.Fatalf("got %d cards, want 3", len(repo.cards))
	}
	hand := make([]string, 0, 3)
	seen := make(map[string]interface{})
	for _, card := range repo.cards {
		if _, ok := seen[card.Card]; ok {
			t.Errorf("duplicate card %q", card.Card)
		}
		seen[card.Card] = nil
		hand = append(hand, card.Card)
	}

	want := 10000 * float64(EvaluateHand(hand)) / float64(maxHandValue)
	if got := g.TotalScore(); got != want {
		t.Errorf("score %v, want %v", got, want)
	}

	poker := entriesWithType(g.ScoreLog(), PokerScoreType)
	if len(poker) != 1 {
		t.Fatalf("got %d poker entries, want the incremental entry collapsed to 1", len(poker))
	}
	if poker[0].Message != "3 cards" {
		t.Errorf("poker entry %q", poker[0].Message)
	}
}

// southboundRoute mirrors precisionRoute flown north to south.
func southboundRoute() *route.Route {
	return route.MakeRoute("southbound test", []route.Waypoint{
		{Name: "SP", Type: route.StartingPoint, Pos: geo.Point{Lat: 60.0667, Lon: 10.6}, WidthNM: 1},
		{Name: "TP1", Type: route.Turnpoint, Pos: geo.Point{Lat: 59.9833, Lon: 10.6}, WidthNM: 1},
		{Name: "FP", Type: route.FinishPoint, Pos: geo.Point{Lat: 59.9, Lon: 10.6}, WidthNM: 1},
	})
}

func TestPrecisionSouthboundOnTime(t *testing.T) {
	rt := southboundRoute()
	sc := precisionScorecard()
	c := testContestant(sc)

	expected := rt.ExpectedTimes(c.TakeoffTime, c.AirSpeedKnots, c.Wind)
	fixes := extendFixes([]fix{
		{expected[0], rt.Waypoints[0].Pos},
		{expected[1], rt.Waypoints[1].Pos},
		{expected[2], rt.Waypoints[2].Pos},
	}, time.Minute, time.Minute)

	g, _ := runSync(t, sc, rt, c, makeTrack(fixes, time.Second))

	scoreLog := g.ScoreLog()
	if len(scoreLog) != 3 {
		t.Fatalf("got %d entries: %v", len(scoreLog), scoreLog)
	}
	for i, name := range []string{"SP", "TP1", "FP"} {
		e := scoreLog[i]
		if e.Gate != name || e.Points != 0 || e.Message != "passing gate (+0 s)" {
			t.Errorf("entry %d: %q", i, e.String())
		}
	}
	if g.TotalScore() != 0 {
		t.Errorf("total score %v", g.TotalScore())
	}
}

func TestBacktrackingPenalty(t *testing.T) {
	rt := precisionRoute()
	sc := precisionScorecard()
	c := testContestant(sc)

	expected := rt.ExpectedTimes(c.TakeoffTime, c.AirSpeedKnots, c.Wind)
	e0 := expected[0]
	// Cross the start, double back south for forty seconds well away from
	// both gates, then resume and cross the rest on time.
	fixes := extendFixes([]fix{
		{e0, rt.Waypoints[0].Pos},
		{e0.Add(60 * time.Second), geo.Point{Lat: 59.94, Lon: 10.6}},
		{e0.Add(100 * time.Second), geo.Point{Lat: 59.925, Lon: 10.6}},
		{e0.Add(160 * time.Second), geo.Point{Lat: 59.96, Lon: 10.6}},
		{expected[1], rt.Waypoints[1].Pos},
		{expected[2], rt.Waypoints[2].Pos},
	}, time.Minute, 30*time.Second)

	g, _ := runSync(t, sc, rt, c, makeTrack(fixes, time.Second))

	back := entriesWithType(g.ScoreLog(), BacktrackingScoreType)
	if len(back) != 1 {
		t.Fatalf("got %d backtracking entries: %v", len(back), back)
	}
	if back[0].Gate != "SP" || back[0].Points != 200 || back[0].Message != "backtracking" {
		t.Errorf("backtracking entry reads %q", back[0].String())
	}
	// The excursion is the only penalty; every gate is crossed on time.
	if g.TotalScore() != 200 {
		t.Errorf("total score %v, want 200", g.TotalScore())
	}
}

func TestZonePenalties(t *testing.T) {
	rt := precisionRoute()
	box := func(lat0, lat1 float64) []geo.Point {
		return []geo.Point{
			{Lat: lat0, Lon: 10.58}, {Lat: lat0, Lon: 10.62},
			{Lat: lat1, Lon: 10.62}, {Lat: lat1, Lon: 10.58},
		}
	}
	// Two boxes straddling the first leg; the on-time track spends about
	// ninety seconds in the penalty zone and thirty-six in the prohibited
	// one. Negative overrides fall back to the scorecard rates.
	rt.Zones = []route.Zone{
		{Name: "Noise", Kind: route.PenaltyZone, Polygon: box(59.92, 59.945),
			GraceSeconds: -1, PenaltyPerSecond: -1, FixedPenalty: -1, MaximumPenalty: -1},
		{Name: "Restricted", Kind: route.ProhibitedZone, Polygon: box(59.955, 59.965),
			GraceSeconds: -1, PenaltyPerSecond: -1, FixedPenalty: -1, MaximumPenalty: -1},
	}
	sc := precisionScorecard()
	c := testContestant(sc)

	expected := rt.ExpectedTimes(c.TakeoffTime, c.AirSpeedKnots, c.Wind)
	fixes := extendFixes([]fix{
		{expected[0], rt.Waypoints[0].Pos},
		{expected[1], rt.Waypoints[1].Pos},
		{expected[2], rt.Waypoints[2].Pos},
	}, time.Minute, time.Minute)

	g, repo := runSync(t, sc, rt, c, makeTrack(fixes, time.Second))

	zones := entriesWithType(g.ScoreLog(), ZoneScoreType)
	if len(zones) != 2 {
		t.Fatalf("got %d zone entries: %v", len(zones), zones)
	}
	// The incremental penalty zone entry collapses to one, capped at the
	// scorecard maximum.
	noise := zones[0]
	if noise.Gate != "Noise" || noise.Points != 100 {
		t.Errorf("penalty zone entry reads %q", noise.String())
	}
	if !strings.HasPrefix(noise.Message, "inside penalty zone Noise (") ||
		!strings.HasSuffix(noise.Message, "(capped)") {
		t.Errorf("penalty zone message %q", noise.Message)
	}
	restricted := zones[1]
	if restricted.Gate != "Restricted" || restricted.Points != 200 ||
		restricted.Message != "inside prohibited zone Restricted" {
		t.Errorf("prohibited zone entry reads %q", restricted.String())
	}

	var crossings int
	for _, a := range repo.annotations {
		switch a.Message {
		case "entering penalty zone Noise", "leaving penalty zone Noise",
			"entering prohibited zone Restricted", "leaving prohibited zone Restricted":
			crossings++
		}
	}
	if crossings != 4 {
		t.Errorf("got %d zone crossing annotations, want 4", crossings)
	}

	if g.TotalScore() != 300 {
		t.Errorf("total score %v, want 300", g.TotalScore())
	}
}

func TestMissedProcedureTurn(t *testing.T) {
	// A right-angle dogleg with a scripted turn at the corner.
	rt := route.MakeRoute("procedure turn test", []route.Waypoint{
		{Name: "SP", Type: route.StartingPoint, Pos: geo.Point{Lat: 59.9, Lon: 10.6}, WidthNM: 1},
		{Name: "TP1", Type: route.Turnpoint, Pos: geo.Point{Lat: 59.9833, Lon: 10.6}, WidthNM: 1,
			IsProcedureTurn: true},
		{Name: "FP", Type: route.FinishPoint, Pos: geo.Point{Lat: 59.9833, Lon: 10.7667}, WidthNM: 1},
	})
	sc := precisionScorecard()
	c := testContestant(sc)

	// The expected times already include the extra minute for the turn;
	// flying straight through the corner on those times keeps the gate
	// timing clean and skips the turn.
	expected := rt.ExpectedTimes(c.TakeoffTime, c.AirSpeedKnots, c.Wind)
	fixes := extendFixes([]fix{
		{expected[0], rt.Waypoints[0].Pos},
		{expected[1], rt.Waypoints[1].Pos},
		{expected[2], rt.Waypoints[2].Pos},
	}, time.Minute, time.Minute)

	g, _ := runSync(t, sc, rt, c, makeTrack(fixes, time.Second))

	var missed []ScoreLogEntry
	for _, e := range g.ScoreLog() {
		if e.Message == "missing procedure turn" {
			missed = append(missed, e)
		}
	}
	if len(missed) != 1 {
		t.Fatalf("got %d missed-turn entries: %v", len(missed), g.ScoreLog())
	}
	if missed[0].Gate != "TP1" || missed[0].Points != 200 {
		t.Errorf("missed-turn entry reads %q", missed[0].String())
	}
	if g.TotalScore() != 200 {
		t.Errorf("total score %v, want 200", g.TotalScore())
	}
}

///////////////////////////////////////////////////////////////////////////
// properties

func TestDuplicateDropIdempotence(t *testing.T) {
	rt := precisionRoute()
	sc := precisionScorecard()
	c := testContestant(sc)

	expected := rt.ExpectedTimes(c.TakeoffTime, c.AirSpeedKnots, c.Wind)
	fixes := extendFixes([]fix{
		{expected[0], rt.Waypoints[0].Pos},
		{expected[1].Add(20 * time.Second), rt.Waypoints[1].Pos},
		{expected[2], rt.Waypoints[2].Pos},
	}, time.Minute, time.Minute)
	track := makeTrack(fixes, time.Second)

	doubled := make([]Position, 0, 2*len(track))
	for _, p := range track {
		doubled = append(doubled, p, p)
	}

	gOnce, _ := runSync(t, sc, rt, c, track)
	gTwice, _ := runSync(t, sc, rt, c, doubled)

	once, twice := gOnce.ScoreLog(), gTwice.ScoreLog()
	if len(once) != len(twice) {
		t.Fatalf("%d entries vs %d with duplicates", len(once), len(twice))
	}
	for i := range once {
		if once[i].Gate != twice[i].Gate || once[i].Points != twice[i].Points ||
			once[i].Message != twice[i].Message {
			t.Errorf("entry %d differs: %q vs %q", i, once[i].String(), twice[i].String())
		}
	}
	if gOnce.TotalScore() != gTwice.TotalScore() {
		t.Errorf("scores differ: %v vs %v", gOnce.TotalScore(), gTwice.TotalScore())
	}
}

func TestGateVerdictIsFinal(t *testing.T) {
	rt := precisionRoute()
	sc := precisionScorecard()
	c := testContestant(sc)

	expected := rt.ExpectedTimes(c.TakeoffTime, c.AirSpeedKnots, c.Wind)
	// Cross the start, double back over it, and cross it again.
	fixes := extendFixes([]fix{
		{expected[0], rt.Waypoints[0].Pos},
		{expected[0].Add(30 * time.Second), geo.Point{Lat: 59.908, Lon: 10.6}},
		{expected[0].Add(60 * time.Second), geo.Point{Lat: 59.892, Lon: 10.6}},
		{expected[0].Add(90 * time.Second), geo.Point{Lat: 59.908, Lon: 10.6}},
	}, time.Minute, 10*time.Second)

	g, _ := runSync(t, sc, rt, c, makeTrack(fixes, time.Second))

	passes := 0
	for _, e := range g.ScoreLog() {
		if e.Gate == "SP" && strings.Contains(e.Message, "passing gate") {
			passes++
		}
	}
	if passes != 1 {
		t.Errorf("SP passed %d times in the log, want exactly 1", passes)
	}
}

func TestMonotonicTimeAndDuplicateDrop(t *testing.T) {
	rt := precisionRoute()
	sc := precisionScorecard()
	c := testContestant(sc)

	// Out-of-order and duplicate positions never make it into the track.
	lg := testLogger(t)
	repo := newTestRepo(c)
	events := NewEventStream(lg)
	t.Cleanup(events.Destroy)
	g2, err := NewGatekeeper(c, rt, sc, repo, &testArchive{}, newTestLiveness(), events, nil, false, lg)
	if err != nil {
		t.Fatalf("NewGatekeeper: %v", err)
	}
	go g2.scoreUpdater()

	t0 := testStart
	positions := []Position{
		{DeviceTime: t0, Pos: geo.Point{Lat: 59.89, Lon: 10.6}},
		{DeviceTime: t0.Add(time.Second), Pos: geo.Point{Lat: 59.8903, Lon: 10.6}},
		{DeviceTime: t0.Add(time.Second), Pos: geo.Point{Lat: 59.8903, Lon: 10.6}}, // duplicate
		{DeviceTime: t0, Pos: geo.Point{Lat: 59.8910, Lon: 10.6}},                  // time going backwards
		{DeviceTime: t0.Add(2 * time.Second), Pos: geo.Point{Lat: 59.8906, Lon: 10.6}},
	}
	for i := range positions {
		g2.processPosition(&positions[i])
	}

	if len(g2.track) != 3 {
		t.Errorf("track has %d positions, want 3", len(g2.track))
	}
	for i := 1; i < len(g2.track); i++ {
		if !g2.track[i].DeviceTime.After(g2.track[i-1].DeviceTime) {
			t.Errorf("track time not strictly increasing at %d", i)
		}
	}
	if g2.droppedPositions != 2 {
		t.Errorf("dropped %d positions, want 2", g2.droppedPositions)
	}
	g2.finish()
}

func TestReplayEquivalence(t *testing.T) {
	rt := precisionRoute()
	sc := precisionScorecard()
	c := testContestant(sc)

	expected := rt.ExpectedTimes(c.TakeoffTime, c.AirSpeedKnots, c.Wind)
	fixes := extendFixes([]fix{
		{expected[0], rt.Waypoints[0].Pos},
		{expected[1].Add(20 * time.Second), rt.Waypoints[1].Pos},
		{expected[2], rt.Waypoints[2].Pos},
	}, time.Minute, time.Minute)

	// A sparse track so the live run has to interpolate.
	gLive, repo := runSync(t, sc, rt, c, makeTrack(fixes, 2*time.Second))

	// Re-run only the real positions the live run stored; the replay must
	// regenerate the interpolated ones and land on the same score log.
	recorded := util.FilterSlice(repo.positions, func(p Position) bool { return !p.Interpolated })
	if len(recorded) == len(repo.positions) {
		t.Fatalf("live run stored no interpolated positions")
	}
	gReplay, _ := runSync(t, sc, rt, testContestant(sc), recorded)

	live, replayed := gLive.ScoreLog(), gReplay.ScoreLog()
	if len(live) != len(replayed) {
		t.Fatalf("%d live entries vs %d replayed", len(live), len(replayed))
	}
	for i := range live {
		if live[i].Gate != replayed[i].Gate || live[i].Points != replayed[i].Points ||
			live[i].Message != replayed[i].Message {
			t.Errorf("entry %d differs: %q vs %q", i, live[i].String(), replayed[i].String())
		}
	}
	if gLive.TotalScore() != gReplay.TotalScore() {
		t.Errorf("scores differ: %v live vs %v replayed", gLive.TotalScore(), gReplay.TotalScore())
	}
}
