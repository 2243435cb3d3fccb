// calc/gatekeeper.go
// Copyright(c) 2021-2026 Air Sports Live Tracking contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package calc

import (
	"context"
	"errors"
	"fmt"
	gomath "math"
	"time"

	"github.com/airsports-no/livetracking/log"
	"github.com/airsports-no/livetracking/rand"
	"github.com/airsports-no/livetracking/route"
	"github.com/airsports-no/livetracking/util"
)

const (
	// ContestantRefreshInterval is how often the contestant entity is
	// re-read and the score log re-emitted to paper over subscriber
	// reconnects.
	ContestantRefreshInterval = 15 * time.Second

	// DangerLevelReportInterval paces the danger estimate, in device
	// time so that replays publish the same sequence.
	DangerLevelReportInterval = 5 * time.Second

	// QueueGetTimeout bounds how long a loop turn can go without
	// checking liveness and termination.
	QueueGetTimeout = 15 * time.Second

	// LivenessTTL is the heartbeat TTL the coordinator watches.
	LivenessTTL = 30 * time.Second
)

// Basic contestant states shown on the live map.
const (
	StateWaiting  = "waiting"
	StateTracking = "tracking"
	StateFinished = "finished"
)

// Gatekeeper drives the scoring pipeline for one contestant: it owns the
// release queue, the track, the runtime gate state, the rules and the
// accumulator, and it is the only writer of all of them. Positions flow
// in through the loader; score updates flow out through a dedicated
// updater goroutine so scoring never blocks on persistence or the event
// stream.
type Gatekeeper struct {
	// id never changes; the contestant snapshot is refreshed in place and
	// must only be touched from the scorer goroutine.
	id         ContestantID
	contestant *Contestant
	rt         *route.Route
	scorecard  *Scorecard
	state      *gateState
	rules      []Rule

	queue    *ReleaseQueue[*Position]
	loader   *Loader
	repo     Repository
	liveness Liveness
	events   *EventStream
	lg       *log.Logger
	now      func() time.Time

	track     []Position
	posBatch  *util.ChunkedChan[Position] // processed positions pending event emission
	batchDone chan struct{}

	updates     chan scoreMessage
	updaterDone chan struct{}

	// Owned by the updater goroutine.
	accumulator *Accumulator
	scoreLog    []ScoreLogEntry
	annotations []Annotation
	cards       []PlayingCard
	gateScores  map[string]float64

	manualTermination util.AtomicBool
	finished          util.AtomicBool
	trackTerminated   bool

	basicState       string
	lastRefresh      time.Time
	lastDangerReport time.Time

	droppedPositions int
	ruleFailures     int
}

// scoreMessage is the wire format of the updater goroutine's channel:
// exactly one field is set.
type scoreMessage struct {
	update *ScoreUpdate
	card   *PlayingCard
	state  string
	reEmit bool
}

// NewGatekeeper builds the runtime gate state and the rule set for the
// scorecard's task type. It fails with ErrScorecardMissing when a timed
// waypoint type on the route has no scorecard row; there is no sensible
// way to score without one.
func NewGatekeeper(contestant *Contestant, rt *route.Route, sc *Scorecard,
	repo Repository, archive Archive, liveness Liveness, events *EventStream,
	source <-chan Position, live bool, lg *log.Logger) (*Gatekeeper, error) {
	if len(rt.Waypoints) == 0 {
		return nil, route.ErrEmptyRoute
	}

	strategy := GateCheckStrategyForTask(sc.Task)
	expected := rt.ExpectedTimes(contestant.TakeoffTime, contestant.AirSpeedKnots, contestant.Wind)
	state := makeGateState(rt, strategy, contestant.AdaptiveStart, expected)

	for _, gate := range state.gates {
		if !gate.TimedCheck {
			continue
		}
		if _, err := sc.GateScore(gate.Waypoint.Type); err != nil {
			return nil, fmt.Errorf("%s: %w", gate.Name(), err)
		}
	}

	g := &Gatekeeper{
		id:          contestant.ID,
		contestant:  contestant,
		rt:          rt,
		scorecard:   sc,
		state:       state,
		queue:       MakeReleaseQueue[*Position](),
		repo:        repo,
		liveness:    liveness,
		events:      events,
		lg:          lg.With("contestant", int64(contestant.ID)),
		now:         time.Now,
		accumulator: MakeAccumulator(),
		updates:     make(chan scoreMessage, 256),
		updaterDone: make(chan struct{}),
		posBatch:    util.MakeChunkedChan[Position](16),
		batchDone:   make(chan struct{}),
		gateScores:  make(map[string]float64),
		basicState:  StateWaiting,
	}
	g.loader = NewLoader(g.queue, source, archive, contestant, contestant.TrackerDeviceID, live, g.lg)
	g.rules = g.makeRules()
	go g.batchEmitter()

	return g, nil
}

func (g *Gatekeeper) makeRules() []Rule {
	switch g.scorecard.Task {
	case ANR, AirSports:
		return []Rule{
			NewGateTimingRule(g, g.scorecard),
			NewCorridorRule(g, g.scorecard, g.rt, g.state.proj),
			NewBacktrackingRule(g, g.scorecard),
			NewZoneRule(g, g.scorecard, g.rt, g.state.proj),
		}
	case Poker:
		r := rand.New()
		r.Seed(int64(g.id))
		return []Rule{
			NewPokerRule(g, &r, g.dealCard),
			NewZoneRule(g, g.scorecard, g.rt, g.state.proj),
		}
	default:
		return []Rule{
			NewGateTimingRule(g, g.scorecard),
			NewProcedureTurnRule(g, g.scorecard),
			NewBacktrackingRule(g, g.scorecard),
			NewZoneRule(g, g.scorecard, g.rt, g.state.proj),
		}
	}
}

// RequestTermination asks the gatekeeper to finalise; it is honoured on
// the next loop turn, at most QueueGetTimeout away.
func (g *Gatekeeper) RequestTermination() {
	g.manualTermination.Store(true)
}

// Finished reports whether the calculator has fully shut down.
func (g *Gatekeeper) Finished() bool {
	return g.finished.Load()
}

// Run is the scorer loop; it blocks until the gatekeeper terminates.
func (g *Gatekeeper) Run(ctx context.Context) error {
	defer g.lg.CatchAndReportCrash()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := g.repo.SetCalculatorStarted(g.id); err != nil {
		g.lg.Errorf("set calculator started: %v", err)
	}

	go g.scoreUpdater()
	go g.loader.Run(ctx)

	g.setBasicState(StateWaiting)
	g.lg.Infof("gatekeeper started: task %s, %d gates, delay %v",
		g.scorecard.Task, len(g.state.gates), g.contestant.CalculationDelay)

	for !g.trackTerminated {
		g.liveness.Refresh(g.id, LivenessTTL)

		if g.pastFinishedBy() {
			g.notifyTermination("")
			break
		}

		if now := g.now(); now.Sub(g.lastRefresh) >= ContestantRefreshInterval {
			g.lastRefresh = now
			g.updates <- scoreMessage{reEmit: true}
			if err := g.refreshContestant(); err != nil {
				break
			}
		}

		p, err := g.queue.Get(QueueGetTimeout)
		if err != nil {
			// ErrTimedOut: nothing released yet.
			g.checkManualTermination()
			continue
		}
		if p == nil {
			// Loader sentinel: the stream has ended.
			g.notifyTermination("")
			continue
		}

		g.processPosition(p)
		g.emitBatch()
		g.checkManualTermination()
	}

	g.finish()
	return nil
}

// pastFinishedBy reports whether the task window has closed and the
// delay queue holds nothing scoreable.
func (g *Gatekeeper) pastFinishedBy() bool {
	now := g.now()
	if !now.After(g.contestant.FinishedByTime) {
		return false
	}
	head, err := g.queue.Peek()
	if errors.Is(err, ErrQueueEmpty) || head == nil {
		return true
	}
	return head.DeviceTime.After(now)
}

func (g *Gatekeeper) refreshContestant() error {
	c, err := g.repo.GetContestant(g.id)
	if err != nil {
		if errors.Is(err, ErrContestantGone) {
			g.lg.Infof("contestant deleted, terminating")
			g.events.Post(Event{Type: DeleteContestantEvent, Contestant: g.id})
			g.notifyTermination("")
			return err
		}
		g.lg.Warnf("refresh contestant: %v", err)
		return nil
	}
	// Timing-affecting fields are frozen once the calculator has
	// started; admission validation guarantees it, so a plain swap is
	// safe.
	g.contestant = c
	return nil
}

func (g *Gatekeeper) checkManualTermination() {
	if g.manualTermination.Load() && !g.trackTerminated {
		g.notifyTermination("manually terminated")
	}
}

// notifyTermination finalises the calculator; with a non-empty message a
// zero-point entry is recorded on the last known gate (or the first gate
// when none has been resolved yet).
func (g *Gatekeeper) notifyTermination(message string) {
	if g.trackTerminated {
		return
	}
	g.trackTerminated = true

	if message != "" {
		gate := g.state.gates[0].Name()
		if g.state.lastGate != nil {
			gate = g.state.lastGate.Name()
		}
		g.UpdateScore(ScoreUpdate{
			Gate:      gate,
			Points:    0,
			Message:   message,
			ScoreType: GateScoreType,
			EntryType: EntryInformation,
			Cap:       NoCap,
		})
	}
}

// processPosition applies the duplicate filter, interpolates the gap
// from the previous position, persists everything and scores each
// generated point in device-time order.
func (g *Gatekeeper) processPosition(p *Position) {
	if len(g.track) > 0 {
		last := &g.track[len(g.track)-1]
		if p.SamePlace(last) || !p.DeviceTime.After(last.DeviceTime) {
			g.droppedPositions++
			return
		}

		interpolated := Interpolate(last, p)
		persist := append(interpolated, *p)
		if err := g.repo.AppendPositions(g.id, persist); err != nil {
			g.lg.Warnf("append positions: %v", err)
		}
		for i := range interpolated {
			g.appendAndScore(interpolated[i])
		}
	} else {
		if err := g.repo.AppendPositions(g.id, []Position{*p}); err != nil {
			g.lg.Warnf("append positions: %v", err)
		}
	}

	g.appendAndScore(*p)
	g.posBatch.Send(*p)
}

func (g *Gatekeeper) appendAndScore(p Position) {
	g.track = append(g.track, p)
	if len(g.track) >= 2 {
		g.calculateScore()
	}
}

// calculateScore resolves gates against the newest track segment and
// runs every rule for the newest position.
func (g *Gatekeeper) calculateScore() {
	g.state.checkGates(g.track, g.scorecard, g)

	pos := &g.track[len(g.track)-1]
	last := g.state.lastGate
	if g.state.enroute {
		inRange := g.state.inRangeOfGate(pos.Pos, g.scorecard.GateRangeNM)
		next := g.state.nextGate()
		for _, r := range g.rules {
			g.safely(r, func() { r.CalculateEnroute(g.track, last, inRange, next) })
		}
	} else {
		for _, r := range g.rules {
			g.safely(r, func() { r.CalculateOutsideRoute(g.track, last) })
		}
	}

	if pos.DeviceTime.Sub(g.lastDangerReport) >= DangerLevelReportInterval {
		g.lastDangerReport = pos.DeviceTime
		g.reportDanger()
	}
}

// reportDanger publishes the max danger level across rules with the
// summed penalties accumulated so far.
func (g *Gatekeeper) reportDanger() {
	var level, points float64
	for _, r := range g.rules {
		g.safely(r, func() {
			l, p := r.DangerLevel(g.track)
			level = gomath.Max(level, l)
			points += p
		})
	}
	g.events.Post(Event{
		Type:       DangerLevelEvent,
		Contestant: g.id,
		Danger:     &DangerEstimate{Level: level, AccumulatedPenalty: points},
	})
}

// emitBatch flushes the pending position chunk at the end of each queue
// drain so batches go out promptly even when traffic is light.
func (g *Gatekeeper) emitBatch() {
	g.posBatch.Flush()
}

// batchEmitter publishes position chunks on the event stream, stamping
// the transmit time on the way out.
func (g *Gatekeeper) batchEmitter() {
	defer close(g.batchDone)
	for batch := range g.posBatch.Ch() {
		now := g.now()
		for i := range batch {
			batch[i].WebsocketTransmittedTime = now
		}
		g.events.Post(Event{Type: PositionBatchEvent, Contestant: g.id, Positions: batch})
	}
}

// safely runs one rule invocation; a panicking rule loses this position
// but never takes the gatekeeper down.
func (g *Gatekeeper) safely(r Rule, f func()) {
	defer func() {
		if err := recover(); err != nil {
			g.ruleFailures++
			g.lg.Errorf("rule %T: %v", r, err)
		}
	}()
	f()
}

// setBasicState routes state transitions through the updater goroutine,
// which owns basicState and dedupes repeats.
func (g *Gatekeeper) setBasicState(state string) {
	g.updates <- scoreMessage{state: state}
}

// finish drains the queue, waits for in-flight score updates, writes the
// terminal summary and clears liveness.
func (g *Gatekeeper) finish() {
	dropped := len(g.queue.Drain())
	if dropped > 0 {
		g.lg.Infof("discarded %d queued positions at shutdown", dropped)
	}

	g.setBasicState(StateFinished)
	close(g.updates)
	<-g.updaterDone
	g.posBatch.Close()
	<-g.batchDone

	summary := TrackSummary{
		Contestant:      g.id,
		State:           g.basicState,
		Score:           g.accumulator.Total(),
		PassedStart:     g.state.passedStart,
		PassedFinish:    g.state.passedFinish,
		CalculatorEnded: g.now(),
	}
	if g.state.lastGate != nil {
		summary.LastGate = g.state.lastGate.Name()
	}
	if err := g.repo.SetTrackSummary(g.id, summary); err != nil {
		g.lg.Errorf("track summary: %v", err)
	}

	g.events.Post(Event{Type: CalculatorTerminatedEvent, Contestant: g.id})
	g.liveness.Clear(g.id)
	g.finished.Store(true)

	g.lg.Infof("gatekeeper finished: score %.1f, %d positions (%d dropped), %d rule failures",
		summary.Score, len(g.track), g.droppedPositions, g.ruleFailures)
}

///////////////////////////////////////////////////////////////////////////
// gate state callbacks (scorer goroutine)

func (g *Gatekeeper) gatePassed(gate *Gate, actual time.Time) {
	g.lg.Infof("passed gate %s at %v (expected %v)", gate.Name(), actual, gate.ExpectedTime)
	if err := g.repo.SetActualGateTime(g.id, gate.Name(), actual); err != nil {
		g.lg.Warnf("set actual gate time: %v", err)
	}
	if gate.Waypoint.Type.IsStartingGate() {
		g.setBasicState(StateTracking)
	}
	for _, r := range g.rules {
		g.safely(r, func() { r.GatePassed(gate, actual, g.track) })
	}
}

func (g *Gatekeeper) gateMissed(previous, gate *Gate, pos *Position) {
	g.lg.Infof("missed gate %s (expected %v)", gate.Name(), gate.ExpectedTime)
	for _, r := range g.rules {
		g.safely(r, func() { r.MissedGate(previous, gate, pos) })
	}
}

func (g *Gatekeeper) passedFinishpoint() {
	g.setBasicState(StateFinished)
	for _, r := range g.rules {
		g.safely(r, func() { r.PassedFinishpoint(g.track, g.state.lastGate) })
	}
}

type startLineObserver interface {
	backwardStartCrossing(start *Gate, pos *Position)
}

func (g *Gatekeeper) backwardStartCrossing(start *Gate, pos *Position) {
	for _, r := range g.rules {
		if o, ok := r.(startLineObserver); ok {
			g.safely(r, func() { o.backwardStartCrossing(start, pos) })
		}
	}
}

// adaptiveStartSet rebases every unresolved gate's expected time on the
// effective start inferred from the starting line crossing.
func (g *Gatekeeper) adaptiveStartSet(effective time.Time) {
	expected := g.rt.ExpectedTimes(effective, g.contestant.AirSpeedKnots, g.contestant.Wind)
	g.state.rebaseExpectedTimes(expected)
	g.lg.Infof("adaptive start: effective start time %v", effective)

	g.UpdateScore(ScoreUpdate{
		Gate:      g.state.gates[0].Name(),
		Points:    0,
		Message:   fmt.Sprintf("adaptive start at %s", effective.UTC().Format("15:04")),
		ScoreType: GateScoreType,
		EntryType: EntryInformation,
		Cap:       NoCap,
	})
}

///////////////////////////////////////////////////////////////////////////
// score updater goroutine

// UpdateScore is the rules' score sink; it hands the update to the
// updater goroutine so the scorer never waits on persistence or
// subscribers.
func (g *Gatekeeper) UpdateScore(update ScoreUpdate) {
	g.updates <- scoreMessage{update: &update}
}

func (g *Gatekeeper) dealCard(card PlayingCard) {
	g.updates <- scoreMessage{card: &card}
}

func (g *Gatekeeper) scoreUpdater() {
	defer close(g.updaterDone)
	defer g.lg.CatchAndReportCrash()

	for msg := range g.updates {
		switch {
		case msg.update != nil:
			g.applyUpdate(msg.update)
		case msg.card != nil:
			g.applyCard(msg.card)
		case msg.state != "":
			g.applyState(msg.state)
		case msg.reEmit:
			g.reEmit()
		}
	}
}

func (g *Gatekeeper) applyUpdate(u *ScoreUpdate) {
	points, capped := g.accumulator.SetAndUpdateScore(u.Points, u.ScoreType, u.Cap, u.Previous)

	message := u.Message
	if capped || u.Capped {
		message += " (capped)"
	}

	entry := ScoreLogEntry{
		Time:        g.now(),
		Gate:        u.Gate,
		ScoreType:   u.ScoreType,
		EntryType:   u.EntryType,
		Message:     message,
		Points:      points,
		PlannedTime: u.PlannedTime,
		ActualTime:  u.ActualTime,
	}

	if u.Annotate {
		annotation := Annotation{ScoreLogEntry: entry, Pos: u.Pos}
		g.annotations = append(g.annotations, annotation)
		if err := g.repo.AppendAnnotation(g.id, annotation); err != nil {
			g.lg.Warnf("append annotation: %v", err)
		}
		g.events.Post(Event{Type: AnnotationEvent, Contestant: g.id, Annotation: &annotation})

		// Pure informational annotations (corridor/zone entry and exit)
		// don't clutter the score log.
		if points == 0 && u.EntryType == EntryInformation {
			return
		}
	}

	if u.UpdateLast {
		g.replaceLast(entry)
	} else {
		g.scoreLog = append(g.scoreLog, entry)
	}
	if err := g.repo.AppendScoreLogEntry(g.id, entry); err != nil {
		g.lg.Warnf("append score log entry: %v", err)
	}

	g.gateScores[u.Gate] += points - u.Previous
	if err := g.repo.UpsertGateScore(g.id, u.Gate, g.gateScores[u.Gate]); err != nil {
		g.lg.Warnf("upsert gate score: %v", err)
	}

	g.events.Post(Event{Type: ScoreLogEvent, Contestant: g.id, Entry: &entry})
}

// replaceLast swaps out the most recent entry for the same gate and
// category; incremental rules re-issue their running entry as a
// violation grows.
func (g *Gatekeeper) replaceLast(entry ScoreLogEntry) {
	for i := len(g.scoreLog) - 1; i >= 0; i-- {
		if g.scoreLog[i].Gate == entry.Gate && g.scoreLog[i].ScoreType == entry.ScoreType {
			g.scoreLog[i] = entry
			return
		}
	}
	g.scoreLog = append(g.scoreLog, entry)
}

func (g *Gatekeeper) applyState(state string) {
	if g.basicState == state {
		return
	}
	g.basicState = state
	g.events.Post(Event{Type: BasicStateEvent, Contestant: g.id, State: state})
}

func (g *Gatekeeper) applyCard(card *PlayingCard) {
	g.cards = append(g.cards, *card)
	if err := g.repo.AppendPlayingCard(g.id, *card); err != nil {
		g.lg.Warnf("append playing card: %v", err)
	}
	g.events.Post(Event{Type: PlayingCardEvent, Contestant: g.id, Card: card})
}

// reEmit publishes full snapshots so subscribers that reconnected since
// the last interval catch up.
func (g *Gatekeeper) reEmit() {
	g.events.Post(Event{Type: BasicStateEvent, Contestant: g.id, State: g.basicState})
	g.events.Post(Event{Type: ScoreLogEvent, Contestant: g.id,
		Entries: util.DuplicateSlice(g.scoreLog)})
	g.events.Post(Event{Type: AnnotationEvent, Contestant: g.id,
		Annotations: util.DuplicateSlice(g.annotations)})
}

// ScoreLog returns a copy of the current score log; for tests and the
// replay tool, which run the gatekeeper to completion first.
func (g *Gatekeeper) ScoreLog() []ScoreLogEntry {
	return util.DuplicateSlice(g.scoreLog)
}

// TotalScore returns the summed category totals; only valid after the
// gatekeeper has finished.
func (g *Gatekeeper) TotalScore() float64 {
	return g.accumulator.Total()
}
