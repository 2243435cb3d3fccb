// server/coordinator.go
// Copyright(c) 2021-2026 Air Sports Live Tracking contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package server

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/airsports-no/livetracking/calc"
	"github.com/airsports-no/livetracking/log"
	"github.com/airsports-no/livetracking/route"
	"github.com/airsports-no/livetracking/util"
)

const (
	// AdmissionTickInterval is how often the coordinator scans for
	// contestants entering their tracking window.
	AdmissionTickInterval = 5 * time.Second

	terminationPollInterval = 3 * time.Second
	terminationDeadline     = 60 * time.Second
)

// TaskDirectory extends the contestant directory with the task inputs a
// calculator needs.
type TaskDirectory interface {
	ContestantDirectory
	Task(id calc.ContestantID) (*route.Route, *calc.Scorecard, error)
}

type runningCalculator struct {
	gatekeeper *calc.Gatekeeper
	done       chan struct{}
	started    time.Time
	restarts   int
}

// Coordinator supervises one gatekeeper per eligible contestant: it
// admits contestants as their windows open, restarts calculators whose
// liveness heartbeat disappears, and routes termination requests.
type Coordinator struct {
	mu          util.LoggingMutex
	directory   TaskDirectory
	repo        calc.Repository
	archive     calc.Archive
	liveness    *LivenessStore
	termination *TerminationStore
	ingest      *Ingest
	events      *calc.EventStream
	lg          *log.Logger

	active   map[calc.ContestantID]*runningCalculator
	group    *errgroup.Group
	archiver *TrackArchiver

	// delayOverride, when non-negative, replaces every contestant's
	// calculation delay; operators use it to rewatch an event live.
	delayOverride time.Duration
}

func NewCoordinator(directory TaskDirectory, repo calc.Repository, archive calc.Archive,
	liveness *LivenessStore, termination *TerminationStore, ingest *Ingest,
	events *calc.EventStream, lg *log.Logger) *Coordinator {
	return &Coordinator{
		directory:   directory,
		repo:        repo,
		archive:     archive,
		liveness:    liveness,
		termination: termination,
		ingest:      ingest,
		events:      events,
		lg:          lg,
		active:      make(map[calc.ContestantID]*runningCalculator),

		delayOverride: -1,
	}
}

// AttachArchiver makes the coordinator write a track file whenever it
// reaps a finished calculator.
func (co *Coordinator) AttachArchiver(a *TrackArchiver) {
	co.mu.Lock(co.lg)
	defer co.mu.Unlock(co.lg)
	co.archiver = a
}

// SetCalculationDelayOverride applies to calculators started after the
// call; running ones keep their delay.
func (co *Coordinator) SetCalculationDelayOverride(d time.Duration) {
	co.mu.Lock(co.lg)
	defer co.mu.Unlock(co.lg)
	co.delayOverride = d
}

// Run blocks until the context is cancelled and every calculator has
// shut down.
func (co *Coordinator) Run(ctx context.Context) error {
	defer co.lg.CatchAndReportCrash()

	group, ctx := errgroup.WithContext(ctx)
	co.mu.Lock(co.lg)
	co.group = group
	co.mu.Unlock(co.lg)

	ticker := time.NewTicker(AdmissionTickInterval)
	defer ticker.Stop()

	co.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			co.terminateAll()
			return group.Wait()
		case <-ticker.C:
			co.tick(ctx)
		}
	}
}

// tick reaps finished calculators, restarts crashed ones, and admits
// contestants whose windows cover the current time.
func (co *Coordinator) tick(ctx context.Context) {
	co.mu.Lock(co.lg)
	defer co.mu.Unlock(co.lg)

	now := time.Now()

	for id, run := range co.active {
		select {
		case <-run.done:
			if run.gatekeeper.Finished() {
				if co.archiver != nil {
					co.group.Go(func() error {
						if err := co.archiver.StoreFinished(id); err != nil {
							co.lg.Errorf("archive track for contestant %d: %v", id, err)
						}
						return nil
					})
				}
				delete(co.active, id)
				continue
			}
			// The scorer goroutine exited without finishing; a recovered
			// crash. Restart unless termination is pending.
			co.lg.Errorf("calculator for contestant %d exited without finishing", id)
			delete(co.active, id)
		default:
			if !co.liveness.Alive(id) && now.Sub(run.started) > calc.LivenessTTL {
				co.lg.Warnf("calculator for contestant %d lost its liveness heartbeat", id)
				run.gatekeeper.RequestTermination()
			}
		}
	}

	for _, id := range co.directory.Contestants() {
		if _, ok := co.active[id]; ok {
			continue
		}
		if co.termination.Requested(id) {
			continue
		}
		c, err := co.directory.GetContestant(id)
		if err != nil || !c.InWindow(now) {
			continue
		}
		if err := co.startLocked(ctx, c); err != nil {
			co.lg.Errorf("start calculator for contestant %d: %v", id, err)
		}
	}
}

func (co *Coordinator) startLocked(ctx context.Context, c *calc.Contestant) error {
	rt, sc, err := co.directory.Task(c.ID)
	if err != nil {
		return err
	}

	if co.delayOverride >= 0 {
		c.CalculationDelay = co.delayOverride
	}

	gatekeeper, err := calc.NewGatekeeper(c, rt, sc, co.repo, co.archive, co.liveness,
		co.events, co.ingest.Source(c.ID), true, co.lg)
	if err != nil {
		return err
	}

	run := &runningCalculator{
		gatekeeper: gatekeeper,
		done:       make(chan struct{}),
		started:    time.Now(),
	}
	co.active[c.ID] = run

	co.lg.Infof("starting calculator for contestant %d (%s)", c.ID, c.Name)
	co.group.Go(func() error {
		defer close(run.done)
		return gatekeeper.Run(ctx)
	})
	return nil
}

func (co *Coordinator) terminateAll() {
	co.mu.Lock(co.lg)
	defer co.mu.Unlock(co.lg)
	for _, run := range co.active {
		run.gatekeeper.RequestTermination()
	}
}

// IsRunning reports whether a calculator is currently active for the
// contestant.
func (co *Coordinator) IsRunning(id calc.ContestantID) bool {
	co.mu.Lock(co.lg)
	defer co.mu.Unlock(co.lg)

	run, ok := co.active[id]
	return ok && !run.gatekeeper.Finished()
}

// RequestTermination records the request and signals the running
// calculator, if any. The recorded request also stops the admission
// tick from restarting the contestant.
func (co *Coordinator) RequestTermination(id calc.ContestantID) {
	co.termination.Request(id)

	co.mu.Lock(co.lg)
	defer co.mu.Unlock(co.lg)
	if run, ok := co.active[id]; ok {
		run.gatekeeper.RequestTermination()
	}
}

// BlockingRequestTermination requests termination and polls until the
// calculator has fully shut down, or fails with
// ErrCalculatorStillRunning after a minute.
func (co *Coordinator) BlockingRequestTermination(id calc.ContestantID) error {
	co.RequestTermination(id)

	deadline := time.Now().Add(terminationDeadline)
	for {
		if !co.IsRunning(id) {
			return nil
		}
		if time.Now().After(deadline) {
			return ErrCalculatorStillRunning
		}
		time.Sleep(terminationPollInterval)
	}
}

// ResetTrackAndScore wipes everything the calculator produced for the
// contestant so the track can be re-run; it refuses while a calculator
// is still active.
func (co *Coordinator) ResetTrackAndScore(id calc.ContestantID) error {
	if co.IsRunning(id) {
		return ErrCalculatorStillRunning
	}
	co.termination.Clear(id)
	return co.repo.ResetTrackAndScore(id)
}
