// calc/loader.go
// Copyright(c) 2021-2026 Air Sports Live Tracking contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package calc

import (
	"context"
	"time"

	"github.com/airsports-no/livetracking/log"
	"github.com/airsports-no/livetracking/util"
)

// CheckBufferedDataTimeLimit is the device-time gap beyond which the
// loader assumes positions were lost upstream and back-fills from the
// historical archive.
const CheckBufferedDataTimeLimit = 6 * time.Second

// Loader drains the per-device FIFO for one contestant, stamps receive
// times, back-fills archive gaps, and feeds the gatekeeper's release
// queue with release time = device time + the task's calculation delay.
// It runs on its own goroutine; a nil item on the queue is the
// end-of-stream sentinel.
type Loader struct {
	queue      *ReleaseQueue[*Position]
	source     <-chan Position
	archive    Archive
	contestant *Contestant
	deviceID   string
	live       bool
	now        func() time.Time
	lg         *log.Logger

	lastDeviceTime time.Time

	// counters surfaced in the final log line
	enqueued      int
	backfilled    int
	archiveErrors int
}

func NewLoader(queue *ReleaseQueue[*Position], source <-chan Position, archive Archive,
	contestant *Contestant, deviceID string, live bool, lg *log.Logger) *Loader {
	return &Loader{
		queue:      queue,
		source:     source,
		archive:    archive,
		contestant: contestant,
		deviceID:   deviceID,
		live:       live,
		now:        time.Now,
		lg:         lg,
	}
}

// Run pumps positions until the source closes or the context is
// cancelled, then posts the termination sentinel.
func (l *Loader) Run(ctx context.Context) {
	defer func() {
		l.queue.Put(nil, l.now())
		l.lg.Infof("loader for %s done: %d enqueued, %d backfilled, %d archive errors",
			l.deviceID, l.enqueued, l.backfilled, l.archiveErrors)
	}()

	if l.live {
		l.startupBackfill()
	}

	for {
		select {
		case <-ctx.Done():
			return
		case p, ok := <-l.source:
			if !ok {
				return
			}
			p.CalculatorReceivedTime = l.now()
			l.enqueue(&p)
		}
	}
}

// startupBackfill catches up on everything the tracker reported before
// the calculator started; these positions are released immediately since
// their scores are already overdue.
func (l *Loader) startupBackfill() {
	now := l.now()
	positions, err := l.archive.GetPositions(l.deviceID, l.contestant.TrackerStartTime, now)
	if err != nil {
		l.lg.Warnf("startup backfill for %s: %v", l.deviceID, err)
		l.archiveErrors++
		return
	}

	times := make([]time.Time, 0, len(positions))
	for i := range positions {
		p := positions[i]
		p.CalculatorReceivedTime = now
		l.queue.Put(&p, now)
		l.lastDeviceTime = p.DeviceTime
		l.enqueued++
		times = append(times, p.DeviceTime)
	}
	if len(positions) > 0 {
		// Report holes in the archived coverage; the gatekeeper will score
		// across them via interpolation, but an operator should know.
		intervals := util.FindTimeIntervals(times, CheckBufferedDataTimeLimit)
		l.lg.Infof("startup backfill for %s: %d positions in %d contiguous intervals through %v",
			l.deviceID, len(positions), len(intervals), l.lastDeviceTime)
	}
}

func (l *Loader) enqueue(p *Position) {
	if l.live && !l.lastDeviceTime.IsZero() && p.DeviceTime.Sub(l.lastDeviceTime) > CheckBufferedDataTimeLimit {
		l.fillGap(util.TimeInterval{l.lastDeviceTime, p.DeviceTime})
	}

	l.queue.Put(p, p.DeviceTime.Add(l.contestant.CalculationDelay))
	l.lastDeviceTime = p.DeviceTime
	l.enqueued++
}

// fillGap fetches the missing interval from the archive and enqueues it
// ahead of the position that revealed the gap. An archive failure is not
// fatal; scoring proceeds with the live positions only.
func (l *Loader) fillGap(gap util.TimeInterval) {
	positions, err := l.archive.GetPositions(l.deviceID, gap.Start().Add(time.Second), gap.End().Add(-time.Second))
	if err != nil {
		l.lg.Warnf("gap backfill for %s (%v wide at %v): %v", l.deviceID, gap.Duration(), gap.Start(), err)
		l.archiveErrors++
		return
	}

	now := l.now()
	for i := range positions {
		p := positions[i]
		if !p.DeviceTime.After(l.lastDeviceTime) || !p.DeviceTime.Before(gap.End()) {
			continue
		}
		p.CalculatorReceivedTime = now
		l.queue.Put(&p, p.DeviceTime.Add(l.contestant.CalculationDelay))
		l.lastDeviceTime = p.DeviceTime
		l.backfilled++
	}
}
