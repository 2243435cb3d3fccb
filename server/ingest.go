// server/ingest.go
// Copyright(c) 2021-2026 Air Sports Live Tracking contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package server

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/airsports-no/livetracking/calc"
	"github.com/airsports-no/livetracking/geo"
	"github.com/airsports-no/livetracking/log"
	"github.com/airsports-no/livetracking/util"
)

// sourceBufferSize is the per-contestant FIFO depth between ingest and
// the loader. When a loader falls behind the oldest position is dropped;
// the loader's gap back-fill recovers it from the archive.
const sourceBufferSize = 256

// Report is the position report as the GPS aggregator posts it.
type Report struct {
	ID         uint64    `json:"id"`
	DeviceID   string    `json:"deviceId"`
	DeviceTime time.Time `json:"deviceTime"`
	ServerTime time.Time `json:"serverTime"`
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	Altitude   float64   `json:"altitude"`
	Speed      float64   `json:"speed"`
	Course     float64   `json:"course"`
	Attributes struct {
		BatteryLevel *float64 `json:"batteryLevel"`
	} `json:"attributes"`
}

// ContestantDirectory is the slice of the repository the ingest needs:
// enumerate admitted contestants and read their snapshots.
type ContestantDirectory interface {
	Contestants() []calc.ContestantID
	GetContestant(id calc.ContestantID) (*calc.Contestant, error)
}

// Ingest receives aggregator reports, resolves each to a contestant and
// fans it into that contestant's FIFO. Unresolvable reports are counted
// and dropped; the aggregator retains them for later archive back-fill.
type Ingest struct {
	mu        util.LoggingMutex
	directory ContestantDirectory
	sticky    *StickyTrackerStore
	sources   map[calc.ContestantID]chan calc.Position
	lg        *log.Logger

	received   int
	unresolved int
	dropped    int
}

func NewIngest(directory ContestantDirectory, sticky *StickyTrackerStore, lg *log.Logger) *Ingest {
	return &Ingest{
		directory: directory,
		sticky:    sticky,
		sources:   make(map[calc.ContestantID]chan calc.Position),
		lg:        lg,
	}
}

// Source returns the contestant's position FIFO, creating it if needed.
// The coordinator hands it to the contestant's loader.
func (in *Ingest) Source(id calc.ContestantID) chan calc.Position {
	in.mu.Lock(in.lg)
	defer in.mu.Unlock(in.lg)
	return in.sourceLocked(id)
}

func (in *Ingest) sourceLocked(id calc.ContestantID) chan calc.Position {
	ch, ok := in.sources[id]
	if !ok {
		ch = make(chan calc.Position, sourceBufferSize)
		in.sources[id] = ch
	}
	return ch
}

// Accept stamps, resolves and enqueues one report.
func (in *Ingest) Accept(report Report) error {
	p := calc.Position{
		DeviceTime:            report.DeviceTime,
		ServerTime:            report.ServerTime,
		ProcessorReceivedTime: time.Now(),
		Pos:                   geo.Point{Lat: report.Latitude, Lon: report.Longitude},
		Altitude:              report.Altitude,
		Speed:                 report.Speed,
		Course:                report.Course,
	}
	if report.Attributes.BatteryLevel != nil {
		p.BatteryLevel = *report.Attributes.BatteryLevel
	}

	in.mu.Lock(in.lg)
	defer in.mu.Unlock(in.lg)
	in.received++

	id, err := in.resolveLocked(report.DeviceID, report.DeviceTime)
	if err != nil {
		in.unresolved++
		return err
	}

	ch := in.sourceLocked(id)
	for {
		select {
		case ch <- p:
			return nil
		default:
			// FIFO full: drop the oldest so fresh positions keep flowing.
			select {
			case <-ch:
				in.dropped++
			default:
			}
		}
	}
}

// resolveLocked maps a device to the contestant whose tracking window
// covers the report. App installations (pilot/copilot) stick to the
// first contestant they matched so overlapping windows don't split one
// crew's track across two contestants.
func (in *Ingest) resolveLocked(deviceID string, deviceTime time.Time) (calc.ContestantID, error) {
	if id, ok := in.sticky.Lookup(deviceID); ok {
		if c, err := in.directory.GetContestant(id); err == nil && c.InWindow(deviceTime) {
			return id, nil
		}
		in.sticky.Unbind(deviceID)
	}

	for _, id := range in.directory.Contestants() {
		c, err := in.directory.GetContestant(id)
		if err != nil || !c.InWindow(deviceTime) {
			continue
		}
		switch deviceID {
		case c.TrackerDeviceID, c.SimulatorTrackingID:
			if deviceID != "" {
				return id, nil
			}
		case c.PilotTrackingID, c.CopilotTrackingID:
			if deviceID != "" {
				in.sticky.Bind(deviceID, id)
				return id, nil
			}
		}
	}
	return 0, fmt.Errorf("%s at %v: %w", deviceID, deviceTime, ErrUnknownDevice)
}

// ServeHTTP accepts POSTed reports: either a single report object or an
// array of them.
func (in *Ingest) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 4*1024*1024))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var reports []Report
	if err := json.Unmarshal(body, &reports); err != nil {
		var single Report
		if err := json.Unmarshal(body, &single); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		reports = append(reports, single)
	}

	accepted := 0
	for _, report := range reports {
		if err := in.Accept(report); err != nil {
			in.lg.Debugf("ingest: %v", err)
		} else {
			accepted++
		}
	}

	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"received": %d, "accepted": %d}`, len(reports), accepted)
}

// Stats returns receive counters for the service status endpoint.
func (in *Ingest) Stats() (received, unresolved, dropped int) {
	in.mu.Lock(in.lg)
	defer in.mu.Unlock(in.lg)
	return in.received, in.unresolved, in.dropped
}
