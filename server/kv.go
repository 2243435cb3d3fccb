// server/kv.go
// Copyright(c) 2021-2026 Air Sports Live Tracking contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package server

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/airsports-no/livetracking/calc"
)

// The coordination state that used to live in an external key/value
// service is held in expiring in-process stores: calculator liveness
// heartbeats, pending termination requests, and the sticky binding of
// app trackers to contestants. Everything here self-expires, so a
// crashed writer never leaves state behind.

const (
	// livenessSlack is added to the heartbeat TTL so a heartbeat written
	// just before a tick is still visible at the tick.
	livenessSlack = time.Second

	terminationRequestTTL = 10 * time.Minute

	// StickyTrackerTTL is how long an app tracker stays bound to the
	// contestant it was first matched to.
	StickyTrackerTTL = 2 * time.Hour
)

const ttlStoreSize = 16384

// LivenessStore implements calc.Liveness; the coordinator treats the
// disappearance of a key as a crashed calculator.
type LivenessStore struct {
	entries *expirable.LRU[calc.ContestantID, time.Time]
}

func NewLivenessStore() *LivenessStore {
	return &LivenessStore{
		entries: expirable.NewLRU[calc.ContestantID, time.Time](ttlStoreSize, nil,
			calc.LivenessTTL+livenessSlack),
	}
}

func (s *LivenessStore) Refresh(id calc.ContestantID, ttl time.Duration) {
	s.entries.Add(id, time.Now().Add(ttl))
}

func (s *LivenessStore) Clear(id calc.ContestantID) {
	s.entries.Remove(id)
}

// Alive reports whether the calculator's heartbeat is current.
func (s *LivenessStore) Alive(id calc.ContestantID) bool {
	deadline, ok := s.entries.Get(id)
	return ok && time.Now().Before(deadline)
}

// TerminationStore holds pending termination requests; they expire on
// their own so a request against a contestant that never runs doesn't
// linger forever.
type TerminationStore struct {
	requests *expirable.LRU[calc.ContestantID, struct{}]
}

func NewTerminationStore() *TerminationStore {
	return &TerminationStore{
		requests: expirable.NewLRU[calc.ContestantID, struct{}](ttlStoreSize, nil, terminationRequestTTL),
	}
}

func (s *TerminationStore) Request(id calc.ContestantID) {
	s.requests.Add(id, struct{}{})
}

func (s *TerminationStore) Requested(id calc.ContestantID) bool {
	_, ok := s.requests.Get(id)
	return ok
}

func (s *TerminationStore) Clear(id calc.ContestantID) {
	s.requests.Remove(id)
}

// StickyTrackerStore pins an app installation to the first contestant
// it was resolved to, so a crew member whose task window overlaps the
// next contestant's doesn't suddenly report for both.
type StickyTrackerStore struct {
	bindings *expirable.LRU[string, calc.ContestantID]
}

func NewStickyTrackerStore() *StickyTrackerStore {
	return &StickyTrackerStore{
		bindings: expirable.NewLRU[string, calc.ContestantID](ttlStoreSize, nil, StickyTrackerTTL),
	}
}

// Bind records the binding and refreshes its TTL.
func (s *StickyTrackerStore) Bind(deviceID string, id calc.ContestantID) {
	s.bindings.Add(deviceID, id)
}

func (s *StickyTrackerStore) Lookup(deviceID string) (calc.ContestantID, bool) {
	return s.bindings.Get(deviceID)
}

func (s *StickyTrackerStore) Unbind(deviceID string) {
	s.bindings.Remove(deviceID)
}
