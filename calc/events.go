// calc/events.go
// Copyright(c) 2021-2026 Air Sports Live Tracking contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package calc

import (
	"fmt"
	"log/slog"
	"maps"
	"runtime"
	"slices"
	"sync"
	"time"

	"github.com/airsports-no/livetracking/log"
)

// EventStream provides a basic pub/sub event interface that carries the
// calculator's outbound updates (score log entries, annotations, state
// transitions, position batches) to whatever is subscribed: the
// websocket facade, the persistence adapters, tests. Posting never
// blocks the gatekeeper; a periodic monitor warns about subscribers that
// have stopped consuming.
type EventStream struct {
	mu          sync.Mutex
	events      []Event
	subscribers map[*EventsSubscription]interface{}
	lastPost    time.Time
	warnedLong  bool
	done        chan struct{}
	lg          *log.Logger
}

type EventsSubscription struct {
	stream *EventStream
	// offset in the stream's event array up to which this subscriber has
	// consumed events.
	offset      int
	source      string
	lastGet     time.Time
	warnedNoGet bool
}

func (e *EventsSubscription) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("offset", e.offset),
		slog.String("source", e.source),
		slog.Time("last_get", e.lastGet))
}

func NewEventStream(lg *log.Logger) *EventStream {
	es := &EventStream{
		subscribers: make(map[*EventsSubscription]interface{}),
		lastPost:    time.Now(),
		done:        make(chan struct{}),
		lg:          lg,
	}
	go es.monitor()
	return es
}

// Subscribe registers a new subscriber; only events posted after the
// subscription are visible to it.
func (e *EventStream) Subscribe() *EventsSubscription {
	// Record the subscriber's callsite so that subscribers that aren't
	// consuming events can be tracked down.
	_, fn, line, _ := runtime.Caller(1)
	source := fmt.Sprintf("%s:%d", fn, line)

	e.mu.Lock()
	defer e.mu.Unlock()

	sub := &EventsSubscription{
		stream:  e,
		offset:  len(e.events),
		source:  source,
		lastGet: time.Now(),
	}
	e.subscribers[sub] = nil
	return sub
}

func (e *EventStream) monitor() {
	tick := time.Tick(5 * time.Second)

	for {
		<-tick

		select {
		case <-e.done:
			return
		default:
		}

		e.mu.Lock()

		e.compact()

		if len(e.events) > 1000 && !e.warnedLong {
			// One of the subscribers is probably out to lunch if the
			// stream has grown this long.
			e.lg.Warn("Long EventStream", slog.Int("length", len(e.events)),
				log.AnyPointerSlice("subscribers", slices.Collect(maps.Keys(e.subscribers))))
			e.warnedLong = true
		}

		// Only complain about idle subscribers while events are actually
		// being posted; a contestant between gates generates few.
		if time.Since(e.lastPost) < 5*time.Second {
			for sub := range e.subscribers {
				if d := time.Since(sub.lastGet); d > 10*time.Second && !sub.warnedNoGet {
					e.lg.Warn("Subscriber has not called Get() recently",
						slog.Duration("duration", d), slog.Any("subscriber", sub))
					sub.warnedNoGet = true
				}
			}
		}

		e.mu.Unlock()
	}
}

func (e *EventsSubscription) Unsubscribe() {
	e.stream.mu.Lock()
	defer e.stream.mu.Unlock()

	if _, ok := e.stream.subscribers[e]; !ok {
		e.stream.lg.Errorf("Attempted to unsubscribe invalid subscription: %+v", e)
	}
	delete(e.stream.subscribers, e)
	e.stream = nil
}

// Post adds an event to the stream. Delivery is best-effort: if nobody
// is subscribed the event is discarded.
func (e *EventStream) Post(event Event) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.lg.Debug("posted event", slog.Any("event", event))

	if len(e.subscribers) > 0 {
		e.lastPost = time.Now()
		e.events = append(e.events, event)
	}
}

// Get returns all of the events posted since the last call to Get for
// this subscription.
func (e *EventsSubscription) Get() []Event {
	e.stream.mu.Lock()
	defer e.stream.mu.Unlock()

	if _, ok := e.stream.subscribers[e]; !ok {
		e.stream.lg.Errorf("Attempted to get with unregistered subscription: %+v", e)
		return nil
	}

	events := slices.Clone(e.stream.events[e.offset:])
	e.offset = len(e.stream.events)
	e.lastGet = time.Now()
	e.warnedNoGet = false

	return events
}

func (e *EventStream) Destroy() {
	e.mu.Lock()
	defer e.mu.Unlock()

	select {
	case e.done <- struct{}{}:
	default:
	}

	close(e.done)
	clear(e.subscribers)
}

// compact reclaims storage for events all subscribers have seen so that
// stream memory doesn't grow without bound over a multi-hour task.
func (e *EventStream) compact() {
	minOffset := len(e.events)
	for sub := range e.subscribers {
		if sub.offset < minOffset {
			minOffset = sub.offset
		}
	}

	if minOffset > cap(e.events)/2 {
		n := len(e.events) - minOffset

		copy(e.events, e.events[minOffset:])
		e.events = e.events[:n]

		for sub := range e.subscribers {
			sub.offset -= minOffset
		}

		e.warnedLong = false
	}
}

// implements slog.LogValuer
func (e *EventStream) LogValue() slog.Value {
	e.mu.Lock()
	defer e.mu.Unlock()

	items := []slog.Attr{slog.Int("len", len(e.events)), slog.Int("cap", cap(e.events))}
	if len(e.events) > 0 {
		items = append(items, slog.Any("last_element", e.events[len(e.events)-1]))
	}
	items = append(items, log.AnyPointerSlice("subscribers", slices.Collect(maps.Keys(e.subscribers))))
	return slog.GroupValue(items...)
}

///////////////////////////////////////////////////////////////////////////

type EventType int

const (
	ScoreLogEvent EventType = iota
	AnnotationEvent
	BasicStateEvent
	PositionBatchEvent
	PlayingCardEvent
	DangerLevelEvent
	DeleteContestantEvent
	CalculatorTerminatedEvent
	NumEventTypes
)

func (t EventType) String() string {
	return []string{"ScoreLog", "Annotation", "BasicState", "PositionBatch",
		"PlayingCard", "DangerLevel", "DeleteContestant", "CalculatorTerminated"}[t]
}

// Event is one outbound update from a gatekeeper; which fields are
// meaningful depends on Type.
type Event struct {
	Type       EventType
	Contestant ContestantID

	Entry      *ScoreLogEntry // ScoreLogEvent
	Annotation *Annotation    // AnnotationEvent
	State      string         // BasicStateEvent
	Positions  []Position     // PositionBatchEvent
	Card       *PlayingCard   // PlayingCardEvent
	Danger     *DangerEstimate

	// Full snapshots, sent when the score log is periodically re-emitted
	// to paper over subscriber reconnects.
	Entries     []ScoreLogEntry
	Annotations []Annotation
}

func (e *Event) String() string {
	switch e.Type {
	case ScoreLogEvent:
		return fmt.Sprintf("%s: contestant %d %s", e.Type, e.Contestant, e.Entry.String())
	case PositionBatchEvent:
		return fmt.Sprintf("%s: contestant %d %d positions", e.Type, e.Contestant, len(e.Positions))
	default:
		return fmt.Sprintf("%s: contestant %d", e.Type, e.Contestant)
	}
}

func (e Event) LogValue() slog.Value {
	attrs := []slog.Attr{slog.String("type", e.Type.String()),
		slog.Int64("contestant", int64(e.Contestant))}
	if e.Entry != nil {
		attrs = append(attrs, slog.String("entry", e.Entry.String()))
	}
	if e.State != "" {
		attrs = append(attrs, slog.String("state", e.State))
	}
	if len(e.Positions) > 0 {
		attrs = append(attrs, slog.Int("positions", len(e.Positions)))
	}
	return slog.GroupValue(attrs...)
}
