// calc/queue.go
// Copyright(c) 2021-2026 Air Sports Live Tracking contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package calc

import (
	"container/heap"
	"sync"
	"time"
)

// ReleaseQueue is a single-producer/single-consumer priority queue keyed
// by release time: Get blocks until the head item's release time has been
// reached. The calculation delay is implemented by enqueueing each
// position with release = device time + delay, which gives operators a
// window to intercept obviously bogus scores before they go live.
type ReleaseQueue[T any] struct {
	mu    sync.Mutex
	items releaseHeap[T]
	seq   uint64
	wake  chan struct{}
	now   func() time.Time
}

type releaseItem[T any] struct {
	value   T
	release time.Time
	seq     uint64 // FIFO tie-break for equal release times
}

func MakeReleaseQueue[T any]() *ReleaseQueue[T] {
	return &ReleaseQueue[T]{
		wake: make(chan struct{}, 1),
		now:  time.Now,
	}
}

// Put inserts an item that becomes available at the given release time;
// a release time in the past makes it available immediately.
func (q *ReleaseQueue[T]) Put(value T, release time.Time) {
	q.mu.Lock()
	heap.Push(&q.items, releaseItem[T]{value: value, release: release, seq: q.seq})
	q.seq++
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Peek returns the head item without waiting and without removing it.
func (q *ReleaseQueue[T]) Peek() (T, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		var zero T
		return zero, ErrQueueEmpty
	}
	return q.items[0].value, nil
}

func (q *ReleaseQueue[T]) Empty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) == 0
}

func (q *ReleaseQueue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Get blocks until the head item's release time is reached or the
// timeout elapses, in which case it returns ErrTimedOut. Items are
// returned in non-decreasing release time, FIFO among ties. A single
// consumer is assumed.
func (q *ReleaseQueue[T]) Get(timeout time.Duration) (T, error) {
	deadline := q.now().Add(timeout)

	for {
		q.mu.Lock()
		now := q.now()
		var wait time.Duration
		if len(q.items) > 0 {
			if head := q.items[0]; !head.release.After(now) {
				heap.Pop(&q.items)
				q.mu.Unlock()
				return head.value, nil
			} else {
				wait = head.release.Sub(now)
			}
		} else {
			wait = deadline.Sub(now)
		}
		q.mu.Unlock()

		if remaining := deadline.Sub(now); remaining <= 0 {
			var zero T
			return zero, ErrTimedOut
		} else if wait > remaining {
			wait = remaining
		}

		timer := time.NewTimer(wait)
		select {
		case <-q.wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// Drain removes and returns every queued item regardless of release
// time; used during shutdown so pending items aren't silently dropped.
func (q *ReleaseQueue[T]) Drain() []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	var items []T
	for len(q.items) > 0 {
		items = append(items, heap.Pop(&q.items).(releaseItem[T]).value)
	}
	return items
}

///////////////////////////////////////////////////////////////////////////
// heap implementation

type releaseHeap[T any] []releaseItem[T]

func (h releaseHeap[T]) Len() int { return len(h) }

func (h releaseHeap[T]) Less(i, j int) bool {
	if h[i].release.Equal(h[j].release) {
		return h[i].seq < h[j].seq
	}
	return h[i].release.Before(h[j].release)
}

func (h releaseHeap[T]) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *releaseHeap[T]) Push(x any) {
	*h = append(*h, x.(releaseItem[T]))
}

func (h *releaseHeap[T]) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
