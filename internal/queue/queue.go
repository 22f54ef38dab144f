// Package queue maintains the per-session ordered playback queues and the
// preloader that keeps upcoming entries cache-ready.
//
// By convention the element at index 0 of a session's queue is the
// currently-playing source: it is held fixed by every insertion variant and
// removed only by [PlaybackQueue.Advance] when playback completes. Pruning
// the head directly is rejected — skipping goes through the mixer's
// completion path so the playback driver's advance logic stays the single
// owner of head removal.
package queue

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"

	"github.com/wildjames/BalaamBot/internal/observe"
)

var (
	// ErrNoQueue is returned for operations on a session with no queue.
	ErrNoQueue = errors.New("queue: no queue for session")

	// ErrHeadPrune is returned when a prune targets the playing head.
	ErrHeadPrune = errors.New("queue: cannot prune the currently playing head")

	// ErrNotQueued is returned when a prune target is not in the queue.
	ErrNotQueued = errors.New("queue: entry not queued")
)

// PlaybackQueue holds one ordered list of pending source IDs per session.
// A single lock serialises all operations, which also guarantees that
// enqueues for a session land in invocation order.
type PlaybackQueue struct {
	mu       sync.Mutex
	sessions map[string][]string
	metrics  *observe.Metrics
}

// New creates an empty PlaybackQueue. metrics defaults to
// [observe.DefaultMetrics] when nil.
func New(metrics *observe.Metrics) *PlaybackQueue {
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &PlaybackQueue{
		sessions: make(map[string][]string),
		metrics:  metrics,
	}
}

// Enqueue appends ids to the session's queue and reports whether the queue
// was empty beforehand (in which case the caller should start playback).
//
// The head is never displaced: with toFront the new entries land directly
// behind the playing head, ahead of everything else; otherwise they go to
// the back.
func (q *PlaybackQueue) Enqueue(sessionID string, ids []string, toFront bool) (started bool) {
	if len(ids) == 0 {
		return false
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	cur := q.sessions[sessionID]
	switch {
	case len(cur) == 0:
		q.sessions[sessionID] = slices.Clone(ids)
		started = true
	case toFront:
		q.sessions[sessionID] = slices.Concat(cur[:1], ids, cur[1:])
	default:
		q.sessions[sessionID] = append(cur, ids...)
	}

	q.metrics.QueuedTracks.Add(context.Background(), int64(len(ids)))
	slog.Info("queue: enqueued",
		"session", sessionID, "count", len(ids), "to_front", toFront,
		"queue_len", len(q.sessions[sessionID]))
	return started
}

// Advance pops the playing head after its playback completes and returns
// the new head, if any. When the queue empties the session entry is removed
// outright.
func (q *PlaybackQueue) Advance(sessionID string) (next string, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	cur := q.sessions[sessionID]
	if len(cur) == 0 {
		return "", false
	}
	cur = cur[1:]
	q.metrics.QueuedTracks.Add(context.Background(), -1)
	if len(cur) == 0 {
		delete(q.sessions, sessionID)
		return "", false
	}
	q.sessions[sessionID] = cur
	return cur[0], true
}

// Head returns the currently playing source ID for the session.
func (q *PlaybackQueue) Head(sessionID string) (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	cur := q.sessions[sessionID]
	if len(cur) == 0 {
		return "", false
	}
	return cur[0], true
}

// List returns a copy of the session's queue in playback order.
func (q *PlaybackQueue) List(sessionID string) []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return slices.Clone(q.sessions[sessionID])
}

// Len returns the number of queued entries, including the playing head.
func (q *PlaybackQueue) Len(sessionID string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.sessions[sessionID])
}

// PruneID removes the first non-head entry matching id. Pruning the head is
// rejected with [ErrHeadPrune]; use the mixer's skip path instead.
func (q *PlaybackQueue) PruneID(sessionID, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	cur := q.sessions[sessionID]
	if len(cur) == 0 {
		return ErrNoQueue
	}
	if cur[0] == id {
		return ErrHeadPrune
	}
	idx := slices.Index(cur[1:], id)
	if idx < 0 {
		return ErrNotQueued
	}
	q.removeAtLocked(sessionID, idx+1)
	return nil
}

// PruneIndex removes the entry at the given queue index. Index 0 (the
// playing head) is rejected with [ErrHeadPrune].
func (q *PlaybackQueue) PruneIndex(sessionID string, index int) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	cur := q.sessions[sessionID]
	if len(cur) == 0 {
		return ErrNoQueue
	}
	if index == 0 {
		return ErrHeadPrune
	}
	if index < 0 || index >= len(cur) {
		return ErrNotQueued
	}
	q.removeAtLocked(sessionID, index)
	return nil
}

// Remove deletes the first entry matching id wherever it sits, including
// the head. Reserved for internal callers (the preloader evicting a source
// that failed to fetch); user-facing removal goes through the prune
// operations.
func (q *PlaybackQueue) Remove(sessionID, id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	idx := slices.Index(q.sessions[sessionID], id)
	if idx < 0 {
		return false
	}
	q.removeAtLocked(sessionID, idx)
	return true
}

// ClearPending removes everything behind the playing head.
func (q *PlaybackQueue) ClearPending(sessionID string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	cur := q.sessions[sessionID]
	if len(cur) <= 1 {
		return
	}
	q.metrics.QueuedTracks.Add(context.Background(), -int64(len(cur)-1))
	q.sessions[sessionID] = cur[:1]
	slog.Info("queue: cleared pending entries", "session", sessionID, "removed", len(cur)-1)
}

// Drop removes the session's queue entirely, head included. Used on stop
// and on unrecoverable playback failure.
func (q *PlaybackQueue) Drop(sessionID string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if n := len(q.sessions[sessionID]); n > 0 {
		q.metrics.QueuedTracks.Add(context.Background(), -int64(n))
	}
	delete(q.sessions, sessionID)
}

// removeAtLocked removes index idx from the session queue. Caller must hold
// q.mu and guarantee the index is valid.
func (q *PlaybackQueue) removeAtLocked(sessionID string, idx int) {
	cur := q.sessions[sessionID]
	cur = slices.Delete(cur, idx, idx+1)
	q.metrics.QueuedTracks.Add(context.Background(), -1)
	if len(cur) == 0 {
		delete(q.sessions, sessionID)
		return
	}
	q.sessions[sessionID] = cur
}
