// Package player glues the queue, cache and mixer together: the [Registry]
// maps voice sessions to their mixers, and the [Driver] is the state
// machine that feeds queued sources into a session's mixer and reacts to
// track completion.
package player

import (
	"context"
	"log/slog"
	"sync"

	"github.com/wildjames/BalaamBot/internal/observe"
	"github.com/wildjames/BalaamBot/pkg/audio/mixer"
)

// Registry maps an external session handle (one voice connection) to
// exactly one [mixer.Mixer], created lazily on first use and reused until
// the session is released. All methods are safe for concurrent use.
type Registry struct {
	mu      sync.Mutex
	mixers  map[string]*mixer.Mixer
	opts    []mixer.Option
	metrics *observe.Metrics
}

// NewRegistry creates an empty Registry. opts are applied to every mixer it
// creates. metrics defaults to [observe.DefaultMetrics] when nil.
func NewRegistry(metrics *observe.Metrics, opts ...mixer.Option) *Registry {
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &Registry{
		mixers:  make(map[string]*mixer.Mixer),
		opts:    opts,
		metrics: metrics,
	}
}

// Get returns the session's mixer, creating it on first use.
func (r *Registry) Get(sessionID string) *mixer.Mixer {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.mixers[sessionID]
	if !ok {
		m = mixer.New(r.opts...)
		r.mixers[sessionID] = m
		r.metrics.ActiveSessions.Add(context.Background(), 1)
		slog.Info("player: created mixer", "session", sessionID)
	}
	return m
}

// Lookup returns the session's mixer without creating one.
func (r *Registry) Lookup(sessionID string) (*mixer.Mixer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.mixers[sessionID]
	return m, ok
}

// Release tears down the session's mixer on disconnect: all tracks are
// cleared without firing callbacks and the mapping is removed. A no-op for
// unknown sessions.
func (r *Registry) Release(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.mixers[sessionID]
	if !ok {
		return
	}
	m.ClearAll()
	delete(r.mixers, sessionID)
	r.metrics.ActiveSessions.Add(context.Background(), -1)
	slog.Info("player: released mixer", "session", sessionID)
}

// Sessions returns the IDs of all sessions with a live mixer.
func (r *Registry) Sessions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.mixers))
	for id := range r.mixers {
		ids = append(ids, id)
	}
	return ids
}
