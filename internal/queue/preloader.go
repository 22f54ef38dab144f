package queue

import (
	"context"
	"errors"
	"log/slog"

	"github.com/wildjames/BalaamBot/internal/fetch"
	"github.com/wildjames/BalaamBot/internal/observe"
)

// DefaultLookahead is how many upcoming entries the preloader keeps
// cache-ready behind the playing head.
const DefaultLookahead = 3

// Cacher is the slice of the fetch coordinator the preloader needs.
type Cacher interface {
	EnsureCached(ctx context.Context, sourceID string) (string, error)
}

// Preloader walks the next few queued entries of a session and ensures
// their PCM is cached before playback reaches them. A source that fails to
// fetch is evicted from the queue immediately — it must not block the
// entries behind it, and it must not linger to fail again at play time.
type Preloader struct {
	queue     *PlaybackQueue
	coord     Cacher
	lookahead int
	metrics   *observe.Metrics
}

// NewPreloader creates a Preloader over q and coord. lookahead values < 1
// fall back to [DefaultLookahead]. metrics defaults to
// [observe.DefaultMetrics] when nil.
func NewPreloader(q *PlaybackQueue, coord Cacher, lookahead int, metrics *observe.Metrics) *Preloader {
	if lookahead < 1 {
		lookahead = DefaultLookahead
	}
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &Preloader{queue: q, coord: coord, lookahead: lookahead, metrics: metrics}
}

// Run pre-caches up to the configured lookahead of upcoming entries for the
// session, skipping the playing head. After evicting a failed entry the
// window is re-read and re-walked (already-cached entries are cheap hits),
// so entries behind a failure still get attempted.
//
// Run blocks for the duration of any needed fetches; call it from a
// background goroutine, never from the playback tick path.
func (p *Preloader) Run(ctx context.Context, sessionID string) {
	for {
		list := p.queue.List(sessionID)
		if len(list) <= 1 {
			return
		}
		window := list[1:min(len(list), 1+p.lookahead)]

		evicted := false
		for _, id := range window {
			if ctx.Err() != nil {
				return
			}
			if _, err := p.coord.EnsureCached(ctx, id); err != nil {
				if errors.Is(err, fetch.ErrDownloaderCooldown) {
					// Transient downloader trouble, not a bad source. Leave
					// the queue alone; a later pass will retry.
					slog.Warn("preload: downloader cooling down, deferring window",
						"session", sessionID, "source", id)
					return
				}
				slog.Warn("preload: evicting source after failed pre-fetch",
					"session", sessionID, "source", id, "err", err)
				p.queue.Remove(sessionID, id)
				p.metrics.PreloadEvictions.Add(ctx, 1)
				evicted = true
				break
			}
		}
		if !evicted {
			return
		}
	}
}
