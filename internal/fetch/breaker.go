package fetch

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrDownloaderCooldown is returned by [Coordinator.EnsureCached] while the
// downloader breaker holds fetches back after repeated failures. It signals
// a transient condition: callers should back off rather than treat the
// source itself as dead.
var ErrDownloaderCooldown = errors.New("fetch: downloader cooling down after repeated failures")

// Breaker trips after a run of consecutive download failures so that a sick
// downloader (network outage, rate limiting, broken tool install) is not
// hammered once per queued track. While tripped, fetch attempts fail fast
// with [ErrDownloaderCooldown]; after the cooldown a single probe fetch is
// let through, and its outcome decides whether the breaker closes again.
//
// Breaker is safe for concurrent use.
type Breaker struct {
	maxFailures int
	cooldown    time.Duration

	mu       sync.Mutex
	fails    int
	tripped  bool
	probing  bool
	openedAt time.Time
}

// NewBreaker creates a Breaker that trips after maxFailures consecutive
// failures and holds fetches for cooldown before probing. Non-positive
// arguments fall back to 5 failures and a 30 second cooldown.
func NewBreaker(maxFailures int, cooldown time.Duration) *Breaker {
	if maxFailures <= 0 {
		maxFailures = 5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &Breaker{maxFailures: maxFailures, cooldown: cooldown}
}

// Allow reports whether a fetch may proceed. While tripped it returns
// [ErrDownloaderCooldown] until the cooldown elapses, then admits exactly
// one probe at a time.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.tripped {
		return nil
	}
	if time.Since(b.openedAt) < b.cooldown || b.probing {
		return ErrDownloaderCooldown
	}
	b.probing = true
	slog.Info("fetch: probing downloader after cooldown")
	return nil
}

// Record feeds a fetch outcome back into the breaker. Any success closes
// it; a failed probe restarts the cooldown.
func (b *Breaker) Record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		if b.tripped {
			slog.Info("fetch: downloader recovered, resuming fetches")
		}
		b.fails = 0
		b.tripped = false
		b.probing = false
		return
	}

	if b.probing {
		b.probing = false
		b.openedAt = time.Now()
		slog.Warn("fetch: downloader probe failed, extending cooldown", "err", err)
		return
	}

	b.fails++
	if !b.tripped && b.fails >= b.maxFailures {
		b.tripped = true
		b.openedAt = time.Now()
		slog.Warn("fetch: downloader breaker tripped",
			"consecutive_failures", b.fails, "cooldown", b.cooldown)
	}
}

// Tripped reports whether the breaker is tripped. It stays tripped until a
// probe fetch succeeds.
func (b *Breaker) Tripped() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tripped
}
