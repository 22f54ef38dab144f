package queue

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"

	"github.com/wildjames/BalaamBot/internal/fetch"
)

// fakeCacher records EnsureCached calls and fails configured sources.
type fakeCacher struct {
	mu       sync.Mutex
	calls    []string
	fail     map[string]bool
	cooldown bool
}

func (c *fakeCacher) EnsureCached(_ context.Context, sourceID string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, sourceID)
	if c.cooldown {
		return "", fetch.ErrDownloaderCooldown
	}
	if c.fail[sourceID] {
		return "", errors.New("fetch failed")
	}
	return "/cache/" + sourceID, nil
}

func (c *fakeCacher) attempted(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Contains(c.calls, id)
}

func TestPreloaderCachesLookaheadWindow(t *testing.T) {
	t.Parallel()

	q := newTestQueue(t)
	q.Enqueue("s", []string{"head", "a", "b", "c", "d"}, false)
	c := &fakeCacher{}

	NewPreloader(q, c, 3, testMetrics(t)).Run(context.Background(), "s")

	// Head excluded, window of three attempted, entry beyond it untouched.
	if c.attempted("head") {
		t.Error("preloader fetched the playing head")
	}
	for _, id := range []string{"a", "b", "c"} {
		if !c.attempted(id) {
			t.Errorf("preloader did not attempt %q", id)
		}
	}
	if c.attempted("d") {
		t.Error("preloader fetched beyond the lookahead window")
	}
}

func TestPreloaderEvictsFailingEntryAndContinues(t *testing.T) {
	t.Parallel()

	q := newTestQueue(t)
	q.Enqueue("s", []string{"head", "a", "bad", "c"}, false)
	c := &fakeCacher{fail: map[string]bool{"bad": true}}

	NewPreloader(q, c, 3, testMetrics(t)).Run(context.Background(), "s")

	want := []string{"head", "a", "c"}
	if got := q.List("s"); !slices.Equal(got, want) {
		t.Errorf("List = %v after eviction, want %v", got, want)
	}
	// The entry behind the failure was still attempted.
	if !c.attempted("c") {
		t.Error("preloader did not attempt the entry behind the failure")
	}
}

func TestPreloaderEvictionWidensWindow(t *testing.T) {
	t.Parallel()

	// With lookahead 2, "d" is initially outside the window; evicting "bad"
	// slides it in.
	q := newTestQueue(t)
	q.Enqueue("s", []string{"head", "bad", "c", "d"}, false)
	c := &fakeCacher{fail: map[string]bool{"bad": true}}

	NewPreloader(q, c, 2, testMetrics(t)).Run(context.Background(), "s")

	if !c.attempted("d") {
		t.Error("preloader did not pick up the entry that slid into the window")
	}
	if got := q.List("s"); !slices.Equal(got, []string{"head", "c", "d"}) {
		t.Errorf("List = %v, want [head c d]", got)
	}
}

func TestPreloaderAllFailing(t *testing.T) {
	t.Parallel()

	q := newTestQueue(t)
	q.Enqueue("s", []string{"head", "x", "y"}, false)
	c := &fakeCacher{fail: map[string]bool{"x": true, "y": true}}

	NewPreloader(q, c, 3, testMetrics(t)).Run(context.Background(), "s")

	if got := q.List("s"); !slices.Equal(got, []string{"head"}) {
		t.Errorf("List = %v, want [head]", got)
	}
}

func TestPreloaderEmptyAndHeadOnlyQueues(t *testing.T) {
	t.Parallel()

	q := newTestQueue(t)
	c := &fakeCacher{}
	p := NewPreloader(q, c, 3, testMetrics(t))

	p.Run(context.Background(), "missing")
	q.Enqueue("s", []string{"only"}, false)
	p.Run(context.Background(), "s")

	if len(c.calls) != 0 {
		t.Errorf("preloader made %d fetches with nothing to preload", len(c.calls))
	}
}

func TestPreloaderDefersWindowDuringCooldown(t *testing.T) {
	t.Parallel()

	q := newTestQueue(t)
	q.Enqueue("s", []string{"head", "a", "b"}, false)
	c := &fakeCacher{cooldown: true}

	NewPreloader(q, c, 3, testMetrics(t)).Run(context.Background(), "s")

	// A downloader cooldown is transient: nothing gets evicted.
	if got := q.List("s"); !slices.Equal(got, []string{"head", "a", "b"}) {
		t.Errorf("List = %v during cooldown, want the queue untouched", got)
	}
	if len(c.calls) != 1 {
		t.Errorf("preloader made %d fetches during cooldown, want 1", len(c.calls))
	}
}

func TestPreloaderStopsOnCancelledContext(t *testing.T) {
	t.Parallel()

	q := newTestQueue(t)
	q.Enqueue("s", []string{"head", "a", "b"}, false)
	c := &fakeCacher{}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	NewPreloader(q, c, 3, testMetrics(t)).Run(ctx, "s")

	if len(c.calls) != 0 {
		t.Errorf("preloader fetched %d entries under a cancelled context", len(c.calls))
	}
}
