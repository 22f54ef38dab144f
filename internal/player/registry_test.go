package player

import (
	"slices"
	"testing"

	"github.com/wildjames/BalaamBot/pkg/audio/mixer"
)

func TestRegistryGetCreatesLazilyAndReuses(t *testing.T) {
	t.Parallel()

	r := NewRegistry(testMetrics(t), mixer.WithFormat(tinyFormat))
	if _, ok := r.Lookup("s"); ok {
		t.Error("Lookup reported a mixer before Get")
	}

	m := r.Get("s")
	if m == nil {
		t.Fatal("Get returned nil")
	}
	if got := r.Get("s"); got != m {
		t.Error("second Get returned a different mixer")
	}
	if got, ok := r.Lookup("s"); !ok || got != m {
		t.Error("Lookup did not return the created mixer")
	}
}

func TestRegistryReleaseTearsDown(t *testing.T) {
	t.Parallel()

	r := NewRegistry(testMetrics(t), mixer.WithFormat(tinyFormat))
	m := r.Get("s")
	m.EnqueueMusic("track", []int16{1, 2, 3, 4}, nil, func() {
		t.Error("Release fired a completion hook")
	})

	r.Release("s")
	if _, ok := r.Lookup("s"); ok {
		t.Error("mixer still registered after Release")
	}
	if m.NumMusic() != 0 {
		t.Errorf("NumMusic = %d after Release, want 0", m.NumMusic())
	}

	// Releasing an unknown session is a no-op.
	r.Release("missing")
}

func TestRegistrySessions(t *testing.T) {
	t.Parallel()

	r := NewRegistry(testMetrics(t), mixer.WithFormat(tinyFormat))
	r.Get("a")
	r.Get("b")

	got := r.Sessions()
	slices.Sort(got)
	if !slices.Equal(got, []string{"a", "b"}) {
		t.Errorf("Sessions = %v, want [a b]", got)
	}
}
