package fetch

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/wildjames/BalaamBot/internal/cache"
	"github.com/wildjames/BalaamBot/internal/observe"
	"github.com/wildjames/BalaamBot/pkg/audio"
)

// fakeFetcher counts invocations and writes canned bytes to the dest path.
type fakeFetcher struct {
	calls atomic.Int32
	delay time.Duration
	err   error
	data  []byte
}

func (f *fakeFetcher) Fetch(_ context.Context, _, destPath string) error {
	f.calls.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.err != nil {
		return f.err
	}
	data := f.data
	if data == nil {
		data = []byte("opus")
	}
	return os.WriteFile(destPath, data, 0o644)
}

// fakeTranscoder counts invocations and copies src to dest.
type fakeTranscoder struct {
	calls atomic.Int32
	err   error
}

func (t *fakeTranscoder) Transcode(_ context.Context, srcPath, destPath string, _ audio.Format) error {
	t.calls.Add(1)
	if t.err != nil {
		return t.err
	}
	data, err := os.ReadFile(srcPath)
	if err != nil {
		return err
	}
	return os.WriteFile(destPath, append([]byte("pcm:"), data...), 0o644)
}

// fakeMetaFetcher returns a fixed record.
type fakeMetaFetcher struct {
	calls atomic.Int32
	meta  cache.TrackMetadata
	err   error
}

func (m *fakeMetaFetcher) FetchMetadata(context.Context, string) (cache.TrackMetadata, error) {
	m.calls.Add(1)
	return m.meta, m.err
}

type testDeps struct {
	store      *cache.Store
	fetcher    *fakeFetcher
	transcoder *fakeTranscoder
	meta       *fakeMetaFetcher
	coord      *Coordinator
}

func newTestCoordinator(t *testing.T) *testDeps {
	t.Helper()
	store, err := cache.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	metrics, err := observe.NewMetrics(sdkmetric.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	d := &testDeps{
		store:      store,
		fetcher:    &fakeFetcher{},
		transcoder: &fakeTranscoder{},
		meta:       &fakeMetaFetcher{meta: cache.TrackMetadata{URL: "u", Title: "t"}},
	}
	d.coord = NewCoordinator(CoordinatorConfig{
		Store:           store,
		Fetcher:         d.fetcher,
		Transcoder:      d.transcoder,
		MetadataFetcher: d.meta,
		Metrics:         metrics,
	})
	return d
}

func TestEnsureCachedMissFetchesAndCommits(t *testing.T) {
	t.Parallel()

	d := newTestCoordinator(t)
	path, err := d.coord.EnsureCached(context.Background(), "src-1")
	if err != nil {
		t.Fatalf("EnsureCached: %v", err)
	}
	if d.fetcher.calls.Load() != 1 || d.transcoder.calls.Load() != 1 {
		t.Errorf("fetcher=%d transcoder=%d calls, want 1 each",
			d.fetcher.calls.Load(), d.transcoder.calls.Load())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read committed file: %v", err)
	}
	if string(data) != "pcm:opus" {
		t.Errorf("committed data = %q", data)
	}

	// Temps are gone.
	srcTmp, pcmTmp := d.store.TempPaths("src-1")
	for _, p := range []string{srcTmp, pcmTmp} {
		if _, err := os.Stat(p); !os.IsNotExist(err) {
			t.Errorf("temp file %q survived a successful fetch", p)
		}
	}
}

func TestEnsureCachedHitSkipsFetcher(t *testing.T) {
	t.Parallel()

	d := newTestCoordinator(t)
	ctx := context.Background()
	if _, err := d.coord.EnsureCached(ctx, "src-1"); err != nil {
		t.Fatalf("EnsureCached: %v", err)
	}

	path, err := d.coord.EnsureCached(ctx, "src-1")
	if err != nil {
		t.Fatalf("EnsureCached (hit): %v", err)
	}
	if d.fetcher.calls.Load() != 1 {
		t.Errorf("fetcher calls = %d after cache hit, want 1", d.fetcher.calls.Load())
	}
	if path != d.store.PCMPath("src-1", d.coord.Format()) {
		t.Errorf("hit returned unexpected path %q", path)
	}
}

func TestEnsureCachedConcurrentCallersShareOneFetch(t *testing.T) {
	t.Parallel()

	d := newTestCoordinator(t)
	d.fetcher.delay = 50 * time.Millisecond

	const callers = 8
	paths := make([]string, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			paths[i], errs[i] = d.coord.EnsureCached(context.Background(), "src-1")
		}()
	}
	wg.Wait()

	if got := d.fetcher.calls.Load(); got != 1 {
		t.Errorf("fetcher calls = %d with %d concurrent callers, want 1", got, callers)
	}
	for i := range callers {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if paths[i] != paths[0] {
			t.Errorf("caller %d got path %q, want %q", i, paths[i], paths[0])
		}
	}
}

func TestEnsureCachedFetchFailure(t *testing.T) {
	t.Parallel()

	d := newTestCoordinator(t)
	d.fetcher.err = errors.New("404")

	_, err := d.coord.EnsureCached(context.Background(), "src-bad")
	if !errors.Is(err, ErrSourceUnavailable) {
		t.Fatalf("error = %v, want ErrSourceUnavailable", err)
	}

	// No partial file at the final path, temps cleaned.
	if d.store.HasPCM("src-bad", d.coord.Format()) {
		t.Error("failed fetch left a cache entry")
	}
	srcTmp, pcmTmp := d.store.TempPaths("src-bad")
	for _, p := range []string{srcTmp, pcmTmp} {
		if _, err := os.Stat(p); !os.IsNotExist(err) {
			t.Errorf("temp file %q survived a failed fetch", p)
		}
	}

	// The per-key lock is released: a later attempt fetches again.
	d.fetcher.err = nil
	if _, err := d.coord.EnsureCached(context.Background(), "src-bad"); err != nil {
		t.Fatalf("retry after failure: %v", err)
	}
	if d.fetcher.calls.Load() != 2 {
		t.Errorf("fetcher calls = %d, want 2 (one failed, one retried)", d.fetcher.calls.Load())
	}
}

func TestEnsureCachedTranscodeFailure(t *testing.T) {
	t.Parallel()

	d := newTestCoordinator(t)
	d.transcoder.err = errors.New("bad stream")

	_, err := d.coord.EnsureCached(context.Background(), "src-1")
	if !errors.Is(err, ErrSourceUnavailable) {
		t.Fatalf("error = %v, want ErrSourceUnavailable", err)
	}
	if d.store.HasPCM("src-1", d.coord.Format()) {
		t.Error("failed transcode left a cache entry")
	}
}

func TestEnsureCachedTrippedBreakerFailsFast(t *testing.T) {
	t.Parallel()

	d := newTestCoordinator(t)
	d.coord.breaker = NewBreaker(1, time.Hour)
	d.fetcher.err = errors.New("network down")

	if _, err := d.coord.EnsureCached(context.Background(), "a"); err == nil {
		t.Fatal("EnsureCached succeeded with a failing fetcher")
	}
	if got := d.fetcher.calls.Load(); got != 1 {
		t.Fatalf("fetcher calls = %d, want 1", got)
	}

	// The breaker is now open: further sources fail fast without reaching
	// the downloader, and the error is not an eviction-worthy one.
	_, err := d.coord.EnsureCached(context.Background(), "b")
	if !errors.Is(err, ErrDownloaderCooldown) {
		t.Errorf("EnsureCached = %v while tripped, want ErrDownloaderCooldown", err)
	}
	if errors.Is(err, ErrSourceUnavailable) {
		t.Error("cooldown error wrapped in ErrSourceUnavailable")
	}
	if got := d.fetcher.calls.Load(); got != 1 {
		t.Errorf("fetcher calls = %d after trip, want 1", got)
	}
}

func TestMetadataFetchedOnceAndCached(t *testing.T) {
	t.Parallel()

	d := newTestCoordinator(t)
	ctx := context.Background()

	got, err := d.coord.Metadata(ctx, "src-1")
	if err != nil {
		t.Fatalf("Metadata: %v", err)
	}
	if got.Title != "t" {
		t.Errorf("Title = %q, want %q", got.Title, "t")
	}

	// Second lookup served from the store.
	if _, err := d.coord.Metadata(ctx, "src-1"); err != nil {
		t.Fatalf("Metadata (cached): %v", err)
	}
	if d.meta.calls.Load() != 1 {
		t.Errorf("metadata fetcher calls = %d, want 1", d.meta.calls.Load())
	}
}

func TestMetadataFailureDoesNotFailFetch(t *testing.T) {
	t.Parallel()

	d := newTestCoordinator(t)
	d.meta.err = errors.New("no metadata")

	if _, err := d.coord.EnsureCached(context.Background(), "src-1"); err != nil {
		t.Fatalf("EnsureCached with failing metadata: %v", err)
	}
	if d.fetcher.calls.Load() != 1 {
		t.Errorf("fetcher calls = %d, want 1", d.fetcher.calls.Load())
	}
}
