package fetch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/wildjames/BalaamBot/internal/cache"
	"github.com/wildjames/BalaamBot/internal/observe"
	"github.com/wildjames/BalaamBot/pkg/audio"
)

// CoordinatorConfig holds the dependencies for a [Coordinator].
type CoordinatorConfig struct {
	Store      *cache.Store
	Metadata   cache.MetadataStore // defaults to Store when nil
	Fetcher    Fetcher
	Transcoder Transcoder

	// MetadataFetcher is optional; without it metadata lookups only consult
	// the metadata store.
	MetadataFetcher MetadataFetcher

	// Format is the PCM format to cache. Defaults to [audio.DefaultFormat].
	Format audio.Format

	// Breaker optionally guards the downloader; see [Breaker]. When nil,
	// fetches are never held back.
	Breaker *Breaker

	// Metrics defaults to [observe.DefaultMetrics] when nil.
	Metrics *observe.Metrics
}

// Coordinator serialises fetches of the same source. On a cache hit
// [Coordinator.EnsureCached] returns immediately; on a miss, concurrent
// callers for the same key collapse into a single download+transcode whose
// result is committed atomically into the cache.
//
// All methods are safe for concurrent use.
type Coordinator struct {
	store       *cache.Store
	meta        cache.MetadataStore
	fetcher     Fetcher
	transcoder  Transcoder
	metaFetcher MetadataFetcher
	format      audio.Format
	breaker     *Breaker
	metrics     *observe.Metrics

	// group provides the per-key fetch lock: entries are created on demand
	// and dropped as soon as the in-flight call completes, on every outcome.
	group singleflight.Group
}

// NewCoordinator creates a Coordinator from cfg. Store, Fetcher and
// Transcoder are required.
func NewCoordinator(cfg CoordinatorConfig) *Coordinator {
	c := &Coordinator{
		store:       cfg.Store,
		meta:        cfg.Metadata,
		fetcher:     cfg.Fetcher,
		transcoder:  cfg.Transcoder,
		metaFetcher: cfg.MetadataFetcher,
		format:      cfg.Format,
		breaker:     cfg.Breaker,
		metrics:     cfg.Metrics,
	}
	if c.meta == nil {
		c.meta = cfg.Store
	}
	if c.format == (audio.Format{}) {
		c.format = audio.DefaultFormat()
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	return c
}

// Format returns the PCM format this coordinator caches.
func (c *Coordinator) Format() audio.Format { return c.format }

// EnsureCached returns the path of the cached PCM file for sourceID,
// fetching and transcoding it first if necessary. Concurrent calls for the
// same source and format share one fetch; all callers receive the same path
// or the same error, wrapped in [ErrSourceUnavailable] when the external
// capabilities fail.
//
// The context of the caller that initiates the fetch governs the shared
// operation; late joiners that cancel their own context still leave the
// fetch running for the others.
func (c *Coordinator) EnsureCached(ctx context.Context, sourceID string) (string, error) {
	path := c.store.PCMPath(sourceID, c.format)
	if c.store.HasPCM(sourceID, c.format) {
		c.metrics.CacheHits.Add(ctx, 1)
		return path, nil
	}
	c.metrics.CacheMisses.Add(ctx, 1)

	key := fmt.Sprintf("pcm:%s:%d:%d", cache.Key(sourceID), c.format.SampleRate, c.format.Channels)
	start := time.Now()
	_, err, shared := c.group.Do(key, func() (any, error) {
		// Double-checked: another caller may have just completed this fetch.
		if c.store.HasPCM(sourceID, c.format) {
			return nil, nil
		}
		return nil, c.fetchAndCommit(ctx, sourceID)
	})
	if err != nil {
		c.metrics.FetchErrors.Add(ctx, 1)
		c.metrics.FetchDuration.Record(ctx, time.Since(start).Seconds(),
			metric.WithAttributes(attribute.String("status", "error")))
		return "", err
	}
	if !shared {
		c.metrics.FetchDuration.Record(ctx, time.Since(start).Seconds(),
			metric.WithAttributes(attribute.String("status", "ok")))
	}
	return path, nil
}

// fetchAndCommit downloads sourceID to a temp file, transcodes it to PCM in
// a second temp file, and atomically commits the result. Temp files are
// removed on every path; nothing partial ever lands under the final cache
// path. Metadata is fetched concurrently with the download (best-effort).
func (c *Coordinator) fetchAndCommit(ctx context.Context, sourceID string) error {
	srcTmp, pcmTmp := c.store.TempPaths(sourceID)
	defer func() {
		_ = os.Remove(srcTmp)
		_ = os.Remove(pcmTmp)
	}()

	slog.Info("fetch: downloading source", "source", sourceID)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if c.breaker != nil {
			if err := c.breaker.Allow(); err != nil {
				return err
			}
		}
		err := c.fetcher.Fetch(gctx, sourceID, srcTmp)
		if c.breaker != nil {
			c.breaker.Record(err)
		}
		if err != nil {
			return fmt.Errorf("%w: download %q: %w", ErrSourceUnavailable, sourceID, err)
		}
		return nil
	})
	g.Go(func() error {
		// Metadata failures never fail the fetch; the record is a nicety.
		if _, err := c.Metadata(gctx, sourceID); err != nil {
			slog.Warn("fetch: metadata lookup failed", "source", sourceID, "err", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}

	if err := c.transcoder.Transcode(ctx, srcTmp, pcmTmp, c.format); err != nil {
		return fmt.Errorf("%w: transcode %q: %w", ErrSourceUnavailable, sourceID, err)
	}
	if err := c.store.CommitPCM(pcmTmp, sourceID, c.format); err != nil {
		return fmt.Errorf("%w: commit %q: %w", ErrSourceUnavailable, sourceID, err)
	}

	slog.Info("fetch: source cached", "source", sourceID)
	return nil
}

// Metadata returns the metadata record for sourceID, consulting the
// metadata store first and falling back to the external metadata fetcher on
// a miss. Fetched records are written back to the store. Concurrent lookups
// for the same source collapse into one fetch.
//
// Metadata and PCM fetches for the same source may run concurrently; they
// write disjoint namespaces.
func (c *Coordinator) Metadata(ctx context.Context, sourceID string) (cache.TrackMetadata, error) {
	meta, err := c.meta.GetMetadata(ctx, sourceID)
	if err == nil {
		return meta, nil
	}
	if !errors.Is(err, cache.ErrNotFound) {
		return cache.TrackMetadata{}, err
	}
	if c.metaFetcher == nil {
		return cache.TrackMetadata{}, err
	}

	v, err, _ := c.group.Do("meta:"+cache.Key(sourceID), func() (any, error) {
		if meta, err := c.meta.GetMetadata(ctx, sourceID); err == nil {
			return meta, nil
		}
		meta, err := c.metaFetcher.FetchMetadata(ctx, sourceID)
		if err != nil {
			return cache.TrackMetadata{}, fmt.Errorf("fetch: metadata for %q: %w", sourceID, err)
		}
		if err := c.meta.PutMetadata(ctx, sourceID, meta); err != nil {
			slog.Warn("fetch: caching metadata failed", "source", sourceID, "err", err)
		}
		return meta, nil
	})
	if err != nil {
		return cache.TrackMetadata{}, err
	}
	return v.(cache.TrackMetadata), nil
}
