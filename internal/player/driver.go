package player

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/wildjames/BalaamBot/internal/cache"
	"github.com/wildjames/BalaamBot/internal/observe"
	"github.com/wildjames/BalaamBot/internal/queue"
	"github.com/wildjames/BalaamBot/pkg/audio"
)

// ErrNoSession is returned by session-scoped operations when the session
// has no active mixer.
var ErrNoSession = errors.New("player: no active session")

// metadataTimeout bounds the metadata lookup behind a now-playing
// announcement. Announcements are best-effort and must not stall.
const metadataTimeout = 10 * time.Second

// Source is the slice of the fetch coordinator the driver needs: cached PCM
// on disk and track metadata for announcements.
type Source interface {
	EnsureCached(ctx context.Context, sourceID string) (path string, err error)
	Metadata(ctx context.Context, sourceID string) (cache.TrackMetadata, error)
}

// Announcer receives user-facing playback notifications. Implementations
// post to whatever channel the session lives on; all calls are best-effort
// and must not block for long. A NowPlaying metadata argument with an empty
// Title means the lookup failed and a generic message should be shown.
type Announcer interface {
	NowPlaying(sessionID string, meta cache.TrackMetadata)
	QueueFinished(sessionID string)
	PlaybackError(sessionID, sourceID string, err error)
}

type noopAnnouncer struct{}

func (noopAnnouncer) NowPlaying(string, cache.TrackMetadata) {}
func (noopAnnouncer) QueueFinished(string)                   {}
func (noopAnnouncer) PlaybackError(string, string, error)    {}

// trackFinished is posted by a track's completion hook and consumed by the
// driver loop, which owns all queue advancement.
type trackFinished struct {
	sessionID string
	sourceID  string
}

// DriverConfig carries the dependencies for [NewDriver]. Queue, Registry
// and Source are required; the rest default sensibly.
type DriverConfig struct {
	Queue    *queue.PlaybackQueue
	Registry *Registry
	Source   Source

	// Announcer receives playback notifications. Defaults to a no-op.
	Announcer Announcer

	// Lookahead is the preloader window behind the playing head. Values < 1
	// fall back to [queue.DefaultLookahead].
	Lookahead int

	// Metrics defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

// Driver runs playback for all sessions. Track completion hooks only post
// events; a single driver goroutine consumes them and performs queue
// advancement, so head removal has exactly one owner and hooks never
// re-enter the queue or the mixer.
type Driver struct {
	queue     *queue.PlaybackQueue
	registry  *Registry
	source    Source
	announcer Announcer
	preloader *queue.Preloader
	metrics   *observe.Metrics

	events chan trackFinished
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

// NewDriver creates a Driver and starts its event loop. Call [Driver.Close]
// to stop it.
func NewDriver(cfg DriverConfig) (*Driver, error) {
	if cfg.Queue == nil || cfg.Registry == nil || cfg.Source == nil {
		return nil, errors.New("player: queue, registry and source are required")
	}
	if cfg.Announcer == nil {
		cfg.Announcer = noopAnnouncer{}
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &Driver{
		queue:     cfg.Queue,
		registry:  cfg.Registry,
		source:    cfg.Source,
		announcer: cfg.Announcer,
		preloader: queue.NewPreloader(cfg.Queue, cfg.Source, cfg.Lookahead, cfg.Metrics),
		metrics:   cfg.Metrics,
		events:    make(chan trackFinished, 16),
		ctx:       ctx,
		cancel:    cancel,
	}

	d.wg.Add(1)
	go d.run()
	return d, nil
}

// Close stops the event loop and waits for in-flight playback cycles and
// preloads to wind down. Safe to call more than once.
func (d *Driver) Close() {
	d.once.Do(d.cancel)
	d.wg.Wait()
}

// Play queues the given sources for the session. If the queue was empty the
// head is fetched synchronously and playback starts before Play returns, so
// a fetch failure surfaces directly to the caller that initiated playback
// (and drops the dead queue). With next set, the sources land directly
// behind the playing head. Upcoming entries are preloaded in the background
// either way.
func (d *Driver) Play(ctx context.Context, sessionID string, sourceIDs []string, next bool) error {
	started := d.queue.Enqueue(sessionID, sourceIDs, next)
	if started {
		if err := d.playHead(ctx, sessionID); err != nil {
			d.queue.Drop(sessionID)
			return err
		}
	}
	d.preload(sessionID)
	return nil
}

// Skip ends the playing track as if it had completed naturally; advancement
// to the next queued source follows the normal completion path. Returns
// [ErrNoSession] when the session has no mixer.
func (d *Driver) Skip(sessionID string) error {
	m, ok := d.registry.Lookup(sessionID)
	if !ok {
		return ErrNoSession
	}
	m.SkipCurrent()
	return nil
}

// Stop drops the session's queue and silences its music without firing
// completion hooks, so nothing advances and no announcements fire. Sound
// effects keep playing.
func (d *Driver) Stop(sessionID string) error {
	m, ok := d.registry.Lookup(sessionID)
	if !ok {
		return ErrNoSession
	}
	d.queue.Drop(sessionID)
	m.ClearMusic()
	return nil
}

// Pause halts the session's audio output in place.
func (d *Driver) Pause(sessionID string) error {
	m, ok := d.registry.Lookup(sessionID)
	if !ok {
		return ErrNoSession
	}
	m.Pause()
	return nil
}

// Resume restarts a paused session's audio output.
func (d *Driver) Resume(sessionID string) error {
	m, ok := d.registry.Lookup(sessionID)
	if !ok {
		return ErrNoSession
	}
	m.Resume()
	return nil
}

// Queue returns the session's queue in playback order, head first.
func (d *Driver) Queue(sessionID string) []string {
	return d.queue.List(sessionID)
}

// run is the driver's event loop. It is the only goroutine that advances
// queues in response to track completion.
func (d *Driver) run() {
	defer d.wg.Done()
	for {
		select {
		case <-d.ctx.Done():
			return
		case ev := <-d.events:
			d.handleFinished(ev)
		}
	}
}

// handleFinished advances the session's queue after a track completes and
// starts the next cycle, if any.
func (d *Driver) handleFinished(ev trackFinished) {
	next, ok := d.queue.Advance(ev.sessionID)
	if !ok {
		slog.Info("player: queue finished", "session", ev.sessionID, "last", ev.sourceID)
		d.announcer.QueueFinished(ev.sessionID)
		return
	}

	// The next head should already be cached by the preloader; fetch it off
	// the event loop anyway so a cold cache cannot stall other sessions.
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.playHead(d.ctx, ev.sessionID); err != nil {
			slog.Error("player: playback cycle failed, dropping queue",
				"session", ev.sessionID, "source", next, "err", err)
			d.queue.Drop(ev.sessionID)
			d.announcer.PlaybackError(ev.sessionID, next, err)
			return
		}
		d.preloader.Run(d.ctx, ev.sessionID)
	}()
}

// playHead loads the session's head source into its mixer. A no-op when the
// queue is empty.
func (d *Driver) playHead(ctx context.Context, sessionID string) error {
	sourceID, ok := d.queue.Head(sessionID)
	if !ok {
		return nil
	}

	path, err := d.source.EnsureCached(ctx, sourceID)
	if err != nil {
		return fmt.Errorf("player: caching %q: %w", sourceID, err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("player: reading cached audio for %q: %w", sourceID, err)
	}
	samples := audio.BytesToSamples(raw)

	m := d.registry.Get(sessionID)
	ev := trackFinished{sessionID: sessionID, sourceID: sourceID}
	m.EnqueueMusic(sourceID, samples,
		func() { d.goAnnounce(sessionID, sourceID) },
		func() { d.postFinished(ev) },
	)
	d.metrics.TracksPlayed.Add(ctx, 1)
	slog.Info("player: started track",
		"session", sessionID, "source", sourceID, "samples", len(samples))
	return nil
}

// postFinished hands a completion event to the driver loop. It runs under
// the mixer lock, so it must never block: the buffered channel absorbs the
// common case and a goroutine covers the rest.
func (d *Driver) postFinished(ev trackFinished) {
	select {
	case d.events <- ev:
	default:
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			select {
			case d.events <- ev:
			case <-d.ctx.Done():
			}
		}()
	}
}

// goAnnounce fires a now-playing announcement in the background. It runs
// under the mixer lock via the track's beforePlay hook, so the metadata
// lookup cannot happen inline.
func (d *Driver) goAnnounce(sessionID, sourceID string) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(d.ctx, metadataTimeout)
		defer cancel()

		meta, err := d.source.Metadata(ctx, sourceID)
		if err != nil {
			slog.Warn("player: metadata unavailable for announcement",
				"session", sessionID, "source", sourceID, "err", err)
			meta = cache.TrackMetadata{URL: sourceID}
		}
		d.announcer.NowPlaying(sessionID, meta)
	}()
}

// preload refreshes the session's cache-ready window in the background.
func (d *Driver) preload(sessionID string) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.preloader.Run(d.ctx, sessionID)
	}()
}
