package mixer

import (
	"encoding/binary"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/wildjames/BalaamBot/pkg/audio"
)

// Compile-time interface assertion.
var _ audio.FrameSource = (*Mixer)(nil)

// Option configures a [Mixer] during construction.
type Option func(*Mixer)

// WithFormat overrides the PCM format. Defaults to [audio.DefaultFormat].
func WithFormat(f audio.Format) Option {
	return func(m *Mixer) {
		m.format = f
	}
}

// WithNormalisation enables per-track volume normalisation using the given
// approach. The gain is computed once at enqueue time and applied per
// sample during mixing.
func WithNormalisation(approach NormApproach) Option {
	return func(m *Mixer) {
		m.normalise = true
		m.normApproach = approach
	}
}

// Mixer mixes an arbitrary number of music tracks and sound effects into a
// single stream of fixed-size PCM frames. One Mixer serves one voice
// session; the platform adapter calls [Mixer.Read] once per tick while
// enqueue/pause/skip/clear arrive concurrently from command handlers.
type Mixer struct {
	format       audio.Format
	frameSamples int
	silence      []byte // reused all-zero frame returned while paused
	normalise    bool
	normApproach NormApproach

	mu     sync.Mutex
	music  []*Track // insertion order; head is the current music track by convention
	sfx    []*Track
	paused bool
}

// New creates a Mixer. A new Mixer starts paused with no tracks; the first
// enqueue resumes it.
func New(opts ...Option) *Mixer {
	m := &Mixer{
		format: audio.DefaultFormat(),
		paused: true,
	}
	for _, o := range opts {
		o(m)
	}
	m.frameSamples = m.format.FrameSamples()
	m.silence = make([]byte, m.format.FrameBytes())
	return m
}

// Format returns the PCM format this mixer produces.
func (m *Mixer) Format() audio.Format { return m.format }

// Read produces the next frame. While paused it returns a full-length
// silence frame immediately, without touching track state. Otherwise it
// sums one frame's worth of samples from every active track into a 32-bit
// accumulator, advances each track's position, fires completion hooks for
// tracks that ran out of samples, and clips the result to 16-bit range.
//
// Tracks shorter than the remaining frame are zero-padded; a track never
// delays or shrinks the frame. The returned slice is owned by the caller.
func (m *Mixer) Read() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.paused {
		return m.silence
	}

	acc := make([]int32, m.frameSamples)
	m.music = m.mixInto(acc, m.music)
	m.sfx = m.mixInto(acc, m.sfx)

	out := make([]byte, m.frameSamples*audio.BytesPerSample)
	for i, v := range acc {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(audio.Clip(v)))
	}
	return out
}

// mixInto accumulates one frame from each track in ts and returns the
// tracks that still have samples left. Finished tracks fire their afterPlay
// hook exactly once and are dropped. Caller must hold m.mu.
func (m *Mixer) mixInto(acc []int32, ts []*Track) []*Track {
	live := ts[:0]
	for _, t := range ts {
		if !t.started {
			t.started = true
			m.invoke("before_play", t, t.beforePlay)
		}

		n := min(m.frameSamples, len(t.samples)-t.pos)
		for i := range n {
			s := int32(t.samples[t.pos+i])
			if t.norm != 1 {
				// Clamp the scaled per-track contribution before summing.
				s = int32(audio.Clip(int32(float64(s) * t.norm)))
			}
			acc[i] += s
		}
		t.pos += m.frameSamples
		if t.pos < len(t.samples) {
			live = append(live, t)
			continue
		}

		t.pos = len(t.samples)
		m.finish(t)
	}
	// Drop references to removed tracks so they can be collected.
	for i := len(live); i < len(ts); i++ {
		ts[i] = nil
	}
	return live
}

// finish fires the afterPlay hook at most once. Caller must hold m.mu.
func (m *Mixer) finish(t *Track) {
	if t.finished {
		return
	}
	t.finished = true
	m.invoke("after_play", t, t.afterPlay)
}

// invoke runs a track hook, catching panics so a broken callback can never
// stop frame production.
func (m *Mixer) invoke(name string, t *Track, fn func()) {
	if fn == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			slog.Error("mixer: track callback panicked",
				"callback", name, "track", t.name, "track_id", t.id, "panic", r)
		}
	}()
	fn()
}

// Pause halts frame production. Track positions are left untouched.
func (m *Mixer) Pause() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.paused = true
}

// Resume restarts frame production after a pause.
func (m *Mixer) Resume() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.paused = false
}

// EnqueueMusic appends a music track and resumes the mixer, so a freshly
// queued track is audible even if the mixer paused on an empty queue.
// beforePlay and afterPlay may be nil; see [Track] for hook semantics.
func (m *Mixer) EnqueueMusic(name string, samples []int16, beforePlay, afterPlay func()) uuid.UUID {
	return m.enqueue(&m.music, name, samples, beforePlay, afterPlay)
}

// EnqueueSfx appends a sound effect. Sound effects mix over music and over
// each other; there is no limit on concurrent effects.
func (m *Mixer) EnqueueSfx(name string, samples []int16, beforePlay, afterPlay func()) uuid.UUID {
	return m.enqueue(&m.sfx, name, samples, beforePlay, afterPlay)
}

func (m *Mixer) enqueue(set *[]*Track, name string, samples []int16, beforePlay, afterPlay func()) uuid.UUID {
	t := &Track{
		id:         uuid.New(),
		name:       name,
		samples:    samples,
		beforePlay: beforePlay,
		afterPlay:  afterPlay,
		norm:       1,
	}
	if m.normalise {
		t.norm = normFactor(samples, m.normApproach)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	*set = append(*set, t)
	m.paused = false

	slog.Debug("mixer: enqueued track",
		"track", name, "track_id", t.id, "samples", len(samples),
		"music", len(m.music), "sfx", len(m.sfx))
	return t.id
}

// SkipCurrent ends every active music track as if it had played to
// completion: positions jump to the end and afterPlay hooks fire
// synchronously, so queue advancement follows the same path as natural
// completion. Sound effects are unaffected. A no-op when no music is active.
func (m *Mixer) SkipCurrent() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, t := range m.music {
		t.pos = len(t.samples)
		m.finish(t)
	}
	m.music = nil
}

// ClearMusic removes all music tracks without firing their hooks and pauses
// the mixer. Used on stop, where "next track" signals must not fire.
func (m *Mixer) ClearMusic() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.music = nil
	m.paused = true
}

// ClearSfx removes all sound effects without firing their hooks.
func (m *Mixer) ClearSfx() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sfx = nil
}

// ClearAll removes every track without firing hooks and pauses the mixer.
func (m *Mixer) ClearAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.music = nil
	m.sfx = nil
	m.paused = true
}

// IsPaused reports whether frame production is halted.
func (m *Mixer) IsPaused() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.paused
}

// IsPlaying reports whether the mixer is producing audible output: not
// paused and at least one track active.
func (m *Mixer) IsPlaying() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.paused && (len(m.music) > 0 || len(m.sfx) > 0)
}

// NumMusic returns the number of active music tracks.
func (m *Mixer) NumMusic() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.music)
}

// NumSfx returns the number of active sound effects.
func (m *Mixer) NumSfx() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sfx)
}
