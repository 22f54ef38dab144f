// Package sfx manages the sound-effect library and the scheduler that
// plays effects on repeating randomised intervals, layered over whatever
// music a session is playing.
package sfx

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/wildjames/BalaamBot/pkg/audio"
)

// ErrUnknownEffect is returned when no file in the library matches the
// requested effect name.
var ErrUnknownEffect = errors.New("sfx: unknown effect")

// Decoder converts an audio file on disk into raw PCM at the given format.
// [fetch.FFmpegTranscoder] satisfies it.
type Decoder interface {
	Transcode(ctx context.Context, src, dest string, format audio.Format) error
}

// Library serves decoded sound effects from a directory of audio files.
// Effects are addressed by file name without extension; decoded samples are
// cached in memory after the first load.
type Library struct {
	dir    string
	dec    Decoder
	format audio.Format

	mu    sync.Mutex
	cache map[string][]int16
}

// NewLibrary creates a Library over dir. A zero format falls back to
// [audio.DefaultFormat].
func NewLibrary(dir string, dec Decoder, format audio.Format) *Library {
	if format == (audio.Format{}) {
		format = audio.DefaultFormat()
	}
	return &Library{
		dir:    dir,
		dec:    dec,
		format: format,
		cache:  make(map[string][]int16),
	}
}

// Names lists the available effect names, sorted.
func (l *Library) Names() ([]string, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, fmt.Errorf("sfx: listing library %s: %w", l.dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), filepath.Ext(e.Name())))
	}
	slices.Sort(names)
	return names, nil
}

// Load returns the decoded samples for the named effect, decoding and
// caching on first use.
func (l *Library) Load(ctx context.Context, name string) ([]int16, error) {
	l.mu.Lock()
	if samples, ok := l.cache[name]; ok {
		l.mu.Unlock()
		return samples, nil
	}
	l.mu.Unlock()

	src, err := l.resolve(name)
	if err != nil {
		return nil, err
	}
	samples, err := l.decode(ctx, src)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	l.cache[name] = samples
	l.mu.Unlock()
	return samples, nil
}

// resolve finds the library file for an effect name, matching either the
// bare name or the full file name.
func (l *Library) resolve(name string) (string, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return "", fmt.Errorf("sfx: listing library %s: %w", l.dir, err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		fn := e.Name()
		if fn == name || strings.TrimSuffix(fn, filepath.Ext(fn)) == name {
			return filepath.Join(l.dir, fn), nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownEffect, name)
}

// decode runs the source file through the decoder into a throwaway PCM file
// and reads the samples back.
func (l *Library) decode(ctx context.Context, src string) ([]int16, error) {
	tmp, err := os.CreateTemp("", "sfx-*.pcm")
	if err != nil {
		return nil, fmt.Errorf("sfx: creating scratch file: %w", err)
	}
	tmpPath := tmp.Name()
	tmp.Close()
	defer os.Remove(tmpPath)

	if err := l.dec.Transcode(ctx, src, tmpPath, l.format); err != nil {
		return nil, fmt.Errorf("sfx: decoding %s: %w", src, err)
	}
	raw, err := os.ReadFile(tmpPath)
	if err != nil {
		return nil, fmt.Errorf("sfx: reading decoded effect: %w", err)
	}
	return audio.BytesToSamples(raw), nil
}
