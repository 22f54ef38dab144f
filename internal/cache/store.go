// Package cache implements the content-addressed on-disk store for decoded
// PCM audio and small JSON metadata records.
//
// PCM entries are keyed by (source ID, sample rate, channel count); changing
// the audio format can never collide with a differently-formatted entry for
// the same source. A file visible under the final cache path is always
// complete: writers stage into a temp directory and commit with an atomic
// rename. Retention is unbounded — entries live until explicitly removed.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/wildjames/BalaamBot/pkg/audio"
)

// ErrNotFound is returned when no entry exists for the requested key.
var ErrNotFound = errors.New("cache: entry not found")

// TrackMetadata is the metadata record kept per source, independent of
// whether PCM is cached for it.
type TrackMetadata struct {
	URL            string `json:"url"`
	Title          string `json:"title"`
	Runtime        int    `json:"runtime"` // seconds
	RuntimeDisplay string `json:"runtime_str"`
}

// Store is the on-disk cache. It is pure storage: concurrency control
// (fetch dedup, double-checked lookups) lives in the fetch coordinator.
// Methods are safe for concurrent use because every write is an atomic
// rename of a uniquely-named temp file.
type Store struct {
	cacheDir string // completed entries
	tmpDir   string // in-progress downloads, wiped on Cleanup
}

// NewStore creates the cache layout under root:
//
//	root/cached/       completed PCM + metadata files
//	root/downloading/  temp files for in-flight fetches
func NewStore(root string) (*Store, error) {
	s := &Store{
		cacheDir: filepath.Join(root, "cached"),
		tmpDir:   filepath.Join(root, "downloading"),
	}
	for _, dir := range []string{s.cacheDir, s.tmpDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("cache: create %q: %w", dir, err)
		}
	}
	return s, nil
}

// Key returns the deterministic, path-safe cache key for a source ID.
func Key(sourceID string) string {
	sum := sha256.Sum256([]byte(sourceID))
	return hex.EncodeToString(sum[:8])
}

// PCMPath returns the final cache path for a source at the given format.
func (s *Store) PCMPath(sourceID string, f audio.Format) string {
	name := fmt.Sprintf("%s_%dHz_%dch.pcm", Key(sourceID), f.SampleRate, f.Channels)
	return filepath.Join(s.cacheDir, name)
}

// metadataPath returns the metadata record path for a source.
func (s *Store) metadataPath(sourceID string) string {
	return filepath.Join(s.cacheDir, Key(sourceID)+"_metadata.json")
}

// TempPaths returns the two staging paths used while fetching a source: the
// raw download and the transcoded PCM. Both live in the temp directory and
// are never visible under the final cache path.
func (s *Store) TempPaths(sourceID string) (srcTmp, pcmTmp string) {
	key := Key(sourceID)
	return filepath.Join(s.tmpDir, key+".src.part"),
		filepath.Join(s.tmpDir, key+".pcm.part")
}

// HasPCM reports whether a complete PCM entry exists. A zero-length file is
// treated as corrupt: it is removed and reported as a miss, forcing a
// re-fetch.
func (s *Store) HasPCM(sourceID string, f audio.Format) bool {
	path := s.PCMPath(sourceID, f)
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	if info.Size() == 0 {
		slog.Warn("cache: removing corrupt zero-length entry", "path", path)
		_ = os.Remove(path)
		return false
	}
	return true
}

// ReadPCM loads the raw PCM bytes for a cached source. Returns
// [ErrNotFound] when the entry is absent or corrupt.
func (s *Store) ReadPCM(sourceID string, f audio.Format) ([]byte, error) {
	if !s.HasPCM(sourceID, f) {
		return nil, fmt.Errorf("cache: pcm for %q: %w", sourceID, ErrNotFound)
	}
	data, err := os.ReadFile(s.PCMPath(sourceID, f))
	if err != nil {
		return nil, fmt.Errorf("cache: read pcm for %q: %w", sourceID, err)
	}
	return data, nil
}

// CommitPCM atomically moves a fully-written temp file into its final cache
// path. The temp file must be on the same filesystem (it is, by
// construction of [Store.TempPaths]).
func (s *Store) CommitPCM(tmpPath, sourceID string, f audio.Format) error {
	final := s.PCMPath(sourceID, f)
	if err := os.Rename(tmpPath, final); err != nil {
		return fmt.Errorf("cache: commit %q: %w", sourceID, err)
	}
	slog.Debug("cache: committed pcm entry", "source", sourceID, "path", final)
	return nil
}

// RemovePCM deletes a cached entry. Returns false if no entry existed.
func (s *Store) RemovePCM(sourceID string, f audio.Format) bool {
	err := os.Remove(s.PCMPath(sourceID, f))
	if err != nil {
		return false
	}
	slog.Info("cache: removed pcm entry", "source", sourceID)
	return true
}

// GetMetadata loads the metadata record for a source from disk. The context
// is unused; disk reads are fast enough not to need cancellation.
func (s *Store) GetMetadata(_ context.Context, sourceID string) (TrackMetadata, error) {
	data, err := os.ReadFile(s.metadataPath(sourceID))
	if err != nil {
		if os.IsNotExist(err) {
			return TrackMetadata{}, fmt.Errorf("cache: metadata for %q: %w", sourceID, ErrNotFound)
		}
		return TrackMetadata{}, fmt.Errorf("cache: read metadata for %q: %w", sourceID, err)
	}
	var meta TrackMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return TrackMetadata{}, fmt.Errorf("cache: decode metadata for %q: %w", sourceID, err)
	}
	return meta, nil
}

// PutMetadata writes a metadata record via temp file + atomic rename.
func (s *Store) PutMetadata(_ context.Context, sourceID string, meta TrackMetadata) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("cache: encode metadata for %q: %w", sourceID, err)
	}
	final := s.metadataPath(sourceID)
	tmp := filepath.Join(s.tmpDir, Key(sourceID)+".meta.part")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("cache: stage metadata for %q: %w", sourceID, err)
	}
	if err := os.Rename(tmp, final); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("cache: commit metadata for %q: %w", sourceID, err)
	}
	return nil
}

// Cleanup removes the temp directory and everything in it. Call on shutdown
// so interrupted downloads do not accumulate.
func (s *Store) Cleanup() error {
	if err := os.RemoveAll(s.tmpDir); err != nil {
		return fmt.Errorf("cache: cleanup temp dir: %w", err)
	}
	return nil
}
