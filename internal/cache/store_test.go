package cache

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/wildjames/BalaamBot/pkg/audio"
)

var stereo48k = audio.Format{SampleRate: 48000, Channels: 2}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return s
}

// stagePCM writes data to a temp path and commits it, as the fetch
// coordinator would.
func stagePCM(t *testing.T, s *Store, sourceID string, data []byte) {
	t.Helper()
	_, pcmTmp := s.TempPaths(sourceID)
	if err := os.WriteFile(pcmTmp, data, 0o644); err != nil {
		t.Fatalf("write temp: %v", err)
	}
	if err := s.CommitPCM(pcmTmp, sourceID, stereo48k); err != nil {
		t.Fatalf("CommitPCM: %v", err)
	}
}

func TestKeyDeterministicAndPathSafe(t *testing.T) {
	t.Parallel()

	url := "https://www.youtube.com/watch?v=dQw4w9WgXcQ"
	if Key(url) != Key(url) {
		t.Error("Key is not deterministic")
	}
	if Key(url) == Key(url+"x") {
		t.Error("distinct sources share a key")
	}
	for _, r := range Key("weird/../source id?&=") {
		if !(r >= '0' && r <= '9' || r >= 'a' && r <= 'f') {
			t.Fatalf("key contains non-hex rune %q", r)
		}
	}
}

func TestPCMPathVariesWithFormat(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	a := s.PCMPath("src", audio.Format{SampleRate: 48000, Channels: 2})
	b := s.PCMPath("src", audio.Format{SampleRate: 44100, Channels: 2})
	c := s.PCMPath("src", audio.Format{SampleRate: 48000, Channels: 1})
	if a == b || a == c || b == c {
		t.Errorf("format variants collide: %q %q %q", a, b, c)
	}
}

func TestCommitAndReadPCM(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	want := []byte{1, 0, 2, 0, 3, 0}
	stagePCM(t, s, "src-1", want)

	if !s.HasPCM("src-1", stereo48k) {
		t.Fatal("HasPCM = false after commit")
	}
	got, err := s.ReadPCM("src-1", stereo48k)
	if err != nil {
		t.Fatalf("ReadPCM: %v", err)
	}
	if string(got) != string(want) {
		t.Errorf("ReadPCM = %v, want %v", got, want)
	}

	// The temp file must be gone after commit (rename, not copy).
	_, pcmTmp := s.TempPaths("src-1")
	if _, err := os.Stat(pcmTmp); !os.IsNotExist(err) {
		t.Error("temp file survived commit")
	}
}

func TestReadPCMMissing(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	_, err := s.ReadPCM("nope", stereo48k)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("ReadPCM error = %v, want ErrNotFound", err)
	}
}

func TestZeroLengthEntryTreatedAsMiss(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	path := s.PCMPath("corrupt", stereo48k)
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	if s.HasPCM("corrupt", stereo48k) {
		t.Error("HasPCM = true for zero-length entry")
	}
	// The corrupt file is removed so the next fetch can commit cleanly.
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("corrupt entry not removed")
	}
}

func TestRemovePCM(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	stagePCM(t, s, "src", []byte{9, 9})

	if !s.RemovePCM("src", stereo48k) {
		t.Error("RemovePCM = false for existing entry")
	}
	if s.RemovePCM("src", stereo48k) {
		t.Error("RemovePCM = true for missing entry")
	}
}

func TestMetadataRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestStore(t)

	want := TrackMetadata{
		URL:            "https://example.com/watch?v=abc",
		Title:          "A Song",
		Runtime:        245,
		RuntimeDisplay: "04:05",
	}
	if err := s.PutMetadata(ctx, "src", want); err != nil {
		t.Fatalf("PutMetadata: %v", err)
	}
	got, err := s.GetMetadata(ctx, "src")
	if err != nil {
		t.Fatalf("GetMetadata: %v", err)
	}
	if got != want {
		t.Errorf("GetMetadata = %+v, want %+v", got, want)
	}
}

func TestMetadataMissing(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	_, err := s.GetMetadata(context.Background(), "nope")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("GetMetadata error = %v, want ErrNotFound", err)
	}
}

func TestMetadataIndependentOfPCM(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestStore(t)

	if err := s.PutMetadata(ctx, "src", TrackMetadata{URL: "u", Title: "t"}); err != nil {
		t.Fatalf("PutMetadata: %v", err)
	}
	if s.HasPCM("src", stereo48k) {
		t.Error("metadata write created a PCM entry")
	}

	stagePCM(t, s, "other", []byte{1, 0})
	if _, err := s.GetMetadata(ctx, "other"); !errors.Is(err, ErrNotFound) {
		t.Error("PCM commit created a metadata record")
	}
}

func TestCleanupRemovesTempDir(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	s, err := NewStore(root)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	srcTmp, _ := s.TempPaths("src")
	if err := os.WriteFile(srcTmp, []byte("partial"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	if err := s.Cleanup(); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "downloading")); !os.IsNotExist(err) {
		t.Error("temp dir survived Cleanup")
	}
	// Completed entries are untouched.
	if _, err := os.Stat(filepath.Join(root, "cached")); err != nil {
		t.Errorf("cache dir missing after Cleanup: %v", err)
	}
}
