package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
}

func TestWatcherInitialLoad(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yml")
	writeConfig(t, path, "server:\n  log_level: warn\n")

	w, err := NewWatcher(path, nil, WithInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	if got := w.Current().Server.LogLevel; got != LogWarn {
		t.Errorf("Current().Server.LogLevel = %q, want warn", got)
	}
}

func TestWatcherInitialLoadFailure(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yml")
	writeConfig(t, path, "server:\n  log_level: shouting\n")

	if _, err := NewWatcher(path, nil, WithInterval(10*time.Millisecond)); err == nil {
		t.Error("NewWatcher succeeded with an invalid config")
	}
}

func TestWatcherDetectsChange(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yml")
	writeConfig(t, path, "server:\n  log_level: info\n")

	changed := make(chan *Config, 1)
	w, err := NewWatcher(path, func(_, new *Config) { changed <- new }, WithInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	// Backdate the mtime to dodge filesystems with coarse timestamps.
	old := time.Now().Add(-time.Hour)
	if err := os.Chtimes(path, old, old); err != nil {
		t.Fatal(err)
	}
	writeConfig(t, path, "server:\n  log_level: debug\n")

	select {
	case cfg := <-changed:
		if cfg.Server.LogLevel != LogDebug {
			t.Errorf("reloaded LogLevel = %q, want debug", cfg.Server.LogLevel)
		}
		if w.Current().Server.LogLevel != LogDebug {
			t.Error("Current() not updated after reload")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for the watcher to pick up the change")
	}
}

func TestWatcherKeepsOldConfigOnInvalidEdit(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yml")
	writeConfig(t, path, "server:\n  log_level: info\n")

	w, err := NewWatcher(path, func(_, _ *Config) {
		t.Error("onChange fired for an invalid config")
	}, WithInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	old := time.Now().Add(-time.Hour)
	if err := os.Chtimes(path, old, old); err != nil {
		t.Fatal(err)
	}
	writeConfig(t, path, "server:\n  log_level: shouting\n")

	// Give the poller a few cycles, then confirm the old config survived.
	time.Sleep(100 * time.Millisecond)
	if got := w.Current().Server.LogLevel; got != LogInfo {
		t.Errorf("Current().Server.LogLevel = %q after invalid edit, want info", got)
	}
}
