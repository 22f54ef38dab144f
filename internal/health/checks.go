package health

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/wildjames/BalaamBot/internal/fetch"
)

// CacheDir reports readiness of the audio cache directory: it must exist
// and accept writes, since every fetch commits through it.
func CacheDir(dir string) Checker {
	return Checker{
		Name: "cache_dir",
		Check: func(context.Context) error {
			f, err := os.CreateTemp(dir, "healthz-*")
			if err != nil {
				return fmt.Errorf("cache dir %q not writable: %w", dir, err)
			}
			name := f.Name()
			_ = f.Close()
			_ = os.Remove(name)
			return nil
		},
	}
}

// Tool checks that an external binary the pipeline shells out to (yt-dlp,
// ffmpeg) is resolvable. path may be absolute or a bare command name to
// look up on PATH.
func Tool(name, path string) Checker {
	return Checker{
		Name: name,
		Check: func(context.Context) error {
			if filepath.IsAbs(path) {
				if _, err := os.Stat(path); err != nil {
					return fmt.Errorf("%s at %q: %w", name, path, err)
				}
				return nil
			}
			if _, err := exec.LookPath(path); err != nil {
				return fmt.Errorf("%s not on PATH: %w", name, err)
			}
			return nil
		},
	}
}

// Downloader reports the downloader breaker's state. A tripped breaker
// means fetches are failing fast, so new tracks cannot start.
func Downloader(b *fetch.Breaker) Checker {
	return Checker{
		Name: "downloader",
		Check: func(context.Context) error {
			if b.Tripped() {
				return fetch.ErrDownloaderCooldown
			}
			return nil
		},
	}
}

// Pinger is the slice of a database pool the readiness probe needs.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Database checks connectivity of the metadata database.
func Database(p Pinger) Checker {
	return Checker{
		Name: "database",
		Check: func(ctx context.Context) error {
			if err := p.Ping(ctx); err != nil {
				return fmt.Errorf("database ping: %w", err)
			}
			return nil
		},
	}
}
