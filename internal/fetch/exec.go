package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"time"

	"github.com/wildjames/BalaamBot/internal/cache"
	"github.com/wildjames/BalaamBot/pkg/audio"
)

// DefaultFetchTimeout bounds a single download or transcode invocation when
// no timeout is configured.
const DefaultFetchTimeout = 10 * time.Minute

// YtdlpFetcher implements [Fetcher] and [MetadataFetcher] by shelling out
// to yt-dlp. The source identifier is passed through as the target URL.
type YtdlpFetcher struct {
	// Bin is the yt-dlp executable. Defaults to "yt-dlp".
	Bin string

	// CookieFile optionally points at a Netscape cookie jar for
	// age-restricted or membership content.
	CookieFile string

	// Timeout bounds each invocation. Defaults to [DefaultFetchTimeout].
	Timeout time.Duration
}

// Compile-time interface assertions.
var (
	_ Fetcher         = (*YtdlpFetcher)(nil)
	_ MetadataFetcher = (*YtdlpFetcher)(nil)
)

func (f *YtdlpFetcher) bin() string {
	if f.Bin != "" {
		return f.Bin
	}
	return "yt-dlp"
}

func (f *YtdlpFetcher) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := f.Timeout
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	return context.WithTimeout(ctx, timeout)
}

// Fetch downloads the best available audio for sourceID into destPath.
func (f *YtdlpFetcher) Fetch(ctx context.Context, sourceID, destPath string) error {
	ctx, cancel := f.withTimeout(ctx)
	defer cancel()

	args := []string{
		"--format", "bestaudio/best",
		"--no-playlist",
		"--no-progress",
		"--quiet",
		"--no-warnings",
		"--output", destPath,
	}
	if f.CookieFile != "" {
		args = append(args, "--cookies", f.CookieFile)
	}
	args = append(args, sourceID)

	cmd := exec.CommandContext(ctx, f.bin(), args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("fetch: yt-dlp: %w: %s", err, stderr.String())
	}
	if _, err := os.Stat(destPath); err != nil {
		return fmt.Errorf("fetch: yt-dlp produced no output at %q", destPath)
	}
	return nil
}

// ytdlpInfo is the subset of yt-dlp's -J output we care about.
type ytdlpInfo struct {
	Title      string  `json:"title"`
	Duration   float64 `json:"duration"`
	WebpageURL string  `json:"webpage_url"`
}

// FetchMetadata performs a metadata-only lookup (no media download).
func (f *YtdlpFetcher) FetchMetadata(ctx context.Context, sourceID string) (cache.TrackMetadata, error) {
	ctx, cancel := f.withTimeout(ctx)
	defer cancel()

	cmd := exec.CommandContext(ctx, f.bin(),
		"--dump-single-json",
		"--skip-download",
		"--no-playlist",
		"--no-warnings",
		"--quiet",
		sourceID,
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return cache.TrackMetadata{}, fmt.Errorf("fetch: yt-dlp metadata: %w: %s", err, stderr.String())
	}

	var info ytdlpInfo
	if err := json.Unmarshal(stdout.Bytes(), &info); err != nil {
		return cache.TrackMetadata{}, fmt.Errorf("fetch: decode yt-dlp metadata: %w", err)
	}

	title := info.Title
	if title == "" {
		title = sourceID
	}
	url := info.WebpageURL
	if url == "" {
		url = sourceID
	}
	runtime := int(info.Duration)
	return cache.TrackMetadata{
		URL:            url,
		Title:          title,
		Runtime:        runtime,
		RuntimeDisplay: audio.FormatDuration(runtime),
	}, nil
}

// FFmpegTranscoder implements [Transcoder] by shelling out to ffmpeg.
type FFmpegTranscoder struct {
	// Bin is the ffmpeg executable. Defaults to "ffmpeg".
	Bin string

	// Timeout bounds each invocation. Defaults to [DefaultFetchTimeout].
	Timeout time.Duration
}

// Compile-time interface assertion.
var _ Transcoder = (*FFmpegTranscoder)(nil)

func (t *FFmpegTranscoder) bin() string {
	if t.Bin != "" {
		return t.Bin
	}
	return "ffmpeg"
}

// Transcode converts srcPath into headerless interleaved s16le PCM at the
// requested sample rate and channel count.
func (t *FFmpegTranscoder) Transcode(ctx context.Context, srcPath, destPath string, f audio.Format) error {
	timeout := t.Timeout
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, t.bin(),
		"-y",
		"-v", "quiet",
		"-i", srcPath,
		"-f", "s16le",
		"-acodec", "pcm_s16le",
		"-ac", strconv.Itoa(f.Channels),
		"-ar", strconv.Itoa(f.SampleRate),
		destPath,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("fetch: ffmpeg: %w: %s", err, stderr.String())
	}
	return nil
}
