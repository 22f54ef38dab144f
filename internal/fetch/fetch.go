// Package fetch turns source identifiers into cached PCM files. The
// [Coordinator] wraps the external download and transcode capabilities and
// guarantees at most one in-flight fetch per cache key, globally across all
// sessions — a source fetched for one session is immediately available to
// any other session requesting the same source and format.
package fetch

import (
	"context"
	"errors"

	"github.com/wildjames/BalaamBot/internal/cache"
	"github.com/wildjames/BalaamBot/pkg/audio"
)

// ErrSourceUnavailable indicates the external fetch or transcode failed and
// no cached PCM could be produced for the source.
var ErrSourceUnavailable = errors.New("fetch: source unavailable")

// Fetcher is the external capability that downloads a source identifier
// into a local file. Implementations own their timeout policy; ctx bounds
// the whole operation.
type Fetcher interface {
	Fetch(ctx context.Context, sourceID, destPath string) error
}

// Transcoder is the external capability that converts a downloaded media
// file into raw interleaved signed 16-bit little-endian PCM at the given
// format.
type Transcoder interface {
	Transcode(ctx context.Context, srcPath, destPath string, f audio.Format) error
}

// MetadataFetcher performs a metadata-only lookup for a source, without
// downloading the media itself.
type MetadataFetcher interface {
	FetchMetadata(ctx context.Context, sourceID string) (cache.TrackMetadata, error)
}
