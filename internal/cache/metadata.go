package cache

import "context"

// MetadataStore abstracts where track metadata records live. The disk
// [Store] is the default; deployments that share metadata between bot
// instances can point at Postgres via [PostgresMetadataStore] instead.
// Metadata lifecycle is independent of PCM entries — a record may exist
// without cached audio and vice versa.
type MetadataStore interface {
	// GetMetadata returns the record for sourceID, or an error wrapping
	// [ErrNotFound] when none exists.
	GetMetadata(ctx context.Context, sourceID string) (TrackMetadata, error)

	// PutMetadata stores or replaces the record for sourceID.
	PutMetadata(ctx context.Context, sourceID string, meta TrackMetadata) error
}

// Compile-time interface check.
var _ MetadataStore = (*Store)(nil)
