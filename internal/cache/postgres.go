package cache

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Schema is the SQL DDL for the track_metadata table. Execute it via
// [PostgresMetadataStore.Migrate] or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS track_metadata (
    source_key  TEXT PRIMARY KEY,
    url         TEXT NOT NULL,
    title       TEXT NOT NULL DEFAULT '',
    runtime     INTEGER NOT NULL DEFAULT 0,
    runtime_str TEXT NOT NULL DEFAULT '',
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// DB is the database interface used by [PostgresMetadataStore]. Both
// *pgxpool.Pool and *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresMetadataStore is a [MetadataStore] backed by PostgreSQL, for
// deployments where several bot instances share one metadata cache.
type PostgresMetadataStore struct {
	db DB
}

// Compile-time interface check.
var _ MetadataStore = (*PostgresMetadataStore)(nil)

// NewPostgresMetadataStore creates a store using the given connection or
// pool. Call [PostgresMetadataStore.Migrate] before issuing queries.
func NewPostgresMetadataStore(db DB) *PostgresMetadataStore {
	return &PostgresMetadataStore{db: db}
}

// Migrate executes the [Schema] DDL, creating the track_metadata table if it
// does not already exist.
func (s *PostgresMetadataStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("cache: migrate metadata schema: %w", err)
	}
	return nil
}

// GetMetadata returns the record for sourceID, wrapping [ErrNotFound] when
// no row exists.
func (s *PostgresMetadataStore) GetMetadata(ctx context.Context, sourceID string) (TrackMetadata, error) {
	const query = `
		SELECT url, title, runtime, runtime_str
		FROM track_metadata WHERE source_key = $1`

	var meta TrackMetadata
	err := s.db.QueryRow(ctx, query, Key(sourceID)).
		Scan(&meta.URL, &meta.Title, &meta.Runtime, &meta.RuntimeDisplay)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return TrackMetadata{}, fmt.Errorf("cache: metadata for %q: %w", sourceID, ErrNotFound)
		}
		return TrackMetadata{}, fmt.Errorf("cache: query metadata for %q: %w", sourceID, err)
	}
	return meta, nil
}

// PutMetadata upserts the record for sourceID.
func (s *PostgresMetadataStore) PutMetadata(ctx context.Context, sourceID string, meta TrackMetadata) error {
	const query = `
		INSERT INTO track_metadata (source_key, url, title, runtime, runtime_str, updated_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (source_key) DO UPDATE SET
			url = EXCLUDED.url,
			title = EXCLUDED.title,
			runtime = EXCLUDED.runtime,
			runtime_str = EXCLUDED.runtime_str,
			updated_at = now()`

	if _, err := s.db.Exec(ctx, query,
		Key(sourceID), meta.URL, meta.Title, meta.Runtime, meta.RuntimeDisplay,
	); err != nil {
		return fmt.Errorf("cache: put metadata for %q: %w", sourceID, err)
	}
	return nil
}
