package cache

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// mockRow implements pgx.Row for testing.
type mockRow struct {
	scanFunc func(dest ...any) error
}

func (r *mockRow) Scan(dest ...any) error { return r.scanFunc(dest...) }

// mockDB implements [DB] with canned responses.
type mockDB struct {
	row      *mockRow
	execErr  error
	lastSQL  string
	lastArgs []any
	execs    int
}

func (db *mockDB) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	db.lastSQL = sql
	db.lastArgs = args
	return db.row
}

func (db *mockDB) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	db.execs++
	db.lastSQL = sql
	db.lastArgs = args
	return pgconn.CommandTag{}, db.execErr
}

func TestPostgresGetMetadata(t *testing.T) {
	t.Parallel()

	db := &mockDB{row: &mockRow{scanFunc: func(dest ...any) error {
		*dest[0].(*string) = "https://example.com/v"
		*dest[1].(*string) = "Title"
		*dest[2].(*int) = 125
		*dest[3].(*string) = "02:05"
		return nil
	}}}
	s := NewPostgresMetadataStore(db)

	got, err := s.GetMetadata(context.Background(), "source-1")
	if err != nil {
		t.Fatalf("GetMetadata: %v", err)
	}
	want := TrackMetadata{URL: "https://example.com/v", Title: "Title", Runtime: 125, RuntimeDisplay: "02:05"}
	if got != want {
		t.Errorf("GetMetadata = %+v, want %+v", got, want)
	}
	// Rows are keyed by the derived cache key, not the raw source ID.
	if len(db.lastArgs) != 1 || db.lastArgs[0] != Key("source-1") {
		t.Errorf("query args = %v, want [%s]", db.lastArgs, Key("source-1"))
	}
}

func TestPostgresGetMetadataNoRows(t *testing.T) {
	t.Parallel()

	db := &mockDB{row: &mockRow{scanFunc: func(...any) error { return pgx.ErrNoRows }}}
	s := NewPostgresMetadataStore(db)

	_, err := s.GetMetadata(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("GetMetadata error = %v, want ErrNotFound", err)
	}
}

func TestPostgresPutMetadata(t *testing.T) {
	t.Parallel()

	db := &mockDB{}
	s := NewPostgresMetadataStore(db)

	meta := TrackMetadata{URL: "u", Title: "t", Runtime: 5, RuntimeDisplay: "00:05"}
	if err := s.PutMetadata(context.Background(), "src", meta); err != nil {
		t.Fatalf("PutMetadata: %v", err)
	}
	if db.execs != 1 {
		t.Fatalf("execs = %d, want 1", db.execs)
	}
	if len(db.lastArgs) != 5 || db.lastArgs[0] != Key("src") {
		t.Errorf("exec args = %v", db.lastArgs)
	}
}

func TestPostgresPutMetadataError(t *testing.T) {
	t.Parallel()

	db := &mockDB{execErr: errors.New("connection refused")}
	s := NewPostgresMetadataStore(db)

	if err := s.PutMetadata(context.Background(), "src", TrackMetadata{}); err == nil {
		t.Error("PutMetadata returned nil error on exec failure")
	}
}

func TestPostgresMigrate(t *testing.T) {
	t.Parallel()

	db := &mockDB{}
	s := NewPostgresMetadataStore(db)
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if db.lastSQL != Schema {
		t.Error("Migrate did not execute the schema DDL")
	}
}
