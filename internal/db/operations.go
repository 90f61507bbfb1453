package db

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
)

var ErrArtifactNotFound = errors.New("artifact not found")

func NewArtifactID(t time.Time) string {
	return ulid.MustNew(ulid.Timestamp(t), rand.Reader).String()
}

// ArtifactStore is the catalog of generated media files.
type ArtifactStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewArtifactStore(conn *sql.DB) *ArtifactStore {
	return &ArtifactStore{db: conn, now: time.Now}
}

// Create inserts a, replacing any row with the same filename. Missing ID and
// CreatedAt are filled in.
func (s *ArtifactStore) Create(ctx context.Context, a *Artifact) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = s.now()
	}
	a.CreatedAt = a.CreatedAt.UTC()
	if a.ID == "" {
		a.ID = NewArtifactID(a.CreatedAt)
	}

	_, err := s.db.ExecContext(ctx, InsertArtifact,
		a.ID, a.JobID, a.Filename, a.Kind, a.Book, a.Chapter, a.Version,
		a.DurationSeconds, a.SizeBytes, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create artifact: %w", err)
	}
	return nil
}

func (s *ArtifactStore) GetByFilename(ctx context.Context, filename string) (*Artifact, error) {
	a, err := scanArtifact(s.db.QueryRowContext(ctx, GetArtifactByFilename, filename))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrArtifactNotFound
		}
		return nil, fmt.Errorf("failed to get artifact: %w", err)
	}
	return a, nil
}

// List returns all artifacts, newest first.
func (s *ArtifactStore) List(ctx context.Context) ([]*Artifact, error) {
	return s.query(ctx, ListArtifacts)
}

func (s *ArtifactStore) ListByJob(ctx context.Context, jobID string) ([]*Artifact, error) {
	return s.query(ctx, ListArtifactsByJob, jobID)
}

func (s *ArtifactStore) ListOlderThan(ctx context.Context, cutoff time.Time) ([]*Artifact, error) {
	return s.query(ctx, ListArtifactsOlderThan, cutoff.UTC())
}

// DeleteByFilename reports whether a row was removed.
func (s *ArtifactStore) DeleteByFilename(ctx context.Context, filename string) (bool, error) {
	result, err := s.db.ExecContext(ctx, DeleteArtifactByFilename, filename)
	if err != nil {
		return false, fmt.Errorf("failed to delete artifact: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return affected > 0, nil
}

func (s *ArtifactStore) Stats(ctx context.Context) (*ArtifactStats, error) {
	st := &ArtifactStats{}
	err := s.db.QueryRowContext(ctx, ArtifactStatsQuery).Scan(
		&st.TotalFiles, &st.AudioFiles, &st.VideoFiles, &st.TotalSize, &st.TotalDurationSeconds)
	if err != nil {
		return nil, fmt.Errorf("failed to query artifact stats: %w", err)
	}
	if st.TotalFiles == 0 {
		return st, nil
	}

	var oldest, newest time.Time
	if err := s.db.QueryRowContext(ctx, ArtifactOldestQuery).Scan(&oldest); err != nil {
		return nil, fmt.Errorf("failed to query oldest artifact: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, ArtifactNewestQuery).Scan(&newest); err != nil {
		return nil, fmt.Errorf("failed to query newest artifact: %w", err)
	}
	st.OldestFile = &oldest
	st.NewestFile = &newest
	return st, nil
}

func (s *ArtifactStore) query(ctx context.Context, q string, args ...any) ([]*Artifact, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list artifacts: %w", err)
	}
	defer rows.Close()

	var artifacts []*Artifact
	for rows.Next() {
		a, err := scanArtifact(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan artifact: %w", err)
		}
		artifacts = append(artifacts, a)
	}
	return artifacts, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanArtifact(row scanner) (*Artifact, error) {
	a := &Artifact{}
	err := row.Scan(&a.ID, &a.JobID, &a.Filename, &a.Kind, &a.Book, &a.Chapter, &a.Version,
		&a.DurationSeconds, &a.SizeBytes, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	return a, nil
}
