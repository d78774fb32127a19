package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var (
	// ErrNotFound is returned when a document has no saved versions.
	ErrNotFound = errors.New("document has no saved versions")
	// ErrConflict is returned when a concurrent save claimed the same version.
	ErrConflict = errors.New("concurrent save claimed the same document version")
)

const uniqueViolation = "23505"

const (
	sqlCreateSchema = `
        CREATE TABLE IF NOT EXISTS document_versions (
            id          UUID PRIMARY KEY,
            document_id TEXT NOT NULL,
            version     INTEGER NOT NULL,
            content     TEXT NOT NULL,
            saved_at    TIMESTAMPTZ NOT NULL,
            UNIQUE (document_id, version)
        );
    `
	sqlInsertVersion = `
        INSERT INTO document_versions (id, document_id, version, content, saved_at)
        SELECT $1, $2, COALESCE(MAX(version), 0) + 1, $3, $4
        FROM document_versions WHERE document_id = $2
        RETURNING version;
    `
	sqlLatestVersion = `
        SELECT id, version, content, saved_at
        FROM document_versions WHERE document_id = $1
        ORDER BY version DESC LIMIT 1;
    `
	sqlHistory = `
        SELECT id, version, saved_at, length(content)
        FROM document_versions WHERE document_id = $1
        ORDER BY version DESC LIMIT $2;
    `
)

// Version is one saved revision of a document.
type Version struct {
	ID         string    `json:"id"`
	DocumentID string    `json:"document_id"`
	Number     int       `json:"version"`
	Content    string    `json:"content,omitempty"`
	Size       int       `json:"size"`
	SavedAt    time.Time `json:"saved_at"`
}

// Store keeps every committed revision of one document in PostgreSQL. It is
// append-only; older versions are never rewritten.
type Store struct {
	pool       DBPool
	documentID string
	log        *zap.Logger
}

// New creates a store for documentID.
func New(pool DBPool, documentID string, logger *zap.Logger) (*Store, error) {
	if documentID == "" {
		return nil, errors.New("document id is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		pool:       pool,
		documentID: documentID,
		log:        logger.Named("store").With(zap.String("document_id", documentID)),
	}, nil
}

// EnsureSchema creates the versions table when it does not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, sqlCreateSchema); err != nil {
		return fmt.Errorf("failed to create document_versions table: %w", err)
	}
	return nil
}

// Save appends content as the next version of the document.
func (s *Store) Save(ctx context.Context, content string) error {
	id := uuid.New().String()
	// Ensure the timestamp is in UTC before insertion to prevent ambiguity.
	savedAt := time.Now().UTC()

	var number int
	err := s.pool.QueryRow(ctx, sqlInsertVersion, id, s.documentID, content, savedAt).Scan(&number)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("failed to save document: %w", ErrConflict)
		}
		return fmt.Errorf("failed to save document: %w", err)
	}

	s.log.Info("Document version saved.", zap.Int("version", number), zap.Int("bytes", len(content)))
	return nil
}

// Latest returns the newest version including its content.
func (s *Store) Latest(ctx context.Context) (*Version, error) {
	v := Version{DocumentID: s.documentID}
	err := s.pool.QueryRow(ctx, sqlLatestVersion, s.documentID).Scan(&v.ID, &v.Number, &v.Content, &v.SavedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load latest version: %w", err)
	}
	v.Size = len(v.Content)
	return &v, nil
}

// History lists up to limit versions, newest first, without their content.
func (s *Store) History(ctx context.Context, limit int) ([]Version, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx, sqlHistory, s.documentID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query version history: %w", err)
	}
	defer rows.Close()

	var versions []Version
	for rows.Next() {
		v := Version{DocumentID: s.documentID}
		if err := rows.Scan(&v.ID, &v.Number, &v.SavedAt, &v.Size); err != nil {
			return nil, fmt.Errorf("failed to scan version row: %w", err)
		}
		versions = append(versions, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating version rows: %w", err)
	}
	return versions, nil
}
