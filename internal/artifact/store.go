package artifact

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/reelqueue/pkg/models"
)

var ErrNotFound = errors.New("artifact not found")

// Store persists job artifacts.
type Store interface {
	Put(ctx context.Context, jobID uuid.UUID, name, contentType string, data []byte) (*models.Artifact, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Artifact, error)
}

// PostgresStore keeps artifacts as bytea rows next to the jobs table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Put(ctx context.Context, jobID uuid.UUID, name, contentType string, data []byte) (*models.Artifact, error) {
	a := newArtifact(jobID, name, contentType, data)
	_, err := s.pool.Exec(ctx,
		`INSERT INTO artifacts (id, job_id, name, content_type, size_bytes, data, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		a.ID, a.JobID, a.Name, a.ContentType, a.SizeBytes, a.Data, a.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert artifact: %w", err)
	}
	return a, nil
}

func (s *PostgresStore) Get(ctx context.Context, id uuid.UUID) (*models.Artifact, error) {
	var a models.Artifact
	err := s.pool.QueryRow(ctx,
		`SELECT id, job_id, name, content_type, size_bytes, data, created_at FROM artifacts WHERE id = $1`, id).
		Scan(&a.ID, &a.JobID, &a.Name, &a.ContentType, &a.SizeBytes, &a.Data, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get artifact: %w", err)
	}
	return &a, nil
}

// MemoryStore keeps artifacts in process memory.
type MemoryStore struct {
	mu        sync.Mutex
	artifacts map[uuid.UUID]*models.Artifact
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{artifacts: make(map[uuid.UUID]*models.Artifact)}
}

func (s *MemoryStore) Put(_ context.Context, jobID uuid.UUID, name, contentType string, data []byte) (*models.Artifact, error) {
	a := newArtifact(jobID, name, contentType, append([]byte(nil), data...))
	s.mu.Lock()
	defer s.mu.Unlock()
	s.artifacts[a.ID] = a
	c := *a
	return &c, nil
}

func (s *MemoryStore) Get(_ context.Context, id uuid.UUID) (*models.Artifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.artifacts[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *a
	c.Data = append([]byte(nil), a.Data...)
	return &c, nil
}

// Len reports how many artifacts are stored.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.artifacts)
}

func newArtifact(jobID uuid.UUID, name, contentType string, data []byte) *models.Artifact {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return &models.Artifact{
		ID:          uuid.New(),
		JobID:       jobID,
		Name:        name,
		ContentType: contentType,
		SizeBytes:   int64(len(data)),
		Data:        data,
		CreatedAt:   time.Now().UTC(),
	}
}

var (
	_ Store = (*PostgresStore)(nil)
	_ Store = (*MemoryStore)(nil)
)
