package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/reelqueue/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")

// ErrNotRunning is returned by terminal writes whose job is no longer running:
// already terminal, cancelled, or requeued by stuck-job recovery.
var ErrNotRunning = errors.New("job is not running")

// ErrAlreadyTerminal is returned when cancelling a job that already finished.
var ErrAlreadyTerminal = errors.New("job already in a terminal state")

// Store is the data access interface. All database operations go through here.
//
// Every status change is a single conditional write; callers never read a status
// and then write based on it.
type Store interface {
	Ping(ctx context.Context) error

	CreateJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error)
	// ClaimJob moves a job from pending to running. It reports false when another
	// worker claimed it first or the job is no longer pending.
	ClaimJob(ctx context.Context, id uuid.UUID) (bool, error)
	CompleteJob(ctx context.Context, id uuid.UUID, output json.RawMessage) error
	FailJob(ctx context.Context, id uuid.UUID, message string) error
	CancelJob(ctx context.Context, id uuid.UUID, reason string) error
	// ListPendingJobs returns up to limit pending jobs, oldest first.
	ListPendingJobs(ctx context.Context, limit int) ([]*models.Job, error)
	// ListStaleJobs returns running jobs claimed more than olderThan ago.
	ListStaleJobs(ctx context.Context, olderThan time.Duration) ([]*models.Job, error)
	// RequeueJob resets a job back to pending, but only if it is still running and
	// was claimed more than olderThan ago.
	RequeueJob(ctx context.Context, id uuid.UUID, olderThan time.Duration) (bool, error)

	CreateNotification(ctx context.Context, n *models.Notification) error
	ListNotifications(ctx context.Context, ownerID uuid.UUID, limit int) ([]*models.Notification, error)

	GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
}

const maxNotificationPage = 100

func normalizeLimit(limit, def, max int) int {
	if limit <= 0 {
		return def
	}
	if limit > max {
		return max
	}
	return limit
}
