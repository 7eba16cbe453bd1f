package store

import (
	"context"
	"encoding/json"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/reelqueue/pkg/models"
)

// MemoryStore implements Store in process memory. It honours the same
// conditional-write contract as PostgresStore and backs unit tests and the
// memory database driver.
type MemoryStore struct {
	mu            sync.Mutex
	now           func() time.Time
	jobs          map[uuid.UUID]*models.Job
	notifications []*models.Notification
	keys          map[uuid.UUID]*models.APIKey
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithClock replaces time.Now, letting tests age running jobs.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) { s.now = now }
}

func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		now:  func() time.Time { return time.Now().UTC() },
		jobs: make(map[uuid.UUID]*models.Job),
		keys: make(map[uuid.UUID]*models.APIKey),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStore) Ping(_ context.Context) error { return nil }

func copyJob(j *models.Job) *models.Job {
	c := *j
	if j.Input != nil {
		c.Input = append(json.RawMessage(nil), j.Input...)
	}
	if j.Output != nil {
		c.Output = append(json.RawMessage(nil), j.Output...)
	}
	if j.Error != nil {
		e := *j.Error
		c.Error = &e
	}
	if j.ScopeID != nil {
		id := *j.ScopeID
		c.ScopeID = &id
	}
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

func (s *MemoryStore) CreateJob(_ context.Context, job *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[job.ID]; ok {
		return ErrDuplicateKey
	}
	c := copyJob(job)
	if len(c.Input) == 0 {
		c.Input = json.RawMessage(`{}`)
	}
	if err := c.Validate(); err != nil {
		return err
	}
	s.jobs[job.ID] = c
	return nil
}

func (s *MemoryStore) GetJob(_ context.Context, id uuid.UUID) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyJob(j), nil
}

func (s *MemoryStore) ClaimJob(_ context.Context, id uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok || !models.CanTransition(j.Status, models.JobStatusRunning) {
		return false, nil
	}
	now := s.now()
	j.Status = models.JobStatusRunning
	j.StartedAt = &now
	j.Attempts++
	j.UpdatedAt = now
	return true, nil
}

// finish moves a job from one of the allowed statuses to the terminal status
// to. The change is applied to a copy and committed only if the transition is
// legal and the result is coherent.
func (s *MemoryStore) finish(id uuid.UUID, allowed []models.Status, to models.Status, conflict error, apply func(*models.Job)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if !slices.Contains(allowed, j.Status) || !models.CanTransition(j.Status, to) {
		return conflict
	}
	now := s.now()
	next := copyJob(j)
	next.Status = to
	apply(next)
	next.CompletedAt = &now
	next.UpdatedAt = now
	if err := next.Validate(); err != nil {
		return err
	}
	s.jobs[id] = next
	return nil
}

func (s *MemoryStore) CompleteJob(_ context.Context, id uuid.UUID, output json.RawMessage) error {
	if len(output) == 0 {
		output = json.RawMessage(`{}`)
	}
	out := append(json.RawMessage(nil), output...)
	return s.finish(id, []models.Status{models.JobStatusRunning}, models.JobStatusDone, ErrNotRunning, func(j *models.Job) {
		j.Output = out
	})
}

func (s *MemoryStore) FailJob(_ context.Context, id uuid.UUID, message string) error {
	return s.finish(id, []models.Status{models.JobStatusRunning}, models.JobStatusFailed, ErrNotRunning, func(j *models.Job) {
		j.Error = &message
	})
}

func (s *MemoryStore) CancelJob(_ context.Context, id uuid.UUID, reason string) error {
	allowed := []models.Status{models.JobStatusPending, models.JobStatusRunning}
	return s.finish(id, allowed, models.JobStatusFailed, ErrAlreadyTerminal, func(j *models.Job) {
		j.Error = &reason
	})
}

func (s *MemoryStore) ListPendingJobs(_ context.Context, limit int) ([]*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var pending []*models.Job
	for _, j := range s.jobs {
		if j.Status == models.JobStatusPending {
			pending = append(pending, copyJob(j))
		}
	}
	sort.Slice(pending, func(a, b int) bool {
		if !pending[a].CreatedAt.Equal(pending[b].CreatedAt) {
			return pending[a].CreatedAt.Before(pending[b].CreatedAt)
		}
		return pending[a].ID.String() < pending[b].ID.String()
	})

	limit = normalizeLimit(limit, 5, 1000)
	if len(pending) > limit {
		pending = pending[:limit]
	}
	return pending, nil
}

func (s *MemoryStore) isStale(j *models.Job, olderThan time.Duration) bool {
	return j.Status == models.JobStatusRunning && j.StartedAt != nil &&
		j.StartedAt.Before(s.now().Add(-olderThan))
}

func (s *MemoryStore) ListStaleJobs(_ context.Context, olderThan time.Duration) ([]*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stale []*models.Job
	for _, j := range s.jobs {
		if s.isStale(j, olderThan) {
			stale = append(stale, copyJob(j))
		}
	}
	sort.Slice(stale, func(a, b int) bool {
		return stale[a].StartedAt.Before(*stale[b].StartedAt)
	})
	return stale, nil
}

func (s *MemoryStore) RequeueJob(_ context.Context, id uuid.UUID, olderThan time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok || !s.isStale(j, olderThan) {
		return false, nil
	}
	j.Status = models.JobStatusPending
	j.StartedAt = nil
	j.UpdatedAt = s.now()
	return true, nil
}

func (s *MemoryStore) CreateNotification(_ context.Context, n *models.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := *n
	s.notifications = append(s.notifications, &c)
	return nil
}

func (s *MemoryStore) ListNotifications(_ context.Context, ownerID uuid.UUID, limit int) ([]*models.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	limit = normalizeLimit(limit, 20, maxNotificationPage)
	var out []*models.Notification
	for i := len(s.notifications) - 1; i >= 0 && len(out) < limit; i-- {
		if s.notifications[i].OwnerID == ownerID {
			c := *s.notifications[i]
			out = append(out, &c)
		}
	}
	return out, nil
}

func (s *MemoryStore) GetAPIKeyByPrefix(_ context.Context, prefix string) ([]*models.APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*models.APIKey
	for _, k := range s.keys {
		if k.KeyPrefix == prefix && k.DeletedAt == nil {
			c := *k
			out = append(out, &c)
		}
	}
	return out, nil
}

func (s *MemoryStore) UpdateAPIKeyLastUsed(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if k, ok := s.keys[id]; ok {
		now := s.now()
		k.LastUsedAt = &now
		k.UpdatedAt = now
	}
	return nil
}

func (s *MemoryStore) CreateAPIKey(_ context.Context, key *models.APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, k := range s.keys {
		if k.OwnerID == key.OwnerID && k.Name == key.Name && k.DeletedAt == nil {
			return ErrDuplicateKey
		}
	}
	c := *key
	s.keys[key.ID] = &c
	return nil
}

var _ Store = (*MemoryStore)(nil)
