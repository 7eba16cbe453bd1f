package reconciler

import (
	"context"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/reelqueue/internal/store"
)

// StoreSource reads job status straight from the job store, for watchers running
// next to the database.
type StoreSource struct {
	store store.Store
}

func NewStoreSource(st store.Store) *StoreSource {
	return &StoreSource{store: st}
}

func (s *StoreSource) JobStatus(ctx context.Context, id uuid.UUID) (StatusView, error) {
	job, err := s.store.GetJob(ctx, id)
	if err != nil {
		return StatusView{}, err
	}
	v := StatusView{ID: job.ID, Status: job.Status, Output: job.Output}
	if job.Error != nil {
		v.Error = *job.Error
	}
	return v, nil
}

var _ StatusSource = (*StoreSource)(nil)
