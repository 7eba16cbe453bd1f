package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kiranshivaraju/reelqueue/internal/metrics"
	"github.com/kiranshivaraju/reelqueue/internal/store"
	"github.com/kiranshivaraju/reelqueue/pkg/models"
)

// Recoverer returns jobs stuck in running (their worker died mid-job) to
// pending. It is a maintenance action and never runs inside a dispatcher pass.
type Recoverer struct {
	store      store.Store
	staleAfter time.Duration
	logger     *slog.Logger
}

func NewRecoverer(st store.Store, staleAfter time.Duration, logger *slog.Logger) *Recoverer {
	return &Recoverer{store: st, staleAfter: staleAfter, logger: logger}
}

// RecoverStale requeues every job claimed more than staleAfter ago and still
// running. It returns how many jobs were requeued.
func (r *Recoverer) RecoverStale(ctx context.Context) (int, error) {
	stale, err := r.store.ListStaleJobs(ctx, r.staleAfter)
	if err != nil {
		return 0, fmt.Errorf("list stale jobs: %w", err)
	}

	requeued := 0
	for _, job := range stale {
		ok, err := r.store.RequeueJob(ctx, job.ID, r.staleAfter)
		if err != nil {
			r.logger.Error("requeue failed", "job_id", job.ID, "error", err)
			continue
		}
		if !ok {
			// Finished or cancelled between the listing and the requeue.
			continue
		}
		requeued++
		metrics.RecordTransition(string(job.Kind), string(models.JobStatusPending), metrics.SourceRecovery)
		r.logger.Warn("stuck job requeued",
			"job_id", job.ID,
			"kind", job.Kind,
			"transition", "recovery",
			"attempts", job.Attempts,
			"started_at", job.StartedAt,
		)
	}
	metrics.RecordRecoveries(requeued)
	return requeued, nil
}
