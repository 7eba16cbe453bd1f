package jobs

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kiranshivaraju/reelqueue/internal/metrics"
	"github.com/kiranshivaraju/reelqueue/internal/store"
	"github.com/kiranshivaraju/reelqueue/pkg/models"
)

const defaultBatchSize = 5

// Dispatcher claims pending jobs oldest first and executes them one at a time.
type Dispatcher struct {
	store     store.Store
	executor  *Executor
	batchSize int
	logger    *slog.Logger
}

func NewDispatcher(st store.Store, executor *Executor, batchSize int, logger *slog.Logger) *Dispatcher {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return &Dispatcher{store: st, executor: executor, batchSize: batchSize, logger: logger}
}

// RunOnce runs one pass over at most batchSize pending jobs and returns how many
// it claimed. Jobs claimed by another worker first are skipped.
func (d *Dispatcher) RunOnce(ctx context.Context) (int, error) {
	pending, err := d.store.ListPendingJobs(ctx, d.batchSize)
	if err != nil {
		metrics.RecordDispatchPass(0, true)
		return 0, fmt.Errorf("list pending jobs: %w", err)
	}

	claimed := 0
	for _, job := range pending {
		if ctx.Err() != nil {
			break
		}
		ok, err := d.store.ClaimJob(ctx, job.ID)
		if err != nil {
			d.logger.Error("claim failed", "job_id", job.ID, "error", err)
			continue
		}
		if !ok {
			metrics.RecordClaimConflict()
			d.logger.Debug("job claimed elsewhere", "job_id", job.ID)
			continue
		}
		claimed++
		metrics.RecordTransition(string(job.Kind), string(models.JobStatusRunning), metrics.SourceWorker)
		d.logger.Info("job claimed", "job_id", job.ID, "kind", job.Kind, "transition", "pending->running")

		d.executor.Execute(ctx, job)
	}

	metrics.RecordDispatchPass(claimed, false)
	return claimed, nil
}
