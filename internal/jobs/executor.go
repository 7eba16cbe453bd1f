package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/reelqueue/internal/metrics"
	"github.com/kiranshivaraju/reelqueue/internal/notify"
	"github.com/kiranshivaraju/reelqueue/internal/store"
	"github.com/kiranshivaraju/reelqueue/pkg/models"
)

const (
	maxErrorBytes      = 2000
	unknownKindMessage = "unknown job kind"
)

// Executor runs one claimed job to a terminal state. It never returns an error:
// every path ends in a terminal write or a logged no-op.
type Executor struct {
	store    store.Store
	registry *Registry
	notifier notify.Notifier
	logger   *slog.Logger

	mu      sync.Mutex
	running map[uuid.UUID]context.CancelFunc
}

func NewExecutor(st store.Store, registry *Registry, notifier notify.Notifier, logger *slog.Logger) *Executor {
	return &Executor{
		store:    st,
		registry: registry,
		notifier: notifier,
		logger:   logger,
		running:  make(map[uuid.UUID]context.CancelFunc),
	}
}

// Execute runs the handler for job. The job must already be claimed; if the
// stored row is not running (finished, cancelled or requeued) nothing happens.
func (e *Executor) Execute(ctx context.Context, job *models.Job) {
	log := e.logger.With("job_id", job.ID, "kind", job.Kind)

	current, err := e.store.GetJob(ctx, job.ID)
	if err != nil {
		// Best effort: if the store is unreachable this write fails too and
		// stuck-job recovery requeues the claim later.
		log.Error("failed to load claimed job", "error", err)
		e.finish(ctx, log, job, nil, fmt.Errorf("loading job: %w", err), nil)
		return
	}
	if current.Status != models.JobStatusRunning {
		log.Info("job not running, skipping", "status", current.Status)
		return
	}

	h, ok := e.registry.Get(current.Kind)
	if !ok {
		e.finish(ctx, log, current, nil, errors.New(unknownKindMessage), nil)
		return
	}

	jobCtx, cancel := context.WithCancel(ctx)
	e.track(current.ID, cancel)
	defer func() {
		e.untrack(current.ID)
		cancel()
	}()

	log.Info("job started", "attempt", current.Attempts, "owner_id", current.OwnerID)
	output, err := runGuarded(jobCtx, h, current)

	if err != nil && ctx.Err() != nil {
		// The worker is stopping. Leave the job running; stuck-job recovery requeues it.
		log.Warn("worker stopping, job left running", "error", err)
		return
	}
	e.finish(ctx, log, current, output, err, h)
}

// runGuarded converts a handler panic into an error so it fails only this job.
func runGuarded(ctx context.Context, h Handler, job *models.Job) (output json.RawMessage, err error) {
	defer func() {
		if r := recover(); r != nil {
			output = nil
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return h.Handle(ctx, job)
}

func (e *Executor) finish(ctx context.Context, log *slog.Logger, job *models.Job, output json.RawMessage, handlerErr error, h Handler) {
	status := models.JobStatusDone
	var writeErr error
	if handlerErr != nil {
		status = models.JobStatusFailed
		writeErr = e.store.FailJob(ctx, job.ID, truncateString(handlerErr.Error(), maxErrorBytes))
	} else {
		writeErr = e.store.CompleteJob(ctx, job.ID, output)
	}

	if errors.Is(writeErr, store.ErrNotRunning) {
		log.Info("terminal write skipped, job no longer running", "status", status)
		return
	}
	if writeErr != nil {
		log.Error("terminal write failed", "status", status, "error", writeErr)
		return
	}

	metrics.RecordTransition(string(job.Kind), string(status), metrics.SourceWorker)
	if handlerErr != nil {
		log.Warn("job failed", "transition", "running->failed", "error", handlerErr)
	} else {
		log.Info("job done", "transition", "running->done")
	}

	title, message := describe(job, status, output, handlerErr, h)
	if err := e.notifier.Notify(ctx, job.OwnerID, job.ID, title, message); err != nil {
		log.Warn("notification failed", "owner_id", job.OwnerID, "error", err)
	}
}

// Cancel fails a pending or running job with reason and stops its handler if it
// runs in this process.
func (e *Executor) Cancel(ctx context.Context, id uuid.UUID, reason string) error {
	if reason == "" {
		reason = "cancelled"
	}
	if err := e.store.CancelJob(ctx, id, reason); err != nil {
		return err
	}

	e.mu.Lock()
	cancel, local := e.running[id]
	e.mu.Unlock()
	if local {
		cancel()
	}

	job, err := e.store.GetJob(ctx, id)
	if err != nil {
		return fmt.Errorf("load cancelled job: %w", err)
	}
	metrics.RecordTransition(string(job.Kind), string(models.JobStatusFailed), metrics.SourceCancel)
	e.logger.Info("job cancelled", "job_id", id, "kind", job.Kind, "transition", "cancel", "reason", reason)

	if err := e.notifier.Notify(ctx, job.OwnerID, job.ID, kindTitle(job.Kind)+" cancelled", reason); err != nil {
		e.logger.Warn("notification failed", "job_id", id, "owner_id", job.OwnerID, "error", err)
	}
	return nil
}

func (e *Executor) track(id uuid.UUID, cancel context.CancelFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.running[id] = cancel
}

func (e *Executor) untrack(id uuid.UUID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.running, id)
}

func describe(job *models.Job, status models.Status, output json.RawMessage, handlerErr error, h Handler) (string, string) {
	title := kindTitle(job.Kind)
	if status == models.JobStatusFailed {
		return title + " failed", truncateString(handlerErr.Error(), maxErrorBytes)
	}
	if d, ok := h.(Describer); ok {
		if msg := d.Describe(output); msg != "" {
			return title + " complete", msg
		}
	}
	return title + " complete", fmt.Sprintf("Job %s finished.", job.ID)
}

func kindTitle(kind models.Kind) string {
	switch kind {
	case models.KindScriptBreakdown:
		return "Script breakdown"
	case models.KindRoto:
		return "Rotoscoping"
	case models.KindColorGrade:
		return "Color grade"
	case models.KindMeshGenerate:
		return "Mesh generation"
	case models.KindAudioClean:
		return "Audio cleanup"
	}
	if kind == "" {
		return "Job"
	}
	s := strings.ReplaceAll(string(kind), "-", " ")
	return strings.ToUpper(s[:1]) + s[1:]
}

// truncateString truncates s to maxBytes without splitting UTF-8 runes.
func truncateString(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	for maxBytes > 0 && !utf8.RuneStart(s[maxBytes]) {
		maxBytes--
	}
	return s[:maxBytes]
}
