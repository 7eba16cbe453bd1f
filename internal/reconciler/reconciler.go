package reconciler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/reelqueue/internal/metrics"
	"github.com/kiranshivaraju/reelqueue/pkg/models"
)

const (
	defaultInterval = 3 * time.Second
	defaultWindow   = 15 * time.Minute
)

// StatusView is the read-only slice of a job the reconciler watches.
type StatusView struct {
	ID     uuid.UUID       `json:"id"`
	Status models.Status   `json:"status"`
	Output json.RawMessage `json:"output,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// StatusSource reads the current status of a job.
type StatusSource interface {
	JobStatus(ctx context.Context, id uuid.UUID) (StatusView, error)
}

type EventType string

const (
	EventSucceeded EventType = "succeeded"
	EventFailed    EventType = "failed"
	// EventGaveUp means the watch window ran out before the job finished. The
	// outcome is unknown, not a failure.
	EventGaveUp EventType = "gave_up"
)

// Event is the single outcome of one watch.
type Event struct {
	JobID   uuid.UUID       `json:"job_id"`
	Type    EventType       `json:"type"`
	Output  json.RawMessage `json:"output,omitempty"`
	Error   string          `json:"error,omitempty"`
	Elapsed time.Duration   `json:"elapsed"`
}

// Reconciler watches jobs until they reach a terminal state. It only reads job
// state, so any number of reconcilers may watch the same job.
type Reconciler struct {
	source   StatusSource
	state    WatchState
	onEvent  func(Event)
	interval time.Duration
	window   time.Duration
	now      func() time.Time
	logger   *slog.Logger
}

type Option func(*Reconciler)

func WithInterval(d time.Duration) Option {
	return func(r *Reconciler) {
		if d > 0 {
			r.interval = d
		}
	}
}

func WithWindow(d time.Duration) Option {
	return func(r *Reconciler) {
		if d > 0 {
			r.window = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) { r.now = now }
}

// OnEvent sets the sink that receives each watch's outcome.
func OnEvent(fn func(Event)) Option {
	return func(r *Reconciler) { r.onEvent = fn }
}

func New(source StatusSource, state WatchState, logger *slog.Logger, opts ...Option) *Reconciler {
	r := &Reconciler{
		source:   source,
		state:    state,
		interval: defaultInterval,
		window:   defaultWindow,
		now:      time.Now,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Watch persists the watch for jobID and blocks until the job finishes, the
// window runs out, or ctx is cancelled. A watch already persisted for jobID
// keeps its original start time. On cancellation the persisted entry is kept so
// a later Resume can pick it up.
func (r *Reconciler) Watch(ctx context.Context, jobID uuid.UUID) (Event, error) {
	entry, err := r.Track(ctx, jobID)
	if err != nil {
		return Event{}, err
	}
	return r.watch(ctx, entry)
}

// Track persists a watch for jobID without running it, for a later Resume. An
// existing entry is returned unchanged.
func (r *Reconciler) Track(ctx context.Context, jobID uuid.UUID) (Entry, error) {
	entry, ok, err := r.state.Load(ctx, jobID)
	if err != nil {
		return Entry{}, fmt.Errorf("loading watch state: %w", err)
	}
	if ok {
		return entry, nil
	}
	entry = Entry{JobID: jobID, StartTime: r.now().UTC()}
	if err := r.state.Save(ctx, entry); err != nil {
		return Entry{}, fmt.Errorf("saving watch state: %w", err)
	}
	return entry, nil
}

// Resume watches every persisted entry concurrently, each measured from its
// original start time, and returns once all of them have finished.
func (r *Reconciler) Resume(ctx context.Context) error {
	entries, err := r.state.List(ctx)
	if err != nil {
		return fmt.Errorf("listing watch state: %w", err)
	}
	if len(entries) == 0 {
		return nil
	}
	r.logger.Info("resuming watches", "count", len(entries))

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, e := range entries {
		wg.Add(1)
		go func(e Entry) {
			defer wg.Done()
			if _, err := r.watch(ctx, e); err != nil && !errors.Is(err, context.Canceled) {
				mu.Lock()
				errs = append(errs, fmt.Errorf("job %s: %w", e.JobID, err))
				mu.Unlock()
			}
		}(e)
	}
	wg.Wait()
	return errors.Join(errs...)
}

func (r *Reconciler) watch(ctx context.Context, entry Entry) (Event, error) {
	log := r.logger.With("job_id", entry.JobID)

	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return Event{}, ctx.Err()
		case <-timer.C:
		}

		elapsed := r.now().Sub(entry.StartTime)
		view, err := r.source.JobStatus(ctx, entry.JobID)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return Event{}, ctx.Err()
			}
			log.Warn("status check failed", "error", err)
		case view.Status == models.JobStatusDone:
			return r.emit(ctx, Event{JobID: entry.JobID, Type: EventSucceeded, Output: view.Output, Elapsed: elapsed}), nil
		case view.Status == models.JobStatusFailed:
			return r.emit(ctx, Event{JobID: entry.JobID, Type: EventFailed, Error: view.Error, Elapsed: elapsed}), nil
		}

		if elapsed > r.window {
			log.Warn("stopped watching: job did not finish within the watch window",
				"window", r.window, "last_status", view.Status)
			return r.emit(ctx, Event{JobID: entry.JobID, Type: EventGaveUp, Elapsed: elapsed}), nil
		}
		timer.Reset(r.interval)
	}
}

func (r *Reconciler) emit(ctx context.Context, ev Event) Event {
	if err := r.state.Delete(context.WithoutCancel(ctx), ev.JobID); err != nil {
		r.logger.Error("clearing watch state", "job_id", ev.JobID, "error", err)
	}
	metrics.RecordReconcilerOutcome(string(ev.Type))
	r.logger.Info("watch finished", "job_id", ev.JobID, "outcome", ev.Type, "elapsed", ev.Elapsed)
	if r.onEvent != nil {
		r.onEvent(ev)
	}
	return ev
}
