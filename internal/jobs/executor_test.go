package jobs_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/reelqueue/internal/jobs"
	"github.com/kiranshivaraju/reelqueue/internal/store"
	"github.com/kiranshivaraju/reelqueue/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okHandler(kind models.Kind) funcHandler {
	return funcHandler{kind: kind, fn: func(context.Context, *models.Job) (json.RawMessage, error) {
		return json.RawMessage(`{"ok":true}`), nil
	}}
}

func TestExecute_SkipsJobThatIsNotRunning(t *testing.T) {
	h := newHarness(t, 5, okHandler(models.KindRoto))
	job := h.submit(t, models.KindRoto, `{}`, time.Now().UTC())

	// Never claimed: still pending.
	h.executor.Execute(context.Background(), job)
	assert.Equal(t, models.JobStatusPending, h.job(t, job.ID).Status)
	assert.Empty(t, h.notifier.Calls())
}

func TestExecute_IsIdempotent(t *testing.T) {
	h := newHarness(t, 5, okHandler(models.KindRoto))
	job := h.submit(t, models.KindRoto, `{}`, time.Now().UTC())
	_, err := h.store.ClaimJob(context.Background(), job.ID)
	require.NoError(t, err)

	h.executor.Execute(context.Background(), job)
	first := h.job(t, job.ID)
	require.Equal(t, models.JobStatusDone, first.Status)

	h.executor.Execute(context.Background(), job)
	second := h.job(t, job.ID)
	assert.Equal(t, *first.CompletedAt, *second.CompletedAt)
	assert.Len(t, h.notifier.Calls(), 1, "no second notification")
}

func TestExecute_LostTerminalWriteIsNoOp(t *testing.T) {
	var h *harness
	handler := funcHandler{kind: models.KindRoto, fn: func(ctx context.Context, job *models.Job) (json.RawMessage, error) {
		// Another actor finishes the job while the handler runs.
		require.NoError(t, h.store.CancelJob(ctx, job.ID, "superseded"))
		return json.RawMessage(`{"ok":true}`), nil
	}}
	h = newHarness(t, 5, handler)
	job := h.submit(t, models.KindRoto, `{}`, time.Now().UTC())
	_, _ = h.store.ClaimJob(context.Background(), job.ID)

	h.executor.Execute(context.Background(), job)

	got := h.job(t, job.ID)
	assert.Equal(t, models.JobStatusFailed, got.Status)
	assert.Equal(t, "superseded", *got.Error)
	assert.Empty(t, h.notifier.Calls())
}

// flakyLoadStore fails the first GetJob call.
type flakyLoadStore struct {
	*store.MemoryStore
	failed atomic.Bool
}

func (s *flakyLoadStore) GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	if s.failed.CompareAndSwap(false, true) {
		return nil, errors.New("connection reset by peer")
	}
	return s.MemoryStore.GetJob(ctx, id)
}

func TestExecute_LoadFailureFailsClaimedJob(t *testing.T) {
	st := &flakyLoadStore{MemoryStore: store.NewMemoryStore()}
	reg, err := jobs.NewRegistry(okHandler(models.KindRoto))
	require.NoError(t, err)
	notifier := &recordingNotifier{}
	executor := jobs.NewExecutor(st, reg, notifier, discardLogger())

	now := time.Now().UTC()
	job := &models.Job{
		ID:        uuid.New(),
		OwnerID:   uuid.New(),
		Kind:      models.KindRoto,
		Status:    models.JobStatusPending,
		Input:     json.RawMessage(`{}`),
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, st.CreateJob(context.Background(), job))
	ok, err := st.ClaimJob(context.Background(), job.ID)
	require.NoError(t, err)
	require.True(t, ok)

	executor.Execute(context.Background(), job)

	got, err := st.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, got.Status, "claimed job must not stay running")
	require.NotNil(t, got.Error)
	assert.Equal(t, "loading job: connection reset by peer", *got.Error)
	assert.Len(t, notifier.Calls(), 1)
}

func TestExecute_ErrorMessageTruncated(t *testing.T) {
	long := make([]byte, 5000)
	for i := range long {
		long[i] = 'x'
	}
	handler := funcHandler{kind: models.KindRoto, fn: func(context.Context, *models.Job) (json.RawMessage, error) {
		return nil, &textError{string(long)}
	}}
	h := newHarness(t, 5, handler)
	job := h.submit(t, models.KindRoto, `{}`, time.Now().UTC())
	_, _ = h.store.ClaimJob(context.Background(), job.ID)

	h.executor.Execute(context.Background(), job)
	assert.Len(t, *h.job(t, job.ID).Error, 2000)
}

type textError struct{ s string }

func (e *textError) Error() string { return e.s }

func TestCancel_StopsRunningHandler(t *testing.T) {
	started := make(chan struct{})
	handler := funcHandler{kind: models.KindRoto, fn: func(ctx context.Context, _ *models.Job) (json.RawMessage, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	h := newHarness(t, 5, handler)
	job := h.submit(t, models.KindRoto, `{}`, time.Now().UTC())
	_, _ = h.store.ClaimJob(context.Background(), job.ID)

	done := make(chan struct{})
	go func() {
		h.executor.Execute(context.Background(), job)
		close(done)
	}()
	<-started

	require.NoError(t, h.executor.Cancel(context.Background(), job.ID, "cancelled by owner"))

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("handler was not cancelled")
	}

	got := h.job(t, job.ID)
	assert.Equal(t, models.JobStatusFailed, got.Status)
	assert.Equal(t, "cancelled by owner", *got.Error)

	calls := h.notifier.Calls()
	require.Len(t, calls, 1, "only the cancellation notifies")
	assert.Equal(t, "Rotoscoping cancelled", calls[0].Title)
}

func TestCancel_PendingJob(t *testing.T) {
	h := newHarness(t, 5, okHandler(models.KindRoto))
	job := h.submit(t, models.KindRoto, `{}`, time.Now().UTC())

	require.NoError(t, h.executor.Cancel(context.Background(), job.ID, ""))
	got := h.job(t, job.ID)
	assert.Equal(t, models.JobStatusFailed, got.Status)
	assert.Equal(t, "cancelled", *got.Error)

	n, err := h.dispatcher.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n, "cancelled job is never claimed")
}

func TestCancel_AlreadyTerminal(t *testing.T) {
	h := newHarness(t, 5, okHandler(models.KindRoto))
	job := h.submit(t, models.KindRoto, `{}`, time.Now().UTC())
	_, err := h.dispatcher.RunOnce(context.Background())
	require.NoError(t, err)

	err = h.executor.Cancel(context.Background(), job.ID, "too late")
	assert.ErrorIs(t, err, store.ErrAlreadyTerminal)
}

func TestExecute_ShutdownLeavesJobRunning(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	handler := funcHandler{kind: models.KindRoto, fn: func(hctx context.Context, _ *models.Job) (json.RawMessage, error) {
		cancel()
		<-hctx.Done()
		return nil, hctx.Err()
	}}
	h := newHarness(t, 5, handler)
	job := h.submit(t, models.KindRoto, `{}`, time.Now().UTC())
	_, _ = h.store.ClaimJob(context.Background(), job.ID)

	h.executor.Execute(ctx, job)

	assert.Equal(t, models.JobStatusRunning, h.job(t, job.ID).Status)
	assert.Empty(t, h.notifier.Calls())
}

// --- Registry ---

func TestRegistry_Validate(t *testing.T) {
	reg, err := jobs.NewRegistry(okHandler(models.KindRoto))
	require.NoError(t, err)

	err = reg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "script-breakdown")
	assert.Contains(t, err.Error(), "audio-clean")
	assert.NotContains(t, err.Error(), "roto,")
}

func TestRegistry_BuiltinHandlersAreExhaustive(t *testing.T) {
	reg, err := jobs.NewRegistry(jobs.NewHandlers(jobs.HandlerDeps{})...)
	require.NoError(t, err)
	assert.NoError(t, reg.Validate())
}

func TestRegistry_Duplicate(t *testing.T) {
	_, err := jobs.NewRegistry(okHandler(models.KindRoto), okHandler(models.KindRoto))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate")
}
