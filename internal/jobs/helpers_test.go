package jobs_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/reelqueue/internal/artifact"
	"github.com/kiranshivaraju/reelqueue/internal/inference"
	"github.com/kiranshivaraju/reelqueue/internal/jobs"
	"github.com/kiranshivaraju/reelqueue/internal/store"
	"github.com/kiranshivaraju/reelqueue/pkg/models"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type notifyCall struct {
	OwnerID uuid.UUID
	JobID   uuid.UUID
	Title   string
	Message string
}

type recordingNotifier struct {
	mu    sync.Mutex
	calls []notifyCall
}

func (r *recordingNotifier) Notify(_ context.Context, ownerID, jobID uuid.UUID, title, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, notifyCall{OwnerID: ownerID, JobID: jobID, Title: title, Message: message})
	return nil
}

func (r *recordingNotifier) Calls() []notifyCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notifyCall(nil), r.calls...)
}

// funcHandler adapts a function to jobs.Handler.
type funcHandler struct {
	kind models.Kind
	fn   func(ctx context.Context, job *models.Job) (json.RawMessage, error)
}

func (h funcHandler) Kind() models.Kind { return h.kind }
func (h funcHandler) Handle(ctx context.Context, job *models.Job) (json.RawMessage, error) {
	return h.fn(ctx, job)
}

type harness struct {
	store      *store.MemoryStore
	artifacts  *artifact.MemoryStore
	notifier   *recordingNotifier
	executor   *jobs.Executor
	dispatcher *jobs.Dispatcher
}

func newHarness(t *testing.T, batchSize int, handlers ...jobs.Handler) *harness {
	t.Helper()
	reg, err := jobs.NewRegistry(handlers...)
	require.NoError(t, err)

	h := &harness{
		store:     store.NewMemoryStore(),
		artifacts: artifact.NewMemoryStore(),
		notifier:  &recordingNotifier{},
	}
	h.executor = jobs.NewExecutor(h.store, reg, h.notifier, discardLogger())
	h.dispatcher = jobs.NewDispatcher(h.store, h.executor, batchSize, discardLogger())
	return h
}

// newBuiltinHarness wires the real handlers with every kind routed to provider.
func newBuiltinHarness(t *testing.T, provider models.InferenceProvider, maxPolls int) *harness {
	t.Helper()
	routes := inference.Routes{}
	for _, k := range models.AllKinds() {
		routes[k] = inference.Route{Provider: provider, Model: "test/model"}
	}
	arts := artifact.NewMemoryStore()
	handlers := jobs.NewHandlers(jobs.HandlerDeps{
		Routes:       routes,
		Fetcher:      artifact.NewFetcher(5*time.Second, 1<<20),
		Artifacts:    arts,
		PollInterval: time.Millisecond,
		MaxPolls:     maxPolls,
	})
	h := newHarness(t, 5, handlers...)
	h.artifacts = arts
	return h
}

func (h *harness) submit(t *testing.T, kind models.Kind, input string, createdAt time.Time) *models.Job {
	t.Helper()
	job := &models.Job{
		ID:        uuid.New(),
		OwnerID:   uuid.New(),
		Kind:      kind,
		Status:    models.JobStatusPending,
		Input:     json.RawMessage(input),
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
	require.NoError(t, h.store.CreateJob(context.Background(), job))
	return job
}

func (h *harness) job(t *testing.T, id uuid.UUID) *models.Job {
	t.Helper()
	j, err := h.store.GetJob(context.Background(), id)
	require.NoError(t, err)
	return j
}
