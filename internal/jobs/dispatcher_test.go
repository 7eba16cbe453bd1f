package jobs_test

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/reelqueue/internal/inference"
	"github.com/kiranshivaraju/reelqueue/internal/inference/mock"
	"github.com/kiranshivaraju/reelqueue/internal/jobs"
	"github.com/kiranshivaraju/reelqueue/internal/store"
	"github.com/kiranshivaraju/reelqueue/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const script = `INT. DINER - NIGHT
JO slides a photo across the table.

EXT. PARKING LOT - CONTINUOUS
Rain. Headlights.`

func TestScriptBreakdown_EndToEnd(t *testing.T) {
	h := newBuiltinHarness(t, mock.NewMockProvider(), 3)
	input, _ := json.Marshal(map[string]string{"text": script})
	job := h.submit(t, models.KindScriptBreakdown, string(input), time.Now().UTC())

	n, err := h.dispatcher.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got := h.job(t, job.ID)
	assert.Equal(t, models.JobStatusDone, got.Status)
	assert.NotNil(t, got.CompletedAt)
	assert.Nil(t, got.Error)
	require.NoError(t, got.Validate())

	var out struct {
		Scenes []jobs.Scene `json:"scenes"`
	}
	require.NoError(t, json.Unmarshal(got.Output, &out))
	require.Len(t, out.Scenes, 2)
	assert.Equal(t, "INT. DINER - NIGHT", out.Scenes[0].Heading)
	assert.Equal(t, 2, out.Scenes[1].Number)
	assert.NotNil(t, out.Scenes[0].Props)

	calls := h.notifier.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, job.OwnerID, calls[0].OwnerID)
	assert.Equal(t, job.ID, calls[0].JobID)
	assert.Equal(t, "Script breakdown complete", calls[0].Title)
	assert.Equal(t, "2 scenes found", calls[0].Message)
}

func TestScriptBreakdown_EmptySceneListFails(t *testing.T) {
	h := newBuiltinHarness(t, mock.NewSucceedingProvider(json.RawMessage(`{"scenes":[]}`)), 3)
	job := h.submit(t, models.KindScriptBreakdown, `{"text":"FADE IN."}`, time.Now().UTC())

	_, err := h.dispatcher.RunOnce(context.Background())
	require.NoError(t, err)

	got := h.job(t, job.ID)
	assert.Equal(t, models.JobStatusFailed, got.Status)
	assert.Contains(t, *got.Error, "breakdown contains no scenes")
}

func TestScriptBreakdown_InvalidInput(t *testing.T) {
	h := newBuiltinHarness(t, mock.NewMockProvider(), 3)
	job := h.submit(t, models.KindScriptBreakdown, `{"text":"   "}`, time.Now().UTC())

	_, err := h.dispatcher.RunOnce(context.Background())
	require.NoError(t, err)

	got := h.job(t, job.ID)
	assert.Equal(t, models.JobStatusFailed, got.Status)
	assert.Equal(t, "invalid input: text is required", *got.Error)
}

func TestDispatcher_ProviderErrorFailsJob(t *testing.T) {
	providerErr := fmt.Errorf("%w: replicate returned 503: model is booting", inference.ErrProviderUnavailable)
	h := newBuiltinHarness(t, mock.NewFailingProvider(providerErr), 3)
	job := h.submit(t, models.KindScriptBreakdown, `{"text":"INT. ROOM - DAY"}`, time.Now().UTC())

	n, err := h.dispatcher.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got := h.job(t, job.ID)
	assert.Equal(t, models.JobStatusFailed, got.Status)
	require.NotNil(t, got.Error)
	assert.Equal(t, providerErr.Error(), *got.Error)
	assert.Nil(t, got.Output)
	assert.NotNil(t, got.CompletedAt)

	calls := h.notifier.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "Script breakdown failed", calls[0].Title)
	assert.Equal(t, job.OwnerID, calls[0].OwnerID)
}

func TestDispatcher_ProviderTimeoutFailsJob(t *testing.T) {
	provider := mock.NewNeverFinishingProvider()
	h := newBuiltinHarness(t, provider, 4)
	job := h.submit(t, models.KindRoto, `{"asset_url":"https://assets.example/shot.mp4"}`, time.Now().UTC())

	_, err := h.dispatcher.RunOnce(context.Background())
	require.NoError(t, err)

	got := h.job(t, job.ID)
	assert.Equal(t, models.JobStatusFailed, got.Status)
	assert.Equal(t, "timeout: provider did not finish after 4 polls", *got.Error)
	assert.Equal(t, int64(4), provider.PollCalls.Load())
	assert.Len(t, h.notifier.Calls(), 1)
}

func TestDispatcher_FIFOWithBatchOfOne(t *testing.T) {
	var order []uuid.UUID
	handler := funcHandler{kind: models.KindRoto, fn: func(_ context.Context, job *models.Job) (json.RawMessage, error) {
		order = append(order, job.ID)
		return json.RawMessage(`{}`), nil
	}}
	h := newHarness(t, 1, handler)

	base := time.Now().UTC()
	second := h.submit(t, models.KindRoto, `{}`, base.Add(2*time.Second))
	first := h.submit(t, models.KindRoto, `{}`, base.Add(1*time.Second))
	third := h.submit(t, models.KindRoto, `{}`, base.Add(3*time.Second))

	for i := 0; i < 3; i++ {
		n, err := h.dispatcher.RunOnce(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	}
	assert.Equal(t, []uuid.UUID{first.ID, second.ID, third.ID}, order)

	n, err := h.dispatcher.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestDispatcher_UnknownKindFails(t *testing.T) {
	h := newHarness(t, 5)
	job := h.submit(t, models.Kind("hologram"), `{}`, time.Now().UTC())

	n, err := h.dispatcher.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got := h.job(t, job.ID)
	assert.Equal(t, models.JobStatusFailed, got.Status)
	assert.Equal(t, "unknown job kind", *got.Error)
	assert.Len(t, h.notifier.Calls(), 1)
}

func TestDispatcher_PanicFailsOnlyThatJob(t *testing.T) {
	panicky := funcHandler{kind: models.KindMeshGenerate, fn: func(context.Context, *models.Job) (json.RawMessage, error) {
		panic("nil mesh")
	}}
	fine := funcHandler{kind: models.KindAudioClean, fn: func(context.Context, *models.Job) (json.RawMessage, error) {
		return json.RawMessage(`{"ok":true}`), nil
	}}
	h := newHarness(t, 5, panicky, fine)

	base := time.Now().UTC()
	bad := h.submit(t, models.KindMeshGenerate, `{}`, base)
	good := h.submit(t, models.KindAudioClean, `{}`, base.Add(time.Second))

	n, err := h.dispatcher.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	gotBad := h.job(t, bad.ID)
	assert.Equal(t, models.JobStatusFailed, gotBad.Status)
	assert.Equal(t, "panic: nil mesh", *gotBad.Error)

	gotGood := h.job(t, good.ID)
	assert.Equal(t, models.JobStatusDone, gotGood.Status)
}

func TestDispatcher_ConcurrentWorkersRunEachJobOnce(t *testing.T) {
	var mu sync.Mutex
	runs := make(map[uuid.UUID]int)
	handler := funcHandler{kind: models.KindColorGrade, fn: func(_ context.Context, job *models.Job) (json.RawMessage, error) {
		mu.Lock()
		runs[job.ID]++
		mu.Unlock()
		time.Sleep(time.Millisecond)
		return json.RawMessage(`{}`), nil
	}}
	h := newHarness(t, 20, handler)
	other := jobs.NewDispatcher(h.store, h.executor, 20, discardLogger())

	base := time.Now().UTC()
	for i := 0; i < 10; i++ {
		h.submit(t, models.KindColorGrade, `{}`, base.Add(time.Duration(i)*time.Millisecond))
	}

	var wg sync.WaitGroup
	var total int
	var totalMu sync.Mutex
	for _, d := range []*jobs.Dispatcher{h.dispatcher, other} {
		wg.Add(1)
		go func(d *jobs.Dispatcher) {
			defer wg.Done()
			n, err := d.RunOnce(context.Background())
			assert.NoError(t, err)
			totalMu.Lock()
			total += n
			totalMu.Unlock()
		}(d)
	}
	wg.Wait()

	assert.Equal(t, 10, total)
	assert.Len(t, runs, 10)
	for id, n := range runs {
		assert.Equal(t, 1, n, "job %s ran more than once", id)
	}
	assert.Len(t, h.notifier.Calls(), 10)
}

type failingListStore struct {
	*store.MemoryStore
}

func (failingListStore) ListPendingJobs(context.Context, int) ([]*models.Job, error) {
	return nil, fmt.Errorf("connection reset")
}

func TestDispatcher_ListErrorReturned(t *testing.T) {
	h := newHarness(t, 5)
	d := jobs.NewDispatcher(failingListStore{h.store}, h.executor, 5, discardLogger())

	n, err := d.RunOnce(context.Background())
	require.Error(t, err)
	assert.Equal(t, 0, n)
	assert.Contains(t, err.Error(), "connection reset")
}
