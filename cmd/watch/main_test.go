package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/reelqueue/internal/reconciler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAPI serves GET /api/v1/jobs/{id} from a status table.
type fakeAPI struct {
	mu   sync.Mutex
	jobs map[string]map[string]any
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := strings.TrimPrefix(r.URL.Path, "/api/v1/jobs/")
	job, ok := f.jobs[id]
	w.Header().Set("Content-Type", "application/json")
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"code": "NOT_FOUND", "message": "Job not found"}})
		return
	}
	json.NewEncoder(w).Encode(map[string]any{"data": job})
}

func setupWatch(t *testing.T, jobs map[string]map[string]any) string {
	t.Helper()
	srv := httptest.NewServer(&fakeAPI{jobs: jobs})
	t.Cleanup(srv.Close)

	t.Setenv("REELQUEUE_CONFIG", "")
	t.Setenv("RECONCILER_API_URL", srv.URL)
	t.Setenv("RECONCILER_API_KEY", "rq_watcher_key")
	t.Setenv("RECONCILER_INTERVAL", "5ms")
	t.Setenv("RECONCILER_WINDOW", "")
	return filepath.Join(t.TempDir(), "watch.json")
}

func TestRun_PrintsOutcomes(t *testing.T) {
	done, failed := uuid.NewString(), uuid.NewString()
	statePath := setupWatch(t, map[string]map[string]any{
		done:   {"id": done, "status": "done", "output": map[string]any{"scenes": []any{}}},
		failed: {"id": failed, "status": "failed", "error": "provider unavailable"},
	})

	var stdout, stderr bytes.Buffer
	err := run(context.Background(), []string{"-state", statePath, done, failed}, &stdout, &stderr)
	require.ErrorIs(t, err, errUnfinished)

	out := stdout.String()
	assert.Contains(t, out, done+" succeeded after 0s: {\"scenes\":[]}")
	assert.Contains(t, out, failed+" failed after 0s: provider unavailable")

	left, err := reconciler.NewFileState(statePath).List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, left)
}

func TestRun_ResumesPersistedWatches(t *testing.T) {
	id := uuid.New()
	statePath := setupWatch(t, map[string]map[string]any{
		id.String(): {"id": id.String(), "status": "done"},
	})
	require.NoError(t, reconciler.NewFileState(statePath).Save(context.Background(),
		reconciler.Entry{JobID: id, StartTime: time.Now().UTC()}))

	var stdout, stderr bytes.Buffer
	require.NoError(t, run(context.Background(), []string{"-state", statePath}, &stdout, &stderr))
	assert.Equal(t, 1, strings.Count(stdout.String(), id.String()+" succeeded"))
}

func TestRun_CancelledKeepsState(t *testing.T) {
	id := uuid.New()
	statePath := setupWatch(t, map[string]map[string]any{
		id.String(): {"id": id.String(), "status": "running"},
	})

	ctx, cancel := context.WithCancel(context.Background())
	var stdout, stderr bytes.Buffer
	errCh := make(chan error, 1)
	go func() { errCh <- run(ctx, []string{"-state", statePath, id.String()}, &stdout, &stderr) }()

	require.Eventually(t, func() bool {
		entries, err := reconciler.NewFileState(statePath).List(context.Background())
		return err == nil && len(entries) == 1
	}, eventuallyTimeout, tick)
	cancel()
	require.NoError(t, <-errCh)
	assert.Empty(t, stdout.String())

	entries, err := reconciler.NewFileState(statePath).List(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, id, entries[0].JobID)
}

func TestRun_InvalidJobID(t *testing.T) {
	statePath := setupWatch(t, nil)
	var stdout, stderr bytes.Buffer
	err := run(context.Background(), []string{"-state", statePath, "not-a-job"}, &stdout, &stderr)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid job id")
}

func TestRun_NothingToWatch(t *testing.T) {
	statePath := setupWatch(t, nil)
	var stdout, stderr bytes.Buffer
	require.NoError(t, run(context.Background(), []string{"-state", statePath}, &stdout, &stderr))
	assert.Contains(t, stderr.String(), "nothing to watch")
}

func TestFormatEvent_GaveUp(t *testing.T) {
	id := uuid.New()
	line := formatEvent(reconciler.Event{JobID: id, Type: reconciler.EventGaveUp, Elapsed: 15 * time.Minute})
	assert.Equal(t, id.String()+" gave up after 15m0s: still running, outcome unknown", line)
}

const (
	eventuallyTimeout = 2 * time.Second
	tick              = 5 * time.Millisecond
)
