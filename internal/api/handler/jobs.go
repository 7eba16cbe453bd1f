package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	mw "github.com/kiranshivaraju/reelqueue/internal/api/middleware"
	"github.com/kiranshivaraju/reelqueue/internal/api/response"
	"github.com/kiranshivaraju/reelqueue/internal/store"
	"github.com/kiranshivaraju/reelqueue/pkg/models"
)

const maxInputBytes = 1 << 20

// JobStore is the slice of the store the job endpoints need.
type JobStore interface {
	CreateJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error)
}

// Canceller stops a pending or running job.
type Canceller interface {
	Cancel(ctx context.Context, id uuid.UUID, reason string) error
}

type jobResponse struct {
	ID          uuid.UUID       `json:"id"`
	Kind        models.Kind     `json:"kind"`
	Status      models.Status   `json:"status"`
	ScopeID     *uuid.UUID      `json:"scope_id,omitempty"`
	Output      json.RawMessage `json:"output,omitempty"`
	Error       string          `json:"error,omitempty"`
	Attempts    int             `json:"attempts"`
	CreatedAt   time.Time       `json:"created_at"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

func toJobResponse(j *models.Job) jobResponse {
	resp := jobResponse{
		ID:          j.ID,
		Kind:        j.Kind,
		Status:      j.Status,
		ScopeID:     j.ScopeID,
		Output:      j.Output,
		Attempts:    j.Attempts,
		CreatedAt:   j.CreatedAt,
		StartedAt:   j.StartedAt,
		CompletedAt: j.CompletedAt,
	}
	if j.Error != nil {
		resp.Error = *j.Error
	}
	return resp
}

// NewCreateJobHandler returns an http.HandlerFunc for POST /api/v1/jobs.
// The job is stored pending; a worker picks it up on its next pass.
func NewCreateJobHandler(st JobStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ownerID, ok := mw.GetOwnerID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, response.CodeInvalidToken, "Missing owner", nil)
			return
		}

		var req struct {
			Kind    models.Kind     `json:"kind"`
			ScopeID *uuid.UUID      `json:"scope_id"`
			Input   json.RawMessage `json:"input"`
		}
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxInputBytes)).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, response.CodeInvalidRequest, "Invalid JSON body", nil)
			return
		}
		if req.Kind == "" {
			response.Error(w, http.StatusBadRequest, response.CodeInvalidRequest, "kind is required", nil)
			return
		}
		if !req.Kind.Valid() {
			response.Error(w, http.StatusBadRequest, response.CodeInvalidKind, "Unknown job kind",
				map[string]any{"kind": req.Kind, "supported": models.AllKinds()})
			return
		}
		input := bytes.TrimSpace(req.Input)
		if len(input) == 0 || bytes.Equal(input, []byte("null")) {
			input = []byte(`{}`)
		}
		if input[0] != '{' {
			response.Error(w, http.StatusBadRequest, response.CodeInvalidRequest, "input must be a JSON object", nil)
			return
		}

		now := time.Now().UTC()
		job := &models.Job{
			ID:        uuid.New(),
			OwnerID:   ownerID,
			ScopeID:   req.ScopeID,
			Kind:      req.Kind,
			Status:    models.JobStatusPending,
			Input:     json.RawMessage(input),
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := st.CreateJob(r.Context(), job); err != nil {
			slog.Error("create job failed", "owner_id", ownerID, "kind", req.Kind, "error", err)
			response.Error(w, http.StatusInternalServerError, response.CodeInternal, "Failed to create job", nil)
			return
		}
		slog.Info("job submitted", "job_id", job.ID, "owner_id", ownerID, "kind", job.Kind)

		response.Job(w, http.StatusAccepted, job.ID, job.Status)
	}
}

// ownedJob loads the job named in the URL, answering 404 for jobs the caller
// does not own so their existence is not leaked.
func ownedJob(w http.ResponseWriter, r *http.Request, st JobStore) (*models.Job, bool) {
	ownerID, ok := mw.GetOwnerID(r)
	if !ok {
		response.Error(w, http.StatusUnauthorized, response.CodeInvalidToken, "Missing owner", nil)
		return nil, false
	}
	id, err := uuid.Parse(chi.URLParam(r, "jobID"))
	if err != nil {
		response.Error(w, http.StatusBadRequest, response.CodeInvalidRequest, "jobID must be a UUID", nil)
		return nil, false
	}

	job, err := st.GetJob(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) || (err == nil && job.OwnerID != ownerID) {
		response.Error(w, http.StatusNotFound, response.CodeNotFound, "Job not found", nil)
		return nil, false
	}
	if err != nil {
		slog.Error("get job failed", "job_id", id, "error", err)
		response.Error(w, http.StatusInternalServerError, response.CodeInternal, "Failed to load job", nil)
		return nil, false
	}
	return job, true
}

// NewGetJobHandler returns an http.HandlerFunc for GET /api/v1/jobs/{jobID}.
func NewGetJobHandler(st JobStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, ok := ownedJob(w, r, st)
		if !ok {
			return
		}
		response.JSON(w, toJobResponse(job))
	}
}

// NewCancelJobHandler returns an http.HandlerFunc for POST /api/v1/jobs/{jobID}/cancel.
func NewCancelJobHandler(st JobStore, c Canceller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, ok := ownedJob(w, r, st)
		if !ok {
			return
		}

		var req struct {
			Reason string `json:"reason"`
		}
		if r.ContentLength > 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				response.Error(w, http.StatusBadRequest, response.CodeInvalidRequest, "Invalid JSON body", nil)
				return
			}
		}

		err := c.Cancel(r.Context(), job.ID, req.Reason)
		switch {
		case errors.Is(err, store.ErrAlreadyTerminal):
			response.Error(w, http.StatusConflict, response.CodeJobFinished, "Job already finished", map[string]any{"status": job.Status})
			return
		case err != nil:
			slog.Error("cancel job failed", "job_id", job.ID, "error", err)
			response.Error(w, http.StatusInternalServerError, response.CodeInternal, "Failed to cancel job", nil)
			return
		}

		updated, err := st.GetJob(r.Context(), job.ID)
		if err != nil {
			response.Job(w, http.StatusOK, job.ID, models.JobStatusFailed)
			return
		}
		response.JSON(w, toJobResponse(updated))
	}
}
