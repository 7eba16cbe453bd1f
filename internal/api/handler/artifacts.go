package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	mw "github.com/kiranshivaraju/reelqueue/internal/api/middleware"
	"github.com/kiranshivaraju/reelqueue/internal/api/response"
	"github.com/kiranshivaraju/reelqueue/internal/artifact"
	"github.com/kiranshivaraju/reelqueue/pkg/models"
)

type ArtifactGetter interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Artifact, error)
}

// NewGetArtifactHandler returns an http.HandlerFunc for GET /api/v1/artifacts/{artifactID}.
// It streams the stored bytes to the owner of the job that produced them.
func NewGetArtifactHandler(arts ArtifactGetter, jobs JobStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ownerID, ok := mw.GetOwnerID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, response.CodeInvalidToken, "Missing owner", nil)
			return
		}
		id, err := uuid.Parse(chi.URLParam(r, "artifactID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, response.CodeInvalidRequest, "artifactID must be a UUID", nil)
			return
		}

		a, err := arts.Get(r.Context(), id)
		if errors.Is(err, artifact.ErrNotFound) {
			response.Error(w, http.StatusNotFound, response.CodeNotFound, "Artifact not found", nil)
			return
		}
		if err != nil {
			slog.Error("get artifact failed", "artifact_id", id, "error", err)
			response.Error(w, http.StatusInternalServerError, response.CodeInternal, "Failed to load artifact", nil)
			return
		}
		job, err := jobs.GetJob(r.Context(), a.JobID)
		if err != nil || job.OwnerID != ownerID {
			response.Error(w, http.StatusNotFound, response.CodeNotFound, "Artifact not found", nil)
			return
		}

		w.Header().Set("Content-Type", a.ContentType)
		w.Header().Set("Content-Length", strconv.FormatInt(int64(len(a.Data)), 10))
		w.Header().Set("Content-Disposition", `attachment; filename="`+a.Name+`"`)
		w.WriteHeader(http.StatusOK)
		w.Write(a.Data)
	}
}
