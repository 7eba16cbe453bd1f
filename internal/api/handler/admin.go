package handler

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	mw "github.com/kiranshivaraju/reelqueue/internal/api/middleware"
	"github.com/kiranshivaraju/reelqueue/internal/api/response"
	"github.com/kiranshivaraju/reelqueue/internal/store"
	"github.com/kiranshivaraju/reelqueue/pkg/models"
	"golang.org/x/crypto/bcrypt"
)

// Processor runs one dispatcher pass.
type Processor interface {
	RunOnce(ctx context.Context) (int, error)
}

// StaleRecoverer requeues jobs stuck in running.
type StaleRecoverer interface {
	RecoverStale(ctx context.Context) (int, error)
}

type KeyCreator interface {
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
}

// NewProcessHandler returns an http.HandlerFunc for POST /api/v1/admin/process,
// the triggered mode of the worker loop. A claimed job is carried to a terminal
// status even if the caller disconnects mid-pass.
func NewProcessHandler(p Processor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n, err := p.RunOnce(context.WithoutCancel(r.Context()))
		if err != nil {
			slog.Error("triggered dispatcher pass failed", "error", err)
			response.Error(w, http.StatusInternalServerError, response.CodeInternal, "Dispatcher pass failed", nil)
			return
		}
		response.Count(w, "processed", n)
	}
}

// NewRecoverHandler returns an http.HandlerFunc for POST /api/v1/admin/recover.
func NewRecoverHandler(rec StaleRecoverer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n, err := rec.RecoverStale(r.Context())
		if err != nil {
			slog.Error("stuck-job recovery failed", "error", err)
			response.Error(w, http.StatusInternalServerError, response.CodeInternal, "Recovery failed", nil)
			return
		}
		response.Count(w, "requeued", n)
	}
}

// NewAPIKey generates a raw key and the record storing its bcrypt hash. The raw
// key is returned once and never stored.
func NewAPIKey(ownerID uuid.UUID, name string, scopes []string) (*models.APIKey, string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return nil, "", err
	}
	raw := "rq_" + hex.EncodeToString(buf)
	key, err := APIKeyFromRaw(ownerID, name, raw, scopes)
	return key, raw, err
}

// APIKeyFromRaw builds the stored record for a caller-chosen raw key.
func APIKeyFromRaw(ownerID uuid.UUID, name, raw string, scopes []string) (*models.APIKey, error) {
	if len(raw) < mw.KeyPrefixLen {
		return nil, errors.New("api key is too short")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(raw), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	return &models.APIKey{
		ID:        uuid.New(),
		OwnerID:   ownerID,
		Name:      name,
		KeyHash:   string(hash),
		KeyPrefix: raw[:mw.KeyPrefixLen],
		Scopes:    scopes,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

var validScopes = map[string]bool{"jobs": true, "admin": true}

// NewCreateKeyHandler returns an http.HandlerFunc for POST /api/v1/admin/keys.
// Without owner_id the key belongs to a new owner.
func NewCreateKeyHandler(st KeyCreator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Name    string     `json:"name"`
			OwnerID *uuid.UUID `json:"owner_id"`
			Scopes  []string   `json:"scopes"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, response.CodeInvalidRequest, "Invalid JSON body", nil)
			return
		}
		if req.Name == "" {
			response.Error(w, http.StatusBadRequest, response.CodeInvalidRequest, "name is required", nil)
			return
		}
		if len(req.Scopes) == 0 {
			req.Scopes = []string{"jobs"}
		}
		for _, s := range req.Scopes {
			if !validScopes[s] {
				response.Error(w, http.StatusBadRequest, response.CodeInvalidRequest, "unknown scope: "+s, nil)
				return
			}
		}
		owner := uuid.New()
		if req.OwnerID != nil {
			owner = *req.OwnerID
		}

		key, raw, err := NewAPIKey(owner, req.Name, req.Scopes)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, response.CodeInternal, "Failed to generate key", nil)
			return
		}
		if err := st.CreateAPIKey(r.Context(), key); err != nil {
			if errors.Is(err, store.ErrDuplicateKey) {
				response.Error(w, http.StatusConflict, response.CodeDuplicateKey, "A key with this name already exists", nil)
				return
			}
			slog.Error("create api key failed", "owner_id", owner, "error", err)
			response.Error(w, http.StatusInternalServerError, response.CodeInternal, "Failed to create key", nil)
			return
		}

		response.Created(w, map[string]any{
			"id":       key.ID,
			"owner_id": key.OwnerID,
			"name":     key.Name,
			"key":      raw,
			"scopes":   key.Scopes,
		})
	}
}
