package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	mw "github.com/kiranshivaraju/reelqueue/internal/api/middleware"
	"github.com/kiranshivaraju/reelqueue/internal/api/response"
	"github.com/kiranshivaraju/reelqueue/pkg/models"
)

type NotificationLister interface {
	ListNotifications(ctx context.Context, ownerID uuid.UUID, limit int) ([]*models.Notification, error)
}

// NewListNotificationsHandler returns an http.HandlerFunc for GET /api/v1/notifications.
func NewListNotificationsHandler(st NotificationLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ownerID, ok := mw.GetOwnerID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, response.CodeInvalidToken, "Missing owner", nil)
			return
		}

		limit := 20
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 || n > 100 {
				response.Error(w, http.StatusBadRequest, response.CodeInvalidRequest, "limit must be between 1 and 100", nil)
				return
			}
			limit = n
		}

		list, err := st.ListNotifications(r.Context(), ownerID, limit)
		if err != nil {
			slog.Error("list notifications failed", "owner_id", ownerID, "error", err)
			response.Error(w, http.StatusInternalServerError, response.CodeInternal, "Failed to list notifications", nil)
			return
		}
		if list == nil {
			list = []*models.Notification{}
		}
		response.Collection(w, list, response.PaginationMeta{Page: 1, Limit: limit, Total: len(list)})
	}
}
