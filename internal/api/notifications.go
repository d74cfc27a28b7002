package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/opsai/internal/chat"
	"github.com/kalambet/opsai/internal/storage"
)

type notificationView struct {
	ID            string          `json:"id"`
	Title         string          `json:"title"`
	Body          string          `json:"body"`
	Type          string          `json:"type"`
	ActionPayload json.RawMessage `json:"action_payload,omitempty"`
	IsRead        bool            `json:"is_read"`
	CreatedAt     string          `json:"created_at"`
}

func handleListNotifications(deps Deps, userOf func(*http.Request) string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 50, 200)
		notes, err := deps.Store.ListNotifications(r.Context(), userOf(r), limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list notifications: %v", err)
			return
		}
		out := make([]notificationView, 0, len(notes))
		for _, n := range notes {
			v := notificationView{
				ID:        n.ID,
				Title:     n.Title,
				Body:      n.Body,
				Type:      n.Type,
				IsRead:    n.IsRead,
				CreatedAt: n.CreatedAt.Format(time.RFC3339),
			}
			if n.ActionPayload != "" && json.Valid([]byte(n.ActionPayload)) {
				v.ActionPayload = json.RawMessage(n.ActionPayload)
			}
			out = append(out, v)
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func handleNotificationRead(deps Deps, userOf func(*http.Request) string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n, ok := ownNotification(w, r, deps, userOf(r))
		if !ok {
			return
		}
		if err := deps.Store.MarkNotificationRead(r.Context(), n.ID); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to mark notification: %v", err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleNotificationDismiss(deps Deps, userOf func(*http.Request) string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n, ok := ownNotification(w, r, deps, userOf(r))
		if !ok {
			return
		}
		if err := deps.Store.DismissNotification(r.Context(), n.ID); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to dismiss notification: %v", err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// handleNotificationExecute runs the follow-up action attached to a
// notification and marks it read.
func handleNotificationExecute(deps Deps, userOf func(*http.Request) string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n, ok := ownNotification(w, r, deps, userOf(r))
		if !ok {
			return
		}
		if n.ActionPayload == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "notification has no action")
			return
		}

		res, err := deps.Chat.ExecutePayload(r.Context(), n.ActionPayload)
		if errors.Is(err, chat.ErrToolNotAllowed) {
			httpError(w, http.StatusForbidden, "permission_error", "%s", res.Error)
			return
		}
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		if err := deps.Store.MarkNotificationRead(r.Context(), n.ID); err != nil {
			slog.Warn("marking notification read failed", "notification_id", n.ID, "error", err)
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func ownNotification(w http.ResponseWriter, r *http.Request, deps Deps, userID string) (storage.Notification, bool) {
	n, err := deps.Store.GetNotification(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, storage.ErrNotFound) || (err == nil && n.UserID != userID) {
		httpError(w, http.StatusNotFound, "not_found", "notification not found")
		return storage.Notification{}, false
	}
	if err != nil {
		httpError(w, http.StatusInternalServerError, "api_error", "failed to get notification: %v", err)
		return storage.Notification{}, false
	}
	return n, true
}
