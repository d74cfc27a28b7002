package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/opsai/internal/chat"
	"github.com/kalambet/opsai/internal/storage"
)

// AskRequest is the body of POST /ai/ask. Async stores the turn as a
// pending message before answering it.
type AskRequest struct {
	Prompt string `json:"prompt"`
	Model  string `json:"model"`
	Async  bool   `json:"async"`
}

// ExecuteActionRequest is the body of POST /ai/execute_action.
type ExecuteActionRequest struct {
	ActionData map[string]any `json:"action_data"`
	MessageID  string         `json:"message_id"`
}

type actionView struct {
	ID             string          `json:"id"`
	ConversationID string          `json:"conversation_id,omitempty"`
	MessageID      string          `json:"message_id,omitempty"`
	Tool           string          `json:"tool"`
	Params         json.RawMessage `json:"params"`
	State          string          `json:"state"`
	Result         string          `json:"result,omitempty"`
	Error          string          `json:"error,omitempty"`
	CreatedID      int64           `json:"created_id,omitempty"`
	CreatedAt      string          `json:"created_at"`
}

type messageView struct {
	ID      string          `json:"id"`
	Seq     int             `json:"seq"`
	Role    string          `json:"role"`
	Content string          `json:"content"`
	State   string          `json:"state"`
	Model   string          `json:"model,omitempty"`
	Expert  string          `json:"expert_name,omitempty"`
	Action  json.RawMessage `json:"pending_action,omitempty"`
	Created string          `json:"created_at"`
}

func handleAsk(deps Deps, userOf func(*http.Request) string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req AskRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "Request inválido")
			return
		}
		if strings.TrimSpace(req.Prompt) == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "Prompt vacío")
			return
		}

		ask := deps.Chat.Ask
		if req.Async {
			ask = deps.Chat.AskAsync
		}
		resp, err := ask(r.Context(), chat.AskRequest{
			UserID: userOf(r),
			Prompt: req.Prompt,
			Model:  strings.TrimSpace(req.Model),
		})
		if errors.Is(err, chat.ErrEmptyPrompt) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "Prompt vacío")
			return
		}
		if err != nil {
			slog.Error("ask failed", "error", err)
			httpError(w, http.StatusInternalServerError, "api_error", "%v", err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func handleExecuteAction(deps Deps, userOf func(*http.Request) string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req ExecuteActionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if len(req.ActionData) == 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "No hay datos de acción")
			return
		}

		res, err := deps.Chat.ExecuteAction(r.Context(), userOf(r), req.ActionData, req.MessageID)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "%v", err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func handleListActions(deps Deps, userOf func(*http.Request) string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		state := r.URL.Query().Get("state")
		actions, err := deps.Store.ListPendingActions(r.Context(), userOf(r), state)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list actions: %v", err)
			return
		}
		out := make([]actionView, 0, len(actions))
		for _, a := range actions {
			out = append(out, viewAction(a))
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func handleApprove(deps Deps, userOf func(*http.Request) string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if !ownsAction(w, r, deps, userOf(r), id) {
			return
		}
		res, err := deps.Chat.Approve(r.Context(), id)
		switch {
		case errors.Is(err, chat.ErrActionInProgress):
			httpError(w, http.StatusConflict, "conflict", "action %s is being executed", id)
		case errors.Is(err, storage.ErrNotFound):
			httpError(w, http.StatusNotFound, "not_found", "action not found")
		case err != nil:
			httpError(w, http.StatusInternalServerError, "api_error", "%v", err)
		default:
			writeJSON(w, http.StatusOK, res)
		}
	}
}

func handleReject(deps Deps, userOf func(*http.Request) string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if !ownsAction(w, r, deps, userOf(r), id) {
			return
		}
		res, err := deps.Chat.Reject(r.Context(), id)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			httpError(w, http.StatusNotFound, "not_found", "action not found")
		case err != nil:
			httpError(w, http.StatusInternalServerError, "api_error", "%v", err)
		default:
			writeJSON(w, http.StatusOK, res)
		}
	}
}

// ownsAction writes a 404 unless the action exists and belongs to userID.
func ownsAction(w http.ResponseWriter, r *http.Request, deps Deps, userID, id string) bool {
	a, err := deps.Store.GetPendingAction(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) || (err == nil && a.UserID != userID) {
		httpError(w, http.StatusNotFound, "not_found", "action not found")
		return false
	}
	if err != nil {
		httpError(w, http.StatusInternalServerError, "api_error", "failed to get action: %v", err)
		return false
	}
	return true
}

func handleListMessages(deps Deps, userOf func(*http.Request) string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		conv, err := deps.Store.GetConversation(r.Context(), id)
		if errors.Is(err, storage.ErrNotFound) || (err == nil && conv.UserID != userOf(r)) {
			httpError(w, http.StatusNotFound, "not_found", "conversation not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get conversation: %v", err)
			return
		}

		limit := parseIntParam(r, "limit", 50, 500)
		msgs, err := deps.Store.ListMessages(r.Context(), conv.ID, limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list messages: %v", err)
			return
		}
		out := make([]messageView, 0, len(msgs))
		for _, m := range msgs {
			v := messageView{
				ID:      m.ID,
				Seq:     m.Seq,
				Role:    m.Role,
				Content: m.Content,
				State:   m.State,
				Model:   m.Model,
				Expert:  m.Expert,
				Created: m.CreatedAt.Format(time.RFC3339),
			}
			if m.ActionJSON != "" && json.Valid([]byte(m.ActionJSON)) {
				v.Action = json.RawMessage(m.ActionJSON)
			}
			out = append(out, v)
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func viewAction(a storage.PendingAction) actionView {
	params := json.RawMessage(a.ParamsJSON)
	if !json.Valid(params) {
		params = json.RawMessage("{}")
	}
	return actionView{
		ID:             a.ID,
		ConversationID: a.ConversationID,
		MessageID:      a.MessageID,
		Tool:           a.Tool,
		Params:         params,
		State:          a.State,
		Result:         a.Result,
		Error:          a.Error,
		CreatedID:      a.CreatedID,
		CreatedAt:      a.CreatedAt.Format(time.RFC3339),
	}
}
