// Package api is the HTTP surface of the assistant: the chat and approval
// endpoints, notifications, document ingestion, the websocket feed and an
// MCP server.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/opsai/internal/chat"
	"github.com/kalambet/opsai/internal/notify"
	"github.com/kalambet/opsai/internal/ollama"
	"github.com/kalambet/opsai/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB

// ConnectionTester reports whether the inference server is reachable.
// *ollama.Client satisfies it.
type ConnectionTester interface {
	TestConnection(ctx context.Context) ollama.ConnectionStatus
}

// Deps holds what the handlers need. Hub and Metrics are optional; their
// routes are not mounted when nil.
type Deps struct {
	Chat        *chat.Service
	Store       *storage.Store
	Hub         *notify.Hub
	Ollama      ConnectionTester
	Metrics     http.Handler
	HTTPClient  *http.Client // for url ingestion; defaults to a 15s client
	Token       string
	DefaultUser string
}

// NewHandler returns the router with the open routes and the bearer
// protected /ai routes.
func NewHandler(deps Deps) http.Handler {
	userOf := userResolver(deps.DefaultUser)

	r := chi.NewRouter()
	r.Get("/health", handleHealth)
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics)
	}
	if deps.Hub != nil {
		r.With(BearerAuth(deps.Token)).Method(http.MethodGet, "/ws", deps.Hub.Handler(userOf))
	}

	r.Route("/ai", func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Post("/ask", handleAsk(deps, userOf))
		r.Post("/ask_stream", handleAsk(deps, userOf))
		r.Post("/execute_action", handleExecuteAction(deps, userOf))
		r.Get("/actions", handleListActions(deps, userOf))
		r.Post("/actions/{id}/approve", handleApprove(deps, userOf))
		r.Post("/actions/{id}/reject", handleReject(deps, userOf))
		r.Get("/conversations/{id}/messages", handleListMessages(deps, userOf))
		r.Get("/notifications", handleListNotifications(deps, userOf))
		r.Post("/notifications/{id}/read", handleNotificationRead(deps, userOf))
		r.Post("/notifications/{id}/dismiss", handleNotificationDismiss(deps, userOf))
		r.Post("/notifications/{id}/execute", handleNotificationExecute(deps, userOf))
		r.Post("/ingest", handleIngest(deps))
		r.Get("/test", handleTest(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func handleTest(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Ollama == nil {
			writeJSON(w, http.StatusOK, ollama.ConnectionStatus{Status: "error", Message: "inference client not configured"})
			return
		}
		writeJSON(w, http.StatusOK, deps.Ollama.TestConnection(r.Context()))
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}
