// Package notify pushes chat and notification events to connected clients
// over websockets.
package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/kalambet/opsai/internal/metrics"
)

// Event types.
const (
	EventNewMessage      = "new_message"
	EventMessageUpdated  = "message_updated"
	EventActionUpdated   = "action_updated"
	EventNewNotification = "new_notification"
)

const (
	subscriberBuffer = 16
	writeTimeout     = 5 * time.Second
)

// Event is one push to a user's clients.
type Event struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id,omitempty"`
	MessageID      string `json:"message_id,omitempty"`
	ActionID       string `json:"action_id,omitempty"`
	NotificationID string `json:"notification_id,omitempty"`
	State          string `json:"state,omitempty"`
}

type subscriber struct {
	ch chan Event
}

// Hub fans events out to the subscribers of each user. Publishing never
// blocks: a subscriber whose buffer is full misses the event.
type Hub struct {
	mu     sync.Mutex
	subs   map[string]map[*subscriber]struct{}
	logger *slog.Logger
}

func NewHub() *Hub {
	return &Hub{
		subs:   make(map[string]map[*subscriber]struct{}),
		logger: slog.Default(),
	}
}

// Subscribe registers a listener for userID. The returned cancel function
// unregisters it and closes the channel.
func (h *Hub) Subscribe(userID string) (<-chan Event, func()) {
	sub := &subscriber{ch: make(chan Event, subscriberBuffer)}

	h.mu.Lock()
	if h.subs[userID] == nil {
		h.subs[userID] = make(map[*subscriber]struct{})
	}
	h.subs[userID][sub] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs[userID], sub)
			if len(h.subs[userID]) == 0 {
				delete(h.subs, userID)
			}
			h.mu.Unlock()
			close(sub.ch)
		})
	}
}

// Publish sends ev to every subscriber of userID.
func (h *Hub) Publish(userID string, ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs[userID] {
		select {
		case sub.ch <- ev:
		default:
			h.logger.Debug("dropping event for slow subscriber", "user_id", userID, "type", ev.Type)
		}
	}
}

// Subscribers returns the number of listeners for userID.
func (h *Hub) Subscribers(userID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[userID])
}

// Handler upgrades requests to websockets and streams the events of the
// user returned by userOf. Requests without a user are rejected.
func (h *Hub) Handler(userOf func(*http.Request) string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := userOf(r)
		if userID == "" {
			http.Error(w, "missing user", http.StatusUnauthorized)
			return
		}

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns: []string{"*"},
		})
		if err != nil {
			h.logger.Error("failed to accept websocket", "error", err, "user_id", userID)
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		metrics.AddWSConnection()
		defer metrics.RemoveWSConnection()

		events, cancel := h.Subscribe(userID)
		defer cancel()

		// Clients only listen; CloseRead handles their control frames and
		// cancels ctx when they go away.
		ctx := conn.CloseRead(r.Context())
		h.logger.Debug("websocket subscribed", "user_id", userID)

		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				if err := writeEvent(ctx, conn, ev); err != nil {
					h.logger.Debug("websocket write failed", "error", err, "user_id", userID)
					return
				}
			}
		}
	})
}

func writeEvent(ctx context.Context, conn *websocket.Conn, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}
