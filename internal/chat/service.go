// Package chat serves user turns: it persists the conversation, answers from
// the deterministic parsers or the agent, auto-executes read-only tools and
// files mutating ones for approval.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/kalambet/opsai/internal/agent"
	"github.com/kalambet/opsai/internal/composer"
	"github.com/kalambet/opsai/internal/intent"
	"github.com/kalambet/opsai/internal/metrics"
	"github.com/kalambet/opsai/internal/notify"
	"github.com/kalambet/opsai/internal/retrieval"
	"github.com/kalambet/opsai/internal/storage"
	"github.com/kalambet/opsai/internal/toolcall"
	"github.com/kalambet/opsai/internal/tools"
)

// ErrEmptyPrompt is returned by Ask when the prompt is blank.
var ErrEmptyPrompt = errors.New("empty prompt")

const (
	defaultHistoryTurns = 10
	processingText      = "Procesando consulta..."
	parserModel         = "parser"
)

// Store is the persistence the chat service needs. *storage.Store
// satisfies it.
type Store interface {
	ActiveConversation(ctx context.Context, userID string) (storage.Conversation, error)
	GetConversation(ctx context.Context, id string) (storage.Conversation, error)
	AppendMessage(ctx context.Context, m storage.Message) (storage.Message, error)
	UpdateMessage(ctx context.Context, m storage.Message) error
	GetMessage(ctx context.Context, id string) (storage.Message, error)
	ListMessages(ctx context.Context, conversationID string, limit int) ([]storage.Message, error)
	PendingMessages(ctx context.Context, limit int) ([]storage.Message, error)
	CreatePendingAction(ctx context.Context, a storage.PendingAction) (storage.PendingAction, error)
	GetPendingAction(ctx context.Context, id string) (storage.PendingAction, error)
	TransitionPendingAction(ctx context.Context, id, from, to string) (bool, error)
	FinishPendingAction(ctx context.Context, id, state, result, errMsg string, createdID int64) error
}

// Agent answers free-form queries and runs tools. *agent.Core satisfies it.
type Agent interface {
	Process(ctx context.Context, req agent.Request) agent.Response
	Execute(ctx context.Context, inv toolcall.Invocation) tools.Result
}

// Publisher pushes events to a user's clients. *notify.Hub satisfies it.
type Publisher interface {
	Publish(userID string, ev notify.Event)
}

// AskRequest is one user turn.
type AskRequest struct {
	UserID string `json:"user_id"`
	Prompt string `json:"prompt"`
	Model  string `json:"model,omitempty"`
}

// AskResponse is what the caller shows for a turn. Action is set while a
// tool call still awaits execution or approval.
type AskResponse struct {
	Response         string               `json:"response"`
	Action           *toolcall.Invocation `json:"action,omitempty"`
	PendingActionID  string               `json:"pending_action_id,omitempty"`
	PendingActionIDs []string             `json:"pending_action_ids,omitempty"`
	ExpertName       string               `json:"expert_name"`
	ModelUsed        string               `json:"model_used"`
	ConversationID   string               `json:"conversation_id"`
	MessageID        string               `json:"message_id"`
}

// Service is the request router of the assistant.
type Service struct {
	store        Store
	agent        Agent
	snapshot     retrieval.SnapshotSource
	pub          Publisher
	parsers      []intent.Parser
	historyTurns int
	now          func() time.Time
}

// NewService creates a Service. snapshot and pub may be nil. historyTurns
// <= 0 uses the default of 10 messages.
func NewService(store Store, ag Agent, snapshot retrieval.SnapshotSource, pub Publisher, historyTurns int) *Service {
	if historyTurns <= 0 {
		historyTurns = defaultHistoryTurns
	}
	return &Service{
		store:        store,
		agent:        ag,
		snapshot:     snapshot,
		pub:          pub,
		parsers:      intent.Parsers(),
		historyTurns: historyTurns,
		now:          time.Now,
	}
}

// outcome is the answer to a prompt before it is persisted.
type outcome struct {
	text   string
	action agent.Action
	expert string
	model  string
}

// Ask answers a prompt synchronously and stores both sides of the turn.
func (s *Service) Ask(ctx context.Context, req AskRequest) (AskResponse, error) {
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return AskResponse{}, ErrEmptyPrompt
	}
	slog.Info("ai request", "user_id", req.UserID, "prompt", truncate(prompt, 50), "model", req.Model)

	conv, err := s.store.ActiveConversation(ctx, req.UserID)
	if err != nil {
		return AskResponse{}, fmt.Errorf("opening conversation: %w", err)
	}
	history, err := s.history(ctx, conv.ID, 0)
	if err != nil {
		return AskResponse{}, err
	}
	if _, err := s.appendMessage(ctx, conv.UserID, storage.Message{
		ConversationID: conv.ID,
		Role:           "user",
		Content:        toolcall.BreakLines(prompt),
	}); err != nil {
		return AskResponse{}, err
	}

	out := s.answer(ctx, prompt, req.Model, history)
	msg, err := s.appendMessage(ctx, conv.UserID, storage.Message{
		ConversationID: conv.ID,
		Role:           "assistant",
		Content:        toolcall.BreakLines(out.text),
		Model:          out.model,
		Expert:         out.expert,
	})
	if err != nil {
		return AskResponse{}, err
	}
	return s.settle(ctx, conv, msg, out)
}

// AskAsync stores the user message and a pending assistant message holding
// the raw prompt, then processes it inline. A crash between the two leaves
// the message pending for the sweeper.
func (s *Service) AskAsync(ctx context.Context, req AskRequest) (AskResponse, error) {
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return AskResponse{}, ErrEmptyPrompt
	}
	conv, err := s.store.ActiveConversation(ctx, req.UserID)
	if err != nil {
		return AskResponse{}, fmt.Errorf("opening conversation: %w", err)
	}
	if _, err := s.appendMessage(ctx, conv.UserID, storage.Message{
		ConversationID: conv.ID,
		Role:           "user",
		Content:        toolcall.BreakLines(prompt),
	}); err != nil {
		return AskResponse{}, err
	}
	msg, err := s.appendMessage(ctx, conv.UserID, storage.Message{
		ConversationID: conv.ID,
		Role:           "assistant",
		Content:        processingText,
		State:          storage.MessagePending,
		Prompt:         prompt,
		Model:          req.Model,
	})
	if err != nil {
		return AskResponse{}, err
	}
	return s.ProcessPending(ctx, msg)
}

// ProcessPending answers a pending assistant message. Failures are recorded
// on the message with state error.
func (s *Service) ProcessPending(ctx context.Context, msg storage.Message) (AskResponse, error) {
	if msg.State != storage.MessagePending {
		return AskResponse{}, fmt.Errorf("message %s is not pending", msg.ID)
	}
	conv, err := s.store.GetConversation(ctx, msg.ConversationID)
	if err != nil {
		return AskResponse{}, fmt.Errorf("loading conversation: %w", err)
	}

	resp, err := s.processPending(ctx, conv, msg)
	if err != nil {
		slog.Error("processing message failed", "message_id", msg.ID, "error", err)
		msg.State = storage.MessageError
		msg.Content = "Error: " + err.Error()
		if uerr := s.updateMessage(ctx, conv.UserID, msg); uerr != nil {
			return AskResponse{}, errors.Join(err, uerr)
		}
		return AskResponse{}, err
	}
	return resp, nil
}

func (s *Service) processPending(ctx context.Context, conv storage.Conversation, msg storage.Message) (resp AskResponse, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	if strings.TrimSpace(msg.Prompt) == "" {
		return AskResponse{}, errors.New("message has no prompt")
	}
	history, err := s.history(ctx, conv.ID, msg.Seq)
	if err != nil {
		return AskResponse{}, err
	}
	out := s.answer(ctx, msg.Prompt, msg.Model, history)
	msg.Model = out.model
	msg.Expert = out.expert
	msg.Content = toolcall.BreakLines(out.text)
	return s.settle(ctx, conv, msg, out)
}

// answer runs the deterministic parsers and falls back to the agent.
func (s *Service) answer(ctx context.Context, prompt, model string, history []composer.Turn) outcome {
	if m, ok := intent.Detect(s.parsers, prompt, s.now()); ok {
		metrics.RecordRoute(ctx, "parser", m.Expert)
		text, action := agent.Handle(m.Invocation, "")
		if model == "" {
			model = parserModel
		}
		return outcome{text: text, action: action, expert: m.Expert, model: model}
	}

	var snapshot string
	if s.snapshot != nil {
		var err error
		snapshot, err = retrieval.Snapshot(ctx, s.snapshot, prompt)
		if err != nil {
			slog.Warn("context snapshot failed", "error", err)
		}
	}
	resp := s.agent.Process(ctx, agent.Request{
		Query:   prompt,
		Context: snapshot,
		Model:   model,
		History: history,
	})
	return outcome{text: resp.Response, action: resp.Action, expert: resp.ExpertName, model: resp.ModelUsed}
}

// settle finishes an answered turn: action markers become pending actions,
// safe tools run now and rewrite the message, mutating tools are filed for
// approval. msg is persisted with state done.
func (s *Service) settle(ctx context.Context, conv storage.Conversation, msg storage.Message, out outcome) (AskResponse, error) {
	resp := AskResponse{
		Response:       out.text,
		ExpertName:     out.expert,
		ModelUsed:      out.model,
		ConversationID: conv.ID,
		MessageID:      msg.ID,
	}

	text, markers := toolcall.ExtractMarkers(out.text)
	if len(markers) > 0 {
		resp.Response = text
		for i, mk := range markers {
			inv, ok := mk.Invocation()
			if !ok {
				slog.Warn("ignoring action marker without a matching tool", "model", mk.Model, "function", mk.Function)
				continue
			}
			a, err := s.fileAction(ctx, conv, msg.ID, i+1, inv)
			if err != nil {
				return AskResponse{}, err
			}
			resp.PendingActionIDs = append(resp.PendingActionIDs, a.ID)
		}
	}

	msg.ActionJSON = ""
	switch action := out.action.(type) {
	case agent.AutoExecutable:
		inv := action.Invocation()
		res := s.agent.Execute(ctx, inv)
		if res.Error != "" {
			slog.Error("auto-execution failed", "tool", inv.Tool, "error", res.Error)
			msg.ActionJSON = encodeInvocation(inv)
			resp.Action = &inv
		} else {
			slog.Info("auto-execution completed", "tool", inv.Tool, "response", truncate(res.Response, 100))
			resp.Response = res.Response
		}
	case agent.PendingApproval:
		inv := action.Invocation()
		a, err := s.fileAction(ctx, conv, msg.ID, 0, inv)
		if err != nil {
			return AskResponse{}, err
		}
		msg.ActionJSON = encodeInvocation(inv)
		resp.Action = &inv
		resp.PendingActionID = a.ID
	}
	if resp.PendingActionID == "" && len(resp.PendingActionIDs) > 0 {
		resp.PendingActionID = resp.PendingActionIDs[0]
	}

	msg.Content = toolcall.BreakLines(resp.Response)
	msg.State = storage.MessageDone
	msg.Model = out.model
	msg.Expert = out.expert
	if err := s.updateMessage(ctx, conv.UserID, msg); err != nil {
		return AskResponse{}, err
	}
	return resp, nil
}

// fileAction stores inv for approval. Slot 0 is the message's main action and
// slot i the i-th marker, so reprocessing a message files nothing new.
func (s *Service) fileAction(ctx context.Context, conv storage.Conversation, messageID string, slot int, inv toolcall.Invocation) (storage.PendingAction, error) {
	params, err := json.Marshal(inv.Params)
	if err != nil {
		return storage.PendingAction{}, fmt.Errorf("encoding action params: %w", err)
	}
	a, err := s.store.CreatePendingAction(ctx, storage.PendingAction{
		ConversationID: conv.ID,
		MessageID:      messageID,
		UserID:         conv.UserID,
		Tool:           inv.Tool,
		ParamsJSON:     string(params),
		IdempotencyKey: messageID + "#" + strconv.Itoa(slot),
	})
	if err != nil {
		return storage.PendingAction{}, fmt.Errorf("filing pending action: %w", err)
	}
	slog.Info("action awaiting approval", "action_id", a.ID, "tool", inv.Tool)
	s.publish(conv.UserID, notify.Event{Type: notify.EventActionUpdated, ConversationID: conv.ID, ActionID: a.ID, State: a.State})
	return a, nil
}

// history returns the turns that precede message seq before (0 for the
// end of the conversation), oldest first. Raw tool JSON is skipped and a
// trailing user message is dropped because it is the query itself.
func (s *Service) history(ctx context.Context, conversationID string, before int) ([]composer.Turn, error) {
	limit := s.historyTurns
	if before > 0 {
		limit = 0
	}
	msgs, err := s.store.ListMessages(ctx, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("loading history: %w", err)
	}
	if before > 0 {
		kept := msgs[:0]
		for _, m := range msgs {
			if m.Seq < before {
				kept = append(kept, m)
			}
		}
		msgs = kept
		if n := len(msgs); n > 0 && msgs[n-1].Role == "user" {
			msgs = msgs[:n-1]
		}
		if len(msgs) > s.historyTurns {
			msgs = msgs[len(msgs)-s.historyTurns:]
		}
	}

	turns := make([]composer.Turn, 0, len(msgs))
	for _, m := range msgs {
		if m.State == storage.MessagePending {
			continue
		}
		content := strings.TrimSpace(toolcall.UnbreakLines(m.Content))
		if content == "" || toolcall.LooksLikeToolCall(content) {
			continue
		}
		turns = append(turns, composer.Turn{Role: m.Role, Content: content})
	}
	return turns, nil
}

func (s *Service) appendMessage(ctx context.Context, userID string, m storage.Message) (storage.Message, error) {
	stored, err := s.store.AppendMessage(ctx, m)
	if err != nil {
		return storage.Message{}, fmt.Errorf("storing %s message: %w", m.Role, err)
	}
	s.publish(userID, notify.Event{Type: notify.EventNewMessage, ConversationID: stored.ConversationID, MessageID: stored.ID, State: stored.State})
	return stored, nil
}

func (s *Service) updateMessage(ctx context.Context, userID string, m storage.Message) error {
	if err := s.store.UpdateMessage(ctx, m); err != nil {
		return fmt.Errorf("updating message: %w", err)
	}
	s.publish(userID, notify.Event{Type: notify.EventMessageUpdated, ConversationID: m.ConversationID, MessageID: m.ID, State: m.State})
	return nil
}

func (s *Service) publish(userID string, ev notify.Event) {
	if s.pub != nil {
		s.pub.Publish(userID, ev)
	}
}

func encodeInvocation(inv toolcall.Invocation) string {
	b, err := json.Marshal(inv)
	if err != nil {
		return ""
	}
	return string(b)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
