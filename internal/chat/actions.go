package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/kalambet/opsai/internal/agent"
	"github.com/kalambet/opsai/internal/notify"
	"github.com/kalambet/opsai/internal/storage"
	"github.com/kalambet/opsai/internal/toolcall"
	"github.com/kalambet/opsai/internal/tools"
)

// ErrActionInProgress is returned when an approved action is still running.
var ErrActionInProgress = errors.New("action is being executed")

// ErrToolNotAllowed is returned when a payload names a tool that may not run
// without going through approval.
var ErrToolNotAllowed = errors.New("tool not allowed for direct execution")

const executedText = "Acción ejecutada"

// ActionResult is the outcome of an approval decision.
type ActionResult struct {
	ActionID  string `json:"action_id"`
	State     string `json:"state"`
	Response  string `json:"response,omitempty"`
	Error     string `json:"error,omitempty"`
	CreatedID int64  `json:"created_id,omitempty"`
	MessageID string `json:"message_id,omitempty"`
}

func resultOf(a storage.PendingAction) ActionResult {
	return ActionResult{
		ActionID:  a.ID,
		State:     a.State,
		Response:  a.Result,
		Error:     a.Error,
		CreatedID: a.CreatedID,
	}
}

// Approve executes a pending action exactly once. The pending to approved
// transition is conditional, so only one caller ever runs the tool; later
// calls get the stored outcome.
func (s *Service) Approve(ctx context.Context, id string) (ActionResult, error) {
	a, err := s.store.GetPendingAction(ctx, id)
	if err != nil {
		return ActionResult{}, fmt.Errorf("loading action %s: %w", id, err)
	}
	won, err := s.store.TransitionPendingAction(ctx, id, storage.ActionPending, storage.ActionApproved)
	if err != nil {
		return ActionResult{}, err
	}
	if !won {
		return s.decided(ctx, id)
	}
	a.State = storage.ActionApproved

	var params map[string]any
	if err := json.Unmarshal([]byte(a.ParamsJSON), &params); err != nil {
		return s.finish(ctx, a, tools.Result{Error: fmt.Sprintf("parámetros inválidos: %v", err)})
	}
	slog.Info("executing approved action", "action_id", a.ID, "tool", a.Tool)
	res := s.agent.Execute(ctx, toolcall.Invocation{Tool: a.Tool, Params: params})
	return s.finish(ctx, a, res)
}

// Reject discards a pending action. Rejecting an action that is no longer
// pending returns its stored outcome.
func (s *Service) Reject(ctx context.Context, id string) (ActionResult, error) {
	a, err := s.store.GetPendingAction(ctx, id)
	if err != nil {
		return ActionResult{}, fmt.Errorf("loading action %s: %w", id, err)
	}
	won, err := s.store.TransitionPendingAction(ctx, id, storage.ActionPending, storage.ActionRejected)
	if err != nil {
		return ActionResult{}, err
	}
	if !won {
		return s.decided(ctx, id)
	}
	a.State = storage.ActionRejected
	s.clearMessageAction(ctx, a.UserID, a.MessageID)
	s.publish(a.UserID, notify.Event{Type: notify.EventActionUpdated, ConversationID: a.ConversationID, ActionID: a.ID, State: a.State})
	return resultOf(a), nil
}

// decided reports an action whose state was already changed by someone else.
func (s *Service) decided(ctx context.Context, id string) (ActionResult, error) {
	a, err := s.store.GetPendingAction(ctx, id)
	if err != nil {
		return ActionResult{}, fmt.Errorf("reloading action %s: %w", id, err)
	}
	if a.State == storage.ActionApproved {
		return resultOf(a), ErrActionInProgress
	}
	return resultOf(a), nil
}

// finish stores the execution outcome and posts it to the conversation.
func (s *Service) finish(ctx context.Context, a storage.PendingAction, res tools.Result) (ActionResult, error) {
	state := storage.ActionExecuted
	if res.Failed() {
		state = storage.ActionError
	}
	if err := s.store.FinishPendingAction(ctx, a.ID, state, res.Response, res.Error, res.CreatedID); err != nil {
		return ActionResult{}, err
	}
	a.State, a.Result, a.Error, a.CreatedID = state, res.Response, res.Error, res.CreatedID
	out := resultOf(a)

	s.clearMessageAction(ctx, a.UserID, a.MessageID)
	if a.ConversationID != "" {
		expert := "Assistant"
		if origin, err := s.store.GetMessage(ctx, a.MessageID); err == nil && origin.Expert != "" {
			expert = origin.Expert
		}
		msg, err := s.appendMessage(ctx, a.UserID, storage.Message{
			ConversationID: a.ConversationID,
			Role:           "assistant",
			Content:        toolcall.BreakLines(resultText(res)),
			Expert:         expert,
		})
		if err != nil {
			return out, err
		}
		out.MessageID = msg.ID
	}
	s.publish(a.UserID, notify.Event{Type: notify.EventActionUpdated, ConversationID: a.ConversationID, ActionID: a.ID, State: state})
	return out, nil
}

// clearMessageAction drops the stored invocation from the message that
// proposed an action once it has been decided.
func (s *Service) clearMessageAction(ctx context.Context, userID, messageID string) {
	if messageID == "" {
		return
	}
	msg, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			slog.Warn("loading action message failed", "message_id", messageID, "error", err)
		}
		return
	}
	if msg.ActionJSON == "" {
		return
	}
	msg.ActionJSON = ""
	if err := s.updateMessage(ctx, userID, msg); err != nil {
		slog.Warn("clearing message action failed", "message_id", messageID, "error", err)
	}
}

// ExecuteAction runs an action payload the user approved from the chat
// surface. When messageID names the proposing message, its action is
// cleared and the outcome is appended to its conversation.
func (s *Service) ExecuteAction(ctx context.Context, userID string, actionData map[string]any, messageID string) (tools.Result, error) {
	inv, err := agent.InvocationFromPayload(actionData)
	if err != nil {
		return tools.Result{Error: err.Error()}, nil
	}
	res := s.agent.Execute(ctx, inv)
	if res.Error != "" {
		return res, nil
	}
	if res.Response == "" {
		res.Response = executedText
	}
	if messageID == "" {
		return res, nil
	}

	origin, err := s.store.GetMessage(ctx, messageID)
	if errors.Is(err, storage.ErrNotFound) {
		return res, nil
	}
	if err != nil {
		return res, fmt.Errorf("loading message %s: %w", messageID, err)
	}
	s.clearMessageAction(ctx, userID, origin.ID)
	expert := origin.Expert
	if expert == "" {
		expert = "Assistant"
	}
	_, err = s.appendMessage(ctx, userID, storage.Message{
		ConversationID: origin.ConversationID,
		Role:           "assistant",
		Content:        toolcall.BreakLines(res.Response),
		Expert:         expert,
	})
	return res, err
}

// directAllowed reports whether t may run from a notification payload
// without approval: read-only tools plus the stock and production
// corrections a watchdog alert proposes.
func directAllowed(t toolcall.Tool) bool {
	return t.Safe() || t == toolcall.AdjustStock || t == toolcall.CreateMRPOrder
}

// ExecutePayload runs the action attached to a notification.
func (s *Service) ExecutePayload(ctx context.Context, payload string) (tools.Result, error) {
	var data map[string]any
	if err := json.Unmarshal([]byte(payload), &data); err != nil {
		return tools.Result{}, fmt.Errorf("decoding action payload: %w", err)
	}
	inv, err := agent.InvocationFromPayload(data)
	if err != nil {
		return tools.Result{}, err
	}
	if !directAllowed(inv.Kind()) {
		return tools.Result{Error: fmt.Sprintf("Herramienta %s no permitida en ejecución automática", inv.Tool)}, ErrToolNotAllowed
	}
	return s.agent.Execute(ctx, inv), nil
}

func resultText(res tools.Result) string {
	switch {
	case res.Error != "":
		return "❌ " + res.Error
	case res.Response != "":
		return res.Response
	default:
		return executedText
	}
}
