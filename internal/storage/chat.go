package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// --- Conversations ---

const conversationColumns = `id, user_id, title, active, created_at, updated_at`

func scanConversation(row interface{ Scan(...any) error }) (Conversation, error) {
	var c Conversation
	var active int
	var createdAt, updatedAt string
	if err := row.Scan(&c.ID, &c.UserID, &c.Title, &active, &createdAt, &updatedAt); err != nil {
		return Conversation{}, err
	}
	c.Active = active != 0
	var err error
	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return Conversation{}, fmt.Errorf("parsing created_at: %w", err)
	}
	if c.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return Conversation{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	return c, nil
}

// CreateConversation starts a new active conversation for userID.
func (s *Store) CreateConversation(ctx context.Context, userID, title string) (Conversation, error) {
	now := time.Now().UTC().Truncate(time.Second)
	c := Conversation{ID: uuid.New().String(), UserID: userID, Title: title, Active: true, CreatedAt: now, UpdatedAt: now}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations (id, user_id, title, active, created_at, updated_at)
		VALUES (?, ?, ?, 1, ?, ?)`,
		c.ID, c.UserID, c.Title, formatTime(now), formatTime(now),
	)
	if err != nil {
		return Conversation{}, fmt.Errorf("creating conversation: %w", err)
	}
	return c, nil
}

func (s *Store) GetConversation(ctx context.Context, id string) (Conversation, error) {
	c, err := scanConversation(s.db.QueryRowContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return Conversation{}, ErrNotFound
	}
	return c, err
}

// ActiveConversation returns the most recently updated active conversation of
// userID, creating one when there is none.
func (s *Store) ActiveConversation(ctx context.Context, userID string) (Conversation, error) {
	c, err := scanConversation(s.db.QueryRowContext(ctx, `
		SELECT `+conversationColumns+` FROM conversations
		WHERE user_id = ? AND active = 1
		ORDER BY updated_at DESC, created_at DESC LIMIT 1`, userID))
	if err == sql.ErrNoRows {
		return s.CreateConversation(ctx, userID, "Chat IA")
	}
	if err != nil {
		return Conversation{}, fmt.Errorf("finding active conversation: %w", err)
	}
	return c, nil
}

// --- Messages ---

const messageColumns = `id, conversation_id, seq, role, content, state, prompt, model, expert, action_json, created_at, updated_at`

func scanMessage(row interface{ Scan(...any) error }) (Message, error) {
	var m Message
	var createdAt, updatedAt string
	if err := row.Scan(&m.ID, &m.ConversationID, &m.Seq, &m.Role, &m.Content, &m.State,
		&m.Prompt, &m.Model, &m.Expert, &m.ActionJSON, &createdAt, &updatedAt); err != nil {
		return Message{}, err
	}
	var err error
	if m.CreatedAt, err = parseTime(createdAt); err != nil {
		return Message{}, fmt.Errorf("parsing created_at: %w", err)
	}
	if m.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return Message{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	return m, nil
}

// AppendMessage adds m at the end of its conversation. ID, sequence number
// and timestamps are assigned here; State defaults to done.
func (s *Store) AppendMessage(ctx context.Context, m Message) (Message, error) {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.State == "" {
		m.State = MessageDone
	}
	now := time.Now().UTC().Truncate(time.Second)
	m.CreatedAt, m.UpdatedAt = now, now

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Message{}, fmt.Errorf("beginning append transaction: %w", err)
	}
	defer tx.Rollback()

	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM messages WHERE conversation_id = ?`, m.ConversationID,
	).Scan(&m.Seq); err != nil {
		return Message{}, fmt.Errorf("reading next sequence: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO messages (`+messageColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.ConversationID, m.Seq, m.Role, m.Content, m.State, m.Prompt, m.Model, m.Expert, m.ActionJSON,
		formatTime(now), formatTime(now),
	); err != nil {
		return Message{}, fmt.Errorf("inserting message: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE conversations SET updated_at = ? WHERE id = ?`, formatTime(now), m.ConversationID); err != nil {
		return Message{}, fmt.Errorf("touching conversation: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Message{}, fmt.Errorf("committing message: %w", err)
	}
	return m, nil
}

// UpdateMessage rewrites the mutable fields of a message.
func (s *Store) UpdateMessage(ctx context.Context, m Message) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE messages SET content = ?, state = ?, model = ?, expert = ?, action_json = ?, updated_at = ?
		WHERE id = ?`,
		m.Content, m.State, m.Model, m.Expert, m.ActionJSON, formatTime(time.Now()), m.ID,
	)
	if err != nil {
		return fmt.Errorf("updating message %s: %w", m.ID, err)
	}
	return affected(res)
}

func (s *Store) GetMessage(ctx context.Context, id string) (Message, error) {
	m, err := scanMessage(s.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return Message{}, ErrNotFound
	}
	return m, err
}

// ListMessages returns the last limit messages of a conversation in creation
// order. A limit <= 0 returns the whole conversation.
func (s *Store) ListMessages(ctx context.Context, conversationID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+messageColumns+` FROM (
			SELECT `+messageColumns+` FROM messages WHERE conversation_id = ?
			ORDER BY seq DESC LIMIT ?
		) ORDER BY seq ASC`, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// PendingMessages returns up to limit messages in the pending state, oldest
// first.
func (s *Store) PendingMessages(ctx context.Context, limit int) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+messageColumns+` FROM messages WHERE state = ?
		ORDER BY created_at ASC, seq ASC LIMIT ?`, MessagePending, limit)
	if err != nil {
		return nil, fmt.Errorf("listing pending messages: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// --- Pending actions ---

const actionColumns = `id, conversation_id, message_id, user_id, tool, params_json, state, idempotency_key, result, error, created_id, created_at, updated_at`

func scanAction(row interface{ Scan(...any) error }) (PendingAction, error) {
	var a PendingAction
	var createdAt, updatedAt string
	if err := row.Scan(&a.ID, &a.ConversationID, &a.MessageID, &a.UserID, &a.Tool, &a.ParamsJSON, &a.State,
		&a.IdempotencyKey, &a.Result, &a.Error, &a.CreatedID, &createdAt, &updatedAt); err != nil {
		return PendingAction{}, err
	}
	var err error
	if a.CreatedAt, err = parseTime(createdAt); err != nil {
		return PendingAction{}, fmt.Errorf("parsing created_at: %w", err)
	}
	if a.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return PendingAction{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	return a, nil
}

// CreatePendingAction stores a mutating tool invocation awaiting approval.
// The idempotency key defaults to a fresh UUID. When an action with the same
// key already exists it is returned unchanged and nothing is inserted.
func (s *Store) CreatePendingAction(ctx context.Context, a PendingAction) (PendingAction, error) {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.IdempotencyKey == "" {
		a.IdempotencyKey = uuid.New().String()
	}
	if a.ParamsJSON == "" {
		a.ParamsJSON = "{}"
	}
	a.State = ActionPending
	now := time.Now().UTC().Truncate(time.Second)
	a.CreatedAt, a.UpdatedAt = now, now
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO pending_actions (`+actionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, '', '', 0, ?, ?)
		ON CONFLICT(idempotency_key) DO NOTHING`,
		a.ID, a.ConversationID, a.MessageID, a.UserID, a.Tool, a.ParamsJSON, a.State, a.IdempotencyKey,
		formatTime(now), formatTime(now),
	)
	if err != nil {
		return PendingAction{}, fmt.Errorf("creating pending action: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		existing, err := scanAction(s.db.QueryRowContext(ctx, `SELECT `+actionColumns+` FROM pending_actions WHERE idempotency_key = ?`, a.IdempotencyKey))
		if err != nil {
			return PendingAction{}, fmt.Errorf("loading action for key %s: %w", a.IdempotencyKey, err)
		}
		return existing, nil
	}
	return a, nil
}

func (s *Store) GetPendingAction(ctx context.Context, id string) (PendingAction, error) {
	a, err := scanAction(s.db.QueryRowContext(ctx, `SELECT `+actionColumns+` FROM pending_actions WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return PendingAction{}, ErrNotFound
	}
	return a, err
}

// ListPendingActions lists the actions of userID, newest first. An empty
// state lists every state.
func (s *Store) ListPendingActions(ctx context.Context, userID, state string) ([]PendingAction, error) {
	query := `SELECT ` + actionColumns + ` FROM pending_actions WHERE user_id = ?`
	args := []any{userID}
	if state != "" {
		query += ` AND state = ?`
		args = append(args, state)
	}
	query += ` ORDER BY created_at DESC, id`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing pending actions: %w", err)
	}
	defer rows.Close()

	var out []PendingAction
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// TransitionPendingAction moves an action from one state to another only if
// it is still in from. It reports whether this call performed the transition,
// which makes approval at-most-once under concurrent or repeated requests.
func (s *Store) TransitionPendingAction(ctx context.Context, id, from, to string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE pending_actions SET state = ?, updated_at = ? WHERE id = ? AND state = ?`,
		to, formatTime(time.Now()), id, from)
	if err != nil {
		return false, fmt.Errorf("transitioning action %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// FinishPendingAction stores the execution outcome of an approved action.
func (s *Store) FinishPendingAction(ctx context.Context, id, state, result, errMsg string, createdID int64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE pending_actions SET state = ?, result = ?, error = ?, created_id = ?, updated_at = ?
		WHERE id = ?`,
		state, result, errMsg, createdID, formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("finishing action %s: %w", id, err)
	}
	return affected(res)
}
