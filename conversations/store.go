// Package conversations stores chat sessions and the per-provider message
// columns shown in them.
package conversations

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"github.com/shenzihan666/search/llm"
)

const (
	sessionsTable = "chat_sessions"
	messagesTable = "chat_messages"
)

// Status is the lifecycle state of a stored message.
type Status string

const (
	StatusStreaming Status = "streaming"
	StatusDone      Status = "done"
	StatusError     Status = "error"
)

// Session is one chat window. Its system prompt is prepended to every
// provider column's history.
type Session struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	SystemPrompt string `json:"system_prompt"`
	CreatedAt    int64  `json:"created_at"`
	UpdatedAt    int64  `json:"updated_at"`
}

// Message is one stored turn in a provider column of a session.
type Message struct {
	ID         string          `json:"id"`
	SessionID  string          `json:"session_id"`
	ProviderID string          `json:"provider_id"`
	Role       llm.MessageRole `json:"role"`
	Content    string          `json:"content"`
	Status     Status          `json:"status"`
	Seq        int64           `json:"seq"`
	CreatedAt  int64           `json:"created_at"`
	UpdatedAt  int64           `json:"updated_at"`
}

var messageColumns = []string{
	"id", "session_id", "provider_id", "role", "content", "status", "seq", "created_at", "updated_at",
}

// Store handles persistence of chat sessions and their messages.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// NewStore creates a new Store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

func (s *Store) timestamp() int64 {
	return s.now().UnixMilli()
}

// CreateSession starts a new session.
func (s *Store) CreateSession(ctx context.Context, title, systemPrompt string) (*Session, error) {
	now := s.timestamp()
	sess := Session{
		ID:           uuid.NewString(),
		Title:        strings.TrimSpace(title),
		SystemPrompt: strings.TrimSpace(systemPrompt),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if sess.Title == "" {
		sess.Title = "New chat"
	}

	queryStr, args, err := sq.Insert(sessionsTable).
		Columns("id", "title", "system_prompt", "created_at", "updated_at").
		Values(sess.ID, sess.Title, sess.SystemPrompt, sess.CreatedAt, sess.UpdatedAt).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, queryStr, args...); err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}
	return &sess, nil
}

// GetSession returns a session, or llm.ErrSessionNotFound.
func (s *Store) GetSession(ctx context.Context, id string) (*Session, error) {
	queryStr, args, err := sq.Select("id", "title", "system_prompt", "created_at", "updated_at").
		From(sessionsTable).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var sess Session
	err = s.db.QueryRowContext(ctx, queryStr, args...).
		Scan(&sess.ID, &sess.Title, &sess.SystemPrompt, &sess.CreatedAt, &sess.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, llm.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read session: %w", err)
	}
	return &sess, nil
}

// ListSessions returns sessions, most recently active first.
func (s *Store) ListSessions(ctx context.Context) ([]Session, error) {
	queryStr, args, err := sq.Select("id", "title", "system_prompt", "created_at", "updated_at").
		From(sessionsTable).
		OrderBy("updated_at DESC", "created_at DESC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, queryStr, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var sess Session
		if err := rows.Scan(&sess.ID, &sess.Title, &sess.SystemPrompt, &sess.CreatedAt, &sess.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// RenameSession sets a session's title.
func (s *Store) RenameSession(ctx context.Context, id, title string) error {
	return s.updateSession(ctx, id, map[string]interface{}{"title": strings.TrimSpace(title)})
}

// SetSystemPrompt replaces a session's system prompt. An empty prompt
// removes it.
func (s *Store) SetSystemPrompt(ctx context.Context, id, prompt string) error {
	return s.updateSession(ctx, id, map[string]interface{}{"system_prompt": strings.TrimSpace(prompt)})
}

func (s *Store) updateSession(ctx context.Context, id string, set map[string]interface{}) error {
	set["updated_at"] = s.timestamp()
	queryStr, args, err := sq.Update(sessionsTable).SetMap(set).Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	res, err := s.db.ExecContext(ctx, queryStr, args...)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return llm.ErrSessionNotFound
	}
	return nil
}

// DeleteSession removes a session and, by cascade, its messages.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	queryStr, args, err := sq.Delete(sessionsTable).Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	res, err := s.db.ExecContext(ctx, queryStr, args...)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return llm.ErrSessionNotFound
	}
	return nil
}

// AppendMessage stores a message at the end of a session and bumps the
// session's activity time.
func (s *Store) AppendMessage(ctx context.Context, sessionID, providerID string, role llm.MessageRole, content string, status Status) (*Message, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback after commit is a no-op

	now := s.timestamp()
	queryStr, args, err := sq.Update(sessionsTable).
		Set("updated_at", now).
		Where(sq.Eq{"id": sessionID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	res, err := tx.ExecContext(ctx, queryStr, args...)
	if err != nil {
		return nil, fmt.Errorf("touch session: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, llm.ErrSessionNotFound
	}

	queryStr, args, err = sq.Select("COALESCE(MAX(seq), 0)").
		From(messagesTable).
		Where(sq.Eq{"session_id": sessionID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	var seq int64
	if err := tx.QueryRowContext(ctx, queryStr, args...).Scan(&seq); err != nil {
		return nil, fmt.Errorf("read sequence: %w", err)
	}

	msg := Message{
		ID:         uuid.NewString(),
		SessionID:  sessionID,
		ProviderID: providerID,
		Role:       role,
		Content:    content,
		Status:     status,
		Seq:        seq + 1,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	queryStr, args, err = sq.Insert(messagesTable).
		Columns(messageColumns...).
		Values(msg.ID, msg.SessionID, msg.ProviderID, string(msg.Role), msg.Content, string(msg.Status),
			msg.Seq, msg.CreatedAt, msg.UpdatedAt).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	if _, err := tx.ExecContext(ctx, queryStr, args...); err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return &msg, nil
}

// UpdateMessage replaces a message's content and status.
func (s *Store) UpdateMessage(ctx context.Context, id, content string, status Status) error {
	queryStr, args, err := sq.Update(messagesTable).
		Set("content", content).
		Set("status", string(status)).
		Set("updated_at", s.timestamp()).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	res, err := s.db.ExecContext(ctx, queryStr, args...)
	if err != nil {
		return fmt.Errorf("update message: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("message %s not found", id)
	}
	return nil
}

// Messages returns a session's messages, oldest first. A non-empty
// providerID restricts the result to that provider column.
func (s *Store) Messages(ctx context.Context, sessionID, providerID string) ([]Message, error) {
	query := sq.Select(messageColumns...).
		From(messagesTable).
		Where(sq.Eq{"session_id": sessionID}).
		OrderBy("seq ASC")
	if providerID != "" {
		query = query.Where(sq.Eq{"provider_id": providerID})
	}

	queryStr, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, queryStr, args...)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var (
			m      Message
			role   string
			status string
		)
		if err := rows.Scan(&m.ID, &m.SessionID, &m.ProviderID, &role, &m.Content, &status,
			&m.Seq, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Role = llm.MessageRole(role)
		m.Status = Status(status)
		out = append(out, m)
	}
	return out, rows.Err()
}

// History rebuilds the conversation a provider column has seen so far: the
// session's system prompt, if any, followed by its completed messages.
// Streaming and failed turns are left out.
func (s *Store) History(ctx context.Context, sessionID, providerID string) ([]llm.ChatMessage, error) {
	sess, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	msgs, err := s.Messages(ctx, sessionID, providerID)
	if err != nil {
		return nil, err
	}

	var history []llm.ChatMessage
	if sess.SystemPrompt != "" {
		history = append(history, llm.NewTextMessage(llm.RoleSystem, sess.SystemPrompt))
	}
	for _, m := range msgs {
		if m.Status != StatusDone {
			continue
		}
		history = append(history, llm.NewTextMessage(m.Role, m.Content))
	}
	return history, nil
}
