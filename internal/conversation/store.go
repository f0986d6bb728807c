package conversation

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	serrors "github.com/p-blackswan/studio-agent/internal/errors"
	"github.com/p-blackswan/studio-agent/internal/store"
)

const maxTitleLength = 200

// Store persists sessions, messages and events.
type Store struct {
	ds     *store.Store
	logger zerolog.Logger
}

// NewStore creates a chat store.
func NewStore(ds *store.Store, logger zerolog.Logger) *Store {
	return &Store{
		ds:     ds,
		logger: logger.With().Str("component", "conversation.store").Logger(),
	}
}

// --- Sessions ---

const sessionColumns = `id, project_id, title, status, created_at, updated_at`

// CreateSession inserts a new active session. Project existence is checked by
// the caller.
func (s *Store) CreateSession(ctx context.Context, in CreateSessionInput) (*Session, error) {
	title := strings.TrimSpace(in.Title)
	if len([]rune(title)) > maxTitleLength {
		return nil, serrors.Invalid("title", fmt.Sprintf("must be at most %d characters", maxTitleLength))
	}

	now := time.Now().UnixMilli()
	sess := &Session{
		ID:        uuid.New().String(),
		ProjectID: optional(in.ProjectID),
		Title:     optional(title),
		Status:    SessionActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if _, err := s.ds.DB().ExecContext(ctx,
		`INSERT INTO chat_sessions (`+sessionColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
		sess.ID, store.NullString(in.ProjectID), store.NullString(title), string(sess.Status), now, now,
	); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	s.logger.Info().Str("session_id", sess.ID).Str("project_id", in.ProjectID).Msg("Session created")
	return sess, nil
}

// GetSession loads a session. A missing id is ErrNotFound.
func (s *Store) GetSession(ctx context.Context, id string) (*Session, error) {
	sess, err := scanSession(s.ds.DB().QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM chat_sessions WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, serrors.NotFound("session", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return sess, nil
}

// ListSessions returns sessions, most recently active first.
func (s *Store) ListSessions(ctx context.Context, f SessionFilter) ([]*Session, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, serrors.Invalid("status", "must be one of active, closed, archived")
	}
	limit := clampLimit(f.Limit, 20, 200)

	where := []string{"1 = 1"}
	var args []any
	if f.ProjectID != "" {
		where = append(where, "project_id = ?")
		args = append(args, f.ProjectID)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	args = append(args, limit, max(f.Offset, 0))

	rows, err := s.ds.DB().QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM chat_sessions WHERE `+strings.Join(where, " AND ")+
			` ORDER BY updated_at DESC, created_at DESC LIMIT ? OFFSET ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	out := make([]*Session, 0)
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// --- Messages ---

const messageColumns = `id, session_id, role, content, extra, created_at`

// AppendMessage persists a message and touches the session's updated_at in
// the same transaction.
func (s *Store) AppendMessage(ctx context.Context, sessionID string, role Role, content string, extra map[string]any) (*Message, error) {
	raw, err := encodeJSON(extra)
	if err != nil {
		return nil, err
	}

	now := time.Now().UnixMilli()
	m := &Message{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		Extra:     extra,
		CreatedAt: now,
	}
	err = s.ds.WriteTx(ctx, func(ctx context.Context, q store.Querier) error {
		res, err := q.ExecContext(ctx, `UPDATE chat_sessions SET updated_at = ? WHERE id = ?`, now, sessionID)
		if err != nil {
			return fmt.Errorf("failed to touch session: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return serrors.NotFound("session", sessionID)
		}
		if _, err := q.ExecContext(ctx,
			`INSERT INTO chat_messages (id, session_id, role, content, extra, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			m.ID, sessionID, string(role), content, raw, now, now,
		); err != nil {
			return fmt.Errorf("failed to insert message: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

// AppendNote appends note to a message's content and merges extra into its
// metadata. Existing content is never rewritten.
func (s *Store) AppendNote(ctx context.Context, messageID, note string, extra map[string]any) (*Message, error) {
	var out *Message
	err := s.ds.WriteTx(ctx, func(ctx context.Context, q store.Querier) error {
		m, err := scanMessage(q.QueryRowContext(ctx,
			`SELECT `+messageColumns+` FROM chat_messages WHERE id = ?`, messageID))
		if errors.Is(err, sql.ErrNoRows) {
			return serrors.NotFound("message", messageID)
		}
		if err != nil {
			return fmt.Errorf("failed to load message: %w", err)
		}

		if len(extra) > 0 {
			if m.Extra == nil {
				m.Extra = make(map[string]any, len(extra))
			}
			for k, v := range extra {
				m.Extra[k] = v
			}
		}
		raw, err := encodeJSON(m.Extra)
		if err != nil {
			return err
		}

		if _, err := q.ExecContext(ctx,
			`UPDATE chat_messages SET content = content || ?, extra = ?, updated_at = ? WHERE id = ?`,
			note, raw, time.Now().UnixMilli(), messageID,
		); err != nil {
			return fmt.Errorf("failed to append note: %w", err)
		}
		m.Content += note
		out = m
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetMessage loads one message.
func (s *Store) GetMessage(ctx context.Context, id string) (*Message, error) {
	m, err := scanMessage(s.ds.DB().QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM chat_messages WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, serrors.NotFound("message", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	return m, nil
}

// ListMessages returns a session's messages, oldest first.
func (s *Store) ListMessages(ctx context.Context, sessionID string, limit, offset int) ([]*Message, error) {
	return s.queryMessages(ctx,
		`SELECT `+messageColumns+` FROM chat_messages WHERE session_id = ? ORDER BY seq ASC LIMIT ? OFFSET ?`,
		sessionID, clampLimit(limit, 50, 500), max(offset, 0))
}

// RecentMessages returns the last n messages of a session, oldest first.
func (s *Store) RecentMessages(ctx context.Context, sessionID string, n int) ([]*Message, error) {
	msgs, err := s.queryMessages(ctx,
		`SELECT `+messageColumns+` FROM chat_messages WHERE session_id = ? ORDER BY seq DESC LIMIT ?`,
		sessionID, n)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func (s *Store) queryMessages(ctx context.Context, query string, args ...any) ([]*Message, error) {
	rows, err := s.ds.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	out := make([]*Message, 0)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// --- Events ---

// AppendEvent records an event and returns it with its assigned id.
func (s *Store) AppendEvent(ctx context.Context, sessionID string, typ EventType, payload map[string]any) (*Event, error) {
	if !typ.Valid() {
		return nil, serrors.Invalid("type", fmt.Sprintf("unknown event type %q", typ))
	}
	if payload == nil {
		payload = map[string]any{}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode event payload: %w", err)
	}

	now := time.Now().UnixMilli()
	res, err := s.ds.DB().ExecContext(ctx,
		`INSERT INTO chat_events (session_id, type, payload, created_at) VALUES (?, ?, ?, ?)`,
		sessionID, string(typ), string(raw), now)
	if err != nil {
		return nil, fmt.Errorf("failed to insert event: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read event id: %w", err)
	}

	s.logger.Debug().Str("session_id", sessionID).Int64("event_id", id).Str("type", string(typ)).Msg("Event recorded")
	return &Event{ID: id, SessionID: sessionID, Type: typ, Payload: payload, CreatedAt: now}, nil
}

// ListEvents returns events with id > after, in id order.
func (s *Store) ListEvents(ctx context.Context, sessionID string, after int64, limit int) ([]*Event, error) {
	rows, err := s.ds.DB().QueryContext(ctx,
		`SELECT id, session_id, type, payload, created_at FROM chat_events
		WHERE session_id = ? AND id > ? ORDER BY id ASC LIMIT ?`,
		sessionID, after, clampLimit(limit, 100, 1000))
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	out := make([]*Event, 0)
	for rows.Next() {
		var (
			e   Event
			typ string
			raw string
		)
		if err := rows.Scan(&e.ID, &e.SessionID, &typ, &raw, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		e.Type = EventType(typ)
		if err := json.Unmarshal([]byte(raw), &e.Payload); err != nil {
			return nil, fmt.Errorf("failed to decode event %d: %w", e.ID, err)
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

// --- helpers ---

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*Session, error) {
	var (
		sess      Session
		projectID sql.NullString
		title     sql.NullString
		status    string
	)
	if err := row.Scan(&sess.ID, &projectID, &title, &status, &sess.CreatedAt, &sess.UpdatedAt); err != nil {
		return nil, err
	}
	if projectID.Valid {
		sess.ProjectID = &projectID.String
	}
	if title.Valid {
		sess.Title = &title.String
	}
	sess.Status = SessionStatus(status)
	return &sess, nil
}

func scanMessage(row rowScanner) (*Message, error) {
	var (
		m     Message
		role  string
		extra sql.NullString
	)
	if err := row.Scan(&m.ID, &m.SessionID, &role, &m.Content, &extra, &m.CreatedAt); err != nil {
		return nil, err
	}
	m.Role = Role(role)
	if extra.Valid && extra.String != "" {
		if err := json.Unmarshal([]byte(extra.String), &m.Extra); err != nil {
			return nil, fmt.Errorf("failed to decode message extra: %w", err)
		}
	}
	return &m, nil
}

func encodeJSON(v map[string]any) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to encode extra: %w", err)
	}
	return sql.NullString{String: string(raw), Valid: true}, nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func clampLimit(limit, def, ceiling int) int {
	if limit <= 0 {
		return def
	}
	return min(limit, ceiling)
}
