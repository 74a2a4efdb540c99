package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/xiaot623/flowdispatch/internal/domain"
)

const chatSessionColumns = `session_id, user_id, module_slug, session_data, created_at, updated_at, expires_at, last_activity`

func scanChatSession(row rowScanner) (*domain.ChatSession, error) {
	var session domain.ChatSession
	var data string
	var createdAt, expiresAt int64
	var updatedAt, lastActivity sql.NullInt64
	if err := row.Scan(&session.ID, &session.UserID, &session.ModuleSlug, &data, &createdAt,
		&updatedAt, &expiresAt, &lastActivity); err != nil {
		return nil, err
	}
	m, err := unmarshalMap(data)
	if err != nil {
		return nil, fmt.Errorf("session %s: invalid session_data: %w", session.ID, err)
	}
	session.SessionData = m
	session.CreatedAt = fromMillis(createdAt)
	session.UpdatedAt = timePtr(updatedAt)
	session.ExpiresAt = fromMillis(expiresAt)
	session.LastActivity = timePtr(lastActivity)
	return &session, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func insertChatSession(ctx context.Context, db execer, session *domain.ChatSession) error {
	data, err := marshalMap(session.SessionData)
	if err != nil {
		return fmt.Errorf("failed to marshal session_data: %w", err)
	}
	_, err = db.ExecContext(ctx,
		`INSERT INTO chat_sessions (`+chatSessionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		session.ID, session.UserID, session.ModuleSlug, data, toMillis(session.CreatedAt),
		nullMillis(session.UpdatedAt), toMillis(session.ExpiresAt), nullMillis(session.LastActivity))
	return err
}

func findActiveChatSession(ctx context.Context, db execer, userID, moduleSlug string, now time.Time) (*domain.ChatSession, error) {
	row := db.QueryRowContext(ctx,
		`SELECT `+chatSessionColumns+` FROM chat_sessions
		 WHERE user_id = ? AND module_slug = ? AND expires_at > ?
		 ORDER BY created_at DESC, rowid DESC
		 LIMIT 1`,
		userID, moduleSlug, toMillis(now))
	session, err := scanChatSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return session, nil
}

// CreateChatSession creates a new chat session.
func (s *SQLiteStore) CreateChatSession(ctx context.Context, session *domain.ChatSession) error {
	return insertChatSession(ctx, s.db, session)
}

// GetChatSession retrieves a chat session by ID.
func (s *SQLiteStore) GetChatSession(ctx context.Context, sessionID string) (*domain.ChatSession, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+chatSessionColumns+` FROM chat_sessions WHERE session_id = ?`, sessionID)
	session, err := scanChatSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return session, nil
}

// FindActiveChatSession returns the most recently created session for the pair
// that expires after now.
func (s *SQLiteStore) FindActiveChatSession(ctx context.Context, userID, moduleSlug string, now time.Time) (*domain.ChatSession, error) {
	return findActiveChatSession(ctx, s.db, userID, moduleSlug, now)
}

// AcquireChatSession returns the active session for the candidate's pair, or
// inserts candidate when there is none. Lookup and insert run under one
// IMMEDIATE transaction so writers on the same database serialize.
func (s *SQLiteStore) AcquireChatSession(ctx context.Context, candidate *domain.ChatSession, now time.Time) (session *domain.ChatSession, created bool, err error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, false, err
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
		return nil, false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_, _ = conn.ExecContext(context.Background(), "ROLLBACK")
		}
	}()

	existing, err := findActiveChatSession(ctx, conn, candidate.UserID, candidate.ModuleSlug, now)
	if err != nil {
		return nil, false, err
	}
	if existing == nil {
		if err = insertChatSession(ctx, conn, candidate); err != nil {
			return nil, false, err
		}
		session, created = candidate, true
	} else {
		session = existing
	}

	if _, err = conn.ExecContext(ctx, "COMMIT"); err != nil {
		return nil, false, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return session, created, nil
}

// UpdateChatSessionData replaces session_data and bumps last_activity.
func (s *SQLiteStore) UpdateChatSessionData(ctx context.Context, sessionID string, data map[string]any, at time.Time) (bool, error) {
	encoded, err := marshalMap(data)
	if err != nil {
		return false, fmt.Errorf("failed to marshal session_data: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE chat_sessions SET session_data = ?, last_activity = ?, updated_at = ? WHERE session_id = ?`,
		encoded, toMillis(at), toMillis(at), sessionID)
	if err != nil {
		return false, err
	}
	return affected(res)
}

// DeleteExpiredChatSessions deletes sessions whose expiry is before now.
func (s *SQLiteStore) DeleteExpiredChatSessions(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM chat_sessions WHERE expires_at < ?`, toMillis(now))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
