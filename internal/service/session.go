package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/xiaot623/flowdispatch/internal/domain"
	"github.com/xiaot623/flowdispatch/internal/result"
)

func (s *Service) sessionTTL() time.Duration {
	if s.config != nil && s.config.SessionTTL > 0 {
		return s.config.SessionTTL
	}
	return domain.DefaultSessionTTL
}

func (s *Service) newSession(userID, moduleSlug string) *domain.ChatSession {
	now := s.now()
	return &domain.ChatSession{
		ID:          "chat_" + uuid.New().String(),
		UserID:      userID,
		ModuleSlug:  moduleSlug,
		SessionData: map[string]any{},
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.sessionTTL()),
	}
}

// FindActiveSession returns the most recently created unexpired session of the
// pair, or SESSION_NOT_FOUND.
func (s *Service) FindActiveSession(ctx context.Context, userID, moduleSlug string) result.Result[*domain.ChatSession] {
	session, err := s.store.FindActiveChatSession(ctx, userID, moduleSlug, s.now())
	if err != nil {
		return result.Failf[*domain.ChatSession](result.KindUnknown, "failed to find session: %v", err)
	}
	if session == nil {
		return result.Failf[*domain.ChatSession](result.KindSessionNotFound, "no active session for %s/%s", userID, moduleSlug)
	}
	return result.Ok(session)
}

// CreateSession inserts a new session with empty data.
func (s *Service) CreateSession(ctx context.Context, userID, moduleSlug string) result.Result[*domain.ChatSession] {
	session := s.newSession(userID, moduleSlug)
	if err := s.store.CreateChatSession(ctx, session); err != nil {
		return result.Failf[*domain.ChatSession](result.KindUnknown, "failed to create session: %v", err)
	}
	return result.Ok(session)
}

// AcquireSession returns the active session of the pair, creating one when
// none exists. Concurrent first turns on one database get the same session.
func (s *Service) AcquireSession(ctx context.Context, userID, moduleSlug string) result.Result[*domain.ChatSession] {
	session, created, err := s.store.AcquireChatSession(ctx, s.newSession(userID, moduleSlug), s.now())
	if err != nil {
		return result.Failf[*domain.ChatSession](result.KindUnknown, "failed to acquire session: %v", err)
	}
	if created {
		s.logger.Debug().Str("session_id", session.ID).Str("user_id", userID).Str("module_slug", moduleSlug).Msg("chat session created")
	}
	return result.Ok(session)
}

// UpdateSessionData replaces the session's data and bumps its last activity.
func (s *Service) UpdateSessionData(ctx context.Context, sessionID string, data map[string]any) result.Result[struct{}] {
	if data == nil {
		data = map[string]any{}
	}
	ok, err := s.store.UpdateChatSessionData(ctx, sessionID, data, s.now())
	if err != nil {
		return result.Failf[struct{}](result.KindUnknown, "failed to update session: %v", err)
	}
	if !ok {
		return result.Failf[struct{}](result.KindSessionNotFound, "session %s not found", sessionID)
	}
	return result.Ok(struct{}{})
}

// GetSession looks a session up by id, expired or not.
func (s *Service) GetSession(ctx context.Context, sessionID string) result.Result[*domain.ChatSession] {
	session, err := s.store.GetChatSession(ctx, sessionID)
	if err != nil {
		return result.Failf[*domain.ChatSession](result.KindUnknown, "failed to get session: %v", err)
	}
	if session == nil {
		return result.Failf[*domain.ChatSession](result.KindSessionNotFound, "session %s not found", sessionID)
	}
	return result.Ok(session)
}

// CleanupExpired deletes sessions that expired before now and returns how
// many were removed.
func (s *Service) CleanupExpired(ctx context.Context) result.Result[int64] {
	n, err := s.store.DeleteExpiredChatSessions(ctx, s.now())
	if err != nil {
		return result.Failf[int64](result.KindUnknown, "failed to clean up sessions: %v", err)
	}
	if n > 0 {
		s.logger.Info().Int64("deleted", n).Msg("expired chat sessions removed")
	}
	return result.Ok(n)
}

// resolveSession picks the session for a chat turn. A caller-supplied id is
// honored when it names an active session of the same pair; otherwise the
// pair's active session is reused or created.
func (s *Service) resolveSession(ctx context.Context, userID, moduleSlug, requested string) result.Result[*domain.ChatSession] {
	if requested != "" {
		res := s.GetSession(ctx, requested)
		if res.Success && res.Data.UserID == userID && res.Data.ModuleSlug == moduleSlug && res.Data.Active(s.now()) {
			return res
		}
		if !res.Success && res.Kind != result.KindSessionNotFound {
			return res
		}
	}

	found := s.FindActiveSession(ctx, userID, moduleSlug)
	if found.Success || found.Kind != result.KindSessionNotFound {
		return found
	}
	return s.AcquireSession(ctx, userID, moduleSlug)
}
