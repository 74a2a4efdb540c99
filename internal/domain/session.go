package domain

import "time"

// DefaultSessionTTL is the lifetime of a chat session at creation.
const DefaultSessionTTL = 24 * time.Hour

// ChatSession is the conversational state of one (user, module) pair.
type ChatSession struct {
	ID           string         `json:"id"`
	UserID       string         `json:"user_id"`
	ModuleSlug   string         `json:"module_slug"`
	SessionData  map[string]any `json:"session_data"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    *time.Time     `json:"updated_at,omitempty"`
	LastActivity *time.Time     `json:"last_activity,omitempty"`
	ExpiresAt    time.Time      `json:"expires_at"`
}

// Active reports whether the session has not expired at now.
func (s *ChatSession) Active(now time.Time) bool {
	return s.ExpiresAt.After(now)
}
