// Package trigger decides whether an invocation runs as a multi-turn chat or a
// single-shot workflow call.
package trigger

import (
	"net/url"
	"strings"

	"github.com/xiaot623/flowdispatch/internal/domain"
)

// Request carries the caller-supplied hints used by Resolve.
type Request struct {
	ChatMode  bool
	SessionID string
	Message   string
}

// Resolver classifies invocations. ChatModules is the allow-list of slugs that
// are always conversational.
type Resolver struct {
	chatModules map[string]struct{}
}

// NewResolver creates a resolver with the given conversational allow-list.
func NewResolver(chatModules []string) *Resolver {
	set := make(map[string]struct{}, len(chatModules))
	for _, slug := range chatModules {
		set[slug] = struct{}{}
	}
	return &Resolver{chatModules: set}
}

// Resolve returns CHAT or STANDARD. Rules are checked in order and the first
// match wins:
//  1. the request asks for chat mode and carries both a session id and a message
//  2. the module's trigger type hint is CHAT
//  3. the module's endpoint path ends with /chat
//  4. the module's slug is in the conversational allow-list
func (r *Resolver) Resolve(module domain.ModuleDescriptor, req Request) domain.TriggerType {
	switch {
	case req.ChatMode && req.SessionID != "" && req.Message != "":
		return domain.TriggerChat
	case strings.EqualFold(string(module.TriggerType), string(domain.TriggerChat)):
		return domain.TriggerChat
	case endpointIsChat(module.Endpoint):
		return domain.TriggerChat
	}
	if _, ok := r.chatModules[module.Slug]; ok {
		return domain.TriggerChat
	}
	return domain.TriggerStandard
}

func endpointIsChat(endpoint string) bool {
	if endpoint == "" {
		return false
	}
	path := endpoint
	if u, err := url.Parse(endpoint); err == nil && u.Path != "" {
		path = u.Path
	}
	return strings.HasSuffix(strings.TrimRight(path, "/"), "/chat")
}
