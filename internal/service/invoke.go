package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/xiaot623/flowdispatch/internal/adapter/workflow"
	"github.com/xiaot623/flowdispatch/internal/domain"
	"github.com/xiaot623/flowdispatch/internal/policy"
	"github.com/xiaot623/flowdispatch/internal/result"
	"github.com/xiaot623/flowdispatch/internal/trigger"
)

// Invocation sources.
const (
	SourceDispatch = "dispatch"
	SourceHTTP     = "http"
)

const maxHistory = 50

var premiumPlans = map[string]bool{"solo": true, "standard": true, "premium": true}

// InvokeRequest is one workflow invocation on behalf of a user.
type InvokeRequest struct {
	Module    domain.ModuleDescriptor
	UserID    string `validate:"required"`
	Message   string
	Context   map[string]any
	ChatMode  bool
	SessionID string
	TaskID    string
	Source    string
}

// InvokeWorkflow performs exactly one webhook call for req and classifies the
// outcome. It never panics to its caller.
func (s *Service) InvokeWorkflow(ctx context.Context, req InvokeRequest) result.Result[*domain.WorkflowOutcome] {
	return s.invokeOp.Run(ctx, req)
}

// InvokeModule resolves slug in the catalog and invokes it.
func (s *Service) InvokeModule(ctx context.Context, slug string, req InvokeRequest) result.Result[*domain.WorkflowOutcome] {
	module := s.GetModuleBySlug(ctx, slug)
	if !module.Success {
		return result.Forward[*domain.WorkflowOutcome](module)
	}
	req.Module = *module.Data
	if req.Source == "" {
		req.Source = SourceHTTP
	}
	return s.InvokeWorkflow(ctx, req)
}

func validOutcome(o *domain.WorkflowOutcome) error {
	if o == nil {
		return errors.New("outcome is nil")
	}
	switch o.ModuleType {
	case domain.OutcomeConversational, domain.OutcomeGenerative, domain.OutcomeUnknown:
	default:
		return errors.New("outcome has unknown module_type " + string(o.ModuleType))
	}
	if len(o.Data) == 0 {
		return errors.New("outcome has no data")
	}
	return nil
}

func (s *Service) invoke(ctx context.Context, req InvokeRequest) result.Result[*domain.WorkflowOutcome] {
	module := req.Module
	log := s.logger.With().Str("module_slug", module.Slug).Str("user_id", req.UserID).Str("task_id", req.TaskID).Logger()

	if module.Endpoint == "" {
		return result.Failf[*domain.WorkflowOutcome](result.KindConfiguration, "module %s has no webhook endpoint", module.Slug)
	}

	profile, err := s.store.GetProfile(ctx, req.UserID)
	if err != nil {
		return result.Failf[*domain.WorkflowOutcome](result.KindProfileNotFound, "identity lookup failed for %s: %v", req.UserID, err)
	}
	if profile == nil {
		return result.Failf[*domain.WorkflowOutcome](result.KindProfileNotFound, "profile %s not found", req.UserID)
	}

	now := s.now()
	auth := buildAuthEnvelope(profile, module, now)

	rules := s.rules.Load()
	triggerType := rules.resolver.Resolve(module, trigger.Request{
		ChatMode:  req.ChatMode,
		SessionID: req.SessionID,
		Message:   req.Message,
	})

	if s.policyEngine != nil {
		decision, reason, err := s.policyEngine.Evaluate(ctx, policy.Input{
			UserID:      req.UserID,
			ModuleSlug:  module.Slug,
			PremiumOnly: module.PremiumOnly,
			Plan:        auth.Plan,
			IsPremium:   auth.IsPremium,
			TriggerType: string(triggerType),
		})
		if err != nil {
			return result.Failf[*domain.WorkflowOutcome](result.KindInternal, "module policy evaluation failed: %v", err)
		}
		if decision == policy.DecisionBlock {
			if reason == "" {
				reason = "blocked by module policy"
			}
			return result.Failf[*domain.WorkflowOutcome](result.KindPolicyDenied, "%s: %s", module.Slug, reason)
		}
	}

	var session *domain.ChatSession
	if triggerType == domain.TriggerChat {
		res := s.resolveSession(ctx, req.UserID, module.Slug, req.SessionID)
		if !res.Success {
			return result.Forward[*domain.WorkflowOutcome](res)
		}
		session = res.Data
	}

	inputContext := req.Context
	if inputContext == nil {
		inputContext = map[string]any{}
	}
	body := &domain.WebhookRequest{
		Input: domain.WebhookInput{
			Message:    req.Message,
			Context:    inputContext,
			ModuleSlug: module.Slug,
			ModuleName: module.Name,
			ModuleID:   module.ID,
			Timestamp:  now.UTC().Format(time.RFC3339Nano),
		},
		Metadata: domain.WebhookMetadata{
			ModuleID:      module.ID,
			ModuleSlug:    module.Slug,
			ModuleName:    module.Name,
			CorrelationID: uuid.New().String(),
			TriggerType:   triggerType,
			TaskID:        req.TaskID,
			Source:        req.Source,
		},
		Auth: auth,
	}
	sessionID := ""
	if session != nil {
		sessionID = session.ID
		body.SessionID = sessionID
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return result.Failf[*domain.WorkflowOutcome](result.KindExecution, "invocation cancelled before dispatch: %v", err)
	}

	timeout := rules.timeouts.For(module.Slug)
	log.Debug().Str("trigger_type", string(triggerType)).Dur("timeout", timeout).
		Str("correlation_id", body.Metadata.CorrelationID).Msg("invoking workflow")

	start := time.Now()
	respBody, err := s.workflow.Post(ctx, workflow.Call{
		Endpoint:   module.Endpoint,
		ModuleSlug: module.Slug,
		UserID:     req.UserID,
		Plan:       auth.Plan,
		Timeout:    timeout,
		Body:       body,
	})
	if err != nil {
		log.Warn().Err(err).Dur("elapsed", time.Since(start)).Msg("workflow invocation failed")
		return result.FromError[*domain.WorkflowOutcome](err)
	}

	outcome, err := workflow.DecodeOutcome(module, triggerType, sessionID, respBody)
	if err != nil {
		return result.FromError[*domain.WorkflowOutcome](err)
	}

	if session != nil {
		data := nextSessionData(session.SessionData, respBody, req.Message, outcome.OutputMessage, s.now())
		if res := s.UpdateSessionData(ctx, session.ID, data); !res.Success {
			log.Error().Str("session_id", session.ID).Str("kind", string(res.Kind)).Msg(res.Err)
		}
	}

	log.Info().Str("module_type", string(outcome.ModuleType)).Dur("elapsed", time.Since(start)).Msg("workflow invocation succeeded")
	return result.Ok(outcome)
}

func buildAuthEnvelope(profile *domain.Profile, module domain.ModuleDescriptor, now time.Time) domain.AuthEnvelope {
	plan := strings.ToLower(strings.TrimSpace(profile.PlanName))
	return domain.AuthEnvelope{
		UserID:           profile.UserID,
		Email:            profile.Email,
		Plan:             plan,
		CreditBalance:    profile.CreditBalance,
		Status:           profile.Status,
		FullName:         profile.FullName,
		Role:             profile.Role,
		IsPremium:        premiumPlans[plan],
		AccountCreated:   profile.CreatedAt.UTC().Format(time.RFC3339),
		SessionTimestamp: now.UTC().Format(time.RFC3339Nano),
		ModuleInfo: domain.ModuleInfo{
			ID:   module.ID,
			Name: module.Name,
			Slug: module.Slug,
		},
	}
}

// nextSessionData returns the conversation state after a chat turn. An engine
// that returns session_data owns the state; otherwise the turn is appended to
// a bounded history.
func nextSessionData(prev map[string]any, respBody []byte, message string, output *string, at time.Time) map[string]any {
	reply := workflow.ConversationalReply(respBody)
	if reply.SessionData != nil {
		return reply.SessionData
	}

	next := make(map[string]any, len(prev)+2)
	for k, v := range prev {
		next[k] = v
	}

	var history []any
	if h, ok := prev["history"].([]any); ok {
		history = append(history, h...)
	}
	entry := map[string]any{"message": message, "at": at.UTC().Format(time.RFC3339)}
	if output != nil {
		entry["output_message"] = *output
	} else {
		entry["output_message"] = nil
	}
	history = append(history, entry)
	if len(history) > maxHistory {
		history = history[len(history)-maxHistory:]
	}
	next["history"] = history

	turns := 0
	switch v := prev["turns"].(type) {
	case float64:
		turns = int(v)
	case int:
		turns = v
	}
	next["turns"] = turns + 1
	return next
}
