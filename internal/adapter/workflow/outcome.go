package workflow

import (
	"encoding/json"
	"strings"

	"github.com/xiaot623/flowdispatch/internal/domain"
	"github.com/xiaot623/flowdispatch/internal/result"
)

// Fixed summaries of non-conversational outcomes.
const (
	GeneratedMessage = "Your content has been generated successfully."
	CompletedMessage = "Workflow completed successfully."
)

var generativeModules = map[string]struct{}{
	"ai-writer":            {},
	"image-generator":      {},
	"video-generator":      {},
	"seo-optimizer":        {},
	"social-media-planner": {},
}

// VariantOf returns the outcome variant of a module invoked with trigger.
func VariantOf(slug string, trigger domain.TriggerType) domain.OutcomeVariant {
	if trigger == domain.TriggerChat {
		return domain.OutcomeConversational
	}
	if _, ok := generativeModules[slug]; ok {
		return domain.OutcomeGenerative
	}
	return domain.OutcomeUnknown
}

// Reply is the subset of a chat response the dispatcher reads.
type Reply struct {
	Question     *string        `json:"question"`
	NextQuestion *string        `json:"next_question"`
	Complete     bool           `json:"complete"`
	SessionData  map[string]any `json:"session_data"`
}

// DecodeOutcome parses a 2xx webhook body into a WorkflowOutcome.
func DecodeOutcome(module domain.ModuleDescriptor, trigger domain.TriggerType, sessionID string, body []byte) (*domain.WorkflowOutcome, error) {
	if !json.Valid(body) {
		return nil, result.Errorf(result.KindExecution, "workflow %s returned invalid JSON: %s", module.Slug, truncate(body, 200))
	}

	outcome := &domain.WorkflowOutcome{
		ModuleType:  VariantOf(module.Slug, trigger),
		ModuleSlug:  module.Slug,
		TriggerType: trigger,
		SessionID:   sessionID,
		Data:        json.RawMessage(body),
	}

	switch outcome.ModuleType {
	case domain.OutcomeConversational:
		outcome.OutputMessage = ConversationalReply(body).nextQuestion()
	case domain.OutcomeGenerative:
		msg := GeneratedMessage
		outcome.OutputMessage = &msg
	default:
		msg := CompletedMessage
		outcome.OutputMessage = &msg
	}
	return outcome, nil
}

// ConversationalReply decodes the chat fields of body. Engines that wrap their
// output in a single-element array are unwrapped. Unknown shapes yield an empty
// reply.
func ConversationalReply(body []byte) Reply {
	var reply Reply
	trimmed := strings.TrimSpace(string(body))
	if strings.HasPrefix(trimmed, "[") {
		var items []json.RawMessage
		if err := json.Unmarshal(body, &items); err != nil || len(items) == 0 {
			return reply
		}
		body = items[0]
	}
	_ = json.Unmarshal(body, &reply)
	return reply
}

func (r Reply) nextQuestion() *string {
	if r.Complete {
		return nil
	}
	for _, q := range []*string{r.Question, r.NextQuestion} {
		if q != nil && *q != "" {
			s := *q
			return &s
		}
	}
	return nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
