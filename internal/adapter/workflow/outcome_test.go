package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/flowdispatch/internal/domain"
	"github.com/xiaot623/flowdispatch/internal/result"
)

func TestDecodeOutcomeVariants(t *testing.T) {
	writer := domain.ModuleDescriptor{Slug: "ai-writer"}
	outcome, err := DecodeOutcome(writer, domain.TriggerStandard, "", []byte(`{"article":"x"}`))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeGenerative, outcome.ModuleType)
	require.NotNil(t, outcome.OutputMessage)
	assert.Equal(t, GeneratedMessage, *outcome.OutputMessage)
	assert.JSONEq(t, `{"article":"x"}`, string(outcome.Data))

	research := domain.ModuleDescriptor{Slug: "market-research"}
	outcome, err = DecodeOutcome(research, domain.TriggerStandard, "", []byte(`[1,2]`))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeUnknown, outcome.ModuleType)
	assert.Equal(t, CompletedMessage, *outcome.OutputMessage)
}

func TestDecodeOutcomeConversational(t *testing.T) {
	coach := domain.ModuleDescriptor{Slug: "business-coach"}

	outcome, err := DecodeOutcome(coach, domain.TriggerChat, "s1", []byte(`{"question":"What is your budget?"}`))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeConversational, outcome.ModuleType)
	assert.Equal(t, "s1", outcome.SessionID)
	require.NotNil(t, outcome.OutputMessage)
	assert.Equal(t, "What is your budget?", *outcome.OutputMessage)

	outcome, err = DecodeOutcome(coach, domain.TriggerChat, "s1", []byte(`[{"next_question":"And the deadline?"}]`))
	require.NoError(t, err)
	assert.Equal(t, "And the deadline?", *outcome.OutputMessage)

	outcome, err = DecodeOutcome(coach, domain.TriggerChat, "s1", []byte(`{"question":"ignored","complete":true}`))
	require.NoError(t, err)
	assert.Nil(t, outcome.OutputMessage)
}

func TestDecodeOutcomeInvalidJSON(t *testing.T) {
	_, err := DecodeOutcome(domain.ModuleDescriptor{Slug: "x"}, domain.TriggerStandard, "", []byte(`<html>`))
	assert.Equal(t, result.KindExecution, result.KindOf(err))
}

func TestConversationalReplySessionData(t *testing.T) {
	reply := ConversationalReply([]byte(`{"question":"q","session_data":{"step":2}}`))
	assert.Equal(t, float64(2), reply.SessionData["step"])
	assert.Nil(t, ConversationalReply([]byte(`"text"`)).SessionData)
}
