package semantic

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taipm/llmproxy/internal/transform"
	"github.com/taipm/llmproxy/internal/uir"
)

func newEnsureRequest() *uir.Request {
	return &uir.Request{
		Messages: []uir.Message{
			{Role: uir.RoleUser, Content: []uir.ContentBlock{{Type: uir.ContentText, Text: "do the thing"}}},
		},
		State: &uir.PipelineState{
			Extra:          make(map[string]any),
			EnsureToolCall: uir.NewEnsureToolCallState(),
		},
	}
}

func TestEnsureToolCallRequestTransform_AddsTerminationToolAndInstruction(t *testing.T) {
	req := newEnsureRequest()
	ctx := &transform.Context{Request: req}

	tr := EnsureToolCallRequestTransform{}
	require.True(t, tr.Applies(ctx))
	require.NoError(t, tr.Run(ctx))

	found := false
	for _, tool := range req.Tools {
		if tool.Name == uir.DefaultTerminationToolName {
			found = true
		}
	}
	assert.True(t, found, "expected termination tool to be registered")
	assert.Equal(t, uir.RoleSystem, req.Messages[0].Role)
	assert.False(t, req.State.SyntheticRequested)
}

func TestEnsureToolCallRequestTransform_RegistersTerminationToolOnlyOnce(t *testing.T) {
	req := newEnsureRequest()
	ctx := &transform.Context{Request: req}
	tr := EnsureToolCallRequestTransform{}

	require.NoError(t, tr.Run(ctx))
	require.NoError(t, tr.Run(ctx))

	count := 0
	for _, tool := range req.Tools {
		if tool.Name == uir.DefaultTerminationToolName {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestEnsureToolCallRequestTransform_ShortCircuitsWhenAlreadyTerminatedWithoutTools(t *testing.T) {
	req := newEnsureRequest()
	req.Messages = append(req.Messages, uir.Message{Role: uir.RoleAssistant, Content: []uir.ContentBlock{{Type: uir.ContentText, Text: "done, no tools"}}})
	ctx := &transform.Context{Request: req}

	tr := EnsureToolCallRequestTransform{}
	require.NoError(t, tr.Run(ctx))
	assert.True(t, req.State.SyntheticRequested)
}

func TestEnsureToolCallRequestTransform_NotAppliedWithoutState(t *testing.T) {
	req := &uir.Request{State: uir.NewPipelineState()}
	ctx := &transform.Context{Request: req}
	assert.False(t, EnsureToolCallRequestTransform{}.Applies(ctx))
}

func TestEnsureToolCallResponseTransform_NoToolCallsRequestsRetry(t *testing.T) {
	req := newEnsureRequest()
	raw := `{"choices":[{"message":{"content":"just text, no tools"}}]}`
	ctx := &transform.Context{Request: req, RawProviderBody: raw}

	tr := EnsureToolCallResponseTransform{}
	require.True(t, tr.Applies(ctx))
	require.NoError(t, tr.Run(ctx))

	assert.True(t, req.State.RetryRequested)
	assert.True(t, req.State.EnsureToolCall.PendingReminder)
}

func TestEnsureToolCallResponseTransform_AcceptsNonTerminationToolCall(t *testing.T) {
	req := newEnsureRequest()
	raw := `{"choices":[{"message":{"tool_calls":[{"id":"call_1","type":"function","function":{"name":"get_weather","arguments":"{}"}}]}}]}`
	ctx := &transform.Context{Request: req, RawProviderBody: raw}

	tr := EnsureToolCallResponseTransform{}
	require.NoError(t, tr.Run(ctx))

	assert.False(t, req.State.RetryRequested)
	assert.False(t, req.State.EnsureToolCall.PendingReminder)
}

func TestEnsureToolCallResponseTransform_TerminationWithoutContentRequestsFinalAnswer(t *testing.T) {
	req := newEnsureRequest()
	raw := `{"choices":[{"message":{"content":null,"tool_calls":[{"id":"call_1","type":"function","function":{"name":"done","arguments":"{}"}}]}}]}`
	ctx := &transform.Context{Request: req, RawProviderBody: raw}

	tr := EnsureToolCallResponseTransform{}
	require.NoError(t, tr.Run(ctx))

	assert.True(t, req.State.RetryRequested)
	assert.True(t, req.State.EnsureToolCall.FinalAnswerRequired)
}

func TestEnsureToolCallResponseTransform_TerminationWithFinalAnswerAccepts(t *testing.T) {
	req := newEnsureRequest()
	raw := `{"choices":[{"message":{"content":null,"tool_calls":[{"id":"call_1","type":"function","function":{"name":"done","arguments":"{\"final_answer\":\"42\"}"}}]}}]}`
	ctx := &transform.Context{Request: req, RawProviderBody: raw}

	tr := EnsureToolCallResponseTransform{}
	require.NoError(t, tr.Run(ctx))

	assert.False(t, req.State.RetryRequested)
	assert.Contains(t, ctx.RawProviderBody, "42")
}

func TestEnsureToolCallResponseTransform_SkippedForSyntheticResponse(t *testing.T) {
	req := newEnsureRequest()
	ctx := &transform.Context{
		Request:                 req,
		RawProviderBody:         `{"choices":[{"message":{"content":"anything"}}]}`,
		ProviderResponseHeaders: map[string]string{"x-synthetic-response": "true"},
	}
	assert.False(t, EnsureToolCallResponseTransform{}.Applies(ctx))
}
