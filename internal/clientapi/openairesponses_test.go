package clientapi

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taipm/llmproxy/internal/uir"
)

func TestOpenAIResponsesAdapter_ToUIR_StringInputBecomesUserMessage(t *testing.T) {
	a := NewOpenAIResponsesAdapter()
	req, err := a.ToUIR(map[string]any{"model": "gpt-4o", "input": "hello there"}, nil)
	require.NoError(t, err)
	require.Len(t, req.Messages, 1)
	assert.Equal(t, uir.RoleUser, req.Messages[0].Role)
	assert.Equal(t, "hello there", req.Messages[0].Content[0].Text)
}

func TestOpenAIResponsesAdapter_ToUIR_BufferedArrayOfStringsMerges(t *testing.T) {
	a := NewOpenAIResponsesAdapter()
	req, err := a.ToUIR(map[string]any{
		"model": "gpt-4o",
		"input": []any{"first line", "second line"},
	}, nil)
	require.NoError(t, err)
	require.Len(t, req.Messages, 1)
	assert.Equal(t, "first line\nsecond line", req.Messages[0].Content[0].Text)
}

func TestOpenAIResponsesAdapter_ToUIR_TypedMessageObject(t *testing.T) {
	a := NewOpenAIResponsesAdapter()
	req, err := a.ToUIR(map[string]any{
		"model": "gpt-4o",
		"input": []any{
			map[string]any{"type": "message", "role": "user", "content": "hi"},
		},
	}, nil)
	require.NoError(t, err)
	require.Len(t, req.Messages, 1)
	assert.Equal(t, uir.RoleUser, req.Messages[0].Role)
}

func TestOpenAIResponsesAdapter_ToUIR_BareFunctionCallRoutesToAssistantToolCall(t *testing.T) {
	a := NewOpenAIResponsesAdapter()
	req, err := a.ToUIR(map[string]any{
		"model": "gpt-4o",
		"input": []any{
			map[string]any{"call_id": "call_1", "name": "get_weather", "arguments": map[string]any{"location": "SF"}},
		},
	}, nil)
	require.NoError(t, err)
	require.Len(t, req.Messages, 1)
	assert.Equal(t, uir.RoleAssistant, req.Messages[0].Role)
	require.Len(t, req.Messages[0].ToolCalls, 1)
	assert.Equal(t, "call_1", req.Messages[0].ToolCalls[0].ID)
	assert.Equal(t, "get_weather", req.Messages[0].ToolCalls[0].Name)
}

func TestOpenAIResponsesAdapter_ToUIR_BareFunctionCallOutputRoutesToToolMessage(t *testing.T) {
	a := NewOpenAIResponsesAdapter()
	req, err := a.ToUIR(map[string]any{
		"model": "gpt-4o",
		"input": []any{
			map[string]any{"call_id": "call_1", "output": "sunny, 72F"},
		},
	}, nil)
	require.NoError(t, err)
	require.Len(t, req.Messages, 1)
	assert.Equal(t, uir.RoleTool, req.Messages[0].Role)
	assert.Equal(t, "call_1", req.Messages[0].ToolCallID)
	assert.Equal(t, "sunny, 72F", req.Messages[0].Content[0].Text)
}

func TestOpenAIResponsesAdapter_ToUIR_InstructionsBecomeSystemMessage(t *testing.T) {
	a := NewOpenAIResponsesAdapter()
	req, err := a.ToUIR(map[string]any{"model": "gpt-4o", "instructions": "be terse", "input": "hi"}, nil)
	require.NoError(t, err)
	require.Len(t, req.Messages, 2)
	assert.Equal(t, uir.RoleSystem, req.Messages[0].Role)
}

func TestOpenAIResponsesAdapter_ToUIR_ProviderDefinedToolWithoutSchemaIsDropped(t *testing.T) {
	a := NewOpenAIResponsesAdapter()
	req, err := a.ToUIR(map[string]any{
		"model": "gpt-4o",
		"tools": []any{
			map[string]any{"type": "code_execution_v1"},
			map[string]any{"type": "function", "name": "search", "parameters": map[string]any{"type": "object"}},
		},
	}, nil)
	require.NoError(t, err)
	require.Len(t, req.Tools, 1)
	assert.Equal(t, "search", req.Tools[0].Name)
}

func TestOpenAIResponsesAdapter_FromUIR_ReasoningPrecedesMessageAndToolCallsFollow(t *testing.T) {
	a := NewOpenAIResponsesAdapter()
	resp := &uir.Response{
		ID: "resp_1",
		Output: []uir.OutputItem{
			{
				Type:      uir.OutputMessage,
				Role:      uir.RoleAssistant,
				ToolCalls: []uir.ToolCall{{ID: "call_1", Name: "search", Arguments: "{}"}},
				Status:    uir.StatusCompleted,
			},
			{Type: uir.OutputReasoning, Summary: []uir.ContentBlock{{Type: uir.ContentText, Text: "thinking"}}},
		},
	}

	out, err := a.FromUIR(resp, &uir.Request{})
	require.NoError(t, err)

	items := out["output"].([]any)
	require.Len(t, items, 3)
	assert.Equal(t, "reasoning", items[0].(map[string]any)["type"])
	assert.Equal(t, "message", items[1].(map[string]any)["type"])
	assert.Equal(t, "function_call", items[2].(map[string]any)["type"])
}

func TestOpenAIResponsesAdapter_FromUIR_RendersErrorEnvelope(t *testing.T) {
	a := NewOpenAIResponsesAdapter()
	resp := &uir.Response{Error: &uir.ResponseError{Message: "boom", Code: "invalid_config"}}
	out, err := a.FromUIR(resp, &uir.Request{})
	require.NoError(t, err)
	errObj := out["error"].(map[string]any)
	assert.Equal(t, "boom", errObj["message"])
}
