package openaicompat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taipm/llmproxy/internal/uir"
)

// Null message content alongside a tool call must normalize to an empty
// content array and finish_reason "tool_calls".
func TestNormalizeChatCompletion_NullContentPlusToolCall(t *testing.T) {
	raw := `{"id":"chatcmpl-123","model":"m","choices":[{"finish_reason":null,"message":{"role":"assistant","content":null,"reasoning_content":null,"tool_calls":[{"id":"call_1","type":"function","function":{"name":"search","arguments":"{\"query\":\"docs\"}"}}]}}],"usage":{"prompt_tokens":1,"completion_tokens":2,"total_tokens":3}}`

	pr := &uir.ProviderResponse{Status: 200, Body: raw}
	req := &uir.Request{Operation: uir.OperationChat}

	resp, err := NormalizeChatCompletion(pr, req)
	require.NoError(t, err)

	require.Len(t, resp.Output, 1)
	msg := resp.Output[0]
	assert.Equal(t, uir.OutputMessage, msg.Type)
	assert.Equal(t, uir.RoleAssistant, msg.Role)
	assert.Empty(t, msg.Content)
	require.Len(t, msg.ToolCalls, 1)
	assert.Equal(t, "call_1", msg.ToolCalls[0].ID)
	assert.Equal(t, "search", msg.ToolCalls[0].Name)
	assert.Equal(t, `{"query":"docs"}`, msg.ToolCalls[0].Arguments)
	assert.Equal(t, "tool_calls", resp.FinishReason)
	require.NotNil(t, resp.Usage)
	assert.Equal(t, 3, resp.Usage.TotalTokens)
}

func TestNormalizeChatCompletion_MissingToolCallIDIsSynthesized(t *testing.T) {
	raw := `{"id":"x","model":"m","choices":[{"message":{"tool_calls":[{"type":"function","function":{"name":"f","arguments":"{}"}}]}}]}`
	pr := &uir.ProviderResponse{Status: 200, Body: raw}
	resp, err := NormalizeChatCompletion(pr, &uir.Request{})
	require.NoError(t, err)
	require.Len(t, resp.Output[0].ToolCalls, 1)
	assert.NotEmpty(t, resp.Output[0].ToolCalls[0].ID)
}

func TestNormalizeChatCompletion_LengthFinishReasonMarksIncomplete(t *testing.T) {
	raw := `{"id":"x","model":"m","choices":[{"finish_reason":"length","message":{"content":"partial"}}]}`
	pr := &uir.ProviderResponse{Status: 200, Body: raw}
	resp, err := NormalizeChatCompletion(pr, &uir.Request{})
	require.NoError(t, err)
	assert.Equal(t, uir.StatusIncomplete, resp.Output[0].Status)
}

func TestNormalizeChatCompletion_ReasoningContentPrecedesMessage(t *testing.T) {
	raw := `{"id":"x","model":"m","choices":[{"message":{"reasoning_content":"thinking it through","content":"the answer"}}]}`
	pr := &uir.ProviderResponse{Status: 200, Body: raw}
	resp, err := NormalizeChatCompletion(pr, &uir.Request{})
	require.NoError(t, err)
	require.Len(t, resp.Output, 2)
	assert.Equal(t, uir.OutputReasoning, resp.Output[0].Type)
	assert.Equal(t, uir.OutputMessage, resp.Output[1].Type)
}

func TestBuildRequestBody_IncludesModelMessagesAndTools(t *testing.T) {
	a := New("openai", "openai", "https://api.openai.com/v1", "sk-test")
	req := &uir.Request{
		Model: "gpt-4o",
		Messages: []uir.Message{
			{Role: uir.RoleUser, Content: []uir.ContentBlock{{Type: uir.ContentText, Text: "hi"}}},
		},
		Tools: []uir.Tool{{Type: "function", Name: "get_weather", Parameters: map[string]any{"type": "object"}}},
	}

	body, err := a.BuildRequestBody(req)
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", body["model"])
	require.NotNil(t, body["tools"])
}

// TestBuildRequestBody_RoundTripsToolCallExtraContent guards against the
// restored thought_signature (written onto ToolCall.ExtraContent by
// RestoreThoughtSignaturesTransform) being silently dropped when the
// request is flattened into the actual wire body.
func TestBuildRequestBody_RoundTripsToolCallExtraContent(t *testing.T) {
	a := New("openai", "openai", "https://api.openai.com/v1", "sk-test")
	req := &uir.Request{
		Model: "gemini-3-pro-preview",
		Messages: []uir.Message{
			{Role: uir.RoleUser, Content: []uir.ContentBlock{{Type: uir.ContentText, Text: "hi"}}},
			{
				Role: uir.RoleAssistant,
				ToolCalls: []uir.ToolCall{{
					ID:           "call_1",
					Name:         "search",
					Arguments:    "{}",
					ExtraContent: map[string]any{"google": map[string]any{"thought_signature": "sig-abc"}},
				}},
			},
		},
	}

	body, err := a.BuildRequestBody(req)
	require.NoError(t, err)

	// Marshal through encoding/json to exercise the actual bytes sent on the
	// wire, not just the in-memory map.
	raw, err := json.Marshal(body)
	require.NoError(t, err)

	var decoded struct {
		Messages []struct {
			ToolCalls []struct {
				ID           string `json:"id"`
				ExtraContent struct {
					Google struct {
						ThoughtSignature string `json:"thought_signature"`
					} `json:"google"`
				} `json:"extra_content"`
			} `json:"tool_calls"`
		} `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(raw, &decoded))

	var found bool
	for _, m := range decoded.Messages {
		for _, tc := range m.ToolCalls {
			if tc.ID == "call_1" {
				found = true
				assert.Equal(t, "sig-abc", tc.ExtraContent.Google.ThoughtSignature)
			}
		}
	}
	assert.True(t, found, "expected to find tool_call call_1 in the marshaled body")
}

func TestSend_PostsToConfiguredBaseURL(t *testing.T) {
	var gotAuth, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"id":"x"}`))
	}))
	defer srv.Close()

	a := New("openai", "openai", srv.URL, "sk-test")
	pr := a.Send(context.Background(), &uir.Request{}, map[string]any{"model": "gpt-4o"}, nil)

	assert.Equal(t, 200, pr.Status)
	assert.Equal(t, "Bearer sk-test", gotAuth)
	assert.Equal(t, "/chat/completions", gotPath)
}
