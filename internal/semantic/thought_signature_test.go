package semantic

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taipm/llmproxy/internal/sigcache"
	"github.com/taipm/llmproxy/internal/transform"
	"github.com/taipm/llmproxy/internal/uir"
)

func TestGeminiThreeModel(t *testing.T) {
	assert.True(t, geminiThreeModel("gemini-3-pro-preview"))
	assert.False(t, geminiThreeModel("gemini-2.5-flash"))
	assert.False(t, geminiThreeModel("gpt-4o"))
}

func TestRestoreThoughtSignaturesTransform_NotAppliedForOtherModels(t *testing.T) {
	req := &uir.Request{Model: "gpt-4o"}
	ctx := &transform.Context{Request: req}
	assert.False(t, RestoreThoughtSignaturesTransform{Cache: sigcache.NewMemory()}.Applies(ctx))
}

func TestRestoreThoughtSignaturesTransform_AttachesCachedSignature(t *testing.T) {
	cache := sigcache.NewMemory()
	cache.Store(context.Background(), "call_1", "sig-abc")

	req := &uir.Request{
		Model: "gemini-3-pro-preview",
		Messages: []uir.Message{
			{Role: uir.RoleAssistant, ToolCalls: []uir.ToolCall{{ID: "call_1", Name: "f"}}},
		},
	}
	ctx := &transform.Context{Request: req}

	tr := RestoreThoughtSignaturesTransform{Cache: cache}
	require.True(t, tr.Applies(ctx))
	require.NoError(t, tr.Run(ctx))

	extra := req.Messages[0].ToolCalls[0].ExtraContent
	require.NotNil(t, extra)
	google, ok := extra["google"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "sig-abc", google["thought_signature"])
}

func TestRestoreThoughtSignaturesTransform_DoesNotOverwriteExistingExtraContent(t *testing.T) {
	cache := sigcache.NewMemory()
	cache.Store(context.Background(), "call_1", "sig-abc")

	existing := map[string]any{"google": map[string]any{"thought_signature": "original"}}
	req := &uir.Request{
		Model: "gemini-3-pro-preview",
		Messages: []uir.Message{
			{Role: uir.RoleAssistant, ToolCalls: []uir.ToolCall{{ID: "call_1", ExtraContent: existing}}},
		},
	}
	ctx := &transform.Context{Request: req}

	require.NoError(t, RestoreThoughtSignaturesTransform{Cache: cache}.Run(ctx))
	assert.Equal(t, existing, req.Messages[0].ToolCalls[0].ExtraContent)
}

func TestExtractThoughtSignaturesTransform_StoresEchoedSignature(t *testing.T) {
	cache := sigcache.NewMemory()
	req := &uir.Request{Model: "gemini-3-pro-preview"}
	raw := `{"choices":[{"message":{"tool_calls":[{"id":"call_1","extra_content":{"google":{"thought_signature":"sig-xyz"}}}]}}]}`
	ctx := &transform.Context{Request: req, RawProviderBody: raw}

	tr := ExtractThoughtSignaturesTransform{Cache: cache}
	require.True(t, tr.Applies(ctx))
	require.NoError(t, tr.Run(ctx))

	got := cache.BatchRetrieve(context.Background(), []string{"call_1"})
	assert.Equal(t, "sig-xyz", got["call_1"])
}

func TestExtractThoughtSignaturesTransform_SkippedForSyntheticResponse(t *testing.T) {
	req := &uir.Request{Model: "gemini-3-pro-preview"}
	ctx := &transform.Context{Request: req, ProviderResponseHeaders: map[string]string{"x-synthetic-response": "true"}}
	assert.False(t, ExtractThoughtSignaturesTransform{Cache: sigcache.NewMemory()}.Applies(ctx))
}
