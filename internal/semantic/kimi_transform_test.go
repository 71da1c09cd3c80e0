package semantic

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taipm/llmproxy/internal/transform"
	"github.com/taipm/llmproxy/internal/uir"
)

func TestKimiResponseTransform_RepairsNumericName(t *testing.T) {
	req := &uir.Request{
		Tools: []uir.Tool{
			{Name: "get_weather", Parameters: map[string]any{"required": []any{"city"}}},
		},
	}
	raw := `{"choices":[{"message":{"tool_calls":[{"function":{"name":"0","arguments":"{\"city\":\"Hanoi\"}"}}]}}]}`
	ctx := &transform.Context{Request: req, RawProviderBody: raw}

	tr := KimiResponseTransform{}
	require.True(t, tr.Applies(ctx))
	require.NoError(t, tr.Run(ctx))

	assert.Contains(t, ctx.RawProviderBody, `"name":"get_weather"`)
}

func TestKimiResponseTransform_SkippedForSyntheticResponse(t *testing.T) {
	ctx := &transform.Context{ProviderResponseHeaders: map[string]string{"x-synthetic-response": "true"}}
	assert.False(t, KimiResponseTransform{}.Applies(ctx))
}

func TestRequiredOf_ExtractsStringEntries(t *testing.T) {
	params := map[string]any{"required": []any{"a", "b", 3}}
	assert.Equal(t, []string{"a", "b"}, requiredOf(params))
}

func TestRequiredOf_NilWhenMissing(t *testing.T) {
	assert.Nil(t, requiredOf(map[string]any{}))
}
