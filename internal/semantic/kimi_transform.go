package semantic

import (
	"context"

	"github.com/taipm/llmproxy/internal/kimi"
	"github.com/taipm/llmproxy/internal/logging"
	"github.com/taipm/llmproxy/internal/transform"
)

// KimiResponseTransform runs the Kimi fixer (internal/kimi) on the raw
// provider body, salvaging numeric tool names and text-embedded tool calls
// before normalization.
type KimiResponseTransform struct {
	Log logging.Logger
}

func (t KimiResponseTransform) Name() string           { return "KimiResponseTransform" }
func (t KimiResponseTransform) Stage() transform.Stage { return transform.StageProvider }
func (t KimiResponseTransform) Priority() int          { return 70 }

func (t KimiResponseTransform) Applies(ctx *transform.Context) bool {
	return ctx.ProviderResponseHeaders["x-synthetic-response"] != "true"
}

func (t KimiResponseTransform) Run(ctx *transform.Context) error {
	var tools []kimi.Tool
	if ctx.Request != nil {
		for _, tool := range ctx.Request.Tools {
			tools = append(tools, kimi.Tool{Name: tool.Name, Required: requiredOf(tool.Parameters)})
		}
	}

	fixed, result := kimi.Fix(ctx.RawProviderBody, tools)
	ctx.RawProviderBody = fixed

	if result.ExtractedToolCalls > 0 || result.RepairedToolNames > 0 {
		log := t.Log
		if log == nil {
			log = logging.Noop{}
		}
		log.Info(context.Background(), "kimi fixer repaired response",
			logging.F("extractedToolCalls", result.ExtractedToolCalls),
			logging.F("extractedFromContent", result.ExtractedFromContent),
			logging.F("extractedFromReasoning", result.ExtractedFromReasoning),
			logging.F("repairedToolNames", result.RepairedToolNames))
	}
	return nil
}

func requiredOf(parameters map[string]any) []string {
	var out []string
	raw, ok := parameters["required"].([]any)
	if !ok {
		return out
	}
	for _, r := range raw {
		if s, ok := r.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
