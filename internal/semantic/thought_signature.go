package semantic

import (
	"context"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/taipm/llmproxy/internal/sigcache"
	"github.com/taipm/llmproxy/internal/transform"
	"github.com/taipm/llmproxy/internal/uir"
)

// geminiThreeModel reports whether a request targets a "gemini-3" model
// family member, the gate both thought-signature transforms share.
func geminiThreeModel(model string) bool {
	return strings.Contains(model, "gemini-3")
}

// RestoreThoughtSignaturesTransform re-attaches previously cached Google
// thought_signature blobs onto assistant tool_calls before the request goes
// out. Active only for gemini-3 models.
type RestoreThoughtSignaturesTransform struct {
	Cache sigcache.Store
}

func (t RestoreThoughtSignaturesTransform) Name() string           { return "RestoreThoughtSignaturesTransform" }
func (t RestoreThoughtSignaturesTransform) Stage() transform.Stage { return transform.StageIngress }
func (t RestoreThoughtSignaturesTransform) Priority() int          { return 90 }

func (t RestoreThoughtSignaturesTransform) Applies(ctx *transform.Context) bool {
	return ctx.Request != nil && geminiThreeModel(ctx.Request.Model)
}

func (t RestoreThoughtSignaturesTransform) Run(ctx *transform.Context) error {
	req := ctx.Request
	var ids []string
	for _, m := range req.Messages {
		if m.Role != uir.RoleAssistant {
			continue
		}
		for _, tc := range m.ToolCalls {
			if tc.ID != "" {
				ids = append(ids, tc.ID)
			}
		}
	}
	if len(ids) == 0 {
		return nil
	}

	sigs := t.Cache.BatchRetrieve(context.Background(), ids)
	if len(sigs) == 0 {
		return nil
	}

	for mi, m := range req.Messages {
		if m.Role != uir.RoleAssistant {
			continue
		}
		for ti, tc := range m.ToolCalls {
			if tc.ExtraContent != nil {
				continue
			}
			sig, ok := sigs[tc.ID]
			if !ok {
				continue
			}
			req.Messages[mi].ToolCalls[ti].ExtraContent = map[string]any{
				"google": map[string]any{"thought_signature": sig},
			}
		}
	}
	return nil
}

// ExtractThoughtSignaturesTransform stores any thought_signature the
// provider echoed back on a tool call, keyed by tool_call id. Active only
// for gemini-3 models.
type ExtractThoughtSignaturesTransform struct {
	Cache sigcache.Store
}

func (t ExtractThoughtSignaturesTransform) Name() string           { return "ExtractThoughtSignaturesTransform" }
func (t ExtractThoughtSignaturesTransform) Stage() transform.Stage { return transform.StageProvider }
func (t ExtractThoughtSignaturesTransform) Priority() int          { return 50 }

func (t ExtractThoughtSignaturesTransform) Applies(ctx *transform.Context) bool {
	return ctx.Request != nil && geminiThreeModel(ctx.Request.Model) &&
		ctx.ProviderResponseHeaders["x-synthetic-response"] != "true"
}

func (t ExtractThoughtSignaturesTransform) Run(ctx *transform.Context) error {
	calls := gjson.Get(ctx.RawProviderBody, "choices.0.message.tool_calls")
	if !calls.Exists() {
		return nil
	}
	calls.ForEach(func(_, call gjson.Result) bool {
		id := call.Get("id").String()
		sig := call.Get("extra_content.google.thought_signature").String()
		if id != "" && sig != "" {
			t.Cache.Store(context.Background(), id, sig)
		}
		return true
	})
	return nil
}
