// Package semantic implements the behavioral-contract transforms that plug
// into internal/transform's stage registry: max-tokens clamping, the
// ensure-tool-call request/response pair, tool-argument validation, thought
// signature restore/extract, the Kimi response fixer, and response cleanup.
//
// Ingress transforms mutate the UIR request directly rather than a
// per-provider wire body: the UIR carries the same information a raw
// "body.messages"/"body.tools" would, and every provider adapter's
// BuildRequestBody reads straight from it, so mutating the UIR is
// equivalent to mutating the eventual body without needing per-dialect
// field knowledge in each transform.
package semantic

import (
	"github.com/taipm/llmproxy/internal/config"
	"github.com/taipm/llmproxy/internal/transform"
)

// ClampMaxTokens caps the request's max_tokens at MAX_TOKENS_CAP (default
// 4096), recording the clamp on the request's pipeline state.
type ClampMaxTokens struct{}

func (ClampMaxTokens) Name() string           { return "ClampMaxTokens" }
func (ClampMaxTokens) Stage() transform.Stage { return transform.StageIngress }
func (ClampMaxTokens) Priority() int          { return 1000 }

func (ClampMaxTokens) Applies(ctx *transform.Context) bool {
	return ctx.Request != nil && ctx.Request.MaxTokens != nil
}

func (ClampMaxTokens) Run(ctx *transform.Context) error {
	cap := config.MaxTokensCap()
	if *ctx.Request.MaxTokens <= cap {
		return nil
	}
	*ctx.Request.MaxTokens = cap
	if ctx.Request.State != nil {
		ctx.Request.State.MaxTokensClamped = true
	}
	return nil
}
