package semantic

import (
	"encoding/json"

	"github.com/tidwall/gjson"

	"github.com/taipm/llmproxy/internal/transform"
)

// ValidateToolArgumentsTransform requires every tool call's
// function.arguments to be a JSON-parseable string. A failure requests a
// retry rather than erroring the attempt outright; the controller's bounded
// retry loop consumes it like the ensure-tool-call transforms.
type ValidateToolArgumentsTransform struct{}

func (ValidateToolArgumentsTransform) Name() string           { return "ValidateToolArgumentsTransform" }
func (ValidateToolArgumentsTransform) Stage() transform.Stage { return transform.StageProvider }
func (ValidateToolArgumentsTransform) Priority() int          { return 90 }

func (ValidateToolArgumentsTransform) Applies(ctx *transform.Context) bool {
	return ctx.ProviderResponseHeaders["x-synthetic-response"] != "true"
}

func (ValidateToolArgumentsTransform) Run(ctx *transform.Context) error {
	calls := gjson.Get(ctx.RawProviderBody, "choices.0.message.tool_calls")
	if !calls.Exists() {
		return nil
	}

	valid := true
	calls.ForEach(func(_, call gjson.Result) bool {
		args := call.Get("function.arguments")
		if args.Type != gjson.String || !json.Valid([]byte(args.String())) {
			valid = false
			return false
		}
		return true
	})

	if !valid && ctx.Request != nil && ctx.Request.State != nil {
		ctx.Request.State.RetryRequested = true
	}
	return nil
}
