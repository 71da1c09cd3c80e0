package semantic

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/taipm/llmproxy/internal/transform"
	"github.com/taipm/llmproxy/internal/uir"
)

// terminationLikeName matches the shapes mis-behaving providers emit in
// place of a real tool name: a bare call-id or number. Possibly
// over-aggressive, since a legitimate tool name coincidentally matching it
// is also reclassified as a termination attempt.
var terminationLikeName = regexp.MustCompile(`(?i)^(call_)?[0-9]+$`)

// finalAnswerKey matches an argument key that plausibly carries the
// assistant's final answer.
var finalAnswerKey = regexp.MustCompile(`(?i)final[_\-\s]?answer|final|answer|summary`)

// EnsureToolCallResponseTransform enforces the ensure-tool-call contract on
// the raw provider body. It never runs against a synthetic response.
type EnsureToolCallResponseTransform struct{}

func (EnsureToolCallResponseTransform) Name() string           { return "EnsureToolCallResponseTransform" }
func (EnsureToolCallResponseTransform) Stage() transform.Stage { return transform.StageProvider }
func (EnsureToolCallResponseTransform) Priority() int          { return 100 }

func (EnsureToolCallResponseTransform) Applies(ctx *transform.Context) bool {
	if ctx.Request == nil || ctx.Request.State == nil || ctx.Request.State.EnsureToolCall == nil {
		return false
	}
	if !ctx.Request.State.EnsureToolCall.Enabled {
		return false
	}
	return ctx.ProviderResponseHeaders["x-synthetic-response"] != "true"
}

func (EnsureToolCallResponseTransform) Run(ctx *transform.Context) error {
	state := ctx.Request.State.EnsureToolCall
	raw := ctx.RawProviderBody
	message := gjson.Get(raw, "choices.0.message")

	if isTodoWriteTermination(message) {
		state.PendingReminder = false
		return nil
	}

	calls := message.Get("tool_calls")
	if !calls.Exists() || len(calls.Array()) == 0 {
		state.PendingReminder = true
		state.FinalAnswerRequired = false
		ctx.Request.State.RetryRequested = true
		return nil
	}

	termIdx, termCall, found := findTerminationCall(calls, state.TerminationToolName)
	if !found {
		// At least one non-termination tool call: accept.
		state.PendingReminder = false
		return nil
	}

	finalAnswer := extractFinalAnswer(termCall)
	hasContent := meaningfulValue(message.Get("content")) || assistantContentSinceLastUser(ctx.Request.Messages)

	if !hasContent && finalAnswer == "" {
		state.PendingReminder = true
		state.FinalAnswerRequired = true
		ctx.Request.State.RetryRequested = true
		return nil
	}

	if !hasContent && finalAnswer != "" {
		newRaw, err := sjson.Set(raw, "choices.0.message.content", finalAnswer)
		if err == nil {
			raw = newRaw
		}
	}

	newRaw, err := sjson.Delete(raw, "choices.0.message.tool_calls."+termIdx)
	if err == nil {
		raw = newRaw
	}

	remaining := gjson.Get(raw, "choices.0.message.tool_calls")
	if len(remaining.Array()) == 0 {
		raw, _ = sjson.Delete(raw, "choices.0.message.tool_calls")
		if !hasContent && finalAnswer == "" {
			raw, _ = sjson.Set(raw, "choices.0.message.content", nil)
			raw, _ = sjson.Delete(raw, "choices.0.message.reasoning_content")
			raw, _ = sjson.Delete(raw, "choices.0.message.reasoning_summary")
		}
	}

	ctx.RawProviderBody = raw
	state.PendingReminder = false
	return nil
}

// isTodoWriteTermination: exactly one tool call named TodoWrite plus content
// mentioning "summary" or "changes" is accepted as a termination without
// further checks.
func isTodoWriteTermination(message gjson.Result) bool {
	calls := message.Get("tool_calls")
	if !calls.Exists() || len(calls.Array()) != 1 {
		return false
	}
	if !strings.EqualFold(calls.Array()[0].Get("function.name").String(), "TodoWrite") {
		return false
	}
	content := strings.ToLower(message.Get("content").String())
	return strings.Contains(content, "summary") || strings.Contains(content, "changes")
}

// findTerminationCall scans tool_calls for one matching the termination
// name, "final", or the call_*/numeric pattern.
func findTerminationCall(calls gjson.Result, terminationName string) (idx string, call gjson.Result, found bool) {
	var result gjson.Result
	var foundIdx string
	ok := false
	calls.ForEach(func(key, value gjson.Result) bool {
		name := value.Get("function.name").String()
		if strings.EqualFold(name, terminationName) || strings.EqualFold(name, "final") || terminationLikeName.MatchString(name) {
			result = value
			foundIdx = key.String()
			ok = true
			return false
		}
		return true
	})
	return foundIdx, result, ok
}

// extractFinalAnswer looks for an argument key matching finalAnswerKey with
// a non-empty string value, stripping one "raw" nesting level if present.
func extractFinalAnswer(call gjson.Result) string {
	argsRaw := call.Get("function.arguments").String()
	var args map[string]any
	if err := json.Unmarshal([]byte(argsRaw), &args); err != nil {
		return ""
	}
	if raw, ok := args["raw"].(map[string]any); ok {
		args = raw
	}
	for key, val := range args {
		if !finalAnswerKey.MatchString(key) {
			continue
		}
		if s, ok := val.(string); ok && strings.TrimSpace(s) != "" {
			return s
		}
	}
	return ""
}

// assistantContentSinceLastUser reports whether any assistant message after
// the last user turn of the conversation carries non-empty text content.
func assistantContentSinceLastUser(messages []uir.Message) bool {
	lastUser := -1
	for i, m := range messages {
		if m.Role == uir.RoleUser {
			lastUser = i
		}
	}
	for _, m := range messages[lastUser+1:] {
		if m.Role != uir.RoleAssistant {
			continue
		}
		for _, b := range m.Content {
			if b.Type == uir.ContentText && strings.TrimSpace(b.Text) != "" {
				return true
			}
		}
	}
	return false
}

// meaningfulValue: a non-empty string after trim, an array containing at
// least one such string/text entry, or any non-empty object.
func meaningfulValue(v gjson.Result) bool {
	switch {
	case !v.Exists() || v.Type == gjson.Null:
		return false
	case v.IsArray():
		for _, item := range v.Array() {
			if item.Type == gjson.String && strings.TrimSpace(item.String()) != "" {
				return true
			}
			if text := item.Get("text"); text.Exists() && strings.TrimSpace(text.String()) != "" {
				return true
			}
		}
		return false
	case v.IsObject():
		return len(v.Map()) > 0
	default:
		return strings.TrimSpace(v.String()) != ""
	}
}
