package semantic

import (
	"fmt"

	"github.com/taipm/llmproxy/internal/transform"
	"github.com/taipm/llmproxy/internal/uir"
)

const (
	baseInstruction = `Always reply with at least one tool call so the client can continue orchestrating actions. When you have completely finished, call the "%s" function.`
	reminderText    = `The client will not continue unless you reply with a tool call. Always reply with at least one tool call.`
	finalAnswerText = `Provide your final answer now by calling the termination tool with a final_answer argument.`
)

// EnsureToolCallRequestTransform forces the assistant to keep calling tools
// until it explicitly terminates. Active only when the request's
// EnsureToolCallState is non-nil.
type EnsureToolCallRequestTransform struct{}

func (EnsureToolCallRequestTransform) Name() string           { return "EnsureToolCallRequestTransform" }
func (EnsureToolCallRequestTransform) Stage() transform.Stage { return transform.StageIngress }
func (EnsureToolCallRequestTransform) Priority() int          { return 100 }

func (EnsureToolCallRequestTransform) Applies(ctx *transform.Context) bool {
	return ctx.Request != nil && ctx.Request.State != nil && ctx.Request.State.EnsureToolCall != nil && ctx.Request.State.EnsureToolCall.Enabled
}

func (EnsureToolCallRequestTransform) Run(ctx *transform.Context) error {
	req := ctx.Request
	state := req.State.EnsureToolCall

	if terminatedWithoutTools(req.Messages) {
		req.State.SyntheticRequested = true
		return nil
	}

	ensureTerminationTool(req, state.TerminationToolName)
	ensureSystemInstruction(req, state)

	return nil
}

// terminatedWithoutTools implements the skip decision: within the message
// slice from the last user message to the end, any assistant message with
// no tool_calls means the previous turn already terminated without tools.
func terminatedWithoutTools(messages []uir.Message) bool {
	lastUser := -1
	for i, m := range messages {
		if m.Role == uir.RoleUser {
			lastUser = i
		}
	}
	if lastUser == -1 {
		return false
	}
	for _, m := range messages[lastUser:] {
		if m.Role == uir.RoleAssistant && len(m.ToolCalls) == 0 {
			return true
		}
	}
	return false
}

// ensureTerminationTool registers the termination tool exactly once, by
// name, with an optional final_answer string argument.
func ensureTerminationTool(req *uir.Request, name string) {
	for _, t := range req.Tools {
		if t.Name == name {
			return
		}
	}
	req.Tools = append(req.Tools, uir.Tool{
		Type:        "function",
		Name:        name,
		Description: "Signal that the task is complete.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"final_answer": map[string]any{
					"type":        "string",
					"description": "The final answer to return to the caller.",
				},
			},
			"required":             []any{},
			"additionalProperties": false,
		},
		Strict: true,
	})
}

// ensureSystemInstruction attaches the base instruction exactly once
// (tracked via pipeline state Extra, since the instruction text itself may
// legitimately already appear in a user-supplied system prompt), then
// layers on the pending reminder or final-answer reminder when requested.
func ensureSystemInstruction(req *uir.Request, state *uir.EnsureToolCallState) {
	const addedKey = "ensureToolCallInstructionAdded"
	if req.State.Extra == nil {
		req.State.Extra = make(map[string]any)
	}

	instruction := instructionFor(state.TerminationToolName)
	if _, already := req.State.Extra[addedKey]; !already {
		appendSystemText(req, instruction)
		req.State.Extra[addedKey] = true
	}

	if state.PendingReminder {
		text := reminderText
		if state.FinalAnswerRequired {
			text = finalAnswerText
			state.FinalAnswerRequired = false
		}
		appendSystemText(req, text)
		state.PendingReminder = false
	}

	state.ReminderCount++
	state.ReminderHistory = append(state.ReminderHistory, instruction)
}

func instructionFor(terminationToolName string) string {
	return fmt.Sprintf(baseInstruction, terminationToolName)
}

func appendSystemText(req *uir.Request, text string) {
	for i := range req.Messages {
		if req.Messages[i].Role == uir.RoleSystem {
			req.Messages[i].Content = append(req.Messages[i].Content, uir.ContentBlock{Type: uir.ContentText, Text: text})
			return
		}
	}
	sysMsg := uir.Message{
		Role:    uir.RoleSystem,
		Content: []uir.ContentBlock{{Type: uir.ContentText, Text: text}},
	}
	req.Messages = append([]uir.Message{sysMsg}, req.Messages...)
}
