package clientapi

import (
	"fmt"

	"github.com/taipm/llmproxy/internal/uir"
)

// OpenAIChatAdapter converts OpenAI Chat Completions requests/responses.
type OpenAIChatAdapter struct{}

// NewOpenAIChatAdapter constructs the adapter for POST /v1/chat/completions.
func NewOpenAIChatAdapter() *OpenAIChatAdapter { return &OpenAIChatAdapter{} }

func (a *OpenAIChatAdapter) Format() string { return "OpenAIChat" }

func (a *OpenAIChatAdapter) ToUIR(body map[string]any, headers map[string]string) (*uir.Request, error) {
	req := &uir.Request{
		Model:     asString(body["model"]),
		Operation: uir.OperationChat,
		Stream:    asBool(body["stream"]),
		Metadata: uir.Metadata{
			ClientFormat:  a.Format(),
			ClientRequest: body,
			Headers:       headers,
		},
	}

	for _, raw := range asSlice(body["messages"]) {
		m := asMap(raw)
		if m == nil {
			continue
		}
		msg := uir.Message{Role: uir.Role(asString(m["role"]))}

		// reasoning_content may be string or array of {thinking|text, signature?}.
		if rc, ok := m["reasoning_content"]; ok {
			msg.Content = append(msg.Content, reasoningBlocksFrom(rc)...)
		}
		msg.Content = append(msg.Content, parseContentBlocks(m["content"])...)

		if msg.Role == uir.RoleTool {
			msg.ToolCallID = asString(m["tool_call_id"])
		}
		if msg.Role == uir.RoleAssistant {
			for i, tc := range asSlice(m["tool_calls"]) {
				tcm := asMap(tc)
				if tcm == nil {
					continue
				}
				msg.ToolCalls = append(msg.ToolCalls, toolCallFromOpenAI(tcm, i))
			}
		}
		req.Messages = append(req.Messages, msg)
	}

	for _, raw := range asSlice(body["tools"]) {
		t := asMap(raw)
		if t == nil {
			continue
		}
		fn := asMap(t["function"])
		if fn == nil {
			continue
		}
		req.Tools = append(req.Tools, uir.Tool{
			Type:        "function",
			Name:        asString(fn["name"]),
			Description: asString(fn["description"]),
			Parameters:  asMap(fn["parameters"]),
			Strict:      asBool(fn["strict"]),
		})
	}

	req.Parameters = parseCommonParameters(body)
	return req, nil
}

func (a *OpenAIChatAdapter) FromUIR(resp *uir.Response, req *uir.Request) (map[string]any, error) {
	if resp.Error != nil {
		return map[string]any{
			"error": map[string]any{
				"message": resp.Error.Message,
				"code":    resp.Error.Code,
			},
		}, nil
	}

	message := map[string]any{"role": "assistant"}
	var reasoningText string
	var finishReason = resp.FinishReason

	for _, item := range orderedOutput(resp.Output) {
		switch item.Type {
		case uir.OutputReasoning:
			reasoningText += textOf(item.Summary) + textOf(item.Content)
		case uir.OutputMessage:
			if content := textOf(item.Content); content != "" {
				message["content"] = content
			} else {
				message["content"] = nil
			}
			if len(item.ToolCalls) > 0 {
				var tcs []any
				for _, tc := range item.ToolCalls {
					tcs = append(tcs, map[string]any{
						"id":   tc.ID,
						"type": "function",
						"function": map[string]any{
							"name":      tc.Name,
							"arguments": tc.Arguments,
						},
					})
				}
				message["tool_calls"] = tcs
			}
			if item.Status == uir.StatusIncomplete {
				finishReason = "length"
			}
		}
	}
	if reasoningText != "" {
		message["reasoning_content"] = reasoningText
	}

	choice := map[string]any{
		"index":         0,
		"message":       message,
		"finish_reason": finishReason,
	}

	out := map[string]any{
		"id":      resp.ID,
		"object":  "chat.completion",
		"model":   resp.Model,
		"choices": []any{choice},
	}
	if resp.Usage != nil {
		out["usage"] = map[string]any{
			"prompt_tokens":     resp.Usage.InputTokens,
			"completion_tokens": resp.Usage.OutputTokens,
			"total_tokens":      resp.Usage.TotalTokens,
		}
	}
	return out, nil
}

func asBool(v any) bool {
	b, _ := v.(bool)
	return b
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	}
	return 0, false
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	}
	return 0, false
}

// parseCommonParameters extracts the sampling/limit knobs shared by the
// OpenAI-shaped dialects.
func parseCommonParameters(body map[string]any) uir.Parameters {
	var p uir.Parameters
	if f, ok := asFloat(body["temperature"]); ok {
		p.Temperature = &f
	}
	if f, ok := asFloat(body["top_p"]); ok {
		p.TopP = &f
	}
	if i, ok := asInt(body["top_k"]); ok {
		p.TopK = &i
	}
	if i, ok := asInt(body["max_tokens"]); ok {
		p.MaxTokens = &i
	} else if i, ok := asInt(body["max_completion_tokens"]); ok {
		p.MaxTokens = &i
	}
	return p
}

// toolCallFromOpenAI converts one OpenAI tool_call object, tolerating a
// numeric or missing id by synthesizing a deterministic one.
func toolCallFromOpenAI(tcm map[string]any, index int) uir.ToolCall {
	fn := asMap(tcm["function"])
	id := asString(tcm["id"])
	if id == "" {
		id = fmt.Sprintf("call_%d", index)
	}
	name := ""
	args := "{}"
	if fn != nil {
		if fn["name"] != nil {
			name = fmt.Sprintf("%v", fn["name"])
		}
		if a, ok := fn["arguments"]; ok {
			args = toJSONString(a)
		}
	}
	tc := uir.ToolCall{ID: id, Type: "function", Name: name, Arguments: args}
	if ec := asMap(tcm["extra_content"]); ec != nil {
		tc.ExtraContent = ec
	}
	return tc
}

// reasoningBlocksFrom normalizes reasoning_content, which may be a bare
// string or an array of {thinking|text, signature?} objects.
func reasoningBlocksFrom(rc any) []uir.ContentBlock {
	switch v := rc.(type) {
	case string:
		if v == "" {
			return nil
		}
		return []uir.ContentBlock{{Type: uir.ContentReasoning, Text: v}}
	case []any:
		var blocks []uir.ContentBlock
		for _, item := range v {
			m := asMap(item)
			if m == nil {
				continue
			}
			text := asString(m["thinking"])
			if text == "" {
				text = asString(m["text"])
			}
			block := uir.ContentBlock{Type: uir.ContentReasoning, Text: text}
			if sig := asString(m["signature"]); sig != "" {
				block.ReasoningData = map[string]any{"signature": sig}
			}
			blocks = append(blocks, block)
		}
		return blocks
	default:
		return nil
	}
}
