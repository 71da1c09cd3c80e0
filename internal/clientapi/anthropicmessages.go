package clientapi

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/taipm/llmproxy/internal/uir"
)

// AnthropicMessagesAdapter converts Anthropic Messages API requests/responses.
type AnthropicMessagesAdapter struct{}

// NewAnthropicMessagesAdapter constructs the adapter for POST /v1/messages.
func NewAnthropicMessagesAdapter() *AnthropicMessagesAdapter { return &AnthropicMessagesAdapter{} }

func (a *AnthropicMessagesAdapter) Format() string { return "AnthropicMessages" }

func (a *AnthropicMessagesAdapter) ToUIR(body map[string]any, headers map[string]string) (*uir.Request, error) {
	req := &uir.Request{
		Model:     asString(body["model"]),
		Operation: uir.OperationMessages,
		Stream:    asBool(body["stream"]),
		Metadata: uir.Metadata{
			ClientFormat:  a.Format(),
			ClientRequest: body,
			Headers:       headers,
		},
	}

	switch sys := body["system"].(type) {
	case string:
		if sys != "" {
			req.Messages = append(req.Messages, uir.Message{
				Role:    uir.RoleSystem,
				Content: []uir.ContentBlock{{Type: uir.ContentText, Text: sys}},
			})
		}
	case []any:
		var blocks []uir.ContentBlock
		for _, b := range sys {
			if m := asMap(b); m != nil {
				blocks = append(blocks, uir.ContentBlock{Type: uir.ContentText, Text: asString(m["text"])})
			}
		}
		if len(blocks) > 0 {
			req.Messages = append(req.Messages, uir.Message{Role: uir.RoleSystem, Content: blocks})
		}
	}

	for _, raw := range asSlice(body["messages"]) {
		m := asMap(raw)
		if m == nil {
			continue
		}
		req.Messages = append(req.Messages, a.parseMessage(m)...)
	}

	for _, raw := range asSlice(body["tools"]) {
		t := asMap(raw)
		if t == nil {
			continue
		}
		schema := asMap(t["input_schema"])
		if schema == nil {
			// Provider-defined tool (e.g. {"type":"code_execution_..."})
			// without an input schema: not exposed to providers.
			continue
		}
		req.Tools = append(req.Tools, uir.Tool{
			Type:        "function",
			Name:        asString(t["name"]),
			Description: asString(t["description"]),
			Parameters:  schema,
		})
	}

	req.Parameters = parseCommonParameters(body)
	if maxTok, ok := asInt(body["max_tokens"]); ok {
		req.Parameters.MaxTokens = &maxTok
	}
	return req, nil
}

// parseMessage converts one Anthropic message, which may carry tool_use and
// tool_result content blocks interleaved with text/thinking/image/document
// blocks. Anthropic models a tool result as a content block inside a user
// message; UIR models it as a separate tool-role message, so a single
// Anthropic message can expand into several UIR messages.
func (a *AnthropicMessagesAdapter) parseMessage(m map[string]any) []uir.Message {
	role := uir.Role(asString(m["role"]))
	content := m["content"]

	// Bare string content: no blocks to interleave, fast path.
	if s, ok := content.(string); ok {
		if s == "" {
			return []uir.Message{{Role: role}}
		}
		return []uir.Message{{Role: role, Content: []uir.ContentBlock{{Type: uir.ContentText, Text: s}}}}
	}

	blocks := asSlice(content)
	var out []uir.Message
	var current uir.Message
	current.Role = role

	flush := func() {
		if len(current.Content) > 0 || len(current.ToolCalls) > 0 {
			out = append(out, current)
		}
		current = uir.Message{Role: role}
	}

	for i, raw := range blocks {
		b := asMap(raw)
		if b == nil {
			continue
		}
		switch asString(b["type"]) {
		case "text":
			current.Content = append(current.Content, uir.ContentBlock{Type: uir.ContentText, Text: asString(b["text"])})
		case "thinking", "redacted_thinking":
			block := uir.ContentBlock{Type: uir.ContentReasoning, Text: asString(b["thinking"])}
			if sig := asString(b["signature"]); sig != "" {
				block.ReasoningData = map[string]any{"signature": sig}
			}
			current.Content = append(current.Content, block)
		case "image":
			current.Content = append(current.Content, imageBlockFromAnthropic(b))
		case "document":
			// Preserve the source URL/title as text.
			src := asMap(b["source"])
			title := asString(b["title"])
			url := ""
			if src != nil {
				url = asString(src["url"])
			}
			text := title
			if url != "" {
				if text != "" {
					text += ": "
				}
				text += url
			}
			current.Content = append(current.Content, uir.ContentBlock{Type: uir.ContentText, Text: text})
		case "tool_use":
			id := asString(b["id"])
			if id == "" {
				id = fmt.Sprintf("toolu_%d", i)
			}
			tc := uir.ToolCall{
				ID:        id,
				Type:      "function",
				Name:      asString(b["name"]),
				Arguments: toJSONString(b["input"]),
			}
			if sig := asString(b["thought_signature"]); sig != "" {
				tc.ExtraContent = map[string]any{"google": map[string]any{"thought_signature": sig}}
			}
			current.ToolCalls = append(current.ToolCalls, tc)
		case "tool_result":
			flush()
			out = append(out, uir.Message{
				Role:       uir.RoleTool,
				ToolCallID: asString(b["tool_use_id"]),
				Content:    parseContentBlocks(b["content"]),
			})
		default:
			if text, ok := b["text"]; ok {
				current.Content = append(current.Content, uir.ContentBlock{Type: uir.ContentText, Text: asString(text)})
			}
		}
	}
	flush()
	if len(out) == 0 {
		out = append(out, uir.Message{Role: role})
	}
	return out
}

// imageBlockFromAnthropic maps {type:"url", url} to image_url (by URL) and
// {type:"base64", media_type, data} to image_url preserved as a data URL.
func imageBlockFromAnthropic(b map[string]any) uir.ContentBlock {
	src := asMap(b["source"])
	if src == nil {
		return uir.ContentBlock{Type: uir.ContentImageURL}
	}
	switch asString(src["type"]) {
	case "url":
		return uir.ContentBlock{Type: uir.ContentImageURL, URL: asString(src["url"])}
	case "base64":
		mediaType := asString(src["media_type"])
		data := asString(src["data"])
		return uir.ContentBlock{Type: uir.ContentImageURL, URL: fmt.Sprintf("data:%s;base64,%s", mediaType, data)}
	default:
		return uir.ContentBlock{Type: uir.ContentImageURL}
	}
}

func (a *AnthropicMessagesAdapter) FromUIR(resp *uir.Response, req *uir.Request) (map[string]any, error) {
	if resp.Error != nil {
		return map[string]any{
			"type": "error",
			"error": map[string]any{
				"type":    "api_error",
				"message": resp.Error.Message,
			},
		}, nil
	}

	var blocks []any
	stopReason := mapFinishReasonOut(resp.FinishReason)

	for _, item := range orderedOutput(resp.Output) {
		switch item.Type {
		case uir.OutputReasoning:
			signature := reasoningSignature(item.Summary)
			blocks = append(blocks, map[string]any{
				"type":      "thinking",
				"thinking":  textOf(item.Summary) + textOf(item.Content),
				"signature": signature,
			})
		case uir.OutputMessage:
			if text := textOf(item.Content); text != "" {
				blocks = append(blocks, map[string]any{"type": "text", "text": text})
			}
			for _, tc := range item.ToolCalls {
				block := map[string]any{
					"type":  "tool_use",
					"id":    tc.ID,
					"name":  tc.Name,
					"input": jsonDecodeOrRaw(tc.Arguments),
				}
				if ec := tc.ExtraContent; ec != nil {
					if g := asMap(ec["google"]); g != nil {
						if sig := asString(g["thought_signature"]); sig != "" {
							block["thought_signature"] = sig
						}
					}
				}
				blocks = append(blocks, block)
				stopReason = "tool_use"
			}
			if item.Status == uir.StatusIncomplete {
				stopReason = "max_tokens"
			}
		}
	}

	out := map[string]any{
		"id":          resp.ID,
		"type":        "message",
		"role":        "assistant",
		"model":       resp.Model,
		"content":     blocks,
		"stop_reason": stopReason,
	}
	if resp.Usage != nil {
		out["usage"] = map[string]any{
			"input_tokens":  resp.Usage.InputTokens,
			"output_tokens": resp.Usage.OutputTokens,
		}
	}
	return out, nil
}

// mapFinishReasonOut is the inverse of mapFinishReasonIn, rendering a UIR
// finish_reason back into Anthropic's stop_reason vocabulary.
func mapFinishReasonOut(reason string) string {
	switch reason {
	case "stop":
		return "end_turn"
	case "tool_calls":
		return "tool_use"
	case "length":
		return "max_tokens"
	default:
		return reason
	}
}

// reasoningSignature returns the preserved signature from a reasoning
// summary block's ReasoningData, or a deterministic placeholder derived from
// the reasoning text when none was preserved.
func reasoningSignature(summary []uir.ContentBlock) string {
	for _, b := range summary {
		if b.ReasoningData != nil {
			if sig, ok := b.ReasoningData["signature"].(string); ok && sig != "" {
				return sig
			}
		}
	}
	sum := sha256.Sum256([]byte(textOf(summary)))
	return "placeholder_" + hex.EncodeToString(sum[:8])
}

func jsonDecodeOrRaw(s string) any {
	var v any
	if err := decodeJSON(s, &v); err != nil {
		return s
	}
	return v
}
