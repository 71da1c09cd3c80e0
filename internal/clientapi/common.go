package clientapi

import (
	"encoding/json"
	"strings"

	"github.com/taipm/llmproxy/internal/uir"
)

// asString returns v as a string, or "" if it isn't one.
func asString(v any) string {
	s, _ := v.(string)
	return s
}

// asMap returns v as a map[string]any, or nil if it isn't one.
func asMap(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

// asSlice returns v as a []any, or nil if it isn't one.
func asSlice(v any) []any {
	s, _ := v.([]any)
	return s
}

// decodeJSON unmarshals s into out; a thin wrapper so callers needn't import
// encoding/json directly for one-off decodes.
func decodeJSON(s string, out any) error {
	return json.Unmarshal([]byte(s), out)
}

// toJSONString serializes v into a compact JSON string; "{}" on failure.
func toJSONString(v any) string {
	if v == nil {
		return "{}"
	}
	if s, ok := v.(string); ok {
		// Already serialized (e.g. arguments passed through verbatim).
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// contentBlockType infers a block's type when the explicit "type" field is
// missing: default to text when a text field exists.
func contentBlockType(block map[string]any) string {
	if t := asString(block["type"]); t != "" {
		return t
	}
	if _, ok := block["text"]; ok {
		return "text"
	}
	return ""
}

// parseContentBlocks normalizes a message's "content" field, which may be a
// bare string or an array of content-part objects, into UIR ContentBlocks.
func parseContentBlocks(content any) []uir.ContentBlock {
	switch v := content.(type) {
	case nil:
		return nil
	case string:
		if v == "" {
			return nil
		}
		return []uir.ContentBlock{{Type: uir.ContentText, Text: v}}
	case []any:
		var blocks []uir.ContentBlock
		for _, item := range v {
			m := asMap(item)
			if m == nil {
				if s, ok := item.(string); ok && s != "" {
					blocks = append(blocks, uir.ContentBlock{Type: uir.ContentText, Text: s})
				}
				continue
			}
			switch contentBlockType(m) {
			case "text", "input_text", "output_text":
				blocks = append(blocks, uir.ContentBlock{Type: uir.ContentText, Text: asString(m["text"])})
			case "image_url":
				url := asString(m["url"])
				if sub := asMap(m["image_url"]); sub != nil {
					url = asString(sub["url"])
				}
				blocks = append(blocks, uir.ContentBlock{Type: uir.ContentImageURL, URL: url})
			case "reasoning", "thinking":
				blocks = append(blocks, uir.ContentBlock{Type: uir.ContentReasoning, Text: asString(m["text"])})
			default:
				blocks = append(blocks, uir.ContentBlock{Type: uir.ContentJSON, Data: m})
			}
		}
		return blocks
	default:
		return nil
	}
}

// textOf concatenates every ContentText block's text, in order.
func textOf(blocks []uir.ContentBlock) string {
	var sb strings.Builder
	for _, b := range blocks {
		if b.Type == uir.ContentText {
			sb.WriteString(b.Text)
		}
	}
	return sb.String()
}

// orderedOutput returns resp.Output with every reasoning item moved ahead of
// every message item, preserving relative order within each group: reasoning
// always precedes the final message regardless of how the provider ordered
// them.
func orderedOutput(items []uir.OutputItem) []uir.OutputItem {
	var reasoning, messages []uir.OutputItem
	for _, it := range items {
		if it.Type == uir.OutputReasoning {
			reasoning = append(reasoning, it)
		} else {
			messages = append(messages, it)
		}
	}
	out := make([]uir.OutputItem, 0, len(items))
	out = append(out, reasoning...)
	out = append(out, messages...)
	return out
}

// mapFinishReasonIn normalizes a dialect-specific stop reason into the UIR's
// vocabulary (stop/tool_calls/length/...).
func mapFinishReasonIn(reason string) string {
	switch reason {
	case "end_turn", "stop_sequence":
		return "stop"
	case "tool_use":
		return "tool_calls"
	case "max_tokens":
		return "length"
	default:
		return reason
	}
}
