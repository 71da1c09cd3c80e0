package clientapi

import (
	"fmt"

	"github.com/taipm/llmproxy/internal/uir"
)

// OpenAIResponsesAdapter converts OpenAI Responses API requests/responses.
type OpenAIResponsesAdapter struct{}

// NewOpenAIResponsesAdapter constructs the adapter for POST /v1/responses.
func NewOpenAIResponsesAdapter() *OpenAIResponsesAdapter { return &OpenAIResponsesAdapter{} }

func (a *OpenAIResponsesAdapter) Format() string { return "OpenAIResponses" }

// ToUIR handles the polymorphic "input" field: a bare string, an array of
// strings, an array of message objects (typed or untyped), or bare
// function_call / function_call_output entries lacking a "type" at all.
func (a *OpenAIResponsesAdapter) ToUIR(body map[string]any, headers map[string]string) (*uir.Request, error) {
	req := &uir.Request{
		Model:     asString(body["model"]),
		Operation: uir.OperationResponses,
		Stream:    asBool(body["stream"]),
		Metadata: uir.Metadata{
			ClientFormat:  a.Format(),
			ClientRequest: body,
			Headers:       headers,
		},
	}

	if sys := asString(body["instructions"]); sys != "" {
		req.Messages = append(req.Messages, uir.Message{
			Role:    uir.RoleSystem,
			Content: []uir.ContentBlock{{Type: uir.ContentText, Text: sys}},
		})
	}

	switch input := body["input"].(type) {
	case string:
		if input != "" {
			req.Messages = append(req.Messages, uir.Message{
				Role:    uir.RoleUser,
				Content: []uir.ContentBlock{{Type: uir.ContentText, Text: input}},
			})
		}
	case []any:
		req.Messages = append(req.Messages, a.parseInputItems(input)...)
	}

	for _, raw := range asSlice(body["tools"]) {
		t := asMap(raw)
		if t == nil {
			continue
		}
		// Provider-defined tools (e.g. {"type":"code_execution_..."}) lack an
		// input schema and aren't exposed to providers.
		schema := asMap(t["parameters"])
		if schema == nil {
			schema = asMap(t["input_schema"])
		}
		if schema == nil {
			continue
		}
		req.Tools = append(req.Tools, uir.Tool{
			Type:        "function",
			Name:        asString(t["name"]),
			Description: asString(t["description"]),
			Parameters:  schema,
			Strict:      asBool(t["strict"]),
		})
	}

	req.Parameters = parseCommonParameters(body)
	return req, nil
}

// parseInputItems walks the array form of "input": bare strings become a
// synthetic buffered user message; message objects (typed or not) become
// Message entries; bare function_call/function_call_output entries route to
// an assistant tool-call or a tool message respectively.
func (a *OpenAIResponsesAdapter) parseInputItems(items []any) []uir.Message {
	var out []uir.Message
	var bufferedText string

	flushBuffer := func() {
		if bufferedText != "" {
			out = append(out, uir.Message{
				Role:    uir.RoleUser,
				Content: []uir.ContentBlock{{Type: uir.ContentText, Text: bufferedText}},
			})
			bufferedText = ""
		}
	}

	for i, raw := range items {
		if s, ok := raw.(string); ok {
			if bufferedText != "" {
				bufferedText += "\n"
			}
			bufferedText += s
			continue
		}
		m := asMap(raw)
		if m == nil {
			continue
		}

		itemType := asString(m["type"])
		switch {
		case itemType == "function_call" || (itemType == "" && m["call_id"] != nil && m["name"] != nil && m["arguments"] != nil):
			flushBuffer()
			id := asString(m["call_id"])
			if id == "" {
				id = fmt.Sprintf("call_%d", i)
			}
			out = append(out, uir.Message{
				Role: uir.RoleAssistant,
				ToolCalls: []uir.ToolCall{{
					ID:        id,
					Type:      "function",
					Name:      asString(m["name"]),
					Arguments: toJSONString(m["arguments"]),
				}},
			})
		case itemType == "function_call_output" || (itemType == "" && m["call_id"] != nil && m["output"] != nil):
			flushBuffer()
			out = append(out, uir.Message{
				Role:       uir.RoleTool,
				ToolCallID: asString(m["call_id"]),
				Content:    []uir.ContentBlock{{Type: uir.ContentText, Text: asString(m["output"])}},
			})
		default:
			flushBuffer()
			role := asString(m["role"])
			if role == "" {
				role = "user"
			}
			out = append(out, uir.Message{
				Role:    uir.Role(role),
				Content: parseContentBlocks(m["content"]),
			})
		}
	}
	flushBuffer()
	return out
}

func (a *OpenAIResponsesAdapter) FromUIR(resp *uir.Response, req *uir.Request) (map[string]any, error) {
	if resp.Error != nil {
		return map[string]any{
			"error": map[string]any{
				"message": resp.Error.Message,
				"code":    resp.Error.Code,
			},
		}, nil
	}

	var outputItems []any
	for _, item := range orderedOutput(resp.Output) {
		switch item.Type {
		case uir.OutputReasoning:
			outputItems = append(outputItems, map[string]any{
				"type":    "reasoning",
				"summary": textOf(item.Summary),
				"content": textOf(item.Content),
			})
		case uir.OutputMessage:
			status := string(item.Status)
			outputItems = append(outputItems, map[string]any{
				"type":    "message",
				"role":    string(item.Role),
				"status":  status,
				"content": []any{map[string]any{"type": "output_text", "text": textOf(item.Content)}},
			})
			for _, tc := range item.ToolCalls {
				outputItems = append(outputItems, map[string]any{
					"type":      "function_call",
					"call_id":   tc.ID,
					"name":      tc.Name,
					"arguments": tc.Arguments,
				})
			}
		}
	}

	out := map[string]any{
		"id":     resp.ID,
		"object": "response",
		"model":  resp.Model,
		"status": "completed",
		"output": outputItems,
	}
	if resp.Usage != nil {
		out["usage"] = map[string]any{
			"input_tokens":  resp.Usage.InputTokens,
			"output_tokens": resp.Usage.OutputTokens,
			"total_tokens":  resp.Usage.TotalTokens,
		}
	}
	return out, nil
}
