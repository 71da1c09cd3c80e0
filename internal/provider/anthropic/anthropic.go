// Package anthropic implements the native Anthropic Messages provider
// adapter. Request shaping uses anthropic-sdk-go's param types so the
// conversion enjoys the SDK's own validation and JSON tags rather than
// hand-rolled maps.
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/tidwall/gjson"

	"github.com/taipm/llmproxy/internal/provider"
	"github.com/taipm/llmproxy/internal/uir"
)

const anthropicVersion = "2023-06-01"

// Adapter speaks the native Anthropic Messages API.
type Adapter struct {
	baseURL string
	apiKey  string
}

// New constructs the adapter with its base configuration.
func New(baseURL, apiKey string) *Adapter {
	if baseURL == "" {
		baseURL = "https://api.anthropic.com"
	}
	return &Adapter{baseURL: baseURL, apiKey: apiKey}
}

func (a *Adapter) Key() string            { return "anthropic" }
func (a *Adapter) ProviderFormat() string { return "anthropic" }

// BuildRequestBody constructs Anthropic's native body from the UIR request,
// flattening the SDK's typed params to a plain map so ingress transforms can
// mutate it by key.
func (a *Adapter) BuildRequestBody(req *uir.Request) (map[string]any, error) {
	params := buildMessageParams(req)
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	body := map[string]any{}
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, err
	}
	injectThoughtSignatures(body, req.Messages)
	return body, nil
}

// injectThoughtSignatures re-attaches a cached Google thought_signature
// (restored by RestoreThoughtSignaturesTransform onto ToolCall.ExtraContent)
// onto the matching tool_use content block of the flattened request body.
// anthropic-sdk-go's ToolUseBlockParam has no field for it, so it has to be
// patched onto the plain map after marshaling rather than set on the typed
// param.
func injectThoughtSignatures(body map[string]any, messages []uir.Message) {
	sigs := make(map[string]string)
	for id, ec := range provider.ToolCallExtraContent(messages) {
		if g, ok := ec["google"].(map[string]any); ok {
			if sig, ok := g["thought_signature"].(string); ok && sig != "" {
				sigs[id] = sig
			}
		}
	}
	if len(sigs) == 0 {
		return
	}
	msgs, _ := body["messages"].([]any)
	for _, m := range msgs {
		mm, ok := m.(map[string]any)
		if !ok {
			continue
		}
		content, ok := mm["content"].([]any)
		if !ok {
			continue
		}
		for _, c := range content {
			cm, ok := c.(map[string]any)
			if !ok || cm["type"] != "tool_use" {
				continue
			}
			id, _ := cm["id"].(string)
			if sig, found := sigs[id]; found {
				cm["thought_signature"] = sig
			}
		}
	}
}

func (a *Adapter) Send(ctx context.Context, req *uir.Request, body map[string]any, cfg *provider.ModelConfig) *uir.ProviderResponse {
	baseURL := a.baseURL
	apiKey := a.apiKey
	if cfg != nil {
		if cfg.BaseURL != "" {
			baseURL = cfg.BaseURL
		}
		if cfg.APIKey != "" {
			apiKey = cfg.APIKey
		}
	}

	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return provider.SyntheticFailure(err, body)
	}

	headers := map[string]string{
		"x-api-key":         apiKey,
		"anthropic-version": anthropicVersion,
	}
	return provider.DoJSONPost(ctx, strings.TrimRight(baseURL, "/")+"/v1/messages", headers, bodyBytes)
}

// buildMessageParams converts the UIR request into Anthropic's MessageNewParams,
// pulling the leading system message(s) out of the message list (Anthropic
// models system as a dedicated top-level field, not a message role).
func buildMessageParams(req *uir.Request) anthropic.MessageNewParams {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: 4096,
	}
	if req.MaxTokens != nil {
		params.MaxTokens = int64(*req.MaxTokens)
	}
	if req.Temperature != nil {
		params.Temperature = anthropic.Float(*req.Temperature)
	}
	if req.TopP != nil {
		params.TopP = anthropic.Float(*req.TopP)
	}

	var systemBlocks []anthropic.TextBlockParam
	for _, msg := range req.Messages {
		if msg.Role == uir.RoleSystem {
			systemBlocks = append(systemBlocks, anthropic.TextBlockParam{Text: textOf(msg.Content)})
			continue
		}
		params.Messages = append(params.Messages, convertMessage(msg))
	}
	if len(systemBlocks) > 0 {
		params.System = systemBlocks
	}

	if len(req.Tools) > 0 {
		params.Tools = convertTools(req.Tools)
	}
	return params
}

func convertMessage(msg uir.Message) anthropic.MessageParam {
	switch msg.Role {
	case uir.RoleTool:
		return anthropic.NewUserMessage(anthropic.NewToolResultBlock(msg.ToolCallID, textOf(msg.Content), false))
	case uir.RoleAssistant:
		var blocks []anthropic.ContentBlockParamUnion
		if text := textOf(msg.Content); text != "" {
			blocks = append(blocks, anthropic.NewTextBlock(text))
		}
		for _, tc := range msg.ToolCalls {
			var args any
			_ = json.Unmarshal([]byte(tc.Arguments), &args)
			blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, args, tc.Name))
		}
		return anthropic.NewAssistantMessage(blocks...)
	default:
		return anthropic.NewUserMessage(anthropic.NewTextBlock(textOf(msg.Content)))
	}
}

func convertTools(tools []uir.Tool) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		schema := anthropic.ToolInputSchemaParam{}
		if props, ok := t.Parameters["properties"]; ok {
			schema.Properties = props
		}
		if reqd, ok := t.Parameters["required"]; ok {
			schema.ExtraFields = map[string]any{"required": reqd}
		}
		out = append(out, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        t.Name,
				Description: anthropic.String(t.Description),
				InputSchema: schema,
			},
		})
	}
	return out
}

func textOf(blocks []uir.ContentBlock) string {
	var sb strings.Builder
	for _, b := range blocks {
		if b.Type == uir.ContentText {
			sb.WriteString(b.Text)
		}
	}
	return sb.String()
}

// ToUIRResponse converts a captured Anthropic Messages response. The
// provider-stage transforms have already mutated pr.Body for thought
// signatures and Kimi-style repairs where applicable.
func (a *Adapter) ToUIRResponse(pr *uir.ProviderResponse, req *uir.Request) (*uir.Response, error) {
	if pr.Failed() {
		return errorResponse(pr, req), nil
	}

	raw, _ := pr.Body.(string)
	root := gjson.Parse(raw)

	var output []uir.OutputItem
	var reasoningBlocks []uir.ContentBlock
	var textBlocks []uir.ContentBlock
	var toolCalls []uir.ToolCall

	root.Get("content").ForEach(func(_, block gjson.Result) bool {
		switch block.Get("type").String() {
		case "thinking", "redacted_thinking":
			b := uir.ContentBlock{Type: uir.ContentText, Text: block.Get("thinking").String()}
			if sig := block.Get("signature").String(); sig != "" {
				b.ReasoningData = map[string]any{"signature": sig}
			}
			reasoningBlocks = append(reasoningBlocks, b)
		case "text":
			textBlocks = append(textBlocks, uir.ContentBlock{Type: uir.ContentText, Text: block.Get("text").String()})
		case "tool_use":
			tc := uir.ToolCall{
				ID:        block.Get("id").String(),
				Type:      "function",
				Name:      block.Get("name").String(),
				Arguments: block.Get("input").Raw,
			}
			if sig := block.Get("thought_signature").String(); sig != "" {
				tc.ExtraContent = map[string]any{"google": map[string]any{"thought_signature": sig}}
			}
			toolCalls = append(toolCalls, tc)
		}
		return true
	})

	if len(reasoningBlocks) > 0 {
		output = append(output, uir.OutputItem{Type: uir.OutputReasoning, Summary: reasoningBlocks})
	}

	finishReason := mapStopReason(root.Get("stop_reason").String())
	status := uir.StatusCompleted
	if finishReason == "length" {
		status = uir.StatusIncomplete
	}

	output = append(output, uir.OutputItem{
		Type:      uir.OutputMessage,
		Role:      uir.RoleAssistant,
		Content:   textBlocks,
		ToolCalls: toolCalls,
		Status:    status,
	})

	resp := &uir.Response{
		ID:           root.Get("id").String(),
		Model:        root.Get("model").String(),
		Operation:    req.Operation,
		FinishReason: finishReason,
		Output:       output,
	}
	if usage := root.Get("usage"); usage.Exists() {
		resp.Usage = &uir.Usage{
			InputTokens:  int(usage.Get("input_tokens").Int()),
			OutputTokens: int(usage.Get("output_tokens").Int()),
			TotalTokens:  int(usage.Get("input_tokens").Int() + usage.Get("output_tokens").Int()),
		}
	}
	return resp, nil
}

func mapStopReason(reason string) string {
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

func errorResponse(pr *uir.ProviderResponse, req *uir.Request) *uir.Response {
	raw, _ := pr.Body.(string)
	msg := gjson.Parse(raw).Get("error.message").String()
	if msg == "" {
		msg = fmt.Sprintf("upstream returned status %d", pr.Status)
	}
	return &uir.Response{
		Operation: req.Operation,
		Error:     &uir.ResponseError{Message: msg, Code: "upstream_semantic"},
	}
}
