// Package openaicompat implements the provider adapter shared by any
// upstream that speaks the OpenAI Chat Completions wire format, including
// OpenRouter. Message and tool conversion goes through the OpenAI SDK's
// typed params, built from the UIR rather than any dialect-specific type.
package openaicompat

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/tidwall/gjson"

	"github.com/taipm/llmproxy/internal/provider"
	"github.com/taipm/llmproxy/internal/uir"
)

// Adapter speaks the OpenAI-compatible chat completions dialect against any
// base URL: api.openai.com, openrouter.ai, or a self-hosted gateway.
type Adapter struct {
	key            string
	providerFormat string
	baseURL        string
	apiKey         string
}

// New constructs an adapter registered under key, defaulting to baseURL/
// apiKey unless overridden per-model.
func New(key, providerFormat, baseURL, apiKey string) *Adapter {
	return &Adapter{key: key, providerFormat: providerFormat, baseURL: baseURL, apiKey: apiKey}
}

func (a *Adapter) Key() string            { return a.key }
func (a *Adapter) ProviderFormat() string { return a.providerFormat }

// BuildRequestBody constructs the provider-native payload from the UIR,
// using the OpenAI SDK's typed params for message/tool conversion, then
// flattening to a plain map so it can be captured for logging and patched
// by key before the request is sent.
func (a *Adapter) BuildRequestBody(req *uir.Request) (map[string]any, error) {
	params := buildChatCompletionParams(req)
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	body := map[string]any{}
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, err
	}
	provider.InjectOpenAICompatExtraContent(body, req.Messages)
	return body, nil
}

// Send performs the single HTTP call, merging any per-model override config
// onto the adapter's base config first.
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
	baseURL = strings.TrimRight(baseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}

	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return provider.SyntheticFailure(err, body)
	}

	headers := map[string]string{"Authorization": "Bearer " + apiKey}
	return provider.DoJSONPost(ctx, baseURL+"/chat/completions", headers, bodyBytes)
}

// buildChatCompletionParams converts the UIR request into OpenAI's parameter
// type, setting optional fields only when the caller actually set them.
func buildChatCompletionParams(req *uir.Request) openai.ChatCompletionNewParams {
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(req.Model),
		Messages: convertMessages(req),
	}
	if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	}
	if req.TopP != nil {
		params.TopP = openai.Float(*req.TopP)
	}
	if req.MaxTokens != nil {
		params.MaxTokens = openai.Int(int64(*req.MaxTokens))
	}
	if len(req.Tools) > 0 {
		params.Tools = convertTools(req.Tools)
	}
	return params
}

func convertMessages(req *uir.Request) []openai.ChatCompletionMessageParamUnion {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, msg := range req.Messages {
		text := concatText(msg.Content)
		switch msg.Role {
		case uir.RoleSystem:
			messages = append(messages, openai.SystemMessage(text))
		case uir.RoleUser:
			messages = append(messages, openai.UserMessage(text))
		case uir.RoleAssistant:
			if len(msg.ToolCalls) == 0 {
				messages = append(messages, openai.AssistantMessage(text))
				continue
			}
			assistantMsg := openai.ChatCompletionAssistantMessageParam{}
			if text != "" {
				assistantMsg.Content.OfString = openai.String(text)
			}
			for _, tc := range msg.ToolCalls {
				assistantMsg.ToolCalls = append(assistantMsg.ToolCalls, openai.ChatCompletionMessageToolCallUnionParam{
					OfFunction: &openai.ChatCompletionMessageFunctionToolCallParam{
						ID: tc.ID,
						Function: openai.ChatCompletionMessageFunctionToolCallFunctionParam{
							Name:      tc.Name,
							Arguments: tc.Arguments,
						},
					},
				})
			}
			messages = append(messages, openai.ChatCompletionMessageParamUnion{OfAssistant: &assistantMsg})
		case uir.RoleTool:
			messages = append(messages, openai.ToolMessage(text, msg.ToolCallID))
		default:
			messages = append(messages, openai.UserMessage(text))
		}
	}
	return messages
}

func convertTools(tools []uir.Tool) []openai.ChatCompletionToolUnionParam {
	result := make([]openai.ChatCompletionToolUnionParam, len(tools))
	for i, t := range tools {
		var params openai.FunctionParameters
		if t.Parameters != nil {
			params = openai.FunctionParameters(t.Parameters)
		}
		result[i] = openai.ChatCompletionFunctionTool(openai.FunctionDefinitionParam{
			Name:        t.Name,
			Description: openai.String(t.Description),
			Parameters:  params,
		})
	}
	return result
}

func concatText(blocks []uir.ContentBlock) string {
	var sb strings.Builder
	for _, b := range blocks {
		if b.Type == uir.ContentText {
			sb.WriteString(b.Text)
		}
	}
	return sb.String()
}

// ToUIRResponse applies the OpenAI-compatible normalization rules:
// null content becomes an empty array, missing tool_call ids
// are synthesized, finish_reason=length maps to an incomplete message
// status, non-empty reasoning_content becomes a leading reasoning item, and
// the presence of tool_calls defaults a blank finish_reason to "tool_calls".
//
// By the time this runs, the provider-stage transforms (Kimi fixer, thought
// signature extraction, cleanup) have already mutated pr.Body in place.
func (a *Adapter) ToUIRResponse(pr *uir.ProviderResponse, req *uir.Request) (*uir.Response, error) {
	return NormalizeChatCompletion(pr, req)
}

// NormalizeChatCompletion applies the OpenAI-compatible normalization rules
// to a captured ProviderResponse. Exported so other provider adapters whose
// wire format is OpenAI-compatible (the Vertex MaaS endpoint) can reuse it
// instead of duplicating the parsing.
func NormalizeChatCompletion(pr *uir.ProviderResponse, req *uir.Request) (*uir.Response, error) {
	if pr.Failed() {
		return errorResponse(pr, req), nil
	}

	raw, _ := pr.Body.(string)
	root := gjson.Parse(raw)

	choice := root.Get("choices.0")
	message := choice.Get("message")
	finishReason := choice.Get("finish_reason").String()

	var output []uir.OutputItem

	if reasoning := message.Get("reasoning_content"); reasoning.Exists() {
		if text := reasoningText(reasoning); text != "" {
			output = append(output, uir.OutputItem{
				Type:    uir.OutputReasoning,
				Summary: []uir.ContentBlock{{Type: uir.ContentText, Text: text}},
			})
		}
	}

	var toolCalls []uir.ToolCall
	message.Get("tool_calls").ForEach(func(idx, tc gjson.Result) bool {
		id := tc.Get("id").String()
		if id == "" {
			id = "call_" + strconv.FormatInt(idx.Int(), 10)
		}
		toolCalls = append(toolCalls, uir.ToolCall{
			ID:        id,
			Type:      "function",
			Name:      tc.Get("function.name").String(),
			Arguments: tc.Get("function.arguments").String(),
		})
		return true
	})

	if len(toolCalls) > 0 && finishReason == "" {
		finishReason = "tool_calls"
	}

	status := uir.StatusCompleted
	if finishReason == "length" {
		status = uir.StatusIncomplete
	}

	var content []uir.ContentBlock
	if c := message.Get("content"); c.Exists() && c.Type != gjson.Null && c.String() != "" {
		content = []uir.ContentBlock{{Type: uir.ContentText, Text: c.String()}}
	}

	output = append(output, uir.OutputItem{
		Type:      uir.OutputMessage,
		Role:      uir.RoleAssistant,
		Content:   content,
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
			InputTokens:  int(usage.Get("prompt_tokens").Int()),
			OutputTokens: int(usage.Get("completion_tokens").Int()),
			TotalTokens:  int(usage.Get("total_tokens").Int()),
		}
	}
	return resp, nil
}

// reasoningText handles reasoning_content being either a bare string or an
// array of {thinking|text, signature?} objects.
func reasoningText(r gjson.Result) string {
	if r.IsArray() {
		var sb strings.Builder
		r.ForEach(func(_, item gjson.Result) bool {
			if t := item.Get("thinking"); t.Exists() {
				sb.WriteString(t.String())
			} else {
				sb.WriteString(item.Get("text").String())
			}
			return true
		})
		return sb.String()
	}
	return r.String()
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
