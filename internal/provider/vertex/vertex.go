// Package vertex implements the provider adapter for Google's Vertex AI
// Model-as-a-Service endpoint. Tool schemas are round-tripped through
// genai.Schema to validate and shape them before they're serialized into
// the MaaS endpoint's OpenAI-compatible body.
package vertex

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/genai"

	"github.com/taipm/llmproxy/internal/provider"
	"github.com/taipm/llmproxy/internal/provider/openaicompat"
	"github.com/taipm/llmproxy/internal/uir"
)

const cloudPlatformScope = "https://www.googleapis.com/auth/cloud-platform"

// globalOnlyModels always route through the global aiplatform host regardless
// of the configured location.
var globalOnlyModels = map[string]bool{
	"gemini-3-pro-preview": true,
}

// modelAliases normalizes a client-visible model id into the id Vertex
// expects in the request body.
var modelAliases = map[string]string{
	"gemini-3-pro-preview": "google/gemini-3-pro-preview",
}

// Adapter speaks the Vertex MaaS OpenAI-compatible endpoint.
type Adapter struct {
	projectID   string
	location    string
	tokenSource oauth2.TokenSource
	endpoint    string // overrides full host+path when set
}

// Config carries the service-account credentials used to mint bearer tokens.
type Config struct {
	ProjectID        string
	Location         string
	Credentials      string // inline service-account JSON
	CredentialsPath  string // path to a service-account JSON file
	EndpointOverride string
}

// New builds the adapter's OAuth2 token source from explicit service-account
// credentials (path or inline JSON), never ambient application-default
// credentials.
func New(ctx context.Context, cfg Config) (*Adapter, error) {
	var raw []byte
	var err error
	switch {
	case cfg.Credentials != "":
		raw = []byte(cfg.Credentials)
	case cfg.CredentialsPath != "":
		raw, err = os.ReadFile(cfg.CredentialsPath)
		if err != nil {
			return nil, fmt.Errorf("vertex: reading credentials file: %w", err)
		}
	default:
		return nil, fmt.Errorf("vertex: no service-account credentials configured")
	}

	creds, err := google.CredentialsFromJSON(ctx, raw, cloudPlatformScope)
	if err != nil {
		return nil, fmt.Errorf("vertex: parsing service-account credentials: %w", err)
	}

	return &Adapter{
		projectID:   cfg.ProjectID,
		location:    cfg.Location,
		tokenSource: creds.TokenSource,
		endpoint:    cfg.EndpointOverride,
	}, nil
}

func (a *Adapter) Key() string            { return "vertex" }
func (a *Adapter) ProviderFormat() string { return "vertex" }

// routeFor implements model-id based endpoint selection: MaaS-suffixed or
// global-only models go to the global aiplatform host; everything else goes
// to the location-scoped host.
func (a *Adapter) routeFor(model string) (host, location string) {
	location = a.location
	if strings.HasSuffix(model, "-maas") || globalOnlyModels[model] {
		return "https://aiplatform.googleapis.com", "global"
	}
	return fmt.Sprintf("https://%s-aiplatform.googleapis.com", a.location), location
}

func normalizeModelID(model string) string {
	if alias, ok := modelAliases[model]; ok {
		return alias
	}
	return model
}

// BuildRequestBody constructs the MaaS endpoint's OpenAI-compatible body,
// normalizing the model id and validating tool schemas via the genai schema
// converter before they're serialized.
func (a *Adapter) BuildRequestBody(req *uir.Request) (map[string]any, error) {
	return buildBody(req)
}

// Send routes by req.Model and performs the single HTTP call, acquiring a
// fresh service-account bearer token.
func (a *Adapter) Send(ctx context.Context, req *uir.Request, body map[string]any, cfg *provider.ModelConfig) *uir.ProviderResponse {
	projectID := a.projectID
	if cfg != nil && cfg.ProjectID != "" {
		projectID = cfg.ProjectID
	}

	host, location := a.routeFor(req.Model)
	url := a.endpoint
	if cfg != nil && cfg.EndpointOverride != "" {
		url = cfg.EndpointOverride
	}
	if url == "" {
		url = fmt.Sprintf("%s/v1/projects/%s/locations/%s/endpoints/openapi/chat/completions", host, projectID, location)
	}

	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return provider.SyntheticFailure(err, body)
	}

	token, err := a.tokenSource.Token()
	if err != nil {
		return provider.SyntheticFailure(fmt.Errorf("vertex: acquiring bearer token: %w", err), body)
	}

	headers := map[string]string{"Authorization": "Bearer " + token.AccessToken}
	return provider.DoJSONPost(ctx, url, headers, bodyBytes)
}

// ToUIRResponse reuses the OpenAI-compatible normalization since the MaaS
// endpoint returns the same chat-completions shape.
func (a *Adapter) ToUIRResponse(pr *uir.ProviderResponse, req *uir.Request) (*uir.Response, error) {
	return openaicompat.NormalizeChatCompletion(pr, req)
}

// buildBody constructs the OpenAI-compatible request body the MaaS endpoint
// expects, normalizing the model id and validating tool schemas via the
// genai schema converter before they're serialized.
func buildBody(req *uir.Request) (map[string]any, error) {
	body := map[string]any{
		"model":    normalizeModelID(req.Model),
		"messages": convertMessages(req),
	}
	if req.Temperature != nil {
		body["temperature"] = *req.Temperature
	}
	if req.TopP != nil {
		body["top_p"] = *req.TopP
	}
	if req.MaxTokens != nil {
		body["max_tokens"] = *req.MaxTokens
	}
	if len(req.Tools) > 0 {
		tools, err := convertTools(req.Tools)
		if err != nil {
			return nil, err
		}
		body["tools"] = tools
	}
	return body, nil
}

func convertMessages(req *uir.Request) []map[string]any {
	var out []map[string]any
	for _, msg := range req.Messages {
		entry := map[string]any{"role": string(msg.Role)}
		if text := textOf(msg.Content); text != "" {
			entry["content"] = text
		}
		if msg.Role == uir.RoleTool {
			entry["tool_call_id"] = msg.ToolCallID
		}
		if len(msg.ToolCalls) > 0 {
			var tcs []any
			for _, tc := range msg.ToolCalls {
				tcEntry := map[string]any{
					"id":   tc.ID,
					"type": "function",
					"function": map[string]any{
						"name":      tc.Name,
						"arguments": tc.Arguments,
					},
				}
				if tc.ExtraContent != nil {
					tcEntry["extra_content"] = tc.ExtraContent
				}
				tcs = append(tcs, tcEntry)
			}
			entry["tool_calls"] = tcs
		}
		out = append(out, entry)
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

// convertTools validates and re-renders each tool's JSON-schema parameters
// by round-tripping them through genai.Schema before emitting the
// OpenAI-compatible function-tool shape the MaaS endpoint expects. A
// tool whose "required" list names an undeclared property is rejected
// outright, since Vertex's MaaS endpoint returns an opaque 400 for that
// shape rather than a helpful validation error.
func convertTools(tools []uir.Tool) ([]any, error) {
	out := make([]any, 0, len(tools))
	for _, t := range tools {
		schema, err := convertToolSchema(t)
		if err != nil {
			return nil, fmt.Errorf("vertex: tool %q: %w", t.Name, err)
		}
		out = append(out, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        t.Name,
				"description": t.Description,
				"parameters":  schemaToParameters(schema),
			},
		})
	}
	return out, nil
}

func convertToolSchema(t uir.Tool) (*genai.Schema, error) {
	schema := &genai.Schema{
		Type:       genai.TypeObject,
		Properties: make(map[string]*genai.Schema),
	}
	props, _ := t.Parameters["properties"].(map[string]any)
	for name, raw := range props {
		if propMap, ok := raw.(map[string]any); ok {
			schema.Properties[name] = convertPropertySchema(propMap)
		}
	}
	if required, ok := t.Parameters["required"].([]any); ok {
		for _, r := range required {
			s, ok := r.(string)
			if !ok {
				continue
			}
			if _, declared := schema.Properties[s]; !declared {
				return nil, fmt.Errorf("required parameter %q is not declared in properties", s)
			}
			schema.Required = append(schema.Required, s)
		}
	}
	return schema, nil
}

// schemaToParameters renders the validated genai.Schema back into the plain
// JSON-schema object the MaaS endpoint expects. Going through the schema
// (rather than passing the caller's raw t.Parameters through untouched)
// means an unrecognized property type is coerced to "string" instead of
// being forwarded as-is.
func schemaToParameters(schema *genai.Schema) map[string]any {
	props := make(map[string]any, len(schema.Properties))
	for name, p := range schema.Properties {
		props[name] = propertySchemaToJSON(p)
	}
	params := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(schema.Required) > 0 {
		params["required"] = schema.Required
	}
	return params
}

func propertySchemaToJSON(p *genai.Schema) map[string]any {
	out := map[string]any{"type": jsonTypeString(p.Type)}
	if p.Description != "" {
		out["description"] = p.Description
	}
	if p.Items != nil {
		out["items"] = map[string]any{"type": jsonTypeString(p.Items.Type)}
	}
	if len(p.Enum) > 0 {
		out["enum"] = p.Enum
	}
	return out
}

func jsonTypeString(t genai.Type) string {
	switch t {
	case genai.TypeString:
		return "string"
	case genai.TypeNumber:
		return "number"
	case genai.TypeInteger:
		return "integer"
	case genai.TypeBoolean:
		return "boolean"
	case genai.TypeArray:
		return "array"
	case genai.TypeObject:
		return "object"
	default:
		return "string"
	}
}

func convertPropertySchema(propMap map[string]any) *genai.Schema {
	schema := &genai.Schema{Type: convertTypeString(asString(propMap["type"]))}
	if desc := asString(propMap["description"]); desc != "" {
		schema.Description = desc
	}
	if items, ok := propMap["items"].(map[string]any); ok {
		schema.Items = &genai.Schema{Type: convertTypeString(asString(items["type"]))}
	}
	if enumValues, ok := propMap["enum"].([]any); ok {
		for _, v := range enumValues {
			if s, ok := v.(string); ok {
				schema.Enum = append(schema.Enum, s)
			}
		}
	}
	return schema
}

func convertTypeString(typeStr string) genai.Type {
	switch strings.ToLower(typeStr) {
	case "string":
		return genai.TypeString
	case "number", "float", "double":
		return genai.TypeNumber
	case "integer":
		return genai.TypeInteger
	case "boolean":
		return genai.TypeBoolean
	case "array":
		return genai.TypeArray
	case "object":
		return genai.TypeObject
	default:
		return genai.TypeString
	}
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}
