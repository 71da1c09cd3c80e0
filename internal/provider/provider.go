// Package provider adapts the UIR to and from each upstream provider's wire
// format: OpenAI-compatible (shared by OpenAI and OpenRouter), Vertex MaaS,
// and native Anthropic.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/taipm/llmproxy/internal/uir"
)

// ModelConfig is the per-model override merged onto an adapter's base
// config before a call.
type ModelConfig struct {
	APIKey           string
	BaseURL          string
	ProjectID        string
	Location         string
	Credentials      string
	CredentialsPath  string
	EndpointOverride string
}

// Adapter is implemented by every provider. The pipeline controller runs
// ingress transforms (ClampMaxTokens, EnsureToolCallRequestTransform,
// RestoreThoughtSignaturesTransform) on the UIR request before
// BuildRequestBody, records the built body on the request metadata, and then
// passes it to Send. ToUIRResponse converts the captured body into a UIR-Response after
// provider-stage transforms have run on it.
type Adapter interface {
	// Key is the stable identifier used in configuration and routing, e.g.
	// "openai", "openrouter", "vertex", "anthropic".
	Key() string

	// ProviderFormat is the wire-format family this adapter speaks; the
	// controller records it on the request metadata.
	ProviderFormat() string

	// BuildRequestBody constructs the provider-native payload from the UIR
	// request.
	BuildRequestBody(req *uir.Request) (map[string]any, error)

	// Send performs exactly one upstream HTTP call with body (as built by
	// BuildRequestBody), merging cfg onto the adapter's base
	// configuration. req is passed alongside body because some adapters
	// (Vertex) route by the original, pre-normalization model id. It never
	// returns a nil *uir.ProviderResponse: transport failures are captured
	// as a synthetic response with status >= 500.
	Send(ctx context.Context, req *uir.Request, body map[string]any, cfg *ModelConfig) *uir.ProviderResponse

	// ToUIRResponse converts a captured ProviderResponse into a UIR-Response.
	ToUIRResponse(pr *uir.ProviderResponse, req *uir.Request) (*uir.Response, error)
}

// Registry resolves an Adapter by providerKey.
type Registry struct {
	adapters map[string]Adapter
}

// NewRegistry builds an empty registry; callers Register each configured
// provider.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

// Register adds or replaces the adapter for its own Key().
func (r *Registry) Register(a Adapter) {
	r.adapters[a.Key()] = a
}

// Resolve looks up an adapter by providerKey.
func (r *Registry) Resolve(providerKey string) (Adapter, error) {
	a, ok := r.adapters[providerKey]
	if !ok {
		return nil, fmt.Errorf("unregistered providerKey %q", providerKey)
	}
	return a, nil
}

// ToolCallExtraContent collects the ExtraContent payload (e.g. Google's
// thought_signature, restored onto the request by
// RestoreThoughtSignaturesTransform) carried on a request's assistant
// tool_calls, keyed by tool_call id. Adapters use this to re-attach the
// payload onto the outgoing wire body, since it doesn't survive a plain
// struct-to-map flattening of the provider's own SDK types.
func ToolCallExtraContent(messages []uir.Message) map[string]map[string]any {
	extra := make(map[string]map[string]any)
	for _, m := range messages {
		for _, tc := range m.ToolCalls {
			if tc.ExtraContent != nil {
				extra[tc.ID] = tc.ExtraContent
			}
		}
	}
	return extra
}

// InjectOpenAICompatExtraContent walks an OpenAI-compatible request body's
// messages[].tool_calls[] entries (already flattened to plain maps) and sets
// "extra_content" on each one whose id carries cached data, so a restored
// thought_signature actually reaches the upstream call instead of being
// dropped at serialization.
func InjectOpenAICompatExtraContent(body map[string]any, messages []uir.Message) {
	extra := ToolCallExtraContent(messages)
	if len(extra) == 0 {
		return
	}
	for _, m := range asAnySlice(body["messages"]) {
		mm, ok := m.(map[string]any)
		if !ok {
			continue
		}
		for _, tc := range asAnySlice(mm["tool_calls"]) {
			tm, ok := tc.(map[string]any)
			if !ok {
				continue
			}
			id, _ := tm["id"].(string)
			if ec, found := extra[id]; found {
				tm["extra_content"] = ec
			}
		}
	}
}

func asAnySlice(v any) []any {
	s, _ := v.([]any)
	return s
}

// UpstreamTimeout is the fixed per-call deadline for upstream HTTP calls.
const UpstreamTimeout = 120 * time.Second

var httpClient = &http.Client{}

// SyntheticFailure builds the ProviderResponse captured when the HTTP call
// itself fails (not a semantic error from the upstream): a synthetic
// response with status>=500 carrying the error body, so the exchange can
// still be logged in full.
func SyntheticFailure(err error, requestBody any) *uir.ProviderResponse {
	body, _ := json.Marshal(map[string]any{"error": map[string]any{"message": err.Error(), "code": "upstream_transport"}})
	return &uir.ProviderResponse{
		Status:      502,
		Headers:     map[string]string{},
		Body:        string(body),
		RequestBody: requestBody,
	}
}

// DoJSONPost performs the single HTTP call every provider adapter needs: POST
// body to url with the given headers, and capture the full exchange
// regardless of outcome. Body is kept as a raw JSON string throughout the
// pipeline so the provider-stage transforms (internal/transform) can mutate
// it in place with gjson/sjson before any adapter parses it into a UIR
// response.
func DoJSONPost(ctx context.Context, url string, headers map[string]string, body []byte) *uir.ProviderResponse {
	var requestBody any
	_ = json.Unmarshal(body, &requestBody)

	ctx, cancel := context.WithTimeout(ctx, UpstreamTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return SyntheticFailure(err, requestBody)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := httpClient.Do(httpReq)
	if err != nil {
		return SyntheticFailure(err, requestBody)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return SyntheticFailure(err, requestBody)
	}

	respHeaders := make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		respHeaders[strings.ToLower(k)] = resp.Header.Get(k)
	}

	return &uir.ProviderResponse{
		Status:      resp.StatusCode,
		Headers:     respHeaders,
		Body:        string(raw),
		RequestBody: requestBody,
	}
}
