package vertex

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/taipm/llmproxy/internal/uir"
)

// A global-only model id routes to the global aiplatform host and location
// regardless of the adapter's configured location.
func TestRouteFor_GlobalOnlyModel(t *testing.T) {
	a := &Adapter{projectID: "proj-1", location: "us-central1"}
	host, location := a.routeFor("gemini-3-pro-preview")
	assert.Equal(t, "https://aiplatform.googleapis.com", host)
	assert.Equal(t, "global", location)
}

func TestRouteFor_MaasSuffixedModel(t *testing.T) {
	a := &Adapter{projectID: "proj-1", location: "us-central1"}
	host, location := a.routeFor("llama-3-70b-maas")
	assert.Equal(t, "https://aiplatform.googleapis.com", host)
	assert.Equal(t, "global", location)
}

func TestRouteFor_OrdinaryModelUsesLocationScopedHost(t *testing.T) {
	a := &Adapter{projectID: "proj-1", location: "us-central1"}
	host, location := a.routeFor("gemini-2.5-flash")
	assert.Equal(t, "https://us-central1-aiplatform.googleapis.com", host)
	assert.Equal(t, "us-central1", location)
}

func TestNormalizeModelID_RewritesKnownAlias(t *testing.T) {
	assert.Equal(t, "google/gemini-3-pro-preview", normalizeModelID("gemini-3-pro-preview"))
	assert.Equal(t, "untouched-model", normalizeModelID("untouched-model"))
}

// TestSend_PostsToEndpointOverrideWithRewrittenModel checks that Send posts
// to the configured endpoint override as given and that the body carries the
// model id's Vertex alias. The override bypasses host and location
// selection, which the routeFor tests above cover.
func TestSend_PostsToEndpointOverrideWithRewrittenModel(t *testing.T) {
	var gotPath string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"id":"x","choices":[{"message":{"content":"hi"}}]}`))
	}))
	defer srv.Close()

	a := &Adapter{
		projectID:   "proj-1",
		location:    "us-central1",
		tokenSource: staticTokenSource{},
		endpoint:    srv.URL + "/v1/projects/proj-1/locations/global/endpoints/openapi/chat/completions",
	}

	req := &uir.Request{Model: "gemini-3-pro-preview"}
	body, err := a.BuildRequestBody(req)
	require.NoError(t, err)

	pr := a.Send(context.Background(), req, body, nil)
	require.Equal(t, 200, pr.Status)
	assert.Equal(t, "/v1/projects/proj-1/locations/global/endpoints/openapi/chat/completions", gotPath)
	assert.Equal(t, "google/gemini-3-pro-preview", gotBody["model"])
}

func TestBuildRequestBody_RoundTripsToolCallExtraContent(t *testing.T) {
	req := &uir.Request{
		Model: "gemini-3-pro-preview",
		Messages: []uir.Message{
			{
				Role: uir.RoleAssistant,
				ToolCalls: []uir.ToolCall{{
					ID:           "call_1",
					Name:         "search",
					Arguments:    "{}",
					ExtraContent: map[string]any{"google": map[string]any{"thought_signature": "sig-xyz"}},
				}},
			},
		},
	}

	body, err := buildBody(req)
	require.NoError(t, err)

	raw, err := json.Marshal(body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "sig-xyz")
}

func TestConvertTools_RejectsUndeclaredRequiredParameter(t *testing.T) {
	tools := []uir.Tool{{
		Name: "get_weather",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{"location": map[string]any{"type": "string"}},
			"required":   []any{"location", "units"},
		},
	}}
	_, err := convertTools(tools)
	assert.Error(t, err)
}

func TestConvertTools_CoercesUnknownPropertyTypeToString(t *testing.T) {
	tools := []uir.Tool{{
		Name: "get_weather",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{"location": map[string]any{"type": "whatever"}},
		},
	}}
	out, err := convertTools(tools)
	require.NoError(t, err)
	require.Len(t, out, 1)
	fn := out[0].(map[string]any)["function"].(map[string]any)
	params := fn["parameters"].(map[string]any)
	props := params["properties"].(map[string]any)
	loc := props["location"].(map[string]any)
	assert.Equal(t, "string", loc["type"])
}

type staticTokenSource struct{}

func (staticTokenSource) Token() (*oauth2.Token, error) { return &oauth2.Token{AccessToken: "tok"}, nil }
