package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taipm/llmproxy/internal/httpstore"
)

type fakeController struct {
	lastClientFormat string
	lastBody         map[string]any
	response         map[string]any
	status           int
	err              error
}

func (f *fakeController) Handle(ctx context.Context, clientFormat string, body map[string]any, headers map[string]string) (map[string]any, int, error) {
	f.lastClientFormat = clientFormat
	f.lastBody = body
	return f.response, f.status, f.err
}

type fakeExchangeLister struct {
	records []httpstore.Record
}

func (f *fakeExchangeLister) List(ctx context.Context, limit int) ([]httpstore.Record, error) {
	return f.records, nil
}

func TestRouter_DialectRoutesCallPipelineWithCorrectClientFormat(t *testing.T) {
	cases := []struct {
		path   string
		format string
	}{
		{"/v1/chat/completions", "OpenAIChat"},
		{"/v1/messages", "AnthropicMessages"},
		{"/v1/responses", "OpenAIResponses"},
	}

	for _, tc := range cases {
		ctrl := &fakeController{response: map[string]any{"ok": true}, status: 200}
		srv := &Server{Pipeline: ctrl}

		req := httptest.NewRequest(http.MethodPost, tc.path, strings.NewReader(`{"model":"x"}`))
		rec := httptest.NewRecorder()
		srv.Router().ServeHTTP(rec, req)

		assert.Equal(t, tc.format, ctrl.lastClientFormat, "path %s", tc.path)
		assert.Equal(t, http.StatusOK, rec.Code)
	}
}

func TestHandleDialect_InvalidJSONReturns400(t *testing.T) {
	ctrl := &fakeController{}
	srv := &Server{Pipeline: ctrl}

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(`not json`))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleDialect_StreamsWhenStreamRequested(t *testing.T) {
	ctrl := &fakeController{response: map[string]any{"ok": true}, status: 200}
	srv := &Server{Pipeline: ctrl}

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(`{"model":"x","stream":true}`))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "data: ")
	assert.Contains(t, rec.Body.String(), "[DONE]")
}

func TestHandleDialect_StreamsChatContentAsDeltas(t *testing.T) {
	ctrl := &fakeController{
		response: map[string]any{
			"id":     "chatcmpl-1",
			"object": "chat.completion",
			"model":  "m",
			"choices": []any{map[string]any{
				"index":         0,
				"message":       map[string]any{"role": "assistant", "content": "hello world"},
				"finish_reason": "stop",
			}},
		},
		status: 200,
	}
	srv := &Server{Pipeline: ctrl}

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(`{"model":"x","stream":true}`))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	body := rec.Body.String()
	assert.Contains(t, body, "chat.completion.chunk")
	assert.Contains(t, body, `"content":"hello"`)
	assert.Contains(t, body, `"finish_reason":"stop"`)
	assert.True(t, strings.HasSuffix(body, "data: [DONE]\n\n"))
}

func TestStreamFrames_AnthropicTextChunked(t *testing.T) {
	rendered := map[string]any{
		"id":          "msg_1",
		"model":       "m",
		"stop_reason": "end_turn",
		"content": []any{
			map[string]any{"type": "text", "text": "abcdefgh"},
		},
	}
	frames := streamFrames("AnthropicMessages", rendered, 5)

	var deltas []string
	for _, f := range frames {
		m := f.(map[string]any)
		if m["type"] == "content_block_delta" {
			d := m["delta"].(map[string]any)
			deltas = append(deltas, d["text"].(string))
		}
	}
	assert.Equal(t, []string{"abcde", "fgh"}, deltas)
	last := frames[len(frames)-1].(map[string]any)
	assert.Equal(t, "message_stop", last["type"])
}

func TestHandleDialect_PipelineErrorReturnsErrorEnvelope(t *testing.T) {
	ctrl := &fakeController{err: assertError("boom")}
	srv := &Server{Pipeline: ctrl}

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(`{"model":"x"}`))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	require.NotEqual(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body, "error")
}

func TestHandleExchanges_ReturnsRecords(t *testing.T) {
	lister := &fakeExchangeLister{records: []httpstore.Record{{ID: 1, RequestID: "req_abc"}}}
	srv := &Server{Pipeline: &fakeController{}, Exchanges: lister}

	req := httptest.NewRequest(http.MethodGet, "/v1/exchanges", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "req_abc")
}

func TestRouter_ExchangesRouteAbsentWithoutLister(t *testing.T) {
	srv := &Server{Pipeline: &fakeController{}}
	req := httptest.NewRequest(http.MethodGet, "/v1/exchanges", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// assertError is a tiny error helper to avoid importing "errors" just for
// one test-local sentinel.
type assertError string

func (e assertError) Error() string { return string(e) }
