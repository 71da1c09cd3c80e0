// Package httpapi is the thin HTTP surface mapping the three dialect routes
// onto pipeline.Controller.Handle, plus a small read-only inspection
// endpoint over the log store's mirrored view. CORS is permissive; this is
// a development proxy, not a multi-tenant gateway.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/taipm/llmproxy/internal/httpstore"
	"github.com/taipm/llmproxy/internal/logging"
	"github.com/taipm/llmproxy/internal/perrors"
	"github.com/taipm/llmproxy/internal/sse"
)

// Controller is the narrow slice of pipeline.Controller the HTTP layer
// depends on, so tests can substitute a fake.
type Controller interface {
	Handle(ctx context.Context, clientFormat string, body map[string]any, headers map[string]string) (map[string]any, int, error)
}

// ExchangeLister is the narrow slice of httpstore.Store the mirrored-view
// endpoint depends on.
type ExchangeLister interface {
	List(ctx context.Context, limit int) ([]httpstore.Record, error)
}

// Server builds the chi.Router for the proxy's HTTP surface.
type Server struct {
	Pipeline  Controller
	Streaming sse.Options
	Log       logging.Logger
	Exchanges ExchangeLister // optional; nil disables GET /v1/exchanges
}

// route pairs one of the three dialect endpoints with its clientFormat.
type route struct {
	path         string
	clientFormat string
}

var routes = []route{
	{"/v1/chat/completions", "OpenAIChat"},
	{"/v1/messages", "AnthropicMessages"},
	{"/v1/responses", "OpenAIResponses"},
}

// Router builds the chi.Router wiring the dialect and inspection routes.
func (s *Server) Router() chi.Router {
	if s.Log == nil {
		s.Log = logging.Noop{}
	}
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: false,
	}))

	for _, rt := range routes {
		rt := rt
		r.Post(rt.path, s.handleDialect(rt.clientFormat))
	}

	if s.Exchanges != nil {
		r.Get("/v1/exchanges", s.handleExchanges)
	}

	return r
}

func (s *Server) handleDialect(clientFormat string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "request body is not valid JSON")
			return
		}

		headers := headerMap(r.Header)
		rendered, status, err := s.Pipeline.Handle(r.Context(), clientFormat, body, headers)
		if err != nil {
			s.Log.Error(r.Context(), "pipeline handle failed", logging.F("error", err.Error()))
			writeError(w, statusFor(err), err.Error())
			return
		}

		if streamRequested(body) {
			s.writeStream(w, clientFormat, rendered, status)
			return
		}

		writeJSON(w, status, rendered)
	}
}

func (s *Server) writeStream(w http.ResponseWriter, clientFormat string, rendered map[string]any, status int) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(status)

	opts := s.Streaming
	if opts.ChunkSize <= 0 {
		opts = sse.DefaultOptions()
	}

	_ = sse.Emit(w, streamFrames(clientFormat, rendered, opts.ChunkSize), opts)
}

// streamFrames renders the completed response as dialect-shaped SSE chunk
// payloads: message text is split into ordered deltas of ChunkSize runes and
// the terminal frame carries the finish/stop metadata. An unrecognized body
// shape streams as a single frame.
func streamFrames(clientFormat string, rendered map[string]any, chunkSize int) []any {
	switch clientFormat {
	case "OpenAIChat":
		return chatChunkFrames(rendered, chunkSize)
	case "AnthropicMessages":
		return anthropicEventFrames(rendered, chunkSize)
	case "OpenAIResponses":
		return responsesDeltaFrames(rendered, chunkSize)
	default:
		return []any{rendered}
	}
}

func chatChunkFrames(rendered map[string]any, chunkSize int) []any {
	choices, _ := rendered["choices"].([]any)
	if len(choices) == 0 {
		return []any{rendered}
	}
	choice, _ := choices[0].(map[string]any)
	message, _ := choice["message"].(map[string]any)

	frame := func(delta map[string]any, finish any) map[string]any {
		return map[string]any{
			"id":      rendered["id"],
			"object":  "chat.completion.chunk",
			"model":   rendered["model"],
			"choices": []any{map[string]any{"index": 0, "delta": delta, "finish_reason": finish}},
		}
	}

	frames := []any{frame(map[string]any{"role": "assistant"}, nil)}
	if content, ok := message["content"].(string); ok {
		for _, piece := range sse.ChunkText(content, chunkSize) {
			frames = append(frames, frame(map[string]any{"content": piece}, nil))
		}
	}
	if toolCalls, ok := message["tool_calls"].([]any); ok && len(toolCalls) > 0 {
		frames = append(frames, frame(map[string]any{"tool_calls": toolCalls}, nil))
	}
	return append(frames, frame(map[string]any{}, choice["finish_reason"]))
}

func anthropicEventFrames(rendered map[string]any, chunkSize int) []any {
	blocks, _ := rendered["content"].([]any)
	if len(blocks) == 0 {
		return []any{rendered}
	}

	frames := []any{map[string]any{
		"type": "message_start",
		"message": map[string]any{
			"id":      rendered["id"],
			"type":    "message",
			"role":    "assistant",
			"model":   rendered["model"],
			"content": []any{},
		},
	}}
	for i, raw := range blocks {
		b, _ := raw.(map[string]any)
		if b == nil {
			continue
		}
		if text, ok := b["text"].(string); ok && b["type"] == "text" {
			frames = append(frames, map[string]any{
				"type":          "content_block_start",
				"index":         i,
				"content_block": map[string]any{"type": "text", "text": ""},
			})
			for _, piece := range sse.ChunkText(text, chunkSize) {
				frames = append(frames, map[string]any{
					"type":  "content_block_delta",
					"index": i,
					"delta": map[string]any{"type": "text_delta", "text": piece},
				})
			}
		} else {
			// thinking / tool_use blocks stream whole.
			frames = append(frames, map[string]any{
				"type":          "content_block_start",
				"index":         i,
				"content_block": b,
			})
		}
		frames = append(frames, map[string]any{"type": "content_block_stop", "index": i})
	}
	frames = append(frames, map[string]any{
		"type":  "message_delta",
		"delta": map[string]any{"stop_reason": rendered["stop_reason"]},
	})
	return append(frames, map[string]any{"type": "message_stop"})
}

func responsesDeltaFrames(rendered map[string]any, chunkSize int) []any {
	output, _ := rendered["output"].([]any)
	var frames []any
	for _, raw := range output {
		item, _ := raw.(map[string]any)
		if item == nil || item["type"] != "message" {
			continue
		}
		for _, c := range asAnySlice(item["content"]) {
			part, _ := c.(map[string]any)
			if part == nil {
				continue
			}
			if text, ok := part["text"].(string); ok {
				for _, piece := range sse.ChunkText(text, chunkSize) {
					frames = append(frames, map[string]any{
						"type":  "response.output_text.delta",
						"delta": piece,
					})
				}
			}
		}
	}
	return append(frames, map[string]any{"type": "response.completed", "response": rendered})
}

func asAnySlice(v any) []any {
	s, _ := v.([]any)
	return s
}

func (s *Server) handleExchanges(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			limit = n
		}
	}
	records, err := s.Exchanges.List(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func streamRequested(body map[string]any) bool {
	v, _ := body["stream"].(bool)
	return v
}

func headerMap(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k := range h {
		out[strings.ToLower(k)] = h.Get(k)
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{"message": message, "code": "invalid_config"},
	})
}

func statusFor(err error) int {
	switch {
	case perrors.IsInvalidConfig(err):
		return http.StatusInternalServerError
	case perrors.IsInvalidProviderResponse(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
