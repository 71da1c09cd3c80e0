// Package clientapi converts between each supported client dialect (OpenAI
// Chat Completions, OpenAI Responses, Anthropic Messages) and the UIR. Each
// adapter is tolerant of the divergent shapes real SDKs send; it never
// rejects a request merely because a field is missing or oddly typed.
package clientapi

import (
	"fmt"

	"github.com/taipm/llmproxy/internal/uir"
)

// Adapter converts an inbound HTTP body into a UIR-Request and a completed
// UIR-Response back into the client's own dialect.
type Adapter interface {
	// Format is the stable clientFormat identifier stamped on the request's
	// metadata, e.g. "OpenAIChat".
	Format() string

	// ToUIR parses body (already JSON-decoded into a generic map) into a
	// UIR-Request. headers are the subset of inbound HTTP headers the
	// adapter cares about (already lower-cased keys).
	ToUIR(body map[string]any, headers map[string]string) (*uir.Request, error)

	// FromUIR renders a completed UIR-Response back into this dialect's
	// JSON body shape.
	FromUIR(resp *uir.Response, req *uir.Request) (map[string]any, error)
}

// Registry resolves an Adapter by clientFormat.
type Registry struct {
	adapters map[string]Adapter
}

// NewRegistry builds a Registry with the three dialect adapters registered.
func NewRegistry() *Registry {
	r := &Registry{adapters: make(map[string]Adapter)}
	r.Register(NewOpenAIChatAdapter())
	r.Register(NewOpenAIResponsesAdapter())
	r.Register(NewAnthropicMessagesAdapter())
	return r
}

// Register adds or replaces the adapter for its own Format().
func (r *Registry) Register(a Adapter) {
	r.adapters[a.Format()] = a
}

// Resolve looks up an adapter by clientFormat.
func (r *Registry) Resolve(clientFormat string) (Adapter, error) {
	a, ok := r.adapters[clientFormat]
	if !ok {
		return nil, fmt.Errorf("unregistered clientFormat %q", clientFormat)
	}
	return a, nil
}
