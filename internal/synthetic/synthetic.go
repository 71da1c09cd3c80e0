// Package synthetic builds the well-formed empty UIR-Response the pipeline
// controller emits when an ingress transform short-circuits the provider
// call entirely.
package synthetic

import "github.com/taipm/llmproxy/internal/uir"

// Response returns a UIR-Response carrying metadata.synthetic=true: an
// assistant message with empty content and completed status, zero usage.
// Client dialects render it as a normal "empty" answer.
func Response(requestID string, operation uir.Operation) *uir.Response {
	return &uir.Response{
		ID:           "synth_" + requestID,
		Model:        "synthetic",
		Operation:    operation,
		FinishReason: "stop",
		Output: []uir.OutputItem{
			{
				Type:    uir.OutputMessage,
				Role:    uir.RoleAssistant,
				Content: []uir.ContentBlock{},
				Status:  uir.StatusCompleted,
			},
		},
		Usage:    &uir.Usage{},
		Metadata: map[string]any{"synthetic": true},
	}
}

// ProviderResponse returns the synthetic ProviderResponse the controller
// captures in place of an actual upstream call, carrying the
// x-synthetic-response header that downstream provider-stage transforms
// check to skip their work.
func ProviderResponse() *uir.ProviderResponse {
	return &uir.ProviderResponse{
		Status:  200,
		Headers: map[string]string{"x-synthetic-response": "true"},
		Body:    "{}",
	}
}
