// Package perrors defines the sentinel error kinds the pipeline can produce
// and a PipelineError wrapper that attaches the stage/transform that raised
// them, so callers can tell a configuration mistake from an upstream outage
// without string-matching error text.
package perrors

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidConfig indicates the proxy's own configuration is malformed
	// or incomplete (missing model alias, bad YAML, unresolved $VAR).
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrClientDialectParse indicates a client request couldn't be parsed
	// into the client's own dialect shape. Tolerant adapters should prefer
	// to normalize over raising this; it is reserved for genuinely
	// unparseable bodies (not valid JSON, missing required top-level
	// fields the dialect cannot do without).
	ErrClientDialectParse = errors.New("client request could not be parsed")

	// ErrUpstreamTransport indicates the HTTP call to the provider itself
	// failed (connection refused, timeout, TLS error) rather than the
	// provider returning a semantic error body.
	ErrUpstreamTransport = errors.New("upstream transport error")

	// ErrUpstreamSemantic indicates the provider responded with a
	// status >= 400; this is not retried within an attempt.
	ErrUpstreamSemantic = errors.New("upstream semantic error")

	// ErrInvalidProviderResponse indicates the provider returned 2xx but a
	// body the provider adapter could not parse into a UIR response.
	ErrInvalidProviderResponse = errors.New("invalid_response")

	// ErrRetryExhausted is not itself a failure kind returned to the
	// client (the pipeline returns the last attempt's response instead);
	// transforms and tests use it to mark that the bounded attempt loop
	// ran out without a transform asking for another pass.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrSearchUnavailable indicates the log store's full-text search
	// facility can't run because its backing binary is missing.
	ErrSearchUnavailable = errors.New("search backend unavailable")
)

// PipelineError wraps a sentinel error with the stage or transform name that
// raised it, and the underlying cause when one exists.
type PipelineError struct {
	Stage     string // e.g. "ingress", "provider", "egress"
	Transform string // transform or component name, may be empty
	Kind      error  // one of the sentinels above
	Err       error  // underlying cause, may be nil
}

func (e *PipelineError) Error() string {
	loc := e.Stage
	if e.Transform != "" {
		loc = fmt.Sprintf("%s/%s", e.Stage, e.Transform)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", loc, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", loc, e.Kind)
}

func (e *PipelineError) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Kind, e.Err}
	}
	return []error{e.Kind}
}

// New builds a PipelineError for the given stage/transform and sentinel kind.
func New(stage, transform string, kind error, cause error) *PipelineError {
	return &PipelineError{Stage: stage, Transform: transform, Kind: kind, Err: cause}
}

// IsUpstreamSemantic reports whether err (or something it wraps) is an
// upstream semantic error; callers use this to decide whether to retry.
func IsUpstreamSemantic(err error) bool {
	return errors.Is(err, ErrUpstreamSemantic)
}

// IsUpstreamTransport reports whether err is an upstream transport error.
func IsUpstreamTransport(err error) bool {
	return errors.Is(err, ErrUpstreamTransport)
}

// IsInvalidProviderResponse reports whether err is an invalid_response kind.
func IsInvalidProviderResponse(err error) bool {
	return errors.Is(err, ErrInvalidProviderResponse)
}

// IsInvalidConfig reports whether err is a configuration error.
func IsInvalidConfig(err error) bool {
	return errors.Is(err, ErrInvalidConfig)
}
