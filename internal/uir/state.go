package uir

// PipelineState is the typed scratchpad a Request carries through the
// pipeline: explicit fields for the handful of control flags the controller
// reads, plus an open Extra map for anything transform-specific that doesn't
// warrant its own field.
type PipelineState struct {
	// MaxAttempts bounds the controller's retry loop (1-5, default 1).
	MaxAttempts int

	// RetryRequested is set by a transform to ask the controller to run
	// another attempt; the controller clears it every iteration.
	RetryRequested bool

	// SyntheticRequested is set by an ingress transform to short-circuit the
	// provider call entirely; the controller clears it after use.
	SyntheticRequested bool

	// EnsureToolCall holds the ensure-tool-call contract's state, or nil if
	// the contract isn't active for this request.
	EnsureToolCall *EnsureToolCallState

	// ResolvedModel is the original client-visible model alias, kept after
	// Request.Model is replaced with the upstream model id the router picked.
	ResolvedModel string

	// MaxTokensClamped records whether ClampMaxTokens reduced the request's
	// max_tokens to the configured cap.
	MaxTokensClamped bool

	// Extra is the open extension point for transform-specific scratch data
	// that doesn't belong in a named field.
	Extra map[string]any
}

// NewPipelineState returns a PipelineState with MaxAttempts set to 1 (no
// ensure-tool-call retry) and an initialized Extra map.
func NewPipelineState() *PipelineState {
	return &PipelineState{
		MaxAttempts: 1,
		Extra:       make(map[string]any),
	}
}

// EnsureToolCallState is the ensure-tool-call contract's persistent state,
// carried inside PipelineState across attempts of the same request.
type EnsureToolCallState struct {
	Enabled             bool
	TerminationToolName string
	ReminderCount       int
	PendingReminder     bool
	FinalAnswerRequired bool
	ReminderHistory     []string
}

// DefaultTerminationToolName is used when EnsureToolCallState doesn't specify
// one explicitly.
const DefaultTerminationToolName = "done"

// NewEnsureToolCallState returns an enabled state with the default
// termination tool name. Activation is idempotent: callers check for an
// existing non-nil state before replacing it.
func NewEnsureToolCallState() *EnsureToolCallState {
	return &EnsureToolCallState{
		Enabled:             true,
		TerminationToolName: DefaultTerminationToolName,
	}
}
