// Package uir defines the Unified Intermediate Representation that every
// client and provider adapter converts to and from. It is the dialect-neutral
// request/response model the rest of the pipeline operates on.
package uir

// Operation identifies which client dialect produced a request, so the
// matching renderer can be used on the way back out.
type Operation string

const (
	OperationChat      Operation = "chat"
	OperationMessages  Operation = "messages"
	OperationResponses Operation = "responses"
)

// Role is the speaker of a Message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ContentBlockType tags the variant held by a ContentBlock.
type ContentBlockType string

const (
	ContentText      ContentBlockType = "text"
	ContentImageURL  ContentBlockType = "image_url"
	ContentJSON      ContentBlockType = "json"
	ContentReasoning ContentBlockType = "reasoning"
)

// ContentBlock is a tagged union over the content shapes a message can carry.
// Only the field(s) matching Type are meaningful.
type ContentBlock struct {
	Type ContentBlockType

	Text string // ContentText, ContentReasoning

	URL string // ContentImageURL

	Data any // ContentJSON: arbitrary JSON value

	// ReasoningData carries provider-specific reasoning metadata (e.g. an
	// Anthropic thinking signature) for ContentReasoning blocks.
	ReasoningData map[string]any
}

// ToolCall is a single function invocation requested by the assistant.
type ToolCall struct {
	ID        string // non-empty, stable within a response
	Type      string // always "function" today
	Name      string
	Arguments string // JSON-serialized arguments

	// ExtraContent carries vendor-specific side-channel data attached to a
	// tool call, such as Google's thought_signature (see internal/sigcache).
	ExtraContent map[string]any
}

// Message is one turn of the conversation.
//
// Invariant: ToolCallID is set iff Role == RoleTool; ToolCalls is only set
// when Role == RoleAssistant.
type Message struct {
	Role       Role
	Content    []ContentBlock
	ToolCalls  []ToolCall
	ToolCallID string
}

// Tool is a function declaration the model may call.
type Tool struct {
	Type        string // "function"
	Name        string
	Description string
	Parameters  map[string]any // JSON-schema object
	Strict      bool
}

// Parameters holds the sampling/limit knobs common across dialects. Pointers
// distinguish "unset" from the zero value so adapters can omit them from the
// provider payload rather than sending a misleading default.
type Parameters struct {
	Temperature *float64
	TopP        *float64
	TopK        *int
	MaxTokens   *int
}

// Metadata carries information about the originating HTTP request that
// transforms and logging need but that isn't part of the semantic request.
type Metadata struct {
	ClientFormat    string
	ProviderFormat  string
	ClientRequest   any
	Headers         map[string]string
	Synthetic       bool
	ProviderRequest any // body actually sent to the provider, for logging
}

// Request is the canonical form every client adapter produces and every
// provider adapter consumes.
type Request struct {
	ID        string
	Model     string
	Operation Operation
	Messages  []Message
	Tools     []Tool
	Parameters
	Stream   bool
	Metadata Metadata

	// State is the scratchpad shared across transforms and the pipeline
	// controller within one request's lifetime. It is never shared between
	// requests. See PipelineState for its typed fields.
	State *PipelineState
}

// OutputItemType tags the variant of OutputItem.
type OutputItemType string

const (
	OutputMessage   OutputItemType = "message"
	OutputReasoning OutputItemType = "reasoning"
)

// MessageStatus reports whether an assistant message item completed or was
// cut off (e.g. by a max_tokens limit).
type MessageStatus string

const (
	StatusCompleted  MessageStatus = "completed"
	StatusIncomplete MessageStatus = "incomplete"
)

// OutputItem is a tagged union over the two shapes a response item can take.
type OutputItem struct {
	Type OutputItemType

	// OutputMessage fields.
	Role      Role
	Content   []ContentBlock
	ToolCalls []ToolCall
	Status    MessageStatus

	// OutputReasoning fields.
	Summary []ContentBlock
}

// Usage reports token consumption, when the provider supplied it.
type Usage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}

// ResponseError is mutually exclusive with a normal completion.
type ResponseError struct {
	Message string
	Code    string
}

// Response is the canonical form every provider adapter produces and every
// client adapter renders back into its own dialect.
type Response struct {
	ID           string
	Model        string
	Operation    Operation
	FinishReason string
	Output       []OutputItem
	Usage        *Usage
	Metadata     map[string]any
	Error        *ResponseError
}

// ProviderResponse is the raw result of one upstream HTTP call, captured in
// full for logging regardless of success or failure.
type ProviderResponse struct {
	Status      int
	Headers     map[string]string
	Body        any
	RequestBody any
}

// Failed reports whether the raw call itself failed (status >= 400); the
// pipeline short-circuits to error rendering in that case.
func (p *ProviderResponse) Failed() bool {
	return p != nil && p.Status >= 400
}
