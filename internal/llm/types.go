package llm

// Message is one entry of the conversation sent to a provider.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Property describes a single tool parameter.
type Property struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

// ParameterSchema is a JSON-schema-shaped description of a tool's arguments.
type ParameterSchema struct {
	Type       string              `json:"type"`
	Properties map[string]Property `json:"properties,omitempty"`
	Required   []string            `json:"required,omitempty"`
}

// FirstParameter returns the lexically first declared parameter name.
// Required parameters win over optional ones.
func (p ParameterSchema) FirstParameter() string {
	if len(p.Required) > 0 {
		return p.Required[0]
	}
	first := ""
	for name := range p.Properties {
		if first == "" || name < first {
			first = name
		}
	}
	return first
}

// ToolDefinition is a provider-facing tool description.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  ParameterSchema `json:"parameters"`
}

// ToolCall is a provider-issued function invocation. Arguments is the raw
// string the provider sent, usually but not reliably JSON.
type ToolCall struct {
	ID        string `json:"id,omitempty"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// CompletionMessage is the assistant message inside a completion choice.
type CompletionMessage struct {
	Role      string     `json:"role"`
	Content   string     `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// Choice is one alternative completion.
type Choice struct {
	Index        int               `json:"index"`
	Message      CompletionMessage `json:"message"`
	FinishReason string            `json:"finish_reason"`
}

// Usage carries provider token accounting.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Completion is the normalized provider response.
type Completion struct {
	ID      string   `json:"id"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   *Usage   `json:"usage,omitempty"`
}

// FirstChoice returns the first choice, or a zero Choice when the provider
// sent none. Callers that need to distinguish should check len(Choices).
func (c Completion) FirstChoice() Choice {
	if len(c.Choices) == 0 {
		return Choice{}
	}
	return c.Choices[0]
}

// APIConfig selects a provider endpoint and model for one call.
type APIConfig struct {
	BaseURL           string
	Model             string
	APIKey            string
	Headers           map[string]string
	NativeToolCalling bool
	Streaming         bool
}

// Chunk is one streamed delta. Content and ToolArgs grow independently
// because providers interleave text and tool-argument fragments.
type Chunk struct {
	Content  string
	ToolArgs string
}

// ChunkHandler receives streamed deltas. Returning an error aborts the
// stream and surfaces the error to the caller.
type ChunkHandler func(Chunk) error

// Request is one normalized completion request.
type Request struct {
	Messages []Message
	Tools    []ToolDefinition
	Config   APIConfig
	Stream   bool

	// OnChunk is invoked per streamed delta when Stream is set.
	OnChunk ChunkHandler

	// ShouldCancel is polled between stream chunks. When it reports true
	// the adapter stops reading and returns the content gathered so far.
	ShouldCancel func() bool
}
