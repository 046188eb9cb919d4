package tasks

import (
	"errors"
	"fmt"
	"time"
)

type State string

const (
	StateOpen       State = "open"
	StateQueued     State = "queued"
	StateInProgress State = "in_progress"
	StateCompleted  State = "completed"
	StateError      State = "error"
	StateCancelled  State = "cancelled"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleFunction  Role = "function"
)

// ContentKind discriminates the content union. Exactly one variant field is
// populated per task and the kind names it.
type ContentKind string

const (
	ContentMessage            ContentKind = "message"
	ContentStructuredResponse ContentKind = "structured_response"
	ContentFunctionCall       ContentKind = "function_call"
	ContentFunctionResult     ContentKind = "function_result"
	ContentUploadedFiles      ContentKind = "uploaded_files"
)

// FunctionCall is a request to invoke a named tool.
type FunctionCall struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// Content is the tagged union carried by a task node.
type Content struct {
	Kind               ContentKind   `json:"kind"`
	Message            string        `json:"message,omitempty"`
	StructuredResponse string        `json:"structured_response,omitempty"`
	FunctionCall       *FunctionCall `json:"function_call,omitempty"`
	FunctionResult     string        `json:"function_result,omitempty"`
	UploadedFiles      []string      `json:"uploaded_files,omitempty"`
}

var ErrInvalidContent = errors.New("invalid task content")

// Validate enforces the exactly-one-variant invariant and that the populated
// variant matches the declared kind.
func (c Content) Validate() error {
	populated := 0
	var found ContentKind
	if c.Message != "" {
		populated++
		found = ContentMessage
	}
	if c.StructuredResponse != "" {
		populated++
		found = ContentStructuredResponse
	}
	if c.FunctionCall != nil {
		populated++
		found = ContentFunctionCall
	}
	if c.FunctionResult != "" {
		populated++
		found = ContentFunctionResult
	}
	if len(c.UploadedFiles) > 0 {
		populated++
		found = ContentUploadedFiles
	}
	if populated == 0 {
		return fmt.Errorf("%w: no variant populated", ErrInvalidContent)
	}
	if populated > 1 {
		return fmt.Errorf("%w: %d variants populated, want exactly 1", ErrInvalidContent, populated)
	}
	if c.Kind != "" && c.Kind != found {
		return fmt.Errorf("%w: kind %q does not match populated variant %q", ErrInvalidContent, c.Kind, found)
	}
	return nil
}

// Normalized returns the content with its kind tag set from the populated
// variant. Callers that build content literals may omit the tag.
func (c Content) Normalized() (Content, error) {
	if err := c.Validate(); err != nil {
		return Content{}, err
	}
	switch {
	case c.Message != "":
		c.Kind = ContentMessage
	case c.StructuredResponse != "":
		c.Kind = ContentStructuredResponse
	case c.FunctionCall != nil:
		c.Kind = ContentFunctionCall
	case c.FunctionResult != "":
		c.Kind = ContentFunctionResult
	case len(c.UploadedFiles) > 0:
		c.Kind = ContentUploadedFiles
	}
	return c, nil
}

type ResultKind string

const (
	ResultChatAnswer         ResultKind = "chat_answer"
	ResultAssistantAnswer    ResultKind = "assistant_answer"
	ResultToolCall           ResultKind = "tool_call"
	ResultToolResult         ResultKind = "tool_result"
	ResultToolError          ResultKind = "tool_error"
	ResultStructuredResponse ResultKind = "structured_chat_response"
)

// Result is the outcome attached to a processed task.
type Result struct {
	Kind              ResultKind    `json:"kind"`
	Message           string        `json:"message,omitempty"`
	AssistantMessages []string      `json:"assistant_messages,omitempty"`
	FunctionCall      *FunctionCall `json:"function_call,omitempty"`
	ToolOutput        string        `json:"tool_output,omitempty"`
	ToolError         string        `json:"tool_error,omitempty"`
}

// Configuration holds inherited chat settings. Children inherit it from their
// parent when they carry none of their own.
type Configuration struct {
	Model   string `json:"model,omitempty"`
	ChatAPI string `json:"chat_api,omitempty"`
}

// Debugging is a bookkeeping bag: token counts, streamed deltas and captured
// errors. Never semantically required, but it must round-trip through storage.
type Debugging struct {
	Error                 string  `json:"error,omitempty"`
	PromptTokens          int     `json:"prompt_tokens,omitempty"`
	CompletionTokens      int     `json:"completion_tokens,omitempty"`
	Cost                  float64 `json:"cost,omitempty"`
	StreamContent         string  `json:"stream_content,omitempty"`
	ToolStreamArgsContent string  `json:"tool_stream_args_content,omitempty"`
	RawResponse           string  `json:"raw_response,omitempty"`
}

const (
	// LabelDiscardable marks transient tasks that never get a derived name.
	LabelDiscardable = "discardable"

	// LabelFunction marks passive tasks whose message body is a JSON tool
	// definition registered into the tool registry.
	LabelFunction = "function"
)

// Task is one node in the conversation tree.
type Task struct {
	ID            string         `json:"id"`
	Role          Role           `json:"role"`
	Content       Content        `json:"content"`
	State         State          `json:"state"`
	ParentID      string         `json:"parent_id,omitempty"`
	Configuration *Configuration `json:"configuration,omitempty"`
	AllowedTools  []string       `json:"allowed_tools,omitempty"`
	Result        *Result        `json:"result,omitempty"`
	Debugging     Debugging      `json:"debugging"`
	Labels        []string       `json:"labels,omitempty"`
	Name          string         `json:"name,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}

// Draft is the caller-supplied part of a task; generated fields (id, state,
// timestamps) are filled in by the factory.
type Draft struct {
	Role          Role           `json:"role"`
	Content       Content        `json:"content"`
	Configuration *Configuration `json:"configuration,omitempty"`
	AllowedTools  []string       `json:"allowed_tools,omitempty"`
	Debugging     Debugging      `json:"debugging"`
	Labels        []string       `json:"labels,omitempty"`
	Name          string         `json:"name,omitempty"`
}

func (t Task) Clone() Task {
	out := t
	if t.AllowedTools != nil {
		out.AllowedTools = append([]string(nil), t.AllowedTools...)
	}
	if t.Labels != nil {
		out.Labels = append([]string(nil), t.Labels...)
	}
	if t.Configuration != nil {
		cfg := *t.Configuration
		out.Configuration = &cfg
	}
	out.Content = t.Content.clone()
	if t.Result != nil {
		res := *t.Result
		if t.Result.AssistantMessages != nil {
			res.AssistantMessages = append([]string(nil), t.Result.AssistantMessages...)
		}
		if t.Result.FunctionCall != nil {
			res.FunctionCall = t.Result.FunctionCall.clone()
		}
		out.Result = &res
	}
	return out
}

func (c Content) clone() Content {
	out := c
	if c.FunctionCall != nil {
		out.FunctionCall = c.FunctionCall.clone()
	}
	if c.UploadedFiles != nil {
		out.UploadedFiles = append([]string(nil), c.UploadedFiles...)
	}
	return out
}

func (fc *FunctionCall) clone() *FunctionCall {
	out := FunctionCall{Name: fc.Name}
	if fc.Arguments != nil {
		out.Arguments = make(map[string]any, len(fc.Arguments))
		for k, v := range fc.Arguments {
			out.Arguments[k] = v
		}
	}
	return &out
}

func (t Task) Terminal() bool {
	switch t.State {
	case StateCompleted, StateError, StateCancelled:
		return true
	default:
		return false
	}
}

func (t Task) HasLabel(label string) bool {
	for _, l := range t.Labels {
		if l == label {
			return true
		}
	}
	return false
}

func (t Task) Discardable() bool {
	return t.HasLabel(LabelDiscardable)
}
