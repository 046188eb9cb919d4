package hostbridge

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/antoniostano/taskyon/internal/tasks"
)

// MessageType identifies host bridge payload variants.
type MessageType string

const (
	// inbound, host to engine
	TypeTask                 MessageType = "task"
	TypeFunctionDescription  MessageType = "function_description"
	TypeConfigurationMessage MessageType = "configuration"
	TypeFunctionResponse     MessageType = "function_response"

	// outbound, engine to host
	TypeReady        MessageType = "taskyon_ready"
	TypeFunctionCall MessageType = "function_call"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

// TaskMessage injects a draft task into the tree.
type TaskMessage struct {
	Type                 MessageType `json:"type"`
	Draft                tasks.Draft `json:"draft"`
	ParentID             string      `json:"parent_id,omitempty"`
	Execute              bool        `json:"execute"`
	PreventDuplicateName bool        `json:"prevent_duplicate_name"`
}

// FunctionDescription registers a host-side tool. The engine stores it as
// a passive function-labeled task; invocations round-trip back to the host.
type FunctionDescription struct {
	Type        MessageType     `json:"type"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// ConfigurationMessage overrides engine settings from the host.
type ConfigurationMessage struct {
	Type    MessageType `json:"type"`
	Model   string      `json:"model,omitempty"`
	ChatAPI string      `json:"chat_api,omitempty"`
}

// FunctionResponse answers an earlier FunctionCall by id.
type FunctionResponse struct {
	Type   MessageType     `json:"type"`
	CallID string          `json:"call_id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// Ready announces the engine to a freshly connected host.
type Ready struct {
	Type  MessageType `json:"type"`
	Tools []string    `json:"tools,omitempty"`
}

// FunctionCall asks the host to run one of its registered tools.
type FunctionCall struct {
	Type      MessageType    `json:"type"`
	CallID    string         `json:"call_id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// ParseHostMessage validates an inbound frame. Malformed frames come back
// as errors for the caller to log and drop; they must never crash the loop.
func ParseHostMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeTask:
		var msg TaskMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.Draft.Role == "" {
			return nil, errors.New("invalid task message: draft role is required")
		}
		if err := msg.Draft.Content.Validate(); err != nil {
			return nil, fmt.Errorf("invalid task message: %w", err)
		}
		return msg, nil
	case TypeFunctionDescription:
		var msg FunctionDescription
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.Name == "" {
			return nil, errors.New("invalid function_description: name is required")
		}
		return msg, nil
	case TypeConfigurationMessage:
		var msg ConfigurationMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.Model == "" && msg.ChatAPI == "" {
			return nil, errors.New("invalid configuration: no fields set")
		}
		return msg, nil
	case TypeFunctionResponse:
		var msg FunctionResponse
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.CallID == "" {
			return nil, errors.New("invalid function_response: call_id is required")
		}
		return msg, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedType, env.Type)
	}
}
