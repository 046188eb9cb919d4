package tools

import (
	"context"

	"github.com/antoniostano/taskyon/internal/llm"
)

// Handler executes a tool with already-decoded arguments.
type Handler func(ctx context.Context, args map[string]any) (any, error)

// Tool is a named capability the model may ask to invoke. Exactly one of
// Function (direct callable) or Code (source shipped to the host for
// sandboxed execution) is expected; a tool with neither runs remotely on
// the host side.
type Tool struct {
	Name        string
	Description string
	Parameters  llm.ParameterSchema
	Function    Handler
	Code        string
}

// Remote reports whether invocation must round-trip through the host.
func (t Tool) Remote() bool {
	return t.Function == nil && t.Code == ""
}

// Definition renders the provider-facing description of the tool.
func (t Tool) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        t.Name,
		Description: t.Description,
		Parameters:  t.Parameters,
	}
}
