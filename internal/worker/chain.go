package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/antoniostano/taskyon/internal/llm"
	"github.com/antoniostano/taskyon/internal/tasks"
)

// ErrCyclicChain is returned when a parent walk revisits a task id. The
// tree invariant is checked, not assumed; a broken link fails the task
// instead of looping forever.
var ErrCyclicChain = fmt.Errorf("cyclic parent chain")

// renderChain walks parent links from task to the root and converts each
// ancestor into a provider message, oldest first.
func renderChain(ctx context.Context, store *tasks.TaskStore, task tasks.Task) ([]llm.Message, error) {
	visited := map[string]bool{}
	var reversed []llm.Message

	current := task
	for {
		if visited[current.ID] {
			return nil, fmt.Errorf("%w: task %s appears twice", ErrCyclicChain, current.ID)
		}
		visited[current.ID] = true

		if msg, ok := renderTask(current); ok {
			reversed = append(reversed, msg)
		}

		if current.ParentID == "" {
			break
		}
		parent, ok, err := store.GetTask(ctx, current.ParentID)
		if err != nil {
			return nil, fmt.Errorf("load ancestor %s: %w", current.ParentID, err)
		}
		if !ok {
			// A dangling parent link truncates the chain rather than
			// failing the whole task.
			break
		}
		current = parent
	}

	messages := make([]llm.Message, 0, len(reversed))
	for i := len(reversed) - 1; i >= 0; i-- {
		messages = append(messages, reversed[i])
	}
	return messages, nil
}

// renderTask converts one task into a provider message. Function-role
// records render their arguments and results as structured text since most
// providers reject unknown roles.
func renderTask(task tasks.Task) (llm.Message, bool) {
	switch task.Content.Kind {
	case tasks.ContentMessage:
		return llm.Message{Role: providerRole(task.Role), Content: task.Content.Message}, true
	case tasks.ContentStructuredResponse:
		return llm.Message{Role: "assistant", Content: task.Content.StructuredResponse}, true
	case tasks.ContentFunctionCall:
		call := task.Content.FunctionCall
		args, _ := json.Marshal(call.Arguments)
		return llm.Message{
			Role:    "assistant",
			Content: fmt.Sprintf("Calling function %s with arguments:\n%s", call.Name, args),
		}, true
	case tasks.ContentFunctionResult:
		return llm.Message{
			Role:    "user",
			Content: "The function returned:\n" + task.Content.FunctionResult,
		}, true
	case tasks.ContentUploadedFiles:
		return llm.Message{}, false
	default:
		return llm.Message{}, false
	}
}

func providerRole(role tasks.Role) string {
	switch role {
	case tasks.RoleSystem:
		return "system"
	case tasks.RoleAssistant:
		return "assistant"
	case tasks.RoleFunction:
		return "user"
	default:
		return "user"
	}
}
