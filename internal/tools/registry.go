package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"

	"github.com/antoniostano/taskyon/internal/llm"
	"github.com/antoniostano/taskyon/internal/tasks"
)

// Registry resolves tool names to tools. Built-in tools are registered by
// the embedding program; task-registered tools are function-labeled tasks
// whose message body carries a JSON tool definition, re-read on every
// Resolve so host registrations take effect without a restart.
type Registry struct {
	store *tasks.TaskStore

	mu      sync.RWMutex
	builtin map[string]Tool
}

func NewRegistry(store *tasks.TaskStore) *Registry {
	return &Registry{
		store:   store,
		builtin: make(map[string]Tool),
	}
}

// Register adds a built-in tool, replacing any previous tool of that name.
func (r *Registry) Register(tool Tool) error {
	name := strings.TrimSpace(tool.Name)
	if name == "" {
		return fmt.Errorf("tool name is required")
	}
	tool.Name = name
	r.mu.Lock()
	r.builtin[name] = tool
	r.mu.Unlock()
	return nil
}

// Resolve merges built-in and task-registered tools, then filters by the
// allowed name list (nil means no tools at all, matching a task without
// tool access). Task-registered tools shadow built-ins of the same name.
func (r *Registry) Resolve(ctx context.Context, allowed []string) (map[string]Tool, error) {
	if allowed == nil {
		return map[string]Tool{}, nil
	}

	merged := make(map[string]Tool)
	r.mu.RLock()
	for name, tool := range r.builtin {
		merged[name] = tool
	}
	r.mu.RUnlock()

	registered, err := r.taskRegistered(ctx)
	if err != nil {
		return nil, err
	}
	for name, tool := range registered {
		merged[name] = tool
	}

	out := make(map[string]Tool, len(allowed))
	for _, name := range allowed {
		if tool, ok := merged[name]; ok {
			out[name] = tool
		}
	}
	return out, nil
}

// Names returns every resolvable tool name, sorted, ignoring the allowed
// filter. Used for "unknown tool" diagnostics.
func (r *Registry) Names(ctx context.Context) []string {
	seen := make(map[string]bool)
	r.mu.RLock()
	for name := range r.builtin {
		seen[name] = true
	}
	r.mu.RUnlock()

	if registered, err := r.taskRegistered(ctx); err == nil {
		for name := range registered {
			seen[name] = true
		}
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) taskRegistered(ctx context.Context) (map[string]Tool, error) {
	found, err := r.store.SearchTasks(ctx, tasks.Selector{
		"role":  string(tasks.RoleFunction),
		"label": tasks.LabelFunction,
	})
	if err != nil {
		return nil, fmt.Errorf("search registered tools: %w", err)
	}

	out := make(map[string]Tool, len(found))
	for _, task := range found {
		tool, err := parseToolTask(task)
		if err != nil {
			// A malformed registration must not take down resolution of
			// the remaining tools.
			log.Printf("task %s: skipping malformed tool registration: %v", task.ID, err)
			continue
		}
		out[tool.Name] = tool
	}
	return out, nil
}

// wire shape of a tool definition registered through a task
type toolTaskBody struct {
	Name        string              `json:"name"`
	Description string              `json:"description"`
	Parameters  llm.ParameterSchema `json:"parameters"`
	Code        string              `json:"code,omitempty"`
}

func parseToolTask(task tasks.Task) (Tool, error) {
	if task.Content.Kind != tasks.ContentMessage {
		return Tool{}, fmt.Errorf("content kind %q is not a message", task.Content.Kind)
	}
	var body toolTaskBody
	if err := json.Unmarshal([]byte(task.Content.Message), &body); err != nil {
		return Tool{}, fmt.Errorf("decode definition: %w", err)
	}
	name := strings.TrimSpace(body.Name)
	if name == "" {
		return Tool{}, fmt.Errorf("definition has no name")
	}
	return Tool{
		Name:        name,
		Description: body.Description,
		Parameters:  body.Parameters,
		Code:        body.Code,
	}, nil
}

// Definitions renders the provider-facing descriptions for a resolved tool
// map in stable name order.
func Definitions(resolved map[string]Tool) []llm.ToolDefinition {
	names := make([]string, 0, len(resolved))
	for name := range resolved {
		names = append(names, name)
	}
	sort.Strings(names)

	defs := make([]llm.ToolDefinition, 0, len(names))
	for _, name := range names {
		defs = append(defs, resolved[name].Definition())
	}
	return defs
}
