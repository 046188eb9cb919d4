package worker

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/antoniostano/taskyon/internal/tasks"
)

func seedTask(t *testing.T, store *tasks.TaskStore, task tasks.Task) {
	t.Helper()
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now().UTC()
	}
	if err := store.SetTask(context.Background(), task, true); err != nil {
		t.Fatalf("SetTask(%s) error = %v", task.ID, err)
	}
}

func TestRenderChainOrdersRootFirst(t *testing.T) {
	store := tasks.NewTaskStore(nil)
	seedTask(t, store, tasks.Task{
		ID: "root", Role: tasks.RoleSystem,
		Content: tasks.Content{Kind: tasks.ContentMessage, Message: "you are helpful"},
	})
	seedTask(t, store, tasks.Task{
		ID: "q", ParentID: "root", Role: tasks.RoleUser,
		Content: tasks.Content{Kind: tasks.ContentMessage, Message: "hello"},
	})
	leaf := tasks.Task{
		ID: "a", ParentID: "q", Role: tasks.RoleAssistant,
		Content: tasks.Content{Kind: tasks.ContentMessage, Message: "hi there"},
	}
	seedTask(t, store, leaf)

	messages, err := renderChain(context.Background(), store, leaf)
	if err != nil {
		t.Fatalf("renderChain() error = %v", err)
	}
	if len(messages) != 3 {
		t.Fatalf("messages = %d, want 3", len(messages))
	}
	if messages[0].Role != "system" || messages[1].Role != "user" || messages[2].Role != "assistant" {
		t.Fatalf("roles = %s/%s/%s, want system/user/assistant",
			messages[0].Role, messages[1].Role, messages[2].Role)
	}
	if messages[0].Content != "you are helpful" {
		t.Fatalf("root message = %q", messages[0].Content)
	}
}

func TestRenderChainFunctionTasks(t *testing.T) {
	store := tasks.NewTaskStore(nil)
	seedTask(t, store, tasks.Task{
		ID: "call", Role: tasks.RoleFunction,
		Content: tasks.Content{
			Kind:         tasks.ContentFunctionCall,
			FunctionCall: &tasks.FunctionCall{Name: "sum", Arguments: map[string]any{"a": 1}},
		},
	})
	leaf := tasks.Task{
		ID: "result", ParentID: "call", Role: tasks.RoleAssistant,
		Content: tasks.Content{Kind: tasks.ContentFunctionResult, FunctionResult: "3"},
	}
	seedTask(t, store, leaf)

	messages, err := renderChain(context.Background(), store, leaf)
	if err != nil {
		t.Fatalf("renderChain() error = %v", err)
	}
	if len(messages) != 2 {
		t.Fatalf("messages = %d, want 2", len(messages))
	}
	if messages[0].Role != "assistant" || !strings.Contains(messages[0].Content, "sum") {
		t.Fatalf("call message = %+v, want assistant text naming sum", messages[0])
	}
	if messages[1].Role != "user" || !strings.Contains(messages[1].Content, "3") {
		t.Fatalf("result message = %+v, want user text with result", messages[1])
	}
}

func TestRenderChainDetectsCycle(t *testing.T) {
	store := tasks.NewTaskStore(nil)
	seedTask(t, store, tasks.Task{
		ID: "a", ParentID: "b", Role: tasks.RoleUser,
		Content: tasks.Content{Kind: tasks.ContentMessage, Message: "a"},
	})
	b := tasks.Task{
		ID: "b", ParentID: "a", Role: tasks.RoleUser,
		Content: tasks.Content{Kind: tasks.ContentMessage, Message: "b"},
	}
	seedTask(t, store, b)

	_, err := renderChain(context.Background(), store, b)
	if !errors.Is(err, ErrCyclicChain) {
		t.Fatalf("renderChain() error = %v, want ErrCyclicChain", err)
	}
}

func TestRenderChainTruncatesOnDanglingParent(t *testing.T) {
	store := tasks.NewTaskStore(nil)
	leaf := tasks.Task{
		ID: "orphan", ParentID: "gone", Role: tasks.RoleUser,
		Content: tasks.Content{Kind: tasks.ContentMessage, Message: "hello"},
	}
	seedTask(t, store, leaf)

	messages, err := renderChain(context.Background(), store, leaf)
	if err != nil {
		t.Fatalf("renderChain() error = %v", err)
	}
	if len(messages) != 1 {
		t.Fatalf("messages = %d, want just the leaf", len(messages))
	}
}
