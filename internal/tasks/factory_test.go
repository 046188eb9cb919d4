package tasks

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestFactory() (*Factory, *TaskStore, *AsyncQueue[string]) {
	store := NewTaskStore(nil)
	queue := NewAsyncQueue[string]()
	return NewFactory(store, queue), store, queue
}

func TestAddTaskToTreeQueuesExecutableTask(t *testing.T) {
	f, store, queue := newTestFactory()
	ctx := context.Background()

	id, err := f.AddTaskToTree(ctx, Draft{
		Role:    RoleUser,
		Content: Content{Message: "summarize the meeting notes"},
	}, "", true, false)
	if err != nil {
		t.Fatalf("AddTaskToTree() error = %v", err)
	}

	task, ok, err := store.GetTask(ctx, id)
	if err != nil || !ok {
		t.Fatalf("GetTask(%s) = (%v, %v), want hit", id, ok, err)
	}
	if task.State != StateQueued {
		t.Fatalf("task state = %q, want %q", task.State, StateQueued)
	}
	if task.Content.Kind != ContentMessage {
		t.Fatalf("content kind = %q, want %q", task.Content.Kind, ContentMessage)
	}

	popCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	queued, err := queue.Pop(popCtx)
	if err != nil {
		t.Fatalf("Pop() error = %v", err)
	}
	if queued != id {
		t.Fatalf("Pop() = %q, want %q", queued, id)
	}
}

func TestAddTaskToTreePassiveTaskCompletesImmediately(t *testing.T) {
	f, store, queue := newTestFactory()
	ctx := context.Background()

	id, err := f.AddTaskToTree(ctx, Draft{
		Role:    RoleFunction,
		Content: Content{Message: `{"name":"weather"}`},
		Labels:  []string{"function"},
		Name:    "weather",
	}, "", false, false)
	if err != nil {
		t.Fatalf("AddTaskToTree() error = %v", err)
	}

	task, ok, err := store.GetTask(ctx, id)
	if err != nil || !ok {
		t.Fatalf("GetTask(%s) = (%v, %v), want hit", id, ok, err)
	}
	if task.State != StateCompleted {
		t.Fatalf("passive task state = %q, want %q", task.State, StateCompleted)
	}
	if queue.Count() != 0 {
		t.Fatalf("queue count = %d, want 0 for passive task", queue.Count())
	}
}

func TestAddTaskToTreeRejectsInvalidContent(t *testing.T) {
	f, _, _ := newTestFactory()

	_, err := f.AddTaskToTree(context.Background(), Draft{
		Role: RoleUser,
		Content: Content{
			Message:        "two variants",
			FunctionResult: "set at once",
		},
	}, "", true, false)
	if !errors.Is(err, ErrInvalidContent) {
		t.Fatalf("AddTaskToTree() error = %v, want ErrInvalidContent", err)
	}
}

func TestAddTaskToTreeDuplicateNameGuard(t *testing.T) {
	f, store, _ := newTestFactory()
	ctx := context.Background()

	if _, err := f.AddTaskToTree(ctx, Draft{
		Role:    RoleFunction,
		Content: Content{Message: "{}"},
		Name:    "weather",
	}, "", false, true); err != nil {
		t.Fatalf("first AddTaskToTree() error = %v", err)
	}

	_, err := f.AddTaskToTree(ctx, Draft{
		Role:    RoleFunction,
		Content: Content{Message: "{}"},
		Name:    "weather",
	}, "", false, true)
	if !errors.Is(err, ErrDuplicateTask) {
		t.Fatalf("second AddTaskToTree() error = %v, want ErrDuplicateTask", err)
	}

	found, err := store.SearchTasks(ctx, Selector{"name": "weather"})
	if err != nil {
		t.Fatalf("SearchTasks() error = %v", err)
	}
	if len(found) != 1 {
		t.Fatalf("tasks named weather = %d, want exactly 1", len(found))
	}
}

func TestAddTaskToTreeUnknownParent(t *testing.T) {
	f, _, _ := newTestFactory()
	_, err := f.AddTaskToTree(context.Background(), Draft{
		Role:    RoleUser,
		Content: Content{Message: "orphan"},
	}, "missing-parent", true, false)
	if !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("AddTaskToTree() error = %v, want ErrTaskNotFound", err)
	}
}

func TestAddTaskToTreeInheritsAllowedTools(t *testing.T) {
	f, store, _ := newTestFactory()
	ctx := context.Background()

	parentID, err := f.AddTaskToTree(ctx, Draft{
		Role:         RoleUser,
		Content:      Content{Message: "what is the weather"},
		AllowedTools: []string{"weather", "geocode"},
	}, "", false, false)
	if err != nil {
		t.Fatalf("AddTaskToTree(parent) error = %v", err)
	}

	childID, err := f.AddTaskToTree(ctx, Draft{
		Role:    RoleAssistant,
		Content: Content{Message: "let me check"},
	}, parentID, false, false)
	if err != nil {
		t.Fatalf("AddTaskToTree(child) error = %v", err)
	}
	child, ok, err := store.GetTask(ctx, childID)
	if err != nil || !ok {
		t.Fatalf("GetTask(child) = (%v, %v), want hit", ok, err)
	}
	if len(child.AllowedTools) != 2 || child.AllowedTools[0] != "weather" {
		t.Fatalf("child allowed tools = %v, want inherited [weather geocode]", child.AllowedTools)
	}

	overrideID, err := f.AddTaskToTree(ctx, Draft{
		Role:         RoleAssistant,
		Content:      Content{Message: "no tools for me"},
		AllowedTools: []string{},
	}, parentID, false, false)
	if err != nil {
		t.Fatalf("AddTaskToTree(override) error = %v", err)
	}
	override, _, err := store.GetTask(ctx, overrideID)
	if err != nil {
		t.Fatalf("GetTask(override) error = %v", err)
	}
	if len(override.AllowedTools) != 0 {
		t.Fatalf("override allowed tools = %v, want explicit empty set", override.AllowedTools)
	}
}

func TestAddTaskToTreeDerivesNameAsynchronously(t *testing.T) {
	f, store, _ := newTestFactory()
	ctx := context.Background()

	id, err := f.AddTaskToTree(ctx, Draft{
		Role:    RoleUser,
		Content: Content{Message: "please summarize the quarterly revenue report"},
	}, "", false, false)
	if err != nil {
		t.Fatalf("AddTaskToTree() error = %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		task, ok, err := store.GetTask(ctx, id)
		if err != nil || !ok {
			t.Fatalf("GetTask() = (%v, %v), want hit", ok, err)
		}
		if task.Name != "" {
			if task.Name != "summarize quarterly revenue report" {
				t.Fatalf("derived name = %q, want %q", task.Name, "summarize quarterly revenue report")
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("task name was never derived")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestAddTaskToTreeSkipsNamingDiscardableTasks(t *testing.T) {
	f, store, _ := newTestFactory()
	ctx := context.Background()

	id, err := f.AddTaskToTree(ctx, Draft{
		Role:    RoleSystem,
		Content: Content{Message: "a transient prompt fragment"},
		Labels:  []string{LabelDiscardable},
	}, "", false, false)
	if err != nil {
		t.Fatalf("AddTaskToTree() error = %v", err)
	}

	time.Sleep(50 * time.Millisecond)
	task, _, err := store.GetTask(ctx, id)
	if err != nil {
		t.Fatalf("GetTask() error = %v", err)
	}
	if task.Name != "" {
		t.Fatalf("discardable task was named %q, want no name", task.Name)
	}
}
