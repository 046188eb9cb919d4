package worker

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/antoniostano/taskyon/internal/llm"
	"github.com/antoniostano/taskyon/internal/tasks"
	"github.com/antoniostano/taskyon/internal/tools"
)

type workerFixture struct {
	store   *tasks.TaskStore
	queue   *tasks.AsyncQueue[string]
	factory *tasks.Factory
	worker  *Worker
	adapter *llm.MockAdapter
	ctrl    *Controller
}

func newWorkerFixture(t *testing.T, adapter llm.Adapter, cfg llm.APIConfig) *workerFixture {
	t.Helper()
	store := tasks.NewTaskStore(nil)
	queue := tasks.NewAsyncQueue[string]()
	factory := tasks.NewFactory(store, queue)
	controller := NewController()
	registry := tools.NewRegistry(store)
	if err := registry.Register(sumTool()); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	chat := NewChatHandler(store, adapter, registry, controller, nil, nil, staticResolver(cfg), nil)
	function := NewFunctionHandler(registry, controller, nil, 0, nil)
	synth := NewSynthesizer(factory, controller)

	f := &workerFixture{
		store:   store,
		queue:   queue,
		factory: factory,
		worker:  NewWorker(store, queue, controller, chat, function, synth, nil),
		ctrl:    controller,
	}
	if mock, ok := adapter.(*llm.MockAdapter); ok {
		f.adapter = mock
	}
	return f
}

// drain processes queued tasks until the queue is empty, like the worker
// loop does, but without blocking on an empty queue.
func (f *workerFixture) drain(ctx context.Context, t *testing.T) {
	t.Helper()
	for f.queue.Count() > 0 {
		f.ctrl.Reset(false)
		id, err := f.queue.Pop(ctx)
		if err != nil {
			t.Fatalf("Pop() error = %v", err)
		}
		if err := f.worker.processOne(ctx, id); err != nil {
			t.Fatalf("processOne(%s) error = %v", id, err)
		}
	}
}

func (f *workerFixture) children(ctx context.Context, t *testing.T, parentID string) []tasks.Task {
	t.Helper()
	found, err := f.store.SearchTasks(ctx, tasks.Selector{"parent_id": parentID})
	if err != nil {
		t.Fatalf("SearchTasks() error = %v", err)
	}
	return found
}

func TestWorkerChatAnswerRoundTrip(t *testing.T) {
	f := newWorkerFixture(t, llm.NewMockAdapter(), llm.APIConfig{Model: "mock"})
	ctx := context.Background()

	rootID, err := f.factory.AddTaskToTree(ctx, tasks.Draft{
		Role:    tasks.RoleUser,
		Content: tasks.Content{Message: "hello"},
	}, "", true, false)
	if err != nil {
		t.Fatalf("AddTaskToTree() error = %v", err)
	}

	f.drain(ctx, t)

	root, _, err := f.store.GetTask(ctx, rootID)
	if err != nil {
		t.Fatalf("GetTask(root) error = %v", err)
	}
	if root.State != tasks.StateCompleted {
		t.Fatalf("root state = %q, want completed", root.State)
	}
	if root.Result == nil || root.Result.Kind != tasks.ResultChatAnswer {
		t.Fatalf("root result = %+v, want chat answer", root.Result)
	}

	children := f.children(ctx, t, rootID)
	if len(children) != 1 {
		t.Fatalf("children = %d, want exactly 1", len(children))
	}
	child := children[0]
	if child.Role != tasks.RoleAssistant || child.State != tasks.StateCompleted {
		t.Fatalf("child = role %q state %q, want assistant/completed", child.Role, child.State)
	}
	if child.Content.Message == "" {
		t.Fatalf("child carries no answer text")
	}
}

func TestWorkerToolCallChain(t *testing.T) {
	adapter := llm.NewMockAdapter()
	f := newWorkerFixture(t, adapter, llm.APIConfig{Model: "mock", NativeToolCalling: true})
	ctx := context.Background()

	adapter.Script(llm.Completion{
		Choices: []llm.Choice{{
			Message: llm.CompletionMessage{
				Role:      "assistant",
				ToolCalls: []llm.ToolCall{{Name: "sum", Arguments: `{"a":1,"b":2}`}},
			},
			FinishReason: "tool_calls",
		}},
	})
	// The tool result feeds back into chat; answer that second call plainly.
	adapter.Script(llm.Completion{
		Choices: []llm.Choice{{
			Message:      llm.CompletionMessage{Role: "assistant", Content: "the sum is 3"},
			FinishReason: "stop",
		}},
	})

	rootID, err := f.factory.AddTaskToTree(ctx, tasks.Draft{
		Role:         tasks.RoleUser,
		Content:      tasks.Content{Message: "add one and two"},
		AllowedTools: []string{"sum"},
	}, "", true, false)
	if err != nil {
		t.Fatalf("AddTaskToTree() error = %v", err)
	}

	f.drain(ctx, t)

	children := f.children(ctx, t, rootID)
	if len(children) != 1 {
		t.Fatalf("root children = %d, want 1 function task", len(children))
	}
	functionTask := children[0]
	if functionTask.Role != tasks.RoleFunction {
		t.Fatalf("child role = %q, want function", functionTask.Role)
	}
	if functionTask.Result == nil || functionTask.Result.Kind != tasks.ResultToolResult {
		t.Fatalf("function task result = %+v, want tool result", functionTask.Result)
	}
	if functionTask.Result.ToolOutput != "3" {
		t.Fatalf("tool output = %q, want 3", functionTask.Result.ToolOutput)
	}

	grandchildren := f.children(ctx, t, functionTask.ID)
	if len(grandchildren) != 1 {
		t.Fatalf("function task children = %d, want the fed-back result", len(grandchildren))
	}
	if grandchildren[0].Content.Kind != tasks.ContentFunctionResult {
		t.Fatalf("grandchild content = %+v, want function result", grandchildren[0].Content)
	}
}

func TestWorkerRecordsProviderFailureOnTask(t *testing.T) {
	f := newWorkerFixture(t, &failingAdapter{err: errors.New("connection refused")}, llm.APIConfig{Model: "mock"})
	ctx := context.Background()

	id, err := f.factory.AddTaskToTree(ctx, tasks.Draft{
		Role:    tasks.RoleUser,
		Content: tasks.Content{Message: "hello"},
	}, "", true, false)
	if err != nil {
		t.Fatalf("AddTaskToTree() error = %v", err)
	}

	f.drain(ctx, t)

	task, _, err := f.store.GetTask(ctx, id)
	if err != nil {
		t.Fatalf("GetTask() error = %v", err)
	}
	if task.State != tasks.StateError {
		t.Fatalf("state = %q, want error", task.State)
	}
	if !strings.Contains(task.Debugging.Error, "connection refused") {
		t.Fatalf("debugging error = %q, want the provider failure", task.Debugging.Error)
	}

	children := f.children(ctx, t, id)
	if len(children) != 1 || children[0].Role != tasks.RoleSystem {
		t.Fatalf("children = %+v, want one system task describing the failure", children)
	}
	if !strings.Contains(children[0].Content.Message, "connection refused") {
		t.Fatalf("system task message = %q", children[0].Content.Message)
	}
}

func TestWorkerUnknownContentBecomesError(t *testing.T) {
	f := newWorkerFixture(t, llm.NewMockAdapter(), llm.APIConfig{Model: "mock"})
	ctx := context.Background()

	task := tasks.Task{
		ID:      "odd",
		Role:    tasks.RoleUser,
		Content: tasks.Content{Kind: tasks.ContentUploadedFiles, UploadedFiles: []string{"a.txt"}},
		State:   tasks.StateQueued,
	}
	seedTask(t, f.store, task)
	f.queue.Push("odd")

	f.drain(ctx, t)

	got, _, err := f.store.GetTask(ctx, "odd")
	if err != nil {
		t.Fatalf("GetTask() error = %v", err)
	}
	if got.State != tasks.StateError || !strings.Contains(got.Debugging.Error, "unknown task content") {
		t.Fatalf("task = state %q error %q, want unknown-content error", got.State, got.Debugging.Error)
	}
}

type interruptingAdapter struct {
	controller *Controller
	reason     string
}

func (a *interruptingAdapter) Call(ctx context.Context, req llm.Request) (llm.Completion, error) {
	if req.OnChunk != nil {
		if err := req.OnChunk(llm.Chunk{Content: "partial answer"}); err != nil {
			return llm.Completion{}, err
		}
	}
	a.controller.Interrupt(a.reason)
	if req.ShouldCancel != nil && req.ShouldCancel() {
		return llm.Completion{
			Choices: []llm.Choice{{
				Message:      llm.CompletionMessage{Role: "assistant", Content: "partial answer"},
				FinishReason: "stop",
			}},
		}, nil
	}
	return llm.Completion{}, errors.New("cancellation was not observed")
}

func TestWorkerInterruptMidStreamKeepsPartialResult(t *testing.T) {
	store := tasks.NewTaskStore(nil)
	queue := tasks.NewAsyncQueue[string]()
	factory := tasks.NewFactory(store, queue)
	controller := NewController()
	registry := tools.NewRegistry(store)
	adapter := &interruptingAdapter{controller: controller, reason: "user cancel"}

	chat := NewChatHandler(store, adapter, registry, controller, nil, nil,
		staticResolver(llm.APIConfig{Model: "mock", Streaming: true}), nil)
	function := NewFunctionHandler(registry, controller, nil, 0, nil)
	synth := NewSynthesizer(factory, controller)
	w := NewWorker(store, queue, controller, chat, function, synth, nil)

	ctx := context.Background()
	id, err := factory.AddTaskToTree(ctx, tasks.Draft{
		Role:    tasks.RoleUser,
		Content: tasks.Content{Message: "tell me a long story"},
	}, "", true, false)
	if err != nil {
		t.Fatalf("AddTaskToTree() error = %v", err)
	}

	popCtx := context.Background()
	queuedID, err := queue.Pop(popCtx)
	if err != nil || queuedID != id {
		t.Fatalf("Pop() = (%q, %v), want task id", queuedID, err)
	}
	if err := w.processOne(ctx, id); err != nil {
		t.Fatalf("processOne() error = %v", err)
	}

	task, _, err := store.GetTask(ctx, id)
	if err != nil {
		t.Fatalf("GetTask() error = %v", err)
	}
	if task.Result == nil || task.Result.Message != "partial answer" {
		t.Fatalf("result = %+v, want the partial accumulated content", task.Result)
	}
	if task.State != tasks.StateCancelled {
		t.Fatalf("state = %q, want cancelled", task.State)
	}
	if task.Debugging.StreamContent != "partial answer" {
		t.Fatalf("stream content = %q, want partial delta", task.Debugging.StreamContent)
	}

	// Interruption stops the chain: the synthesized child stays passive.
	children, err := store.SearchTasks(ctx, tasks.Selector{"parent_id": id})
	if err != nil {
		t.Fatalf("SearchTasks() error = %v", err)
	}
	if len(children) != 1 || children[0].State != tasks.StateCompleted {
		t.Fatalf("children = %+v, want one passive child", children)
	}
}
