package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/antoniostano/taskyon/internal/llm"
	"github.com/antoniostano/taskyon/internal/observability"
	"github.com/antoniostano/taskyon/internal/tasks"
	"github.com/antoniostano/taskyon/internal/tools"
)

// ErrNoConfiguration is returned when neither the task nor the engine
// carries a usable provider configuration.
var ErrNoConfiguration = errors.New("no api configuration available")

// ConfigResolver maps a task's inherited configuration onto a concrete
// provider config. The task-level override may be nil.
type ConfigResolver func(override *tasks.Configuration) (llm.APIConfig, error)

// ChatHandler turns message and function-result tasks into provider calls
// and classifies the completion into a task result.
type ChatHandler struct {
	store      *tasks.TaskStore
	adapter    llm.Adapter
	registry   *tools.Registry
	controller *Controller
	prompts    *PromptSet
	usage      *llm.UsageFetcher
	resolve    ConfigResolver
	metrics    *observability.Metrics
}

func NewChatHandler(
	store *tasks.TaskStore,
	adapter llm.Adapter,
	registry *tools.Registry,
	controller *Controller,
	prompts *PromptSet,
	usage *llm.UsageFetcher,
	resolve ConfigResolver,
	metrics *observability.Metrics,
) *ChatHandler {
	if prompts == nil {
		prompts = NewPromptSet()
	}
	return &ChatHandler{
		store:      store,
		adapter:    adapter,
		registry:   registry,
		controller: controller,
		prompts:    prompts,
		usage:      usage,
		resolve:    resolve,
		metrics:    metrics,
	}
}

// Process runs the chat protocol for task, mutating it in place. Provider
// and transport failures are returned for the dispatcher to record.
func (h *ChatHandler) Process(ctx context.Context, task *tasks.Task) error {
	cfg, err := h.resolve(task.Configuration)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNoConfiguration, err)
	}

	messages, err := renderChain(ctx, h.store, *task)
	if err != nil {
		return err
	}
	if len(messages) == 0 {
		return errors.New("task renders to an empty message chain")
	}

	resolved, err := h.registry.Resolve(ctx, task.AllowedTools)
	if err != nil {
		return err
	}
	defs := tools.Definitions(resolved)

	// Manual tool selection: models without native function calling get a
	// structured prompt in place of the trailing raw message.
	manual := len(defs) > 0 && !cfg.NativeToolCalling
	if manual {
		prompt, err := h.prompts.RenderToolSelection(defs, messages[len(messages)-1].Content)
		if err != nil {
			return err
		}
		messages[len(messages)-1].Content = prompt
	}

	req := llm.Request{
		Messages: messages,
		Tools:    defs,
		Config:   cfg,
		Stream:   cfg.Streaming,
	}
	if h.controller != nil {
		req.ShouldCancel = h.controller.IsInterrupted
	}
	if cfg.Streaming {
		req.OnChunk = func(chunk llm.Chunk) error {
			task.Debugging.StreamContent += chunk.Content
			task.Debugging.ToolStreamArgsContent += chunk.ToolArgs
			h.publishStream(task.ID, task.Debugging)
			return nil
		}
	}

	start := time.Now()
	completion, err := h.adapter.Call(ctx, req)
	h.metrics.ObserveChatLatency(time.Since(start))
	if err != nil {
		h.metrics.CountProviderError(providerErrorKind(err))
		return err
	}
	if len(completion.Choices) == 0 {
		h.metrics.CountProviderError("no_choices")
		return llm.ErrNoChoices
	}

	if completion.Usage != nil {
		task.Debugging.PromptTokens = completion.Usage.PromptTokens
		task.Debugging.CompletionTokens = completion.Usage.CompletionTokens
	}

	choice := completion.FirstChoice()
	if choice.FinishReason == "tool_calls" && len(choice.Message.ToolCalls) == 0 {
		h.metrics.CountProviderError("malformed_tool_call")
		return fmt.Errorf("provider finished with reason %q but sent no tool calls", choice.FinishReason)
	}
	switch {
	case len(choice.Message.ToolCalls) > 0:
		call := choice.Message.ToolCalls[0]
		task.Result = &tasks.Result{
			Kind: tasks.ResultToolCall,
			FunctionCall: &tasks.FunctionCall{
				Name:      call.Name,
				Arguments: decodeToolArguments(call.Arguments, defs, call.Name),
			},
		}
	case manual:
		task.Result = &tasks.Result{
			Kind:    tasks.ResultStructuredResponse,
			Message: choice.Message.Content,
		}
	default:
		task.Result = &tasks.Result{
			Kind:    tasks.ResultChatAnswer,
			Message: choice.Message.Content,
		}
	}

	if h.usage != nil && completion.ID != "" {
		go h.enrichUsage(task.ID, completion.ID, cfg)
	}
	return nil
}

// publishStream pushes accumulated stream state into the store without
// persistence so live subscribers see partial output.
func (h *ChatHandler) publishStream(taskID string, debugging tasks.Debugging) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := h.store.UpdateTask(ctx, taskID, func(t *tasks.Task) {
		t.Debugging.StreamContent = debugging.StreamContent
		t.Debugging.ToolStreamArgsContent = debugging.ToolStreamArgsContent
	}, false)
	if err != nil {
		log.Printf("task %s: stream publish failed: %v", taskID, err)
	}
}

// enrichUsage attaches the provider's delayed cost record to the task.
// Runs detached; a missing record only logs.
func (h *ChatHandler) enrichUsage(taskID, completionID string, cfg llm.APIConfig) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	usage, err := h.usage.Fetch(ctx, cfg, completionID)
	if err != nil {
		log.Printf("task %s: usage enrichment failed: %v", taskID, err)
		return
	}
	_, err = h.store.UpdateTask(ctx, taskID, func(t *tasks.Task) {
		if usage.PromptTokens > 0 {
			t.Debugging.PromptTokens = usage.PromptTokens
		}
		if usage.CompletionTokens > 0 {
			t.Debugging.CompletionTokens = usage.CompletionTokens
		}
		t.Debugging.Cost += usage.Cost
	}, true)
	if err != nil && !errors.Is(err, tasks.ErrTaskNotFound) {
		log.Printf("task %s: usage write failed: %v", taskID, err)
	}
}

// decodeToolArguments parses provider tool arguments defensively: invalid
// JSON is assigned raw to the tool's first declared parameter instead of
// being dropped.
func decodeToolArguments(raw string, defs []llm.ToolDefinition, toolName string) map[string]any {
	if raw == "" {
		return nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err == nil {
		return args
	}

	param := ""
	for _, def := range defs {
		if def.Name == toolName {
			param = def.Parameters.FirstParameter()
			break
		}
	}
	if param == "" {
		param = "raw"
	}
	return map[string]any{param: raw}
}

func providerErrorKind(err error) string {
	switch {
	case errors.Is(err, llm.ErrNoChoices):
		return "no_choices"
	case errors.Is(err, llm.ErrMissingModel):
		return "missing_model"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "transport"
	}
}
