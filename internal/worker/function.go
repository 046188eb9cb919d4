package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/antoniostano/taskyon/internal/observability"
	"github.com/antoniostano/taskyon/internal/tasks"
	"github.com/antoniostano/taskyon/internal/tools"
)

// RemoteExecutor runs a tool on the embedding host and returns its result.
// Implemented by the host bridge.
type RemoteExecutor interface {
	CallFunction(ctx context.Context, name string, args map[string]any) (any, error)
}

// FunctionHandler executes function-call tasks against the tool registry.
// Every outcome, including failure, becomes a result on the task; nothing
// escapes as an error.
type FunctionHandler struct {
	registry      *tools.Registry
	controller    *Controller
	remote        RemoteExecutor
	remoteTimeout time.Duration
	metrics       *observability.Metrics
}

func NewFunctionHandler(
	registry *tools.Registry,
	controller *Controller,
	remote RemoteExecutor,
	remoteTimeout time.Duration,
	metrics *observability.Metrics,
) *FunctionHandler {
	if remoteTimeout <= 0 {
		remoteTimeout = 10 * time.Second
	}
	return &FunctionHandler{
		registry:      registry,
		controller:    controller,
		remote:        remote,
		remoteTimeout: remoteTimeout,
		metrics:       metrics,
	}
}

func (h *FunctionHandler) Process(ctx context.Context, task *tasks.Task) error {
	call := task.Content.FunctionCall
	if call == nil {
		task.Result = toolError("task has no function call content")
		return nil
	}

	resolved, err := h.registry.Resolve(ctx, task.AllowedTools)
	if err != nil {
		return err
	}
	tool, ok := resolved[call.Name]
	if !ok {
		h.metrics.CountToolExecution(call.Name, "missing")
		task.Result = toolError(fmt.Sprintf(
			"tool %q not found; allowed tools: %s",
			call.Name, formatAllowed(task.AllowedTools)))
		return nil
	}

	if h.controller != nil && h.controller.IsInterrupted() {
		h.metrics.CountToolExecution(call.Name, "cancelled")
		task.Result = toolError(fmt.Sprintf(
			"tool %q not executed: cancelled (%s)", call.Name, h.controller.Reason()))
		return nil
	}

	output, err := h.execute(ctx, tool, call.Arguments)
	if err != nil {
		h.metrics.CountToolExecution(call.Name, "error")
		task.Result = toolError(fmt.Sprintf("tool %q failed: %v", call.Name, err))
		return nil
	}

	h.metrics.CountToolExecution(call.Name, "ok")
	task.Result = &tasks.Result{
		Kind:       tasks.ResultToolResult,
		ToolOutput: normalizeToolOutput(output),
	}
	return nil
}

func (h *FunctionHandler) execute(ctx context.Context, tool tools.Tool, args map[string]any) (any, error) {
	if tool.Function != nil {
		return tool.Function(ctx, args)
	}

	// Code tools and host-registered tools both round-trip through the
	// host with a bounded wall-clock timeout. A timeout is a terminal
	// ToolError for this invocation; there is no retry.
	if h.remote == nil {
		return nil, fmt.Errorf("no host available for remote execution")
	}
	callCtx, cancel := context.WithTimeout(ctx, h.remoteTimeout)
	defer cancel()
	return h.remote.CallFunction(callCtx, tool.Name, args)
}

func toolError(message string) *tasks.Result {
	return &tasks.Result{Kind: tasks.ResultToolError, ToolError: message}
}

func formatAllowed(allowed []string) string {
	if len(allowed) == 0 {
		return "(none)"
	}
	return strings.Join(allowed, ", ")
}

func normalizeToolOutput(output any) string {
	switch v := output.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(encoded)
	}
}
