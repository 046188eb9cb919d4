package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/antoniostano/taskyon/internal/observability"
	"github.com/antoniostano/taskyon/internal/tasks"
)

// ErrUnknownContent marks a dequeued task whose content fits no dispatch
// branch.
var ErrUnknownContent = errors.New("unknown task content")

// Worker is the single consumer of the processing queue. One task is in
// progress at a time system-wide, which bounds concurrent provider and
// tool calls to one and keeps cost accounting and cancellation simple.
type Worker struct {
	store      *tasks.TaskStore
	queue      *tasks.AsyncQueue[string]
	controller *Controller
	chat       *ChatHandler
	function   *FunctionHandler
	synth      *Synthesizer
	metrics    *observability.Metrics
	deadline   time.Duration
}

func NewWorker(
	store *tasks.TaskStore,
	queue *tasks.AsyncQueue[string],
	controller *Controller,
	chat *ChatHandler,
	function *FunctionHandler,
	synth *Synthesizer,
	metrics *observability.Metrics,
) *Worker {
	return &Worker{
		store:      store,
		queue:      queue,
		controller: controller,
		chat:       chat,
		function:   function,
		synth:      synth,
		metrics:    metrics,
	}
}

// SetTaskDeadline bounds the processing time of a single task. Zero means
// no bound. Hitting the deadline cancels the in-flight provider or tool
// call and is recorded on the task like any other failure.
func (w *Worker) SetTaskDeadline(d time.Duration) {
	w.deadline = d
}

// Run consumes the queue until ctx is cancelled. A failing task never
// stops the loop; its error is recorded on the task itself.
func (w *Worker) Run(ctx context.Context) error {
	for {
		w.controller.Reset(false)
		w.metrics.SetQueueDepth(w.queue.Count())

		id, err := w.queue.Pop(ctx)
		if err != nil {
			return err
		}
		if err := w.processOne(ctx, id); err != nil {
			log.Printf("task %s: iteration failed: %v", id, err)
		}
	}
}

// ProcessOne handles a single queued id, exposed for tests and drains.
func (w *Worker) processOne(ctx context.Context, id string) error {
	task, ok, err := w.store.GetTask(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		log.Printf("task %s: dequeued but no longer exists", id)
		return nil
	}

	task.State = tasks.StateInProgress
	if err := w.store.SetTask(ctx, task, true); err != nil {
		return err
	}
	w.metrics.CountTaskEvent("started")

	// Errors never propagate past here as control flow; they become data
	// on the task so the conversation tree stays the durable error log.
	if err := w.dispatch(ctx, &task); err != nil {
		task.Debugging.Error = err.Error()
	}

	switch {
	case task.Debugging.Error != "":
		task.State = tasks.StateError
		w.metrics.CountTaskEvent("errored")
	case w.controller.IsInterrupted():
		task.State = tasks.StateCancelled
		w.metrics.CountTaskEvent("cancelled")
	default:
		task.State = tasks.StateCompleted
		w.metrics.CountTaskEvent("completed")
	}

	if _, err := w.synth.Synthesize(ctx, task); err != nil {
		// Synthesis failures (malformed structured answers mostly) are
		// surfaced on the task like any other processing error.
		if task.Debugging.Error == "" {
			task.Debugging.Error = err.Error()
			task.State = tasks.StateError
		} else {
			task.Debugging.Error += "; follow-up synthesis failed: " + err.Error()
		}
		w.metrics.CountTaskEvent("synthesis_failed")
	}

	if err := w.store.SetTask(ctx, task, true); err != nil {
		return fmt.Errorf("finalize task: %w", err)
	}
	return nil
}

// dispatch routes the task by content kind.
func (w *Worker) dispatch(ctx context.Context, task *tasks.Task) error {
	if w.deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.deadline)
		defer cancel()
	}
	switch task.Content.Kind {
	case tasks.ContentMessage, tasks.ContentFunctionResult:
		return w.chat.Process(ctx, task)
	case tasks.ContentFunctionCall:
		return w.function.Process(ctx, task)
	default:
		return fmt.Errorf("%w: kind %q", ErrUnknownContent, task.Content.Kind)
	}
}
