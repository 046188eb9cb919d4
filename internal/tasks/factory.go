package tasks

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
)

var ErrDuplicateTask = errors.New("duplicate task")

// Factory validates drafts and turns them into stored task nodes. Tasks
// created with execute=true are pushed onto the processing queue; passive
// tasks (externally supplied tool descriptions and the like) are stored
// already completed so the worker never touches them.
type Factory struct {
	store *TaskStore
	queue *AsyncQueue[string]
}

func NewFactory(store *TaskStore, queue *AsyncQueue[string]) *Factory {
	return &Factory{store: store, queue: queue}
}

// AddTaskToTree creates a task from draft as a child of parentID (empty for
// a conversation root) and returns the new id. Naming via keyword
// extraction happens asynchronously after return.
func (f *Factory) AddTaskToTree(ctx context.Context, draft Draft, parentID string, execute, preventDuplicateName bool) (string, error) {
	if draft.Role == "" {
		return "", errors.New("draft role is required")
	}
	content, err := draft.Content.Normalized()
	if err != nil {
		return "", err
	}

	if preventDuplicateName && strings.TrimSpace(draft.Name) != "" {
		existing, err := f.store.SearchTasks(ctx, Selector{"name": draft.Name})
		if err != nil {
			return "", fmt.Errorf("duplicate-name lookup: %w", err)
		}
		if len(existing) > 0 {
			return "", fmt.Errorf("%w: %q", ErrDuplicateTask, draft.Name)
		}
	}

	task := Task{
		ID:            uuid.NewString(),
		Role:          draft.Role,
		Content:       content,
		ParentID:      strings.TrimSpace(parentID),
		Configuration: draft.Configuration,
		AllowedTools:  draft.AllowedTools,
		Debugging:     draft.Debugging,
		Labels:        draft.Labels,
		Name:          strings.TrimSpace(draft.Name),
		CreatedAt:     time.Now().UTC(),
	}

	if task.ParentID != "" {
		parent, ok, err := f.store.GetTask(ctx, task.ParentID)
		if err != nil {
			return "", err
		}
		if !ok {
			return "", fmt.Errorf("%w: parent %s", ErrTaskNotFound, task.ParentID)
		}
		if task.AllowedTools == nil {
			task.AllowedTools = append([]string(nil), parent.AllowedTools...)
		}
	}

	if execute {
		task.State = StateQueued
	} else {
		task.State = StateCompleted
	}
	if err := f.store.SetTask(ctx, task, true); err != nil {
		return "", err
	}
	if execute {
		f.queue.Push(task.ID)
	}

	if task.Name == "" && !task.Discardable() {
		go f.deriveName(task.ID, task.Content)
	}
	return task.ID, nil
}

func (f *Factory) deriveName(id string, content Content) {
	name := ExtractKeywords(nameSource(content), 4)
	if name == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := f.store.UpdateTask(ctx, id, func(t *Task) {
		if t.Name == "" {
			t.Name = name
		}
	}, true)
	if err != nil && !errors.Is(err, ErrTaskNotFound) {
		log.Printf("task %s: derive name failed: %v", id, err)
	}
}
