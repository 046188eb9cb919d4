package tasks

import (
	"context"
	"sort"
	"sync"
)

// MemoryCollection keeps tasks in a mutex-guarded map. It is the default
// backend for embedded use and for tests.
type MemoryCollection struct {
	mu    sync.Mutex
	tasks map[string]Task
}

func NewMemoryCollection() *MemoryCollection {
	return &MemoryCollection{tasks: make(map[string]Task)}
}

func (c *MemoryCollection) Get(_ context.Context, id string) (Task, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	task, ok := c.tasks[id]
	if !ok {
		return Task{}, ErrStoreNotFound
	}
	return task.Clone(), nil
}

func (c *MemoryCollection) Upsert(_ context.Context, task Task) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tasks[task.ID] = task.Clone()
	return nil
}

func (c *MemoryCollection) Remove(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.tasks, id)
	return nil
}

func (c *MemoryCollection) RemoveAll(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tasks = make(map[string]Task)
	return nil
}

func (c *MemoryCollection) Find(_ context.Context, sel Selector) ([]Task, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Task, 0, len(c.tasks))
	for _, task := range c.tasks {
		if matchesSelector(task, sel) {
			out = append(out, task.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (c *MemoryCollection) Close() error {
	return nil
}
