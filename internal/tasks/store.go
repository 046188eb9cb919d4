package tasks

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var ErrTaskNotFound = errors.New("task not found")

// TaskStore is the authoritative owner of task lifetime. The in-memory map
// is a cache over the persistent collection; every mutation path takes the
// per-id lock first, so two writers never race on the same task.
type TaskStore struct {
	collection Collection
	locks      *KeyedLock

	mu          sync.RWMutex
	cache       map[string]Task
	subscribers map[int]func(Task)
	countSubs   map[int]func(int)
	nextSubID   int
}

func NewTaskStore(collection Collection) *TaskStore {
	if collection == nil {
		collection = NewMemoryCollection()
	}
	return &TaskStore{
		collection:  collection,
		locks:       NewKeyedLock(),
		cache:       make(map[string]Task),
		subscribers: make(map[int]func(Task)),
		countSubs:   make(map[int]func(int)),
	}
}

// GetTask waits out any in-flight writer on id, then answers from cache,
// lazily hydrating from the collection. A missing task is (Task{}, false,
// nil), not an error.
func (s *TaskStore) GetTask(ctx context.Context, id string) (Task, bool, error) {
	if err := s.locks.WaitForUnlock(ctx, id); err != nil {
		return Task{}, false, err
	}

	s.mu.RLock()
	task, ok := s.cache[id]
	s.mu.RUnlock()
	if ok {
		return task.Clone(), true, nil
	}

	persisted, err := s.collection.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrStoreNotFound) {
			return Task{}, false, nil
		}
		return Task{}, false, fmt.Errorf("hydrate task %s: %w", id, err)
	}

	s.mu.Lock()
	s.cache[persisted.ID] = persisted.Clone()
	s.mu.Unlock()
	return persisted, true, nil
}

// SetTask writes the full task through the cache and, when persist is set,
// the collection. Subscribers are notified after the lock is released.
func (s *TaskStore) SetTask(ctx context.Context, task Task, persist bool) error {
	if task.ID == "" {
		return errors.New("task id is required")
	}
	release, err := s.locks.Acquire(ctx, task.ID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	_, existed := s.cache[task.ID]
	s.cache[task.ID] = task.Clone()
	count := len(s.cache)
	s.mu.Unlock()

	if persist {
		if err := s.collection.Upsert(ctx, task); err != nil {
			release()
			return fmt.Errorf("persist task %s: %w", task.ID, err)
		}
	}
	release()

	s.notifyChanged(task)
	if !existed {
		s.notifyCount(count)
	}
	return nil
}

// UpdateTask applies mutate to the stored task under its lock. Immutable
// fields (id, parent link, creation time) are restored afterwards, so a
// careless mutation can never rewrite history.
func (s *TaskStore) UpdateTask(ctx context.Context, id string, mutate func(*Task), persist bool) (Task, error) {
	release, err := s.locks.Acquire(ctx, id)
	if err != nil {
		return Task{}, err
	}

	s.mu.RLock()
	current, ok := s.cache[id]
	s.mu.RUnlock()
	if !ok {
		persisted, err := s.collection.Get(ctx, id)
		if err != nil {
			release()
			if errors.Is(err, ErrStoreNotFound) {
				return Task{}, ErrTaskNotFound
			}
			return Task{}, fmt.Errorf("hydrate task %s: %w", id, err)
		}
		current = persisted
	}

	updated := current.Clone()
	mutate(&updated)
	updated.ID = current.ID
	updated.ParentID = current.ParentID
	updated.CreatedAt = current.CreatedAt

	s.mu.Lock()
	s.cache[id] = updated.Clone()
	s.mu.Unlock()

	if persist {
		if err := s.collection.Upsert(ctx, updated); err != nil {
			release()
			return Task{}, fmt.Errorf("persist task %s: %w", id, err)
		}
	}
	release()

	s.notifyChanged(updated)
	return updated, nil
}

func (s *TaskStore) DeleteTask(ctx context.Context, id string) error {
	release, err := s.locks.Acquire(ctx, id)
	if err != nil {
		return err
	}

	s.mu.Lock()
	task, existed := s.cache[id]
	delete(s.cache, id)
	count := len(s.cache)
	s.mu.Unlock()

	if err := s.collection.Remove(ctx, id); err != nil {
		release()
		return fmt.Errorf("remove task %s: %w", id, err)
	}
	release()

	if existed {
		s.notifyChanged(task)
		s.notifyCount(count)
	}
	return nil
}

func (s *TaskStore) DeleteAllTasks(ctx context.Context) error {
	s.mu.Lock()
	s.cache = make(map[string]Task)
	s.mu.Unlock()

	if err := s.collection.RemoveAll(ctx); err != nil {
		return fmt.Errorf("remove all tasks: %w", err)
	}
	s.notifyCount(0)
	return nil
}

// SearchTasks delegates to the collection's selector query and rehydrates
// cache entries as a side effect.
func (s *TaskStore) SearchTasks(ctx context.Context, sel Selector) ([]Task, error) {
	found, err := s.collection.Find(ctx, sel)
	if err != nil {
		return nil, fmt.Errorf("search tasks: %w", err)
	}

	s.mu.Lock()
	for _, task := range found {
		if _, ok := s.cache[task.ID]; !ok {
			s.cache[task.ID] = task.Clone()
		}
	}
	s.mu.Unlock()
	return found, nil
}

func (s *TaskStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.cache)
}

// SubscribeToTaskChanges registers a best-effort change callback and
// returns its unsubscribe func. Intended for presentation layers only.
func (s *TaskStore) SubscribeToTaskChanges(fn func(Task)) func() {
	s.mu.Lock()
	s.nextSubID++
	id := s.nextSubID
	s.subscribers[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subscribers, id)
		s.mu.Unlock()
	}
}

// SubscribeToTaskCount is like SubscribeToTaskChanges but fires only when
// the number of tasks changes.
func (s *TaskStore) SubscribeToTaskCount(fn func(int)) func() {
	s.mu.Lock()
	s.nextSubID++
	id := s.nextSubID
	s.countSubs[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.countSubs, id)
		s.mu.Unlock()
	}
}

func (s *TaskStore) Close() error {
	return s.collection.Close()
}

func (s *TaskStore) notifyChanged(task Task) {
	s.mu.RLock()
	fns := make([]func(Task), 0, len(s.subscribers))
	for _, fn := range s.subscribers {
		fns = append(fns, fn)
	}
	s.mu.RUnlock()
	for _, fn := range fns {
		fn(task.Clone())
	}
}

func (s *TaskStore) notifyCount(count int) {
	s.mu.RLock()
	fns := make([]func(int), 0, len(s.countSubs))
	for _, fn := range s.countSubs {
		fns = append(fns, fn)
	}
	s.mu.RUnlock()
	for _, fn := range fns {
		fn(count)
	}
}
