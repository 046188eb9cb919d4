package tasks

import (
	"context"
	"errors"
	"strings"
)

var ErrStoreNotFound = errors.New("task not found in store")

// Selector is a flat, equality-only query document over indexable task
// fields: id, name, role, parent_id, state, label. Unknown keys match
// nothing, which keeps malformed queries visible instead of over-matching.
type Selector map[string]string

// Collection is the persistent document store behind the TaskStore. Nested
// task fields (content, result, configuration, debugging) are serialized at
// this boundary and parsed back on read.
type Collection interface {
	Get(ctx context.Context, id string) (Task, error)
	Upsert(ctx context.Context, task Task) error
	Remove(ctx context.Context, id string) error
	RemoveAll(ctx context.Context) error
	Find(ctx context.Context, sel Selector) ([]Task, error)
	Close() error
}

// NewCollection returns a postgres-backed collection when databaseURL is
// set, otherwise an in-memory one.
func NewCollection(ctx context.Context, databaseURL string) (Collection, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return NewMemoryCollection(), nil
	}
	return NewPostgresCollection(ctx, databaseURL)
}

func matchesSelector(task Task, sel Selector) bool {
	for key, want := range sel {
		switch key {
		case "id":
			if task.ID != want {
				return false
			}
		case "name":
			if task.Name != want {
				return false
			}
		case "role":
			if string(task.Role) != want {
				return false
			}
		case "parent_id":
			if task.ParentID != want {
				return false
			}
		case "state":
			if string(task.State) != want {
				return false
			}
		case "label":
			if !task.HasLabel(want) {
				return false
			}
		default:
			return false
		}
	}
	return true
}
