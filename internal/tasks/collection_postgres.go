package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresCollection persists tasks with the nested unions serialized into
// JSONB columns, so the conversation tree survives process restarts.
type PostgresCollection struct {
	pool *pgxpool.Pool
}

func NewPostgresCollection(ctx context.Context, databaseURL string) (*PostgresCollection, error) {
	pool, err := pgxpool.New(ctx, strings.TrimSpace(databaseURL))
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := initTaskSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresCollection{pool: pool}, nil
}

func initTaskSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			role TEXT NOT NULL,
			state TEXT NOT NULL,
			parent_id TEXT NOT NULL DEFAULT '',
			name TEXT NOT NULL DEFAULT '',
			labels JSONB NOT NULL DEFAULT '[]',
			allowed_tools JSONB NULL,
			content JSONB NOT NULL,
			configuration JSONB NULL,
			result JSONB NULL,
			debugging JSONB NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_parent ON tasks (parent_id);`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_name ON tasks (name);`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_state ON tasks (state);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init task schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (c *PostgresCollection) Close() error {
	c.pool.Close()
	return nil
}

func (c *PostgresCollection) Upsert(ctx context.Context, task Task) error {
	content, err := json.Marshal(task.Content)
	if err != nil {
		return fmt.Errorf("marshal content: %w", err)
	}
	debugging, err := json.Marshal(task.Debugging)
	if err != nil {
		return fmt.Errorf("marshal debugging: %w", err)
	}
	labels, err := json.Marshal(labelsOrEmpty(task.Labels))
	if err != nil {
		return fmt.Errorf("marshal labels: %w", err)
	}
	var allowedTools, configuration, result []byte
	if task.AllowedTools != nil {
		if allowedTools, err = json.Marshal(task.AllowedTools); err != nil {
			return fmt.Errorf("marshal allowed tools: %w", err)
		}
	}
	if task.Configuration != nil {
		if configuration, err = json.Marshal(task.Configuration); err != nil {
			return fmt.Errorf("marshal configuration: %w", err)
		}
	}
	if task.Result != nil {
		if result, err = json.Marshal(task.Result); err != nil {
			return fmt.Errorf("marshal result: %w", err)
		}
	}

	_, err = c.pool.Exec(ctx,
		`INSERT INTO tasks (
			id, role, state, parent_id, name, labels, allowed_tools, content, configuration, result, debugging, created_at
		) VALUES (
			$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12
		)
		ON CONFLICT (id) DO UPDATE SET
			role=EXCLUDED.role,
			state=EXCLUDED.state,
			parent_id=EXCLUDED.parent_id,
			name=EXCLUDED.name,
			labels=EXCLUDED.labels,
			allowed_tools=EXCLUDED.allowed_tools,
			content=EXCLUDED.content,
			configuration=EXCLUDED.configuration,
			result=EXCLUDED.result,
			debugging=EXCLUDED.debugging,
			created_at=EXCLUDED.created_at`,
		task.ID,
		string(task.Role),
		string(task.State),
		task.ParentID,
		task.Name,
		labels,
		allowedTools,
		content,
		configuration,
		result,
		debugging,
		task.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert task: %w", err)
	}
	return nil
}

func (c *PostgresCollection) Get(ctx context.Context, id string) (Task, error) {
	row := c.pool.QueryRow(ctx, taskSelect+` WHERE id=$1`, id)
	task, err := scanTask(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Task{}, ErrStoreNotFound
		}
		return Task{}, fmt.Errorf("get task: %w", err)
	}
	return task, nil
}

func (c *PostgresCollection) Remove(ctx context.Context, id string) error {
	if _, err := c.pool.Exec(ctx, `DELETE FROM tasks WHERE id=$1`, id); err != nil {
		return fmt.Errorf("remove task: %w", err)
	}
	return nil
}

func (c *PostgresCollection) RemoveAll(ctx context.Context) error {
	if _, err := c.pool.Exec(ctx, `DELETE FROM tasks`); err != nil {
		return fmt.Errorf("remove all tasks: %w", err)
	}
	return nil
}

func (c *PostgresCollection) Find(ctx context.Context, sel Selector) ([]Task, error) {
	where, args, err := selectorWhere(sel)
	if err != nil {
		return nil, err
	}
	rows, err := c.pool.Query(ctx, taskSelect+where+` ORDER BY created_at ASC, id ASC`, args...)
	if err != nil {
		return nil, fmt.Errorf("find tasks: %w", err)
	}
	defer rows.Close()

	out := make([]Task, 0, 8)
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task row: %w", err)
		}
		out = append(out, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate task rows: %w", err)
	}
	return out, nil
}

const taskSelect = `SELECT id, role, state, parent_id, name, labels, allowed_tools, content, configuration, result, debugging, created_at FROM tasks`

func selectorWhere(sel Selector) (string, []any, error) {
	if len(sel) == 0 {
		return "", nil, nil
	}
	clauses := make([]string, 0, len(sel))
	args := make([]any, 0, len(sel))
	for key, value := range sel {
		args = append(args, value)
		n := len(args)
		switch key {
		case "id", "name", "parent_id", "role", "state":
			clauses = append(clauses, fmt.Sprintf("%s=$%d", key, n))
		case "label":
			clauses = append(clauses, fmt.Sprintf("labels ? $%d", n))
		default:
			return "", nil, fmt.Errorf("unsupported selector key %q", key)
		}
	}
	return " WHERE " + strings.Join(clauses, " AND "), args, nil
}

func scanTask(row pgx.Row) (Task, error) {
	var (
		task          Task
		role          string
		state         string
		labels        []byte
		allowedTools  []byte
		content       []byte
		configuration []byte
		result        []byte
		debugging     []byte
	)
	if err := row.Scan(
		&task.ID,
		&role,
		&state,
		&task.ParentID,
		&task.Name,
		&labels,
		&allowedTools,
		&content,
		&configuration,
		&result,
		&debugging,
		&task.CreatedAt,
	); err != nil {
		return Task{}, err
	}
	task.Role = Role(role)
	task.State = State(state)
	if err := json.Unmarshal(labels, &task.Labels); err != nil {
		return Task{}, fmt.Errorf("parse labels: %w", err)
	}
	if len(task.Labels) == 0 {
		task.Labels = nil
	}
	if len(allowedTools) > 0 {
		if err := json.Unmarshal(allowedTools, &task.AllowedTools); err != nil {
			return Task{}, fmt.Errorf("parse allowed tools: %w", err)
		}
	}
	if err := json.Unmarshal(content, &task.Content); err != nil {
		return Task{}, fmt.Errorf("parse content: %w", err)
	}
	if len(configuration) > 0 {
		task.Configuration = &Configuration{}
		if err := json.Unmarshal(configuration, task.Configuration); err != nil {
			return Task{}, fmt.Errorf("parse configuration: %w", err)
		}
	}
	if len(result) > 0 {
		task.Result = &Result{}
		if err := json.Unmarshal(result, task.Result); err != nil {
			return Task{}, fmt.Errorf("parse result: %w", err)
		}
	}
	if err := json.Unmarshal(debugging, &task.Debugging); err != nil {
		return Task{}, fmt.Errorf("parse debugging: %w", err)
	}
	return task, nil
}

func labelsOrEmpty(labels []string) []string {
	if labels == nil {
		return []string{}
	}
	return labels
}
