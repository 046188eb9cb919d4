package hostbridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/antoniostano/taskyon/internal/tasks"
)

// ErrNoHost is returned when a remote call is attempted with no host
// window connected.
var ErrNoHost = errors.New("no host connected")

// ErrCallTimeout is returned when the host never answers a function call
// within the configured deadline.
var ErrCallTimeout = errors.New("host function call timed out")

// ToolNames supplies the tool inventory announced in the ready message.
type ToolNames interface {
	Names(ctx context.Context) []string
}

// Bridge connects the engine to embedding host windows over websocket.
// Hosts inject tasks, register tools and push configuration; the engine
// calls registered host tools back and waits for the matching response.
type Bridge struct {
	factory  *tasks.Factory
	tools    ToolNames
	onConfig func(ConfigurationMessage)
	timeout  time.Duration

	mu      sync.Mutex
	conns   map[*websocket.Conn]bool
	pending map[string]chan FunctionResponse
}

func NewBridge(factory *tasks.Factory, tools ToolNames, onConfig func(ConfigurationMessage), callTimeout time.Duration) *Bridge {
	if callTimeout <= 0 {
		callTimeout = 10 * time.Second
	}
	return &Bridge{
		factory:  factory,
		tools:    tools,
		onConfig: onConfig,
		timeout:  callTimeout,
		conns:    make(map[*websocket.Conn]bool),
		pending:  make(map[string]chan FunctionResponse),
	}
}

// HandleConn announces readiness, then consumes inbound frames until the
// connection closes. Malformed frames are logged and dropped.
func (b *Bridge) HandleConn(ctx context.Context, conn *websocket.Conn) {
	b.mu.Lock()
	b.conns[conn] = true
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		delete(b.conns, conn)
		b.mu.Unlock()
		conn.Close()
	}()

	ready := Ready{Type: TypeReady}
	if b.tools != nil {
		ready.Tools = b.tools.Names(ctx)
	}
	if err := b.write(conn, ready); err != nil {
		log.Printf("hostbridge: ready write failed: %v", err)
		return
	}

	for {
		msgType, raw, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("hostbridge: read failed: %v", err)
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		msg, err := ParseHostMessage(raw)
		if err != nil {
			log.Printf("hostbridge: dropping malformed message: %v", err)
			continue
		}
		if err := b.dispatch(ctx, msg); err != nil {
			log.Printf("hostbridge: message handling failed: %v", err)
		}
	}
}

func (b *Bridge) dispatch(ctx context.Context, msg any) error {
	switch m := msg.(type) {
	case TaskMessage:
		_, err := b.factory.AddTaskToTree(ctx, m.Draft, m.ParentID, m.Execute, m.PreventDuplicateName)
		if errors.Is(err, tasks.ErrDuplicateTask) {
			// Hosts re-send their registrations on every load.
			return nil
		}
		return err
	case FunctionDescription:
		return b.registerHostTool(ctx, m)
	case ConfigurationMessage:
		if b.onConfig != nil {
			b.onConfig(m)
		}
		return nil
	case FunctionResponse:
		b.deliver(m)
		return nil
	default:
		return fmt.Errorf("%w: %T", ErrUnsupportedType, msg)
	}
}

func (b *Bridge) registerHostTool(ctx context.Context, desc FunctionDescription) error {
	body, err := json.Marshal(map[string]any{
		"name":        desc.Name,
		"description": desc.Description,
		"parameters":  desc.Parameters,
	})
	if err != nil {
		return fmt.Errorf("encode tool definition: %w", err)
	}

	_, err = b.factory.AddTaskToTree(ctx, tasks.Draft{
		Role:    tasks.RoleFunction,
		Content: tasks.Content{Message: string(body)},
		Labels:  []string{tasks.LabelFunction, tasks.LabelDiscardable},
		Name:    desc.Name,
	}, "", false, true)
	if errors.Is(err, tasks.ErrDuplicateTask) {
		return nil
	}
	return err
}

// CallFunction asks a connected host to run one of its tools and waits for
// the matching response. Implements the worker's remote executor contract.
func (b *Bridge) CallFunction(ctx context.Context, name string, args map[string]any) (any, error) {
	callID := uuid.NewString()
	responseCh := make(chan FunctionResponse, 1)

	b.mu.Lock()
	if len(b.conns) == 0 {
		b.mu.Unlock()
		return nil, ErrNoHost
	}
	b.pending[callID] = responseCh
	conns := make([]*websocket.Conn, 0, len(b.conns))
	for conn := range b.conns {
		conns = append(conns, conn)
	}
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		delete(b.pending, callID)
		b.mu.Unlock()
	}()

	call := FunctionCall{Type: TypeFunctionCall, CallID: callID, Name: name, Arguments: args}
	sent := false
	for _, conn := range conns {
		if err := b.write(conn, call); err == nil {
			sent = true
		}
	}
	if !sent {
		return nil, ErrNoHost
	}

	timer := time.NewTimer(b.timeout)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, fmt.Errorf("%w: %s after %s", ErrCallTimeout, name, b.timeout)
	case resp := <-responseCh:
		if resp.Error != "" {
			return nil, errors.New(resp.Error)
		}
		if len(resp.Result) == 0 {
			return nil, nil
		}
		var result any
		if err := json.Unmarshal(resp.Result, &result); err != nil {
			return string(resp.Result), nil
		}
		return result, nil
	}
}

func (b *Bridge) deliver(resp FunctionResponse) {
	b.mu.Lock()
	ch, ok := b.pending[resp.CallID]
	b.mu.Unlock()
	if !ok {
		log.Printf("hostbridge: dropping response for unknown call %s", resp.CallID)
		return
	}
	select {
	case ch <- resp:
	default:
	}
}

// write keeps websocket writes single-threaded per bridge.
func (b *Bridge) write(conn *websocket.Conn, payload any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return conn.WriteJSON(payload)
}

// Connected reports whether at least one host window is attached.
func (b *Bridge) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.conns) > 0
}
