package llm

import (
	"context"
	"strings"
	"sync"
)

// MockAdapter provides deterministic local completions when no provider is
// configured. Scripted completions, when queued, are returned in order;
// otherwise the reply echoes the last user message.
type MockAdapter struct {
	mu       sync.Mutex
	scripted []Completion
	calls    []Request
}

func NewMockAdapter() *MockAdapter { return &MockAdapter{} }

// Script queues a canned completion to be returned by the next Call.
func (a *MockAdapter) Script(c Completion) {
	a.mu.Lock()
	a.scripted = append(a.scripted, c)
	a.mu.Unlock()
}

// Calls returns every request seen so far.
func (a *MockAdapter) Calls() []Request {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Request, len(a.calls))
	copy(out, a.calls)
	return out
}

func (a *MockAdapter) Call(ctx context.Context, req Request) (Completion, error) {
	select {
	case <-ctx.Done():
		return Completion{}, ctx.Err()
	default:
	}

	a.mu.Lock()
	a.calls = append(a.calls, req)
	var completion Completion
	if len(a.scripted) > 0 {
		completion = a.scripted[0]
		a.scripted = a.scripted[1:]
	} else {
		completion = Completion{
			ID:    "mock-completion",
			Model: req.Config.Model,
			Choices: []Choice{{
				Message: CompletionMessage{
					Role:    "assistant",
					Content: buildMockReply(req.Messages),
				},
				FinishReason: "stop",
			}},
			Usage: &Usage{PromptTokens: 1, CompletionTokens: 1, TotalTokens: 2},
		}
	}
	a.mu.Unlock()

	if req.Stream && req.OnChunk != nil {
		choice := completion.FirstChoice()
		if choice.Message.Content != "" {
			if err := req.OnChunk(Chunk{Content: choice.Message.Content}); err != nil {
				return Completion{}, err
			}
		}
		for _, call := range choice.Message.ToolCalls {
			if call.Arguments == "" {
				continue
			}
			if err := req.OnChunk(Chunk{ToolArgs: call.Arguments}); err != nil {
				return Completion{}, err
			}
		}
	}
	return completion, nil
}

func buildMockReply(messages []Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			text := strings.TrimSpace(messages[i].Content)
			if text != "" {
				return "I heard you: " + text
			}
		}
	}
	return "I am listening."
}
