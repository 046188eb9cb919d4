package llm

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHTTPAdapterCallNonStreaming(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("request path = %q, want /chat/completions", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Authorization = %q, want bearer token", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"id": "cmpl-1",
			"model": "test-model",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "hello there"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 5, "completion_tokens": 2, "total_tokens": 7}
		}`))
	}))
	defer srv.Close()

	a := NewHTTPAdapter(srv.URL, "test-key")
	completion, err := a.Call(context.Background(), Request{
		Messages: []Message{{Role: "user", Content: "hi"}},
		Config:   APIConfig{Model: "test-model"},
	})
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	choice := completion.FirstChoice()
	if choice.Message.Content != "hello there" {
		t.Fatalf("content = %q, want %q", choice.Message.Content, "hello there")
	}
	if completion.Usage == nil || completion.Usage.TotalTokens != 7 {
		t.Fatalf("usage = %+v, want total 7", completion.Usage)
	}
}

func TestHTTPAdapterCallMissingModel(t *testing.T) {
	a := NewHTTPAdapter("http://example.test", "")
	_, err := a.Call(context.Background(), Request{Config: APIConfig{}})
	if !errors.Is(err, ErrMissingModel) {
		t.Fatalf("Call() error = %v, want ErrMissingModel", err)
	}
}

func TestHTTPAdapterCallNoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"error": {"message": "model overloaded"}}`))
	}))
	defer srv.Close()

	a := NewHTTPAdapter(srv.URL, "")
	_, err := a.Call(context.Background(), Request{Config: APIConfig{Model: "m"}})
	if !errors.Is(err, ErrNoChoices) {
		t.Fatalf("Call() error = %v, want ErrNoChoices", err)
	}
	if !strings.Contains(err.Error(), "model overloaded") {
		t.Fatalf("Call() error should carry the provider body, got %q", err)
	}
}

func TestConsumeStreamAccumulatesContent(t *testing.T) {
	stream := strings.NewReader(strings.Join([]string{
		": keepalive",
		"",
		`data: {"id":"cmpl-2","choices":[{"delta":{"content":"Hel"}}]}`,
		"",
		`data: {"choices":[{"delta":{"content":"lo"},"finish_reason":"stop"}]}`,
		"",
		`data: {"usage":{"prompt_tokens":3,"completion_tokens":2,"total_tokens":5}}`,
		"",
		"data: [DONE]",
		"",
	}, "\n"))

	var chunks []string
	completion, err := consumeStream(stream, func(c Chunk) error {
		chunks = append(chunks, c.Content)
		return nil
	}, nil)
	if err != nil {
		t.Fatalf("consumeStream() error = %v", err)
	}
	choice := completion.FirstChoice()
	if choice.Message.Content != "Hello" {
		t.Fatalf("content = %q, want %q", choice.Message.Content, "Hello")
	}
	if choice.FinishReason != "stop" {
		t.Fatalf("finish reason = %q, want stop", choice.FinishReason)
	}
	if completion.ID != "cmpl-2" {
		t.Fatalf("completion id = %q, want cmpl-2", completion.ID)
	}
	if completion.Usage == nil || completion.Usage.TotalTokens != 5 {
		t.Fatalf("usage = %+v, want total 5", completion.Usage)
	}
	if strings.Join(chunks, "") != "Hello" {
		t.Fatalf("chunks = %q, want %q", strings.Join(chunks, ""), "Hello")
	}
}

func TestConsumeStreamAssemblesToolCall(t *testing.T) {
	stream := strings.NewReader(strings.Join([]string{
		`data: {"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call-1","function":{"name":"sum","arguments":"{\"a\""}}]}}]}`,
		`data: {"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":":1}"}}]},"finish_reason":"tool_calls"}]}`,
		"data: [DONE]",
	}, "\n"))

	completion, err := consumeStream(stream, nil, nil)
	if err != nil {
		t.Fatalf("consumeStream() error = %v", err)
	}
	choice := completion.FirstChoice()
	if choice.FinishReason != "tool_calls" {
		t.Fatalf("finish reason = %q, want tool_calls", choice.FinishReason)
	}
	if len(choice.Message.ToolCalls) != 1 {
		t.Fatalf("tool calls = %d, want 1", len(choice.Message.ToolCalls))
	}
	call := choice.Message.ToolCalls[0]
	if call.Name != "sum" || call.Arguments != `{"a":1}` {
		t.Fatalf("tool call = %+v, want sum with assembled args", call)
	}
}

func TestConsumeStreamStopsOnCancel(t *testing.T) {
	stream := strings.NewReader(strings.Join([]string{
		`data: {"choices":[{"delta":{"content":"partial"}}]}`,
		`data: {"choices":[{"delta":{"content":" never seen"}}]}`,
		"data: [DONE]",
	}, "\n"))

	seen := 0
	completion, err := consumeStream(stream, func(c Chunk) error {
		seen++
		return nil
	}, func() bool { return seen > 0 })
	if err != nil {
		t.Fatalf("consumeStream() error = %v", err)
	}
	if got := completion.FirstChoice().Message.Content; got != "partial" {
		t.Fatalf("content = %q, want only the pre-cancel delta", got)
	}
}

func TestParameterSchemaFirstParameter(t *testing.T) {
	schema := ParameterSchema{
		Type: "object",
		Properties: map[string]Property{
			"zz": {Type: "string"},
			"aa": {Type: "string"},
		},
	}
	if got := schema.FirstParameter(); got != "aa" {
		t.Fatalf("FirstParameter() = %q, want aa", got)
	}

	schema.Required = []string{"zz"}
	if got := schema.FirstParameter(); got != "zz" {
		t.Fatalf("FirstParameter() = %q, want required zz", got)
	}
}
