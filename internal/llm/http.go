package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPAdapter speaks the OpenAI-compatible chat completion protocol that
// most hosted and local providers expose.
type HTTPAdapter struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewHTTPAdapter(baseURL, apiKey string) *HTTPAdapter {
	return &HTTPAdapter{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:  strings.TrimSpace(apiKey),
		client: &http.Client{
			Timeout: 120 * time.Second,
		},
	}
}

type chatCompletionBody struct {
	Model         string         `json:"model"`
	Messages      []Message      `json:"messages"`
	Tools         []wireTool     `json:"tools,omitempty"`
	Stream        bool           `json:"stream,omitempty"`
	StreamOptions *streamOptions `json:"stream_options,omitempty"`
}

type streamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type wireTool struct {
	Type     string         `json:"type"`
	Function ToolDefinition `json:"function"`
}

func (a *HTTPAdapter) Call(ctx context.Context, req Request) (Completion, error) {
	model := strings.TrimSpace(req.Config.Model)
	if model == "" {
		return Completion{}, ErrMissingModel
	}

	body := chatCompletionBody{
		Model:    model,
		Messages: req.Messages,
		Stream:   req.Stream,
	}
	if req.Config.NativeToolCalling {
		for _, tool := range req.Tools {
			body.Tools = append(body.Tools, wireTool{Type: "function", Function: tool})
		}
	}
	if req.Stream {
		body.StreamOptions = &streamOptions{IncludeUsage: true}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return Completion{}, fmt.Errorf("marshal request: %w", err)
	}

	url := a.endpoint(req.Config, "/chat/completions")
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return Completion{}, fmt.Errorf("create request: %w", err)
	}
	a.setHeaders(httpReq, req.Config)

	res, err := a.client.Do(httpReq)
	if err != nil {
		return Completion{}, fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return Completion{}, fmt.Errorf("provider status %d: %s", res.StatusCode, string(snippet))
	}

	if req.Stream {
		ct := strings.ToLower(res.Header.Get("Content-Type"))
		if strings.Contains(ct, "text/event-stream") || strings.Contains(ct, "application/x-ndjson") {
			return consumeStream(res.Body, req.OnChunk, req.ShouldCancel)
		}
	}

	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return Completion{}, fmt.Errorf("read response: %w", err)
	}
	var completion Completion
	if err := json.Unmarshal(raw, &completion); err != nil {
		return Completion{}, fmt.Errorf("decode response: %w", err)
	}
	if len(completion.Choices) == 0 {
		return Completion{}, fmt.Errorf("%w: %s", ErrNoChoices, truncate(string(raw), 512))
	}
	return completion, nil
}

func (a *HTTPAdapter) endpoint(cfg APIConfig, path string) string {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = a.baseURL
	}
	return base + path
}

func (a *HTTPAdapter) setHeaders(req *http.Request, cfg APIConfig) {
	req.Header.Set("Content-Type", "application/json")
	key := strings.TrimSpace(cfg.APIKey)
	if key == "" {
		key = a.apiKey
	}
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	for name, value := range cfg.Headers {
		req.Header.Set(name, value)
	}
}

// Wire shape of one streamed delta frame.
type streamFrame struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Delta struct {
			Content   string `json:"content"`
			ToolCalls []struct {
				Index    int    `json:"index"`
				ID       string `json:"id"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *Usage `json:"usage"`
}

// consumeStream reads SSE or ndjson delta frames and folds them into one
// Completion. shouldCancel is polled per frame; when it fires, reading
// stops and whatever accumulated so far is returned without error.
func consumeStream(body io.Reader, onChunk ChunkHandler, shouldCancel func() bool) (Completion, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var (
		content      strings.Builder
		toolCalls    []ToolCall
		finishReason string
		completion   Completion
	)

	for scanner.Scan() {
		if shouldCancel != nil && shouldCancel() {
			break
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		if strings.HasPrefix(line, "data:") {
			line = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		}
		if line == "[DONE]" {
			break
		}

		var frame streamFrame
		if err := json.Unmarshal([]byte(line), &frame); err != nil {
			continue
		}
		if frame.ID != "" {
			completion.ID = frame.ID
		}
		if frame.Model != "" {
			completion.Model = frame.Model
		}
		if frame.Usage != nil {
			completion.Usage = frame.Usage
		}
		if len(frame.Choices) == 0 {
			continue
		}

		choice := frame.Choices[0]
		if choice.FinishReason != "" {
			finishReason = choice.FinishReason
		}

		var chunk Chunk
		if choice.Delta.Content != "" {
			content.WriteString(choice.Delta.Content)
			chunk.Content = choice.Delta.Content
		}
		for _, tc := range choice.Delta.ToolCalls {
			for len(toolCalls) <= tc.Index {
				toolCalls = append(toolCalls, ToolCall{})
			}
			call := &toolCalls[tc.Index]
			if tc.ID != "" {
				call.ID = tc.ID
			}
			if tc.Function.Name != "" {
				call.Name += tc.Function.Name
			}
			if tc.Function.Arguments != "" {
				call.Arguments += tc.Function.Arguments
				chunk.ToolArgs += tc.Function.Arguments
			}
		}

		if onChunk != nil && (chunk.Content != "" || chunk.ToolArgs != "") {
			if err := onChunk(chunk); err != nil {
				return Completion{}, err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return Completion{}, fmt.Errorf("stream read: %w", err)
	}

	if finishReason == "" {
		finishReason = "stop"
		if len(toolCalls) > 0 {
			finishReason = "tool_calls"
		}
	}
	completion.Choices = []Choice{{
		Message: CompletionMessage{
			Role:      "assistant",
			Content:   content.String(),
			ToolCalls: toolCalls,
		},
		FinishReason: finishReason,
	}}
	return completion, nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
