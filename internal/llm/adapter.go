package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNoChoices marks a provider response that carried no completion
	// choices. Providers report their own failures this way, so the raw
	// body is preserved in the wrapping error.
	ErrNoChoices = errors.New("provider response has no choices")

	// ErrMissingModel is returned when a request arrives without a model
	// selection.
	ErrMissingModel = errors.New("no model selected")
)

// Adapter is the boundary to a chat-completion provider.
type Adapter interface {
	Call(ctx context.Context, req Request) (Completion, error)
}

// Config controls adapter construction.
type Config struct {
	Mode    string
	BaseURL string
	APIKey  string
}

func NewAdapter(cfg Config) (Adapter, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "auto"
	}

	switch mode {
	case "auto":
		if strings.TrimSpace(cfg.BaseURL) != "" {
			return NewHTTPAdapter(cfg.BaseURL, cfg.APIKey), nil
		}
		return NewMockAdapter(), nil
	case "http":
		if strings.TrimSpace(cfg.BaseURL) == "" {
			return nil, errors.New("provider base url is required for http mode")
		}
		return NewHTTPAdapter(cfg.BaseURL, cfg.APIKey), nil
	case "mock":
		return NewMockAdapter(), nil
	default:
		return nil, fmt.Errorf("unsupported llm adapter mode %q", cfg.Mode)
	}
}
