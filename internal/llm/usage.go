package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// CostedUsage is the provider's post-hoc accounting record for one
// completion, including the billed cost when the provider exposes it.
type CostedUsage struct {
	PromptTokens     int     `json:"tokens_prompt"`
	CompletionTokens int     `json:"tokens_completion"`
	Cost             float64 `json:"total_cost"`
}

// UsageFetcher retrieves delayed usage records from the provider's
// generation endpoint. Records become available some seconds after the
// completion finishes, so fetches retry through transient 404s.
type UsageFetcher struct {
	client   *http.Client
	delay    time.Duration
	interval time.Duration
	retries  int
}

func NewUsageFetcher(delay time.Duration) *UsageFetcher {
	if delay <= 0 {
		delay = 3 * time.Second
	}
	return &UsageFetcher{
		client:   &http.Client{Timeout: 10 * time.Second},
		delay:    delay,
		interval: 2 * time.Second,
		retries:  5,
	}
}

// SetRetries overrides the poll budget for records that are slow to
// appear. Values below 1 are clamped to 1.
func (f *UsageFetcher) SetRetries(n int) {
	if n < 1 {
		n = 1
	}
	f.retries = n
}

// Fetch waits out the provider's indexing delay and then polls the
// generation endpoint for completionID. A record that never appears is
// reported as an error after the retry budget is spent.
func (f *UsageFetcher) Fetch(ctx context.Context, cfg APIConfig, completionID string) (CostedUsage, error) {
	if strings.TrimSpace(completionID) == "" {
		return CostedUsage{}, fmt.Errorf("completion id is required")
	}
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return CostedUsage{}, fmt.Errorf("provider base url is required")
	}

	if err := sleepCtx(ctx, f.delay); err != nil {
		return CostedUsage{}, err
	}

	url := base + "/generation?id=" + completionID
	var lastErr error
	for attempt := 0; attempt <= f.retries; attempt++ {
		if attempt > 0 {
			if err := sleepCtx(ctx, f.interval); err != nil {
				return CostedUsage{}, err
			}
		}

		usage, retryable, err := f.fetchOnce(ctx, url, cfg)
		if err == nil {
			return usage, nil
		}
		lastErr = err
		if !retryable {
			return CostedUsage{}, err
		}
	}
	return CostedUsage{}, fmt.Errorf("usage record for %s never appeared: %w", completionID, lastErr)
}

func (f *UsageFetcher) fetchOnce(ctx context.Context, url string, cfg APIConfig) (CostedUsage, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return CostedUsage{}, false, fmt.Errorf("create request: %w", err)
	}
	if key := strings.TrimSpace(cfg.APIKey); key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	for name, value := range cfg.Headers {
		req.Header.Set(name, value)
	}

	res, err := f.client.Do(req)
	if err != nil {
		return CostedUsage{}, true, fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()

	// The record is indexed asynchronously; 404 just means "not yet".
	if res.StatusCode == http.StatusNotFound {
		return CostedUsage{}, true, fmt.Errorf("usage record not indexed yet")
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(res.Body, 1<<10))
		return CostedUsage{}, false, fmt.Errorf("usage status %d: %s", res.StatusCode, string(snippet))
	}

	var envelope struct {
		Data CostedUsage `json:"data"`
	}
	if err := json.NewDecoder(res.Body).Decode(&envelope); err != nil {
		return CostedUsage{}, false, fmt.Errorf("decode usage: %w", err)
	}
	return envelope.Data, false, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
