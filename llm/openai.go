package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// OpenAIProvider speaks the chat-completions dialect shared by OpenAI and
// DeepSeek; the backend is selected by base URL.
type OpenAIProvider struct {
	client  *http.Client
	id      string
	model   string
	baseURL string
	apiKey  string
}

// NewOpenAIProvider builds a chat-completions client for the given backend.
func NewOpenAIProvider(id, model, baseURL, apiKey string, timeout time.Duration) *OpenAIProvider {
	return &OpenAIProvider{
		client:  &http.Client{Timeout: timeout},
		id:      id,
		model:   model,
		baseURL: baseURL,
		apiKey:  apiKey,
	}
}

// ID returns the provider identifier (e.g. "deepseek").
func (p *OpenAIProvider) ID() string { return p.id }

// Model returns the configured model identifier.
func (p *OpenAIProvider) Model() string { return p.model }

type chatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float32       `json:"temperature,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
}

// Complete sends the prompt and normalizes every failure to a *ProviderError.
func (p *OpenAIProvider) Complete(ctx context.Context, req CompletionRequest) (CompletionResult, error) {
	body, err := json.Marshal(chatCompletionRequest{
		Model: p.model,
		Messages: []chatMessage{
			{Role: "system", Content: req.System},
			{Role: "user", Content: req.User},
		},
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		return CompletionResult{}, p.fail(ErrUnavailable, fmt.Errorf("encode request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL, bytes.NewReader(body))
	if err != nil {
		return CompletionResult{}, p.fail(ErrUnavailable, fmt.Errorf("build request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	start := time.Now()
	resp, err := p.client.Do(httpReq)
	if err != nil {
		return CompletionResult{}, p.fail(classifyTransportError(err), err)
	}
	defer resp.Body.Close()
	latency := time.Since(start).Milliseconds()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return CompletionResult{}, p.fail(ErrUnavailable, fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode >= 300 {
		kind := ErrUnavailable
		if resp.StatusCode == http.StatusBadRequest && looksLikeRefusal(string(respBody)) {
			kind = ErrRefused
		}
		return CompletionResult{}, p.fail(kind, fmt.Errorf("status %d: %s", resp.StatusCode, truncate(string(respBody), 512)))
	}

	var parsed chatCompletionResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return CompletionResult{}, p.fail(ErrUnavailable, fmt.Errorf("decode response: %w", err))
	}
	if len(parsed.Choices) == 0 {
		return CompletionResult{}, p.fail(ErrUnavailable, errors.New("no choices in response"))
	}
	if parsed.Choices[0].FinishReason == "content_filter" {
		return CompletionResult{}, p.fail(ErrRefused, errors.New("completion stopped by content filter"))
	}

	return CompletionResult{
		Text:       parsed.Choices[0].Message.Content,
		ProviderID: p.id,
		ModelID:    p.model,
		LatencyMS:  latency,
	}, nil
}

func (p *OpenAIProvider) fail(kind ErrorKind, err error) error {
	return &ProviderError{ProviderID: p.id, ModelID: p.model, Kind: kind, Err: err}
}

func classifyTransportError(err error) ErrorKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return ErrTimeout
	}
	return ErrUnavailable
}

func looksLikeRefusal(body string) bool {
	lowered := strings.ToLower(body)
	return strings.Contains(lowered, "content_policy") ||
		strings.Contains(lowered, "content management policy") ||
		strings.Contains(lowered, "content_filter")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
