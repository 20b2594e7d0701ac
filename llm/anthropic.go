package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

const anthropicVersion = "2023-06-01"

// AnthropicProvider speaks the Anthropic messages API.
type AnthropicProvider struct {
	client  *http.Client
	model   string
	baseURL string
	apiKey  string
}

// NewAnthropicProvider builds a messages-API client.
func NewAnthropicProvider(model, apiKey string, timeout time.Duration) *AnthropicProvider {
	return &AnthropicProvider{
		client:  &http.Client{Timeout: timeout},
		model:   model,
		baseURL: defaultAnthropicURL,
		apiKey:  apiKey,
	}
}

// ID returns "anthropic".
func (p *AnthropicProvider) ID() string { return "anthropic" }

// Model returns the configured model identifier.
func (p *AnthropicProvider) Model() string { return p.model }

type anthropicRequest struct {
	Model       string             `json:"model"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature float32            `json:"temperature,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
}

// Complete sends the prompt and normalizes every failure to a *ProviderError.
func (p *AnthropicProvider) Complete(ctx context.Context, req CompletionRequest) (CompletionResult, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096 // messages API requires an explicit cap
	}

	body, err := json.Marshal(anthropicRequest{
		Model:       p.model,
		System:      req.System,
		Messages:    []anthropicMessage{{Role: "user", Content: req.User}},
		MaxTokens:   maxTokens,
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
	httpReq.Header.Set("x-api-key", p.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)

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

	var parsed anthropicResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return CompletionResult{}, p.fail(ErrUnavailable, fmt.Errorf("decode response: %w", err))
	}
	if parsed.StopReason == "refusal" {
		return CompletionResult{}, p.fail(ErrRefused, errors.New("model refused the prompt"))
	}

	var text string
	for _, block := range parsed.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	if text == "" {
		return CompletionResult{}, p.fail(ErrUnavailable, errors.New("empty response content"))
	}

	return CompletionResult{
		Text:       text,
		ProviderID: p.ID(),
		ModelID:    p.model,
		LatencyMS:  latency,
	}, nil
}

func (p *AnthropicProvider) fail(kind ErrorKind, err error) error {
	return &ProviderError{ProviderID: p.ID(), ModelID: p.model, Kind: kind, Err: err}
}
