package llm

import (
	"context"
	"time"
)

// CompletionRequest is a single prompt sent to a model backend.
type CompletionRequest struct {
	System      string
	User        string
	Temperature float32
	MaxTokens   int
}

// CompletionResult is the successful outcome of a Complete call.
type CompletionResult struct {
	Text       string `json:"text"`
	ProviderID string `json:"provider_id"`
	ModelID    string `json:"model_id"`
	LatencyMS  int64  `json:"latency_ms"`
}

// Provider is a uniform interface over model backends. Implementations must
// not mutate shared state; the only side effect is the network call itself.
// Failures are always a *ProviderError.
type Provider interface {
	Complete(ctx context.Context, req CompletionRequest) (CompletionResult, error)
	ID() string
	Model() string
}

// Registry maps provider IDs to constructed clients.
type Registry struct {
	providers map[string]Provider
}

// NewRegistry builds a registry from the given providers.
func NewRegistry(providers ...Provider) *Registry {
	reg := &Registry{providers: make(map[string]Provider, len(providers))}
	for _, p := range providers {
		reg.providers[p.ID()] = p
	}
	return reg
}

// Get returns the provider for an ID, or nil when none is registered.
func (r *Registry) Get(id string) Provider {
	if r == nil {
		return nil
	}
	return r.providers[id]
}

// NewRegistryFromTable constructs HTTP clients for every provider in the
// table whose credential is present, plus the ultimate fallback so the
// registry can always serve the candidate list CandidatesFor produces.
func NewRegistryFromTable(table Table, creds Credentials, timeout time.Duration) *Registry {
	var providers []Provider
	seen := make(map[string]bool)
	for _, spec := range table.Providers {
		if seen[spec.ID] {
			continue
		}
		if !creds.Present(spec) && spec.ID != table.fallbackID() {
			continue
		}
		seen[spec.ID] = true
		providers = append(providers, newProviderFromSpec(spec, creds, timeout))
	}
	if fb := table.Fallback(); !seen[fb.ID] {
		providers = append(providers, newProviderFromSpec(fb, creds, timeout))
	}
	return NewRegistry(providers...)
}

func newProviderFromSpec(spec ProviderSpec, creds Credentials, timeout time.Duration) Provider {
	key := creds.Value(spec)
	switch spec.ID {
	case "anthropic":
		return NewAnthropicProvider(spec.Model, key, timeout)
	default:
		// deepseek and openai both speak the chat-completions dialect.
		return NewOpenAIProvider(spec.ID, spec.Model, spec.baseURL(), key, timeout)
	}
}
