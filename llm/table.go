package llm

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ProviderSpec is one row of the static provider table. Cost and quality
// ranks are configuration, not logic: lower cost_rank = cheaper, lower
// quality_rank = historically better.
type ProviderSpec struct {
	ID            string     `yaml:"id"`
	Model         string     `yaml:"model"`
	BaseURL       string     `yaml:"base_url,omitempty"`
	CostRank      int        `yaml:"cost_rank"`
	QualityRank   int        `yaml:"quality_rank"`
	CredentialEnv string     `yaml:"credential_env"`
	Tasks         []TaskType `yaml:"tasks,omitempty"` // empty = all tasks
}

// Table is the full provider-availability table plus the designated ultimate
// fallback. It is read-only at request time and safe to share across sessions.
type Table struct {
	Providers  []ProviderSpec `yaml:"providers"`
	FallbackID string         `yaml:"fallback"`
}

const (
	defaultDeepseekURL  = "https://api.deepseek.com/chat/completions"
	defaultOpenAIURL    = "https://api.openai.com/v1/chat/completions"
	defaultAnthropicURL = "https://api.anthropic.com/v1/messages"
)

// DefaultTable is the compiled-in provider table used when no
// PROVIDER_TABLE_PATH is configured.
func DefaultTable() Table {
	return Table{
		FallbackID: "deepseek",
		Providers: []ProviderSpec{
			{ID: "deepseek", Model: "deepseek-chat", CostRank: 1, QualityRank: 3, CredentialEnv: "DEEPSEEK_API_KEY"},
			{ID: "openai", Model: "gpt-4o", CostRank: 2, QualityRank: 2, CredentialEnv: "OPENAI_API_KEY"},
			{ID: "anthropic", Model: "claude-sonnet-4-20250514", CostRank: 3, QualityRank: 1, CredentialEnv: "ANTHROPIC_API_KEY"},
		},
	}
}

// LoadTable reads a provider table from a YAML file.
func LoadTable(path string) (Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Table{}, fmt.Errorf("read provider table: %w", err)
	}
	var table Table
	if err := yaml.Unmarshal(data, &table); err != nil {
		return Table{}, fmt.Errorf("parse provider table %s: %w", path, err)
	}
	if len(table.Providers) == 0 {
		return Table{}, fmt.Errorf("provider table %s lists no providers", path)
	}
	return table, nil
}

// LoadTableFromEnv loads PROVIDER_TABLE_PATH when set, else the default table.
func LoadTableFromEnv() (Table, error) {
	path := strings.TrimSpace(os.Getenv("PROVIDER_TABLE_PATH"))
	if path == "" {
		return DefaultTable(), nil
	}
	return LoadTable(path)
}

func (t Table) fallbackID() string {
	if strings.TrimSpace(t.FallbackID) != "" {
		return t.FallbackID
	}
	if len(t.Providers) > 0 {
		return t.Providers[0].ID
	}
	return "deepseek"
}

// Fallback returns the ultimate fallback spec. The candidate list is never
// empty because this spec is appended even when its credential is missing.
func (t Table) Fallback() ProviderSpec {
	id := t.fallbackID()
	for _, spec := range t.Providers {
		if spec.ID == id {
			return spec
		}
	}
	return ProviderSpec{ID: "deepseek", Model: "deepseek-chat", CostRank: 1, QualityRank: 3, CredentialEnv: "DEEPSEEK_API_KEY"}
}

func (s ProviderSpec) baseURL() string {
	if strings.TrimSpace(s.BaseURL) != "" {
		return s.BaseURL
	}
	switch s.ID {
	case "deepseek":
		return defaultDeepseekURL
	case "anthropic":
		return defaultAnthropicURL
	default:
		return defaultOpenAIURL
	}
}

func (s ProviderSpec) supports(task TaskType) bool {
	if len(s.Tasks) == 0 {
		return true
	}
	for _, t := range s.Tasks {
		if t == task {
			return true
		}
	}
	return false
}
