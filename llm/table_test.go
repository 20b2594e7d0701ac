package llm

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadTableFromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "providers.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
fallback: openai
providers:
  - id: openai
    model: gpt-4o
    cost_rank: 1
    quality_rank: 1
    credential_env: OPENAI_API_KEY
    tasks: [parse_requirements]
  - id: deepseek
    model: deepseek-chat
    base_url: https://proxy.internal/chat/completions
    cost_rank: 2
    quality_rank: 2
    credential_env: DEEPSEEK_API_KEY
`), 0o600))

	table, err := LoadTable(path)
	require.NoError(t, err)
	require.Len(t, table.Providers, 2)
	assert.Equal(t, "openai", table.FallbackID)
	assert.Equal(t, "openai", table.Fallback().ID)
	assert.True(t, table.Providers[0].supports(TaskParseRequirements))
	assert.False(t, table.Providers[0].supports(TaskDesignArchitecture))
	assert.Equal(t, "https://proxy.internal/chat/completions", table.Providers[1].baseURL())
}

func TestLoadTableRejectsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "providers.yaml")
	require.NoError(t, os.WriteFile(path, []byte("providers: []\n"), 0o600))

	_, err := LoadTable(path)
	assert.Error(t, err)
}

func TestLoadTableFromEnvDefaults(t *testing.T) {
	t.Setenv("PROVIDER_TABLE_PATH", "")
	table, err := LoadTableFromEnv()
	require.NoError(t, err)
	assert.Equal(t, DefaultTable(), table)
}

func TestDefaultTableBaseURLs(t *testing.T) {
	table := DefaultTable()
	urls := map[string]string{}
	for _, spec := range table.Providers {
		urls[spec.ID] = spec.baseURL()
	}
	assert.Equal(t, defaultDeepseekURL, urls["deepseek"])
	assert.Equal(t, defaultOpenAIURL, urls["openai"])
	assert.Equal(t, defaultAnthropicURL, urls["anthropic"])
}
