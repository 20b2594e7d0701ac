package llm

import (
	"os"
	"strings"
)

// Credentials reports per-provider credential presence. The environment
// variable to check is named by the provider table, so deployments can remap
// keys without code changes.
type Credentials interface {
	Present(spec ProviderSpec) bool
	Value(spec ProviderSpec) string
}

// EnvCredentials reads credentials from the process environment.
type EnvCredentials struct{}

// Present reports whether the provider's credential env var is non-empty.
func (EnvCredentials) Present(spec ProviderSpec) bool {
	return EnvCredentials{}.Value(spec) != ""
}

// Value returns the credential itself.
func (EnvCredentials) Value(spec ProviderSpec) string {
	if strings.TrimSpace(spec.CredentialEnv) == "" {
		return ""
	}
	return strings.TrimSpace(os.Getenv(spec.CredentialEnv))
}

// StaticCredentials is a fixed provider-to-key map, used by tests.
type StaticCredentials map[string]string

// Present reports whether a key exists for the provider ID.
func (c StaticCredentials) Present(spec ProviderSpec) bool {
	return c[spec.ID] != ""
}

// Value returns the key for the provider ID.
func (c StaticCredentials) Value(spec ProviderSpec) string {
	return c[spec.ID]
}
