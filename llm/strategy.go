package llm

import (
	"os"
	"sort"
	"strings"
)

// TaskType names a logical agent task mapped to provider candidates.
type TaskType string

const (
	TaskParseRequirements  TaskType = "parse_requirements"
	TaskDesignArchitecture TaskType = "design_architecture"
	TaskAnalyzeRepository  TaskType = "analyze_repository"
	TaskGenerateCode       TaskType = "generate_code"
)

// ParseTask validates a task name from an API query or config value.
func ParseTask(raw string) (TaskType, bool) {
	switch TaskType(strings.TrimSpace(strings.ToLower(raw))) {
	case TaskParseRequirements:
		return TaskParseRequirements, true
	case TaskDesignArchitecture:
		return TaskDesignArchitecture, true
	case TaskAnalyzeRepository:
		return TaskAnalyzeRepository, true
	case TaskGenerateCode:
		return TaskGenerateCode, true
	}
	return "", false
}

// Environment selects the candidate ordering policy.
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvProduction  Environment = "production"
)

// EnvironmentFromEnv reads ENVIRONMENT, defaulting to development.
func EnvironmentFromEnv() Environment {
	if strings.TrimSpace(strings.ToLower(os.Getenv("ENVIRONMENT"))) == string(EnvProduction) {
		return EnvProduction
	}
	return EnvDevelopment
}

// Candidate is one provider/model pair in fallback order. Ephemeral: computed
// per invocation, never persisted.
type Candidate struct {
	ProviderID string `json:"provider_id"`
	ModelID    string `json:"model_id"`
	Priority   int    `json:"priority"`
}

// CandidatesFor maps (task, environment) to an ordered fallback list.
// Pure: same inputs and table always yield the same list. Providers whose
// credential is absent are excluded; if that empties the list, the table's
// ultimate fallback is appended so the result is never empty. Development
// orders by cost, production by historical quality; provider ID breaks ties
// so the ordering stays deterministic.
func CandidatesFor(task TaskType, env Environment, table Table, creds Credentials) []Candidate {
	var eligible []ProviderSpec
	for _, spec := range table.Providers {
		if !spec.supports(task) {
			continue
		}
		if !creds.Present(spec) {
			continue
		}
		eligible = append(eligible, spec)
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		a, b := rankOf(eligible[i], env), rankOf(eligible[j], env)
		if a != b {
			return a < b
		}
		return eligible[i].ID < eligible[j].ID
	})

	if len(eligible) == 0 {
		eligible = append(eligible, table.Fallback())
	}

	candidates := make([]Candidate, len(eligible))
	for i, spec := range eligible {
		candidates[i] = Candidate{ProviderID: spec.ID, ModelID: spec.Model, Priority: i}
	}
	return candidates
}

func rankOf(spec ProviderSpec, env Environment) int {
	if env == EnvProduction {
		return spec.QualityRank
	}
	return spec.CostRank
}
