package agents

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ArtifactKind tags the typed payload an agent run produced.
type ArtifactKind string

const (
	KindRequirements ArtifactKind = "requirements"
	KindArchitecture ArtifactKind = "architecture"
	KindAnalysis     ArtifactKind = "analysis"
)

// Artifact is a schema-validated agent output, tagged with the provider that
// produced it. Immutable once written; a revision produces a new artifact
// with a bumped Revision, never a mutation.
type Artifact struct {
	Kind       ArtifactKind `json:"kind"`
	ProviderID string       `json:"provider_id"`
	ModelID    string       `json:"model_id"`
	LatencyMS  int64        `json:"latency_ms"`
	Revision   int          `json:"revision"`
	CreatedAt  time.Time    `json:"created_at"`

	Requirements *Requirements   `json:"requirements,omitempty"`
	Architecture *Architecture   `json:"architecture,omitempty"`
	Analysis     *AnalysisResult `json:"analysis,omitempty"`
}

// Requirement is a single extracted requirement.
type Requirement struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Priority    string `json:"priority,omitempty"`
	Category    string `json:"category,omitempty"`
}

// Requirements is the structured output of the requirements-extraction agent.
type Requirements struct {
	ProjectName   string        `json:"project_name,omitempty"`
	Functional    []Requirement `json:"functional"`
	NonFunctional []Requirement `json:"non_functional,omitempty"`
	Assumptions   []string      `json:"assumptions,omitempty"`
}

// Component is one box in a generated architecture.
type Component struct {
	Name           string `json:"name"`
	Responsibility string `json:"responsibility"`
	Technology     string `json:"technology,omitempty"`
}

// Connection is one edge between architecture components.
type Connection struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Protocol    string `json:"protocol,omitempty"`
	Description string `json:"description,omitempty"`
}

// Architecture is the structured output of the architecture-design agent.
type Architecture struct {
	Style       string       `json:"style,omitempty"`
	Overview    string       `json:"overview"`
	Components  []Component  `json:"components"`
	Connections []Connection `json:"connections,omitempty"`
}

// AnalysisResult is the structured output of the repository-analysis agent.
type AnalysisResult struct {
	Summary   string   `json:"summary"`
	Languages []string `json:"languages,omitempty"`
	Services  []string `json:"services,omitempty"`
	Risks     []string `json:"risks,omitempty"`
}

// Validate enforces the artifact schema. A partially populated artifact is
// never treated as valid.
func (a *Artifact) Validate() error {
	switch a.Kind {
	case KindRequirements:
		if a.Requirements == nil {
			return fmt.Errorf("requirements artifact missing payload")
		}
		return a.Requirements.validate()
	case KindArchitecture:
		if a.Architecture == nil {
			return fmt.Errorf("architecture artifact missing payload")
		}
		return a.Architecture.validate()
	case KindAnalysis:
		if a.Analysis == nil {
			return fmt.Errorf("analysis artifact missing payload")
		}
		return a.Analysis.validate()
	default:
		return fmt.Errorf("unknown artifact kind %q", a.Kind)
	}
}

func (r *Requirements) validate() error {
	if len(r.Functional) == 0 {
		return fmt.Errorf("requirements: no functional requirements extracted")
	}
	for i, req := range append(append([]Requirement{}, r.Functional...), r.NonFunctional...) {
		if strings.TrimSpace(req.ID) == "" {
			return fmt.Errorf("requirements: entry %d missing id", i)
		}
		if strings.TrimSpace(req.Description) == "" {
			return fmt.Errorf("requirements: entry %s missing description", req.ID)
		}
	}
	return nil
}

func (a *Architecture) validate() error {
	if len(a.Components) == 0 {
		return fmt.Errorf("architecture: no components")
	}
	names := make(map[string]bool, len(a.Components))
	for i, c := range a.Components {
		if strings.TrimSpace(c.Name) == "" {
			return fmt.Errorf("architecture: component %d missing name", i)
		}
		if strings.TrimSpace(c.Responsibility) == "" {
			return fmt.Errorf("architecture: component %s missing responsibility", c.Name)
		}
		names[c.Name] = true
	}
	for _, conn := range a.Connections {
		if !names[conn.From] || !names[conn.To] {
			return fmt.Errorf("architecture: connection %s->%s references unknown component", conn.From, conn.To)
		}
	}
	return nil
}

func (r *AnalysisResult) validate() error {
	if strings.TrimSpace(r.Summary) == "" {
		return fmt.Errorf("analysis: missing summary")
	}
	return nil
}

// decodeArtifact parses a model response into a validated artifact. Models
// wrap JSON in markdown fences often enough that we strip them first.
func decodeArtifact(kind ArtifactKind, text string) (*Artifact, error) {
	cleaned := stripFences(text)
	art := &Artifact{Kind: kind, CreatedAt: time.Now().UTC()}

	var err error
	switch kind {
	case KindRequirements:
		art.Requirements = &Requirements{}
		err = json.Unmarshal([]byte(cleaned), art.Requirements)
	case KindArchitecture:
		art.Architecture = &Architecture{}
		err = json.Unmarshal([]byte(cleaned), art.Architecture)
	case KindAnalysis:
		art.Analysis = &AnalysisResult{}
		err = json.Unmarshal([]byte(cleaned), art.Analysis)
	default:
		return nil, fmt.Errorf("unknown artifact kind %q", kind)
	}
	if err != nil {
		return nil, fmt.Errorf("parse %s JSON: %w", kind, err)
	}
	if err := art.Validate(); err != nil {
		return nil, err
	}
	return art, nil
}

func stripFences(text string) string {
	cleaned := strings.TrimSpace(text)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	return strings.TrimSpace(cleaned)
}
