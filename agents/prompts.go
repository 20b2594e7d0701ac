package agents

import (
	"os"
	"strings"

	"archmesh-cloud/llm"
)

const requirementsSystemPrompt = `You are ArchMesh's requirements analyst.
Read the supplied document and extract structured software requirements.
Respond with JSON only, no prose, matching this shape:
{"project_name": string, "functional": [{"id": "FR-1", "title": string, "description": string, "priority": "must|should|could"}], "non_functional": [{"id": "NFR-1", "title": string, "description": string}], "assumptions": [string]}
Every requirement needs a unique id and a concrete description.`

const architectureSystemPrompt = `You are ArchMesh's solution architect.
Given approved requirements, design a component architecture.
Respond with JSON only, no prose, matching this shape:
{"style": string, "overview": string, "components": [{"name": string, "responsibility": string, "technology": string}], "connections": [{"from": string, "to": string, "protocol": string, "description": string}]}
Connections may only reference declared component names.`

const analysisSystemPrompt = `You are ArchMesh's repository analyst.
Summarize the supplied repository contents.
Respond with JSON only, no prose, matching this shape:
{"summary": string, "languages": [string], "services": [string], "risks": [string]}`

var promptEnvPrefix = map[llm.TaskType]string{
	llm.TaskParseRequirements:  "REQUIREMENTS",
	llm.TaskDesignArchitecture: "ARCHITECTURE",
	llm.TaskAnalyzeRepository:  "ANALYSIS",
}

// SystemPrompt resolves the system prompt for a task: env var first, then a
// file path override, then the compiled-in default.
func SystemPrompt(task llm.TaskType) string {
	if prefix, ok := promptEnvPrefix[task]; ok {
		if prompt := strings.TrimSpace(os.Getenv(prefix + "_SYSTEM_PROMPT")); prompt != "" {
			return prompt
		}
		if path := strings.TrimSpace(os.Getenv(prefix + "_SYSTEM_PROMPT_PATH")); path != "" {
			if data, err := os.ReadFile(path); err == nil {
				if trimmed := strings.TrimSpace(string(data)); trimmed != "" {
					return trimmed
				}
			}
		}
	}

	switch task {
	case llm.TaskDesignArchitecture:
		return architectureSystemPrompt
	case llm.TaskAnalyzeRepository:
		return analysisSystemPrompt
	default:
		return requirementsSystemPrompt
	}
}
