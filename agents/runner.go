package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"archmesh-cloud/llm"
)

const (
	// One retry per candidate on timeout or malformed JSON; refusals and
	// hard unavailability move straight to the next candidate.
	retryBudget     = 1
	baseTemperature = 0.3
	tempStep        = 0.2
	maxTokens       = 4096
)

var taskKinds = map[llm.TaskType]ArtifactKind{
	llm.TaskParseRequirements:  KindRequirements,
	llm.TaskDesignArchitecture: KindArchitecture,
	llm.TaskAnalyzeRepository:  KindAnalysis,
}

// InteractionLog receives one append-only entry per provider attempt.
// trail.Bus satisfies it; a nil log disables recording.
type InteractionLog interface {
	Append(ctx context.Context, sessionID, stage string, values map[string]any) (string, error)
}

// RunInput carries everything one agent invocation needs.
type RunInput struct {
	Task          llm.TaskType
	SessionID     string
	Stage         string
	Document      string
	Context       *Artifact // prior-stage artifact fed as context, if any
	RevisionNotes []string  // reviewer comments accumulated across revise cycles
	Revision      int
}

// AttemptNote records why one provider attempt failed, for diagnosis after
// exhaustion.
type AttemptNote struct {
	ProviderID string `json:"provider_id"`
	ModelID    string `json:"model_id"`
	Attempt    int    `json:"attempt"`
	Reason     string `json:"reason"`
}

// ExhaustedError means every candidate provider failed for a task.
type ExhaustedError struct {
	Task     llm.TaskType
	Attempts []AttemptNote
}

func (e *ExhaustedError) Error() string {
	parts := make([]string, len(e.Attempts))
	for i, a := range e.Attempts {
		parts[i] = fmt.Sprintf("%s/%s#%d: %s", a.ProviderID, a.ModelID, a.Attempt, a.Reason)
	}
	return fmt.Sprintf("task %s exhausted all providers [%s]", e.Task, strings.Join(parts, "; "))
}

// Runner walks the candidate list for a task, retrying and falling back until
// a schema-valid artifact comes back or every provider is exhausted.
type Runner struct {
	registry *llm.Registry
	table    llm.Table
	creds    llm.Credentials
	env      llm.Environment
	timeout  time.Duration
	trail    InteractionLog
}

// NewRunner wires an agent runner. trail may be nil.
func NewRunner(registry *llm.Registry, table llm.Table, creds llm.Credentials, env llm.Environment, timeout time.Duration, trail InteractionLog) *Runner {
	return &Runner{
		registry: registry,
		table:    table,
		creds:    creds,
		env:      env,
		timeout:  timeout,
		trail:    trail,
	}
}

// Run produces one typed artifact or an *ExhaustedError. It never returns a
// partially populated artifact: anything that fails schema validation counts
// as a failed attempt.
func (r *Runner) Run(ctx context.Context, in RunInput) (*Artifact, error) {
	kind, ok := taskKinds[in.Task]
	if !ok {
		return nil, fmt.Errorf("task %s produces no artifact", in.Task)
	}

	candidates := llm.CandidatesFor(in.Task, r.env, r.table, r.creds)
	system := SystemPrompt(in.Task)
	user := buildUserPrompt(in)

	var attempts []AttemptNote
	for _, cand := range candidates {
		provider := r.registry.Get(cand.ProviderID)
		if provider == nil {
			attempts = append(attempts, AttemptNote{ProviderID: cand.ProviderID, ModelID: cand.ModelID, Reason: "no client configured"})
			continue
		}

		for attempt := 0; attempt <= retryBudget; attempt++ {
			temp := float32(baseTemperature) - float32(attempt)*tempStep
			if temp < 0 {
				temp = 0
			}

			callCtx, cancel := context.WithTimeout(ctx, r.timeout)
			res, err := provider.Complete(callCtx, llm.CompletionRequest{
				System:      system,
				User:        user,
				Temperature: temp,
				MaxTokens:   maxTokens,
			})
			cancel()

			if err != nil {
				kindErr := llm.KindOf(err)
				note := AttemptNote{ProviderID: cand.ProviderID, ModelID: cand.ModelID, Attempt: attempt, Reason: string(kindErr) + ": " + err.Error()}
				attempts = append(attempts, note)
				r.record(ctx, in, cand, attempt, user, "", note.Reason)
				log.Printf("agents: %s attempt %d on %s failed (%s)", in.Task, attempt, cand.ProviderID, kindErr)

				if kindErr == llm.ErrTimeout && attempt < retryBudget {
					continue
				}
				break // refused/unavailable or retries spent → next candidate
			}

			art, decErr := decodeArtifact(kind, res.Text)
			if decErr != nil {
				note := AttemptNote{ProviderID: cand.ProviderID, ModelID: cand.ModelID, Attempt: attempt, Reason: "invalid artifact: " + decErr.Error()}
				attempts = append(attempts, note)
				r.record(ctx, in, cand, attempt, user, res.Text, note.Reason)
				log.Printf("agents: %s attempt %d on %s returned invalid artifact: %v", in.Task, attempt, cand.ProviderID, decErr)
				if attempt < retryBudget {
					continue
				}
				break
			}

			art.ProviderID = res.ProviderID
			art.ModelID = res.ModelID
			art.LatencyMS = res.LatencyMS
			art.Revision = in.Revision
			r.record(ctx, in, cand, attempt, user, res.Text, "")
			log.Printf("agents: %s succeeded on %s/%s (attempt %d, %dms)", in.Task, res.ProviderID, res.ModelID, attempt, res.LatencyMS)
			return art, nil
		}
	}

	return nil, &ExhaustedError{Task: in.Task, Attempts: attempts}
}

func buildUserPrompt(in RunInput) string {
	var b strings.Builder
	if in.Context != nil {
		if data, err := json.Marshal(in.Context); err == nil {
			b.WriteString("Approved context artifact:\n")
			b.Write(data)
			b.WriteString("\n\n")
		}
	}
	b.WriteString("Document:\n")
	b.WriteString(in.Document)
	for _, note := range in.RevisionNotes {
		b.WriteString("\n\nReviewer feedback: ")
		b.WriteString(note)
	}
	return b.String()
}

func (r *Runner) record(ctx context.Context, in RunInput, cand llm.Candidate, attempt int, prompt, response, failure string) {
	if r.trail == nil || in.SessionID == "" {
		return
	}
	values := map[string]any{
		"event":    "provider_call",
		"task":     string(in.Task),
		"provider": cand.ProviderID,
		"model":    cand.ModelID,
		"attempt":  attempt,
		"prompt":   prompt,
	}
	if failure != "" {
		values["error"] = failure
	} else {
		values["response"] = response
	}
	if _, err := r.trail.Append(ctx, in.SessionID, in.Stage, values); err != nil {
		log.Printf("agents: trail append failed for session %s: %v", in.SessionID, err)
	}
}
