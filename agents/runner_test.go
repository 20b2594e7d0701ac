package agents

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"archmesh-cloud/llm"
)

const validRequirementsJSON = `{"project_name":"demo","functional":[{"id":"FR-1","title":"upload","description":"users upload documents"}]}`

type scriptedProvider struct {
	id     string
	model  string
	script []func() (llm.CompletionResult, error)
	calls  int
}

func (p *scriptedProvider) ID() string    { return p.id }
func (p *scriptedProvider) Model() string { return p.model }

func (p *scriptedProvider) Complete(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResult, error) {
	if p.calls >= len(p.script) {
		return llm.CompletionResult{}, &llm.ProviderError{ProviderID: p.id, ModelID: p.model, Kind: llm.ErrUnavailable, Err: errors.New("script exhausted")}
	}
	step := p.script[p.calls]
	p.calls++
	return step()
}

func ok(text string) func() (llm.CompletionResult, error) {
	return func() (llm.CompletionResult, error) {
		return llm.CompletionResult{Text: text, ProviderID: "x", ModelID: "y", LatencyMS: 5}, nil
	}
}

func fail(id, model string, kind llm.ErrorKind) func() (llm.CompletionResult, error) {
	return func() (llm.CompletionResult, error) {
		return llm.CompletionResult{}, &llm.ProviderError{ProviderID: id, ModelID: model, Kind: kind, Err: errors.New(string(kind))}
	}
}

type recordedEntry struct {
	SessionID string
	Stage     string
	Values    map[string]any
}

type memoryLog struct {
	entries []recordedEntry
}

func (l *memoryLog) Append(ctx context.Context, sessionID, stage string, values map[string]any) (string, error) {
	l.entries = append(l.entries, recordedEntry{SessionID: sessionID, Stage: stage, Values: values})
	return "1-0", nil
}

func twoProviderTable() llm.Table {
	return llm.Table{
		FallbackID: "alpha",
		Providers: []llm.ProviderSpec{
			{ID: "alpha", Model: "alpha-1", CostRank: 1, QualityRank: 2},
			{ID: "beta", Model: "beta-1", CostRank: 2, QualityRank: 1},
		},
	}
}

func newTestRunner(trail InteractionLog, providers ...llm.Provider) *Runner {
	creds := llm.StaticCredentials{"alpha": "k", "beta": "k"}
	return NewRunner(llm.NewRegistry(providers...), twoProviderTable(), creds, llm.EnvDevelopment, time.Second, trail)
}

func TestRunnerFallsBackAfterTimeouts(t *testing.T) {
	alpha := &scriptedProvider{id: "alpha", model: "alpha-1", script: []func() (llm.CompletionResult, error){
		fail("alpha", "alpha-1", llm.ErrTimeout),
		fail("alpha", "alpha-1", llm.ErrTimeout),
	}}
	beta := &scriptedProvider{id: "beta", model: "beta-1", script: []func() (llm.CompletionResult, error){
		ok(validRequirementsJSON),
	}}

	runner := newTestRunner(nil, alpha, beta)
	art, err := runner.Run(context.Background(), RunInput{Task: llm.TaskParseRequirements, Document: "doc"})
	require.NoError(t, err)
	require.Equal(t, KindRequirements, art.Kind)
	require.Equal(t, 2, alpha.calls) // timeout earns exactly one retry
	require.Equal(t, 1, beta.calls)
}

func TestRunnerRetriesMalformedJSONOnce(t *testing.T) {
	alpha := &scriptedProvider{id: "alpha", model: "alpha-1", script: []func() (llm.CompletionResult, error){
		ok("this is not json"),
		ok("```json\n" + validRequirementsJSON + "\n```"),
	}}

	runner := newTestRunner(nil, alpha)
	art, err := runner.Run(context.Background(), RunInput{Task: llm.TaskParseRequirements, Document: "doc"})
	require.NoError(t, err)
	require.Equal(t, 2, alpha.calls)
	require.Equal(t, "demo", art.Requirements.ProjectName)
}

func TestRunnerSkipsCandidateOnRefusal(t *testing.T) {
	alpha := &scriptedProvider{id: "alpha", model: "alpha-1", script: []func() (llm.CompletionResult, error){
		fail("alpha", "alpha-1", llm.ErrRefused),
	}}
	beta := &scriptedProvider{id: "beta", model: "beta-1", script: []func() (llm.CompletionResult, error){
		ok(validRequirementsJSON),
	}}

	runner := newTestRunner(nil, alpha, beta)
	_, err := runner.Run(context.Background(), RunInput{Task: llm.TaskParseRequirements, Document: "doc"})
	require.NoError(t, err)
	require.Equal(t, 1, alpha.calls) // no retry after refusal
	require.Equal(t, 1, beta.calls)
}

func TestRunnerExhaustionSurfacesAllAttempts(t *testing.T) {
	alpha := &scriptedProvider{id: "alpha", model: "alpha-1", script: []func() (llm.CompletionResult, error){
		fail("alpha", "alpha-1", llm.ErrUnavailable),
	}}
	beta := &scriptedProvider{id: "beta", model: "beta-1", script: []func() (llm.CompletionResult, error){
		fail("beta", "beta-1", llm.ErrRefused),
	}}

	runner := newTestRunner(nil, alpha, beta)
	_, err := runner.Run(context.Background(), RunInput{Task: llm.TaskParseRequirements, Document: "doc"})
	require.Error(t, err)

	var exhausted *ExhaustedError
	require.True(t, errors.As(err, &exhausted))
	require.Equal(t, llm.TaskParseRequirements, exhausted.Task)
	require.Len(t, exhausted.Attempts, 2)
	require.Equal(t, "alpha", exhausted.Attempts[0].ProviderID)
	require.Contains(t, exhausted.Attempts[0].Reason, "unavailable")
	require.Equal(t, "beta", exhausted.Attempts[1].ProviderID)
	require.Contains(t, exhausted.Attempts[1].Reason, "refused")
}

func TestRunnerAppendsEveryAttemptToTrail(t *testing.T) {
	alpha := &scriptedProvider{id: "alpha", model: "alpha-1", script: []func() (llm.CompletionResult, error){
		fail("alpha", "alpha-1", llm.ErrTimeout),
		ok(validRequirementsJSON),
	}}
	trail := &memoryLog{}

	runner := newTestRunner(trail, alpha)
	_, err := runner.Run(context.Background(), RunInput{
		Task:      llm.TaskParseRequirements,
		SessionID: "sess-1",
		Stage:     "requirements_in_progress",
		Document:  "doc",
	})
	require.NoError(t, err)
	require.Len(t, trail.entries, 2)
	require.Equal(t, "sess-1", trail.entries[0].SessionID)
	require.Contains(t, trail.entries[0].Values["error"], "timeout")
	require.Equal(t, validRequirementsJSON, trail.entries[1].Values["response"])
}

func TestRunnerPassesRevisionContext(t *testing.T) {
	alpha := &scriptedProvider{id: "alpha", model: "alpha-1"}
	alpha.script = []func() (llm.CompletionResult, error){
		func() (llm.CompletionResult, error) {
			return llm.CompletionResult{Text: validRequirementsJSON, ProviderID: "alpha", ModelID: "alpha-1"}, nil
		},
	}

	seenPrompt := buildUserPrompt(RunInput{
		Document:      "original doc",
		RevisionNotes: []string{"split the auth requirement"},
	})
	require.Contains(t, seenPrompt, "original doc")
	require.Contains(t, seenPrompt, "Reviewer feedback: split the auth requirement")

	runner := newTestRunner(nil, alpha)
	art, err := runner.Run(context.Background(), RunInput{Task: llm.TaskParseRequirements, Document: "doc", Revision: 2})
	require.NoError(t, err)
	require.Equal(t, 2, art.Revision)
}

func TestRunnerRejectsArtifactlessTask(t *testing.T) {
	runner := newTestRunner(nil)
	_, err := runner.Run(context.Background(), RunInput{Task: llm.TaskGenerateCode, Document: "doc"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "produces no artifact")
}
