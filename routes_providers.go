package main

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"archmesh-cloud/agents"
	"archmesh-cloud/llm"
)

// analysisRunner is the slice of the agent layer the sync analyze endpoint
// needs; agents.Runner satisfies it.
type analysisRunner interface {
	Run(ctx context.Context, in agents.RunInput) (*agents.Artifact, error)
}

type providerHandler struct {
	table  llm.Table
	creds  llm.Credentials
	env    llm.Environment
	runner analysisRunner
}

type analyzeRequest struct {
	Document string `json:"document"`
}

func registerProviderRoutes(r *mux.Router, table llm.Table, creds llm.Credentials, env llm.Environment, runner analysisRunner) {
	h := &providerHandler{table: table, creds: creds, env: env, runner: runner}
	r.HandleFunc("/providers", h.handleCandidates).Methods("GET")
	r.HandleFunc("/analyze", h.handleAnalyze).Methods("POST")
}

// handleCandidates exposes the fallback order the strategy would use for a
// task, so operators can see why a given provider is being hit.
func (h *providerHandler) handleCandidates(w http.ResponseWriter, r *http.Request) {
	taskRaw := strings.TrimSpace(r.URL.Query().Get("task"))
	if taskRaw == "" {
		taskRaw = string(llm.TaskParseRequirements)
	}
	task, ok := llm.ParseTask(taskRaw)
	if !ok {
		writeJSON(w, http.StatusBadRequest, apiError{Error: "unknown task " + taskRaw, Kind: "bad_request"})
		return
	}

	env := h.env
	switch strings.TrimSpace(r.URL.Query().Get("env")) {
	case "":
	case string(llm.EnvDevelopment):
		env = llm.EnvDevelopment
	case string(llm.EnvProduction):
		env = llm.EnvProduction
	default:
		writeJSON(w, http.StatusBadRequest, apiError{Error: "env must be development or production", Kind: "bad_request"})
		return
	}

	candidates := llm.CandidatesFor(task, env, h.table, h.creds)
	writeJSON(w, http.StatusOK, map[string]any{
		"task":       string(task),
		"env":        string(env),
		"candidates": candidates,
	})
}

// handleAnalyze runs the repository-analysis agent synchronously. Unlike the
// workflow stages there is no state machine here: one request, one artifact.
func (h *providerHandler) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	var req analyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Error: "invalid JSON body", Kind: "bad_request"})
		return
	}
	if strings.TrimSpace(req.Document) == "" {
		writeJSON(w, http.StatusBadRequest, apiError{Error: "document is required", Kind: "bad_request"})
		return
	}

	art, err := h.runner.Run(r.Context(), agents.RunInput{
		Task:     llm.TaskAnalyzeRepository,
		Document: req.Document,
	})
	if err != nil {
		writeWorkflowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, art)
}
