package main

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"archmesh-cloud/agents"
	"archmesh-cloud/workflow"
)

type workflowHandler struct {
	engine *workflow.Engine
}

type startWorkflowRequest struct {
	ProjectID string `json:"project_id"`
	Document  string `json:"document"`
}

type apiError struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

func registerWorkflowRoutes(r *mux.Router, engine *workflow.Engine) {
	h := &workflowHandler{engine: engine}
	r.HandleFunc("/workflows/start", h.handleStart).Methods("POST")
	r.HandleFunc("/workflows", h.handleList).Methods("GET")
	r.HandleFunc("/workflows/{id}/status", h.handleGet).Methods("GET")
	r.HandleFunc("/workflows/{id}/review", h.handleReview).Methods("POST")
	r.HandleFunc("/workflows/{id}/cancel", h.handleCancel).Methods("POST")
	r.HandleFunc("/workflows/{id}/requirements", h.handleArtifact("requirements")).Methods("GET")
	r.HandleFunc("/workflows/{id}/architecture", h.handleArtifact("architecture")).Methods("GET")
}

// writeWorkflowError maps engine errors onto HTTP statuses. Anything
// unrecognized is a 500 with the detail logged, not leaked.
func writeWorkflowError(w http.ResponseWriter, err error) {
	var status int
	var kind string
	var exhausted *agents.ExhaustedError

	switch {
	case errors.Is(err, workflow.ErrNotFound):
		status, kind = http.StatusNotFound, "not_found"
	case errors.Is(err, workflow.ErrInvalidDecision):
		status, kind = http.StatusBadRequest, "invalid_decision"
	case errors.Is(err, workflow.ErrInvalidTransition):
		status, kind = http.StatusConflict, "invalid_transition"
	case errors.Is(err, workflow.ErrReviewAlreadyResolved):
		status, kind = http.StatusConflict, "review_already_resolved"
	case errors.Is(err, workflow.ErrWorkflowBusy):
		status, kind = http.StatusLocked, "workflow_busy"
	case errors.Is(err, workflow.ErrConflict):
		status, kind = http.StatusConflict, "conflict"
	case errors.As(err, &exhausted):
		status, kind = http.StatusBadGateway, "agent_exhausted"
	default:
		log.Printf("workflows: internal error: %v", err)
		writeJSON(w, http.StatusInternalServerError, apiError{Error: "internal error", Kind: "internal"})
		return
	}

	writeJSON(w, status, apiError{Error: err.Error(), Kind: kind})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (h *workflowHandler) handleStart(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	var req startWorkflowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Error: "invalid JSON body", Kind: "bad_request"})
		return
	}
	if strings.TrimSpace(req.Document) == "" {
		writeJSON(w, http.StatusBadRequest, apiError{Error: "document is required", Kind: "bad_request"})
		return
	}
	if strings.TrimSpace(req.ProjectID) == "" {
		req.ProjectID = "default"
	}

	sess, err := h.engine.Start(r.Context(), req.ProjectID, req.Document)
	if err != nil {
		writeWorkflowError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

func (h *workflowHandler) handleList(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.engine.List(r.Context())
	if err != nil {
		writeWorkflowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"workflows": sessions})
}

func (h *workflowHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	sess, err := h.engine.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeWorkflowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (h *workflowHandler) handleReview(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	var dec workflow.ReviewDecision
	if err := json.NewDecoder(r.Body).Decode(&dec); err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Error: "invalid JSON body", Kind: "bad_request"})
		return
	}

	sess, err := h.engine.SubmitReview(r.Context(), mux.Vars(r)["id"], dec)
	if err != nil {
		writeWorkflowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (h *workflowHandler) handleCancel(w http.ResponseWriter, r *http.Request) {
	sess, err := h.engine.Cancel(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeWorkflowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// handleArtifact serves one StateData slot. 404 until the producing stage has
// landed its artifact.
func (h *workflowHandler) handleArtifact(key string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, err := h.engine.Get(r.Context(), mux.Vars(r)["id"])
		if err != nil {
			writeWorkflowError(w, err)
			return
		}
		art := sess.StateData[key]
		if art == nil {
			writeJSON(w, http.StatusNotFound, apiError{Error: key + " artifact not produced yet", Kind: "not_found"})
			return
		}
		writeJSON(w, http.StatusOK, art)
	}
}
