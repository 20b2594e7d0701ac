package workflow

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"archmesh-cloud/agents"
)

// Stage is one named step of the workflow state machine.
type Stage string

const (
	StageCreated                Stage = "created"
	StageRequirementsInProgress Stage = "requirements_in_progress"
	StageRequirementsReview     Stage = "requirements_review"
	StageArchitectureInProgress Stage = "architecture_in_progress"
	StageArchitectureReview     Stage = "architecture_review"
	StageCompleted              Stage = "completed"
	StageFailed                 Stage = "failed"
	StageCancelled              Stage = "cancelled"
)

// Terminal reports whether no further mutation of the session is permitted.
func (s Stage) Terminal() bool {
	return s == StageCompleted || s == StageFailed || s == StageCancelled
}

// Review reports whether the stage is a human review gate.
func (s Stage) Review() bool {
	return s == StageRequirementsReview || s == StageArchitectureReview
}

// Decision is a human reviewer's verdict.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
	DecisionRevise  Decision = "revise"
)

// ReviewDecision is submitted once per pending review. Stage may name the
// review gate it targets; when empty the session's current stage is assumed.
type ReviewDecision struct {
	Decision Decision `json:"decision"`
	Stage    Stage    `json:"stage,omitempty"`
	Comment  string   `json:"comment,omitempty"`
}

// Review records one entry into a review gate and, once resolved, the
// decision that consumed it. Append-only.
type Review struct {
	Stage      Stage      `json:"stage"`
	Cycle      int        `json:"cycle"`
	Resolved   bool       `json:"resolved"`
	Decision   Decision   `json:"decision,omitempty"`
	Comment    string     `json:"comment,omitempty"`
	OpenedAt   time.Time  `json:"opened_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

// Session is one workflow run. Mutated only by the engine's transition
// functions; read-only once the stage is terminal.
type Session struct {
	ID             string                      `json:"session_id"`
	ProjectID      string                      `json:"project_id"`
	Document       string                      `json:"document,omitempty"`
	Stage          Stage                       `json:"stage"`
	StateData      map[string]*agents.Artifact `json:"state_data"`
	Errors         []string                    `json:"errors"`
	Reviews        []Review                    `json:"reviews"`
	RevisionCycles map[Stage]int               `json:"revision_cycles"`
	Generation     int                         `json:"generation"`
	Version        int                         `json:"version"`
	StartedAt      time.Time                   `json:"started_at"`
	UpdatedAt      time.Time                   `json:"updated_at"`
	CompletedAt    *time.Time                  `json:"completed_at,omitempty"`
}

// Engine and store error kinds, mapped to HTTP statuses by the API layer.
var (
	ErrNotFound              = errors.New("workflow session not found")
	ErrInvalidTransition     = errors.New("invalid workflow transition")
	ErrInvalidDecision       = errors.New("invalid review decision")
	ErrReviewAlreadyResolved = errors.New("review already resolved")
	ErrWorkflowBusy          = errors.New("workflow busy: agent invocation in flight")
	ErrConflict              = errors.New("workflow session version conflict")
)

// Clone returns a deep copy via JSON so callers can never touch engine state.
func (s *Session) Clone() *Session {
	data, err := json.Marshal(s)
	if err != nil {
		// Session is plain data; a marshal failure is a programming error.
		panic(fmt.Sprintf("clone session %s: %v", s.ID, err))
	}
	var out Session
	if err := json.Unmarshal(data, &out); err != nil {
		panic(fmt.Sprintf("clone session %s: %v", s.ID, err))
	}
	return &out
}

func (s *Session) recordError(format string, args ...any) {
	s.Errors = append(s.Errors, fmt.Sprintf(format, args...))
}

// lastReviewFor returns the most recent review opened for a stage, nil if the
// gate was never reached.
func (s *Session) lastReviewFor(stage Stage) *Review {
	for i := len(s.Reviews) - 1; i >= 0; i-- {
		if s.Reviews[i].Stage == stage {
			return &s.Reviews[i]
		}
	}
	return nil
}

// reviseComments collects reviewer feedback from all revise decisions on a
// stage, oldest first, for re-prompting the agent.
func (s *Session) reviseComments(stage Stage) []string {
	var notes []string
	for _, r := range s.Reviews {
		if r.Stage == stage && r.Resolved && r.Decision == DecisionRevise && r.Comment != "" {
			notes = append(notes, r.Comment)
		}
	}
	return notes
}

// ParseDecision validates a raw decision value.
func ParseDecision(raw string) (Decision, bool) {
	switch Decision(raw) {
	case DecisionApprove, DecisionReject, DecisionRevise:
		return Decision(raw), true
	}
	return "", false
}
