package workflow

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"archmesh-cloud/agents"
	"archmesh-cloud/llm"
)

// ArtifactRunner is the agent layer the engine dispatches work to.
// agents.Runner satisfies it; tests substitute scripted stubs.
type ArtifactRunner interface {
	Run(ctx context.Context, in agents.RunInput) (*agents.Artifact, error)
}

// InteractionLog mirrors agents.InteractionLog so the engine can record
// stage_change events on the same per-session stream.
type InteractionLog interface {
	Append(ctx context.Context, sessionID, stage string, values map[string]any) (string, error)
}

// stageKey names the StateData slot an in-progress stage writes into.
var stageKey = map[Stage]string{
	StageRequirementsInProgress: "requirements",
	StageArchitectureInProgress: "architecture",
}

var stageTask = map[Stage]llm.TaskType{
	StageRequirementsInProgress: llm.TaskParseRequirements,
	StageArchitectureInProgress: llm.TaskDesignArchitecture,
}

var reviewByProgress = map[Stage]Stage{
	StageRequirementsInProgress: StageRequirementsReview,
	StageArchitectureInProgress: StageArchitectureReview,
}

var progressByReview = map[Stage]Stage{
	StageRequirementsReview: StageRequirementsInProgress,
	StageArchitectureReview: StageArchitectureInProgress,
}

// slot serializes all mutations of one session. busy is true while an agent
// goroutine is in flight; decisions arriving then are rejected, not queued.
type slot struct {
	mu   sync.Mutex
	busy bool
}

// Engine drives sessions through the workflow state machine. All writes to a
// session happen under its slot lock, so there is exactly one writer per
// session at any moment.
type Engine struct {
	store        Store
	runner       ArtifactRunner
	trail        InteractionLog
	maxRevisions int

	mu    sync.Mutex
	slots map[string]*slot
}

// NewEngine wires the engine. trail may be nil. maxRevisions bounds revise
// cycles per review gate; values below 1 fall back to 3.
func NewEngine(store Store, runner ArtifactRunner, trail InteractionLog, maxRevisions int) *Engine {
	if maxRevisions < 1 {
		maxRevisions = 3
	}
	return &Engine{
		store:        store,
		runner:       runner,
		trail:        trail,
		maxRevisions: maxRevisions,
		slots:        make(map[string]*slot),
	}
}

func (e *Engine) slot(sessionID string) *slot {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.slots[sessionID]
	if !ok {
		s = &slot{}
		e.slots[sessionID] = s
	}
	return s
}

// Start creates a session for a requirements document and kicks off the
// requirements agent asynchronously. The returned snapshot is already in
// requirements_in_progress.
func (e *Engine) Start(ctx context.Context, projectID, document string) (*Session, error) {
	now := time.Now().UTC()
	sess := &Session{
		ID:             uuid.NewString(),
		ProjectID:      projectID,
		Document:       document,
		Stage:          StageCreated,
		StateData:      make(map[string]*agents.Artifact),
		RevisionCycles: make(map[Stage]int),
		StartedAt:      now,
		UpdatedAt:      now,
	}

	sl := e.slot(sess.ID)
	sl.mu.Lock()
	defer sl.mu.Unlock()

	if err := e.save(ctx, sess); err != nil {
		return nil, err
	}
	e.transition(ctx, sess, StageRequirementsInProgress, "workflow started")
	if err := e.save(ctx, sess); err != nil {
		return nil, err
	}

	sl.busy = true
	e.dispatch(sess, StageRequirementsInProgress)
	return sess.Clone(), nil
}

// Get returns a read-only snapshot of a session.
func (e *Engine) Get(ctx context.Context, sessionID string) (*Session, error) {
	return e.store.Load(ctx, sessionID)
}

// List returns snapshots of every known session, oldest first.
func (e *Engine) List(ctx context.Context) ([]*Session, error) {
	return e.store.List(ctx)
}

// SubmitReview consumes the pending review at a gate. Each review accepts
// exactly one decision; duplicates fail with ErrReviewAlreadyResolved while
// the session is live. Decisions during an agent run fail with
// ErrWorkflowBusy rather than queue.
func (e *Engine) SubmitReview(ctx context.Context, sessionID string, dec ReviewDecision) (*Session, error) {
	if _, ok := ParseDecision(string(dec.Decision)); !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidDecision, dec.Decision)
	}

	sl := e.slot(sessionID)
	sl.mu.Lock()
	defer sl.mu.Unlock()

	sess, err := e.store.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	target := dec.Stage
	if target == "" {
		target = sess.Stage
	}
	review := sess.lastReviewFor(target)

	// A decision aimed at a review that was already consumed is reported as
	// such, even when a later stage has since been reached.
	if review != nil && review.Resolved && !sess.Stage.Terminal() {
		return nil, fmt.Errorf("%w: %s decided %s", ErrReviewAlreadyResolved, target, review.Decision)
	}
	if sess.Stage.Terminal() {
		return nil, fmt.Errorf("%w: session is %s", ErrInvalidTransition, sess.Stage)
	}
	if sl.busy {
		return nil, ErrWorkflowBusy
	}
	if !sess.Stage.Review() || sess.Stage != target || review == nil {
		return nil, fmt.Errorf("%w: no pending review at %s", ErrInvalidTransition, sess.Stage)
	}

	now := time.Now().UTC()
	review.Resolved = true
	review.Decision = dec.Decision
	review.Comment = dec.Comment
	review.ResolvedAt = &now

	switch dec.Decision {
	case DecisionApprove:
		if sess.Stage == StageRequirementsReview {
			e.transition(ctx, sess, StageArchitectureInProgress, "requirements approved")
			if err := e.save(ctx, sess); err != nil {
				return nil, err
			}
			sl.busy = true
			e.dispatch(sess, StageArchitectureInProgress)
		} else {
			e.transition(ctx, sess, StageCompleted, "architecture approved")
			if err := e.save(ctx, sess); err != nil {
				return nil, err
			}
		}

	case DecisionReject:
		sess.recordError("rejected at %s: %s", sess.Stage, dec.Comment)
		e.transition(ctx, sess, StageFailed, "review rejected")
		if err := e.save(ctx, sess); err != nil {
			return nil, err
		}

	case DecisionRevise:
		cycles := sess.RevisionCycles[target] + 1
		sess.RevisionCycles[target] = cycles
		if cycles > e.maxRevisions {
			sess.recordError("revision limit exceeded at %s after %d cycles", target, cycles-1)
			e.transition(ctx, sess, StageFailed, "revision limit exceeded")
			if err := e.save(ctx, sess); err != nil {
				return nil, err
			}
			break
		}
		progress := progressByReview[target]
		e.transition(ctx, sess, progress, "revision requested")
		if err := e.save(ctx, sess); err != nil {
			return nil, err
		}
		sl.busy = true
		e.dispatch(sess, progress)
	}

	return sess.Clone(), nil
}

// Cancel stops a live session. The generation bump makes any in-flight agent
// result stale, so the worker discards it instead of overwriting the cancel.
func (e *Engine) Cancel(ctx context.Context, sessionID string) (*Session, error) {
	sl := e.slot(sessionID)
	sl.mu.Lock()
	defer sl.mu.Unlock()

	sess, err := e.store.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Stage.Terminal() {
		return nil, fmt.Errorf("%w: session is %s", ErrInvalidTransition, sess.Stage)
	}

	sess.Generation++
	e.transition(ctx, sess, StageCancelled, "cancelled by caller")
	if err := e.save(ctx, sess); err != nil {
		return nil, err
	}
	return sess.Clone(), nil
}

// dispatch spawns the agent goroutine for an in-progress stage. Caller holds
// the slot lock and has already marked it busy.
func (e *Engine) dispatch(sess *Session, progress Stage) {
	reviewStage := reviewByProgress[progress]
	in := agents.RunInput{
		Task:          stageTask[progress],
		SessionID:     sess.ID,
		Stage:         string(progress),
		Document:      sess.Document,
		RevisionNotes: sess.reviseComments(reviewStage),
		Revision:      sess.RevisionCycles[reviewStage],
	}
	if progress == StageArchitectureInProgress {
		in.Context = sess.StateData["requirements"]
	}
	go e.runStage(sess.ID, sess.Generation, progress, in)
}

// runStage executes one agent call and applies the result. The stage and
// generation are re-checked under the slot lock after the call: a cancel or
// any other transition that happened meanwhile makes the result stale.
func (e *Engine) runStage(sessionID string, gen int, progress Stage, in agents.RunInput) {
	// The originating HTTP request is long gone; agent calls get their own
	// per-attempt timeouts inside the runner.
	ctx := context.Background()
	art, runErr := e.runner.Run(ctx, in)

	sl := e.slot(sessionID)
	sl.mu.Lock()
	defer sl.mu.Unlock()
	sl.busy = false

	sess, err := e.store.Load(ctx, sessionID)
	if err != nil {
		log.Printf("workflow: reload %s after %s: %v", sessionID, in.Task, err)
		return
	}
	if sess.Generation != gen || sess.Stage != progress {
		log.Printf("workflow: discarding stale %s result for session %s (stage %s, gen %d/%d)",
			in.Task, sessionID, sess.Stage, gen, sess.Generation)
		return
	}

	if runErr != nil {
		var exhausted *agents.ExhaustedError
		if errors.As(runErr, &exhausted) {
			for _, a := range exhausted.Attempts {
				sess.recordError("%s %s/%s attempt %d: %s", in.Task, a.ProviderID, a.ModelID, a.Attempt, a.Reason)
			}
		} else {
			sess.recordError("%s: %v", in.Task, runErr)
		}
		e.transition(ctx, sess, StageFailed, "agent run failed")
	} else {
		sess.StateData[stageKey[progress]] = art
		review := reviewByProgress[progress]
		sess.Reviews = append(sess.Reviews, Review{
			Stage:    review,
			Cycle:    sess.RevisionCycles[review],
			OpenedAt: time.Now().UTC(),
		})
		e.transition(ctx, sess, review, "artifact ready for review")
	}

	if err := e.save(ctx, sess); err != nil {
		log.Printf("workflow: save %s after %s: %v", sessionID, in.Task, err)
	}
}

func (e *Engine) transition(ctx context.Context, sess *Session, to Stage, reason string) {
	from := sess.Stage
	sess.Stage = to
	now := time.Now().UTC()
	sess.UpdatedAt = now
	if to.Terminal() {
		sess.CompletedAt = &now
	}
	log.Printf("workflow: session %s %s -> %s (%s)", sess.ID, from, to, reason)
	if e.trail != nil {
		_, err := e.trail.Append(ctx, sess.ID, string(to), map[string]any{
			"event":  "stage_change",
			"from":   string(from),
			"to":     string(to),
			"reason": reason,
		})
		if err != nil {
			log.Printf("workflow: trail append failed for session %s: %v", sess.ID, err)
		}
	}
}

func (e *Engine) save(ctx context.Context, sess *Session) error {
	sess.Version++
	return e.store.Save(ctx, sess)
}
