// Package workflow implements the approval workflow execution engine: it
// interprets a workflow template, drives a request instance through its
// stages, fans internal-loop sub-stages out and back in, and finalizes the
// request status.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"orgflow/backend/internal/logging"
	"orgflow/backend/internal/repository"
	"orgflow/backend/pkg/models"
)

// TransitionKind classifies an engine state transition for listeners.
type TransitionKind string

const (
	TransitionStageCreated    TransitionKind = "stage_created"
	TransitionStageCompleted  TransitionKind = "stage_completed"
	TransitionResubmission    TransitionKind = "resubmission"
	TransitionRequestApproved TransitionKind = "request_approved"
	TransitionRequestRejected TransitionKind = "request_rejected"
)

// Transition describes one committed state change. Stage is the row acted on
// or created; it is nil for request-level transitions with no single stage.
type Transition struct {
	Kind    TransitionKind
	Request *models.WorkflowRequest
	Stage   *models.WorkflowInstanceStage
}

// TransitionListener consumes committed transitions. Listener failures are
// logged and never propagated into the state machine: notification and
// bookkeeping side effects must not be able to fail an approval.
type TransitionListener interface {
	OnTransition(ctx context.Context, t Transition) error
}

// Engine owns the workflow state machine. It is constructed once per
// process with its persistence collaborator injected and is safe for
// concurrent use: every mutating operation runs inside a transaction that
// serializes on the request row.
type Engine struct {
	store     repository.Store
	logger    *logging.Logger
	listeners []TransitionListener
	tracer    trace.Tracer
	completed metric.Int64Counter
}

// NewEngine creates an Engine backed by the given store.
func NewEngine(store repository.Store, logger *logging.Logger) *Engine {
	meter := otel.Meter("orgflow/backend/workflow")
	completed, err := meter.Int64Counter("workflow.transitions",
		metric.WithDescription("Committed workflow state transitions"))
	if err != nil {
		logger.Warn("failed to create transitions counter", "error", err)
	}
	return &Engine{
		store:     store,
		logger:    logger,
		tracer:    otel.Tracer("orgflow/backend/workflow"),
		completed: completed,
	}
}

// AddListener registers a transition listener. Not safe to call after the
// engine starts serving requests.
func (e *Engine) AddListener(l TransitionListener) {
	e.listeners = append(e.listeners, l)
}

// StartRequestInput carries the parameters of a new submission.
type StartRequestInput struct {
	TenantID     string
	WorkflowID   string
	RequestorID  string
	ActingUserID string
	// NextAssigneeID optionally overrides the assignment rule of the
	// second stage.
	NextAssigneeID *string
	// FieldResponses is the payload captured at the submission stage.
	FieldResponses map[string]any
	// FormResponses seeds the request-level aggregate payload.
	FormResponses map[string]any
	// LoopActors is the ordered reviewer chain when the first stage fans
	// out into an internal loop.
	LoopActors []models.SubStageActor
}

// StartRequest creates a WorkflowRequest and its initial instance stages:
// the requestor's own submitted stage plus either the eagerly created second
// main stage or the first stage's internal-loop sub-stages.
func (e *Engine) StartRequest(ctx context.Context, in StartRequestInput) (*models.WorkflowRequest, error) {
	ctx, span := e.tracer.Start(ctx, "workflow.StartRequest")
	defer span.End()

	wf, err := e.store.GetWorkflow(ctx, in.WorkflowID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("workflow %s: %w", in.WorkflowID, ErrWorkflowNotFound)
		}
		return nil, err
	}
	first := nextMainTemplateStage(wf, 0)
	if first == nil {
		return nil, fmt.Errorf("workflow %s has no stages: %w", in.WorkflowID, ErrWorkflowNotFound)
	}

	actor := in.ActingUserID
	if actor == "" {
		actor = in.RequestorID
	}

	now := time.Now().UTC()
	req := &models.WorkflowRequest{
		ID:             uuid.New().String(),
		TenantID:       in.TenantID,
		OrganizationID: wf.OrganizationID,
		WorkflowID:     wf.ID,
		RequestorID:    in.RequestorID,
		Status:         models.RequestStatusPending,
		FormResponses:  mergeResponses(nil, in.FormResponses),
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	var transitions []Transition
	err = e.store.InTx(ctx, func(ctx context.Context, tx repository.Store) error {
		if err := tx.CreateRequest(ctx, req); err != nil {
			return err
		}

		submitted := &models.WorkflowInstanceStage{
			ID:                uuid.New().String(),
			WorkflowRequestID: req.ID,
			StageID:           first.ID,
			StageName:         first.Name,
			Step:              first.Step,
			DisplayStep:       float64(first.Step),
			AssignedToUserID:  in.RequestorID,
			Status:            models.StageStatusSubmitted,
			FieldResponses:    in.FieldResponses,
			ActedByUserID:     &actor,
			ActedAt:           &now,
			CreatedAt:         now,
		}
		if err := tx.CreateStage(ctx, submitted); err != nil {
			return err
		}

		if first.RequiresInternalLoop {
			if len(in.LoopActors) == 0 {
				return &UnresolvedAssigneeError{StageID: first.ID, StageName: first.Name}
			}
			rows, err := e.fanOut(ctx, tx, req, submitted, in.LoopActors, false)
			if err != nil {
				return err
			}
			for _, r := range rows {
				transitions = append(transitions, Transition{Kind: TransitionStageCreated, Request: req, Stage: r})
			}
			return nil
		}

		second := nextMainTemplateStage(wf, first.Step)
		if second == nil {
			// Single-stage workflow: the submission itself is the whole
			// chain, so the request completes immediately.
			req.Status = models.RequestStatusApproved
			req.UpdatedAt = now
			if err := tx.UpdateRequest(ctx, req); err != nil {
				return err
			}
			transitions = append(transitions, Transition{Kind: TransitionRequestApproved, Request: req})
			return nil
		}

		assignee := ""
		if in.NextAssigneeID != nil && *in.NextAssigneeID != "" {
			assignee = *in.NextAssigneeID
		} else {
			assignee, err = resolveAssignee(ctx, tx, second, req.FormResponses, in.RequestorID)
			if err != nil {
				return err
			}
		}

		pending := &models.WorkflowInstanceStage{
			ID:                uuid.New().String(),
			WorkflowRequestID: req.ID,
			StageID:           second.ID,
			StageName:         second.Name,
			Step:              second.Step,
			DisplayStep:       float64(second.Step),
			AssignedToUserID:  assignee,
			Status:            models.StageStatusPending,
			CreatedAt:         now,
		}
		if err := tx.CreateStage(ctx, pending); err != nil {
			return err
		}
		transitions = append(transitions, Transition{Kind: TransitionStageCreated, Request: req, Stage: pending})
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.dispatch(ctx, transitions)
	return req, nil
}

// CompleteStageInput carries one approve/reject action on a pending stage.
type CompleteStageInput struct {
	StageID string
	Action  models.StageAction
	Comment string
	// FieldResponses is the payload captured at this stage; it is stored
	// verbatim on the stage row.
	FieldResponses map[string]any
	// FormResponses is merged into the request-level aggregate.
	FormResponses map[string]any
	ActedByUserID string
	// DynamicActors, when non-empty on a main-track approval, requests a
	// dynamic fan-out of internal-loop sub-stages under the approved
	// stage instead of advancing the main track. On a sub-stage fan-in it
	// supplies the reviewer chain for the next stage when that stage is
	// configured with an internal loop.
	DynamicActors []models.SubStageActor
}

// CompleteStage applies an approve or reject action. All writes of one call
// are a single transactional unit serialized on the owning request; a
// failure midway leaves neither the request payload nor any stage status
// changed.
func (e *Engine) CompleteStage(ctx context.Context, in CompleteStageInput) error {
	ctx, span := e.tracer.Start(ctx, "workflow.CompleteStage")
	defer span.End()

	if in.Action != models.StageActionApprove && in.Action != models.StageActionReject {
		return fmt.Errorf("unknown action %q: %w", in.Action, ErrInvalidStageState)
	}

	ref, err := e.store.GetStage(ctx, in.StageID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("stage %s: %w", in.StageID, ErrStageNotFound)
		}
		return err
	}

	var transitions []Transition
	err = e.store.InRequestTx(ctx, ref.WorkflowRequestID, func(ctx context.Context, tx repository.Store) error {
		stage, err := tx.GetStage(ctx, in.StageID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return fmt.Errorf("stage %s: %w", in.StageID, ErrStageNotFound)
			}
			return err
		}
		if !stage.Actionable() {
			return fmt.Errorf("stage %s is %s: %w", stage.ID, stage.Status, ErrInvalidStageState)
		}

		req, err := tx.GetRequest(ctx, stage.WorkflowRequestID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return fmt.Errorf("request %s: %w", stage.WorkflowRequestID, ErrRequestNotFound)
			}
			return err
		}
		if req.Status.Terminal() {
			return fmt.Errorf("request %s is %s: %w", req.ID, req.Status, ErrInvalidStageState)
		}

		wf, err := tx.GetWorkflow(ctx, req.WorkflowID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return fmt.Errorf("workflow %s: %w", req.WorkflowID, ErrWorkflowNotFound)
			}
			return err
		}

		now := time.Now().UTC()
		req.FormResponses = mergeResponses(req.FormResponses, in.FormResponses)
		req.UpdatedAt = now
		if err := tx.UpdateRequest(ctx, req); err != nil {
			return err
		}

		stage.Status = models.StageStatusApproved
		if in.Action == models.StageActionReject {
			stage.Status = models.StageStatusRejected
		}
		stage.ActedByUserID = &in.ActedByUserID
		stage.ActedAt = &now
		if in.Comment != "" {
			stage.Comment = &in.Comment
		}
		if in.FieldResponses != nil {
			stage.FieldResponses = in.FieldResponses
		}
		if err := tx.UpdateStage(ctx, stage); err != nil {
			return err
		}
		transitions = append(transitions, Transition{Kind: TransitionStageCompleted, Request: req, Stage: stage})

		var more []Transition
		if in.Action == models.StageActionReject {
			more, err = e.completeReject(ctx, tx, req, stage, now)
		} else {
			more, err = e.completeApprove(ctx, tx, wf, req, stage, in, now)
		}
		if err != nil {
			return err
		}
		transitions = append(transitions, more...)
		return nil
	})
	if err != nil {
		return err
	}

	e.dispatch(ctx, transitions)
	return nil
}

// completeReject handles the reject branch: a rejected sub-stage re-fans the
// chain up to and including the rejection point for resubmission, while a
// rejected main-track stage terminates the request.
func (e *Engine) completeReject(ctx context.Context, tx repository.Store, req *models.WorkflowRequest, stage *models.WorkflowInstanceStage, now time.Time) ([]Transition, error) {
	if !stage.IsSubStage {
		req.Status = models.RequestStatusRejected
		req.UpdatedAt = now
		if err := tx.UpdateRequest(ctx, req); err != nil {
			return nil, err
		}
		return []Transition{{Kind: TransitionRequestRejected, Request: req, Stage: stage}}, nil
	}

	siblings, err := siblingsOf(ctx, tx, req.ID, *stage.ParentStageID)
	if err != nil {
		return nil, err
	}

	// Every earlier sibling that was not itself rejected loops again,
	// followed by the actor who just rejected.
	var actors []models.SubStageActor
	for _, s := range siblings {
		if s.ID == stage.ID || !s.Before(stage) {
			continue
		}
		if s.Status == models.StageStatusRejected {
			continue
		}
		actors = append(actors, models.SubStageActor{AssignedToUserID: s.AssignedToUserID, SubStageName: s.StageName})
	}
	actors = append(actors, models.SubStageActor{AssignedToUserID: stage.AssignedToUserID, SubStageName: stage.StageName})

	rows, err := e.refanOut(ctx, tx, req, stage, siblings, actors)
	if err != nil {
		return nil, err
	}
	transitions := make([]Transition, 0, len(rows))
	for _, r := range rows {
		transitions = append(transitions, Transition{Kind: TransitionResubmission, Request: req, Stage: r})
	}
	return transitions, nil
}

// completeApprove handles the approve branch for both sub-stages (fan-in
// detection) and main-track stages (dynamic fan-out or main-track advance).
func (e *Engine) completeApprove(ctx context.Context, tx repository.Store, wf *models.Workflow, req *models.WorkflowRequest, stage *models.WorkflowInstanceStage, in CompleteStageInput, now time.Time) ([]Transition, error) {
	if stage.IsSubStage {
		siblings, err := siblingsOf(ctx, tx, req.ID, *stage.ParentStageID)
		if err != nil {
			return nil, err
		}
		if !isLastSibling(stage, siblings) {
			// Fan-in still waiting on remaining siblings.
			return nil, nil
		}
		return e.advanceMainTrack(ctx, tx, wf, req, stage.Step, in.ActedByUserID, in.DynamicActors, now)
	}

	if len(in.DynamicActors) > 0 {
		// Explicit dynamic fan-out: build the internal loop under the
		// approved stage and stop; the main track advances at fan-in.
		rows, err := e.fanOut(ctx, tx, req, stage, in.DynamicActors, false)
		if err != nil {
			return nil, err
		}
		transitions := make([]Transition, 0, len(rows))
		for _, r := range rows {
			transitions = append(transitions, Transition{Kind: TransitionStageCreated, Request: req, Stage: r})
		}
		return transitions, nil
	}

	if tpl := templateStageByID(wf, stage.StageID); tpl != nil && tpl.RequiresInternalLoop {
		subs, err := siblingsOf(ctx, tx, req.ID, stage.ID)
		if err != nil {
			return nil, err
		}
		if len(subs) > 0 {
			// Sub-stages already exist; the chain continues through them.
			return nil, nil
		}
		// A loop stage approved with neither existing sub-stages nor a
		// supplied actor chain would stall the request forever.
		return nil, &UnresolvedAssigneeError{StageID: tpl.ID, StageName: tpl.Name}
	}

	return e.advanceMainTrack(ctx, tx, wf, req, stage.Step, in.ActedByUserID, in.DynamicActors, now)
}

// advanceMainTrack resolves and creates the next main-track stage after
// afterStep, or finalizes the request as approved when the template is
// exhausted. When the next stage is configured with an internal loop and an
// actor chain was supplied, the loop is fanned out immediately.
func (e *Engine) advanceMainTrack(ctx context.Context, tx repository.Store, wf *models.Workflow, req *models.WorkflowRequest, afterStep int, currentActorID string, loopActors []models.SubStageActor, now time.Time) ([]Transition, error) {
	next := nextMainTemplateStage(wf, afterStep)
	if next == nil {
		req.Status = models.RequestStatusApproved
		req.UpdatedAt = now
		if err := tx.UpdateRequest(ctx, req); err != nil {
			return nil, err
		}
		return []Transition{{Kind: TransitionRequestApproved, Request: req}}, nil
	}

	assignee, err := resolveAssignee(ctx, tx, next, req.FormResponses, currentActorID)
	if err != nil {
		return nil, err
	}

	row := &models.WorkflowInstanceStage{
		ID:                uuid.New().String(),
		WorkflowRequestID: req.ID,
		StageID:           next.ID,
		StageName:         next.Name,
		Step:              next.Step,
		DisplayStep:       float64(next.Step),
		AssignedToUserID:  assignee,
		Status:            models.StageStatusPending,
		CreatedAt:         now,
	}
	if err := tx.CreateStage(ctx, row); err != nil {
		return nil, err
	}
	transitions := []Transition{{Kind: TransitionStageCreated, Request: req, Stage: row}}

	if next.RequiresInternalLoop && len(loopActors) > 0 {
		rows, err := e.fanOut(ctx, tx, req, row, loopActors, false)
		if err != nil {
			return nil, err
		}
		for _, r := range rows {
			transitions = append(transitions, Transition{Kind: TransitionStageCreated, Request: req, Stage: r})
		}
	}
	return transitions, nil
}

// fanOut creates one pending sub-stage per actor under the given parent
// instance row. Sequence numbers are spaced by seqStride so later
// resubmission batches can slot between siblings; display steps chain off
// the parent's display step.
func (e *Engine) fanOut(ctx context.Context, tx repository.Store, req *models.WorkflowRequest, parent *models.WorkflowInstanceStage, actors []models.SubStageActor, isResubmission bool) ([]*models.WorkflowInstanceStage, error) {
	seqs := make([]int, len(actors))
	for i := range seqs {
		seqs[i] = (i + 1) * seqStride
	}
	return e.createLoopRows(ctx, tx, req, parent, parent.DisplayStep, seqs, actors, isResubmission)
}

// refanOut creates a resubmission batch anchored at the rejected (or
// sent-back) stage: the new rows sort after it and before any still-pending
// later siblings, so the re-run chain acts first.
func (e *Engine) refanOut(ctx context.Context, tx repository.Store, req *models.WorkflowRequest, anchor *models.WorkflowInstanceStage, siblings []*models.WorkflowInstanceStage, actors []models.SubStageActor) ([]*models.WorkflowInstanceStage, error) {
	hi := anchor.SequenceInParent + seqStride
	for _, s := range siblings {
		if s.SequenceInParent > anchor.SequenceInParent {
			hi = s.SequenceInParent
			break
		}
	}
	seqs, err := allocateSequences(anchor.SequenceInParent, hi, len(actors))
	if err != nil {
		return nil, err
	}

	// Display steps chain past the highest one already issued under this
	// parent, so every row in the append-only history renders distinctly
	// even when the anchor has later siblings.
	displayBase := anchor.DisplayStep
	for _, s := range siblings {
		if s.DisplayStep > displayBase {
			displayBase = s.DisplayStep
		}
	}

	parent := &models.WorkflowInstanceStage{
		ID:          *anchor.ParentStageID,
		StageID:     anchor.StageID,
		StageName:   anchor.StageName,
		Step:        anchor.Step,
		DisplayStep: anchor.DisplayStep,
	}
	return e.createLoopRows(ctx, tx, req, parent, displayBase, seqs, actors, true)
}

func (e *Engine) createLoopRows(ctx context.Context, tx repository.Store, req *models.WorkflowRequest, parent *models.WorkflowInstanceStage, displayBase float64, seqs []int, actors []models.SubStageActor, isResubmission bool) ([]*models.WorkflowInstanceStage, error) {
	now := time.Now().UTC()
	parentID := parent.ID
	parentStep := parent.Step
	display := displayBase

	rows := make([]*models.WorkflowInstanceStage, 0, len(actors))
	for i, actor := range actors {
		var err error
		display, err = NextDisplayStep(display)
		if err != nil {
			return nil, err
		}
		name := actor.SubStageName
		if name == "" {
			name = parent.StageName
		}
		rows = append(rows, &models.WorkflowInstanceStage{
			ID:                uuid.New().String(),
			WorkflowRequestID: req.ID,
			StageID:           parent.StageID,
			StageName:         name,
			Step:              parentStep,
			SequenceInParent:  seqs[i],
			DisplayStep:       display,
			AssignedToUserID:  actor.AssignedToUserID,
			Status:            models.StageStatusPending,
			IsSubStage:        true,
			ParentStep:        &parentStep,
			ParentStageID:     &parentID,
			IsResubmission:    isResubmission,
			CreatedAt:         now,
		})
	}
	if err := tx.CreateStages(ctx, rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// SendBackInput identifies a pending internal-loop stage to send back for
// correction and names the role whose stage anchors the re-run.
type SendBackInput struct {
	StageID        string
	Comment        string
	SentBackToRole models.InternalRole
	ActedByUserID  string
}

// SendBackStage sends a specific internal-loop stage back for correction
// without rejecting the whole chain: the target stage is closed as rejected
// and a resubmission batch covering the actors from the named role's stage
// through the target is fanned out in its place.
func (e *Engine) SendBackStage(ctx context.Context, in SendBackInput) error {
	ctx, span := e.tracer.Start(ctx, "workflow.SendBackStage")
	defer span.End()

	ref, err := e.store.GetStage(ctx, in.StageID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("stage %s: %w", in.StageID, ErrStageNotFound)
		}
		return err
	}

	var transitions []Transition
	err = e.store.InRequestTx(ctx, ref.WorkflowRequestID, func(ctx context.Context, tx repository.Store) error {
		stage, err := tx.GetStage(ctx, in.StageID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return fmt.Errorf("stage %s: %w", in.StageID, ErrStageNotFound)
			}
			return err
		}
		if !stage.IsSubStage || stage.ParentStageID == nil {
			return fmt.Errorf("stage %s is not an internal-loop stage: %w", stage.ID, ErrInvalidStageState)
		}
		if !stage.Actionable() {
			return fmt.Errorf("stage %s is %s: %w", stage.ID, stage.Status, ErrInvalidStageState)
		}

		req, err := tx.GetRequest(ctx, stage.WorkflowRequestID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return fmt.Errorf("request %s: %w", stage.WorkflowRequestID, ErrRequestNotFound)
			}
			return err
		}
		if req.Status.Terminal() {
			return fmt.Errorf("request %s is %s: %w", req.ID, req.Status, ErrInvalidStageState)
		}

		siblings, err := siblingsOf(ctx, tx, req.ID, *stage.ParentStageID)
		if err != nil {
			return err
		}

		// The active chain is every sibling that was not itself rejected,
		// in precedence order; the role picks the anchor within it.
		var chain []*models.WorkflowInstanceStage
		targetIdx := -1
		for _, s := range siblings {
			if s.Status == models.StageStatusRejected {
				continue
			}
			if s.ID == stage.ID {
				targetIdx = len(chain)
			}
			chain = append(chain, s)
		}
		if targetIdx < 0 {
			return fmt.Errorf("stage %s: %w", stage.ID, ErrStageNotFound)
		}

		anchorIdx := anchorIndexForRole(in.SentBackToRole, len(chain))
		if anchorIdx > targetIdx {
			anchorIdx = targetIdx
		}
		var actors []models.SubStageActor
		for _, s := range chain[anchorIdx : targetIdx+1] {
			actors = append(actors, models.SubStageActor{AssignedToUserID: s.AssignedToUserID, SubStageName: s.StageName})
		}

		now := time.Now().UTC()
		stage.Status = models.StageStatusRejected
		stage.ActedByUserID = &in.ActedByUserID
		stage.ActedAt = &now
		if in.Comment != "" {
			stage.Comment = &in.Comment
		}
		if err := tx.UpdateStage(ctx, stage); err != nil {
			return err
		}
		transitions = append(transitions, Transition{Kind: TransitionStageCompleted, Request: req, Stage: stage})

		rows, err := e.refanOut(ctx, tx, req, stage, siblings, actors)
		if err != nil {
			return err
		}
		for _, r := range rows {
			transitions = append(transitions, Transition{Kind: TransitionResubmission, Request: req, Stage: r})
		}
		return nil
	})
	if err != nil {
		return err
	}

	e.dispatch(ctx, transitions)
	return nil
}

func anchorIndexForRole(role models.InternalRole, chainLen int) int {
	if chainLen == 0 {
		return 0
	}
	switch role {
	case models.InternalRoleInitiator:
		return 0
	case models.InternalRoleReviewer:
		if chainLen > 1 {
			return 1
		}
		return 0
	case models.InternalRoleApprover:
		return chainLen - 1
	default:
		return 0
	}
}

// NextStageInfo answers "whose turn is it" for one request.
type NextStageInfo struct {
	CurrentStage   *models.WorkflowInstanceStage `json:"current_stage,omitempty"`
	Assignee       *models.Employee              `json:"assignee,omitempty"`
	TemplateStage  *models.Stage                 `json:"template_stage,omitempty"`
	IsComplete     bool                          `json:"is_complete"`
	RequiresAction bool                          `json:"requires_action"`
}

// NextStage returns the lowest-ordered pending stage of a request with its
// assignee and template stage loaded. It is a pure read and safe to poll.
func (e *Engine) NextStage(ctx context.Context, requestID string) (*NextStageInfo, error) {
	ctx, span := e.tracer.Start(ctx, "workflow.NextStage")
	defer span.End()

	req, err := e.store.GetRequest(ctx, requestID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("request %s: %w", requestID, ErrRequestNotFound)
		}
		return nil, err
	}

	info := &NextStageInfo{IsComplete: req.Status.Terminal()}
	if info.IsComplete {
		// A terminal request never requires action, even when pending
		// sibling rows survived the terminal transition in the history.
		return info, nil
	}

	stage, err := e.store.NextPendingStage(ctx, requestID)
	if errors.Is(err, repository.ErrNotFound) {
		return info, nil
	}
	if err != nil {
		return nil, err
	}
	info.CurrentStage = stage
	info.RequiresAction = true

	if emp, err := e.store.GetEmployee(ctx, stage.AssignedToUserID); err == nil {
		info.Assignee = emp
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}
	if wf, err := e.store.GetWorkflow(ctx, req.WorkflowID); err == nil {
		info.TemplateStage = templateStageByID(wf, stage.StageID)
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}
	return info, nil
}

func templateStageByID(wf *models.Workflow, stageID string) *models.Stage {
	for _, st := range wf.Stages {
		if st.ID == stageID {
			return st
		}
	}
	return nil
}

// dispatch hands committed transitions to the registered listeners. It runs
// after the transaction closes; listener failures are logged and isolated,
// never surfaced as engine failures.
func (e *Engine) dispatch(ctx context.Context, transitions []Transition) {
	for _, t := range transitions {
		if e.completed != nil {
			e.completed.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", string(t.Kind))))
		}
		for _, l := range e.listeners {
			if err := l.OnTransition(ctx, t); err != nil {
				e.logger.Error("transition listener failed",
					"kind", t.Kind,
					"request_id", t.Request.ID,
					"error", err)
			}
		}
	}
}

// mergeResponses folds src into dst key by key, later writers overriding
// earlier values for the same key. dst is never mutated.
func mergeResponses(dst, src map[string]any) map[string]any {
	out := make(map[string]any, len(dst)+len(src))
	for k, v := range dst {
		out[k] = v
	}
	for k, v := range src {
		out[k] = v
	}
	return out
}
