package workflow

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orgflow/backend/internal/logging"
	"orgflow/backend/internal/repository"
	"orgflow/backend/pkg/models"
)

// fixture is the standing test world: a three-stage purchase workflow over a
// small org chart (clerk reports to officer reports to director).
type fixture struct {
	store  *repository.MemoryStore
	engine *Engine

	workflow *models.Workflow
	clerk    *models.Employee
	officer  *models.Employee
	director *models.Employee
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	store := repository.NewMemoryStore()

	directorPos := &models.Position{ID: "pos-director", Title: "Director"}
	officerPos := &models.Position{ID: "pos-officer", Title: "Officer", ParentPositionID: &directorPos.ID}
	clerkPos := &models.Position{ID: "pos-clerk", Title: "Clerk", ParentPositionID: &officerPos.ID}
	for _, p := range []*models.Position{directorPos, officerPos, clerkPos} {
		require.NoError(t, store.CreatePosition(ctx, p))
	}

	f := &fixture{store: store}
	f.director = &models.Employee{ID: "emp-director", PositionID: &directorPos.ID, FirstName: "Dir", Email: "dir@example.com"}
	f.officer = &models.Employee{ID: "emp-officer", PositionID: &officerPos.ID, FirstName: "Off", Email: "off@example.com"}
	f.clerk = &models.Employee{ID: "emp-clerk", PositionID: &clerkPos.ID, FirstName: "Clk", Email: "clk@example.com"}
	for _, e := range []*models.Employee{f.director, f.officer, f.clerk} {
		require.NoError(t, store.CreateEmployee(ctx, e))
	}

	f.workflow = &models.Workflow{
		ID:       "wf-1",
		TenantID: "tenant-1",
		Stages: []*models.Stage{
			{ID: "st-1", WorkflowID: "wf-1", Name: "Submission", Step: 1},
			{ID: "st-2", WorkflowID: "wf-1", Name: "Review", Step: 2, AssigneePositionID: &officerPos.ID},
			{ID: "st-3", WorkflowID: "wf-1", Name: "Approval", Step: 3, AssigneePositionID: &directorPos.ID},
		},
	}
	require.NoError(t, store.CreateWorkflow(ctx, f.workflow))

	f.engine = NewEngine(store, logging.NewNop())
	return f
}

func (f *fixture) start(t *testing.T) *models.WorkflowRequest {
	t.Helper()
	req, err := f.engine.StartRequest(context.Background(), StartRequestInput{
		TenantID:    "tenant-1",
		WorkflowID:  f.workflow.ID,
		RequestorID: f.clerk.ID,
		FormResponses: map[string]any{
			"item": "laptops",
		},
	})
	require.NoError(t, err)
	return req
}

func (f *fixture) pendingStage(t *testing.T, requestID string) *models.WorkflowInstanceStage {
	t.Helper()
	stage, err := f.store.NextPendingStage(context.Background(), requestID)
	require.NoError(t, err)
	return stage
}

func TestStartRequestCreatesSubmissionAndEagerNextStage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req := f.start(t)
	assert.Equal(t, models.RequestStatusPending, req.Status)

	stages, err := f.store.ListStages(ctx, repository.StageFilter{WorkflowRequestID: req.ID})
	require.NoError(t, err)
	require.Len(t, stages, 2)

	assert.Equal(t, models.StageStatusSubmitted, stages[0].Status)
	assert.Equal(t, 1, stages[0].Step)
	assert.Equal(t, f.clerk.ID, stages[0].AssignedToUserID)

	assert.Equal(t, models.StageStatusPending, stages[1].Status)
	assert.Equal(t, 2, stages[1].Step)
	assert.Equal(t, f.officer.ID, stages[1].AssignedToUserID)
}

func TestStartRequestUnknownWorkflow(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.StartRequest(context.Background(), StartRequestInput{
		WorkflowID:  "missing",
		RequestorID: f.clerk.ID,
	})
	require.ErrorIs(t, err, ErrWorkflowNotFound)
}

func TestStartRequestSingleStageApprovesImmediately(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	wf := &models.Workflow{
		ID:       "wf-single",
		TenantID: "tenant-1",
		Stages:   []*models.Stage{{ID: "only", WorkflowID: "wf-single", Name: "Submission", Step: 1}},
	}
	require.NoError(t, f.store.CreateWorkflow(ctx, wf))

	req, err := f.engine.StartRequest(ctx, StartRequestInput{
		TenantID:    "tenant-1",
		WorkflowID:  wf.ID,
		RequestorID: f.clerk.ID,
	})
	require.NoError(t, err)
	assert.Equal(t, models.RequestStatusApproved, req.Status)
}

func TestApproveThroughMainTrack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := f.start(t)

	review := f.pendingStage(t, req.ID)
	require.NoError(t, f.engine.CompleteStage(ctx, CompleteStageInput{
		StageID:       review.ID,
		Action:        models.StageActionApprove,
		ActedByUserID: f.officer.ID,
		FormResponses: map[string]any{"reviewed": true},
	}))

	approval := f.pendingStage(t, req.ID)
	assert.Equal(t, 3, approval.Step)
	assert.Equal(t, f.director.ID, approval.AssignedToUserID)

	require.NoError(t, f.engine.CompleteStage(ctx, CompleteStageInput{
		StageID:       approval.ID,
		Action:        models.StageActionApprove,
		ActedByUserID: f.director.ID,
	}))

	got, err := f.store.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RequestStatusApproved, got.Status)

	// Later-stage responses override earlier values key by key.
	assert.Equal(t, "laptops", got.FormResponses["item"])
	assert.Equal(t, true, got.FormResponses["reviewed"])
}

func TestRejectMainStageTerminatesRequest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := f.start(t)

	review := f.pendingStage(t, req.ID)
	require.NoError(t, f.engine.CompleteStage(ctx, CompleteStageInput{
		StageID:       review.ID,
		Action:        models.StageActionReject,
		ActedByUserID: f.officer.ID,
		Comment:       "over budget",
	}))

	got, err := f.store.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RequestStatusRejected, got.Status)

	// Terminal requests accept no further actions, even on rows that were
	// still pending when the request closed.
	err = f.engine.CompleteStage(ctx, CompleteStageInput{
		StageID:       review.ID,
		Action:        models.StageActionApprove,
		ActedByUserID: f.officer.ID,
	})
	require.ErrorIs(t, err, ErrInvalidStageState)
}

func TestCompleteStageValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := f.start(t)
	review := f.pendingStage(t, req.ID)

	err := f.engine.CompleteStage(ctx, CompleteStageInput{StageID: "missing", Action: models.StageActionApprove})
	require.ErrorIs(t, err, ErrStageNotFound)

	err = f.engine.CompleteStage(ctx, CompleteStageInput{StageID: review.ID, Action: "defer"})
	require.ErrorIs(t, err, ErrInvalidStageState)

	// Acting twice on the same stage fails the second time.
	require.NoError(t, f.engine.CompleteStage(ctx, CompleteStageInput{
		StageID: review.ID, Action: models.StageActionApprove, ActedByUserID: f.officer.ID,
	}))
	err = f.engine.CompleteStage(ctx, CompleteStageInput{
		StageID: review.ID, Action: models.StageActionApprove, ActedByUserID: f.officer.ID,
	})
	require.ErrorIs(t, err, ErrInvalidStageState)
}

func dynamicActors(f *fixture) []models.SubStageActor {
	return []models.SubStageActor{
		{AssignedToUserID: f.clerk.ID, SubStageName: "Prepare"},
		{AssignedToUserID: f.officer.ID, SubStageName: "Verify"},
		{AssignedToUserID: f.director.ID, SubStageName: "Endorse"},
	}
}

func TestDynamicFanOutAndFanIn(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := f.start(t)

	review := f.pendingStage(t, req.ID)
	require.NoError(t, f.engine.CompleteStage(ctx, CompleteStageInput{
		StageID:       review.ID,
		Action:        models.StageActionApprove,
		ActedByUserID: f.officer.ID,
		DynamicActors: dynamicActors(f),
	}))

	subs, err := f.store.ListStages(ctx, repository.StageFilter{
		WorkflowRequestID: req.ID,
		ParentStageID:     &review.ID,
	})
	require.NoError(t, err)
	require.Len(t, subs, 3)

	// Sub-stages share the parent's integer step and order by sequence;
	// display steps chain off the parent and stay below the next step.
	prevSeq, prevDisplay := 0, float64(review.Step)
	for _, s := range subs {
		assert.True(t, s.IsSubStage)
		assert.Equal(t, review.Step, s.Step)
		assert.Greater(t, s.SequenceInParent, prevSeq)
		assert.Greater(t, s.DisplayStep, prevDisplay)
		assert.Less(t, s.DisplayStep, float64(review.Step+1))
		assert.False(t, s.IsResubmission)
		prevSeq, prevDisplay = s.SequenceInParent, s.DisplayStep
	}

	// The loop acts strictly in order; the main track holds until the last
	// sibling approves.
	for i, s := range subs {
		next := f.pendingStage(t, req.ID)
		assert.Equal(t, s.ID, next.ID, "sub-stage %d should act next", i)
		require.NoError(t, f.engine.CompleteStage(ctx, CompleteStageInput{
			StageID:       s.ID,
			Action:        models.StageActionApprove,
			ActedByUserID: s.AssignedToUserID,
		}))
	}

	final := f.pendingStage(t, req.ID)
	assert.Equal(t, 3, final.Step)
	assert.False(t, final.IsSubStage)
}

// loopWorkflow stores a template whose first stage fans out an internal
// loop immediately on submission.
func loopWorkflow(t *testing.T, f *fixture) *models.Workflow {
	t.Helper()
	directorPos := "pos-director"
	wf := &models.Workflow{
		ID:       "wf-loop",
		TenantID: "tenant-1",
		Stages: []*models.Stage{
			{ID: "loop-1", WorkflowID: "wf-loop", Name: "Submission", Step: 1, RequiresInternalLoop: true},
			{ID: "loop-2", WorkflowID: "wf-loop", Name: "Approval", Step: 2, AssigneePositionID: &directorPos},
		},
	}
	require.NoError(t, f.store.CreateWorkflow(context.Background(), wf))
	return wf
}

func TestStartRequestFansOutFirstStageLoop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	wf := loopWorkflow(t, f)

	req, err := f.engine.StartRequest(ctx, StartRequestInput{
		TenantID:    "tenant-1",
		WorkflowID:  wf.ID,
		RequestorID: f.clerk.ID,
		LoopActors: []models.SubStageActor{
			{AssignedToUserID: f.officer.ID, SubStageName: "Verify"},
			{AssignedToUserID: f.director.ID, SubStageName: "Endorse"},
		},
	})
	require.NoError(t, err)

	stages, err := f.store.ListStages(ctx, repository.StageFilter{WorkflowRequestID: req.ID})
	require.NoError(t, err)
	require.Len(t, stages, 3)

	submitted := stages[0]
	assert.Equal(t, models.StageStatusSubmitted, submitted.Status)
	assert.False(t, submitted.IsSubStage)

	subs := stages[1:]
	for _, s := range subs {
		assert.True(t, s.IsSubStage)
		assert.Equal(t, 1, s.Step)
		assert.Equal(t, models.StageStatusPending, s.Status)
		require.NotNil(t, s.ParentStageID)
		assert.Equal(t, submitted.ID, *s.ParentStageID)
	}
	assert.Equal(t, f.officer.ID, subs[0].AssignedToUserID)
	assert.Equal(t, f.director.ID, subs[1].AssignedToUserID)

	// The second main stage appears only after the last sibling approves.
	require.NoError(t, f.engine.CompleteStage(ctx, CompleteStageInput{
		StageID: subs[0].ID, Action: models.StageActionApprove, ActedByUserID: subs[0].AssignedToUserID,
	}))
	next := f.pendingStage(t, req.ID)
	assert.Equal(t, subs[1].ID, next.ID)

	require.NoError(t, f.engine.CompleteStage(ctx, CompleteStageInput{
		StageID: subs[1].ID, Action: models.StageActionApprove, ActedByUserID: subs[1].AssignedToUserID,
	}))
	final := f.pendingStage(t, req.ID)
	assert.Equal(t, 2, final.Step)
	assert.False(t, final.IsSubStage)
	assert.Equal(t, f.director.ID, final.AssignedToUserID)
}

func TestStartRequestLoopStageRequiresActors(t *testing.T) {
	f := newFixture(t)
	wf := loopWorkflow(t, f)

	_, err := f.engine.StartRequest(context.Background(), StartRequestInput{
		TenantID:    "tenant-1",
		WorkflowID:  wf.ID,
		RequestorID: f.clerk.ID,
	})
	var unresolved *UnresolvedAssigneeError
	require.ErrorAs(t, err, &unresolved)
	assert.Equal(t, "loop-1", unresolved.StageID)
}

// auditWorkflow stores a three-stage template whose final stage is
// loop-configured.
func auditWorkflow(t *testing.T, f *fixture) *models.Workflow {
	t.Helper()
	officerPos, directorPos := "pos-officer", "pos-director"
	wf := &models.Workflow{
		ID:       "wf-audit",
		TenantID: "tenant-1",
		Stages: []*models.Stage{
			{ID: "aud-1", WorkflowID: "wf-audit", Name: "Submission", Step: 1},
			{ID: "aud-2", WorkflowID: "wf-audit", Name: "Review", Step: 2, AssigneePositionID: &officerPos},
			{ID: "aud-3", WorkflowID: "wf-audit", Name: "Audit", Step: 3, RequiresInternalLoop: true, AssigneePositionID: &directorPos},
		},
	}
	require.NoError(t, f.store.CreateWorkflow(context.Background(), wf))
	return wf
}

func TestApproveLoopStageWithoutChainFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	wf := auditWorkflow(t, f)

	req, err := f.engine.StartRequest(ctx, StartRequestInput{
		TenantID:    "tenant-1",
		WorkflowID:  wf.ID,
		RequestorID: f.clerk.ID,
	})
	require.NoError(t, err)

	review := f.pendingStage(t, req.ID)
	require.NoError(t, f.engine.CompleteStage(ctx, CompleteStageInput{
		StageID: review.ID, Action: models.StageActionApprove, ActedByUserID: f.officer.ID,
	}))

	// Approving the loop stage with neither existing sub-stages nor a
	// supplied chain would strand the request.
	audit := f.pendingStage(t, req.ID)
	require.Equal(t, 3, audit.Step)
	err = f.engine.CompleteStage(ctx, CompleteStageInput{
		StageID: audit.ID, Action: models.StageActionApprove, ActedByUserID: f.director.ID,
	})
	var unresolved *UnresolvedAssigneeError
	require.ErrorAs(t, err, &unresolved)
	assert.Equal(t, "aud-3", unresolved.StageID)
}

func TestFanInFansOutNextLoopStage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	wf := auditWorkflow(t, f)

	req, err := f.engine.StartRequest(ctx, StartRequestInput{
		TenantID:    "tenant-1",
		WorkflowID:  wf.ID,
		RequestorID: f.clerk.ID,
	})
	require.NoError(t, err)

	review := f.pendingStage(t, req.ID)
	require.NoError(t, f.engine.CompleteStage(ctx, CompleteStageInput{
		StageID:       review.ID,
		Action:        models.StageActionApprove,
		ActedByUserID: f.officer.ID,
		DynamicActors: dynamicActors(f),
	}))

	subs, err := f.store.ListStages(ctx, repository.StageFilter{
		WorkflowRequestID: req.ID,
		ParentStageID:     &review.ID,
	})
	require.NoError(t, err)
	require.Len(t, subs, 3)

	// The last sibling's approval carries the chain for the next stage's
	// loop, so fan-in and the next fan-out commit together.
	for _, s := range subs[:2] {
		require.NoError(t, f.engine.CompleteStage(ctx, CompleteStageInput{
			StageID: s.ID, Action: models.StageActionApprove, ActedByUserID: s.AssignedToUserID,
		}))
	}
	require.NoError(t, f.engine.CompleteStage(ctx, CompleteStageInput{
		StageID:       subs[2].ID,
		Action:        models.StageActionApprove,
		ActedByUserID: subs[2].AssignedToUserID,
		DynamicActors: []models.SubStageActor{
			{AssignedToUserID: f.officer.ID, SubStageName: "Audit Prep"},
			{AssignedToUserID: f.director.ID, SubStageName: "Audit Signoff"},
		},
	}))

	all, err := f.store.ListStages(ctx, repository.StageFilter{WorkflowRequestID: req.ID})
	require.NoError(t, err)

	var auditMain *models.WorkflowInstanceStage
	var auditSubs []*models.WorkflowInstanceStage
	for _, s := range all {
		if s.Step != 3 {
			continue
		}
		if s.IsSubStage {
			auditSubs = append(auditSubs, s)
		} else {
			auditMain = s
		}
	}
	require.NotNil(t, auditMain)
	assert.Equal(t, models.StageStatusPending, auditMain.Status)
	require.Len(t, auditSubs, 2)
	for _, s := range auditSubs {
		require.NotNil(t, s.ParentStageID)
		assert.Equal(t, auditMain.ID, *s.ParentStageID)
		assert.Equal(t, models.StageStatusPending, s.Status)
	}
	assert.Equal(t, f.officer.ID, auditSubs[0].AssignedToUserID)
	assert.Equal(t, f.director.ID, auditSubs[1].AssignedToUserID)
}

func TestRejectionCascadeRefansEarlierSiblings(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := f.start(t)

	review := f.pendingStage(t, req.ID)
	require.NoError(t, f.engine.CompleteStage(ctx, CompleteStageInput{
		StageID:       review.ID,
		Action:        models.StageActionApprove,
		ActedByUserID: f.officer.ID,
		DynamicActors: dynamicActors(f),
	}))

	subs, err := f.store.ListStages(ctx, repository.StageFilter{
		WorkflowRequestID: req.ID,
		ParentStageID:     &review.ID,
	})
	require.NoError(t, err)
	require.Len(t, subs, 3)
	first, second, third := subs[0], subs[1], subs[2]

	require.NoError(t, f.engine.CompleteStage(ctx, CompleteStageInput{
		StageID: first.ID, Action: models.StageActionApprove, ActedByUserID: first.AssignedToUserID,
	}))
	require.NoError(t, f.engine.CompleteStage(ctx, CompleteStageInput{
		StageID: second.ID, Action: models.StageActionReject, ActedByUserID: second.AssignedToUserID,
	}))

	// The request stays live and the rejected row keeps its status; the
	// chain up to the rejection re-fans as a resubmission batch ordered
	// after the rejected row and before the untouched later sibling.
	got, err := f.store.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RequestStatusPending, got.Status)

	all, err := f.store.ListStages(ctx, repository.StageFilter{
		WorkflowRequestID: req.ID,
		ParentStageID:     &review.ID,
	})
	require.NoError(t, err)
	require.Len(t, all, 5)

	var resub []*models.WorkflowInstanceStage
	for _, s := range all {
		if s.IsResubmission {
			resub = append(resub, s)
		}
	}
	require.Len(t, resub, 2)
	assert.Equal(t, first.AssignedToUserID, resub[0].AssignedToUserID)
	assert.Equal(t, second.AssignedToUserID, resub[1].AssignedToUserID)
	for _, s := range resub {
		assert.Greater(t, s.SequenceInParent, second.SequenceInParent)
		assert.Less(t, s.SequenceInParent, third.SequenceInParent)
		assert.Equal(t, models.StageStatusPending, s.Status)
	}

	// The resubmission chain acts before the still-pending later sibling.
	next := f.pendingStage(t, req.ID)
	assert.Equal(t, resub[0].ID, next.ID)

	// Running the re-fanned chain and the untouched sibling to completion
	// collapses the fan-in and advances the main track.
	for _, s := range []*models.WorkflowInstanceStage{resub[0], resub[1], third} {
		require.NoError(t, f.engine.CompleteStage(ctx, CompleteStageInput{
			StageID: s.ID, Action: models.StageActionApprove, ActedByUserID: s.AssignedToUserID,
		}))
	}
	final := f.pendingStage(t, req.ID)
	assert.Equal(t, 3, final.Step)
}

func TestResubmissionDisplayStepsStayUnique(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := f.start(t)

	review := f.pendingStage(t, req.ID)
	require.NoError(t, f.engine.CompleteStage(ctx, CompleteStageInput{
		StageID:       review.ID,
		Action:        models.StageActionApprove,
		ActedByUserID: f.officer.ID,
		DynamicActors: dynamicActors(f),
	}))

	subs, err := f.store.ListStages(ctx, repository.StageFilter{
		WorkflowRequestID: req.ID,
		ParentStageID:     &review.ID,
	})
	require.NoError(t, err)
	require.Len(t, subs, 3)

	require.NoError(t, f.engine.CompleteStage(ctx, CompleteStageInput{
		StageID: subs[0].ID, Action: models.StageActionApprove, ActedByUserID: subs[0].AssignedToUserID,
	}))
	require.NoError(t, f.engine.CompleteStage(ctx, CompleteStageInput{
		StageID: subs[1].ID, Action: models.StageActionReject, ActedByUserID: subs[1].AssignedToUserID,
	}))

	// Rejecting a middle sibling re-fans past the untouched later sibling:
	// the resubmission batch chains its display steps past the highest one
	// already issued, so the history never renders two rows alike.
	all, err := f.store.ListStages(ctx, repository.StageFilter{
		WorkflowRequestID: req.ID,
		ParentStageID:     &review.ID,
	})
	require.NoError(t, err)
	require.Len(t, all, 5)

	seen := make(map[float64]bool)
	for _, s := range all {
		assert.False(t, seen[s.DisplayStep], "display step %v issued twice", s.DisplayStep)
		seen[s.DisplayStep] = true
		assert.Less(t, s.DisplayStep, float64(review.Step+1))
	}
	for _, s := range all {
		if s.IsResubmission {
			assert.Greater(t, s.DisplayStep, subs[2].DisplayStep)
		}
	}
}

func TestSendBackStageAnchorsOnRole(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := f.start(t)

	review := f.pendingStage(t, req.ID)
	require.NoError(t, f.engine.CompleteStage(ctx, CompleteStageInput{
		StageID:       review.ID,
		Action:        models.StageActionApprove,
		ActedByUserID: f.officer.ID,
		DynamicActors: dynamicActors(f),
	}))

	subs, err := f.store.ListStages(ctx, repository.StageFilter{
		WorkflowRequestID: req.ID,
		ParentStageID:     &review.ID,
	})
	require.NoError(t, err)
	require.Len(t, subs, 3)

	require.NoError(t, f.engine.CompleteStage(ctx, CompleteStageInput{
		StageID: subs[0].ID, Action: models.StageActionApprove, ActedByUserID: subs[0].AssignedToUserID,
	}))
	require.NoError(t, f.engine.CompleteStage(ctx, CompleteStageInput{
		StageID: subs[1].ID, Action: models.StageActionApprove, ActedByUserID: subs[1].AssignedToUserID,
	}))

	// The approver sends the chain back to the reviewer: the target closes
	// as rejected and the reviewer-through-approver slice re-fans.
	require.NoError(t, f.engine.SendBackStage(ctx, SendBackInput{
		StageID:        subs[2].ID,
		SentBackToRole: models.InternalRoleReviewer,
		ActedByUserID:  subs[2].AssignedToUserID,
		Comment:        "verify amounts again",
	}))

	target, err := f.store.GetStage(ctx, subs[2].ID)
	require.NoError(t, err)
	assert.Equal(t, models.StageStatusRejected, target.Status)

	all, err := f.store.ListStages(ctx, repository.StageFilter{
		WorkflowRequestID: req.ID,
		ParentStageID:     &review.ID,
	})
	require.NoError(t, err)
	require.Len(t, all, 5)

	var resub []*models.WorkflowInstanceStage
	for _, s := range all {
		if s.IsResubmission {
			resub = append(resub, s)
		}
	}
	require.Len(t, resub, 2)
	assert.Equal(t, subs[1].AssignedToUserID, resub[0].AssignedToUserID)
	assert.Equal(t, subs[2].AssignedToUserID, resub[1].AssignedToUserID)
}

func TestSendBackRejectsMainTrackStage(t *testing.T) {
	f := newFixture(t)
	req := f.start(t)
	review := f.pendingStage(t, req.ID)

	err := f.engine.SendBackStage(context.Background(), SendBackInput{
		StageID:        review.ID,
		SentBackToRole: models.InternalRoleInitiator,
		ActedByUserID:  f.officer.ID,
	})
	require.ErrorIs(t, err, ErrInvalidStageState)
}

func TestNextStageIsIdempotentRead(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := f.start(t)

	first, err := f.engine.NextStage(ctx, req.ID)
	require.NoError(t, err)
	require.True(t, first.RequiresAction)
	require.NotNil(t, first.CurrentStage)
	assert.Equal(t, f.officer.ID, first.Assignee.ID)
	assert.Equal(t, "st-2", first.TemplateStage.ID)

	second, err := f.engine.NextStage(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, first.CurrentStage.ID, second.CurrentStage.ID)

	_, err = f.engine.NextStage(ctx, "missing")
	require.ErrorIs(t, err, ErrRequestNotFound)
}

func TestNextStageOnTerminalRequest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := f.start(t)

	review := f.pendingStage(t, req.ID)
	require.NoError(t, f.engine.CompleteStage(ctx, CompleteStageInput{
		StageID: review.ID, Action: models.StageActionReject, ActedByUserID: f.officer.ID,
	}))

	info, err := f.engine.NextStage(ctx, req.ID)
	require.NoError(t, err)
	assert.True(t, info.IsComplete)
	assert.False(t, info.RequiresAction)
	assert.Nil(t, info.CurrentStage)
}

func TestNextStageIgnoresSurvivingPendingRows(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := f.start(t)

	// Force the request terminal while its pending review row survives in
	// the history; the row must never resurface as actionable.
	got, err := f.store.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	got.Status = models.RequestStatusRejected
	require.NoError(t, f.store.UpdateRequest(ctx, got))

	pending, err := f.store.NextPendingStage(ctx, req.ID)
	require.NoError(t, err)
	require.NotNil(t, pending)

	info, err := f.engine.NextStage(ctx, req.ID)
	require.NoError(t, err)
	assert.True(t, info.IsComplete)
	assert.False(t, info.RequiresAction)
	assert.Nil(t, info.CurrentStage)
}

type recordingListener struct {
	kinds []TransitionKind
	err   error
}

func (l *recordingListener) OnTransition(_ context.Context, t Transition) error {
	l.kinds = append(l.kinds, t.Kind)
	return l.err
}

func TestListenersReceiveCommittedTransitions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rec := &recordingListener{}
	failing := &recordingListener{err: errors.New("smtp down")}
	f.engine.AddListener(failing)
	f.engine.AddListener(rec)

	req := f.start(t)
	assert.Contains(t, rec.kinds, TransitionStageCreated)

	rec.kinds = nil
	review := f.pendingStage(t, req.ID)
	// A failing listener never fails the action itself.
	require.NoError(t, f.engine.CompleteStage(ctx, CompleteStageInput{
		StageID: review.ID, Action: models.StageActionReject, ActedByUserID: f.officer.ID,
	}))
	assert.Equal(t, []TransitionKind{TransitionStageCompleted, TransitionRequestRejected}, rec.kinds)
}
