package models

import (
	"time"
)

// RequestStatus is the lifecycle status of a WorkflowRequest. Pending is the
// only non-terminal state; once Approved or Rejected no further stage
// transitions are valid for the request.
type RequestStatus string

const (
	RequestStatusPending  RequestStatus = "pending"
	RequestStatusApproved RequestStatus = "approved"
	RequestStatusRejected RequestStatus = "rejected"
)

// Terminal reports whether the status admits no further transitions.
func (s RequestStatus) Terminal() bool {
	return s == RequestStatusApproved || s == RequestStatusRejected
}

// StageStatus is the lifecycle status of a single WorkflowInstanceStage.
// Approved and Rejected are terminal per row.
type StageStatus string

const (
	StageStatusCreated   StageStatus = "created"
	StageStatusSubmitted StageStatus = "submitted"
	StageStatusPending   StageStatus = "pending"
	StageStatusApproved  StageStatus = "approved"
	StageStatusRejected  StageStatus = "rejected"
)

// StageAction is the action a user takes on a pending stage.
type StageAction string

const (
	StageActionApprove StageAction = "approve"
	StageActionReject  StageAction = "reject"
)

// Workflow is an approval-workflow template owned by a tenant's
// organization. Templates are immutable at execution time; Stages are
// ordered by Step ascending.
type Workflow struct {
	ID             string    `json:"id" db:"id"`
	TenantID       string    `json:"tenant_id" db:"tenant_id"`
	OrganizationID string    `json:"organization_id" db:"organization_id"`
	FormID         *string   `json:"form_id,omitempty" db:"form_id"`
	Name           string    `json:"name" db:"name"`
	Description    string    `json:"description,omitempty" db:"description"`
	Stages         []*Stage  `json:"stages,omitempty" db:"-"`
	CreatedBy      *string   `json:"created_by,omitempty" db:"created_by"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time `json:"updated_at" db:"updated_at"`
}

// Stage is one template row of a Workflow. Main-track steps are unique
// positive integers, strictly ascending within a workflow.
//
// The assignment rule for the stage is resolved in priority order: a value
// under AssigneeLookupField in the request's form responses, then the
// occupant of AssigneePositionID, then the supervisor of the previous
// actor's position.
type Stage struct {
	ID                   string    `json:"id" db:"id"`
	WorkflowID           string    `json:"workflow_id" db:"workflow_id"`
	Name                 string    `json:"name" db:"name"`
	Step                 int       `json:"step" db:"step"`
	RequiresInternalLoop bool      `json:"requires_internal_loop" db:"requires_internal_loop"`
	IsSubStage           bool      `json:"is_sub_stage" db:"is_sub_stage"`
	AssigneeDepartmentID *string   `json:"assignee_department_id,omitempty" db:"assignee_department_id"`
	AssigneePositionID   *string   `json:"assignee_position_id,omitempty" db:"assignee_position_id"`
	AssigneeLookupField  *string   `json:"assignee_lookup_field,omitempty" db:"assignee_lookup_field"`
	IsRequireApproval    bool      `json:"is_require_approval" db:"is_require_approval"`
	CreatedAt            time.Time `json:"created_at" db:"created_at"`
}

// WorkflowRequest is one submission travelling through a workflow template.
//
// FormResponses is the request-level aggregate payload. Each completed stage
// merges its submitted form responses into it key by key, later stages
// overriding earlier values for the same key; per-stage payloads are kept
// verbatim on the instance stage rows.
type WorkflowRequest struct {
	ID             string         `json:"id" db:"id"`
	TenantID       string         `json:"tenant_id" db:"tenant_id"`
	OrganizationID string         `json:"organization_id" db:"organization_id"`
	WorkflowID     string         `json:"workflow_id" db:"workflow_id"`
	RequestorID    string         `json:"requestor_id" db:"requestor_id"`
	Status         RequestStatus  `json:"status" db:"status"`
	FormResponses  map[string]any `json:"form_responses,omitempty" db:"form_responses"`
	CreatedAt      time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at" db:"updated_at"`
}

// WorkflowInstanceStage is the execution unit: one actionable row per actor
// per stage of a request. Rows are append-only audit history and are never
// deleted.
//
// Precedence order is the tuple (Step, SequenceInParent). Main-track rows
// carry the template's integer step with SequenceInParent zero; sub-stages
// share the parent's integer step and order among siblings by
// SequenceInParent. DisplayStep is the decimal rendering of the same order
// kept for presentation and audit output.
type WorkflowInstanceStage struct {
	ID                string         `json:"id" db:"id"`
	WorkflowRequestID string         `json:"workflow_request_id" db:"workflow_request_id"`
	StageID           string         `json:"stage_id" db:"stage_id"`
	StageName         string         `json:"stage_name" db:"stage_name"`
	Step              int            `json:"step" db:"step"`
	SequenceInParent  int            `json:"sequence_in_parent" db:"sequence_in_parent"`
	DisplayStep       float64        `json:"display_step" db:"display_step"`
	AssignedToUserID  string         `json:"assigned_to_user_id" db:"assigned_to_user_id"`
	Status            StageStatus    `json:"status" db:"status"`
	FieldResponses    map[string]any `json:"field_responses,omitempty" db:"field_responses"`
	IsSubStage        bool           `json:"is_sub_stage" db:"is_sub_stage"`
	ParentStep        *int           `json:"parent_step,omitempty" db:"parent_step"`
	ParentStageID     *string        `json:"parent_stage_id,omitempty" db:"parent_stage_id"`
	IsResubmission    bool           `json:"is_resubmission" db:"is_resubmission"`
	ActedByUserID     *string        `json:"acted_by_user_id,omitempty" db:"acted_by_user_id"`
	ActedAt           *time.Time     `json:"acted_at,omitempty" db:"acted_at"`
	Comment           *string        `json:"comment,omitempty" db:"comment"`
	CreatedAt         time.Time      `json:"created_at" db:"created_at"`
}

// Actionable reports whether the row is still awaiting an action.
func (s *WorkflowInstanceStage) Actionable() bool {
	return s.Status == StageStatusPending
}

// Before reports whether s precedes other in precedence order.
func (s *WorkflowInstanceStage) Before(other *WorkflowInstanceStage) bool {
	if s.Step != other.Step {
		return s.Step < other.Step
	}
	return s.SequenceInParent < other.SequenceInParent
}

// SubStageActor names one participant of an internal-loop fan-out. The order
// of the actor list fixes the approval sequence.
type SubStageActor struct {
	AssignedToUserID string `json:"assigned_to_user_id"`
	SubStageName     string `json:"sub_stage_name"`
}

// InternalRole names the anchor of a targeted send-back within an internal
// loop.
type InternalRole string

const (
	InternalRoleInitiator InternalRole = "initiator"
	InternalRoleReviewer  InternalRole = "reviewer"
	InternalRoleApprover  InternalRole = "approver"
)

// RequestMessage is one entry of the threaded discussion attached to a
// workflow request.
type RequestMessage struct {
	ID                string    `json:"id" db:"id"`
	TenantID          string    `json:"tenant_id" db:"tenant_id"`
	WorkflowRequestID string    `json:"workflow_request_id" db:"workflow_request_id"`
	ParentMessageID   *string   `json:"parent_message_id,omitempty" db:"parent_message_id"`
	AuthorUserID      string    `json:"author_user_id" db:"author_user_id"`
	Body              string    `json:"body" db:"body"`
	CreatedAt         time.Time `json:"created_at" db:"created_at"`
}
