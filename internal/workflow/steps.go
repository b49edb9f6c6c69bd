package workflow

import (
	"context"
	"errors"
	"math"
	"sort"
	"strconv"
	"strings"

	"orgflow/backend/internal/repository"
	"orgflow/backend/pkg/models"
)

// seqStride is the spacing between sibling sequence numbers on an initial
// fan-out. Resubmission batches are slotted into the gap after their anchor,
// so a wide stride keeps room for repeated rejection cycles.
const seqStride = 1 << 20

// ComputeStepIncrement returns the fractional display-step increment for a
// sub-stage fanned out under baseStep. The increment is one decimal place
// finer than baseStep already uses, so repeated application yields strictly
// increasing values that all stay below the next integer step, and a deeper
// fan-out (re-basing on a sub-stage's own step) stays distinguishable from a
// shallower one.
func ComputeStepIncrement(baseStep float64) (float64, error) {
	if math.IsNaN(baseStep) || math.IsInf(baseStep, 0) {
		return 0, &InvalidStepError{Step: baseStep, Reason: "step must be finite"}
	}
	return math.Pow(10, -float64(decimalDigits(baseStep)+1)), nil
}

// NextDisplayStep applies ComputeStepIncrement to the previous step in a
// sibling chain. Starting from the integer parent step this produces
// 1.1, 1.11, 1.111, … — strictly increasing and bounded by parentStep+1 for
// any chain length.
func NextDisplayStep(prev float64) (float64, error) {
	inc, err := ComputeStepIncrement(prev)
	if err != nil {
		return 0, err
	}
	return prev + inc, nil
}

func decimalDigits(v float64) int {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if i := strings.IndexByte(s, '.'); i >= 0 {
		return len(s) - i - 1
	}
	return 0
}

// allocateSequences returns n sequence numbers strictly between lo and hi,
// evenly spaced. It fails with InvalidStepError when the gap is exhausted,
// which only happens after pathologically deep rejection cycles and
// indicates data corruption rather than a normal workflow.
func allocateSequences(lo, hi, n int) ([]int, error) {
	if n <= 0 {
		return nil, nil
	}
	gap := hi - lo
	if gap < n+1 {
		return nil, &InvalidStepError{
			Step:   float64(lo),
			Reason: "sequence gap exhausted between siblings",
		}
	}
	stride := gap / (n + 1)
	seqs := make([]int, n)
	for i := range seqs {
		seqs[i] = lo + (i+1)*stride
	}
	return seqs, nil
}

// siblingsOf lists every instance stage sharing the given parent stage,
// ordered by (step, sequence_in_parent) ascending.
func siblingsOf(ctx context.Context, store repository.Store, requestID, parentStageID string) ([]*models.WorkflowInstanceStage, error) {
	rows, err := store.ListStages(ctx, repository.StageFilter{
		WorkflowRequestID: requestID,
		ParentStageID:     &parentStageID,
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Before(rows[j]) })
	return rows, nil
}

// isLastSibling reports whether stage holds the highest precedence order
// among rows sharing its parent. Fan-in is detected from the existing rows
// rather than a counter, so the sibling set stays reconstructable from
// history alone.
func isLastSibling(stage *models.WorkflowInstanceStage, siblings []*models.WorkflowInstanceStage) bool {
	for _, s := range siblings {
		if s.ID == stage.ID {
			continue
		}
		if stage.Before(s) {
			return false
		}
	}
	return true
}

// nextMainTemplateStage returns the first template stage strictly after the
// given step on the main track, or nil when the workflow is complete.
func nextMainTemplateStage(wf *models.Workflow, afterStep int) *models.Stage {
	var next *models.Stage
	for _, st := range wf.Stages {
		if st.IsSubStage || st.Step <= afterStep {
			continue
		}
		if next == nil || st.Step < next.Step {
			next = st
		}
	}
	return next
}

// resolveAssignee applies a stage's assignment rules in priority order:
//
//  1. a user ID present in formResponses under the stage's configured
//     lookup field,
//  2. the occupant of the stage's fixed position,
//  3. the occupant of the parent position of the current actor's position.
//
// It fails with UnresolvedAssigneeError when no rule yields a user.
func resolveAssignee(ctx context.Context, org repository.OrgStore, stage *models.Stage, formResponses map[string]any, currentActorID string) (string, error) {
	if stage.AssigneeLookupField != nil {
		if v, ok := formResponses[*stage.AssigneeLookupField]; ok {
			if userID, ok := v.(string); ok && userID != "" {
				return userID, nil
			}
		}
	}

	if stage.AssigneePositionID != nil {
		emp, err := org.FindEmployeeByPosition(ctx, *stage.AssigneePositionID)
		if err == nil {
			return emp.ID, nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return "", err
		}
	}

	if currentActorID != "" {
		actor, err := org.GetEmployee(ctx, currentActorID)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return "", err
		}
		if err == nil && actor.PositionID != nil {
			parent, err := org.FindParentPosition(ctx, *actor.PositionID)
			if err != nil && !errors.Is(err, repository.ErrNotFound) {
				return "", err
			}
			if err == nil {
				supervisor, err := org.FindEmployeeByPosition(ctx, parent.ID)
				if err == nil {
					return supervisor.ID, nil
				}
				if !errors.Is(err, repository.ErrNotFound) {
					return "", err
				}
			}
		}
	}

	return "", &UnresolvedAssigneeError{StageID: stage.ID, StageName: stage.Name}
}
