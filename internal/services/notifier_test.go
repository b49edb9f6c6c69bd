package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orgflow/backend/internal/logging"
	"orgflow/backend/internal/repository"
	"orgflow/backend/internal/workflow"
	"orgflow/backend/pkg/models"
)

type blockingNotifier struct {
	mu   sync.Mutex
	seen []workflow.TransitionKind
	done chan struct{}
	fail bool
}

func (n *blockingNotifier) Notify(_ context.Context, t workflow.Transition) error {
	n.mu.Lock()
	n.seen = append(n.seen, t.Kind)
	n.mu.Unlock()
	close(n.done)
	if n.fail {
		return errors.New("delivery failed")
	}
	return nil
}

func TestDispatcherDeliversWithoutBlocking(t *testing.T) {
	n := &blockingNotifier{done: make(chan struct{})}
	failing := &blockingNotifier{done: make(chan struct{}), fail: true}
	d := NewDispatcher(logging.NewNop(), n, failing)

	trans := workflow.Transition{
		Kind:    workflow.TransitionRequestApproved,
		Request: &models.WorkflowRequest{ID: "req-1"},
	}
	require.NoError(t, d.OnTransition(context.Background(), trans))

	for _, ch := range []chan struct{}{n.done, failing.done} {
		select {
		case <-ch:
		case <-time.After(5 * time.Second):
			t.Fatal("notifier was never invoked")
		}
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	assert.Equal(t, []workflow.TransitionKind{workflow.TransitionRequestApproved}, n.seen)
}

func TestThreadNotifierPostsActivityMessages(t *testing.T) {
	store := repository.NewMemoryStore()
	n := NewThreadNotifier(store)
	ctx := context.Background()

	req := &models.WorkflowRequest{ID: "req-1", TenantID: "tenant-1"}
	stage := &models.WorkflowInstanceStage{StageName: "Review", Status: models.StageStatusApproved}

	require.NoError(t, n.Notify(ctx, workflow.Transition{Kind: workflow.TransitionStageCompleted, Request: req, Stage: stage}))
	require.NoError(t, n.Notify(ctx, workflow.Transition{Kind: workflow.TransitionRequestApproved, Request: req}))

	msgs, err := store.ListMessages(ctx, req.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "system", msgs[0].AuthorUserID)
	assert.Contains(t, msgs[0].Body, "Review")
	assert.Equal(t, "The request was approved.", msgs[1].Body)
}
