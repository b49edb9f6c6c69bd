// Package services holds the collaborators around the workflow engine:
// notification dispatch and the vote-book budget bookkeeping.
package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"orgflow/backend/internal/logging"
	"orgflow/backend/internal/repository"
	"orgflow/backend/internal/workflow"
	"orgflow/backend/pkg/models"
)

// Notifier delivers one notification about a workflow transition. Delivery
// is best-effort; a failed notifier never fails the transition.
type Notifier interface {
	Notify(ctx context.Context, t workflow.Transition) error
}

// dispatchTimeout bounds a single delivery attempt so a slow SMTP server
// cannot pile up goroutines.
const dispatchTimeout = 30 * time.Second

// Dispatcher fans transitions out to the registered notifiers. It
// implements workflow.TransitionListener and hands every delivery to its
// own goroutine, so dispatch never blocks the caller that committed the
// transition.
type Dispatcher struct {
	notifiers []Notifier
	logger    *logging.Logger
}

// NewDispatcher creates a Dispatcher over the given notifiers.
func NewDispatcher(logger *logging.Logger, notifiers ...Notifier) *Dispatcher {
	return &Dispatcher{notifiers: notifiers, logger: logger}
}

var _ workflow.TransitionListener = (*Dispatcher)(nil)

// OnTransition schedules delivery of t to every notifier and returns
// immediately.
func (d *Dispatcher) OnTransition(ctx context.Context, t workflow.Transition) error {
	for _, n := range d.notifiers {
		go func(n Notifier) {
			ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), dispatchTimeout)
			defer cancel()
			if err := n.Notify(ctx, t); err != nil {
				d.logger.Warn("notification delivery failed",
					"kind", t.Kind,
					"request_id", t.Request.ID,
					"error", err)
			}
		}(n)
	}
	return nil
}

// threadAuthorID marks messages posted by the engine rather than a person.
const threadAuthorID = "system"

// ThreadNotifier posts an entry into the request's discussion thread for
// every transition, so the in-app thread doubles as a readable activity
// log.
type ThreadNotifier struct {
	store repository.MessageStore
}

// NewThreadNotifier creates a ThreadNotifier on the given message store.
func NewThreadNotifier(store repository.MessageStore) *ThreadNotifier {
	return &ThreadNotifier{store: store}
}

func (n *ThreadNotifier) Notify(ctx context.Context, t workflow.Transition) error {
	return n.store.CreateMessage(ctx, &models.RequestMessage{
		ID:                uuid.New().String(),
		TenantID:          t.Request.TenantID,
		WorkflowRequestID: t.Request.ID,
		AuthorUserID:      threadAuthorID,
		Body:              transitionSummary(t),
		CreatedAt:         time.Now().UTC(),
	})
}

func transitionSummary(t workflow.Transition) string {
	switch t.Kind {
	case workflow.TransitionStageCreated:
		return fmt.Sprintf("Stage %q is now awaiting action.", t.Stage.StageName)
	case workflow.TransitionStageCompleted:
		return fmt.Sprintf("Stage %q was %s.", t.Stage.StageName, t.Stage.Status)
	case workflow.TransitionResubmission:
		return fmt.Sprintf("Stage %q was sent back for resubmission.", t.Stage.StageName)
	case workflow.TransitionRequestApproved:
		return "The request was approved."
	case workflow.TransitionRequestRejected:
		return "The request was rejected."
	default:
		return fmt.Sprintf("Workflow transition: %s.", t.Kind)
	}
}
