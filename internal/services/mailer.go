package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/wneessen/go-mail"

	"orgflow/backend/internal/config"
	"orgflow/backend/internal/repository"
	"orgflow/backend/internal/workflow"
)

// MailNotifier emails the assignee of a newly created stage and the
// requestor on terminal transitions. Address resolution goes through the
// org store; transitions whose actor has no employee record are skipped
// silently.
type MailNotifier struct {
	client *mail.Client
	from   string
	org    repository.OrgStore
}

// NewMailNotifier builds the SMTP client from configuration.
func NewMailNotifier(cfg *config.Config, org repository.OrgStore) (*MailNotifier, error) {
	opts := []mail.Option{mail.WithPort(cfg.SMTP.Port)}
	if cfg.SMTP.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.SMTP.Username),
			mail.WithPassword(cfg.SMTP.Password),
		)
	}
	client, err := mail.NewClient(cfg.SMTP.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("smtp client: %w", err)
	}
	return &MailNotifier{client: client, from: cfg.SMTP.From, org: org}, nil
}

func (n *MailNotifier) Notify(ctx context.Context, t workflow.Transition) error {
	recipient, subject, body := n.compose(t)
	if recipient == "" {
		return nil
	}

	emp, err := n.org.GetEmployee(ctx, recipient)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		return err
	}

	msg := mail.NewMsg()
	if err := msg.From(n.from); err != nil {
		return err
	}
	if err := msg.To(emp.Email); err != nil {
		return err
	}
	msg.Subject(subject)
	msg.SetBodyString(mail.TypeTextPlain, fmt.Sprintf("Dear %s,\n\n%s\n", emp.FullName(), body))

	return n.client.DialAndSendWithContext(ctx, msg)
}

// compose picks the recipient user and message per transition kind. An
// empty recipient means the transition produces no email.
func (n *MailNotifier) compose(t workflow.Transition) (recipient, subject, body string) {
	switch t.Kind {
	case workflow.TransitionStageCreated, workflow.TransitionResubmission:
		return t.Stage.AssignedToUserID,
			fmt.Sprintf("Action required: %s", t.Stage.StageName),
			fmt.Sprintf("A workflow stage %q is waiting for your action on request %s.", t.Stage.StageName, t.Request.ID)
	case workflow.TransitionRequestApproved:
		return t.Request.RequestorID,
			"Your request was approved",
			fmt.Sprintf("Request %s completed its approval chain.", t.Request.ID)
	case workflow.TransitionRequestRejected:
		return t.Request.RequestorID,
			"Your request was rejected",
			fmt.Sprintf("Request %s was rejected.", t.Request.ID)
	default:
		return "", "", ""
	}
}
