// Package notify turns a terminal job failure into an operator-facing email.
package notify

import (
	"context"
	"fmt"

	"github.com/relayhook/dispatcher/internal/domain"
	"github.com/relayhook/dispatcher/internal/email"
)

// EmailNotifier satisfies engine.Notifier. It sends only when the job's
// payload carries a notify_email address — most jobs have none, and this is
// a no-op for them.
type EmailNotifier struct {
	sender email.Sender
}

func NewEmailNotifier(sender email.Sender) *EmailNotifier {
	return &EmailNotifier{sender: sender}
}

func (n *EmailNotifier) NotifyJobFailed(ctx context.Context, job *domain.Job, reason string) error {
	to, _ := job.Payload["notify_email"].(string)
	if to == "" {
		return nil
	}

	subject := fmt.Sprintf("Job %s failed", job.ID)
	body := fmt.Sprintf(
		"<p>Job <code>%s</code> (%s / %s) reached its final failed state.</p><p>%s</p>",
		job.ID, job.AppName, job.TaskType, reason,
	)
	if err := n.sender.Send(ctx, to, subject, body); err != nil {
		return fmt.Errorf("send failure notification: %w", err)
	}
	return nil
}
