// Package notify delivers best-effort user notifications. Callers never fail
// on notification errors.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/projectdesk/projectdesk/jobs"
)

// StatusChange describes an account status transition.
type StatusChange struct {
	UserID int64
	Email  string
	Name   string
	Status string
}

// Notifier is the fire-and-forget notification port.
type Notifier interface {
	StatusChanged(ctx context.Context, change StatusChange) error
}

// Nop drops every notification.
type Nop struct{}

// StatusChanged implements Notifier.
func (Nop) StatusChanged(context.Context, StatusChange) error { return nil }

// Enqueuer submits tasks; satisfied by *jobs.Client.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// AsynqNotifier turns notifications into mail:send tasks.
type AsynqNotifier struct {
	queue  Enqueuer
	logger *slog.Logger
}

// NewAsynqNotifier constructs an AsynqNotifier.
func NewAsynqNotifier(queue Enqueuer, logger *slog.Logger) *AsynqNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &AsynqNotifier{queue: queue, logger: logger}
}

// StatusChanged enqueues the status email.
func (n *AsynqNotifier) StatusChanged(ctx context.Context, change StatusChange) error {
	if strings.TrimSpace(change.Email) == "" {
		return fmt.Errorf("notify: user %d has no email", change.UserID)
	}
	task, err := jobs.NewSendEmailTask(StatusEmail(change), asynq.TaskID(uuid.NewString()), asynq.MaxRetry(5))
	if err != nil {
		return fmt.Errorf("notify: build task: %w", err)
	}
	info, err := n.queue.EnqueueContext(ctx, task)
	if err != nil {
		return fmt.Errorf("notify: enqueue: %w", err)
	}
	n.logger.Debug("status email queued", slog.Int64("user_id", change.UserID), slog.String("task_id", info.ID))
	return nil
}

// StatusEmail renders the message sent for a status change.
func StatusEmail(change StatusChange) jobs.SendEmailPayload {
	name := strings.TrimSpace(change.Name)
	if name == "" {
		name = change.Email
	}
	var subject, line string
	switch change.Status {
	case "approved":
		subject = "Your account has been approved"
		line = "Your account is now active. You can sign in."
	case "rejected":
		subject = "Your account request was rejected"
		line = "An administrator rejected your account request."
	case "suspended":
		subject = "Your account has been suspended"
		line = "An administrator suspended your account. Contact them for details."
	default:
		subject = "Your account is pending approval"
		line = "Your account is waiting for administrator approval."
	}
	return jobs.SendEmailPayload{
		To:      change.Email,
		Subject: subject,
		Body:    fmt.Sprintf("Hello %s,\n\n%s\n", name, line),
	}
}
