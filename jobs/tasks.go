package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/projectdesk/projectdesk/internal/jobs"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTypeSendEmail is the task type for sending transactional emails.
	TaskTypeSendEmail = "mail:send"
	// TaskTypePurgeSessions removes expired login sessions.
	TaskTypePurgeSessions = "sessions:purge"
)

// SendEmailPayload describes the information required to send an email.
type SendEmailPayload struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// NewSendEmailTask constructs an Asynq task.
func NewSendEmailTask(payload SendEmailPayload, opts ...asynq.Option) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeSendEmail, data, opts...), nil
}

// Mailer delivers one message.
type Mailer interface {
	Send(ctx context.Context, from string, msg SendEmailPayload) error
}

// LogMailer writes messages to the log instead of delivering them.
type LogMailer struct {
	Logger *slog.Logger
}

// Send logs the message.
func (m LogMailer) Send(ctx context.Context, from string, msg SendEmailPayload) error {
	logger := m.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "mail sent", slog.String("from", from), slog.String("to", msg.To), slog.String("subject", msg.Subject))
	return nil
}

// MailHandler processes TaskTypeSendEmail tasks.
type MailHandler struct {
	Mailer  Mailer
	From    string
	Metrics *jobmetrics.Metrics
}

// Handle decodes and delivers the email. Malformed payloads are not retried.
func (h MailHandler) Handle(ctx context.Context, t *asynq.Task) error {
	tracker := h.Metrics.Track(TaskTypeSendEmail)
	var payload SendEmailPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return tracker.End(fmt.Errorf("decode payload: %v: %w", err, asynq.SkipRetry))
	}
	if payload.To == "" {
		return tracker.End(fmt.Errorf("missing recipient: %w", asynq.SkipRetry))
	}
	return tracker.End(h.Mailer.Send(ctx, h.From, payload))
}

// SessionPurger deletes expired login sessions.
type SessionPurger interface {
	PurgeExpiredSessions(ctx context.Context, before time.Time) (int64, error)
}

// PurgeSessionsHandler processes TaskTypePurgeSessions tasks.
type PurgeSessionsHandler struct {
	Purger  SessionPurger
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	Now     func() time.Time
}

// Handle removes every session that expired before now.
func (h PurgeSessionsHandler) Handle(ctx context.Context, _ *asynq.Task) error {
	tracker := h.Metrics.Track(TaskTypePurgeSessions)
	now := time.Now
	if h.Now != nil {
		now = h.Now
	}
	removed, err := h.Purger.PurgeExpiredSessions(ctx, now().UTC())
	if err != nil {
		return tracker.End(err)
	}
	if h.Logger != nil {
		h.Logger.Info("purged expired sessions", slog.Int64("removed", removed))
	}
	return tracker.End(nil)
}

// NewPurgeSessionsTask constructs the periodic purge task.
func NewPurgeSessionsTask() *asynq.Task {
	return asynq.NewTask(TaskTypePurgeSessions, nil)
}
