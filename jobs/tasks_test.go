package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	jobmetrics "github.com/projectdesk/projectdesk/internal/jobs"
)

type mailerSpy struct {
	from string
	sent []SendEmailPayload
}

func (m *mailerSpy) Send(_ context.Context, from string, msg SendEmailPayload) error {
	m.from = from
	m.sent = append(m.sent, msg)
	return nil
}

type purgerFunc func(ctx context.Context, before time.Time) (int64, error)

func (f purgerFunc) PurgeExpiredSessions(ctx context.Context, before time.Time) (int64, error) {
	return f(ctx, before)
}

func TestMailHandlerDelivers(t *testing.T) {
	mailer := &mailerSpy{}
	handler := MailHandler{Mailer: mailer, From: "noreply@projectdesk.local"}

	task, err := NewSendEmailTask(SendEmailPayload{To: "ana@example.com", Subject: "Hi", Body: "Hello"})
	require.NoError(t, err)
	require.Equal(t, TaskTypeSendEmail, task.Type())

	require.NoError(t, handler.Handle(context.Background(), task))
	require.Equal(t, "noreply@projectdesk.local", mailer.from)
	require.Equal(t, []SendEmailPayload{{To: "ana@example.com", Subject: "Hi", Body: "Hello"}}, mailer.sent)
}

func TestMailHandlerDropsBadPayloads(t *testing.T) {
	registry := prometheus.NewRegistry()
	handler := MailHandler{Mailer: &mailerSpy{}, Metrics: jobmetrics.NewMetrics(registry)}

	err := handler.Handle(context.Background(), asynq.NewTask(TaskTypeSendEmail, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)

	task, err := NewSendEmailTask(SendEmailPayload{Subject: "no recipient"})
	require.NoError(t, err)
	require.ErrorIs(t, handler.Handle(context.Background(), task), asynq.SkipRetry)

	families, err := registry.Gather()
	require.NoError(t, err)
	var failures float64
	for _, mf := range families {
		if mf.GetName() == "projectdesk_jobs_failures_total" {
			for _, m := range mf.GetMetric() {
				failures += m.GetCounter().GetValue()
			}
		}
	}
	require.Equal(t, float64(2), failures)
}

func TestPurgeSessionsHandler(t *testing.T) {
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var got time.Time
	handler := PurgeSessionsHandler{
		Purger: purgerFunc(func(_ context.Context, before time.Time) (int64, error) {
			got = before
			return 3, nil
		}),
		Now: func() time.Time { return fixed },
	}
	require.NoError(t, handler.Handle(context.Background(), NewPurgeSessionsTask()))
	require.Equal(t, fixed, got)

	boom := errors.New("db down")
	handler.Purger = purgerFunc(func(context.Context, time.Time) (int64, error) { return 0, boom })
	require.ErrorIs(t, handler.Handle(context.Background(), NewPurgeSessionsTask()), boom)
}
