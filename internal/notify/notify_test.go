package notify_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"github.com/projectdesk/projectdesk/internal/notify"
	"github.com/projectdesk/projectdesk/jobs"
)

type queueSpy struct {
	tasks []*asynq.Task
	err   error
}

func (q *queueSpy) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	if q.err != nil {
		return nil, q.err
	}
	q.tasks = append(q.tasks, task)
	return &asynq.TaskInfo{ID: "task-1", Type: task.Type()}, nil
}

func TestStatusChangedEnqueuesMail(t *testing.T) {
	queue := &queueSpy{}
	notifier := notify.NewAsynqNotifier(queue, nil)

	err := notifier.StatusChanged(context.Background(), notify.StatusChange{UserID: 5, Email: "ana@example.com", Name: "Ana", Status: "approved"})
	require.NoError(t, err)
	require.Len(t, queue.tasks, 1)
	require.Equal(t, jobs.TaskTypeSendEmail, queue.tasks[0].Type())

	var payload jobs.SendEmailPayload
	require.NoError(t, json.Unmarshal(queue.tasks[0].Payload(), &payload))
	require.Equal(t, "ana@example.com", payload.To)
	require.Equal(t, "Your account has been approved", payload.Subject)
	require.Contains(t, payload.Body, "Hello Ana")
}

func TestStatusChangedErrors(t *testing.T) {
	queue := &queueSpy{}
	notifier := notify.NewAsynqNotifier(queue, nil)
	require.Error(t, notifier.StatusChanged(context.Background(), notify.StatusChange{UserID: 5, Status: "approved"}))
	require.Empty(t, queue.tasks)

	queue.err = errors.New("redis down")
	err := notifier.StatusChanged(context.Background(), notify.StatusChange{UserID: 5, Email: "ana@example.com", Status: "rejected"})
	require.ErrorIs(t, err, queue.err)
}

func TestStatusEmail(t *testing.T) {
	cases := map[string]string{
		"approved":  "Your account has been approved",
		"rejected":  "Your account request was rejected",
		"suspended": "Your account has been suspended",
		"pending":   "Your account is pending approval",
	}
	for status, subject := range cases {
		msg := notify.StatusEmail(notify.StatusChange{Email: "bo@example.com", Status: status})
		require.Equal(t, subject, msg.Subject, status)
		require.Contains(t, msg.Body, "Hello bo@example.com", "falls back to the email when name is blank")
	}
	require.NoError(t, notify.Nop{}.StatusChanged(context.Background(), notify.StatusChange{}))
}
