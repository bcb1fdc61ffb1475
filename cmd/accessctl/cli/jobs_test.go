package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-access/jobs"
)

type stubEnqueuer struct {
	tasks []*asynq.Task
	err   error
}

func (s *stubEnqueuer) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.tasks = append(s.tasks, task)
	return &asynq.TaskInfo{ID: "t-1", Queue: jobs.QueueDefault, Type: task.Type()}, nil
}

func (s *stubEnqueuer) Close() error { return nil }

type stubInspector struct {
	queues    map[string]*asynq.QueueInfo
	scheduled []*asynq.TaskInfo
	asked     string
}

func (s *stubInspector) GetQueueInfo(queue string) (*asynq.QueueInfo, error) {
	info, ok := s.queues[queue]
	if !ok {
		return nil, errors.New("queue not found")
	}
	return info, nil
}

func (s *stubInspector) ListScheduledTasks(queue string, _ ...asynq.ListOption) ([]*asynq.TaskInfo, error) {
	s.asked = queue
	return s.scheduled, nil
}

func (s *stubInspector) Close() error { return nil }

func newTestCLI(enq *stubEnqueuer, insp *stubInspector) *JobsCLI {
	c := NewJobsCLIWith(enq, insp)
	c.now = func() time.Time { return time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC) }
	return c
}

func TestRunSweepEnqueuesManualTask(t *testing.T) {
	enq := &stubEnqueuer{}
	c := newTestCLI(enq, &stubInspector{})
	stdout, stderr := new(bytes.Buffer), new(bytes.Buffer)

	code := c.Run(context.Background(), []string{"sweep"}, stdout, stderr)
	require.Zero(t, code, stderr.String())
	require.Contains(t, stdout.String(), "enqueued t-1")
	require.Len(t, enq.tasks, 1)
	require.Equal(t, jobs.TaskExpirySweep, enq.tasks[0].Type())

	var payload jobs.ExpirySweepPayload
	require.NoError(t, json.Unmarshal(enq.tasks[0].Payload(), &payload))
	require.True(t, payload.Manual)
}

func TestRunSweepReportsEnqueueFailure(t *testing.T) {
	c := newTestCLI(&stubEnqueuer{err: errors.New("redis down")}, &stubInspector{})
	stderr := new(bytes.Buffer)
	code := c.Run(context.Background(), []string{"sweep"}, new(bytes.Buffer), stderr)
	require.Equal(t, 1, code)
	require.Contains(t, stderr.String(), "redis down")
}

func TestRunQueuesPrintsBothQueues(t *testing.T) {
	insp := &stubInspector{queues: map[string]*asynq.QueueInfo{
		jobs.QueueDefault:       {Queue: jobs.QueueDefault, Pending: 1},
		jobs.QueueNotifications: {Queue: jobs.QueueNotifications, Pending: 4, Retry: 2},
	}}
	c := newTestCLI(&stubEnqueuer{}, insp)
	stdout := new(bytes.Buffer)

	code := c.Run(context.Background(), []string{"queues"}, stdout, new(bytes.Buffer))
	require.Zero(t, code)
	require.Contains(t, stdout.String(), "pending=1")
	require.Contains(t, stdout.String(), "pending=4 active=0 scheduled=0 retry=2")
}

func TestRunScheduledUsesQueueArgument(t *testing.T) {
	insp := &stubInspector{scheduled: []*asynq.TaskInfo{{ID: "s-1", Type: jobs.TaskNotifyDispatch, NextProcessAt: time.Date(2024, 6, 2, 0, 0, 0, 0, time.UTC)}}}
	c := newTestCLI(&stubEnqueuer{}, insp)
	stdout := new(bytes.Buffer)

	code := c.Run(context.Background(), []string{"scheduled", jobs.QueueNotifications, "5"}, stdout, new(bytes.Buffer))
	require.Zero(t, code)
	require.Equal(t, jobs.QueueNotifications, insp.asked)
	require.Contains(t, stdout.String(), "s-1\tnotify:dispatch\t2024-06-02T00:00:00Z")
}

func TestRunRejectsUnknownInput(t *testing.T) {
	c := newTestCLI(&stubEnqueuer{}, &stubInspector{})
	stderr := new(bytes.Buffer)
	require.Equal(t, 2, c.Run(context.Background(), nil, new(bytes.Buffer), stderr))
	require.Contains(t, stderr.String(), "usage: accessctl")

	stderr.Reset()
	require.Equal(t, 2, c.Run(context.Background(), []string{"reindex"}, new(bytes.Buffer), stderr))
	require.Contains(t, stderr.String(), `unknown command "reindex"`)

	require.Equal(t, 2, c.Run(context.Background(), []string{"scheduled", "default", "x"}, new(bytes.Buffer), new(bytes.Buffer)))

	_, err := c.Trigger(context.Background(), "gl_integrity")
	require.Error(t, err)
}
