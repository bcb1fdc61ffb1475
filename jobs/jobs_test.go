package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	jobmetrics "github.com/odyssey-erp/odyssey-access/internal/jobs"
	"github.com/odyssey-erp/odyssey-access/internal/notify"
	"github.com/odyssey-erp/odyssey-access/internal/scheduler"
)

type recordingEnqueuer struct {
	tasks []*asynq.Task
	err   error
}

func (r *recordingEnqueuer) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	if r.err != nil {
		return nil, r.err
	}
	r.tasks = append(r.tasks, task)
	return &asynq.TaskInfo{ID: "task-1", Type: task.Type()}, nil
}

func (r *recordingEnqueuer) Close() error { return nil }

func TestClientPublishQueuesEachEvent(t *testing.T) {
	rec := &recordingEnqueuer{}
	client := &Client{client: rec, now: time.Now}

	err := client.Publish(context.Background(),
		notify.Event{Type: notify.TypeWelcome, TargetID: "r1"},
		notify.Event{Type: notify.TypeExpired, TargetID: "r2"},
	)
	require.NoError(t, err)
	require.Len(t, rec.tasks, 2)
	assert.Equal(t, TaskNotifyDispatch, rec.tasks[0].Type())

	var evt notify.Event
	require.NoError(t, json.Unmarshal(rec.tasks[1].Payload(), &evt))
	assert.Equal(t, notify.TypeExpired, evt.Type)
	assert.Equal(t, "r2", evt.TargetID)
}

func TestClientEnqueueSweep(t *testing.T) {
	rec := &recordingEnqueuer{}
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	client := &Client{client: rec, now: func() time.Time { return at }}

	id, err := client.EnqueueSweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "task-1", id)
	var payload ExpirySweepPayload
	require.NoError(t, json.Unmarshal(rec.tasks[0].Payload(), &payload))
	assert.True(t, payload.Manual)
	assert.Equal(t, at, payload.RequestedAt)

	rec.err = errors.New("redis down")
	_, err = client.EnqueueSweep(context.Background())
	assert.Error(t, err)
}

type stubSweeper struct {
	report scheduler.Report
	err    error
	calls  int
}

func (s *stubSweeper) Sweep(context.Context, time.Time) (scheduler.Report, error) {
	s.calls++
	return s.report, s.err
}

func TestExpirySweepJob(t *testing.T) {
	metrics := jobmetrics.NewMetrics(prometheus.NewRegistry())
	task, err := NewExpirySweepTask(false, time.Now())
	require.NoError(t, err)

	sweeper := &stubSweeper{report: scheduler.Report{Expired: 2, Failures: []scheduler.Failure{{RequestID: "r1", Op: "expire", Error: "boom"}}}}
	job := NewExpirySweepJob(sweeper, nil, metrics)
	require.NoError(t, job.Handle(context.Background(), task))
	assert.Equal(t, 1, sweeper.calls)

	sweeper.err = scheduler.ErrSweepInProgress
	assert.NoError(t, job.Handle(context.Background(), task))

	sweeper.err = errors.New("db down")
	assert.Error(t, job.Handle(context.Background(), task))

	bad := asynq.NewTask(TaskExpirySweep, []byte("{"))
	assert.ErrorIs(t, job.Handle(context.Background(), bad), asynq.SkipRetry)
}

type stubDispatcher struct {
	err error
	got []notify.Event
}

func (s *stubDispatcher) Dispatch(_ context.Context, evt notify.Event) (notify.Report, error) {
	s.got = append(s.got, evt)
	return notify.Report{Sent: 1}, s.err
}

func TestNotifyDispatchJob(t *testing.T) {
	task, err := NewNotifyDispatchTask(notify.Event{Type: notify.TypeRejected, TargetID: "r9"})
	require.NoError(t, err)

	d := &stubDispatcher{}
	job := &NotifyDispatchJob{Dispatcher: d}
	require.NoError(t, job.Handle(context.Background(), task))
	require.Len(t, d.got, 1)
	assert.Equal(t, "r9", d.got[0].TargetID)

	d.err = errors.New("smtp down")
	err = job.Handle(context.Background(), task)
	require.Error(t, err)
	assert.NotErrorIs(t, err, asynq.SkipRetry)

	d.err = notify.ErrUnknownType
	assert.ErrorIs(t, job.Handle(context.Background(), task), asynq.SkipRetry)
}

type stubInspector struct{}

func (stubInspector) GetQueueInfo(queue string) (*asynq.QueueInfo, error) {
	return &asynq.QueueInfo{Queue: queue, Pending: 3}, nil
}

func TestHealthReportsQueues(t *testing.T) {
	h := NewHandler(stubInspector{}, nil)
	rec := httptest.NewRecorder()
	h.health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"queues":[{"queue":"default","pending":3,"retry":0},{"queue":"notifications","pending":3,"retry":0}]}`, rec.Body.String())
}
