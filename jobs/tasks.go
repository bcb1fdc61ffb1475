package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-access/internal/notify"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// QueueNotifications carries notification deliveries so they retry independently.
	QueueNotifications = "notifications"

	// TaskExpirySweep runs one expiry sweep.
	TaskExpirySweep = "access:expiry_sweep"
	// TaskNotifyDispatch delivers one notification event.
	TaskNotifyDispatch = "notify:dispatch"
)

// ExpirySweepPayload describes a sweep run.
type ExpirySweepPayload struct {
	Manual      bool      `json:"manual"`
	RequestedAt time.Time `json:"requested_at"`
}

// NewExpirySweepTask constructs the sweep task.
func NewExpirySweepTask(manual bool, requestedAt time.Time) (*asynq.Task, error) {
	data, err := json.Marshal(ExpirySweepPayload{Manual: manual, RequestedAt: requestedAt})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskExpirySweep, data), nil
}

// NewNotifyDispatchTask wraps evt for the notification queue.
func NewNotifyDispatchTask(evt notify.Event) (*asynq.Task, error) {
	data, err := json.Marshal(evt)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskNotifyDispatch, data), nil
}
