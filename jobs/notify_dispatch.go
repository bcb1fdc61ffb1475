package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-access/internal/notify"
)

// Dispatcher delivers one event.
type Dispatcher interface {
	Dispatch(ctx context.Context, evt notify.Event) (notify.Report, error)
}

// NotifyDispatchJob delivers queued notification events. A failed send is
// returned so asynq retries; recipients already recorded are skipped on retry.
type NotifyDispatchJob struct {
	Dispatcher Dispatcher
	Logger     *slog.Logger
}

// NewNotifyDispatchJob wires dependencies for the delivery handler.
func NewNotifyDispatchJob(dispatcher Dispatcher, logger *slog.Logger) *NotifyDispatchJob {
	return &NotifyDispatchJob{Dispatcher: dispatcher, Logger: logger}
}

// Handle processes TaskNotifyDispatch tasks.
func (j *NotifyDispatchJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Dispatcher == nil {
		return errors.New("notify dispatch: handler not configured")
	}
	var evt notify.Event
	if err := json.Unmarshal(t.Payload(), &evt); err != nil {
		return fmt.Errorf("notify dispatch: decode payload: %v: %w", err, asynq.SkipRetry)
	}
	report, err := j.Dispatcher.Dispatch(ctx, evt)
	if errors.Is(err, notify.ErrUnknownType) {
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}
	logger := j.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Debug("notification task handled",
		slog.String("type", string(evt.Type)),
		slog.String("target_id", evt.TargetID),
		slog.Int("sent", report.Sent),
		slog.Int("skipped", report.Skipped),
		slog.Int("failed", report.Failed),
	)
	return err
}
