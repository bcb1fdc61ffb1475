package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/odyssey-access/internal/jobs"
	"github.com/odyssey-erp/odyssey-access/internal/scheduler"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// Sweeper runs one expiry sweep.
type Sweeper interface {
	Sweep(ctx context.Context, now time.Time) (scheduler.Report, error)
}

// ExpirySweepJob drives the expiry scheduler from the queue.
type ExpirySweepJob struct {
	Sweeper Sweeper
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewExpirySweepJob wires dependencies for the sweep handler.
func NewExpirySweepJob(sweeper Sweeper, logger *slog.Logger, metrics *jobmetrics.Metrics) *ExpirySweepJob {
	return &ExpirySweepJob{
		Sweeper: sweeper,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle processes TaskExpirySweep tasks. A sweep already running elsewhere is
// not an error; per-request failures are reported and left for the next cycle.
func (j *ExpirySweepJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Sweeper == nil {
		return errors.New("expiry sweep: handler not configured")
	}
	var payload ExpirySweepPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return fmt.Errorf("expiry sweep: decode payload: %v: %w", err, asynq.SkipRetry)
		}
	}

	tracker := j.metrics().Track(TaskExpirySweep)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger().With(slog.Bool("manual", payload.Manual))
	report, err := j.Sweeper.Sweep(ctx, j.now())
	if errors.Is(err, scheduler.ErrSweepInProgress) {
		logger.Info("sweep skipped, already running")
		return nil
	}
	if err != nil {
		resultErr = err
		logger.Error("sweep failed", slog.Any("error", err))
		return resultErr
	}

	m := j.metrics()
	m.AddOutcome("warned", report.Warned)
	m.AddOutcome("expired", report.Expired)
	m.AddOutcome("downgraded", report.Downgraded)
	m.AddOutcome("deferred", report.Deferred)
	m.AddOutcome("failed", len(report.Failures))
	for _, f := range report.Failures {
		logger.Warn("sweep failure", slog.String("request_id", f.RequestID), slog.String("op", f.Op), slog.String("error", f.Error))
	}
	return resultErr
}

func (j *ExpirySweepJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskExpirySweep))
	}
	return slog.Default().With(slog.String("job", TaskExpirySweep))
}

func (j *ExpirySweepJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *ExpirySweepJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
