// Package scheduler drives time-based request transitions from a periodic sweep.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/odyssey-access/internal/authority"
	"github.com/odyssey-erp/odyssey-access/internal/notify"
	"github.com/odyssey-erp/odyssey-access/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-access/internal/requests"
	"github.com/odyssey-erp/odyssey-access/internal/shared"
)

// ErrSweepInProgress indicates another process holds the sweep lock.
var ErrSweepInProgress = errors.New("scheduler: sweep already running")

// Requests is the state machine surface the sweep drives.
type Requests interface {
	ListActive(ctx context.Context) ([]requests.PermissionRequest, error)
	PendingCount(ctx context.Context) (int, error)
	Expire(ctx context.Context, id string) (requests.PermissionRequest, error)
	AutoDowngrade(ctx context.Context, id string) (requests.PermissionRequest, error)
}

// Notifier delivers sweep notifications.
type Notifier interface {
	Dispatch(ctx context.Context, evt notify.Event) (notify.Report, error)
}

// Config tunes a sweep.
type Config struct {
	WarningOffsets []int
	Budget         time.Duration
	Concurrency    int
}

// DefaultWarningOffsets are the days-before-expiry that trigger a warning.
var DefaultWarningOffsets = []int{30, 7, 1, 0}

func (c Config) normalised() Config {
	if len(c.WarningOffsets) == 0 {
		c.WarningOffsets = DefaultWarningOffsets
	}
	if c.Budget <= 0 {
		c.Budget = 5 * time.Minute
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	return c
}

// Failure describes one request the sweep could not advance.
type Failure struct {
	RequestID string `json:"request_id"`
	Op        string `json:"op"`
	Error     string `json:"error"`
}

// Report summarises one sweep.
type Report struct {
	Started    time.Time `json:"started"`
	Finished   time.Time `json:"finished"`
	Scanned    int       `json:"scanned"`
	Warned     int       `json:"warned"`
	Expired    int       `json:"expired"`
	Downgraded int       `json:"downgraded"`
	Deferred   int       `json:"deferred"`
	Failures   []Failure `json:"failures,omitempty"`
}

// Sweeper runs expiry sweeps.
type Sweeper struct {
	requests Requests
	notifier Notifier
	locker   *cache.Locker
	cfg      Config
	logger   *slog.Logger
	elapsed  func(start time.Time) time.Duration
}

// NewSweeper builds a sweeper. A nil locker disables the single-flight guard.
func NewSweeper(reqs Requests, notifier Notifier, locker *cache.Locker, cfg Config, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		requests: reqs,
		notifier: notifier,
		locker:   locker,
		cfg:      cfg.normalised(),
		logger:   logger.With(slog.String("component", "scheduler")),
		elapsed:  time.Since,
	}
}

// Sweep evaluates every ACTIVE request against now. Per-request failures are
// collected in the report and never abort the pass. Requests not reached
// within the budget are counted as deferred and picked up next cycle.
func (s *Sweeper) Sweep(ctx context.Context, now time.Time) (Report, error) {
	lock, err := s.locker.Acquire(ctx, shared.SweepLockKey, s.cfg.Budget+time.Minute)
	if errors.Is(err, cache.ErrLockHeld) {
		return Report{}, ErrSweepInProgress
	}
	if err != nil {
		return Report{}, fmt.Errorf("scheduler: acquire sweep lock: %w", err)
	}
	defer func() {
		if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
			s.logger.Warn("release sweep lock", slog.Any("error", err))
		}
	}()

	wallStart := time.Now()
	report := Report{Started: now}
	active, err := s.requests.ListActive(ctx)
	if err != nil {
		return report, fmt.Errorf("scheduler: list active: %w", err)
	}
	report.Scanned = len(active)
	s.logger.Info("sweep started", slog.Int("active", len(active)), slog.Time("as_of", now))

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for _, req := range active {
		if gctx.Err() != nil || s.elapsed(wallStart) >= s.cfg.Budget {
			mu.Lock()
			report.Deferred++
			mu.Unlock()
			continue
		}
		g.Go(func() error {
			out := s.process(gctx, req, now)
			mu.Lock()
			defer mu.Unlock()
			report.merge(out)
			return nil
		})
	}
	_ = g.Wait()

	s.summarise(ctx, &report, now)
	report.Finished = now.Add(s.elapsed(wallStart))
	s.logger.Info("sweep completed",
		slog.Int("scanned", report.Scanned),
		slog.Int("warned", report.Warned),
		slog.Int("expired", report.Expired),
		slog.Int("downgraded", report.Downgraded),
		slog.Int("deferred", report.Deferred),
		slog.Int("failures", len(report.Failures)),
		slog.Duration("duration", s.elapsed(wallStart)),
	)
	return report, nil
}

type outcome struct {
	warned     bool
	expired    bool
	downgraded bool
	failures   []Failure
}

func (r *Report) merge(o outcome) {
	if o.warned {
		r.Warned++
	}
	if o.expired {
		r.Expired++
	}
	if o.downgraded {
		r.Downgraded++
	}
	r.Failures = append(r.Failures, o.failures...)
}

func (s *Sweeper) process(ctx context.Context, req requests.PermissionRequest, now time.Time) outcome {
	var out outcome
	fail := func(op string, err error) {
		s.logger.Warn("sweep step failed", slog.String("request_id", req.ID), slog.String("op", op), slog.Any("error", err))
		out.failures = append(out.failures, Failure{RequestID: req.ID, Op: op, Error: err.Error()})
	}

	days, ok := req.DaysUntilExpiry(now)
	if ok && slices.Contains(s.cfg.WarningOffsets, days) {
		sent, err := s.warn(ctx, req, days, now)
		if err != nil {
			fail("warn", err)
		}
		out.warned = sent
	}

	if ok && days <= 0 {
		_, err := s.requests.Expire(ctx, req.ID)
		switch {
		case err == nil:
			out.expired = true
			return out
		case errors.Is(err, requests.ErrNotDue):
		default:
			fail("expire", err)
			return out
		}
	}

	if req.CurrentLevel == authority.LevelEditor {
		_, err := s.requests.AutoDowngrade(ctx, req.ID)
		switch {
		case err == nil:
			out.downgraded = true
		case errors.Is(err, requests.ErrNotDue), errors.Is(err, requests.ErrRenewed):
		default:
			fail("auto_downgrade", err)
		}
	}
	return out
}

func (s *Sweeper) warn(ctx context.Context, req requests.PermissionRequest, days int, now time.Time) (bool, error) {
	evt := notify.Event{
		Type:        notify.ExpiryWarning(days),
		TargetID:    req.ID,
		RequestID:   req.ID,
		RequesterID: req.RequesterID,
		ResourceID:  req.ResourceID,
		Level:       req.CurrentLevel,
		Days:        days,
		OccurredAt:  now,
	}
	if req.ExpiryAt != nil {
		evt.Data = map[string]any{"expiry_at": req.ExpiryAt.UTC().Format(time.RFC3339)}
	}
	report, err := s.notifier.Dispatch(ctx, evt)
	return report.Sent > 0, err
}

func (s *Sweeper) summarise(ctx context.Context, report *Report, now time.Time) {
	pending, err := s.requests.PendingCount(ctx)
	if err != nil {
		s.logger.Warn("count pending requests", slog.Any("error", err))
	}
	_, err = s.notifier.Dispatch(ctx, notify.Event{
		Type:       notify.TypeDailySummary,
		TargetID:   now.UTC().Format(time.DateOnly),
		OccurredAt: now,
		Data: map[string]any{
			"scanned":    report.Scanned,
			"warned":     report.Warned,
			"expired":    report.Expired,
			"downgraded": report.Downgraded,
			"deferred":   report.Deferred,
			"failures":   len(report.Failures),
			"pending":    pending,
		},
	})
	if err != nil {
		s.logger.Warn("daily summary", slog.Any("error", err))
	}
}
