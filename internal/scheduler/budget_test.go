package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-access/internal/authority"
	"github.com/odyssey-erp/odyssey-access/internal/notify"
	"github.com/odyssey-erp/odyssey-access/internal/requests"
)

type stubRequests struct {
	active  []requests.PermissionRequest
	touched atomic.Int32
}

func (s *stubRequests) ListActive(context.Context) ([]requests.PermissionRequest, error) {
	return s.active, nil
}

func (s *stubRequests) PendingCount(context.Context) (int, error) { return 0, nil }

func (s *stubRequests) Expire(context.Context, string) (requests.PermissionRequest, error) {
	s.touched.Add(1)
	return requests.PermissionRequest{}, nil
}

func (s *stubRequests) AutoDowngrade(context.Context, string) (requests.PermissionRequest, error) {
	s.touched.Add(1)
	return requests.PermissionRequest{}, requests.ErrNotDue
}

type stubNotifier struct{}

func (stubNotifier) Dispatch(context.Context, notify.Event) (notify.Report, error) {
	return notify.Report{}, nil
}

func TestSweepDefersWorkPastBudget(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	var active []requests.PermissionRequest
	for _, id := range []string{"a", "b", "c"} {
		active = append(active, requests.PermissionRequest{ID: id, Status: requests.StatusActive, CurrentLevel: authority.LevelViewer, ExpiryAt: &past})
	}
	reqs := &stubRequests{active: active}
	s := NewSweeper(reqs, stubNotifier{}, nil, Config{Budget: time.Second, Concurrency: 1}, nil)
	var calls atomic.Int32
	s.elapsed = func(time.Time) time.Duration {
		if calls.Add(1) == 1 {
			return 0
		}
		return time.Second
	}

	report, err := s.Sweep(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Scanned)
	assert.Equal(t, 1, report.Expired)
	assert.Equal(t, 2, report.Deferred)
	assert.Equal(t, int32(1), reqs.touched.Load())
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}.normalised()
	assert.Equal(t, DefaultWarningOffsets, cfg.WarningOffsets)
	assert.Equal(t, 5*time.Minute, cfg.Budget)
	assert.Equal(t, 4, cfg.Concurrency)
}
